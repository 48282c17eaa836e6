package flow

import (
	"context"
	"errors"
	"time"
)

var (
	ErrDuplicateKey      = errors.New("flow: context key already set")
	ErrActionExists      = errors.New("flow: action id already registered")
	ErrWorkflowNotFound  = errors.New("flow: workflow not found")
	ErrWorkflowNotActive = errors.New("flow: workflow is not active")
	ErrExecutionNotFound = errors.New("flow: execution not found")
	ErrExecutionNotDue   = errors.New("flow: execution is not due yet")
	ErrExecutionFinished = errors.New("flow: execution already in a terminal state")
	ErrInvalidWorkflow   = errors.New("flow: workflow failed validation")
)

// WorkflowStore persists workflow definitions for the builder surface.
type WorkflowStore interface {
	// SaveWorkflow inserts or replaces a definition. A workflow without
	// an ID gets an auto-generated UUID. Returns the stored workflow.
	SaveWorkflow(ctx context.Context, w *Workflow) (*Workflow, error)
	// GetWorkflow fetches a definition. Returns nil, nil if not found.
	GetWorkflow(ctx context.Context, id string) (*Workflow, error)
	// SetWorkflowStatus moves a definition through its lifecycle.
	// Returns ErrWorkflowNotFound if the workflow doesn't exist.
	SetWorkflowStatus(ctx context.Context, id string, status WorkflowStatus) error
	// DeleteWorkflow removes a definition. No error if absent.
	DeleteWorkflow(ctx context.Context, id string) error
	// ListWorkflows returns all definitions, newest first.
	ListWorkflows(ctx context.Context) ([]Workflow, error)
}

// ExecutionStore persists execution state across suspends and worker
// handoffs. Implementations must make ClaimDue atomic per execution so
// two workers never advance the same execution simultaneously.
type ExecutionStore interface {
	// CreateExecution persists a new execution record.
	CreateExecution(ctx context.Context, e *Execution) error
	// GetExecution fetches one execution. Returns nil, nil if not found.
	GetExecution(ctx context.Context, id string) (*Execution, error)
	// UpdateExecution replaces the mutable fields of an execution.
	// Returns ErrExecutionNotFound if the execution doesn't exist.
	UpdateExecution(ctx context.Context, e *Execution) error
	// ClaimDue atomically moves waiting executions whose resume_after
	// has elapsed to running, stamps ClaimedAt and returns them. An
	// execution appears in at most one claim; the claim is the resume
	// lease. Running executions whose ClaimedAt is more than ClaimLease
	// old are reclaimed the same way: their worker died mid-turn and
	// left no one to finish.
	ClaimDue(ctx context.Context, now time.Time, limit int) ([]Execution, error)
	// DueExecutions lists waiting executions due at now without
	// claiming them, for the external cron surface.
	DueExecutions(ctx context.Context, now time.Time) ([]string, error)
	// CancelExecution marks an execution cancelled unless it already
	// reached a terminal state, in which case ErrExecutionFinished.
	CancelExecution(ctx context.Context, id string) error
	// ListExecutions returns executions filtered by status; an empty
	// status returns all.
	ListExecutions(ctx context.Context, status ExecutionStatus) ([]Execution, error)
}

// SyncLedger is the append-only record of every external-call attempt.
// Safe for concurrent writers.
type SyncLedger interface {
	// Record appends one immutable row. A record without an ID gets an
	// auto-generated UUID. Returns the record id.
	Record(ctx context.Context, r *SyncRecord) (string, error)
	// History returns all attempts for a submission ordered by
	// synced_at ascending.
	History(ctx context.Context, submissionID string) ([]SyncRecord, error)
	// LatestStatus returns the most recent attempt for a submission and
	// integration, or nil, nil if none exists. Used by duplicate
	// suppression to short-circuit an already-succeeded sync.
	LatestStatus(ctx context.Context, submissionID, integrationID string) (*SyncRecord, error)
	// Stats aggregates outcomes since a point in time. An empty
	// integrationID aggregates across all integrations.
	Stats(ctx context.Context, integrationID string, since time.Time) (*SyncStats, error)
}
