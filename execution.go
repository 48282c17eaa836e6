package flow

import "time"

// ExecutionStatus is the lifecycle state of one workflow run.
type ExecutionStatus string

const (
	ExecutionRunning   ExecutionStatus = "running"
	ExecutionWaiting   ExecutionStatus = "waiting"
	ExecutionCompleted ExecutionStatus = "completed"
	ExecutionFailed    ExecutionStatus = "failed"
	ExecutionCancelled ExecutionStatus = "cancelled"
)

// Terminal reports whether the status admits no further transitions.
func (s ExecutionStatus) Terminal() bool {
	return s == ExecutionCompleted || s == ExecutionFailed || s == ExecutionCancelled
}

// ClaimLease is how long a running execution may go without persisting
// progress before the scheduler may presume its worker dead and
// reclaim it.
const ClaimLease = 5 * time.Minute

// HistoryEntry records one node visit, in visitation order.
type HistoryEntry struct {
	NodeID      string       `json:"node_id"`
	Type        NodeType     `json:"type"`
	Status      ResultStatus `json:"status"`
	OutputIndex int          `json:"output_index,omitempty"`
	Message     string       `json:"message,omitempty"`
	At          time.Time    `json:"at"`
}

// Execution is one run of a workflow triggered by one submission.
// Snapshot is the graph at trigger time; in-flight executions are
// immune to concurrent workflow edits. Mutated only by the engine and
// the scheduler, with exactly one worker active per execution.
type Execution struct {
	ID              string          `json:"id"`
	WorkflowID      string          `json:"workflow_id"`
	SubmissionID    string          `json:"submission_id"`
	Snapshot        *Workflow       `json:"snapshot"`
	Context         map[string]any  `json:"context"`
	CurrentNodeID   string          `json:"current_node_id"`
	Status          ExecutionStatus `json:"status"`
	AttemptCounters map[string]int  `json:"attempt_counters,omitempty"`
	ResumeAfter     *time.Time      `json:"resume_after,omitempty"`
	ClaimedAt       *time.Time      `json:"claimed_at,omitempty"`
	History         []HistoryEntry  `json:"history"`
	CreatedAt       time.Time       `json:"created_at"`
	UpdatedAt       time.Time       `json:"updated_at"`
}

// SyncStatus is the outcome of one external-call attempt.
type SyncStatus string

const (
	SyncSuccess SyncStatus = "success"
	SyncFailed  SyncStatus = "failed"
	SyncSkipped SyncStatus = "skipped"
)

// SyncRecord is one row per external-call attempt. Append-only; a
// retry creates a new record, never updates one, so the ledger is a
// full audit of every attempt.
type SyncRecord struct {
	ID            string     `json:"id"`
	SubmissionID  string     `json:"submission_id"`
	IntegrationID string     `json:"integration_id"`
	Status        SyncStatus `json:"status"`
	ExternalID    string     `json:"external_id,omitempty"`
	ErrorMessage  string     `json:"error_message,omitempty"`
	AttemptNumber int        `json:"attempt_number"`
	SyncedAt      time.Time  `json:"synced_at"`
}

// SyncStats aggregates ledger outcomes for the reporting surface.
type SyncStats struct {
	Total     int `json:"total"`
	Succeeded int `json:"succeeded"`
	Failed    int `json:"failed"`
	Skipped   int `json:"skipped"`
}

// RetryPolicy bounds re-attempts of retryable integration failures.
// Attempt n (0-based) waits BaseDelay * 2^n before re-dispatch.
type RetryPolicy struct {
	MaxAttempts int           `json:"max_attempts"`
	BaseDelay   time.Duration `json:"base_delay"`
}

// DefaultRetryPolicy matches the observed integration behavior: three
// re-attempts starting at one minute.
var DefaultRetryPolicy = RetryPolicy{MaxAttempts: 3, BaseDelay: time.Minute}
