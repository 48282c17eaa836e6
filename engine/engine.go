// Package engine walks workflow graphs node by node against a
// per-submission context, suspending on long delays and retrying
// integration failures with exponential backoff.
package engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	json "github.com/goccy/go-json"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/meikuraledutech/flow"
)

const (
	// DefaultDispatchTimeout is the hard wall clock bound on one node
	// dispatch. Expiry becomes a retryable failure.
	DefaultDispatchTimeout = 60 * time.Second
	// DefaultInlineDelayMax is the longest delay executed by pausing in
	// place. Anything longer suspends the execution instead; shorter
	// waits do not justify persisting and rescheduling state.
	DefaultInlineDelayMax = 30 * time.Second
)

// Config wires an Engine. Workflows, Executions, Ledger and Registry
// are required; the rest default.
type Config struct {
	Workflows  flow.WorkflowStore
	Executions flow.ExecutionStore
	Ledger     flow.SyncLedger
	Registry   *flow.Registry

	Logger          zerolog.Logger
	Retry           flow.RetryPolicy
	DispatchTimeout time.Duration
	InlineDelayMax  time.Duration
	Clock           Clock
}

// Engine is the workflow interpreter. One engine serves many concurrent
// executions; each execution is advanced by exactly one worker at a
// time, so per-execution state needs no synchronization.
type Engine struct {
	workflows  flow.WorkflowStore
	executions flow.ExecutionStore
	ledger     flow.SyncLedger
	registry   *flow.Registry

	log             zerolog.Logger
	retry           flow.RetryPolicy
	dispatchTimeout time.Duration
	inlineDelayMax  time.Duration
	clock           Clock
	graphs          *graphCache
}

// New builds an Engine from the config, filling in defaults.
func New(cfg Config) (*Engine, error) {
	if cfg.Workflows == nil || cfg.Executions == nil || cfg.Ledger == nil || cfg.Registry == nil {
		return nil, errors.New("engine: workflows, executions, ledger and registry are required")
	}
	e := &Engine{
		workflows:       cfg.Workflows,
		executions:      cfg.Executions,
		ledger:          cfg.Ledger,
		registry:        cfg.Registry,
		log:             cfg.Logger,
		retry:           cfg.Retry,
		dispatchTimeout: cfg.DispatchTimeout,
		inlineDelayMax:  cfg.InlineDelayMax,
		clock:           cfg.Clock,
		graphs:          newGraphCache(),
	}
	if e.retry.MaxAttempts == 0 {
		e.retry = flow.DefaultRetryPolicy
	}
	if e.dispatchTimeout == 0 {
		e.dispatchTimeout = DefaultDispatchTimeout
	}
	if e.inlineDelayMax == 0 {
		e.inlineDelayMax = DefaultInlineDelayMax
	}
	if e.clock == nil {
		e.clock = systemClock{}
	}
	return e, nil
}

// StartExecution triggers a run of an active workflow for one
// submission. The definition is snapshotted and validated, the context
// seeded from the payload under "submission.*", and the first turn runs
// to a terminal state or a suspend before returning.
func (e *Engine) StartExecution(ctx context.Context, workflowID, submissionID string, payload map[string]any) (string, error) {
	w, err := e.workflows.GetWorkflow(ctx, workflowID)
	if err != nil {
		return "", fmt.Errorf("engine: load workflow: %w", err)
	}
	if w == nil {
		return "", flow.ErrWorkflowNotFound
	}
	if w.Status != flow.WorkflowActive {
		return "", flow.ErrWorkflowNotActive
	}

	snapshot, err := snapshotWorkflow(w)
	if err != nil {
		return "", fmt.Errorf("engine: snapshot workflow: %w", err)
	}

	graph := e.graphs.get(snapshot)
	if violations := graph.Validate(e.registry); len(violations) > 0 {
		return "", fmt.Errorf("%w: %s", flow.ErrInvalidWorkflow, violations[0].Message)
	}

	now := e.clock.Now()
	cstore := flow.NewContext()
	cstore.Seed("submission", payload)
	execID := uuid.NewString()
	cstore.SetOverride("system.execution_id", execID)
	cstore.SetOverride("system.workflow_id", workflowID)
	cstore.SetOverride("system.triggered_at", now.UTC().Format(time.RFC3339))

	exec := &flow.Execution{
		ID:              execID,
		WorkflowID:      workflowID,
		SubmissionID:    submissionID,
		Snapshot:        snapshot,
		Context:         cstore.Snapshot(),
		CurrentNodeID:   graph.Start().ID,
		Status:          flow.ExecutionRunning,
		AttemptCounters: make(map[string]int),
		ClaimedAt:       &now,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	if err := e.executions.CreateExecution(ctx, exec); err != nil {
		return "", fmt.Errorf("engine: create execution: %w", err)
	}

	e.log.Info().Str("execution_id", exec.ID).Str("workflow_id", workflowID).
		Str("submission_id", submissionID).Msg("execution started")

	if err := e.runTurn(ctx, exec); err != nil {
		return exec.ID, err
	}
	return exec.ID, nil
}

// Resume re-enters a suspended execution at its stored node. Called by
// the scheduler after claiming a due execution; callable directly for
// an externally driven resume. Cancellation is checked here, at the
// turn boundary — an in-flight node call is never preempted.
func (e *Engine) Resume(ctx context.Context, executionID string) error {
	exec, err := e.executions.GetExecution(ctx, executionID)
	if err != nil {
		return fmt.Errorf("engine: load execution: %w", err)
	}
	if exec == nil {
		return flow.ErrExecutionNotFound
	}
	if exec.Status.Terminal() {
		e.log.Debug().Str("execution_id", executionID).Str("status", string(exec.Status)).
			Msg("resume skipped, execution already terminal")
		return nil
	}
	if exec.Status == flow.ExecutionWaiting {
		if exec.ResumeAfter != nil && exec.ResumeAfter.After(e.clock.Now()) {
			return fmt.Errorf("%w: execution %s resumes at %s", flow.ErrExecutionNotDue, executionID, exec.ResumeAfter)
		}
		exec.Status = flow.ExecutionRunning
	}
	exec.ResumeAfter = nil
	return e.runTurn(ctx, exec)
}

// Cancel requests termination of an execution. Takes effect at the next
// turn boundary; a node call already in flight completes first.
func (e *Engine) Cancel(ctx context.Context, executionID string) error {
	return e.executions.CancelExecution(ctx, executionID)
}

// runTurn advances an execution until it reaches a terminal state or a
// node suspends it. The loop never yields between nodes: one turn, one
// worker.
func (e *Engine) runTurn(ctx context.Context, exec *flow.Execution) error {
	graph := e.graphs.get(exec.Snapshot)
	cstore := flow.ContextFromSnapshot(exec.Context)

	for {
		node := graph.Node(exec.CurrentNodeID)
		if node == nil {
			return e.finish(ctx, exec, cstore, flow.ExecutionFailed, flow.HistoryEntry{
				NodeID:  exec.CurrentNodeID,
				Status:  flow.ResultFailure,
				Message: fmt.Sprintf("node %q missing from snapshot", exec.CurrentNodeID),
				At:      e.clock.Now(),
			})
		}

		var res flow.NodeResult
		if node.Type == flow.NodeDelay && delayServed(exec, node.ID) {
			// Resumed at a delay node whose wait already elapsed.
			res = flow.Success(nil)
		} else {
			res = e.dispatch(ctx, exec, node, cstore)
		}
		entry := flow.HistoryEntry{
			NodeID:      node.ID,
			Type:        node.Type,
			Status:      res.Status,
			OutputIndex: res.OutputIndex,
			Message:     res.Message,
			At:          e.clock.Now(),
		}
		if res.Status == flow.ResultWaiting {
			entry.Message = res.Reason
		}

		switch res.Status {
		case flow.ResultWaiting:
			resumeAt := e.clock.Now().Add(res.ResumeAfter)
			exec.Status = flow.ExecutionWaiting
			exec.ResumeAfter = &resumeAt
			exec.History = append(exec.History, entry)
			if err := e.persist(ctx, exec, cstore); err != nil {
				return err
			}
			e.log.Info().Str("execution_id", exec.ID).Str("node_id", node.ID).
				Dur("resume_after", res.ResumeAfter).Str("reason", res.Reason).
				Msg("execution suspended")
			return nil

		case flow.ResultFailure:
			e.log.Warn().Str("execution_id", exec.ID).Str("node_id", node.ID).
				Str("error", res.Message).Msg("execution failed")
			return e.finish(ctx, exec, cstore, flow.ExecutionFailed, entry)

		case flow.ResultSuccess:
			if len(res.Output) > 0 {
				cstore.SetOutputs(node.ID, res.Output)
			}
			exec.History = append(exec.History, entry)

			if node.Type == flow.NodeEnd {
				exec.Status = flow.ExecutionCompleted
				if err := e.persist(ctx, exec, cstore); err != nil {
					return err
				}
				e.log.Info().Str("execution_id", exec.ID).Msg("execution completed")
				return nil
			}

			next := graph.NextNode(node.ID, res.OutputIndex)
			if next == "" {
				return e.finish(ctx, exec, cstore, flow.ExecutionFailed, flow.HistoryEntry{
					NodeID:  node.ID,
					Type:    node.Type,
					Status:  flow.ResultFailure,
					Message: fmt.Sprintf("node %q has no outgoing edge for output %d", node.ID, res.OutputIndex),
					At:      e.clock.Now(),
				})
			}
			exec.CurrentNodeID = next
			if err := e.persist(ctx, exec, cstore); err != nil {
				return err
			}

		default:
			return e.finish(ctx, exec, cstore, flow.ExecutionFailed, flow.HistoryEntry{
				NodeID:  node.ID,
				Type:    node.Type,
				Status:  flow.ResultFailure,
				Message: fmt.Sprintf("node %q returned unknown result status %q", node.ID, res.Status),
				At:      e.clock.Now(),
			})
		}
	}
}

// dispatch executes one node. Anything unexpected — a panic, an
// unknown node type — becomes a non-retryable failure here; an error
// must never escape and corrupt execution state.
func (e *Engine) dispatch(ctx context.Context, exec *flow.Execution, node *flow.Node, cstore *flow.Context) (res flow.NodeResult) {
	defer func() {
		if r := recover(); r != nil {
			e.log.Error().Str("execution_id", exec.ID).Str("node_id", node.ID).
				Any("panic", r).Msg("node dispatch panicked")
			res = flow.Failure(fmt.Sprintf("node %q panicked: %v", node.ID, r), false)
		}
	}()

	switch node.Type {
	case flow.NodeStart, flow.NodeEnd:
		return flow.Success(nil)
	case flow.NodeCondition:
		return evalCondition(node.Config, cstore)
	case flow.NodeDelay:
		return e.runDelay(ctx, node.Config)
	case flow.NodeAction:
		return e.runAction(ctx, exec, node, cstore)
	default:
		return flow.Failure(fmt.Sprintf("unknown node type %q", node.Type), false)
	}
}

func (e *Engine) runAction(ctx context.Context, exec *flow.Execution, node *flow.Node, cstore *flow.Context) flow.NodeResult {
	act, ok := e.registry.Resolve(node.ActionID)
	if !ok {
		return flow.Failure(fmt.Sprintf("action %q is not registered", node.ActionID), false)
	}
	config := renderConfig(node.Config, cstore)

	if integ, isInteg := act.(flow.Integration); isInteg {
		return e.runIntegration(ctx, exec, node, integ, config, cstore)
	}
	return e.invoke(ctx, act, config, cstore)
}

type delayConfig struct {
	Duration float64 `json:"duration"`
	Unit     string  `json:"unit"`
}

func (e *Engine) runDelay(ctx context.Context, config map[string]any) flow.NodeResult {
	raw, err := json.Marshal(config)
	if err != nil {
		return flow.Failure(fmt.Sprintf("delay config: %v", err), false)
	}
	var cfg delayConfig
	if err := json.Unmarshal(raw, &cfg); err != nil {
		return flow.Failure(fmt.Sprintf("delay config: %v", err), false)
	}

	var mult float64
	switch cfg.Unit {
	case "", "seconds":
		mult = 1
	case "minutes":
		mult = 60
	case "hours":
		mult = 3600
	default:
		return flow.Failure(fmt.Sprintf("delay config: unknown unit %q", cfg.Unit), false)
	}
	if cfg.Duration < 0 {
		return flow.Failure("delay config: negative duration", false)
	}

	d := time.Duration(cfg.Duration * mult * float64(time.Second))
	if d <= e.inlineDelayMax {
		e.clock.Sleep(ctx, d)
		return flow.Success(nil)
	}
	return flow.Waiting(d, reasonScheduledDelay)
}

// delayServed reports whether the execution suspended at this delay
// node and is now past its wait. A suspend is always the last history
// entry of the prior turn, so the check is a single lookback.
func delayServed(exec *flow.Execution, nodeID string) bool {
	if len(exec.History) == 0 {
		return false
	}
	last := exec.History[len(exec.History)-1]
	return last.NodeID == nodeID && last.Status == flow.ResultWaiting && last.Message == reasonScheduledDelay
}

// invoke calls an action under the hard per-dispatch wall clock bound.
// The action runs in its own goroutine so an overrun cannot stall the
// worker; expiry converts to a retryable failure.
func (e *Engine) invoke(ctx context.Context, act flow.Action, config map[string]any, view flow.ContextView) flow.NodeResult {
	cctx, cancel := context.WithTimeout(ctx, e.dispatchTimeout)
	defer cancel()

	done := make(chan flow.NodeResult, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- flow.Failure(fmt.Sprintf("action panicked: %v", r), false)
			}
		}()
		done <- act.Execute(cctx, config, view)
	}()

	select {
	case res := <-done:
		return res
	case <-cctx.Done():
		return flow.Failure(fmt.Sprintf("node dispatch exceeded %s", e.dispatchTimeout), true)
	}
}

// renderConfig resolves every string value in the node config against
// the context, recursing into nested maps and slices. Non-string values
// pass through untouched.
func renderConfig(config map[string]any, cstore *flow.Context) map[string]any {
	if config == nil {
		return nil
	}
	out := make(map[string]any, len(config))
	for k, v := range config {
		out[k] = renderValue(v, cstore)
	}
	return out
}

func renderValue(v any, cstore *flow.Context) any {
	switch t := v.(type) {
	case string:
		return cstore.Resolve(t)
	case map[string]any:
		return renderConfig(t, cstore)
	case []any:
		out := make([]any, len(t))
		for i, item := range t {
			out[i] = renderValue(item, cstore)
		}
		return out
	default:
		return v
	}
}

// finish appends the terminal history entry, moves the execution to its
// final status and persists.
func (e *Engine) finish(ctx context.Context, exec *flow.Execution, cstore *flow.Context, status flow.ExecutionStatus, entry flow.HistoryEntry) error {
	exec.History = append(exec.History, entry)
	exec.Status = status
	return e.persist(ctx, exec, cstore)
}

func (e *Engine) persist(ctx context.Context, exec *flow.Execution, cstore *flow.Context) error {
	exec.Context = cstore.Snapshot()
	exec.UpdatedAt = e.clock.Now()
	// Every persisted step renews the worker's lease; a suspend or a
	// terminal state releases it.
	if exec.Status == flow.ExecutionRunning {
		claimedAt := exec.UpdatedAt
		exec.ClaimedAt = &claimedAt
	} else {
		exec.ClaimedAt = nil
	}
	if err := e.executions.UpdateExecution(ctx, exec); err != nil {
		return fmt.Errorf("engine: persist execution %s: %w", exec.ID, err)
	}
	return nil
}

// snapshotWorkflow deep-copies a definition so in-flight executions are
// immune to concurrent edits.
func snapshotWorkflow(w *flow.Workflow) (*flow.Workflow, error) {
	raw, err := json.Marshal(w)
	if err != nil {
		return nil, err
	}
	var copy flow.Workflow
	if err := json.Unmarshal(raw, &copy); err != nil {
		return nil, err
	}
	return &copy, nil
}
