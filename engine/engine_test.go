package engine

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/meikuraledutech/flow"
	"github.com/meikuraledutech/flow/memory"
)

// fakeClock makes delay and backoff behavior testable without waiting.
// Sleep advances the clock by the requested duration.
type fakeClock struct {
	mu    sync.Mutex
	now   time.Time
	slept []time.Duration
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Sleep(_ context.Context, d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.slept = append(c.slept, d)
	c.now = c.now.Add(d)
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type stubAction struct {
	fn func(config map[string]any, view flow.ContextView) flow.NodeResult
}

func (s *stubAction) Execute(_ context.Context, config map[string]any, view flow.ContextView) flow.NodeResult {
	if s.fn == nil {
		return flow.Success(nil)
	}
	return s.fn(config, view)
}

func (s *stubAction) Schema() []flow.ConfigField { return nil }

type stubIntegration struct {
	stubAction
	id string
}

func (s *stubIntegration) IntegrationID() string { return s.id }

type testRig struct {
	engine *Engine
	store  *memory.Store
	clock  *fakeClock
}

func newTestRig(t *testing.T, reg *flow.Registry, mutate func(*Config)) *testRig {
	t.Helper()
	store := memory.New()
	clock := newFakeClock()
	cfg := Config{
		Workflows:  store,
		Executions: store,
		Ledger:     store,
		Registry:   reg,
		Logger:     zerolog.Nop(),
		Clock:      clock,
	}
	if mutate != nil {
		mutate(&cfg)
	}
	eng, err := New(cfg)
	require.NoError(t, err)
	return &testRig{engine: eng, store: store, clock: clock}
}

func (r *testRig) saveActive(t *testing.T, w *flow.Workflow) {
	t.Helper()
	w.Status = flow.WorkflowActive
	_, err := r.store.SaveWorkflow(context.Background(), w)
	require.NoError(t, err)
}

func (r *testRig) execution(t *testing.T, id string) *flow.Execution {
	t.Helper()
	e, err := r.store.GetExecution(context.Background(), id)
	require.NoError(t, err)
	require.NotNil(t, e)
	return e
}

func visited(e *flow.Execution) []string {
	out := make([]string, len(e.History))
	for i, h := range e.History {
		out[i] = h.NodeID
	}
	return out
}

// start → condition(submission.age > 18) → [0: send_email → end]
//                                          [1: log → end]
func branchingWorkflow() *flow.Workflow {
	return &flow.Workflow{
		ID:   "signup",
		Name: "Signup followup",
		Nodes: []flow.Node{
			{ID: "start", Type: flow.NodeStart},
			{ID: "check", Type: flow.NodeCondition, Config: map[string]any{
				"conditions": []any{
					map[string]any{"field": "submission.age", "operator": "greater_than", "value": 18},
				},
			}},
			{ID: "send_email", Type: flow.NodeAction, ActionID: "send_email", Config: map[string]any{
				"to": "{{submission.email}}",
			}},
			{ID: "log", Type: flow.NodeAction, ActionID: "log"},
			{ID: "end", Type: flow.NodeEnd},
		},
		Edges: []flow.Edge{
			{FromNodeID: "start", ToNodeID: "check"},
			{FromNodeID: "check", ToNodeID: "send_email", OutputIndex: 0},
			{FromNodeID: "check", ToNodeID: "log", OutputIndex: 1},
			{FromNodeID: "send_email", ToNodeID: "end"},
			{FromNodeID: "log", ToNodeID: "end"},
		},
	}
}

func TestEndToEndBranching(t *testing.T) {
	ctx := context.Background()

	reg := flow.NewRegistry()
	var emailedTo string
	require.NoError(t, reg.Register("send_email", &stubAction{fn: func(config map[string]any, _ flow.ContextView) flow.NodeResult {
		emailedTo, _ = config["to"].(string)
		return flow.Success(map[string]any{"sent": true})
	}}))
	require.NoError(t, reg.Register("log", &stubAction{}))

	rig := newTestRig(t, reg, nil)
	rig.saveActive(t, branchingWorkflow())

	// Adult submission takes the true branch.
	execID, err := rig.engine.StartExecution(ctx, "signup", "sub-1", map[string]any{
		"age": 21, "email": "ada@example.com",
	})
	require.NoError(t, err)

	e := rig.execution(t, execID)
	assert.Equal(t, flow.ExecutionCompleted, e.Status)
	assert.Equal(t, []string{"start", "check", "send_email", "end"}, visited(e))
	assert.Equal(t, 0, e.History[1].OutputIndex)
	assert.Equal(t, "ada@example.com", emailedTo)

	// Minor submission takes the else branch.
	execID, err = rig.engine.StartExecution(ctx, "signup", "sub-2", map[string]any{
		"age": 10, "email": "kid@example.com",
	})
	require.NoError(t, err)

	e = rig.execution(t, execID)
	assert.Equal(t, flow.ExecutionCompleted, e.Status)
	assert.Equal(t, []string{"start", "check", "log", "end"}, visited(e))
	assert.Equal(t, 1, e.History[1].OutputIndex)
}

func delayWorkflow(duration float64, unit string) *flow.Workflow {
	return &flow.Workflow{
		ID: "delayed",
		Nodes: []flow.Node{
			{ID: "start", Type: flow.NodeStart},
			{ID: "wait", Type: flow.NodeDelay, Config: map[string]any{"duration": duration, "unit": unit}},
			{ID: "end", Type: flow.NodeEnd},
		},
		Edges: []flow.Edge{
			{FromNodeID: "start", ToNodeID: "wait"},
			{FromNodeID: "wait", ToNodeID: "end"},
		},
	}
}

func TestDelayBelowThresholdRunsInline(t *testing.T) {
	ctx := context.Background()
	rig := newTestRig(t, flow.NewRegistry(), nil)
	rig.saveActive(t, delayWorkflow(10, "seconds"))

	execID, err := rig.engine.StartExecution(ctx, "delayed", "sub-1", nil)
	require.NoError(t, err)

	e := rig.execution(t, execID)
	assert.Equal(t, flow.ExecutionCompleted, e.Status)
	assert.Contains(t, rig.clock.slept, 10*time.Second)
}

func TestDelayAboveThresholdSuspends(t *testing.T) {
	ctx := context.Background()
	rig := newTestRig(t, flow.NewRegistry(), nil)
	rig.saveActive(t, delayWorkflow(5, "minutes"))

	started := rig.clock.Now()
	execID, err := rig.engine.StartExecution(ctx, "delayed", "sub-1", nil)
	require.NoError(t, err)

	e := rig.execution(t, execID)
	require.Equal(t, flow.ExecutionWaiting, e.Status)
	require.NotNil(t, e.ResumeAfter)
	assert.Equal(t, started.Add(5*time.Minute), *e.ResumeAfter)
	assert.Empty(t, rig.clock.slept, "suspended delays must not block the worker")

	// Resuming after the wait skips the already-served delay.
	rig.clock.Advance(5*time.Minute + time.Second)
	require.NoError(t, rig.engine.Resume(ctx, execID))

	e = rig.execution(t, execID)
	assert.Equal(t, flow.ExecutionCompleted, e.Status)
	assert.Equal(t, []string{"start", "wait", "wait", "end"}, visited(e))
}

func TestNodeOutputsFeedLaterTemplates(t *testing.T) {
	ctx := context.Background()

	reg := flow.NewRegistry()
	require.NoError(t, reg.Register("score", &stubAction{fn: func(_ map[string]any, _ flow.ContextView) flow.NodeResult {
		return flow.Success(map[string]any{"value": 42})
	}}))
	var got string
	require.NoError(t, reg.Register("report", &stubAction{fn: func(config map[string]any, _ flow.ContextView) flow.NodeResult {
		got, _ = config["line"].(string)
		return flow.Success(nil)
	}}))

	rig := newTestRig(t, reg, nil)
	rig.saveActive(t, &flow.Workflow{
		ID: "pipeline",
		Nodes: []flow.Node{
			{ID: "start", Type: flow.NodeStart},
			{ID: "score", Type: flow.NodeAction, ActionID: "score"},
			{ID: "report", Type: flow.NodeAction, ActionID: "report", Config: map[string]any{
				"line": "score={{score.value}} missing={{no.such.key}}",
			}},
			{ID: "end", Type: flow.NodeEnd},
		},
		Edges: []flow.Edge{
			{FromNodeID: "start", ToNodeID: "score"},
			{FromNodeID: "score", ToNodeID: "report"},
			{FromNodeID: "report", ToNodeID: "end"},
		},
	})

	_, err := rig.engine.StartExecution(ctx, "pipeline", "sub-1", nil)
	require.NoError(t, err)
	assert.Equal(t, "score=42 missing=", got)
}

func TestActionPanicBecomesNonRetryableFailure(t *testing.T) {
	ctx := context.Background()

	reg := flow.NewRegistry()
	require.NoError(t, reg.Register("boom", &stubAction{fn: func(map[string]any, flow.ContextView) flow.NodeResult {
		panic("kaboom")
	}}))

	rig := newTestRig(t, reg, nil)
	rig.saveActive(t, &flow.Workflow{
		ID: "panicky",
		Nodes: []flow.Node{
			{ID: "start", Type: flow.NodeStart},
			{ID: "boom", Type: flow.NodeAction, ActionID: "boom"},
			{ID: "end", Type: flow.NodeEnd},
		},
		Edges: []flow.Edge{
			{FromNodeID: "start", ToNodeID: "boom"},
			{FromNodeID: "boom", ToNodeID: "end"},
		},
	})

	execID, err := rig.engine.StartExecution(ctx, "panicky", "sub-1", nil)
	require.NoError(t, err)

	e := rig.execution(t, execID)
	assert.Equal(t, flow.ExecutionFailed, e.Status)
	last := e.History[len(e.History)-1]
	assert.Equal(t, flow.ResultFailure, last.Status)
	assert.Contains(t, last.Message, "kaboom")
}

func TestDispatchTimeoutConvertsToRetryableFailure(t *testing.T) {
	ctx := context.Background()

	reg := flow.NewRegistry()
	release := make(chan struct{})
	require.NoError(t, reg.Register("stall", &stubAction{fn: func(map[string]any, flow.ContextView) flow.NodeResult {
		<-release
		return flow.Success(nil)
	}}))
	defer close(release)

	rig := newTestRig(t, reg, func(cfg *Config) {
		cfg.DispatchTimeout = 20 * time.Millisecond
	})
	rig.saveActive(t, &flow.Workflow{
		ID: "stalled",
		Nodes: []flow.Node{
			{ID: "start", Type: flow.NodeStart},
			{ID: "stall", Type: flow.NodeAction, ActionID: "stall"},
			{ID: "end", Type: flow.NodeEnd},
		},
		Edges: []flow.Edge{
			{FromNodeID: "start", ToNodeID: "stall"},
			{FromNodeID: "stall", ToNodeID: "end"},
		},
	})

	execID, err := rig.engine.StartExecution(ctx, "stalled", "sub-1", nil)
	require.NoError(t, err)

	e := rig.execution(t, execID)
	assert.Equal(t, flow.ExecutionFailed, e.Status)
	assert.Contains(t, e.History[len(e.History)-1].Message, "exceeded")
}

func TestUnregisteredActionFailsExecution(t *testing.T) {
	ctx := context.Background()
	reg := flow.NewRegistry()
	require.NoError(t, reg.Register("known", &stubAction{}))

	rig := newTestRig(t, reg, nil)

	w := &flow.Workflow{
		ID: "ghost-action",
		Nodes: []flow.Node{
			{ID: "start", Type: flow.NodeStart},
			{ID: "step", Type: flow.NodeAction, ActionID: "ghost"},
			{ID: "end", Type: flow.NodeEnd},
		},
		Edges: []flow.Edge{
			{FromNodeID: "start", ToNodeID: "step"},
			{FromNodeID: "step", ToNodeID: "end"},
		},
	}
	rig.saveActive(t, w)

	// Validation against the registry blocks the run before it starts.
	_, err := rig.engine.StartExecution(ctx, "ghost-action", "sub-1", nil)
	require.ErrorIs(t, err, flow.ErrInvalidWorkflow)
}

func TestTriggerRequiresActiveWorkflow(t *testing.T) {
	ctx := context.Background()
	rig := newTestRig(t, flow.NewRegistry(), nil)

	w := delayWorkflow(1, "seconds")
	w.Status = flow.WorkflowDraft
	_, err := rig.store.SaveWorkflow(ctx, w)
	require.NoError(t, err)

	_, err = rig.engine.StartExecution(ctx, "delayed", "sub-1", nil)
	require.ErrorIs(t, err, flow.ErrWorkflowNotActive)

	_, err = rig.engine.StartExecution(ctx, "no-such-workflow", "sub-1", nil)
	require.ErrorIs(t, err, flow.ErrWorkflowNotFound)
}

func TestInvalidWorkflowNeverStarts(t *testing.T) {
	ctx := context.Background()
	rig := newTestRig(t, flow.NewRegistry(), nil)

	w := delayWorkflow(1, "seconds")
	w.Nodes = append(w.Nodes, flow.Node{ID: "start2", Type: flow.NodeStart})
	rig.saveActive(t, w)

	_, err := rig.engine.StartExecution(ctx, "delayed", "sub-1", nil)
	require.ErrorIs(t, err, flow.ErrInvalidWorkflow)

	executions, err := rig.store.ListExecutions(ctx, "")
	require.NoError(t, err)
	assert.Empty(t, executions)
}

func TestCyclicWorkflowNeverStarts(t *testing.T) {
	ctx := context.Background()
	reg := flow.NewRegistry()
	require.NoError(t, reg.Register("touch", &stubAction{}))
	rig := newTestRig(t, reg, nil)

	// An always-true condition looping back through an action would pin
	// the worker inside a single turn if it ever ran.
	w := &flow.Workflow{
		ID: "loop",
		Nodes: []flow.Node{
			{ID: "start", Type: flow.NodeStart},
			{ID: "check", Type: flow.NodeCondition, Config: map[string]any{"conditions": []any{}}},
			{ID: "step", Type: flow.NodeAction, ActionID: "touch"},
			{ID: "end", Type: flow.NodeEnd},
		},
		Edges: []flow.Edge{
			{FromNodeID: "start", ToNodeID: "check"},
			{FromNodeID: "check", ToNodeID: "step", OutputIndex: 0},
			{FromNodeID: "step", ToNodeID: "check", OutputIndex: 0},
			{FromNodeID: "check", ToNodeID: "end", OutputIndex: 1},
		},
	}
	rig.saveActive(t, w)

	_, err := rig.engine.StartExecution(ctx, "loop", "sub-1", nil)
	require.ErrorIs(t, err, flow.ErrInvalidWorkflow)
	assert.Contains(t, err.Error(), "cycle")

	executions, err := rig.store.ListExecutions(ctx, "")
	require.NoError(t, err)
	assert.Empty(t, executions)
}

func TestResumeBeforeDueIsRejected(t *testing.T) {
	ctx := context.Background()
	rig := newTestRig(t, flow.NewRegistry(), nil)
	rig.saveActive(t, delayWorkflow(5, "minutes"))

	execID, err := rig.engine.StartExecution(ctx, "delayed", "sub-1", nil)
	require.NoError(t, err)

	rig.clock.Advance(time.Minute)
	require.ErrorIs(t, rig.engine.Resume(ctx, execID), flow.ErrExecutionNotDue)
	assert.Equal(t, flow.ExecutionWaiting, rig.execution(t, execID).Status)
}

func TestCancelTakesEffectAtTurnBoundary(t *testing.T) {
	ctx := context.Background()
	rig := newTestRig(t, flow.NewRegistry(), nil)
	rig.saveActive(t, delayWorkflow(10, "minutes"))

	execID, err := rig.engine.StartExecution(ctx, "delayed", "sub-1", nil)
	require.NoError(t, err)
	require.Equal(t, flow.ExecutionWaiting, rig.execution(t, execID).Status)

	require.NoError(t, rig.engine.Cancel(ctx, execID))
	assert.Equal(t, flow.ExecutionCancelled, rig.execution(t, execID).Status)

	// A resume after cancellation is a no-op.
	rig.clock.Advance(time.Hour)
	require.NoError(t, rig.engine.Resume(ctx, execID))
	assert.Equal(t, flow.ExecutionCancelled, rig.execution(t, execID).Status)

	// Cancelling a terminal execution is rejected.
	require.ErrorIs(t, rig.engine.Cancel(ctx, execID), flow.ErrExecutionFinished)
}

func TestWorkflowEditsDoNotAffectInFlightExecutions(t *testing.T) {
	ctx := context.Background()
	rig := newTestRig(t, flow.NewRegistry(), nil)
	rig.saveActive(t, delayWorkflow(5, "minutes"))

	execID, err := rig.engine.StartExecution(ctx, "delayed", "sub-1", nil)
	require.NoError(t, err)

	// Break the stored definition while the execution is suspended.
	broken := delayWorkflow(5, "minutes")
	broken.Nodes = broken.Nodes[:1]
	broken.Edges = nil
	rig.saveActive(t, broken)

	rig.clock.Advance(6 * time.Minute)
	require.NoError(t, rig.engine.Resume(ctx, execID))
	assert.Equal(t, flow.ExecutionCompleted, rig.execution(t, execID).Status)
}
