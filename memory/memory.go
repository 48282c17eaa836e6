// Package memory provides in-memory implementations of the flow
// storage ports for tests, examples and single-process deployments.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	json "github.com/goccy/go-json"
	"github.com/google/uuid"

	"github.com/meikuraledutech/flow"
)

// Store implements flow.WorkflowStore, flow.ExecutionStore and
// flow.SyncLedger over process memory. All methods are safe for
// concurrent use; records are deep-copied on the way in and out so
// callers never alias internal state.
type Store struct {
	mu         sync.Mutex
	workflows  map[string]*flow.Workflow
	executions map[string]*flow.Execution
	records    []flow.SyncRecord
}

// New returns an empty store.
func New() *Store {
	return &Store{
		workflows:  make(map[string]*flow.Workflow),
		executions: make(map[string]*flow.Execution),
	}
}

// ── WorkflowStore ────────────────────────────────────────────────────

func (s *Store) SaveWorkflow(_ context.Context, w *flow.Workflow) (*flow.Workflow, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if w.ID == "" {
		w.ID = uuid.NewString()
	}
	now := time.Now()
	if w.CreatedAt.IsZero() {
		w.CreatedAt = now
	}
	w.UpdatedAt = now
	if w.Status == "" {
		w.Status = flow.WorkflowDraft
	}

	stored := copyWorkflow(w)
	s.workflows[w.ID] = stored
	return copyWorkflow(stored), nil
}

func (s *Store) GetWorkflow(_ context.Context, id string) (*flow.Workflow, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	w, ok := s.workflows[id]
	if !ok {
		return nil, nil
	}
	return copyWorkflow(w), nil
}

func (s *Store) SetWorkflowStatus(_ context.Context, id string, status flow.WorkflowStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	w, ok := s.workflows[id]
	if !ok {
		return flow.ErrWorkflowNotFound
	}
	w.Status = status
	w.UpdatedAt = time.Now()
	return nil
}

func (s *Store) DeleteWorkflow(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.workflows, id)
	return nil
}

func (s *Store) ListWorkflows(_ context.Context) ([]flow.Workflow, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]flow.Workflow, 0, len(s.workflows))
	for _, w := range s.workflows {
		out = append(out, *copyWorkflow(w))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

// ── ExecutionStore ───────────────────────────────────────────────────

func (s *Store) CreateExecution(_ context.Context, e *flow.Execution) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.executions[e.ID] = copyExecution(e)
	return nil
}

func (s *Store) GetExecution(_ context.Context, id string) (*flow.Execution, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.executions[id]
	if !ok {
		return nil, nil
	}
	return copyExecution(e), nil
}

func (s *Store) UpdateExecution(_ context.Context, e *flow.Execution) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.executions[e.ID]; !ok {
		return flow.ErrExecutionNotFound
	}
	s.executions[e.ID] = copyExecution(e)
	return nil
}

func (s *Store) ClaimDue(_ context.Context, now time.Time, limit int) ([]flow.Execution, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var due []flow.Execution
	for _, e := range s.executions {
		if len(due) >= limit {
			break
		}
		switch {
		case e.Status == flow.ExecutionWaiting && e.ResumeAfter != nil && !e.ResumeAfter.After(now):
		case e.Status == flow.ExecutionRunning && e.ClaimedAt != nil && !e.ClaimedAt.After(now.Add(-flow.ClaimLease)):
			// Expired lease: the claiming worker died mid-turn.
		default:
			continue
		}
		// The flip is the claim: a second ClaimDue no longer sees the
		// execution as waiting, and the fresh ClaimedAt restarts the
		// lease.
		claimedAt := now
		e.Status = flow.ExecutionRunning
		e.ResumeAfter = nil
		e.ClaimedAt = &claimedAt
		due = append(due, *copyExecution(e))
	}
	return due, nil
}

func (s *Store) DueExecutions(_ context.Context, now time.Time) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var ids []string
	for _, e := range s.executions {
		if e.Status == flow.ExecutionWaiting && e.ResumeAfter != nil && !e.ResumeAfter.After(now) {
			ids = append(ids, e.ID)
		}
	}
	sort.Strings(ids)
	return ids, nil
}

func (s *Store) CancelExecution(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.executions[id]
	if !ok {
		return flow.ErrExecutionNotFound
	}
	if e.Status.Terminal() {
		return flow.ErrExecutionFinished
	}
	e.Status = flow.ExecutionCancelled
	e.ResumeAfter = nil
	e.ClaimedAt = nil
	e.UpdatedAt = time.Now()
	return nil
}

func (s *Store) ListExecutions(_ context.Context, status flow.ExecutionStatus) ([]flow.Execution, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []flow.Execution
	for _, e := range s.executions {
		if status != "" && e.Status != status {
			continue
		}
		out = append(out, *copyExecution(e))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

// ── SyncLedger ───────────────────────────────────────────────────────

func (s *Store) Record(_ context.Context, r *flow.SyncRecord) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if r.ID == "" {
		r.ID = uuid.NewString()
	}
	if r.SyncedAt.IsZero() {
		r.SyncedAt = time.Now()
	}
	s.records = append(s.records, *r)
	return r.ID, nil
}

func (s *Store) History(_ context.Context, submissionID string) ([]flow.SyncRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []flow.SyncRecord
	for _, r := range s.records {
		if r.SubmissionID == submissionID {
			out = append(out, r)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].SyncedAt.Before(out[j].SyncedAt) })
	return out, nil
}

func (s *Store) LatestStatus(_ context.Context, submissionID, integrationID string) (*flow.SyncRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var latest *flow.SyncRecord
	for i := range s.records {
		r := &s.records[i]
		if r.SubmissionID != submissionID || r.IntegrationID != integrationID {
			continue
		}
		if latest == nil || !r.SyncedAt.Before(latest.SyncedAt) {
			latest = r
		}
	}
	if latest == nil {
		return nil, nil
	}
	cp := *latest
	return &cp, nil
}

func (s *Store) Stats(_ context.Context, integrationID string, since time.Time) (*flow.SyncStats, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	stats := &flow.SyncStats{}
	for _, r := range s.records {
		if integrationID != "" && r.IntegrationID != integrationID {
			continue
		}
		if r.SyncedAt.Before(since) {
			continue
		}
		stats.Total++
		switch r.Status {
		case flow.SyncSuccess:
			stats.Succeeded++
		case flow.SyncFailed:
			stats.Failed++
		case flow.SyncSkipped:
			stats.Skipped++
		}
	}
	return stats, nil
}

// JSON round trips give honest deep copies of the nested snapshot,
// context and history structures.

func copyWorkflow(w *flow.Workflow) *flow.Workflow {
	raw, _ := json.Marshal(w)
	var cp flow.Workflow
	_ = json.Unmarshal(raw, &cp)
	return &cp
}

func copyExecution(e *flow.Execution) *flow.Execution {
	raw, _ := json.Marshal(e)
	var cp flow.Execution
	_ = json.Unmarshal(raw, &cp)
	return &cp
}
