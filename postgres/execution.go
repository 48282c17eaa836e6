package postgres

import (
	"context"
	"fmt"
	"time"

	json "github.com/goccy/go-json"

	"github.com/meikuraledutech/flow"
)

// CreateExecution persists a new execution record.
func (s *PGStore) CreateExecution(ctx context.Context, e *flow.Execution) error {
	snapshot, context_, counters, history, err := encodeExecution(e)
	if err != nil {
		return err
	}

	_, err = s.db.Exec(ctx, `
		INSERT INTO executions
		    (id, workflow_id, submission_id, snapshot, context, current_node_id,
		     status, attempt_counters, resume_after, claimed_at, history, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)`,
		e.ID, e.WorkflowID, e.SubmissionID, snapshot, context_, e.CurrentNodeID,
		e.Status, counters, e.ResumeAfter, e.ClaimedAt, history, e.CreatedAt, e.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("flow: insert execution: %w", err)
	}
	return nil
}

// GetExecution fetches one execution by its ID.
// Returns nil, nil if not found.
func (s *PGStore) GetExecution(ctx context.Context, id string) (*flow.Execution, error) {
	row := s.db.QueryRow(ctx, `
		SELECT id, workflow_id, submission_id, snapshot, context, current_node_id,
		       status, attempt_counters, resume_after, claimed_at, history, created_at, updated_at
		FROM executions WHERE id = $1`, id)

	e, err := scanExecution(row)
	if err != nil {
		if isNoRows(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("flow: get execution: %w", err)
	}
	return e, nil
}

// UpdateExecution replaces the mutable fields of an execution.
// Returns ErrExecutionNotFound if the execution doesn't exist.
func (s *PGStore) UpdateExecution(ctx context.Context, e *flow.Execution) error {
	_, context_, counters, history, err := encodeExecution(e)
	if err != nil {
		return err
	}

	ct, err := s.db.Exec(ctx, `
		UPDATE executions
		SET context = $1, current_node_id = $2, status = $3, attempt_counters = $4,
		    resume_after = $5, claimed_at = $6, history = $7, updated_at = $8
		WHERE id = $9`,
		context_, e.CurrentNodeID, e.Status, counters, e.ResumeAfter, e.ClaimedAt, history, e.UpdatedAt, e.ID,
	)
	if err != nil {
		return fmt.Errorf("flow: update execution: %w", err)
	}
	if ct.RowsAffected() == 0 {
		return flow.ErrExecutionNotFound
	}
	return nil
}

// ClaimDue atomically flips due waiting executions to running and
// returns them. FOR UPDATE SKIP LOCKED keeps concurrent scheduler
// instances from claiming the same execution: the flip is the resume
// lease, stamped in claimed_at, and exactly one worker gets it.
// Running rows whose lease expired are claimed too; their worker
// crashed between claim and resume.
func (s *PGStore) ClaimDue(ctx context.Context, now time.Time, limit int) ([]flow.Execution, error) {
	rows, err := s.db.Query(ctx, `
		UPDATE executions
		SET status = $1, resume_after = NULL, claimed_at = $3, updated_at = NOW()
		WHERE id IN (
		    SELECT id FROM executions
		    WHERE (status = $2 AND resume_after <= $3)
		       OR (status = $1 AND claimed_at <= $4)
		    ORDER BY resume_after
		    LIMIT $5
		    FOR UPDATE SKIP LOCKED
		)
		RETURNING id, workflow_id, submission_id, snapshot, context, current_node_id,
		          status, attempt_counters, resume_after, claimed_at, history, created_at, updated_at`,
		flow.ExecutionRunning, flow.ExecutionWaiting, now, now.Add(-flow.ClaimLease), limit,
	)
	if err != nil {
		return nil, fmt.Errorf("flow: claim due executions: %w", err)
	}
	defer rows.Close()

	claimed := []flow.Execution{}
	for rows.Next() {
		e, err := scanExecution(rows)
		if err != nil {
			return nil, fmt.Errorf("flow: scan claimed execution: %w", err)
		}
		claimed = append(claimed, *e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("flow: rows claimed executions: %w", err)
	}

	return claimed, nil
}

// DueExecutions lists due waiting executions without claiming them.
func (s *PGStore) DueExecutions(ctx context.Context, now time.Time) ([]string, error) {
	rows, err := s.db.Query(ctx, `
		SELECT id FROM executions
		WHERE status = $1 AND resume_after <= $2
		ORDER BY resume_after`,
		flow.ExecutionWaiting, now,
	)
	if err != nil {
		return nil, fmt.Errorf("flow: list due executions: %w", err)
	}
	defer rows.Close()

	ids := []string{}
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("flow: scan due execution: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("flow: rows due executions: %w", err)
	}

	return ids, nil
}

// CancelExecution marks an execution cancelled unless it is already
// terminal. The status check runs inside the UPDATE, so a concurrent
// completion wins cleanly.
func (s *PGStore) CancelExecution(ctx context.Context, id string) error {
	ct, err := s.db.Exec(ctx, `
		UPDATE executions
		SET status = $1, resume_after = NULL, claimed_at = NULL, updated_at = NOW()
		WHERE id = $2 AND status IN ($3, $4)`,
		flow.ExecutionCancelled, id, flow.ExecutionRunning, flow.ExecutionWaiting,
	)
	if err != nil {
		return fmt.Errorf("flow: cancel execution: %w", err)
	}
	if ct.RowsAffected() == 0 {
		// Either absent or already terminal; tell the caller which.
		e, err := s.GetExecution(ctx, id)
		if err != nil {
			return err
		}
		if e == nil {
			return flow.ErrExecutionNotFound
		}
		return flow.ErrExecutionFinished
	}
	return nil
}

// ListExecutions returns executions filtered by status, newest first.
// An empty status returns all.
func (s *PGStore) ListExecutions(ctx context.Context, status flow.ExecutionStatus) ([]flow.Execution, error) {
	query := `
		SELECT id, workflow_id, submission_id, snapshot, context, current_node_id,
		       status, attempt_counters, resume_after, claimed_at, history, created_at, updated_at
		FROM executions`
	args := []any{}
	if status != "" {
		query += ` WHERE status = $1`
		args = append(args, status)
	}
	query += ` ORDER BY created_at DESC`

	rows, err := s.db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("flow: list executions: %w", err)
	}
	defer rows.Close()

	executions := []flow.Execution{}
	for rows.Next() {
		e, err := scanExecution(rows)
		if err != nil {
			return nil, fmt.Errorf("flow: scan execution: %w", err)
		}
		executions = append(executions, *e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("flow: rows executions: %w", err)
	}

	return executions, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanExecution(row rowScanner) (*flow.Execution, error) {
	var e flow.Execution
	var snapshot, context_, counters, history []byte
	err := row.Scan(&e.ID, &e.WorkflowID, &e.SubmissionID, &snapshot, &context_,
		&e.CurrentNodeID, &e.Status, &counters, &e.ResumeAfter, &e.ClaimedAt,
		&history, &e.CreatedAt, &e.UpdatedAt)
	if err != nil {
		return nil, err
	}

	if err := json.Unmarshal(snapshot, &e.Snapshot); err != nil {
		return nil, fmt.Errorf("decode snapshot: %w", err)
	}
	if err := json.Unmarshal(context_, &e.Context); err != nil {
		return nil, fmt.Errorf("decode context: %w", err)
	}
	if err := json.Unmarshal(counters, &e.AttemptCounters); err != nil {
		return nil, fmt.Errorf("decode attempt counters: %w", err)
	}
	if err := json.Unmarshal(history, &e.History); err != nil {
		return nil, fmt.Errorf("decode history: %w", err)
	}
	return &e, nil
}

func encodeExecution(e *flow.Execution) (snapshot, context_, counters, history []byte, err error) {
	if snapshot, err = json.Marshal(e.Snapshot); err != nil {
		return nil, nil, nil, nil, fmt.Errorf("flow: encode snapshot: %w", err)
	}
	if context_, err = json.Marshal(e.Context); err != nil {
		return nil, nil, nil, nil, fmt.Errorf("flow: encode context: %w", err)
	}
	if e.AttemptCounters == nil {
		counters = []byte(`{}`)
	} else if counters, err = json.Marshal(e.AttemptCounters); err != nil {
		return nil, nil, nil, nil, fmt.Errorf("flow: encode attempt counters: %w", err)
	}
	if e.History == nil {
		history = []byte(`[]`)
	} else if history, err = json.Marshal(e.History); err != nil {
		return nil, nil, nil, nil, fmt.Errorf("flow: encode history: %w", err)
	}
	return snapshot, context_, counters, history, nil
}
