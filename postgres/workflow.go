package postgres

import (
	"context"
	"fmt"

	json "github.com/goccy/go-json"
	"github.com/google/uuid"

	"github.com/meikuraledutech/flow"
)

// SaveWorkflow inserts or replaces a workflow definition. A workflow
// without an ID gets an auto-generated UUID. Nodes and edges are stored
// as one JSONB document: definitions are read and replaced whole by the
// builder, never row-by-row.
func (s *PGStore) SaveWorkflow(ctx context.Context, w *flow.Workflow) (*flow.Workflow, error) {
	if w.ID == "" {
		w.ID = uuid.NewString()
	}
	if w.Status == "" {
		w.Status = flow.WorkflowDraft
	}

	definition, err := json.Marshal(struct {
		Nodes []flow.Node `json:"nodes"`
		Edges []flow.Edge `json:"edges"`
	}{w.Nodes, w.Edges})
	if err != nil {
		return nil, fmt.Errorf("flow: encode workflow: %w", err)
	}

	err = s.db.QueryRow(ctx, `
		INSERT INTO workflows (id, name, status, definition)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (id) DO UPDATE
		SET name = EXCLUDED.name, status = EXCLUDED.status,
		    definition = EXCLUDED.definition, updated_at = NOW()
		RETURNING created_at, updated_at`,
		w.ID, w.Name, w.Status, definition,
	).Scan(&w.CreatedAt, &w.UpdatedAt)
	if err != nil {
		return nil, fmt.Errorf("flow: save workflow: %w", err)
	}

	return w, nil
}

// GetWorkflow fetches a workflow definition by its ID.
// Returns nil, nil if not found.
func (s *PGStore) GetWorkflow(ctx context.Context, id string) (*flow.Workflow, error) {
	w := &flow.Workflow{ID: id}
	var definition []byte
	err := s.db.QueryRow(ctx, `
		SELECT name, status, definition, created_at, updated_at
		FROM workflows WHERE id = $1`, id,
	).Scan(&w.Name, &w.Status, &definition, &w.CreatedAt, &w.UpdatedAt)
	if err != nil {
		if isNoRows(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("flow: get workflow: %w", err)
	}

	if err := decodeDefinition(definition, w); err != nil {
		return nil, err
	}
	return w, nil
}

// SetWorkflowStatus moves a workflow through its draft/active/archived
// lifecycle. Returns ErrWorkflowNotFound if the workflow doesn't exist.
func (s *PGStore) SetWorkflowStatus(ctx context.Context, id string, status flow.WorkflowStatus) error {
	ct, err := s.db.Exec(ctx,
		`UPDATE workflows SET status = $1, updated_at = NOW() WHERE id = $2`,
		status, id,
	)
	if err != nil {
		return fmt.Errorf("flow: set workflow status: %w", err)
	}
	if ct.RowsAffected() == 0 {
		return flow.ErrWorkflowNotFound
	}
	return nil
}

// DeleteWorkflow removes a workflow definition. Running executions keep
// their snapshots. No error if the workflow doesn't exist.
func (s *PGStore) DeleteWorkflow(ctx context.Context, id string) error {
	_, err := s.db.Exec(ctx, `DELETE FROM workflows WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("flow: delete workflow: %w", err)
	}
	return nil
}

// ListWorkflows returns all workflow definitions, newest first.
func (s *PGStore) ListWorkflows(ctx context.Context) ([]flow.Workflow, error) {
	rows, err := s.db.Query(ctx, `
		SELECT id, name, status, definition, created_at, updated_at
		FROM workflows ORDER BY created_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("flow: list workflows: %w", err)
	}
	defer rows.Close()

	workflows := []flow.Workflow{}
	for rows.Next() {
		var w flow.Workflow
		var definition []byte
		if err := rows.Scan(&w.ID, &w.Name, &w.Status, &definition, &w.CreatedAt, &w.UpdatedAt); err != nil {
			return nil, fmt.Errorf("flow: scan workflow: %w", err)
		}
		if err := decodeDefinition(definition, &w); err != nil {
			return nil, err
		}
		workflows = append(workflows, w)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("flow: rows workflows: %w", err)
	}

	return workflows, nil
}

func decodeDefinition(definition []byte, w *flow.Workflow) error {
	var doc struct {
		Nodes []flow.Node `json:"nodes"`
		Edges []flow.Edge `json:"edges"`
	}
	if err := json.Unmarshal(definition, &doc); err != nil {
		return fmt.Errorf("flow: decode workflow %s: %w", w.ID, err)
	}
	w.Nodes = doc.Nodes
	w.Edges = doc.Edges
	return nil
}
