package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/meikuraledutech/flow"
)

// Record appends one immutable sync row. A record without an ID gets an
// auto-generated UUID. Rows are never updated in place — a retry
// appends a new row, so the table is a full audit of every attempt.
func (s *PGStore) Record(ctx context.Context, r *flow.SyncRecord) (string, error) {
	if r.ID == "" {
		r.ID = uuid.NewString()
	}
	if r.SyncedAt.IsZero() {
		r.SyncedAt = time.Now()
	}

	_, err := s.db.Exec(ctx, `
		INSERT INTO sync_records
		    (id, submission_id, integration_id, status, external_id, error_message, attempt_number, synced_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		r.ID, r.SubmissionID, r.IntegrationID, r.Status, r.ExternalID,
		r.ErrorMessage, r.AttemptNumber, r.SyncedAt,
	)
	if err != nil {
		return "", fmt.Errorf("flow: insert sync record: %w", err)
	}

	return r.ID, nil
}

// History returns all attempts for a submission ordered by synced_at
// ascending.
func (s *PGStore) History(ctx context.Context, submissionID string) ([]flow.SyncRecord, error) {
	rows, err := s.db.Query(ctx, `
		SELECT id, submission_id, integration_id, status, external_id, error_message, attempt_number, synced_at
		FROM sync_records WHERE submission_id = $1 ORDER BY synced_at`, submissionID)
	if err != nil {
		return nil, fmt.Errorf("flow: query sync history: %w", err)
	}
	defer rows.Close()

	records := []flow.SyncRecord{}
	for rows.Next() {
		var r flow.SyncRecord
		if err := rows.Scan(&r.ID, &r.SubmissionID, &r.IntegrationID, &r.Status,
			&r.ExternalID, &r.ErrorMessage, &r.AttemptNumber, &r.SyncedAt); err != nil {
			return nil, fmt.Errorf("flow: scan sync record: %w", err)
		}
		records = append(records, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("flow: rows sync records: %w", err)
	}

	return records, nil
}

// LatestStatus returns the most recent attempt for a submission and
// integration. Returns nil, nil if no attempt exists.
func (s *PGStore) LatestStatus(ctx context.Context, submissionID, integrationID string) (*flow.SyncRecord, error) {
	var r flow.SyncRecord
	err := s.db.QueryRow(ctx, `
		SELECT id, submission_id, integration_id, status, external_id, error_message, attempt_number, synced_at
		FROM sync_records
		WHERE submission_id = $1 AND integration_id = $2
		ORDER BY synced_at DESC LIMIT 1`, submissionID, integrationID,
	).Scan(&r.ID, &r.SubmissionID, &r.IntegrationID, &r.Status,
		&r.ExternalID, &r.ErrorMessage, &r.AttemptNumber, &r.SyncedAt)
	if err != nil {
		if isNoRows(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("flow: latest sync status: %w", err)
	}

	return &r, nil
}

// Stats aggregates sync outcomes since a point in time. An empty
// integrationID aggregates across all integrations.
func (s *PGStore) Stats(ctx context.Context, integrationID string, since time.Time) (*flow.SyncStats, error) {
	query := `
		SELECT COUNT(*),
		       COUNT(*) FILTER (WHERE status = 'success'),
		       COUNT(*) FILTER (WHERE status = 'failed'),
		       COUNT(*) FILTER (WHERE status = 'skipped')
		FROM sync_records WHERE synced_at >= $1`
	args := []any{since}
	if integrationID != "" {
		query += ` AND integration_id = $2`
		args = append(args, integrationID)
	}

	var stats flow.SyncStats
	err := s.db.QueryRow(ctx, query, args...).
		Scan(&stats.Total, &stats.Succeeded, &stats.Failed, &stats.Skipped)
	if err != nil {
		return nil, fmt.Errorf("flow: sync stats: %w", err)
	}

	return &stats, nil
}
