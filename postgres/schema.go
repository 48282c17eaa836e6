package postgres

import "context"

const schemaSQL = `
CREATE TABLE IF NOT EXISTS workflows (
    id         TEXT PRIMARY KEY,
    name       TEXT NOT NULL DEFAULT '',
    status     TEXT NOT NULL DEFAULT 'draft',
    definition JSONB NOT NULL DEFAULT '{}',
    created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE TABLE IF NOT EXISTS executions (
    id               TEXT PRIMARY KEY,
    workflow_id      TEXT NOT NULL,
    submission_id    TEXT NOT NULL DEFAULT '',
    snapshot         JSONB NOT NULL DEFAULT '{}',
    context          JSONB NOT NULL DEFAULT '{}',
    current_node_id  TEXT NOT NULL DEFAULT '',
    status           TEXT NOT NULL DEFAULT 'running',
    attempt_counters JSONB NOT NULL DEFAULT '{}',
    resume_after     TIMESTAMPTZ,
    claimed_at       TIMESTAMPTZ,
    history          JSONB NOT NULL DEFAULT '[]',
    created_at       TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    updated_at       TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE TABLE IF NOT EXISTS sync_records (
    id             TEXT PRIMARY KEY,
    submission_id  TEXT NOT NULL,
    integration_id TEXT NOT NULL,
    status         TEXT NOT NULL,
    external_id    TEXT NOT NULL DEFAULT '',
    error_message  TEXT NOT NULL DEFAULT '',
    attempt_number INT NOT NULL DEFAULT 1,
    synced_at      TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE INDEX IF NOT EXISTS idx_executions_workflow ON executions(workflow_id);
CREATE INDEX IF NOT EXISTS idx_executions_due      ON executions(status, resume_after);
CREATE INDEX IF NOT EXISTS idx_executions_lease    ON executions(status, claimed_at);
CREATE INDEX IF NOT EXISTS idx_sync_submission     ON sync_records(submission_id, synced_at);
CREATE INDEX IF NOT EXISTS idx_sync_integration    ON sync_records(integration_id, synced_at);
`

// CreateSchema creates the workflows, executions and sync_records
// tables if they don't exist.
func (s *PGStore) CreateSchema(ctx context.Context) error {
	_, err := s.db.Exec(ctx, schemaSQL)
	return err
}

// DropSchema drops all engine tables.
func (s *PGStore) DropSchema(ctx context.Context) error {
	_, err := s.db.Exec(ctx, `DROP TABLE IF EXISTS sync_records, executions, workflows CASCADE;`)
	return err
}
