package storage

import (
	"context"
	"fmt"

	"github.com/rs/zerolog/log"
)

const schemaVersion = 1

const schemaV1 = `
CREATE TABLE IF NOT EXISTS schema_version (
    version INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS executions (
    id              TEXT PRIMARY KEY,
    session_id      TEXT NOT NULL DEFAULT '',
    language        TEXT NOT NULL,
    backend         TEXT NOT NULL DEFAULT '',
    code_hash       TEXT NOT NULL,
    exit_code       INTEGER NOT NULL,
    timed_out       BOOLEAN NOT NULL DEFAULT FALSE,
    stdout          TEXT NOT NULL DEFAULT '',
    stderr          TEXT NOT NULL DEFAULT '',
    duration_ms     BIGINT NOT NULL DEFAULT 0,
    security_events INTEGER NOT NULL DEFAULT 0,
    status          TEXT NOT NULL,
    request_ip      TEXT NOT NULL DEFAULT '',
    created_at      TIMESTAMPTZ NOT NULL DEFAULT now(),
    completed_at    TIMESTAMPTZ
);

CREATE INDEX IF NOT EXISTS idx_executions_session ON executions(session_id, created_at DESC);
CREATE INDEX IF NOT EXISTS idx_executions_language ON executions(language, created_at DESC);

CREATE TABLE IF NOT EXISTS security_events (
    id           TEXT PRIMARY KEY,
    execution_id TEXT NOT NULL,
    type         TEXT NOT NULL,
    severity     TEXT NOT NULL,
    detail       TEXT NOT NULL DEFAULT '',
    created_at   TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_security_events_execution ON security_events(execution_id);

CREATE TABLE IF NOT EXISTS hook_executions (
    id           TEXT PRIMARY KEY,
    event_type   TEXT NOT NULL CHECK (event_type IN ('on_run','on_error','on_save')),
    session_id   TEXT NOT NULL,
    status       TEXT NOT NULL CHECK (status IN ('completed','failed')),
    ai_response  TEXT NOT NULL DEFAULT '',
    error        TEXT NOT NULL DEFAULT '',
    started_at   TIMESTAMPTZ NOT NULL,
    completed_at TIMESTAMPTZ,
    duration_ms  BIGINT NOT NULL DEFAULT 0
);

CREATE INDEX IF NOT EXISTS idx_hook_executions_session ON hook_executions(session_id, started_at DESC);
`

// Migrate brings the schema up to schemaVersion. It is safe to run on every start.
func (db *DB) Migrate(ctx context.Context) error {
	var current int
	if err := db.pool.QueryRow(ctx, "SELECT version FROM schema_version LIMIT 1").Scan(&current); err != nil {
		// Missing table or no row: fresh database.
		current = 0
	}

	if current >= schemaVersion {
		return nil
	}

	tx, err := db.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("starting migration: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if current < 1 {
		if _, err := tx.Exec(ctx, schemaV1); err != nil {
			return fmt.Errorf("applying schema v1: %w", err)
		}
	}

	if _, err := tx.Exec(ctx, "DELETE FROM schema_version"); err != nil {
		return fmt.Errorf("resetting schema version: %w", err)
	}
	if _, err := tx.Exec(ctx, "INSERT INTO schema_version (version) VALUES ($1)", schemaVersion); err != nil {
		return fmt.Errorf("recording schema version: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("committing migration: %w", err)
	}

	log.Info().Int("from", current).Int("to", schemaVersion).Msg("database schema migrated")
	return nil
}
