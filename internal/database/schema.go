package database

import (
	"context"
	"fmt"
)

var schema = []string{
	`CREATE TABLE IF NOT EXISTS catalog_row (
		name        TEXT PRIMARY KEY,
		category    TEXT NOT NULL DEFAULT '',
		tags        TEXT NOT NULL DEFAULT '',
		image       TEXT NOT NULL DEFAULT '',
		link        TEXT NOT NULL DEFAULT '',
		description TEXT NOT NULL DEFAULT '',
		price       TEXT NOT NULL DEFAULT '0',
		pv          TEXT NOT NULL DEFAULT '0',
		bv          TEXT NOT NULL DEFAULT '0',
		run_id      TEXT NOT NULL,
		updated_at  TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,
	`CREATE INDEX IF NOT EXISTS idx_catalog_row_category ON catalog_row (category)`,
	`CREATE TABLE IF NOT EXISTS change_log (
		id          BIGSERIAL PRIMARY KEY,
		run_id      TEXT NOT NULL,
		recorded_at TIMESTAMPTZ NOT NULL,
		kind        TEXT NOT NULL,
		name        TEXT NOT NULL,
		detail      TEXT NOT NULL DEFAULT '',
		old_value   TEXT NOT NULL DEFAULT '',
		new_value   TEXT NOT NULL DEFAULT ''
	)`,
	`CREATE INDEX IF NOT EXISTS idx_change_log_recorded_at ON change_log (recorded_at DESC)`,
	`CREATE TABLE IF NOT EXISTS pipeline_run (
		id           TEXT PRIMARY KEY,
		mode         TEXT NOT NULL,
		status       TEXT NOT NULL,
		products     INTEGER NOT NULL DEFAULT 0,
		categories   INTEGER NOT NULL DEFAULT 0,
		promotions   INTEGER NOT NULL DEFAULT 0,
		faults       INTEGER NOT NULL DEFAULT 0,
		changes      INTEGER NOT NULL DEFAULT 0,
		error        TEXT NOT NULL DEFAULT '',
		created_at   TIMESTAMPTZ NOT NULL,
		started_at   TIMESTAMPTZ,
		completed_at TIMESTAMPTZ
	)`,
	`CREATE TABLE IF NOT EXISTS outbox_event (
		id             UUID PRIMARY KEY,
		aggregate_type TEXT NOT NULL,
		aggregate_id   TEXT NOT NULL,
		event_type     TEXT NOT NULL,
		payload        JSONB NOT NULL,
		target_stream  TEXT NOT NULL,
		status         TEXT NOT NULL,
		retry_count    INTEGER NOT NULL DEFAULT 0,
		error_message  TEXT,
		created_at     TIMESTAMPTZ NOT NULL,
		processed_at   TIMESTAMPTZ,
		next_retry_at  TIMESTAMPTZ
	)`,
	`CREATE INDEX IF NOT EXISTS idx_outbox_event_pending ON outbox_event (status, next_retry_at)`,
}

// Migrate creates the tables the pipeline needs. It is safe to run on
// every start.
func (db *DB) Migrate(ctx context.Context) error {
	for _, stmt := range schema {
		if _, err := db.pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("failed to apply schema: %w", err)
		}
	}
	return nil
}
