// SPDX-License-Identifier: AGPL-3.0-or-later

package coredb

import (
	"context"
	"database/sql"
	"fmt"
)

const schemaVersion = 1

var baseMigrations = [...]string{
	`CREATE TABLE IF NOT EXISTS core_runs (
		run_id TEXT PRIMARY KEY,
		model_id TEXT NOT NULL,
		status TEXT NOT NULL,
		exit_code INTEGER NOT NULL DEFAULT 0,
		install_outcome TEXT NOT NULL DEFAULT '',
		artifact_path TEXT NOT NULL DEFAULT '',
		export_path TEXT NOT NULL DEFAULT '',
		error TEXT NOT NULL DEFAULT '',
		started_at INTEGER NOT NULL,
		finished_at INTEGER NOT NULL DEFAULT 0
	);`,
	`CREATE INDEX IF NOT EXISTS idx_core_runs_started ON core_runs(started_at);`,
	`CREATE TABLE IF NOT EXISTS core_run_journal (
		seq INTEGER PRIMARY KEY AUTOINCREMENT,
		run_id TEXT NOT NULL,
		stage TEXT NOT NULL DEFAULT '',
		channel TEXT NOT NULL DEFAULT '',
		event_type TEXT NOT NULL,
		payload BLOB NOT NULL,
		ts INTEGER NOT NULL
	);`,
	`CREATE INDEX IF NOT EXISTS idx_core_journal_run_stage ON core_run_journal(run_id, stage, seq);`,
	fmt.Sprintf(`PRAGMA user_version = %d;`, schemaVersion),
}

func applyMigrations(ctx context.Context, conn *sql.DB) error {
	for _, stmt := range baseMigrations {
		if _, err := conn.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("apply migration: %w", err)
		}
	}
	return nil
}
