// SPDX-License-Identifier: AGPL-3.0-or-later

package coredb

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// StorageStats describes the run database for `modelport doctor`.
type StorageStats struct {
	Path            string         `json:"path"`
	OK              bool           `json:"ok"`
	BytesUsed       int64          `json:"bytes_used"`
	MaxBytes        int64          `json:"max_bytes"`
	JournalBytes    int64          `json:"journal_bytes"`
	JournalMaxBytes int64          `json:"journal_max_bytes"`
	JournalEvents   int64          `json:"journal_events"`
	Runs            int64          `json:"runs"`
	RunsByStatus    map[string]int `json:"runs_by_status"`
	OldestRun       time.Time      `json:"oldest_run,omitempty"`
	SchemaVersion   int64          `json:"schema_version"`
	// NearBudget is set once the journal uses 90% of its budget, the point
	// from which new runs start evicting old ones.
	NearBudget bool `json:"near_budget"`
}

// CollectStorageStats reads file usage, journal usage and the run counts.
func CollectStorageStats(ctx context.Context, db *DB) (StorageStats, error) {
	if db == nil || db.sql == nil {
		return StorageStats{}, errors.New("coredb: database not initialised")
	}
	stats := StorageStats{
		Path:            db.Path(),
		MaxBytes:        db.opts.MaxBytes,
		JournalMaxBytes: db.opts.JournalMaxBytes,
		RunsByStatus:    map[string]int{},
	}

	size, err := querySingleInt(ctx, db.sql, "PRAGMA page_size;")
	if err != nil {
		return stats, fmt.Errorf("coredb: lookup page_size: %w", err)
	}
	pageCount, err := querySingleInt(ctx, db.sql, "PRAGMA page_count;")
	if err != nil {
		return stats, fmt.Errorf("coredb: lookup page_count: %w", err)
	}
	stats.BytesUsed = size * pageCount
	if stats.SchemaVersion, err = querySingleInt(ctx, db.sql, "PRAGMA user_version;"); err != nil {
		return stats, fmt.Errorf("coredb: lookup user_version: %w", err)
	}

	if err := db.sql.QueryRowContext(ctx,
		`SELECT COUNT(*), COALESCE(SUM(length(payload)), 0) FROM core_run_journal`,
	).Scan(&stats.JournalEvents, &stats.JournalBytes); err != nil {
		return stats, fmt.Errorf("coredb: journal usage: %w", err)
	}

	rows, err := db.sql.QueryContext(ctx, `SELECT status, COUNT(*) FROM core_runs GROUP BY status`)
	if err != nil {
		return stats, fmt.Errorf("coredb: run counts: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var status string
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return stats, fmt.Errorf("coredb: run counts scan: %w", err)
		}
		stats.RunsByStatus[status] = n
		stats.Runs += int64(n)
	}
	if err := rows.Err(); err != nil {
		return stats, fmt.Errorf("coredb: run counts rows: %w", err)
	}

	if stats.Runs > 0 {
		oldest, err := querySingleInt(ctx, db.sql, `SELECT MIN(started_at) FROM core_runs`)
		if err != nil {
			return stats, fmt.Errorf("coredb: oldest run: %w", err)
		}
		stats.OldestRun = time.UnixMilli(oldest).UTC()
	}

	stats.OK = stats.BytesUsed < stats.MaxBytes
	stats.NearBudget = stats.JournalBytes*10 >= stats.JournalMaxBytes*9
	return stats, nil
}
