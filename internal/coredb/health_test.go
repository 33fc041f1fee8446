// SPDX-License-Identifier: AGPL-3.0-or-later

package coredb

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestCollectStorageStats(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	dir := t.TempDir()
	db, err := Open(ctx, Options{DataDir: dir, JournalMaxBytes: 100})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })

	runs := NewRunStore(db)
	start := time.Date(2025, time.May, 1, 8, 0, 0, 0, time.UTC)
	for i, id := range []string{"run-a", "run-b", "run-c"} {
		if err := runs.Begin(ctx, RunRecord{RunID: id, ModelID: "v11_s", StartedAt: start.Add(time.Duration(i) * time.Hour)}); err != nil {
			t.Fatalf("begin %s: %v", id, err)
		}
	}
	for _, id := range []string{"run-a", "run-b"} {
		if err := runs.Finish(ctx, RunRecord{RunID: id, Status: RunStatusSucceeded}); err != nil {
			t.Fatalf("finish %s: %v", id, err)
		}
	}
	j := NewJournal(db)
	for i := 0; i < 3; i++ {
		if _, err := j.Append(ctx, Record{RunID: "run-c", Stage: "download", EventType: "step.log", Payload: payload(30)}); err != nil {
			t.Fatalf("append: %v", err)
		}
	}

	stats, err := CollectStorageStats(ctx, db)
	if err != nil {
		t.Fatalf("collect stats: %v", err)
	}
	if stats.Path != filepath.Join(dir, FileName) {
		t.Fatalf("unexpected path %q", stats.Path)
	}
	if stats.Runs != 3 || stats.RunsByStatus[RunStatusSucceeded] != 2 || stats.RunsByStatus[RunStatusRunning] != 1 {
		t.Fatalf("unexpected run counts %d %v", stats.Runs, stats.RunsByStatus)
	}
	if !stats.OldestRun.Equal(start) {
		t.Fatalf("expected oldest run %v, got %v", start, stats.OldestRun)
	}
	if stats.JournalEvents != 3 || stats.JournalBytes != 90 || stats.JournalMaxBytes != 100 {
		t.Fatalf("unexpected journal usage %+v", stats)
	}
	if !stats.NearBudget {
		t.Fatalf("90 of 100 bytes should be near budget")
	}
	if !stats.OK || stats.BytesUsed <= 0 || stats.MaxBytes != defaultMaxBytes {
		t.Fatalf("unexpected file usage %+v", stats)
	}
	if stats.SchemaVersion != schemaVersion {
		t.Fatalf("expected schema version %d, got %d", schemaVersion, stats.SchemaVersion)
	}
}

func TestCollectStorageStatsEmpty(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	dir := t.TempDir()
	// A zero-length file is what a crashed first run leaves behind.
	if err := os.WriteFile(filepath.Join(dir, FileName), nil, 0o600); err != nil {
		t.Fatalf("seed db file: %v", err)
	}
	db, err := Open(ctx, Options{DataDir: dir})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })

	stats, err := CollectStorageStats(ctx, db)
	if err != nil {
		t.Fatalf("collect stats: %v", err)
	}
	if stats.Runs != 0 || !stats.OldestRun.IsZero() || stats.NearBudget || len(stats.RunsByStatus) != 0 {
		t.Fatalf("unexpected stats for empty db %+v", stats)
	}
}

func TestCollectStorageStatsNoDB(t *testing.T) {
	t.Parallel()
	if _, err := CollectStorageStats(context.Background(), nil); err == nil {
		t.Fatalf("expected error when db nil")
	}
}
