// SPDX-License-Identifier: AGPL-3.0-or-later

package coredb

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/flowd-org/modelport/internal/metrics"
	"github.com/flowd-org/modelport/internal/observability/tracing"
)

// Run statuses stored in the ledger.
const (
	RunStatusRunning   = "running"
	RunStatusSucceeded = "succeeded"
	RunStatusFailed    = "failed"
)

// RunRecord is one acquisition run.
type RunRecord struct {
	RunID          string    `json:"run_id"`
	ModelID        string    `json:"model_id"`
	Status         string    `json:"status"`
	ExitCode       int       `json:"exit_code"`
	InstallOutcome string    `json:"install_outcome,omitempty"`
	ArtifactPath   string    `json:"artifact_path,omitempty"`
	ExportPath     string    `json:"export_path,omitempty"`
	Error          string    `json:"error,omitempty"`
	StartedAt      time.Time `json:"started_at"`
	FinishedAt     time.Time `json:"finished_at,omitempty"`
}

// Duration returns the elapsed run time, zero while running.
func (r RunRecord) Duration() time.Duration {
	if r.FinishedAt.IsZero() {
		return 0
	}
	return r.FinishedAt.Sub(r.StartedAt)
}

// RunStore persists the run ledger.
type RunStore struct {
	db *sql.DB
}

// NewRunStore returns a ledger backed by db. A nil db yields a nil store,
// whose methods are no-ops.
func NewRunStore(db *DB) *RunStore {
	if db == nil {
		return nil
	}
	return &RunStore{db: db.sql}
}

// Begin inserts a running record.
func (s *RunStore) Begin(ctx context.Context, rec RunRecord) (err error) {
	if s == nil {
		return nil
	}
	ctx, span := tracing.Start(ctx, "coredb.runs.begin", tracing.RunID(rec.RunID), tracing.Model(rec.ModelID))
	defer tracing.End(span, &err)
	timer := metrics.StartPersistenceTimer(metrics.PersistenceOperationRunRecord)
	defer func() {
		if err != nil {
			timer.Observe(metrics.PersistenceOutcomeError)
			return
		}
		timer.Observe(metrics.PersistenceOutcomeOK)
	}()

	if rec.RunID == "" {
		return fmt.Errorf("begin run: run id required")
	}
	if rec.StartedAt.IsZero() {
		rec.StartedAt = time.Now().UTC()
	}
	if rec.Status == "" {
		rec.Status = RunStatusRunning
	}
	_, err = s.db.ExecContext(ctx, `
INSERT INTO core_runs (run_id, model_id, status, started_at)
VALUES (?, ?, ?, ?)
`, rec.RunID, rec.ModelID, rec.Status, rec.StartedAt.UnixMilli())
	if err != nil {
		return fmt.Errorf("insert run: %w", err)
	}
	return nil
}

// Finish records the terminal state of a run.
func (s *RunStore) Finish(ctx context.Context, rec RunRecord) (err error) {
	if s == nil {
		return nil
	}
	ctx, span := tracing.Start(ctx, "coredb.runs.finish", tracing.RunID(rec.RunID), tracing.String("run.status", rec.Status))
	defer tracing.End(span, &err)

	if rec.FinishedAt.IsZero() {
		rec.FinishedAt = time.Now().UTC()
	}
	res, err := s.db.ExecContext(ctx, `
UPDATE core_runs
SET status = ?, exit_code = ?, install_outcome = ?, artifact_path = ?, export_path = ?, error = ?, finished_at = ?
WHERE run_id = ?
`, rec.Status, rec.ExitCode, rec.InstallOutcome, rec.ArtifactPath, rec.ExportPath, rec.Error, rec.FinishedAt.UnixMilli(), rec.RunID)
	if err != nil {
		return fmt.Errorf("update run: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update run rows: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("finish run %s: %w", rec.RunID, ErrRunNotFound)
	}
	return nil
}

const runColumns = `run_id, model_id, status, exit_code, install_outcome, artifact_path, export_path, error, started_at, finished_at`

// Get loads one run.
func (s *RunStore) Get(ctx context.Context, runID string) (RunRecord, error) {
	if s == nil {
		return RunRecord{}, ErrRunNotFound
	}
	row := s.db.QueryRowContext(ctx, `SELECT `+runColumns+` FROM core_runs WHERE run_id = ?`, runID)
	rec, err := scanRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return RunRecord{}, fmt.Errorf("%s: %w", runID, ErrRunNotFound)
	}
	return rec, err
}

// List returns the most recent runs, newest first.
func (s *RunStore) List(ctx context.Context, limit int) ([]RunRecord, error) {
	if s == nil {
		return nil, nil
	}
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.QueryContext(ctx, `SELECT `+runColumns+` FROM core_runs ORDER BY started_at DESC, rowid DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	defer rows.Close()
	var out []RunRecord
	for rows.Next() {
		rec, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list runs rows: %w", err)
	}
	return out, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRun(row rowScanner) (RunRecord, error) {
	var rec RunRecord
	var started, finished int64
	if err := row.Scan(&rec.RunID, &rec.ModelID, &rec.Status, &rec.ExitCode, &rec.InstallOutcome,
		&rec.ArtifactPath, &rec.ExportPath, &rec.Error, &started, &finished); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return rec, err
		}
		return rec, fmt.Errorf("scan run: %w", err)
	}
	rec.StartedAt = time.UnixMilli(started).UTC()
	if finished > 0 {
		rec.FinishedAt = time.UnixMilli(finished).UTC()
	}
	return rec, nil
}
