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

// Record is one event to persist. Stage names the pipeline stage that emitted
// it and Channel the stream a log line came from. Both are empty for
// run-level events.
type Record struct {
	RunID     string
	Stage     string
	Channel   string
	EventType string
	Payload   []byte
	Timestamp time.Time
}

// JournalEntry is a persisted Record with its sequence number.
type JournalEntry struct {
	Seq       int64
	RunID     string
	Stage     string
	Channel   string
	EventType string
	Payload   []byte
	Timestamp time.Time
}

// Filter narrows ForEach. The zero value returns every event of the run.
type Filter struct {
	Stage    string
	AfterSeq int64
}

// StageSummary aggregates the journal rows of one stage.
type StageSummary struct {
	Stage    string    `json:"stage"`
	Events   int       `json:"events"`
	LogLines int       `json:"log_lines"`
	Bytes    int64     `json:"bytes"`
	FirstAt  time.Time `json:"first_at"`
	LastAt   time.Time `json:"last_at"`
}

// Journal is the append-only event log of runs. The summed payload size is
// kept under the configured budget by evicting whole runs, oldest first.
type Journal struct {
	db       *DB
	maxBytes int64
	now      func() time.Time
}

// NewJournal returns a journal using db's JournalMaxBytes budget. A nil db
// yields a nil journal, whose methods are no-ops.
func NewJournal(db *DB) *Journal {
	if db == nil {
		return nil
	}
	return &Journal{
		db:       db,
		maxBytes: db.opts.JournalMaxBytes,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// Append stores rec. When the budget would be exceeded, the oldest other run
// is dropped together with its ledger row; once no other run is left the
// current run loses its oldest events instead.
func (j *Journal) Append(ctx context.Context, rec Record) (entry JournalEntry, err error) {
	if j == nil {
		return entry, nil
	}
	ctx, span := tracing.Start(ctx, "coredb.journal.append",
		tracing.RunID(rec.RunID),
		tracing.Stage(rec.Stage),
		tracing.String("journal.event_type", rec.EventType),
		tracing.Int("payload.bytes", len(rec.Payload)),
	)
	defer tracing.End(span, &err)

	timer := metrics.StartPersistenceTimer(metrics.PersistenceOperationJournalAppend)
	outcome := metrics.PersistenceOutcomeError
	defer func() { timer.Observe(outcome) }()

	switch {
	case rec.RunID == "":
		return entry, errors.New("append journal: run id required")
	case rec.EventType == "":
		return entry, errors.New("append journal: event type required")
	case len(rec.Payload) == 0:
		return entry, errors.New("append journal: payload required")
	}
	size := int64(len(rec.Payload))
	if size > j.maxBytes {
		outcome = metrics.PersistenceOutcomeQuotaExceeded
		return entry, fmt.Errorf("%w: %d byte event, %d byte budget", ErrJournalQuotaExceeded, size, j.maxBytes)
	}
	if rec.Timestamp.IsZero() {
		rec.Timestamp = j.now()
	}

	var evicted evictionStats
	err = j.db.inTx(ctx, func(tx *sql.Tx) error {
		var used int64
		if err := tx.QueryRowContext(ctx, `SELECT COALESCE(SUM(length(payload)), 0) FROM core_run_journal`).Scan(&used); err != nil {
			return fmt.Errorf("journal size lookup: %w", err)
		}
		for used+size > j.maxBytes {
			freed, err := evictOne(ctx, tx, rec.RunID, &evicted)
			if err != nil {
				return err
			}
			if freed == 0 {
				break
			}
			used -= freed
		}

		res, err := tx.ExecContext(ctx, `
INSERT INTO core_run_journal (run_id, stage, channel, event_type, payload, ts)
VALUES (?, ?, ?, ?, ?, ?)
`, rec.RunID, rec.Stage, rec.Channel, rec.EventType, rec.Payload, rec.Timestamp.UnixMilli())
		if err != nil {
			return fmt.Errorf("journal insert: %w", err)
		}
		entry.Seq, err = res.LastInsertId()
		if err != nil {
			return fmt.Errorf("journal last insert id: %w", err)
		}
		return nil
	})
	if err != nil {
		if IsStorageFull(err) {
			outcome = metrics.PersistenceOutcomeQuotaExceeded
		}
		return JournalEntry{}, err
	}

	// Counters move only once the deletes are committed.
	for _, n := range evicted.runBytes {
		metrics.RecordPersistenceEviction(metrics.PersistenceKindRun, n)
	}
	for _, n := range evicted.eventBytes {
		metrics.RecordPersistenceEviction(metrics.PersistenceKindJournal, n)
	}
	if len(evicted.runBytes)+len(evicted.eventBytes) > 0 {
		span.SetAttributes(
			tracing.Int("journal.evicted_runs", len(evicted.runBytes)),
			tracing.Int("journal.evicted_events", len(evicted.eventBytes)),
		)
	}

	entry.RunID = rec.RunID
	entry.Stage = rec.Stage
	entry.Channel = rec.Channel
	entry.EventType = rec.EventType
	entry.Payload = append([]byte(nil), rec.Payload...)
	entry.Timestamp = rec.Timestamp
	outcome = metrics.PersistenceOutcomeOK
	return entry, nil
}

type evictionStats struct {
	runBytes   []int64
	eventBytes []int64
}

// evictOne frees space for current. It returns the payload bytes released,
// zero when the journal holds nothing left to drop.
func evictOne(ctx context.Context, tx *sql.Tx, current string, stats *evictionStats) (int64, error) {
	var victim string
	var bytes int64
	err := tx.QueryRowContext(ctx, `
SELECT run_id, SUM(length(payload))
FROM core_run_journal
WHERE run_id <> ?
GROUP BY run_id
ORDER BY MIN(seq) ASC
LIMIT 1
`, current).Scan(&victim, &bytes)
	switch {
	case err == nil:
		if _, err := tx.ExecContext(ctx, `DELETE FROM core_run_journal WHERE run_id = ?`, victim); err != nil {
			return 0, fmt.Errorf("evict run %s journal: %w", victim, err)
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM core_runs WHERE run_id = ?`, victim); err != nil {
			return 0, fmt.Errorf("evict run %s ledger: %w", victim, err)
		}
		stats.runBytes = append(stats.runBytes, bytes)
		return bytes, nil
	case !errors.Is(err, sql.ErrNoRows):
		return 0, fmt.Errorf("journal eviction lookup: %w", err)
	}

	var seq int64
	err = tx.QueryRowContext(ctx, `
SELECT seq, length(payload) FROM core_run_journal WHERE run_id = ? ORDER BY seq ASC LIMIT 1
`, current).Scan(&seq, &bytes)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("journal eviction lookup: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM core_run_journal WHERE seq = ?`, seq); err != nil {
		return 0, fmt.Errorf("journal eviction delete seq=%d: %w", seq, err)
	}
	stats.eventBytes = append(stats.eventBytes, bytes)
	return bytes, nil
}

// ForEach streams the run's events matching f in sequence order. Iteration
// stops at the first error returned by fn.
func (j *Journal) ForEach(ctx context.Context, runID string, f Filter, fn func(JournalEntry) error) (err error) {
	if j == nil || fn == nil {
		return nil
	}
	ctx, span := tracing.Start(ctx, "coredb.journal.read",
		tracing.RunID(runID),
		tracing.Stage(f.Stage),
		tracing.Int64("journal.after_seq", f.AfterSeq),
	)
	defer tracing.End(span, &err)

	timer := metrics.StartPersistenceTimer(metrics.PersistenceOperationJournalRead)
	outcome := metrics.PersistenceOutcomeError
	defer func() { timer.Observe(outcome) }()

	query := `
SELECT seq, stage, channel, event_type, payload, ts
FROM core_run_journal
WHERE run_id = ? AND seq > ?`
	args := []any{runID, f.AfterSeq}
	if f.Stage != "" {
		query += ` AND stage = ?`
		args = append(args, f.Stage)
	}
	rows, err := j.db.sql.QueryContext(ctx, query+` ORDER BY seq ASC`, args...)
	if err != nil {
		return fmt.Errorf("journal query: %w", err)
	}
	defer rows.Close()

	n := 0
	for rows.Next() {
		entry := JournalEntry{RunID: runID}
		var ts int64
		if err := rows.Scan(&entry.Seq, &entry.Stage, &entry.Channel, &entry.EventType, &entry.Payload, &ts); err != nil {
			return fmt.Errorf("journal scan: %w", err)
		}
		entry.Timestamp = time.UnixMilli(ts).UTC()
		n++
		if err := fn(entry); err != nil {
			return err
		}
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("journal rows: %w", err)
	}
	span.SetAttributes(tracing.Int("journal.entries", n))
	outcome = metrics.PersistenceOutcomeOK
	return nil
}

// Stages summarises the run's journal per stage, in the order the stages
// first appeared. Run-level events are not counted.
func (j *Journal) Stages(ctx context.Context, runID string) (out []StageSummary, err error) {
	if j == nil {
		return nil, nil
	}
	ctx, span := tracing.Start(ctx, "coredb.journal.stages", tracing.RunID(runID))
	defer tracing.End(span, &err)

	timer := metrics.StartPersistenceTimer(metrics.PersistenceOperationStageSummary)
	outcome := metrics.PersistenceOutcomeError
	defer func() { timer.Observe(outcome) }()

	rows, err := j.db.sql.QueryContext(ctx, `
SELECT stage,
       COUNT(*),
       SUM(CASE WHEN channel <> '' THEN 1 ELSE 0 END),
       SUM(length(payload)),
       MIN(ts),
       MAX(ts)
FROM core_run_journal
WHERE run_id = ? AND stage <> ''
GROUP BY stage
ORDER BY MIN(seq) ASC
`, runID)
	if err != nil {
		return nil, fmt.Errorf("stage summary: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var s StageSummary
		var first, last int64
		if err := rows.Scan(&s.Stage, &s.Events, &s.LogLines, &s.Bytes, &first, &last); err != nil {
			return nil, fmt.Errorf("stage summary scan: %w", err)
		}
		s.FirstAt = time.UnixMilli(first).UTC()
		s.LastAt = time.UnixMilli(last).UTC()
		out = append(out, s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("stage summary rows: %w", err)
	}
	outcome = metrics.PersistenceOutcomeOK
	return out, nil
}
