// SPDX-License-Identifier: AGPL-3.0-or-later

package metrics

import (
	"strings"
	"time"
)

const (
	// Persistence operations recorded in metrics.
	PersistenceOperationJournalAppend = "journal_append"
	PersistenceOperationJournalRead   = "journal_read"
	PersistenceOperationRunRecord     = "run_record"
	PersistenceOperationStageSummary  = "stage_summary"

	// Persistence kinds for eviction counters.
	PersistenceKindJournal = "journal"
	PersistenceKindRun     = "run"
	persistenceKindUnknown = "unknown"

	// Persistence outcomes used to categorize latency observations.
	PersistenceOutcomeOK            = "ok"
	PersistenceOutcomeError         = "error"
	PersistenceOutcomeQuotaExceeded = "quota_exceeded"
)

// PersistenceTimer records elapsed time for a persistence operation and
// writes the result when Observe is invoked.
type PersistenceTimer struct {
	operation string
	start     time.Time
	recorded  bool
}

// StartPersistenceTimer returns a timer for the supplied operation.
func StartPersistenceTimer(operation string) *PersistenceTimer {
	op := sanitize(operation)
	if op == "" {
		return nil
	}
	return &PersistenceTimer{
		operation: op,
		start:     time.Now(),
	}
}

// Observe records the elapsed duration once.
func (t *PersistenceTimer) Observe(outcome string) {
	if t == nil || t.recorded {
		return
	}
	t.recorded = true
	Default.RecordPersistenceLatency(t.operation, sanitize(outcome), time.Since(t.start))
}

// RecordPersistenceEviction increments eviction counters for kind.
func RecordPersistenceEviction(kind string, bytes int64) {
	k := sanitize(kind)
	if k == "" {
		k = persistenceKindUnknown
	}
	Default.RecordPersistenceEviction(k, bytes)
}

func sanitize(v string) string {
	return strings.ToLower(strings.TrimSpace(v))
}
