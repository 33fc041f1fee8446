// SPDX-License-Identifier: AGPL-3.0-or-later
package events

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/flowd-org/modelport/internal/coredb"
)

type journalSink struct {
	journal *coredb.Journal
	logger  *slog.Logger
	now     func() time.Time
	// fullLogged keeps a full journal to one warning per run.
	fullLogged bool
}

// NewJournalSink returns a Sink that persists every event in the run journal.
// Persistence failures are logged and never interrupt the run. A nil journal
// yields a nil sink.
func NewJournalSink(journal *coredb.Journal, logger *slog.Logger) Sink {
	if journal == nil {
		return nil
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &journalSink{
		journal: journal,
		logger:  logger,
		now:     func() time.Time { return time.Now().UTC() },
	}
}

func (s *journalSink) persist(ev RunEvent) {
	ev.Timestamp = s.now()
	payload, err := json.Marshal(ev)
	if err != nil {
		s.logger.Error("encode run event", slog.String("run_id", ev.RunID), slog.String("event", ev.Type), slog.String("error", err.Error()))
		return
	}
	rec := coredb.Record{
		RunID:     ev.RunID,
		Stage:     ev.Step,
		Channel:   ev.Channel,
		EventType: ev.Type,
		Payload:   payload,
		Timestamp: ev.Timestamp,
	}
	if _, err := s.journal.Append(context.Background(), rec); err != nil {
		if coredb.IsStorageFull(err) {
			if !s.fullLogged {
				s.fullLogged = true
				s.logger.Warn("run journal full, events dropped", slog.String("run_id", ev.RunID), slog.String("error", err.Error()))
			}
			return
		}
		s.logger.Error("persist run event", slog.String("run_id", ev.RunID), slog.String("event", ev.Type), slog.String("error", err.Error()))
	}
}

func (s *journalSink) EmitRunStart(runID, modelID string) {
	s.persist(newRunStart(runID, modelID))
}

func (s *journalSink) EmitRunFinish(runID, status string, err error) {
	s.persist(newRunFinish(runID, status, err))
}

func (s *journalSink) EmitStepStart(runID, step string) {
	s.persist(RunEvent{Type: TypeStepStart, RunID: runID, Step: step})
}

func (s *journalSink) EmitStepLog(runID, step, channel, message string) {
	if message == "" {
		return
	}
	s.persist(RunEvent{Type: TypeStepLog, RunID: runID, Step: step, Channel: channel, Message: message})
}

func (s *journalSink) EmitStepFinish(runID, step string, exitCode int, err error) {
	s.persist(newStepFinish(runID, step, exitCode, err))
}

// DecodeJournalEntry restores a persisted event, filling the sequence from the journal.
func DecodeJournalEntry(entry coredb.JournalEntry) (RunEvent, error) {
	var ev RunEvent
	if err := json.Unmarshal(entry.Payload, &ev); err != nil {
		return RunEvent{}, err
	}
	ev.Sequence = entry.Seq
	if ev.Timestamp.IsZero() {
		ev.Timestamp = entry.Timestamp
	}
	return ev, nil
}
