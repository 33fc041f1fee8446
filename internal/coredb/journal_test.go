// SPDX-License-Identifier: AGPL-3.0-or-later

package coredb

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"
)

func openJournal(t *testing.T, budget int64) (*DB, *Journal) {
	t.Helper()
	db, err := Open(context.Background(), Options{DataDir: t.TempDir(), JournalMaxBytes: budget})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	return db, NewJournal(db)
}

// payload returns n bytes of JSON-ish text.
func payload(n int) []byte {
	return []byte(`"` + strings.Repeat("x", n-2) + `"`)
}

func collect(t *testing.T, j *Journal, runID string, f Filter) []JournalEntry {
	t.Helper()
	var out []JournalEntry
	if err := j.ForEach(context.Background(), runID, f, func(e JournalEntry) error {
		out = append(out, e)
		return nil
	}); err != nil {
		t.Fatalf("for each: %v", err)
	}
	return out
}

func TestJournalRecordsStageAndChannel(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	_, j := openJournal(t, 0)

	ts := time.Date(2025, time.April, 2, 9, 0, 0, 0, time.UTC)
	records := []Record{
		{RunID: "run-1", EventType: "run.start", Payload: []byte(`{"model_id":"v8_n"}`), Timestamp: ts},
		{RunID: "run-1", Stage: "download", EventType: "step.start", Payload: []byte(`{}`), Timestamp: ts.Add(time.Second)},
		{RunID: "run-1", Stage: "download", Channel: "stderr", EventType: "step.log", Payload: []byte(`{"message":"100%"}`), Timestamp: ts.Add(2 * time.Second)},
		{RunID: "run-1", Stage: "install", Channel: "stdout", EventType: "step.log", Payload: []byte(`{"message":"Collecting ultralytics"}`), Timestamp: ts.Add(3 * time.Second)},
	}
	var last int64
	for _, rec := range records {
		entry, err := j.Append(ctx, rec)
		if err != nil {
			t.Fatalf("append %s/%s: %v", rec.Stage, rec.EventType, err)
		}
		if entry.Seq <= last {
			t.Fatalf("sequence did not grow: %d after %d", entry.Seq, last)
		}
		last = entry.Seq
	}

	all := collect(t, j, "run-1", Filter{})
	if len(all) != len(records) {
		t.Fatalf("expected %d entries, got %d", len(records), len(all))
	}
	if all[2].Stage != "download" || all[2].Channel != "stderr" || !all[2].Timestamp.Equal(ts.Add(2*time.Second)) {
		t.Fatalf("unexpected download log entry %+v", all[2])
	}
	if all[0].Stage != "" || all[0].Channel != "" {
		t.Fatalf("run-level event should carry no stage: %+v", all[0])
	}

	install := collect(t, j, "run-1", Filter{Stage: "install"})
	if len(install) != 1 || string(install[0].Payload) != `{"message":"Collecting ultralytics"}` {
		t.Fatalf("stage filter returned %+v", install)
	}

	tail := collect(t, j, "run-1", Filter{AfterSeq: all[1].Seq})
	if len(tail) != 2 || tail[0].Seq != all[2].Seq {
		t.Fatalf("after-seq filter returned %+v", tail)
	}

	if other := collect(t, j, "run-2", Filter{}); len(other) != 0 {
		t.Fatalf("expected no entries for another run, got %d", len(other))
	}
}

func TestJournalStagesSummary(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	_, j := openJournal(t, 0)

	ts := time.Date(2025, time.April, 2, 9, 0, 0, 0, time.UTC)
	add := func(stage, channel string, at time.Duration) {
		t.Helper()
		eventType := "step.start"
		if channel != "" {
			eventType = "step.log"
		}
		if _, err := j.Append(ctx, Record{RunID: "run-s", Stage: stage, Channel: channel, EventType: eventType, Payload: payload(10), Timestamp: ts.Add(at)}); err != nil {
			t.Fatalf("append: %v", err)
		}
	}
	if _, err := j.Append(ctx, Record{RunID: "run-s", EventType: "run.start", Payload: payload(10)}); err != nil {
		t.Fatalf("append run start: %v", err)
	}
	add("download", "", 0)
	add("download", "stderr", time.Second)
	add("download", "stderr", 2*time.Second)
	add("detect", "", 3*time.Second)
	add("export", "", 4*time.Second)
	add("export", "stdout", 9*time.Second)

	stages, err := j.Stages(ctx, "run-s")
	if err != nil {
		t.Fatalf("stages: %v", err)
	}
	var names []string
	for _, s := range stages {
		names = append(names, s.Stage)
	}
	if strings.Join(names, ",") != "download,detect,export" {
		t.Fatalf("unexpected stage order %v", names)
	}
	dl := stages[0]
	if dl.Events != 3 || dl.LogLines != 2 || dl.Bytes != 30 {
		t.Fatalf("unexpected download summary %+v", dl)
	}
	if !dl.FirstAt.Equal(ts) || !dl.LastAt.Equal(ts.Add(2*time.Second)) {
		t.Fatalf("unexpected download window %v..%v", dl.FirstAt, dl.LastAt)
	}
	if stages[1].LogLines != 0 || stages[2].LastAt.Sub(stages[2].FirstAt) != 5*time.Second {
		t.Fatalf("unexpected summaries %+v", stages[1:])
	}

	empty, err := j.Stages(ctx, "run-unknown")
	if err != nil || len(empty) != 0 {
		t.Fatalf("expected no stages, got %v %v", empty, err)
	}
}

func TestJournalEvictsOldestRunWithLedgerRow(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	db, j := openJournal(t, 60)
	runs := NewRunStore(db)

	for _, id := range []string{"run-old", "run-new"} {
		if err := runs.Begin(ctx, RunRecord{RunID: id, ModelID: "v8_n"}); err != nil {
			t.Fatalf("begin %s: %v", id, err)
		}
	}
	for i := 0; i < 2; i++ {
		if _, err := j.Append(ctx, Record{RunID: "run-old", Stage: "download", EventType: "step.log", Payload: payload(20)}); err != nil {
			t.Fatalf("append old: %v", err)
		}
	}
	if _, err := j.Append(ctx, Record{RunID: "run-new", Stage: "download", EventType: "step.log", Payload: payload(20)}); err != nil {
		t.Fatalf("append new: %v", err)
	}
	if got := len(collect(t, j, "run-old", Filter{})); got != 2 {
		t.Fatalf("budget not reached yet, expected 2 old entries, got %d", got)
	}

	if _, err := j.Append(ctx, Record{RunID: "run-new", Stage: "export", EventType: "step.log", Payload: payload(20)}); err != nil {
		t.Fatalf("append over budget: %v", err)
	}
	if got := len(collect(t, j, "run-old", Filter{})); got != 0 {
		t.Fatalf("expected old run journal evicted, %d entries left", got)
	}
	if _, err := runs.Get(ctx, "run-old"); !errors.Is(err, ErrRunNotFound) {
		t.Fatalf("expected old ledger row evicted, got %v", err)
	}
	if _, err := runs.Get(ctx, "run-new"); err != nil {
		t.Fatalf("current run ledger row lost: %v", err)
	}
	if got := len(collect(t, j, "run-new", Filter{})); got != 2 {
		t.Fatalf("expected 2 entries for current run, got %d", got)
	}
}

func TestJournalTrimsCurrentRunWhenAlone(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	_, j := openJournal(t, 40)

	var seqs []int64
	for i := 0; i < 3; i++ {
		entry, err := j.Append(ctx, Record{RunID: "run-1", Stage: "install", Channel: "stdout", EventType: "step.log", Payload: payload(20)})
		if err != nil {
			t.Fatalf("append %d: %v", i, err)
		}
		seqs = append(seqs, entry.Seq)
	}
	got := collect(t, j, "run-1", Filter{})
	if len(got) != 2 || got[0].Seq != seqs[1] || got[1].Seq != seqs[2] {
		t.Fatalf("expected the two newest entries to remain, got %+v", got)
	}
}

func TestJournalRejectsEventLargerThanBudget(t *testing.T) {
	t.Parallel()
	_, j := openJournal(t, 8)
	_, err := j.Append(context.Background(), Record{RunID: "run-1", Stage: "export", EventType: "step.log", Payload: payload(32)})
	if !errors.Is(err, ErrJournalQuotaExceeded) {
		t.Fatalf("expected quota error, got %v", err)
	}
	if !IsStorageFull(err) {
		t.Fatalf("quota error should count as storage full")
	}
}

func TestJournalAppendValidation(t *testing.T) {
	t.Parallel()
	_, j := openJournal(t, 0)
	cases := map[string]Record{
		"run id":     {EventType: "run.start", Payload: payload(4)},
		"event type": {RunID: "run-1", Payload: payload(4)},
		"payload":    {RunID: "run-1", EventType: "run.start"},
	}
	for want, rec := range cases {
		if _, err := j.Append(context.Background(), rec); err == nil || !strings.Contains(err.Error(), want) {
			t.Fatalf("expected %q error, got %v", want, err)
		}
	}

	var nilJournal *Journal
	if _, err := nilJournal.Append(context.Background(), Record{}); err != nil {
		t.Fatalf("nil journal append: %v", err)
	}
}

type codedError int

func (c codedError) Error() string { return fmt.Sprintf("sqlite code %d", int(c)) }
func (c codedError) Code() int     { return int(c) }

func TestIsStorageFull(t *testing.T) {
	t.Parallel()
	cases := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"quota", fmt.Errorf("persist: %w", ErrJournalQuotaExceeded), true},
		{"sqlite full", fmt.Errorf("journal insert: %w", codedError(13)), true},
		{"sqlite full extended", codedError(13 | 1<<8), true},
		{"sqlite busy", codedError(5), false},
		{"message only", errors.New("database or disk is full"), false},
	}
	for _, tc := range cases {
		if got := IsStorageFull(tc.err); got != tc.want {
			t.Fatalf("%s: IsStorageFull = %v, want %v", tc.name, got, tc.want)
		}
	}
}

func TestJournalFullDatabaseIsStorageFull(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	db, err := Open(ctx, Options{DataDir: t.TempDir(), MaxBytes: 64 << 10})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	j := NewJournal(db)

	var appendErr error
	for i := 0; i < 32 && appendErr == nil; i++ {
		_, appendErr = j.Append(ctx, Record{RunID: "run-1", Stage: "install", Channel: "stdout", EventType: "step.log", Payload: payload(8 << 10)})
	}
	if appendErr == nil {
		t.Fatalf("expected the page limit to stop appends")
	}
	if !IsStorageFull(appendErr) {
		t.Fatalf("expected storage full, got %v", appendErr)
	}
}
