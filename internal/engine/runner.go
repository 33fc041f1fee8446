// SPDX-License-Identifier: AGPL-3.0-or-later
package engine

import (
	"context"
	"errors"
	"path/filepath"

	"github.com/flowd-org/modelport/internal/events"
	"github.com/flowd-org/modelport/internal/executor"
	"github.com/flowd-org/modelport/internal/metrics"
	"github.com/flowd-org/modelport/internal/observability/tracing"
)

// stepRunner attributes every child process to the stage that spawned it:
// output lines become step.log events, and each process gets a span and
// metrics.
type stepRunner struct {
	next    executor.Runner
	sink    events.Sink
	metrics *metrics.Registry
	runID   string
	step    string
	redact  func(string) string
}

func (r *stepRunner) Run(ctx context.Context, c executor.Command) (res executor.Result, err error) {
	program := filepath.Base(c.Name)
	ctx, span := tracing.Start(ctx, "process", tracing.Stage(r.step), tracing.Program(program))
	lines := 0
	defer func() {
		tracing.End(span, &err, tracing.ExitCode(res.ExitCode), tracing.Int("log.lines", lines))
	}()

	stdout := events.NewStageWriter(r.sink, r.runID, r.step, "stdout", c.Stdout, r.redact)
	stderr := events.NewStageWriter(r.sink, r.runID, r.step, "stderr", c.Stderr, r.redact)
	c.Stdout, c.Stderr = stdout, stderr

	res, err = r.next.Run(ctx, c)
	stdout.Flush()
	stderr.Flush()
	lines = stdout.Lines() + stderr.Lines()
	r.metrics.ObserveProcess(program, processOutcome(res, err), res.Duration)
	return res, err
}

func processOutcome(res executor.Result, err error) string {
	switch {
	case errors.Is(err, executor.ErrTimedOut):
		return "timed_out"
	case errors.Is(err, executor.ErrSpawn):
		return "spawn_failed"
	case errors.Is(err, context.Canceled):
		return "canceled"
	case err != nil:
		return "error"
	case res.ExitCode != 0:
		return "exit_nonzero"
	default:
		return "ok"
	}
}

// nopSink drops events when no sink is configured.
type nopSink struct{}

func (nopSink) EmitRunStart(string, string)                {}
func (nopSink) EmitRunFinish(string, string, error)        {}
func (nopSink) EmitStepStart(string, string)               {}
func (nopSink) EmitStepLog(string, string, string, string) {}
func (nopSink) EmitStepFinish(string, string, int, error)  {}
