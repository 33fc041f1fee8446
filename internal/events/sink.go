// SPDX-License-Identifier: AGPL-3.0-or-later
package events

import (
	"sync"
	"time"
)

// Sink represents something that can consume run events.
type Sink interface {
	EmitRunStart(runID, modelID string)
	EmitRunFinish(runID, status string, err error)
	EmitStepStart(runID, step string)
	EmitStepLog(runID, step, channel, message string)
	EmitStepFinish(runID, step string, exitCode int, err error)
}

// StageOutcome is what one stage of a run did, as seen through its events.
type StageOutcome struct {
	Stage    string        `json:"stage" yaml:"stage"`
	Status   string        `json:"status" yaml:"status"`
	ExitCode int           `json:"exit_code" yaml:"exit_code"`
	Error    string        `json:"error,omitempty" yaml:"error,omitempty"`
	LogLines int           `json:"log_lines" yaml:"log_lines"`
	Duration time.Duration `json:"duration_ns" yaml:"duration"`

	started time.Time
}

// Fanout forwards every event to its sinks and keeps a per-stage record of
// the run for the end-of-run report. The zero value is not usable; build it
// with NewFanout.
type Fanout struct {
	sinks []Sink
	now   func() time.Time

	mu     sync.Mutex
	stages []*StageOutcome
}

// NewFanout drops nil sinks. The result is never nil.
func NewFanout(sinks ...Sink) *Fanout {
	f := &Fanout{now: time.Now}
	for _, s := range sinks {
		if s != nil {
			f.sinks = append(f.sinks, s)
		}
	}
	return f
}

// Stages returns the recorded stages in the order they started.
func (f *Fanout) Stages() []StageOutcome {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]StageOutcome, 0, len(f.stages))
	for _, s := range f.stages {
		out = append(out, *s)
	}
	return out
}

// stage returns the latest record for name. Callers hold f.mu.
func (f *Fanout) stage(name string) *StageOutcome {
	for i := len(f.stages) - 1; i >= 0; i-- {
		if f.stages[i].Stage == name {
			return f.stages[i]
		}
	}
	return nil
}

func (f *Fanout) EmitRunStart(runID, modelID string) {
	f.mu.Lock()
	f.stages = nil
	f.mu.Unlock()
	for _, s := range f.sinks {
		s.EmitRunStart(runID, modelID)
	}
}

func (f *Fanout) EmitRunFinish(runID, status string, err error) {
	for _, s := range f.sinks {
		s.EmitRunFinish(runID, status, err)
	}
}

func (f *Fanout) EmitStepStart(runID, step string) {
	f.mu.Lock()
	f.stages = append(f.stages, &StageOutcome{Stage: step, Status: "running", started: f.now()})
	f.mu.Unlock()
	for _, s := range f.sinks {
		s.EmitStepStart(runID, step)
	}
}

func (f *Fanout) EmitStepLog(runID, step, channel, message string) {
	f.mu.Lock()
	if st := f.stage(step); st != nil {
		st.LogLines++
	}
	f.mu.Unlock()
	for _, s := range f.sinks {
		s.EmitStepLog(runID, step, channel, message)
	}
}

func (f *Fanout) EmitStepFinish(runID, step string, exitCode int, err error) {
	f.mu.Lock()
	if st := f.stage(step); st != nil {
		st.ExitCode = exitCode
		st.Status = stepStatus(exitCode, err)
		if err != nil {
			st.Error = err.Error()
		}
		st.Duration = f.now().Sub(st.started)
	}
	f.mu.Unlock()
	for _, s := range f.sinks {
		s.EmitStepFinish(runID, step, exitCode, err)
	}
}
