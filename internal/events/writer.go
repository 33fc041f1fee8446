// SPDX-License-Identifier: AGPL-3.0-or-later
package events

import (
	"io"
)

// MaxLogLine caps a recorded line. The pass-through copy is never cut.
const MaxLogLine = 4 << 10

const truncatedMark = " [truncated]"

// StageWriter tees a child process stream to out and records each line as a
// step.log event of its stage. A carriage return rewinds the line, so a
// progress bar redrawn in place is recorded once, in its final state.
type StageWriter struct {
	sink    Sink
	runID   string
	stage   string
	channel string
	out     io.Writer
	redact  func(string) string

	line      []byte
	truncated bool
	pendingCR bool
	lines     int
}

// NewStageWriter returns a writer for one stream of a stage. sink, out and
// redact may each be nil.
func NewStageWriter(sink Sink, runID, stage, channel string, out io.Writer, redact func(string) string) *StageWriter {
	return &StageWriter{sink: sink, runID: runID, stage: stage, channel: channel, out: out, redact: redact}
}

func (w *StageWriter) Write(p []byte) (int, error) {
	if len(p) == 0 {
		return 0, nil
	}
	if w.out != nil {
		if _, err := w.out.Write(p); err != nil {
			return 0, err
		}
	}
	for _, b := range p {
		switch {
		case b == '\n':
			w.pendingCR = false
			w.emit()
		case b == '\r':
			w.pendingCR = true
		default:
			if w.pendingCR {
				w.pendingCR = false
				w.line = w.line[:0]
				w.truncated = false
			}
			if len(w.line) < MaxLogLine {
				w.line = append(w.line, b)
			} else {
				w.truncated = true
			}
		}
	}
	return len(p), nil
}

// Flush records a trailing partial line.
func (w *StageWriter) Flush() {
	w.pendingCR = false
	if len(w.line) > 0 {
		w.emit()
	}
}

// Lines reports how many lines were recorded.
func (w *StageWriter) Lines() int {
	return w.lines
}

func (w *StageWriter) emit() {
	line := string(w.line)
	if w.truncated {
		line += truncatedMark
	}
	w.line = w.line[:0]
	w.truncated = false
	if line == "" {
		return
	}
	w.lines++
	if w.sink == nil {
		return
	}
	if w.redact != nil {
		line = w.redact(line)
	}
	w.sink.EmitStepLog(w.runID, w.stage, w.channel, line)
}
