// SPDX-License-Identifier: AGPL-3.0-or-later

package tracing

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/flowd-org/modelport/internal/logging"
)

// Attribute represents a key/value pair attached to a span.
type Attribute struct {
	Key   string
	Value any
}

// Well-known attribute keys used across acquisition tracing.
const (
	AttrStage    = "stage"
	AttrModel    = "model"
	AttrProgram  = "process.program"
	AttrExitCode = "process.exit_code"
	AttrRunID    = "run_id"
)

// String returns a string attribute.
func String(key, value string) Attribute {
	return Attribute{Key: key, Value: value}
}

// Int returns an integer attribute.
func Int(key string, value int) Attribute {
	return Attribute{Key: key, Value: value}
}

// Int64 returns an int64 attribute.
func Int64(key string, value int64) Attribute {
	return Attribute{Key: key, Value: value}
}

// Stage names the orchestration stage a span covers.
func Stage(value string) Attribute {
	return String(AttrStage, value)
}

// Model returns an attribute describing the catalog identifier.
func Model(value string) Attribute {
	return String(AttrModel, value)
}

// Program names the spawned executable.
func Program(value string) Attribute {
	return String(AttrProgram, value)
}

// ExitCode records a child process exit status.
func ExitCode(value int) Attribute {
	return Int(AttrExitCode, value)
}

// RunID returns an attribute describing the run identifier.
func RunID(value string) Attribute {
	if value == "" {
		return Attribute{}
	}
	return String(AttrRunID, value)
}

type spanKey struct{}

// Span represents a lightweight tracing span backed by structured logging.
type Span struct {
	name   string
	parent string
	start  time.Time
	logger *slog.Logger

	mu    sync.Mutex
	attrs map[string]any
	err   error
	ended bool
}

// Start begins a new span anchored to the supplied context.
// The returned context stores the span; nested spans record their parent name.
func Start(ctx context.Context, name string, attrs ...Attribute) (context.Context, *Span) {
	if ctx == nil {
		ctx = context.Background()
	}
	logger := logging.FromContext(ctx)

	span := &Span{
		name:   name,
		parent: parentName(ctx),
		start:  time.Now(),
		logger: logger,
		attrs:  make(map[string]any),
	}
	span.SetAttributes(attrs...)

	ctx = context.WithValue(ctx, spanKey{}, span)
	return ctx, span
}

// FromContext extracts a span from the supplied context, if present.
func FromContext(ctx context.Context) *Span {
	if ctx == nil {
		return nil
	}
	span, _ := ctx.Value(spanKey{}).(*Span)
	return span
}

func parentName(ctx context.Context) string {
	if parent := FromContext(ctx); parent != nil {
		return parent.name
	}
	return ""
}

// Name returns the span name.
func (s *Span) Name() string {
	if s == nil {
		return ""
	}
	return s.name
}

// SetAttributes appends new attributes to the span.
func (s *Span) SetAttributes(attrs ...Attribute) {
	if s == nil {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, attr := range attrs {
		if attr.Key == "" {
			continue
		}
		s.attrs[attr.Key] = attr.Value
	}
}

// RecordError records the supplied error against the span.
func (s *Span) RecordError(err error) {
	if s == nil || err == nil {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.err = err
}

// End completes the span and emits a structured log line with duration and attributes.
func (s *Span) End() {
	if s == nil {
		return
	}
	s.mu.Lock()
	if s.ended {
		s.mu.Unlock()
		return
	}
	duration := time.Since(s.start)
	err := s.err
	attrs := make(map[string]any, len(s.attrs)+2)
	for k, v := range s.attrs {
		attrs[k] = v
	}
	s.ended = true
	s.mu.Unlock()

	attrs["span"] = s.name
	if s.parent != "" {
		attrs["parent"] = s.parent
	}
	attrs["duration_ms"] = float64(duration.Microseconds()) / 1000.0

	var logAttrs []any
	for k, v := range attrs {
		logAttrs = append(logAttrs, slog.Any(k, v))
	}
	if err != nil {
		logAttrs = append(logAttrs, slog.String("error", err.Error()))
		s.logger.Info("trace.span_end", logAttrs...)
		return
	}
	s.logger.Debug("trace.span_end", logAttrs...)
}

// End observes the error pointer (if non-nil) and finalises the span.
func End(span *Span, errPtr *error, attrs ...Attribute) {
	if span == nil {
		return
	}
	if len(attrs) > 0 {
		span.SetAttributes(attrs...)
	}
	if errPtr != nil && *errPtr != nil {
		span.RecordError(*errPtr)
	}
	span.End()
}
