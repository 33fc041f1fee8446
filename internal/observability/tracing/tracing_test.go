// SPDX-License-Identifier: AGPL-3.0-or-later

package tracing

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"strings"
	"testing"

	"github.com/flowd-org/modelport/internal/logging"
)

func captureContext(buf *bytes.Buffer) context.Context {
	logger := logging.New(logging.Options{Level: slog.LevelDebug, Format: logging.FormatJSON, Writer: buf})
	return logging.WithLogger(context.Background(), logger)
}

func TestSpanEndEmitsDurationAndAttributes(t *testing.T) {
	var buf bytes.Buffer
	ctx := captureContext(&buf)

	ctx, parent := Start(ctx, "acquire", Model("v8_n"))
	_, child := Start(ctx, "stage.download", Stage("download"))
	child.End()
	parent.End()

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 2 {
		t.Fatalf("expected 2 span records, got %d: %q", len(lines), buf.String())
	}
	var rec map[string]any
	if err := json.Unmarshal([]byte(lines[0]), &rec); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if rec["span"] != "stage.download" || rec["parent"] != "acquire" || rec["stage"] != "download" {
		t.Fatalf("unexpected child record: %v", rec)
	}
	if _, ok := rec["duration_ms"]; !ok {
		t.Fatalf("duration missing: %v", rec)
	}
}

func TestEndRecordsErrorOnce(t *testing.T) {
	var buf bytes.Buffer
	ctx := captureContext(&buf)

	_, span := Start(ctx, "stage.export")
	err := errors.New("marker missing")
	End(span, &err, ExitCode(1))
	End(span, &err)

	out := buf.String()
	if strings.Count(out, "trace.span_end") != 1 {
		t.Fatalf("span ended twice: %q", out)
	}
	if !strings.Contains(out, `"level":"INFO"`) || !strings.Contains(out, "marker missing") {
		t.Fatalf("expected error record, got %q", out)
	}
}

func TestNilSpanIsSafe(t *testing.T) {
	var span *Span
	span.SetAttributes(String("k", "v"))
	span.RecordError(errors.New("x"))
	span.End()
	End(nil, nil)
	if FromContext(context.Background()) != nil {
		t.Fatalf("expected no span in empty context")
	}
}
