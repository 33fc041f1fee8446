package logging

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"strings"
	"testing"
)

func TestFromContextFallsBackToDefault(t *testing.T) {
	if FromContext(context.Background()) != slog.Default() {
		t.Fatalf("expected default logger")
	}
	if FromContext(nil) != slog.Default() {
		t.Fatalf("expected default logger for nil context")
	}
}

func TestWithLoggerRoundTrip(t *testing.T) {
	var buf bytes.Buffer
	logger := New(Options{Level: slog.LevelDebug, Format: FormatJSON, Writer: &buf})
	ctx := WithLogger(context.Background(), logger)
	FromContext(ctx).Debug("probe", "module", "torch")

	var rec map[string]any
	if err := json.Unmarshal(bytes.TrimSpace(buf.Bytes()), &rec); err != nil {
		t.Fatalf("decode log line: %v (%q)", err, buf.String())
	}
	if rec["msg"] != "probe" || rec["module"] != "torch" {
		t.Fatalf("unexpected record: %v", rec)
	}
}

func TestLevelFiltersDebug(t *testing.T) {
	var buf bytes.Buffer
	logger := New(Options{Level: LevelFor(false), Writer: &buf})
	logger.Debug("hidden")
	logger.Warn("shown")
	out := buf.String()
	if strings.Contains(out, "hidden") || !strings.Contains(out, "shown") {
		t.Fatalf("unexpected output: %q", out)
	}
}

func TestParseFormat(t *testing.T) {
	cases := map[string]Format{"": FormatText, "TEXT": FormatText, "json": FormatJSON}
	for in, want := range cases {
		got, err := ParseFormat(in)
		if err != nil || got != want {
			t.Fatalf("ParseFormat(%q) = %q, %v", in, got, err)
		}
	}
	if _, err := ParseFormat("xml"); err == nil {
		t.Fatalf("expected error for xml")
	}
}
