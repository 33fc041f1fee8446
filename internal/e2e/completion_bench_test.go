//go:build !windows

// SPDX-License-Identifier: AGPL-3.0-or-later
package e2e

import (
	"bytes"
	"math"
	"sort"
	"strings"
	"testing"
	"time"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/require"

	"github.com/flowd-org/modelport/cmd"
)

func TestCompletionLatencyThresholds(t *testing.T) {
	const (
		warmup = 20
		calls  = 300
	)
	t.Chdir(t.TempDir())

	for i := 0; i < warmup; i++ {
		runCompletionCall(t, "v8")
	}
	durations := make([]time.Duration, 0, calls)
	for i := 0; i < calls; i++ {
		durations = append(durations, runCompletionCall(t, "v8"))
	}

	sort.Slice(durations, func(i, j int) bool { return durations[i] < durations[j] })
	if p50 := percentileDuration(durations, 0.50); p50 > 25*time.Millisecond {
		t.Fatalf("p50 latency %s exceeds 25ms threshold", p50)
	}
	if p95 := percentileDuration(durations, 0.95); p95 > 60*time.Millisecond {
		t.Fatalf("p95 latency %s exceeds 60ms threshold", p95)
	}
}

func TestCompletionListsMatchingModels(t *testing.T) {
	t.Chdir(t.TempDir())
	out := completionOutput(t, "v11_")
	for _, id := range []string{"v11_n", "v11_s", "v11_m", "v11_l", "v11_x"} {
		require.Contains(t, out, id)
	}
	require.NotContains(t, out, "v8_n")
}

func BenchmarkCompletionLatency(b *testing.B) {
	b.Chdir(b.TempDir())
	for i := 0; i < b.N; i++ {
		runCompletionCall(b, "v")
	}
}

func completionOutput(tb testing.TB, prefix string) string {
	tb.Helper()
	root := cmd.NewRootCmd()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs([]string{cobra.ShellCompRequestCmd, prefix})
	require.NoError(tb, root.Execute())
	return out.String()
}

func runCompletionCall(tb testing.TB, prefix string) time.Duration {
	tb.Helper()
	start := time.Now()
	out := completionOutput(tb, prefix)
	elapsed := time.Since(start)
	if !strings.Contains(out, prefix) {
		tb.Fatalf("completion for %q returned nothing:\n%s", prefix, out)
	}
	return elapsed
}

func percentileDuration(values []time.Duration, quantile float64) time.Duration {
	if len(values) == 0 {
		return 0
	}
	index := int(math.Ceil(quantile*float64(len(values)))) - 1
	if index < 0 {
		index = 0
	}
	if index >= len(values) {
		index = len(values) - 1
	}
	return values[index]
}
