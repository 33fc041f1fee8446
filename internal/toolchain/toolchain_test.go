package toolchain

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/flowd-org/modelport/internal/executor"
	"github.com/flowd-org/modelport/internal/executor/executortest"
)

func TestResolveUsesReportedExecutable(t *testing.T) {
	runner := executortest.New().On(executortest.Contains("python3 -c import sys"), executortest.OK("/usr/bin/python3.12\n"), nil)
	r := &Resolver{Runner: runner}
	env, err := r.Resolve(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "/usr/bin/python3.12", env.Executable)
	assert.Len(t, runner.Calls(), 1)
}

func TestResolveSplitsInterpreterCommand(t *testing.T) {
	runner := executortest.New().On(executortest.Program("py"), executortest.OK(`C:\Python312\python.exe`), nil)
	r := &Resolver{Runner: runner, Interpreter: "py -3"}
	env, err := r.Resolve(context.Background())
	require.NoError(t, err)
	assert.Equal(t, `C:\Python312\python.exe`, env.Executable)
	calls := runner.Calls()
	require.Len(t, calls, 1)
	assert.Equal(t, []string{"-3", "-c", ResolveSnippet}, calls[0].Args)
}

func TestResolveFailures(t *testing.T) {
	cases := map[string]*executortest.Runner{
		"non-zero exit": executortest.New().On(executortest.Program("python3"), executortest.Fail(1, "boom"), nil),
		"empty output":  executortest.New().On(executortest.Program("python3"), executortest.OK("  \n"), nil),
		"spawn failure": executortest.New(),
	}
	for name, runner := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := (&Resolver{Runner: runner}).Resolve(context.Background())
			require.Error(t, err)
			assert.True(t, errors.Is(err, ErrInterpreterResolutionFailed), "got %v", err)
		})
	}
}

func TestModuleCheckClassifiesEachModule(t *testing.T) {
	env := &Environment{Executable: "/venv/bin/python"}
	runner := executortest.New().
		On(executortest.Contains("find_spec('ultralytics')"), executortest.OK("INSTALLED\n"), nil).
		On(executortest.Contains("find_spec('torch')"), executortest.OK("MISSING\n"), nil).
		On(executortest.Contains("find_spec('onnx')"), executortest.Fail(1, "Traceback"), nil).
		On(executortest.Contains("find_spec('cv2')"), executortest.OK("garbage"), nil)

	p := &Prober{Runner: runner}
	reqs := append(DefaultRequirements(), Requirement{Module: "cv2", Package: "opencv-python"}, Requirement{Module: "bad'); import os; ('"})
	report := p.Probe(context.Background(), env, reqs)

	require.Len(t, report.Modules, 5)
	want := []ModuleState{StatePresent, StateAbsent, StateProbeFailed, StateProbeFailed, StateProbeFailed}
	for i, st := range want {
		assert.Equal(t, st, report.Modules[i].State, report.Modules[i].Requirement.Module)
	}
	for _, m := range report.Modules[2:] {
		assert.ErrorIs(t, m.Err, ErrDependencyProbeFailed)
	}

	missing := report.Missing()
	require.Len(t, missing, 4)
	assert.Equal(t, "torch", missing[0].Module)
	assert.Equal(t, "opencv-python", missing[2].PackageName())
	assert.False(t, report.Complete())

	for _, c := range runner.Calls() {
		assert.Equal(t, "/venv/bin/python", c.Name)
		assert.NotContains(t, strings.Join(c.Args, " "), "import os")
	}
	assert.Len(t, runner.Calls(), 4, "invalid module names must not be spawned")
}

func TestModuleCheckSpawnFailureCountsAsAbsent(t *testing.T) {
	runner := executortest.New().On(executortest.Contains("find_spec"), executor.Result{ExitCode: -1}, executor.ErrSpawn)
	report := (&Prober{Runner: runner}).Probe(context.Background(), &Environment{Executable: "python3"}, []Requirement{{Module: "onnx"}})
	st, ok := report.State("onnx")
	require.True(t, ok)
	assert.Equal(t, StateProbeFailed, st)
	assert.Len(t, report.Missing(), 1)
}

func TestModuleCheckSnippetLocatesWithoutImporting(t *testing.T) {
	s := ProbeSnippet("torch", DefaultMarkers())
	assert.Equal(t, "import importlib.util; print('INSTALLED' if importlib.util.find_spec('torch') else 'MISSING')", s)
}

func TestModuleCheckSnippetQuotesConfiguredMarkers(t *testing.T) {
	m := Markers{Installed: "it's here", Missing: `gone\`}
	s := ProbeSnippet("onnx", m)
	assert.Equal(t, `import importlib.util; print('it\'s here' if importlib.util.find_spec('onnx') else 'gone\\')`, s)
}

func TestPyQuote(t *testing.T) {
	assert.Equal(t, `'plain'`, PyQuote("plain"))
	assert.Equal(t, `'a\'b'`, PyQuote("a'b"))
	assert.Equal(t, `'C:\\models\\x.pt'`, PyQuote(`C:\models\x.pt`))
	assert.Equal(t, `'line\nbreak'`, PyQuote("line\nbreak"))
}

func TestValidModuleName(t *testing.T) {
	for _, ok := range []string{"torch", "onnx", "cv2", "google.protobuf", "_private"} {
		assert.True(t, ValidModuleName(ok), ok)
	}
	for _, bad := range []string{"", "1abc", "a-b", "a b", "x')", "a..b"} {
		assert.False(t, ValidModuleName(bad), bad)
	}
}
