//go:build !windows

// SPDX-License-Identifier: AGPL-3.0-or-later
package e2e

import (
	"encoding/json"
	"errors"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var modelportBinary string

func TestMain(m *testing.M) {
	bin, err := buildModelportBinary()
	if err != nil {
		panic(err)
	}
	modelportBinary = bin
	code := m.Run()
	_ = os.RemoveAll(filepath.Dir(modelportBinary))
	os.Exit(code)
}

// fakePython answers the resolve, probe, install and export snippets the
// way a healthy interpreter with ultralytics installed would. Setting
// FAKE_MISSING makes every module probe report absent.
const fakePython = `#!/bin/sh
case "$2" in
  *sys.executable*) echo "$0" ;;
  *find_spec*)
    if [ -n "$FAKE_MISSING" ]; then echo MISSING; else echo INSTALLED; fi ;;
  *"ultralytics import YOLO"*)
    echo "exporting"
    echo EXPORT_OK ;;
  *) echo "unexpected: $*" >&2; exit 1 ;;
esac
`

// fakeCurl writes a small payload to the -o destination.
const fakeCurl = `#!/bin/sh
while [ $# -gt 0 ]; do
  if [ "$1" = "-o" ]; then shift; printf 'weights' > "$1"; fi
  shift
done
`

type result struct {
	stdout string
	stderr string
	code   int
}

func TestHelpWithoutArguments(t *testing.T) {
	dir := setupWorkspace(t)
	res := runModelport(t, dir, nil)
	require.Equal(t, 0, res.code, res.stderr)
	assert.Contains(t, res.stdout, "v8_n")
	assert.Contains(t, res.stdout, "v11_x")
}

func TestUnknownModelLeavesNoTrace(t *testing.T) {
	dir := setupWorkspace(t)
	res := runModelport(t, dir, nil, "v99_z")
	assert.Equal(t, 3, res.code)
	assert.Equal(t, "Model 'v99_z' not found\n", res.stderr)
	assert.NoDirExists(t, filepath.Join(dir, "pretrained"))
	assert.NoDirExists(t, workspaceDataDir(dir))
}

func TestListJSON(t *testing.T) {
	dir := setupWorkspace(t)
	res := runModelport(t, dir, nil, "list", "--json")
	require.Equal(t, 0, res.code, res.stderr)

	var payload struct {
		Models []struct {
			ID  string `json:"id"`
			URL string `json:"url"`
		} `json:"models"`
	}
	require.NoError(t, json.Unmarshal([]byte(res.stdout), &payload), res.stdout)
	require.NotEmpty(t, payload.Models)
	assert.Equal(t, "v8_n", payload.Models[0].ID)
	for _, m := range payload.Models {
		assert.True(t, strings.HasPrefix(m.URL, "https://"), m.URL)
	}
}

func TestAcquireWithStubToolchain(t *testing.T) {
	dir := setupWorkspace(t)
	report := filepath.Join(dir, "report.json")

	res := runModelport(t, dir, nil, "v8_n", "--report", "json", "--report-file", report)
	require.Equal(t, 0, res.code, "stdout:\n%s\nstderr:\n%s", res.stdout, res.stderr)
	assert.Contains(t, res.stdout, "Downloading model: v8_n")
	assert.Contains(t, res.stdout, "ultralytics: found")
	assert.Contains(t, res.stdout, "successfully exported!")

	data, err := os.ReadFile(filepath.Join(dir, "pretrained", "yolov8n.pt"))
	require.NoError(t, err)
	assert.Equal(t, "weights", string(data))

	var summary struct {
		RunID    string `json:"run_id"`
		Status   string `json:"status"`
		ExitCode int    `json:"exit_code"`
	}
	raw, err := os.ReadFile(report)
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal(raw, &summary))
	assert.Equal(t, "succeeded", summary.Status)
	assert.Zero(t, summary.ExitCode)

	again := runModelport(t, dir, nil, "v8_n")
	require.Equal(t, 0, again.code, again.stderr)
	assert.Contains(t, again.stdout, "already exists.")

	hist := runModelport(t, dir, nil, "history", "--json")
	require.Equal(t, 0, hist.code, hist.stderr)
	assert.Contains(t, hist.stdout, summary.RunID)
}

func TestAcquireDeclinedInstall(t *testing.T) {
	dir := setupWorkspace(t)
	res := runModelport(t, dir, []string{"FAKE_MISSING=1"}, "v8_n", "--no-install")
	assert.Equal(t, 7, res.code, "stdout:\n%s\nstderr:\n%s", res.stdout, res.stderr)
	assert.Contains(t, res.stderr, "ultralytics: NOT found")
	assert.FileExists(t, filepath.Join(dir, "pretrained", "yolov8n.pt"))
	assert.NoFileExists(t, filepath.Join(dir, "pretrained", "yolov8n.onnx"))
}

func buildModelportBinary() (string, error) {
	binDir, err := os.MkdirTemp("", "modelport-bin")
	if err != nil {
		return "", err
	}
	binPath := filepath.Join(binDir, "modelport-e2e")
	cmd := exec.Command("go", "build", "-o", binPath, "./cmd/modelport")
	cmd.Dir = repoRoot()
	if out, err := cmd.CombinedOutput(); err != nil {
		return "", errors.New(err.Error() + ": " + string(out))
	}
	return binPath, nil
}

func workspaceDataDir(dir string) string {
	return filepath.Join(dir, ".modelport")
}

// setupWorkspace creates a working directory plus a bin directory holding
// stub python3 and curl executables.
func setupWorkspace(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	bin := filepath.Join(dir, "bin")
	require.NoError(t, os.MkdirAll(bin, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(bin, "python3"), []byte(fakePython), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(bin, "curl"), []byte(fakeCurl), 0o755))
	return dir
}

func runModelport(t *testing.T, dir string, extraEnv []string, args ...string) result {
	t.Helper()
	cmd := exec.Command(modelportBinary, args...)
	cmd.Dir = dir
	env := append(os.Environ(),
		"PATH="+filepath.Join(dir, "bin")+string(os.PathListSeparator)+os.Getenv("PATH"),
		"MODELPORT_DATA_DIR="+workspaceDataDir(dir),
		"NO_COLOR=1",
	)
	cmd.Env = append(env, extraEnv...)
	var stdout, stderr strings.Builder
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	err := cmd.Run()
	res := result{stdout: stdout.String(), stderr: stderr.String()}
	var exitErr *exec.ExitError
	switch {
	case errors.As(err, &exitErr):
		res.code = exitErr.ExitCode()
	case err != nil:
		t.Fatalf("run modelport %s: %v", strings.Join(args, " "), err)
	}
	return res
}

func repoRoot() string {
	_, file, _, _ := runtime.Caller(0)
	return filepath.Join(filepath.Dir(file), "..", "..")
}
