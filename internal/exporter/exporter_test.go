// SPDX-License-Identifier: AGPL-3.0-or-later
package exporter

import (
	"bytes"
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/flowd-org/modelport/internal/executor"
	"github.com/flowd-org/modelport/internal/executor/executortest"
	"github.com/flowd-org/modelport/internal/toolchain"
	"github.com/flowd-org/modelport/internal/ux"
)

var env = &toolchain.Environment{Executable: "/usr/bin/python3"}

func TestSnippetShapes(t *testing.T) {
	m := toolchain.DefaultMarkers()
	minimal := Snippet(Request{ArtifactPath: "pretrained/yolov8n.pt"}, m)
	assert.Equal(t, "from ultralytics import YOLO; m=YOLO('pretrained/yolov8n.pt'); m.export(format='onnx', opset=12); print('EXPORT_OK')", minimal)

	simplified := Snippet(Request{ArtifactPath: "pretrained/yolo11m.pt", NeedsSimplify: true}, m)
	assert.Equal(t, "from ultralytics import YOLO; m=YOLO('pretrained/yolo11m.pt'); m.export(format='onnx', imgsz=640, opset=12, dynamic=True, simplify=True, verbose=True); print('EXPORT_OK')", simplified)
}

func TestSnippetEscapesPath(t *testing.T) {
	s := Snippet(Request{ArtifactPath: `C:\models\o'brien.pt`}, toolchain.DefaultMarkers())
	assert.Contains(t, s, `YOLO('C:\\models\\o\'brien.pt')`)
}

func TestOutputPath(t *testing.T) {
	assert.Equal(t, "pretrained/yolov8n.onnx", OutputPath("pretrained/yolov8n.pt"))
}

func TestExportRequiresExitZeroAndMarker(t *testing.T) {
	cases := []struct {
		name    string
		result  executor.Result
		ok      bool
		reasons []string
	}{
		{"success", executor.Result{ExitCode: 0, Stdout: "export done\nEXPORT_OK\n"}, true, nil},
		{"marker without zero exit", executor.Result{ExitCode: 1, Stdout: "EXPORT_OK\n", Stderr: "segfault"}, false, []string{"exit status 1"}},
		{"zero exit without marker", executor.Result{ExitCode: 0, Stdout: "done\n"}, false, []string{`"EXPORT_OK" missing`}},
		{"both fail", executor.Result{ExitCode: 2}, false, []string{"exit status 2", "missing from stdout"}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			runner := executortest.New().On(executortest.Contains("from ultralytics import YOLO"), tc.result, nil)
			var out bytes.Buffer
			inv := &Invoker{Runner: runner, Console: ux.NewConsole(&out, &out, false)}
			res, err := inv.Export(context.Background(), env, Request{ArtifactPath: "pretrained/yolov8n.pt"})
			assert.Equal(t, tc.ok, res.Succeeded)
			if tc.ok {
				require.NoError(t, err)
				assert.Equal(t, "pretrained/yolov8n.onnx", res.OutputPath)
				assert.Contains(t, out.String(), "python stdout:")
				return
			}
			require.ErrorIs(t, err, ErrExportInvocationFailed)
			assert.Empty(t, res.OutputPath)
			for _, r := range tc.reasons {
				assert.Contains(t, err.Error(), r)
			}
		})
	}
}

func TestExportSpawnFailure(t *testing.T) {
	inv := &Invoker{Runner: executortest.New()}
	res, err := inv.Export(context.Background(), env, Request{ArtifactPath: "x.pt"})
	assert.ErrorIs(t, err, ErrExportInvocationFailed)
	assert.ErrorIs(t, err, executor.ErrSpawn)
	assert.False(t, res.Succeeded)
}

func TestExportUsesGivenInterpreterOnce(t *testing.T) {
	runner := executortest.New().On(executortest.Program("/usr/bin/python3"), executortest.OK("EXPORT_OK"), nil)
	inv := &Invoker{Runner: runner}
	_, err := inv.Export(context.Background(), env, Request{ArtifactPath: "x.pt", Opset: 17})
	require.NoError(t, err)
	calls := runner.Calls()
	require.Len(t, calls, 1)
	assert.Contains(t, calls[0].Args[1], "opset=17")
}
