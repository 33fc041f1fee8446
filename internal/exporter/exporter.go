// SPDX-License-Identifier: AGPL-3.0-or-later

// Package exporter asks the conversion toolchain to turn a downloaded
// artifact into an ONNX file and verifies the completion marker.
package exporter

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/flowd-org/modelport/internal/executor"
	"github.com/flowd-org/modelport/internal/logging"
	"github.com/flowd-org/modelport/internal/toolchain"
	"github.com/flowd-org/modelport/internal/ux"
)

var ErrExportInvocationFailed = errors.New("export invocation failed")

const (
	DefaultOpset     = 12
	DefaultImageSize = 640
)

// Request describes one export.
type Request struct {
	ArtifactPath  string
	NeedsSimplify bool
	// Opset and ImageSize fall back to the defaults when zero.
	Opset     int
	ImageSize int
}

// Result is the verified outcome of the export process.
type Result struct {
	Succeeded   bool
	ExitCode    int
	Stdout      string
	Stderr      string
	MarkerFound bool
	// OutputPath is where the toolchain writes the file. It is derived, not checked.
	OutputPath string
}

// Invoker runs the export snippet.
type Invoker struct {
	Runner  executor.Runner
	Console *ux.Console
	Markers toolchain.Markers
	Timeout time.Duration
}

// Snippet returns the toolchain code for req.
func Snippet(req Request, m toolchain.Markers) string {
	opset := req.Opset
	if opset == 0 {
		opset = DefaultOpset
	}
	imgsz := req.ImageSize
	if imgsz == 0 {
		imgsz = DefaultImageSize
	}
	pt := toolchain.PyQuote(req.ArtifactPath)
	marker := toolchain.PyQuote(m.WithDefaults().ExportOK)
	if req.NeedsSimplify {
		return fmt.Sprintf("from ultralytics import YOLO; m=YOLO(%s); m.export(format='onnx', imgsz=%d, opset=%d, dynamic=True, simplify=True, verbose=True); print(%s)", pt, imgsz, opset, marker)
	}
	return fmt.Sprintf("from ultralytics import YOLO; m=YOLO(%s); m.export(format='onnx', opset=%d); print(%s)", pt, opset, marker)
}

// OutputPath is <dir>/<stem>.onnx for an artifact <dir>/<stem>.pt.
func OutputPath(artifact string) string {
	return strings.TrimSuffix(artifact, filepath.Ext(artifact)) + ".onnx"
}

// Export runs the snippet once with env's interpreter. It succeeds only when
// the process exits zero and stdout carries the completion marker.
func (i *Invoker) Export(ctx context.Context, env *toolchain.Environment, req Request) (Result, error) {
	markers := i.Markers.WithDefaults()
	cmd := executor.Command{
		Name:    env.Executable,
		Args:    []string{"-c", Snippet(req, markers)},
		Timeout: i.Timeout,
	}
	logging.FromContext(ctx).Debug("export.start", "executable", env.Executable, "artifact", req.ArtifactPath, "simplify", req.NeedsSimplify)

	res, runErr := i.Runner.Run(ctx, cmd)
	out := Result{
		ExitCode:    res.ExitCode,
		Stdout:      res.Stdout,
		Stderr:      res.Stderr,
		MarkerFound: markers.ExportCompleted(res.Stdout),
	}
	i.echo(res)

	if runErr != nil {
		return out, executor.NewCommandError(ErrExportInvocationFailed, cmd, res, "", runErr)
	}
	var reasons []string
	if res.ExitCode != 0 {
		reasons = append(reasons, fmt.Sprintf("exit status %d", res.ExitCode))
	}
	if !out.MarkerFound {
		reasons = append(reasons, fmt.Sprintf("completion marker %q missing from stdout", markers.ExportOK))
	}
	if len(reasons) > 0 {
		return out, executor.NewCommandError(ErrExportInvocationFailed, cmd, res, strings.Join(reasons, " and "), nil)
	}
	out.Succeeded = true
	out.OutputPath = OutputPath(req.ArtifactPath)
	return out, nil
}

func (i *Invoker) echo(res executor.Result) {
	if s := strings.TrimRight(res.Stdout, "\n"); s != "" {
		i.Console.Muted("python stdout:")
		i.Console.Printf("%s\n", s)
	}
	if s := strings.TrimRight(res.Stderr, "\n"); s != "" {
		fmt.Fprintf(i.Console.Stderr(), "python stderr:\n%s\n", s)
	}
}
