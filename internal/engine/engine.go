// SPDX-License-Identifier: AGPL-3.0-or-later

// Package engine orchestrates one acquisition: catalog lookup, download,
// interpreter resolution, dependency probing, installation and export.
package engine

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/flowd-org/modelport/internal/catalog"
	"github.com/flowd-org/modelport/internal/coredb"
	"github.com/flowd-org/modelport/internal/events"
	"github.com/flowd-org/modelport/internal/executor"
	"github.com/flowd-org/modelport/internal/exporter"
	"github.com/flowd-org/modelport/internal/fetch"
	"github.com/flowd-org/modelport/internal/installer"
	"github.com/flowd-org/modelport/internal/logging"
	"github.com/flowd-org/modelport/internal/metrics"
	"github.com/flowd-org/modelport/internal/observability/tracing"
	"github.com/flowd-org/modelport/internal/toolchain"
	"github.com/flowd-org/modelport/internal/types"
	"github.com/flowd-org/modelport/internal/ux"
)

// Stage names used for events, spans and metrics.
const (
	StageDownload = "download"
	StageResolve  = "resolve"
	StageProbe    = "probe"
	StageInstall  = "install"
	StageExport   = "export"
)

// Stages lists the stage names in pipeline order.
func Stages() []string {
	return []string{StageDownload, StageResolve, StageProbe, StageInstall, StageExport}
}

const rule = "=========================================="

// Engine runs acquisitions. Every collaborator except Catalog and Runner is
// optional.
type Engine struct {
	Catalog  *catalog.Catalog
	Config   types.Config
	Runner   executor.Runner
	LookPath executor.LookPathFunc
	Prompter ux.Prompter
	Console  *ux.Console
	Events   events.Sink
	Runs     *coredb.RunStore
	Metrics  *metrics.Registry
	// WorkDir anchors relative isolated environment directories.
	WorkDir string
}

// Report summarises a run, complete or not.
type Report struct {
	RunID        string
	Entry        catalog.Entry
	ArtifactPath string
	ExportPath   string
	Downloaded   bool
	Download     fetch.Result
	Environment  *toolchain.Environment
	Dependencies toolchain.DependencyReport
	Install      installer.Result
	Export       exporter.Result
}

// run carries per-acquisition state.
type run struct {
	*Engine
	id      string
	sink    events.Sink
	metrics *metrics.Registry
	redact  func(string) string
}

// Acquire produces <dir>/<stem>.onnx for id. It stops at the first failure
// that is not recovered; only probe failures are downgraded and only the
// externally-managed install refusal is retried.
func (e *Engine) Acquire(ctx context.Context, id string) (report Report, err error) {
	entry, ok := e.Catalog.Lookup(id)
	if !ok {
		return report, fmt.Errorf("%w: %q", ErrModelNotFound, id)
	}
	report.Entry = entry
	report.RunID = events.GenerateRunID()
	report.ArtifactPath = filepath.Join(e.Config.ArtifactDir, entry.ArtifactName())

	r := &run{
		Engine:  e,
		id:      report.RunID,
		sink:    e.Events,
		metrics: e.Metrics,
		redact:  urlRedactor(entry.URL),
	}
	if r.sink == nil {
		r.sink = nopSink{}
	}
	if r.metrics == nil {
		r.metrics = metrics.Default
	}

	ctx = logging.WithLogger(ctx, logging.FromContext(ctx).With("run_id", r.id, "model", entry.ID))
	ctx, span := tracing.Start(ctx, "engine.acquire", tracing.RunID(r.id), tracing.Model(entry.ID))
	started := time.Now()
	r.begin(ctx, &report, started)
	defer func() {
		r.finish(ctx, &report, err, started)
		tracing.End(span, &err, tracing.ExitCode(ExitCode(err)))
	}()

	e.Console.Title(rule)
	e.Console.Title("Downloading model: %s", entry.ID)
	e.Console.Title(rule)
	e.Console.Printf("URL: %s\nFilename: %s\n\n", r.redact(entry.URL), entry.ArtifactName())

	if err = os.MkdirAll(e.Config.ArtifactDir, 0o755); err != nil {
		return report, fmt.Errorf("%w: %s: %w", ErrDirectoryCreationFailed, e.Config.ArtifactDir, err)
	}

	if err = r.stage(ctx, StageDownload, func(ctx context.Context, runner executor.Runner) error {
		return r.download(ctx, runner, &report)
	}); err != nil {
		return report, err
	}

	if err = r.stage(ctx, StageResolve, func(ctx context.Context, runner executor.Runner) error {
		resolver := &toolchain.Resolver{Runner: runner, Interpreter: e.Config.Toolchain.Python, Timeout: e.Config.Timeouts.Resolve}
		env, rerr := resolver.Resolve(ctx)
		if rerr != nil {
			return rerr
		}
		report.Environment = env
		e.Console.Printf("Using python executable: %s\n", env.Executable)
		return nil
	}); err != nil {
		return report, err
	}

	_ = r.stage(ctx, StageProbe, func(ctx context.Context, runner executor.Runner) error {
		prober := &toolchain.Prober{Runner: runner, Markers: e.Config.Markers, Timeout: e.Config.Timeouts.Probe}
		report.Dependencies = prober.Probe(ctx, report.Environment, requirements(e.Config))
		r.printDependencies(report.Dependencies)
		return nil
	})

	if !report.Dependencies.Complete() {
		err = r.stage(ctx, StageInstall, func(ctx context.Context, runner executor.Runner) error {
			mgr := &installer.Manager{
				Runner:   runner,
				Prompter: e.Prompter,
				Console:  e.Console,
				Options: installer.Options{
					AutoInstall: e.Config.Install.Auto,
					VenvDirs:    e.Config.Install.VenvDirs,
					BaseDir:     e.WorkDir,
					IndexURL:    e.Config.Toolchain.IndexURL,
					Markers:     e.Config.Markers,
					Timeout:     e.Config.Timeouts.Install,
				},
			}
			var ierr error
			report.Install, ierr = mgr.Install(ctx, report.Environment, report.Dependencies)
			r.metrics.RecordInstall(report.Install.Outcome.String())
			return ierr
		})
		if err != nil {
			return report, err
		}
	}

	// The export always runs with the interpreter resolved above, even when
	// the modules were installed into an isolated environment.
	if err = r.stage(ctx, StageExport, func(ctx context.Context, runner executor.Runner) error {
		e.Console.Printf("Exporting to ONNX format...\n")
		inv := &exporter.Invoker{Runner: runner, Console: e.Console, Markers: e.Config.Markers, Timeout: e.Config.Timeouts.Export}
		var xerr error
		report.Export, xerr = inv.Export(ctx, report.Environment, exporter.Request{
			ArtifactPath:  report.ArtifactPath,
			NeedsSimplify: entry.NeedsSimplify,
			Opset:         e.Config.Toolchain.Opset,
			ImageSize:     e.Config.Toolchain.ImageSize,
		})
		return xerr
	}); err != nil {
		return report, err
	}
	report.ExportPath = report.Export.OutputPath

	e.Console.Printf("\n")
	e.Console.Success("✓ Model '%s' successfully exported!", report.ArtifactPath)
	e.Console.Printf("\nFiles created (expected):\n  - %s\n", report.ExportPath)
	return report, nil
}

func (r *run) download(ctx context.Context, runner executor.Runner, report *Report) error {
	if info, err := os.Stat(report.ArtifactPath); err == nil && !info.IsDir() {
		r.Console.Printf("%s already exists.\n", report.ArtifactPath)
		return nil
	}
	r.Console.Printf("Downloading to: %s\n\n", report.ArtifactPath)
	d := &fetch.Downloader{
		Runner:     runner,
		LookPath:   r.LookPath,
		Preference: downloadTools(r.Config),
		Timeout:    r.Config.Timeouts.Download,
		Stdout:     r.Console.Stdout(),
		Stderr:     r.Console.Stderr(),
	}
	res, err := d.Download(ctx, report.Entry.URL, report.ArtifactPath)
	report.Download = res
	if err != nil {
		return err
	}
	report.Downloaded = true
	r.metrics.AddDownloadBytes(res.Bytes)
	r.Console.Success("✓ Download completed (%s)", humanize.Bytes(uint64(res.Bytes)))
	r.Console.Printf("\n")
	return nil
}

func (r *run) printDependencies(report toolchain.DependencyReport) {
	for _, m := range report.Modules {
		switch m.State {
		case toolchain.StatePresent:
			r.Console.Printf("%s: found\n", m.Requirement.Module)
		case toolchain.StateProbeFailed:
			fmt.Fprintf(r.Console.Stderr(), "%s check failed: %v\n", m.Requirement.Module, m.Err)
		default:
			fmt.Fprintf(r.Console.Stderr(), "%s: NOT found\n", m.Requirement.Module)
		}
	}
}

// stage wraps fn with step events, a span and a duration metric. fn receives
// a runner that attributes its processes to the stage.
func (r *run) stage(ctx context.Context, name string, fn func(context.Context, executor.Runner) error) (err error) {
	ctx, span := tracing.Start(ctx, "engine."+name, tracing.Stage(name))
	r.sink.EmitStepStart(r.id, name)
	start := time.Now()
	runner := &stepRunner{next: r.Runner, sink: r.sink, metrics: r.metrics, runID: r.id, step: name, redact: r.redact}

	err = fn(ctx, runner)

	outcome := "ok"
	if err != nil {
		outcome = "failed"
	}
	r.metrics.ObserveStage(name, outcome, time.Since(start))
	r.sink.EmitStepFinish(r.id, name, stepExitCode(err), err)
	tracing.End(span, &err)
	return err
}

func stepExitCode(err error) int {
	if err == nil {
		return 0
	}
	var cerr *executor.CommandError
	if errors.As(err, &cerr) && cerr.Err == nil {
		return cerr.Result.ExitCode
	}
	return -1
}

func (r *run) begin(ctx context.Context, report *Report, started time.Time) {
	r.sink.EmitRunStart(r.id, report.Entry.ID)
	rec := coredb.RunRecord{
		RunID:        r.id,
		ModelID:      report.Entry.ID,
		Status:       coredb.RunStatusRunning,
		ArtifactPath: report.ArtifactPath,
		StartedAt:    started,
	}
	if err := r.Runs.Begin(ctx, rec); err != nil {
		logging.FromContext(ctx).Warn("engine.ledger_begin_failed", "error", err)
	}
}

func (r *run) finish(ctx context.Context, report *Report, runErr error, started time.Time) {
	status := coredb.RunStatusSucceeded
	if runErr != nil {
		status = coredb.RunStatusFailed
	}
	rec := coredb.RunRecord{
		RunID:        r.id,
		ModelID:      report.Entry.ID,
		Status:       status,
		ExitCode:     ExitCode(runErr),
		ArtifactPath: report.ArtifactPath,
		ExportPath:   report.ExportPath,
		StartedAt:    started,
		FinishedAt:   time.Now(),
	}
	if len(report.Install.Missing) > 0 {
		rec.InstallOutcome = report.Install.Outcome.String()
	}
	if runErr != nil {
		rec.Error = runErr.Error()
	}
	// A cancelled run still gets its ledger row.
	if err := r.Runs.Finish(context.WithoutCancel(ctx), rec); err != nil {
		logging.FromContext(ctx).Warn("engine.ledger_finish_failed", "error", err)
	}
	r.metrics.RecordRun(status)
	r.sink.EmitRunFinish(r.id, status, runErr)
}

// urlRedactor hides credentials embedded in raw.
func urlRedactor(raw string) func(string) string {
	if r := events.NewLineRedactor(events.URLSecrets(raw)); r != nil {
		return r
	}
	return func(s string) string { return s }
}

func requirements(cfg types.Config) []toolchain.Requirement {
	if len(cfg.Toolchain.Requirements) > 0 {
		return cfg.Toolchain.Requirements
	}
	return toolchain.DefaultRequirements()
}

func downloadTools(cfg types.Config) []fetch.Tool {
	tools := make([]fetch.Tool, 0, len(cfg.Download.Tools))
	for _, name := range cfg.Download.Tools {
		if t, err := fetch.ParseTool(name); err == nil {
			tools = append(tools, t)
		}
	}
	if len(tools) == 0 {
		return fetch.DefaultPreference
	}
	return tools
}

// Describe renders a one-line summary of a finished run for logs.
func (r Report) Describe() string {
	parts := []string{r.Entry.ID}
	if r.Downloaded {
		parts = append(parts, "downloaded "+humanize.Bytes(uint64(r.Download.Bytes)))
	}
	if len(r.Install.Missing) > 0 {
		parts = append(parts, "install "+r.Install.Outcome.String())
	}
	if r.Export.Succeeded {
		parts = append(parts, "exported "+r.ExportPath)
	}
	return strings.Join(parts, ", ")
}
