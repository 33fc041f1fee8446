// SPDX-License-Identifier: AGPL-3.0-or-later
package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"time"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/flowd-org/modelport/internal/catalog"
	"github.com/flowd-org/modelport/internal/configloader"
	"github.com/flowd-org/modelport/internal/coredb"
	"github.com/flowd-org/modelport/internal/engine"
	"github.com/flowd-org/modelport/internal/events"
	"github.com/flowd-org/modelport/internal/executor"
	"github.com/flowd-org/modelport/internal/logging"
	"github.com/flowd-org/modelport/internal/metrics"
	"github.com/flowd-org/modelport/internal/paths"
	"github.com/flowd-org/modelport/internal/types"
	"github.com/flowd-org/modelport/internal/ux"
)

// Overridden in tests.
var (
	newRunner = func() executor.Runner { return executor.NewProcessRunner(nil) }
	lookPath  = executor.LookPathFunc(exec.LookPath)
)

// app is the per-invocation wiring shared by the commands.
type app struct {
	cfg     *types.Config
	cfgFile string
	catalog *catalog.Catalog
	aliases map[string]string
	logger  *slog.Logger
	console *ux.Console
	metrics *metrics.Registry
	db      *coredb.DB
	runs    *coredb.RunStore
	journal *coredb.Journal
	emitter events.Sink
	fanout  *events.Fanout
	stdin   io.Reader

	// ran is set once an engine is built. Metrics are exported only then.
	ran bool
}

// bootstrap resolves configuration and builds the logger and console. The
// journal is opened only when needJournal is set, or later via openJournal,
// so that commands that fail early leave nothing behind.
func (o *rootOptions) bootstrap(cmd *cobra.Command, needJournal bool) (*app, error) {
	format, err := logging.ParseFormat(o.logFormat)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", engine.ErrUsage, err)
	}
	logger := logging.New(logging.Options{Level: logging.LevelFor(o.verbose), Format: format, Writer: cmd.ErrOrStderr()})
	ctx := logging.WithLogger(cmd.Context(), logger)
	cmd.SetContext(ctx)

	cfg, used, err := configloader.Load(o.configPath)
	if err != nil {
		return nil, err
	}
	if err := configloader.ApplyFlags(cfg, cmd.Flags()); err != nil {
		return nil, fmt.Errorf("%w: %w", engine.ErrUsage, err)
	}
	if err := configloader.Validate(cfg); err != nil {
		return nil, err
	}
	cat, err := configloader.Catalog(cfg)
	if err != nil {
		return nil, err
	}
	aliases, err := configloader.Aliases(cfg, cat)
	if err != nil {
		return nil, err
	}
	if used != "" {
		logger.Debug("config loaded", "path", used)
	}

	a := &app{
		cfg:     cfg,
		cfgFile: used,
		catalog: cat,
		aliases: aliases,
		logger:  logger,
		console: ux.NewConsole(cmd.OutOrStdout(), cmd.ErrOrStderr(), o.colorEnabled(cmd.OutOrStdout())),
		metrics: metrics.Default,
		stdin:   cmd.InOrStdin(),
	}
	a.metrics.SetBuildInfo(version)
	if o.events {
		a.emitter = events.NewEmitter(cmd.ErrOrStderr(), true)
	}
	if needJournal {
		if err := a.openJournal(ctx); err != nil {
			return nil, err
		}
	}
	return a, nil
}

func (o *rootOptions) colorEnabled(w io.Writer) bool {
	if o.noColor || os.Getenv("NO_COLOR") != "" {
		return false
	}
	f, ok := w.(*os.File)
	return ok && ux.IsTerminal(f)
}

// openJournal opens the run ledger and event journal unless disabled.
func (a *app) openJournal(ctx context.Context) error {
	if !a.cfg.Journal.Enabled || a.db != nil {
		return nil
	}
	db, err := coredb.Open(ctx, coredb.Options{DataDir: paths.DataDir(), JournalMaxBytes: a.cfg.Journal.MaxBytes})
	if err != nil {
		return fmt.Errorf("open journal: %w", err)
	}
	a.db = db
	a.runs = coredb.NewRunStore(db)
	a.journal = coredb.NewJournal(db)
	return nil
}

func (a *app) close() {
	if a == nil {
		return
	}
	if a.ran {
		if err := a.metrics.WriteTextfile(a.cfg.MetricsFile); err != nil {
			a.logger.Warn("metrics export failed", "path", a.cfg.MetricsFile, "error", err)
		}
	}
	if a.db != nil {
		if err := a.db.Close(); err != nil {
			a.logger.Warn("close journal", "error", err)
		}
	}
}

func (a *app) prompter(out io.Writer) ux.Prompter {
	if a.cfg.Install.AssumeYes {
		return ux.StaticPrompter{Answer: true, Out: out}
	}
	in, inFile := a.stdin.(*os.File)
	outFile, outIsFile := out.(*os.File)
	if inFile && outIsFile && ux.IsTerminal(in) && ux.IsTerminal(outFile) {
		return &ux.FormPrompter{In: in, Out: out}
	}
	return ux.NewLinePrompter(a.stdin, out)
}

func (a *app) engine(cmd *cobra.Command) *engine.Engine {
	var sinks []events.Sink
	if a.emitter != nil {
		sinks = append(sinks, a.emitter)
	}
	if a.journal != nil {
		sinks = append(sinks, events.NewJournalSink(a.journal, a.logger))
	}
	a.fanout = events.NewFanout(sinks...)
	a.ran = true
	wd, _ := os.Getwd()
	return &engine.Engine{
		Catalog:  a.catalog,
		Config:   *a.cfg,
		Runner:   newRunner(),
		LookPath: lookPath,
		Prompter: a.prompter(a.console.Stdout()),
		Console:  a.console,
		Events:   a.fanout,
		Runs:     a.runs,
		Metrics:  a.metrics,
		WorkDir:  wd,
	}
}

// runSummary is the --report document for one acquisition.
type runSummary struct {
	RunID          string    `json:"run_id" yaml:"run_id"`
	ModelID        string    `json:"model_id" yaml:"model_id"`
	Status         string    `json:"status" yaml:"status"`
	ExitCode       int       `json:"exit_code" yaml:"exit_code"`
	Error          string    `json:"error,omitempty" yaml:"error,omitempty"`
	ArtifactPath   string    `json:"artifact_path,omitempty" yaml:"artifact_path,omitempty"`
	Downloaded     bool      `json:"downloaded" yaml:"downloaded"`
	DownloadBytes  int64     `json:"download_bytes,omitempty" yaml:"download_bytes,omitempty"`
	Interpreter    string    `json:"interpreter,omitempty" yaml:"interpreter,omitempty"`
	Missing        []string  `json:"missing_modules,omitempty" yaml:"missing_modules,omitempty"`
	InstallOutcome string    `json:"install_outcome,omitempty" yaml:"install_outcome,omitempty"`
	IsolatedEnv    string    `json:"isolated_env,omitempty" yaml:"isolated_env,omitempty"`
	ExportPath     string    `json:"export_path,omitempty" yaml:"export_path,omitempty"`
	FinishedAt     time.Time `json:"finished_at" yaml:"finished_at"`

	Stages []events.StageOutcome `json:"stages,omitempty" yaml:"stages,omitempty"`
}

func summarize(report engine.Report, stages []events.StageOutcome, err error) runSummary {
	s := runSummary{
		RunID:         report.RunID,
		ModelID:       report.Entry.ID,
		Status:        coredb.RunStatusSucceeded,
		ExitCode:      engine.ExitCode(err),
		ArtifactPath:  report.ArtifactPath,
		Downloaded:    report.Downloaded,
		DownloadBytes: report.Download.Bytes,
		ExportPath:    report.ExportPath,
		FinishedAt:    time.Now().UTC(),
		Stages:        stages,
	}
	if err != nil {
		s.Status = coredb.RunStatusFailed
		s.Error = err.Error()
	}
	if report.Environment != nil {
		s.Interpreter = report.Environment.Executable
	}
	if len(report.Install.Missing) > 0 {
		s.Missing = report.Install.Missing
		s.InstallOutcome = report.Install.Outcome.String()
	}
	if report.Install.Isolated != nil {
		s.IsolatedEnv = report.Install.Isolated.Dir
	}
	return s
}

func errReportFormat(format string) error {
	return fmt.Errorf("%w: unsupported report format %q (json|yaml)", engine.ErrUsage, format)
}

// writeReport renders v as json or yaml to outPath, or to w when outPath is empty.
func writeReport(w io.Writer, v any, format, outPath string) error {
	var data []byte
	var err error
	switch format {
	case "json":
		data, err = json.MarshalIndent(v, "", "  ")
		data = append(data, '\n')
	case "yaml":
		data, err = yaml.Marshal(v)
	default:
		return errReportFormat(format)
	}
	if err != nil {
		return err
	}
	if outPath == "" {
		_, err = w.Write(data)
		return err
	}
	if err := os.WriteFile(outPath, data, 0o644); err != nil {
		return fmt.Errorf("write to %s: %w", outPath, err)
	}
	return nil
}
