// SPDX-License-Identifier: AGPL-3.0-or-later
package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/flowd-org/modelport/internal/configloader"
	"github.com/flowd-org/modelport/internal/engine"
	"github.com/flowd-org/modelport/internal/executor"
	"github.com/flowd-org/modelport/internal/exporter"
	"github.com/flowd-org/modelport/internal/fetch"
	"github.com/flowd-org/modelport/internal/installer"
	"github.com/flowd-org/modelport/internal/ux"
)

// version is set at build time with -ldflags "-X github.com/flowd-org/modelport/cmd.version=...".
var version = "dev"

// reportedError has already been shown to the user.
type reportedError struct{ err error }

func (e reportedError) Error() string { return e.err.Error() }
func (e reportedError) Unwrap() error { return e.err }

type rootOptions struct {
	configPath  string
	dir         string
	python      string
	indexURL    string
	metricsFile string
	logFormat   string
	report      string
	reportFile  string
	timeout     time.Duration
	yes         bool
	noInstall   bool
	noJournal   bool
	events      bool
	verbose     bool
	noColor     bool
}

// NewRootCmd builds the command tree.
func NewRootCmd() *cobra.Command {
	opts := &rootOptions{}
	root := &cobra.Command{
		Use:   "modelport [model-id]",
		Short: "Download a pretrained YOLO model and export it to ONNX",
		Long: "modelport downloads a pretrained YOLO checkpoint into the artifact directory and\n" +
			"drives the Python toolchain (ultralytics, torch, onnx) to export it to ONNX.\n" +
			"Missing Python modules are installed after confirmation.",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
		Args: func(cmd *cobra.Command, args []string) error {
			if len(args) > 1 {
				return fmt.Errorf("%w: expected at most one model id, got %d", engine.ErrUsage, len(args))
			}
			return nil
		},
		ValidArgsFunction: func(cmd *cobra.Command, args []string, toComplete string) ([]string, cobra.ShellCompDirective) {
			if len(args) > 0 {
				return nil, cobra.ShellCompDirectiveNoFileComp
			}
			return completeModelIDs(opts, toComplete), cobra.ShellCompDirectiveNoFileComp
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return runAcquire(cmd, opts, args)
		},
	}
	root.SetFlagErrorFunc(func(cmd *cobra.Command, err error) error {
		return fmt.Errorf("%w: %w", engine.ErrUsage, err)
	})

	pf := root.PersistentFlags()
	pf.StringVar(&opts.configPath, "config", "", "Config file (default ./"+configloader.DefaultFile+" when present)")
	pf.StringVar(&opts.dir, configloader.FlagDir, "pretrained", "Artifact directory")
	pf.StringVar(&opts.python, configloader.FlagPython, "python3", "Python interpreter command")
	pf.StringVar(&opts.indexURL, configloader.FlagIndexURL, "", "Package index URL passed to pip")
	pf.BoolVarP(&opts.yes, configloader.FlagYes, "y", false, "Install missing modules without asking")
	pf.Bool(configloader.FlagNoInstall, false, "Never install missing modules")
	pf.DurationVar(&opts.timeout, configloader.FlagTimeout, 0, "Deadline for each child process (0 disables)")
	pf.BoolVar(&opts.events, "events", false, "Write NDJSON run events to stderr")
	pf.StringVar(&opts.metricsFile, configloader.FlagMetricsFile, "", "Write Prometheus metrics in text format to this file on exit")
	pf.Bool(configloader.FlagNoJournal, false, "Do not record the run in the local journal")
	pf.BoolVarP(&opts.verbose, "verbose", "v", false, "Debug logging")
	pf.StringVar(&opts.logFormat, "log-format", "text", "Log format (text|json)")
	pf.BoolVar(&opts.noColor, "no-color", false, "Disable styled output")
	root.Flags().StringVar(&opts.report, "report", "", "Write a run report (json|yaml)")
	root.Flags().StringVar(&opts.reportFile, "report-file", "", "Write the run report to this file instead of stdout")

	root.AddCommand(
		NewListCmd(opts),
		NewPlanCmd(opts),
		NewDoctorCmd(opts),
		NewHistoryCmd(opts),
		NewInitCmd(opts),
		NewCompletionCmd(root),
	)
	return root
}

// Execute runs the CLI and exits with the mapped status code.
func Execute() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	code := run(ctx, NewRootCmd(), os.Args[1:], os.Stdout, os.Stderr)
	stop()
	os.Exit(code)
}

func run(ctx context.Context, root *cobra.Command, args []string, stdout, stderr io.Writer) int {
	root.SetArgs(args)
	root.SetOut(stdout)
	root.SetErr(stderr)
	err := root.ExecuteContext(ctx)
	if err == nil {
		return engine.ExitOK
	}
	var reported reportedError
	if !errors.As(err, &reported) {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		if errors.Is(err, engine.ErrUsage) {
			fmt.Fprintf(stderr, "Run '%s --help' for usage.\n", root.Name())
		}
	}
	return engine.ExitCode(err)
}

func runAcquire(cmd *cobra.Command, opts *rootOptions, args []string) error {
	a, err := opts.bootstrap(cmd, false)
	if err != nil {
		return err
	}
	defer a.close()

	if len(args) == 0 {
		return a.catalog.WriteHelp(cmd.OutOrStdout(), cmd.Root().Name())
	}
	switch opts.report {
	case "":
		if opts.reportFile != "" {
			return fmt.Errorf("%w: --report-file requires --report=json or --report=yaml", engine.ErrUsage)
		}
	case "json", "yaml":
		if opts.reportFile == "" {
			// stdout carries only the report.
			a.console = ux.NewConsole(cmd.ErrOrStderr(), cmd.ErrOrStderr(), opts.colorEnabled(cmd.ErrOrStderr()))
		}
	default:
		return errReportFormat(opts.report)
	}
	id := configloader.ResolveAlias(a.aliases, strings.TrimSpace(args[0]))
	if _, ok := a.catalog.Lookup(id); !ok {
		fmt.Fprintf(cmd.ErrOrStderr(), "Model '%s' not found\n", args[0])
		return reportedError{fmt.Errorf("%w: %q", engine.ErrModelNotFound, args[0])}
	}

	if err := a.openJournal(cmd.Context()); err != nil {
		a.logger.Warn("journal unavailable, continuing without it", "error", err)
	}
	eng := a.engine(cmd)
	report, err := eng.Acquire(cmd.Context(), id)
	a.logger.Info("run finished", "run_id", report.RunID, "summary", report.Describe(), "exit_code", engine.ExitCode(err))
	if opts.report != "" {
		if rerr := writeReport(cmd.OutOrStdout(), summarize(report, a.fanout.Stages(), err), opts.report, opts.reportFile); rerr != nil {
			a.logger.Warn("report not written", "error", rerr)
		}
	}
	if err != nil {
		a.console.Error("Error: %v", err)
		if showDiagnostics(err) {
			var cerr *executor.CommandError
			if errors.As(err, &cerr) {
				if diag := cerr.Diagnostics(); diag != "" {
					fmt.Fprintln(cmd.ErrOrStderr(), diag)
				}
			}
		}
		return reportedError{err}
	}
	return nil
}

// showDiagnostics is false for stages whose output was already streamed or echoed.
func showDiagnostics(err error) bool {
	for _, streamed := range []error{fetch.ErrDownloadFailed, installer.ErrInstallationFailed, exporter.ErrExportInvocationFailed} {
		if errors.Is(err, streamed) {
			return false
		}
	}
	return true
}

func completeModelIDs(opts *rootOptions, prefix string) []string {
	cfg, _, err := configloader.Load(opts.configPath)
	if err != nil {
		return nil
	}
	cat, err := configloader.Catalog(cfg)
	if err != nil {
		return nil
	}
	aliases, _ := configloader.Aliases(cfg, cat)
	var out []string
	for _, id := range append(cat.IDs(), configloader.AliasNames(aliases)...) {
		if strings.HasPrefix(id, prefix) {
			out = append(out, id)
		}
	}
	return out
}
