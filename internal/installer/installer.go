// SPDX-License-Identifier: AGPL-3.0-or-later
package installer

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/kballard/go-shellquote"

	"github.com/flowd-org/modelport/internal/executor"
	"github.com/flowd-org/modelport/internal/logging"
	"github.com/flowd-org/modelport/internal/toolchain"
	"github.com/flowd-org/modelport/internal/ux"
)

// DefaultVenvDirs are tried in order; the first existing one is reused and
// the last one is created when none exists.
var DefaultVenvDirs = []string{".venv", ".venv_autocreate"}

// ConsentQuestion is asked before anything is installed.
const ConsentQuestion = "Attempt automatic installation now?"

const torchNote = "Note: installing torch with pip can fail on some platforms (notably macOS on Apple Silicon). " +
	"If it does, follow https://pytorch.org/get-started/locally/ and rerun."

// Options tunes the installation policy.
type Options struct {
	// AutoInstall allows the consent prompt; when false nothing is installed.
	AutoInstall bool
	VenvDirs    []string
	// BaseDir anchors relative VenvDirs. Empty means the working directory.
	BaseDir  string
	IndexURL string
	Markers  toolchain.Markers
	Timeout  time.Duration
}

// Manager runs the install state machine.
type Manager struct {
	Runner   executor.Runner
	Prompter ux.Prompter
	Console  *ux.Console
	Options  Options

	goos string
}

// Install repairs the modules the report marks missing. Only an
// externally-managed refusal triggers the isolated retry; every other
// failure ends the attempt.
func (m *Manager) Install(ctx context.Context, env *toolchain.Environment, report toolchain.DependencyReport) (Result, error) {
	missing := report.Missing()
	if len(missing) == 0 {
		return Result{Outcome: OutcomeNotNeeded}, nil
	}
	packages := make([]string, len(missing))
	modules := make([]string, len(missing))
	torchMissing := false
	for i, req := range missing {
		packages[i] = req.PackageName()
		modules[i] = req.Module
		if req.Module == "torch" {
			torchMissing = true
		}
	}
	result := Result{Missing: modules}
	logger := logging.FromContext(ctx)

	m.announce(env, modules, packages, torchMissing)

	if !m.Options.AutoInstall {
		result.Outcome = OutcomeDeclined
		return result, fmt.Errorf("%w: automatic installation is disabled", ErrInstallationDeclined)
	}
	if m.Prompter == nil {
		result.Outcome = OutcomeDeclined
		return result, fmt.Errorf("%w: no way to ask for consent", ErrInstallationDeclined)
	}
	ok, err := m.Prompter.Confirm(ctx, ConsentQuestion)
	if err != nil {
		result.Outcome = OutcomeDeclined
		return result, fmt.Errorf("%w: %w", ErrInstallationDeclined, err)
	}
	if !ok {
		result.Outcome = OutcomeDeclined
		return result, ErrInstallationDeclined
	}

	direct := m.pipInstall(env.Executable, packages)
	m.Console.Printf("Running: %s\n", direct)
	res, runErr := m.Runner.Run(ctx, direct)
	if runErr == nil && res.ExitCode == 0 {
		m.Console.Success("Dependencies installed.")
		result.Outcome = OutcomeInstalledDirectly
		return result, nil
	}
	markers := m.Options.Markers.WithDefaults()
	if runErr != nil || !markers.ExternallyManaged(res.Stderr) {
		result.Outcome = OutcomeFailed
		return result, executor.NewCommandError(ErrInstallationFailed, direct, res, exitReason(res), runErr)
	}

	logger.Info("installer.externally_managed", "executable", env.Executable)
	m.Console.Warn("%s refuses package installs (externally managed environment, PEP 668). Retrying inside an isolated environment.", env.Executable)

	venv, err := m.prepareIsolated(ctx, env)
	if err != nil {
		result.Outcome = OutcomeFailed
		return result, err
	}
	result.Isolated = venv

	bootstrap := m.command(venv.Executable(), "-m", "pip", "install", "--upgrade", "pip", "setuptools", "wheel")
	if bres, berr := m.Runner.Run(ctx, bootstrap); berr != nil || bres.ExitCode != 0 {
		m.Console.Warn("could not upgrade pip inside %s; continuing with the bundled version", venv.Dir)
		logger.Warn("installer.bootstrap_failed", "dir", venv.Dir, "exit_code", bres.ExitCode, "error", berr)
	}

	retry := m.pipInstall(venv.Executable(), packages)
	m.Console.Printf("Running: %s\n", retry)
	res, runErr = m.Runner.Run(ctx, retry)
	if runErr != nil || res.ExitCode != 0 {
		if venv.Created {
			m.removeIsolated(ctx, venv)
		}
		result.Outcome = OutcomeFailed
		return result, executor.NewCommandError(ErrInstallationFailed, retry, res, "isolated install: "+exitReason(res), runErr)
	}

	m.activationHelp(env, venv)
	result.Outcome = OutcomeInstalledIsolated
	return result, nil
}

func (m *Manager) announce(env *toolchain.Environment, modules, packages []string, torchMissing bool) {
	m.Console.Warn("missing Python modules: %s", strings.Join(modules, ", "))
	m.Console.Printf("Install them manually with:\n")
	m.Console.Command(shellquote.Join(append([]string{env.Executable, "-m", "pip", "install"}, packages...)...))
	if torchMissing {
		m.Console.Muted(torchNote)
	}
}

func (m *Manager) activationHelp(env *toolchain.Environment, venv *IsolatedEnvironment) {
	m.Console.Success("Dependencies installed into %s.", venv.Dir)
	m.Console.Printf("Activate the environment with:\n")
	m.Console.Command(venv.ActivateCommand())
	m.Console.Printf("or call its interpreter directly:\n")
	m.Console.Command(venv.Executable())
	m.Console.Muted("The export step still runs with %s.", env.Executable)
}

func (m *Manager) command(name string, args ...string) executor.Command {
	return executor.Command{
		Name:    name,
		Args:    args,
		Stdout:  m.Console.Stdout(),
		Stderr:  m.Console.Stderr(),
		Timeout: m.Options.Timeout,
	}
}

func (m *Manager) pipInstall(exe string, packages []string) executor.Command {
	args := []string{"-m", "pip", "install"}
	if m.Options.IndexURL != "" {
		args = append(args, "--index-url", m.Options.IndexURL)
	}
	return m.command(exe, append(args, packages...)...)
}

func (m *Manager) venvDirs() []string {
	dirs := m.Options.VenvDirs
	if len(dirs) == 0 {
		dirs = DefaultVenvDirs
	}
	out := make([]string, 0, len(dirs))
	for _, d := range dirs {
		if !filepath.IsAbs(d) && m.Options.BaseDir != "" {
			d = filepath.Join(m.Options.BaseDir, d)
		}
		out = append(out, d)
	}
	return out
}

// prepareIsolated reuses the first existing candidate directory or creates
// the last candidate with the original interpreter.
func (m *Manager) prepareIsolated(ctx context.Context, env *toolchain.Environment) (*IsolatedEnvironment, error) {
	dirs := m.venvDirs()
	for _, dir := range dirs {
		if info, err := os.Stat(dir); err == nil && info.IsDir() {
			m.Console.Printf("Reusing isolated environment %s\n", dir)
			return &IsolatedEnvironment{Dir: dir, goos: m.goos}, nil
		}
	}
	dir := dirs[len(dirs)-1]
	if _, err := os.Lstat(dir); err == nil {
		return nil, fmt.Errorf("%w: %s exists and is not a directory", ErrVenvCreationFailed, dir)
	} else if !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("%w: %s: %w", ErrVenvCreationFailed, dir, err)
	}
	m.Console.Printf("Creating isolated environment %s\n", dir)
	create := m.command(env.Executable, "-m", "venv", dir)
	res, err := m.Runner.Run(ctx, create)
	venv := &IsolatedEnvironment{Dir: dir, Created: true, goos: m.goos}
	if err != nil || res.ExitCode != 0 {
		m.removeIsolated(ctx, venv)
		return nil, executor.NewCommandError(ErrVenvCreationFailed, create, res, exitReason(res), err)
	}
	return venv, nil
}

func (m *Manager) removeIsolated(ctx context.Context, venv *IsolatedEnvironment) {
	if _, err := os.Stat(venv.Dir); errors.Is(err, os.ErrNotExist) {
		return
	}
	if err := os.RemoveAll(venv.Dir); err != nil && !errors.Is(err, os.ErrNotExist) {
		logging.FromContext(ctx).Warn("installer.cleanup_failed", "dir", venv.Dir, "error", err)
		return
	}
	m.Console.Printf("Removed %s\n", venv.Dir)
}

func exitReason(res executor.Result) string {
	if res.TimedOut {
		return "timed out"
	}
	return fmt.Sprintf("exit status %d", res.ExitCode)
}
