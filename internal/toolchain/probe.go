// SPDX-License-Identifier: AGPL-3.0-or-later
package toolchain

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/flowd-org/modelport/internal/executor"
	"github.com/flowd-org/modelport/internal/logging"
)

// Requirement maps an importable module to the package that provides it.
type Requirement struct {
	Module  string `yaml:"module" json:"module" validate:"required"`
	Package string `yaml:"package,omitempty" json:"package,omitempty"`
}

// PackageName returns the install name, defaulting to the module name.
func (r Requirement) PackageName() string {
	if r.Package != "" {
		return r.Package
	}
	return r.Module
}

// DefaultRequirements are the modules the export step imports.
func DefaultRequirements() []Requirement {
	return []Requirement{{Module: "ultralytics"}, {Module: "torch"}, {Module: "onnx"}}
}

// ModuleState is the classification of one probed module.
type ModuleState int

const (
	StateAbsent ModuleState = iota
	StatePresent
	// StateProbeFailed counts as absent.
	StateProbeFailed
)

func (s ModuleState) String() string {
	switch s {
	case StatePresent:
		return "present"
	case StateProbeFailed:
		return "probe-failed"
	default:
		return "absent"
	}
}

// ModuleStatus is one report line.
type ModuleStatus struct {
	Requirement Requirement
	State       ModuleState
	// Err wraps ErrDependencyProbeFailed when State is StateProbeFailed.
	Err error
}

// Present reports whether the module was located.
func (s ModuleStatus) Present() bool { return s.State == StatePresent }

// DependencyReport holds probe results in requirement order.
type DependencyReport struct {
	Modules []ModuleStatus
}

// State returns the state of module, and false if it was not probed.
func (r DependencyReport) State(module string) (ModuleState, bool) {
	for _, m := range r.Modules {
		if m.Requirement.Module == module {
			return m.State, true
		}
	}
	return StateAbsent, false
}

// Missing returns the requirements that were not located.
func (r DependencyReport) Missing() []Requirement {
	var out []Requirement
	for _, m := range r.Modules {
		if !m.Present() {
			out = append(out, m.Requirement)
		}
	}
	return out
}

// Complete reports whether every module was located.
func (r DependencyReport) Complete() bool {
	return len(r.Missing()) == 0
}

var moduleNamePattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*(\.[A-Za-z_][A-Za-z0-9_]*)*$`)

// ValidModuleName reports whether name is safe to place inside the probe snippet.
func ValidModuleName(name string) bool {
	return moduleNamePattern.MatchString(name)
}

// ProbeSnippet returns the code that locates module without importing it.
func ProbeSnippet(module string, m Markers) string {
	return fmt.Sprintf("import importlib.util; print(%s if importlib.util.find_spec('%s') else %s)", PyQuote(m.Installed), module, PyQuote(m.Missing))
}

// Prober checks module availability for a resolved environment.
type Prober struct {
	Runner  executor.Runner
	Markers Markers
	Timeout time.Duration
}

// Probe runs one locate process per requirement, in order. Failures to
// classify downgrade to StateProbeFailed; Probe itself never fails.
func (p *Prober) Probe(ctx context.Context, env *Environment, reqs []Requirement) DependencyReport {
	markers := p.Markers.WithDefaults()
	logger := logging.FromContext(ctx)
	report := DependencyReport{Modules: make([]ModuleStatus, 0, len(reqs))}
	for _, req := range reqs {
		status := ModuleStatus{Requirement: req}
		status.State, status.Err = p.probeOne(ctx, env, req.Module, markers)
		if status.Err != nil {
			logger.Warn("toolchain.probe_failed", "module", req.Module, "error", status.Err)
		}
		report.Modules = append(report.Modules, status)
	}
	return report
}

func (p *Prober) probeOne(ctx context.Context, env *Environment, module string, markers Markers) (ModuleState, error) {
	if !ValidModuleName(module) {
		return StateProbeFailed, fmt.Errorf("%w: invalid module name %q", ErrDependencyProbeFailed, module)
	}
	cmd := executor.Command{
		Name:    env.Executable,
		Args:    []string{"-c", ProbeSnippet(module, markers)},
		Timeout: p.Timeout,
	}
	res, err := p.Runner.Run(ctx, cmd)
	if err != nil {
		return StateProbeFailed, executor.NewCommandError(ErrDependencyProbeFailed, cmd, res, "", err)
	}
	if res.ExitCode != 0 {
		return StateProbeFailed, executor.NewCommandError(ErrDependencyProbeFailed, cmd, res, fmt.Sprintf("exit status %d", res.ExitCode), nil)
	}
	present, ok := markers.ProbeState(res.Stdout)
	if !ok {
		return StateProbeFailed, executor.NewCommandError(ErrDependencyProbeFailed, cmd, res, fmt.Sprintf("unrecognised output %q", strings.TrimSpace(res.Stdout)), nil)
	}
	if present {
		return StatePresent, nil
	}
	return StateAbsent, nil
}
