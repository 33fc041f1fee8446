// SPDX-License-Identifier: AGPL-3.0-or-later
package engine

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/flowd-org/modelport/internal/fetch"
	"github.com/flowd-org/modelport/internal/installer"
	"github.com/flowd-org/modelport/internal/observability/tracing"
	"github.com/flowd-org/modelport/internal/toolchain"
)

// Check is one doctor finding. Optional checks never make a diagnosis unhealthy.
type Check struct {
	Name     string `json:"name"`
	OK       bool   `json:"ok"`
	Detail   string `json:"detail,omitempty"`
	Optional bool   `json:"optional,omitempty"`
}

// Diagnosis lists checks in the order they ran.
type Diagnosis struct {
	Checks []Check `json:"checks"`
}

// Healthy reports whether every required check passed.
func (d Diagnosis) Healthy() bool {
	for _, c := range d.Checks {
		if !c.OK && !c.Optional {
			return false
		}
	}
	return true
}

func (d *Diagnosis) add(c Check) { d.Checks = append(d.Checks, c) }

// Diagnose inspects the environment an acquisition depends on. It spawns the
// resolve and probe processes but never installs, downloads or exports.
func (e *Engine) Diagnose(ctx context.Context) (diag Diagnosis) {
	ctx, span := tracing.Start(ctx, "engine.diagnose")
	defer span.End()

	runner := e.Runner
	resolver := &toolchain.Resolver{Runner: runner, Interpreter: e.Config.Toolchain.Python, Timeout: e.Config.Timeouts.Resolve}
	env, err := resolver.Resolve(ctx)
	if err != nil {
		diag.add(Check{Name: "interpreter", Detail: err.Error()})
	} else {
		diag.add(Check{Name: "interpreter", OK: true, Detail: env.Executable})
		prober := &toolchain.Prober{Runner: runner, Markers: e.Config.Markers, Timeout: e.Config.Timeouts.Probe}
		for _, m := range prober.Probe(ctx, env, requirements(e.Config)).Modules {
			c := Check{Name: "module " + m.Requirement.Module, OK: m.Present(), Detail: m.State.String()}
			if m.Err != nil {
				c.Detail = m.Err.Error()
			}
			diag.add(c)
		}
	}

	if tool, err := fetch.DetectTool(e.LookPath, downloadTools(e.Config)); err != nil {
		diag.add(Check{Name: "download tool", Detail: err.Error()})
	} else {
		diag.add(Check{Name: "download tool", OK: true, Detail: string(tool)})
	}

	diag.add(writableCheck(e.Config.ArtifactDir))
	diag.add(e.isolatedCheck())
	return diag
}

// writableCheck probes dir, or its nearest existing ancestor when dir does
// not exist yet, without creating dir itself.
func writableCheck(dir string) Check {
	c := Check{Name: "artifact dir"}
	probe := dir
	for {
		info, err := os.Stat(probe)
		if err == nil {
			if !info.IsDir() {
				c.Detail = fmt.Sprintf("%s is not a directory", probe)
				return c
			}
			break
		}
		if !errors.Is(err, os.ErrNotExist) {
			c.Detail = err.Error()
			return c
		}
		parent := filepath.Dir(probe)
		if parent == probe {
			c.Detail = err.Error()
			return c
		}
		probe = parent
	}
	f, err := os.CreateTemp(probe, ".modelport-write-*")
	if err != nil {
		c.Detail = fmt.Sprintf("%s is not writable: %v", probe, err)
		return c
	}
	name := f.Name()
	_ = f.Close()
	_ = os.Remove(name)
	c.OK = true
	c.Detail = dir
	if probe != filepath.Clean(dir) {
		c.Detail = fmt.Sprintf("%s (will be created)", dir)
	}
	return c
}

func (e *Engine) isolatedCheck() Check {
	c := Check{Name: "isolated environment", Optional: true, Detail: "none"}
	dirs := e.Config.Install.VenvDirs
	if len(dirs) == 0 {
		dirs = installer.DefaultVenvDirs
	}
	for _, d := range dirs {
		if !filepath.IsAbs(d) && e.WorkDir != "" {
			d = filepath.Join(e.WorkDir, d)
		}
		if info, err := os.Stat(d); err == nil && info.IsDir() {
			c.OK = true
			c.Detail = d
			return c
		}
	}
	return c
}
