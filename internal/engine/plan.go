// SPDX-License-Identifier: AGPL-3.0-or-later
package engine

import (
	"fmt"
	"os"
	"os/exec"
	"path/filepath"

	"github.com/flowd-org/modelport/internal/catalog"
	"github.com/flowd-org/modelport/internal/exporter"
	"github.com/flowd-org/modelport/internal/types"
)

// Plan previews what Acquire would do for id. It reads the filesystem and
// PATH but spawns nothing. Credentials embedded in the URL are redacted.
func (e *Engine) Plan(id string) (types.Plan, error) {
	entry, ok := e.Catalog.Lookup(id)
	if !ok {
		return types.Plan{}, fmt.Errorf("%w: %q", ErrModelNotFound, id)
	}
	return BuildPlan(entry, e.Config, e.LookPath), nil
}

// BuildPlan produces the preview for entry under cfg.
func BuildPlan(entry catalog.Entry, cfg types.Config, lookPath func(string) (string, error)) types.Plan {
	if lookPath == nil {
		lookPath = exec.LookPath
	}
	artifact := filepath.Join(cfg.ArtifactDir, entry.ArtifactName())
	redact := urlRedactor(entry.URL)
	plan := types.Plan{
		ModelID:      entry.ID,
		Family:       entry.Family,
		Size:         entry.Size,
		URL:          redact(entry.URL),
		ArtifactPath: artifact,
		ExportPath:   exporter.OutputPath(artifact),
		Interpreter:  cfg.Toolchain.Python,
		AutoInstall:  cfg.Install.Auto,
		VenvDirs:     cfg.Install.VenvDirs,
	}
	if info, err := os.Stat(artifact); err != nil || info.IsDir() {
		plan.DownloadNeeded = true
	}

	req := exporter.Request{
		ArtifactPath:  artifact,
		NeedsSimplify: entry.NeedsSimplify,
		Opset:         cfg.Toolchain.Opset,
		ImageSize:     cfg.Toolchain.ImageSize,
	}
	plan.Export = types.PlanExport{
		Simplify: entry.NeedsSimplify,
		Opset:    orDefault(cfg.Toolchain.Opset, exporter.DefaultOpset),
		Snippet:  exporter.Snippet(req, cfg.Markers),
	}
	if entry.NeedsSimplify {
		plan.Export.ImageSize = orDefault(cfg.Toolchain.ImageSize, exporter.DefaultImageSize)
	}

	for _, r := range requirements(cfg) {
		plan.Requirements.Modules = append(plan.Requirements.Modules, types.ModuleRequirement{Module: r.Module, Package: r.PackageName()})
	}
	if plan.DownloadNeeded {
		for _, tool := range downloadTools(cfg) {
			tr := types.ToolRequirement{Name: string(tool), Status: "missing"}
			if path, err := lookPath(string(tool)); err == nil {
				tr.Status, tr.Path = "present", path
			}
			plan.Requirements.Tools = append(plan.Requirements.Tools, tr)
		}
	}
	return plan
}

func orDefault(v, def int) int {
	if v == 0 {
		return def
	}
	return v
}
