// SPDX-License-Identifier: AGPL-3.0-or-later
package types

// Plan previews an acquisition without touching the filesystem or spawning
// processes.
type Plan struct {
	ModelID        string           `json:"model_id" yaml:"model_id"`
	Family         string           `json:"family" yaml:"family"`
	Size           string           `json:"size" yaml:"size"`
	URL            string           `json:"url" yaml:"url"`
	ArtifactPath   string           `json:"artifact_path" yaml:"artifact_path"`
	ExportPath     string           `json:"export_path" yaml:"export_path"`
	DownloadNeeded bool             `json:"download_needed" yaml:"download_needed"`
	Interpreter    string           `json:"interpreter" yaml:"interpreter"`
	Export         PlanExport       `json:"export" yaml:"export"`
	Requirements   PlanRequirements `json:"requirements" yaml:"requirements"`
	AutoInstall    bool             `json:"auto_install" yaml:"auto_install"`
	VenvDirs       []string         `json:"venv_dirs,omitempty" yaml:"venv_dirs,omitempty"`
}

type PlanExport struct {
	Simplify  bool   `json:"simplify" yaml:"simplify"`
	Opset     int    `json:"opset" yaml:"opset"`
	ImageSize int    `json:"image_size,omitempty" yaml:"image_size,omitempty"`
	Snippet   string `json:"snippet" yaml:"snippet"`
}

type PlanRequirements struct {
	Modules []ModuleRequirement `json:"modules" yaml:"modules"`
	Tools   []ToolRequirement   `json:"tools,omitempty" yaml:"tools,omitempty"`
}

type ModuleRequirement struct {
	Module  string `json:"module" yaml:"module"`
	Package string `json:"package" yaml:"package"`
}

type ToolRequirement struct {
	Name   string `json:"name" yaml:"name"`
	Status string `json:"status,omitempty" yaml:"status,omitempty"` // present|missing
	Path   string `json:"path,omitempty" yaml:"path,omitempty"`
}
