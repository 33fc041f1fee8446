// SPDX-License-Identifier: AGPL-3.0-or-later
package types

import (
	"time"

	"github.com/flowd-org/modelport/internal/catalog"
	"github.com/flowd-org/modelport/internal/toolchain"
)

// Config is the resolved configuration after file, environment and flags
// have been applied.
type Config struct {
	ArtifactDir string            `yaml:"artifact_dir" validate:"required"`
	DataDir     string            `yaml:"data_dir,omitempty"`
	Toolchain   ToolchainConfig   `yaml:"toolchain"`
	Install     InstallConfig     `yaml:"install"`
	Download    DownloadConfig    `yaml:"download"`
	Timeouts    TimeoutConfig     `yaml:"timeouts"`
	Markers     toolchain.Markers `yaml:"markers,omitempty"`
	Journal     JournalConfig     `yaml:"journal"`
	MetricsFile string            `yaml:"metrics_file,omitempty"`
	// Models are appended to the built-in catalog.
	Models  []catalog.Entry `yaml:"models,omitempty" validate:"dive"`
	Aliases []ModelAlias    `yaml:"aliases,omitempty" validate:"dive"`
}

// ModelAlias maps a friendly name onto a catalog identifier.
type ModelAlias struct {
	From string `yaml:"from" validate:"required"`
	To   string `yaml:"to" validate:"required"`
}

type ToolchainConfig struct {
	// Python is the interpreter entrypoint; it may carry leading arguments ("py -3").
	Python       string                  `yaml:"python" validate:"required"`
	Requirements []toolchain.Requirement `yaml:"requirements,omitempty" validate:"dive"`
	IndexURL     string                  `yaml:"index_url,omitempty" validate:"omitempty,url"`
	Opset        int                     `yaml:"opset" validate:"gte=7,lte=23"`
	ImageSize    int                     `yaml:"image_size" validate:"gte=32,lte=4096"`
}

type InstallConfig struct {
	Auto      bool     `yaml:"auto"`
	AssumeYes bool     `yaml:"assume_yes"`
	VenvDirs  []string `yaml:"venv_dirs,omitempty" validate:"min=1,dive,required"`
}

type DownloadConfig struct {
	Tools []string `yaml:"tools,omitempty" validate:"dive,oneof=curl wget"`
}

// TimeoutConfig holds per-stage process deadlines. Zero disables the deadline.
type TimeoutConfig struct {
	Resolve  time.Duration `yaml:"resolve,omitempty" validate:"gte=0s"`
	Probe    time.Duration `yaml:"probe,omitempty" validate:"gte=0s"`
	Install  time.Duration `yaml:"install,omitempty" validate:"gte=0s"`
	Export   time.Duration `yaml:"export,omitempty" validate:"gte=0s"`
	Download time.Duration `yaml:"download,omitempty" validate:"gte=0s"`
}

type JournalConfig struct {
	Enabled  bool  `yaml:"enabled"`
	MaxBytes int64 `yaml:"max_bytes,omitempty" validate:"gte=0"`
}

// Default returns the configuration used when nothing overrides it.
func Default() Config {
	return Config{
		ArtifactDir: "pretrained",
		Toolchain: ToolchainConfig{
			Python:       toolchain.DefaultInterpreter,
			Requirements: toolchain.DefaultRequirements(),
			Opset:        12,
			ImageSize:    640,
		},
		Install: InstallConfig{
			Auto:     true,
			VenvDirs: []string{".venv", ".venv_autocreate"},
		},
		Download: DownloadConfig{Tools: []string{"curl", "wget"}},
		Markers:  toolchain.DefaultMarkers(),
		Journal:  JournalConfig{Enabled: true},
	}
}

// SetAllTimeouts applies d to every stage, as the --timeout flag does.
func (t *TimeoutConfig) SetAllTimeouts(d time.Duration) {
	t.Resolve, t.Probe, t.Install, t.Export, t.Download = d, d, d, d, d
}
