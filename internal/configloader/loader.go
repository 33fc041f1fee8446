// SPDX-License-Identifier: AGPL-3.0-or-later

// Package configloader resolves the run configuration from defaults, the
// config file, MODELPORT_* environment variables and command-line flags, in
// increasing order of precedence.
package configloader

import (
	"errors"
	"fmt"
	"os"
	"reflect"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/pflag"
	"gopkg.in/yaml.v3"

	"github.com/flowd-org/modelport/internal/paths"
	"github.com/flowd-org/modelport/internal/types"
)

// DefaultFile is read from the working directory when no path is given.
const DefaultFile = "modelport.yaml"

const envPrefix = "MODELPORT_"

// Flag names ApplyFlags understands.
const (
	FlagDir         = "dir"
	FlagPython      = "python"
	FlagYes         = "yes"
	FlagNoInstall   = "no-install"
	FlagTimeout     = "timeout"
	FlagMetricsFile = "metrics-file"
	FlagNoJournal   = "no-journal"
	FlagIndexURL    = "index-url"
)

// LookupEnv matches os.LookupEnv.
type LookupEnv func(string) (string, bool)

// Load returns the defaults overlaid with the config file and the process
// environment. An empty path reads DefaultFile if it exists; an explicit
// path must exist. The second return is the file actually read, if any.
func Load(path string) (*types.Config, string, error) {
	return LoadWithEnv(path, os.LookupEnv)
}

// LoadWithEnv is Load with an injectable environment.
func LoadWithEnv(path string, lookup LookupEnv) (*types.Config, string, error) {
	cfg := types.Default()
	explicit := path != ""
	if !explicit {
		path = DefaultFile
	}

	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := decode(data, &cfg); err != nil {
			return nil, "", fmt.Errorf("decode config %s: %w", path, err)
		}
	case errors.Is(err, os.ErrNotExist) && !explicit:
		path = ""
	default:
		return nil, "", fmt.Errorf("read config: %w", err)
	}

	if err := applyEnv(&cfg, lookup); err != nil {
		return nil, "", err
	}
	return &cfg, path, nil
}

func decode(data []byte, cfg *types.Config) error {
	if len(strings.TrimSpace(string(data))) == 0 {
		return nil
	}
	dec := yaml.NewDecoder(strings.NewReader(string(data)))
	dec.KnownFields(true)
	return dec.Decode(cfg)
}

func applyEnv(cfg *types.Config, lookup LookupEnv) error {
	if lookup == nil {
		return nil
	}
	str := func(name string, dst *string) {
		if v, ok := lookup(envPrefix + name); ok && strings.TrimSpace(v) != "" {
			*dst = strings.TrimSpace(v)
		}
	}
	boolean := func(name string, dst *bool) error {
		v, ok := lookup(envPrefix + name)
		if !ok || strings.TrimSpace(v) == "" {
			return nil
		}
		b, err := strconv.ParseBool(strings.TrimSpace(v))
		if err != nil {
			return fmt.Errorf("%s%s: %w", envPrefix, name, err)
		}
		*dst = b
		return nil
	}

	str("ARTIFACT_DIR", &cfg.ArtifactDir)
	str("DATA_DIR", &cfg.DataDir)
	str("PYTHON", &cfg.Toolchain.Python)
	str("INDEX_URL", &cfg.Toolchain.IndexURL)
	str("METRICS_FILE", &cfg.MetricsFile)
	if err := boolean("AUTO_INSTALL", &cfg.Install.Auto); err != nil {
		return err
	}
	if err := boolean("ASSUME_YES", &cfg.Install.AssumeYes); err != nil {
		return err
	}
	if err := boolean("JOURNAL", &cfg.Journal.Enabled); err != nil {
		return err
	}
	if v, ok := lookup(envPrefix + "DOWNLOAD_TOOLS"); ok && strings.TrimSpace(v) != "" {
		cfg.Download.Tools = splitList(v)
	}
	if v, ok := lookup(envPrefix + "TIMEOUT"); ok && strings.TrimSpace(v) != "" {
		d, err := time.ParseDuration(strings.TrimSpace(v))
		if err != nil {
			return fmt.Errorf("%sTIMEOUT: %w", envPrefix, err)
		}
		cfg.Timeouts.SetAllTimeouts(d)
	}
	return nil
}

func splitList(v string) []string {
	var out []string
	for _, part := range strings.Split(v, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// ApplyFlags overlays flags the user set explicitly. Flags left at their
// defaults never override the file or the environment.
func ApplyFlags(cfg *types.Config, fs *pflag.FlagSet) error {
	if fs == nil {
		return nil
	}
	var err error
	if fs.Changed(FlagDir) {
		if cfg.ArtifactDir, err = fs.GetString(FlagDir); err != nil {
			return err
		}
	}
	if fs.Changed(FlagPython) {
		if cfg.Toolchain.Python, err = fs.GetString(FlagPython); err != nil {
			return err
		}
	}
	if fs.Changed(FlagIndexURL) {
		if cfg.Toolchain.IndexURL, err = fs.GetString(FlagIndexURL); err != nil {
			return err
		}
	}
	if fs.Changed(FlagMetricsFile) {
		if cfg.MetricsFile, err = fs.GetString(FlagMetricsFile); err != nil {
			return err
		}
	}
	if fs.Changed(FlagYes) {
		if cfg.Install.AssumeYes, err = fs.GetBool(FlagYes); err != nil {
			return err
		}
	}
	if fs.Changed(FlagNoInstall) {
		off, err := fs.GetBool(FlagNoInstall)
		if err != nil {
			return err
		}
		cfg.Install.Auto = !off
	}
	if fs.Changed(FlagNoJournal) {
		off, err := fs.GetBool(FlagNoJournal)
		if err != nil {
			return err
		}
		cfg.Journal.Enabled = !off
	}
	if fs.Changed(FlagTimeout) {
		d, err := fs.GetDuration(FlagTimeout)
		if err != nil {
			return err
		}
		cfg.Timeouts.SetAllTimeouts(d)
	}
	return nil
}

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name := strings.SplitN(f.Tag.Get("yaml"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// Validate checks cfg and pins the data directory for the journal.
func Validate(cfg *types.Config) error {
	if err := validate.Struct(cfg); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			msgs := make([]string, 0, len(verrs))
			for _, fe := range verrs {
				msgs = append(msgs, describe(fe))
			}
			return fmt.Errorf("invalid config: %s", strings.Join(msgs, "; "))
		}
		return fmt.Errorf("invalid config: %w", err)
	}
	if cfg.DataDir != "" {
		paths.SetDataDirOverride(cfg.DataDir)
	}
	return nil
}

func describe(fe validator.FieldError) string {
	field := strings.TrimPrefix(fe.Namespace(), "Config.")
	switch fe.Tag() {
	case "required":
		return field + " is required"
	case "oneof":
		return fmt.Sprintf("%s must be one of [%s], got %v", field, fe.Param(), fe.Value())
	case "min":
		return fmt.Sprintf("%s needs at least %s entries", field, fe.Param())
	default:
		return fmt.Sprintf("%s fails %s=%s (got %v)", field, fe.Tag(), fe.Param(), fe.Value())
	}
}
