// SPDX-License-Identifier: AGPL-3.0-or-later

// Package fetch drives the external transfer tool that downloads artifacts.
package fetch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strings"
	"time"

	"github.com/flowd-org/modelport/internal/executor"
	"github.com/flowd-org/modelport/internal/logging"
)

var (
	ErrNoDownloadToolAvailable = errors.New("no download tool available")
	ErrDownloadFailed          = errors.New("download failed")
)

// Tool represents a supported transfer CLI.
type Tool string

const (
	ToolCurl Tool = "curl"
	ToolWget Tool = "wget"
)

// DefaultPreference is the detection order used when none is configured.
var DefaultPreference = []Tool{ToolCurl, ToolWget}

// ParseTool validates a configured tool name.
func ParseTool(name string) (Tool, error) {
	switch Tool(strings.ToLower(strings.TrimSpace(name))) {
	case ToolCurl:
		return ToolCurl, nil
	case ToolWget:
		return ToolWget, nil
	default:
		return "", fmt.Errorf("unsupported download tool %q", name)
	}
}

// DetectTool returns the first available tool in preference order.
func DetectTool(lookPath executor.LookPathFunc, preference []Tool) (Tool, error) {
	if lookPath == nil {
		lookPath = exec.LookPath
	}
	if len(preference) == 0 {
		preference = DefaultPreference
	}
	names := make([]string, 0, len(preference))
	for _, tool := range preference {
		names = append(names, string(tool))
		if _, err := lookPath(string(tool)); err == nil {
			return tool, nil
		}
	}
	return "", fmt.Errorf("%w (looked for %s)", ErrNoDownloadToolAvailable, strings.Join(names, ", "))
}

// BuildArgs builds the argument vector for tool.
func BuildArgs(tool Tool, url, dest string) ([]string, error) {
	if url == "" {
		return nil, fmt.Errorf("url is required")
	}
	if dest == "" {
		return nil, fmt.Errorf("destination is required")
	}
	switch tool {
	case ToolCurl:
		return []string{string(ToolCurl), "-fL", url, "-o", dest, "--progress-bar"}, nil
	case ToolWget:
		return []string{string(ToolWget), url, "-O", dest}, nil
	default:
		return nil, fmt.Errorf("unsupported download tool %q", tool)
	}
}

// Result describes a finished download.
type Result struct {
	Tool     Tool
	Path     string
	Bytes    int64
	Duration time.Duration
}

// Downloader transfers one URL to one file.
type Downloader struct {
	Runner     executor.Runner
	LookPath   executor.LookPathFunc
	Preference []Tool
	Timeout    time.Duration
	// Stdout and Stderr receive the tool's progress output.
	Stdout io.Writer
	Stderr io.Writer
}

// Download fetches url into dest. A destination left behind by a failed
// transfer is removed so that a later run does not treat it as complete.
func (d *Downloader) Download(ctx context.Context, url, dest string) (Result, error) {
	tool, err := DetectTool(d.LookPath, d.Preference)
	if err != nil {
		return Result{}, err
	}
	args, err := BuildArgs(tool, url, dest)
	if err != nil {
		return Result{}, err
	}
	logging.FromContext(ctx).Debug("download.start", "tool", tool, "url", url, "dest", dest)

	cmd := executor.Command{
		Name:    args[0],
		Args:    args[1:],
		Stdout:  d.Stdout,
		Stderr:  d.Stderr,
		Timeout: d.Timeout,
	}
	res, runErr := d.Runner.Run(ctx, cmd)
	if runErr != nil || res.ExitCode != 0 {
		removePartial(ctx, dest)
		reason := ""
		if runErr == nil {
			reason = fmt.Sprintf("%s exited with status %d", tool, res.ExitCode)
		}
		return Result{Tool: tool, Duration: res.Duration}, executor.NewCommandError(ErrDownloadFailed, cmd, res, reason, runErr)
	}

	info, statErr := os.Stat(dest)
	if statErr != nil {
		return Result{Tool: tool, Duration: res.Duration}, executor.NewCommandError(ErrDownloadFailed, cmd, res, "no file written", statErr)
	}
	return Result{Tool: tool, Path: dest, Bytes: info.Size(), Duration: res.Duration}, nil
}

func removePartial(ctx context.Context, dest string) {
	if err := os.Remove(dest); err != nil && !errors.Is(err, os.ErrNotExist) {
		logging.FromContext(ctx).Warn("download.cleanup_failed", "path", dest, "error", err)
	}
}
