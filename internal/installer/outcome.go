// SPDX-License-Identifier: AGPL-3.0-or-later

// Package installer repairs missing toolchain modules, falling back to an
// isolated environment when the interpreter refuses direct installs.
package installer

import (
	"errors"
	"path/filepath"
	"runtime"
)

var (
	ErrInstallationDeclined = errors.New("installation declined")
	ErrInstallationFailed   = errors.New("installation failed")
	ErrVenvCreationFailed   = errors.New("isolated environment creation failed")
)

// Outcome is the terminal state of an installation attempt.
type Outcome int

const (
	OutcomeNotNeeded Outcome = iota
	OutcomeInstalledDirectly
	OutcomeInstalledIsolated
	OutcomeDeclined
	OutcomeFailed
)

func (o Outcome) String() string {
	switch o {
	case OutcomeNotNeeded:
		return "not_needed"
	case OutcomeInstalledDirectly:
		return "installed_directly"
	case OutcomeInstalledIsolated:
		return "installed_isolated"
	case OutcomeDeclined:
		return "declined"
	case OutcomeFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// IsolatedEnvironment is a virtual environment directory used for the retry.
type IsolatedEnvironment struct {
	Dir string
	// Created is true when this run created Dir and therefore owns its cleanup.
	Created bool
	goos    string
}

func (e IsolatedEnvironment) platform() string {
	if e.goos != "" {
		return e.goos
	}
	return runtime.GOOS
}

// Executable is the interpreter inside the environment.
func (e IsolatedEnvironment) Executable() string {
	if e.platform() == "windows" {
		return filepath.Join(e.Dir, "Scripts", "python.exe")
	}
	return filepath.Join(e.Dir, "bin", "python")
}

// ActivateCommand is the shell line an operator runs to enter the environment.
func (e IsolatedEnvironment) ActivateCommand() string {
	if e.platform() == "windows" {
		return filepath.Join(e.Dir, "Scripts", "activate")
	}
	return "source " + filepath.Join(e.Dir, "bin", "activate")
}

// Result reports what Install did.
type Result struct {
	Outcome  Outcome
	Missing  []string
	Isolated *IsolatedEnvironment
}
