// SPDX-License-Identifier: AGPL-3.0-or-later

// Package toolchain resolves the conversion interpreter and probes its modules.
package toolchain

import "errors"

var (
	ErrInterpreterResolutionFailed = errors.New("interpreter resolution failed")
	// ErrDependencyProbeFailed marks a probe that could not classify a module.
	// It is recorded on the report and never returned to callers.
	ErrDependencyProbeFailed = errors.New("dependency probe failed")
)
