// SPDX-License-Identifier: AGPL-3.0-or-later
package engine

import (
	"errors"

	"github.com/flowd-org/modelport/internal/exporter"
	"github.com/flowd-org/modelport/internal/fetch"
	"github.com/flowd-org/modelport/internal/installer"
	"github.com/flowd-org/modelport/internal/toolchain"
)

var (
	ErrModelNotFound           = errors.New("model not found")
	ErrDirectoryCreationFailed = errors.New("artifact directory creation failed")
	// ErrUsage marks invalid invocations detected before a run starts.
	ErrUsage = errors.New("usage error")
)

// Process exit codes.
const (
	ExitOK                   = 0
	ExitGeneral              = 1
	ExitUsage                = 2
	ExitModelNotFound        = 3
	ExitDirectoryCreation    = 4
	ExitDownload             = 5
	ExitInterpreter          = 6
	ExitInstallationDeclined = 7
	ExitInstallation         = 8
	ExitExport               = 9
)

var exitCodes = []struct {
	kind error
	code int
}{
	{ErrUsage, ExitUsage},
	{ErrModelNotFound, ExitModelNotFound},
	{ErrDirectoryCreationFailed, ExitDirectoryCreation},
	{fetch.ErrNoDownloadToolAvailable, ExitDownload},
	{fetch.ErrDownloadFailed, ExitDownload},
	{toolchain.ErrInterpreterResolutionFailed, ExitInterpreter},
	{installer.ErrInstallationDeclined, ExitInstallationDeclined},
	{installer.ErrInstallationFailed, ExitInstallation},
	{installer.ErrVenvCreationFailed, ExitInstallation},
	{exporter.ErrExportInvocationFailed, ExitExport},
}

// ExitCode maps an Acquire error to the process exit status.
func ExitCode(err error) int {
	if err == nil {
		return ExitOK
	}
	for _, ec := range exitCodes {
		if errors.Is(err, ec.kind) {
			return ec.code
		}
	}
	return ExitGeneral
}
