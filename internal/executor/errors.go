// SPDX-License-Identifier: AGPL-3.0-or-later
package executor

import (
	"fmt"
	"strings"

	"github.com/kballard/go-shellquote"
)

// CommandError ties a failure kind to the process that caused it, keeping the
// captured output for the operator.
type CommandError struct {
	// Kind is the sentinel the failure classifies as.
	Kind   error
	Argv   []string
	Result Result
	// Reason explains which check failed.
	Reason string
	// Err is the runner error, if the process never completed.
	Err error
}

func (e *CommandError) Error() string {
	var b strings.Builder
	if e.Kind != nil {
		b.WriteString(e.Kind.Error())
	} else {
		b.WriteString("command failed")
	}
	if e.Reason != "" {
		b.WriteString(": ")
		b.WriteString(e.Reason)
	}
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	if len(e.Argv) > 0 {
		fmt.Fprintf(&b, " (%s)", shellquote.Join(e.Argv...))
	}
	return b.String()
}

// Unwrap exposes both the kind and the underlying runner error to errors.Is.
func (e *CommandError) Unwrap() []error {
	out := make([]error, 0, 2)
	if e.Kind != nil {
		out = append(out, e.Kind)
	}
	if e.Err != nil {
		out = append(out, e.Err)
	}
	return out
}

// Diagnostics renders the captured streams verbatim.
func (e *CommandError) Diagnostics() string {
	if e == nil {
		return ""
	}
	var b strings.Builder
	fmt.Fprintf(&b, "exit status: %d\n", e.Result.ExitCode)
	if e.Result.Stdout != "" {
		b.WriteString("stdout:\n")
		b.WriteString(e.Result.Stdout)
		if !strings.HasSuffix(e.Result.Stdout, "\n") {
			b.WriteByte('\n')
		}
	}
	if e.Result.Stderr != "" {
		b.WriteString("stderr:\n")
		b.WriteString(e.Result.Stderr)
		if !strings.HasSuffix(e.Result.Stderr, "\n") {
			b.WriteByte('\n')
		}
	}
	return b.String()
}

// NewCommandError builds a CommandError for cmd.
func NewCommandError(kind error, cmd Command, res Result, reason string, err error) *CommandError {
	return &CommandError{Kind: kind, Argv: cmd.Argv(), Result: res, Reason: reason, Err: err}
}
