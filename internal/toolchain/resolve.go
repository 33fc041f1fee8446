// SPDX-License-Identifier: AGPL-3.0-or-later
package toolchain

import (
	"context"
	"time"

	"github.com/flowd-org/modelport/internal/executor"
	"github.com/flowd-org/modelport/internal/logging"
)

// ResolveSnippet asks the interpreter for its own absolute path.
const ResolveSnippet = "import sys; print(sys.executable)"

// DefaultInterpreter is the configured entrypoint when none is given.
const DefaultInterpreter = "python3"

// Environment is the canonical interpreter every later step invokes.
type Environment struct {
	Executable string
}

// Resolver turns a configured entrypoint into an Environment.
type Resolver struct {
	Runner executor.Runner
	// Interpreter may carry leading arguments, e.g. "py -3".
	Interpreter string
	Timeout     time.Duration
}

// Resolve spawns exactly one process and returns the interpreter's reported path.
func (r *Resolver) Resolve(ctx context.Context) (*Environment, error) {
	interp := r.Interpreter
	if interp == "" {
		interp = DefaultInterpreter
	}
	name, lead, err := executor.SplitCommand(interp)
	if err != nil {
		return nil, &executor.CommandError{Kind: ErrInterpreterResolutionFailed, Argv: []string{interp}, Err: err}
	}
	cmd := executor.Command{
		Name:    name,
		Args:    append(lead, "-c", ResolveSnippet),
		Timeout: r.Timeout,
	}
	res, runErr := r.Runner.Run(ctx, cmd)
	if runErr != nil {
		return nil, executor.NewCommandError(ErrInterpreterResolutionFailed, cmd, res, "", runErr)
	}
	if res.ExitCode != 0 {
		return nil, executor.NewCommandError(ErrInterpreterResolutionFailed, cmd, res, "non-zero exit status", nil)
	}
	exe := firstLine(res.Stdout)
	if exe == "" {
		return nil, executor.NewCommandError(ErrInterpreterResolutionFailed, cmd, res, "interpreter printed no path", nil)
	}
	logging.FromContext(ctx).Debug("toolchain.resolved", "entrypoint", interp, "executable", exe)
	return &Environment{Executable: exe}, nil
}
