// SPDX-License-Identifier: AGPL-3.0-or-later
package executor

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os/exec"
	"strings"
	"time"

	"github.com/kballard/go-shellquote"

	"github.com/flowd-org/modelport/internal/logging"
)

var (
	// ErrSpawn reports that a process could not be started at all.
	ErrSpawn = errors.New("process could not be started")
	// ErrTimedOut reports that a deadline elapsed before the process exited.
	ErrTimedOut = errors.New("process timed out")
)

// waitDelay bounds how long Run waits for inherited pipes after the child was killed.
const waitDelay = 5 * time.Second

// Command describes one child process invocation.
type Command struct {
	Name string
	Args []string
	// Env entries override the runner's base environment.
	Env []string
	Dir string
	// Stdout and Stderr receive output as it arrives. Output is captured either way.
	Stdout  io.Writer
	Stderr  io.Writer
	Timeout time.Duration
}

// Argv returns the full argument vector.
func (c Command) Argv() []string {
	return append([]string{c.Name}, c.Args...)
}

// String renders the command as a shell-quoted line.
func (c Command) String() string {
	return shellquote.Join(c.Argv()...)
}

// Result holds the observable outcome of a finished process.
type Result struct {
	ExitCode int
	Stdout   string
	Stderr   string
	Duration time.Duration
	TimedOut bool
}

// Success reports a zero exit status.
func (r Result) Success() bool {
	return r.ExitCode == 0 && !r.TimedOut
}

// Runner spawns processes and waits for them.
//
// A non-zero exit is reported through Result.ExitCode, not as an error. Run
// returns an error only when the process could not be started (ErrSpawn) or
// the context ended first (ErrTimedOut, or the context's own error on
// cancellation).
type Runner interface {
	Run(ctx context.Context, cmd Command) (Result, error)
}

// LookPathFunc resolves an executable name on PATH.
type LookPathFunc func(string) (string, error)

// ProcessRunner is the os/exec backed Runner.
type ProcessRunner struct {
	// Env is layered on top of the base environment for every command.
	Env map[string]string
	// Inherit passes the parent environment through.
	Inherit bool
}

// NewProcessRunner returns a runner that inherits the parent environment.
func NewProcessRunner(env map[string]string) *ProcessRunner {
	return &ProcessRunner{Env: env, Inherit: true}
}

// Run executes c, capturing both streams in full.
func (r *ProcessRunner) Run(ctx context.Context, c Command) (Result, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	if strings.TrimSpace(c.Name) == "" {
		return Result{ExitCode: -1}, fmt.Errorf("%w: empty command", ErrSpawn)
	}
	if c.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.Timeout)
		defer cancel()
	}

	var stdout, stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, c.Name, c.Args...)
	cmd.Dir = c.Dir
	cmd.Stdout = tee(&stdout, c.Stdout)
	cmd.Stderr = tee(&stderr, c.Stderr)
	cmd.WaitDelay = waitDelay
	inherit := r != nil && r.Inherit
	var base map[string]string
	if r != nil {
		base = r.Env
	}
	cmd.Env = buildEnv(base, c.Env, inherit)

	logger := logging.FromContext(ctx)
	logger.Debug("process.start", "argv", c.String(), "dir", c.Dir)

	start := time.Now()
	err := cmd.Run()
	res := Result{
		Stdout:   stdout.String(),
		Stderr:   stderr.String(),
		Duration: time.Since(start),
	}

	switch {
	case err == nil:
		res.ExitCode = 0
	case ctx.Err() != nil:
		res.ExitCode = -1
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			res.TimedOut = true
			err = fmt.Errorf("%w after %s: %s", ErrTimedOut, c.Timeout, c.Name)
		} else {
			err = fmt.Errorf("%s: %w", c.Name, ctx.Err())
		}
	default:
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			res.ExitCode = exitErr.ExitCode()
			err = nil
		} else {
			res.ExitCode = -1
			err = fmt.Errorf("%w: %s: %v", ErrSpawn, c.Name, err)
		}
	}
	logger.Debug("process.finish", "argv0", c.Name, "exit_code", res.ExitCode, "duration", res.Duration, "error", err)
	return res, err
}

func tee(capture *bytes.Buffer, live io.Writer) io.Writer {
	if live == nil {
		return capture
	}
	return io.MultiWriter(capture, live)
}

// SplitCommand splits a configured interpreter such as "py -3" into program and
// leading arguments, honouring shell quoting.
func SplitCommand(command string) (string, []string, error) {
	fields, err := shellquote.Split(command)
	if err != nil {
		return "", nil, fmt.Errorf("invalid command %q: %w", command, err)
	}
	if len(fields) == 0 {
		return "", nil, fmt.Errorf("invalid command: %q", command)
	}
	return fields[0], fields[1:], nil
}
