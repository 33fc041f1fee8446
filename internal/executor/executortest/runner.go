// SPDX-License-Identifier: AGPL-3.0-or-later

// Package executortest provides a scripted executor.Runner for tests.
package executortest

import (
	"context"
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/flowd-org/modelport/internal/executor"
)

// Matcher selects the commands a scripted response applies to.
type Matcher func(executor.Command) bool

// Contains matches commands whose joined argv contains every fragment.
func Contains(fragments ...string) Matcher {
	return func(c executor.Command) bool {
		line := strings.Join(c.Argv(), " ")
		for _, f := range fragments {
			if !strings.Contains(line, f) {
				return false
			}
		}
		return true
	}
}

// Program matches on the executable name.
func Program(name string) Matcher {
	return func(c executor.Command) bool { return c.Name == name }
}

// All combines matchers.
func All(ms ...Matcher) Matcher {
	return func(c executor.Command) bool {
		for _, m := range ms {
			if !m(c) {
				return false
			}
		}
		return true
	}
}

type rule struct {
	match     Matcher
	result    executor.Result
	err       error
	remaining int
	effect    func(executor.Command)
}

// Runner replays scripted results. Rules are tried in registration order;
// unmatched commands fail with executor.ErrSpawn.
type Runner struct {
	mu    sync.Mutex
	rules []*rule
	calls []executor.Command
}

// New returns an empty scripted runner.
func New() *Runner {
	return &Runner{}
}

// On registers a response used for every matching command.
func (r *Runner) On(m Matcher, res executor.Result, err error) *Runner {
	return r.add(&rule{match: m, result: res, err: err, remaining: -1})
}

// Once registers a response consumed by the first matching command.
func (r *Runner) Once(m Matcher, res executor.Result, err error) *Runner {
	return r.add(&rule{match: m, result: res, err: err, remaining: 1})
}

// Do registers a response with a side effect run before the result is returned.
func (r *Runner) Do(m Matcher, res executor.Result, effect func(executor.Command)) *Runner {
	return r.add(&rule{match: m, result: res, remaining: -1, effect: effect})
}

func (r *Runner) add(ru *rule) *Runner {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.rules = append(r.rules, ru)
	return r
}

// Run implements executor.Runner.
func (r *Runner) Run(ctx context.Context, c executor.Command) (executor.Result, error) {
	r.mu.Lock()
	r.calls = append(r.calls, c)
	var hit *rule
	for _, ru := range r.rules {
		if ru.remaining == 0 || !ru.match(c) {
			continue
		}
		if ru.remaining > 0 {
			ru.remaining--
		}
		hit = ru
		break
	}
	r.mu.Unlock()

	if ctx != nil && ctx.Err() != nil {
		return executor.Result{ExitCode: -1}, ctx.Err()
	}
	if hit == nil {
		return executor.Result{ExitCode: -1}, fmt.Errorf("%w: unscripted command %s", executor.ErrSpawn, c)
	}
	if hit.effect != nil {
		hit.effect(c)
	}
	replay(c.Stdout, hit.result.Stdout)
	replay(c.Stderr, hit.result.Stderr)
	return hit.result, hit.err
}

func replay(w io.Writer, s string) {
	if w == nil || s == "" {
		return
	}
	_, _ = io.WriteString(w, s)
}

// Calls returns every command seen so far.
func (r *Runner) Calls() []executor.Command {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]executor.Command(nil), r.calls...)
}

// Count returns how many recorded commands satisfy m.
func (r *Runner) Count(m Matcher) int {
	n := 0
	for _, c := range r.Calls() {
		if m(c) {
			n++
		}
	}
	return n
}

// Lines renders recorded commands, one per line, for failure messages.
func (r *Runner) Lines() string {
	calls := r.Calls()
	out := make([]string, len(calls))
	for i, c := range calls {
		out[i] = c.String()
	}
	return strings.Join(out, "\n")
}

// OK is a zero-exit result with the given stdout.
func OK(stdout string) executor.Result {
	return executor.Result{ExitCode: 0, Stdout: stdout}
}

// Fail is a non-zero-exit result with the given stderr.
func Fail(code int, stderr string) executor.Result {
	return executor.Result{ExitCode: code, Stderr: stderr}
}
