// SPDX-License-Identifier: AGPL-3.0-or-later
package ux

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/charmbracelet/huh"
)

// Prompter asks the operator a yes/no question. Implementations return
// false, not an error, when the answer cannot be read.
type Prompter interface {
	Confirm(ctx context.Context, question string) (bool, error)
}

// LinePrompter reads a [y/N] answer line from a stream.
type LinePrompter struct {
	in  *bufio.Reader
	out io.Writer
}

// NewLinePrompter returns a prompter reading from in and writing the question to out.
func NewLinePrompter(in io.Reader, out io.Writer) *LinePrompter {
	if out == nil {
		out = io.Discard
	}
	return &LinePrompter{in: bufio.NewReader(in), out: out}
}

type lineResult struct {
	line string
	err  error
}

// Confirm accepts any answer starting with y. EOF and read errors decline.
func (p *LinePrompter) Confirm(ctx context.Context, question string) (bool, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	if err := ctx.Err(); err != nil {
		return false, err
	}
	fmt.Fprintf(p.out, "%s [y/N] ", question)

	done := make(chan lineResult, 1)
	go func() {
		line, err := p.in.ReadString('\n')
		done <- lineResult{line: line, err: err}
	}()

	select {
	case <-ctx.Done():
		fmt.Fprintln(p.out)
		return false, ctx.Err()
	case res := <-done:
		if res.err != nil && (res.line == "" || !errors.Is(res.err, io.EOF)) {
			fmt.Fprintln(p.out)
			return false, nil
		}
		return isYes(res.line), nil
	}
}

func isYes(answer string) bool {
	return strings.HasPrefix(strings.ToLower(strings.TrimSpace(answer)), "y")
}

// FormPrompter renders a huh confirm field on a terminal.
type FormPrompter struct {
	In  io.Reader
	Out io.Writer
}

// Confirm shows the form. An aborted form declines.
func (p *FormPrompter) Confirm(ctx context.Context, question string) (bool, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	answer := false
	form := huh.NewForm(huh.NewGroup(
		huh.NewConfirm().
			Title(question).
			Affirmative("Yes").
			Negative("No").
			Value(&answer),
	))
	if p.In != nil {
		form = form.WithInput(p.In)
	}
	if p.Out != nil {
		form = form.WithOutput(p.Out)
	}
	if err := form.RunWithContext(ctx); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return false, ctxErr
		}
		return false, nil
	}
	return answer, nil
}

// StaticPrompter answers every question the same way without reading input.
type StaticPrompter struct {
	Answer bool
	Out    io.Writer
}

// Confirm echoes the question with the fixed answer.
func (p StaticPrompter) Confirm(ctx context.Context, question string) (bool, error) {
	if ctx != nil && ctx.Err() != nil {
		return false, ctx.Err()
	}
	if p.Out != nil {
		answer := "n"
		if p.Answer {
			answer = "y"
		}
		fmt.Fprintf(p.Out, "%s [y/N] %s (assumed)\n", question, answer)
	}
	return p.Answer, nil
}

// DefaultPrompter picks a form prompter for a terminal on stdin, a line prompter otherwise.
func DefaultPrompter(assumeYes bool) Prompter {
	if assumeYes {
		return StaticPrompter{Answer: true, Out: os.Stdout}
	}
	if IsTerminal(os.Stdin) && IsTerminal(os.Stdout) {
		return &FormPrompter{}
	}
	return NewLinePrompter(os.Stdin, os.Stdout)
}
