// SPDX-License-Identifier: AGPL-3.0-or-later

// Package ux renders operator-facing progress and asks for consent.
package ux

import (
	"fmt"
	"io"
	"os"

	"github.com/charmbracelet/lipgloss"
	"github.com/mattn/go-isatty"
)

var (
	ColorSuccess = lipgloss.Color("#2CD7C7")
	ColorWarning = lipgloss.Color("#F4D03F")
	ColorError   = lipgloss.Color("#E74C3C")
	ColorMuted   = lipgloss.Color("#6C8A94")
	ColorTitle   = lipgloss.Color("#20B9B4")
)

// Styles used by Console when colour is enabled.
var Styles = struct {
	Title   lipgloss.Style
	Success lipgloss.Style
	Warning lipgloss.Style
	Error   lipgloss.Style
	Muted   lipgloss.Style
	Command lipgloss.Style
}{
	Title:   lipgloss.NewStyle().Bold(true).Foreground(ColorTitle),
	Success: lipgloss.NewStyle().Foreground(ColorSuccess),
	Warning: lipgloss.NewStyle().Foreground(ColorWarning),
	Error:   lipgloss.NewStyle().Foreground(ColorError).Bold(true),
	Muted:   lipgloss.NewStyle().Foreground(ColorMuted),
	Command: lipgloss.NewStyle().Bold(true),
}

// Console writes progress to Out and problems to Err. A nil Console discards
// everything.
type Console struct {
	Out   io.Writer
	Err   io.Writer
	color bool
}

// NewConsole returns a console; color enables lipgloss styling.
func NewConsole(out, errOut io.Writer, color bool) *Console {
	if out == nil {
		out = io.Discard
	}
	if errOut == nil {
		errOut = io.Discard
	}
	return &Console{Out: out, Err: errOut, color: color}
}

// IsTerminal reports whether f is an interactive terminal.
func IsTerminal(f *os.File) bool {
	if f == nil {
		return false
	}
	return isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
}

func (c *Console) render(style lipgloss.Style, s string) string {
	if c == nil || !c.color {
		return s
	}
	return style.Render(s)
}

// Stdout returns the progress writer, io.Discard for a nil console.
func (c *Console) Stdout() io.Writer {
	if c == nil {
		return io.Discard
	}
	return c.Out
}

// Stderr returns the problem writer, io.Discard for a nil console.
func (c *Console) Stderr() io.Writer {
	if c == nil {
		return io.Discard
	}
	return c.Err
}

// Printf writes unstyled progress.
func (c *Console) Printf(format string, args ...any) {
	if c == nil {
		return
	}
	fmt.Fprintf(c.Out, format, args...)
}

// Title writes a heading line.
func (c *Console) Title(format string, args ...any) {
	if c == nil {
		return
	}
	fmt.Fprintln(c.Out, c.render(Styles.Title, fmt.Sprintf(format, args...)))
}

// Success writes a success line.
func (c *Console) Success(format string, args ...any) {
	if c == nil {
		return
	}
	fmt.Fprintln(c.Out, c.render(Styles.Success, fmt.Sprintf(format, args...)))
}

// Warn writes a warning to Err.
func (c *Console) Warn(format string, args ...any) {
	if c == nil {
		return
	}
	fmt.Fprintln(c.Err, c.render(Styles.Warning, "Warning: "+fmt.Sprintf(format, args...)))
}

// Error writes an error to Err.
func (c *Console) Error(format string, args ...any) {
	if c == nil {
		return
	}
	fmt.Fprintln(c.Err, c.render(Styles.Error, fmt.Sprintf(format, args...)))
}

// Muted writes de-emphasised text to Out.
func (c *Console) Muted(format string, args ...any) {
	if c == nil {
		return
	}
	fmt.Fprintln(c.Out, c.render(Styles.Muted, fmt.Sprintf(format, args...)))
}

// Command writes an indented command line the operator can copy.
func (c *Console) Command(line string) {
	if c == nil {
		return
	}
	fmt.Fprintln(c.Out, "  "+c.render(Styles.Command, line))
}
