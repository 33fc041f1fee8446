// SPDX-License-Identifier: AGPL-3.0-or-later
package toolchain

import "strings"

// Markers are the literal strings the toolchain emits across the process
// boundary. Classification never depends on anything else in the output.
type Markers struct {
	Installed string   `yaml:"installed"`
	Missing   string   `yaml:"missing"`
	ExportOK  string   `yaml:"export_ok"`
	Managed   []string `yaml:"externally_managed"`
}

// DefaultMarkers returns the markers the stock toolchain emits.
func DefaultMarkers() Markers {
	return Markers{
		Installed: "INSTALLED",
		Missing:   "MISSING",
		ExportOK:  "EXPORT_OK",
		Managed:   []string{"externally-managed-environment", "pep 668"},
	}
}

// WithDefaults fills empty fields from DefaultMarkers.
func (m Markers) WithDefaults() Markers {
	d := DefaultMarkers()
	if m.Installed == "" {
		m.Installed = d.Installed
	}
	if m.Missing == "" {
		m.Missing = d.Missing
	}
	if m.ExportOK == "" {
		m.ExportOK = d.ExportOK
	}
	if len(m.Managed) == 0 {
		m.Managed = d.Managed
	}
	return m
}

// ProbeState classifies a probe's stdout. The second return is false when the
// output matches neither marker.
func (m Markers) ProbeState(stdout string) (present bool, ok bool) {
	switch firstLine(stdout) {
	case m.Installed:
		return true, true
	case m.Missing:
		return false, true
	default:
		return false, false
	}
}

// ExportCompleted reports whether the completion marker appears in stdout.
func (m Markers) ExportCompleted(stdout string) bool {
	return m.ExportOK != "" && strings.Contains(stdout, m.ExportOK)
}

// ExternallyManaged reports whether installer output says the interpreter
// refuses package installs. Matching is case-insensitive.
func (m Markers) ExternallyManaged(output string) bool {
	lower := strings.ToLower(output)
	for _, phrase := range m.Managed {
		if phrase != "" && strings.Contains(lower, strings.ToLower(phrase)) {
			return true
		}
	}
	return false
}

func firstLine(s string) string {
	for _, line := range strings.Split(s, "\n") {
		if trimmed := strings.TrimSpace(line); trimmed != "" {
			return trimmed
		}
	}
	return ""
}

// PyQuote renders s as a single-quoted Python string literal.
func PyQuote(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `'`, `\'`, "\n", `\n`, "\r", `\r`)
	return "'" + r.Replace(s) + "'"
}
