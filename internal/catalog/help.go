// SPDX-License-Identifier: AGPL-3.0-or-later
package catalog

import (
	"fmt"
	"io"
	"strings"
)

// WriteHelp prints the identifier listing shown when no model is given.
func (c *Catalog) WriteHelp(w io.Writer, program string) error {
	var b strings.Builder
	fmt.Fprintf(&b, "Usage: %s <model-id>\n\nAvailable models:\n", program)
	for _, fam := range c.Families() {
		ids := make([]string, len(fam.Entries))
		for i, e := range fam.Entries {
			ids[i] = e.ID
		}
		fmt.Fprintf(&b, "  %-8s %s\n", fam.Name+":", strings.Join(ids, ", "))
	}
	examples := c.examples()
	if len(examples) > 0 {
		b.WriteString("\nExamples:\n")
		for _, e := range examples {
			fmt.Fprintf(&b, "  %s %-6s # %s %s\n", program, e.ID, e.Family, e.Size)
		}
	}
	_, err := io.WriteString(w, b.String())
	return err
}

// examples picks the first entry of the first family and the last entry of the last one.
func (c *Catalog) examples() []Entry {
	fams := c.Families()
	if len(fams) == 0 {
		return nil
	}
	first := fams[0].Entries[0]
	lastFam := fams[len(fams)-1]
	last := lastFam.Entries[len(lastFam.Entries)-1]
	if first.ID == last.ID {
		return []Entry{first}
	}
	return []Entry{first, last}
}
