// SPDX-License-Identifier: AGPL-3.0-or-later
package cmd

import (
	"encoding/json"
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/flowd-org/modelport/internal/catalog"
	"github.com/flowd-org/modelport/internal/configloader"
)

func NewListCmd(opts *rootOptions) *cobra.Command {
	var jsonOut bool
	c := &cobra.Command{
		Use:   "list",
		Short: "List the models in the catalog",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := opts.bootstrap(cmd, false)
			if err != nil {
				return err
			}
			defer a.close()
			out := cmd.OutOrStdout()

			if jsonOut {
				payload := struct {
					Models  []catalog.Entry   `json:"models"`
					Aliases map[string]string `json:"aliases,omitempty"`
				}{a.catalog.All(), a.aliases}
				enc := json.NewEncoder(out)
				enc.SetIndent("", "  ")
				return enc.Encode(payload)
			}

			tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "ID\tFAMILY\tSIZE\tSIMPLIFY\tURL")
			for _, e := range a.catalog.All() {
				fmt.Fprintf(tw, "%s\t%s\t%s\t%t\t%s\n", e.ID, e.Family, e.Size, e.NeedsSimplify, e.URL)
			}
			if err := tw.Flush(); err != nil {
				return err
			}

			if names := configloader.AliasNames(a.aliases); len(names) > 0 {
				fmt.Fprintln(out)
				fmt.Fprintln(out, "ALIASES")
				tw = tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
				fmt.Fprintln(tw, "NAME\tTARGET")
				for _, name := range names {
					fmt.Fprintf(tw, "%s\t%s\n", name, a.aliases[name])
				}
				return tw.Flush()
			}
			return nil
		},
	}
	c.Flags().BoolVar(&jsonOut, "json", false, "Output the catalog as JSON")
	return c
}
