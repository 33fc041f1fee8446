// SPDX-License-Identifier: AGPL-3.0-or-later
package cmd

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/flowd-org/modelport/internal/configloader"
	"github.com/flowd-org/modelport/internal/engine"
)

func NewPlanCmd(opts *rootOptions) *cobra.Command {
	var format string
	c := &cobra.Command{
		Use:   "plan <model-id>",
		Short: "Preview an acquisition without downloading or running anything",
		Args: func(cmd *cobra.Command, args []string) error {
			if len(args) != 1 {
				return fmt.Errorf("%w: requires a model id, e.g. 'v8_n'", engine.ErrUsage)
			}
			return nil
		},
		ValidArgsFunction: func(cmd *cobra.Command, args []string, toComplete string) ([]string, cobra.ShellCompDirective) {
			if len(args) > 0 {
				return nil, cobra.ShellCompDirectiveNoFileComp
			}
			return completeModelIDs(opts, toComplete), cobra.ShellCompDirectiveNoFileComp
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := opts.bootstrap(cmd, false)
			if err != nil {
				return err
			}
			defer a.close()

			id := configloader.ResolveAlias(a.aliases, args[0])
			eng := &engine.Engine{Catalog: a.catalog, Config: *a.cfg, LookPath: lookPath}
			plan, err := eng.Plan(id)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			switch format {
			case "json":
				enc := json.NewEncoder(out)
				enc.SetIndent("", "  ")
				return enc.Encode(plan)
			case "yaml":
				return yaml.NewEncoder(out).Encode(plan)
			case "", "text":
			default:
				return fmt.Errorf("%w: unsupported format %q (text|json|yaml)", engine.ErrUsage, format)
			}

			fmt.Fprintf(out, "Model: %s (%s %s)\n", plan.ModelID, plan.Family, plan.Size)
			fmt.Fprintf(out, "URL: %s\n", plan.URL)
			if plan.DownloadNeeded {
				fmt.Fprintf(out, "Download: %s\n", plan.ArtifactPath)
				for _, t := range plan.Requirements.Tools {
					fmt.Fprintf(out, "  - %s: %s\n", t.Name, t.Status)
				}
			} else {
				fmt.Fprintf(out, "Download: skipped, %s already exists\n", plan.ArtifactPath)
			}
			fmt.Fprintf(out, "Interpreter: %s\n", plan.Interpreter)
			modules := make([]string, 0, len(plan.Requirements.Modules))
			for _, m := range plan.Requirements.Modules {
				modules = append(modules, m.Module)
			}
			fmt.Fprintf(out, "Modules: %s\n", strings.Join(modules, ", "))
			install := "ask before installing"
			switch {
			case !plan.AutoInstall:
				install = "disabled"
			case a.cfg.Install.AssumeYes:
				install = "install without asking"
			}
			fmt.Fprintf(out, "Missing modules: %s\n", install)
			fmt.Fprintf(out, "Export: opset %d, simplify %t\n", plan.Export.Opset, plan.Export.Simplify)
			fmt.Fprintf(out, "  %s\n", plan.Export.Snippet)
			fmt.Fprintf(out, "Output: %s\n", plan.ExportPath)
			return nil
		},
	}
	c.Flags().StringVarP(&format, "output", "o", "text", "Output format (text|json|yaml)")
	return c
}
