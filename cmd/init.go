// SPDX-License-Identifier: AGPL-3.0-or-later
package cmd

import (
	"bytes"
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/flowd-org/modelport/internal/configloader"
	"github.com/flowd-org/modelport/internal/types"
)

const configHeader = `# modelport configuration. Values here are overridden by MODELPORT_* environment
# variables and by command-line flags.
`

func NewInitCmd(opts *rootOptions) *cobra.Command {
	var force bool
	c := &cobra.Command{
		Use:   "init [path]",
		Short: "Write a starter " + configloader.DefaultFile,
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := configloader.DefaultFile
			if len(args) == 1 {
				path = args[0]
			}
			if _, err := os.Stat(path); err == nil && !force {
				return fmt.Errorf("%s already exists (use --force to overwrite)", path)
			} else if err != nil && !errors.Is(err, os.ErrNotExist) {
				return err
			}

			var buf bytes.Buffer
			buf.WriteString(configHeader)
			enc := yaml.NewEncoder(&buf)
			enc.SetIndent(2)
			if err := enc.Encode(types.Default()); err != nil {
				return fmt.Errorf("render config: %w", err)
			}
			if err := enc.Close(); err != nil {
				return err
			}
			if err := os.WriteFile(path, buf.Bytes(), 0o644); err != nil {
				return fmt.Errorf("writing %s: %w", path, err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "[OK] Wrote %s\n", path)
			return nil
		},
	}
	c.Flags().BoolVar(&force, "force", false, "Overwrite an existing file")
	return c
}
