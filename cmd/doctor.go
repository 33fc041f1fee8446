// SPDX-License-Identifier: AGPL-3.0-or-later
package cmd

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/flowd-org/modelport/internal/coredb"
	"github.com/flowd-org/modelport/internal/engine"
)

var errUnhealthy = errors.New("doctor found problems")

func NewDoctorCmd(opts *rootOptions) *cobra.Command {
	var jsonOut bool
	c := &cobra.Command{
		Use:   "doctor",
		Short: "Check the interpreter, Python modules, download tool and directories",
		Long:  "doctor runs the same interpreter and module checks as an acquisition but never installs, downloads or exports.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := opts.bootstrap(cmd, false)
			if err != nil {
				return err
			}
			defer a.close()

			diag := a.engine(cmd).Diagnose(cmd.Context())
			if a.cfg.Journal.Enabled {
				diag.Checks = append(diag.Checks, journalCheck(cmd, a))
			}

			if jsonOut {
				payload := struct {
					Healthy bool           `json:"healthy"`
					Checks  []engine.Check `json:"checks"`
				}{diag.Healthy(), diag.Checks}
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				if err := enc.Encode(payload); err != nil {
					return err
				}
			} else {
				for _, ch := range diag.Checks {
					switch {
					case ch.OK:
						a.console.Success("✓ %s: %s", ch.Name, ch.Detail)
					case ch.Optional:
						a.console.Muted("- %s: %s", ch.Name, ch.Detail)
					default:
						a.console.Error("✗ %s: %s", ch.Name, ch.Detail)
					}
				}
			}
			if !diag.Healthy() {
				return reportedError{errUnhealthy}
			}
			return nil
		},
	}
	c.Flags().BoolVar(&jsonOut, "json", false, "Output checks as JSON")
	return c
}

// journalCheck opens the journal database and reports its footprint.
func journalCheck(cmd *cobra.Command, a *app) engine.Check {
	ch := engine.Check{Name: "journal", Optional: true}
	if err := a.openJournal(cmd.Context()); err != nil {
		ch.Detail = err.Error()
		return ch
	}
	stats, err := coredb.CollectStorageStats(cmd.Context(), a.db)
	if err != nil {
		ch.Detail = err.Error()
		return ch
	}
	ch.OK = stats.OK
	ch.Detail = fmt.Sprintf("%s, %s used, %d runs (%d failed), journal %s of %s", stats.Path,
		humanize.IBytes(uint64(stats.BytesUsed)), stats.Runs, stats.RunsByStatus[coredb.RunStatusFailed],
		humanize.IBytes(uint64(stats.JournalBytes)), humanize.IBytes(uint64(stats.JournalMaxBytes)))
	if stats.NearBudget {
		ch.Detail += ", oldest runs are being evicted"
	}
	return ch
}
