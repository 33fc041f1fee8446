// SPDX-License-Identifier: AGPL-3.0-or-later
package cmd

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/flowd-org/modelport/internal/coredb"
	"github.com/flowd-org/modelport/internal/engine"
	"github.com/flowd-org/modelport/internal/events"
)

func NewHistoryCmd(opts *rootOptions) *cobra.Command {
	var (
		jsonOut bool
		limit   int
		stage   string
	)
	c := &cobra.Command{
		Use:   "history [run-id]",
		Short: "Show recorded runs, or the events of one run",
		Args: func(cmd *cobra.Command, args []string) error {
			if len(args) > 1 {
				return fmt.Errorf("%w: expected at most one run id", engine.ErrUsage)
			}
			return nil
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			if stage != "" && len(args) == 0 {
				return fmt.Errorf("%w: --stage requires a run id", engine.ErrUsage)
			}
			a, err := opts.bootstrap(cmd, true)
			if err != nil {
				return err
			}
			defer a.close()
			if a.db == nil {
				return errors.New("the journal is disabled")
			}
			if len(args) == 1 {
				return showRun(cmd, a, args[0], stage, jsonOut)
			}
			return listRuns(cmd, a, limit, jsonOut)
		},
	}
	c.Flags().BoolVar(&jsonOut, "json", false, "Output as JSON")
	c.Flags().IntVar(&limit, "limit", 20, "Maximum number of runs to list")
	c.Flags().StringVar(&stage, "stage", "", "Only show events of one stage ("+strings.Join(engine.Stages(), "|")+")")
	return c
}

func listRuns(cmd *cobra.Command, a *app, limit int, jsonOut bool) error {
	runs, err := a.runs.List(cmd.Context(), limit)
	if err != nil {
		return err
	}
	out := cmd.OutOrStdout()
	if jsonOut {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		if runs == nil {
			runs = []coredb.RunRecord{}
		}
		return enc.Encode(runs)
	}
	if len(runs) == 0 {
		fmt.Fprintln(out, "(no runs recorded)")
		return nil
	}
	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "RUN ID\tMODEL\tSTATUS\tEXIT\tSTARTED\tDURATION")
	for _, r := range runs {
		dur := "-"
		if d := r.Duration(); d > 0 {
			dur = d.Round(time.Millisecond).String()
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%d\t%s\t%s\n", r.RunID, r.ModelID, r.Status, r.ExitCode, humanize.Time(r.StartedAt), dur)
	}
	return tw.Flush()
}

func showRun(cmd *cobra.Command, a *app, runID, stage string, jsonOut bool) error {
	ctx := cmd.Context()
	rec, err := a.runs.Get(ctx, runID)
	if err != nil {
		if errors.Is(err, coredb.ErrRunNotFound) {
			return fmt.Errorf("run %s not found", runID)
		}
		return err
	}
	var evs []events.RunEvent
	stages, err := a.journal.Stages(ctx, runID)
	if err != nil {
		return err
	}
	err = a.journal.ForEach(ctx, runID, coredb.Filter{Stage: stage}, func(entry coredb.JournalEntry) error {
		ev, derr := events.DecodeJournalEntry(entry)
		if derr != nil {
			return derr
		}
		evs = append(evs, ev)
		return nil
	})
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	if jsonOut {
		payload := struct {
			Run    coredb.RunRecord      `json:"run"`
			Stages []coredb.StageSummary `json:"stages"`
			Events []events.RunEvent     `json:"events"`
		}{rec, stages, evs}
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(payload)
	}

	fmt.Fprintf(out, "Run:      %s\n", rec.RunID)
	fmt.Fprintf(out, "Model:    %s\n", rec.ModelID)
	fmt.Fprintf(out, "Status:   %s (exit %d)\n", rec.Status, rec.ExitCode)
	fmt.Fprintf(out, "Started:  %s (%s)\n", rec.StartedAt.Local().Format(time.RFC3339), humanize.Time(rec.StartedAt))
	if rec.InstallOutcome != "" {
		fmt.Fprintf(out, "Install:  %s\n", rec.InstallOutcome)
	}
	if rec.ExportPath != "" {
		fmt.Fprintf(out, "Output:   %s\n", rec.ExportPath)
	}
	if rec.Error != "" {
		fmt.Fprintf(out, "Error:    %s\n", rec.Error)
	}
	if len(stages) > 0 {
		fmt.Fprintln(out)
		tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
		fmt.Fprintln(tw, "STAGE\tEVENTS\tLOG LINES\tSIZE\tSPAN")
		for _, st := range stages {
			fmt.Fprintf(tw, "%s\t%d\t%d\t%s\t%s\n", st.Stage, st.Events, st.LogLines,
				humanize.IBytes(uint64(st.Bytes)), st.LastAt.Sub(st.FirstAt).Round(time.Millisecond))
		}
		if err := tw.Flush(); err != nil {
			return err
		}
	}
	if len(evs) == 0 {
		return nil
	}
	fmt.Fprintln(out)
	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "SEQ\tTIME\tEVENT\tSTEP\tDETAIL")
	for _, ev := range evs {
		detail := ev.Message
		if detail == "" && len(ev.Data) > 0 {
			parts := make([]string, 0, len(ev.Data))
			for _, k := range []string{"model_id", "status", "exit_code", "error"} {
				if v, ok := ev.Data[k]; ok {
					parts = append(parts, fmt.Sprintf("%s=%v", k, v))
				}
			}
			detail = strings.Join(parts, " ")
		}
		fmt.Fprintf(tw, "%d\t%s\t%s\t%s\t%s\n", ev.Sequence, ev.Timestamp.Local().Format("15:04:05.000"), ev.Type, ev.Step, detail)
	}
	return tw.Flush()
}
