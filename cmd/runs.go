package cmd

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"

	"github.com/example/slotgrab/internal/history"
)

func newRunsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "runs",
		Short: "Inspect recorded runs",
	}
	cmd.AddCommand(newRunsListCmd())
	cmd.AddCommand(newRunsShowCmd())
	return cmd
}

// withHistory opens the configured store for a read-only command.
func withHistory(cmd *cobra.Command, fn func(history.Store) error) error {
	cfg, _, err := loadEnv(cmd)
	if err != nil {
		return err
	}
	store, err := history.Open(cmd.Context(), cfg.History())
	if err != nil {
		return err
	}
	if store == nil {
		return errors.New("run history is disabled (HISTORY_DRIVER=none)")
	}
	defer store.Close()
	return fn(store)
}

func newRunsListCmd() *cobra.Command {
	var (
		limit  int
		asJSON bool
	)
	c := &cobra.Command{
		Use:   "list",
		Short: "List the most recent runs",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withHistory(cmd, func(store history.Store) error {
				runs, err := store.ListRuns(cmd.Context(), limit)
				if err != nil {
					return err
				}
				if asJSON {
					enc := json.NewEncoder(cmd.OutOrStdout())
					enc.SetIndent("", "  ")
					return enc.Encode(runs)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(cmd.OutOrStdout())
				tw.AppendHeader(table.Row{"ID", "Started", "Unit/Dept", "Dates", "Mode", "State", "Attempts", "Took", "Summary"})
				for _, r := range runs {
					mode := "plain"
					if r.Snipe {
						mode = "snipe"
					}
					took := "-"
					if r.Finished() {
						took = r.Duration().Round(time.Millisecond).String()
					}
					tw.AppendRow(table.Row{
						r.ID, r.StartedAt.Local().Format(time.DateTime), r.UnitID + "/" + r.DepartmentID,
						strings.Join(r.Dates, ","), mode, r.State, r.Attempts, took, r.Summary,
					})
				}
				tw.Render()
				return nil
			})
		},
	}
	c.Flags().IntVar(&limit, "limit", 20, "maximum runs to show, 0 for all")
	c.Flags().BoolVar(&asJSON, "json", false, "print JSON instead of a table")
	return c
}

func newRunsShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show RUN_ID",
		Short: "Show one run and its claim attempts",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withHistory(cmd, func(store history.Store) error {
				run, err := store.GetRun(cmd.Context(), args[0])
				if err != nil {
					return fmt.Errorf("run %s: %w", args[0], err)
				}
				attempts, err := store.ListAttempts(cmd.Context(), run.ID)
				if err != nil {
					return err
				}

				out := cmd.OutOrStdout()
				fmt.Fprintf(out, "run %s  state=%s attempts=%d\n", run.ID, run.State, run.Attempts)
				if run.Summary != "" {
					fmt.Fprintln(out, run.Summary)
				}
				if run.Reason != "" && run.State != "succeeded" {
					fmt.Fprintf(out, "reason: %s\n", run.Reason)
				}

				tw := table.NewWriter()
				tw.SetOutputMirror(out)
				tw.AppendHeader(table.Row{"#", "At", "Mode", "Date", "Doctor", "Schedule", "Time", "Outcome", "Reason", "Diagnostic"})
				for _, a := range attempts {
					tw.AppendRow(table.Row{
						a.Attempt, a.At.Local().Format("15:04:05.000"), a.Mode, a.Date, a.DoctorID,
						a.ScheduleID, a.TimeLabel, a.Outcome, a.Reason, a.DiagnosticRef,
					})
				}
				tw.Render()
				return nil
			})
		},
	}
}
