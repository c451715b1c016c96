package main

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/nvandessel/chaosrun/internal/ledger"
	"github.com/spf13/cobra"
)

func newRunsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "runs",
		Short: "Inspect sweeps and invocations recorded in the run ledger",
		RunE: func(cmd *cobra.Command, args []string) error {
			jsonOut, _ := cmd.Flags().GetBool("json")
			ledgerPath, _ := cmd.Flags().GetString("ledger")
			sweepID, _ := cmd.Flags().GetString("sweep")
			failedOnly, _ := cmd.Flags().GetBool("failed")
			limit, _ := cmd.Flags().GetInt("limit")
			showSweeps, _ := cmd.Flags().GetBool("sweeps")

			if ledgerPath == "" {
				cfg, err := loadDriverConfig(cmd)
				if err != nil {
					return err
				}
				ledgerPath = filepath.Join(cfg.Paths.LogsDir, "ledger.db")
			}
			if _, err := os.Stat(ledgerPath); err != nil {
				return fmt.Errorf("no ledger at %s: %w", ledgerPath, err)
			}

			ctx := cmd.Context()
			store, err := ledger.Open(ctx, ledgerPath)
			if err != nil {
				return err
			}
			defer store.Close()

			if showSweeps {
				sweeps, err := store.ListSweeps(ctx, limit)
				if err != nil {
					return err
				}
				if jsonOut {
					writeJSON(cmd, map[string]any{"sweeps": sweeps, "count": len(sweeps)})
					return nil
				}
				printSweeps(cmd, sweeps)
				return nil
			}

			runs, err := store.List(ctx, ledger.ListOptions{
				SweepID:    sweepID,
				FailedOnly: failedOnly,
				Limit:      limit,
			})
			if err != nil {
				return err
			}
			if jsonOut {
				writeJSON(cmd, map[string]any{"runs": runs, "count": len(runs)})
				return nil
			}
			printRuns(cmd, runs)
			return nil
		},
	}

	cmd.Flags().String("ledger", "", "Ledger database (default <logs>/ledger.db)")
	cmd.Flags().String("sweep", "", "Only show invocations of this sweep")
	cmd.Flags().Bool("failed", false, "Only show invocations that exited non-zero")
	cmd.Flags().Int("limit", 50, "Maximum rows to show (0 = all)")
	cmd.Flags().Bool("sweeps", false, "List sweeps instead of invocations")
	cmd.MarkFlagsMutuallyExclusive("sweeps", "sweep")
	cmd.MarkFlagsMutuallyExclusive("sweeps", "failed")
	return cmd
}

func printSweeps(cmd *cobra.Command, sweeps []ledger.Sweep) {
	if len(sweeps) == 0 {
		fmt.Fprintln(cmd.OutOrStdout(), "No sweeps recorded.")
		return
	}
	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "SWEEP\tFAMILY\tSTARTED\tDONE\tFAILED\tSTATUS")
	for _, sw := range sweeps {
		status := "running"
		if sw.FinishedAt != nil {
			status = "finished " + sw.FinishedAt.Sub(sw.StartedAt).Round(time.Second).String()
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%d/%d\t%d\t%s\n",
			sw.ID, sw.Family, sw.StartedAt.Format(time.DateTime), sw.Dispatched, sw.Planned, sw.Failures, status)
	}
	w.Flush()
}

func printRuns(cmd *cobra.Command, runs []ledger.Run) {
	if len(runs) == 0 {
		fmt.Fprintln(cmd.OutOrStdout(), "No invocations recorded.")
		return
	}
	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "SWEEP\tSEQ\tMODE\tSTRATEGY\tREVERSAL\tEXIT\tDURATION")
	for _, r := range runs {
		mode := r.EngineMode
		if r.SubMode != "" {
			mode += "/" + r.SubMode
		}
		fmt.Fprintf(w, "%s\t%d\t%s\t%s\t%s\t%d\t%s\n",
			r.SweepID, r.Seq, mode, dash(r.Strategy), dash(r.Reversal), r.ExitCode, r.Duration.Round(time.Millisecond))
	}
	w.Flush()
}

func dash(s string) string {
	if strings.TrimSpace(s) == "" {
		return "-"
	}
	return s
}
