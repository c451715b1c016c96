package main

import (
	"fmt"
	"os"

	"github.com/nvandessel/chaosrun/internal/config"
	"github.com/spf13/cobra"
)

// Set via ldflags at build time.
var (
	version = "0.1.0-dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "chaosrun",
		Short: "Experiment sweep driver for the Chaos engine",
		Long: `chaosrun expands an experiment family into its parameter sweep and runs
the Chaos engine once per combination, strictly one invocation at a time.

Every invocation is recorded in the experiment meta log and the run ledger
under logs/. Engine output is passed through unchanged.`,
		SilenceUsage: true,
	}

	// Global flags
	rootCmd.PersistentFlags().Bool("json", false, "Output as JSON (for agent consumption)")
	rootCmd.PersistentFlags().String("driver-config", "", "YAML file with driver settings (JVM, paths, build, notifications)")

	rootCmd.AddCommand(
		newVersionCmd(),
		newRunCmd(),
		newPlanCmd(),
		newRunsCmd(),
		newMCPServerCmd(),
	)
	return rootCmd
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			jsonOut, _ := cmd.Flags().GetBool("json")
			if jsonOut {
				writeJSON(cmd, map[string]string{
					"version": version,
					"commit":  commit,
					"date":    date,
				})
			} else {
				fmt.Fprintf(cmd.OutOrStdout(), "chaosrun version %s (commit: %s, built: %s)\n", version, commit, date)
			}
		},
	}
}

// loadDriverConfig loads and validates the --driver-config file plus
// CHAOSRUN_* overrides.
func loadDriverConfig(cmd *cobra.Command) (*config.Config, error) {
	path, _ := cmd.Flags().GetString("driver-config")
	cfg, err := config.Load(path)
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid driver config: %w", err)
	}
	return cfg, nil
}
