package main

import (
	"context"
	"os"

	"github.com/nvandessel/chaosrun/internal/logging"
	"github.com/nvandessel/chaosrun/internal/mcp"
	"github.com/spf13/cobra"
)

func newMCPServerCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "mcp-server",
		Short: "Serve sweep planning and ledger queries over MCP (stdio)",
		Long: `Start an MCP server on stdin/stdout. The server exposes chaos_plan,
chaos_runs and chaos_sweeps. It never launches the engine.

Logs go to stderr so they do not interfere with the protocol stream.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			root, _ := cmd.Flags().GetString("root")

			cfg, err := loadDriverConfig(cmd)
			if err != nil {
				return err
			}
			logger := logging.NewLogger(cfg.Logging.Level, os.Stderr)

			server, err := mcp.NewServer(&mcp.Config{
				Name:    "chaosrun",
				Version: version,
				Root:    root,
				Driver:  cfg,
				Logger:  logger,
			})
			if err != nil {
				return err
			}

			ctx := cmd.Context()
			if ctx == nil {
				ctx = context.Background()
			}
			logger.Info("mcp server starting", "root", root, "version", version)
			return server.Run(ctx)
		},
	}
	cmd.Flags().String("root", ".", "Workspace root that tool paths are resolved against")
	return cmd
}
