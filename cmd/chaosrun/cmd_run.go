package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"time"

	"github.com/nvandessel/chaosrun/internal/config"
	"github.com/nvandessel/chaosrun/internal/engine"
	"github.com/nvandessel/chaosrun/internal/experiment"
	"github.com/nvandessel/chaosrun/internal/ledger"
	"github.com/nvandessel/chaosrun/internal/logging"
	"github.com/nvandessel/chaosrun/internal/notify"
	"github.com/nvandessel/chaosrun/internal/sweep"
	"github.com/nvandessel/chaosrun/internal/telemetry"
	"github.com/nvandessel/chaosrun/internal/workspace"
	"github.com/spf13/cobra"
)

// Replaced in tests.
var (
	newProcess = func(stdout, stderr io.Writer) engine.Process {
		return &engine.ExecProcess{Stdout: stdout, Stderr: stderr}
	}
	lookPath    = workspace.LookupExecutable
	newNotifier = func(c config.NotifyConfig) notify.Notifier {
		return notify.NewSMTPNotifier(c.Host, c.Port, c.Username, c.Password, c.From, c.To)
	}
	now = time.Now
)

// familyFlags maps each family selector flag to its family, in help order.
var familyFlags = []struct {
	flag   string
	family experiment.Family
	usage  string
}{
	{"strat", experiment.FamilyStrat, "Every strategy in ORDERED and GLOBAL mode, no reversal"},
	{"rev", experiment.FamilyRev, "Lying reversal across the strategies that can lie"},
	{"defection", experiment.FamilyDefection, "Defection-count sweep in ORDERED mode"},
	{"perf", experiment.FamilyPerf, "Single fixed-size defection run for timing"},
	{"full", experiment.FamilyFull, "Reversal sweep once per reversal mode"},
	{"honest", experiment.FamilyHonest, "One honest exploration per warden line (needs --deployer)"},
	{"vs", experiment.FamilyVS, "Warden against deployer (needs --deployer)"},
	{"tor", experiment.FamilyTor, "Warden against every Tor deployer file"},
	{"reactive", experiment.FamilyReactive, "Single-critical reactive run (NYX)"},
	{"diversity", experiment.FamilyDiversity, "Path diversity batch (CLOUD)"},
	{"intersection", experiment.FamilyIntersection, "Path intersection batch (CLOUD)"},
}

// addSweepFlags registers the flags shared by run and plan.
func addSweepFlags(cmd *cobra.Command) {
	names := make([]string, 0, len(familyFlags))
	for _, f := range familyFlags {
		cmd.Flags().Bool(f.flag, false, f.usage)
		names = append(names, f.flag)
	}
	cmd.MarkFlagsMutuallyExclusive(names...)
	cmd.MarkFlagsOneRequired(names...)

	cmd.Flags().Int("numRuns", 5, "Number of engine runs (reactive, diversity, intersection)")
	cmd.Flags().Bool("withBots", false, "Enable bots (reactive)")
	cmd.Flags().String("logId", "", "Log identifier passed to the engine and used in the notification")
	cmd.Flags().String("warden", "", "Warden file (required for embargo families)")
	cmd.Flags().String("deployer", "", "Deployer file (honest, vs)")
	cmd.Flags().String("jarFile", "", "Engine jar (required)")
	cmd.Flags().String("config", "config/default_config.yml", "Engine configuration file")
	cmd.Flags().String("tor-dir", "", "Directory of Tor deployer files (default from driver config)")
	cmd.MarkFlagRequired("jarFile")
}

// sweepRequest is everything run and plan read from the command line.
type sweepRequest struct {
	Family       experiment.Family
	Params       sweep.Params
	JarFile      string
	EngineConfig string
	TorDir       string
}

func readSweepFlags(cmd *cobra.Command) (sweepRequest, error) {
	var req sweepRequest
	for _, f := range familyFlags {
		if set, _ := cmd.Flags().GetBool(f.flag); set {
			req.Family = f.family
		}
	}
	if req.Family == "" {
		return req, fmt.Errorf("an experiment family flag is required")
	}

	numRuns, _ := cmd.Flags().GetInt("numRuns")
	if numRuns < 1 {
		return req, fmt.Errorf("--numRuns must be at least 1, got %d", numRuns)
	}
	withBots, _ := cmd.Flags().GetBool("withBots")
	logID, _ := cmd.Flags().GetString("logId")
	warden, _ := cmd.Flags().GetString("warden")
	deployer, _ := cmd.Flags().GetString("deployer")

	req.Params = sweep.Params{
		Warden:   warden,
		Deployer: deployer,
		Reversal: experiment.ReversalNone,
		NumRuns:  numRuns,
		LogID:    logID,
		WithBots: withBots,
	}
	req.JarFile, _ = cmd.Flags().GetString("jarFile")
	req.EngineConfig, _ = cmd.Flags().GetString("config")
	req.TorDir, _ = cmd.Flags().GetString("tor-dir")
	return req, nil
}

// expand builds the expander from the driver config and expands req.
func expand(cfg *config.Config, req sweepRequest) ([]experiment.ExperimentSpec, error) {
	expander := sweep.NewExpander()
	expander.TorDir = cfg.Paths.TorDir
	if req.TorDir != "" {
		expander.TorDir = req.TorDir
	}
	expander.HonestTempFile = cfg.Paths.HonestTempFile
	return expander.Expand(req.Family, req.Params)
}

func newPlanCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "plan",
		Short: "Print the engine invocations a sweep would run, without running them",
		RunE: func(cmd *cobra.Command, args []string) error {
			jsonOut, _ := cmd.Flags().GetBool("json")

			cfg, err := loadDriverConfig(cmd)
			if err != nil {
				return err
			}
			req, err := readSweepFlags(cmd)
			if err != nil {
				return err
			}
			specs, err := expand(cfg, req)
			if err != nil {
				return err
			}

			rt := cfg.Runtime(req.JarFile, req.EngineConfig)
			if jsonOut {
				type planned struct {
					Spec experiment.ExperimentSpec `json:"spec"`
					Argv []string                  `json:"argv"`
				}
				out := make([]planned, 0, len(specs))
				for _, spec := range specs {
					out = append(out, planned{Spec: spec, Argv: rt.Command(spec)})
				}
				writeJSON(cmd, map[string]any{
					"family": req.Family,
					"count":  len(out),
					"runs":   out,
				})
				return nil
			}

			w := cmd.OutOrStdout()
			for _, spec := range specs {
				if spec.WardenContent != "" {
					fmt.Fprintf(w, "# target: %q\n", spec.WardenContent)
				}
				fmt.Fprintln(w, rt.Command(spec).String())
			}
			return nil
		},
	}
	addSweepFlags(cmd)
	return cmd
}

func newRunCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Expand an experiment family and run every invocation in order",
		Long: `Run expands the selected experiment family, builds the engine, creates
fresh logs/ and serial/ directories and launches the engine once per
combination. Each invocation runs to completion before the next starts.

A non-zero engine exit is logged and recorded; the sweep continues. The
exit status of chaosrun reflects only setup and the build step.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			skipBuild, _ := cmd.Flags().GetBool("skip-build")
			jsonOut, _ := cmd.Flags().GetBool("json")

			cfg, err := loadDriverConfig(cmd)
			if err != nil {
				return err
			}
			logger := logging.NewLogger(cfg.Logging.Level, cmd.ErrOrStderr())

			req, err := readSweepFlags(cmd)
			if err != nil {
				return err
			}
			specs, err := expand(cfg, req)
			if err != nil {
				return err
			}
			if _, err := lookPath(cfg.Engine.Java); err != nil {
				return err
			}
			if err := workspace.CheckAbsent(cfg.Paths.LogsDir, cfg.Paths.SerialDir); err != nil {
				return err
			}

			ctx, stop := signalContext(cmd.Context())
			defer stop()

			if !skipBuild {
				logger.Info("building engine", "command", cfg.Build.Command)
				if err := workspace.RunBuild(ctx, cfg.Build.Command, cmd.OutOrStdout(), cmd.ErrOrStderr()); err != nil {
					return err
				}
			}

			started := now()
			layout, err := workspace.Bootstrap(cfg.Paths.LogsDir, cfg.Paths.SerialDir, started)
			if err != nil {
				return err
			}

			shutdown, err := telemetry.Setup(ctx, "chaosrun", version)
			if err != nil {
				logger.Warn("tracing disabled", "error", err)
			}
			defer func() {
				flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				if err := shutdown(flushCtx); err != nil {
					logger.Warn("failed to flush traces", "error", err)
				}
			}()

			metaLog, err := logging.OpenMetaLog(layout.MetaLogPath)
			if err != nil {
				return err
			}
			defer metaLog.Close()

			sweepID := fmt.Sprintf("%s-%s", req.Family, started.Format(workspace.MetaLogTimeFormat))
			recorders := []sweep.Recorder{sweep.MetaLogRecorder{Log: metaLog}}

			var store *ledger.Store
			if cfg.Ledger.Enabled {
				store, err = ledger.Open(ctx, layout.LedgerPath)
				if err != nil {
					return err
				}
				defer store.Close()
				if err := store.BeginSweep(ctx, ledger.Sweep{
					ID:        sweepID,
					Family:    string(req.Family),
					LogID:     req.Params.LogID,
					Planned:   len(specs),
					StartedAt: started,
				}); err != nil {
					return err
				}
				recorders = append(recorders, sweep.LedgerRecorder{Store: store})
			}

			if err := metaLog.Log(map[string]any{
				"event":   "sweep_start",
				"sweep":   sweepID,
				"family":  string(req.Family),
				"planned": len(specs),
				"jar":     req.JarFile,
				"config":  req.EngineConfig,
			}); err != nil {
				logger.Warn("failed to write meta log", "error", err)
			}

			dispatcher := engine.NewDispatcher(cfg.Runtime(req.JarFile, req.EngineConfig),
				newProcess(cmd.OutOrStdout(), cmd.ErrOrStderr()))
			driver := &sweep.Driver{
				Dispatcher: dispatcher,
				Recorders:  recorders,
				Logger:     logger,
				Now:        now,
			}

			logger.Info("starting sweep", "sweep", sweepID, "family", req.Family, "planned", len(specs))
			summary, runErr := driver.Run(ctx, sweepID, specs)

			// Bookkeeping after the sweep must not be skipped because ctx was
			// cancelled, so it uses a fresh context.
			finishCtx := context.WithoutCancel(ctx)
			if store != nil {
				if err := store.FinishSweep(finishCtx, sweepID, now(), summary.Dispatched, summary.Failures); err != nil {
					logger.Warn("failed to finish ledger sweep", "error", err)
				}
			}
			if err := metaLog.Log(map[string]any{
				"event":      "sweep_end",
				"sweep":      sweepID,
				"dispatched": summary.Dispatched,
				"failures":   summary.Failures,
				"elapsed_ms": summary.Elapsed.Milliseconds(),
			}); err != nil {
				logger.Warn("failed to write meta log", "error", err)
			}

			if cfg.Notify.Enabled {
				subject, body := notify.Completion(req.Params.LogID, req.Params.NumRuns, summary.Elapsed)
				if err := newNotifier(cfg.Notify).Send(finishCtx, subject, body); err != nil {
					logger.Warn("failed to send notification", "error", err)
				}
			}

			if jsonOut {
				writeJSON(cmd, map[string]any{
					"sweep":      summary.SweepID,
					"family":     req.Family,
					"planned":    summary.Planned,
					"dispatched": summary.Dispatched,
					"failures":   summary.Failures,
					"elapsed":    summary.Elapsed.String(),
					"meta_log":   layout.MetaLogPath,
				})
			} else {
				fmt.Fprintf(cmd.OutOrStdout(), "Sweep %s: %d/%d invocations dispatched, %d exited non-zero, took %s\n",
					summary.SweepID, summary.Dispatched, summary.Planned, summary.Failures, summary.Elapsed.Round(time.Second))
			}
			return runErr
		},
	}
	addSweepFlags(cmd)
	cmd.Flags().Bool("skip-build", false, "Do not run the engine build command before the sweep")
	return cmd
}

// signalContext returns a context cancelled on SIGINT/SIGTERM. Cancellation
// stops the sweep from launching further invocations.
func signalContext(parent context.Context) (context.Context, func()) {
	if parent == nil {
		parent = context.Background()
	}
	ctx, cancel := context.WithCancel(parent)

	sigChan := make(chan os.Signal, 1)
	notifySignals(sigChan)
	go func() {
		select {
		case <-sigChan:
			cancel()
		case <-ctx.Done():
		}
	}()

	return ctx, func() {
		signal.Stop(sigChan)
		cancel()
	}
}

func writeJSON(cmd *cobra.Command, v any) {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	enc.Encode(v)
}
