package mcp

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	sdk "github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/nvandessel/chaosrun/internal/experiment"
	"github.com/nvandessel/chaosrun/internal/ledger"
	"github.com/nvandessel/chaosrun/internal/pathutil"
	"github.com/nvandessel/chaosrun/internal/ratelimit"
	"github.com/nvandessel/chaosrun/internal/sweep"
)

const (
	defaultJarFile      = "target/chaos.jar"
	defaultEngineConfig = "config/default_config.yml"
	defaultNumRuns      = 5
	defaultRunsLimit    = 100
	defaultSweepsLimit  = 20
)

// registerTools registers all chaos MCP tools with the server.
func (s *Server) registerTools() {
	sdk.AddTool(s.server, &sdk.Tool{
		Name:        "chaos_plan",
		Description: "Expand an experiment family into the ordered engine command lines a sweep would run, without launching anything",
	}, s.handleChaosPlan)

	sdk.AddTool(s.server, &sdk.Tool{
		Name:        "chaos_runs",
		Description: "List engine invocations recorded in the run ledger",
	}, s.handleChaosRuns)

	sdk.AddTool(s.server, &sdk.Tool{
		Name:        "chaos_sweeps",
		Description: "List sweeps recorded in the run ledger, most recent first",
	}, s.handleChaosSweeps)
}

// handleChaosPlan implements the chaos_plan tool.
func (s *Server) handleChaosPlan(ctx context.Context, req *sdk.CallToolRequest, args PlanInput) (_ *sdk.CallToolResult, _ PlanOutput, retErr error) {
	start := time.Now()
	defer func() {
		s.auditTool("chaos_plan", start, retErr, sanitizeToolParams(map[string]any{
			"family": args.Family, "reversal": args.Reversal, "num_runs": args.NumRuns,
			"warden": args.Warden, "deployer": args.Deployer, "tor_dir": args.TorDir,
		}))
	}()

	if err := ratelimit.CheckLimit(s.limiters, "chaos_plan"); err != nil {
		return nil, PlanOutput{}, err
	}

	family, err := experiment.ParseFamily(args.Family)
	if err != nil {
		return nil, PlanOutput{}, err
	}

	params := sweep.Params{
		NumRuns:  args.NumRuns,
		LogID:    args.LogID,
		WithBots: args.WithBots,
	}
	if params.NumRuns <= 0 {
		params.NumRuns = defaultNumRuns
	}
	switch args.Reversal {
	case "", string(experiment.ReversalNone):
		params.Reversal = experiment.ReversalNone
	case string(experiment.ReversalLying):
		params.Reversal = experiment.ReversalLying
	default:
		return nil, PlanOutput{}, fmt.Errorf("invalid reversal %q (valid: NONE, LYING)", args.Reversal)
	}
	if args.Warden != "" {
		if params.Warden, err = pathutil.Resolve(s.root, args.Warden); err != nil {
			return nil, PlanOutput{}, fmt.Errorf("warden: %w", err)
		}
	}
	if args.Deployer != "" {
		if params.Deployer, err = pathutil.Resolve(s.root, args.Deployer); err != nil {
			return nil, PlanOutput{}, fmt.Errorf("deployer: %w", err)
		}
	}

	expander := sweep.NewExpander()
	torDir := args.TorDir
	if torDir == "" {
		torDir = s.driver.Paths.TorDir
	}
	if expander.TorDir, err = pathutil.Resolve(s.root, torDir); err != nil {
		return nil, PlanOutput{}, fmt.Errorf("tor_dir: %w", err)
	}
	if expander.HonestTempFile, err = pathutil.Resolve(s.root, s.driver.Paths.HonestTempFile); err != nil {
		return nil, PlanOutput{}, fmt.Errorf("honest temp file: %w", err)
	}

	specs, err := expander.Expand(family, params)
	if err != nil {
		return nil, PlanOutput{}, err
	}

	jar := args.JarFile
	if jar == "" {
		jar = defaultJarFile
	}
	engineConfig := args.EngineConfig
	if engineConfig == "" {
		engineConfig = defaultEngineConfig
	}
	rt := s.driver.Runtime(jar, engineConfig)

	commands := make([]PlannedCommand, 0, len(specs))
	for i, spec := range specs {
		argv := rt.Command(spec)
		commands = append(commands, PlannedCommand{
			Index:         i,
			Label:         spec.Label(),
			Argv:          argv,
			Command:       argv.String(),
			WardenContent: spec.WardenContent,
		})
	}

	return nil, PlanOutput{
		Family:   string(family),
		Count:    len(commands),
		Commands: commands,
	}, nil
}

// handleChaosRuns implements the chaos_runs tool.
func (s *Server) handleChaosRuns(ctx context.Context, req *sdk.CallToolRequest, args RunsInput) (_ *sdk.CallToolResult, _ RunsOutput, retErr error) {
	start := time.Now()
	defer func() {
		s.auditTool("chaos_runs", start, retErr, sanitizeToolParams(map[string]any{
			"sweep_id": args.SweepID, "failed_only": args.FailedOnly, "limit": args.Limit,
		}))
	}()

	if err := ratelimit.CheckLimit(s.limiters, "chaos_runs"); err != nil {
		return nil, RunsOutput{}, err
	}

	store, err := s.openLedger(ctx)
	if err != nil {
		return nil, RunsOutput{}, err
	}
	if store == nil {
		return nil, RunsOutput{Runs: []ledger.Run{}, Message: "no ledger has been written yet"}, nil
	}
	defer store.Close()

	limit := args.Limit
	if limit <= 0 {
		limit = defaultRunsLimit
	}
	runs, err := store.List(ctx, ledger.ListOptions{
		SweepID:    args.SweepID,
		FailedOnly: args.FailedOnly,
		Limit:      limit,
	})
	if err != nil {
		return nil, RunsOutput{}, err
	}
	if runs == nil {
		runs = []ledger.Run{}
	}

	return nil, RunsOutput{Runs: runs, Count: len(runs)}, nil
}

// handleChaosSweeps implements the chaos_sweeps tool.
func (s *Server) handleChaosSweeps(ctx context.Context, req *sdk.CallToolRequest, args SweepsInput) (_ *sdk.CallToolResult, _ SweepsOutput, retErr error) {
	start := time.Now()
	defer func() {
		s.auditTool("chaos_sweeps", start, retErr, sanitizeToolParams(map[string]any{"limit": args.Limit}))
	}()

	if err := ratelimit.CheckLimit(s.limiters, "chaos_sweeps"); err != nil {
		return nil, SweepsOutput{}, err
	}

	store, err := s.openLedger(ctx)
	if err != nil {
		return nil, SweepsOutput{}, err
	}
	if store == nil {
		return nil, SweepsOutput{Sweeps: []ledger.Sweep{}, Message: "no ledger has been written yet"}, nil
	}
	defer store.Close()

	limit := args.Limit
	if limit <= 0 {
		limit = defaultSweepsLimit
	}
	sweeps, err := store.ListSweeps(ctx, limit)
	if err != nil {
		return nil, SweepsOutput{}, err
	}
	if sweeps == nil {
		sweeps = []ledger.Sweep{}
	}

	return nil, SweepsOutput{Sweeps: sweeps, Count: len(sweeps)}, nil
}

// openLedger opens the ledger if a sweep has created it. It returns a nil
// store when there is nothing to read.
func (s *Server) openLedger(ctx context.Context) (*ledger.Store, error) {
	if _, err := os.Stat(s.ledgerPath); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("checking ledger: %w", err)
	}
	store, err := ledger.Open(ctx, s.ledgerPath)
	if err != nil {
		return nil, err
	}
	return store, nil
}
