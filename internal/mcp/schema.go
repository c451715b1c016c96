package mcp

import (
	"github.com/nvandessel/chaosrun/internal/ledger"
)

// PlanInput defines the input for the chaos_plan tool.
type PlanInput struct {
	Family       string `json:"family" jsonschema:"Experiment family: strat, rev, defection, perf, full, honest, vs, tor, reactive, diversity or intersection"`
	Warden       string `json:"warden,omitempty" jsonschema:"Warden file, relative to the workspace root (required for embargo families)"`
	Deployer     string `json:"deployer,omitempty" jsonschema:"Deployer file, relative to the workspace root (honest and vs)"`
	Reversal     string `json:"reversal,omitempty" jsonschema:"Reversal mode for strat sweeps: NONE (default) or LYING"`
	NumRuns      int    `json:"num_runs,omitempty" jsonschema:"Engine runs for cloud and reactive families (default 5)"`
	LogID        string `json:"log_id,omitempty" jsonschema:"Log identifier passed to cloud and reactive runs"`
	WithBots     bool   `json:"with_bots,omitempty" jsonschema:"Enable bots in the reactive run"`
	JarFile      string `json:"jar_file,omitempty" jsonschema:"Engine jar to show in the command lines (default target/chaos.jar)"`
	EngineConfig string `json:"engine_config,omitempty" jsonschema:"Engine configuration file (default config/default_config.yml)"`
	TorDir       string `json:"tor_dir,omitempty" jsonschema:"Directory of Tor deployer files, relative to the workspace root"`
}

// PlannedCommand is one engine invocation of a plan.
type PlannedCommand struct {
	Index         int      `json:"index"`
	Label         string   `json:"label"`
	Argv          []string `json:"argv"`
	Command       string   `json:"command"`
	WardenContent string   `json:"warden_content,omitempty"`
}

// PlanOutput defines the output for the chaos_plan tool.
type PlanOutput struct {
	Family   string           `json:"family" jsonschema:"Expanded family"`
	Count    int              `json:"count" jsonschema:"Number of engine invocations"`
	Commands []PlannedCommand `json:"commands" jsonschema:"Invocations in dispatch order"`
}

// RunsInput defines the input for the chaos_runs tool.
type RunsInput struct {
	SweepID    string `json:"sweep_id,omitempty" jsonschema:"Only return runs of this sweep"`
	FailedOnly bool   `json:"failed_only,omitempty" jsonschema:"Only return runs whose engine exited non-zero"`
	Limit      int    `json:"limit,omitempty" jsonschema:"Maximum number of runs to return (default 100)"`
}

// RunsOutput defines the output for the chaos_runs tool.
type RunsOutput struct {
	Runs    []ledger.Run `json:"runs" jsonschema:"Recorded runs in dispatch order"`
	Count   int          `json:"count" jsonschema:"Number of runs returned"`
	Message string       `json:"message,omitempty" jsonschema:"Human-readable note"`
}

// SweepsInput defines the input for the chaos_sweeps tool.
type SweepsInput struct {
	Limit int `json:"limit,omitempty" jsonschema:"Maximum number of sweeps to return (default 20)"`
}

// SweepsOutput defines the output for the chaos_sweeps tool.
type SweepsOutput struct {
	Sweeps  []ledger.Sweep `json:"sweeps" jsonschema:"Sweeps, most recent first"`
	Count   int            `json:"count" jsonschema:"Number of sweeps returned"`
	Message string         `json:"message,omitempty" jsonschema:"Human-readable note"`
}
