// Package sweep expands experiment families into ordered engine
// invocations and drives them through a dispatcher one at a time.
package sweep

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"github.com/nvandessel/chaosrun/internal/experiment"
)

// DefaultTorDir is where TOR runs look for deployer files.
const DefaultTorDir = "cash-nightwing/tor-asn/"

// DefaultHonestTempFile is the single-line warden file HONEST runs rewrite
// for every target.
const DefaultHonestTempFile = "honestWardenTemp.txt"

// Setup errors. They are returned before anything is dispatched.
var (
	ErrMissingWarden   = errors.New("warden file must be provided for embargo evaluations")
	ErrMissingDeployer = errors.New("deployer file must be provided")
	ErrInputNotFound   = errors.New("input not found")
)

// vsPasses holds the --defection setting of each VS pass, in order.
var vsPasses = []bool{true}

// Params are the family-specific inputs of an expansion.
type Params struct {
	Warden   string
	Deployer string

	// Reversal is the fixed reversal mode of a STRAT sweep. Empty means NONE.
	Reversal experiment.ReversalMode

	NumRuns  int
	LogID    string
	WithBots bool
}

// Expander turns an experiment family into an ordered list of specs.
// Expansion is deterministic: the same family, params and filesystem state
// always yield the same sequence.
type Expander struct {
	Axes           experiment.Axes
	TorDir         string
	HonestTempFile string
}

// NewExpander returns an Expander over the default axes.
func NewExpander() *Expander {
	return &Expander{
		Axes:           experiment.DefaultAxes(),
		TorDir:         DefaultTorDir,
		HonestTempFile: DefaultHonestTempFile,
	}
}

// Expand validates the inputs family needs and returns its specs.
func (e *Expander) Expand(family experiment.Family, p Params) ([]experiment.ExperimentSpec, error) {
	if family.NeedsWarden() {
		if p.Warden == "" {
			return nil, ErrMissingWarden
		}
		if err := requireFile("warden file", p.Warden); err != nil {
			return nil, err
		}
	}
	if family.NeedsDeployer() {
		if p.Deployer == "" {
			return nil, fmt.Errorf("%s runs: %w", family, ErrMissingDeployer)
		}
		if err := requireFile("deployer file", p.Deployer); err != nil {
			return nil, err
		}
	}

	switch family {
	case experiment.FamilyStrat:
		rev := p.Reversal
		if rev == "" {
			rev = experiment.ReversalNone
		}
		return e.Strat(p.Warden, rev), nil
	case experiment.FamilyRev:
		return e.Rev(p.Warden), nil
	case experiment.FamilyFull:
		return e.Full(p.Warden), nil
	case experiment.FamilyDefection:
		return e.Defection(p.Warden), nil
	case experiment.FamilyPerf:
		return e.Perf(p.Warden), nil
	case experiment.FamilyHonest:
		return e.Honest(p.Warden, p.Deployer)
	case experiment.FamilyVS:
		return e.VS(p.Warden, p.Deployer), nil
	case experiment.FamilyTor:
		return e.Tor(p.Warden)
	case experiment.FamilyReactive:
		return []experiment.ExperimentSpec{e.Reactive(p)}, nil
	case experiment.FamilyDiversity:
		return []experiment.ExperimentSpec{e.cloud(experiment.FamilyDiversity, experiment.SimPathDiversity, p)}, nil
	case experiment.FamilyIntersection:
		return []experiment.ExperimentSpec{e.cloud(experiment.FamilyIntersection, experiment.SimPathIntersection, p)}, nil
	default:
		return nil, fmt.Errorf("unknown experiment family %q", family)
	}
}

// Strat sweeps every simulation mode against every strategy with a fixed
// reversal mode.
func (e *Expander) Strat(warden string, rev experiment.ReversalMode) []experiment.ExperimentSpec {
	return e.deployExplore(experiment.FamilyStrat, warden, e.Axes.Strategies, rev)
}

// Rev sweeps every simulation mode against the strategies that can lie,
// with reversal fixed to LYING.
func (e *Expander) Rev(warden string) []experiment.ExperimentSpec {
	return e.deployExplore(experiment.FamilyRev, warden, e.Axes.ReversalStrategies, experiment.ReversalLying)
}

// Full runs the REV sweep once per reversal mode.
func (e *Expander) Full(warden string) []experiment.ExperimentSpec {
	var specs []experiment.ExperimentSpec
	for _, rev := range e.Axes.ReversalModes {
		specs = append(specs, e.deployExplore(experiment.FamilyFull, warden, e.Axes.ReversalStrategies, rev)...)
	}
	return specs
}

func (e *Expander) deployExplore(family experiment.Family, warden string, strategies []experiment.Strategy, rev experiment.ReversalMode) []experiment.ExperimentSpec {
	specs := make([]experiment.ExperimentSpec, 0, len(e.Axes.SimulationModes)*len(strategies))
	for _, mode := range e.Axes.SimulationModes {
		for _, strat := range strategies {
			specs = append(specs, embargo(family, mode, warden, strat, rev, e.Axes.Optionals(mode)))
		}
	}
	return specs
}

// Defection runs the defection-count sweep on ORDERED for every lying
// strategy, then once for TIEBREAK without reversal.
func (e *Expander) Defection(warden string) []experiment.ExperimentSpec {
	specs := make([]experiment.ExperimentSpec, 0, len(e.Axes.ReversalStrategies)+1)
	for _, strat := range e.Axes.ReversalStrategies {
		specs = append(specs, embargo(experiment.FamilyDefection, experiment.SimOrdered, warden,
			strat, experiment.ReversalLying, slices.Clone(e.Axes.DefectionFlags)))
	}
	specs = append(specs, embargo(experiment.FamilyDefection, experiment.SimOrdered, warden,
		experiment.StrategyTieBreak, experiment.ReversalNone, slices.Clone(e.Axes.DefectionFlags)))
	return specs
}

// Perf is a single fixed-size defection run used for timing the engine.
func (e *Expander) Perf(warden string) []experiment.ExperimentSpec {
	return []experiment.ExperimentSpec{
		embargo(experiment.FamilyPerf, experiment.SimOrdered, warden,
			experiment.StrategyLocalPref, experiment.ReversalNone, slices.Clone(e.Axes.PerfFlags)),
	}
}

// Honest emits one HONESTEXPLORE spec per non-blank line of the warden
// file. Each spec points at the shared temp file and carries the exact line
// to stage there before it is dispatched.
func (e *Expander) Honest(warden, deployer string) ([]experiment.ExperimentSpec, error) {
	f, err := os.Open(warden)
	if err != nil {
		return nil, fmt.Errorf("opening warden file: %w", err)
	}
	defer f.Close()

	var specs []experiment.ExperimentSpec
	r := bufio.NewReader(f)
	for {
		line, readErr := r.ReadString('\n')
		if strings.TrimSpace(line) != "" {
			spec := embargo(experiment.FamilyHonest, experiment.SimHonestExplore, e.HonestTempFile,
				experiment.StrategyNone, experiment.ReversalHonest, []string{"--deployers", deployer})
			spec.WardenContent = line
			specs = append(specs, spec)
		}
		if readErr == io.EOF {
			break
		}
		if readErr != nil {
			return nil, fmt.Errorf("reading warden file: %w", readErr)
		}
	}
	return specs, nil
}

// VS pits the warden against a deployer file, once per entry of vsPasses.
func (e *Expander) VS(warden, deployer string) []experiment.ExperimentSpec {
	var specs []experiment.ExperimentSpec
	for _, defection := range vsPasses {
		opts := []string{"--deployers", deployer, "--nopathlog"}
		if defection {
			opts = append(opts, "--defection")
		}
		for _, strat := range e.Axes.Strategies {
			specs = append(specs, embargo(experiment.FamilyVS, experiment.SimVS, warden,
				strat, experiment.VSReversal(strat), slices.Clone(opts)))
		}
	}
	return specs
}

// Tor runs the VS comparison against every Tor deployer file. The directory
// is listed once, here; files whose name contains "-bw" are bandwidth
// tables, not deployer lists, and are skipped.
func (e *Expander) Tor(warden string) ([]experiment.ExperimentSpec, error) {
	entries, err := os.ReadDir(e.TorDir)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("tor directory %s: %w", e.TorDir, ErrInputNotFound)
		}
		return nil, fmt.Errorf("listing tor directory: %w", err)
	}

	var specs []experiment.ExperimentSpec
	for _, entry := range entries {
		if entry.IsDir() || strings.Contains(entry.Name(), "-bw") {
			continue
		}
		depFile := filepath.Join(e.TorDir, entry.Name())
		for _, strat := range e.Axes.Strategies {
			specs = append(specs, embargo(experiment.FamilyTor, experiment.SimVS, warden,
				strat, experiment.VSReversal(strat), []string{"--nopathlog", "--deployers", depFile}))
		}
	}
	return specs, nil
}

// Reactive is the single-critical NYX run.
func (e *Expander) Reactive(p Params) experiment.ExperimentSpec {
	return experiment.ExperimentSpec{
		Family:     experiment.FamilyReactive,
		Engine:     experiment.EngineNyx,
		Simulation: experiment.SimFullReactive,
		NumRuns:    p.NumRuns,
		LogID:      p.LogID,
		WithBots:   p.WithBots,
	}
}

func (e *Expander) cloud(family experiment.Family, sim experiment.SimulationMode, p Params) experiment.ExperimentSpec {
	return experiment.ExperimentSpec{
		Family:     family,
		Engine:     experiment.EngineCloud,
		Simulation: sim,
		NumRuns:    p.NumRuns,
		LogID:      p.LogID,
	}
}

func embargo(family experiment.Family, sim experiment.SimulationMode, warden string, strat experiment.Strategy, rev experiment.ReversalMode, extra []string) experiment.ExperimentSpec {
	return experiment.ExperimentSpec{
		Family:     family,
		Engine:     experiment.EngineEmbargo,
		Simulation: sim,
		Strategy:   strat,
		Reversal:   rev,
		WardenFile: warden,
		Extra:      extra,
	}
}

func requireFile(what, path string) error {
	if _, err := os.Stat(path); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("%s %s: %w", what, path, ErrInputNotFound)
		}
		return fmt.Errorf("checking %s: %w", what, err)
	}
	return nil
}
