// Package experiment defines the parameter axes and the fully-bound
// experiment specifications that the sweep expander produces and the
// engine dispatcher consumes.
package experiment

import "slices"

// EngineMode selects the top-level operating mode of the Chaos engine (-m).
type EngineMode string

const (
	EngineEmbargo EngineMode = "EMBARGO" // warden/deployer path exploration sweeps
	EngineCloud   EngineMode = "CLOUD"   // batch path diversity/intersection runs
	EngineNyx     EngineMode = "NYX"     // reactive-defense runs
)

// SimulationMode is the engine sub-mode (-s).
type SimulationMode string

const (
	SimOrdered          SimulationMode = "ORDERED"
	SimGlobal           SimulationMode = "GLOBAL"
	SimHonestExplore    SimulationMode = "HONESTEXPLORE"
	SimVS               SimulationMode = "VS"
	SimPathDiversity    SimulationMode = "PATH_DIVERSITY"
	SimPathIntersection SimulationMode = "PATH_INTERSECTION"
	SimFullReactive     SimulationMode = "FULL_REACTIVE"
)

// Strategy is the warden path-selection policy (-ws).
type Strategy string

const (
	StrategyLocalPref Strategy = "LOCALPREF"
	StrategyPathLen   Strategy = "PATHLEN"
	StrategyTieBreak  Strategy = "TIEBREAK"
	StrategyLegacy    Strategy = "LEGACY"
	StrategyNone      Strategy = "NONE"
)

// ReversalMode is how the adversary reports reverse paths (-rs).
type ReversalMode string

const (
	ReversalNone   ReversalMode = "NONE"
	ReversalLying  ReversalMode = "LYING"
	ReversalHonest ReversalMode = "HONEST"
)

// Axes holds the ordered value lists and flag sets a sweep is expanded over.
// The zero value is empty; use DefaultAxes.
type Axes struct {
	SimulationModes []SimulationMode
	Strategies      []Strategy

	// ReversalStrategies is the strategy list for reversal sweeps (REV, FULL,
	// DEFECTION). TIEBREAK has no notion of lying so it is left out.
	ReversalStrategies []Strategy
	ReversalModes      []ReversalMode

	// ModeOptionals maps each simulation mode to the flags appended to its
	// strategy sweeps.
	ModeOptionals  map[SimulationMode][]string
	DefectionFlags []string
	PerfFlags      []string
}

// DefaultAxes returns the axes used by every experiment family.
// Each call returns fresh slices that callers may modify.
func DefaultAxes() Axes {
	return Axes{
		SimulationModes:    []SimulationMode{SimOrdered, SimGlobal},
		Strategies:         []Strategy{StrategyLocalPref, StrategyPathLen, StrategyTieBreak, StrategyLegacy},
		ReversalStrategies: []Strategy{StrategyLocalPref, StrategyPathLen, StrategyLegacy},
		ReversalModes:      []ReversalMode{ReversalNone, ReversalLying},
		ModeOptionals: map[SimulationMode][]string{
			SimOrdered: {"--coverageOrdering", "--nopathlog"},
			SimGlobal:  {"--coverageOrdering", "--nopathlog"},
		},
		DefectionFlags: []string{
			"--coverageOrdering", "--defection",
			"--dcountstart", "10", "--dcountend", "70", "--dcountstep", "20",
		},
		PerfFlags: []string{
			"--coverageOrdering",
			"--dcountstart", "10", "--dcountend", "10", "--dcountstep", "10",
			"--defection",
		},
	}
}

// Optionals returns a copy of the optional flags for mode.
func (a Axes) Optionals(mode SimulationMode) []string {
	return slices.Clone(a.ModeOptionals[mode])
}

// VSReversal returns the reversal mode paired with strategy in deployer
// (VS and TOR) runs: TIEBREAK cannot lie, everything else does.
func VSReversal(s Strategy) ReversalMode {
	if s == StrategyTieBreak {
		return ReversalNone
	}
	return ReversalLying
}
