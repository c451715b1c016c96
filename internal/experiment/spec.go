package experiment

import (
	"fmt"
	"slices"
	"strings"
	"time"
)

// Family selects which sweep the driver expands.
type Family string

const (
	FamilyStrat        Family = "strat"
	FamilyRev          Family = "rev"
	FamilyDefection    Family = "defection"
	FamilyPerf         Family = "perf"
	FamilyFull         Family = "full"
	FamilyHonest       Family = "honest"
	FamilyVS           Family = "vs"
	FamilyTor          Family = "tor"
	FamilyReactive     Family = "reactive"
	FamilyDiversity    Family = "diversity"
	FamilyIntersection Family = "intersection"
)

// Families lists every family in CLI order.
func Families() []Family {
	return []Family{
		FamilyStrat, FamilyRev, FamilyDefection, FamilyPerf, FamilyFull,
		FamilyHonest, FamilyVS, FamilyTor,
		FamilyReactive, FamilyDiversity, FamilyIntersection,
	}
}

// ParseFamily maps a family name (case-insensitive) to a Family.
func ParseFamily(s string) (Family, error) {
	f := Family(strings.ToLower(strings.TrimSpace(s)))
	if slices.Contains(Families(), f) {
		return f, nil
	}
	return "", fmt.Errorf("unknown experiment family %q", s)
}

// NeedsWarden reports whether the family runs the engine in EMBARGO mode and
// therefore requires a warden file.
func (f Family) NeedsWarden() bool {
	switch f {
	case FamilyReactive, FamilyDiversity, FamilyIntersection:
		return false
	default:
		return true
	}
}

// NeedsDeployer reports whether the family requires a deployer file.
func (f Family) NeedsDeployer() bool {
	return f == FamilyHonest || f == FamilyVS
}

// ExperimentSpec is one fully-bound engine invocation.
type ExperimentSpec struct {
	Family     Family         `json:"family"`
	Engine     EngineMode     `json:"engine"`
	Simulation SimulationMode `json:"simulation"`

	// EMBARGO selectors.
	Strategy   Strategy     `json:"strategy,omitempty"`
	Reversal   ReversalMode `json:"reversal,omitempty"`
	WardenFile string       `json:"warden_file,omitempty"`

	// WardenContent, when non-empty, is written over WardenFile right before
	// the invocation is launched. HONEST runs use it to feed one target at a
	// time through a shared temp file.
	WardenContent string `json:"warden_content,omitempty"`

	// CLOUD and NYX selectors.
	NumRuns  int    `json:"num_runs,omitempty"`
	LogID    string `json:"log_id,omitempty"`
	WithBots bool   `json:"with_bots,omitempty"`

	// Extra flags are appended after every other engine argument.
	Extra []string `json:"extra,omitempty"`
}

// Label is a short human-readable identifier used in logs.
func (s ExperimentSpec) Label() string {
	switch s.Engine {
	case EngineEmbargo:
		return fmt.Sprintf("%s/%s/%s/%s", s.Engine, s.Simulation, s.Strategy, s.Reversal)
	default:
		return fmt.Sprintf("%s/%s", s.Engine, s.Simulation)
	}
}

// RunResult is the observable outcome of one engine invocation.
type RunResult struct {
	ExitCode int           `json:"exit_code"`
	Started  time.Time     `json:"started"`
	Duration time.Duration `json:"duration"`
}

// Success reports whether the engine exited with status zero.
func (r RunResult) Success() bool {
	return r.ExitCode == 0
}
