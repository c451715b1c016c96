package engine

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/nvandessel/chaosrun/internal/experiment"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

// ErrBusy is returned when Dispatch is called while an invocation is
// already running.
var ErrBusy = errors.New("dispatcher is already running an invocation")

// State is the dispatcher lifecycle state.
type State string

const (
	StateIdle    State = "idle"
	StateRunning State = "running"
)

// Dispatcher launches one engine invocation at a time and waits for it.
// It is safe for concurrent use, but never runs two invocations at once.
type Dispatcher struct {
	runtime Runtime
	proc    Process
	now     func() time.Time

	mu    sync.Mutex
	state State
}

// NewDispatcher returns an idle dispatcher. runtime is copied.
func NewDispatcher(runtime Runtime, proc Process) *Dispatcher {
	return &Dispatcher{
		runtime: runtime.clone(),
		proc:    proc,
		now:     time.Now,
		state:   StateIdle,
	}
}

// Runtime returns a copy of the dispatcher's runtime settings.
func (d *Dispatcher) Runtime() Runtime {
	return d.runtime.clone()
}

// State reports whether an invocation is in flight.
func (d *Dispatcher) State() State {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.state
}

// Command builds the invocation for spec without running it.
func (d *Dispatcher) Command(spec experiment.ExperimentSpec) InvocationCommand {
	return d.runtime.Command(spec)
}

// Dispatch stages any warden content spec carries, launches the engine and
// blocks until it exits. A non-zero exit code is reported in the result,
// not as an error. ctx only carries tracing; a started invocation is never
// cancelled.
func (d *Dispatcher) Dispatch(ctx context.Context, spec experiment.ExperimentSpec) (InvocationCommand, experiment.RunResult, error) {
	if !d.acquire() {
		return nil, experiment.RunResult{}, ErrBusy
	}
	defer d.release()

	_, span := otel.Tracer("chaosrun/engine").Start(ctx, "engine.dispatch")
	defer span.End()
	span.SetAttributes(
		attribute.String("chaos.engine", string(spec.Engine)),
		attribute.String("chaos.simulation", string(spec.Simulation)),
		attribute.String("chaos.strategy", string(spec.Strategy)),
		attribute.String("chaos.reversal", string(spec.Reversal)),
	)

	if spec.WardenContent != "" {
		if err := os.WriteFile(spec.WardenFile, []byte(spec.WardenContent), 0644); err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, "staging warden file")
			return nil, experiment.RunResult{}, fmt.Errorf("staging warden file: %w", err)
		}
	}

	argv := d.runtime.Command(spec)
	started := d.now()
	code, err := d.proc.Run(argv)
	result := experiment.RunResult{
		ExitCode: code,
		Started:  started,
		Duration: d.now().Sub(started),
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "launch failed")
		return argv, result, fmt.Errorf("launching engine: %w", err)
	}

	span.SetAttributes(attribute.Int("chaos.exit_code", code))
	if code != 0 {
		span.SetStatus(codes.Error, fmt.Sprintf("engine exited with status %d", code))
	}
	return argv, result, nil
}

func (d *Dispatcher) acquire() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.state == StateRunning {
		return false
	}
	d.state = StateRunning
	return true
}

func (d *Dispatcher) release() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.state = StateIdle
}
