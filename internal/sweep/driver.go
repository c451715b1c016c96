package sweep

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/nvandessel/chaosrun/internal/engine"
	"github.com/nvandessel/chaosrun/internal/experiment"
	"github.com/nvandessel/chaosrun/internal/logging"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
)

// Dispatcher runs a single spec to completion.
type Dispatcher interface {
	Dispatch(ctx context.Context, spec experiment.ExperimentSpec) (engine.InvocationCommand, experiment.RunResult, error)
}

// Run is the report of one finished invocation.
type Run struct {
	SweepID string
	Seq     int
	Spec    experiment.ExperimentSpec
	Command engine.InvocationCommand
	Result  experiment.RunResult
}

// Recorder receives every finished invocation. Recording failures are
// logged and never change what the sweep does next.
type Recorder interface {
	RecordRun(ctx context.Context, run Run) error
}

// Summary describes a completed (or interrupted) sweep.
type Summary struct {
	SweepID    string
	Planned    int
	Dispatched int
	Failures   int // invocations that exited non-zero
	Elapsed    time.Duration
}

// Driver dispatches specs strictly in order, one at a time.
type Driver struct {
	Dispatcher Dispatcher
	Recorders  []Recorder
	Logger     *slog.Logger
	Now        func() time.Time
}

// Run dispatches every spec in order. A non-zero engine exit is recorded
// and the sweep moves on. Run stops early only when the engine cannot be
// launched or ctx is cancelled between invocations; the invocation in
// flight when ctx is cancelled is still waited for.
func (d *Driver) Run(ctx context.Context, sweepID string, specs []experiment.ExperimentSpec) (Summary, error) {
	logger := d.Logger
	if logger == nil {
		logger = logging.Discard()
	}
	now := d.Now
	if now == nil {
		now = time.Now
	}

	ctx, span := otel.Tracer("chaosrun/sweep").Start(ctx, "sweep.run")
	defer span.End()
	span.SetAttributes(
		attribute.String("chaos.sweep_id", sweepID),
		attribute.Int("chaos.planned", len(specs)),
	)

	summary := Summary{SweepID: sweepID, Planned: len(specs)}
	start := now()

	for i, spec := range specs {
		if err := ctx.Err(); err != nil {
			logger.Warn("sweep interrupted", "sweep", sweepID, "dispatched", summary.Dispatched, "remaining", len(specs)-i)
			summary.Elapsed = now().Sub(start)
			return summary, fmt.Errorf("sweep %s interrupted before run %d: %w", sweepID, i, err)
		}

		logger.Info("dispatching", "sweep", sweepID, "index", i, "of", len(specs), "spec", spec.Label())
		if spec.WardenContent != "" {
			logger.Info("on target", "line", spec.WardenContent)
		}

		argv, result, err := d.Dispatcher.Dispatch(ctx, spec)
		if err != nil {
			summary.Elapsed = now().Sub(start)
			return summary, fmt.Errorf("run %d (%s): %w", i, spec.Label(), err)
		}
		logger.Log(ctx, logging.LevelTrace, "engine argv", "argv", argv.String())

		summary.Dispatched++
		if !result.Success() {
			summary.Failures++
			logger.Warn("engine exited non-zero", "sweep", sweepID, "index", i, "spec", spec.Label(), "exit_code", result.ExitCode)
		} else {
			logger.Info("done", "sweep", sweepID, "index", i, "spec", spec.Label(), "duration", result.Duration)
		}

		run := Run{SweepID: sweepID, Seq: i, Spec: spec, Command: argv, Result: result}
		for _, rec := range d.Recorders {
			if err := rec.RecordRun(ctx, run); err != nil {
				logger.Warn("failed to record run", "sweep", sweepID, "index", i, "error", err)
			}
		}
	}

	span.SetAttributes(
		attribute.Int("chaos.dispatched", summary.Dispatched),
		attribute.Int("chaos.failures", summary.Failures),
	)
	summary.Elapsed = now().Sub(start)
	return summary, nil
}
