package sweep

import (
	"context"

	"github.com/nvandessel/chaosrun/internal/ledger"
	"github.com/nvandessel/chaosrun/internal/logging"
)

// MetaLogRecorder appends each run to the experiment meta log.
type MetaLogRecorder struct {
	Log *logging.MetaLog
}

// RecordRun implements Recorder.
func (r MetaLogRecorder) RecordRun(_ context.Context, run Run) error {
	event := map[string]any{
		"sweep":       run.SweepID,
		"index":       run.Seq,
		"family":      string(run.Spec.Family),
		"label":       run.Spec.Label(),
		"argv":        []string(run.Command),
		"exit_code":   run.Result.ExitCode,
		"started":     run.Result.Started.UTC(),
		"duration_ms": run.Result.Duration.Milliseconds(),
	}
	if run.Spec.WardenContent != "" {
		event["target"] = run.Spec.WardenContent
	}
	return r.Log.Log(event)
}

// LedgerRecorder stores each run in the SQLite ledger.
type LedgerRecorder struct {
	Store *ledger.Store
}

// RecordRun implements Recorder.
func (r LedgerRecorder) RecordRun(ctx context.Context, run Run) error {
	return r.Store.Record(ctx, ledger.Run{
		SweepID:    run.SweepID,
		Seq:        run.Seq,
		Family:     string(run.Spec.Family),
		EngineMode: string(run.Spec.Engine),
		SubMode:    string(run.Spec.Simulation),
		Strategy:   string(run.Spec.Strategy),
		Reversal:   string(run.Spec.Reversal),
		WardenFile: run.Spec.WardenFile,
		Argv:       run.Command,
		ExitCode:   run.Result.ExitCode,
		StartedAt:  run.Result.Started,
		Duration:   run.Result.Duration,
	})
}
