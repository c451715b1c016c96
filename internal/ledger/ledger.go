// Package ledger records sweeps and engine invocations in a SQLite database
// so a finished (or interrupted) sweep can be inspected afterwards.
package ledger

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	_ "modernc.org/sqlite" // SQLite driver
)

// ErrSweepNotFound is returned when a sweep ID has no ledger row.
var ErrSweepNotFound = errors.New("sweep not found")

// Sweep is one driver invocation.
type Sweep struct {
	ID         string     `json:"id"`
	Family     string     `json:"family"`
	LogID      string     `json:"log_id,omitempty"`
	Planned    int        `json:"planned"`
	StartedAt  time.Time  `json:"started_at"`
	FinishedAt *time.Time `json:"finished_at,omitempty"`
	Dispatched int        `json:"dispatched"`
	Failures   int        `json:"failures"`
}

// Run is one engine invocation within a sweep.
type Run struct {
	SweepID    string        `json:"sweep_id"`
	Seq        int           `json:"seq"`
	Family     string        `json:"family"`
	EngineMode string        `json:"engine_mode"`
	SubMode    string        `json:"sub_mode"`
	Strategy   string        `json:"strategy,omitempty"`
	Reversal   string        `json:"reversal,omitempty"`
	WardenFile string        `json:"warden_file,omitempty"`
	Argv       []string      `json:"argv"`
	ExitCode   int           `json:"exit_code"`
	StartedAt  time.Time     `json:"started_at"`
	Duration   time.Duration `json:"duration"`
}

// ListOptions filters List.
type ListOptions struct {
	SweepID    string
	FailedOnly bool
	Limit      int // 0 = no limit
}

// Store is a SQLite-backed ledger.
type Store struct {
	mu   sync.Mutex
	db   *sql.DB
	path string
}

// Open opens (or creates) the ledger database at path.
func Open(ctx context.Context, path string) (*Store, error) {
	db, err := sql.Open("sqlite", path+"?_pragma=foreign_keys(1)&_pragma=journal_mode(WAL)")
	if err != nil {
		return nil, fmt.Errorf("failed to open ledger: %w", err)
	}

	// SQLite works best with single writer
	db.SetMaxOpenConns(1)

	if err := InitSchema(ctx, db); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize ledger schema: %w", err)
	}

	return &Store{db: db, path: path}, nil
}

// Path returns the database file path.
func (s *Store) Path() string {
	return s.path
}

// BeginSweep inserts the sweep row. Runs may only be recorded for a sweep
// that has begun.
func (s *Store) BeginSweep(ctx context.Context, sw Sweep) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if sw.ID == "" {
		return fmt.Errorf("sweep ID is required")
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO sweeps (id, family, log_id, planned, started_at)
		VALUES (?, ?, ?, ?, ?)`,
		sw.ID, sw.Family, sw.LogID, sw.Planned, sw.StartedAt.UTC().Format(time.RFC3339Nano))
	if err != nil {
		return fmt.Errorf("failed to insert sweep %s: %w", sw.ID, err)
	}
	return nil
}

// FinishSweep stamps the sweep's finish time and dispatch counters.
func (s *Store) FinishSweep(ctx context.Context, id string, finishedAt time.Time, dispatched, failures int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.ExecContext(ctx, `
		UPDATE sweeps SET finished_at = ?, dispatched = ?, failures = ?
		WHERE id = ?`,
		finishedAt.UTC().Format(time.RFC3339Nano), dispatched, failures, id)
	if err != nil {
		return fmt.Errorf("failed to finish sweep %s: %w", id, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("finish sweep %s: %w", id, ErrSweepNotFound)
	}
	return nil
}

// Record inserts one run.
func (s *Store) Record(ctx context.Context, r Run) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	argv, err := json.Marshal(r.Argv)
	if err != nil {
		return fmt.Errorf("failed to marshal argv: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO runs (sweep_id, seq, family, engine_mode, sub_mode, strategy, reversal,
		                  warden_file, argv, exit_code, started_at, duration_ms)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		r.SweepID, r.Seq, r.Family, r.EngineMode, r.SubMode, r.Strategy, r.Reversal,
		r.WardenFile, string(argv), r.ExitCode,
		r.StartedAt.UTC().Format(time.RFC3339Nano), r.Duration.Milliseconds())
	if err != nil {
		return fmt.Errorf("failed to record run %s#%d: %w", r.SweepID, r.Seq, err)
	}
	return nil
}

// GetSweep returns one sweep by ID.
func (s *Store) GetSweep(ctx context.Context, id string) (*Sweep, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	row := s.db.QueryRowContext(ctx, `
		SELECT id, family, log_id, planned, started_at, finished_at, dispatched, failures
		FROM sweeps WHERE id = ?`, id)
	sw, err := scanSweep(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("sweep %s: %w", id, ErrSweepNotFound)
	}
	return sw, err
}

// ListSweeps returns sweeps, most recent first.
func (s *Store) ListSweeps(ctx context.Context, limit int) ([]Sweep, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	query := `SELECT id, family, log_id, planned, started_at, finished_at, dispatched, failures
		FROM sweeps ORDER BY started_at DESC`
	var args []any
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query sweeps: %w", err)
	}
	defer rows.Close()

	var sweeps []Sweep
	for rows.Next() {
		sw, err := scanSweep(rows)
		if err != nil {
			return nil, err
		}
		sweeps = append(sweeps, *sw)
	}
	return sweeps, rows.Err()
}

// List returns runs in (sweep start, seq) order.
func (s *Store) List(ctx context.Context, opts ListOptions) ([]Run, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var where []string
	var args []any
	if opts.SweepID != "" {
		where = append(where, "r.sweep_id = ?")
		args = append(args, opts.SweepID)
	}
	if opts.FailedOnly {
		where = append(where, "r.exit_code != 0")
	}

	query := `SELECT r.sweep_id, r.seq, r.family, r.engine_mode, r.sub_mode, r.strategy, r.reversal,
		r.warden_file, r.argv, r.exit_code, r.started_at, r.duration_ms
		FROM runs r JOIN sweeps s ON s.id = r.sweep_id`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY s.started_at, r.sweep_id, r.seq"
	if opts.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, opts.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query runs: %w", err)
	}
	defer rows.Close()

	var runs []Run
	for rows.Next() {
		var (
			r          Run
			strategy   sql.NullString
			reversal   sql.NullString
			warden     sql.NullString
			argvJSON   string
			startedAt  string
			durationMS int64
		)
		if err := rows.Scan(&r.SweepID, &r.Seq, &r.Family, &r.EngineMode, &r.SubMode,
			&strategy, &reversal, &warden, &argvJSON, &r.ExitCode, &startedAt, &durationMS); err != nil {
			return nil, fmt.Errorf("failed to scan run: %w", err)
		}
		r.Strategy = strategy.String
		r.Reversal = reversal.String
		r.WardenFile = warden.String
		if err := json.Unmarshal([]byte(argvJSON), &r.Argv); err != nil {
			return nil, fmt.Errorf("failed to decode argv of %s#%d: %w", r.SweepID, r.Seq, err)
		}
		if r.StartedAt, err = time.Parse(time.RFC3339Nano, startedAt); err != nil {
			return nil, fmt.Errorf("failed to parse started_at of %s#%d: %w", r.SweepID, r.Seq, err)
		}
		r.Duration = time.Duration(durationMS) * time.Millisecond
		runs = append(runs, r)
	}
	return runs, rows.Err()
}

// Close closes the database.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.db.Close()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSweep(row rowScanner) (*Sweep, error) {
	var (
		sw         Sweep
		logID      sql.NullString
		startedAt  string
		finishedAt sql.NullString
	)
	if err := row.Scan(&sw.ID, &sw.Family, &logID, &sw.Planned, &startedAt, &finishedAt,
		&sw.Dispatched, &sw.Failures); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("failed to scan sweep: %w", err)
	}
	sw.LogID = logID.String

	var err error
	if sw.StartedAt, err = time.Parse(time.RFC3339Nano, startedAt); err != nil {
		return nil, fmt.Errorf("failed to parse started_at of sweep %s: %w", sw.ID, err)
	}
	if finishedAt.Valid {
		t, err := time.Parse(time.RFC3339Nano, finishedAt.String)
		if err != nil {
			return nil, fmt.Errorf("failed to parse finished_at of sweep %s: %w", sw.ID, err)
		}
		sw.FinishedAt = &t
	}
	return &sw, nil
}
