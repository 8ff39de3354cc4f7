// Package store persists generation runs in SQLite.
//
// Tables:
//   - runs: one row per run with its totals and warnings
//   - cells: per (label, length) solver statistics, recorded while a run progresses
//   - traces, events: the generated traces, one event row per position
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	_ "modernc.org/sqlite"

	"declaregen/internal/declare"
	"declaregen/internal/generator"
	"declaregen/internal/logging"
)

// MemoryPath opens a private in-memory database.
const MemoryPath = ":memory:"

// Store is a SQLite-backed run store. It implements generator.Sink.
type Store struct {
	db     *sql.DB
	mu     sync.RWMutex
	dbPath string
}

var _ generator.Sink = (*Store)(nil)

// Open opens or creates the database at path.
func Open(path string) (*Store, error) {
	if path != MemoryPath {
		if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
			return nil, fmt.Errorf("failed to create directory: %w", err)
		}
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// One connection keeps an in-memory database alive and serializes writers.
	db.SetMaxOpenConns(1)

	s := &Store{db: db, dbPath: path}
	if err := s.ensureSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ensure schema: %w", err)
	}
	logging.Store("run store opened at %s", path)
	return s, nil
}

// Close closes the database.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.db.Close()
}

func (s *Store) ensureSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS runs (
		id TEXT PRIMARY KEY,
		model TEXT NOT NULL,
		requested INTEGER NOT NULL,
		produced INTEGER NOT NULL,
		shortfall INTEGER NOT NULL DEFAULT 0,
		timed_out BOOLEAN NOT NULL,
		warnings TEXT,
		totals TEXT,
		created_at TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS cells (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		run_id TEXT NOT NULL,
		label TEXT NOT NULL,
		length INTEGER NOT NULL,
		requested INTEGER NOT NULL,
		produced INTEGER NOT NULL,
		batches INTEGER NOT NULL,
		calls INTEGER NOT NULL,
		rejected INTEGER NOT NULL,
		unsatisfiable BOOLEAN NOT NULL,
		timed_out BOOLEAN NOT NULL,
		stats TEXT
	);
	CREATE INDEX IF NOT EXISTS idx_cells_run ON cells(run_id);

	CREATE TABLE IF NOT EXISTS traces (
		run_id TEXT NOT NULL,
		id TEXT NOT NULL,
		label TEXT NOT NULL,
		seq INTEGER NOT NULL,
		length INTEGER NOT NULL,
		PRIMARY KEY (run_id, id)
	);

	CREATE TABLE IF NOT EXISTS events (
		run_id TEXT NOT NULL,
		trace_id TEXT NOT NULL,
		position INTEGER NOT NULL,
		activity TEXT NOT NULL,
		attributes TEXT,
		PRIMARY KEY (run_id, trace_id, position)
	);
	CREATE INDEX IF NOT EXISTS idx_events_activity ON events(activity);
	`
	_, err := s.db.Exec(schema)
	return err
}

// Run is the stored summary of a generation run.
type Run struct {
	ID        string
	Model     string
	Requested int
	Produced  int
	Shortfall int
	TimedOut  bool
	Warnings  []string
	Totals    generator.Totals
	CreatedAt time.Time
}

// RunFromReport summarizes rep, generated from the model file at model.
func RunFromReport(rep *generator.Report, model string) Run {
	return Run{
		ID:        rep.RunID,
		Model:     model,
		Requested: rep.Totals.Requested,
		Produced:  rep.Totals.Produced,
		Shortfall: rep.Totals.Shortfall,
		TimedOut:  rep.Totals.TimedOut,
		Warnings:  rep.Warnings,
		Totals:    rep.Totals,
		CreatedAt: time.Now().UTC(),
	}
}

// SaveRun inserts or replaces the run summary.
func (s *Store) SaveRun(ctx context.Context, run Run) error {
	timer := logging.StartTimer(logging.CategoryStore, "SaveRun")
	defer timer.Stop()

	warnings, err := json.Marshal(run.Warnings)
	if err != nil {
		return fmt.Errorf("failed to encode warnings: %w", err)
	}
	totals, err := json.Marshal(run.Totals)
	if err != nil {
		return fmt.Errorf("failed to encode totals: %w", err)
	}
	if run.CreatedAt.IsZero() {
		run.CreatedAt = time.Now().UTC()
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	_, err = s.db.ExecContext(ctx, `
		INSERT OR REPLACE INTO runs
		(id, model, requested, produced, shortfall, timed_out, warnings, totals, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		run.ID, run.Model, run.Requested, run.Produced, run.Shortfall, run.TimedOut,
		string(warnings), string(totals), run.CreatedAt.UTC().Format(time.RFC3339Nano))
	if err != nil {
		return fmt.Errorf("failed to save run %s: %w", run.ID, err)
	}
	logging.StoreDebug("saved run %s: %d/%d traces", run.ID, run.Produced, run.Requested)
	return nil
}

// Runs lists stored runs, newest first.
func (s *Store) Runs(ctx context.Context) ([]Run, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, model, requested, produced, shortfall, timed_out, warnings, totals, created_at
		FROM runs ORDER BY created_at DESC, id`)
	if err != nil {
		return nil, fmt.Errorf("failed to list runs: %w", err)
	}
	defer rows.Close()

	var out []Run
	for rows.Next() {
		var r Run
		var warnings, totals sql.NullString
		var created string
		if err := rows.Scan(&r.ID, &r.Model, &r.Requested, &r.Produced, &r.Shortfall, &r.TimedOut,
			&warnings, &totals, &created); err != nil {
			return nil, fmt.Errorf("failed to scan run: %w", err)
		}
		if t, err := time.Parse(time.RFC3339Nano, created); err == nil {
			r.CreatedAt = t
		}
		if warnings.Valid && warnings.String != "" {
			if err := json.Unmarshal([]byte(warnings.String), &r.Warnings); err != nil {
				return nil, fmt.Errorf("run %s: bad warnings: %w", r.ID, err)
			}
		}
		if totals.Valid && totals.String != "" {
			if err := json.Unmarshal([]byte(totals.String), &r.Totals); err != nil {
				return nil, fmt.Errorf("run %s: bad totals: %w", r.ID, err)
			}
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// RecordCell stores the statistics of one cell.
func (s *Store) RecordCell(ctx context.Context, runID string, cell generator.CellReport) error {
	stats, err := json.Marshal(cell.Stats)
	if err != nil {
		return fmt.Errorf("failed to encode stats: %w", err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO cells
		(run_id, label, length, requested, produced, batches, calls, rejected, unsatisfiable, timed_out, stats)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		runID, string(cell.Label), cell.Length, cell.Requested, cell.Produced, cell.Batches, cell.Calls,
		cell.Rejected, cell.Unsatisfiable, cell.TimedOut, string(stats))
	if err != nil {
		return fmt.Errorf("failed to record cell %s/%d: %w", cell.Label, cell.Length, err)
	}
	return nil
}

// Cells returns the cells of a run in recording order.
func (s *Store) Cells(ctx context.Context, runID string) ([]generator.CellReport, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rows, err := s.db.QueryContext(ctx, `
		SELECT label, length, requested, produced, batches, calls, rejected, unsatisfiable, timed_out, stats
		FROM cells WHERE run_id = ? ORDER BY id`, runID)
	if err != nil {
		return nil, fmt.Errorf("failed to query cells: %w", err)
	}
	defer rows.Close()

	var out []generator.CellReport
	for rows.Next() {
		var c generator.CellReport
		var label string
		var stats sql.NullString
		if err := rows.Scan(&label, &c.Length, &c.Requested, &c.Produced, &c.Batches, &c.Calls,
			&c.Rejected, &c.Unsatisfiable, &c.TimedOut, &stats); err != nil {
			return nil, fmt.Errorf("failed to scan cell: %w", err)
		}
		c.Label = declare.Label(label)
		if stats.Valid && stats.String != "" {
			if err := json.Unmarshal([]byte(stats.String), &c.Stats); err != nil {
				return nil, fmt.Errorf("bad cell stats: %w", err)
			}
		}
		out = append(out, c)
	}
	return out, rows.Err()
}
