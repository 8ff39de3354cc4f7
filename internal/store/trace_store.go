package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"declaregen/internal/declare"
	"declaregen/internal/logging"
)

// SaveTraces stores traces of a run in one transaction. Saving a trace ID
// again replaces its events.
func (s *Store) SaveTraces(ctx context.Context, runID string, traces []declare.Trace) error {
	timer := logging.StartTimer(logging.CategoryStore, "SaveTraces")
	defer timer.Stop()

	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	var seq int
	if err := tx.QueryRowContext(ctx, `SELECT COALESCE(MAX(seq), 0) FROM traces WHERE run_id = ?`, runID).Scan(&seq); err != nil {
		return fmt.Errorf("failed to read trace sequence: %w", err)
	}

	for _, tr := range traces {
		seq++
		if _, err := tx.ExecContext(ctx, `DELETE FROM events WHERE run_id = ? AND trace_id = ?`, runID, tr.ID); err != nil {
			return fmt.Errorf("failed to clear events of %s: %w", tr.ID, err)
		}
		if _, err := tx.ExecContext(ctx, `
			INSERT OR REPLACE INTO traces (run_id, id, label, seq, length) VALUES (?, ?, ?, ?, ?)`,
			runID, tr.ID, string(tr.Label), seq, len(tr.Events)); err != nil {
			return fmt.Errorf("failed to save trace %s: %w", tr.ID, err)
		}
		for i, ev := range tr.Events {
			var attrs sql.NullString
			if len(ev.Attributes) > 0 {
				data, err := json.Marshal(ev.Attributes)
				if err != nil {
					return fmt.Errorf("failed to encode attributes of %s: %w", tr.ID, err)
				}
				attrs = sql.NullString{String: string(data), Valid: true}
			}
			if _, err := tx.ExecContext(ctx, `
				INSERT INTO events (run_id, trace_id, position, activity, attributes) VALUES (?, ?, ?, ?, ?)`,
				runID, tr.ID, i+1, ev.Activity, attrs); err != nil {
				return fmt.Errorf("failed to save event %d of %s: %w", i+1, tr.ID, err)
			}
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit traces: %w", err)
	}
	logging.StoreDebug("saved %d traces for run %s", len(traces), runID)
	return nil
}

// LoadTraces returns the traces of a run in the order they were saved.
func (s *Store) LoadTraces(ctx context.Context, runID string) ([]declare.Trace, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx, `
		SELECT t.id, t.label, e.position, e.activity, e.attributes
		FROM traces t LEFT JOIN events e ON e.run_id = t.run_id AND e.trace_id = t.id
		WHERE t.run_id = ?
		ORDER BY t.seq, e.position`, runID)
	if err != nil {
		return nil, fmt.Errorf("failed to query traces: %w", err)
	}
	defer rows.Close()

	var out []declare.Trace
	for rows.Next() {
		var id, label string
		var pos sql.NullInt64
		var activity, attrs sql.NullString
		if err := rows.Scan(&id, &label, &pos, &activity, &attrs); err != nil {
			return nil, fmt.Errorf("failed to scan event: %w", err)
		}
		if len(out) == 0 || out[len(out)-1].ID != id {
			out = append(out, declare.Trace{ID: id, Label: declare.Label(label), Events: []declare.Event{}})
		}
		if !pos.Valid {
			continue
		}
		ev := declare.Event{Activity: activity.String}
		if attrs.Valid && attrs.String != "" {
			if err := json.Unmarshal([]byte(attrs.String), &ev.Attributes); err != nil {
				return nil, fmt.Errorf("trace %s: bad attributes: %w", id, err)
			}
		}
		cur := &out[len(out)-1]
		cur.Events = append(cur.Events, ev)
	}
	return out, rows.Err()
}

// CountTraces returns the number of stored traces of a run per label.
func (s *Store) CountTraces(ctx context.Context, runID string) (map[declare.Label]int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx, `SELECT label, COUNT(*) FROM traces WHERE run_id = ? GROUP BY label`, runID)
	if err != nil {
		return nil, fmt.Errorf("failed to count traces: %w", err)
	}
	defer rows.Close()
	out := make(map[declare.Label]int)
	for rows.Next() {
		var label string
		var n int
		if err := rows.Scan(&label, &n); err != nil {
			return nil, err
		}
		out[declare.Label(label)] = n
	}
	return out, rows.Err()
}
