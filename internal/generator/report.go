package generator

import (
	"context"

	"declaregen/internal/declare"
	"declaregen/internal/encoding"
	"declaregen/internal/solver"
)

// State is the phase of a run.
type State int

const (
	Idle State = iota
	PositiveBatch
	NegativeBatch
	Decoding
	Done
)

func (s State) String() string {
	switch s {
	case PositiveBatch:
		return "positive-batch"
	case NegativeBatch:
		return "negative-batch"
	case Decoding:
		return "decoding"
	case Done:
		return "done"
	default:
		return "idle"
	}
}

// CellReport records the work on one (label, length) cell.
type CellReport struct {
	Label         declare.Label     `json:"label"`
	Length        int               `json:"length"`
	Requested     int               `json:"requested"`
	Produced      int               `json:"produced"`
	Batches       int               `json:"batches"`
	Calls         int               `json:"calls"`
	Rejected      int               `json:"rejected,omitempty"`
	Unsatisfiable bool              `json:"unsatisfiable,omitempty"`
	TimedOut      bool              `json:"timed_out,omitempty"`
	Stats         solver.Statistics `json:"stats"`
}

// Totals aggregates a run.
type Totals struct {
	Requested int  `json:"requested"`
	Produced  int  `json:"produced"`
	Models    int  `json:"models"`
	TimedOut  bool `json:"timed_out"`
	// Shortfall counts traces the distribution could not place on any length.
	Shortfall int               `json:"shortfall,omitempty"`
	Stats     solver.Statistics `json:"stats"`
}

// Report is the outcome of a run.
type Report struct {
	RunID    string           `json:"run_id"`
	Positive []declare.Trace  `json:"positive"`
	Negative []declare.Trace  `json:"negative"`
	Cells    []CellReport     `json:"cells"`
	Totals   Totals           `json:"totals"`
	Warnings []string         `json:"warnings,omitempty"`
	Encoding []encoding.Entry `json:"encoding,omitempty"`
}

// Traces returns positive then negative traces.
func (r *Report) Traces() []declare.Trace {
	out := make([]declare.Trace, 0, len(r.Positive)+len(r.Negative))
	out = append(out, r.Positive...)
	return append(out, r.Negative...)
}

// Sink receives results while a run progresses. Calls are serialized.
type Sink interface {
	RecordCell(ctx context.Context, runID string, cell CellReport) error
	SaveTraces(ctx context.Context, runID string, traces []declare.Trace) error
}
