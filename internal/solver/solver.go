// Package solver is the boundary to the external answer set solver.
//
// A Control accumulates named program parts, grounds a selection of them and
// enumerates models. The Clingo backend drives the clingo binary; tests use
// in-memory fakes behind the same interface.
package solver

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrUnsatisfiable reports that a program has no model.
	ErrUnsatisfiable = errors.New("solver: unsatisfiable")
	// ErrTimeout reports that a solve call ran out of time.
	ErrTimeout = errors.New("solver: timeout")
)

// Outcome is the satisfiability verdict of a solve call.
type Outcome int

const (
	Unknown Outcome = iota
	Satisfiable
	Unsatisfiable
)

func (o Outcome) String() string {
	switch o {
	case Satisfiable:
		return "SATISFIABLE"
	case Unsatisfiable:
		return "UNSATISFIABLE"
	default:
		return "UNKNOWN"
	}
}

// Model is one answer set.
type Model struct {
	Number  int
	Symbols []Symbol
}

// Statistics summarizes one solve call.
type Statistics struct {
	Total     time.Duration `json:"total"`
	Solve     time.Duration `json:"solve"`
	Model     time.Duration `json:"model"`
	Unsat     time.Duration `json:"unsat"`
	CPU       time.Duration `json:"cpu"`
	Result    string        `json:"result"`
	TimedOut  bool          `json:"timed_out"`
	Requested int           `json:"requested"`
	Produced  int           `json:"produced"`
}

// Add folds o into s. Times and counts add up, TimedOut is sticky and Result
// keeps the latest verdict.
func (s *Statistics) Add(o Statistics) {
	s.Total += o.Total
	s.Solve += o.Solve
	s.Model += o.Model
	s.Unsat += o.Unsat
	s.CPU += o.CPU
	s.TimedOut = s.TimedOut || o.TimedOut
	s.Requested += o.Requested
	s.Produced += o.Produced
	if o.Result != "" {
		s.Result = o.Result
	}
}

// Result is the outcome of a solve call.
type Result struct {
	Outcome     Outcome
	Exhausted   bool
	Interrupted bool
	Models      int
	Stats       Statistics
}

// Err maps an unsatisfiable result to ErrUnsatisfiable.
func (r Result) Err() error {
	if r.Outcome == Unsatisfiable {
		return ErrUnsatisfiable
	}
	return nil
}

// Control is a solver session. Parts are added by name, grounded in the order
// Ground sees them, and solved together.
type Control interface {
	Add(part, program string) error
	Ground(parts ...string) error
	// AssignExternal sets the truth value of an atom declared #external.
	// Externals are false until assigned.
	AssignExternal(atom string, value bool) error
	// Solve enumerates up to maxModels models, all of them when maxModels is
	// zero, calling onModel for each until it returns false.
	Solve(ctx context.Context, maxModels int, onModel func(Model) bool) (Result, error)
	Close() error
}

// Factory creates a Control configured by a solver argument list.
type Factory func(args []string) (Control, error)
