package generator

import (
	"fmt"
	"strings"
	"time"

	"declaregen/internal/distribution"
	"declaregen/internal/solver"
)

// Strategy selects how consecutive models are kept apart.
type Strategy int

const (
	// DiversityNone asks the solver for a batch of models in one call.
	DiversityNone Strategy = iota
	// DiversityRandom solves one model per call with a fresh seed.
	DiversityRandom
	// DiversityHamming grounds a tabu constraint after every model that bounds
	// how many positions the next one may share with it.
	DiversityHamming
	// DiversityLevenshtein rejects models whose edit-distance overlap with the
	// previous accepted trace exceeds the threshold.
	DiversityLevenshtein
)

func (s Strategy) String() string {
	switch s {
	case DiversityRandom:
		return "random"
	case DiversityHamming:
		return "hamming"
	case DiversityLevenshtein:
		return "levenshtein"
	default:
		return "none"
	}
}

// ParseStrategy resolves a strategy name.
func ParseStrategy(s string) (Strategy, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "none":
		return DiversityNone, nil
	case "random":
		return DiversityRandom, nil
	case "hamming", "tabu":
		return DiversityHamming, nil
	case "levenshtein", "edit":
		return DiversityLevenshtein, nil
	}
	return 0, fmt.Errorf("unknown diversity strategy %q", s)
}

// Diversity configures the diversity strategy.
type Diversity struct {
	Strategy Strategy
	// Threshold is the largest number of events a model may share with the
	// previous accepted one.
	Threshold int
	// MaxRejections bounds rejected models per cell under DiversityLevenshtein.
	MaxRejections int
}

// DefaultMaxRejections applies when Diversity.MaxRejections is zero.
const DefaultMaxRejections = 20

// Options configures a generation run.
type Options struct {
	Traces         int
	NegativeTraces int
	MinEvents      int
	MaxEvents      int

	Policy        distribution.Policy
	Mu, Sigma     float64
	Probabilities []float64

	// Violations lists the constraints negative traces must break. Empty lets
	// the solver pick at least one per trace.
	Violations []int
	Encode     bool
	Seed       int64

	Solver solver.Options
	// Timeout bounds each solver call. Zero disables the bound.
	Timeout time.Duration
	// BatchSize splits cells into sub-batches. Zero solves a cell at once.
	BatchSize int
	Diversity Diversity
	// Workers above one solves cells concurrently.
	Workers int

	IntRange   [2]int64
	FloatRange [2]float64

	// Sink receives cell statistics and traces as the run progresses.
	Sink Sink
}

func (o Options) validate() error {
	switch {
	case o.Traces < 0 || o.NegativeTraces < 0:
		return fmt.Errorf("trace counts must not be negative (%d positive, %d negative)", o.Traces, o.NegativeTraces)
	case o.BatchSize < 0:
		return fmt.Errorf("batch size %d is negative", o.BatchSize)
	case o.Workers < 0:
		return fmt.Errorf("workers %d is negative", o.Workers)
	case o.Timeout < 0:
		return fmt.Errorf("timeout %s is negative", o.Timeout)
	case o.Diversity.Threshold < 0:
		return fmt.Errorf("diversity threshold %d is negative", o.Diversity.Threshold)
	}
	return nil
}

func (o Options) params(total int) distribution.Params {
	return distribution.Params{
		Total:         total,
		MinEvents:     o.MinEvents,
		MaxEvents:     o.MaxEvents,
		Policy:        o.Policy,
		Mu:            o.Mu,
		Sigma:         o.Sigma,
		Probabilities: o.Probabilities,
	}
}
