// Package distribution decides how many traces of each length to generate.
package distribution

import (
	"fmt"
	"math"
	"math/rand"
	"sort"
	"strings"

	"declaregen/internal/logging"
)

// Policy selects how lengths are drawn.
type Policy int

const (
	Uniform Policy = iota
	Gaussian
	Custom
)

func (p Policy) String() string {
	switch p {
	case Gaussian:
		return "gaussian"
	case Custom:
		return "custom"
	default:
		return "uniform"
	}
}

// ParsePolicy resolves a policy name.
func ParsePolicy(s string) (Policy, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "uniform":
		return Uniform, nil
	case "gaussian", "normal":
		return Gaussian, nil
	case "custom":
		return Custom, nil
	}
	return 0, &Error{Msg: fmt.Sprintf("unknown distribution policy %q", s)}
}

// Error reports invalid sampler input.
type Error struct {
	Msg string
}

func (e *Error) Error() string { return "distribution: " + e.Msg }

// Params is the sampler input.
type Params struct {
	Total     int
	MinEvents int
	MaxEvents int
	Policy    Policy
	// Mu and Sigma parameterize Gaussian.
	Mu, Sigma float64
	// Probabilities aligns with MinEvents..MaxEvents for Custom.
	Probabilities []float64
	// Rand drives Gaussian and Custom draws. Nil uses a fixed seed.
	Rand *rand.Rand
}

// Distribution maps a trace length to the number of traces wanted.
type Distribution struct {
	Counts    map[int]int
	Requested int
	// Produced is the sum of Counts. Gaussian draws outside the bounds are
	// discarded, so it can be below Requested.
	Produced int
}

// Shortfall returns how many requested traces no length received.
func (d Distribution) Shortfall() int { return d.Requested - d.Produced }

// Lengths returns the lengths with a positive count in ascending order.
func (d Distribution) Lengths() []int {
	out := make([]int, 0, len(d.Counts))
	for l, n := range d.Counts {
		if n > 0 {
			out = append(out, l)
		}
	}
	sort.Ints(out)
	return out
}

const probabilityTolerance = 1e-6

func (p Params) validate() error {
	switch {
	case p.MinEvents <= 0 || p.MaxEvents <= 0:
		return &Error{Msg: fmt.Sprintf("event bounds must be positive, got [%d,%d]", p.MinEvents, p.MaxEvents)}
	case p.MinEvents > p.MaxEvents:
		return &Error{Msg: fmt.Sprintf("min events %d exceeds max events %d", p.MinEvents, p.MaxEvents)}
	case p.Total < 0:
		return &Error{Msg: fmt.Sprintf("negative total %d", p.Total)}
	}
	if p.Policy == Gaussian && (p.Sigma < 0 || math.IsNaN(p.Sigma) || math.IsNaN(p.Mu)) {
		return &Error{Msg: fmt.Sprintf("invalid gaussian parameters mu=%v sigma=%v", p.Mu, p.Sigma)}
	}
	if p.Policy == Custom {
		width := p.MaxEvents - p.MinEvents + 1
		if len(p.Probabilities) != width {
			return &Error{Msg: fmt.Sprintf("custom policy needs %d probabilities for lengths %d..%d, got %d",
				width, p.MinEvents, p.MaxEvents, len(p.Probabilities))}
		}
		sum := 0.0
		for _, pr := range p.Probabilities {
			if pr < 0 || math.IsNaN(pr) {
				return &Error{Msg: fmt.Sprintf("invalid probability %v", pr)}
			}
			sum += pr
		}
		if math.Abs(sum-1) > probabilityTolerance {
			return &Error{Msg: fmt.Sprintf("probabilities sum to %v, not 1", sum)}
		}
	}
	return nil
}

// Sample computes the distribution described by p.
func Sample(p Params) (Distribution, error) {
	if err := p.validate(); err != nil {
		return Distribution{}, err
	}
	if p.Rand == nil {
		p.Rand = rand.New(rand.NewSource(1))
	}
	d := Distribution{Counts: make(map[int]int), Requested: p.Total}
	switch p.Policy {
	case Uniform:
		width := p.MaxEvents - p.MinEvents + 1
		base, rem := p.Total/width, p.Total%width
		for i := 0; i < width; i++ {
			n := base
			if i < rem {
				n++
			}
			if n > 0 {
				d.Counts[p.MinEvents+i] = n
			}
		}
	case Gaussian:
		discarded := 0
		for i := 0; i < p.Total; i++ {
			l := int(math.Round(p.Rand.NormFloat64()*p.Sigma + p.Mu))
			if l < p.MinEvents || l > p.MaxEvents {
				discarded++
				continue
			}
			d.Counts[l]++
		}
		if discarded > 0 {
			logging.SamplerWarn("gaussian mu=%v sigma=%v: %d of %d samples outside [%d,%d] discarded",
				p.Mu, p.Sigma, discarded, p.Total, p.MinEvents, p.MaxEvents)
		}
	case Custom:
		cum := make([]float64, len(p.Probabilities))
		acc := 0.0
		for i, pr := range p.Probabilities {
			acc += pr
			cum[i] = acc
		}
		for i := 0; i < p.Total; i++ {
			x := p.Rand.Float64() * acc
			j := sort.SearchFloat64s(cum, x)
			// Skip zero-probability slots that share a cumulative value.
			for j < len(cum)-1 && (cum[j] <= x || p.Probabilities[j] == 0) {
				j++
			}
			d.Counts[p.MinEvents+j]++
		}
	default:
		return Distribution{}, &Error{Msg: fmt.Sprintf("unknown policy %d", p.Policy)}
	}
	for _, n := range d.Counts {
		d.Produced += n
	}
	logging.SamplerDebug("%s distribution over [%d,%d]: %v", p.Policy, p.MinEvents, p.MaxEvents, d.Counts)
	return d, nil
}
