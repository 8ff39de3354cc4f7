package generator

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"sort"
	"time"

	"github.com/lithammer/fuzzysearch/fuzzy"

	"declaregen/internal/asp"
	"declaregen/internal/declare"
	"declaregen/internal/encoding"
	"declaregen/internal/logging"
	"declaregen/internal/solver"
)

// callGrace lets the solver stop on its own time limit, and report the
// models found so far, before the call context kills it.
const callGrace = time.Second

type cellJob struct {
	order  int
	label  declare.Label
	length int
	count  int
	seed   int64
}

type cellResult struct {
	order    int
	report   CellReport
	models   [][]solver.Symbol
	warnings []string

	// Diversity state carried across the batches of a cell.
	prev  []string   // last accepted sequence
	seen  [][]string // sequences excluded by reject parts
	parts int        // extra parts grounded so far
}

// absorb records one solver call and reports whether the cell is finished.
// wanted and got count the models asked for and received in that call.
func (r *cellResult) absorb(res solver.Result, err error, wanted, got int) (bool, error) {
	r.report.Calls++
	r.report.Stats.Add(res.Stats)
	switch {
	case errors.Is(err, solver.ErrTimeout):
		r.report.TimedOut = true
		return true, nil
	case err != nil:
		return true, err
	case res.Outcome == solver.Unsatisfiable:
		r.report.Unsatisfiable = true
		return true, nil
	case got < wanted:
		// Satisfiable but exhausted: nothing more to find at this length.
		return true, nil
	}
	return false, nil
}

func (g *Generator) solveCell(ctx context.Context, prog *asp.Program, job cellJob) (cellResult, error) {
	timer := logging.StartTimer(logging.CategoryGenerator, fmt.Sprintf("%s cell length=%d", job.label, job.length))
	defer timer.Stop()

	r := cellResult{order: job.order, report: CellReport{Label: job.label, Length: job.length, Requested: job.count}}
	rng := rand.New(rand.NewSource(job.seed))
	size := g.opts.BatchSize
	if size <= 0 || size > job.count {
		size = job.count
	}
	for produced := 0; produced < job.count; {
		if err := ctx.Err(); err != nil {
			return r, err
		}
		n := min(size, job.count-produced)
		got, stop, err := g.solveBatch(ctx, prog, job, n, rng, &r)
		r.report.Batches++
		produced += got
		if err != nil {
			return r, err
		}
		if stop {
			break
		}
	}
	r.report.Produced = len(r.models)

	switch {
	case r.report.TimedOut:
		r.warn("%s traces of length %d: timed out after %d of %d", job.label, job.length, r.report.Produced, job.count)
	case r.report.Produced < job.count:
		r.warn("cannot generate %d traces with exactly %d events", job.count, job.length)
	}
	logging.GeneratorDebug("%s cell length=%d: %d/%d in %d calls", job.label, job.length, r.report.Produced, job.count, r.report.Calls)
	return r, nil
}

func (r *cellResult) warn(format string, args ...any) {
	msg := fmt.Sprintf(format, args...)
	logging.GeneratorWarn("%s", msg)
	r.warnings = append(r.warnings, msg)
}

func (g *Generator) newControl(prog *asp.Program, length int, rng *rand.Rand) (solver.Control, error) {
	opts := g.opts.Solver
	if g.opts.Timeout > 0 && opts.TimeLimit == 0 {
		opts.TimeLimit = g.opts.Timeout
	}
	ctl, err := g.factory(solver.Args(opts, length, int64(rng.Int31())))
	if err != nil {
		return nil, err
	}
	names := make([]string, 0, len(prog.Parts))
	for _, p := range prog.Parts {
		if err := ctl.Add(p.Name, p.Text); err != nil {
			ctl.Close()
			return nil, err
		}
		names = append(names, p.Name)
	}
	if err := ctl.Ground(names...); err != nil {
		ctl.Close()
		return nil, err
	}
	return ctl, nil
}

func (g *Generator) call(ctx context.Context, ctl solver.Control, maxModels int, onModel func(solver.Model) bool) (solver.Result, error) {
	callCtx := ctx
	if g.opts.Timeout > 0 {
		var cancel context.CancelFunc
		callCtx, cancel = context.WithTimeout(ctx, g.opts.Timeout+callGrace)
		defer cancel()
	}
	res, err := ctl.Solve(callCtx, maxModels, onModel)
	switch {
	case err == nil:
	case ctx.Err() != nil:
		return res, ctx.Err()
	case errors.Is(callCtx.Err(), context.DeadlineExceeded) && !errors.Is(err, solver.ErrTimeout):
		res.Stats.TimedOut = true
		return res, fmt.Errorf("%w: %v", solver.ErrTimeout, err)
	}
	return res, err
}

// addPart grounds an extra constraint into ctl.
func addPart(ctl solver.Control, p asp.Part) error {
	if p.Text == "" {
		return nil
	}
	if err := ctl.Add(p.Name, p.Text); err != nil {
		return err
	}
	return ctl.Ground(p.Name)
}

// solveBatch asks for n models of one length under the configured diversity
// strategy. It returns the number of accepted models and whether the cell is
// finished.
func (g *Generator) solveBatch(ctx context.Context, prog *asp.Program, job cellJob, n int, rng *rand.Rand, r *cellResult) (int, bool, error) {
	switch g.opts.Diversity.Strategy {
	case DiversityRandom:
		for got := 0; got < n; got++ {
			ctl, err := g.newControl(prog, job.length, rng)
			if err != nil {
				return got, true, err
			}
			found := 0
			res, err := g.call(ctx, ctl, 1, func(m solver.Model) bool {
				r.models = append(r.models, m.Symbols)
				found++
				return false
			})
			ctl.Close()
			if stop, err := r.absorb(res, err, 1, found); stop || err != nil {
				return got + found, true, err
			}
		}
		return n, false, nil

	case DiversityHamming:
		ctl, err := g.newControl(prog, job.length, rng)
		if err != nil {
			return 0, true, err
		}
		defer ctl.Close()
		// Only the tabu part of the last accepted trace is switched on.
		active := ""
		restrict := func(seq []string) error {
			r.parts++
			if err := addPart(ctl, asp.TabuPart(r.parts, seq, g.opts.Diversity.Threshold, g.session)); err != nil {
				return err
			}
			if active != "" {
				if err := ctl.AssignExternal(active, false); err != nil {
					return err
				}
			}
			active = asp.TabuGuard(r.parts)
			return ctl.AssignExternal(active, true)
		}
		if r.prev != nil {
			if err := restrict(r.prev); err != nil {
				return 0, true, err
			}
		}
		for got := 0; got < n; got++ {
			var seq []string
			found := 0
			res, err := g.call(ctx, ctl, 1, func(m solver.Model) bool {
				r.models = append(r.models, m.Symbols)
				seq = g.sequence(m.Symbols)
				found++
				return false
			})
			if stop, err := r.absorb(res, err, 1, found); stop || err != nil {
				return got + found, true, err
			}
			r.prev = seq
			if err := restrict(seq); err != nil {
				return got + 1, true, err
			}
		}
		return n, false, nil

	case DiversityLevenshtein:
		ctl, err := g.newControl(prog, job.length, rng)
		if err != nil {
			return 0, true, err
		}
		defer ctl.Close()
		limit := g.opts.Diversity.MaxRejections
		if limit <= 0 {
			limit = DefaultMaxRejections
		}
		for _, seq := range r.seen {
			r.parts++
			if err := addPart(ctl, asp.RejectPart(r.parts, seq, g.session)); err != nil {
				return 0, true, err
			}
		}
		got := 0
		for got < n {
			var model []solver.Symbol
			res, err := g.call(ctx, ctl, 1, func(m solver.Model) bool {
				model = m.Symbols
				return false
			})
			found := 0
			if model != nil {
				found = 1
			}
			if stop, err := r.absorb(res, err, 1, found); stop || err != nil {
				if err == nil && found == 1 && !g.tooClose(r.prev, g.sequence(model)) {
					r.models = append(r.models, model)
					r.prev = g.sequence(model)
					got++
				}
				return got, true, err
			}
			seq := g.sequence(model)
			r.seen = append(r.seen, seq)
			r.parts++
			if err := addPart(ctl, asp.RejectPart(r.parts, seq, g.session)); err != nil {
				return got, true, err
			}
			if g.tooClose(r.prev, seq) {
				r.report.Rejected++
				if r.report.Rejected >= limit {
					r.warn("%s traces of length %d: gave up after %d rejected models", job.label, job.length, r.report.Rejected)
					return got, true, nil
				}
				continue
			}
			r.models = append(r.models, model)
			r.prev = seq
			got++
		}
		return got, false, nil
	}

	ctl, err := g.newControl(prog, job.length, rng)
	if err != nil {
		return 0, true, err
	}
	defer ctl.Close()
	found := 0
	res, err := g.call(ctx, ctl, n, func(m solver.Model) bool {
		r.models = append(r.models, m.Symbols)
		found++
		return found < n
	})
	stop, err := r.absorb(res, err, n, found)
	return found, stop, err
}

// sequence returns the activity names of a model by time step.
func (g *Generator) sequence(syms []solver.Symbol) []string {
	type step struct {
		t   int64
		act string
	}
	var steps []step
	for _, s := range syms {
		if s.Kind != solver.Function || s.Signature() != "trace/2" || s.Args[1].Kind != solver.Number {
			continue
		}
		act, err := g.session.Resolve(s.Args[0].String(), encoding.Activity)
		if err != nil {
			act = s.Args[0].String()
		}
		steps = append(steps, step{t: s.Args[1].Number, act: act})
	}
	sort.Slice(steps, func(i, j int) bool { return steps[i].t < steps[j].t })
	out := make([]string, len(steps))
	for i, s := range steps {
		out[i] = s.act
	}
	return out
}

// tooClose reports whether seq keeps more than the threshold of prev's
// events under edit distance.
func (g *Generator) tooClose(prev, seq []string) bool {
	if prev == nil {
		return false
	}
	return Overlap(prev, seq, g.runes) > g.opts.Diversity.Threshold
}

// Overlap is the number of events two sequences share under edit distance:
// the longer length minus the Levenshtein distance.
func Overlap(a, b []string, runes map[string]rune) int {
	ra, rb := encodeRunes(a, runes), encodeRunes(b, runes)
	return max(len(a), len(b)) - fuzzy.LevenshteinDistance(ra, rb)
}

func encodeRunes(seq []string, runes map[string]rune) string {
	out := make([]rune, len(seq))
	for i, s := range seq {
		r, ok := runes[s]
		if !ok {
			r = '\uFFFD'
		}
		out[i] = r
	}
	return string(out)
}
