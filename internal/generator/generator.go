// Package generator drives the solver across the cells of a run and decodes
// the models into labeled traces.
//
// A run walks Idle -> PositiveBatch -> NegativeBatch -> Decoding -> Done. Each
// batch phase assembles one program, samples a length distribution and
// solves every (length, count) cell, sequentially or on a bounded worker
// pool. Unsatisfiable cells and timeouts degrade the output and are recorded
// in the Report; everything else aborts the run.
package generator

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"sort"
	"sync"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"declaregen/internal/asp"
	"declaregen/internal/declare"
	"declaregen/internal/decoder"
	"declaregen/internal/distribution"
	"declaregen/internal/encoding"
	"declaregen/internal/logging"
	"declaregen/internal/solver"
)

// Generator runs one generation session over a model.
type Generator struct {
	model   *declare.Model
	factory solver.Factory
	opts    Options
	session *encoding.Session
	decoder *decoder.Decoder
	runes   map[string]rune

	mu    sync.RWMutex
	state State
}

// New creates a Generator. The session it encodes names with is available
// through Session once the run is done.
func New(m *declare.Model, factory solver.Factory, opts Options) *Generator {
	s := encoding.NewSession(opts.Encode)
	runes := make(map[string]rune, len(m.Activities))
	for i, a := range m.Activities {
		runes[a] = rune(0xE000 + i)
	}
	return &Generator{
		model:   m,
		factory: factory,
		opts:    opts,
		session: s,
		decoder: decoder.New(m, s),
		runes:   runes,
	}
}

// State returns the current phase.
func (g *Generator) State() State {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.state
}

func (g *Generator) setState(s State) {
	g.mu.Lock()
	g.state = s
	g.mu.Unlock()
	logging.GeneratorDebug("state -> %s", s)
}

// Session returns the encoding session shared by every cell of the run.
func (g *Generator) Session() *encoding.Session { return g.session }

type rawTrace struct {
	label   declare.Label
	symbols []solver.Symbol
}

type phase struct {
	state State
	label declare.Label
	mode  asp.Mode
	total int
}

// Run performs the generation. A Generator runs once.
func (g *Generator) Run(ctx context.Context) (*Report, error) {
	if err := g.opts.validate(); err != nil {
		return nil, fmt.Errorf("generator: %w", err)
	}
	g.mu.Lock()
	if g.state != Idle {
		g.mu.Unlock()
		return nil, errors.New("generator: run already started")
	}
	g.mu.Unlock()
	defer g.setState(Done)

	timer := logging.StartTimer(logging.CategoryGenerator, "run")
	defer timer.Stop()

	rep := &Report{RunID: uuid.NewString()}
	rng := rand.New(rand.NewSource(g.opts.Seed))
	logging.Generator("run %s: %d positive, %d negative traces over [%d,%d] events",
		rep.RunID, g.opts.Traces, g.opts.NegativeTraces, g.opts.MinEvents, g.opts.MaxEvents)

	phases := []phase{
		{state: PositiveBatch, label: declare.Positive, mode: asp.Positive, total: g.opts.Traces},
		{state: NegativeBatch, label: declare.Negative, mode: asp.Negative, total: g.opts.NegativeTraces},
	}
	var raws []rawTrace
	for _, ph := range phases {
		// Each phase draws its seeds whether or not it runs.
		buildSeed, sampleSeed, cellSeed := rng.Int63(), rng.Int63(), rng.Int63()
		if ph.total == 0 {
			continue
		}
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		g.setState(ph.state)
		models, err := g.runPhase(ctx, rep, ph, buildSeed, sampleSeed, cellSeed)
		if err != nil {
			return nil, err
		}
		raws = append(raws, models...)
	}

	g.setState(Decoding)
	for i, raw := range raws {
		tr, err := g.decoder.Decode(decoder.TraceName(i+1), raw.label, raw.symbols)
		if err != nil {
			return nil, fmt.Errorf("generator: %w", err)
		}
		if raw.label == declare.Negative {
			rep.Negative = append(rep.Negative, tr)
		} else {
			rep.Positive = append(rep.Positive, tr)
		}
	}
	decoder.Sort(rep.Positive)
	decoder.Sort(rep.Negative)
	if g.opts.Sink != nil {
		if err := g.opts.Sink.SaveTraces(ctx, rep.RunID, rep.Traces()); err != nil {
			return nil, fmt.Errorf("generator: save traces: %w", err)
		}
	}
	if g.session.Encoding() {
		rep.Encoding = g.session.Snapshot()
	}

	rep.Totals.Requested = g.opts.Traces + g.opts.NegativeTraces
	rep.Totals.Produced = len(rep.Positive) + len(rep.Negative)
	for _, c := range rep.Cells {
		rep.Totals.Stats.Add(c.Stats)
		rep.Totals.Models += c.Produced + c.Rejected
		rep.Totals.TimedOut = rep.Totals.TimedOut || c.TimedOut
	}
	logging.Generator("run %s: produced %d of %d traces (%d warnings)",
		rep.RunID, rep.Totals.Produced, rep.Totals.Requested, len(rep.Warnings))
	return rep, nil
}

func (g *Generator) runPhase(ctx context.Context, rep *Report, ph phase, buildSeed, sampleSeed, cellSeed int64) ([]rawTrace, error) {
	prog, err := asp.Build(g.model, g.session, asp.Options{
		Mode:       ph.mode,
		Violations: g.opts.Violations,
		Rand:       rand.New(rand.NewSource(buildSeed)),
		IntRange:   g.opts.IntRange,
		FloatRange: g.opts.FloatRange,
	})
	if err != nil {
		return nil, err
	}

	params := g.opts.params(ph.total)
	params.Rand = rand.New(rand.NewSource(sampleSeed))
	dist, err := distribution.Sample(params)
	if err != nil {
		return nil, err
	}
	if sf := dist.Shortfall(); sf > 0 {
		rep.Totals.Shortfall += sf
		rep.Warnings = append(rep.Warnings, fmt.Sprintf("%s distribution placed %d of %d %s traces",
			g.opts.Policy, dist.Produced, dist.Requested, ph.label))
	}

	seeds := rand.New(rand.NewSource(cellSeed))
	var jobs []cellJob
	for i, l := range dist.Lengths() {
		jobs = append(jobs, cellJob{order: i, label: ph.label, length: l, count: dist.Counts[l], seed: seeds.Int63()})
	}

	results, err := g.runCells(ctx, rep.RunID, prog, jobs)
	if err != nil {
		return nil, err
	}
	var raws []rawTrace
	for _, r := range results {
		rep.Cells = append(rep.Cells, r.report)
		rep.Warnings = append(rep.Warnings, r.warnings...)
		for _, m := range r.models {
			raws = append(raws, rawTrace{label: ph.label, symbols: m})
		}
	}
	return raws, nil
}

// collector is the append-only result list shared by workers. It also
// serializes calls into the sink.
type collector struct {
	mu      sync.Mutex
	results []cellResult
	sink    Sink
	runID   string
}

func (c *collector) add(ctx context.Context, r cellResult) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.results = append(c.results, r)
	if c.sink != nil {
		if err := c.sink.RecordCell(ctx, c.runID, r.report); err != nil {
			return fmt.Errorf("generator: record cell: %w", err)
		}
	}
	return nil
}

func (g *Generator) runCells(ctx context.Context, runID string, prog *asp.Program, jobs []cellJob) ([]cellResult, error) {
	col := &collector{sink: g.opts.Sink, runID: runID}
	if g.opts.Workers <= 1 {
		for _, job := range jobs {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
			r, err := g.solveCell(ctx, prog, job)
			if err != nil {
				return nil, err
			}
			if err := col.add(ctx, r); err != nil {
				return nil, err
			}
		}
	} else {
		eg, egCtx := errgroup.WithContext(ctx)
		eg.SetLimit(g.opts.Workers)
		for _, job := range jobs {
			job := job
			eg.Go(func() error {
				if err := egCtx.Err(); err != nil {
					return err
				}
				r, err := g.solveCell(egCtx, prog, job)
				if err != nil {
					return err
				}
				return col.add(egCtx, r)
			})
		}
		if err := eg.Wait(); err != nil {
			return nil, err
		}
	}
	sort.Slice(col.results, func(i, j int) bool { return col.results[i].order < col.results[j].order })
	return col.results, nil
}
