package generator

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"declaregen/internal/asp"
	"declaregen/internal/declare"
	"declaregen/internal/distribution"
	"declaregen/internal/parser"
	"declaregen/internal/solver"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

// fakeSolver hands out models that rotate through the activities declared
// in the grounded program, one rotation step per model.
type fakeSolver struct {
	mu       sync.Mutex
	unsat    map[int]bool
	timeout  map[int]bool
	block    bool
	controls int
	calls    int
	extra    []string
}

var activityFact = regexp.MustCompile(`(?m)^activity\((.+)\)\.$`)

func (f *fakeSolver) factory(args []string) (solver.Control, error) {
	length := 0
	for _, a := range args {
		if strings.HasPrefix(a, "p=") {
			length, _ = strconv.Atoi(a[2:])
		}
	}
	f.mu.Lock()
	f.controls++
	f.mu.Unlock()
	return &fakeControl{f: f, length: length, parts: map[string]string{}}, nil
}

type fakeControl struct {
	f      *fakeSolver
	length int
	parts  map[string]string
	acts   []string
	served int
	tabus  map[string]fakeTabu
	on     map[string]bool
}

// fakeTabu is a grounded tabu part: the activities it holds by step and
// the number of matching steps it allows while its guard is on.
type fakeTabu struct {
	steps     map[int]string
	threshold int
}

var (
	tabuGuard = regexp.MustCompile(`(?m)^#external (.+)\.$`)
	tabuFact  = regexp.MustCompile(`(?m)^tabu_\d+\((.+),(\d+)\)\.$`)
	tabuLimit = regexp.MustCompile(`> (\d+)\.$`)
)

func parseTabu(text string) (string, fakeTabu) {
	tabu := fakeTabu{steps: map[int]string{}}
	for _, m := range tabuFact.FindAllStringSubmatch(text, -1) {
		step, _ := strconv.Atoi(m[2])
		tabu.steps[step] = m[1]
	}
	if m := tabuLimit.FindStringSubmatch(strings.TrimSpace(text)); m != nil {
		tabu.threshold, _ = strconv.Atoi(m[1])
	}
	guard := ""
	if m := tabuGuard.FindStringSubmatch(text); m != nil {
		guard = m[1]
	}
	return guard, tabu
}

func (c *fakeControl) AssignExternal(atom string, value bool) error {
	if c.on == nil {
		c.on = map[string]bool{}
	}
	c.on[atom] = value
	return nil
}

// allowed reports whether seq passes every tabu part whose guard is on.
func (c *fakeControl) allowed(seq []string) bool {
	for guard, tabu := range c.tabus {
		if !c.on[guard] {
			continue
		}
		same := 0
		for i, act := range seq {
			if tabu.steps[i+1] == act {
				same++
			}
		}
		if same > tabu.threshold {
			return false
		}
	}
	return true
}

func (c *fakeControl) Add(part, program string) error {
	c.parts[part] += program
	return nil
}

func (c *fakeControl) Ground(parts ...string) error {
	for _, p := range parts {
		text, ok := c.parts[p]
		if !ok {
			return fmt.Errorf("unknown part %s", p)
		}
		if p == asp.PartBase {
			for _, m := range activityFact.FindAllStringSubmatch(text, -1) {
				c.acts = append(c.acts, m[1])
			}
		}
		if strings.HasPrefix(p, "tabu_") {
			if c.tabus == nil {
				c.tabus = map[string]fakeTabu{}
			}
			guard, tabu := parseTabu(text)
			c.tabus[guard] = tabu
		}
		if strings.HasPrefix(p, "tabu_") || strings.HasPrefix(p, "reject_") {
			c.f.mu.Lock()
			c.f.extra = append(c.f.extra, p)
			c.f.mu.Unlock()
		}
	}
	return nil
}

func (c *fakeControl) Solve(ctx context.Context, maxModels int, onModel func(solver.Model) bool) (solver.Result, error) {
	c.f.mu.Lock()
	c.f.calls++
	block, unsat, timeout := c.f.block, c.f.unsat[c.length], c.f.timeout[c.length]
	c.f.mu.Unlock()

	stats := solver.Statistics{Requested: maxModels, Total: time.Millisecond}
	switch {
	case block:
		<-ctx.Done()
		return solver.Result{Stats: stats}, ctx.Err()
	case unsat:
		stats.Result = "UNSATISFIABLE"
		return solver.Result{Outcome: solver.Unsatisfiable, Exhausted: true, Stats: stats}, nil
	case timeout:
		stats.TimedOut = true
		return solver.Result{Interrupted: true, Stats: stats}, solver.ErrTimeout
	}
	n := maxModels
	if n == 0 {
		n = 3
	}
	res := solver.Result{Outcome: solver.Satisfiable, Stats: stats}
	for k := 0; k < n; k++ {
		var seq []string
		for try := 0; try < len(c.acts); try++ {
			cand := make([]string, c.length)
			for t := range cand {
				cand[t] = c.acts[(c.served+try+t)%len(c.acts)]
			}
			if c.allowed(cand) {
				seq = cand
				c.served += try
				break
			}
		}
		if seq == nil {
			if res.Models == 0 {
				res.Outcome = solver.Unsatisfiable
			}
			res.Exhausted = true
			return res, nil
		}
		var syms []solver.Symbol
		for t, act := range seq {
			sym, err := solver.ParseSymbol(fmt.Sprintf("trace(%s,%d)", act, t+1))
			if err != nil {
				return res, err
			}
			syms = append(syms, sym)
		}
		c.served++
		res.Models++
		res.Stats.Produced++
		if !onModel(solver.Model{Number: res.Models, Symbols: syms}) {
			break
		}
	}
	return res, nil
}

func (c *fakeControl) Close() error { return nil }

const model = `activity a
activity b
activity c
Response[a, b] | |
`

func parse(t *testing.T, src string) *declare.Model {
	t.Helper()
	res, err := parser.ParseString(src, parser.Options{})
	require.NoError(t, err)
	return res.Model
}

func TestRunSequential(t *testing.T) {
	f := &fakeSolver{}
	g := New(parse(t, model), f.factory, Options{Traces: 6, NegativeTraces: 2, MinEvents: 2, MaxEvents: 3, Seed: 1})
	assert.Equal(t, Idle, g.State())

	rep, err := g.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, Done, g.State())

	_, err = uuid.Parse(rep.RunID)
	require.NoError(t, err)
	require.Len(t, rep.Positive, 6)
	require.Len(t, rep.Negative, 2)
	for i, tr := range rep.Traces() {
		assert.Equal(t, fmt.Sprintf("trace_%d", i+1), tr.ID)
	}
	for _, tr := range rep.Positive {
		assert.Equal(t, declare.Positive, tr.Label)
	}
	assert.Equal(t, declare.Negative, rep.Negative[0].Label)
	assert.Len(t, rep.Positive[0].Events, 2)
	assert.Len(t, rep.Positive[5].Events, 3)

	require.Len(t, rep.Cells, 4)
	assert.Equal(t, CellReport{Label: declare.Positive, Length: 2, Requested: 3, Produced: 3, Batches: 1, Calls: 1,
		Stats: solver.Statistics{Total: time.Millisecond, Requested: 3, Produced: 3}}, rep.Cells[0])
	assert.Equal(t, Totals{Requested: 8, Produced: 8, Models: 8,
		Stats: solver.Statistics{Total: 4 * time.Millisecond, Requested: 8, Produced: 8}}, rep.Totals)
	assert.Empty(t, rep.Warnings)
	assert.Empty(t, rep.Encoding)
	assert.Equal(t, 4, f.controls)

	_, err = g.Run(context.Background())
	assert.Error(t, err)
}

func TestUnsatisfiableCellWarns(t *testing.T) {
	f := &fakeSolver{unsat: map[int]bool{3: true}}
	g := New(parse(t, model), f.factory, Options{Traces: 6, MinEvents: 2, MaxEvents: 3})
	rep, err := g.Run(context.Background())
	require.NoError(t, err)
	assert.Len(t, rep.Positive, 3)
	assert.Equal(t, []string{"cannot generate 3 traces with exactly 3 events"}, rep.Warnings)
	assert.True(t, rep.Cells[1].Unsatisfiable)
	assert.Equal(t, 6, rep.Totals.Requested)
	assert.Equal(t, 3, rep.Totals.Produced)
}

func TestTimeoutStopsCell(t *testing.T) {
	f := &fakeSolver{timeout: map[int]bool{2: true}}
	g := New(parse(t, model), f.factory, Options{Traces: 4, MinEvents: 2, MaxEvents: 3, BatchSize: 1})
	rep, err := g.Run(context.Background())
	require.NoError(t, err)
	assert.True(t, rep.Totals.TimedOut)
	assert.True(t, rep.Cells[0].TimedOut)
	assert.Equal(t, 1, rep.Cells[0].Calls)
	assert.Equal(t, 2, rep.Cells[1].Produced)
	require.Len(t, rep.Warnings, 1)
	assert.Contains(t, rep.Warnings[0], "timed out")
}

func TestBatchSize(t *testing.T) {
	f := &fakeSolver{}
	g := New(parse(t, model), f.factory, Options{Traces: 5, MinEvents: 3, MaxEvents: 3, BatchSize: 2})
	rep, err := g.Run(context.Background())
	require.NoError(t, err)
	require.Len(t, rep.Cells, 1)
	assert.Equal(t, 3, rep.Cells[0].Batches)
	assert.Equal(t, 5, rep.Cells[0].Produced)
	assert.Equal(t, 3, f.controls)
}

func TestDiversityRandom(t *testing.T) {
	f := &fakeSolver{}
	g := New(parse(t, model), f.factory, Options{Traces: 4, MinEvents: 3, MaxEvents: 3,
		Diversity: Diversity{Strategy: DiversityRandom}})
	rep, err := g.Run(context.Background())
	require.NoError(t, err)
	assert.Len(t, rep.Positive, 4)
	assert.Equal(t, 4, f.controls)
	assert.Equal(t, 4, f.calls)
}

func TestDiversityHamming(t *testing.T) {
	f := &fakeSolver{}
	g := New(parse(t, model), f.factory, Options{Traces: 3, MinEvents: 3, MaxEvents: 3,
		Diversity: Diversity{Strategy: DiversityHamming, Threshold: 1}})
	rep, err := g.Run(context.Background())
	require.NoError(t, err)
	require.Len(t, rep.Positive, 3)
	assert.Equal(t, 1, f.controls)
	assert.Equal(t, []string{"tabu_1", "tabu_2", "tabu_3"}, f.extra)
	assert.Equal(t, []string{"b", "c", "a"}, rep.Positive[1].Activities())
}

func TestDiversityHammingRestrictsOnlyLastTrace(t *testing.T) {
	// With two activities and no shared position allowed, traces must
	// alternate. Tabu parts of older traces would make the third one
	// impossible.
	src := "activity a\nactivity b\nResponse[a, b] | |\n"
	for _, batch := range []int{0, 1, 3} {
		f := &fakeSolver{}
		g := New(parse(t, src), f.factory, Options{Traces: 4, MinEvents: 1, MaxEvents: 1, BatchSize: batch,
			Diversity: Diversity{Strategy: DiversityHamming, Threshold: 0}})
		rep, err := g.Run(context.Background())
		require.NoError(t, err)
		require.Len(t, rep.Positive, 4, "batch=%d warnings=%v", batch, rep.Warnings)
		for i := 1; i < len(rep.Positive); i++ {
			assert.NotEqual(t, rep.Positive[i-1].Activities(), rep.Positive[i].Activities(), "batch=%d trace %d", batch, i)
		}
		assert.Empty(t, rep.Warnings)
	}
}

func TestDiversityLevenshteinAcrossBatches(t *testing.T) {
	// Rejections count per cell, not per batch.
	f := &fakeSolver{}
	g := New(parse(t, model), f.factory, Options{Traces: 3, MinEvents: 3, MaxEvents: 3, BatchSize: 1,
		Diversity: Diversity{Strategy: DiversityLevenshtein, Threshold: 0, MaxRejections: 2}})
	rep, err := g.Run(context.Background())
	require.NoError(t, err)
	require.Len(t, rep.Cells, 1)
	assert.Equal(t, 2, rep.Cells[0].Rejected)
	assert.Len(t, rep.Positive, 1)
	assert.Contains(t, rep.Warnings[0], "gave up after 2 rejected models")
}

func TestDiversityLevenshtein(t *testing.T) {
	f := &fakeSolver{}
	g := New(parse(t, model), f.factory, Options{Traces: 3, MinEvents: 3, MaxEvents: 3,
		Diversity: Diversity{Strategy: DiversityLevenshtein, Threshold: 0, MaxRejections: 4}})
	rep, err := g.Run(context.Background())
	require.NoError(t, err)
	assert.Len(t, rep.Positive, 1)
	assert.Equal(t, 4, rep.Cells[0].Rejected)
	assert.Equal(t, 5, rep.Totals.Models)
	assert.Len(t, f.extra, 5)
	assert.Contains(t, rep.Warnings[0], "gave up after 4 rejected models")

	f = &fakeSolver{}
	g = New(parse(t, model), f.factory, Options{Traces: 3, MinEvents: 3, MaxEvents: 3,
		Diversity: Diversity{Strategy: DiversityLevenshtein, Threshold: 1}})
	rep, err = g.Run(context.Background())
	require.NoError(t, err)
	assert.Len(t, rep.Positive, 3)
	assert.Zero(t, rep.Cells[0].Rejected)
}

func TestOverlap(t *testing.T) {
	runes := map[string]rune{"a": 'a', "b": 'b', "c": 'c'}
	tests := []struct {
		a, b []string
		want int
	}{
		{[]string{"a", "b", "c"}, []string{"a", "b", "c"}, 3},
		{[]string{"a", "b", "c"}, []string{"b", "c", "a"}, 1},
		{[]string{"a", "b", "c"}, []string{"a", "c"}, 2},
		{[]string{"a"}, []string{"b"}, 0},
		{nil, nil, 0},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, Overlap(tt.a, tt.b, runes), "%v vs %v", tt.a, tt.b)
	}
}

func TestParallelMatchesSequential(t *testing.T) {
	opts := Options{Traces: 20, NegativeTraces: 6, MinEvents: 1, MaxEvents: 6, Seed: 42}
	run := func(workers int) *Report {
		f := &fakeSolver{}
		o := opts
		o.Workers = workers
		rep, err := New(parse(t, model), f.factory, o).Run(context.Background())
		require.NoError(t, err)
		return rep
	}
	seq, par := run(1), run(4)
	require.Equal(t, len(seq.Traces()), len(par.Traces()))
	for i, tr := range seq.Traces() {
		assert.Equal(t, tr.ID, par.Traces()[i].ID)
		assert.Equal(t, tr.Activities(), par.Traces()[i].Activities())
	}
	assert.Equal(t, seq.Cells, par.Cells)
}

func TestEncodedRun(t *testing.T) {
	f := &fakeSolver{}
	src := "activity Ship Order\nactivity Pay\nResponse[Ship Order, Pay] | |\n"
	g := New(parse(t, src), f.factory, Options{Traces: 2, MinEvents: 2, MaxEvents: 2, Encode: true})
	rep, err := g.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"Ship Order", "Pay"}, rep.Positive[0].Activities())
	assert.NotEmpty(t, rep.Encoding)
	assert.True(t, g.Session().Encoding())
}

func TestCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := New(parse(t, model), (&fakeSolver{}).factory, Options{Traces: 2, MinEvents: 1, MaxEvents: 1}).Run(ctx)
	assert.ErrorIs(t, err, context.Canceled)

	for _, workers := range []int{1, 3} {
		f := &fakeSolver{block: true}
		ctx, cancel := context.WithCancel(context.Background())
		time.AfterFunc(20*time.Millisecond, cancel)
		_, err := New(parse(t, model), f.factory, Options{Traces: 9, MinEvents: 1, MaxEvents: 3, Workers: workers}).Run(ctx)
		assert.ErrorIs(t, err, context.Canceled, "workers=%d", workers)
		cancel()
	}
}

func TestCallTimeout(t *testing.T) {
	f := &fakeSolver{block: true}
	g := New(parse(t, model), f.factory, Options{Traces: 1, MinEvents: 1, MaxEvents: 1, Timeout: time.Nanosecond})
	rep, err := g.Run(context.Background())
	require.NoError(t, err)
	assert.True(t, rep.Totals.TimedOut)
	assert.True(t, rep.Totals.Stats.TimedOut)
	assert.Empty(t, rep.Positive)
}

type recordingSink struct {
	mu     sync.Mutex
	g      *Generator
	states []State
	cells  []CellReport
	traces int
	fail   bool
}

func (s *recordingSink) RecordCell(_ context.Context, runID string, cell CellReport) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.fail {
		return errors.New("disk full")
	}
	s.states = append(s.states, s.g.State())
	s.cells = append(s.cells, cell)
	return nil
}

func (s *recordingSink) SaveTraces(_ context.Context, runID string, traces []declare.Trace) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.states = append(s.states, s.g.State())
	s.traces += len(traces)
	return nil
}

func TestSinkSeesPhases(t *testing.T) {
	sink := &recordingSink{}
	g := New(parse(t, model), (&fakeSolver{}).factory, Options{Traces: 2, NegativeTraces: 1, MinEvents: 2, MaxEvents: 3, Sink: sink})
	sink.g = g
	_, err := g.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []State{PositiveBatch, PositiveBatch, NegativeBatch, Decoding}, sink.states)
	assert.Len(t, sink.cells, 3)
	assert.Equal(t, 3, sink.traces)

	failing := &recordingSink{fail: true}
	g = New(parse(t, model), (&fakeSolver{}).factory, Options{Traces: 2, MinEvents: 2, MaxEvents: 2, Sink: failing})
	failing.g = g
	_, err = g.Run(context.Background())
	assert.ErrorContains(t, err, "disk full")
}

func TestGaussianShortfallIsReported(t *testing.T) {
	g := New(parse(t, model), (&fakeSolver{}).factory, Options{Traces: 200, MinEvents: 4, MaxEvents: 4,
		Policy: distribution.Gaussian, Mu: 4, Sigma: 2, Seed: 5})
	rep, err := g.Run(context.Background())
	require.NoError(t, err)
	assert.Positive(t, rep.Totals.Shortfall)
	assert.Equal(t, rep.Totals.Requested-rep.Totals.Shortfall, rep.Totals.Produced)
	assert.Contains(t, rep.Warnings[0], "gaussian distribution placed")
}

func TestInvalidOptions(t *testing.T) {
	m := parse(t, model)
	for _, o := range []Options{
		{Traces: -1, MinEvents: 1, MaxEvents: 1},
		{Traces: 1, MinEvents: 1, MaxEvents: 1, BatchSize: -2},
		{Traces: 1, MinEvents: 1, MaxEvents: 1, Diversity: Diversity{Threshold: -1}},
	} {
		_, err := New(m, (&fakeSolver{}).factory, o).Run(context.Background())
		assert.Error(t, err)
	}
	var de *distribution.Error
	_, err := New(m, (&fakeSolver{}).factory, Options{Traces: 1, MinEvents: 3, MaxEvents: 1}).Run(context.Background())
	assert.ErrorAs(t, err, &de)
}

func TestParseStrategy(t *testing.T) {
	for in, want := range map[string]Strategy{"": DiversityNone, "random": DiversityRandom, "Hamming": DiversityHamming, "levenshtein": DiversityLevenshtein} {
		got, err := ParseStrategy(in)
		require.NoError(t, err)
		assert.Equal(t, want, got)
		assert.NotEmpty(t, got.String())
	}
	_, err := ParseStrategy("jaccard")
	assert.Error(t, err)
}
