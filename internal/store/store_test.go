package store

import (
	"context"
	"fmt"
	"path/filepath"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"declaregen/internal/declare"
	"declaregen/internal/generator"
	"declaregen/internal/parser"
	"declaregen/internal/solver"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m, goleak.IgnoreTopFunction("database/sql.(*DB).connectionOpener"))
}

func openMemory(t *testing.T) *Store {
	t.Helper()
	s, err := Open(MemoryPath)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func sampleTraces() []declare.Trace {
	amount := declare.Scale(12.5, 2)
	return []declare.Trace{
		{ID: "trace_1", Label: declare.Positive, Events: []declare.Event{
			{Activity: "Register", Attributes: map[string]declare.Value{"channel": {Text: "web"}}},
			{Activity: "Pay", Attributes: map[string]declare.Value{"amount": {Number: &amount}}},
		}},
		{ID: "trace_2", Label: declare.Negative, Events: []declare.Event{
			{Activity: "Ship Order"},
		}},
	}
}

func TestTraceRoundTrip(t *testing.T) {
	s := openMemory(t)
	ctx := context.Background()
	want := sampleTraces()

	require.NoError(t, s.SaveTraces(ctx, "run-1", want))
	got, err := s.LoadTraces(ctx, "run-1")
	require.NoError(t, err)
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("LoadTraces mismatch (-want +got):\n%s", diff)
	}

	counts, err := s.CountTraces(ctx, "run-1")
	require.NoError(t, err)
	assert.Equal(t, map[declare.Label]int{declare.Positive: 1, declare.Negative: 1}, counts)

	other, err := s.LoadTraces(ctx, "run-2")
	require.NoError(t, err)
	assert.Empty(t, other)
}

func TestSaveTracesReplacesEvents(t *testing.T) {
	s := openMemory(t)
	ctx := context.Background()
	require.NoError(t, s.SaveTraces(ctx, "run", sampleTraces()))

	shorter := []declare.Trace{{ID: "trace_1", Label: declare.Positive, Events: []declare.Event{{Activity: "Pay"}}}}
	require.NoError(t, s.SaveTraces(ctx, "run", shorter))

	got, err := s.LoadTraces(ctx, "run")
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "trace_2", got[0].ID)
	assert.Equal(t, []string{"Pay"}, got[1].Activities())
}

func TestEmptyTrace(t *testing.T) {
	s := openMemory(t)
	ctx := context.Background()
	require.NoError(t, s.SaveTraces(ctx, "run", []declare.Trace{{ID: "trace_1", Label: declare.Positive}}))
	got, err := s.LoadTraces(ctx, "run")
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Empty(t, got[0].Events)
}

func TestCells(t *testing.T) {
	s := openMemory(t)
	ctx := context.Background()
	cells := []generator.CellReport{
		{Label: declare.Positive, Length: 3, Requested: 4, Produced: 4, Batches: 1, Calls: 1,
			Stats: solver.Statistics{Total: 20 * time.Millisecond, Result: "SATISFIABLE", Requested: 4, Produced: 4}},
		{Label: declare.Negative, Length: 2, Requested: 2, Calls: 1, Unsatisfiable: true,
			Stats: solver.Statistics{Result: "UNSATISFIABLE"}},
	}
	for _, c := range cells {
		require.NoError(t, s.RecordCell(ctx, "run", c))
	}
	got, err := s.Cells(ctx, "run")
	require.NoError(t, err)
	if diff := cmp.Diff(cells, got); diff != "" {
		t.Errorf("Cells mismatch (-want +got):\n%s", diff)
	}
}

func TestRuns(t *testing.T) {
	s := openMemory(t)
	ctx := context.Background()
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	older := Run{ID: "a", Model: "old.decl", Requested: 5, Produced: 3, Shortfall: 2,
		Warnings: []string{"cannot generate 2 traces with exactly 4 events"}, CreatedAt: base}
	newer := Run{ID: "b", Model: "new.decl", Requested: 1, Produced: 1, TimedOut: true,
		Totals: generator.Totals{Requested: 1, Produced: 1, Models: 1, TimedOut: true}, CreatedAt: base.Add(time.Hour)}
	require.NoError(t, s.SaveRun(ctx, older))
	require.NoError(t, s.SaveRun(ctx, newer))

	runs, err := s.Runs(ctx)
	require.NoError(t, err)
	require.Len(t, runs, 2)
	assert.Equal(t, "b", runs[0].ID)
	assert.True(t, runs[0].TimedOut)
	assert.Equal(t, 1, runs[0].Totals.Models)
	assert.True(t, runs[0].CreatedAt.Equal(newer.CreatedAt))
	assert.Equal(t, older.Warnings, runs[1].Warnings)
	assert.Equal(t, 2, runs[1].Shortfall)
}

func TestOpenFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "runs.db")
	s, err := Open(path)
	require.NoError(t, err)
	require.NoError(t, s.SaveTraces(context.Background(), "run", sampleTraces()))
	require.NoError(t, s.Close())

	s, err = Open(path)
	require.NoError(t, err)
	defer s.Close()
	got, err := s.LoadTraces(context.Background(), "run")
	require.NoError(t, err)
	assert.Len(t, got, 2)
}

// cycleControl serves models that cycle through a fixed activity list.
type cycleControl struct {
	acts   []string
	length int
}

func (c *cycleControl) Add(string, string) error          { return nil }
func (c *cycleControl) Ground(...string) error            { return nil }
func (c *cycleControl) AssignExternal(string, bool) error { return nil }
func (c *cycleControl) Close() error                      { return nil }

func (c *cycleControl) Solve(_ context.Context, maxModels int, onModel func(solver.Model) bool) (solver.Result, error) {
	res := solver.Result{Outcome: solver.Satisfiable}
	for k := 0; k < maxModels; k++ {
		var syms []solver.Symbol
		for t := 1; t <= c.length; t++ {
			sym, err := solver.ParseSymbol(fmt.Sprintf("trace(%s,%d)", c.acts[(k+t)%len(c.acts)], t))
			if err != nil {
				return res, err
			}
			syms = append(syms, sym)
		}
		res.Models++
		if !onModel(solver.Model{Number: res.Models, Symbols: syms}) {
			break
		}
	}
	return res, nil
}

func cycleFactory(args []string) (solver.Control, error) {
	c := &cycleControl{acts: []string{"a", "b"}}
	for _, a := range args {
		if strings.HasPrefix(a, "p=") {
			c.length, _ = strconv.Atoi(a[2:])
		}
	}
	return c, nil
}

func TestStoreAsSink(t *testing.T) {
	s := openMemory(t)
	res, err := parser.ParseString("activity a\nactivity b\nResponse[a, b] | |\n", parser.Options{})
	require.NoError(t, err)

	g := generator.New(res.Model, cycleFactory, generator.Options{
		Traces: 4, MinEvents: 2, MaxEvents: 3, Seed: 5, Sink: s,
	})
	rep, err := g.Run(context.Background())
	require.NoError(t, err)

	ctx := context.Background()
	require.NoError(t, s.SaveRun(ctx, RunFromReport(rep, "model.decl")))

	stored, err := s.LoadTraces(ctx, rep.RunID)
	require.NoError(t, err)
	if diff := cmp.Diff(rep.Traces(), stored); diff != "" {
		t.Errorf("stored traces differ (-report +store):\n%s", diff)
	}
	cells, err := s.Cells(ctx, rep.RunID)
	require.NoError(t, err)
	assert.Len(t, cells, len(rep.Cells))

	runs, err := s.Runs(ctx)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, rep.Totals.Produced, runs[0].Produced)
}
