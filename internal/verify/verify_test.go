package verify

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"declaregen/internal/declare"
	"declaregen/internal/parser"
)

const model = `activity A
activity B
activity C
bind A: kind
bind B: n
kind: x, y
n: integer between 0 and 10
Response[A, B] | A.kind is x | T.n > 3 |
Init[A] | |
ChainResponse[C, A] | |
`

func parseModel(t *testing.T) *declare.Model {
	t.Helper()
	res, err := parser.ParseString(model, parser.Options{})
	require.NoError(t, err)
	return res.Model
}

func num(v int64) declare.Value { return declare.Value{Number: &declare.Scaled{Value: v}} }

func trace(label declare.Label, events ...declare.Event) declare.Trace {
	return declare.Trace{ID: "trace_1", Label: label, Events: events}
}

func a(kind string) declare.Event {
	return declare.Event{Activity: "A", Attributes: map[string]declare.Value{"kind": {Text: kind}}}
}

func b(n int64) declare.Event {
	return declare.Event{Activity: "B", Attributes: map[string]declare.Value{"n": num(n)}}
}

var c = declare.Event{Activity: "C"}

func TestCheck(t *testing.T) {
	m := parseModel(t)
	tests := []struct {
		name      string
		tr        declare.Trace
		violated  []int
		activated []bool
	}{
		{"all hold", trace(declare.Positive, a("x"), b(5), c, a("y")), nil, []bool{true, true, true}},
		{"response target condition fails", trace(declare.Negative, a("x"), b(2)), []int{0}, []bool{true, true, false}},
		{"activation condition false", trace(declare.Positive, a("y"), b(1)), nil, []bool{false, true, false}},
		{"init broken", trace(declare.Negative, b(1), a("y")), []int{1}, []bool{false, true, false}},
		{"chain broken", trace(declare.Negative, a("y"), c, b(4)), []int{2}, []bool{false, true, true}},
		{"trailing chain activation", trace(declare.Negative, a("y"), c), []int{2}, []bool{false, true, true}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res, err := Check(m, tt.tr)
			require.NoError(t, err)
			require.Len(t, res.Constraints, 3)
			assert.Equal(t, tt.violated, res.Violated())
			for i, want := range tt.activated {
				assert.Equal(t, want, res.Constraints[i].Activated, "constraint %d", i)
			}
			assert.True(t, res.Consistent())
		})
	}
}

func TestCheckAgreesWithAutomaton(t *testing.T) {
	m := parseModel(t)
	traces := []declare.Trace{
		trace(declare.Positive),
		trace(declare.Positive, a("x")),
		trace(declare.Positive, c, c, a("x"), b(9), b(0)),
		trace(declare.Positive, a("x"), a("x"), c, a("y"), b(4)),
	}
	for _, tr := range traces {
		res, err := Check(m, tr)
		require.NoError(t, err)
		for _, ci := range m.Constraints {
			syms, err := Symbols(m, ci, tr)
			require.NoError(t, err)
			auto, err := ci.Template.Automaton(ci.Cardinality)
			require.NoError(t, err)
			final := auto.Run(syms)
			got := res.Constraints[ci.Index]
			assert.Equal(t, final, got.FinalState, "%s on %v", ci, tr.Activities())
			assert.Equal(t, auto.Accepts(final), got.Satisfied, "%s on %v", ci, tr.Activities())
		}
	}
}

func TestSymbols(t *testing.T) {
	m := parseModel(t)
	syms, err := Symbols(m, m.Constraints[0], trace(declare.Positive, a("x"), a("y"), b(7), b(1), c))
	require.NoError(t, err)
	assert.Equal(t, []declare.Symbol{
		declare.SymActivation, declare.SymOther, declare.SymTarget, declare.SymOther, declare.SymOther,
	}, syms)
}

func TestDomainIssues(t *testing.T) {
	m := parseModel(t)
	res, err := Check(m, trace(declare.Positive,
		declare.Event{Activity: "A", Attributes: map[string]declare.Value{"kind": {Text: "zzz"}}},
		declare.Event{Activity: "B", Attributes: map[string]declare.Value{"n": num(11)}},
		declare.Event{Activity: "C", Attributes: map[string]declare.Value{"n": num(1)}},
	))
	require.NoError(t, err)
	assert.Len(t, res.Issues, 3)
	assert.False(t, res.Consistent())
}

func TestCheckEmptyModel(t *testing.T) {
	res, err := Check(declare.NewModel(), trace(declare.Positive))
	require.NoError(t, err)
	assert.Empty(t, res.Constraints)
	assert.True(t, res.Consistent())
}

func TestProgramText(t *testing.T) {
	m := parseModel(t)
	src, err := Program(m, trace(declare.Positive, a("x")))
	require.NoError(t, err)
	assert.Contains(t, src, "trace_length(1).")
	assert.Contains(t, src, "symbol(0, /a, 1).")
	assert.Contains(t, src, "symbol(2, /b, 1).")
	assert.Contains(t, src, "initial(1, 0).")
}
