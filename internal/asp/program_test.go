package asp

import (
	"math/rand"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"declaregen/internal/declare"
	"declaregen/internal/encoding"
	"declaregen/internal/parser"
)

const model = `activity A
activity B
bind A: kind, cost
bind B: n
kind: x, y, z
cost: float between 1.50 and 3.0
n: integer
Response[A, B] | A.kind is x | T.n > 3 |
Existence2[A] | |
Precedence[A, B] | |
`

func parse(t *testing.T, src string) *declare.Model {
	t.Helper()
	res, err := parser.ParseString(src, parser.Options{})
	require.NoError(t, err)
	return res.Model
}

func TestBuildPositiveProgram(t *testing.T) {
	m := parse(t, model)
	prog, err := Build(m, encoding.NewSession(false), Options{})
	require.NoError(t, err)
	text := prog.Text()

	for _, want := range []string{
		"activity(\"A\").",
		"has_attribute(\"A\",kind).",
		"has_attribute(\"B\",n).",
		"value(cost,150..300).",
		"value(n,0..100).",
		"value(kind,x).",
		"template(0,\"Response\").",
		"activation(0,\"A\").",
		"target(0,\"B\").",
		"activation_condition(0,T) :- assigned_value(kind,x,T).",
		"correlation_condition(0,T) :- assigned_value(n,V0,T), V0 > 3.",
		"template(1,\"Existence2\").",
		"activation_condition(1,T) :- time(T).",
		"accepting(1,2).",
		"delta(1,0,a,1).",
		"template(2,\"Precedence\").",
		// Precedence activates on its second activity.
		"activation(2,\"B\").",
		"target(2,\"A\").",
		"correlation_condition(2,T) :- time(T).",
		"#show trace/2.",
		":- template(I,_), not sat(I,p).",
	} {
		assert.Contains(t, text, want)
	}
	assert.NotContains(t, text, "target(1,")

	base, ok := prog.Part(PartBase)
	require.True(t, ok)
	assert.Contains(t, base.Text, GenerationEncoding())
	_, ok = prog.Part("nope")
	assert.False(t, ok)
}

func TestBuildEncoded(t *testing.T) {
	m := parse(t, model)
	s := encoding.NewSession(true)
	prog, err := Build(m, s, Options{})
	require.NoError(t, err)
	text := prog.Text()
	assert.Contains(t, text, "activity(a0).")
	assert.Contains(t, text, "activity(a1).")
	assert.NotContains(t, text, "\"A\"")

	name, err := s.Decode("a1", encoding.Activity)
	require.NoError(t, err)
	assert.Equal(t, "B", name)
}

func TestTransitionsCoverAutomaton(t *testing.T) {
	m := parse(t, model)
	prog, err := Build(m, encoding.NewSession(false), Options{})
	require.NoError(t, err)
	a, err := declare.Response.Automaton(0)
	require.NoError(t, err)
	assert.Equal(t, a.States*len(declare.Symbols), strings.Count(prog.Text(), "delta(0,"))
}

func TestEnumerationShuffleIsSeeded(t *testing.T) {
	m := parse(t, "activity A\nbind A: k\nk: a1, a2, a3, a4, a5, a6, a7, a8\nExistence[A] | |\n")
	build := func(seed int64) string {
		prog, err := Build(m, encoding.NewSession(false), Options{Rand: rand.New(rand.NewSource(seed))})
		require.NoError(t, err)
		return prog.Text()
	}
	assert.Equal(t, build(7), build(7))
	orders := map[string]bool{}
	for seed := int64(0); seed < 5; seed++ {
		orders[build(seed)] = true
	}
	assert.Greater(t, len(orders), 1)
}

func TestDirective(t *testing.T) {
	m := parse(t, model)

	d, err := Directive(m, Negative, nil)
	require.NoError(t, err)
	assert.Equal(t, "unsat_some :- template(I,_), not sat(I,p).\n:- not unsat_some.\n", d)

	d, err = Directive(m, Negative, []int{2, 0, 2})
	require.NoError(t, err)
	assert.Equal(t, "violate(0).\nviolate(2).\n:- violate(I), sat(I,p).\n:- template(I,_), not violate(I), not sat(I,p).\n", d)

	_, err = Directive(m, Negative, []int{3})
	assert.Error(t, err)

	prog, err := Build(m, encoding.NewSession(false), Options{Mode: Negative, Violations: []int{1}})
	require.NoError(t, err)
	dir, ok := prog.Part(PartDirective)
	require.True(t, ok)
	assert.Contains(t, dir.Text, "violate(1).")
	assert.Contains(t, prog.Text(), "% directive")
}

func TestBuildRejectsBadCondition(t *testing.T) {
	m := parse(t, "activity A\nbind A: k\nk: x, y\nExistence[A] | A.k > 3 |\n")
	_, err := Build(m, encoding.NewSession(false), Options{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "does not apply")
}

func TestDiversityParts(t *testing.T) {
	s := encoding.NewSession(false)
	tabu := TabuPart(3, []string{"a", "B"}, 1, s)
	assert.Equal(t, "tabu_3", tabu.Name)
	assert.Equal(t, "#external tabu_on(3).\ntabu_3(a,1).\ntabu_3(\"B\",2).\n:- tabu_on(3), #count { T : trace(A,T), tabu_3(A,T) } > 1.\n", tabu.Text)
	assert.Equal(t, "tabu_on(3)", TabuGuard(3))

	rej := RejectPart(4, []string{"a", "b"}, s)
	assert.Equal(t, ":- trace(a,1), trace(b,2).\n", rej.Text)
	assert.Empty(t, RejectPart(5, nil, s).Text)
}
