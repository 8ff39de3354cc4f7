// Package verify audits traces against a DECLARE model.
//
// Each event is classified per constraint in Go, using the same condition
// semantics as the compiled rules. The automaton walk itself runs as a
// Mangle program over facts that mirror what the logic program sees, so a
// trace is checked by an engine independent of the one that generated it.
package verify

import (
	"fmt"
	"sort"
	"strings"

	"github.com/google/mangle/analysis"
	"github.com/google/mangle/ast"
	_ "github.com/google/mangle/builtin"
	"github.com/google/mangle/engine"
	"github.com/google/mangle/factstore"
	"github.com/google/mangle/parse"

	"declaregen/internal/condition"
	"declaregen/internal/declare"
	"declaregen/internal/logging"
)

const rules = `
state(I, S, 0) :- initial(I, S).
state(I, S2, T) :- state(I, S1, P), T = fn:plus(P, 1), symbol(I, X, T), delta(I, S1, X, S2).
final(I, S) :- trace_length(N), state(I, S, N).
sat(I) :- final(I, S), accepting(I, S).
activated(I) :- symbol(I, /a, _).
activated(I) :- symbol(I, /ab, _).
`

// ConstraintResult is the verdict of one constraint on one trace.
type ConstraintResult struct {
	Index      int    `json:"index"`
	Constraint string `json:"constraint"`
	Satisfied  bool   `json:"satisfied"`
	Activated  bool   `json:"activated"`
	FinalState int    `json:"final_state"`
}

// Result is the verdict of every constraint on one trace.
type Result struct {
	TraceID     string             `json:"trace_id"`
	Label       declare.Label      `json:"label"`
	Constraints []ConstraintResult `json:"constraints"`
	// Issues lists events carrying values outside their attribute domain.
	Issues []string `json:"issues,omitempty"`
}

// Violated returns the indices of unsatisfied constraints.
func (r Result) Violated() []int {
	var out []int
	for _, c := range r.Constraints {
		if !c.Satisfied {
			out = append(out, c.Index)
		}
	}
	return out
}

// Consistent reports whether the verdict matches the trace label: positive
// traces satisfy every constraint, negative traces break at least one.
func (r Result) Consistent() bool {
	if len(r.Issues) > 0 {
		return false
	}
	if r.Label == declare.Negative {
		return len(r.Violated()) > 0
	}
	return len(r.Violated()) == 0
}

// Symbols classifies every event of tr for ci.
func Symbols(m *declare.Model, ci *declare.ConstraintInstance, tr declare.Trace) ([]declare.Symbol, error) {
	act, tgt := ci.ActivationActivity(), ci.TargetActivity()
	out := make([]declare.Symbol, len(tr.Events))
	for i, ev := range tr.Events {
		var holdA, holdB bool
		if ev.Activity == act {
			ok, err := condition.Evaluate(m, ci.Activation, ev)
			if err != nil {
				return nil, fmt.Errorf("constraint %d: %w", ci.Index, err)
			}
			holdA = ok
		}
		if tgt != "" && ev.Activity == tgt {
			ok, err := condition.Evaluate(m, ci.Target, ev)
			if err != nil {
				return nil, fmt.Errorf("constraint %d: %w", ci.Index, err)
			}
			holdB = ok
		}
		out[i] = declare.SymbolFor(holdA, holdB)
	}
	return out, nil
}

// Program renders the Mangle program checking tr against m.
func Program(m *declare.Model, tr declare.Trace) (string, error) {
	var sb strings.Builder
	fmt.Fprintf(&sb, "trace_length(%d).\n", len(tr.Events))
	// Keeps symbol/3 defined when the trace is empty.
	fmt.Fprintf(&sb, "symbol(%d, /o, 0).\n", len(m.Constraints))
	for _, ci := range m.Constraints {
		a, err := ci.Template.Automaton(ci.Cardinality)
		if err != nil {
			return "", err
		}
		i := ci.Index
		fmt.Fprintf(&sb, "initial(%d, 0).\n", i)
		for _, s := range a.Accepting {
			fmt.Fprintf(&sb, "accepting(%d, %d).\n", i, s)
		}
		for _, e := range a.Transitions() {
			fmt.Fprintf(&sb, "delta(%d, %d, /%s, %d).\n", i, e.From, e.On, e.To)
		}
		syms, err := Symbols(m, ci, tr)
		if err != nil {
			return "", err
		}
		for t, s := range syms {
			fmt.Fprintf(&sb, "symbol(%d, /%s, %d).\n", i, s, t+1)
		}
	}
	sb.WriteString(rules)
	return sb.String(), nil
}

// Check evaluates every constraint of m on tr.
func Check(m *declare.Model, tr declare.Trace) (Result, error) {
	res := Result{TraceID: tr.ID, Label: tr.Label, Issues: domainIssues(m, tr)}
	if len(m.Constraints) == 0 {
		return res, nil
	}
	src, err := Program(m, tr)
	if err != nil {
		return res, err
	}
	unit, err := parse.Unit(strings.NewReader(src))
	if err != nil {
		return res, fmt.Errorf("verify: parse program: %w", err)
	}
	info, err := analysis.AnalyzeOneUnit(unit, nil)
	if err != nil {
		return res, fmt.Errorf("verify: analyze program: %w", err)
	}
	store := factstore.NewSimpleInMemoryStore()
	if _, err := engine.EvalProgramWithStats(info, store); err != nil {
		return res, fmt.Errorf("verify: evaluate: %w", err)
	}

	sat, err := instances(store, "sat", 1)
	if err != nil {
		return res, err
	}
	activated, err := instances(store, "activated", 1)
	if err != nil {
		return res, err
	}
	final := make(map[int]int)
	err = store.GetFacts(ast.NewQuery(ast.PredicateSym{Symbol: "final", Arity: 2}), func(a ast.Atom) error {
		i, err := number(a.Args[0])
		if err != nil {
			return err
		}
		s, err := number(a.Args[1])
		if err != nil {
			return err
		}
		final[i] = s
		return nil
	})
	if err != nil {
		return res, err
	}

	for _, ci := range m.Constraints {
		res.Constraints = append(res.Constraints, ConstraintResult{
			Index:      ci.Index,
			Constraint: ci.String(),
			Satisfied:  sat[ci.Index],
			Activated:  activated[ci.Index],
			FinalState: final[ci.Index],
		})
	}
	logging.VerifyDebug("%s: %d of %d constraints violated", tr.ID, len(res.Violated()), len(m.Constraints))
	return res, nil
}

func instances(store factstore.FactStore, pred string, arity int) (map[int]bool, error) {
	out := make(map[int]bool)
	err := store.GetFacts(ast.NewQuery(ast.PredicateSym{Symbol: pred, Arity: arity}), func(a ast.Atom) error {
		i, err := number(a.Args[0])
		if err != nil {
			return err
		}
		out[i] = true
		return nil
	})
	return out, err
}

func number(t ast.BaseTerm) (int, error) {
	c, ok := t.(ast.Constant)
	if !ok || c.Type != ast.NumberType {
		return 0, fmt.Errorf("verify: expected number, got %v", t)
	}
	return int(c.NumValue), nil
}

func domainIssues(m *declare.Model, tr declare.Trace) []string {
	var out []string
	for i, ev := range tr.Events {
		bound := make(map[string]bool)
		for _, name := range m.Bindings[ev.Activity] {
			bound[name] = true
		}
		for _, name := range sortedKeys(ev.Attributes) {
			v := ev.Attributes[name]
			spec, ok := m.Attribute(name)
			if !ok || !bound[name] {
				out = append(out, fmt.Sprintf("event %d (%s): attribute %s is not bound", i+1, ev.Activity, name))
				continue
			}
			if !inDomain(spec, v) {
				out = append(out, fmt.Sprintf("event %d (%s): %s=%s outside %s", i+1, ev.Activity, name, v, spec.Domain.Kind))
			}
		}
	}
	return out
}

func inDomain(spec *declare.AttributeSpec, v declare.Value) bool {
	d := spec.Domain
	switch d.Kind {
	case declare.DomainEnumeration:
		return v.Number == nil && spec.HasValue(v.Text)
	case declare.DomainIntegerRange, declare.DomainFloatRange:
		return v.Number != nil && v.Number.Value >= d.Lo && v.Number.Value <= d.Hi
	case declare.DomainInteger, declare.DomainFloat:
		return v.Number != nil
	}
	return false
}

func sortedKeys(m map[string]declare.Value) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
