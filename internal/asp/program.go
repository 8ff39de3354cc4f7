// Package asp assembles the logic program that generates traces for a
// DECLARE model: model facts, compiled conditions, per-instance automata,
// the fixed generation encoding and the positive or negative directive.
package asp

import (
	_ "embed"
	"fmt"
	"math/rand"
	"sort"
	"strconv"
	"strings"

	"declaregen/internal/condition"
	"declaregen/internal/declare"
	"declaregen/internal/encoding"
	"declaregen/internal/logging"
)

//go:embed generation.lp
var generationEncoding string

// GenerationEncoding returns the model-independent part of every program.
func GenerationEncoding() string { return generationEncoding }

// Mode selects which directive closes the program.
type Mode int

const (
	// Positive requires every constraint to hold.
	Positive Mode = iota
	// Negative requires at least one constraint, or the chosen ones, to fail.
	Negative
)

func (m Mode) String() string {
	if m == Negative {
		return "negative"
	}
	return "positive"
}

// Part names used in assembled programs.
const (
	PartBase      = "base"
	PartDirective = "directive"
)

// Default bounds for attributes declared without a range.
var (
	DefaultIntRange   = [2]int64{0, 100}
	DefaultFloatRange = [2]float64{0, 100}
)

// Options tunes assembly.
type Options struct {
	Mode Mode
	// Violations lists the constraint indices a negative program must
	// violate. Empty lets the solver choose at least one.
	Violations []int
	// Rand shuffles enumeration facts. Nil uses a fixed seed.
	Rand *rand.Rand
	// IntRange and FloatRange bound unbounded numeric attributes. Zero values
	// fall back to DefaultIntRange and DefaultFloatRange.
	IntRange   [2]int64
	FloatRange [2]float64
}

// Part is a named block of program text.
type Part struct {
	Name string
	Text string
}

// Program is an assembled program.
type Program struct {
	Parts []Part
}

// Text concatenates every part into one program for the default base
// grounding.
func (p *Program) Text() string {
	var sb strings.Builder
	for _, part := range p.Parts {
		if part.Name != PartBase {
			fmt.Fprintf(&sb, "\n%% %s\n", part.Name)
		}
		sb.WriteString(part.Text)
		if !strings.HasSuffix(part.Text, "\n") {
			sb.WriteByte('\n')
		}
	}
	return sb.String()
}

// Part returns the part named name.
func (p *Program) Part(name string) (Part, bool) {
	for _, part := range p.Parts {
		if part.Name == name {
			return part, true
		}
	}
	return Part{}, false
}

// Build assembles the program of m. Names go through s, so the caller owns
// the mapping needed to decode the models.
func Build(m *declare.Model, s *encoding.Session, opts Options) (*Program, error) {
	timer := logging.StartTimer(logging.CategoryAssembler, "build")
	defer timer.Stop()

	if opts.Rand == nil {
		opts.Rand = rand.New(rand.NewSource(1))
	}
	if opts.IntRange == [2]int64{} {
		opts.IntRange = DefaultIntRange
	}
	if opts.FloatRange == [2]float64{} {
		opts.FloatRange = DefaultFloatRange
	}

	var sb strings.Builder
	sb.WriteString("% model facts\n")
	if err := writeFacts(&sb, m, s, opts); err != nil {
		return nil, err
	}

	compiler := condition.NewCompiler(m, s)
	for _, ci := range m.Constraints {
		if err := writeInstance(&sb, ci, m, s, compiler); err != nil {
			return nil, err
		}
	}
	sb.WriteString("\n% generation encoding\n")
	sb.WriteString(generationEncoding)

	directive, err := Directive(m, opts.Mode, opts.Violations)
	if err != nil {
		return nil, err
	}
	logging.Assembler("assembled %s program: %d constraints, %d bytes", opts.Mode, len(m.Constraints), sb.Len()+len(directive))
	return &Program{Parts: []Part{
		{Name: PartBase, Text: sb.String()},
		{Name: PartDirective, Text: directive},
	}}, nil
}

func writeFacts(sb *strings.Builder, m *declare.Model, s *encoding.Session, opts Options) error {
	for _, act := range m.Activities {
		a := s.Symbol(act, encoding.Activity)
		fmt.Fprintf(sb, "activity(%s).\n", a)
		for _, attr := range m.Bindings[act] {
			if _, ok := m.Attributes[attr]; !ok {
				continue
			}
			fmt.Fprintf(sb, "has_attribute(%s,%s).\n", a, s.Symbol(attr, encoding.Attribute))
		}
	}
	for _, name := range m.AttributeNames() {
		spec, ok := m.Attributes[name]
		if !ok {
			continue
		}
		k := s.Symbol(name, encoding.Attribute)
		d := spec.Domain
		switch d.Kind {
		case declare.DomainIntegerRange, declare.DomainFloatRange:
			fmt.Fprintf(sb, "value(%s,%d..%d).\n", k, d.Lo, d.Hi)
		case declare.DomainInteger:
			fmt.Fprintf(sb, "value(%s,%d..%d).\n", k, opts.IntRange[0], opts.IntRange[1])
		case declare.DomainFloat:
			lo := spec.Scale(opts.FloatRange[0]).Value
			hi := spec.Scale(opts.FloatRange[1]).Value
			fmt.Fprintf(sb, "value(%s,%d..%d).\n", k, lo, hi)
		case declare.DomainEnumeration:
			values := append([]string(nil), d.Values...)
			opts.Rand.Shuffle(len(values), func(i, j int) { values[i], values[j] = values[j], values[i] })
			for _, v := range values {
				fmt.Fprintf(sb, "value(%s,%s).\n", k, s.Symbol(v, encoding.Value))
			}
		default:
			return &declare.IntegrityError{Subject: name, Msg: "attribute has no declared domain"}
		}
	}
	return nil
}

func writeInstance(sb *strings.Builder, ci *declare.ConstraintInstance, m *declare.Model, s *encoding.Session, c *condition.Compiler) error {
	for _, act := range ci.Activities {
		if !m.HasActivity(act) {
			return &declare.IntegrityError{Subject: ci.String(), Line: ci.Line, Msg: fmt.Sprintf("undeclared activity %q", act)}
		}
	}
	i := ci.Index
	fmt.Fprintf(sb, "\n%% %d: %s\n", i, ci)
	fmt.Fprintf(sb, "template(%d,%s).\n", i, strconv.Quote(ci.Name()))
	fmt.Fprintf(sb, "activation(%d,%s).\n", i, s.Symbol(ci.ActivationActivity(), encoding.Activity))
	if t := ci.TargetActivity(); t != "" {
		fmt.Fprintf(sb, "target(%d,%s).\n", i, s.Symbol(t, encoding.Activity))
	}

	rules, err := c.Compile(ci)
	if err != nil {
		return err
	}
	for _, r := range rules {
		sb.WriteString(r)
		sb.WriteByte('\n')
	}

	a, err := ci.Template.Automaton(ci.Cardinality)
	if err != nil {
		return err
	}
	fmt.Fprintf(sb, "initial(%d,0).\n", i)
	for _, st := range a.Accepting {
		fmt.Fprintf(sb, "accepting(%d,%d).\n", i, st)
	}
	for _, e := range a.Transitions() {
		fmt.Fprintf(sb, "delta(%d,%d,%s,%d).\n", i, e.From, e.On, e.To)
	}
	return nil
}

// Directive returns the constraint closing a program in mode. Negative
// programs with violations must break exactly those instances and keep the
// others satisfied; without violations any unsatisfied instance will do.
func Directive(m *declare.Model, mode Mode, violations []int) (string, error) {
	if mode == Positive {
		return ":- template(I,_), not sat(I,p).\n", nil
	}
	if len(violations) == 0 {
		return "unsat_some :- template(I,_), not sat(I,p).\n:- not unsat_some.\n", nil
	}
	idx := append([]int(nil), violations...)
	sort.Ints(idx)
	var sb strings.Builder
	seen := make(map[int]bool)
	for _, v := range idx {
		if v < 0 || v >= len(m.Constraints) {
			return "", fmt.Errorf("violation index %d out of range [0,%d)", v, len(m.Constraints))
		}
		if seen[v] {
			continue
		}
		seen[v] = true
		fmt.Fprintf(&sb, "violate(%d).\n", v)
	}
	sb.WriteString(":- violate(I), sat(I,p).\n")
	sb.WriteString(":- template(I,_), not violate(I), not sat(I,p).\n")
	return sb.String(), nil
}
