package condition

import (
	"fmt"

	"declaregen/internal/declare"
)

// Evaluate reports whether cond holds on ev. It mirrors the compiled rules:
// a literal over an attribute the event does not carry is false, variables
// are scoped to the conjunction that binds them, and a nil condition holds.
func Evaluate(m *declare.Model, cond declare.Condition, ev declare.Event) (bool, error) {
	if cond == nil {
		return true, nil
	}
	e := evaluator{model: m, ev: ev}
	return e.node(cond)
}

type evaluator struct {
	model *declare.Model
	ev    declare.Event
}

func (e evaluator) node(n declare.Condition) (bool, error) {
	switch n := n.(type) {
	case declare.Bool:
		return bool(n), nil
	case *declare.Literal:
		return e.conjunction([]declare.Condition{n})
	case *declare.And:
		return e.conjunction(n.Children)
	case *declare.Or:
		for _, ch := range n.Children {
			ok, err := e.node(ch)
			if err != nil || ok {
				return ok, err
			}
		}
		return false, nil
	}
	return false, fmt.Errorf("unsupported condition node %T", n)
}

func (e evaluator) conjunction(children []declare.Condition) (bool, error) {
	var lits []*declare.Literal
	var subs []declare.Condition
	var flatten func([]declare.Condition) bool
	flatten = func(cs []declare.Condition) bool {
		for _, ch := range cs {
			switch ch := ch.(type) {
			case declare.Bool:
				if !ch {
					return false
				}
			case *declare.Literal:
				lits = append(lits, ch)
			case *declare.And:
				if !flatten(ch.Children) {
					return false
				}
			default:
				subs = append(subs, ch)
			}
		}
		return true
	}
	if !flatten(children) {
		return false, nil
	}

	env := make(map[string]declare.Value)
	for _, l := range lits {
		name, ok := binding(l)
		if !ok {
			continue
		}
		v, present := e.ev.Attributes[l.Attribute]
		if !present {
			return false, nil
		}
		if prev, seen := env[name]; seen && !sameValue(prev, v) {
			return false, nil
		}
		env[name] = v
	}
	for _, l := range lits {
		if _, ok := binding(l); ok {
			continue
		}
		ok, err := e.literal(l, env)
		if err != nil || !ok {
			return false, err
		}
	}
	for _, s := range subs {
		ok, err := e.node(s)
		if err != nil || !ok {
			return false, err
		}
	}
	return true, nil
}

func sameValue(a, b declare.Value) bool {
	if a.Number != nil || b.Number != nil {
		return a.Number != nil && b.Number != nil && *a.Number == *b.Number
	}
	return a.Text == b.Text
}

func (e evaluator) literal(l *declare.Literal, env map[string]declare.Value) (bool, error) {
	spec, ok := e.model.Attribute(l.Attribute)
	if !ok {
		return false, fmt.Errorf("unknown attribute in condition %s", l.Attribute)
	}
	v, present := e.ev.Attributes[l.Attribute]
	if !present {
		return false, nil
	}
	if spec.Domain.Kind.Numeric() {
		if v.Number == nil {
			return false, nil
		}
		rhs, err := e.number(l, spec, env)
		if err != nil {
			return false, err
		}
		return compare(l.Op, v.Number.Value, rhs)
	}

	values := make([]string, 0, len(l.Operands))
	for _, o := range l.Operands {
		if o.Kind == declare.OperandVariable {
			bound, ok := env[o.Text]
			if !ok {
				return false, fmt.Errorf("variable :%s is not bound in %s", o.Text, l)
			}
			values = append(values, bound.Text)
			continue
		}
		values = append(values, o.Text)
	}
	member := false
	for _, x := range values {
		if x == v.Text {
			member = true
		}
	}
	switch l.Op {
	case declare.OpIs, declare.OpEq, declare.OpIn:
		return member, nil
	case declare.OpIsNot, declare.OpNe, declare.OpNotIn:
		return !member, nil
	}
	return false, fmt.Errorf("operator %s does not apply to enumeration attribute %s", l.Op, spec.Name)
}

func (e evaluator) number(l *declare.Literal, spec *declare.AttributeSpec, env map[string]declare.Value) (int64, error) {
	o := l.Operands[0]
	if o.Kind == declare.OperandVariable {
		bound, ok := env[o.Text]
		if !ok || bound.Number == nil {
			return 0, fmt.Errorf("variable :%s is not bound to a number in %s", o.Text, l)
		}
		return bound.Number.Value, nil
	}
	s, err := declare.ParseScaled(o.Text, spec.Precision)
	if err != nil {
		return 0, err
	}
	return s.Value, nil
}

func compare(op declare.Operator, a, b int64) (bool, error) {
	switch op {
	case declare.OpEq:
		return a == b, nil
	case declare.OpNe:
		return a != b, nil
	case declare.OpLt:
		return a < b, nil
	case declare.OpLe:
		return a <= b, nil
	case declare.OpGt:
		return a > b, nil
	case declare.OpGe:
		return a >= b, nil
	}
	return false, fmt.Errorf("operator %s does not compare numbers", op)
}
