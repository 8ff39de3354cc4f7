package condition

import (
	"fmt"
	"strconv"
	"strings"

	"declaregen/internal/declare"
	"declaregen/internal/encoding"
	"declaregen/internal/logging"
)

// CompileError reports a condition that cannot be expressed over the model.
type CompileError struct {
	Constraint string
	Literal    string
	Msg        string
}

func (e *CompileError) Error() string {
	if e.Literal != "" {
		return fmt.Sprintf("%s: %s: %s", e.Constraint, e.Literal, e.Msg)
	}
	return e.Constraint + ": " + e.Msg
}

const (
	activationHead  = "activation_condition"
	correlationHead = "correlation_condition"
)

// Compiler turns the conditions of constraint instances into ASP rules
// defining activation_condition(I,T) and correlation_condition(I,T).
type Compiler struct {
	model   *declare.Model
	session *encoding.Session
}

// NewCompiler returns a compiler resolving attributes against m and naming
// them through s.
func NewCompiler(m *declare.Model, s *encoding.Session) *Compiler {
	return &Compiler{model: m, session: s}
}

// unit is the compilation state of one condition.
type unit struct {
	ci    *declare.ConstraintInstance
	role  declare.Role
	tag   string
	rules []string
	vars  map[string]string
	fresh int
}

// varKind records how a variable was bound inside one rule body.
type varKind struct {
	numeric   bool
	precision uint32
	attr      string
}

// body collects the atoms of one rule.
type body struct {
	atoms []string
	bound map[string]varKind
}

// Compile returns the rules of ci. Missing conditions compile to a rule that
// holds at every time step. The correlation head is emitted only for binary
// templates.
func (c *Compiler) Compile(ci *declare.ConstraintInstance) ([]string, error) {
	var rules []string
	act, err := c.compileRole(ci, declare.RoleActivation, ci.Activation)
	if err != nil {
		return nil, err
	}
	rules = append(rules, act...)
	if ci.Template.Info().Arity == declare.Binary {
		tgt, err := c.compileRole(ci, declare.RoleTarget, ci.Target)
		if err != nil {
			return nil, err
		}
		rules = append(rules, tgt...)
	}
	logging.CompilerDebug("compiled %s into %d rules", ci.Name(), len(rules))
	return rules, nil
}

func (c *Compiler) compileRole(ci *declare.ConstraintInstance, role declare.Role, cond declare.Condition) ([]string, error) {
	name, tag := activationHead, "a"
	if role == declare.RoleTarget {
		name, tag = correlationHead, "t"
	}
	head := fmt.Sprintf("%s(%d,T)", name, ci.Index)
	if cond == nil {
		return []string{head + " :- time(T)."}, nil
	}
	u := &unit{ci: ci, role: role, tag: tag, vars: make(map[string]string)}
	if err := c.node(u, cond, head, strconv.Itoa(ci.Index)+"_"+tag); err != nil {
		return nil, err
	}
	return u.rules, nil
}

func (u *unit) emit(head string, atoms []string) {
	if len(atoms) == 0 {
		atoms = []string{"time(T)"}
	}
	u.rules = append(u.rules, head+" :- "+strings.Join(atoms, ", ")+".")
}

func (u *unit) errorf(l *declare.Literal, format string, args ...any) error {
	e := &CompileError{Constraint: u.ci.String(), Msg: fmt.Sprintf(format, args...)}
	if l != nil {
		e.Literal = l.String()
	}
	return e
}

func (u *unit) freshVar() string {
	v := "V" + strconv.Itoa(u.fresh)
	u.fresh++
	return v
}

func (u *unit) aspVar(name string) string {
	v, ok := u.vars[name]
	if !ok {
		v = "X" + strconv.Itoa(len(u.vars))
		u.vars[name] = v
	}
	return v
}

// node emits the rules making head true when n holds. Or children share the
// head; And nodes become one conjunctive rule, with nested disjunctions
// delegated to sub-predicates named after their position.
func (c *Compiler) node(u *unit, n declare.Condition, head, path string) error {
	switch n := n.(type) {
	case declare.Bool:
		if n {
			u.emit(head, nil)
		}
		return nil
	case *declare.Literal:
		return c.conjunction(u, []declare.Condition{n}, head, path)
	case *declare.Or:
		for i, ch := range n.Children {
			if err := c.node(u, ch, head, path+"_"+strconv.Itoa(i)); err != nil {
				return err
			}
		}
		return nil
	case *declare.And:
		return c.conjunction(u, n.Children, head, path)
	}
	return u.errorf(nil, "unsupported condition node %T", n)
}

func (c *Compiler) conjunction(u *unit, children []declare.Condition, head, path string) error {
	var lits []*declare.Literal
	var subs []declare.Condition
	var subPaths []string
	var flatten func(cs []declare.Condition, path string) bool
	flatten = func(cs []declare.Condition, path string) bool {
		for i, ch := range cs {
			p := path + "_" + strconv.Itoa(i)
			switch ch := ch.(type) {
			case declare.Bool:
				if !ch {
					return false
				}
			case *declare.Literal:
				lits = append(lits, ch)
			case *declare.And:
				if !flatten(ch.Children, p) {
					return false
				}
			default:
				subs = append(subs, ch)
				subPaths = append(subPaths, p)
			}
		}
		return true
	}
	if !flatten(children, path) {
		// A false conjunct: the rule can never fire.
		return nil
	}

	b := &body{bound: make(map[string]varKind)}
	// Bindings first so uses can be checked against them.
	for _, l := range lits {
		if _, ok := binding(l); ok {
			if err := c.literal(u, b, l); err != nil {
				return err
			}
		}
	}
	for _, l := range lits {
		if _, ok := binding(l); !ok {
			if err := c.literal(u, b, l); err != nil {
				return err
			}
		}
	}
	for i, sub := range subs {
		name := fmt.Sprintf("cond_%s(T)", subPaths[i])
		if err := c.node(u, sub, name, subPaths[i]); err != nil {
			return err
		}
		b.atoms = append(b.atoms, name)
	}
	u.emit(head, b.atoms)
	return nil
}

func (c *Compiler) literal(u *unit, b *body, l *declare.Literal) error {
	if l.Role != u.role && !u.ci.Template.Info().BothActivation {
		want := "A."
		if u.role == declare.RoleTarget {
			want = "T."
		}
		return u.errorf(l, "attribute references in this condition must use %s", want)
	}
	spec, ok := c.model.Attribute(l.Attribute)
	if !ok {
		return u.errorf(l, "unknown attribute in condition %s", l.Attribute)
	}
	if len(l.Operands) == 0 {
		return u.errorf(l, "missing value")
	}
	k := c.session.Symbol(spec.Name, encoding.Attribute)
	switch {
	case spec.Domain.Kind == declare.DomainEnumeration:
		return c.enumLiteral(u, b, l, spec, k)
	case spec.Domain.Kind.Numeric():
		return c.numericLiteral(u, b, l, spec, k)
	}
	return u.errorf(l, "attribute %s has no domain", spec.Name)
}

func (c *Compiler) enumValue(u *unit, l *declare.Literal, spec *declare.AttributeSpec, o declare.Operand) (string, error) {
	if o.Kind == declare.OperandVariable {
		return "", u.errorf(l, "variables are not allowed in a value list")
	}
	if !spec.HasValue(o.Text) {
		return "", u.errorf(l, "value %q is not in the domain of %s", o.Text, spec.Name)
	}
	return c.session.Symbol(o.Text, encoding.Value), nil
}

// use resolves a variable compared in b, which must be bound there with a
// compatible kind.
func (u *unit) use(b *body, l *declare.Literal, name string, want varKind) (string, error) {
	got, ok := b.bound[name]
	if !ok {
		return "", u.errorf(l, "variable :%s is not bound by = or is in the same conjunction", name)
	}
	if got.numeric != want.numeric {
		return "", u.errorf(l, "variable :%s bound by %s cannot be compared with %s", name, got.attr, want.attr)
	}
	if got.numeric && got.precision != want.precision {
		return "", u.errorf(l, "variable :%s relates %s and %s with different precision", name, got.attr, want.attr)
	}
	return u.aspVar(name), nil
}

func (u *unit) bind(b *body, l *declare.Literal, name string, kind varKind) (string, error) {
	if prev, ok := b.bound[name]; ok && (prev.numeric != kind.numeric || prev.precision != kind.precision) {
		return "", u.errorf(l, "variable :%s is bound to incompatible attributes %s and %s", name, prev.attr, kind.attr)
	}
	b.bound[name] = kind
	return u.aspVar(name), nil
}

func (c *Compiler) enumLiteral(u *unit, b *body, l *declare.Literal, spec *declare.AttributeSpec, k string) error {
	kind := varKind{attr: spec.Name}
	o := l.Operands[0]
	switch l.Op {
	case declare.OpIs, declare.OpEq:
		if o.Kind == declare.OperandVariable {
			x, err := u.bind(b, l, o.Text, kind)
			if err != nil {
				return err
			}
			b.atoms = append(b.atoms, fmt.Sprintf("assigned_value(%s,%s,T)", k, x))
			return nil
		}
		v, err := c.enumValue(u, l, spec, o)
		if err != nil {
			return err
		}
		b.atoms = append(b.atoms, fmt.Sprintf("assigned_value(%s,%s,T)", k, v))
	case declare.OpIsNot, declare.OpNe:
		rhs := ""
		if o.Kind == declare.OperandVariable {
			x, err := u.use(b, l, o.Text, kind)
			if err != nil {
				return err
			}
			rhs = x
		} else {
			v, err := c.enumValue(u, l, spec, o)
			if err != nil {
				return err
			}
			rhs = v
		}
		fv := u.freshVar()
		b.atoms = append(b.atoms, fmt.Sprintf("assigned_value(%s,%s,T)", k, fv), fv+" != "+rhs)
	case declare.OpIn:
		vals := make([]string, 0, len(l.Operands))
		for _, o := range l.Operands {
			v, err := c.enumValue(u, l, spec, o)
			if err != nil {
				return err
			}
			vals = append(vals, v)
		}
		arg := vals[0]
		if len(vals) > 1 {
			arg = "(" + strings.Join(vals, ";") + ")"
		}
		b.atoms = append(b.atoms, fmt.Sprintf("assigned_value(%s,%s,T)", k, arg))
	case declare.OpNotIn:
		fv := u.freshVar()
		b.atoms = append(b.atoms, fmt.Sprintf("assigned_value(%s,%s,T)", k, fv))
		for _, o := range l.Operands {
			v, err := c.enumValue(u, l, spec, o)
			if err != nil {
				return err
			}
			b.atoms = append(b.atoms, fv+" != "+v)
		}
	default:
		return u.errorf(l, "operator %s does not apply to enumeration attribute %s", l.Op, spec.Name)
	}
	return nil
}

func (c *Compiler) numericLiteral(u *unit, b *body, l *declare.Literal, spec *declare.AttributeSpec, k string) error {
	if !l.Op.Comparator() {
		return u.errorf(l, "operator %s does not apply to %s attribute %s", l.Op, spec.Domain.Kind, spec.Name)
	}
	kind := varKind{numeric: true, precision: spec.Precision, attr: spec.Name}
	o := l.Operands[0]
	var rhs string
	switch o.Kind {
	case declare.OperandVariable:
		if l.Op == declare.OpEq {
			x, err := u.bind(b, l, o.Text, kind)
			if err != nil {
				return err
			}
			b.atoms = append(b.atoms, fmt.Sprintf("assigned_value(%s,%s,T)", k, x))
			return nil
		}
		x, err := u.use(b, l, o.Text, kind)
		if err != nil {
			return err
		}
		rhs = x
	case declare.OperandNumber:
		if declare.PrecisionOf(o.Text) > spec.Precision {
			return u.errorf(l, "value %s has more decimals than %s keeps (%d)", o.Text, spec.Name, spec.Precision)
		}
		s, err := declare.ParseScaled(o.Text, spec.Precision)
		if err != nil {
			return u.errorf(l, "%v", err)
		}
		rhs = strconv.FormatInt(s.Value, 10)
		if l.Op == declare.OpEq {
			b.atoms = append(b.atoms, fmt.Sprintf("assigned_value(%s,%s,T)", k, rhs))
			return nil
		}
	default:
		return u.errorf(l, "%s attribute %s expects a number", spec.Domain.Kind, spec.Name)
	}
	fv := u.freshVar()
	b.atoms = append(b.atoms, fmt.Sprintf("assigned_value(%s,%s,T)", k, fv), fmt.Sprintf("%s %s %s", fv, l.Op, rhs))
	return nil
}
