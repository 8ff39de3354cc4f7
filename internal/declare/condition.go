package declare

import (
	"strconv"
	"strings"
)

// Operator is a comparison operator of a condition literal.
type Operator string

const (
	OpEq    Operator = "="
	OpNe    Operator = "!="
	OpLt    Operator = "<"
	OpLe    Operator = "<="
	OpGt    Operator = ">"
	OpGe    Operator = ">="
	OpIs    Operator = "is"
	OpIsNot Operator = "is not"
	OpIn    Operator = "in"
	OpNotIn Operator = "not in"
)

// Comparator reports whether op is one of = != < <= > >=.
func (op Operator) Comparator() bool {
	switch op {
	case OpEq, OpNe, OpLt, OpLe, OpGt, OpGe:
		return true
	}
	return false
}

// Set reports whether op takes a parenthesized value list.
func (op Operator) Set() bool { return op == OpIn || op == OpNotIn }

// Role says which event of a constraint a literal talks about.
type Role byte

const (
	RoleActivation Role = 'A'
	RoleTarget     Role = 'T'
)

// OperandKind tags an operand value.
type OperandKind int

const (
	OperandNumber OperandKind = iota
	OperandWord
	OperandString
	OperandVariable
)

// Operand is one right-hand side value of a literal.
type Operand struct {
	Kind OperandKind
	// Text is the literal as written, without quotes or the ':' variable prefix.
	Text string
}

func (o Operand) String() string {
	switch o.Kind {
	case OperandString:
		return strconv.Quote(o.Text)
	case OperandVariable:
		return ":" + o.Text
	default:
		return o.Text
	}
}

// Condition is a node of a condition tree: *Literal, *And, *Or or Bool.
type Condition interface {
	String() string
	isCondition()
}

// Literal compares one attribute of the activation or target event.
type Literal struct {
	Role      Role
	Attribute string
	Op        Operator
	Operands  []Operand
}

// And holds when every child holds.
type And struct{ Children []Condition }

// Or holds when any child holds.
type Or struct{ Children []Condition }

// Bool is the constant true or false condition.
type Bool bool

func (*Literal) isCondition() {}
func (*And) isCondition()     {}
func (*Or) isCondition()      {}
func (Bool) isCondition()     {}

func (l *Literal) String() string {
	var sb strings.Builder
	sb.WriteByte(byte(l.Role))
	sb.WriteByte('.')
	sb.WriteString(l.Attribute)
	sb.WriteByte(' ')
	sb.WriteString(string(l.Op))
	sb.WriteByte(' ')
	if l.Op.Set() {
		sb.WriteByte('(')
		for i, o := range l.Operands {
			if i > 0 {
				sb.WriteString(", ")
			}
			sb.WriteString(o.String())
		}
		sb.WriteByte(')')
	} else if len(l.Operands) > 0 {
		sb.WriteString(l.Operands[0].String())
	}
	return sb.String()
}

func (a *And) String() string { return joinChildren(a.Children, " and ") }
func (o *Or) String() string  { return joinChildren(o.Children, " or ") }

func (b Bool) String() string {
	if b {
		return "true"
	}
	return "false"
}

func joinChildren(children []Condition, sep string) string {
	parts := make([]string, len(children))
	for i, c := range children {
		s := c.String()
		if _, nested := c.(*Literal); !nested {
			if _, isBool := c.(Bool); !isBool {
				s = "(" + s + ")"
			}
		}
		parts[i] = s
	}
	return strings.Join(parts, sep)
}

// Walk calls fn for every literal of c in left-to-right order.
func Walk(c Condition, fn func(*Literal)) {
	switch n := c.(type) {
	case *Literal:
		fn(n)
	case *And:
		for _, ch := range n.Children {
			Walk(ch, fn)
		}
	case *Or:
		for _, ch := range n.Children {
			Walk(ch, fn)
		}
	}
}
