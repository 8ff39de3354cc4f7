package declare

import (
	"fmt"
	"strings"
)

// TimeWindow bounds the distance between activation and target.
type TimeWindow struct {
	Min, Max int
	Unit     string // s, m, h or d
}

func (w TimeWindow) String() string {
	return fmt.Sprintf("%d,%d,%s", w.Min, w.Max, w.Unit)
}

// ConstraintInstance is one parsed constraint line. Instances are immutable
// once the model is built; negative generation selects violations by Index
// instead of mutating the instance.
type ConstraintInstance struct {
	Template    Template
	Activities  []string
	Cardinality int
	Activation  Condition
	Target      Condition
	TimeWindow  *TimeWindow
	Index       int
	// Line is the 1-based source line, 0 for constraints built in code.
	Line int
}

// ActivationActivity returns the activity playing the activation role.
func (c *ConstraintInstance) ActivationActivity() string {
	if c.Template.Info().ReversesActivation && len(c.Activities) > 1 {
		return c.Activities[1]
	}
	return c.Activities[0]
}

// TargetActivity returns the activity playing the target role, or "" for
// unary templates.
func (c *ConstraintInstance) TargetActivity() string {
	if len(c.Activities) < 2 {
		return ""
	}
	if c.Template.Info().ReversesActivation {
		return c.Activities[0]
	}
	return c.Activities[1]
}

// Name renders the template with its cardinality.
func (c *ConstraintInstance) Name() string {
	return c.Template.Display(c.Cardinality)
}

// String re-serializes the instance in DSL syntax.
func (c *ConstraintInstance) String() string {
	var sb strings.Builder
	sb.WriteString(c.Name())
	sb.WriteByte('[')
	sb.WriteString(strings.Join(c.Activities, ", "))
	sb.WriteByte(']')
	segment := func(cond Condition) {
		sb.WriteString(" |")
		if cond != nil {
			sb.WriteByte(' ')
			sb.WriteString(cond.String())
		}
	}
	segment(c.Activation)
	if c.Template.Info().Arity == Binary {
		segment(c.Target)
	}
	sb.WriteString(" |")
	if c.TimeWindow != nil {
		sb.WriteByte(' ')
		sb.WriteString(c.TimeWindow.String())
	}
	return sb.String()
}

// Model is a parsed DECLARE model.
type Model struct {
	Activities []string
	// Bindings lists the attributes of each activity in declaration order.
	Bindings    map[string][]string
	Attributes  map[string]*AttributeSpec
	Constraints []*ConstraintInstance
}

// NewModel returns an empty model.
func NewModel() *Model {
	return &Model{
		Bindings:   make(map[string][]string),
		Attributes: make(map[string]*AttributeSpec),
	}
}

// HasActivity reports whether name is declared.
func (m *Model) HasActivity(name string) bool {
	for _, a := range m.Activities {
		if a == name {
			return true
		}
	}
	return false
}

// Attribute returns the spec of name.
func (m *Model) Attribute(name string) (*AttributeSpec, bool) {
	a, ok := m.Attributes[name]
	return a, ok
}

// AttributeNames returns attribute names in first-binding order.
func (m *Model) AttributeNames() []string {
	seen := make(map[string]bool)
	var out []string
	for _, act := range m.Activities {
		for _, attr := range m.Bindings[act] {
			if !seen[attr] {
				seen[attr] = true
				out = append(out, attr)
			}
		}
	}
	return out
}

// IntegrityError reports a model that parsed but is not consistent.
type IntegrityError struct {
	Subject string
	Line    int
	Msg     string
}

func (e *IntegrityError) Error() string {
	if e.Line > 0 {
		return fmt.Sprintf("line %d: %s: %s", e.Line, e.Subject, e.Msg)
	}
	return e.Subject + ": " + e.Msg
}
