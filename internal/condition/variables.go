package condition

import (
	"fmt"
	"sort"

	"declaregen/internal/declare"
)

// VariableCounts counts the occurrences of each :variable in conds.
func VariableCounts(conds ...declare.Condition) map[string]int {
	counts := make(map[string]int)
	for _, c := range conds {
		declare.Walk(c, func(l *declare.Literal) {
			for _, o := range l.Operands {
				if o.Kind == declare.OperandVariable {
					counts[o.Text]++
				}
			}
		})
	}
	return counts
}

// CheckVariables rejects a constraint whose conditions use a variable only
// once. A lone variable can never relate two values.
func CheckVariables(ci *declare.ConstraintInstance) error {
	counts := VariableCounts(ci.Activation, ci.Target)
	var lonely []string
	for name, n := range counts {
		if n < 2 {
			lonely = append(lonely, ":"+name)
		}
	}
	if len(lonely) == 0 {
		return nil
	}
	sort.Strings(lonely)
	return &declare.IntegrityError{
		Subject: ci.String(),
		Line:    ci.Line,
		Msg:     fmt.Sprintf("variable %v is used only once", lonely),
	}
}

// binding reports whether l binds its variable operand.
func binding(l *declare.Literal) (string, bool) {
	if len(l.Operands) != 1 || l.Operands[0].Kind != declare.OperandVariable {
		return "", false
	}
	switch l.Op {
	case declare.OpEq, declare.OpIs:
		return l.Operands[0].Text, true
	}
	return "", false
}
