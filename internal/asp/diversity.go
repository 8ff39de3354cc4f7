package asp

import (
	"fmt"
	"strings"

	"declaregen/internal/encoding"
)

// TabuGuard is the external atom that switches tabu part n on.
func TabuGuard(n int) string { return fmt.Sprintf("tabu_on(%d)", n) }

// TabuPart forbids the next model from repeating more than threshold events
// of prev at the same position while TabuGuard(n) is true. prev holds
// activity names by time step, starting at step 1.
func TabuPart(n int, prev []string, threshold int, s *encoding.Session) Part {
	pred := fmt.Sprintf("tabu_%d", n)
	guard := TabuGuard(n)
	var sb strings.Builder
	fmt.Fprintf(&sb, "#external %s.\n", guard)
	for i, act := range prev {
		fmt.Fprintf(&sb, "%s(%s,%d).\n", pred, s.Symbol(act, encoding.Activity), i+1)
	}
	fmt.Fprintf(&sb, ":- %s, #count { T : trace(A,T), %s(A,T) } > %d.\n", guard, pred, threshold)
	return Part{Name: pred, Text: sb.String()}
}

// RejectPart forbids the exact activity sequence seq.
func RejectPart(n int, seq []string, s *encoding.Session) Part {
	atoms := make([]string, len(seq))
	for i, act := range seq {
		atoms[i] = fmt.Sprintf("trace(%s,%d)", s.Symbol(act, encoding.Activity), i+1)
	}
	name := fmt.Sprintf("reject_%d", n)
	if len(atoms) == 0 {
		return Part{Name: name}
	}
	return Part{Name: name, Text: ":- " + strings.Join(atoms, ", ") + ".\n"}
}
