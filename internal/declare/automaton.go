package declare

import "fmt"

// Symbol classifies one event with respect to one constraint instance.
type Symbol string

const (
	// SymActivation: the activation activity occurred and its condition holds.
	SymActivation Symbol = "a"
	// SymTarget: the target activity occurred and the target condition holds.
	SymTarget Symbol = "b"
	// SymBoth: the event plays both roles.
	SymBoth Symbol = "ab"
	// SymOther: the event is irrelevant to the constraint.
	SymOther Symbol = "o"
)

// Symbols lists the automaton alphabet in a fixed order.
var Symbols = []Symbol{SymActivation, SymTarget, SymBoth, SymOther}

// SymbolFor returns the symbol of an event from its two role flags.
func SymbolFor(activation, target bool) Symbol {
	switch {
	case activation && target:
		return SymBoth
	case activation:
		return SymActivation
	case target:
		return SymTarget
	default:
		return SymOther
	}
}

// Transition is one edge of an automaton.
type Transition struct {
	From int
	On   Symbol
	To   int
}

// Automaton is a deterministic, complete automaton over Symbols.
// State 0 is the initial state.
type Automaton struct {
	States    int
	Accepting []int
	delta     map[int]map[Symbol]int
}

// Step returns the successor of state on sym.
func (a Automaton) Step(state int, sym Symbol) int {
	return a.delta[state][sym]
}

// Accepts reports whether state is accepting.
func (a Automaton) Accepts(state int) bool {
	for _, s := range a.Accepting {
		if s == state {
			return true
		}
	}
	return false
}

// Run feeds syms from the initial state and returns the final state.
func (a Automaton) Run(syms []Symbol) int {
	state := 0
	for _, sym := range syms {
		state = a.Step(state, sym)
	}
	return state
}

// Transitions returns every edge ordered by state then symbol.
func (a Automaton) Transitions() []Transition {
	out := make([]Transition, 0, a.States*len(Symbols))
	for s := 0; s < a.States; s++ {
		for _, sym := range Symbols {
			out = append(out, Transition{From: s, On: sym, To: a.delta[s][sym]})
		}
	}
	return out
}

// builder fills a transition table; edges not set loop on their state.
type builder struct {
	a Automaton
}

func newBuilder(states int, accepting ...int) *builder {
	b := &builder{a: Automaton{States: states, Accepting: accepting, delta: make(map[int]map[Symbol]int, states)}}
	for s := 0; s < states; s++ {
		b.a.delta[s] = map[Symbol]int{SymActivation: s, SymTarget: s, SymBoth: s, SymOther: s}
	}
	return b
}

// on sets from -sym-> to for every sym given.
func (b *builder) on(from, to int, syms ...Symbol) *builder {
	for _, sym := range syms {
		b.a.delta[from][sym] = to
	}
	return b
}

func (b *builder) build() Automaton { return b.a }

var (
	act  = SymActivation
	tgt  = SymTarget
	both = SymBoth
	oth  = SymOther
)

// counting builds a saturating counter over activations with states 0..limit.
func counting(limit int, accept func(n int) bool) Automaton {
	var accepting []int
	for n := 0; n <= limit; n++ {
		if accept(n) {
			accepting = append(accepting, n)
		}
	}
	b := newBuilder(limit+1, accepting...)
	for n := 0; n < limit; n++ {
		b.on(n, n+1, act, both)
	}
	return b.build()
}

// Automaton returns the automaton of t. Cardinality templates use
// cardinality, where a value below one means one.
func (t Template) Automaton(cardinality int) (Automaton, error) {
	n := cardinality
	if n < 1 {
		n = 1
	}
	switch t {
	case Existence:
		return counting(n, func(k int) bool { return k >= n }), nil
	case Absence:
		return counting(n, func(k int) bool { return k < n }), nil
	case Exactly:
		return counting(n+1, func(k int) bool { return k == n }), nil
	case Init:
		// 0 start, 1 first event was an activation, 2 it was not.
		return newBuilder(3, 1).
			on(0, 1, act, both).
			on(0, 2, tgt, oth).
			build(), nil
	case End:
		// 1 iff the last event was an activation.
		return newBuilder(2, 1).
			on(0, 1, act, both).
			on(1, 0, tgt, oth).
			build(), nil
	case Choice:
		return newBuilder(2, 1).
			on(0, 1, act, tgt, both).
			build(), nil
	case ExclusiveChoice:
		// 1 only activation seen, 2 only target seen, 3 both.
		return newBuilder(4, 1, 2).
			on(0, 1, act).on(0, 2, tgt).on(0, 3, both).
			on(1, 3, tgt, both).
			on(2, 3, act, both).
			build(), nil
	case RespondedExistence:
		// 1 activation pending a target anywhere, 2 target seen.
		return newBuilder(3, 0, 2).
			on(0, 1, act).on(0, 2, tgt, both).
			on(1, 2, tgt, both).
			build(), nil
	case CoExistence:
		// bit 1 activation seen, bit 2 target seen.
		return newBuilder(4, 0, 3).
			on(0, 1, act).on(0, 2, tgt).on(0, 3, both).
			on(1, 3, tgt, both).
			on(2, 3, act, both).
			build(), nil
	case Response:
		// 1 an activation is waiting for a later target.
		return newBuilder(2, 0).
			on(0, 1, act, both).
			on(1, 0, tgt).
			build(), nil
	case AlternateResponse:
		// 1 waiting, 2 a second activation came first.
		return newBuilder(3, 0).
			on(0, 1, act, both).
			on(1, 0, tgt).on(1, 2, act).
			build(), nil
	case ChainResponse:
		// 1 the next event must be the target.
		return newBuilder(3, 0).
			on(0, 1, act, both).
			on(1, 0, tgt).on(1, 2, act, oth).
			build(), nil
	case Precedence:
		// 1 a target occurred, 2 an activation came without one before it.
		return newBuilder(3, 0, 1).
			on(0, 1, tgt).on(0, 2, act, both).
			build(), nil
	case AlternatePrecedence:
		// 1 a target is available for the next activation.
		return newBuilder(3, 0, 1).
			on(0, 1, tgt).on(0, 2, act, both).
			on(1, 0, act).
			build(), nil
	case ChainPrecedence:
		// 1 the previous event was a target.
		return newBuilder(3, 0, 1).
			on(0, 1, tgt).on(0, 2, act, both).
			on(1, 0, act, oth).
			build(), nil
	case Succession:
		// 1 activation seen and waiting, 2 activation seen and answered.
		return newBuilder(4, 0, 2).
			on(0, 1, act).on(0, 3, tgt, both).
			on(1, 2, tgt).
			on(2, 1, act, both).
			build(), nil
	case AlternateSuccession:
		// strict alternation starting with an activation.
		return newBuilder(3, 0).
			on(0, 1, act).on(0, 2, tgt, both).
			on(1, 0, tgt).on(1, 2, act).
			build(), nil
	case ChainSuccession:
		// 1 the previous event was an activation.
		return newBuilder(3, 0).
			on(0, 1, act).on(0, 2, tgt, both).
			on(1, 0, tgt).on(1, 2, act, oth).
			build(), nil
	case NotRespondedExistence, NotCoExistence:
		// 1 activation seen, 2 target seen, 3 both seen.
		return newBuilder(4, 0, 1, 2).
			on(0, 1, act).on(0, 2, tgt).on(0, 3, both).
			on(1, 3, tgt, both).
			on(2, 3, act, both).
			build(), nil
	case NotResponse, NotSuccession:
		// 1 activation seen, 2 a target followed it.
		return newBuilder(3, 0, 1).
			on(0, 1, act, both).
			on(1, 2, tgt, both).
			build(), nil
	case NotPrecedence:
		// 1 target seen, 2 an activation followed it.
		return newBuilder(3, 0, 1).
			on(0, 1, tgt, both).
			on(1, 2, act, both).
			build(), nil
	case NotChainResponse, NotChainSuccession:
		// 1 the previous event was an activation.
		return newBuilder(3, 0, 1).
			on(0, 1, act, both).
			on(1, 2, tgt, both).on(1, 0, oth).
			build(), nil
	case NotChainPrecedence:
		// 1 the previous event was a target.
		return newBuilder(3, 0, 1).
			on(0, 1, tgt, both).
			on(1, 2, act, both).on(1, 0, oth).
			build(), nil
	}
	return Automaton{}, fmt.Errorf("no automaton for template %s", t)
}
