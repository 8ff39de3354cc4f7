package solver

import (
	"fmt"
	"strconv"
	"strings"
)

// SymbolKind classifies a solver symbol.
type SymbolKind int

const (
	Function SymbolKind = iota
	Number
	String
	Infimum
	Supremum
)

// Symbol is a ground term printed by the solver. A function with an empty
// name is a tuple.
type Symbol struct {
	Kind   SymbolKind
	Name   string
	Args   []Symbol
	Number int64
	Text   string
}

// String renders s in solver syntax.
func (s Symbol) String() string {
	switch s.Kind {
	case Number:
		return strconv.FormatInt(s.Number, 10)
	case String:
		return strconv.Quote(s.Text)
	case Infimum:
		return "#inf"
	case Supremum:
		return "#sup"
	}
	if len(s.Args) == 0 {
		if s.Name == "" {
			return "()"
		}
		return s.Name
	}
	parts := make([]string, len(s.Args))
	for i, a := range s.Args {
		parts[i] = a.String()
	}
	if s.Name == "" && len(parts) == 1 {
		return "(" + parts[0] + ",)"
	}
	return s.Name + "(" + strings.Join(parts, ",") + ")"
}

// Signature returns name/arity for functions.
func (s Symbol) Signature() string {
	return fmt.Sprintf("%s/%d", s.Name, len(s.Args))
}

// SymbolError reports text that is not a well-formed symbol.
type SymbolError struct {
	Input string
	Pos   int
	Msg   string
}

func (e *SymbolError) Error() string {
	return fmt.Sprintf("solver: bad symbol %q at %d: %s", e.Input, e.Pos, e.Msg)
}

// ParseSymbol parses one symbol such as trace(a0,3), -5 or "x y".
func ParseSymbol(text string) (Symbol, error) {
	p := &symbolParser{in: text}
	sym, err := p.term()
	if err != nil {
		return Symbol{}, err
	}
	p.space()
	if p.pos != len(p.in) {
		return Symbol{}, p.fail("trailing input")
	}
	return sym, nil
}

type symbolParser struct {
	in  string
	pos int
}

func (p *symbolParser) fail(msg string) error {
	return &SymbolError{Input: p.in, Pos: p.pos, Msg: msg}
}

func (p *symbolParser) space() {
	for p.pos < len(p.in) && (p.in[p.pos] == ' ' || p.in[p.pos] == '\t') {
		p.pos++
	}
}

func (p *symbolParser) peek() byte {
	if p.pos < len(p.in) {
		return p.in[p.pos]
	}
	return 0
}

func (p *symbolParser) term() (Symbol, error) {
	p.space()
	c := p.peek()
	switch {
	case c == 0:
		return Symbol{}, p.fail("unexpected end")
	case c == '-' || isDigit(c):
		start := p.pos
		p.pos++
		for isDigit(p.peek()) {
			p.pos++
		}
		n, err := strconv.ParseInt(p.in[start:p.pos], 10, 64)
		if err != nil {
			return Symbol{}, &SymbolError{Input: p.in, Pos: start, Msg: "bad number"}
		}
		return Symbol{Kind: Number, Number: n}, nil
	case c == '"':
		return p.quoted()
	case c == '#':
		for _, w := range []struct {
			lit  string
			kind SymbolKind
		}{{"#inf", Infimum}, {"#sup", Supremum}} {
			if strings.HasPrefix(p.in[p.pos:], w.lit) {
				p.pos += len(w.lit)
				return Symbol{Kind: w.kind}, nil
			}
		}
		return Symbol{}, p.fail("unknown special symbol")
	case c == '(':
		args, trailingComma, err := p.args()
		if err != nil {
			return Symbol{}, err
		}
		if len(args) == 1 && !trailingComma {
			return args[0], nil
		}
		return Symbol{Kind: Function, Args: args}, nil
	case isIdentStart(c):
		start := p.pos
		for isIdentPart(p.peek()) {
			p.pos++
		}
		sym := Symbol{Kind: Function, Name: p.in[start:p.pos]}
		if p.peek() == '(' {
			args, _, err := p.args()
			if err != nil {
				return Symbol{}, err
			}
			sym.Args = args
		}
		return sym, nil
	}
	return Symbol{}, p.fail(fmt.Sprintf("unexpected %q", c))
}

// args parses a parenthesized list. It reports whether the list ended with a
// comma, which marks a one-element tuple.
func (p *symbolParser) args() ([]Symbol, bool, error) {
	p.pos++ // (
	var out []Symbol
	p.space()
	if p.peek() == ')' {
		p.pos++
		return out, false, nil
	}
	for {
		t, err := p.term()
		if err != nil {
			return nil, false, err
		}
		out = append(out, t)
		p.space()
		switch p.peek() {
		case ',':
			p.pos++
			p.space()
			if p.peek() == ')' {
				p.pos++
				return out, true, nil
			}
		case ')':
			p.pos++
			return out, false, nil
		default:
			return nil, false, p.fail("expected , or )")
		}
	}
}

func (p *symbolParser) quoted() (Symbol, error) {
	start := p.pos
	p.pos++
	for p.pos < len(p.in) {
		switch p.in[p.pos] {
		case '\\':
			p.pos += 2
			continue
		case '"':
			p.pos++
			text, err := strconv.Unquote(p.in[start:p.pos])
			if err != nil {
				return Symbol{}, &SymbolError{Input: p.in, Pos: start, Msg: "bad string escape"}
			}
			return Symbol{Kind: String, Text: text}, nil
		}
		p.pos++
	}
	return Symbol{}, &SymbolError{Input: p.in, Pos: start, Msg: "unterminated string"}
}

func isDigit(c byte) bool { return c >= '0' && c <= '9' }

func isIdentStart(c byte) bool {
	return c == '_' || (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z')
}

func isIdentPart(c byte) bool {
	return isIdentStart(c) || isDigit(c) || c == '\''
}
