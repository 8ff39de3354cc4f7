package condition

import (
	"fmt"
	"strings"

	"declaregen/internal/declare"
)

type parser struct {
	src  string
	toks []token
	pos  int
}

// Parse parses one condition. Blank input yields a nil condition.
func Parse(src string) (declare.Condition, error) {
	if strings.TrimSpace(src) == "" {
		return nil, nil
	}
	toks, err := lex(src)
	if err != nil {
		return nil, err
	}
	p := &parser{src: src, toks: toks}
	c, err := p.expr()
	if err != nil {
		return nil, err
	}
	if t := p.peek(); t.kind != tokEOF {
		return nil, p.errorf(t, "unexpected %s %q", t.kind, t.text)
	}
	return c, nil
}

// MustParse is Parse for tests and fixed inputs; it panics on error.
func MustParse(src string) declare.Condition {
	c, err := Parse(src)
	if err != nil {
		panic(err)
	}
	return c
}

func (p *parser) peek() token { return p.toks[p.pos] }

func (p *parser) advance() token {
	t := p.toks[p.pos]
	if t.kind != tokEOF {
		p.pos++
	}
	return t
}

func (p *parser) accept(k tokenKind) bool {
	if p.peek().kind == k {
		p.advance()
		return true
	}
	return false
}

func (p *parser) expect(k tokenKind) (token, error) {
	t := p.peek()
	if t.kind != k {
		return t, p.errorf(t, "expected %s, found %s", k, describe(t))
	}
	return p.advance(), nil
}

func describe(t token) string {
	if t.kind == tokEOF {
		return t.kind.String()
	}
	return fmt.Sprintf("%s %q", t.kind, t.text)
}

func (p *parser) errorf(t token, format string, args ...any) error {
	return &SyntaxError{Input: p.src, Pos: t.pos, Msg: fmt.Sprintf(format, args...)}
}

func (p *parser) expr() (declare.Condition, error) {
	first, err := p.conj()
	if err != nil {
		return nil, err
	}
	children := []declare.Condition{first}
	for p.accept(tokOr) {
		c, err := p.conj()
		if err != nil {
			return nil, err
		}
		children = append(children, c)
	}
	if len(children) == 1 {
		return first, nil
	}
	return &declare.Or{Children: children}, nil
}

func (p *parser) conj() (declare.Condition, error) {
	first, err := p.primary()
	if err != nil {
		return nil, err
	}
	children := []declare.Condition{first}
	for p.accept(tokAnd) {
		c, err := p.primary()
		if err != nil {
			return nil, err
		}
		children = append(children, c)
	}
	if len(children) == 1 {
		return first, nil
	}
	return &declare.And{Children: children}, nil
}

func (p *parser) primary() (declare.Condition, error) {
	t := p.peek()
	switch t.kind {
	case tokLParen:
		p.advance()
		c, err := p.expr()
		if err != nil {
			return nil, err
		}
		if _, err := p.expect(tokRParen); err != nil {
			return nil, err
		}
		return c, nil
	case tokTrue:
		p.advance()
		return declare.Bool(true), nil
	case tokFalse:
		p.advance()
		return declare.Bool(false), nil
	case tokRef:
		return p.literal()
	}
	return nil, p.errorf(t, "expected attribute reference, found %s", describe(t))
}

func (p *parser) literal() (declare.Condition, error) {
	ref := p.advance()
	lit := &declare.Literal{
		Role:      declare.Role(ref.text[0]),
		Attribute: ref.text[2:],
	}

	t := p.advance()
	switch t.kind {
	case tokCmp:
		lit.Op = declare.Operator(t.text)
	case tokIs:
		lit.Op = declare.OpIs
		if p.accept(tokNot) {
			lit.Op = declare.OpIsNot
		}
	case tokIn:
		lit.Op = declare.OpIn
	case tokNot:
		if _, err := p.expect(tokIn); err != nil {
			return nil, err
		}
		lit.Op = declare.OpNotIn
	default:
		return nil, p.errorf(t, "expected operator after %s, found %s", ref.text, describe(t))
	}

	if lit.Op.Set() {
		if _, err := p.expect(tokLParen); err != nil {
			return nil, err
		}
		for {
			o, err := p.operand()
			if err != nil {
				return nil, err
			}
			lit.Operands = append(lit.Operands, o)
			if p.accept(tokComma) {
				continue
			}
			if _, err := p.expect(tokRParen); err != nil {
				return nil, err
			}
			break
		}
		return lit, nil
	}

	o, err := p.operand()
	if err != nil {
		return nil, err
	}
	lit.Operands = []declare.Operand{o}
	return lit, nil
}

func (p *parser) operand() (declare.Operand, error) {
	t := p.advance()
	switch t.kind {
	case tokNumber:
		return declare.Operand{Kind: declare.OperandNumber, Text: t.text}, nil
	case tokWord:
		return declare.Operand{Kind: declare.OperandWord, Text: t.text}, nil
	case tokString:
		return declare.Operand{Kind: declare.OperandString, Text: t.text}, nil
	case tokVariable:
		return declare.Operand{Kind: declare.OperandVariable, Text: t.text}, nil
	case tokTrue, tokFalse, tokAnd, tokOr, tokNot, tokIs, tokIn:
		// Keywords are accepted as enumeration values in operand position.
		return declare.Operand{Kind: declare.OperandWord, Text: t.text}, nil
	}
	return declare.Operand{}, p.errorf(t, "expected value, found %s", describe(t))
}
