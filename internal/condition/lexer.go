// Package condition parses DECLARE data conditions, compiles them to ASP
// rules and evaluates them over decoded events.
//
// Grammar (or binds looser than and, parentheses override both):
//
//	expr    = conj { "or" conj }
//	conj    = primary { "and" primary }
//	primary = "(" expr ")" | "true" | "false" | literal
//	literal = ref cmp operand
//	        | ref "is" [ "not" ] operand
//	        | ref [ "not" ] "in" "(" operand { "," operand } ")"
//	ref     = ( "A" | "T" ) "." name
//	operand = number | word | quoted | ":" name
package condition

import (
	"fmt"
	"strings"
	"unicode"
	"unicode/utf8"
)

type tokenKind int

const (
	tokEOF tokenKind = iota
	tokLParen
	tokRParen
	tokComma
	tokAnd
	tokOr
	tokNot
	tokIs
	tokIn
	tokTrue
	tokFalse
	tokCmp
	tokRef
	tokNumber
	tokWord
	tokString
	tokVariable
)

var tokenNames = map[tokenKind]string{
	tokEOF:      "end of condition",
	tokLParen:   "'('",
	tokRParen:   "')'",
	tokComma:    "','",
	tokAnd:      "'and'",
	tokOr:       "'or'",
	tokNot:      "'not'",
	tokIs:       "'is'",
	tokIn:       "'in'",
	tokTrue:     "'true'",
	tokFalse:    "'false'",
	tokCmp:      "comparison operator",
	tokRef:      "attribute reference",
	tokNumber:   "number",
	tokWord:     "word",
	tokString:   "quoted string",
	tokVariable: "variable",
}

func (k tokenKind) String() string { return tokenNames[k] }

type token struct {
	kind tokenKind
	text string
	pos  int
}

var keywords = map[string]tokenKind{
	"and":   tokAnd,
	"or":    tokOr,
	"not":   tokNot,
	"is":    tokIs,
	"in":    tokIn,
	"true":  tokTrue,
	"false": tokFalse,
}

// SyntaxError reports malformed condition text. Pos is a byte offset.
type SyntaxError struct {
	Input string
	Pos   int
	Msg   string
}

func (e *SyntaxError) Error() string {
	return fmt.Sprintf("condition %q: offset %d: %s", e.Input, e.Pos, e.Msg)
}

type lexer struct {
	src string
	pos int
}

func isWordRune(r rune) bool {
	return unicode.IsLetter(r) || unicode.IsDigit(r) || r == '_' || r == '-' || r == '\''
}

// lex splits src into tokens ending with tokEOF.
func lex(src string) ([]token, error) {
	l := &lexer{src: src}
	var out []token
	for {
		tok, err := l.next()
		if err != nil {
			return nil, err
		}
		out = append(out, tok)
		if tok.kind == tokEOF {
			return out, nil
		}
	}
}

func (l *lexer) errorf(pos int, format string, args ...any) error {
	return &SyntaxError{Input: l.src, Pos: pos, Msg: fmt.Sprintf(format, args...)}
}

func (l *lexer) peekRune(off int) rune {
	if l.pos+off >= len(l.src) {
		return 0
	}
	r, _ := utf8.DecodeRuneInString(l.src[l.pos+off:])
	return r
}

func (l *lexer) next() (token, error) {
	for l.pos < len(l.src) {
		r, w := utf8.DecodeRuneInString(l.src[l.pos:])
		if !unicode.IsSpace(r) {
			break
		}
		l.pos += w
	}
	start := l.pos
	if l.pos >= len(l.src) {
		return token{kind: tokEOF, pos: start}, nil
	}

	c := l.src[l.pos]
	switch c {
	case '(':
		l.pos++
		return token{kind: tokLParen, text: "(", pos: start}, nil
	case ')':
		l.pos++
		return token{kind: tokRParen, text: ")", pos: start}, nil
	case ',':
		l.pos++
		return token{kind: tokComma, text: ",", pos: start}, nil
	case '=':
		l.pos++
		if l.pos < len(l.src) && l.src[l.pos] == '=' {
			l.pos++
		}
		return token{kind: tokCmp, text: "=", pos: start}, nil
	case '!':
		if l.peekRune(1) == '=' {
			l.pos += 2
			return token{kind: tokCmp, text: "!=", pos: start}, nil
		}
		return token{}, l.errorf(start, "unexpected '!'")
	case '<', '>':
		l.pos++
		op := string(c)
		if l.pos < len(l.src) && l.src[l.pos] == '=' {
			l.pos++
			op += "="
		} else if c == '<' && l.pos < len(l.src) && l.src[l.pos] == '>' {
			l.pos++
			op = "!="
		}
		return token{kind: tokCmp, text: op, pos: start}, nil
	case '"', '\'':
		return l.quoted(c)
	case ':':
		l.pos++
		name := l.word()
		if name == "" {
			return token{}, l.errorf(start, "variable name expected after ':'")
		}
		return token{kind: tokVariable, text: name, pos: start}, nil
	}

	if c == '-' || c == '+' || (c >= '0' && c <= '9') || (c == '.' && l.peekRune(1) >= '0' && l.peekRune(1) <= '9') {
		if num, ok := l.number(); ok {
			return token{kind: tokNumber, text: num, pos: start}, nil
		}
		l.pos = start
	}

	// A role prefix followed by a dot is an attribute reference.
	if (c == 'A' || c == 'a' || c == 'T' || c == 't') && l.peekRune(1) == '.' {
		l.pos += 2
		name := l.word()
		if name == "" {
			return token{}, l.errorf(start, "attribute name expected after %q", l.src[start:start+2])
		}
		return token{kind: tokRef, text: string(unicode.ToUpper(rune(c))) + "." + name, pos: start}, nil
	}

	w := l.word()
	if w == "" {
		r, _ := utf8.DecodeRuneInString(l.src[l.pos:])
		return token{}, l.errorf(start, "unexpected %q", r)
	}
	if kind, ok := keywords[strings.ToLower(w)]; ok {
		return token{kind: kind, text: strings.ToLower(w), pos: start}, nil
	}
	return token{kind: tokWord, text: w, pos: start}, nil
}

func (l *lexer) word() string {
	start := l.pos
	for l.pos < len(l.src) {
		r, w := utf8.DecodeRuneInString(l.src[l.pos:])
		if !isWordRune(r) && !(r == '.' && l.pos > start) {
			break
		}
		l.pos += w
	}
	return l.src[start:l.pos]
}

// number scans -?digits[.digits]; it leaves pos unchanged on failure.
func (l *lexer) number() (string, bool) {
	start := l.pos
	if l.src[l.pos] == '-' || l.src[l.pos] == '+' {
		l.pos++
	}
	digits := 0
	for l.pos < len(l.src) && l.src[l.pos] >= '0' && l.src[l.pos] <= '9' {
		l.pos++
		digits++
	}
	if l.pos < len(l.src) && l.src[l.pos] == '.' {
		l.pos++
		for l.pos < len(l.src) && l.src[l.pos] >= '0' && l.src[l.pos] <= '9' {
			l.pos++
			digits++
		}
	}
	if digits == 0 {
		l.pos = start
		return "", false
	}
	// 12ab is a word, not a number.
	if l.pos < len(l.src) {
		r, _ := utf8.DecodeRuneInString(l.src[l.pos:])
		if unicode.IsLetter(r) || r == '_' {
			l.pos = start
			return "", false
		}
	}
	return strings.TrimPrefix(l.src[start:l.pos], "+"), true
}

func (l *lexer) quoted(q byte) (token, error) {
	start := l.pos
	l.pos++
	var sb strings.Builder
	for l.pos < len(l.src) {
		c := l.src[l.pos]
		switch {
		case c == '\\' && l.pos+1 < len(l.src):
			sb.WriteByte(l.src[l.pos+1])
			l.pos += 2
		case c == q:
			l.pos++
			return token{kind: tokString, text: sb.String(), pos: start}, nil
		default:
			sb.WriteByte(c)
			l.pos++
		}
	}
	return token{}, l.errorf(start, "unterminated string")
}
