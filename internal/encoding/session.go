// Package encoding maps model names to solver-safe tokens.
//
// Clingo reads identifiers starting with an uppercase letter as variables and
// rejects spaces, colons and most punctuation, so activity names such as
// "Pay Invoice" cannot be emitted as they are. A Session hands out tokens per
// category and decodes them back exactly. Sessions are values owned by one
// generation run; there is no process-wide state.
package encoding

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
	"sync"
	"unicode"
)

// Category scopes a name space. The same string may map to different tokens
// in different categories.
type Category string

const (
	EventType Category = "event_type"
	Activity  Category = "activity"
	Attribute Category = "attribute"
	Value     Category = "value"
)

var prefixes = map[Category]string{
	EventType: "t",
	Activity:  "a",
	Attribute: "k",
	Value:     "v",
}

// DecodeError reports a token the session never issued.
type DecodeError struct {
	Category Category
	Token    string
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("unknown %s token %q", e.Category, e.Token)
}

type table struct {
	toToken map[string]string
	toName  map[string]string
	order   []string
}

// Session is a bijective name<->token map. It is safe for concurrent use.
type Session struct {
	mu     sync.Mutex
	encode bool
	tables map[Category]*table
}

// NewSession returns an empty session. When encode is false, Symbol returns
// names unchanged where the solver accepts them.
func NewSession(encode bool) *Session {
	return &Session{encode: encode, tables: make(map[Category]*table)}
}

// Encoding reports whether Symbol hands out tokens.
func (s *Session) Encoding() bool { return s.encode }

func (s *Session) tableLocked(cat Category) *table {
	t, ok := s.tables[cat]
	if !ok {
		t = &table{toToken: make(map[string]string), toName: make(map[string]string)}
		s.tables[cat] = t
	}
	return t
}

// Encode returns the token of name in cat, issuing a new one on first use.
func (s *Session) Encode(name string, cat Category) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.encodeLocked(name, cat)
}

func (s *Session) encodeLocked(name string, cat Category) string {
	t := s.tableLocked(cat)
	if tok, ok := t.toToken[name]; ok {
		return tok
	}
	prefix, ok := prefixes[cat]
	if !ok {
		prefix = "x"
	}
	tok := prefix + strconv.Itoa(len(t.order))
	t.toToken[name] = tok
	t.toName[tok] = name
	t.order = append(t.order, name)
	return tok
}

// Decode reverses Encode.
func (s *Session) Decode(token string, cat Category) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if t, ok := s.tables[cat]; ok {
		if name, ok := t.toName[token]; ok {
			return name, nil
		}
	}
	return "", &DecodeError{Category: cat, Token: token}
}

// Symbol renders name as a solver constant: the token when encoding, the
// bare name when it is already a valid constant, a quoted string otherwise.
func (s *Session) Symbol(name string, cat Category) string {
	if s.encode {
		return s.Encode(name, cat)
	}
	if IsConstant(name) {
		return name
	}
	return strconv.Quote(name)
}

// Resolve maps a solver constant back to its name. It accepts tokens when
// encoding and bare or quoted names otherwise.
func (s *Session) Resolve(symbol string, cat Category) (string, error) {
	if s.encode {
		return s.Decode(symbol, cat)
	}
	if strings.HasPrefix(symbol, `"`) {
		name, err := strconv.Unquote(symbol)
		if err != nil {
			return "", fmt.Errorf("bad quoted symbol %s: %w", symbol, err)
		}
		return name, nil
	}
	return symbol, nil
}

// IsConstant reports whether name is a clingo constant: a lowercase letter
// (optionally after underscores) followed by letters, digits, underscores or
// primes.
func IsConstant(name string) bool {
	if name == "" {
		return false
	}
	i := 0
	for i < len(name) && name[i] == '_' {
		i++
	}
	if i >= len(name) || name[i] < 'a' || name[i] > 'z' {
		return false
	}
	for _, r := range name[i:] {
		if r > unicode.MaxASCII {
			return false
		}
		if !(unicode.IsLetter(r) || unicode.IsDigit(r) || r == '_' || r == '\'') {
			return false
		}
	}
	switch name {
	case "not", "and", "or":
		return false
	}
	return true
}

// Entry is one row of a snapshot.
type Entry struct {
	Category Category `json:"category"`
	Name     string   `json:"name"`
	Token    string   `json:"token"`
}

// Snapshot exports the mapping ordered by category then issue order.
func (s *Session) Snapshot() []Entry {
	s.mu.Lock()
	defer s.mu.Unlock()
	cats := make([]string, 0, len(s.tables))
	for c := range s.tables {
		cats = append(cats, string(c))
	}
	sort.Strings(cats)
	var out []Entry
	for _, c := range cats {
		t := s.tables[Category(c)]
		for _, name := range t.order {
			out = append(out, Entry{Category: Category(c), Name: name, Token: t.toToken[name]})
		}
	}
	return out
}

// Len returns the number of names known in cat.
func (s *Session) Len(cat Category) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	if t, ok := s.tables[cat]; ok {
		return len(t.order)
	}
	return 0
}

// Merge adds every name known to others that s does not know yet. The names
// of all sessions are pooled and issued in sorted order per category, so the
// resulting tokens do not depend on the order of others or on the order the
// names were first seen in.
func (s *Session) Merge(others ...*Session) {
	pooled := make(map[Category]map[string]bool)
	for _, o := range others {
		if o == nil || o == s {
			continue
		}
		for _, e := range o.Snapshot() {
			if pooled[e.Category] == nil {
				pooled[e.Category] = make(map[string]bool)
			}
			pooled[e.Category][e.Name] = true
		}
	}

	cats := make([]string, 0, len(pooled))
	for c := range pooled {
		cats = append(cats, string(c))
	}
	sort.Strings(cats)

	s.mu.Lock()
	defer s.mu.Unlock()
	for _, c := range cats {
		names := make([]string, 0, len(pooled[Category(c)]))
		for n := range pooled[Category(c)] {
			names = append(names, n)
		}
		sort.Strings(names)
		for _, n := range names {
			s.encodeLocked(n, Category(c))
		}
	}
}
