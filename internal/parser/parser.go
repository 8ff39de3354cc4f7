// Package parser reads the line-oriented DECLARE text format into a
// declare.Model.
//
//	# comment
//	activity Pay Invoice
//	bind Pay Invoice: amount, channel
//	amount: float between 0.50 and 1000.00
//	channel: web, phone, mail
//	Response[Pay Invoice, Ship] | A.amount > 10 | | 0,5,d
package parser

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"declaregen/internal/condition"
	"declaregen/internal/declare"
	"declaregen/internal/logging"
)

// DefaultFloatPrecision is the precision of float attributes declared
// without bounds.
const DefaultFloatPrecision = 2

// Options tunes parsing.
type Options struct {
	// Strict rejects bind lines and constraints naming undeclared activities.
	// The default creates them with a warning.
	Strict bool
	// FloatPrecision is used for unbounded float attributes; zero means
	// DefaultFloatPrecision.
	FloatPrecision uint32
}

// Result is a parsed model and the warnings raised while building it.
type Result struct {
	Model    *declare.Model
	Warnings []Warning
}

var (
	constraintPattern = regexp.MustCompile(`^([^\[\]]*)\[([^\[\]]*)\]\s*(.*)$`)
	rangePattern      = regexp.MustCompile(`(?i)^(integer|float)\s+between\s+(\S+)\s+and\s+(\S+)$`)
	windowPattern     = regexp.MustCompile(`^(-?\d+)\s*,\s*(-?\d+)\s*,\s*([smhd])$`)
)

type state struct {
	opts     Options
	model    *declare.Model
	errs     ParseErrors
	warnings []Warning
	// integrity problems found while reading; reported after parse errors.
	integrity []error
	bound     map[string]int // attribute -> first bind line
	declared  map[string]int // attribute -> domain line
	actLine   map[string]int
}

// ParseFile parses the model at path.
func ParseFile(path string, opts Options) (*Result, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open model: %w", err)
	}
	defer f.Close()
	return Parse(f, opts)
}

// ParseString parses src.
func ParseString(src string, opts Options) (*Result, error) {
	return Parse(strings.NewReader(src), opts)
}

// Parse reads a model from r. Every malformed line is reported in a
// ParseErrors value; integrity problems are joined *declare.IntegrityError
// values.
func Parse(r io.Reader, opts Options) (*Result, error) {
	if opts.FloatPrecision == 0 {
		opts.FloatPrecision = DefaultFloatPrecision
	}
	st := &state{
		opts:     opts,
		model:    declare.NewModel(),
		bound:    make(map[string]int),
		declared: make(map[string]int),
		actLine:  make(map[string]int),
	}

	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	line := 0
	for sc.Scan() {
		line++
		text := strings.TrimSpace(strings.TrimPrefix(sc.Text(), "\ufeff"))
		if text == "" || strings.HasPrefix(text, "#") {
			continue
		}
		if err := st.line(line, text); err != nil {
			var pe *ParseError
			if errors.As(err, &pe) {
				st.errs = append(st.errs, pe)
				continue
			}
			st.integrity = append(st.integrity, err)
		}
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("read model: %w", err)
	}
	if len(st.errs) > 0 {
		logging.ParserWarn("%d malformed lines", len(st.errs))
		return nil, st.errs
	}
	st.check()
	if len(st.integrity) > 0 {
		return nil, errors.Join(st.integrity...)
	}
	for i, c := range st.model.Constraints {
		c.Index = i
	}
	logging.Parser("parsed model: %d activities, %d attributes, %d constraints",
		len(st.model.Activities), len(st.model.Attributes), len(st.model.Constraints))
	return &Result{Model: st.model, Warnings: st.warnings}, nil
}

func (st *state) warn(line int, format string, args ...any) {
	w := Warning{Line: line, Msg: fmt.Sprintf(format, args...)}
	logging.ParserWarn("%s", w)
	st.warnings = append(st.warnings, w)
}

func parseErr(line int, text, format string, args ...any) error {
	return &ParseError{Line: line, Text: text, Msg: fmt.Sprintf(format, args...)}
}

// line dispatches one statement. Bind lines are recognized before attribute
// lines, and constraint lines before attribute lines so that variables
// (":X") inside conditions are not taken for a domain separator.
func (st *state) line(n int, text string) error {
	lower := strings.ToLower(text)
	switch {
	case strings.HasPrefix(lower, "activity ") || strings.HasPrefix(lower, "activity\t"):
		return st.activity(n, text, strings.TrimSpace(text[len("activity"):]))
	case strings.HasPrefix(lower, "bind ") || strings.HasPrefix(lower, "bind\t"):
		return st.bind(n, text, strings.TrimSpace(text[len("bind"):]))
	}
	if m := constraintPattern.FindStringSubmatch(text); m != nil && !strings.Contains(m[1], ":") {
		return st.constraint(n, text, m)
	}
	if i := strings.IndexByte(text, ':'); i >= 0 {
		return st.attribute(n, text, text[:i], text[i+1:])
	}
	return parseErr(n, text, "unrecognized statement")
}

func (st *state) activity(n int, text, name string) error {
	if name == "" {
		return parseErr(n, text, "activity name missing")
	}
	if st.model.HasActivity(name) {
		return &declare.IntegrityError{Subject: name, Line: n,
			Msg: fmt.Sprintf("activity naming collision with line %d", st.actLine[name])}
	}
	st.addActivity(n, name)
	return nil
}

func (st *state) addActivity(n int, name string) {
	st.model.Activities = append(st.model.Activities, name)
	st.actLine[name] = n
	logging.ParserDebug("activity %q", name)
}

// ensureActivity resolves an activity referenced before its declaration.
func (st *state) ensureActivity(n int, name, context string) error {
	if st.model.HasActivity(name) {
		return nil
	}
	if st.opts.Strict {
		return &declare.IntegrityError{Subject: name, Line: n, Msg: "undeclared activity in " + context}
	}
	st.addActivity(n, name)
	st.warn(n, "activity %q used in %s before declaration; created", name, context)
	return nil
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func (st *state) bind(n int, text, rest string) error {
	i := strings.IndexByte(rest, ':')
	if i < 0 {
		return parseErr(n, text, "bind line needs ':' between activities and attributes")
	}
	acts := splitList(rest[:i])
	attrs := splitList(rest[i+1:])
	if len(acts) == 0 || len(attrs) == 0 {
		return parseErr(n, text, "bind line needs at least one activity and one attribute")
	}
	for _, a := range acts {
		if err := st.ensureActivity(n, a, "bind line"); err != nil {
			return err
		}
		for _, attr := range attrs {
			if !contains(st.model.Bindings[a], attr) {
				st.model.Bindings[a] = append(st.model.Bindings[a], attr)
			}
			if _, ok := st.bound[attr]; !ok {
				st.bound[attr] = n
			}
		}
	}
	return nil
}

func contains(xs []string, x string) bool {
	for _, v := range xs {
		if v == x {
			return true
		}
	}
	return false
}

func (st *state) attribute(n int, text, names, spec string) error {
	attrs := splitList(names)
	if len(attrs) == 0 {
		return parseErr(n, text, "attribute name missing")
	}
	spec = strings.TrimSpace(spec)
	if spec == "" {
		return parseErr(n, text, "value specification missing")
	}
	domain, precision, err := st.domain(spec)
	if err != nil {
		return parseErr(n, text, "%v", err)
	}
	for _, a := range attrs {
		if prev, ok := st.declared[a]; ok {
			return parseErr(n, text, "attribute %s already declared on line %d", a, prev)
		}
		st.declared[a] = n
		st.model.Attributes[a] = &declare.AttributeSpec{Name: a, Domain: domain, Precision: precision}
	}
	return nil
}

func (st *state) domain(spec string) (declare.Domain, uint32, error) {
	switch strings.ToLower(spec) {
	case "integer":
		return declare.Domain{Kind: declare.DomainInteger}, 0, nil
	case "float":
		return declare.Domain{Kind: declare.DomainFloat}, st.opts.FloatPrecision, nil
	}
	if m := rangePattern.FindStringSubmatch(spec); m != nil {
		if strings.EqualFold(m[1], "integer") {
			lo, err := strconv.ParseInt(m[2], 10, 64)
			if err != nil {
				return declare.Domain{}, 0, fmt.Errorf("invalid integer bound %q", m[2])
			}
			hi, err := strconv.ParseInt(m[3], 10, 64)
			if err != nil {
				return declare.Domain{}, 0, fmt.Errorf("invalid integer bound %q", m[3])
			}
			if lo > hi {
				return declare.Domain{}, 0, fmt.Errorf("empty range %d..%d", lo, hi)
			}
			return declare.Domain{Kind: declare.DomainIntegerRange, Lo: lo, Hi: hi}, 0, nil
		}
		p := max(declare.PrecisionOf(m[2]), declare.PrecisionOf(m[3]))
		lo, err := declare.ParseScaled(m[2], p)
		if err != nil {
			return declare.Domain{}, 0, err
		}
		hi, err := declare.ParseScaled(m[3], p)
		if err != nil {
			return declare.Domain{}, 0, err
		}
		if lo.Value > hi.Value {
			return declare.Domain{}, 0, fmt.Errorf("empty range %s..%s", m[2], m[3])
		}
		return declare.Domain{Kind: declare.DomainFloatRange, Lo: lo.Value, Hi: hi.Value}, p, nil
	}
	lower := strings.ToLower(spec)
	if strings.HasPrefix(lower, "integer ") || strings.HasPrefix(lower, "float ") {
		return declare.Domain{}, 0, fmt.Errorf("expected %q", "between X and Y")
	}
	values := splitList(spec)
	seen := make(map[string]bool, len(values))
	var uniq []string
	for _, v := range values {
		if !seen[v] {
			seen[v] = true
			uniq = append(uniq, v)
		}
	}
	if len(uniq) == 0 {
		return declare.Domain{}, 0, fmt.Errorf("empty enumeration")
	}
	return declare.Domain{Kind: declare.DomainEnumeration, Values: uniq}, 0, nil
}

func (st *state) constraint(n int, text string, m []string) error {
	name := strings.TrimSpace(m[1])
	tmpl, card, ok := declare.LookupTemplate(name)
	if !ok {
		return parseErr(n, text, "unknown template %q", name)
	}
	info := tmpl.Info()
	acts := splitList(m[2])
	if len(acts) != int(info.Arity) {
		return parseErr(n, text, "%s takes %d activities, got %d", info.Name, info.Arity, len(acts))
	}

	ci := &declare.ConstraintInstance{Template: tmpl, Activities: acts, Cardinality: card, Line: n}
	if info.SupportsCardinality && card == 0 {
		ci.Cardinality = 1
	}

	segs, err := segments(m[3])
	if err != nil {
		return parseErr(n, text, "%v", err)
	}
	var actSeg, tgtSeg, winSeg string
	switch {
	case info.Arity == declare.Binary:
		if len(segs) < 2 {
			return parseErr(n, text, "%s needs activation and target segments", info.Name)
		}
		actSeg, tgtSeg = segs[0], segs[1]
		if len(segs) == 3 {
			winSeg = segs[2]
		}
	case len(segs) == 3:
		if segs[1] != "" {
			return parseErr(n, text, "%s has no target condition", info.Name)
		}
		actSeg, winSeg = segs[0], segs[2]
	case len(segs) == 2:
		actSeg, winSeg = segs[0], segs[1]
	case len(segs) == 1:
		actSeg = segs[0]
	}

	if ci.Activation, err = condition.Parse(actSeg); err != nil {
		return parseErr(n, text, "activation condition: %v", err)
	}
	if ci.Target, err = condition.Parse(tgtSeg); err != nil {
		return parseErr(n, text, "target condition: %v", err)
	}
	if winSeg != "" {
		w := windowPattern.FindStringSubmatch(winSeg)
		if w == nil {
			return parseErr(n, text, "time window %q is not min,max,unit", winSeg)
		}
		lo, _ := strconv.Atoi(w[1])
		hi, _ := strconv.Atoi(w[2])
		if lo < 0 || lo > hi {
			return parseErr(n, text, "time window %q is empty", winSeg)
		}
		ci.TimeWindow = &declare.TimeWindow{Min: lo, Max: hi, Unit: w[3]}
	}

	for _, a := range acts {
		if err := st.ensureActivity(n, a, "constraint"); err != nil {
			return err
		}
	}
	st.model.Constraints = append(st.model.Constraints, ci)
	logging.ParserDebug("constraint %s", ci)
	return nil
}

// segments splits the "| act | target | window" suffix of a constraint.
func segments(suffix string) ([]string, error) {
	suffix = strings.TrimSpace(suffix)
	if suffix == "" {
		return nil, nil
	}
	if suffix[0] != '|' {
		return nil, fmt.Errorf("conditions must start with '|'")
	}
	parts := strings.Split(suffix[1:], "|")
	if len(parts) > 3 {
		return nil, fmt.Errorf("%d condition segments, at most 3 allowed", len(parts))
	}
	for i := range parts {
		parts[i] = strings.TrimSpace(parts[i])
	}
	return parts, nil
}

// check runs the post-parse integrity rules.
func (st *state) check() {
	m := st.model
	for _, name := range m.AttributeNames() {
		if _, ok := m.Attributes[name]; !ok {
			st.integrity = append(st.integrity, &declare.IntegrityError{
				Subject: name, Line: st.bound[name], Msg: "attribute has no declared domain"})
		}
		if m.HasActivity(name) {
			st.integrity = append(st.integrity, &declare.IntegrityError{
				Subject: name, Line: st.bound[name], Msg: "attribute name collides with an activity"})
		}
	}
	declared := make([]string, 0, len(m.Attributes))
	for name := range m.Attributes {
		declared = append(declared, name)
	}
	sort.Strings(declared)
	for _, name := range declared {
		if _, ok := st.bound[name]; !ok {
			logging.ParserDebug("attribute %s is not bound to any activity; dropped", name)
			st.warnings = append(st.warnings, Warning{Line: st.declared[name], Msg: fmt.Sprintf("attribute %s is not bound to any activity; dropped", name)})
			delete(m.Attributes, name)
		}
	}
	for _, c := range m.Constraints {
		if err := condition.CheckVariables(c); err != nil {
			st.integrity = append(st.integrity, err)
		}
	}
}
