// Package decoder turns solver models into traces.
package decoder

import (
	"fmt"
	"sort"
	"strconv"
	"strings"

	"declaregen/internal/declare"
	"declaregen/internal/encoding"
	"declaregen/internal/logging"
	"declaregen/internal/solver"
)

// TracePrefix starts every generated trace name.
const TracePrefix = "trace_"

// Error reports a model that does not describe a well-formed trace.
type Error struct {
	Symbol string
	Msg    string
}

func (e *Error) Error() string {
	if e.Symbol == "" {
		return "decode: " + e.Msg
	}
	return fmt.Sprintf("decode %s: %s", e.Symbol, e.Msg)
}

// Decoder maps solver symbols back to model names and values.
type Decoder struct {
	model   *declare.Model
	session *encoding.Session
}

// New creates a Decoder for models solved from programs built with s.
func New(m *declare.Model, s *encoding.Session) *Decoder {
	return &Decoder{model: m, session: s}
}

// TraceName returns the name of the n-th trace.
func TraceName(n int) string { return TracePrefix + strconv.Itoa(n) }

// Decode builds a trace from the trace/2 and assigned_value/3 atoms of a
// model. Other atoms are ignored.
func (d *Decoder) Decode(id string, label declare.Label, syms []solver.Symbol) (declare.Trace, error) {
	steps := make(map[int64]*declare.Event)
	var maxStep int64
	for _, sym := range syms {
		if sym.Kind != solver.Function {
			continue
		}
		switch sym.Signature() {
		case "trace/2":
			t, err := step(sym, sym.Args[1])
			if err != nil {
				return declare.Trace{}, err
			}
			if ev, ok := steps[t]; ok && ev.Activity != "" {
				return declare.Trace{}, &Error{Symbol: sym.String(), Msg: fmt.Sprintf("second activity at step %d", t)}
			}
			act, err := d.session.Resolve(sym.Args[0].String(), encoding.Activity)
			if err != nil {
				return declare.Trace{}, err
			}
			ev := event(steps, t)
			ev.Activity = act
			if t > maxStep {
				maxStep = t
			}
		case "assigned_value/3":
			t, err := step(sym, sym.Args[2])
			if err != nil {
				return declare.Trace{}, err
			}
			name, val, err := d.value(sym)
			if err != nil {
				return declare.Trace{}, err
			}
			event(steps, t).Attributes[name] = val
		}
	}

	tr := declare.Trace{ID: id, Label: label, Events: make([]declare.Event, 0, maxStep)}
	for t := int64(1); t <= maxStep; t++ {
		ev, ok := steps[t]
		if !ok || ev.Activity == "" {
			return declare.Trace{}, &Error{Msg: fmt.Sprintf("trace %s has no activity at step %d", id, t)}
		}
		if len(ev.Attributes) == 0 {
			ev.Attributes = nil
		}
		tr.Events = append(tr.Events, *ev)
	}
	for t := range steps {
		if t > maxStep {
			return declare.Trace{}, &Error{Msg: fmt.Sprintf("trace %s assigns values after its last event at step %d", id, t)}
		}
	}
	logging.DecoderDebug("decoded %s (%s): %d events", id, label, len(tr.Events))
	return tr, nil
}

func step(sym, arg solver.Symbol) (int64, error) {
	if arg.Kind != solver.Number || arg.Number < 1 {
		return 0, &Error{Symbol: sym.String(), Msg: "time step must be a positive number"}
	}
	return arg.Number, nil
}

func event(steps map[int64]*declare.Event, t int64) *declare.Event {
	ev, ok := steps[t]
	if !ok {
		ev = &declare.Event{Attributes: make(map[string]declare.Value)}
		steps[t] = ev
	}
	return ev
}

func (d *Decoder) value(sym solver.Symbol) (string, declare.Value, error) {
	name, err := d.session.Resolve(sym.Args[0].String(), encoding.Attribute)
	if err != nil {
		return "", declare.Value{}, err
	}
	spec, ok := d.model.Attribute(name)
	if !ok {
		return "", declare.Value{}, &Error{Symbol: sym.String(), Msg: fmt.Sprintf("unknown attribute %q", name)}
	}
	arg := sym.Args[1]
	if spec.Domain.Kind.Numeric() {
		if arg.Kind != solver.Number {
			return "", declare.Value{}, &Error{Symbol: sym.String(), Msg: "numeric attribute with non-numeric value"}
		}
		return name, declare.Value{Number: &declare.Scaled{Value: arg.Number, Precision: spec.Precision}}, nil
	}
	text, err := d.session.Resolve(arg.String(), encoding.Value)
	if err != nil {
		return "", declare.Value{}, err
	}
	return name, declare.Value{Text: text}, nil
}

// Sort orders traces by the number after TracePrefix, falling back to the
// plain name for traces without one.
func Sort(traces []declare.Trace) {
	sort.SliceStable(traces, func(i, j int) bool {
		ni, oki := suffix(traces[i].ID)
		nj, okj := suffix(traces[j].ID)
		switch {
		case oki && okj:
			return ni < nj
		case oki != okj:
			return oki
		}
		return traces[i].ID < traces[j].ID
	})
}

func suffix(id string) (int, bool) {
	if !strings.HasPrefix(id, TracePrefix) {
		return 0, false
	}
	n, err := strconv.Atoi(id[len(TracePrefix):])
	return n, err == nil
}
