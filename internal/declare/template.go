// Package declare holds the DECLARE model types shared by the parser, the
// condition compiler, the program assembler and the decoder: templates with
// their static metadata and automata, typed attributes, condition trees,
// constraint instances and generated traces.
package declare

import (
	"fmt"
	"strings"
)

// Template identifies a DECLARE constraint template.
type Template int

const (
	Existence Template = iota
	Absence
	Exactly
	Init
	End
	Choice
	ExclusiveChoice
	RespondedExistence
	CoExistence
	Response
	AlternateResponse
	ChainResponse
	Precedence
	AlternatePrecedence
	ChainPrecedence
	Succession
	AlternateSuccession
	ChainSuccession
	NotRespondedExistence
	NotCoExistence
	NotResponse
	NotPrecedence
	NotChainResponse
	NotChainPrecedence
	NotSuccession
	NotChainSuccession

	templateCount
)

// Arity is the number of activities a template binds.
type Arity int

const (
	Unary  Arity = 1
	Binary Arity = 2
)

// TemplateInfo is the static metadata of a template.
type TemplateInfo struct {
	Name                string
	Arity               Arity
	SupportsCardinality bool
	NegativePolarity    bool
	// ReversesActivation marks templates whose activation is the second bound
	// activity (the Precedence family).
	ReversesActivation bool
	// BothActivation marks templates where both clauses behave as activations.
	BothActivation bool
}

var templateTable = [templateCount]TemplateInfo{
	Existence:             {Name: "Existence", Arity: Unary, SupportsCardinality: true},
	Absence:               {Name: "Absence", Arity: Unary, SupportsCardinality: true},
	Exactly:               {Name: "Exactly", Arity: Unary, SupportsCardinality: true},
	Init:                  {Name: "Init", Arity: Unary},
	End:                   {Name: "End", Arity: Unary},
	Choice:                {Name: "Choice", Arity: Binary, BothActivation: true},
	ExclusiveChoice:       {Name: "Exclusive Choice", Arity: Binary, BothActivation: true},
	RespondedExistence:    {Name: "Responded Existence", Arity: Binary},
	CoExistence:           {Name: "CoExistence", Arity: Binary, BothActivation: true},
	Response:              {Name: "Response", Arity: Binary},
	AlternateResponse:     {Name: "Alternate Response", Arity: Binary},
	ChainResponse:         {Name: "Chain Response", Arity: Binary},
	Precedence:            {Name: "Precedence", Arity: Binary, ReversesActivation: true},
	AlternatePrecedence:   {Name: "Alternate Precedence", Arity: Binary, ReversesActivation: true},
	ChainPrecedence:       {Name: "Chain Precedence", Arity: Binary, ReversesActivation: true},
	Succession:            {Name: "Succession", Arity: Binary, BothActivation: true},
	AlternateSuccession:   {Name: "Alternate Succession", Arity: Binary, BothActivation: true},
	ChainSuccession:       {Name: "Chain Succession", Arity: Binary, BothActivation: true},
	NotRespondedExistence: {Name: "Not Responded Existence", Arity: Binary, NegativePolarity: true},
	NotCoExistence:        {Name: "Not CoExistence", Arity: Binary, NegativePolarity: true, BothActivation: true},
	NotResponse:           {Name: "Not Response", Arity: Binary, NegativePolarity: true},
	NotPrecedence:         {Name: "Not Precedence", Arity: Binary, NegativePolarity: true, ReversesActivation: true},
	NotChainResponse:      {Name: "Not Chain Response", Arity: Binary, NegativePolarity: true},
	NotChainPrecedence:    {Name: "Not Chain Precedence", Arity: Binary, NegativePolarity: true, ReversesActivation: true},
	NotSuccession:         {Name: "Not Succession", Arity: Binary, NegativePolarity: true, BothActivation: true},
	NotChainSuccession:    {Name: "Not Chain Succession", Arity: Binary, NegativePolarity: true, BothActivation: true},
}

// byKey maps a normalized template name to its template.
var byKey = func() map[string]Template {
	m := make(map[string]Template, templateCount)
	for t := Template(0); t < templateCount; t++ {
		m[normalizeName(templateTable[t].Name)] = t
	}
	return m
}()

// normalizeName lowercases and strips spaces, hyphens and underscores.
func normalizeName(s string) string {
	var sb strings.Builder
	for _, r := range strings.ToLower(s) {
		switch r {
		case ' ', '-', '_', '\t':
			continue
		}
		sb.WriteRune(r)
	}
	return sb.String()
}

// Info returns the static metadata of t.
func (t Template) Info() TemplateInfo {
	if t < 0 || t >= templateCount {
		return TemplateInfo{Name: fmt.Sprintf("Template(%d)", int(t))}
	}
	return templateTable[t]
}

func (t Template) String() string { return t.Info().Name }

// Valid reports whether t is a known template.
func (t Template) Valid() bool { return t >= 0 && t < templateCount }

// Display renders the template name with its cardinality. A cardinality of
// one folds into the bare name, so Existence1 and Existence print the same.
func (t Template) Display(cardinality int) string {
	info := t.Info()
	if !info.SupportsCardinality || cardinality <= 1 {
		return info.Name
	}
	return fmt.Sprintf("%s%d", info.Name, cardinality)
}

// Templates returns every template in declaration order.
func Templates() []Template {
	out := make([]Template, 0, templateCount)
	for t := Template(0); t < templateCount; t++ {
		out = append(out, t)
	}
	return out
}

// LookupTemplate resolves a template name such as "chain-response",
// "Exclusive Choice" or "Existence3". The lookup ignores case, spaces and
// hyphens. A trailing number is folded into the returned cardinality for
// templates that support one; cardinality is 0 when absent.
func LookupTemplate(name string) (Template, int, bool) {
	key := normalizeName(name)
	if t, ok := byKey[key]; ok {
		return t, 0, true
	}

	digits := len(key)
	for digits > 0 && key[digits-1] >= '0' && key[digits-1] <= '9' {
		digits--
	}
	if digits == len(key) || digits == 0 {
		return 0, 0, false
	}
	t, ok := byKey[key[:digits]]
	if !ok || !templateTable[t].SupportsCardinality {
		return 0, 0, false
	}
	n := 0
	for _, c := range key[digits:] {
		n = n*10 + int(c-'0')
		if n > 1<<20 {
			return 0, 0, false
		}
	}
	if n == 0 {
		return 0, 0, false
	}
	return t, n, true
}
