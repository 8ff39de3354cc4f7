package declare

import (
	"fmt"
	"math"
	"strconv"
	"strings"
)

// DomainKind tags the value domain of an attribute.
type DomainKind int

const (
	DomainUnset DomainKind = iota
	DomainInteger
	DomainFloat
	DomainIntegerRange
	DomainFloatRange
	DomainEnumeration
)

func (k DomainKind) String() string {
	switch k {
	case DomainInteger:
		return "integer"
	case DomainFloat:
		return "float"
	case DomainIntegerRange:
		return "integer range"
	case DomainFloatRange:
		return "float range"
	case DomainEnumeration:
		return "enumeration"
	default:
		return "unset"
	}
}

// Numeric reports whether the domain compares with <, <=, > and >=.
func (k DomainKind) Numeric() bool {
	switch k {
	case DomainInteger, DomainFloat, DomainIntegerRange, DomainFloatRange:
		return true
	}
	return false
}

// Domain is the declared value domain of an attribute. Lo and Hi are kept
// already scaled by the attribute precision.
type Domain struct {
	Kind   DomainKind
	Lo, Hi int64
	Values []string
}

// AttributeSpec describes one declared attribute.
type AttributeSpec struct {
	Name   string
	Domain Domain
	// Precision is the number of decimals kept for float domains. It is fixed
	// from the declared bounds and reused for every value of the attribute.
	Precision uint32
}

// Scale converts v to the integer representation of the attribute.
func (a AttributeSpec) Scale(v float64) Scaled {
	return Scale(v, a.Precision)
}

// HasValue reports whether an enumeration contains v.
func (a AttributeSpec) HasValue(v string) bool {
	for _, x := range a.Domain.Values {
		if x == v {
			return true
		}
	}
	return false
}

// String renders the attribute declaration in DSL syntax.
func (a AttributeSpec) String() string {
	d := a.Domain
	switch d.Kind {
	case DomainInteger:
		return a.Name + ": integer"
	case DomainFloat:
		return a.Name + ": float"
	case DomainIntegerRange:
		return fmt.Sprintf("%s: integer between %d and %d", a.Name, d.Lo, d.Hi)
	case DomainFloatRange:
		return fmt.Sprintf("%s: float between %s and %s", a.Name,
			Scaled{Value: d.Lo, Precision: a.Precision}, Scaled{Value: d.Hi, Precision: a.Precision})
	case DomainEnumeration:
		return a.Name + ": " + strings.Join(d.Values, ", ")
	}
	return a.Name + ": ?"
}

// Scaled is a decimal value stored as an integer multiple of 10^-Precision.
type Scaled struct {
	Value     int64
	Precision uint32
}

// Scale rounds v to precision decimals.
func Scale(v float64, precision uint32) Scaled {
	return Scaled{Value: int64(math.Round(v * math.Pow10(int(precision)))), Precision: precision}
}

// ParseScaled parses a decimal literal and scales it to precision decimals.
func ParseScaled(literal string, precision uint32) (Scaled, error) {
	f, err := strconv.ParseFloat(strings.TrimSpace(literal), 64)
	if err != nil {
		return Scaled{}, fmt.Errorf("invalid number %q", literal)
	}
	return Scale(f, precision), nil
}

// Unscale returns the float value.
func (s Scaled) Unscale() float64 {
	return float64(s.Value) / math.Pow10(int(s.Precision))
}

// String prints exactly Precision decimals, e.g. 250 at precision 2 is "2.50".
func (s Scaled) String() string {
	if s.Precision == 0 {
		return strconv.FormatInt(s.Value, 10)
	}
	neg := s.Value < 0
	v := s.Value
	if neg {
		v = -v
	}
	digits := strconv.FormatInt(v, 10)
	p := int(s.Precision)
	if len(digits) <= p {
		digits = strings.Repeat("0", p-len(digits)+1) + digits
	}
	out := digits[:len(digits)-p] + "." + digits[len(digits)-p:]
	if neg {
		out = "-" + out
	}
	return out
}

// PrecisionOf counts the decimals written in a numeric literal.
func PrecisionOf(literal string) uint32 {
	literal = strings.TrimSpace(literal)
	if i := strings.IndexAny(literal, "eE"); i >= 0 {
		literal = literal[:i]
	}
	dot := strings.IndexByte(literal, '.')
	if dot < 0 {
		return 0
	}
	return uint32(len(literal) - dot - 1)
}
