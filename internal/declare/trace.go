package declare

// Label marks whether a trace was generated to satisfy or violate the model.
type Label string

const (
	Positive Label = "positive"
	Negative Label = "negative"
)

// Value is a decoded attribute value. Numeric values carry their scale.
type Value struct {
	Number *Scaled `json:"number,omitempty"`
	Text   string  `json:"text,omitempty"`
}

func (v Value) String() string {
	if v.Number != nil {
		return v.Number.String()
	}
	return v.Text
}

// Event is one step of a trace.
type Event struct {
	Activity   string           `json:"activity"`
	Attributes map[string]Value `json:"attributes,omitempty"`
}

// Trace is one generated process execution.
type Trace struct {
	ID     string  `json:"id"`
	Label  Label   `json:"label"`
	Events []Event `json:"events"`
}

// Activities returns the activity sequence of t.
func (t Trace) Activities() []string {
	out := make([]string, len(t.Events))
	for i, e := range t.Events {
		out[i] = e.Activity
	}
	return out
}
