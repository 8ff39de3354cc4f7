package declare

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLookupTemplate(t *testing.T) {
	tests := []struct {
		name        string
		want        Template
		cardinality int
		ok          bool
	}{
		{"Response", Response, 0, true},
		{"chain-response", ChainResponse, 0, true},
		{"Exclusive Choice", ExclusiveChoice, 0, true},
		{"not_chain_succession", NotChainSuccession, 0, true},
		{"Existence3", Existence, 3, true},
		{"Existence 2", Existence, 2, true},
		{"Absence1", Absence, 1, true},
		{"Exactly12", Exactly, 12, true},
		{"Existence0", 0, 0, false},
		{"Response2", 0, 0, false},
		{"Whatever", 0, 0, false},
		{"", 0, 0, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, card, ok := LookupTemplate(tt.name)
			require.Equal(t, tt.ok, ok)
			if !ok {
				return
			}
			assert.Equal(t, tt.want, got)
			assert.Equal(t, tt.cardinality, card)
		})
	}
}

func TestDisplayFoldsCardinalityOne(t *testing.T) {
	assert.Equal(t, "Existence", Existence.Display(1))
	assert.Equal(t, "Absence", Absence.Display(0))
	assert.Equal(t, "Existence2", Existence.Display(2))
	assert.Equal(t, "Response", Response.Display(3))
}

func TestTemplateTableComplete(t *testing.T) {
	for _, tmpl := range Templates() {
		info := tmpl.Info()
		assert.NotEmpty(t, info.Name, "template %d has no name", int(tmpl))
		if info.SupportsCardinality {
			assert.Equal(t, Unary, info.Arity, "%s", info.Name)
		}
		got, _, ok := LookupTemplate(info.Name)
		assert.True(t, ok, "%s does not look up", info.Name)
		assert.Equal(t, tmpl, got)
	}
	assert.Len(t, Templates(), 26)
	assert.False(t, Template(-1).Valid())
	assert.False(t, templateCount.Valid())
}
