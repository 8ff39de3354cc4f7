package encoding

import (
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncodeDecodeRoundTrip(t *testing.T) {
	s := NewSession(true)
	names := []string{"Pay Invoice", "pay invoice", "A", "x:y", "", "ünïcode", "Pay Invoice"}
	for _, cat := range []Category{EventType, Activity, Attribute, Value} {
		for _, n := range names {
			tok := s.Encode(n, cat)
			assert.True(t, IsConstant(tok), "token %q", tok)
			got, err := s.Decode(tok, cat)
			require.NoError(t, err)
			assert.Equal(t, n, got)
		}
	}
	assert.Equal(t, 6, s.Len(Activity))
}

func TestEncodeIsIdempotentPerCategory(t *testing.T) {
	s := NewSession(true)
	a := s.Encode("Pay", Activity)
	assert.Equal(t, a, s.Encode("Pay", Activity))
	assert.Equal(t, "a0", a)
	assert.Equal(t, "v0", s.Encode("Pay", Value))
	assert.Equal(t, "a1", s.Encode("Ship", Activity))
}

func TestDecodeUnknownToken(t *testing.T) {
	s := NewSession(true)
	s.Encode("Pay", Activity)
	_, err := s.Decode("a7", Activity)
	var de *DecodeError
	require.ErrorAs(t, err, &de)
	assert.Equal(t, Activity, de.Category)

	// Tokens do not cross categories.
	_, err = s.Decode("a0", Value)
	assert.Error(t, err)
}

func TestSymbolWithoutEncoding(t *testing.T) {
	s := NewSession(false)
	assert.Equal(t, "pay", s.Symbol("pay", Activity))
	assert.Equal(t, `"Pay"`, s.Symbol("Pay", Activity))
	assert.Equal(t, `"pay invoice"`, s.Symbol("pay invoice", Activity))
	assert.Zero(t, s.Len(Activity))

	name, err := s.Resolve(`"Pay"`, Activity)
	require.NoError(t, err)
	assert.Equal(t, "Pay", name)
	name, err = s.Resolve("pay", Activity)
	require.NoError(t, err)
	assert.Equal(t, "pay", name)
}

func TestIsConstant(t *testing.T) {
	tests := map[string]bool{
		"a":      true,
		"a_b1":   true,
		"_x":     true,
		"x'":     true,
		"A":      false,
		"1a":     false,
		"a b":    false,
		"a:b":    false,
		"":       false,
		"__":     false,
		"not":    false,
		"grüße":  false,
		"v12345": true,
	}
	for in, want := range tests {
		assert.Equal(t, want, IsConstant(in), in)
	}
}

func TestConcurrentEncode(t *testing.T) {
	s := NewSession(true)
	var wg sync.WaitGroup
	for w := 0; w < 8; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 100; i++ {
				s.Encode(fmt.Sprintf("act-%d", i), Activity)
			}
		}()
	}
	wg.Wait()

	require.Equal(t, 100, s.Len(Activity))
	seen := make(map[string]bool)
	for _, e := range s.Snapshot() {
		assert.False(t, seen[e.Token], "token %s issued twice", e.Token)
		seen[e.Token] = true
	}
}

func TestMergeIsOrderIndependent(t *testing.T) {
	w1 := NewSession(true)
	w1.Encode("b", Activity)
	w1.Encode("a", Activity)
	w2 := NewSession(true)
	w2.Encode("c", Activity)
	w2.Encode("a", Activity)
	w2.Encode("x", Attribute)

	left := NewSession(true)
	left.Merge(w1, w2)
	right := NewSession(true)
	right.Merge(w2, w1)
	assert.Equal(t, left.Snapshot(), right.Snapshot())

	tok, err := left.Decode("a0", Activity)
	require.NoError(t, err)
	assert.Equal(t, "a", tok)
	assert.Equal(t, 3, left.Len(Activity))
	assert.Equal(t, 1, left.Len(Attribute))

	// Known names keep their tokens.
	left.Merge(w1)
	assert.Equal(t, right.Snapshot(), left.Snapshot())
}
