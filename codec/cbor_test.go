package codec

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type frame struct {
	Kind  string         `cbor:"kind"`
	Count int            `cbor:"count,omitempty"`
	Data  map[string]any `cbor:"data,omitempty"`
}

func TestDeterministic(t *testing.T) {
	a := map[string]int{"b": 2, "a": 1, "c": 3}
	first, err := Marshal(a)
	require.NoError(t, err)
	for i := 0; i < 10; i++ {
		again, err := Marshal(a)
		require.NoError(t, err)
		assert.Equal(t, first, again)
	}
}

func TestAnyDecodesToStringMaps(t *testing.T) {
	data, err := Marshal(map[string]any{"nested": map[string]any{"k": "v"}})
	require.NoError(t, err)

	var out any
	require.NoError(t, Unmarshal(data, &out))
	top, ok := out.(map[string]any)
	require.True(t, ok, "got %T", out)
	_, ok = top["nested"].(map[string]any)
	assert.True(t, ok)
}

func TestStream(t *testing.T) {
	var buf bytes.Buffer
	enc := NewEncoder(&buf)
	require.NoError(t, enc.Encode(frame{Kind: "a", Count: 1}))
	require.NoError(t, enc.Encode(frame{Kind: "b"}))

	dec := NewDecoder(&buf)
	var got []string
	for i := 0; i < 2; i++ {
		var f frame
		require.NoError(t, dec.Decode(&f))
		got = append(got, f.Kind)
	}
	assert.Equal(t, []string{"a", "b"}, got)
}

func TestDiagnose(t *testing.T) {
	data, err := Marshal(frame{Kind: "x"})
	require.NoError(t, err)
	diag, err := Diagnose(data)
	require.NoError(t, err)
	assert.Contains(t, diag, `"kind"`)
}
