package hash

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOfIsDeterministic(t *testing.T) {
	ns := NamespaceFor("/workspace/a")
	data := []byte("pub fn foo() -> u32 { 1 }")

	h1 := Of(ns, data)
	h2 := Of(ns, data)

	assert.Equal(t, h1, h2)
	assert.False(t, h1.IsZero())
}

func TestOfDiffersByNamespace(t *testing.T) {
	data := []byte("identical bytes")
	h1 := Of(NamespaceFor("/workspace/a"), data)
	h2 := Of(NamespaceFor("/workspace/b"), data)
	assert.NotEqual(t, h1, h2)
}

func TestOfDiffersByContent(t *testing.T) {
	ns := DefaultNamespace
	h1 := Of(ns, []byte("one"))
	h2 := Of(ns, []byte("two"))
	assert.NotEqual(t, h1, h2)
}

func TestStringRoundTrip(t *testing.T) {
	ns := NamespaceFor("/workspace/a")
	h := Of(ns, []byte("round trip"))

	parsed, err := Parse(h.String())
	require.NoError(t, err)
	assert.Equal(t, h, parsed)
}

func TestSumFileMatchesOf(t *testing.T) {
	ns := NamespaceFor("/workspace/a")
	data := []byte("matching content across read paths")

	want := Of(ns, data)
	got, err := SumFile(ns, bytes.NewReader(data))
	require.NoError(t, err)

	assert.Equal(t, want, got)
}

func TestStreamerMatchesOf(t *testing.T) {
	ns := NamespaceFor("/workspace/a")
	data := []byte("streamed in two writes")

	want := Of(ns, data)

	s := NewStreamer(ns)
	_, err := s.Write(data[:10])
	require.NoError(t, err)
	_, err = s.Write(data[10:])
	require.NoError(t, err)

	assert.Equal(t, want, s.Sum())
}

func TestVersionAndVariantBits(t *testing.T) {
	ns := DefaultNamespace
	h := Of(ns, []byte("bits"))
	assert.Equal(t, byte(0x50), h[6]&0xf0, "version nibble must be 5")
	assert.Equal(t, byte(0x80), h[8]&0xc0, "RFC4122 variant bits must be set")
}
