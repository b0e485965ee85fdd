package streaming

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestChunker_FlushesAtMinChunk(t *testing.T) {
	c := NewChunker(10)

	assert.Empty(t, c.Push("abcd"))
	assert.Empty(t, c.Push("efg"))
	assert.Equal(t, []string{"abcdefghij"}, c.Push("hij"))
	assert.Empty(t, c.Flush())
}

func TestChunker_FlushesAtBoundary(t *testing.T) {
	c := NewChunker(40)

	assert.Empty(t, c.Push("Row 3 is hot"))
	assert.Equal(t, []string{"Row 3 is hot. "}, c.Push(". Che"))
	assert.Equal(t, "Che", c.Flush())
}

func TestChunker_NewlineBoundary(t *testing.T) {
	c := NewChunker(40)

	got := c.Push("{\n  \"anomalies\": [\n  ")
	assert.Equal(t, []string{"{\n  \"anomalies\": [\n"}, got)
	assert.Equal(t, "  ", c.Flush())
}

func TestChunker_NeverSingleCharacters(t *testing.T) {
	c := NewChunker(8)
	text := "a.b\nc. d! e? f\ng"
	var pieces []string
	for _, r := range text {
		pieces = append(pieces, c.Push(string(r))...)
	}
	if rest := c.Flush(); rest != "" {
		pieces = append(pieces, rest)
	}

	assert.Equal(t, text, strings.Join(pieces, ""))
	for _, p := range pieces[:len(pieces)-1] {
		assert.GreaterOrEqual(t, len(p), 2, "piece %q too small", p)
	}
}

func TestChunker_DecimalIsNotBoundary(t *testing.T) {
	assert.Equal(t, 0, lastBoundary("value 3.5"))
	assert.Equal(t, len("done. "), lastBoundary("done. "))
}

func TestNewChunker_Default(t *testing.T) {
	c := NewChunker(0)
	assert.Equal(t, DefaultMinChunk, c.min)
}
