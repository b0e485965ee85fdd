package streaming

import (
	"strings"
	"unicode/utf8"
)

// DefaultMinChunk is the flush size used when none is configured
const DefaultMinChunk = 40

// Chunker groups stream fragments into bounded pieces for token events.
// A piece is released once MinChunk characters are pending, or earlier at
// the latest sentence or line boundary once the piece is long enough to be
// worth an event.
type Chunker struct {
	min     int
	pending strings.Builder
}

// NewChunker creates a chunker. Non-positive sizes use DefaultMinChunk.
func NewChunker(minChunk int) *Chunker {
	if minChunk <= 0 {
		minChunk = DefaultMinChunk
	}
	return &Chunker{min: minChunk}
}

// Push adds a fragment and returns any pieces ready to emit
func (c *Chunker) Push(fragment string) []string {
	if fragment == "" {
		return nil
	}
	c.pending.WriteString(fragment)
	text := c.pending.String()

	if utf8.RuneCountInString(text) >= c.min {
		c.pending.Reset()
		return []string{text}
	}

	cut := lastBoundary(text)
	if cut < c.minBoundary() {
		return nil
	}
	c.pending.Reset()
	c.pending.WriteString(text[cut:])
	return []string{text[:cut]}
}

// Flush returns whatever is still pending
func (c *Chunker) Flush() string {
	text := c.pending.String()
	c.pending.Reset()
	return text
}

// minBoundary is the shortest piece released early at a boundary
func (c *Chunker) minBoundary() int {
	n := c.min / 4
	if n < 2 {
		n = 2
	}
	return n
}

// lastBoundary returns the byte offset just past the latest newline or
// sentence end followed by whitespace, or 0 if there is none.
func lastBoundary(text string) int {
	best := 0
	if i := strings.LastIndexByte(text, '\n'); i >= 0 {
		best = i + 1
	}
	for i := len(text) - 2; i >= best; i-- {
		switch text[i] {
		case '.', '!', '?':
			if next := text[i+1]; next == ' ' || next == '\t' {
				return i + 2
			}
		}
	}
	return best
}
