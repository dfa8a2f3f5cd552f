// Package chunker splits source text into overlapping bounded chunks.
package chunker

import (
	"strings"
	"unicode"

	"github.com/ashureev/contextqa/internal/domain"
)

const (
	DefaultSize    = 500
	DefaultOverlap = 100
)

// boundaries lists split points from most to least preferred.
// Separators in the same group are equally preferred.
var boundaries = [][][]rune{
	{[]rune("\n\n")},
	{[]rune("\n")},
	{[]rune(". "), []rune("! "), []rune("? ")},
	{[]rune(" ")},
}

// Splitter is a recursive character splitter. Sizes are counted in runes.
type Splitter struct {
	size    int
	overlap int
}

// New creates a Splitter. Non-positive size falls back to DefaultSize and an
// overlap that does not fit inside a chunk is halved down to size/2.
func New(size, overlap int) *Splitter {
	if size <= 0 {
		size = DefaultSize
	}
	if overlap < 0 {
		overlap = 0
	}
	if overlap >= size {
		overlap = size / 2
	}
	return &Splitter{size: size, overlap: overlap}
}

// Size returns the maximum chunk length.
func (s *Splitter) Size() int { return s.size }

// Overlap returns the target overlap between neighbouring chunks.
func (s *Splitter) Overlap() int { return s.overlap }

// Split returns the ordered chunks of text. Every chunk is a substring of
// text, the first starts at offset 0, the last ends at the end of text and
// each chunk starts no later than the previous one ends.
func (s *Splitter) Split(text string) []domain.Chunk {
	if strings.TrimSpace(text) == "" {
		return nil
	}

	r := []rune(text)
	n := len(r)
	var chunks []domain.Chunk
	start := 0
	for {
		end := n
		if n-start > s.size {
			end = s.breakPoint(r, start)
		}
		chunks = append(chunks, domain.Chunk{
			Text:   string(r[start:end]),
			Index:  len(chunks),
			Offset: start,
		})
		if end >= n {
			return chunks
		}
		start = s.nextStart(r, start, end)
	}
}

// breakPoint picks the end of the chunk starting at start. The chunk must
// extend past the overlap window so the following chunk always advances.
func (s *Splitter) breakPoint(r []rune, start int) int {
	limit := start + s.size
	lo := start + s.overlap + 1
	for _, group := range boundaries {
		best := -1
		for _, sep := range group {
			if p := lastBoundary(r, lo, limit, sep); p > best {
				best = p
			}
		}
		if best != -1 {
			return best
		}
	}
	return limit
}

// nextStart backs up from end by the overlap and snaps forward to the first
// word start inside the overlap window.
func (s *Splitter) nextStart(r []rune, start, end int) int {
	next := end - s.overlap
	if next <= start {
		return end
	}
	for i := next; i < end; i++ {
		if unicode.IsSpace(r[i-1]) && !unicode.IsSpace(r[i]) {
			return i
		}
	}
	return next
}

// lastBoundary returns the largest p in [lo, hi] where sep ends at p, or -1.
func lastBoundary(r []rune, lo, hi int, sep []rune) int {
	for p := hi; p >= lo && p >= len(sep); p-- {
		if equalRunes(r[p-len(sep):p], sep) {
			return p
		}
	}
	return -1
}

func equalRunes(a, b []rune) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
