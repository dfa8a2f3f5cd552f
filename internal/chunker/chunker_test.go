package chunker

import (
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ashureev/contextqa/internal/domain"
)

// stitch rebuilds the source from chunk offsets, failing on gaps.
func stitch(t *testing.T, chunks []domain.Chunk) string {
	t.Helper()
	var b strings.Builder
	covered := 0
	for i, c := range chunks {
		require.Equal(t, i, c.Index)
		require.LessOrEqual(t, c.Offset, covered, "gap before chunk %d", i)
		rs := []rune(c.Text)
		tail := covered - c.Offset
		if tail < len(rs) {
			b.WriteString(string(rs[tail:]))
			covered = c.Offset + len(rs)
		}
	}
	return b.String()
}

func sampleText() string {
	para := "The quick brown fox jumps over the lazy dog. It was a sunny day! Was it? " +
		"Nobody could tell for sure, but the fox kept running through the meadow while " +
		"the dog slept under the old oak tree near the river bank."
	return strings.Repeat(para+"\n\n", 6) + strings.Repeat("word ", 180) + strings.Repeat("x", 1300)
}

func TestSplitEmpty(t *testing.T) {
	s := New(DefaultSize, DefaultOverlap)
	assert.Empty(t, s.Split(""))
	assert.Empty(t, s.Split("  \n\t "))
}

func TestSplitShortTextIsSingleChunk(t *testing.T) {
	s := New(DefaultSize, DefaultOverlap)
	chunks := s.Split("The quick brown fox jumps.")
	require.Len(t, chunks, 1)
	assert.Equal(t, "The quick brown fox jumps.", chunks[0].Text)
	assert.Equal(t, 0, chunks[0].Offset)
}

func TestSplitDeterministic(t *testing.T) {
	text := sampleText()
	for _, p := range [][2]int{{500, 100}, {120, 30}, {64, 0}, {10, 9}} {
		s := New(p[0], p[1])
		assert.Equal(t, s.Split(text), s.Split(text), "size=%d overlap=%d", p[0], p[1])
	}
}

func TestSplitCoversInput(t *testing.T) {
	texts := []string{
		sampleText(),
		strings.Repeat("ünïcödé ✓ ", 300),
		"no-spaces-" + strings.Repeat("a", 2000),
	}
	for _, text := range texts {
		for _, p := range [][2]int{{500, 100}, {120, 30}, {64, 0}, {7, 3}} {
			s := New(p[0], p[1])
			chunks := s.Split(text)
			require.NotEmpty(t, chunks)
			assert.Equal(t, text, stitch(t, chunks), "size=%d overlap=%d", p[0], p[1])
			for _, c := range chunks {
				assert.LessOrEqual(t, utf8.RuneCountInString(c.Text), s.Size())
			}
		}
	}
}

func TestSplitPrefersParagraphBoundaries(t *testing.T) {
	para := strings.Repeat("a", 150) + ". " + strings.Repeat("b", 100)
	text := para + "\n\n" + para + "\n\n" + para
	chunks := New(500, 100).Split(text)
	require.Greater(t, len(chunks), 1)
	assert.True(t, strings.HasSuffix(chunks[0].Text, "\n\n"), "first chunk %q", chunks[0].Text)
}

func TestSplitOverlapsNeighbours(t *testing.T) {
	text := strings.Repeat("alpha beta gamma delta ", 100)
	chunks := New(200, 50).Split(text)
	require.Greater(t, len(chunks), 2)
	for i := 1; i < len(chunks); i++ {
		prevEnd := chunks[i-1].Offset + utf8.RuneCountInString(chunks[i-1].Text)
		assert.Less(t, chunks[i].Offset, prevEnd, "chunk %d should overlap its predecessor", i)
		assert.Greater(t, chunks[i].Offset, chunks[i-1].Offset)
	}
}

func TestNewNormalizesParameters(t *testing.T) {
	s := New(0, -5)
	assert.Equal(t, DefaultSize, s.Size())
	assert.Equal(t, 0, s.Overlap())

	s = New(100, 100)
	assert.Equal(t, 50, s.Overlap())
}
