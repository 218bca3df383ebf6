package stats

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

type wordEncoder struct{}

func (wordEncoder) Encode(text string) []int {
	fields := strings.Fields(text)
	ids := make([]int, len(fields))
	for i := range fields {
		ids[i] = i
	}
	return ids
}

func TestComputeHelloWorld(t *testing.T) {
	got := Compute("hello world", wordEncoder{})
	assert.Equal(t, Counts{Lines: 0, Words: 2, Chars: 11, Bytes: 11, Tokens: 2}, got)
}

func TestComputeCountsNewlinesNotLines(t *testing.T) {
	got := Compute("a\nb\n", wordEncoder{})
	assert.Equal(t, 2, got.Lines)

	got = Compute("no newline", wordEncoder{})
	assert.Equal(t, 0, got.Lines)
}

func TestComputeWordsSplitOnWhitespaceRuns(t *testing.T) {
	got := Compute("  one\t two \n\nthree  ", wordEncoder{})
	assert.Equal(t, 3, got.Words)
}

func TestComputeBytesAtLeastChars(t *testing.T) {
	inputs := []string{"", "plain ascii", "héllo", "日本語", "emoji 🌍", "mixed\n\tτεστ"}
	for _, in := range inputs {
		c := Compute(in, wordEncoder{})
		assert.GreaterOrEqual(t, c.Bytes, c.Chars, in)
	}

	ascii := Compute("plain ascii", wordEncoder{})
	assert.Equal(t, ascii.Chars, ascii.Bytes)

	uni := Compute("日本語", wordEncoder{})
	assert.Equal(t, 3, uni.Chars)
	assert.Equal(t, 9, uni.Bytes)
}

func TestNewRow(t *testing.T) {
	row := NewRow("cl100k_base", "raw", Counts{Words: 1})
	assert.Equal(t, "cl100k_base", row.Model)
	assert.Equal(t, "raw", row.Mode)
	assert.Equal(t, 1, row.Words)
}
