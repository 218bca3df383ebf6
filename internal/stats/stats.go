package stats

import (
	"strings"
	"unicode/utf8"
)

// Encoder turns text into token ids.
type Encoder interface {
	Encode(text string) []int
}

// Counts holds the text statistics for one piece of text.
type Counts struct {
	Lines  int `json:"lines" yaml:"lines"`
	Words  int `json:"words" yaml:"words"`
	Chars  int `json:"chars" yaml:"chars"`
	Bytes  int `json:"bytes" yaml:"bytes"`
	Tokens int `json:"tokens" yaml:"tokens"`
}

// Row is one line of the stats table.
type Row struct {
	Model string `json:"model" yaml:"model"`
	Mode  string `json:"mode" yaml:"mode"`
	Counts `yaml:",inline"`
}

// Compute counts newlines, whitespace separated words, runes, UTF-8 bytes
// and tokens. Lines is the number of '\n' characters.
func Compute(text string, enc Encoder) Counts {
	return Counts{
		Lines:  strings.Count(text, "\n"),
		Words:  len(strings.Fields(text)),
		Chars:  utf8.RuneCountInString(text),
		Bytes:  len(text),
		Tokens: len(enc.Encode(text)),
	}
}

func NewRow(model, mode string, c Counts) Row {
	return Row{Model: model, Mode: mode, Counts: c}
}
