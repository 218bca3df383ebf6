// Package report prints the statistics table and the optional text
// sections.
package report

import (
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/mattn/go-runewidth"
	"gopkg.in/yaml.v3"

	"llmtokens/internal/stats"
)

const sectionWidth = 60

var headers = []string{"model", "mode", "lines", "words", "chars", "bytes", "tokens"}

// ModelDetail carries the template and rendered text of one model. Either
// may be empty.
type ModelDetail struct {
	Model    string
	Template string
	Rendered string
}

type Report struct {
	Rows     []stats.Row
	Models   []ModelDetail
	Original string

	ShowOriginal bool
	ShowTemplate bool
	ShowRendered bool
}

type Format string

const (
	FormatTable Format = "table"
	FormatJSON  Format = "json"
	FormatYAML  Format = "yaml"
)

func ParseFormat(value string) (Format, error) {
	switch Format(strings.ToLower(strings.TrimSpace(value))) {
	case FormatTable:
		return FormatTable, nil
	case FormatJSON:
		return FormatJSON, nil
	case FormatYAML:
		return FormatYAML, nil
	default:
		return "", fmt.Errorf("invalid format %q (choose from table, json, yaml)", value)
	}
}

func Write(w io.Writer, format Format, r Report) error {
	switch format {
	case FormatJSON:
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(r.document())
	case FormatYAML:
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(r.document()); err != nil {
			return err
		}
		return enc.Close()
	default:
		return WriteText(w, r)
	}
}

// WriteText prints the STATS table, then ORIGINAL TEXT, then per model
// CHAT TEMPLATE and RENDERED TEXT sections when requested and non-empty.
func WriteText(w io.Writer, r Report) error {
	section(w, "STATS")
	Table(w, r.Rows)

	if r.ShowOriginal {
		section(w, "ORIGINAL TEXT")
		fmt.Fprintln(w, r.Original)
	}

	for _, m := range r.Models {
		if r.ShowTemplate && m.Template != "" {
			section(w, "CHAT TEMPLATE: "+m.Model)
			fmt.Fprintln(w, m.Template)
		}
		if r.ShowRendered && m.Rendered != "" {
			section(w, "RENDERED TEXT: "+m.Model)
			fmt.Fprintln(w, m.Rendered)
		}
	}
	return nil
}

// Table prints rows right-aligned under a header; each column is as wide
// as its widest cell or header.
func Table(w io.Writer, rows []stats.Row) {
	cells := make([][]string, len(rows))
	for i, row := range rows {
		cells[i] = []string{
			row.Model,
			row.Mode,
			strconv.Itoa(row.Lines),
			strconv.Itoa(row.Words),
			strconv.Itoa(row.Chars),
			strconv.Itoa(row.Bytes),
			strconv.Itoa(row.Tokens),
		}
	}

	widths := make([]int, len(headers))
	for i, h := range headers {
		widths[i] = runewidth.StringWidth(h)
	}
	for _, line := range cells {
		for i, cell := range line {
			widths[i] = max(widths[i], runewidth.StringWidth(cell))
		}
	}

	header := joinRight(headers, widths)
	fmt.Fprintln(w, header)
	fmt.Fprintln(w, strings.Repeat("-", runewidth.StringWidth(header)))
	for _, line := range cells {
		fmt.Fprintln(w, joinRight(line, widths))
	}
}

func joinRight(cells []string, widths []int) string {
	padded := make([]string, len(cells))
	for i, cell := range cells {
		padded[i] = runewidth.FillLeft(cell, widths[i])
	}
	return strings.Join(padded, "  ")
}

func section(w io.Writer, title string) {
	rule := strings.Repeat("=", sectionWidth)
	fmt.Fprintln(w)
	fmt.Fprintln(w, rule)
	fmt.Fprintln(w, lipgloss.PlaceHorizontal(sectionWidth, lipgloss.Center, title))
	fmt.Fprintln(w, rule)
}

type document struct {
	Rows     []stats.Row     `json:"rows" yaml:"rows"`
	Original *string         `json:"original,omitempty" yaml:"original,omitempty"`
	Models   []modelDocument `json:"models,omitempty" yaml:"models,omitempty"`
}

type modelDocument struct {
	Model    string `json:"model" yaml:"model"`
	Template string `json:"template,omitempty" yaml:"template,omitempty"`
	Rendered string `json:"rendered,omitempty" yaml:"rendered,omitempty"`
}

func (r Report) document() document {
	doc := document{Rows: r.Rows}
	if doc.Rows == nil {
		doc.Rows = []stats.Row{}
	}
	if r.ShowOriginal {
		original := r.Original
		doc.Original = &original
	}
	if r.ShowTemplate || r.ShowRendered {
		for _, m := range r.Models {
			md := modelDocument{Model: m.Model}
			if r.ShowTemplate {
				md.Template = m.Template
			}
			if r.ShowRendered {
				md.Rendered = m.Rendered
			}
			doc.Models = append(doc.Models, md)
		}
	}
	return doc
}
