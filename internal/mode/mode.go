// Package mode holds the processing modes and the per-model decision table
// that chooses which statistics rows a model contributes.
package mode

import (
	"fmt"
	"strings"
)

type Mode string

const (
	Raw      Mode = "raw"
	Template Mode = "template"
	Either   Mode = "either"
	Both     Mode = "both"
	BothAuto Mode = "both-auto"
)

// Modes lists every mode in the order they appear in help text.
var Modes = []Mode{Raw, Template, Either, Both, BothAuto}

func ParseMode(value string) (Mode, error) {
	v := Mode(strings.ToLower(strings.TrimSpace(value)))
	for _, m := range Modes {
		if v == m {
			return m, nil
		}
	}
	return "", fmt.Errorf("invalid mode %q (choose from %s)", value, joinModes())
}

// NeedsMessages reports whether the mode ever renders a template.
func (m Mode) NeedsMessages() bool {
	return m != Raw
}

func joinModes() string {
	names := make([]string, len(Modes))
	for i, m := range Modes {
		names[i] = string(m)
	}
	return strings.Join(names, ", ")
}

type WrapPolicy string

const (
	WrapYes  WrapPolicy = "yes"
	WrapNo   WrapPolicy = "no"
	WrapAuto WrapPolicy = "auto"
)

func ParseWrapPolicy(value string) (WrapPolicy, error) {
	switch WrapPolicy(strings.ToLower(strings.TrimSpace(value))) {
	case WrapYes:
		return WrapYes, nil
	case WrapNo:
		return WrapNo, nil
	case WrapAuto:
		return WrapAuto, nil
	default:
		return "", fmt.Errorf("invalid wrap-input %q (choose from yes, no, auto)", value)
	}
}
