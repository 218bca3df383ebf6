package chat

import (
	"fmt"
	"strings"

	"github.com/nikolalohinski/gonja/v2"
	"github.com/nikolalohinski/gonja/v2/exec"

	"llmtokens/internal/diag"
)

// RenderError wraps a template that failed to parse or execute.
type RenderError struct {
	Err     error
	verbose bool
}

func (e *RenderError) Error() string {
	return diag.Message("", e.Err, e.verbose)
}

func (e *RenderError) Unwrap() error {
	return e.Err
}

// Render applies a chat template to a conversation. The template sees
// messages, add_generation_prompt=true and empty bos_token/eos_token.
// A single trailing newline of the template source is dropped, as jinja
// does without keep_trailing_newline. Engine panics are returned as errors.
func Render(template string, conv Conversation, verbose bool) (rendered string, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			rendered = ""
			err = &RenderError{Err: fmt.Errorf("template panicked: %v", rec), verbose: verbose}
		}
	}()

	tpl, err := gonja.FromString(trimTrailingNewline(template))
	if err != nil {
		return "", &RenderError{Err: err, verbose: verbose}
	}

	data := exec.NewContext(map[string]interface{}{
		"messages":              conv.Value(),
		"add_generation_prompt": true,
		"bos_token":             "",
		"eos_token":             "",
	})

	var out strings.Builder
	if err := tpl.Execute(&out, data); err != nil {
		return "", &RenderError{Err: err, verbose: verbose}
	}
	return out.String(), nil
}

func trimTrailingNewline(source string) string {
	if strings.HasSuffix(source, "\r\n") {
		return source[:len(source)-2]
	}
	return strings.TrimSuffix(source, "\n")
}
