// Package chat turns input text into a conversation and renders it through
// a model's chat template.
package chat

import (
	"encoding/json"
	"errors"
	"fmt"

	"llmtokens/internal/diag"
	"llmtokens/internal/mode"
)

var ErrNotJSON = errors.New("input is not valid JSON")

// Message is a single role/content turn.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

func (m Message) value() map[string]any {
	return map[string]any{"role": m.Role, "content": m.Content}
}

// Conversation is the decoded message list handed to a template. It keeps
// the decoded JSON as-is so templates can read fields beyond role/content.
type Conversation struct {
	value any
}

// Wrap builds a conversation holding text as a single user message.
func Wrap(text string) Conversation {
	return Conversation{value: []any{Message{Role: "user", Content: text}.value()}}
}

// Value is what templates see as `messages`.
func (c Conversation) Value() any {
	return c.value
}

// Messages returns the turns that are objects, with non-string content
// rendered as compact JSON.
func (c Conversation) Messages() []Message {
	items, ok := c.value.([]any)
	if !ok {
		return nil
	}
	out := make([]Message, 0, len(items))
	for _, item := range items {
		obj, ok := item.(map[string]any)
		if !ok {
			continue
		}
		out = append(out, Message{Role: stringify(obj["role"]), Content: stringify(obj["content"])})
	}
	return out
}

func stringify(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	default:
		data, err := json.Marshal(t)
		if err != nil {
			return fmt.Sprint(t)
		}
		return string(data)
	}
}

// Parse converts input text into a conversation under the given policy.
// wrapped reports whether text was used as a single user message. Only
// WrapNo can fail, and only when text is not valid JSON.
func Parse(text string, policy mode.WrapPolicy, verbose bool) (conv *Conversation, wrapped bool, err error) {
	switch policy {
	case mode.WrapYes:
		c := Wrap(text)
		return &c, true, nil
	case mode.WrapNo:
		var value any
		if err := json.Unmarshal([]byte(text), &value); err != nil {
			return nil, false, &ParseError{cause: fmt.Errorf("%w: %v", ErrNotJSON, err), verbose: verbose}
		}
		return &Conversation{value: value}, false, nil
	default:
		var value any
		if err := json.Unmarshal([]byte(text), &value); err == nil {
			if _, ok := value.([]any); ok {
				return &Conversation{value: value}, false, nil
			}
		}
		c := Wrap(text)
		return &c, true, nil
	}
}

// ParseError is returned when input that must be JSON is not.
type ParseError struct {
	cause   error
	verbose bool
}

func (e *ParseError) Error() string {
	msg := "Input is not valid JSON, falling back to raw"
	if e.verbose {
		msg += "\n" + diag.Detail(e.cause)
	}
	return msg
}

func (e *ParseError) Unwrap() error {
	return e.cause
}
