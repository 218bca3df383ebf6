package chat

import (
	"context"
	"encoding/json"
	"os"

	"go.uber.org/zap"

	"llmtokens/internal/logger"
)

// ConfigFile is the hub artifact that carries a model's chat template.
const ConfigFile = "tokenizer_config.json"

// Fetcher returns a local path for a named file of a hub repository.
type Fetcher interface {
	Fetch(ctx context.Context, repo, filename string) (string, error)
}

type tokenizerConfig struct {
	ChatTemplate json.RawMessage `json:"chat_template"`
}

type namedTemplate struct {
	Name     string `json:"name"`
	Template string `json:"template"`
}

// ResolveTemplate returns the chat template for model. Every failure
// (fetch, parse, missing field) is reported as ok == false.
func ResolveTemplate(ctx context.Context, fetcher Fetcher, model string) (template string, ok bool) {
	log := logger.L(ctx).With(zap.String("model", model))
	if fetcher == nil {
		return "", false
	}

	path, err := fetcher.Fetch(ctx, model, ConfigFile)
	if err != nil {
		log.Debug("no chat template", zap.Error(err))
		return "", false
	}
	data, err := os.ReadFile(path)
	if err != nil {
		log.Debug("no chat template", zap.Error(err))
		return "", false
	}
	template, ok = extractTemplate(data)
	log.Debug("chat template lookup", zap.Bool("found", ok))
	return template, ok
}

// extractTemplate reads chat_template, which is either a string or a list
// of named templates. From a list, "default" wins, else the first entry.
func extractTemplate(data []byte) (string, bool) {
	var cfg tokenizerConfig
	if err := json.Unmarshal(data, &cfg); err != nil || len(cfg.ChatTemplate) == 0 {
		return "", false
	}

	var single string
	if err := json.Unmarshal(cfg.ChatTemplate, &single); err == nil {
		return single, single != ""
	}

	var named []namedTemplate
	if err := json.Unmarshal(cfg.ChatTemplate, &named); err != nil || len(named) == 0 {
		return "", false
	}
	for _, t := range named {
		if t.Name == "default" && t.Template != "" {
			return t.Template, true
		}
	}
	return named[0].Template, named[0].Template != ""
}
