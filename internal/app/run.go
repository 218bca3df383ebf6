package app

import (
	"context"
	"fmt"
	"io"
	"sort"

	"go.uber.org/zap"

	"llmtokens/internal/chat"
	"llmtokens/internal/config"
	"llmtokens/internal/logger"
	"llmtokens/internal/mode"
	"llmtokens/internal/report"
	"llmtokens/internal/stats"
	"llmtokens/internal/tokenizer"
)

type Options struct {
	Models       []string
	Mode         mode.Mode
	Wrap         mode.WrapPolicy
	Format       report.Format
	File         string
	ShowOriginal bool
	ShowTemplate bool
	ShowRendered bool
	Verbose      bool
	Config       config.Config
}

type tokenizerResolver interface {
	Resolve(ctx context.Context, model string) (*tokenizer.Tokenizer, error)
}

type runner struct {
	resolver  tokenizerResolver
	templates chat.Fetcher
	out       io.Writer
	errOut    io.Writer
}

type runResult struct {
	Rows   []stats.Row
	Models []report.ModelDetail
}

// run parses messages once, then processes every model in sorted order.
// Models without a tokenizer are skipped with a warning.
func (r *runner) run(ctx context.Context, text string, opts Options) runResult {
	models := append([]string(nil), opts.Models...)
	sort.Strings(models)

	effective := opts.Mode
	var conv *chat.Conversation
	if opts.Mode.NeedsMessages() {
		parsed, wrapped, err := chat.Parse(text, opts.Wrap, opts.Verbose)
		switch {
		case err != nil:
			r.warnf("%v", err)
		case opts.Verbose && opts.Wrap == mode.WrapAuto:
			if wrapped {
				fmt.Fprintln(r.out, "Input: wrapped as user message")
			} else {
				fmt.Fprintln(r.out, "Input: parsed as JSON messages")
			}
		}
		conv = parsed
		effective = mode.Effective(opts.Mode, conv != nil)
	}

	var result runResult
	for _, model := range models {
		rows, detail, ok := r.processModel(ctx, model, text, effective, conv, opts.Verbose)
		if !ok {
			continue
		}
		result.Rows = append(result.Rows, rows...)
		result.Models = append(result.Models, detail)
	}
	return result
}

func (r *runner) processModel(ctx context.Context, model, text string, m mode.Mode, conv *chat.Conversation, verbose bool) ([]stats.Row, report.ModelDetail, bool) {
	detail := report.ModelDetail{Model: model}

	tok, err := r.resolver.Resolve(ctx, model)
	if err != nil {
		r.warnf("%s: %v", model, err)
		return nil, detail, false
	}

	if m == mode.Raw {
		return []stats.Row{stats.NewRow(model, string(mode.Raw), stats.Compute(text, tok))}, detail, true
	}

	outcome, rendered, template, renderErr := r.applyTemplate(ctx, model, conv, verbose)
	plan := mode.Decide(m, outcome)
	logger.L(ctx).Debug("mode plan",
		zap.String("model", model),
		zap.String("mode", string(m)),
		zap.Bool("raw", plan.Raw),
		zap.Bool("template", plan.Template))

	switch plan.Warn {
	case mode.WarnNoTemplateFallback:
		r.warnf("%s has no chat template, falling back to raw", model)
	case mode.WarnNoTemplate:
		r.warnf("%s has no chat template", model)
	case mode.WarnRenderFailed:
		r.warnf("%s template failed to render: %v", model, renderErr)
	}

	var rows []stats.Row
	if plan.Raw {
		rows = append(rows, stats.NewRow(model, string(mode.Raw), stats.Compute(text, tok)))
	}
	if plan.Template {
		rows = append(rows, stats.NewRow(model, string(mode.Template), stats.Compute(rendered, tok)))
		detail.Template = template
		detail.Rendered = rendered
	}
	return rows, detail, true
}

func (r *runner) applyTemplate(ctx context.Context, model string, conv *chat.Conversation, verbose bool) (outcome mode.Outcome, rendered, template string, err error) {
	if conv == nil {
		return mode.NoMessages, "", "", nil
	}
	template, ok := chat.ResolveTemplate(ctx, r.templates, model)
	if !ok {
		return mode.NoTemplate, "", "", nil
	}
	rendered, err = chat.Render(template, *conv, verbose)
	if err != nil {
		return mode.RenderFailed, "", template, err
	}
	return mode.Rendered, rendered, template, nil
}

func (r *runner) warnf(format string, args ...any) {
	fmt.Fprintf(r.errOut, "Warning: "+format+"\n", args...)
}
