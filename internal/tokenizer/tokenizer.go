// Package tokenizer resolves a model identifier to one of two tokenizer
// backends: a named tiktoken encoding, or a tokenizer.json fetched from
// the model hub.
package tokenizer

import (
	"context"
	"fmt"

	"github.com/pkoukk/tiktoken-go"
	tiktoken_loader "github.com/pkoukk/tiktoken-go-loader"
	"go.uber.org/zap"

	"llmtokens/internal/diag"
	"llmtokens/internal/logger"
)

// TokenizerFile is the hub artifact holding a serialized tokenizer.
const TokenizerFile = "tokenizer.json"

func init() {
	tiktoken.SetBpeLoader(tiktoken_loader.NewOfflineLoader())
}

type Backend int

const (
	Tiktoken Backend = iota + 1
	Hub
)

func (b Backend) String() string {
	switch b {
	case Tiktoken:
		return "tiktoken"
	case Hub:
		return "hub"
	default:
		return "unknown"
	}
}

type encodeFunc func(text string) ([]int, error)

type Tokenizer struct {
	name    string
	backend Backend
	encode  encodeFunc
	log     *zap.Logger
}

func (t *Tokenizer) Name() string {
	return t.name
}

func (t *Tokenizer) Backend() Backend {
	return t.backend
}

// Encode returns nil when encoding fails; the failure is logged at debug.
// Hub tokenizers still run on empty text since their post-processor may
// add special tokens.
func (t *Tokenizer) Encode(text string) []int {
	if text == "" && t.backend == Tiktoken {
		return nil
	}
	ids, err := t.encode(text)
	if err != nil {
		t.logger().Debug("encode failed", zap.Error(err))
		return nil
	}
	return ids
}

func (t *Tokenizer) logger() *zap.Logger {
	if t.log == nil {
		return zap.NewNop()
	}
	return t.log
}

func (t *Tokenizer) Count(text string) int {
	return len(t.Encode(text))
}

// Fetcher returns a local path for a named file of a hub repository.
type Fetcher interface {
	Fetch(ctx context.Context, repo, filename string) (string, error)
}

type Resolver struct {
	fetcher  Fetcher
	loadFile func(path string) (encodeFunc, error)
	verbose  bool
}

func NewResolver(fetcher Fetcher, verbose bool) *Resolver {
	return &Resolver{
		fetcher:  fetcher,
		loadFile: loadTokenizerFile,
		verbose:  verbose,
	}
}

// Resolve tries the tiktoken encoding registry first and the hub second.
// The returned error is ready to print; verbose adds the wrapped chain.
func (r *Resolver) Resolve(ctx context.Context, model string) (*Tokenizer, error) {
	log := logger.L(ctx).With(zap.String("model", model))

	if enc, err := tiktoken.GetEncoding(model); err == nil {
		log.Debug("tokenizer resolved", zap.Stringer("backend", Tiktoken))
		return &Tokenizer{
			name:    model,
			backend: Tiktoken,
			encode: func(text string) ([]int, error) {
				return enc.Encode(text, nil, nil), nil
			},
			log: log,
		}, nil
	}

	encode, err := r.loadFromHub(ctx, model)
	if err != nil {
		return nil, &LoadError{Model: model, Err: err, verbose: r.verbose}
	}
	log.Debug("tokenizer resolved", zap.Stringer("backend", Hub))
	return &Tokenizer{name: model, backend: Hub, encode: encode, log: log}, nil
}

// LoadError reports that neither backend could supply a tokenizer.
type LoadError struct {
	Model   string
	Err     error
	verbose bool
}

func (e *LoadError) Error() string {
	return diag.Message("Failed to load tokenizer: ", e.Err, e.verbose)
}

func (e *LoadError) Unwrap() error {
	return e.Err
}

func (r *Resolver) loadFromHub(ctx context.Context, model string) (encodeFunc, error) {
	if r.fetcher == nil {
		return nil, fmt.Errorf("%s is not a tiktoken encoding and no hub is configured", model)
	}
	path, err := r.fetcher.Fetch(ctx, model, TokenizerFile)
	if err != nil {
		return nil, err
	}
	encode, err := r.loadFile(path)
	if err != nil {
		return nil, fmt.Errorf("load %s: %w", path, err)
	}
	return encode, nil
}
