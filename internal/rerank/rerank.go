// Package rerank scores (query, passage) pairs for the second retrieval stage.
package rerank

import (
	"context"
	"fmt"

	"github.com/hyperjump/koe/internal/sidecar"
)

// Reranker scores every candidate against query. Higher is more relevant; the result has
// one score per candidate, in candidate order.
type Reranker interface {
	Name() string
	Score(ctx context.Context, query string, candidates []string) ([]float64, error)
}

// Options configures the reranker built by New.
type Options struct {
	// ModelPath is the cross-encoder ONNX model (provider "onnx").
	ModelPath string
	// MaxTokens is the pair sequence length for the cross-encoder.
	MaxTokens int
	// Sidecar points at the scoring service (provider "http").
	Sidecar sidecar.Config
}

// New returns the reranker for provider: "lexical", "onnx", "http" or "none".
// "none" returns a nil Reranker, which keeps first-stage order.
func New(provider string, opts Options) (Reranker, error) {
	switch provider {
	case "lexical", "":
		return NewLexicalScorer(nil), nil
	case "onnx":
		ce, err := NewCrossEncoder(opts.ModelPath, opts.MaxTokens)
		if err != nil {
			return nil, err
		}
		return ce, nil
	case "http", "sidecar":
		return NewHTTPScorer(opts.Sidecar), nil
	case "none":
		return nil, nil
	default:
		return nil, fmt.Errorf("unknown rerank provider: %s (supported: lexical, onnx, http, none)", provider)
	}
}
