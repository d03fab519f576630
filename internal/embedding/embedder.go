// Package embedding turns text into vectors: ONNX Runtime, OpenAI-compatible APIs,
// a deterministic mock for tests, and an LRU cache in front of any of them.
package embedding

import (
	"context"
	"fmt"
	"strings"

	"github.com/hyperjump/koe/pkg/utils"
)

// Embedder produces vector embeddings for text.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
	Dimensions() int
	Close() error
}

// New builds the embedder named by provider: "onnx", "openai" or "mock".
func New(provider string, opts Options) (Embedder, error) {
	switch strings.ToLower(provider) {
	case "onnx":
		e, err := NewONNXEmbedder(opts.ModelPath, opts.Dimensions, opts.MaxTokens, opts.CacheSize)
		if err != nil {
			return nil, err
		}
		return e, nil
	case "openai":
		return NewCachedEmbedder(NewOpenAIEmbedder(opts.APIKey, opts.BaseURL, opts.Model, opts.Dimensions), opts.CacheSize), nil
	case "mock", "":
		return NewMockEmbedder(opts.Dimensions), nil
	default:
		return nil, fmt.Errorf("unknown embedding provider: %s (supported: onnx, openai, mock)", provider)
	}
}

// Options configures New. Fields irrelevant to a provider are ignored.
type Options struct {
	ModelPath  string
	Dimensions int
	MaxTokens  int
	CacheSize  int
	APIKey     string
	BaseURL    string
	Model      string
}

// NormalizeL2Slice normalizes the slice in place to unit L2 norm.
func NormalizeL2Slice(x []float32) {
	utils.NormalizeL2(x)
}
