// Package voiceprint turns speech audio into fixed-length speaker embeddings.
package voiceprint

import (
	"context"
	"fmt"

	"github.com/hyperjump/koe/internal/apperr"
	"github.com/hyperjump/koe/internal/sidecar"
	"github.com/hyperjump/koe/pkg/utils"
)

// Model embeds the speech in an audio file. Implementations return a vector of constant
// dimension; zero, NaN or empty results are reported as apperr.ErrEmbedding.
type Model interface {
	Name() string
	Embed(ctx context.Context, audioPath string) ([]float32, error)
}

// New builds the model named by provider: "http" (pyannote-style sidecar) or "spectral".
func New(provider string, cfg sidecar.Config) (Model, error) {
	switch provider {
	case "http", "pyannote":
		return NewHTTPModel(cfg), nil
	case "spectral", "":
		return NewSpectralModel(), nil
	default:
		return nil, fmt.Errorf("unknown voice embedding provider: %s (supported: http, spectral)", provider)
	}
}

// Validate rejects vectors that cannot be indexed.
func Validate(v []float32) error {
	if len(v) == 0 {
		return apperr.New(apperr.ErrEmbedding, "empty voice embedding")
	}
	if utils.HasNaN(v) {
		return apperr.New(apperr.ErrEmbedding, "voice embedding has NaN or Inf components")
	}
	if utils.IsZeroVector(v) {
		return apperr.New(apperr.ErrEmbedding, "voice embedding is all zeros (silent or empty audio)")
	}
	return nil
}
