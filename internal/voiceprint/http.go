package voiceprint

import (
	"context"

	"github.com/hyperjump/koe/internal/apperr"
	"github.com/hyperjump/koe/internal/sidecar"
)

const defaultEmbedURL = "http://localhost:8389"

// HTTPModel calls a sidecar that runs a speaker embedding model over the whole file
// (pyannote/embedding with window="whole" or similar).
//
//	POST /embed  multipart "audio"  ->  {"embedding": [..], "error": ""}
type HTTPModel struct {
	client *sidecar.Client
}

// NewHTTPModel creates a sidecar-backed model.
func NewHTTPModel(cfg sidecar.Config) *HTTPModel {
	return &HTTPModel{client: sidecar.New("voice-embedding", defaultEmbedURL, cfg)}
}

// Name returns the provider name.
func (m *HTTPModel) Name() string { return "http" }

// IsAvailable checks if the sidecar is reachable.
func (m *HTTPModel) IsAvailable(ctx context.Context) bool {
	return m.client.IsAvailable(ctx)
}

type embedResponse struct {
	Embedding []float32 `json:"embedding"`
	Error     string    `json:"error,omitempty"`
}

// Embed implements Model.
func (m *HTTPModel) Embed(ctx context.Context, audioPath string) ([]float32, error) {
	var resp embedResponse
	if err := m.client.PostAudio(ctx, "/embed", audioPath, nil, &resp); err != nil {
		return nil, err
	}
	if resp.Error != "" {
		return nil, apperr.New(apperr.ErrEmbedding, "voice embedding: %s", resp.Error)
	}
	if err := Validate(resp.Embedding); err != nil {
		return nil, err
	}
	return resp.Embedding, nil
}
