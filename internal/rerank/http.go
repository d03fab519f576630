package rerank

import (
	"context"

	"github.com/hyperjump/koe/internal/apperr"
	"github.com/hyperjump/koe/internal/sidecar"
)

// DefaultHTTPURL is where the scoring sidecar listens by default.
const DefaultHTTPURL = "http://localhost:8391"

// HTTPScorer delegates scoring to a sidecar hosting a cross-encoder (POST /score).
type HTTPScorer struct {
	client *sidecar.Client
}

// NewHTTPScorer creates a scorer for the sidecar described by cfg.
func NewHTTPScorer(cfg sidecar.Config) *HTTPScorer {
	return &HTTPScorer{client: sidecar.New("rerank", DefaultHTTPURL, cfg)}
}

// Name implements Reranker.
func (h *HTTPScorer) Name() string { return "http" }

type scoreRequest struct {
	Query      string   `json:"query"`
	Candidates []string `json:"candidates"`
}

type scoreResponse struct {
	Scores []float64 `json:"scores"`
	Error  string    `json:"error,omitempty"`
}

// Score implements Reranker.
func (h *HTTPScorer) Score(ctx context.Context, query string, candidates []string) ([]float64, error) {
	if len(candidates) == 0 {
		return nil, nil
	}
	var resp scoreResponse
	if err := h.client.PostJSON(ctx, "/score", scoreRequest{Query: query, Candidates: candidates}, &resp); err != nil {
		return nil, err
	}
	if resp.Error != "" {
		return nil, apperr.New(apperr.ErrCapability, "rerank sidecar: %s", resp.Error)
	}
	if len(resp.Scores) != len(candidates) {
		return nil, apperr.New(apperr.ErrCapability, "rerank sidecar returned %d scores for %d candidates",
			len(resp.Scores), len(candidates))
	}
	return resp.Scores, nil
}
