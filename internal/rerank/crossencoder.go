package rerank

import (
	"context"
	"fmt"

	"github.com/hyperjump/koe/internal/apperr"
	"github.com/hyperjump/koe/internal/embedding"
)

// CrossEncoder scores pairs with a BERT-style cross-encoder exported to ONNX
// (e.g. a multilingual ms-marco MiniLM) whose "logits" output holds one relevance logit.
type CrossEncoder struct {
	session   *embedding.BERTSession
	tokenizer embedding.Tokenizer
}

// NewCrossEncoder loads the model at modelPath.
func NewCrossEncoder(modelPath string, maxTokens int) (*CrossEncoder, error) {
	if modelPath == "" {
		return nil, apperr.New(apperr.ErrCapability, "cross-encoder model path is empty")
	}
	session, err := embedding.NewBERTSession(modelPath, "logits", maxTokens, 1)
	if err != nil {
		return nil, apperr.Wrap(apperr.ErrCapability, err, "load cross-encoder")
	}
	return &CrossEncoder{session: session, tokenizer: &embedding.SimpleTokenizer{}}, nil
}

// Name implements Reranker.
func (c *CrossEncoder) Name() string { return "onnx" }

// Score implements Reranker.
func (c *CrossEncoder) Score(ctx context.Context, query string, candidates []string) ([]float64, error) {
	scores := make([]float64, len(candidates))
	for i, cand := range candidates {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		ids, mask, types := c.tokenizer.TokenizePair(query, cand, c.session.MaxTokens())
		out, err := c.session.Run(ids, mask, types)
		if err != nil {
			return nil, apperr.Wrap(apperr.ErrCapability, err, "cross-encoder candidate %d", i)
		}
		if len(out) == 0 {
			return nil, apperr.New(apperr.ErrCapability, "cross-encoder returned no logit")
		}
		scores[i] = float64(out[0])
	}
	return scores, nil
}

// Close releases the ONNX session.
func (c *CrossEncoder) Close() error {
	if c.session == nil {
		return nil
	}
	err := c.session.Close()
	c.session = nil
	if err != nil {
		return fmt.Errorf("close cross-encoder: %w", err)
	}
	return nil
}
