package retrieval

import (
	"context"
	"fmt"
	"sort"
	"strconv"

	"golang.org/x/sync/errgroup"

	"github.com/hyperjump/koe/internal/apperr"
	"github.com/hyperjump/koe/internal/embedding"
	"github.com/hyperjump/koe/internal/keyword"
	"github.com/hyperjump/koe/internal/vector"
	"github.com/hyperjump/koe/pkg/utils"
)

// Recall modes.
const (
	RecallVector  = "vector"
	RecallKeyword = "keyword"
	RecallHybrid  = "hybrid"
)

// Candidate is a first-stage hit. Position indexes the snapshot's chunk list.
type Candidate struct {
	Position int
	Score    float64
}

// Recaller is the first retrieval stage: the k most promising chunks for query,
// best first.
type Recaller interface {
	Name() string
	Recall(ctx context.Context, query string, k int) ([]Candidate, error)
}

// VectorRecaller ranks chunks by cosine similarity between query and chunk embeddings.
type VectorRecaller struct {
	embedder embedding.Embedder
	index    vector.VectorIndex
}

// NewVectorRecaller searches index, whose IDs are chunk positions, with queries embedded by embedder.
func NewVectorRecaller(embedder embedding.Embedder, index vector.VectorIndex) *VectorRecaller {
	return &VectorRecaller{embedder: embedder, index: index}
}

// Name implements Recaller.
func (v *VectorRecaller) Name() string { return RecallVector }

// Recall implements Recaller.
func (v *VectorRecaller) Recall(ctx context.Context, query string, k int) ([]Candidate, error) {
	emb, err := v.embedder.Embed(ctx, query)
	if err != nil {
		return nil, apperr.Wrap(apperr.ErrEmbedding, err, "embed query")
	}
	// the embedder may hand out a cached slice
	q := make([]float32, len(emb))
	copy(q, emb)
	utils.NormalizeL2(q)
	if len(q) != v.index.Dimensions() {
		return nil, apperr.New(apperr.ErrEmbedding, "query embedding has dimension %d, index has %d",
			len(q), v.index.Dimensions())
	}

	results, err := v.index.Search(ctx, q, k)
	if err != nil {
		return nil, fmt.Errorf("vector search failed: %w", err)
	}
	out := make([]Candidate, 0, len(results))
	for _, r := range results {
		pos, err := strconv.Atoi(r.ID)
		if err != nil {
			return nil, apperr.New(apperr.ErrPersistence, "corrupt vector id %q", r.ID)
		}
		out = append(out, Candidate{Position: pos, Score: r.Score})
	}
	return out, nil
}

// KeywordRecaller ranks chunks by BM25 over their text.
type KeywordRecaller struct {
	index *keyword.BleveIndex
	opts  *keyword.SearchOptions
}

// NewKeywordRecaller searches index with opts (nil for defaults).
func NewKeywordRecaller(index *keyword.BleveIndex, opts *keyword.SearchOptions) *KeywordRecaller {
	return &KeywordRecaller{index: index, opts: opts}
}

// Name implements Recaller.
func (k *KeywordRecaller) Name() string { return RecallKeyword }

// Recall implements Recaller.
func (k *KeywordRecaller) Recall(ctx context.Context, query string, limit int) ([]Candidate, error) {
	hits, err := k.index.Search(ctx, query, limit, k.opts)
	if err != nil {
		return nil, fmt.Errorf("keyword search failed: %w", err)
	}
	out := make([]Candidate, len(hits))
	for i, h := range hits {
		out[i] = Candidate{Position: h.Position, Score: h.Score}
	}
	return out, nil
}

// HybridRecaller runs keyword and vector recall concurrently and fuses the scores as
// keywordWeight*normalizedBM25 + semanticWeight*cosine.
type HybridRecaller struct {
	keyword        Recaller
	semantic       Recaller
	keywordWeight  float64
	semanticWeight float64
}

// NewHybridRecaller fuses kw and sem with the given weights.
func NewHybridRecaller(kw, sem Recaller, keywordWeight, semanticWeight float64) *HybridRecaller {
	return &HybridRecaller{keyword: kw, semantic: sem, keywordWeight: keywordWeight, semanticWeight: semanticWeight}
}

// Name implements Recaller.
func (h *HybridRecaller) Name() string { return RecallHybrid }

// Recall implements Recaller.
func (h *HybridRecaller) Recall(ctx context.Context, query string, k int) ([]Candidate, error) {
	var kw, sem []Candidate
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		kw, err = h.keyword.Recall(gctx, query, k)
		return err
	})
	g.Go(func() error {
		var err error
		sem, err = h.semantic.Recall(gctx, query, k)
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}
	fused := Fuse(normalizeByMax(kw), sem, h.keywordWeight, h.semanticWeight)
	if len(fused) > k {
		fused = fused[:k]
	}
	return fused, nil
}

// normalizeByMax scales scores to [0,1] by the maximum score.
func normalizeByMax(cands []Candidate) []Candidate {
	maxScore := 0.0
	for _, c := range cands {
		if c.Score > maxScore {
			maxScore = c.Score
		}
	}
	out := make([]Candidate, len(cands))
	for i, c := range cands {
		out[i] = Candidate{Position: c.Position}
		if maxScore > 0 {
			out[i].Score = c.Score / maxScore
		}
	}
	return out
}

// Fuse merges two candidate lists with weights and returns them best first,
// ties broken by chunk position.
func Fuse(keywordCands, semanticCands []Candidate, keywordWeight, semanticWeight float64) []Candidate {
	scores := make(map[int]float64, len(keywordCands)+len(semanticCands))
	for _, c := range keywordCands {
		scores[c.Position] += keywordWeight * c.Score
	}
	for _, c := range semanticCands {
		scores[c.Position] += semanticWeight * c.Score
	}
	out := make([]Candidate, 0, len(scores))
	for pos, s := range scores {
		out = append(out, Candidate{Position: pos, Score: s})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Score != out[j].Score {
			return out[i].Score > out[j].Score
		}
		return out[i].Position < out[j].Position
	})
	return out
}
