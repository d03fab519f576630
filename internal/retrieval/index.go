// Package retrieval indexes transcript chunks and answers queries in two stages:
// a Recaller proposes candidates, a rerank.Reranker orders them.
package retrieval

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"sort"
	"strconv"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/hyperjump/koe/internal/apperr"
	"github.com/hyperjump/koe/internal/embedding"
	"github.com/hyperjump/koe/internal/keyword"
	"github.com/hyperjump/koe/internal/models"
	"github.com/hyperjump/koe/internal/rerank"
	"github.com/hyperjump/koe/internal/vector"
	"github.com/hyperjump/koe/pkg/utils"
)

const defaultBatchSize = 64

// Index is a snapshot over the chunks given to the last Build. Queries see either the
// previous or the new snapshot, never a mix.
type Index struct {
	path           string
	embedder       embedding.Embedder
	reranker       rerank.Reranker
	indexType      string
	recallMode     string
	keywordOpts    *keyword.SearchOptions
	keywordWeight  float64
	semanticWeight float64
	batchSize      int
	logger         *zap.Logger

	mu   sync.RWMutex
	snap *snapshot
}

type snapshot struct {
	chunks   []models.Chunk
	vectors  vector.VectorIndex
	keyword  *keyword.BleveIndex
	recaller Recaller
	builtAt  time.Time
}

func (s *snapshot) close() {
	if s == nil {
		return
	}
	if s.vectors != nil {
		_ = s.vectors.Close()
	}
	if s.keyword != nil {
		_ = s.keyword.Close()
	}
}

// Option configures an Index.
type Option func(*Index)

// WithLogger sets the logger.
func WithLogger(logger *zap.Logger) Option {
	return func(x *Index) { x.logger = logger }
}

// WithReranker sets the second stage. Nil keeps recall order and recall scores.
func WithReranker(r rerank.Reranker) Option {
	return func(x *Index) { x.reranker = r }
}

// WithIndexType selects the vector backend ("memory" or "faiss").
func WithIndexType(t string) Option {
	return func(x *Index) { x.indexType = t }
}

// WithRecallMode selects the first stage: "vector" (default), "keyword" or "hybrid".
func WithRecallMode(mode string) Option {
	return func(x *Index) { x.recallMode = mode }
}

// WithKeywordOptions tunes keyword recall.
func WithKeywordOptions(opts *keyword.SearchOptions) Option {
	return func(x *Index) { x.keywordOpts = opts }
}

// WithHybridWeights sets the fusion weights for hybrid recall.
func WithHybridWeights(keywordWeight, semanticWeight float64) Option {
	return func(x *Index) {
		x.keywordWeight = keywordWeight
		x.semanticWeight = semanticWeight
	}
}

// WithBatchSize sets how many chunks are embedded per call during Build.
func WithBatchSize(n int) Option {
	return func(x *Index) {
		if n > 0 {
			x.batchSize = n
		}
	}
}

// Open creates an index persisted under path (path.index, path.meta.json and, for keyword
// recall, path.bleve) and loads the last snapshot if there is one. An empty path keeps
// everything in memory.
func Open(path string, embedder embedding.Embedder, opts ...Option) (*Index, error) {
	x := &Index{
		path:           path,
		embedder:       embedder,
		indexType:      string(vector.IndexTypeMemory),
		recallMode:     RecallVector,
		keywordWeight:  0.3,
		semanticWeight: 0.7,
		batchSize:      defaultBatchSize,
	}
	for _, opt := range opts {
		opt(x)
	}
	x.logger = utils.Named(x.logger, "retrieval")
	switch x.recallMode {
	case RecallVector, RecallKeyword, RecallHybrid:
	default:
		return nil, fmt.Errorf("unknown recall mode: %s (supported: vector, keyword, hybrid)", x.recallMode)
	}
	if err := x.load(); err != nil {
		return nil, err
	}
	return x, nil
}

// IndexPath is where the vector index is saved.
func (x *Index) IndexPath() string { return x.path + ".index" }

// MetaPath is where the chunk list is saved.
func (x *Index) MetaPath() string { return x.path + ".meta.json" }

// KeywordPath is where the keyword index is saved.
func (x *Index) KeywordPath() string {
	if x.path == "" {
		return ""
	}
	return x.path + ".bleve"
}

func (x *Index) stagingPath() string {
	if x.path == "" {
		return ""
	}
	return x.KeywordPath() + ".next"
}

// keywordPath returns where the current keyword index lives, or "".
func (x *Index) keywordPath() string {
	x.mu.RLock()
	defer x.mu.RUnlock()
	if x.snap == nil || x.snap.keyword == nil {
		return ""
	}
	return x.snap.keyword.Path()
}

// Files lists every persisted file.
func (x *Index) Files() []string {
	files := append(vector.IndexFiles(x.indexType, x.IndexPath()), x.MetaPath())
	if x.needsKeyword() {
		files = append(files, x.KeywordPath())
	}
	return files
}

func (x *Index) needsKeyword() bool {
	return x.recallMode == RecallKeyword || x.recallMode == RecallHybrid
}

func (x *Index) load() error {
	if x.path == "" {
		return nil
	}
	chunks, err := readMeta(x.MetaPath())
	if errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	if err != nil {
		return apperr.Wrap(apperr.ErrPersistence, err, "read chunk list")
	}
	vidx, err := vector.LoadVectorIndex(x.indexType, vector.MetricInnerProduct, x.IndexPath())
	if err != nil {
		return apperr.Wrap(apperr.ErrPersistence, err, "load chunk index")
	}
	if vidx.Size() != len(chunks) {
		_ = vidx.Close()
		return apperr.New(apperr.ErrPersistence, "chunk index has %d vectors but %s lists %d chunks",
			vidx.Size(), x.MetaPath(), len(chunks))
	}
	if d := x.embedder.Dimensions(); d > 0 && len(chunks) > 0 && d != vidx.Dimensions() {
		_ = vidx.Close()
		return apperr.New(apperr.ErrPersistence, "chunk index has dimension %d but the embedder produces %d; rebuild the index",
			vidx.Dimensions(), d)
	}

	snap := &snapshot{chunks: chunks, vectors: vidx}
	if info, err := os.Stat(x.MetaPath()); err == nil {
		snap.builtAt = info.ModTime()
	}
	if x.needsKeyword() {
		kw, err := keyword.Open(x.KeywordPath())
		if err == nil {
			if n, cerr := kw.DocCount(); cerr != nil || n != uint64(len(chunks)) {
				// stale, e.g. interrupted before the last build was promoted
				_ = kw.Close()
				err = fs.ErrNotExist
			}
		}
		if errors.Is(err, fs.ErrNotExist) {
			kw, err = keyword.Build(context.Background(), x.KeywordPath(), chunks)
		}
		if err != nil {
			snap.close()
			return apperr.Wrap(apperr.ErrPersistence, err, "load keyword index")
		}
		snap.keyword = kw
	}
	snap.recaller = x.recallerFor(snap)
	x.snap = snap
	x.logger.Info("retrieval index loaded", zap.Int("chunks", len(chunks)), zap.String("recall", x.recallMode))
	return nil
}

func (x *Index) recallerFor(s *snapshot) Recaller {
	vec := NewVectorRecaller(x.embedder, s.vectors)
	switch x.recallMode {
	case RecallKeyword:
		return NewKeywordRecaller(s.keyword, x.keywordOpts)
	case RecallHybrid:
		return NewHybridRecaller(NewKeywordRecaller(s.keyword, x.keywordOpts), vec, x.keywordWeight, x.semanticWeight)
	default:
		return vec
	}
}

// Build embeds every chunk, replaces the index with a fresh one over them and persists it.
// On failure the previous snapshot stays in place.
func (x *Index) Build(ctx context.Context, chunks []models.Chunk) error {
	start := time.Now()
	chunks = append([]models.Chunk(nil), chunks...)

	vecs, err := x.embedAll(ctx, chunks)
	if err != nil {
		return err
	}
	dims := x.embedder.Dimensions()
	if len(vecs) > 0 {
		dims = len(vecs[0])
	}
	if dims <= 0 {
		dims = 1
	}
	vidx, err := vector.NewVectorIndex(x.indexType, vector.MetricInnerProduct, dims)
	if err != nil {
		return fmt.Errorf("create chunk index: %w", err)
	}
	snap := &snapshot{chunks: chunks, vectors: vidx, builtAt: time.Now()}
	ids := make([]string, len(chunks))
	for i := range chunks {
		ids[i] = strconv.Itoa(i)
	}
	if err := vidx.Add(ctx, ids, vecs); err != nil {
		snap.close()
		return apperr.Wrap(apperr.ErrEmbedding, err, "add chunk vectors")
	}

	if x.needsKeyword() {
		// the old keyword index holds its directory open; after a failed promotion
		// that is the staging path and KeywordPath is free
		kwPath := x.KeywordPath()
		if kwPath != "" && x.keywordPath() != x.stagingPath() {
			kwPath = x.stagingPath()
		}
		kw, err := keyword.Build(ctx, kwPath, chunks)
		if err != nil {
			snap.close()
			return fmt.Errorf("build keyword index: %w", err)
		}
		snap.keyword = kw
	}

	if err := x.persist(snap); err != nil {
		snap.close()
		return err
	}
	snap.recaller = x.recallerFor(snap)

	x.mu.Lock()
	old := x.snap
	x.snap = snap
	x.mu.Unlock()
	old.close()
	if old != nil && old.keyword != nil && old.keyword.Path() == x.stagingPath() && snap.keyword.Path() != x.stagingPath() {
		_ = os.RemoveAll(x.stagingPath())
	}

	if err := x.promoteKeyword(snap); err != nil {
		x.logger.Warn("keyword index left at staging path", zap.Error(err))
	}

	x.logger.Info("retrieval index built",
		zap.Int("chunks", len(chunks)),
		zap.Int("dimensions", dims),
		zap.Duration("took", time.Since(start)))
	return nil
}

func (x *Index) embedAll(ctx context.Context, chunks []models.Chunk) ([][]float32, error) {
	vecs := make([][]float32, 0, len(chunks))
	for start := 0; start < len(chunks); start += x.batchSize {
		end := start + x.batchSize
		if end > len(chunks) {
			end = len(chunks)
		}
		texts := make([]string, end-start)
		for i, c := range chunks[start:end] {
			texts[i] = c.Text
		}
		embs, err := x.embedder.EmbedBatch(ctx, texts)
		if err != nil {
			return nil, apperr.Wrap(apperr.ErrEmbedding, err, "embed chunks %d-%d", start, end)
		}
		if len(embs) != len(texts) {
			return nil, apperr.New(apperr.ErrEmbedding, "embedder returned %d vectors for %d chunks", len(embs), len(texts))
		}
		for _, e := range embs {
			v := make([]float32, len(e))
			copy(v, e)
			utils.NormalizeL2(v)
			vecs = append(vecs, v)
		}
		x.logger.Debug("embedded chunks", zap.Int("done", end), zap.Int("total", len(chunks)))
	}
	return vecs, nil
}

// rename is swapped in tests to fail keyword promotion.
var rename = os.Rename

// persist writes the chunk list, then the vector index. If the vector index cannot be
// written the chunk list of the current snapshot is put back, so the files on disk keep
// describing one snapshot.
func (x *Index) persist(s *snapshot) error {
	if x.path == "" {
		return nil
	}
	if err := writeMeta(x.MetaPath(), s.chunks); err != nil {
		return apperr.Wrap(apperr.ErrPersistence, err, "write %s", x.MetaPath())
	}
	if err := s.vectors.Save(x.IndexPath()); err != nil {
		x.restoreMeta()
		return apperr.Wrap(apperr.ErrPersistence, err, "write %s", x.IndexPath())
	}
	return nil
}

func (x *Index) restoreMeta() {
	x.mu.RLock()
	prev := x.snap
	x.mu.RUnlock()
	var err error
	if prev == nil {
		err = os.Remove(x.MetaPath())
		if errors.Is(err, fs.ErrNotExist) {
			err = nil
		}
	} else {
		err = writeMeta(x.MetaPath(), prev.chunks)
	}
	if err != nil {
		x.logger.Error("chunk list no longer matches the saved index; rebuild it",
			zap.String("path", x.MetaPath()), zap.Error(err))
	}
}

// promoteKeyword moves a freshly built keyword index from its staging path to KeywordPath.
// If the move fails the snapshot keeps serving from the staging path.
func (x *Index) promoteKeyword(s *snapshot) error {
	if s.keyword == nil || s.keyword.Path() == "" || s.keyword.Path() == x.KeywordPath() {
		return nil
	}
	staged := s.keyword.Path()
	x.mu.Lock()
	defer x.mu.Unlock()
	if err := s.keyword.Close(); err != nil {
		return err
	}
	target := x.KeywordPath()
	err := os.RemoveAll(target)
	if err == nil {
		err = rename(staged, target)
	}
	if err != nil {
		target = staged
	}
	kw, oerr := keyword.Open(target)
	if oerr != nil {
		return errors.Join(err, oerr)
	}
	s.keyword = kw
	s.recaller = x.recallerFor(s)
	return err
}

// Query returns the topK best chunks for q. Up to recallK candidates come from the
// recall stage; the reranker orders them, ties keeping recall order.
// Zero topK or recallK mean the defaults (3 and 20); recallK below topK is raised to topK.
func (x *Index) Query(ctx context.Context, q string, topK, recallK int) ([]models.RetrievedChunk, error) {
	req := models.QueryRequest{Query: q, TopK: topK, RecallK: recallK}
	if err := req.Validate(); err != nil {
		return nil, err
	}

	x.mu.RLock()
	defer x.mu.RUnlock()
	if x.snap == nil {
		return nil, apperr.New(apperr.ErrIndexNotBuilt, "index not built")
	}
	snap := x.snap
	if len(snap.chunks) == 0 {
		return []models.RetrievedChunk{}, nil
	}
	k := req.RecallK
	if k > len(snap.chunks) {
		k = len(snap.chunks)
	}

	cands, err := snap.recaller.Recall(ctx, q, k)
	if err != nil {
		return nil, err
	}
	cands = validCandidates(cands, len(snap.chunks))

	scores := make([]float64, len(cands))
	if x.reranker == nil {
		for i, c := range cands {
			scores[i] = c.Score
		}
	} else if len(cands) > 0 {
		texts := make([]string, len(cands))
		for i, c := range cands {
			texts[i] = snap.chunks[c.Position].Text
		}
		scores, err = x.reranker.Score(ctx, q, texts)
		if err != nil {
			return nil, fmt.Errorf("rerank: %w", err)
		}
		if len(scores) != len(cands) {
			return nil, apperr.New(apperr.ErrCapability, "reranker returned %d scores for %d candidates", len(scores), len(cands))
		}
	}

	order := make([]int, len(cands))
	for i := range order {
		order[i] = i
	}
	sort.SliceStable(order, func(a, b int) bool { return scores[order[a]] > scores[order[b]] })
	if len(order) > req.TopK {
		order = order[:req.TopK]
	}

	out := make([]models.RetrievedChunk, len(order))
	for rank, i := range order {
		out[rank] = models.RetrievedChunk{
			Chunk:       snap.chunks[cands[i].Position],
			Score:       scores[i],
			RecallScore: cands[i].Score,
			Rank:        rank + 1,
		}
	}
	return out, nil
}

// validCandidates drops out-of-range and repeated positions.
func validCandidates(cands []Candidate, n int) []Candidate {
	seen := make(map[int]bool, len(cands))
	out := cands[:0:0]
	for _, c := range cands {
		if c.Position < 0 || c.Position >= n || seen[c.Position] {
			continue
		}
		seen[c.Position] = true
		out = append(out, c)
	}
	return out
}

// Built reports whether a snapshot is available.
func (x *Index) Built() bool {
	x.mu.RLock()
	defer x.mu.RUnlock()
	return x.snap != nil
}

// Size returns the number of chunks in the current snapshot.
func (x *Index) Size() int {
	x.mu.RLock()
	defer x.mu.RUnlock()
	if x.snap == nil {
		return 0
	}
	return len(x.snap.chunks)
}

// BuiltAt returns when the current snapshot was built; zero before any build.
func (x *Index) BuiltAt() time.Time {
	x.mu.RLock()
	defer x.mu.RUnlock()
	if x.snap == nil {
		return time.Time{}
	}
	return x.snap.builtAt
}

// RecallMode returns the configured first stage.
func (x *Index) RecallMode() string { return x.recallMode }

// RerankerName returns the second stage's name, "none" when there is none.
func (x *Index) RerankerName() string {
	if x.reranker == nil {
		return "none"
	}
	return x.reranker.Name()
}

// Close releases the current snapshot.
func (x *Index) Close() error {
	x.mu.Lock()
	defer x.mu.Unlock()
	x.snap.close()
	x.snap = nil
	return nil
}
