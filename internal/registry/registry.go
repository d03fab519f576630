// Package registry stores enrolled voices: a flat L2 vector index whose row ordinals are the
// identity IDs, plus a TSV sidecar mapping each ID to the person's name.
package registry

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"strconv"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/hyperjump/koe/internal/apperr"
	"github.com/hyperjump/koe/internal/models"
	"github.com/hyperjump/koe/internal/vector"
	"github.com/hyperjump/koe/internal/voiceprint"
	"github.com/hyperjump/koe/pkg/utils"
)

// Registry is the voice registry. Reads may run concurrently; enrollments are serialized.
type Registry struct {
	path       string
	indexType  string
	model      voiceprint.Model
	logger     *zap.Logger
	index      vector.VectorIndex
	identities []models.Identity
	mu         sync.RWMutex
}

// Option configures a Registry.
type Option func(*Registry)

// WithLogger sets the logger.
func WithLogger(logger *zap.Logger) Option {
	return func(r *Registry) { r.logger = logger }
}

// WithIndexType selects the vector index backend ("memory" or "faiss").
func WithIndexType(indexType string) Option {
	return func(r *Registry) { r.indexType = indexType }
}

// Open loads the registry persisted under path (path.index + path.tsv) or starts an empty one.
// model may be nil when only precomputed embeddings are enrolled and matched.
func Open(path string, model voiceprint.Model, opts ...Option) (*Registry, error) {
	r := &Registry{path: path, model: model, indexType: string(vector.IndexTypeMemory)}
	for _, opt := range opts {
		opt(r)
	}
	r.logger = utils.Named(r.logger, "registry")
	if err := r.load(); err != nil {
		return nil, err
	}
	return r, nil
}

// IndexPath is where the vector index is saved.
func (r *Registry) IndexPath() string { return r.path + ".index" }

// MetaPath is where the id/name sidecar is saved.
func (r *Registry) MetaPath() string { return r.path + ".tsv" }

// Files lists every file the registry writes.
func (r *Registry) Files() []string {
	return append(vector.IndexFiles(r.indexType, r.IndexPath()), r.MetaPath())
}

func (r *Registry) load() error {
	if r.path == "" {
		return nil
	}
	idx, err := vector.LoadVectorIndex(r.indexType, vector.MetricL2, r.IndexPath())
	if errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	if err != nil {
		return apperr.Wrap(apperr.ErrPersistence, err, "load voice index")
	}
	identities, err := readMeta(r.MetaPath())
	if err != nil {
		idx.Close()
		return err
	}
	if len(identities) != idx.Size() {
		idx.Close()
		return apperr.New(apperr.ErrPersistence, "voice index has %d rows but %s has %d", idx.Size(), r.MetaPath(), len(identities))
	}
	r.index = idx
	r.identities = identities
	r.logger.Debug("loaded voice registry", zap.Int("identities", len(identities)), zap.Int("dimension", idx.Dimensions()))
	return nil
}

// Enroll embeds the audio at audioPath and registers it under name.
func (r *Registry) Enroll(ctx context.Context, name, audioPath string) (models.IdentityID, error) {
	if r.model == nil {
		return 0, apperr.New(apperr.ErrCapability, "no voice embedding model configured")
	}
	emb, err := r.model.Embed(ctx, audioPath)
	if err != nil {
		return 0, err
	}
	return r.EnrollEmbedding(ctx, name, emb)
}

// EnrollEmbedding registers a precomputed voice embedding under name. The first enrollment fixes
// the registry dimension. The same name may be enrolled several times; each gets its own ID.
func (r *Registry) EnrollEmbedding(ctx context.Context, name string, emb []float32) (models.IdentityID, error) {
	name = cleanName(name)
	if name == "" {
		return 0, fmt.Errorf("identity name cannot be empty")
	}
	if err := voiceprint.Validate(emb); err != nil {
		return 0, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	fresh := r.index == nil
	if fresh {
		idx, err := vector.NewVectorIndex(r.indexType, vector.MetricL2, len(emb))
		if err != nil {
			return 0, fmt.Errorf("create voice index: %w", err)
		}
		r.index = idx
	}
	if len(emb) != r.index.Dimensions() {
		return 0, apperr.New(apperr.ErrEmbedding, "voice embedding has dimension %d, registry uses %d", len(emb), r.index.Dimensions())
	}

	id := models.IdentityID(len(r.identities))
	if err := r.index.Add(ctx, []string{id.String()}, [][]float32{emb}); err != nil {
		return 0, apperr.Wrap(apperr.ErrEmbedding, err, "add voice embedding")
	}
	r.identities = append(r.identities, models.Identity{ID: id, Name: name})

	if err := r.persist(); err != nil {
		r.rollback(fresh)
		return 0, err
	}
	r.logger.Info("enrolled voice", zap.Int("id", int(id)), zap.String("name", name))
	return id, nil
}

// persist writes the sidecar, then the index. Each file is replaced atomically.
func (r *Registry) persist() error {
	if r.path == "" {
		return nil
	}
	if err := writeMeta(r.MetaPath(), r.identities); err != nil {
		return apperr.Wrap(apperr.ErrPersistence, err, "write %s", r.MetaPath())
	}
	if err := r.index.Save(r.IndexPath()); err != nil {
		return apperr.Wrap(apperr.ErrPersistence, err, "write %s", r.IndexPath())
	}
	return nil
}

// rollback restores the last persisted state after a failed enrollment.
func (r *Registry) rollback(fresh bool) {
	r.identities = r.identities[:len(r.identities)-1]
	if fresh {
		r.index.Close()
		r.index = nil
	} else if err := r.index.Load(r.IndexPath()); err != nil {
		r.logger.Error("failed to reload voice index after failed enrollment", zap.Error(err))
	}
	if r.path == "" {
		return
	}
	if err := writeMeta(r.MetaPath(), r.identities); err != nil {
		r.logger.Error("failed to restore voice sidecar", zap.Error(err))
	}
}

// Match returns the topK identities nearest to emb by Euclidean distance, closest first.
func (r *Registry) Match(ctx context.Context, emb []float32, topK int) ([]models.VoiceMatch, error) {
	if topK <= 0 {
		topK = 1
	}
	r.mu.RLock()
	defer r.mu.RUnlock()

	if r.index == nil || len(r.identities) == 0 {
		return nil, apperr.New(apperr.ErrEmptyRegistry, "no registered speakers")
	}
	if len(emb) != r.index.Dimensions() {
		return nil, apperr.New(apperr.ErrEmbedding, "voice embedding has dimension %d, registry uses %d", len(emb), r.index.Dimensions())
	}
	hits, err := r.index.Search(ctx, emb, topK)
	if err != nil {
		return nil, fmt.Errorf("search voice index: %w", err)
	}
	matches := make([]models.VoiceMatch, 0, len(hits))
	for _, h := range hits {
		row, err := strconv.Atoi(h.ID)
		if err != nil || row < 0 || row >= len(r.identities) {
			return nil, apperr.New(apperr.ErrPersistence, "voice index returned unknown row %q", h.ID)
		}
		matches = append(matches, models.VoiceMatch{Identity: r.identities[row], Distance: h.Score})
	}
	return matches, nil
}

// MatchAudio embeds the audio at audioPath and matches it.
func (r *Registry) MatchAudio(ctx context.Context, audioPath string, topK int) ([]models.VoiceMatch, error) {
	if r.model == nil {
		return nil, apperr.New(apperr.ErrCapability, "no voice embedding model configured")
	}
	if r.Size() == 0 {
		return nil, apperr.New(apperr.ErrEmptyRegistry, "no registered speakers")
	}
	emb, err := r.model.Embed(ctx, audioPath)
	if err != nil {
		return nil, err
	}
	return r.Match(ctx, emb, topK)
}

// Identities returns every enrolled identity in ID order.
func (r *Registry) Identities() []models.Identity {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]models.Identity, len(r.identities))
	copy(out, r.identities)
	return out
}

// Size returns the number of enrolled rows.
func (r *Registry) Size() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.identities)
}

// Dimension returns the embedding dimension, or 0 before the first enrollment.
func (r *Registry) Dimension() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.index == nil {
		return 0
	}
	return r.index.Dimensions()
}

// Close releases the vector index.
func (r *Registry) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.index == nil {
		return nil
	}
	err := r.index.Close()
	r.index = nil
	return err
}

// cleanName trims name and replaces characters the TSV sidecar cannot hold.
func cleanName(name string) string {
	name = strings.Map(func(c rune) rune {
		if c == '\t' || c == '\n' || c == '\r' {
			return ' '
		}
		return c
	}, name)
	return strings.TrimSpace(name)
}
