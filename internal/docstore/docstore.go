// Package docstore holds the text chunks cut from ingested transcripts.
package docstore

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/hyperjump/koe/internal/apperr"
	"github.com/hyperjump/koe/internal/models"
	"github.com/hyperjump/koe/internal/transcript"
	"github.com/hyperjump/koe/pkg/utils"
)

// Catalog durably records ingested transcripts. storage.SQLiteStorage implements it.
type Catalog interface {
	SaveTranscript(ctx context.Context, rec *models.TranscriptRecord, chunks []models.Chunk) error
	ListChunks(ctx context.Context) ([]models.Chunk, error)
	HasTranscript(ctx context.Context, id string) (bool, error)
}

// Store is an append-only list of chunks. Each segment line of an added transcript becomes
// one chunk; ordinals continue per source file across calls.
type Store struct {
	mu       sync.RWMutex
	chunks   []models.Chunk
	next     map[string]int
	ids      map[string]bool
	revision int
	catalog  Catalog
	logger   *zap.Logger
}

// Option configures a Store.
type Option func(*Store)

// WithLogger sets the logger.
func WithLogger(logger *zap.Logger) Option {
	return func(s *Store) { s.logger = logger }
}

// WithCatalog persists every Add to c and preloads the chunks already in it.
func WithCatalog(c Catalog) Option {
	return func(s *Store) { s.catalog = c }
}

// New creates a store, loading existing chunks from the catalog when one is set.
func New(ctx context.Context, opts ...Option) (*Store, error) {
	s := &Store{next: make(map[string]int), ids: make(map[string]bool)}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = utils.Named(s.logger, "docstore")
	if s.catalog == nil {
		return s, nil
	}
	chunks, err := s.catalog.ListChunks(ctx)
	if err != nil {
		return nil, apperr.Wrap(apperr.ErrPersistence, err, "load chunk catalog")
	}
	for _, c := range chunks {
		s.appendLocked(c)
	}
	s.logger.Debug("chunk catalog loaded", zap.Int("chunks", len(chunks)))
	return s, nil
}

func (s *Store) appendLocked(c models.Chunk) {
	s.chunks = append(s.chunks, c)
	if c.Ordinal >= s.next[c.Source] {
		s.next[c.Source] = c.Ordinal + 1
	}
}

// Add parses text and appends one chunk per segment line, attributed to filename.
// Lines that are not segments are skipped and returned as warnings, never as an error.
// Segments with empty text are skipped. The error is non-nil only when the catalog write fails,
// in which case nothing is added.
func (s *Store) Add(ctx context.Context, text, filename string) (int, []*transcript.LineError, error) {
	return s.AddRecord(ctx, "", text, filename)
}

// AddRecord is Add with a caller-chosen transcript ID, later reported by Contains.
// An empty id gets a random one.
func (s *Store) AddRecord(ctx context.Context, id, text, filename string) (int, []*transcript.LineError, error) {
	parsed, warnings := transcript.Parse(text, filename)
	for _, w := range warnings {
		s.logger.Warn("skipping malformed transcript line",
			zap.String("source", filename),
			zap.Int("line", w.Line),
			zap.String("reason", w.Reason))
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	ordinal := s.next[filename]
	var added []models.Chunk
	for _, seg := range parsed.Segments {
		if strings.TrimSpace(seg.Text) == "" {
			continue
		}
		added = append(added, models.Chunk{Text: seg.Text, Source: filename, Ordinal: ordinal})
		ordinal++
	}
	if len(added) == 0 {
		return 0, warnings, nil
	}

	if s.catalog != nil {
		rec := &models.TranscriptRecord{ID: id, Source: filename, Content: text}
		if err := s.catalog.SaveTranscript(ctx, rec, added); err != nil {
			return 0, warnings, apperr.Wrap(apperr.ErrPersistence, err, "save transcript %s", filename)
		}
	}
	if id != "" {
		s.ids[id] = true
	}
	for _, c := range added {
		s.appendLocked(c)
	}
	s.revision++
	s.logger.Info("transcript added",
		zap.String("source", filename),
		zap.Int("chunks", len(added)),
		zap.Int("warnings", len(warnings)))
	return len(added), warnings, nil
}

// Contains reports whether a transcript with id was added, in this process or, with a
// catalog, before.
func (s *Store) Contains(ctx context.Context, id string) (bool, error) {
	s.mu.RLock()
	seen := s.ids[id]
	s.mu.RUnlock()
	if seen || s.catalog == nil {
		return seen, nil
	}
	ok, err := s.catalog.HasTranscript(ctx, id)
	if err != nil {
		return false, apperr.Wrap(apperr.ErrPersistence, err, "look up transcript %s", id)
	}
	return ok, nil
}

// Chunks returns a snapshot copy of all chunks in insertion order.
func (s *Store) Chunks() []models.Chunk {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]models.Chunk, len(s.chunks))
	copy(out, s.chunks)
	return out
}

// Len returns the number of chunks.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.chunks)
}

// Revision increases with every Add that added chunks.
func (s *Store) Revision() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.revision
}

// Sources returns the number of chunks per source file.
func (s *Store) Sources() map[string]int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string]int, len(s.next))
	for _, c := range s.chunks {
		out[c.Source]++
	}
	return out
}

// String implements fmt.Stringer.
func (s *Store) String() string {
	return fmt.Sprintf("docstore(%d chunks)", s.Len())
}
