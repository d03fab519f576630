// Package pipeline owns the process-wide stores and capabilities and exposes the operations
// of the three workflows: voice enrollment, recording analysis and transcript question answering.
//
// Writes to the voice registry and to the retrieval index go through one writer lock.
// Every error returned is tagged with the stage it came from (see apperr.StageOf).
package pipeline

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/hyperjump/koe/internal/answer"
	"github.com/hyperjump/koe/internal/apperr"
	"github.com/hyperjump/koe/internal/docstore"
	"github.com/hyperjump/koe/internal/extract"
	"github.com/hyperjump/koe/internal/fileid"
	"github.com/hyperjump/koe/internal/media"
	"github.com/hyperjump/koe/internal/models"
	"github.com/hyperjump/koe/internal/registry"
	"github.com/hyperjump/koe/internal/resolver"
	"github.com/hyperjump/koe/internal/retrieval"
	"github.com/hyperjump/koe/internal/storage"
	"github.com/hyperjump/koe/internal/transcript"
	"github.com/hyperjump/koe/pkg/utils"
)

// Analyzer produces a diarized transcript of a recording. diarization.Processor implements it.
type Analyzer interface {
	Process(ctx context.Context, audioPath string) (*models.DiarizationTranscript, error)
}

// Components are the parts a Pipeline is assembled from. Analyzer, Catalog and Generator
// are optional.
type Components struct {
	Registry  *registry.Registry
	Resolver  *resolver.Resolver
	Analyzer  Analyzer
	Docs      *docstore.Store
	Index     *retrieval.Index
	Generator answer.Generator
	Scratch   *media.Scratch
	Catalog   storage.Storage
	// CatalogPath is reported in Status disk usage.
	CatalogPath string
}

// Pipeline is the process-wide context.
type Pipeline struct {
	c          Components
	answerer   *answer.AnswerGenerator
	answerOpts []answer.Option
	extractor  *extract.Extractor
	topK       int
	recallK    int
	logger     *zap.Logger

	// writeMu serializes registry and retrieval index writes.
	writeMu       sync.Mutex
	builtRevision int
	closers       []func() error
}

// Option configures a Pipeline.
type Option func(*Pipeline)

// WithLogger sets the logger.
func WithLogger(logger *zap.Logger) Option {
	return func(p *Pipeline) { p.logger = logger }
}

// WithRetrieval sets the default topK and recallK for Query and Answer.
func WithRetrieval(topK, recallK int) Option {
	return func(p *Pipeline) {
		p.topK = topK
		p.recallK = recallK
	}
}

// WithAnswerOptions passes options to the answer generator.
func WithAnswerOptions(opts ...answer.Option) Option {
	return func(p *Pipeline) {
		p.answerOpts = append(p.answerOpts, opts...)
	}
}

// WithCloser registers f to run on Close, after the components are closed.
func WithCloser(f func() error) Option {
	return func(p *Pipeline) { p.closers = append(p.closers, f) }
}

// New assembles a pipeline from c.
func New(c Components, opts ...Option) *Pipeline {
	p := &Pipeline{
		c:         c,
		extractor: extract.NewExtractor(),
		topK:      models.DefaultTopK,
		recallK:   models.DefaultRecallK,
	}
	for _, opt := range opts {
		opt(p)
	}
	p.logger = utils.Named(p.logger, "pipeline")
	answerOpts := append([]answer.Option{
		answer.WithLogger(p.logger),
		answer.WithRetrieval(p.topK, p.recallK),
	}, p.answerOpts...)
	p.answerer = answer.New(stagedRetriever{c.Index}, c.Generator, answerOpts...)

	// A snapshot loaded from disk counts as current when it covers every stored chunk.
	p.builtRevision = -1
	if c.Docs.Len() == 0 || (c.Index.Built() && c.Index.Size() == c.Docs.Len()) {
		p.builtRevision = c.Docs.Revision()
	}
	return p
}

// stagedRetriever tags retrieval failures so answer errors keep the stage they came from.
type stagedRetriever struct {
	index *retrieval.Index
}

func (s stagedRetriever) Query(ctx context.Context, q string, topK, recallK int) ([]models.RetrievedChunk, error) {
	hits, err := s.index.Query(ctx, q, topK, recallK)
	return hits, apperr.WithStage(err, apperr.StageRetrieval)
}

// Enroll registers the voice in audioPath under name and returns the identity as stored.
func (p *Pipeline) Enroll(ctx context.Context, name, audioPath string) (models.Identity, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return models.Identity{}, apperr.WithStage(apperr.New(apperr.ErrFormat, "speaker name cannot be empty"), apperr.StageEnrollment)
	}
	p.writeMu.Lock()
	defer p.writeMu.Unlock()

	id, err := p.c.Registry.Enroll(ctx, name, audioPath)
	if err != nil {
		return models.Identity{}, apperr.WithStage(err, apperr.StageEnrollment)
	}
	identity := models.Identity{ID: id, Name: name}
	for _, stored := range p.c.Registry.Identities() {
		if stored.ID == id {
			identity = stored
			break
		}
	}
	p.logger.Info("voice enrolled", zap.String("name", identity.Name), zap.Int("id", int(id)))
	return identity, nil
}

// EnrollReader stores r in a scratch file with extension ext and enrolls it.
func (p *Pipeline) EnrollReader(ctx context.Context, name string, r io.Reader, ext string) (models.Identity, error) {
	path, release, err := p.c.Scratch.Save(r, ext)
	if err != nil {
		return models.Identity{}, apperr.WithStage(err, apperr.StageEnrollment)
	}
	defer release()
	return p.Enroll(ctx, name, path)
}

// Identities lists the enrolled identities.
func (p *Pipeline) Identities() []models.Identity {
	return p.c.Registry.Identities()
}

// Analyze diarizes and transcribes the recording, then resolves every speaker against the
// registry. It returns the resolved transcript and its rendered text.
func (p *Pipeline) Analyze(ctx context.Context, audioPath string) (*models.ResolvedTranscript, string, error) {
	if p.c.Analyzer == nil {
		err := apperr.New(apperr.ErrCapability, "no diarization provider configured")
		return nil, "", apperr.WithStage(err, apperr.StageResolution)
	}
	if p.c.Registry.Size() == 0 {
		// fail before the expensive capability calls
		return nil, "", apperr.WithStage(apperr.New(apperr.ErrEmptyRegistry, "no registered speakers"), apperr.StageResolution)
	}
	diarized, err := p.c.Analyzer.Process(ctx, audioPath)
	if err != nil {
		return nil, "", apperr.WithStage(err, apperr.StageResolution)
	}
	resolved, err := p.c.Resolver.Resolve(ctx, diarized)
	if err != nil {
		return nil, "", apperr.WithStage(err, apperr.StageResolution)
	}
	return resolved, transcript.RenderResolved(resolved), nil
}

// AnalyzeReader stores r in a scratch file with extension ext and analyzes it.
func (p *Pipeline) AnalyzeReader(ctx context.Context, r io.Reader, ext string) (*models.ResolvedTranscript, string, error) {
	path, release, err := p.c.Scratch.Save(r, ext)
	if err != nil {
		return nil, "", apperr.WithStage(err, apperr.StageResolution)
	}
	defer release()
	return p.Analyze(ctx, path)
}

// Relabel resolves the speakers of an already rendered transcript against its recording and
// returns the text with every known label replaced. Lines that are not segments are kept as is.
func (p *Pipeline) Relabel(ctx context.Context, transcriptText, audioPath string) (string, *models.ResolvedTranscript, error) {
	parsed, warnings := transcript.Parse(transcriptText, filepath.Base(audioPath))
	for _, w := range warnings {
		p.logger.Debug("relabel: line kept as is", zap.Int("line", w.Line), zap.String("reason", w.Reason))
	}
	parsed.AudioPath = audioPath
	resolved, err := p.c.Resolver.Resolve(ctx, parsed)
	if err != nil {
		return "", nil, apperr.WithStage(err, apperr.StageResolution)
	}
	return transcript.Relabel(transcriptText, resolved.Mapping()), resolved, nil
}

// RelabelReader stores the recording r in a scratch file with extension ext and relabels
// transcriptText against it.
func (p *Pipeline) RelabelReader(ctx context.Context, transcriptText string, r io.Reader, ext string) (string, *models.ResolvedTranscript, error) {
	path, release, err := p.c.Scratch.Save(r, ext)
	if err != nil {
		return "", nil, apperr.WithStage(err, apperr.StageResolution)
	}
	defer release()
	return p.Relabel(ctx, transcriptText, path)
}

// IngestResult reports one ingested transcript.
type IngestResult struct {
	Source   string   `json:"source"`
	Added    int      `json:"added"`
	Warnings []string `json:"warnings,omitempty"`
	// Skipped is set when the same file version was ingested before.
	Skipped bool `json:"skipped,omitempty"`
}

// Ingest adds the segment lines of text to the document store under filename.
// The retrieval index is not rebuilt; call Build.
func (p *Pipeline) Ingest(ctx context.Context, text, filename string) (*IngestResult, error) {
	return p.ingest(ctx, "", text, filename)
}

func (p *Pipeline) ingest(ctx context.Context, id, text, filename string) (*IngestResult, error) {
	if strings.TrimSpace(filename) == "" {
		filename = "transcript.txt"
	}
	added, warnings, err := p.c.Docs.AddRecord(ctx, id, text, filename)
	if err != nil {
		return nil, apperr.WithStage(err, apperr.StageIngestion)
	}
	res := &IngestResult{Source: filename, Added: added}
	for _, w := range warnings {
		res.Warnings = append(res.Warnings, w.Error())
	}
	return res, nil
}

// IngestDocument extracts the transcript text from content, using the extension of filename
// to pick the format, and ingests it.
func (p *Pipeline) IngestDocument(ctx context.Context, content []byte, filename string) (*IngestResult, error) {
	text, err := p.extractor.ExtractBytes(content, filepath.Ext(filename))
	if err != nil {
		return nil, apperr.WithStage(err, apperr.StageIngestion)
	}
	return p.ingest(ctx, "", text, filepath.Base(filename))
}

// IngestFile extracts and ingests the transcript at path. A file whose path, size and
// modification time were ingested before is skipped.
func (p *Pipeline) IngestFile(ctx context.Context, path string) (*IngestResult, error) {
	absPath, err := filepath.Abs(path)
	if err != nil {
		return nil, apperr.WithStage(fmt.Errorf("absolute path: %w", err), apperr.StageIngestion)
	}
	info, err := os.Stat(absPath)
	if err != nil {
		return nil, apperr.WithStage(fmt.Errorf("stat file: %w", err), apperr.StageIngestion)
	}
	if !info.Mode().IsRegular() {
		return nil, apperr.WithStage(fmt.Errorf("not a regular file: %s", absPath), apperr.StageIngestion)
	}
	name := filepath.Base(absPath)
	version := fileid.Version(absPath, info)
	seen, err := p.c.Docs.Contains(ctx, version)
	if err != nil {
		return nil, apperr.WithStage(err, apperr.StageIngestion)
	}
	if seen {
		p.logger.Debug("transcript unchanged, skipping", zap.String("path", absPath))
		return &IngestResult{Source: name, Skipped: true}, nil
	}
	text, err := p.extractor.Extract(absPath)
	if err != nil {
		return nil, apperr.WithStage(err, apperr.StageIngestion)
	}
	return p.ingest(ctx, version, text, name)
}

// IngestDirectory walks dir recursively and ingests each regular file whose extension is in
// allowedExts (all supported formats when empty). It stops at the first failing file.
func (p *Pipeline) IngestDirectory(ctx context.Context, dir string, allowedExts []string) ([]*IngestResult, error) {
	absDir, err := filepath.Abs(dir)
	if err != nil {
		return nil, apperr.WithStage(fmt.Errorf("absolute path: %w", err), apperr.StageIngestion)
	}
	var results []*IngestResult
	err = filepath.WalkDir(absDir, func(path string, d os.DirEntry, walkErr error) error {
		if walkErr != nil {
			return walkErr
		}
		if d.IsDir() || !Accepts(path, allowedExts) {
			return nil
		}
		// Resolve symlinks so we only ingest regular files
		if info, statErr := os.Stat(path); statErr != nil || !info.Mode().IsRegular() {
			return nil
		}
		res, err := p.IngestFile(ctx, path)
		if err != nil {
			return err
		}
		results = append(results, res)
		return nil
	})
	return results, apperr.WithStage(err, apperr.StageIngestion)
}

// Accepts reports whether path is a supported transcript whose extension is in allowedExts.
// An empty allowedExts accepts every supported format.
func Accepts(path string, allowedExts []string) bool {
	if !extract.Supported(path) {
		return false
	}
	if len(allowedExts) == 0 {
		return true
	}
	ext := strings.ToLower(strings.TrimPrefix(filepath.Ext(path), "."))
	for _, a := range allowedExts {
		if strings.ToLower(strings.TrimPrefix(a, ".")) == ext {
			return true
		}
	}
	return false
}

// Build rebuilds the retrieval index over every stored chunk.
func (p *Pipeline) Build(ctx context.Context) error {
	p.writeMu.Lock()
	defer p.writeMu.Unlock()

	rev := p.c.Docs.Revision()
	if err := p.c.Index.Build(ctx, p.c.Docs.Chunks()); err != nil {
		return apperr.WithStage(err, apperr.StageRetrieval)
	}
	p.builtRevision = rev
	return nil
}

// Query returns the topK chunks most relevant to q, best first. Zero topK or recallK take the
// configured defaults.
func (p *Pipeline) Query(ctx context.Context, q string, topK, recallK int) ([]models.RetrievedChunk, error) {
	if topK <= 0 {
		topK = p.topK
	}
	if recallK <= 0 {
		recallK = p.recallK
	}
	return stagedRetriever{p.c.Index}.Query(ctx, q, topK, recallK)
}

// Answer answers question from the indexed transcripts.
func (p *Pipeline) Answer(ctx context.Context, question string) (*models.AnswerResponse, error) {
	resp, err := p.answerer.Answer(ctx, question)
	if err != nil {
		return nil, apperr.WithStage(err, apperr.StageGeneration)
	}
	return resp, nil
}

// Close releases every component. It returns the first error.
func (p *Pipeline) Close() error {
	var first error
	keep := func(err error) {
		if err != nil && first == nil {
			first = err
		}
	}
	if p.c.Index != nil {
		keep(p.c.Index.Close())
	}
	if p.c.Registry != nil {
		keep(p.c.Registry.Close())
	}
	if p.c.Catalog != nil {
		keep(p.c.Catalog.Close())
	}
	for _, f := range p.closers {
		keep(f())
	}
	return first
}
