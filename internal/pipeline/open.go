package pipeline

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"go.uber.org/zap"

	"github.com/hyperjump/koe/internal/answer"
	"github.com/hyperjump/koe/internal/config"
	"github.com/hyperjump/koe/internal/diarization"
	"github.com/hyperjump/koe/internal/docstore"
	"github.com/hyperjump/koe/internal/embedding"
	"github.com/hyperjump/koe/internal/keyword"
	"github.com/hyperjump/koe/internal/media"
	"github.com/hyperjump/koe/internal/registry"
	"github.com/hyperjump/koe/internal/rerank"
	"github.com/hyperjump/koe/internal/resolver"
	"github.com/hyperjump/koe/internal/retrieval"
	"github.com/hyperjump/koe/internal/storage"
	"github.com/hyperjump/koe/internal/vector"
	"github.com/hyperjump/koe/internal/voiceprint"
)

// Open builds every component described by cfg and loads the persisted stores.
// On error, whatever was already opened is closed.
func Open(ctx context.Context, cfg *config.Config, logger *zap.Logger) (_ *Pipeline, err error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	var closers []func() error
	defer func() {
		if err != nil {
			for i := len(closers) - 1; i >= 0; i-- {
				_ = closers[i]()
			}
		}
	}()

	for _, p := range []string{cfg.Storage.RegistryPath, cfg.Storage.IndexPath} {
		if err := os.MkdirAll(filepath.Dir(p), 0755); err != nil {
			return nil, fmt.Errorf("create data directory: %w", err)
		}
	}

	clipper, err := media.NewClipper(cfg.Media.Clipper, cfg.Media.FFmpegPath, cfg.Media.SampleRate)
	if err != nil {
		return nil, err
	}
	scratch, err := media.NewScratch(cfg.Storage.ScratchDir, clipper, media.WithLogger(logger))
	if err != nil {
		return nil, fmt.Errorf("failed to initialize scratch directory: %w", err)
	}

	voiceModel, err := voiceprint.New(cfg.Voice.Provider, cfg.Capabilities.VoiceEmbedding)
	if err != nil {
		return nil, err
	}
	reg, err := registry.Open(cfg.Storage.RegistryPath, voiceModel,
		registry.WithLogger(logger),
		registry.WithIndexType(indexTypeOrMemory(cfg.Voice.IndexType, logger)))
	if err != nil {
		return nil, fmt.Errorf("failed to open voice registry: %w", err)
	}
	closers = append(closers, reg.Close)

	res := resolver.New(reg, voiceModel, scratch,
		resolver.WithMaxDistance(cfg.Voice.MaxDistance),
		resolver.WithWarnDistance(cfg.Voice.WarnDistance),
		resolver.WithLogger(logger))

	proc := diarization.NewProcessor(
		diarization.NewPyannoteProvider(cfg.Capabilities.Diarization),
		diarization.NewWhisperTranscriber(cfg.Capabilities.Transcription, cfg.Capabilities.WhisperModel),
		scratch,
		diarization.WithWorkers(cfg.Workers.Transcribe),
		diarization.WithLanguage(cfg.Capabilities.Language),
		diarization.WithLogger(logger))

	var catalog storage.Storage
	docOpts := []docstore.Option{docstore.WithLogger(logger)}
	if cfg.Storage.TranscriptsDB != "" {
		db, err := storage.NewSQLiteStorage(cfg.Storage.TranscriptsDB)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize transcript catalog: %w", err)
		}
		closers = append(closers, db.Close)
		catalog = db
		docOpts = append(docOpts, docstore.WithCatalog(db))
	}
	docs, err := docstore.New(ctx, docOpts...)
	if err != nil {
		return nil, err
	}

	embedder, err := embedding.New(cfg.Embedding.Provider, embedding.Options{
		ModelPath:  cfg.Embedding.ModelPath,
		Dimensions: cfg.Embedding.Dimensions,
		MaxTokens:  cfg.Embedding.MaxTokens,
		CacheSize:  cfg.Embedding.CacheSize,
		APIKey:     cfg.Embedding.APIKey,
		BaseURL:    cfg.Embedding.BaseURL,
		Model:      cfg.Embedding.Model,
	})
	if err != nil && cfg.Embedding.Provider == "onnx" {
		logger.Warn("ONNX embedder unavailable, falling back to mock embeddings", zap.Error(err))
		embedder, err = embedding.NewMockEmbedder(cfg.Embedding.Dimensions), nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to initialize embedder: %w", err)
	}
	closers = append(closers, embedder.Close)

	reranker, err := rerank.New(cfg.Rerank.Provider, rerank.Options{
		ModelPath: cfg.Rerank.ModelPath,
		MaxTokens: cfg.Rerank.MaxTokens,
		Sidecar:   cfg.Capabilities.Rerank,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to initialize reranker: %w", err)
	}
	if c, ok := reranker.(io.Closer); ok {
		closers = append(closers, c.Close)
	}

	index, err := retrieval.Open(cfg.Storage.IndexPath, embedder,
		retrieval.WithLogger(logger),
		retrieval.WithReranker(reranker),
		retrieval.WithIndexType(indexTypeOrMemory(cfg.Retrieval.IndexType, logger)),
		retrieval.WithRecallMode(cfg.Retrieval.RecallMode),
		retrieval.WithKeywordOptions(&keyword.SearchOptions{
			PhraseBoost:  cfg.Retrieval.PhraseBoost,
			FuzzyEnabled: cfg.Retrieval.Fuzzy,
		}),
		retrieval.WithHybridWeights(cfg.Retrieval.KeywordWeight, cfg.Retrieval.SemanticWeight),
		retrieval.WithBatchSize(cfg.Retrieval.BatchSize))
	if err != nil {
		return nil, fmt.Errorf("failed to open retrieval index: %w", err)
	}
	closers = append(closers, index.Close)

	generator, err := newGenerator(&cfg.Generation)
	if err != nil {
		return nil, err
	}
	tmpl, err := answer.TemplateByName(cfg.Generation.Template)
	if err != nil {
		return nil, err
	}

	logger.Info("pipeline ready",
		zap.Int("speakers", reg.Size()),
		zap.Int("chunks", docs.Len()),
		zap.Int("indexed", index.Size()),
		zap.String("recall", index.RecallMode()),
		zap.String("reranker", index.RerankerName()),
		zap.Bool("faiss_available", vector.IsFAISSAvailable()))

	// Close covers the registry, index and catalog; the embedder and reranker are extra.
	opts := []Option{
		WithLogger(logger),
		WithRetrieval(cfg.Retrieval.TopK, cfg.Retrieval.RecallK),
		WithAnswerOptions(answer.WithTemplate(tmpl), answer.WithMaxTokens(cfg.Generation.MaxTokens)),
		WithCloser(embedder.Close),
	}
	if c, ok := reranker.(io.Closer); ok {
		opts = append(opts, WithCloser(c.Close))
	}

	return New(Components{
		Registry:    reg,
		Resolver:    res,
		Analyzer:    proc,
		Docs:        docs,
		Index:       index,
		Generator:   generator,
		Scratch:     scratch,
		Catalog:     catalog,
		CatalogPath: cfg.Storage.TranscriptsDB,
	}, opts...), nil
}

// newGenerator returns nil for extractive answers.
func newGenerator(cfg *config.GenerationConfig) (answer.Generator, error) {
	switch cfg.Provider {
	case "none", "extractive", "":
		return nil, nil
	case "openai", "ollama", "vllm":
		return answer.NewOpenAIGenerator(cfg.APIKey, cfg.BaseURL, cfg.Model, cfg.TemperatureOrDefault(), cfg.Timeout), nil
	default:
		return nil, fmt.Errorf("unknown generation provider: %s (supported: openai, none)", cfg.Provider)
	}
}

// indexTypeOrMemory falls back to the memory index when FAISS was requested but not built in.
func indexTypeOrMemory(indexType string, logger *zap.Logger) string {
	if indexType == string(vector.IndexTypeFAISS) && !vector.IsFAISSAvailable() {
		logger.Warn("FAISS not available in this build, falling back to memory index")
		return string(vector.IndexTypeMemory)
	}
	return indexType
}
