package config

import (
	"os"
	"path/filepath"
	"time"
)

// DataDir is where the persisted stores live unless configured otherwise.
const DataDir = "/usr/local/var/koe/data"

// ApplyDefaults sets default values for any zero values in cfg.
func ApplyDefaults(cfg *Config) {
	if cfg.Server.Host == "" {
		cfg.Server.Host = "localhost"
	}
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8080
	}
	if cfg.Server.MaxUploadMB == 0 {
		cfg.Server.MaxUploadMB = 512
	}
	if cfg.Storage.RegistryPath == "" {
		cfg.Storage.RegistryPath = filepath.Join(DataDir, "voices")
	}
	if cfg.Storage.IndexPath == "" {
		cfg.Storage.IndexPath = filepath.Join(DataDir, "transcripts")
	}
	if cfg.Storage.ScratchDir == "" {
		cfg.Storage.ScratchDir = filepath.Join(os.TempDir(), "koe")
	}
	if cfg.Voice.Provider == "" {
		cfg.Voice.Provider = "http"
	}
	if cfg.Voice.IndexType == "" {
		cfg.Voice.IndexType = "memory"
	}
	if cfg.Embedding.Provider == "" {
		cfg.Embedding.Provider = "onnx"
	}
	if cfg.Embedding.Dimensions == 0 {
		cfg.Embedding.Dimensions = 384
	}
	if cfg.Embedding.MaxTokens == 0 {
		cfg.Embedding.MaxTokens = 256
	}
	if cfg.Embedding.CacheSize == 0 {
		cfg.Embedding.CacheSize = 10000
	}
	if cfg.Embedding.Provider == "onnx" && cfg.Embedding.ModelPath == "" {
		cfg.Embedding.ModelPath = filepath.Join(DataDir, "models", "all-MiniLM-L6-v2.onnx")
	}
	if cfg.Retrieval.IndexType == "" {
		cfg.Retrieval.IndexType = "memory"
	}
	if cfg.Retrieval.RecallMode == "" {
		cfg.Retrieval.RecallMode = "vector"
	}
	if cfg.Retrieval.TopK == 0 {
		cfg.Retrieval.TopK = 3
	}
	if cfg.Retrieval.RecallK == 0 {
		cfg.Retrieval.RecallK = 20
	}
	if cfg.Retrieval.BatchSize == 0 {
		cfg.Retrieval.BatchSize = 64
	}
	if cfg.Retrieval.KeywordWeight == 0 && cfg.Retrieval.SemanticWeight == 0 {
		cfg.Retrieval.KeywordWeight = 0.3
		cfg.Retrieval.SemanticWeight = 0.7
	}
	if cfg.Retrieval.PhraseBoost == 0 {
		cfg.Retrieval.PhraseBoost = 10.0
	}
	if cfg.Rerank.Provider == "" {
		cfg.Rerank.Provider = "lexical"
	}
	if cfg.Rerank.MaxTokens == 0 {
		cfg.Rerank.MaxTokens = 512
	}
	if cfg.Generation.Provider == "" {
		cfg.Generation.Provider = "none"
	}
	if cfg.Generation.MaxTokens == 0 {
		cfg.Generation.MaxTokens = 150
	}
	if cfg.Generation.Template == "" {
		cfg.Generation.Template = "en"
	}
	if cfg.Generation.Timeout == 0 {
		cfg.Generation.Timeout = 120 * time.Second
	}
	if cfg.Capabilities.WhisperModel == "" {
		cfg.Capabilities.WhisperModel = "base"
	}
	if cfg.Media.Clipper == "" {
		cfg.Media.Clipper = "auto"
	}
	if cfg.Media.SampleRate == 0 {
		cfg.Media.SampleRate = 16000
	}
	if cfg.Workers.Transcribe == 0 {
		cfg.Workers.Transcribe = 2
	}
	if cfg.Watch.Extensions == nil {
		cfg.Watch.Extensions = []string{".txt", ".md", ".pdf", ".docx", ".odt", ".rtf", ".xlsx", ".ods"}
	}
	if cfg.Watch.Debounce == 0 {
		cfg.Watch.Debounce = 2 * time.Second
	}
	// Recursive defaults to true when unset (nil).
	if len(cfg.Watch.Directories) > 0 && cfg.Watch.Recursive == nil {
		t := true
		cfg.Watch.Recursive = &t
	}
}
