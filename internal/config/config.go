// Package config provides configuration loading and structs for koe.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/hyperjump/koe/internal/sidecar"
)

// Config holds all configuration for the application.
type Config struct {
	Debug        bool               `yaml:"debug"`
	Server       ServerConfig       `yaml:"server"`
	Storage      StorageConfig      `yaml:"storage"`
	Voice        VoiceConfig        `yaml:"voice"`
	Embedding    EmbeddingConfig    `yaml:"embedding"`
	Retrieval    RetrievalConfig    `yaml:"retrieval"`
	Rerank       RerankConfig       `yaml:"rerank"`
	Generation   GenerationConfig   `yaml:"generation"`
	Capabilities CapabilitiesConfig `yaml:"capabilities"`
	Media        MediaConfig        `yaml:"media"`
	Workers      WorkersConfig      `yaml:"workers"`
	Watch        WatchConfig        `yaml:"watch"`
}

// WatchConfig holds inbox watch settings. Transcripts dropped into a watched directory are
// ingested and the retrieval index is rebuilt.
type WatchConfig struct {
	Directories []string `yaml:"directories"`
	Extensions  []string `yaml:"extensions"`
	Recursive   *bool    `yaml:"recursive"`
	// Debounce delays the index rebuild after a burst of ingested files.
	Debounce time.Duration `yaml:"debounce"`
}

// RecursiveOrDefault returns whether to watch recursively; defaults to true when unset.
func (w *WatchConfig) RecursiveOrDefault() bool {
	if w.Recursive != nil {
		return *w.Recursive
	}
	return true
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
	// MaxUploadMB bounds multipart audio and transcript uploads.
	MaxUploadMB int64 `yaml:"max_upload_mb"`
}

// StorageConfig holds paths for the persisted stores. RegistryPath and IndexPath are path
// prefixes: the stores add their own extensions.
type StorageConfig struct {
	RegistryPath string `yaml:"registry_path"`
	IndexPath    string `yaml:"index_path"`
	// TranscriptsDB is the SQLite catalog of ingested transcripts; empty keeps them in memory.
	TranscriptsDB string `yaml:"transcripts_db"`
	ScratchDir    string `yaml:"scratch_dir"`
}

// VoiceConfig holds speaker embedding and resolution settings.
type VoiceConfig struct {
	Provider  string `yaml:"provider"`
	IndexType string `yaml:"index_type"`
	// MaxDistance leaves a speaker unresolved when the nearest identity is farther; 0 always matches.
	MaxDistance float64 `yaml:"max_distance"`
	// WarnDistance logs accepted matches farther than this; 0 disables the warning.
	WarnDistance float64 `yaml:"warn_distance"`
}

// EmbeddingConfig holds text embedder settings.
type EmbeddingConfig struct {
	Provider   string `yaml:"provider"`
	ModelPath  string `yaml:"model_path"`
	Dimensions int    `yaml:"dimensions"`
	MaxTokens  int    `yaml:"max_tokens"`
	CacheSize  int    `yaml:"cache_size"`
	APIKey     string `yaml:"api_key"`
	BaseURL    string `yaml:"base_url"`
	Model      string `yaml:"model"`
}

// RetrievalConfig holds retrieval index and query settings.
type RetrievalConfig struct {
	IndexType      string  `yaml:"index_type"`
	RecallMode     string  `yaml:"recall_mode"`
	TopK           int     `yaml:"top_k"`
	RecallK        int     `yaml:"recall_k"`
	BatchSize      int     `yaml:"batch_size"`
	KeywordWeight  float64 `yaml:"keyword_weight"`
	SemanticWeight float64 `yaml:"semantic_weight"`
	Fuzzy          bool    `yaml:"fuzzy"`
	PhraseBoost    float64 `yaml:"phrase_boost"`
}

// RerankConfig selects the second retrieval stage.
type RerankConfig struct {
	Provider  string `yaml:"provider"`
	ModelPath string `yaml:"model_path"`
	MaxTokens int    `yaml:"max_tokens"`
}

// GenerationConfig holds answer generation settings.
type GenerationConfig struct {
	// Provider is "openai" (any OpenAI-compatible endpoint) or "none" for extractive answers.
	Provider    string        `yaml:"provider"`
	APIKey      string        `yaml:"api_key"`
	BaseURL     string        `yaml:"base_url"`
	Model       string        `yaml:"model"`
	Temperature *float64      `yaml:"temperature"`
	MaxTokens   int           `yaml:"max_tokens"`
	Template    string        `yaml:"template"`
	Timeout     time.Duration `yaml:"timeout"`
}

// TemperatureOrDefault returns the configured temperature, or -1 to leave it to the provider.
func (g *GenerationConfig) TemperatureOrDefault() float64 {
	if g.Temperature != nil {
		return *g.Temperature
	}
	return -1
}

// CapabilitiesConfig holds the addresses of the model sidecars.
type CapabilitiesConfig struct {
	Diarization    sidecar.Config `yaml:"diarization"`
	Transcription  sidecar.Config `yaml:"transcription"`
	VoiceEmbedding sidecar.Config `yaml:"voice_embedding"`
	Rerank         sidecar.Config `yaml:"rerank"`
	WhisperModel   string         `yaml:"whisper_model"`
	Language       string         `yaml:"language"`
}

// MediaConfig holds audio clipping settings.
type MediaConfig struct {
	// Clipper is "wav", "ffmpeg" or "auto" (ffmpeg when found on PATH).
	Clipper    string `yaml:"clipper"`
	FFmpegPath string `yaml:"ffmpeg_path"`
	SampleRate int    `yaml:"sample_rate"`
}

// WorkersConfig bounds concurrent capability calls.
type WorkersConfig struct {
	Transcribe int `yaml:"transcribe"`
}

// Load reads and parses the config file at path, expands paths, and applies defaults.
// Returns an error if the file cannot be read or parsed.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	ApplyDefaults(&cfg)

	configDir := filepath.Dir(path)
	cfg.Storage.RegistryPath = expandPath(cfg.Storage.RegistryPath, configDir)
	cfg.Storage.IndexPath = expandPath(cfg.Storage.IndexPath, configDir)
	cfg.Storage.ScratchDir = expandPath(cfg.Storage.ScratchDir, configDir)
	if cfg.Storage.TranscriptsDB != "" {
		cfg.Storage.TranscriptsDB = expandPath(cfg.Storage.TranscriptsDB, configDir)
	}
	if cfg.Embedding.ModelPath != "" {
		cfg.Embedding.ModelPath = expandPath(cfg.Embedding.ModelPath, configDir)
	}
	if cfg.Rerank.ModelPath != "" {
		cfg.Rerank.ModelPath = expandPath(cfg.Rerank.ModelPath, configDir)
	}
	for i := range cfg.Watch.Directories {
		cfg.Watch.Directories[i] = expandPath(cfg.Watch.Directories[i], configDir)
	}

	return &cfg, nil
}

// Save writes the config to path. Used for persisting watch directory add/remove.
func Save(path string, cfg *Config) error {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}
	return nil
}

// expandPath converts a path to absolute. Paths starting with "./" are relative to configDir;
// other relative paths are relative to the home directory.
func expandPath(path string, configDir string) string {
	if filepath.IsAbs(path) {
		return path
	}
	if strings.HasPrefix(path, "./") || path == "." {
		return filepath.Join(configDir, path)
	}
	if home, err := os.UserHomeDir(); err == nil {
		return filepath.Join(home, path)
	}
	return path
}
