package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0600); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoad(t *testing.T) {
	path := writeConfig(t, `
server:
  host: "127.0.0.1"
  port: 9000
voice:
  max_distance: 0.8
  warn_distance: 0.5
retrieval:
  recall_mode: hybrid
  top_k: 5
capabilities:
  diarization:
    base_url: "http://gpu:8388"
    timeout: 10m
generation:
  provider: openai
  model: llama3
  base_url: "http://localhost:11434/v1"
  temperature: 0
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Server.Host != "127.0.0.1" || cfg.Server.Port != 9000 {
		t.Errorf("unexpected server config: %+v", cfg.Server)
	}
	if cfg.Voice.MaxDistance != 0.8 || cfg.Voice.WarnDistance != 0.5 {
		t.Errorf("voice thresholds: %+v", cfg.Voice)
	}
	if cfg.Retrieval.RecallMode != "hybrid" || cfg.Retrieval.TopK != 5 || cfg.Retrieval.RecallK != 20 {
		t.Errorf("retrieval: %+v", cfg.Retrieval)
	}
	if cfg.Capabilities.Diarization.BaseURL != "http://gpu:8388" || cfg.Capabilities.Diarization.Timeout != 10*time.Minute {
		t.Errorf("diarization sidecar: %+v", cfg.Capabilities.Diarization)
	}
	if cfg.Generation.TemperatureOrDefault() != 0 {
		t.Errorf("explicit temperature 0 should be kept, got %v", cfg.Generation.TemperatureOrDefault())
	}
	if cfg.Debug {
		t.Error("debug should default to false when unset")
	}
}

func TestLoad_debugTrue(t *testing.T) {
	cfg, err := Load(writeConfig(t, "debug: true\n"))
	if err != nil {
		t.Fatal(err)
	}
	if !cfg.Debug {
		t.Error("debug should be true when set in config")
	}
}

func TestLoad_invalid(t *testing.T) {
	if _, err := Load(writeConfig(t, "server: [")); err == nil {
		t.Error("expected parse error")
	}
	if _, err := Load(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Error("expected read error")
	}
}

func TestLoad_expandPathDotSlashRelativeToConfigDir(t *testing.T) {
	path := writeConfig(t, `
storage:
  registry_path: "./data/voices"
  index_path: "./data/transcripts"
  transcripts_db: "./data/catalog.db"
watch:
  directories: ["./inbox"]
`)
	dir := filepath.Dir(path)
	cfg, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	for got, want := range map[string]string{
		cfg.Storage.RegistryPath:  filepath.Join(dir, "data", "voices"),
		cfg.Storage.IndexPath:     filepath.Join(dir, "data", "transcripts"),
		cfg.Storage.TranscriptsDB: filepath.Join(dir, "data", "catalog.db"),
	} {
		if got != want {
			t.Errorf("path = %s, want %s", got, want)
		}
	}
	if len(cfg.Watch.Directories) != 1 || cfg.Watch.Directories[0] != filepath.Join(dir, "inbox") {
		t.Errorf("watch directories: got %v", cfg.Watch.Directories)
	}
	if !cfg.Watch.RecursiveOrDefault() {
		t.Error("recursive should default to true")
	}
}

func TestLoad_emptyTranscriptsDBStaysInMemory(t *testing.T) {
	cfg, err := Load(writeConfig(t, "server:\n  port: 1\n"))
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Storage.TranscriptsDB != "" {
		t.Errorf("transcripts_db = %q, want empty", cfg.Storage.TranscriptsDB)
	}
}

func TestApplyDefaults(t *testing.T) {
	cfg := &Config{}
	ApplyDefaults(cfg)
	if cfg.Server.Host != "localhost" || cfg.Server.Port != 8080 {
		t.Errorf("default server: %+v", cfg.Server)
	}
	if cfg.Voice.MaxDistance != 0 {
		t.Errorf("max_distance should default to 0 (always match), got %v", cfg.Voice.MaxDistance)
	}
	if cfg.Retrieval.TopK != 3 || cfg.Retrieval.RecallK != 20 || cfg.Retrieval.RecallMode != "vector" {
		t.Errorf("default retrieval: %+v", cfg.Retrieval)
	}
	if cfg.Retrieval.KeywordWeight != 0.3 || cfg.Retrieval.SemanticWeight != 0.7 {
		t.Errorf("default hybrid weights: %v/%v", cfg.Retrieval.KeywordWeight, cfg.Retrieval.SemanticWeight)
	}
	if cfg.Rerank.Provider != "lexical" {
		t.Errorf("default reranker: %s", cfg.Rerank.Provider)
	}
	if cfg.Generation.MaxTokens != 150 || cfg.Generation.Template != "en" || cfg.Generation.Provider != "none" {
		t.Errorf("default generation: %+v", cfg.Generation)
	}
	if cfg.Generation.TemperatureOrDefault() != -1 {
		t.Errorf("unset temperature should be -1, got %v", cfg.Generation.TemperatureOrDefault())
	}
	if cfg.Workers.Transcribe != 2 {
		t.Errorf("default transcribe workers: %d", cfg.Workers.Transcribe)
	}
	if cfg.Embedding.ModelPath == "" {
		t.Error("onnx embedder should get a default model path")
	}
	if len(cfg.Watch.Extensions) != 8 || cfg.Watch.Extensions[0] != ".txt" {
		t.Errorf("watch extensions: got %v", cfg.Watch.Extensions)
	}
	if cfg.Watch.Recursive != nil {
		t.Error("recursive should stay unset without watch directories")
	}
}

func TestSave_roundTrip(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	cfg := &Config{}
	ApplyDefaults(cfg)
	cfg.Watch.Directories = []string{filepath.Join(dir, "inbox")}
	if err := Save(path, cfg); err != nil {
		t.Fatal(err)
	}
	loaded, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if len(loaded.Watch.Directories) != 1 || loaded.Watch.Directories[0] != cfg.Watch.Directories[0] {
		t.Errorf("watch directories after round trip: %v", loaded.Watch.Directories)
	}
	if loaded.Watch.Debounce != cfg.Watch.Debounce {
		t.Errorf("debounce = %v, want %v", loaded.Watch.Debounce, cfg.Watch.Debounce)
	}
}

func TestExpandPath(t *testing.T) {
	home, err := os.UserHomeDir()
	if err != nil {
		t.Skip("no home directory")
	}
	tests := []struct {
		in, want string
	}{
		{"/abs/path", "/abs/path"},
		{"./rel", "/cfg/rel"},
		{".", "/cfg"},
		{"data/x", filepath.Join(home, "data/x")},
	}
	for _, tt := range tests {
		if got := expandPath(tt.in, "/cfg"); got != tt.want {
			t.Errorf("expandPath(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}
