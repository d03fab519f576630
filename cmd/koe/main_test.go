package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/hyperjump/koe/internal/models"
)

func TestJoinArgs(t *testing.T) {
	tests := []struct {
		name     string
		args     []string
		expected string
	}{
		{"single word", []string{"launch"}, "launch"},
		{"multiple words", []string{"launch", "date"}, "launch date"},
		{"single quoted phrase", []string{"launch date"}, "launch date"},
		{"empty args", []string{}, ""},
		{"blank args", []string{"  ", "  "}, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := joinArgs(tt.args); got != tt.expected {
				t.Errorf("joinArgs(%v) = %q, want %q", tt.args, got, tt.expected)
			}
		})
	}
}

func TestTranscriptName(t *testing.T) {
	tests := []struct {
		audio, out, want string
	}{
		{"/rec/meeting.wav", "", "meeting.txt"},
		{"/rec/meeting.wav", "/notes/monday.txt", "monday.txt"},
		{"call", "", "call.txt"},
	}
	for _, tt := range tests {
		if got := transcriptName(tt.audio, tt.out); got != tt.want {
			t.Errorf("transcriptName(%q, %q) = %q, want %q", tt.audio, tt.out, got, tt.want)
		}
	}
}

func TestLoadConfig_prefersCwdConfigWhenDefaultPath(t *testing.T) {
	dir := t.TempDir()
	configPath := filepath.Join(dir, "config.yaml")
	content := `
debug: true
server:
  host: "localhost"
  port: 8080
storage:
  registry_path: "./data/voices"
`
	if err := os.WriteFile(configPath, []byte(content), 0600); err != nil {
		t.Fatal(err)
	}
	origWd, err := os.Getwd()
	if err != nil {
		t.Fatal(err)
	}
	defer func() { _ = os.Chdir(origWd) }()
	if err := os.Chdir(dir); err != nil {
		t.Fatal(err)
	}

	cfg, resolved, err := loadConfig(defaultConfigPath)
	if err != nil {
		t.Fatal(err)
	}
	// On macOS, cwd can be /private/var/... while configPath from t.TempDir() is /var/...; compare canonical paths.
	resolvedCanon, _ := filepath.EvalSymlinks(resolved)
	configPathCanon, _ := filepath.EvalSymlinks(configPath)
	if resolvedCanon != configPathCanon {
		t.Errorf("resolved path = %s (canon %s), want %s (canon %s)", resolved, resolvedCanon, configPath, configPathCanon)
	}
	if !cfg.Debug {
		t.Error("debug should be true from cwd config.yaml")
	}
}

func TestLoadConfig_usesExplicitPath(t *testing.T) {
	dir := t.TempDir()
	configPath := filepath.Join(dir, "config.yaml")
	content := `
server:
  host: "127.0.0.1"
  port: 9000
`
	if err := os.WriteFile(configPath, []byte(content), 0600); err != nil {
		t.Fatal(err)
	}

	cfg, resolved, err := loadConfig(configPath)
	if err != nil {
		t.Fatal(err)
	}
	if resolved != configPath {
		t.Errorf("resolved path = %s, want %s", resolved, configPath)
	}
	if cfg.Server.Host != "127.0.0.1" || cfg.Server.Port != 9000 {
		t.Errorf("unexpected server config: %+v", cfg.Server)
	}
}

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	root := newRootCmd()
	var out, errOut bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&errOut)
	root.SetArgs(args)
	err := root.Execute()
	return out.String(), err
}

func TestVersionCommand(t *testing.T) {
	out, err := execute(t, "version")
	if err != nil {
		t.Fatal(err)
	}
	if out != "koe version dev\n" {
		t.Errorf("version output = %q", out)
	}
}

func TestUnknownOutputFormat(t *testing.T) {
	if _, err := execute(t, "status", "--server", "http://127.0.0.1:1", "-o", "yaml"); err == nil {
		t.Error("expected an error for an unknown output format")
	}
}

// localConfig writes a config that keeps every model in process.
func localConfig(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	content := `
storage:
  registry_path: "./data/voices"
  index_path: "./data/transcripts"
  transcripts_db: "./data/transcripts.db"
  scratch_dir: "./scratch"
voice:
  provider: spectral
embedding:
  provider: mock
  dimensions: 32
media:
  clipper: wav
`
	if err := os.WriteFile(path, []byte(content), 0600); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestIngestBuildQuery_Local(t *testing.T) {
	cfgPath := localConfig(t)
	transcripts := filepath.Join(filepath.Dir(cfgPath), "inbox")
	if err := os.MkdirAll(transcripts, 0755); err != nil {
		t.Fatal(err)
	}
	text := "[Alice 0.00-1.00] the launch moved to friday\n[Bob 1.00-2.00] lunch is at noon\n"
	if err := os.WriteFile(filepath.Join(transcripts, "plan.txt"), []byte(text), 0644); err != nil {
		t.Fatal(err)
	}

	out, err := execute(t, "ingest", "-c", cfgPath, "--build", transcripts)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(out, "plan.txt: 2 chunks") {
		t.Errorf("ingest output = %q", out)
	}

	out, err = execute(t, "query", "-c", cfgPath, "--server", "", "-o", "json", "-k", "1", "launch", "friday")
	if err != nil {
		t.Fatal(err)
	}
	var resp models.QueryResponse
	if err := json.Unmarshal([]byte(out), &resp); err != nil {
		t.Fatalf("query output is not JSON: %v\n%s", err, out)
	}
	if len(resp.Results) != 1 || resp.Results[0].Chunk.Text != "the launch moved to friday" {
		t.Errorf("query results = %+v", resp.Results)
	}

	out, err = execute(t, "answer", "-c", cfgPath, "--server", "", "when is the launch")
	if err != nil {
		t.Fatal(err)
	}
	if !strings.HasPrefix(out, "the launch moved to friday\n") {
		t.Errorf("answer output = %q", out)
	}

	// same file again is skipped
	out, err = execute(t, "ingest", "-c", cfgPath, filepath.Join(transcripts, "plan.txt"))
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(out, "unchanged, skipped") {
		t.Errorf("second ingest output = %q", out)
	}

	out, err = execute(t, "status", "-c", cfgPath, "--server", "")
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(out, "Transcripts:  1 (1 sources, 2 chunks)") {
		t.Errorf("status output = %q", out)
	}
}

func TestAPIClient(t *testing.T) {
	var added, removed string
	mux := http.NewServeMux()
	mux.HandleFunc("/api/v1/query", func(w http.ResponseWriter, r *http.Request) {
		var req models.QueryRequest
		_ = json.NewDecoder(r.Body).Decode(&req)
		_ = json.NewEncoder(w).Encode(models.QueryResponse{Query: req.Query, Results: []models.RetrievedChunk{{Rank: 1}}})
	})
	mux.HandleFunc("/api/v1/answer", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusConflict)
		_, _ = w.Write([]byte(`{"error":"index not built","stage":"retrieval"}`))
	})
	mux.HandleFunc("/api/v1/status", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"status":{"speakers":2,"chunks":5},"watch_directories":["/inbox"]}`))
	})
	mux.HandleFunc("/api/v1/watch/directories", func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodPost:
			var body struct {
				Path string `json:"path"`
			}
			_ = json.NewDecoder(r.Body).Decode(&body)
			added = body.Path
			w.WriteHeader(http.StatusCreated)
		case http.MethodDelete:
			removed = r.URL.Query().Get("path")
		default:
			_, _ = w.Write([]byte(`{"directories":["/a","/b"]}`))
		}
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	ctx := context.Background()
	c := newAPIClient(srv.URL + "/")

	qr, err := c.Query(ctx, models.QueryRequest{Query: "launch"})
	if err != nil {
		t.Fatal(err)
	}
	if qr.Query != "launch" || len(qr.Results) != 1 {
		t.Errorf("query response = %+v", qr)
	}

	_, err = c.Answer(ctx, "when")
	var apiErr *apiError
	if !errors.As(err, &apiErr) {
		t.Fatalf("expected apiError, got %v", err)
	}
	if apiErr.Status != http.StatusConflict || apiErr.Stage != "retrieval" || apiErr.Message != "index not built" {
		t.Errorf("apiError = %+v", apiErr)
	}

	st, dirs, err := c.Status(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if st.Speakers != 2 || st.Chunks != 5 || len(dirs) != 1 {
		t.Errorf("status = %+v, dirs = %v", st, dirs)
	}

	if err := c.WatchAdd(ctx, "/inbox/new dir"); err != nil {
		t.Fatal(err)
	}
	if added != "/inbox/new dir" {
		t.Errorf("added = %q", added)
	}
	if err := c.WatchRemove(ctx, "/inbox/new dir"); err != nil {
		t.Fatal(err)
	}
	if removed != "/inbox/new dir" {
		t.Errorf("removed = %q", removed)
	}
	list, err := c.WatchList(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(list) != 2 {
		t.Errorf("list = %v", list)
	}
}
