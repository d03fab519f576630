package watcher

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/hyperjump/koe/internal/pipeline"
)

// fakeSink records ingested paths and counts rebuilds.
type fakeSink struct {
	mu       sync.Mutex
	ingested []string
	builds   int
	seen     map[string]bool
}

func newFakeSink() *fakeSink {
	return &fakeSink{seen: make(map[string]bool)}
}

func (s *fakeSink) IngestFile(_ context.Context, path string) (*pipeline.IngestResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if strings.Contains(path, "broken") {
		return nil, errors.New("unreadable")
	}
	res := &pipeline.IngestResult{Source: filepath.Base(path)}
	if s.seen[path] {
		res.Skipped = true
		return res, nil
	}
	s.seen[path] = true
	s.ingested = append(s.ingested, path)
	if !strings.Contains(path, "empty") {
		res.Added = 1
	}
	return res, nil
}

func (s *fakeSink) Build(context.Context) error {
	s.mu.Lock()
	s.builds++
	s.mu.Unlock()
	return nil
}

func (s *fakeSink) snapshot() ([]string, int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.ingested...), s.builds
}

// waitFor polls cond until it holds or the timeout elapses.
func waitFor(t *testing.T, timeout time.Duration, cond func() bool) bool {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return true
		}
		time.Sleep(20 * time.Millisecond)
	}
	return cond()
}

func hasSuffix(paths []string, suffix string) bool {
	for _, p := range paths {
		if strings.HasSuffix(p, suffix) {
			return true
		}
	}
	return false
}

func fastWatcher(roots []string, sink Sink, opts ...Option) *Watcher {
	opts = append([]Option{
		WithDebounce(50 * time.Millisecond),
		WithBuildDelay(100 * time.Millisecond),
	}, opts...)
	return New(roots, sink, opts...)
}

func TestWatcher_AddRemoveDirectories(t *testing.T) {
	dir := t.TempDir()
	w := fastWatcher(nil, newFakeSink(), WithExtensions([]string{".txt"}))
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := w.Start(ctx); err != nil {
		t.Fatal(err)
	}
	defer w.Stop()

	if err := w.AddDirectory(dir, false); err != nil {
		t.Fatal(err)
	}
	if err := w.AddDirectory(dir, false); err != nil {
		t.Fatal(err)
	}
	dirs := w.Directories()
	if len(dirs) != 1 || filepath.Clean(dirs[0]) != filepath.Clean(dir) {
		t.Errorf("Directories() = %v", dirs)
	}

	if err := w.RemoveDirectory(dir); err != nil {
		t.Fatal(err)
	}
	if len(w.Directories()) != 0 {
		t.Errorf("after remove: %v", w.Directories())
	}
}

func TestWatcher_IngestsNewTranscriptAndRebuilds(t *testing.T) {
	dir := t.TempDir()
	sink := newFakeSink()
	w := fastWatcher([]string{dir}, sink, WithExtensions([]string{".txt"}))
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := w.Start(ctx); err != nil {
		t.Fatal(err)
	}
	defer w.Stop()

	if err := writeFile(filepath.Join(dir, "standup.txt"), "[A 0.00-1.00] hi\n"); err != nil {
		t.Fatal(err)
	}
	if err := writeFile(filepath.Join(dir, "standup.md"), "[A 0.00-1.00] hi\n"); err != nil {
		t.Fatal(err)
	}

	ok := waitFor(t, 3*time.Second, func() bool {
		_, builds := sink.snapshot()
		return builds >= 1
	})
	if !ok {
		t.Fatal("index was not rebuilt after ingesting a transcript")
	}
	ingested, _ := sink.snapshot()
	if len(ingested) != 1 || !strings.HasSuffix(ingested[0], "standup.txt") {
		t.Errorf("ingested: got %v, want only standup.txt", ingested)
	}
}

func TestWatcher_NoRebuildWithoutChunks(t *testing.T) {
	dir := t.TempDir()
	sink := newFakeSink()
	w := fastWatcher([]string{dir}, sink)
	if err := w.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	defer w.Stop()

	if err := writeFile(filepath.Join(dir, "empty.txt"), "no segments here"); err != nil {
		t.Fatal(err)
	}
	if err := writeFile(filepath.Join(dir, "broken.txt"), "x"); err != nil {
		t.Fatal(err)
	}
	if !waitFor(t, 3*time.Second, func() bool {
		ingested, _ := sink.snapshot()
		return hasSuffix(ingested, "empty.txt")
	}) {
		t.Fatal("empty.txt was not ingested")
	}
	time.Sleep(300 * time.Millisecond)
	if _, builds := sink.snapshot(); builds != 0 {
		t.Errorf("builds: got %d, want 0", builds)
	}
}

func TestWatcher_Accepts(t *testing.T) {
	w := New(nil, newFakeSink(), WithExtensions([]string{".txt", "md"}))
	tests := []struct {
		path string
		want bool
	}{
		{"/a/b.txt", true},
		{"/a/b.TXT", true},
		{"/a/b.md", true},
		{"/a/b.pdf", false},
		{"/a/b", false},
		{"/a/.hidden.txt", false},
		{"/a/~$notes.txt", false},
	}
	for _, tt := range tests {
		if got := w.accepts(tt.path); got != tt.want {
			t.Errorf("accepts(%q) = %v, want %v", tt.path, got, tt.want)
		}
	}

	all := New(nil, newFakeSink())
	if !all.accepts("/a/b.docx") || all.accepts("/a/b.wav") {
		t.Error("without extensions every supported format should be accepted")
	}
}

func TestInDir(t *testing.T) {
	tests := []struct {
		dir  string
		path string
		want bool
	}{
		{"/tmp/a", "/tmp/a", true},
		{"/tmp/a", "/tmp/a/b.txt", true},
		{"/tmp/a", "/tmp/b", false},
		{"/tmp/a", "/tmp/a/../b", false},
	}
	for _, tt := range tests {
		got := inDir(tt.dir, tt.path)
		if got != tt.want {
			t.Errorf("inDir(%q, %q) = %v, want %v", tt.dir, tt.path, got, tt.want)
		}
	}
}

func TestWatcher_SyncExistingFiles(t *testing.T) {
	dir := t.TempDir()
	if err := writeFile(filepath.Join(dir, "a.txt"), "hello"); err != nil {
		t.Fatal(err)
	}
	if err := writeFile(filepath.Join(dir, "ignore.xyz"), "x"); err != nil {
		t.Fatal(err)
	}
	if err := mkdirAll(filepath.Join(dir, "sub")); err != nil {
		t.Fatal(err)
	}
	if err := writeFile(filepath.Join(dir, "sub", "b.txt"), "nested"); err != nil {
		t.Fatal(err)
	}

	sink := newFakeSink()
	w := fastWatcher([]string{dir}, sink, WithExtensions([]string{".txt"}), WithRecursive(false))
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := w.Start(ctx); err != nil {
		t.Fatal(err)
	}
	defer w.Stop()
	w.SyncExistingFiles()

	ingested, _ := sink.snapshot()
	if len(ingested) != 1 || !strings.HasSuffix(ingested[0], "a.txt") {
		t.Errorf("expected only a.txt to be ingested, got %v", ingested)
	}

	// a second sync finds nothing new
	w.SyncExistingFiles()
	if again, _ := sink.snapshot(); len(again) != 1 {
		t.Errorf("second sync ingested %v", again)
	}
}

func TestWatcher_Start_createsMissingRootDirectory(t *testing.T) {
	base := t.TempDir()
	root := filepath.Join(base, "watch", "me")

	w := New([]string{root}, newFakeSink())
	if err := w.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	defer w.Stop()

	if _, err := os.Stat(root); err != nil {
		t.Errorf("root directory should exist after Start: %v", err)
	}
}

func TestWatcher_HandleNewDirectory(t *testing.T) {
	dir := t.TempDir()
	sink := newFakeSink()
	w := fastWatcher([]string{dir}, sink, WithExtensions([]string{".txt", ".md"}))
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := w.Start(ctx); err != nil {
		t.Fatal(err)
	}
	defer w.Stop()

	// Simulate copying a folder of transcripts into the watched directory
	nested := filepath.Join(dir, "2024", "march")
	if err := mkdirAll(nested); err != nil {
		t.Fatal(err)
	}
	if err := writeFile(filepath.Join(nested, "doc1.txt"), "hello"); err != nil {
		t.Fatal(err)
	}
	if err := writeFile(filepath.Join(nested, "doc2.md"), "world"); err != nil {
		t.Fatal(err)
	}
	if err := writeFile(filepath.Join(nested, "ignore.xyz"), "skip"); err != nil {
		t.Fatal(err)
	}

	ok := waitFor(t, 3*time.Second, func() bool {
		ingested, _ := sink.snapshot()
		return hasSuffix(ingested, "doc1.txt") && hasSuffix(ingested, "doc2.md")
	})
	ingested, _ := sink.snapshot()
	if !ok {
		t.Errorf("expected doc1.txt and doc2.md to be ingested, got %v", ingested)
	}
	if hasSuffix(ingested, "ignore.xyz") {
		t.Errorf("ignore.xyz should not be ingested")
	}
}

func TestWatcher_StopCancelsPendingWork(t *testing.T) {
	dir := t.TempDir()
	sink := newFakeSink()
	w := New([]string{dir}, sink, WithDebounce(time.Hour))
	if err := w.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	if err := writeFile(filepath.Join(dir, "late.txt"), "x"); err != nil {
		t.Fatal(err)
	}
	time.Sleep(100 * time.Millisecond)
	w.Stop()
	w.Stop()

	if ingested, _ := sink.snapshot(); len(ingested) != 0 {
		t.Errorf("ingested after stop: %v", ingested)
	}
}

func mkdirAll(path string) error {
	return os.MkdirAll(path, 0755)
}

func writeFile(path, content string) error {
	return os.WriteFile(path, []byte(content), 0600)
}
