package media

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Scratch owns a directory of short-lived audio files. Every file it hands out comes with a
// release func that deletes it; callers defer the release so files go away on every path.
type Scratch struct {
	dir     string
	clipper Clipper
	logger  *zap.Logger
}

// ScratchOption configures a Scratch.
type ScratchOption func(*Scratch)

// WithLogger sets the logger.
func WithLogger(logger *zap.Logger) ScratchOption {
	return func(s *Scratch) { s.logger = logger }
}

// NewScratch creates a scratch area in dir (os.TempDir when empty).
func NewScratch(dir string, clipper Clipper, opts ...ScratchOption) (*Scratch, error) {
	if dir == "" {
		dir = os.TempDir()
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("create scratch dir: %w", err)
	}
	s := &Scratch{dir: dir, clipper: clipper}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Dir returns the scratch directory.
func (s *Scratch) Dir() string { return s.dir }

// Clip writes the spans of src into a fresh temp WAV.
func (s *Scratch) Clip(ctx context.Context, src string, spans []Span) (string, func(), error) {
	path := s.newPath("clip", ".wav")
	release := s.releaser(path)
	if err := s.clipper.Extract(ctx, src, spans, path); err != nil {
		release()
		return "", func() {}, err
	}
	return path, release, nil
}

// Save copies r into a fresh temp file with the given extension (e.g. an uploaded recording).
func (s *Scratch) Save(r io.Reader, ext string) (string, func(), error) {
	path := s.newPath("upload", ext)
	release := s.releaser(path)
	f, err := os.Create(path)
	if err != nil {
		return "", func() {}, fmt.Errorf("create %s: %w", path, err)
	}
	if _, err := io.Copy(f, r); err != nil {
		f.Close()
		release()
		return "", func() {}, fmt.Errorf("write %s: %w", path, err)
	}
	if err := f.Close(); err != nil {
		release()
		return "", func() {}, fmt.Errorf("close %s: %w", path, err)
	}
	return path, release, nil
}

func (s *Scratch) newPath(prefix, ext string) string {
	return filepath.Join(s.dir, prefix+"-"+uuid.NewString()+ext)
}

func (s *Scratch) releaser(path string) func() {
	return func() {
		if err := os.Remove(path); err != nil && !os.IsNotExist(err) && s.logger != nil {
			s.logger.Warn("failed to remove temp audio", zap.String("path", path), zap.Error(err))
		}
	}
}
