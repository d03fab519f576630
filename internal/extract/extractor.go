// Package extract reads transcript text out of the document formats people save them in.
// Every extractor keeps one transcript segment per line.
package extract

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/hyperjump/koe/internal/apperr"
)

type extractFunc func(content []byte) (string, error)

var extractors = map[string]extractFunc{
	".txt":  extractPlain,
	".md":   extractPlain,
	".text": extractPlain,
	".pdf":  extractPDF,
	".docx": extractDOCX,
	".odt":  extractOpenDocument,
	".rtf":  extractOpenDocument,
	".xlsx": extractExcel,
	".ods":  extractODS,
}

// Extractor extracts transcript text from files.
type Extractor struct{}

// NewExtractor returns a new Extractor.
func NewExtractor() *Extractor {
	return &Extractor{}
}

// Extensions lists the supported extensions, sorted, with the leading dot.
func Extensions() []string {
	exts := make([]string, 0, len(extractors))
	for ext := range extractors {
		exts = append(exts, ext)
	}
	sort.Strings(exts)
	return exts
}

// Supported reports whether path has an extension Extract understands.
func Supported(path string) bool {
	_, ok := extractors[strings.ToLower(filepath.Ext(path))]
	return ok
}

// Extract reads the file at path and returns its text content.
func (e *Extractor) Extract(path string) (string, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("read file: %w", err)
	}
	return e.ExtractBytes(content, strings.ToLower(filepath.Ext(path)))
}

// ExtractBytes extracts text from content based on ext (with the leading dot).
// Line endings are normalized to "\n".
func (e *Extractor) ExtractBytes(content []byte, ext string) (string, error) {
	fn, ok := extractors[strings.ToLower(ext)]
	if !ok {
		return "", apperr.New(apperr.ErrFormat, "unsupported transcript format %q (supported: %s)", ext, strings.Join(Extensions(), ", "))
	}
	text, err := fn(content)
	if err != nil {
		return "", apperr.Wrap(apperr.ErrFormat, err, "extract %s", ext)
	}
	return normalizeNewlines(text), nil
}

func normalizeNewlines(s string) string {
	s = strings.ReplaceAll(s, "\r\n", "\n")
	return strings.ReplaceAll(s, "\r", "\n")
}
