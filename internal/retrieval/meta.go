package retrieval

import (
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/hyperjump/koe/internal/models"
	"github.com/hyperjump/koe/pkg/utils"
)

// chunkMeta is one entry of the persisted chunk list, in index order.
type chunkMeta struct {
	Source  string `json:"source"`
	Ordinal int    `json:"ordinal"`
	Text    string `json:"text"`
}

func writeMeta(path string, chunks []models.Chunk) error {
	list := make([]chunkMeta, len(chunks))
	for i, c := range chunks {
		list[i] = chunkMeta{Source: c.Source, Ordinal: c.Ordinal, Text: c.Text}
	}
	return utils.WriteFileAtomic(path, func(w io.Writer) error {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(list)
	})
}

func readMeta(path string) ([]models.Chunk, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var list []chunkMeta
	if err := json.NewDecoder(f).Decode(&list); err != nil {
		return nil, fmt.Errorf("decode %s: %w", path, err)
	}
	chunks := make([]models.Chunk, len(list))
	for i, m := range list {
		chunks[i] = models.Chunk{Text: m.Text, Source: m.Source, Ordinal: m.Ordinal}
	}
	return chunks, nil
}
