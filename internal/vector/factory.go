package vector

import (
	"fmt"
	"io/fs"
	"os"
)

// IndexType represents the type of vector index to use.
type IndexType string

const (
	// IndexTypeMemory uses in-memory brute-force search. Good for small datasets (<10k vectors).
	IndexTypeMemory IndexType = "memory"
	// IndexTypeFAISS uses a FAISS flat index. Requires the FAISS C library and build tag -tags=faiss.
	IndexTypeFAISS IndexType = "faiss"
)

// NewVectorIndex creates an empty vector index of the specified type.
// Supported types: "memory" (default), "faiss".
func NewVectorIndex(indexType string, metric Metric, dimensions int) (VectorIndex, error) {
	switch IndexType(indexType) {
	case IndexTypeMemory, "":
		return NewMemoryIndex(dimensions, metric)
	case IndexTypeFAISS:
		idx, err := NewFAISSIndex(dimensions, metric)
		if err != nil {
			return nil, err
		}
		return idx, nil
	default:
		return nil, fmt.Errorf("unknown index type: %s (supported: memory, faiss)", indexType)
	}
}

// LoadVectorIndex opens the index persisted at path, reading its dimension from the file.
// Returns an error wrapping fs.ErrNotExist when nothing was saved there yet.
func LoadVectorIndex(indexType string, metric Metric, path string) (VectorIndex, error) {
	if !IndexExists(indexType, path) {
		return nil, fmt.Errorf("load %s: %w", path, fs.ErrNotExist)
	}
	switch IndexType(indexType) {
	case IndexTypeMemory, "":
		fileMetric, dim, err := ProbeMemoryIndex(path)
		if err != nil {
			return nil, fmt.Errorf("probe %s: %w", path, err)
		}
		if fileMetric != metric {
			return nil, fmt.Errorf("metric mismatch: file has %s, expected %s", fileMetric, metric)
		}
		idx, err := NewMemoryIndex(dim, metric)
		if err != nil {
			return nil, err
		}
		if err := idx.Load(path); err != nil {
			return nil, err
		}
		return idx, nil
	case IndexTypeFAISS:
		idx, err := LoadFAISSIndex(path, metric)
		if err != nil {
			return nil, err
		}
		return idx, nil
	default:
		return nil, fmt.Errorf("unknown index type: %s (supported: memory, faiss)", indexType)
	}
}

// IndexFiles lists the files an index of indexType writes for path.
func IndexFiles(indexType, path string) []string {
	if IndexType(indexType) == IndexTypeFAISS {
		return []string{path + ".faiss", path + ".idmap"}
	}
	return []string{path}
}

// IndexExists reports whether an index of indexType has been saved at path.
func IndexExists(indexType, path string) bool {
	if path == "" {
		return false
	}
	_, err := os.Stat(IndexFiles(indexType, path)[0])
	return err == nil
}

// IsFAISSAvailable returns true if FAISS support is compiled in.
// This is determined by the build tag -tags=faiss.
func IsFAISSAvailable() bool {
	idx, err := NewFAISSIndex(1, MetricL2)
	if err != nil {
		return false
	}
	_ = idx.Close()
	return true
}
