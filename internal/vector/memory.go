package vector

import (
	"bufio"
	"context"
	"encoding/binary"
	"fmt"
	"io"
	"math"
	"os"
	"sort"
	"sync"

	"github.com/hyperjump/koe/pkg/utils"
)

// memoryMagic opens every file written by MemoryIndex.Save.
const memoryMagic = "KOEV"

// MemoryIndex is a flat index using brute-force search. Exact results; fine up to
// tens of thousands of vectors.
type MemoryIndex struct {
	dimensions int
	metric     Metric
	ids        []string
	vectors    [][]float32
	mu         sync.RWMutex
}

// NewMemoryIndex creates an in-memory vector index with the given dimension and metric.
func NewMemoryIndex(dimensions int, metric Metric) (*MemoryIndex, error) {
	if dimensions <= 0 {
		return nil, fmt.Errorf("dimensions must be positive")
	}
	if metric == "" {
		metric = MetricL2
	}
	return &MemoryIndex{
		dimensions: dimensions,
		metric:     metric,
		ids:        make([]string, 0),
		vectors:    make([][]float32, 0),
	}, nil
}

// Type returns the index type identifier.
func (m *MemoryIndex) Type() string {
	return string(IndexTypeMemory)
}

// Metric returns the comparison metric.
func (m *MemoryIndex) Metric() Metric {
	return m.metric
}

// Dimensions returns the vector dimension.
func (m *MemoryIndex) Dimensions() int {
	return m.dimensions
}

// Add appends vectors with the given IDs. Nothing is added if any vector has the wrong dimension.
func (m *MemoryIndex) Add(ctx context.Context, ids []string, vectors [][]float32) error {
	if len(ids) != len(vectors) {
		return fmt.Errorf("ids and vectors length mismatch")
	}
	for _, v := range vectors {
		if len(v) != m.dimensions {
			return fmt.Errorf("vector dimension mismatch: got %d, expected %d", len(v), m.dimensions)
		}
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	for i, id := range ids {
		vec := make([]float32, m.dimensions)
		copy(vec, vectors[i])
		m.ids = append(m.ids, id)
		m.vectors = append(m.vectors, vec)
	}
	return nil
}

// Search returns the k best vectors under the index metric. Equal scores keep insertion order.
func (m *MemoryIndex) Search(ctx context.Context, query []float32, k int) ([]*VectorResult, error) {
	if len(query) != m.dimensions {
		return nil, fmt.Errorf("query dimension mismatch: got %d, expected %d", len(query), m.dimensions)
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	if k <= 0 || len(m.ids) == 0 {
		return nil, nil
	}
	scores := make([]*VectorResult, len(m.ids))
	for i, vec := range m.vectors {
		scores[i] = &VectorResult{ID: m.ids[i], Score: score(m.metric, query, vec)}
	}
	sort.SliceStable(scores, func(i, j int) bool { return m.metric.Better(scores[i].Score, scores[j].Score) })
	if k > len(scores) {
		k = len(scores)
	}
	return scores[:k], nil
}

// Save persists the index to path atomically. Format: magic (4), metric (4), dimension (4),
// n (4), then per vector: idLen (4), id bytes, vector (dimension*4 bytes). Little endian.
func (m *MemoryIndex) Save(path string) error {
	if path == "" {
		return nil
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	return utils.WriteFileAtomic(path, func(w io.Writer) error {
		if _, err := io.WriteString(w, memoryMagic); err != nil {
			return fmt.Errorf("write magic: %w", err)
		}
		header := []uint32{metricCode(m.metric), uint32(m.dimensions), uint32(len(m.ids))}
		if err := binary.Write(w, binary.LittleEndian, header); err != nil {
			return fmt.Errorf("write header: %w", err)
		}
		for i, id := range m.ids {
			if err := binary.Write(w, binary.LittleEndian, uint32(len(id))); err != nil {
				return fmt.Errorf("write id len: %w", err)
			}
			if _, err := io.WriteString(w, id); err != nil {
				return fmt.Errorf("write id: %w", err)
			}
			if _, err := w.Write(float32SliceToBytes(m.vectors[i])); err != nil {
				return fmt.Errorf("write vector: %w", err)
			}
		}
		return nil
	})
}

// Load reads the index from path and replaces the in-memory contents. Dimension and metric must match.
// If the file does not exist, no error is returned and the index is unchanged.
func (m *MemoryIndex) Load(path string) error {
	if path == "" {
		return nil
	}
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("open index file: %w", err)
	}
	defer f.Close()
	r := bufio.NewReader(f)

	metric, dim, n, err := readMemoryHeader(r)
	if err != nil {
		return err
	}
	if dim != m.dimensions {
		return fmt.Errorf("dimension mismatch: file has %d, index expects %d", dim, m.dimensions)
	}
	if metric != m.metric {
		return fmt.Errorf("metric mismatch: file has %s, index expects %s", metric, m.metric)
	}

	ids := make([]string, 0, n)
	vectors := make([][]float32, 0, n)
	buf := make([]byte, m.dimensions*4)
	for i := 0; i < n; i++ {
		var idLen uint32
		if err := binary.Read(r, binary.LittleEndian, &idLen); err != nil {
			return fmt.Errorf("read id len: %w", err)
		}
		idBytes := make([]byte, idLen)
		if _, err := io.ReadFull(r, idBytes); err != nil {
			return fmt.Errorf("read id: %w", err)
		}
		if _, err := io.ReadFull(r, buf); err != nil {
			return fmt.Errorf("read vector: %w", err)
		}
		ids = append(ids, string(idBytes))
		vectors = append(vectors, bytesToFloat32Slice(buf))
	}

	m.mu.Lock()
	m.ids = ids
	m.vectors = vectors
	m.mu.Unlock()
	return nil
}

// ProbeMemoryIndex reads the metric and dimension stored at path without loading vectors.
func ProbeMemoryIndex(path string) (Metric, int, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", 0, err
	}
	defer f.Close()
	metric, dim, _, err := readMemoryHeader(bufio.NewReader(f))
	return metric, dim, err
}

func readMemoryHeader(r io.Reader) (Metric, int, int, error) {
	magic := make([]byte, len(memoryMagic))
	if _, err := io.ReadFull(r, magic); err != nil {
		return "", 0, 0, fmt.Errorf("read magic: %w", err)
	}
	if string(magic) != memoryMagic {
		return "", 0, 0, fmt.Errorf("not a vector index file")
	}
	var header [3]uint32
	if err := binary.Read(r, binary.LittleEndian, &header); err != nil {
		return "", 0, 0, fmt.Errorf("read header: %w", err)
	}
	metric, err := metricFromCode(header[0])
	if err != nil {
		return "", 0, 0, err
	}
	return metric, int(header[1]), int(header[2]), nil
}

func metricCode(m Metric) uint32 {
	if m == MetricInnerProduct {
		return 1
	}
	return 0
}

func metricFromCode(c uint32) (Metric, error) {
	switch c {
	case 0:
		return MetricL2, nil
	case 1:
		return MetricInnerProduct, nil
	default:
		return "", fmt.Errorf("unknown metric code %d", c)
	}
}

func float32SliceToBytes(s []float32) []byte {
	const size = 4
	out := make([]byte, len(s)*size)
	for i, v := range s {
		binary.LittleEndian.PutUint32(out[i*size:(i+1)*size], math.Float32bits(v))
	}
	return out
}

func bytesToFloat32Slice(b []byte) []float32 {
	const size = 4
	out := make([]float32, len(b)/size)
	for i := range out {
		out[i] = math.Float32frombits(binary.LittleEndian.Uint32(b[i*size : (i+1)*size]))
	}
	return out
}

// Size returns the number of vectors in the index.
func (m *MemoryIndex) Size() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.ids)
}

// Close is a no-op for MemoryIndex.
func (m *MemoryIndex) Close() error {
	return nil
}
