//go:build faiss && cgo
// +build faiss,cgo

package vector

/*
#cgo CFLAGS: -I/opt/homebrew/include -I/usr/local/include
#cgo LDFLAGS: -L/opt/homebrew/lib -L/usr/local/lib -lfaiss_c

#include <stdlib.h>
#include <faiss/c_api/Index_c.h>
#include <faiss/c_api/IndexFlat_c.h>
#include <faiss/c_api/index_io_c.h>
#include <faiss/c_api/error_c.h>
*/
import "C"

import (
	"context"
	"encoding/gob"
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"unsafe"

	"github.com/hyperjump/koe/pkg/utils"
)

// FAISSIndex wraps a FAISS IndexFlatL2 or IndexFlatIP. FAISS labels are row numbers,
// so the string IDs are kept in insertion order beside it.
type FAISSIndex struct {
	index      *C.FaissIndex
	dimensions int
	metric     Metric
	ids        []string
	mu         sync.RWMutex
}

// NewFAISSIndex creates a flat FAISS index with the given dimension and metric.
func NewFAISSIndex(dimensions int, metric Metric) (*FAISSIndex, error) {
	if dimensions <= 0 {
		return nil, fmt.Errorf("dimensions must be positive")
	}
	if metric == "" {
		metric = MetricL2
	}
	index, err := newFlatIndex(dimensions, metric)
	if err != nil {
		return nil, err
	}
	return &FAISSIndex{index: index, dimensions: dimensions, metric: metric}, nil
}

// LoadFAISSIndex reads an index previously written by Save.
func LoadFAISSIndex(path string, metric Metric) (*FAISSIndex, error) {
	f := &FAISSIndex{metric: metric}
	if err := f.Load(path); err != nil {
		return nil, err
	}
	if f.index == nil {
		return nil, fmt.Errorf("no FAISS index at %s", path)
	}
	return f, nil
}

func newFlatIndex(dimensions int, metric Metric) (*C.FaissIndex, error) {
	var ret C.int
	var index *C.FaissIndex
	switch metric {
	case MetricInnerProduct:
		var ip *C.FaissIndexFlatIP
		ret = C.faiss_IndexFlatIP_new_with(&ip, C.idx_t(dimensions))
		index = (*C.FaissIndex)(unsafe.Pointer(ip))
	default:
		var l2 *C.FaissIndexFlatL2
		ret = C.faiss_IndexFlatL2_new_with(&l2, C.idx_t(dimensions))
		index = (*C.FaissIndex)(unsafe.Pointer(l2))
	}
	if ret != 0 {
		return nil, fmt.Errorf("failed to create FAISS index: %s", faissLastError())
	}
	return index, nil
}

// faissLastError returns the last FAISS error message.
func faissLastError() string {
	cErr := C.faiss_get_last_error()
	if cErr == nil {
		return "unknown error"
	}
	return C.GoString(cErr)
}

// Type returns the index type identifier.
func (f *FAISSIndex) Type() string {
	return string(IndexTypeFAISS)
}

// Metric returns the comparison metric.
func (f *FAISSIndex) Metric() Metric {
	return f.metric
}

// Dimensions returns the vector dimension.
func (f *FAISSIndex) Dimensions() int {
	return f.dimensions
}

// Add appends vectors with the given IDs.
func (f *FAISSIndex) Add(ctx context.Context, ids []string, vectors [][]float32) error {
	if len(ids) != len(vectors) {
		return fmt.Errorf("ids and vectors length mismatch")
	}
	if len(ids) == 0 {
		return nil
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	n := len(vectors)
	flat := make([]float32, n*f.dimensions)
	for i, vec := range vectors {
		if len(vec) != f.dimensions {
			return fmt.Errorf("vector dimension mismatch: got %d, expected %d", len(vec), f.dimensions)
		}
		copy(flat[i*f.dimensions:(i+1)*f.dimensions], vec)
	}

	ret := C.faiss_Index_add(f.index, C.idx_t(n), (*C.float)(unsafe.Pointer(&flat[0])))
	if ret != 0 {
		return fmt.Errorf("failed to add vectors to FAISS index: %s", faissLastError())
	}
	f.ids = append(f.ids, ids...)
	return nil
}

// Search returns the k best vectors. FAISS reports squared L2 distances; they are
// converted to Euclidean distances here.
func (f *FAISSIndex) Search(ctx context.Context, query []float32, k int) ([]*VectorResult, error) {
	if len(query) != f.dimensions {
		return nil, fmt.Errorf("query dimension mismatch: got %d, expected %d", len(query), f.dimensions)
	}

	f.mu.RLock()
	defer f.mu.RUnlock()

	if k <= 0 {
		return nil, nil
	}
	ntotal := int(C.faiss_Index_ntotal(f.index))
	if ntotal == 0 {
		return nil, nil
	}
	if k > ntotal {
		k = ntotal
	}

	distances := make([]float32, k)
	labels := make([]int64, k)
	ret := C.faiss_Index_search(
		f.index,
		1,
		(*C.float)(unsafe.Pointer(&query[0])),
		C.idx_t(k),
		(*C.float)(unsafe.Pointer(&distances[0])),
		(*C.idx_t)(unsafe.Pointer(&labels[0])),
	)
	if ret != 0 {
		return nil, fmt.Errorf("FAISS search failed: %s", faissLastError())
	}

	results := make([]*VectorResult, 0, k)
	for i := 0; i < k; i++ {
		label := labels[i]
		if label < 0 || int(label) >= len(f.ids) {
			continue
		}
		s := float64(distances[i])
		if f.metric == MetricL2 {
			s = math.Sqrt(math.Max(0, s))
		}
		results = append(results, &VectorResult{ID: f.ids[label], Score: s})
	}
	sort.SliceStable(results, func(i, j int) bool {
		return f.metric.Better(results[i].Score, results[j].Score)
	})
	return results, nil
}

// faissIDMapping stores the ID list for persistence.
type faissIDMapping struct {
	Metric Metric
	IDs    []string
}

// Save persists the index to path.faiss and the IDs to path.idmap, each through a temp file.
func (f *FAISSIndex) Save(path string) error {
	f.mu.RLock()
	defer f.mu.RUnlock()

	if path == "" {
		return nil
	}
	faissPath := path + ".faiss"
	if err := os.MkdirAll(filepath.Dir(faissPath), 0755); err != nil {
		return fmt.Errorf("create index dir: %w", err)
	}

	tmpPath := faissPath + ".tmp"
	cPath := C.CString(tmpPath)
	defer C.free(unsafe.Pointer(cPath))
	if ret := C.faiss_write_index_fname(f.index, cPath); ret != 0 {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("failed to save FAISS index: %s", faissLastError())
	}
	if err := os.Rename(tmpPath, faissPath); err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("rename FAISS index: %w", err)
	}

	mapping := faissIDMapping{Metric: f.metric, IDs: f.ids}
	return utils.WriteFileAtomic(path+".idmap", func(w io.Writer) error {
		if err := gob.NewEncoder(w).Encode(mapping); err != nil {
			return fmt.Errorf("encode id map: %w", err)
		}
		return nil
	})
}

// Load reads the index and ID list from path.
// If the files do not exist, no error is returned and the index is unchanged.
func (f *FAISSIndex) Load(path string) error {
	if path == "" {
		return nil
	}
	faissPath := path + ".faiss"
	if _, err := os.Stat(faissPath); os.IsNotExist(err) {
		return nil
	}

	mapFile, err := os.Open(path + ".idmap")
	if err != nil {
		return fmt.Errorf("open id map file: %w", err)
	}
	defer mapFile.Close()
	var mapping faissIDMapping
	if err := gob.NewDecoder(mapFile).Decode(&mapping); err != nil {
		return fmt.Errorf("decode id map: %w", err)
	}
	if f.metric != "" && mapping.Metric != f.metric {
		return fmt.Errorf("metric mismatch: file has %s, index expects %s", mapping.Metric, f.metric)
	}

	cPath := C.CString(faissPath)
	defer C.free(unsafe.Pointer(cPath))
	var loaded *C.FaissIndex
	if ret := C.faiss_read_index_fname(cPath, 0, &loaded); ret != 0 {
		return fmt.Errorf("failed to load FAISS index: %s", faissLastError())
	}
	ntotal := int(C.faiss_Index_ntotal(loaded))
	dim := int(C.faiss_Index_d(loaded))
	if ntotal != len(mapping.IDs) {
		C.faiss_Index_free(loaded)
		return fmt.Errorf("id map has %d entries, index has %d vectors", len(mapping.IDs), ntotal)
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if f.dimensions != 0 && dim != f.dimensions {
		C.faiss_Index_free(loaded)
		return fmt.Errorf("dimension mismatch: file has %d, index expects %d", dim, f.dimensions)
	}
	if f.index != nil {
		C.faiss_Index_free(f.index)
	}
	f.index = loaded
	f.dimensions = dim
	f.metric = mapping.Metric
	f.ids = mapping.IDs
	return nil
}

// Size returns the number of vectors.
func (f *FAISSIndex) Size() int {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return len(f.ids)
}

// Close frees the FAISS index resources.
func (f *FAISSIndex) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.index != nil {
		C.faiss_Index_free(f.index)
		f.index = nil
	}
	return nil
}
