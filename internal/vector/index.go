// Package vector provides flat vector indexes with L2 or inner-product search.
package vector

import (
	"context"
	"fmt"
)

// Metric selects how vectors are compared.
type Metric string

const (
	// MetricL2 ranks by Euclidean distance, closest first. Used for voiceprints.
	MetricL2 Metric = "l2"
	// MetricInnerProduct ranks by dot product, largest first. With L2-normalized
	// vectors this is cosine similarity. Used for text chunks.
	MetricInnerProduct Metric = "ip"
)

// ParseMetric accepts "l2" or "ip" ("" means l2).
func ParseMetric(s string) (Metric, error) {
	switch Metric(s) {
	case MetricL2, "":
		return MetricL2, nil
	case MetricInnerProduct:
		return MetricInnerProduct, nil
	default:
		return "", fmt.Errorf("unknown metric: %s (supported: l2, ip)", s)
	}
}

// Better reports whether score a ranks ahead of score b under m.
func (m Metric) Better(a, b float64) bool {
	if m == MetricL2 {
		return a < b
	}
	return a > b
}

// VectorIndex is an append-only vector store. IDs are assigned by the caller and
// returned verbatim by Search.
type VectorIndex interface {
	Add(ctx context.Context, ids []string, vectors [][]float32) error
	Search(ctx context.Context, query []float32, k int) ([]*VectorResult, error)
	Save(path string) error
	Load(path string) error
	Size() int
	Dimensions() int
	Metric() Metric
	Close() error
}

// VectorResult is a single search hit.
type VectorResult struct {
	ID string
	// Score is the Euclidean distance for MetricL2 and the inner product for MetricInnerProduct.
	Score float64
}
