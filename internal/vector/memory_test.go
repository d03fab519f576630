package vector

import (
	"context"
	"math"
	"os"
	"path/filepath"
	"testing"
)

func TestMemoryIndex_InnerProduct(t *testing.T) {
	idx, err := NewMemoryIndex(3, MetricInnerProduct)
	if err != nil {
		t.Fatal(err)
	}
	defer idx.Close()
	ctx := context.Background()

	vecs := [][]float32{
		{1, 0, 0},
		{0.9, 0.1, 0},
		{0, 1, 0},
	}
	ids := []string{"a", "b", "c"}
	if err := idx.Add(ctx, ids, vecs); err != nil {
		t.Fatal(err)
	}
	if idx.Size() != 3 {
		t.Errorf("Size=%d", idx.Size())
	}

	results, err := idx.Search(ctx, []float32{1, 0, 0}, 2)
	if err != nil {
		t.Fatal(err)
	}
	if len(results) != 2 {
		t.Fatalf("expected 2 results, got %d", len(results))
	}
	if results[0].ID != "a" || results[1].ID != "b" {
		t.Errorf("order = %s, %s; want a, b", results[0].ID, results[1].ID)
	}
}

func TestMemoryIndex_L2(t *testing.T) {
	idx, _ := NewMemoryIndex(2, MetricL2)
	ctx := context.Background()
	_ = idx.Add(ctx, []string{"0", "1", "2"}, [][]float32{{0, 0}, {3, 4}, {1, 1}})

	results, err := idx.Search(ctx, []float32{3, 4}, 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(results) != 3 {
		t.Fatalf("k should be clamped to size, got %d results", len(results))
	}
	if results[0].ID != "1" || results[0].Score != 0 {
		t.Errorf("top = %+v, want id 1 at distance 0", results[0])
	}
	if math.Abs(results[2].Score-5) > 1e-9 {
		t.Errorf("farthest distance = %f, want 5", results[2].Score)
	}
}

func TestMemoryIndex_TiesKeepInsertionOrder(t *testing.T) {
	idx, _ := NewMemoryIndex(1, MetricL2)
	ctx := context.Background()
	_ = idx.Add(ctx, []string{"x", "y"}, [][]float32{{1}, {1}})
	results, _ := idx.Search(ctx, []float32{1}, 2)
	if results[0].ID != "x" {
		t.Errorf("tie broke to %s, want x", results[0].ID)
	}
}

func TestMemoryIndex_DimensionMismatch(t *testing.T) {
	idx, _ := NewMemoryIndex(2, MetricL2)
	ctx := context.Background()
	if err := idx.Add(ctx, []string{"a", "b"}, [][]float32{{1, 0}, {1, 0, 0}}); err == nil {
		t.Fatal("expected dimension error")
	}
	if idx.Size() != 0 {
		t.Errorf("partial add left %d vectors", idx.Size())
	}
	if _, err := idx.Search(ctx, []float32{1}, 1); err == nil {
		t.Error("expected query dimension error")
	}
}

func TestMemoryIndex_SaveLoad(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "idx", "voices.index")
	ctx := context.Background()

	idx, _ := NewMemoryIndex(3, MetricL2)
	_ = idx.Add(ctx, []string{"0", "1"}, [][]float32{{1, 2, 3}, {4, 5, 6}})
	if err := idx.Save(path); err != nil {
		t.Fatal(err)
	}

	metric, dim, err := ProbeMemoryIndex(path)
	if err != nil {
		t.Fatal(err)
	}
	if metric != MetricL2 || dim != 3 {
		t.Errorf("probe = %s/%d", metric, dim)
	}

	loaded, _ := NewMemoryIndex(3, MetricL2)
	if err := loaded.Load(path); err != nil {
		t.Fatal(err)
	}
	if loaded.Size() != 2 {
		t.Fatalf("Size=%d after load", loaded.Size())
	}
	results, _ := loaded.Search(ctx, []float32{4, 5, 6}, 1)
	if results[0].ID != "1" {
		t.Errorf("top after load = %s", results[0].ID)
	}

	wrongMetric, _ := NewMemoryIndex(3, MetricInnerProduct)
	if err := wrongMetric.Load(path); err == nil {
		t.Error("expected metric mismatch error")
	}
	wrongDim, _ := NewMemoryIndex(4, MetricL2)
	if err := wrongDim.Load(path); err == nil {
		t.Error("expected dimension mismatch error")
	}
}

func TestMemoryIndex_LoadMissingIsNoop(t *testing.T) {
	idx, _ := NewMemoryIndex(2, MetricL2)
	if err := idx.Load(filepath.Join(t.TempDir(), "missing")); err != nil {
		t.Fatal(err)
	}
}

func TestMemoryIndex_LoadGarbage(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad")
	_ = os.WriteFile(path, []byte("not an index"), 0644)
	idx, _ := NewMemoryIndex(2, MetricL2)
	if err := idx.Load(path); err == nil {
		t.Error("expected error for garbage file")
	}
}
