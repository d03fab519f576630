package vector

import (
	"context"
	"errors"
	"io/fs"
	"path/filepath"
	"testing"
)

func TestNewVectorIndex_Memory(t *testing.T) {
	idx, err := NewVectorIndex("memory", MetricInnerProduct, 3)
	if err != nil {
		t.Fatalf("NewVectorIndex(memory): %v", err)
	}
	defer idx.Close()

	ctx := context.Background()
	if err := idx.Add(ctx, []string{"a"}, [][]float32{{1, 0, 0}}); err != nil {
		t.Fatalf("Add: %v", err)
	}
	if idx.Size() != 1 || idx.Dimensions() != 3 || idx.Metric() != MetricInnerProduct {
		t.Errorf("Size=%d Dimensions=%d Metric=%s", idx.Size(), idx.Dimensions(), idx.Metric())
	}
}

func TestNewVectorIndex_Empty(t *testing.T) {
	// Empty string should default to memory
	idx, err := NewVectorIndex("", MetricL2, 3)
	if err != nil {
		t.Fatalf("NewVectorIndex(''): %v", err)
	}
	defer idx.Close()

	if idx.Size() != 0 {
		t.Errorf("Size=%d, want 0", idx.Size())
	}
}

func TestNewVectorIndex_Unknown(t *testing.T) {
	if _, err := NewVectorIndex("unknown", MetricL2, 3); err == nil {
		t.Error("expected error for unknown index type")
	}
}

func TestNewVectorIndex_InvalidDimension(t *testing.T) {
	if _, err := NewVectorIndex("memory", MetricL2, 0); err == nil {
		t.Error("expected error for zero dimension")
	}
}

func TestLoadVectorIndex(t *testing.T) {
	path := filepath.Join(t.TempDir(), "rag.index")

	_, err := LoadVectorIndex("memory", MetricInnerProduct, path)
	if !errors.Is(err, fs.ErrNotExist) {
		t.Fatalf("missing index err = %v, want fs.ErrNotExist", err)
	}

	idx, _ := NewVectorIndex("memory", MetricInnerProduct, 2)
	_ = idx.Add(context.Background(), []string{"0"}, [][]float32{{0, 1}})
	if err := idx.Save(path); err != nil {
		t.Fatal(err)
	}
	if !IndexExists("memory", path) {
		t.Fatal("IndexExists = false after Save")
	}

	loaded, err := LoadVectorIndex("memory", MetricInnerProduct, path)
	if err != nil {
		t.Fatal(err)
	}
	if loaded.Dimensions() != 2 || loaded.Size() != 1 {
		t.Errorf("loaded Dimensions=%d Size=%d", loaded.Dimensions(), loaded.Size())
	}
	if _, err := LoadVectorIndex("memory", MetricL2, path); err == nil {
		t.Error("expected metric mismatch")
	}
}

func TestParseMetric(t *testing.T) {
	for in, want := range map[string]Metric{"": MetricL2, "l2": MetricL2, "ip": MetricInnerProduct} {
		got, err := ParseMetric(in)
		if err != nil || got != want {
			t.Errorf("ParseMetric(%q) = %s, %v", in, got, err)
		}
	}
	if _, err := ParseMetric("cosine"); err == nil {
		t.Error("expected error for unknown metric")
	}
}

func TestIsFAISSAvailable(t *testing.T) {
	// The result depends on build tags
	t.Logf("FAISS available: %v", IsFAISSAvailable())
}

func TestNewVectorIndex_FAISS(t *testing.T) {
	if !IsFAISSAvailable() {
		t.Skip("FAISS not available (build with -tags=faiss)")
	}

	idx, err := NewVectorIndex("faiss", MetricL2, 3)
	if err != nil {
		t.Fatalf("NewVectorIndex(faiss): %v", err)
	}
	defer idx.Close()

	if err := idx.Add(context.Background(), []string{"a"}, [][]float32{{1, 0, 0}}); err != nil {
		t.Fatalf("Add: %v", err)
	}
	if idx.Size() != 1 {
		t.Errorf("Size=%d, want 1", idx.Size())
	}
}
