package embedding

import (
	"context"
	"math"
	"testing"

	"github.com/hyperjump/koe/internal/vector"
)

func TestMockEmbedder_Deterministic(t *testing.T) {
	e := NewMockEmbedder(64)
	ctx := context.Background()
	a, _ := e.Embed(ctx, "hello world")
	b, _ := e.Embed(ctx, "hello world")
	for i := range a {
		if a[i] != b[i] {
			t.Fatal("same text produced different embeddings")
		}
	}
	if math.Abs(vector.L2Norm(a)-1) > 1e-5 {
		t.Errorf("norm = %f, want 1", vector.L2Norm(a))
	}
}

func TestMockEmbedder_SharedWordsAreCloser(t *testing.T) {
	e := NewMockEmbedder(256)
	ctx := context.Background()
	q, _ := e.Embed(ctx, "budget meeting tomorrow")
	near, _ := e.Embed(ctx, "the budget meeting is tomorrow")
	far, _ := e.Embed(ctx, "completely unrelated sentence here")
	if vector.InnerProduct(q, near) <= vector.InnerProduct(q, far) {
		t.Errorf("near=%f far=%f", vector.InnerProduct(q, near), vector.InnerProduct(q, far))
	}
}

func TestMockEmbedder_EmptyTextIsNonZero(t *testing.T) {
	e := NewMockEmbedder(16)
	v, _ := e.Embed(context.Background(), "   ")
	if vector.L2Norm(v) == 0 {
		t.Error("wordless text produced a zero vector")
	}
}

func TestNew(t *testing.T) {
	e, err := New("mock", Options{Dimensions: 12})
	if err != nil {
		t.Fatal(err)
	}
	if e.Dimensions() != 12 {
		t.Errorf("Dimensions=%d", e.Dimensions())
	}
	if _, err := New("bogus", Options{}); err == nil {
		t.Error("expected error for unknown provider")
	}
}
