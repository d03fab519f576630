package storage

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/hyperjump/koe/internal/models"
)

func TestSQLiteStorage_SaveTranscript(t *testing.T) {
	path := filepath.Join(t.TempDir(), "catalog", "koe.db")
	store, err := NewSQLiteStorage(path)
	if err != nil {
		t.Fatal(err)
	}
	defer store.Close()
	ctx := context.Background()

	rec := &models.TranscriptRecord{Source: "meeting.txt", Content: "[Alice 0.00-1.00] hello\n"}
	chunks := []models.Chunk{
		{Text: "hello", Source: "meeting.txt", Ordinal: 0},
		{Text: "world", Source: "meeting.txt", Ordinal: 1},
	}
	if err := store.SaveTranscript(ctx, rec, chunks); err != nil {
		t.Fatal(err)
	}
	if rec.ID == "" {
		t.Fatal("ID should be assigned")
	}
	if rec.CreatedAt.IsZero() {
		t.Error("CreatedAt should be set")
	}

	got, err := store.GetTranscript(ctx, rec.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.Source != "meeting.txt" || got.ChunkCount != 2 || got.Content != rec.Content {
		t.Errorf("got %+v", got)
	}

	if _, err := store.GetTranscript(ctx, "missing"); err == nil {
		t.Error("expected error for missing transcript")
	}

	for id, want := range map[string]bool{rec.ID: true, "missing": false} {
		ok, err := store.HasTranscript(ctx, id)
		if err != nil {
			t.Fatal(err)
		}
		if ok != want {
			t.Errorf("HasTranscript(%q) = %v, want %v", id, ok, want)
		}
	}
}

func TestSQLiteStorage_ChunkOrder(t *testing.T) {
	store, err := NewSQLiteStorage(filepath.Join(t.TempDir(), "order.db"))
	if err != nil {
		t.Fatal(err)
	}
	defer store.Close()
	ctx := context.Background()

	batches := []struct {
		source string
		texts  []string
		first  int
	}{
		{"b.txt", []string{"b0", "b1"}, 0},
		{"a.txt", []string{"a0"}, 0},
		{"b.txt", []string{"b2"}, 2},
	}
	for _, b := range batches {
		var chunks []models.Chunk
		for i, text := range b.texts {
			chunks = append(chunks, models.Chunk{Text: text, Source: b.source, Ordinal: b.first + i})
		}
		if err := store.SaveTranscript(ctx, &models.TranscriptRecord{Source: b.source}, chunks); err != nil {
			t.Fatal(err)
		}
	}

	all, err := store.ListChunks(ctx)
	if err != nil {
		t.Fatal(err)
	}
	want := []string{"b0", "b1", "a0", "b2"}
	if len(all) != len(want) {
		t.Fatalf("got %d chunks, want %d", len(all), len(want))
	}
	for i, w := range want {
		if all[i].Text != w {
			t.Errorf("chunk %d = %q, want %q", i, all[i].Text, w)
		}
	}

	bs, err := store.ChunksBySource(ctx, "b.txt")
	if err != nil {
		t.Fatal(err)
	}
	if len(bs) != 3 || bs[2].Ordinal != 2 {
		t.Errorf("ChunksBySource = %+v", bs)
	}

	list, err := store.ListTranscripts(ctx, 0, 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(list) != 3 {
		t.Errorf("expected 3 transcripts, got %d", len(list))
	}
}

func TestSQLiteStorage_DuplicateOrdinalRollsBack(t *testing.T) {
	store, err := NewSQLiteStorage(filepath.Join(t.TempDir(), "dup.db"))
	if err != nil {
		t.Fatal(err)
	}
	defer store.Close()
	ctx := context.Background()

	if err := store.SaveTranscript(ctx, &models.TranscriptRecord{Source: "x.txt"},
		[]models.Chunk{{Text: "one", Source: "x.txt", Ordinal: 0}}); err != nil {
		t.Fatal(err)
	}
	err = store.SaveTranscript(ctx, &models.TranscriptRecord{Source: "x.txt"},
		[]models.Chunk{{Text: "again", Source: "x.txt", Ordinal: 0}})
	if err == nil {
		t.Fatal("expected unique constraint error")
	}

	n, _ := store.CountTranscripts(ctx)
	if n != 1 {
		t.Errorf("expected 1 transcript after failed save, got %d", n)
	}
	n, _ = store.CountChunks(ctx)
	if n != 1 {
		t.Errorf("expected 1 chunk after failed save, got %d", n)
	}
}

func TestSQLiteStorage_Reopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "reopen.db")
	store, err := NewSQLiteStorage(path)
	if err != nil {
		t.Fatal(err)
	}
	ctx := context.Background()
	if err := store.SaveTranscript(ctx, &models.TranscriptRecord{Source: "x.txt"},
		[]models.Chunk{{Text: "kept", Source: "x.txt", Ordinal: 0}}); err != nil {
		t.Fatal(err)
	}
	store.Close()

	store, err = NewSQLiteStorage(path)
	if err != nil {
		t.Fatal(err)
	}
	defer store.Close()
	chunks, err := store.ListChunks(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(chunks) != 1 || chunks[0].Text != "kept" {
		t.Errorf("got %+v", chunks)
	}
}
