// Package storage defines the catalog of ingested transcripts and their chunks.
package storage

import (
	"context"

	"github.com/hyperjump/koe/internal/models"
)

// Storage persists ingested transcripts together with the chunks cut from them.
type Storage interface {
	// SaveTranscript stores rec and its chunks atomically.
	SaveTranscript(ctx context.Context, rec *models.TranscriptRecord, chunks []models.Chunk) error
	GetTranscript(ctx context.Context, id string) (*models.TranscriptRecord, error)
	HasTranscript(ctx context.Context, id string) (bool, error)
	ListTranscripts(ctx context.Context, offset, limit int) ([]*models.TranscriptRecord, error)

	// ListChunks returns every chunk in insertion order.
	ListChunks(ctx context.Context) ([]models.Chunk, error)
	ChunksBySource(ctx context.Context, source string) ([]models.Chunk, error)

	CountTranscripts(ctx context.Context) (int64, error)
	CountChunks(ctx context.Context) (int64, error)

	Close() error
}
