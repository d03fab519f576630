package models

import "time"

// TranscriptRecord is one ingested transcript as kept in the catalog.
type TranscriptRecord struct {
	ID         string    `json:"id"`
	Source     string    `json:"source"`
	Content    string    `json:"content"`
	ChunkCount int       `json:"chunk_count"`
	CreatedAt  time.Time `json:"created_at"`
}
