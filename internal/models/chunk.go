package models

// Chunk is one retrievable unit: the text of a single transcript segment.
// Ordinal increases from 0 per source file.
type Chunk struct {
	Text    string `json:"text"`
	Source  string `json:"source"`
	Ordinal int    `json:"ordinal"`
}

// Key identifies the chunk inside a store.
func (c Chunk) Key() ChunkKey {
	return ChunkKey{Source: c.Source, Ordinal: c.Ordinal}
}

// ChunkKey is the (source, ordinal) pair kept as retrieval index metadata.
type ChunkKey struct {
	Source  string `json:"source"`
	Ordinal int    `json:"ordinal"`
}

// RetrievedChunk is a query hit. Score is the rerank score, RecallScore the first-stage score.
type RetrievedChunk struct {
	Chunk       Chunk   `json:"chunk"`
	Score       float64 `json:"score"`
	RecallScore float64 `json:"recall_score"`
	Rank        int     `json:"rank"`
}
