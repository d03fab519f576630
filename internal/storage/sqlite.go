// Package storage provides SQLite implementation of the Storage interface.
package storage

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"

	"github.com/hyperjump/koe/internal/models"
)

// SQLiteStorage implements Storage using SQLite.
type SQLiteStorage struct {
	db *sql.DB
}

// NewSQLiteStorage opens or creates a SQLite database at dbPath and initializes the schema.
// Parent directories are created if they do not exist.
func NewSQLiteStorage(dbPath string) (*SQLiteStorage, error) {
	if dir := filepath.Dir(dbPath); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}
	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to enable WAL: %w", err)
	}

	if err := initSchema(db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return &SQLiteStorage{db: db}, nil
}

func initSchema(db *sql.DB) error {
	schema := `
	CREATE TABLE IF NOT EXISTS transcripts (
		id TEXT PRIMARY KEY,
		source TEXT NOT NULL,
		content TEXT NOT NULL,
		chunk_count INTEGER NOT NULL,
		created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
	);

	CREATE INDEX IF NOT EXISTS idx_transcripts_source ON transcripts(source);

	CREATE TABLE IF NOT EXISTS chunks (
		seq INTEGER PRIMARY KEY AUTOINCREMENT,
		transcript_id TEXT NOT NULL,
		source TEXT NOT NULL,
		ordinal INTEGER NOT NULL,
		text TEXT NOT NULL,
		FOREIGN KEY (transcript_id) REFERENCES transcripts(id) ON DELETE CASCADE,
		UNIQUE (source, ordinal)
	);

	CREATE INDEX IF NOT EXISTS idx_chunks_transcript ON chunks(transcript_id);
	`
	_, err := db.Exec(schema)
	return err
}

// SaveTranscript inserts rec and its chunks in one transaction. An empty rec.ID gets a new UUID.
func (s *SQLiteStorage) SaveTranscript(ctx context.Context, rec *models.TranscriptRecord, chunks []models.Chunk) error {
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	rec.ChunkCount = len(chunks)
	rec.CreatedAt = time.Now()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO transcripts (id, source, content, chunk_count, created_at)
		 VALUES (?, ?, ?, ?, ?)`,
		rec.ID, rec.Source, rec.Content, rec.ChunkCount, rec.CreatedAt,
	); err != nil {
		return fmt.Errorf("insert transcript: %w", err)
	}

	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO chunks (transcript_id, source, ordinal, text) VALUES (?, ?, ?, ?)`,
	)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for _, c := range chunks {
		if _, err := stmt.ExecContext(ctx, rec.ID, c.Source, c.Ordinal, c.Text); err != nil {
			return fmt.Errorf("insert chunk %s#%d: %w", c.Source, c.Ordinal, err)
		}
	}
	return tx.Commit()
}

// GetTranscript returns a transcript by ID.
func (s *SQLiteStorage) GetTranscript(ctx context.Context, id string) (*models.TranscriptRecord, error) {
	var rec models.TranscriptRecord
	err := s.db.QueryRowContext(ctx,
		`SELECT id, source, content, chunk_count, created_at
		 FROM transcripts WHERE id = ?`, id,
	).Scan(&rec.ID, &rec.Source, &rec.Content, &rec.ChunkCount, &rec.CreatedAt)

	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("transcript not found: %s", id)
	}
	if err != nil {
		return nil, err
	}
	return &rec, nil
}

// HasTranscript reports whether a transcript with id exists.
func (s *SQLiteStorage) HasTranscript(ctx context.Context, id string) (bool, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM transcripts WHERE id = ?`, id).Scan(&n); err != nil {
		return false, err
	}
	return n > 0, nil
}

// ListTranscripts returns transcripts newest first with offset and limit.
func (s *SQLiteStorage) ListTranscripts(ctx context.Context, offset, limit int) ([]*models.TranscriptRecord, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, source, content, chunk_count, created_at
		 FROM transcripts ORDER BY created_at DESC, rowid DESC LIMIT ? OFFSET ?`,
		limit, offset,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var recs []*models.TranscriptRecord
	for rows.Next() {
		var rec models.TranscriptRecord
		if err := rows.Scan(&rec.ID, &rec.Source, &rec.Content, &rec.ChunkCount, &rec.CreatedAt); err != nil {
			return nil, err
		}
		recs = append(recs, &rec)
	}
	return recs, rows.Err()
}

// ListChunks returns every chunk in insertion order.
func (s *SQLiteStorage) ListChunks(ctx context.Context) ([]models.Chunk, error) {
	return s.queryChunks(ctx, `SELECT source, ordinal, text FROM chunks ORDER BY seq`)
}

// ChunksBySource returns the chunks of one source file ordered by ordinal.
func (s *SQLiteStorage) ChunksBySource(ctx context.Context, source string) ([]models.Chunk, error) {
	return s.queryChunks(ctx, `SELECT source, ordinal, text FROM chunks WHERE source = ? ORDER BY ordinal`, source)
}

func (s *SQLiteStorage) queryChunks(ctx context.Context, query string, args ...interface{}) ([]models.Chunk, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var chunks []models.Chunk
	for rows.Next() {
		var c models.Chunk
		if err := rows.Scan(&c.Source, &c.Ordinal, &c.Text); err != nil {
			return nil, err
		}
		chunks = append(chunks, c)
	}
	return chunks, rows.Err()
}

// CountTranscripts returns the total number of transcripts.
func (s *SQLiteStorage) CountTranscripts(ctx context.Context) (int64, error) {
	var count int64
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM transcripts`).Scan(&count)
	return count, err
}

// CountChunks returns the total number of chunks.
func (s *SQLiteStorage) CountChunks(ctx context.Context) (int64, error) {
	var count int64
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM chunks`).Scan(&count)
	return count, err
}

// Close closes the database connection.
func (s *SQLiteStorage) Close() error {
	return s.db.Close()
}
