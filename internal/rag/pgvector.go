package rag

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"regexp"
	"strings"

	"github.com/lib/pq"
	"github.com/pgvector/pgvector-go"
)

// validTable guards the interpolated table name.
var validTable = regexp.MustCompile(`^[a-z_][a-z0-9_]{0,62}$`)

// PgVectorConfig holds connection parameters for a Postgres + pgvector store.
type PgVectorConfig struct {
	// DSN is a lib/pq connection string (URL or key=value form).
	DSN string

	// Table is the embeddings table name (default: chunk_embeddings).
	Table string

	// Dimensions is the vector column size.
	Dimensions int
}

// PgVectorStore implements VectorStore on Postgres with the pgvector extension.
// Similarity uses the cosine distance operator (<=>); scores are 1 - distance.
type PgVectorStore struct {
	db    *sql.DB
	table string
}

// NewPgVectorStore opens the database, enables the vector extension and
// creates the embeddings table if needed.
func NewPgVectorStore(ctx context.Context, cfg *PgVectorConfig) (*PgVectorStore, error) {
	if cfg.Table == "" {
		cfg.Table = "chunk_embeddings"
	}
	if !validTable.MatchString(cfg.Table) {
		return nil, fmt.Errorf("pgvector: invalid table name %q", cfg.Table)
	}
	if cfg.Dimensions <= 0 {
		return nil, fmt.Errorf("pgvector: dimensions must be positive, got %d", cfg.Dimensions)
	}

	db, err := sql.Open("postgres", cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("pgvector: open: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("pgvector: ping: %w: %w", ErrIndexUnavailable, err)
	}

	s := &PgVectorStore{db: db, table: cfg.Table}
	if err := s.migrate(ctx, cfg.Dimensions); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

// DB exposes the connection pool for readiness probes.
func (s *PgVectorStore) DB() *sql.DB { return s.db }

func (s *PgVectorStore) migrate(ctx context.Context, dims int) error {
	ddl := fmt.Sprintf(`
CREATE EXTENSION IF NOT EXISTS vector;
CREATE TABLE IF NOT EXISTS %[1]s (
    chunk_id  TEXT PRIMARY KEY,
    doc_id    TEXT NOT NULL,
    page      INTEGER NOT NULL,
    metadata  JSONB NOT NULL DEFAULT '{}'::jsonb,
    embedding vector(%[2]d) NOT NULL
);
CREATE INDEX IF NOT EXISTS %[1]s_doc_idx ON %[1]s (doc_id);
`, s.table, dims)
	if _, err := s.db.ExecContext(ctx, ddl); err != nil {
		return fmt.Errorf("pgvector: migrate: %w", err)
	}
	return nil
}

// Upsert inserts or replaces chunk embeddings in a single transaction.
func (s *PgVectorStore) Upsert(ctx context.Context, chunks []Chunk, embeddings [][]float32) error {
	if len(chunks) != len(embeddings) {
		return fmt.Errorf("pgvector: %d chunks but %d embeddings", len(chunks), len(embeddings))
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("pgvector: begin: %w: %w", ErrIndexUnavailable, err)
	}
	defer func() { _ = tx.Rollback() }()

	q := fmt.Sprintf(`
INSERT INTO %s (chunk_id, doc_id, page, metadata, embedding)
VALUES ($1, $2, $3, $4, $5)
ON CONFLICT (chunk_id) DO UPDATE
SET doc_id = EXCLUDED.doc_id, page = EXCLUDED.page,
    metadata = EXCLUDED.metadata, embedding = EXCLUDED.embedding`, s.table)

	for i, c := range chunks {
		meta, err := json.Marshal(nonNilMeta(c.Metadata))
		if err != nil {
			return fmt.Errorf("pgvector: marshal metadata for %s: %w", c.ID, err)
		}
		if _, err := tx.ExecContext(ctx, q, c.ID, c.DocID, c.Page, string(meta), pgvector.NewVector(embeddings[i])); err != nil {
			return fmt.Errorf("pgvector: upsert %s: %w", c.ID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("pgvector: commit: %w", err)
	}
	return nil
}

// Search returns the k nearest chunks by cosine distance, applying metadata
// filters as a JSONB containment predicate.
func (s *PgVectorStore) Search(ctx context.Context, queryEmbedding []float32, k int, filters Filters) ([]Hit, error) {
	if k < 1 {
		return nil, fmt.Errorf("pgvector: k must be >= 1, got %d", k)
	}

	filterJSON, err := json.Marshal(nonNilMeta(filters))
	if err != nil {
		return nil, fmt.Errorf("pgvector: marshal filters: %w", err)
	}

	q := fmt.Sprintf(`
SELECT chunk_id, 1 - (embedding <=> $1) AS score
FROM   %s
WHERE  metadata @> $2::jsonb
ORDER  BY embedding <=> $1, chunk_id
LIMIT  $3`, s.table)

	rows, err := s.db.QueryContext(ctx, q, pgvector.NewVector(queryEmbedding), string(filterJSON), k)
	if err != nil {
		return nil, fmt.Errorf("pgvector: search: %w: %w", ErrIndexUnavailable, err)
	}
	defer rows.Close()

	var hits []Hit
	for rows.Next() {
		h := Hit{Source: SourceDense}
		if err := rows.Scan(&h.ChunkID, &h.Score); err != nil {
			return nil, fmt.Errorf("pgvector: scan: %w", err)
		}
		hits = append(hits, h)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("pgvector: rows: %w", err)
	}
	return hits, nil
}

// Delete removes chunk embeddings by id.
func (s *PgVectorStore) Delete(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	q := fmt.Sprintf(`DELETE FROM %s WHERE chunk_id = ANY($1)`, s.table)
	if _, err := s.db.ExecContext(ctx, q, pq.Array(ids)); err != nil {
		return fmt.Errorf("pgvector: delete: %w", err)
	}
	return nil
}

// Close releases the connection pool.
func (s *PgVectorStore) Close() error {
	if err := s.db.Close(); err != nil {
		return fmt.Errorf("pgvector: close: %w", err)
	}
	return nil
}

func nonNilMeta(m map[string]string) map[string]string {
	if m == nil {
		return map[string]string{}
	}
	out := make(map[string]string, len(m))
	for k, v := range m {
		out[strings.TrimSpace(k)] = v
	}
	return out
}
