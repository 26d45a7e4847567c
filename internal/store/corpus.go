package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/54b3r/edupolicy-go/internal/rag"
)

// Document is a policy document with its full text.
type Document struct {
	ID        string
	Title     string
	Source    string
	Content   string
	Metadata  map[string]string
	CreatedAt time.Time
	UpdatedAt time.Time
}

// UpsertDocument writes doc and replaces its chunks atomically. It returns the
// ids of chunks that belonged to the previous version and no longer exist, so
// callers can evict them from the vector index and the embedding cache.
func (s *SQLiteStore) UpsertDocument(ctx context.Context, doc Document, chunks []rag.Chunk) ([]string, error) {
	meta, err := encodeMeta(doc.Metadata)
	if err != nil {
		return nil, fmt.Errorf("store: upsert document %s: %w", doc.ID, err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("store: begin: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	now := time.Now().Unix()
	const upsertDoc = `
INSERT INTO documents (id, title, source, content, metadata, created_at, updated_at)
VALUES (?, ?, ?, ?, ?, ?, ?)
ON CONFLICT(id) DO UPDATE SET
    title = excluded.title, source = excluded.source, content = excluded.content,
    metadata = excluded.metadata, updated_at = excluded.updated_at`
	if _, err := tx.ExecContext(ctx, upsertDoc, doc.ID, doc.Title, doc.Source, doc.Content, meta, now, now); err != nil {
		return nil, fmt.Errorf("store: upsert document %s: %w", doc.ID, err)
	}

	keep := make(map[string]bool, len(chunks))
	for _, c := range chunks {
		keep[c.ID] = true
	}
	var stale []string
	rows, err := tx.QueryContext(ctx, `SELECT id FROM chunks WHERE doc_id = ?`, doc.ID)
	if err != nil {
		return nil, fmt.Errorf("store: list chunks of %s: %w", doc.ID, err)
	}
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return nil, fmt.Errorf("store: scan chunk id: %w", err)
		}
		if !keep[id] {
			stale = append(stale, id)
		}
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("store: list chunks rows: %w", err)
	}

	for _, id := range stale {
		if _, err := tx.ExecContext(ctx, `DELETE FROM chunks WHERE id = ?`, id); err != nil {
			return nil, fmt.Errorf("store: delete stale chunk %s: %w", id, err)
		}
	}

	const upsertChunk = `
INSERT INTO chunks (id, doc_id, page, span_start, span_end, text, metadata)
VALUES (?, ?, ?, ?, ?, ?, ?)
ON CONFLICT(id) DO UPDATE SET
    doc_id = excluded.doc_id, page = excluded.page, span_start = excluded.span_start,
    span_end = excluded.span_end, text = excluded.text, metadata = excluded.metadata`
	for _, c := range chunks {
		cm, err := encodeMeta(c.Metadata)
		if err != nil {
			return nil, fmt.Errorf("store: chunk %s: %w", c.ID, err)
		}
		if _, err := tx.ExecContext(ctx, upsertChunk, c.ID, doc.ID, c.Page, c.SpanStart, c.SpanEnd, c.Text, cm); err != nil {
			return nil, fmt.Errorf("store: upsert chunk %s: %w", c.ID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("store: commit: %w", err)
	}
	sort.Strings(stale)
	return stale, nil
}

// GetDocument returns a document and its chunks ordered by page and offset.
// It returns ErrNotFound if the document does not exist.
func (s *SQLiteStore) GetDocument(ctx context.Context, id string) (*Document, []rag.Chunk, error) {
	const q = `SELECT id, title, source, content, metadata, created_at, updated_at FROM documents WHERE id = ?`
	var (
		d            Document
		meta         string
		created, upd int64
	)
	err := s.db.QueryRowContext(ctx, q, id).Scan(&d.ID, &d.Title, &d.Source, &d.Content, &meta, &created, &upd)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil, fmt.Errorf("store: document %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, nil, fmt.Errorf("store: get document %s: %w", id, err)
	}
	if d.Metadata, err = decodeMeta(meta); err != nil {
		return nil, nil, fmt.Errorf("store: document %s metadata: %w", id, err)
	}
	d.CreatedAt = time.Unix(created, 0).UTC()
	d.UpdatedAt = time.Unix(upd, 0).UTC()

	rows, err := s.db.QueryContext(ctx, chunkSelect+` WHERE doc_id = ? ORDER BY page, span_start`, id)
	if err != nil {
		return nil, nil, fmt.Errorf("store: chunks of %s: %w", id, err)
	}
	defer rows.Close()
	chunks, err := scanChunks(rows)
	if err != nil {
		return nil, nil, err
	}
	return &d, chunks, nil
}

// GetChunks implements rag.ChunkReader.
func (s *SQLiteStore) GetChunks(ctx context.Context, ids []string) (map[string]rag.Chunk, error) {
	out := make(map[string]rag.Chunk, len(ids))
	if len(ids) == 0 {
		return out, nil
	}
	ph, args := placeholders(ids)
	rows, err := s.db.QueryContext(ctx, chunkSelect+` WHERE id IN (`+ph+`)`, args...)
	if err != nil {
		return nil, fmt.Errorf("store: get chunks: %w", err)
	}
	defer rows.Close()
	chunks, err := scanChunks(rows)
	if err != nil {
		return nil, err
	}
	for _, c := range chunks {
		out[c.ID] = c
	}
	return out, nil
}

// ChunkIDsForPage lists the chunk ids cut from one page of a document.
func (s *SQLiteStore) ChunkIDsForPage(ctx context.Context, docID string, page int) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id FROM chunks WHERE doc_id = ? AND page = ? ORDER BY span_start`, docID, page)
	if err != nil {
		return nil, fmt.Errorf("store: chunks of %s p%d: %w", docID, page, err)
	}
	defer rows.Close()
	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("store: scan chunk id: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("store: chunk ids rows: %w", err)
	}
	return ids, nil
}

const chunkSelect = `SELECT id, doc_id, page, span_start, span_end, text, metadata FROM chunks`

func scanChunks(rows *sql.Rows) ([]rag.Chunk, error) {
	var out []rag.Chunk
	for rows.Next() {
		var (
			c    rag.Chunk
			meta string
		)
		if err := rows.Scan(&c.ID, &c.DocID, &c.Page, &c.SpanStart, &c.SpanEnd, &c.Text, &meta); err != nil {
			return nil, fmt.Errorf("store: scan chunk: %w", err)
		}
		m, err := decodeMeta(meta)
		if err != nil {
			return nil, fmt.Errorf("store: chunk %s metadata: %w", c.ID, err)
		}
		c.Metadata = m
		out = append(out, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("store: chunk rows: %w", err)
	}
	return out, nil
}

func encodeMeta(m map[string]string) (string, error) {
	if len(m) == 0 {
		return "{}", nil
	}
	b, err := json.Marshal(m)
	if err != nil {
		return "", fmt.Errorf("encode metadata: %w", err)
	}
	return string(b), nil
}

func decodeMeta(s string) (map[string]string, error) {
	m := map[string]string{}
	if s == "" {
		return m, nil
	}
	if err := json.Unmarshal([]byte(s), &m); err != nil {
		return nil, err
	}
	return m, nil
}
