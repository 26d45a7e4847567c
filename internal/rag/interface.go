// Package rag defines the corpus types shared by every retrieval component
// (chunks, hits, metadata filters) and the storage interfaces the dense index
// is built on. Concrete vector stores (Qdrant, pgvector, in-memory) satisfy
// VectorStore so the retrieval layer never depends on a specific backend.
package rag

import (
	"context"
	"errors"
)

// ErrIndexUnavailable is returned (wrapped) by any index backend that cannot
// be reached. Retrieval callers treat it as an empty contribution.
var ErrIndexUnavailable = errors.New("index unavailable")

// Source identifies which retriever produced a hit.
type Source string

const (
	// SourceDense is nearest-neighbour search over embedding vectors.
	SourceDense Source = "dense"
	// SourceSparse is BM25 keyword search.
	SourceSparse Source = "sparse"
	// SourceGraph is knowledge graph traversal.
	SourceGraph Source = "graph"
)

// Priority orders sources when fused scores tie: graph > dense > sparse.
// Unknown sources rank below all built-in ones.
func (s Source) Priority() int {
	switch s {
	case SourceGraph:
		return 3
	case SourceDense:
		return 2
	case SourceSparse:
		return 1
	default:
		return 0
	}
}

// Chunk is the smallest retrievable unit of document text.
type Chunk struct {
	// ID is the stable chunk identifier ("<doc>:p<page>:c<index>").
	ID string

	// DocID is the owning document identifier.
	DocID string

	// Page is the 1-based page the chunk was cut from.
	Page int

	// SpanStart and SpanEnd are byte offsets of the chunk within its page.
	SpanStart int
	SpanEnd   int

	// Text is the chunk content.
	Text string

	// Metadata carries the owning document's metadata (title, source_type,
	// category, year, ...).
	Metadata map[string]string
}

// Hit is a single retrieval result. It is ephemeral and produced per query.
type Hit struct {
	// ChunkID references the matched chunk.
	ChunkID string

	// Score is the source-native relevance score; higher is better.
	// Scales differ between sources until fused.
	Score float64

	// Source is the retriever that produced the hit.
	Source Source
}

// Filters restricts results to chunks whose metadata matches every entry
// exactly. A nil or empty Filters matches everything.
type Filters map[string]string

// Match reports whether meta satisfies every filter entry.
func (f Filters) Match(meta map[string]string) bool {
	for k, v := range f {
		if meta[k] != v {
			return false
		}
	}
	return true
}

// VectorStore is the interface for persisting and searching chunk embeddings.
// Implementations must be safe to call from multiple goroutines.
type VectorStore interface {
	// Upsert stores or updates a batch of chunks with their pre-computed embeddings.
	// The embeddings slice must be parallel to chunks: embeddings[i] is the vector for chunks[i].
	Upsert(ctx context.Context, chunks []Chunk, embeddings [][]float32) error

	// Search returns at most k hits ordered by descending cosine similarity.
	// An empty index yields an empty slice and a nil error.
	Search(ctx context.Context, queryEmbedding []float32, k int, filters Filters) ([]Hit, error)

	// Delete removes chunks by their IDs.
	Delete(ctx context.Context, ids []string) error

	// Close releases any resources held by the store.
	Close() error
}

// Embedder is the interface for converting text into dense vector embeddings.
// Implementations must be safe to call from multiple goroutines.
type Embedder interface {
	// Embed converts a batch of texts into their corresponding embeddings.
	// The returned slice is parallel to the input slice.
	Embed(ctx context.Context, texts []string) ([][]float32, error)
}

// ChunkReader resolves chunk ids to chunks. The corpus store implements it.
type ChunkReader interface {
	// GetChunks returns the chunks that exist among ids, keyed by id.
	// Unknown ids are silently omitted.
	GetChunks(ctx context.Context, ids []string) (map[string]Chunk, error)
}
