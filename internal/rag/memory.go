package rag

import (
	"context"
	"fmt"
	"math"
	"sort"
	"sync"
)

// MemoryStore is an in-process VectorStore that scores every stored vector by
// brute-force cosine similarity. It backs VECTOR_BACKEND=memory for small local
// corpora and is the dense index used by tests.
type MemoryStore struct {
	mu      sync.RWMutex
	entries map[string]memoryEntry
}

type memoryEntry struct {
	vec  []float32
	norm float64
	meta map[string]string
}

// NewMemoryStore returns an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{entries: make(map[string]memoryEntry)}
}

// Upsert stores or replaces the vectors for chunks.
func (m *MemoryStore) Upsert(_ context.Context, chunks []Chunk, embeddings [][]float32) error {
	if len(chunks) != len(embeddings) {
		return fmt.Errorf("memory store: %d chunks but %d embeddings", len(chunks), len(embeddings))
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	for i, c := range chunks {
		vec := append([]float32(nil), embeddings[i]...)
		m.entries[c.ID] = memoryEntry{vec: vec, norm: norm(vec), meta: c.Metadata}
	}
	return nil
}

// Search ranks all stored vectors against queryEmbedding.
func (m *MemoryStore) Search(ctx context.Context, queryEmbedding []float32, k int, filters Filters) ([]Hit, error) {
	if k < 1 {
		return nil, fmt.Errorf("memory store: k must be >= 1, got %d", k)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	qn := norm(queryEmbedding)
	m.mu.RLock()
	hits := make([]Hit, 0, len(m.entries))
	for id, e := range m.entries {
		if !filters.Match(e.meta) {
			continue
		}
		hits = append(hits, Hit{ChunkID: id, Score: cosine(queryEmbedding, e.vec, qn, e.norm), Source: SourceDense})
	}
	m.mu.RUnlock()

	sort.Slice(hits, func(i, j int) bool {
		if hits[i].Score != hits[j].Score {
			return hits[i].Score > hits[j].Score
		}
		return hits[i].ChunkID < hits[j].ChunkID
	})
	if len(hits) > k {
		hits = hits[:k]
	}
	return hits, nil
}

// Delete removes the given ids.
func (m *MemoryStore) Delete(_ context.Context, ids []string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, id := range ids {
		delete(m.entries, id)
	}
	return nil
}

// Len returns the number of stored vectors.
func (m *MemoryStore) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.entries)
}

// Close is a no-op.
func (m *MemoryStore) Close() error { return nil }

func norm(v []float32) float64 {
	var s float64
	for _, x := range v {
		s += float64(x) * float64(x)
	}
	return math.Sqrt(s)
}

// cosine returns the cosine similarity of a and b given their norms.
// Mismatched dimensions or zero vectors score 0.
func cosine(a, b []float32, na, nb float64) float64 {
	if len(a) != len(b) || na == 0 || nb == 0 {
		return 0
	}
	var dot float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
	}
	return dot / (na * nb)
}

func sortedKeys(f Filters) []string {
	keys := make([]string, 0, len(f))
	for k := range f {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
