package embedder

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/54b3r/edupolicy-go/internal/rag"
)

const (
	// queryCallTimeout bounds one shared query embedding call.
	queryCallTimeout = 15 * time.Second
	// batchCallTimeout bounds one shared chunk batch call during ingestion.
	batchCallTimeout = 5 * time.Minute
)

// Gateway fronts one embedding backend with a cache keyed by (id, model).
// It is shared by every request and safe for concurrent use.
type Gateway struct {
	// backend produces the vectors.
	backend rag.Embedder
	// modelID is the model half of every cache key.
	modelID string
	// cache holds chunk vectors only.
	cache *Cache
	// group collapses concurrent identical embed calls.
	group singleflight.Group
}

// NewGateway wraps backend. modelID must change whenever the backend would
// produce different vectors (model name, version or dimensions).
func NewGateway(backend rag.Embedder, modelID string) *Gateway {
	return &Gateway{backend: backend, modelID: modelID, cache: NewCache()}
}

// ModelID returns the embedding model identifier used in cache keys.
func (g *Gateway) ModelID() string { return g.modelID }

// Stats reports cache counters.
func (g *Gateway) Stats() CacheStats { return g.cache.Stats() }

// Invalidate drops every cached vector for chunkID.
func (g *Gateway) Invalidate(chunkID string) { g.cache.Invalidate(chunkID) }

// EmbedQuery embeds a single query text. Whitespace is collapsed first so
// trivially different spellings share one in-flight call. Query vectors are
// not cached: the cache holds chunk vectors only, and callers choose the
// query text.
func (g *Gateway) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	norm := strings.Join(strings.Fields(text), " ")
	sum := sha256.Sum256([]byte(norm))
	key := g.modelID + "|q:" + hex.EncodeToString(sum[:])

	v, err := g.shared(ctx, key, queryCallTimeout, func(ctx context.Context) (any, error) {
		vecs, err := g.backend.Embed(ctx, []string{norm})
		if err != nil {
			return nil, wrapUnavailable(err)
		}
		if len(vecs) != 1 {
			return nil, fmt.Errorf("embedder: expected 1 embedding, got %d: %w", len(vecs), ErrEmbeddingUnavailable)
		}
		return vecs[0], nil
	})
	if err != nil {
		return nil, err
	}
	return v.([]float32), nil
}

// EmbedChunks returns one vector per chunk, in order. Cached vectors are
// reused; the misses are embedded in a single backend call and cached.
func (g *Gateway) EmbedChunks(ctx context.Context, chunks []rag.Chunk) ([][]float32, error) {
	out := make([][]float32, len(chunks))
	var missIdx []int
	for i, c := range chunks {
		if v, ok := g.cache.Get(c.ID, g.modelID); ok {
			out[i] = v
			continue
		}
		missIdx = append(missIdx, i)
	}
	if len(missIdx) == 0 {
		return out, nil
	}

	ids := make([]string, len(missIdx))
	texts := make([]string, len(missIdx))
	for j, i := range missIdx {
		ids[j] = chunks[i].ID
		texts[j] = chunks[i].Text
	}

	v, err := g.shared(ctx, g.batchKey(ids), batchCallTimeout, func(ctx context.Context) (any, error) {
		vecs, err := g.backend.Embed(ctx, texts)
		if err != nil {
			return nil, wrapUnavailable(err)
		}
		if len(vecs) != len(texts) {
			return nil, fmt.Errorf("embedder: expected %d embeddings, got %d: %w", len(texts), len(vecs), ErrEmbeddingUnavailable)
		}
		for j, id := range ids {
			g.cache.Put(id, g.modelID, vecs[j])
		}
		return vecs, nil
	})
	if err != nil {
		return nil, err
	}

	vecs := v.([][]float32)
	for j, i := range missIdx {
		out[i] = vecs[j]
	}
	return out, nil
}

// shared runs fn once per key across concurrent callers. fn gets a context
// detached from any single caller and bounded by timeout, so one caller
// giving up does not fail the others. Each caller still stops waiting when
// its own ctx is done.
func (g *Gateway) shared(ctx context.Context, key string, timeout time.Duration, fn func(context.Context) (any, error)) (any, error) {
	ch := g.group.DoChan(key, func() (any, error) {
		callCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), timeout)
		defer cancel()
		return fn(callCtx)
	})
	select {
	case r := <-ch:
		return r.Val, r.Err
	case <-ctx.Done():
		return nil, fmt.Errorf("embedder: %w", ctx.Err())
	}
}

// batchKey identifies a set of chunk ids independent of order.
func (g *Gateway) batchKey(ids []string) string {
	sorted := append([]string(nil), ids...)
	sort.Strings(sorted)
	sum := sha256.Sum256([]byte(strings.Join(sorted, "\x00")))
	return g.modelID + "|b:" + hex.EncodeToString(sum[:])
}

func wrapUnavailable(err error) error {
	if errors.Is(err, ErrEmbeddingUnavailable) {
		return err
	}
	return fmt.Errorf("embedder: %w: %w", ErrEmbeddingUnavailable, err)
}
