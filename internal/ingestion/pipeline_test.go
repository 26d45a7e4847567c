package ingestion

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"

	"github.com/54b3r/edupolicy-go/internal/embedder"
	"github.com/54b3r/edupolicy-go/internal/logging"
	"github.com/54b3r/edupolicy-go/internal/rag"
	"github.com/54b3r/edupolicy-go/internal/store"
)

// hashBackend returns a deterministic 4-dimensional vector per text and
// counts how many texts it embedded.
type hashBackend struct {
	mu    sync.Mutex
	texts int
	err   error
}

func (b *hashBackend) Embed(_ context.Context, texts []string) ([][]float32, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.err != nil {
		return nil, b.err
	}
	b.texts += len(texts)
	out := make([][]float32, len(texts))
	for i, t := range texts {
		v := make([]float32, 4)
		for j, r := range t {
			v[j%4] += float32(r % 7)
		}
		v[0]++
		out[i] = v
	}
	return out, nil
}

func (b *hashBackend) count() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.texts
}

type fixture struct {
	store   *store.SQLiteStore
	vectors *rag.MemoryStore
	backend *hashBackend
	gateway *embedder.Gateway
	p       *Pipeline
}

func newFixture(t *testing.T, dense bool) *fixture {
	t.Helper()
	s, err := store.Open(":memory:")
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })

	f := &fixture{store: s, backend: &hashBackend{}}
	f.gateway = embedder.NewGateway(f.backend, "hash-4")

	var vectors rag.VectorStore
	if dense {
		f.vectors = rag.NewMemoryStore()
		vectors = f.vectors
	}
	p, err := NewPipeline(s, f.gateway, vectors, &Config{ChunkSize: 200, ChunkOverlap: 40}, logging.Discard())
	if err != nil {
		t.Fatalf("NewPipeline: %v", err)
	}
	f.p = p
	return f
}

func TestNewPipeline_Validation(t *testing.T) {
	t.Parallel()

	if _, err := NewPipeline(nil, nil, nil, nil, nil); err == nil {
		t.Error("expected error for nil corpus store")
	}
	s, err := store.Open(":memory:")
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	defer s.Close()
	if _, err := NewPipeline(s, nil, rag.NewMemoryStore(), nil, nil); err == nil {
		t.Error("expected error for vector store without embedder")
	}

	cfg := &Config{ChunkSize: 100, ChunkOverlap: 500}
	if _, err := NewPipeline(s, nil, nil, cfg, nil); err != nil {
		t.Fatalf("sparse-only pipeline: %v", err)
	}
	if cfg.ChunkOverlap != 10 {
		t.Errorf("ChunkOverlap = %d, want clamped to 10", cfg.ChunkOverlap)
	}
}

func TestPipeline_IngestCorpus(t *testing.T) {
	t.Parallel()
	f := newFixture(t, true)
	ctx := context.Background()

	c, err := LoadCorpus("testdata/corpus.yaml")
	if err != nil {
		t.Fatalf("LoadCorpus: %v", err)
	}

	var calls []int
	sum, err := f.p.IngestCorpus(ctx, c, func(done, total int, _ string) {
		if total != len(c.Documents)+2 {
			t.Errorf("total = %d, want %d", total, len(c.Documents)+2)
		}
		calls = append(calls, done)
	})
	if err != nil {
		t.Fatalf("IngestCorpus: %v", err)
	}

	if len(calls) != len(c.Documents)+2 || calls[len(calls)-1] != len(c.Documents)+2 {
		t.Errorf("progress calls = %v", calls)
	}
	if sum.Nodes != len(c.Graph.Nodes) || sum.Edges != len(c.Graph.Edges) {
		t.Errorf("graph summary = %d nodes / %d edges", sum.Nodes, sum.Edges)
	}
	if f.vectors.Len() != sum.Chunks() {
		t.Errorf("vector store holds %d chunks, want %d", f.vectors.Len(), sum.Chunks())
	}
	if f.backend.count() != sum.Chunks() {
		t.Errorf("embedded %d texts, want %d", f.backend.count(), sum.Chunks())
	}

	doc, chunks, err := f.store.GetDocument(ctx, "gitam-admission-2024")
	if err != nil {
		t.Fatalf("GetDocument: %v", err)
	}
	if doc.Metadata["source_type"] != "institution" || doc.Metadata["authority"] != "gitam" {
		t.Errorf("inferred metadata missing: %v", doc.Metadata)
	}
	if doc.Metadata["category"] != "undergraduate" {
		t.Errorf("explicit category overwritten: %q", doc.Metadata["category"])
	}
	for _, ch := range chunks {
		if !strings.HasPrefix(ch.ID, "gitam-admission-2024:p") {
			t.Errorf("chunk id %q has wrong prefix", ch.ID)
		}
	}

	hits, err := f.store.SearchText(ctx, "attendance", 5, nil)
	if err != nil {
		t.Fatalf("SearchText: %v", err)
	}
	if len(hits) == 0 || !strings.HasPrefix(hits[0].ChunkID, "gitam-academic-regulations:p2:") {
		t.Errorf("sparse search for attendance = %+v", hits)
	}

	nodes, err := f.store.ResolveEntities(ctx, []string{"BTech"})
	if err != nil || len(nodes) != 1 {
		t.Fatalf("ResolveEntities(BTech) = %v, %v", nodes, err)
	}
	edges, err := f.store.Edges(ctx, []string{nodes[0].ID})
	if err != nil {
		t.Fatalf("Edges: %v", err)
	}
	if len(edges) != 1 {
		t.Fatalf("edges of btech = %d, want 1", len(edges))
	}
	wantIDs, _ := f.store.ChunkIDsForPage(ctx, "gitam-admission-2024", 1)
	if strings.Join(edges[0].ChunkIDs, ",") != strings.Join(wantIDs, ",") || len(wantIDs) == 0 {
		t.Errorf("edge provenance = %v, want %v", edges[0].ChunkIDs, wantIDs)
	}
}

func TestPipeline_ReingestEvictsStaleChunks(t *testing.T) {
	t.Parallel()
	f := newFixture(t, true)
	ctx := context.Background()

	long := DocumentSpec{
		ID:    "policy",
		Title: "Hostel Policy",
		Pages: []string{strings.Repeat("Hostel residents must register visitors at the gate. ", 12)},
	}
	first, err := f.p.IngestDocument(ctx, long)
	if err != nil {
		t.Fatalf("first ingest: %v", err)
	}
	if first.Chunks < 2 || !first.Dense {
		t.Fatalf("first ingest report = %+v", first)
	}

	short := long
	short.Pages = []string{"Hostel residents must register visitors."}
	second, err := f.p.IngestDocument(ctx, short)
	if err != nil {
		t.Fatalf("second ingest: %v", err)
	}
	if second.Chunks != 1 || second.Stale != first.Chunks-1 {
		t.Errorf("second report = %+v, want 1 chunk and %d stale", second, first.Chunks-1)
	}
	if f.vectors.Len() != 1 {
		t.Errorf("vector store holds %d chunks, want 1", f.vectors.Len())
	}
	if f.backend.count() != first.Chunks+1 {
		t.Errorf("embedded %d texts, want %d (changed chunk must be re-embedded)", f.backend.count(), first.Chunks+1)
	}
}

func TestPipeline_SparseOnly(t *testing.T) {
	t.Parallel()
	f := newFixture(t, false)

	rep, err := f.p.IngestDocument(context.Background(), DocumentSpec{ID: "d", Pages: []string{"Fee refunds are processed within 15 days."}})
	if err != nil {
		t.Fatalf("IngestDocument: %v", err)
	}
	if rep.Dense || rep.Chunks != 1 {
		t.Errorf("report = %+v, want 1 chunk and no dense write", rep)
	}
	if f.backend.count() != 0 {
		t.Errorf("embedder called %d times in sparse-only mode", f.backend.count())
	}
	if f.p.Dense() {
		t.Error("Dense() = true for a pipeline without a vector store")
	}
}

func TestPipeline_EmbeddingFailureKeepsSparse(t *testing.T) {
	t.Parallel()
	f := newFixture(t, true)
	f.backend.err = errors.New("connection refused")
	ctx := context.Background()

	_, err := f.p.IngestDocument(ctx, DocumentSpec{ID: "d", Pages: []string{"Revaluation fee is 500 rupees per paper."}})
	if !errors.Is(err, embedder.ErrEmbeddingUnavailable) {
		t.Fatalf("err = %v, want ErrEmbeddingUnavailable", err)
	}
	hits, err := f.store.SearchText(ctx, "revaluation", 5, nil)
	if err != nil || len(hits) != 1 {
		t.Errorf("sparse index after embedding failure: %v, %v", hits, err)
	}
}

func TestNewDocument(t *testing.T) {
	t.Parallel()

	a := NewDocument("Fee Policy", "page one\f\fpage two\f  ", "https://www.gitam.edu/fees", nil)
	b := NewDocument("Fee Policy", "other text", "https://www.gitam.edu/fees", nil)
	c := NewDocument("Other", "x", "https://www.gitam.edu/fees", nil)

	if a.ID != b.ID {
		t.Errorf("same title and source produced different ids: %s vs %s", a.ID, b.ID)
	}
	if a.ID == c.ID {
		t.Error("different titles produced the same id")
	}
	if len(a.Pages) != 2 || a.Pages[1] != "page two" {
		t.Errorf("pages = %q", a.Pages)
	}
}
