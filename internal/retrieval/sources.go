package retrieval

import (
	"context"
	"fmt"

	"github.com/54b3r/edupolicy-go/internal/graph"
	"github.com/54b3r/edupolicy-go/internal/rag"
)

// QueryEmbedder embeds a query text. *embedder.Gateway satisfies it.
type QueryEmbedder interface {
	EmbedQuery(ctx context.Context, text string) ([]float32, error)
}

// DenseRetriever embeds the query and searches a vector store.
type DenseRetriever struct {
	embed QueryEmbedder
	index rag.VectorStore
}

// NewDenseRetriever returns a DenseRetriever.
func NewDenseRetriever(embed QueryEmbedder, index rag.VectorStore) *DenseRetriever {
	return &DenseRetriever{embed: embed, index: index}
}

// Source implements Retriever.
func (d *DenseRetriever) Source() rag.Source { return rag.SourceDense }

// Retrieve implements Retriever.
func (d *DenseRetriever) Retrieve(ctx context.Context, req *Request) (Outcome, error) {
	if req.K < 1 {
		return Outcome{}, fmt.Errorf("dense: k must be >= 1, got %d", req.K)
	}
	vec, err := d.embed.EmbedQuery(ctx, req.Text)
	if err != nil {
		return Outcome{}, fmt.Errorf("dense: embed query: %w", err)
	}
	hits, err := d.index.Search(ctx, vec, req.K, req.Filters)
	if err != nil {
		return Outcome{}, fmt.Errorf("dense: %w", err)
	}
	return Outcome{Hits: withSource(hits, rag.SourceDense)}, nil
}

// TextSearcher is a BM25 keyword index. *store.SQLiteStore satisfies it.
type TextSearcher interface {
	SearchText(ctx context.Context, query string, k int, filters rag.Filters) ([]rag.Hit, error)
}

// SparseRetriever runs keyword search over the corpus store.
type SparseRetriever struct {
	index TextSearcher
}

// NewSparseRetriever returns a SparseRetriever.
func NewSparseRetriever(index TextSearcher) *SparseRetriever {
	return &SparseRetriever{index: index}
}

// Source implements Retriever.
func (s *SparseRetriever) Source() rag.Source { return rag.SourceSparse }

// Retrieve implements Retriever.
func (s *SparseRetriever) Retrieve(ctx context.Context, req *Request) (Outcome, error) {
	hits, err := s.index.SearchText(ctx, req.Text, req.K, req.Filters)
	if err != nil {
		return Outcome{}, fmt.Errorf("sparse: %w", err)
	}
	return Outcome{Hits: withSource(hits, rag.SourceSparse)}, nil
}

// GraphRetriever traverses the knowledge graph from the request's entities.
type GraphRetriever struct {
	traverser *graph.Traverser
}

// NewGraphRetriever returns a GraphRetriever.
func NewGraphRetriever(t *graph.Traverser) *GraphRetriever {
	return &GraphRetriever{traverser: t}
}

// Source implements Retriever.
func (g *GraphRetriever) Source() rag.Source { return rag.SourceGraph }

// Retrieve implements Retriever. Metadata filters do not apply to the graph.
func (g *GraphRetriever) Retrieve(ctx context.Context, req *Request) (Outcome, error) {
	res, err := g.traverser.Traverse(ctx, req.Entities, req.MaxHops)
	if err != nil {
		return Outcome{}, fmt.Errorf("graph: %w", err)
	}
	return Outcome{Hits: res.Hits, Graph: &res}, nil
}

func withSource(hits []rag.Hit, src rag.Source) []rag.Hit {
	for i := range hits {
		hits[i].Source = src
	}
	return hits
}
