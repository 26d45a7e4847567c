// Package ingestion loads policy documents and the knowledge graph into the
// corpus store. Each page is chunked, the chunks are written to SQLite (the
// sparse index and chunk store), embedded through the embedding gateway, and
// upserted into the vector store. Graph edge provenance is resolved to chunk
// ids once the referenced pages exist. The pipeline backs the
// `edupolicy ingest` command and POST /v1/ingest.
package ingestion

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/google/uuid"

	"github.com/54b3r/edupolicy-go/internal/graph"
	"github.com/54b3r/edupolicy-go/internal/rag"
	"github.com/54b3r/edupolicy-go/internal/store"
)

// CorpusWriter is the write side of the corpus store.
type CorpusWriter interface {
	// UpsertDocument replaces doc and its chunks and returns the ids of
	// chunks from the previous version that no longer exist.
	UpsertDocument(ctx context.Context, doc store.Document, chunks []rag.Chunk) ([]string, error)
	// ChunkIDsForPage lists the chunk ids of one page of a document.
	ChunkIDsForPage(ctx context.Context, docID string, page int) ([]string, error)
	// UpsertNode stores a graph node.
	UpsertNode(ctx context.Context, n graph.Node) error
	// UpsertEdge stores a graph edge. Both endpoints must already exist.
	UpsertEdge(ctx context.Context, e graph.Edge) error
}

// ChunkEmbedder embeds chunks and forgets cached vectors on request. The
// embedding gateway implements it.
type ChunkEmbedder interface {
	EmbedChunks(ctx context.Context, chunks []rag.Chunk) ([][]float32, error)
	Invalidate(chunkID string)
}

// Config holds the configuration for the ingestion pipeline.
type Config struct {
	// ChunkSize is the maximum number of bytes per chunk.
	// Defaults to 800 if zero.
	ChunkSize int

	// ChunkOverlap is the number of bytes repeated between consecutive chunks.
	// Defaults to 120 if zero.
	ChunkOverlap int
}

// Report summarises one ingested document.
type Report struct {
	DocID  string
	Chunks int
	Stale  int
	// Dense is false when the vector store was not updated.
	Dense bool
}

// Summary summarises a corpus load.
type Summary struct {
	Documents []Report
	Nodes     int
	Edges     int
}

// Chunks returns the total number of chunks written.
func (s Summary) Chunks() int {
	n := 0
	for _, r := range s.Documents {
		n += r.Chunks
	}
	return n
}

// Progress is called after each unit of work. total is fixed for one call
// to IngestCorpus.
type Progress func(done, total int, msg string)

// Pipeline orchestrates the chunk → store → embed → upsert flow.
type Pipeline struct {
	// corpus receives documents, chunks and the graph.
	corpus CorpusWriter

	// embedder produces chunk vectors. Nil when vectors is nil.
	embedder ChunkEmbedder

	// vectors is the dense index. Nil disables dense indexing.
	vectors rag.VectorStore

	chunker Chunker
	log     *slog.Logger
}

// NewPipeline constructs a Pipeline. vectors may be nil (VECTOR_BACKEND=none),
// in which case embedder is ignored and only the sparse index is built.
func NewPipeline(corpus CorpusWriter, embedder ChunkEmbedder, vectors rag.VectorStore, cfg *Config, log *slog.Logger) (*Pipeline, error) {
	if corpus == nil {
		return nil, fmt.Errorf("ingestion: corpus store must not be nil")
	}
	if vectors != nil && embedder == nil {
		return nil, fmt.Errorf("ingestion: embedder must not be nil when a vector store is configured")
	}
	if cfg == nil {
		cfg = &Config{}
	}
	if cfg.ChunkSize <= 0 {
		cfg.ChunkSize = 800
	}
	if cfg.ChunkOverlap <= 0 {
		cfg.ChunkOverlap = 120
	}
	if cfg.ChunkOverlap >= cfg.ChunkSize {
		cfg.ChunkOverlap = cfg.ChunkSize / 10
	}
	if log == nil {
		log = slog.Default()
	}

	return &Pipeline{
		corpus:   corpus,
		embedder: embedder,
		vectors:  vectors,
		chunker:  Chunker{Size: cfg.ChunkSize, Overlap: cfg.ChunkOverlap},
		log:      log,
	}, nil
}

// Dense reports whether the pipeline writes to a vector store.
func (p *Pipeline) Dense() bool { return p.vectors != nil }

// IngestDocument chunks and stores one document. Re-ingesting a document
// replaces its chunks; chunks that disappear are deleted from the vector
// store and every chunk of the document is evicted from the embedding cache
// because its text may have changed under the same id.
func (p *Pipeline) IngestDocument(ctx context.Context, doc DocumentSpec) (Report, error) {
	if doc.ID == "" {
		return Report{}, fmt.Errorf("ingestion: document id is required")
	}

	meta := make(map[string]string, len(doc.Metadata)+4)
	for k, v := range doc.Metadata {
		meta[k] = v
	}
	if doc.Title != "" && meta["title"] == "" {
		meta["title"] = doc.Title
	}
	if doc.Source != "" && meta["source"] == "" {
		meta["source"] = doc.Source
	}
	InferMetadata(doc.Source).Apply(meta)

	var chunks []rag.Chunk
	for i, text := range doc.Pages {
		chunks = append(chunks, p.chunker.Page(doc.ID, i+1, text, meta)...)
	}

	stale, err := p.corpus.UpsertDocument(ctx, store.Document{
		ID:       doc.ID,
		Title:    doc.Title,
		Source:   doc.Source,
		Content:  strings.Join(doc.Pages, "\f"),
		Metadata: meta,
	}, chunks)
	if err != nil {
		return Report{}, fmt.Errorf("ingestion: store %s: %w", doc.ID, err)
	}

	rep := Report{DocID: doc.ID, Chunks: len(chunks), Stale: len(stale)}
	if p.vectors == nil {
		return rep, nil
	}

	for _, id := range stale {
		p.embedder.Invalidate(id)
	}
	for _, c := range chunks {
		p.embedder.Invalidate(c.ID)
	}
	if len(stale) > 0 {
		if err := p.vectors.Delete(ctx, stale); err != nil {
			return rep, fmt.Errorf("ingestion: delete stale vectors of %s: %w", doc.ID, err)
		}
	}
	if len(chunks) == 0 {
		rep.Dense = true
		return rep, nil
	}

	vecs, err := p.embedder.EmbedChunks(ctx, chunks)
	if err != nil {
		return rep, fmt.Errorf("ingestion: embedding failed for %s: %w", doc.ID, err)
	}
	if err := p.vectors.Upsert(ctx, chunks, vecs); err != nil {
		return rep, fmt.Errorf("ingestion: upsert failed for %s: %w", doc.ID, err)
	}
	rep.Dense = true

	p.log.Debug("ingestion: document indexed",
		slog.String("doc_id", doc.ID),
		slog.Int("chunks", len(chunks)),
		slog.Int("stale", len(stale)),
	)
	return rep, nil
}

// IngestCorpus loads every document, then the graph. It stops at the first
// error. Progress is reported once per document and once per graph pass.
func (p *Pipeline) IngestCorpus(ctx context.Context, c *Corpus, progress Progress) (Summary, error) {
	if progress == nil {
		progress = func(int, int, string) {}
	}
	if err := c.Validate(); err != nil {
		return Summary{}, err
	}

	total := len(c.Documents) + 2
	done := 0
	var sum Summary

	for _, doc := range c.Documents {
		if err := ctx.Err(); err != nil {
			return sum, err
		}
		rep, err := p.IngestDocument(ctx, doc)
		if err != nil {
			return sum, err
		}
		sum.Documents = append(sum.Documents, rep)
		done++
		progress(done, total, fmt.Sprintf("ingested %s (%d chunks)", doc.ID, rep.Chunks))
	}

	for _, n := range c.Graph.Nodes {
		if err := p.corpus.UpsertNode(ctx, graph.Node{ID: n.ID, Name: n.Name, Kind: n.Kind, Aliases: n.Aliases}); err != nil {
			return sum, fmt.Errorf("ingestion: node %s: %w", n.ID, err)
		}
		sum.Nodes++
	}
	done++
	progress(done, total, fmt.Sprintf("stored %d graph nodes", sum.Nodes))

	for _, e := range c.Graph.Edges {
		ids, err := p.provenance(ctx, e.Provenance)
		if err != nil {
			return sum, fmt.Errorf("ingestion: edge %s: %w", e.edgeID(), err)
		}
		if len(ids) == 0 {
			p.log.Warn("ingestion: edge has no provenance chunks",
				slog.String("edge", e.edgeID()),
			)
		}
		edge := graph.Edge{ID: e.edgeID(), From: e.From, To: e.To, Relation: e.Relation, ChunkIDs: ids}
		if err := p.corpus.UpsertEdge(ctx, edge); err != nil {
			return sum, fmt.Errorf("ingestion: edge %s: %w", edge.ID, err)
		}
		sum.Edges++
	}
	done++
	progress(done, total, fmt.Sprintf("stored %d graph edges", sum.Edges))

	return sum, nil
}

// provenance resolves page references to the chunk ids cut from those pages,
// de-duplicated in reference order.
func (p *Pipeline) provenance(ctx context.Context, refs []PageRef) ([]string, error) {
	var out []string
	seen := map[string]bool{}
	for _, ref := range refs {
		ids, err := p.corpus.ChunkIDsForPage(ctx, ref.Doc, ref.Page)
		if err != nil {
			return nil, err
		}
		for _, id := range ids {
			if !seen[id] {
				seen[id] = true
				out = append(out, id)
			}
		}
	}
	return out, nil
}

// NewDocument builds a single-page-per-form-feed document from an ingest
// request. The id is a name-based UUID of source and title so re-posting
// the same document replaces it.
func NewDocument(title, content, source string, metadata map[string]string) DocumentSpec {
	id := uuid.NewSHA1(uuid.NameSpaceURL, []byte(source+"\n"+title)).String()

	var pages []string
	for _, page := range strings.Split(content, "\f") {
		if strings.TrimSpace(page) != "" {
			pages = append(pages, page)
		}
	}
	return DocumentSpec{
		ID:       id,
		Title:    title,
		Source:   source,
		Metadata: metadata,
		Pages:    pages,
	}
}
