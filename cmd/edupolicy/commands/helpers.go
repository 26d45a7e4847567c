package commands

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/url"
	"strconv"

	"github.com/54b3r/edupolicy-go/internal/config"
	"github.com/54b3r/edupolicy-go/internal/controller"
	"github.com/54b3r/edupolicy-go/internal/embedder"
	"github.com/54b3r/edupolicy-go/internal/graph"
	"github.com/54b3r/edupolicy-go/internal/ingestion"
	"github.com/54b3r/edupolicy-go/internal/provider"
	"github.com/54b3r/edupolicy-go/internal/rag"
	"github.com/54b3r/edupolicy-go/internal/retrieval"
	"github.com/54b3r/edupolicy-go/internal/server"
	"github.com/54b3r/edupolicy-go/internal/store"
)

// stack holds the storage side shared by every command: the SQLite corpus
// (chunks, sparse index, graph, feedback) and the optional dense index.
type stack struct {
	corpus        *store.SQLiteStore
	gateway       *embedder.Gateway
	vectors       rag.VectorStore
	vectorBackend string
	pingers       []server.Pinger
	closers       []func() error
}

// openStack opens the corpus store and, unless VECTOR_BACKEND=none, the
// embedding gateway and vector store. A dense-side failure is fatal here:
// an operator who configured a vector backend expects it to be used.
func openStack(ctx context.Context, log *slog.Logger) (*stack, error) {
	s := &stack{vectorBackend: config.GetEnvOrDefault("VECTOR_BACKEND", "qdrant")}

	dbPath := config.GetEnvOrDefault("EDUPOLICY_CORPUS_DB", "")
	if dbPath == "" {
		var err error
		if dbPath, err = store.DefaultDBPath(); err != nil {
			return nil, err
		}
	}
	corpus, err := store.Open(dbPath)
	if err != nil {
		return nil, err
	}
	s.corpus = corpus
	s.closers = append(s.closers, corpus.Close)
	s.pingers = append(s.pingers, server.NewSQLPinger(corpus.DB(), "corpus", dbPath))
	log.Info("corpus store opened", slog.String("path", dbPath))

	if s.vectorBackend == "none" {
		log.Info("dense retrieval disabled", slog.String("reason", "VECTOR_BACKEND=none"))
		return s, nil
	}

	if err := embedder.ValidateForDense(log, s.vectorBackend); err != nil {
		s.Close()
		return nil, err
	}
	backend, modelID, err := embedder.NewFromEnv()
	if err != nil {
		s.Close()
		return nil, fmt.Errorf("failed to initialise embedder: %w", err)
	}
	if c, ok := backend.(interface{ Close() error }); ok {
		s.closers = append(s.closers, c.Close)
	}
	s.gateway = embedder.NewGateway(backend, modelID)
	log.Info("embedder initialised", slog.String("model", modelID))

	if err := s.openVectors(ctx, log); err != nil {
		s.Close()
		return nil, err
	}
	return s, nil
}

// openVectors connects the dense index named by VECTOR_BACKEND.
func (s *stack) openVectors(ctx context.Context, log *slog.Logger) error {
	dims := embedder.DefaultDimensions(embedder.Backend())

	switch s.vectorBackend {
	case "qdrant":
		host := config.GetEnvOrDefault("QDRANT_HOST", "localhost")
		port := config.GetEnvInt("QDRANT_PORT", 6334)
		collection := config.GetEnvOrDefault("QDRANT_COLLECTION", "edupolicy-chunks")
		qs, err := rag.NewQdrantStore(ctx, &rag.QdrantConfig{
			Host:       host,
			Port:       port,
			Collection: collection,
			VectorSize: uint64(dims), //nolint:gosec // dimensions are bounded
			APIKey:     config.GetEnvOrDefault("QDRANT_API_KEY", ""),
			UseTLS:     config.GetEnvBool("QDRANT_TLS", false),
		})
		if err != nil {
			return fmt.Errorf("failed to connect to Qdrant at %s:%d: %w", host, port, err)
		}
		s.vectors = qs
		s.closers = append(s.closers, qs.Close)
		addr := net.JoinHostPort(host, strconv.Itoa(port))
		s.pingers = append(s.pingers, server.NewQdrantPinger(qs.Client(), addr))
		log.Info("qdrant store ready", slog.String("addr", addr), slog.String("collection", collection))

	case "pgvector":
		dsn := config.GetEnvOrDefault("PGVECTOR_DSN", "")
		if dsn == "" {
			return fmt.Errorf("VECTOR_BACKEND=pgvector requires PGVECTOR_DSN")
		}
		ps, err := rag.NewPgVectorStore(ctx, &rag.PgVectorConfig{
			DSN:        dsn,
			Table:      config.GetEnvOrDefault("PGVECTOR_TABLE", ""),
			Dimensions: dims,
		})
		if err != nil {
			return fmt.Errorf("failed to open pgvector store: %w", err)
		}
		s.vectors = ps
		s.closers = append(s.closers, ps.Close)
		s.pingers = append(s.pingers, server.NewSQLPinger(ps.DB(), "pgvector", redactDSN(dsn)))
		log.Info("pgvector store ready", slog.String("dsn", redactDSN(dsn)))

	case "memory":
		s.vectors = rag.NewMemoryStore()
		log.Warn("in-memory vector store selected; dense index lives only for this process")

	default:
		return fmt.Errorf("unknown VECTOR_BACKEND %q (want qdrant, pgvector, memory or none)", s.vectorBackend)
	}
	return nil
}

// pipeline returns an ingestion pipeline over the stack.
func (s *stack) pipeline(log *slog.Logger) (*ingestion.Pipeline, error) {
	var emb ingestion.ChunkEmbedder
	if s.gateway != nil {
		emb = s.gateway
	}
	return ingestion.NewPipeline(s.corpus, emb, s.vectors, &ingestion.Config{
		ChunkSize:    config.GetEnvInt("CHUNK_SIZE", 0),
		ChunkOverlap: config.GetEnvInt("CHUNK_OVERLAP", 0),
	}, log)
}

// retrievers lists dense (when configured), sparse and graph retrievers.
func (s *stack) retrievers() []retrieval.Retriever {
	var out []retrieval.Retriever
	if s.vectors != nil {
		out = append(out, retrieval.NewDenseRetriever(s.gateway, s.vectors))
	}
	return append(out,
		retrieval.NewSparseRetriever(s.corpus),
		retrieval.NewGraphRetriever(graph.NewTraverser(s.corpus)),
	)
}

// controller wires the query controller over the stack and router.
func (s *stack) controller(router *provider.Router, observe retrieval.Observer) *controller.Controller {
	return controller.New(controller.Deps{
		Retrievers: s.retrievers(),
		Extractor:  graph.NewGazetteer(s.corpus),
		Chunks:     s.corpus,
		Generator:  router,
		Policy:     controller.PolicyFromEnv(),
		Observer:   observe,
	})
}

// Close releases every opened resource in reverse order.
func (s *stack) Close() {
	for i := len(s.closers) - 1; i >= 0; i-- {
		_ = s.closers[i]()
	}
	s.closers = nil
}

// newRouter builds the model router and its readiness pinger.
func newRouter(log *slog.Logger) (*provider.Router, server.Pinger) {
	cfg := provider.ConfigFromEnv()
	router := provider.NewRouter(cfg, log)
	var addr string
	if router.BackendName() == string(provider.BackendOllama) {
		addr = cfg.Ollama.Host
	}
	return router, server.NewLLMPinger(router, router.BackendName(), addr)
}

// redactDSN drops the password from a URL-form DSN. Key=value DSNs are
// reported only by scheme.
func redactDSN(dsn string) string {
	u, err := url.Parse(dsn)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return "postgres"
	}
	if u.User != nil {
		u.User = url.User(u.User.Username())
	}
	return u.String()
}
