package commands

import (
	"context"
	"fmt"
	"log/slog"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"github.com/54b3r/edupolicy-go/internal/config"
	"github.com/54b3r/edupolicy-go/internal/ingestion"
	"github.com/54b3r/edupolicy-go/internal/logging"
	"github.com/54b3r/edupolicy-go/internal/server"
	"github.com/54b3r/edupolicy-go/internal/tracing"
)

// NewServeCmd constructs the `edupolicy serve` command, which starts the
// HTTP API in front of the query controller.
func NewServeCmd() *cobra.Command {
	var host string
	var port int
	var corpusPath string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the edupolicy HTTP API",
		Long: `Start the edupolicy HTTP API.

Routes:
  POST /v1/query          answer a question with verified citations
  GET  /v1/document/{id}  fetch a stored document and its chunks
  POST /v1/ingest         add one document to the corpus
  POST /v1/feedback       record a rating for an answer
  GET  /v1/status         dependency status
  GET  /health, /ready    liveness and readiness probes
  GET  /metrics           Prometheus metrics

--corpus loads a corpus file before listening, which is how the in-memory
vector backend gets populated.

Examples:
  edupolicy serve
  edupolicy serve --port 9090
  VECTOR_BACKEND=memory edupolicy serve --corpus corpus.yaml`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			log := logging.New()
			ctx = logging.WithLogger(ctx, log)

			// Flag defaults are fixed before config files load, so unset
			// flags fall back to the environment here.
			if !cmd.Flags().Changed("host") {
				host = config.GetEnvOrDefault("SERVER_HOST", host)
			}
			if !cmd.Flags().Changed("port") {
				port = config.GetEnvInt("SERVER_PORT", port)
			}

			flush, _ := tracing.Setup(log)
			defer flush()

			st, err := openStack(ctx, log)
			if err != nil {
				return fmt.Errorf("serve: %w", err)
			}
			defer st.Close()

			pipeline, err := st.pipeline(log)
			if err != nil {
				return fmt.Errorf("serve: %w", err)
			}
			if corpusPath != "" {
				if err := loadCorpusFile(ctx, pipeline, corpusPath, nil); err != nil {
					return fmt.Errorf("serve: %w", err)
				}
			}

			metrics := server.NewMetrics(prometheus.DefaultRegisterer)
			if st.gateway != nil {
				metrics.RegisterCache(st.gateway.Stats)
			}

			router, llmPinger := newRouter(log)
			ctrl := st.controller(router, metrics.ObserveRetrieval)
			log.Info("controller ready",
				slog.Int("retrievers", len(st.retrievers())),
				slog.String("vector_backend", st.vectorBackend),
				slog.String("default_model", router.DefaultModel()),
			)

			srv, err := server.New(server.Backends{
				Querier:   ctrl,
				Documents: st.corpus,
				Feedback:  st.corpus,
				Ingest:    pipeline,
			}, &server.Config{
				Host:         host,
				Port:         port,
				QueryTimeout: config.GetEnvDuration("QUERY_TIMEOUT", 0),
				Logger:       log,
				Pingers:      append([]server.Pinger{llmPinger}, st.pingers...),
				RateLimit:    config.GetEnvFloat("RATE_LIMIT", 0),
				RateBurst:    config.GetEnvInt("RATE_BURST", 0),
				CORSOrigins:  config.GetEnvList("CORS_ORIGINS", nil),
				Metrics:      metrics,
			})
			if err != nil {
				return fmt.Errorf("serve: failed to create server: %w", err)
			}

			return srv.Start(ctx)
		},
	}

	cmd.Flags().StringVar(&host, "host", "127.0.0.1", "Host address to bind to")
	cmd.Flags().IntVarP(&port, "port", "p", 8000, "TCP port to listen on")
	cmd.Flags().StringVar(&corpusPath, "corpus", "", "Corpus YAML file to ingest before serving")

	return cmd
}

// loadCorpusFile parses, validates and ingests a corpus file.
func loadCorpusFile(ctx context.Context, p *ingestion.Pipeline, path string, progress ingestion.Progress) error {
	corpus, err := ingestion.LoadCorpus(path)
	if err != nil {
		return err
	}
	sum, err := p.IngestCorpus(ctx, corpus, progress)
	if err != nil {
		return err
	}
	logging.FromContext(ctx).Info("corpus loaded",
		slog.String("path", path),
		slog.Int("documents", len(sum.Documents)),
		slog.Int("chunks", sum.Chunks()),
		slog.Int("nodes", sum.Nodes),
		slog.Int("edges", sum.Edges),
	)
	return nil
}
