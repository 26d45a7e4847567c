package commands

import (
	"fmt"
	"log/slog"

	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"

	"github.com/54b3r/edupolicy-go/internal/ingestion"
	"github.com/54b3r/edupolicy-go/internal/logging"
)

// NewIngestCmd constructs the `edupolicy ingest` command, which loads a
// corpus file into the SQLite corpus store and the vector store.
func NewIngestCmd() *cobra.Command {
	var corpusPath string
	var quiet bool

	cmd := &cobra.Command{
		Use:   "ingest",
		Short: "Load a policy corpus file into the stores",
		Long: `Load a local corpus file into the corpus database and the vector store.

The corpus file is YAML with two sections: documents (each with an id,
title, source URL, optional metadata and a list of page texts) and graph
(nodes with aliases, and edges whose provenance names document pages).
Re-ingesting a document replaces its chunks and evicts stale vectors.

Metadata missing from a document is inferred from its source URL
(government, regulator or institution, plus a category from the path).

Relevant environment variables:
  EDUPOLICY_CORPUS_DB   SQLite path (default: ~/.edupolicy/corpus.db)
  VECTOR_BACKEND        qdrant, pgvector, memory or none (default: qdrant)
  EMBEDDING_PROVIDER    ollama, openai, azure or local
  CHUNK_SIZE            bytes per chunk (default: 800)
  CHUNK_OVERLAP         bytes repeated between chunks (default: 120)

Examples:
  edupolicy ingest --corpus corpus.yaml
  VECTOR_BACKEND=none edupolicy ingest --corpus corpus.yaml`,
		RunE: func(cmd *cobra.Command, args []string) error {
			log := logging.New()
			ctx := logging.WithLogger(cmd.Context(), log)

			if corpusPath == "" {
				return fmt.Errorf("ingest: --corpus is required")
			}

			st, err := openStack(ctx, log)
			if err != nil {
				return fmt.Errorf("ingest: %w", err)
			}
			defer st.Close()

			pipeline, err := st.pipeline(log)
			if err != nil {
				return fmt.Errorf("ingest: failed to create pipeline: %w", err)
			}
			if !pipeline.Dense() {
				log.Warn("dense index disabled; only the sparse index and graph are written")
			}

			var progress ingestion.Progress
			if !quiet {
				var bar *progressbar.ProgressBar
				progress = func(done, total int, msg string) {
					if bar == nil {
						bar = progressbar.Default(int64(total), "ingesting")
					}
					bar.Describe(msg)
					_ = bar.Set(done)
				}
			}

			if err := loadCorpusFile(ctx, pipeline, corpusPath, progress); err != nil {
				return fmt.Errorf("ingest: %w", err)
			}
			log.Info("ingestion complete", slog.String("corpus", corpusPath), slog.Bool("dense", pipeline.Dense()))
			return nil
		},
	}

	cmd.Flags().StringVarP(&corpusPath, "corpus", "c", "", "Corpus YAML file to ingest")
	cmd.Flags().BoolVarP(&quiet, "quiet", "q", false, "Disable the progress bar")

	return cmd
}
