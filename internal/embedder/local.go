package embedder

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/knights-analytics/hugot"
)

const (
	defaultLocalModel      = "sentence-transformers/all-MiniLM-L6-v2"
	defaultLocalDimensions = 384
)

// LocalEmbedder runs a sentence-transformer ONNX model in-process through the
// hugot pure-Go backend. No network is needed once the model is on disk.
type LocalEmbedder struct {
	mu      sync.Mutex
	session *hugot.Session
	run     func([]string) ([][]float32, error)
}

// LocalConfig holds the settings for constructing a LocalEmbedder.
type LocalConfig struct {
	// Model is the Hugging Face model name (default: all-MiniLM-L6-v2).
	Model string
	// ModelDir is where models are cached (default: ~/.edupolicy/models).
	ModelDir string
}

// NewLocalEmbedder prepares the model (downloading it on first use) and
// builds a feature-extraction pipeline over it.
func NewLocalEmbedder(cfg *LocalConfig) (*LocalEmbedder, error) {
	if cfg.Model == "" {
		cfg.Model = defaultLocalModel
	}
	modelPath, err := prepareModel(cfg.Model, cfg.ModelDir)
	if err != nil {
		return nil, err
	}

	session, err := hugot.NewGoSession()
	if err != nil {
		return nil, fmt.Errorf("local embedder: create session: %w", err)
	}

	pipeline, err := hugot.NewPipeline(session, hugot.FeatureExtractionConfig{
		ModelPath: modelPath,
		Name:      "edupolicy-embedder",
	})
	if err != nil {
		if destroyErr := session.Destroy(); destroyErr != nil {
			return nil, fmt.Errorf("local embedder: create pipeline: %w (cleanup error: %v)", err, destroyErr)
		}
		return nil, fmt.Errorf("local embedder: create pipeline: %w", err)
	}

	return &LocalEmbedder{
		session: session,
		run: func(texts []string) ([][]float32, error) {
			out, err := pipeline.RunPipeline(texts)
			if err != nil {
				return nil, err
			}
			return out.Embeddings, nil
		},
	}, nil
}

// Embed runs the pipeline over texts. Calls are serialised; the ONNX session
// is not re-entrant.
func (e *LocalEmbedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("local embedder: %w: %w", ErrEmbeddingUnavailable, err)
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	vecs, err := e.run(texts)
	if err != nil {
		return nil, fmt.Errorf("local embedder: %w: %w", ErrEmbeddingUnavailable, err)
	}
	if len(vecs) != len(texts) {
		return nil, fmt.Errorf("local embedder: expected %d embeddings, got %d: %w", len(texts), len(vecs), ErrEmbeddingUnavailable)
	}
	return vecs, nil
}

// Close destroys the hugot session.
func (e *LocalEmbedder) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.session.Destroy(); err != nil {
		return fmt.Errorf("local embedder: destroy session: %w", err)
	}
	return nil
}

// prepareModel returns the on-disk path of modelName, downloading it into
// modelDir if it is not there yet.
func prepareModel(modelName, modelDir string) (string, error) {
	if modelDir == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("local embedder: resolve home dir: %w", err)
		}
		modelDir = filepath.Join(home, ".edupolicy", "models")
	}
	modelPath := filepath.Join(modelDir, strings.ReplaceAll(modelName, "/", "_"))

	if _, err := os.Stat(modelPath); err == nil {
		return modelPath, nil
	} else if !os.IsNotExist(err) {
		return "", fmt.Errorf("local embedder: stat model: %w", err)
	}

	if err := os.MkdirAll(modelDir, 0o755); err != nil {
		return "", fmt.Errorf("local embedder: create model dir: %w", err)
	}
	opts := hugot.NewDownloadOptions()
	opts.OnnxFilePath = "onnx/model.onnx"
	downloaded, err := hugot.DownloadModel(modelName, modelDir, opts)
	if err != nil {
		return "", fmt.Errorf("local embedder: download %s: %w", modelName, err)
	}
	return downloaded, nil
}
