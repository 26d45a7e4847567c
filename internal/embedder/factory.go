package embedder

import (
	"fmt"

	"github.com/54b3r/edupolicy-go/internal/config"
	"github.com/54b3r/edupolicy-go/internal/rag"
)

// Default embedding models per backend.
const (
	defaultOllamaModel = "nomic-embed-text"
	defaultOpenAIModel = "text-embedding-3-small"

	// defaultOllamaDimensions is the output dimension of nomic-embed-text.
	// Other Ollama models may differ; override with EMBEDDING_DIMENSIONS.
	defaultOllamaDimensions = 768
	// defaultOpenAIDimensions is the output dimension of text-embedding-3-small.
	defaultOpenAIDimensions = 1536
)

// Backend returns the effective embedding backend name: EMBEDDING_PROVIDER,
// then MODEL_PROVIDER, then "ollama".
func Backend() string {
	if b := config.GetEnvOrDefault("EMBEDDING_PROVIDER", ""); b != "" {
		return b
	}
	return config.GetEnvOrDefault("MODEL_PROVIDER", "ollama")
}

// DefaultDimensions returns the default embedding vector size for the given
// backend name. EMBEDDING_DIMENSIONS always takes precedence when set.
func DefaultDimensions(backend string) int {
	if v := config.GetEnvInt("EMBEDDING_DIMENSIONS", 0); v > 0 {
		return v
	}
	switch backend {
	case "ollama":
		return defaultOllamaDimensions
	case "local":
		return defaultLocalDimensions
	default:
		return defaultOpenAIDimensions
	}
}

// NewFromEnv constructs a rag.Embedder and returns it with its model id, the
// second half of every cache key.
//
// Resolution order:
//
//  1. EMBEDDING_PROVIDER, inheriting MODEL_PROVIDER (default: ollama)
//  2. Per-backend credentials are inherited from the chat provider's env vars
//  3. EMBEDDING_MODEL overrides the default model for the resolved backend
//  4. EMBEDDING_API_KEY overrides the inherited API key
//  5. EMBEDDING_ENDPOINT overrides the inherited endpoint
//  6. EMBEDDING_DIMENSIONS overrides the default dimensions
func NewFromEnv() (rag.Embedder, string, error) {
	backend := Backend()

	switch backend {
	case "ollama":
		host := config.GetEnvOrDefault("EMBEDDING_ENDPOINT", config.GetEnvOrDefault("OLLAMA_HOST", "http://localhost:11434"))
		model := config.GetEnvOrDefault("EMBEDDING_MODEL", defaultOllamaModel)
		return NewOllamaEmbedder(&OllamaConfig{Host: host, Model: model}), "ollama/" + model, nil

	case "openai":
		apiKey := config.GetEnvOrDefault("EMBEDDING_API_KEY", config.GetEnvOrDefault("OPENAI_API_KEY", ""))
		if apiKey == "" {
			return nil, "", fmt.Errorf("embedder: openai requires OPENAI_API_KEY or EMBEDDING_API_KEY")
		}
		model := config.GetEnvOrDefault("EMBEDDING_MODEL", defaultOpenAIModel)
		dims := config.GetEnvInt("EMBEDDING_DIMENSIONS", defaultOpenAIDimensions)
		return NewOpenAIEmbedder(&OpenAIConfig{
			BaseURL:    config.GetEnvOrDefault("EMBEDDING_ENDPOINT", "https://api.openai.com/v1"),
			APIKey:     apiKey,
			Model:      model,
			Dimensions: dims,
		}), fmt.Sprintf("openai/%s@%d", model, dims), nil

	case "azure":
		apiKey := config.GetEnvOrDefault("EMBEDDING_API_KEY", config.GetEnvOrDefault("AZURE_OPENAI_API_KEY", ""))
		if apiKey == "" {
			return nil, "", fmt.Errorf("embedder: azure requires AZURE_OPENAI_API_KEY or EMBEDDING_API_KEY")
		}
		endpoint := config.GetEnvOrDefault("EMBEDDING_ENDPOINT", config.GetEnvOrDefault("AZURE_OPENAI_ENDPOINT", ""))
		if endpoint == "" {
			return nil, "", fmt.Errorf("embedder: azure requires AZURE_OPENAI_ENDPOINT or EMBEDDING_ENDPOINT")
		}
		model := config.GetEnvOrDefault("EMBEDDING_MODEL", defaultOpenAIModel)
		dims := config.GetEnvInt("EMBEDDING_DIMENSIONS", defaultOpenAIDimensions)
		return NewOpenAIEmbedder(&OpenAIConfig{
			BaseURL:    endpoint + "/openai",
			APIKey:     apiKey,
			Model:      model,
			Dimensions: dims,
			Azure:      true,
			APIVersion: config.GetEnvOrDefault("AZURE_OPENAI_API_VERSION", "2025-04-01-preview"),
		}), fmt.Sprintf("azure/%s@%d", model, dims), nil

	case "local":
		model := config.GetEnvOrDefault("EMBEDDING_MODEL", defaultLocalModel)
		emb, err := NewLocalEmbedder(&LocalConfig{
			Model:    model,
			ModelDir: config.GetEnvOrDefault("EMBEDDING_MODEL_DIR", ""),
		})
		if err != nil {
			return nil, "", err
		}
		return emb, "local/" + model, nil

	default:
		return nil, "", fmt.Errorf("embedder: unknown backend %q (valid values: ollama, openai, azure, local)", backend)
	}
}
