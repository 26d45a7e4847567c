package embedder

import (
	"fmt"
	"log/slog"
	"strings"

	"github.com/54b3r/edupolicy-go/internal/config"
)

// knownChatModelPrefixes contains name fragments that identify chat models
// which are not suitable for embedding.
var knownChatModelPrefixes = []string{
	"gpt-4",
	"gpt-3.5",
	"gpt-35",
	"o1",
	"o3",
	"llama3",
	"llama2",
	"llama-3",
	"llama-2",
	"mistral",
	"mixtral",
	"gemma",
	"phi-",
	"phi3",
	"claude",
	"command-r",
	"deepseek",
	"qwen",
	"doubao",
	"vicuna",
	"falcon",
	"yi-",
}

// looksLikeChatModel reports whether model resembles a known chat model
// rather than a dedicated embedding model.
func looksLikeChatModel(model string) bool {
	lower := strings.ToLower(model)
	for _, prefix := range knownChatModelPrefixes {
		if strings.Contains(lower, prefix) {
			return true
		}
	}
	return false
}

// ValidateForDense is a pre-flight check run before the dense index is built.
// It returns an error when the embedding configuration cannot work and logs
// a warning when EMBEDDING_MODEL looks like a chat model. A vectorBackend of
// "none" disables dense retrieval and skips every check.
func ValidateForDense(log *slog.Logger, vectorBackend string) error {
	if vectorBackend == "none" {
		return nil
	}

	backend := Backend()
	if config.GetEnvOrDefault("EMBEDDING_PROVIDER", "") == "" && backend != "ollama" {
		log.Warn("embedder: EMBEDDING_PROVIDER is not set; inheriting MODEL_PROVIDER as embedding backend",
			slog.String("backend", backend),
			slog.String("hint", "set EMBEDDING_PROVIDER=ollama, openai, azure or local to be explicit"),
		)
	}

	switch backend {
	case "openai":
		if config.GetEnvOrDefault("EMBEDDING_API_KEY", config.GetEnvOrDefault("OPENAI_API_KEY", "")) == "" {
			return fmt.Errorf("embedder: vector backend %q needs an OpenAI API key; set OPENAI_API_KEY or EMBEDDING_API_KEY", vectorBackend)
		}
	case "azure":
		if config.GetEnvOrDefault("EMBEDDING_API_KEY", config.GetEnvOrDefault("AZURE_OPENAI_API_KEY", "")) == "" {
			return fmt.Errorf("embedder: vector backend %q needs an Azure API key; set AZURE_OPENAI_API_KEY or EMBEDDING_API_KEY", vectorBackend)
		}
		if config.GetEnvOrDefault("EMBEDDING_ENDPOINT", config.GetEnvOrDefault("AZURE_OPENAI_ENDPOINT", "")) == "" {
			return fmt.Errorf("embedder: vector backend %q needs an Azure endpoint; set AZURE_OPENAI_ENDPOINT or EMBEDDING_ENDPOINT", vectorBackend)
		}
	case "ollama", "local":
	default:
		return fmt.Errorf("embedder: unknown backend %q (valid values: ollama, openai, azure, local)", backend)
	}

	if model := config.GetEnvOrDefault("EMBEDDING_MODEL", ""); model != "" && looksLikeChatModel(model) {
		log.Warn("embedder: EMBEDDING_MODEL looks like a chat model, not an embedding model",
			slog.String("model", model),
			slog.String("hint", "use a dedicated embedding model e.g. nomic-embed-text, all-MiniLM-L6-v2"),
		)
	}
	return nil
}
