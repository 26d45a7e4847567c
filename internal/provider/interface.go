// Package provider routes generation requests to LLM backends by model id
// and constructs the eino chat models behind them.
// Supported backends: Ollama, OpenAI, Azure OpenAI, Volcengine Ark, Google Gemini.
package provider

import (
	"context"
	"errors"
	"fmt"

	"github.com/cloudwego/eino/schema"
)

// ErrGenerationUnavailable is returned when the resolved backend cannot
// produce a completion: missing credentials, construction failure, or a
// failed call. Callers degrade rather than fail.
var ErrGenerationUnavailable = errors.New("generation unavailable")

// Backend enumerates the supported LLM inference providers.
type Backend string

const (
	// BackendOllama selects a locally running Ollama instance.
	BackendOllama Backend = "ollama"
	// BackendOpenAI selects the OpenAI API.
	BackendOpenAI Backend = "openai"
	// BackendAzure selects Azure OpenAI Service.
	BackendAzure Backend = "azure"
	// BackendArk selects Volcengine Ark (doubao models).
	BackendArk Backend = "ark"
	// BackendGemini selects Google Gemini via AI Studio.
	BackendGemini Backend = "gemini"
)

// DefaultModel is the model id used when neither the request nor
// DEFAULT_MODEL names one.
const DefaultModel = "deepseek-r1:7b"

// Generator produces a completion for a conversation using the named model.
// Implementations must be safe to call from multiple goroutines.
type Generator interface {
	Generate(ctx context.Context, modelID string, msgs []*schema.Message) (string, error)
}

// Config holds all provider-level configuration resolved from environment
// variables or explicit caller-supplied values.
type Config struct {
	// Provider is the backend used for the default model and for model ids
	// that match no routing rule.
	Provider Backend

	// DefaultModel is the model id used when a request names none or names
	// an unroutable one.
	DefaultModel string

	Ollama ProviderOllama
	OpenAI ProviderOpenAI
	Azure  ProviderAzureOpenAI
	Ark    ProviderArk
	Gemini ProviderGemini

	Tuning SharedTuning
}

// ProviderOllama holds settings for a local Ollama server.
type ProviderOllama struct {
	// Host is the Ollama API base URL.
	Host string
}

// ProviderOpenAI holds OpenAI credentials.
type ProviderOpenAI struct {
	APIKey string
}

// ProviderAzureOpenAI holds Azure OpenAI settings. The deployment comes from
// the model id ("azure:<deployment>").
type ProviderAzureOpenAI struct {
	APIKey     string
	Endpoint   string
	APIVersion string
}

// ProviderArk holds Volcengine Ark settings.
type ProviderArk struct {
	APIKey string
	// BaseURL overrides the Ark endpoint. Empty uses the SDK default.
	BaseURL string
}

// ProviderGemini holds Google AI Studio credentials.
type ProviderGemini struct {
	APIKey string
}

// SharedTuning holds generation knobs applied to every backend.
type SharedTuning struct {
	// MaxTokens caps the number of tokens the model may generate per response.
	MaxTokens int
	// Temperature controls response randomness (0.0–1.0).
	Temperature float32
}

// Validate checks that the credentials for backend b are present.
func (c *Config) Validate(b Backend) error {
	switch b {
	case BackendOllama:
		if c.Ollama.Host == "" {
			return fmt.Errorf("provider: OLLAMA_HOST is required for ollama backend")
		}
	case BackendOpenAI:
		if c.OpenAI.APIKey == "" {
			return fmt.Errorf("provider: OPENAI_API_KEY is required for openai backend")
		}
	case BackendAzure:
		if c.Azure.APIKey == "" {
			return fmt.Errorf("provider: AZURE_OPENAI_API_KEY is required for azure backend")
		}
		if c.Azure.Endpoint == "" {
			return fmt.Errorf("provider: AZURE_OPENAI_ENDPOINT is required for azure backend")
		}
	case BackendArk:
		if c.Ark.APIKey == "" {
			return fmt.Errorf("provider: ARK_API_KEY is required for ark backend")
		}
	case BackendGemini:
		if c.Gemini.APIKey == "" {
			return fmt.Errorf("provider: GOOGLE_API_KEY is required for gemini backend")
		}
	default:
		return fmt.Errorf("provider: unknown backend %q", b)
	}
	return nil
}
