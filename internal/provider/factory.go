package provider

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/cloudwego/eino/callbacks"
	"github.com/cloudwego/eino/components"
	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"

	"github.com/54b3r/edupolicy-go/internal/config"
)

// ConfigFromEnv reads provider configuration from environment variables.
// Each backend uses its own native credential env vars.
//
// Environment variables:
//
//	MODEL_PROVIDER              = ollama | openai | azure | ark | gemini (default: ollama)
//	DEFAULT_MODEL               (default: deepseek-r1:7b)
//
//	Ollama:  OLLAMA_HOST (default: http://localhost:11434)
//	OpenAI:  OPENAI_API_KEY
//	Azure:   AZURE_OPENAI_API_KEY, AZURE_OPENAI_ENDPOINT,
//	         AZURE_OPENAI_API_VERSION (default: 2024-02-01)
//	Ark:     ARK_API_KEY, ARK_BASE_URL
//	Gemini:  GOOGLE_API_KEY
//
//	Shared:  MODEL_MAX_TOKENS (default: 2048), MODEL_TEMPERATURE (default: 0.1)
func ConfigFromEnv() *Config {
	return &Config{
		Provider:     Backend(config.GetEnvOrDefault("MODEL_PROVIDER", string(BackendOllama))),
		DefaultModel: config.GetEnvOrDefault("DEFAULT_MODEL", DefaultModel),
		Ollama: ProviderOllama{
			Host: config.GetEnvOrDefault("OLLAMA_HOST", "http://localhost:11434"),
		},
		OpenAI: ProviderOpenAI{
			APIKey: config.GetEnvOrDefault("OPENAI_API_KEY", ""),
		},
		Azure: ProviderAzureOpenAI{
			APIKey:     config.GetEnvOrDefault("AZURE_OPENAI_API_KEY", ""),
			Endpoint:   config.GetEnvOrDefault("AZURE_OPENAI_ENDPOINT", ""),
			APIVersion: config.GetEnvOrDefault("AZURE_OPENAI_API_VERSION", "2024-02-01"),
		},
		Ark: ProviderArk{
			APIKey:  config.GetEnvOrDefault("ARK_API_KEY", ""),
			BaseURL: config.GetEnvOrDefault("ARK_BASE_URL", ""),
		},
		Gemini: ProviderGemini{
			APIKey: config.GetEnvOrDefault("GOOGLE_API_KEY", ""),
		},
		Tuning: SharedTuning{
			MaxTokens:   config.GetEnvInt("MODEL_MAX_TOKENS", 2048),
			Temperature: float32(config.GetEnvFloat("MODEL_TEMPERATURE", 0.1)),
		},
	}
}

// Route is the outcome of resolving a model id.
type Route struct {
	Backend Backend
	// Model is the name passed to the backend (prefix stripped).
	Model string
	// Fallback is set when the requested id matched no rule and the default
	// model was substituted.
	Fallback bool
}

// ollamaFamilies are model-name prefixes served by a local Ollama.
var ollamaFamilies = []string{
	"llama", "deepseek", "qwen", "gemma", "phi", "codellama",
	"mistral", "mixtral", "neural-chat", "orca",
}

// match applies the routing rules to id. ok is false when no rule matches.
func match(id string) (Route, bool) {
	lower := strings.ToLower(id)
	switch {
	case strings.HasPrefix(lower, "azure:"):
		return Route{Backend: BackendAzure, Model: id[len("azure:"):]}, len(id) > len("azure:")
	case strings.HasPrefix(lower, "ark:"):
		return Route{Backend: BackendArk, Model: id[len("ark:"):]}, len(id) > len("ark:")
	case strings.HasPrefix(lower, "doubao"):
		return Route{Backend: BackendArk, Model: id}, true
	case strings.HasPrefix(lower, "gpt-"), strings.HasPrefix(lower, "o1"), strings.HasPrefix(lower, "o3"):
		return Route{Backend: BackendOpenAI, Model: id}, true
	case strings.HasPrefix(lower, "gemini"):
		return Route{Backend: BackendGemini, Model: id}, true
	}
	for _, fam := range ollamaFamilies {
		if strings.HasPrefix(lower, fam) {
			return Route{Backend: BackendOllama, Model: id}, true
		}
	}
	return Route{}, false
}

// builder constructs a chat model for a route. Swapped in tests.
type builder func(ctx context.Context, cfg *Config, rt Route) (model.BaseChatModel, error)

// Router maps request model ids to backends and caches one chat model per
// resolved route for the lifetime of the process.
type Router struct {
	cfg   *Config
	log   *slog.Logger
	build builder

	mu     sync.Mutex
	models map[Route]model.BaseChatModel
}

// NewRouter constructs a Router. Credentials are checked lazily, on the
// first request routed to each backend.
func NewRouter(cfg *Config, log *slog.Logger) *Router {
	if log == nil {
		log = slog.Default()
	}
	return &Router{
		cfg:    cfg,
		log:    log,
		build:  newChatModel,
		models: make(map[Route]model.BaseChatModel),
	}
}

// DefaultModel returns the configured default model id.
func (r *Router) DefaultModel() string { return r.cfg.DefaultModel }

// Resolve maps a model id to its route. The first matching rule wins:
// "azure:<deployment>", "ark:<id>" or "doubao*", "gpt-*"/"o1*"/"o3*",
// "gemini*", then the known Ollama families. Anything else, including an
// empty id, falls back to DEFAULT_MODEL on MODEL_PROVIDER.
func (r *Router) Resolve(modelID string) Route {
	id := strings.TrimSpace(modelID)
	if id != "" {
		if rt, ok := match(id); ok {
			return rt
		}
		r.log.Warn("provider: unrecognised model id, using default",
			slog.String("requested", id),
			slog.String("default", r.cfg.DefaultModel),
		)
	}
	rt := Route{Backend: r.cfg.Provider, Model: r.cfg.DefaultModel, Fallback: id != ""}
	if m, ok := match(r.cfg.DefaultModel); ok && m.Backend == r.cfg.Provider {
		rt.Model = m.Model
	}
	return rt
}

// chatModel returns the cached model for rt, building it on first use.
func (r *Router) chatModel(ctx context.Context, rt Route) (model.BaseChatModel, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	key := Route{Backend: rt.Backend, Model: rt.Model}
	if m, ok := r.models[key]; ok {
		return m, nil
	}
	m, err := r.build(ctx, r.cfg, key)
	if err != nil {
		return nil, err
	}
	r.models[key] = m
	return m, nil
}

// Generate routes modelID, sends msgs, and returns the completion text.
// Every failure other than caller cancellation wraps ErrGenerationUnavailable.
func (r *Router) Generate(ctx context.Context, modelID string, msgs []*schema.Message) (string, error) {
	rt := r.Resolve(modelID)
	m, err := r.chatModel(ctx, rt)
	if err != nil {
		return "", fmt.Errorf("provider: %s/%s: %w: %w", rt.Backend, rt.Model, ErrGenerationUnavailable, err)
	}

	ctx = callbacks.InitCallbacks(ctx, &callbacks.RunInfo{
		Name:      "edupolicy.generate",
		Type:      string(rt.Backend),
		Component: components.ComponentOfChatModel,
	})
	resp, err := m.Generate(ctx, msgs,
		model.WithTemperature(r.cfg.Tuning.Temperature),
		model.WithMaxTokens(r.cfg.Tuning.MaxTokens),
	)
	if err != nil {
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		return "", fmt.Errorf("provider: %s/%s: %w: %w", rt.Backend, rt.Model, ErrGenerationUnavailable, err)
	}
	if resp == nil || strings.TrimSpace(resp.Content) == "" {
		return "", fmt.Errorf("provider: %s/%s: %w: empty completion", rt.Backend, rt.Model, ErrGenerationUnavailable)
	}
	return resp.Content, nil
}
