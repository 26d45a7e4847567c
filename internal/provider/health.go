package provider

import (
	"context"
	"fmt"
	"net/http"
	"strings"
)

// HealthCheck probes the default backend without spending tokens. Ollama is
// asked for its model list; hosted backends are checked for credentials
// only, since their listing endpoints are billed or rate limited.
func (r *Router) HealthCheck(ctx context.Context) error {
	rt := r.Resolve("")
	if err := r.cfg.Validate(rt.Backend); err != nil {
		return err
	}
	if rt.Backend != BackendOllama {
		return nil
	}

	url := strings.TrimRight(r.cfg.Ollama.Host, "/") + "/api/tags"
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("provider: ollama health request: %w", err)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return fmt.Errorf("provider: ollama unreachable: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("provider: ollama health returned %d", resp.StatusCode)
	}
	return nil
}

// BackendName returns the default backend label for readiness responses.
func (r *Router) BackendName() string { return string(r.Resolve("").Backend) }
