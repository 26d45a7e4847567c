package server

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/54b3r/edupolicy-go/internal/logging"
)

// probeTimeout is the maximum time allowed for each individual dependency
// probe. Kept short so /ready responds quickly even when a dependency is
// slow rather than unreachable.
const probeTimeout = 5 * time.Second

// Pinger is the interface implemented by any dependency that can report its
// own reachability. Implementations must be safe to call from multiple
// goroutines.
type Pinger interface {
	// Ping checks whether the dependency is reachable within the given context.
	Ping(ctx context.Context) error

	// Name returns a short label used in readiness responses
	// (e.g. "llm:ollama", "qdrant", "corpus").
	Name() string
}

// locator is implemented by pingers that know the address they probe.
type locator interface {
	URL() string
}

// MultiPinger aggregates one or more Pinger implementations and reports
// the combined readiness of all dependencies.
type MultiPinger struct {
	pingers []Pinger
}

// NewMultiPinger constructs a MultiPinger from the provided list of Pingers.
func NewMultiPinger(pingers ...Pinger) *MultiPinger {
	return &MultiPinger{pingers: pingers}
}

// Ping runs all registered probes sequentially and returns the first error
// encountered, or nil if all probes succeed.
func (m *MultiPinger) Ping(ctx context.Context) error {
	for _, p := range m.pingers {
		if err := p.Ping(ctx); err != nil {
			return fmt.Errorf("%s: %w", p.Name(), err)
		}
	}
	return nil
}

// Name returns a combined label for logging purposes.
func (m *MultiPinger) Name() string { return "multi" }

// readyCheck holds the per-dependency result of a readiness probe.
type readyCheck struct {
	// Name is the dependency label.
	Name string `json:"name"`
	// OK is true when the dependency responded successfully.
	OK bool `json:"ok"`
	// Error contains the failure reason when OK is false. Empty on success.
	Error string `json:"error,omitempty"`
}

// readyResponse is the JSON body returned by GET /ready.
type readyResponse struct {
	// Ready is true only when every dependency probe succeeded.
	Ready bool `json:"ready"`
	// Checks contains the per-dependency probe results.
	Checks []readyCheck `json:"checks"`
}

// serviceStatus is one entry of GET /v1/status.
type serviceStatus struct {
	Name      string `json:"name"`
	Status    string `json:"status"`
	URL       string `json:"url"`
	LastCheck string `json:"last_check"`
	Error     string `json:"error,omitempty"`
}

// statusResponse is the JSON body returned by GET /v1/status.
type statusResponse struct {
	OverallStatus string          `json:"overall_status"`
	Services      []serviceStatus `json:"services"`
	Timestamp     string          `json:"timestamp"`
}

// probe is one pinger outcome.
type probe struct {
	pinger Pinger
	err    error
	at     time.Time
}

// probeAll runs every pinger with its own timeout, in order.
func (s *Server) probeAll(ctx context.Context) []probe {
	log := logging.FromContext(ctx)
	out := make([]probe, 0, len(s.pingers))
	for _, p := range s.pingers {
		probeCtx, cancel := context.WithTimeout(ctx, probeTimeout)
		err := p.Ping(probeCtx)
		cancel()
		if err != nil {
			log.Warn("readiness probe failed",
				slog.String("dependency", p.Name()),
				slog.Any("error", err),
			)
		}
		out = append(out, probe{pinger: p, err: err, at: time.Now().UTC()})
	}
	return out
}

// handleHealth handles GET /health for liveness checks.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, r, http.StatusOK, map[string]string{"status": "ok"})
}

// handleReady handles GET /ready. It returns 200 when every dependency is
// reachable, or 503 when any probe fails. Unlike /health (liveness), this
// endpoint reflects actual dependency state.
func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	resp := readyResponse{Ready: true, Checks: []readyCheck{}}
	for _, p := range s.probeAll(r.Context()) {
		check := readyCheck{Name: p.pinger.Name(), OK: p.err == nil}
		if p.err != nil {
			check.Error = p.err.Error()
			resp.Ready = false
		}
		resp.Checks = append(resp.Checks, check)
	}

	status := http.StatusOK
	if !resp.Ready {
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, r, status, resp)
}

// handleStatus handles GET /v1/status. It always returns 200; overall_status
// is "healthy" when every dependency answered and "degraded" otherwise.
func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	resp := statusResponse{
		OverallStatus: "healthy",
		Services:      []serviceStatus{},
		Timestamp:     time.Now().UTC().Format(time.RFC3339),
	}
	for _, p := range s.probeAll(r.Context()) {
		svc := serviceStatus{
			Name:      p.pinger.Name(),
			Status:    "healthy",
			URL:       "N/A",
			LastCheck: p.at.Format(time.RFC3339),
		}
		if l, ok := p.pinger.(locator); ok && l.URL() != "" {
			svc.URL = l.URL()
		}
		if p.err != nil {
			svc.Status = "unhealthy"
			svc.Error = p.err.Error()
			resp.OverallStatus = "degraded"
		}
		resp.Services = append(resp.Services, svc)
	}
	writeJSON(w, r, http.StatusOK, resp)
}
