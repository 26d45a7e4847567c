// Package server implements the HTTP API in front of the query controller:
// POST /v1/query plus the document, ingest, feedback and status routes, the
// liveness and readiness probes, and Prometheus metrics.
// The server is started by the `edupolicy serve` CLI command.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/54b3r/edupolicy-go/internal/controller"
	"github.com/54b3r/edupolicy-go/internal/ingestion"
	"github.com/54b3r/edupolicy-go/internal/logging"
	"github.com/54b3r/edupolicy-go/internal/rag"
	"github.com/54b3r/edupolicy-go/internal/store"
)

// Request limits.
const (
	maxQueryChars    = 1000
	maxTitleChars    = 200
	maxCommentsChars = 1000
	maxBodyBytes     = 1 << 20
	maxIngestBytes   = 16 << 20
)

// New constructs a Server from the provided backends and config.
func New(b Backends, cfg *Config) (*Server, error) {
	if b.Querier == nil {
		return nil, fmt.Errorf("server: querier must not be nil")
	}
	if cfg == nil {
		cfg = &Config{}
	}
	if cfg.Host == "" {
		cfg.Host = "127.0.0.1"
	}
	if cfg.Port == 0 {
		cfg.Port = 8000
	}
	if cfg.ReadTimeout == 0 {
		cfg.ReadTimeout = 30 * time.Second
	}
	if cfg.QueryTimeout == 0 {
		cfg.QueryTimeout = 2 * time.Minute
	}
	if cfg.WriteTimeout == 0 {
		// WriteTimeout must outlast a full controller run.
		cfg.WriteTimeout = cfg.QueryTimeout + 30*time.Second
	}
	if cfg.ShutdownTimeout == 0 {
		cfg.ShutdownTimeout = 10 * time.Second
	}
	if cfg.RateLimit <= 0 {
		cfg.RateLimit = defaultRateLimit
	}
	if cfg.RateBurst <= 0 {
		cfg.RateBurst = defaultRateBurst
	}
	if len(cfg.CORSOrigins) == 0 {
		cfg.CORSOrigins = defaultCORSOrigins
	}
	if cfg.Logger == nil {
		cfg.Logger = logging.New()
	}
	if cfg.Metrics == nil {
		cfg.Metrics = NewMetrics(cfg.MetricsRegistry)
	}
	if cfg.MetricsGatherer == nil {
		cfg.MetricsGatherer = prometheus.DefaultGatherer
	}

	s := &Server{
		backends: b,
		cfg:      cfg,
		log:      cfg.Logger,
		pingers:  cfg.Pingers,
		metrics:  cfg.Metrics,
	}

	rl, stop := newRateLimiter(cfg.RateLimit, cfg.RateBurst, s.log)
	rl.rejected = s.metrics.rateLimitedTotal.Inc
	s.stopRL = stop

	s.httpServer = &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		Handler:      s.routes(rl),
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	}

	return s, nil
}

// routes builds the handler chain: request logging and CORS wrap the mux;
// the per-IP rate limit applies to /v1 routes only so probes and scrapes
// are never throttled.
func (s *Server) routes(rl *rateLimiter) http.Handler {
	limited := func(h http.HandlerFunc) http.Handler { return rl.middleware(h) }

	mux := http.NewServeMux()
	mux.Handle("POST /v1/query", limited(s.handleQuery))
	mux.Handle("GET /v1/document/{id}", limited(s.handleDocument))
	mux.Handle("POST /v1/ingest", limited(s.handleIngest))
	mux.Handle("POST /v1/feedback", limited(s.handleFeedback))
	mux.Handle("GET /v1/status", limited(s.handleStatus))
	mux.HandleFunc("GET /health", s.handleHealth)
	mux.HandleFunc("GET /ready", s.handleReady)
	mux.Handle("GET /metrics", promhttp.HandlerFor(s.cfg.MetricsGatherer, promhttp.HandlerOpts{}))

	return requestLogger(s.log, s.metrics, cors(s.cfg.CORSOrigins, mux))
}

// Handler returns the full handler chain. Used by tests and embedders.
func (s *Server) Handler() http.Handler { return s.httpServer.Handler }

// Start begins listening and serving HTTP requests. It blocks until the
// context is cancelled, then performs a graceful shutdown.
func (s *Server) Start(ctx context.Context) error {
	defer s.stopRL()
	errCh := make(chan error, 1)

	go func() {
		s.log.Info("server listening", slog.String("addr", "http://"+s.httpServer.Addr))
		if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("server: listen error: %w", err)
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), s.cfg.ShutdownTimeout)
		defer cancel()
		if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("server: graceful shutdown failed: %w", err)
		}
		return nil
	}
}

// handleQuery handles POST /v1/query. Only malformed requests get 4xx;
// backend failures are reported in-band as a degraded answer with 200.
func (s *Server) handleQuery(w http.ResponseWriter, r *http.Request) {
	var req queryRequest
	if !decodeJSON(w, r, maxBodyBytes, &req) {
		return
	}
	query := strings.TrimSpace(req.Query)
	if query == "" {
		writeError(w, r, http.StatusBadRequest, "invalid request", "query must not be empty")
		return
	}
	if n := utf8.RuneCountInString(query); n > maxQueryChars {
		writeError(w, r, http.StatusBadRequest, "invalid request",
			fmt.Sprintf("query is %d characters; the limit is %d", n, maxQueryChars))
		return
	}
	mode, err := controller.ParseThinkingMode(req.ThinkingMode)
	if err != nil {
		writeError(w, r, http.StatusBadRequest, "invalid request", err.Error())
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), s.cfg.QueryTimeout)
	defer cancel()

	start := time.Now()
	res, err := s.backends.Querier.Run(ctx, controller.Request{
		Query:           query,
		Model:           strings.TrimSpace(req.Model),
		ThinkingMode:    mode,
		Filters:         rag.Filters(req.Filters),
		SimulateFailure: req.SimulateFailure,
	})
	if err != nil {
		logging.FromContext(r.Context()).Error("query failed", slog.Any("error", err))
		writeError(w, r, http.StatusInternalServerError, "query failed", err.Error())
		return
	}

	term := string(res.Termination)
	s.metrics.queriesTotal.WithLabelValues(term).Inc()
	s.metrics.queryDurationSeconds.WithLabelValues(term).Observe(time.Since(start).Seconds())
	s.metrics.queryIterations.Observe(float64(res.Trace.Iterations))
	s.metrics.riskTotal.WithLabelValues(string(res.Assessment.Level)).Inc()

	logging.FromContext(r.Context()).Info("query answered",
		slog.String("termination", term),
		slog.String("model", res.ModelID),
		slog.Int("iterations", res.Trace.Iterations),
		slog.Int("citations", len(res.Citations)),
		slog.String("risk", string(res.Assessment.Level)),
	)
	writeJSON(w, r, http.StatusOK, res)
}

// handleDocument handles GET /v1/document/{id}.
func (s *Server) handleDocument(w http.ResponseWriter, r *http.Request) {
	if s.backends.Documents == nil {
		writeError(w, r, http.StatusServiceUnavailable, "document store unavailable", "N/A")
		return
	}
	id := r.PathValue("id")
	doc, chunks, err := s.backends.Documents.GetDocument(r.Context(), id)
	switch {
	case errors.Is(err, store.ErrNotFound):
		writeError(w, r, http.StatusNotFound, "document not found", id)
		return
	case err != nil:
		logging.FromContext(r.Context()).Error("document lookup failed", slog.String("id", id), slog.Any("error", err))
		writeError(w, r, http.StatusInternalServerError, "document lookup failed", err.Error())
		return
	}

	resp := documentResponse{
		ID:        doc.ID,
		Title:     doc.Title,
		Source:    doc.Source,
		Content:   doc.Content,
		Metadata:  doc.Metadata,
		Chunks:    make([]chunkResponse, 0, len(chunks)),
		CreatedAt: doc.CreatedAt,
		UpdatedAt: doc.UpdatedAt,
	}
	if resp.Metadata == nil {
		resp.Metadata = map[string]string{}
	}
	for _, c := range chunks {
		resp.Chunks = append(resp.Chunks, chunkResponse{
			ID: c.ID, Page: c.Page, SpanStart: c.SpanStart, SpanEnd: c.SpanEnd, Text: c.Text,
		})
	}
	writeJSON(w, r, http.StatusOK, resp)
}

// handleIngest handles POST /v1/ingest. The document is loaded before the
// response is written; the job id identifies the attempt in logs. When the
// sparse index is written but the dense index is not, status is "partial".
func (s *Server) handleIngest(w http.ResponseWriter, r *http.Request) {
	if s.backends.Ingest == nil {
		writeError(w, r, http.StatusServiceUnavailable, "ingestion unavailable", "N/A")
		return
	}
	var req ingestRequest
	if !decodeJSON(w, r, maxIngestBytes, &req) {
		return
	}
	title := strings.TrimSpace(req.Title)
	if n := utf8.RuneCountInString(title); n == 0 || n > maxTitleChars {
		writeError(w, r, http.StatusBadRequest, "invalid request",
			fmt.Sprintf("title must be 1..%d characters", maxTitleChars))
		return
	}
	if strings.TrimSpace(req.Content) == "" {
		writeError(w, r, http.StatusBadRequest, "invalid request", "content must not be empty")
		return
	}

	meta := make(map[string]string, len(req.Metadata))
	for k, v := range req.Metadata {
		meta[k] = fmt.Sprint(v)
	}
	doc := ingestion.NewDocument(title, req.Content, strings.TrimSpace(req.Source), meta)

	jobID := uuid.NewString()
	log := logging.FromContext(r.Context()).With(slog.String("job_id", jobID), slog.String("doc_id", doc.ID))

	rep, err := s.backends.Ingest.IngestDocument(r.Context(), doc)
	switch {
	case err != nil && rep.Chunks > 0:
		log.Warn("ingest partially failed", slog.Any("error", err))
		writeJSON(w, r, http.StatusOK, ingestResponse{
			JobID:   jobID,
			Status:  "partial",
			Message: fmt.Sprintf("document %s stored with %d chunks; dense index not updated: %v", doc.ID, rep.Chunks, err),
		})
	case err != nil:
		log.Error("ingest failed", slog.Any("error", err))
		writeError(w, r, http.StatusInternalServerError, "ingest failed", err.Error())
	default:
		log.Info("document ingested", slog.Int("chunks", rep.Chunks), slog.Int("stale", rep.Stale))
		writeJSON(w, r, http.StatusOK, ingestResponse{
			JobID:   jobID,
			Status:  "completed",
			Message: fmt.Sprintf("document %s ingested with %d chunks", doc.ID, rep.Chunks),
		})
	}
}

// handleFeedback handles POST /v1/feedback.
func (s *Server) handleFeedback(w http.ResponseWriter, r *http.Request) {
	if s.backends.Feedback == nil {
		writeError(w, r, http.StatusServiceUnavailable, "feedback store unavailable", "N/A")
		return
	}
	var req feedbackRequest
	if !decodeJSON(w, r, maxBodyBytes, &req) {
		return
	}
	query := strings.TrimSpace(req.Query)
	switch n := utf8.RuneCountInString(query); {
	case n == 0 || n > maxQueryChars:
		writeError(w, r, http.StatusBadRequest, "invalid request", fmt.Sprintf("query must be 1..%d characters", maxQueryChars))
		return
	case req.Rating < 1 || req.Rating > 5:
		writeError(w, r, http.StatusBadRequest, "invalid request", "rating must be between 1 and 5")
		return
	case utf8.RuneCountInString(req.Comments) > maxCommentsChars:
		writeError(w, r, http.StatusBadRequest, "invalid request", fmt.Sprintf("comments must be at most %d characters", maxCommentsChars))
		return
	}

	id, err := s.backends.Feedback.AppendFeedback(r.Context(), store.Feedback{
		Query:    query,
		Response: req.Response,
		Rating:   req.Rating,
		Comments: req.Comments,
	})
	if err != nil {
		logging.FromContext(r.Context()).Error("feedback write failed", slog.Any("error", err))
		writeError(w, r, http.StatusInternalServerError, "feedback not saved", err.Error())
		return
	}
	writeJSON(w, r, http.StatusOK, feedbackResponse{
		Status:  "received",
		Message: "feedback " + id + " recorded",
	})
}

// decodeJSON decodes a single JSON object into dst, rejecting unknown
// fields, trailing data and bodies over limit. On failure it writes the 400
// response and returns false.
func decodeJSON(w http.ResponseWriter, r *http.Request, limit int64, dst any) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, limit))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		writeError(w, r, http.StatusBadRequest, "invalid request body", err.Error())
		return false
	}
	if err := dec.Decode(&struct{}{}); !errors.Is(err, io.EOF) {
		writeError(w, r, http.StatusBadRequest, "invalid request body", "body must contain a single JSON object")
		return false
	}
	return true
}

// writeJSON encodes v with status.
func writeJSON(w http.ResponseWriter, r *http.Request, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logging.FromContext(r.Context()).Error("response encode error", slog.Any("error", err))
	}
}

// writeError writes the {"error","details"} body.
func writeError(w http.ResponseWriter, r *http.Request, status int, msg, details string) {
	writeJSON(w, r, status, errorResponse{Error: msg, Details: details})
}
