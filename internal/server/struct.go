package server

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/54b3r/edupolicy-go/internal/controller"
	"github.com/54b3r/edupolicy-go/internal/ingestion"
	"github.com/54b3r/edupolicy-go/internal/rag"
	"github.com/54b3r/edupolicy-go/internal/store"
)

// Config holds the HTTP server configuration.
type Config struct {
	// Host is the address to bind to (default: 127.0.0.1).
	Host string
	// Port is the TCP port to listen on (default: 8000).
	Port int
	// ReadTimeout is the maximum duration for reading the request.
	ReadTimeout time.Duration
	// WriteTimeout is the maximum duration for writing the response.
	WriteTimeout time.Duration
	// ShutdownTimeout is the maximum duration for a graceful shutdown.
	ShutdownTimeout time.Duration
	// QueryTimeout bounds one /v1/query run end to end. Defaults to 2m.
	QueryTimeout time.Duration
	// Logger is the structured logger used by the server and its handlers.
	// If nil, [logging.New] is used.
	Logger *slog.Logger
	// Pingers is the ordered list of dependency probes run by GET /ready
	// and GET /v1/status. If empty, /ready returns 200 with no checks.
	Pingers []Pinger
	// RateLimit is the sustained request rate allowed per IP on /v1/*
	// endpoints (requests/second). Defaults to 10 if zero.
	RateLimit float64
	// RateBurst is the maximum instantaneous burst per IP. Defaults to 20 if zero.
	RateBurst int
	// CORSOrigins lists the browser origins allowed to call the API.
	// Defaults to the local frontend dev server.
	CORSOrigins []string
	// Metrics receives server and controller metrics. If nil, a fresh set is
	// registered against MetricsRegistry.
	Metrics *Metrics
	// MetricsRegistry is where metrics are registered when Metrics is nil.
	// Defaults to prometheus.DefaultRegisterer.
	MetricsRegistry prometheus.Registerer
	// MetricsGatherer backs GET /metrics. Defaults to prometheus.DefaultGatherer.
	MetricsGatherer prometheus.Gatherer
}

// Querier answers one question. *controller.Controller satisfies it.
type Querier interface {
	Run(ctx context.Context, req controller.Request) (*controller.Result, error)
}

// DocumentReader looks up a stored document. *store.SQLiteStore satisfies it.
type DocumentReader interface {
	GetDocument(ctx context.Context, id string) (*store.Document, []rag.Chunk, error)
}

// FeedbackWriter persists user feedback. *store.SQLiteStore satisfies it.
type FeedbackWriter interface {
	AppendFeedback(ctx context.Context, fb store.Feedback) (string, error)
}

// Ingester loads one document. *ingestion.Pipeline satisfies it.
type Ingester interface {
	IngestDocument(ctx context.Context, doc ingestion.DocumentSpec) (ingestion.Report, error)
}

// Backends are the collaborators behind the HTTP routes. Querier is
// required; a nil Documents, Feedback or Ingest makes its route answer 503.
type Backends struct {
	Querier   Querier
	Documents DocumentReader
	Feedback  FeedbackWriter
	Ingest    Ingester
}

// Server is the HTTP API in front of the query controller.
type Server struct {
	// backends serve the /v1 routes.
	backends Backends
	// cfg holds the resolved server configuration.
	cfg *Config
	// httpServer is the underlying net/http server.
	httpServer *http.Server
	// log is the structured logger for this server instance.
	log *slog.Logger
	// pingers is the ordered list of dependency probes.
	pingers []Pinger
	// metrics holds the Prometheus collectors.
	metrics *Metrics
	// stopRL stops the rate limiter's background eviction goroutine on shutdown.
	stopRL func()
}

// queryRequest is the JSON body for POST /v1/query.
type queryRequest struct {
	// Query is the natural-language question.
	Query string `json:"query"`
	// Model selects the generation model. Empty uses the default.
	Model string `json:"model"`
	// ThinkingMode is one of smart, general, deep, reasoning.
	ThinkingMode string `json:"thinking_mode"`
	// Filters restrict round-1 retrieval by document metadata.
	Filters map[string]string `json:"filters"`
	// SimulateFailure forces a degraded upstream-failure answer.
	SimulateFailure bool `json:"simulate_failure"`
}

// errorResponse is the body of every 4xx/5xx response.
type errorResponse struct {
	Error   string `json:"error"`
	Details string `json:"details"`
}

// documentResponse is the JSON response for GET /v1/document/{id}.
type documentResponse struct {
	ID        string            `json:"id"`
	Title     string            `json:"title"`
	Source    string            `json:"source"`
	Content   string            `json:"content"`
	Metadata  map[string]string `json:"metadata"`
	Chunks    []chunkResponse   `json:"chunks"`
	CreatedAt time.Time         `json:"created_at"`
	UpdatedAt time.Time         `json:"updated_at"`
}

// chunkResponse is one chunk inside documentResponse.
type chunkResponse struct {
	ID        string `json:"id"`
	Page      int    `json:"page"`
	SpanStart int    `json:"span_start"`
	SpanEnd   int    `json:"span_end"`
	Text      string `json:"text"`
}

// ingestRequest is the JSON body for POST /v1/ingest.
type ingestRequest struct {
	// Title is the document title (1..200 characters).
	Title string `json:"title"`
	// Content is the full text. Form feeds separate pages.
	Content string `json:"content"`
	// Metadata is free-form; values are stringified.
	Metadata map[string]any `json:"metadata"`
	// Source is the document URL or label.
	Source string `json:"source"`
}

// ingestResponse is the JSON response for POST /v1/ingest.
type ingestResponse struct {
	JobID   string `json:"jobId"`
	Status  string `json:"status"`
	Message string `json:"message"`
}

// feedbackRequest is the JSON body for POST /v1/feedback.
type feedbackRequest struct {
	Query    string `json:"query"`
	Response string `json:"response"`
	Rating   int    `json:"rating"`
	Comments string `json:"comments"`
}

// feedbackResponse is the JSON response for POST /v1/feedback.
type feedbackResponse struct {
	Status  string `json:"status"`
	Message string `json:"message"`
}
