package server

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/54b3r/edupolicy-go/internal/embedder"
	"github.com/54b3r/edupolicy-go/internal/retrieval"
)

// Metric label values shared across registrations.
const (
	// labelHandler is the "handler" label value used to partition metrics by
	// the route pattern rather than the raw URL path.
	labelHandler = "handler"
)

// Metrics holds all Prometheus collectors owned by the server. It is built
// before the controller so ObserveRetrieval can be wired into
// controller.Deps, then handed to the server through Config.
type Metrics struct {
	// queriesTotal counts completed /v1/query runs by termination reason.
	queriesTotal *prometheus.CounterVec

	// queryDurationSeconds records the wall-clock duration of each run.
	queryDurationSeconds *prometheus.HistogramVec

	// queryIterations records controller_iterations per run.
	queryIterations prometheus.Histogram

	// riskTotal counts answers by risk level.
	riskTotal *prometheus.CounterVec

	// retrievalTotal counts retriever calls by source and outcome
	// ("ok", "empty", "timeout", "error").
	retrievalTotal *prometheus.CounterVec

	// retrievalDurationSeconds records per-retriever latency.
	retrievalDurationSeconds *prometheus.HistogramVec

	// rateLimitedTotal counts requests rejected by the per-IP limiter.
	rateLimitedTotal prometheus.Counter

	// httpRequestsTotal counts all HTTP requests handled by the mux,
	// partitioned by method, route pattern, and status code.
	httpRequestsTotal *prometheus.CounterVec

	// httpDurationSeconds records the latency of all HTTP requests.
	httpDurationSeconds *prometheus.HistogramVec

	reg prometheus.Registerer
}

// NewMetrics registers all server metrics against reg. promauto.With(reg) is
// used so that each call registers into the provided registry rather than
// the global default, which keeps unit tests hermetic.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := promauto.With(reg)

	return &Metrics{
		reg: reg,

		queriesTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "edupolicy",
			Subsystem: "query",
			Name:      "requests_total",
			Help:      "Total number of /v1/query runs completed, partitioned by termination reason.",
		}, []string{"termination"}),

		queryDurationSeconds: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "edupolicy",
			Subsystem: "query",
			Name:      "duration_seconds",
			Help:      "Wall-clock duration of /v1/query runs.",
			Buckets:   []float64{0.25, 0.5, 1, 2.5, 5, 10, 30, 60, 120},
		}, []string{"termination"}),

		queryIterations: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: "edupolicy",
			Subsystem: "query",
			Name:      "controller_iterations",
			Help:      "Retrieval rounds per /v1/query run.",
			Buckets:   []float64{1, 2, 3, 4, 5},
		}),

		riskTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "edupolicy",
			Subsystem: "query",
			Name:      "risk_total",
			Help:      "Answers by risk level.",
		}, []string{"level"}),

		retrievalTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "edupolicy",
			Subsystem: "retrieval",
			Name:      "calls_total",
			Help:      "Retriever calls, partitioned by source and outcome.",
		}, []string{"source", "outcome"}),

		retrievalDurationSeconds: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "edupolicy",
			Subsystem: "retrieval",
			Name:      "duration_seconds",
			Help:      "Latency of individual retriever calls.",
			Buckets:   []float64{0.005, 0.01, 0.05, 0.1, 0.25, 0.5, 1, 3, 5},
		}, []string{"source"}),

		rateLimitedTotal: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "edupolicy",
			Subsystem: "http",
			Name:      "rate_limited_total",
			Help:      "Requests rejected with 429 by the per-IP rate limiter.",
		}),

		httpRequestsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "edupolicy",
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total number of HTTP requests handled by the server, partitioned by method, handler, and status code.",
		}, []string{"method", labelHandler, "code"}),

		httpDurationSeconds: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "edupolicy",
			Subsystem: "http",
			Name:      "duration_seconds",
			Help:      "Latency of HTTP requests handled by the server.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", labelHandler}),
	}
}

// ObserveRetrieval records one retriever call. It satisfies
// retrieval.Observer.
func (m *Metrics) ObserveRetrieval(st retrieval.Status) {
	outcome := "ok"
	switch {
	case st.TimedOut:
		outcome = "timeout"
	case st.Err != nil:
		outcome = "error"
	case len(st.Hits) == 0:
		outcome = "empty"
	}
	src := string(st.Source)
	m.retrievalTotal.WithLabelValues(src, outcome).Inc()
	m.retrievalDurationSeconds.WithLabelValues(src).Observe(st.Duration.Seconds())
}

// RegisterCache exposes embedding cache counters read at scrape time.
func (m *Metrics) RegisterCache(stats func() embedder.CacheStats) {
	factory := promauto.With(m.reg)
	factory.NewCounterFunc(prometheus.CounterOpts{
		Namespace: "edupolicy",
		Subsystem: "embedding_cache",
		Name:      "hits_total",
		Help:      "Embedding cache hits.",
	}, func() float64 { return float64(stats().Hits) })
	factory.NewCounterFunc(prometheus.CounterOpts{
		Namespace: "edupolicy",
		Subsystem: "embedding_cache",
		Name:      "misses_total",
		Help:      "Embedding cache misses.",
	}, func() float64 { return float64(stats().Misses) })
	factory.NewGaugeFunc(prometheus.GaugeOpts{
		Namespace: "edupolicy",
		Subsystem: "embedding_cache",
		Name:      "entries",
		Help:      "Vectors currently held in the embedding cache.",
	}, func() float64 { return float64(stats().Size) })
}
