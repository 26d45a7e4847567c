package server

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/qdrant/go-client/qdrant"
)

// HealthChecker is a zero-cost reachability probe. *provider.Router
// satisfies it.
type HealthChecker interface {
	HealthCheck(ctx context.Context) error
}

// LLMPinger probes the default generation backend through its zero-cost
// health check. It never sends a generate request.
type LLMPinger struct {
	// checker runs the backend-specific probe.
	checker HealthChecker
	// name identifies the backend in readiness responses (e.g. "ollama").
	name string
	// url is reported by /v1/status.
	url string
}

// NewLLMPinger constructs an LLMPinger for the given checker and backend name.
func NewLLMPinger(hc HealthChecker, name, url string) *LLMPinger {
	return &LLMPinger{checker: hc, name: name, url: url}
}

// Name returns the backend label used in readiness responses.
func (p *LLMPinger) Name() string { return "llm:" + p.name }

// URL returns the backend address, if known.
func (p *LLMPinger) URL() string { return p.url }

// Ping runs the health check.
func (p *LLMPinger) Ping(ctx context.Context) error {
	if err := p.checker.HealthCheck(ctx); err != nil {
		return fmt.Errorf("%s health check failed: %w", p.name, err)
	}
	return nil
}

// QdrantPinger probes a Qdrant instance using its native HealthCheck RPC.
type QdrantPinger struct {
	client *qdrant.Client
	url    string
}

// NewQdrantPinger constructs a QdrantPinger for the given Qdrant client.
func NewQdrantPinger(client *qdrant.Client, url string) *QdrantPinger {
	return &QdrantPinger{client: client, url: url}
}

// Name returns the dependency label used in readiness responses.
func (p *QdrantPinger) Name() string { return "qdrant" }

// URL returns the Qdrant address.
func (p *QdrantPinger) URL() string { return p.url }

// Ping calls the Qdrant HealthCheck RPC.
func (p *QdrantPinger) Ping(ctx context.Context) error {
	if _, err := p.client.HealthCheck(ctx); err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	return nil
}

// SQLPinger probes a database/sql handle. It serves both the SQLite corpus
// store and the pgvector database.
type SQLPinger struct {
	db   *sql.DB
	name string
	url  string
}

// NewSQLPinger constructs a SQLPinger. url must not contain credentials.
func NewSQLPinger(db *sql.DB, name, url string) *SQLPinger {
	return &SQLPinger{db: db, name: name, url: url}
}

// Name returns the dependency label used in readiness responses.
func (p *SQLPinger) Name() string { return p.name }

// URL returns the redacted database location.
func (p *SQLPinger) URL() string { return p.url }

// Ping verifies the connection is alive.
func (p *SQLPinger) Ping(ctx context.Context) error {
	if err := p.db.PingContext(ctx); err != nil {
		return fmt.Errorf("ping failed: %w", err)
	}
	return nil
}
