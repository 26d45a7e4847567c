// Package tracing wires optional Langfuse tracing into every eino chat model
// call made by the provider router.
package tracing

import (
	"log/slog"

	"github.com/cloudwego/eino-ext/callbacks/langfuse"
	"github.com/cloudwego/eino/callbacks"

	"github.com/54b3r/edupolicy-go/internal/config"
)

// defaultHost is the Langfuse cloud endpoint.
const defaultHost = "https://cloud.langfuse.com"

// Setup registers a global Langfuse callback handler when
// LANGFUSE_PUBLIC_KEY and LANGFUSE_SECRET_KEY are set. The returned flush
// function must be called before process exit so buffered traces are sent;
// it is a no-op when tracing is disabled.
func Setup(log *slog.Logger) (flush func(), enabled bool) {
	publicKey := config.GetEnvOrDefault("LANGFUSE_PUBLIC_KEY", "")
	secretKey := config.GetEnvOrDefault("LANGFUSE_SECRET_KEY", "")
	if publicKey == "" || secretKey == "" {
		return func() {}, false
	}
	host := config.GetEnvOrDefault("LANGFUSE_HOST", defaultHost)

	handler, flusher := langfuse.NewLangfuseHandler(&langfuse.Config{
		Host:      host,
		PublicKey: publicKey,
		SecretKey: secretKey,
		Name:      "edupolicy",
	})
	callbacks.AppendGlobalHandlers(handler)

	log.Info("langfuse tracing enabled", slog.String("host", host))
	return flusher, true
}
