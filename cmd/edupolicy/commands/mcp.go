package commands

import (
	"fmt"
	"os/signal"
	"syscall"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/spf13/cobra"

	"github.com/54b3r/edupolicy-go/internal/logging"
	"github.com/54b3r/edupolicy-go/internal/tool"
	"github.com/54b3r/edupolicy-go/internal/tracing"
	"github.com/54b3r/edupolicy-go/internal/version"
)

// NewMCPCmd constructs the `edupolicy mcp` command, which serves the
// query_policies tool over MCP on stdio.
func NewMCPCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "mcp",
		Short: "Serve the query_policies tool over MCP (stdio)",
		Long: `Run an MCP server on stdin/stdout exposing one tool, query_policies,
backed by the same controller and stores as 'edupolicy serve'.

Logs go to stderr so they never interleave with the protocol stream.

Example client configuration:
  {"command": "edupolicy", "args": ["mcp"]}`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			log := logging.New()
			ctx = logging.WithLogger(ctx, log)

			flush, _ := tracing.Setup(log)
			defer flush()

			st, err := openStack(ctx, log)
			if err != nil {
				return fmt.Errorf("mcp: %w", err)
			}
			defer st.Close()

			router, _ := newRouter(log)
			server := tool.NewServer(st.controller(router, nil), version.Version)
			if err := server.Run(ctx, &mcp.StdioTransport{}); err != nil {
				return fmt.Errorf("mcp: %w", err)
			}
			return nil
		},
	}
}
