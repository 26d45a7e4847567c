// Package tool exposes the query controller as MCP tools.
package tool

import (
	"context"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/54b3r/edupolicy-go/internal/citation"
	"github.com/54b3r/edupolicy-go/internal/controller"
	"github.com/54b3r/edupolicy-go/internal/rag"
)

// maxQueryChars matches the HTTP API limit.
const maxQueryChars = 1000

// Querier runs one question through the controller.
type Querier interface {
	Run(ctx context.Context, req controller.Request) (*controller.Result, error)
}

// MetadataQueryPolicies describes the query_policies tool.
var MetadataQueryPolicies = &mcp.Tool{
	Name: "query_policies",
	Description: "Answer a question about Indian education policy (admissions, academic regulations, " +
		"scholarships, accreditation) from the ingested policy corpus. " +
		"Every citation in the answer points at a document page that was retrieved for this question. " +
		"risk_assessment summarises how well the answer is supported; treat a high risk level as " +
		"a signal to consult the source document.",
}

// InputQueryPolicies is the input for the query_policies tool.
type InputQueryPolicies struct {
	Query        string            `json:"query" jsonschema:"the question, at most 1000 characters"`
	Model        string            `json:"model,omitempty" jsonschema:"optional model id; the default backend is used when empty"`
	ThinkingMode string            `json:"thinking_mode,omitempty" jsonschema:"one of smart, general, deep, reasoning"`
	Filters      map[string]string `json:"filters,omitempty" jsonschema:"optional metadata filters such as category or authority"`
}

// OutputQueryPolicies is the output for the query_policies tool.
type OutputQueryPolicies struct {
	Answer     string              `json:"answer"`
	Citations  []citation.Citation `json:"citations"`
	Risk       string              `json:"risk_assessment"`
	RiskLevel  string              `json:"risk_level"`
	Language   string              `json:"language"`
	Iterations int                 `json:"controller_iterations"`
	Outcome    string              `json:"termination"`
}

// Handler binds the tools to a Querier.
type Handler struct {
	q Querier
}

// NewHandler returns a Handler over q.
func NewHandler(q Querier) *Handler { return &Handler{q: q} }

// QueryPolicies validates the input and runs the controller. Backend
// failures come back as a degraded answer, not as a tool error.
func (h *Handler) QueryPolicies(ctx context.Context, _ *mcp.CallToolRequest, input InputQueryPolicies) (*mcp.CallToolResult, OutputQueryPolicies, error) {
	query := strings.TrimSpace(input.Query)
	if query == "" {
		return nil, OutputQueryPolicies{}, fmt.Errorf("query is required")
	}
	if n := utf8.RuneCountInString(query); n > maxQueryChars {
		return nil, OutputQueryPolicies{}, fmt.Errorf("query is %d characters; the limit is %d", n, maxQueryChars)
	}
	mode, err := controller.ParseThinkingMode(input.ThinkingMode)
	if err != nil {
		return nil, OutputQueryPolicies{}, err
	}

	res, err := h.q.Run(ctx, controller.Request{
		Query:        query,
		Model:        strings.TrimSpace(input.Model),
		ThinkingMode: mode,
		Filters:      rag.Filters(input.Filters),
	})
	if err != nil {
		return nil, OutputQueryPolicies{}, err
	}

	out := OutputQueryPolicies{
		Answer:     res.Answer,
		Citations:  res.Citations,
		Risk:       res.Risk,
		RiskLevel:  string(res.Assessment.Level),
		Language:   res.Trace.Language,
		Iterations: res.Trace.Iterations,
		Outcome:    string(res.Termination),
	}
	if out.Citations == nil {
		out.Citations = []citation.Citation{}
	}
	return nil, out, nil
}

// NewServer builds an MCP server with every tool registered.
func NewServer(q Querier, version string) *mcp.Server {
	server := mcp.NewServer(&mcp.Implementation{Name: "edupolicy", Version: version}, nil)
	h := NewHandler(q)
	mcp.AddTool(server, MetadataQueryPolicies, h.QueryPolicies)
	return server
}
