package tool

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/54b3r/edupolicy-go/internal/citation"
	"github.com/54b3r/edupolicy-go/internal/controller"
)

type fakeQuerier struct {
	last controller.Request
	res  *controller.Result
	err  error
}

func (f *fakeQuerier) Run(_ context.Context, req controller.Request) (*controller.Result, error) {
	f.last = req
	return f.res, f.err
}

func answered() *controller.Result {
	return &controller.Result{
		Answer:      "B.Tech applicants need 60% in 10+2 [gitam-admission-2024:p1:c0].",
		Citations:   []citation.Citation{{DocID: "gitam-admission-2024", Page: 1, Span: "60% in 10+2"}},
		Trace:       controller.Trace{Language: "English", Iterations: 1},
		Risk:        "low (score 0.10, confidence 0.90)",
		Assessment:  citation.Assessment{Level: citation.LevelLow},
		Termination: controller.TermAnswered,
	}
}

func TestQueryPolicies(t *testing.T) {
	ctx := context.Background()
	req := &mcp.CallToolRequest{}

	tests := []struct {
		name        string
		input       InputQueryPolicies
		querier     *fakeQuerier
		errContains string
		validate    func(t *testing.T, q *fakeQuerier, out OutputQueryPolicies)
	}{
		{
			name:        "empty query returns error",
			input:       InputQueryPolicies{Query: "   "},
			querier:     &fakeQuerier{},
			errContains: "query is required",
		},
		{
			name:        "over-long query returns error",
			input:       InputQueryPolicies{Query: strings.Repeat("é", maxQueryChars+1)},
			querier:     &fakeQuerier{},
			errContains: "the limit is 1000",
		},
		{
			name:        "unknown thinking mode returns error",
			input:       InputQueryPolicies{Query: "fees?", ThinkingMode: "dreamy"},
			querier:     &fakeQuerier{},
			errContains: "unknown thinking mode",
		},
		{
			name:        "querier error is surfaced",
			input:       InputQueryPolicies{Query: "fees?"},
			querier:     &fakeQuerier{err: controller.ErrEmptyQuery},
			errContains: "empty",
		},
		{
			name: "answer is mapped with request passed through",
			input: InputQueryPolicies{
				Query:        "  What is the B.Tech eligibility?  ",
				Model:        "llama3.2",
				ThinkingMode: "Deep",
				Filters:      map[string]string{"category": "admission"},
			},
			querier: &fakeQuerier{res: answered()},
			validate: func(t *testing.T, q *fakeQuerier, out OutputQueryPolicies) {
				assert.Equal(t, "What is the B.Tech eligibility?", q.last.Query)
				assert.Equal(t, "llama3.2", q.last.Model)
				assert.Equal(t, controller.ModeDeep, q.last.ThinkingMode)
				assert.Equal(t, "admission", q.last.Filters["category"])

				assert.Contains(t, out.Answer, "60%")
				require.Len(t, out.Citations, 1)
				assert.Equal(t, "gitam-admission-2024", out.Citations[0].DocID)
				assert.Equal(t, "low", out.RiskLevel)
				assert.Equal(t, "English", out.Language)
				assert.Equal(t, 1, out.Iterations)
				assert.Equal(t, "answered", out.Outcome)
			},
		},
		{
			name:    "degraded answer keeps an empty citation list",
			input:   InputQueryPolicies{Query: "fees?"},
			querier: &fakeQuerier{res: &controller.Result{Answer: controller.DegradedAnswer, Termination: controller.TermUpstreamFailure}},
			validate: func(t *testing.T, _ *fakeQuerier, out OutputQueryPolicies) {
				assert.Equal(t, controller.DegradedAnswer, out.Answer)
				assert.NotNil(t, out.Citations)
				assert.Empty(t, out.Citations)
				assert.Equal(t, "upstream-failure", out.Outcome)
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := NewHandler(tt.querier)
			result, out, err := h.QueryPolicies(ctx, req, tt.input)
			assert.Nil(t, result)
			if tt.errContains != "" {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.errContains)
				return
			}
			require.NoError(t, err)
			tt.validate(t, tt.querier, out)
		})
	}
}

func TestNewServer_CallTool(t *testing.T) {
	ctx := context.Background()
	q := &fakeQuerier{res: answered()}

	clientT, serverT := mcp.NewInMemoryTransports()
	ss, err := NewServer(q, "test").Connect(ctx, serverT, nil)
	require.NoError(t, err)
	defer ss.Close()

	client := mcp.NewClient(&mcp.Implementation{Name: "test-client", Version: "test"}, nil)
	cs, err := client.Connect(ctx, clientT, nil)
	require.NoError(t, err)
	defer cs.Close()

	tools, err := cs.ListTools(ctx, nil)
	require.NoError(t, err)
	require.Len(t, tools.Tools, 1)
	assert.Equal(t, "query_policies", tools.Tools[0].Name)

	res, err := cs.CallTool(ctx, &mcp.CallToolParams{
		Name:      "query_policies",
		Arguments: map[string]any{"query": "What is the B.Tech eligibility?"},
	})
	require.NoError(t, err)
	assert.False(t, res.IsError)
	require.NotEmpty(t, res.Content)
	text, ok := res.Content[0].(*mcp.TextContent)
	require.True(t, ok)
	assert.Contains(t, text.Text, "gitam-admission-2024")

	q.err = errors.New("boom")
	res, err = cs.CallTool(ctx, &mcp.CallToolParams{
		Name:      "query_policies",
		Arguments: map[string]any{"query": "fees?"},
	})
	require.NoError(t, err)
	assert.True(t, res.IsError)
}
