package graph

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/54b3r/edupolicy-go/internal/rag"
)

// memGraph is a map-backed Store and Vocabulary for tests.
type memGraph struct {
	nodes map[string]Node
	edges []Edge
	err   error
}

func (m *memGraph) ResolveEntities(_ context.Context, names []string) ([]Node, error) {
	if m.err != nil {
		return nil, m.err
	}
	want := make(map[string]bool)
	for _, n := range names {
		want[NormalizeName(n)] = true
	}
	var out []Node
	for _, n := range m.nodes {
		forms := append([]string{n.Name}, n.Aliases...)
		for _, f := range forms {
			if want[NormalizeName(f)] {
				out = append(out, n)
				break
			}
		}
	}
	return out, nil
}

func (m *memGraph) Edges(_ context.Context, ids []string) ([]Edge, error) {
	in := make(map[string]bool)
	for _, id := range ids {
		in[id] = true
	}
	var out []Edge
	for _, e := range m.edges {
		if in[e.From] || in[e.To] {
			out = append(out, e)
		}
	}
	return out, nil
}

func (m *memGraph) Nodes(_ context.Context, ids []string) (map[string]Node, error) {
	out := make(map[string]Node)
	for _, id := range ids {
		if n, ok := m.nodes[id]; ok {
			out[id] = n
		}
	}
	return out, nil
}

func (m *memGraph) Terms(_ context.Context) ([]Term, error) {
	var out []Term
	for _, n := range m.nodes {
		out = append(out, Term{Text: n.Name, Name: n.Name})
		for _, a := range n.Aliases {
			out = append(out, Term{Text: a, Name: n.Name})
		}
	}
	return out, nil
}

// policyGraph: btech -> admission -> jee, plus a cycle admission -> btech.
func policyGraph() *memGraph {
	return &memGraph{
		nodes: map[string]Node{
			"btech":     {ID: "btech", Name: "B.Tech", Kind: "programme", Aliases: []string{"Bachelor of Technology"}},
			"admission": {ID: "admission", Name: "Admission Requirements", Kind: "requirement"},
			"jee":       {ID: "jee", Name: "JEE Main", Kind: "exam"},
			"nep":       {ID: "nep", Name: "NEP 2020", Kind: "policy"},
		},
		edges: []Edge{
			{ID: "e1", From: "btech", To: "admission", Relation: "has_requirement", ChunkIDs: []string{"aicte:p3:c0"}},
			{ID: "e2", From: "admission", To: "jee", Relation: "requires_exam", ChunkIDs: []string{"aicte:p4:c1", "aicte:p3:c0"}},
			{ID: "e3", From: "admission", To: "btech", Relation: "applies_to", ChunkIDs: []string{"aicte:p5:c0"}},
		},
	}
}

func TestTraverse_OneHop(t *testing.T) {
	t.Parallel()
	tr := NewTraverser(policyGraph())

	res, err := tr.Traverse(context.Background(), []string{"b.tech"}, 1)
	require.NoError(t, err)

	assert.Equal(t, []string{"B.Tech"}, res.Seeds)
	assert.Equal(t, []string{"Admission Requirements"}, res.Discovered)
	assert.Equal(t, 1, res.Hops)
	assert.Equal(t, 2, res.Edges, "both edges touching the seed are expanded at hop 1")
	require.Len(t, res.Hits, 2)
	for _, h := range res.Hits {
		assert.Equal(t, rag.SourceGraph, h.Source)
		assert.InDelta(t, 1.0, h.Score, 1e-9)
	}
	assert.Contains(t, res.Relations, "B.Tech -[has_requirement]-> Admission Requirements")
}

func TestTraverse_ClosestHopWins(t *testing.T) {
	t.Parallel()
	tr := NewTraverser(policyGraph())

	res, err := tr.Traverse(context.Background(), []string{"Bachelor of Technology"}, 3)
	require.NoError(t, err)

	scores := map[string]float64{}
	for _, h := range res.Hits {
		scores[h.ChunkID] = h.Score
	}
	assert.InDelta(t, 1.0, scores["aicte:p3:c0"], 1e-9, "reached at hop 1 and hop 2; keeps 1/1")
	assert.InDelta(t, 0.5, scores["aicte:p4:c1"], 1e-9)
	assert.Equal(t, 2, res.Hops, "stops once a hop finds no new node")
	assert.Equal(t, 4-1, res.Nodes, "nep is unreachable")
}

func TestTraverse_NoSeeds(t *testing.T) {
	t.Parallel()
	tr := NewTraverser(policyGraph())

	res, err := tr.Traverse(context.Background(), []string{"unknown programme"}, 2)
	require.NoError(t, err)
	assert.Empty(t, res.Hits)
	assert.Equal(t, "N/A", res.Summary())

	res, err = tr.Traverse(context.Background(), nil, 2)
	require.NoError(t, err)
	assert.Empty(t, res.Hits)
}

func TestTraverse_StoreError(t *testing.T) {
	t.Parallel()
	g := policyGraph()
	g.err = errors.New("disk I/O error")

	_, err := NewTraverser(g).Traverse(context.Background(), []string{"B.Tech"}, 1)
	require.Error(t, err)
}

func TestTraverse_Cancelled(t *testing.T) {
	t.Parallel()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := NewTraverser(policyGraph()).Traverse(ctx, []string{"B.Tech"}, 2)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestResult_Summary(t *testing.T) {
	t.Parallel()
	res, err := NewTraverser(policyGraph()).Traverse(context.Background(), []string{"B.Tech"}, 1)
	require.NoError(t, err)

	s := res.Summary()
	assert.Contains(t, s, "seeds: B.Tech")
	assert.Contains(t, s, "hops: 1")
	assert.Contains(t, s, "B.Tech -[has_requirement]-> Admission Requirements")
}

func TestGazetteer_Extract(t *testing.T) {
	t.Parallel()
	gz := NewGazetteer(policyGraph())

	tests := []struct {
		name string
		text string
		want []string
	}{
		{"alias", "What are the rules for a Bachelor of Technology degree?", []string{"B.Tech"}},
		{"case folding", "b.tech ADMISSION REQUIREMENTS", []string{"Admission Requirements", "B.Tech"}},
		{"word boundary", "NEP 20201 draft", []string{}},
		{"multiple", "Does NEP 2020 change JEE Main?", []string{"JEE Main", "NEP 2020"}},
		{"nothing", "hostel fees", []string{}},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			got, err := gz.Extract(context.Background(), tc.text)
			require.NoError(t, err)
			assert.Equal(t, tc.want, got)
		})
	}
}

func TestMatch_LongestFormWins(t *testing.T) {
	t.Parallel()
	terms := []Term{
		{Text: "Technology", Name: "Technology"},
		{Text: "Bachelor of Technology", Name: "B.Tech"},
	}
	assert.Equal(t, []string{"B.Tech"}, match(NormalizeName("bachelor of technology"), terms))
}
