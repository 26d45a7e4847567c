package citation

import (
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/brianvoe/gofakeit/v6"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/54b3r/edupolicy-go/internal/fusion"
	"github.com/54b3r/edupolicy-go/internal/rag"
)

func evidence(ids ...string) fusion.EvidenceSet {
	out := make(fusion.EvidenceSet, len(ids))
	for i, id := range ids {
		out[i] = fusion.Evidence{ChunkID: id, Score: 1, Source: rag.SourceDense, Sources: []rag.Source{rag.SourceDense}}
	}
	return out
}

var corpus = map[string]rag.Chunk{
	"nep:p4:c0":   {ID: "nep:p4:c0", DocID: "nep", Page: 4, Text: "The 5+3+3+4 structure replaces the 10+2 system."},
	"aicte:p1:c0": {ID: "aicte:p1:c0", DocID: "aicte", Page: 1, Text: "Admission requires Physics and Mathematics."},
	"other:p2:c0": {ID: "other:p2:c0", DocID: "other", Page: 2, Text: "Not part of the evidence."},
}

func TestVerify_StrictFilter(t *testing.T) {
	t.Parallel()
	draft := []Claim{
		{ChunkID: "nep:p4:c0"},
		{ChunkID: "other:p2:c0"}, // in corpus, not in evidence
		{ChunkID: "ghost:p1:c0"}, // in evidence, not resolvable
		{ChunkID: "aicte:p1:c0"},
		{ChunkID: "nep:p4:c0"}, // duplicate
	}
	res := Verify(draft, evidence("nep:p4:c0", "aicte:p1:c0", "ghost:p1:c0"), corpus)

	require.Len(t, res.Citations, 2)
	assert.Equal(t, "nep", res.Citations[0].DocID)
	assert.Equal(t, 4, res.Citations[0].Page)
	assert.Equal(t, "aicte:p1:c0", res.Citations[1].ChunkID)
	assert.ElementsMatch(t, []string{"other:p2:c0", "ghost:p1:c0"}, res.Dropped)
}

func TestVerify_EmptyDraft(t *testing.T) {
	t.Parallel()
	res := Verify(nil, evidence("nep:p4:c0"), corpus)
	assert.NotNil(t, res.Citations)
	assert.Empty(t, res.Citations)
}

func TestVerify_Property_CitationsSubsetOfEvidence(t *testing.T) {
	t.Parallel()
	f := gofakeit.New(42)
	ids := []string{"nep:p4:c0", "aicte:p1:c0", "other:p2:c0", "ghost:p1:c0"}

	for i := range 200 {
		var ev []string
		for _, id := range ids {
			if f.Bool() {
				ev = append(ev, id)
			}
		}
		var draft []Claim
		for range f.Number(0, 8) {
			draft = append(draft, Claim{ChunkID: ids[f.Number(0, len(ids)-1)]})
		}
		set := evidence(ev...)
		res := Verify(draft, set, corpus)
		for _, c := range res.Citations {
			require.True(t, set.Contains(c.ChunkID), "case %d: %s not in evidence", i, c.ChunkID)
			require.GreaterOrEqual(t, c.Page, 1)
		}
	}
}

func TestExcerpt(t *testing.T) {
	t.Parallel()
	short := "Admission  requires\nPhysics."
	assert.Equal(t, "Admission requires Physics.", Excerpt(short, 240))

	long := strings.Repeat("policy clause ", 40)
	got := Excerpt(long, 240)
	assert.LessOrEqual(t, utf8.RuneCountInString(got), 240)
	assert.True(t, strings.HasSuffix(got, "…"))
	assert.False(t, strings.HasSuffix(strings.TrimSuffix(got, "…"), " "))
	assert.True(t, strings.HasSuffix(strings.TrimSuffix(got, "…"), "policy") || strings.HasSuffix(strings.TrimSuffix(got, "…"), "clause"))
}

func TestAssess_Scenarios(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name      string
		in        Input
		wantLevel Level
		wantRisk  []string
	}{
		{
			name:      "well supported",
			in:        Input{Claims: 3, Verified: 3, EvidenceSize: 6},
			wantLevel: LevelLow,
			wantRisk:  []string{},
		},
		{
			name:      "graph only single chunk",
			in:        Input{Claims: 1, Verified: 1, EvidenceSize: 1},
			wantLevel: LevelLow,
			wantRisk:  []string{RiskLowEvidenceCoverage},
		},
		{
			name:      "no citations",
			in:        Input{Claims: 0, EvidenceSize: 3},
			wantLevel: LevelMedium,
			wantRisk:  []string{RiskLowEvidenceCoverage, RiskLowCitationCoverage},
		},
		{
			name:      "all backends down",
			in:        Input{EvidenceSize: 0, BudgetExhausted: true},
			wantLevel: LevelHigh,
			wantRisk:  []string{RiskNoEvidence, RiskLowCitationCoverage, RiskBudgetExhausted},
		},
		{
			name:      "generation failed",
			in:        Input{EvidenceSize: 5, Degraded: true},
			wantLevel: LevelHigh,
			wantRisk:  []string{RiskUpstreamFailure},
		},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			a := Assess(tc.in)
			assert.Equal(t, tc.wantLevel, a.Level, "score %.3f", a.Score)
			assert.Equal(t, tc.wantRisk, a.Risks)
			assert.Len(t, a.Recommendations, len(a.Risks))
			assert.InDelta(t, 1-a.Score, a.Confidence, 1e-9)
		})
	}
}

func TestAssess_Monotonic(t *testing.T) {
	t.Parallel()
	f := gofakeit.New(99)
	for i := range 500 {
		in := Input{
			Claims:          f.Number(0, 6),
			EvidenceSize:    f.Number(0, 8),
			BudgetExhausted: f.Bool(),
		}
		in.Verified = f.Number(0, in.Claims)
		base := Assess(in).Score

		more := in
		if more.Verified < more.Claims {
			more.Verified++
		}
		require.LessOrEqual(t, Assess(more).Score, base+1e-12, "case %d: more verified citations raised risk", i)

		bigger := in
		bigger.EvidenceSize++
		require.LessOrEqual(t, Assess(bigger).Score, base+1e-12, "case %d: more evidence raised risk", i)

		exhausted := in
		exhausted.BudgetExhausted = true
		require.GreaterOrEqual(t, Assess(exhausted).Score, base-1e-12, "case %d: exhaustion lowered risk", i)

		require.GreaterOrEqual(t, base, 0.0)
		require.LessOrEqual(t, base, 1.0)
	}
}

func TestAssessment_String(t *testing.T) {
	t.Parallel()
	s := Assess(Input{Claims: 1, Verified: 1, EvidenceSize: 1}).String()
	assert.True(t, strings.HasPrefix(s, "low (score 0.28, confidence 0.72): low_evidence_coverage."), s)

	s = Assess(Input{Claims: 2, Verified: 2, EvidenceSize: 5}).String()
	assert.Equal(t, "low (score 0.00, confidence 1.00)", s)
}
