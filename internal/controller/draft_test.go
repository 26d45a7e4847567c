package controller

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/54b3r/edupolicy-go/internal/citation"
	"github.com/54b3r/edupolicy-go/internal/fusion"
	"github.com/54b3r/edupolicy-go/internal/rag"
)

func evidenceOf(ids ...string) fusion.EvidenceSet {
	out := make(fusion.EvidenceSet, len(ids))
	for i, id := range ids {
		out[i] = fusion.Evidence{ChunkID: id, Score: 1, Source: rag.SourceDense, Sources: []rag.Source{rag.SourceDense}}
	}
	return out
}

func TestParseDraft(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name       string
		raw        string
		wantAnswer string
		wantClaims []string
		structured bool
	}{
		{
			name:       "plain json",
			raw:        `{"answer": "Ages 6 to 14.", "citations": [{"chunk_id": "rte:p2:c0", "claim": "age range"}]}`,
			wantAnswer: "Ages 6 to 14.",
			wantClaims: []string{"rte:p2:c0"},
			structured: true,
		},
		{
			name:       "reasoning block and fence",
			raw:        "<think>\nThe user asks about RTE.\n</think>\n```json\n{\"answer\": \"Ages 6 to 14.\", \"citations\": []}\n```",
			wantAnswer: "Ages 6 to 14.",
			structured: true,
		},
		{
			name:       "orphan closing think tag",
			raw:        "reasoning text</think>{\"answer\": \"Yes.\"}",
			wantAnswer: "Yes.",
			structured: true,
		},
		{
			name:       "preamble before object",
			raw:        `Here is the answer: {"answer": "Yes.", "citations": [{"chunk_id": "a:p1:c0"}]}`,
			wantAnswer: "Yes.",
			wantClaims: []string{"a:p1:c0"},
			structured: true,
		},
		{
			name:       "schema violation falls back to markers",
			raw:        `{"answer": 42, "citations": "nep:p4:c0"} see [chunk:nep:p4:c0]`,
			wantAnswer: `{"answer": 42, "citations": "nep:p4:c0"} see [chunk:nep:p4:c0]`,
			wantClaims: []string{"nep:p4:c0"},
		},
		{
			name:       "free text with markers",
			raw:        "The 5+3+3+4 structure applies [nep:p4:c0]. Foundational years [chunk: nep:p5:c1] and [1].",
			wantAnswer: "The 5+3+3+4 structure applies [nep:p4:c0]. Foundational years [chunk: nep:p5:c1] and [1].",
			wantClaims: []string{"nep:p4:c0", "nep:p5:c1"},
		},
		{
			name:       "empty answer is not valid json draft",
			raw:        `{"answer": ""}`,
			wantAnswer: `{"answer": ""}`,
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			d := ParseDraft(tc.raw)
			assert.Equal(t, tc.wantAnswer, d.Answer)
			assert.Equal(t, tc.structured, d.Structured)
			var ids []string
			for _, c := range d.Claims {
				ids = append(ids, c.ChunkID)
			}
			assert.Equal(t, tc.wantClaims, ids)
		})
	}
}

func TestRemoveMarkers(t *testing.T) {
	t.Parallel()
	in := "Ages 6 to 14 [chunk:rte:p2:c0] [chunk:x:p1:c0].\nSecond line [x:p1:c0] stays [rte:p2:c0]."
	got := removeMarkers(in, []string{"x:p1:c0"})
	assert.Equal(t, "Ages 6 to 14 [chunk:rte:p2:c0].\nSecond line stays [rte:p2:c0].", got)
	assert.Equal(t, in, removeMarkers(in, nil))
}

func TestParseThinkingMode(t *testing.T) {
	t.Parallel()
	for in, want := range map[string]ThinkingMode{"": ModeSmart, "Deep": ModeDeep, " reasoning ": ModeReasoning, "general": ModeGeneral} {
		got, err := ParseThinkingMode(in)
		assert.NoError(t, err, in)
		assert.Equal(t, want, got, in)
	}
	_, err := ParseThinkingMode("creative")
	assert.Error(t, err)
}

func TestVerifyKeepsOnlyEvidence(t *testing.T) {
	t.Parallel()
	d := ParseDraft("See [nep:p4:c0] and [aicte:p1:c0].")
	res := citation.Verify(d.Claims, evidenceOf("nep:p4:c0"), nepChunks)
	assert.Len(t, res.Citations, 1)
	assert.Equal(t, []string{"aicte:p1:c0"}, res.Dropped)
}
