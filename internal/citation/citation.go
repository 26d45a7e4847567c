// Package citation checks a draft answer's citations against the evidence it
// was generated from and scores how risky the resulting answer is.
package citation

import (
	"errors"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/54b3r/edupolicy-go/internal/fusion"
	"github.com/54b3r/edupolicy-go/internal/rag"
)

// ErrCitationUnverifiable describes a claim whose chunk is not in the
// evidence set. Such claims are dropped and logged, never surfaced.
var ErrCitationUnverifiable = errors.New("citation unverifiable")

// maxSpan bounds the excerpt attached to a citation, in characters.
const maxSpan = 240

// Claim is one citation as proposed by the model.
type Claim struct {
	ChunkID string `json:"chunk_id"`
	Claim   string `json:"claim,omitempty"`
}

// Citation is a verified reference into the corpus.
type Citation struct {
	DocID   string `json:"docId"`
	Page    int    `json:"page"`
	Span    string `json:"span"`
	ChunkID string `json:"-"`
}

// Result is the outcome of verification.
type Result struct {
	Citations []Citation
	// Dropped lists chunk ids of claims that failed verification.
	Dropped []string
}

// Verify keeps the claims that reference a chunk in evidence which also
// resolves through chunks. Output order follows the draft; duplicates are
// removed.
func Verify(draft []Claim, evidence fusion.EvidenceSet, chunks map[string]rag.Chunk) Result {
	res := Result{Citations: []Citation{}}
	seen := make(map[string]bool, len(draft))
	for _, c := range draft {
		id := strings.TrimSpace(c.ChunkID)
		if seen[id] {
			continue
		}
		seen[id] = true

		chunk, ok := chunks[id]
		if !ok || !evidence.Contains(id) {
			res.Dropped = append(res.Dropped, id)
			continue
		}
		page := chunk.Page
		if page < 1 {
			page = 1
		}
		res.Citations = append(res.Citations, Citation{
			DocID:   chunk.DocID,
			Page:    page,
			Span:    Excerpt(chunk.Text, maxSpan),
			ChunkID: id,
		})
	}
	return res
}

// Excerpt returns at most limit characters of text, whitespace collapsed,
// cut back to the last word boundary and marked with an ellipsis when
// shortened.
func Excerpt(text string, limit int) string {
	s := strings.Join(strings.Fields(text), " ")
	if utf8.RuneCountInString(s) <= limit {
		return s
	}
	runes := []rune(s)
	cut := limit - 1
	for i := cut; i > limit/2; i-- {
		if unicode.IsSpace(runes[i]) {
			cut = i
			break
		}
	}
	return strings.TrimRightFunc(string(runes[:cut]), unicode.IsSpace) + "…"
}
