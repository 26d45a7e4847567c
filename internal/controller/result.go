package controller

import (
	"github.com/54b3r/edupolicy-go/internal/citation"
	"github.com/54b3r/edupolicy-go/internal/fusion"
	"github.com/54b3r/edupolicy-go/internal/lang"
	"github.com/54b3r/edupolicy-go/internal/rag"
)

// Result is the frozen outcome of a run. The JSON form is the public
// /v1/query response; every key is always present and lists are never null.
type Result struct {
	Answer    string              `json:"answer"`
	Citations []citation.Citation `json:"citations"`
	Trace     Trace               `json:"processing_trace"`
	Risk      string              `json:"risk_assessment"`

	Assessment  citation.Assessment `json:"-"`
	Termination Termination         `json:"-"`
	Evidence    fusion.EvidenceSet  `json:"-"`
	ModelID     string              `json:"-"`
	Rounds      []Round             `json:"-"`
}

// Trace is the processing trace of a run.
type Trace struct {
	Language    string         `json:"language"`
	Retrieval   RetrievalTrace `json:"retrieval"`
	KGTraversal string         `json:"kg_traversal"`
	Iterations  int            `json:"controller_iterations"`
}

// RetrievalTrace lists the chunk ids dense and sparse returned over all
// rounds, de-duplicated in first-seen order.
type RetrievalTrace struct {
	Dense  []string `json:"dense"`
	Sparse []string `json:"sparse"`
}

// Result freezes st. It is meaningful once st.Phase is done.
func (st State) Result() *Result {
	claims := 0
	used := st.Evidence
	if st.Draft != nil {
		claims = len(st.Verification.Citations) + len(st.Verification.Dropped)
		used = st.Prompted
	}
	assessment := citation.Assess(citation.Input{
		Claims:          claims,
		Verified:        len(st.Verification.Citations),
		EvidenceSize:    len(used),
		BudgetExhausted: st.Exhausted,
		Degraded:        st.Termination == TermUpstreamFailure,
	})

	language := st.Query.Language
	if language == "" {
		language = lang.Unknown
	}
	kg := "N/A"
	if st.Graph != nil {
		kg = st.Graph.Summary()
	}
	citations := st.Citations
	if citations == nil {
		citations = []citation.Citation{}
	}

	return &Result{
		Answer:    st.Answer,
		Citations: citations,
		Trace: Trace{
			Language: language,
			Retrieval: RetrievalTrace{
				Dense:  firstSeen(st.Rounds, rag.SourceDense),
				Sparse: firstSeen(st.Rounds, rag.SourceSparse),
			},
			KGTraversal: kg,
			Iterations:  st.Iteration,
		},
		Risk:        assessment.String(),
		Assessment:  assessment,
		Termination: st.Termination,
		Evidence:    st.Evidence,
		ModelID:     st.ModelID,
		Rounds:      st.Rounds,
	}
}

func firstSeen(rounds []Round, src rag.Source) []string {
	out := []string{}
	seen := map[string]bool{}
	for _, r := range rounds {
		for _, id := range r.Hits[src] {
			if !seen[id] {
				seen[id] = true
				out = append(out, id)
			}
		}
	}
	return out
}
