package controller

import (
	"sort"
	"strings"
	"time"

	"github.com/54b3r/edupolicy-go/internal/budget"
	"github.com/54b3r/edupolicy-go/internal/config"
	"github.com/54b3r/edupolicy-go/internal/fusion"
	"github.com/54b3r/edupolicy-go/internal/rag"
	"github.com/54b3r/edupolicy-go/internal/retrieval"
)

// Policy holds the sufficiency threshold and refinement knobs. It is
// immutable once the controller is built.
type Policy struct {
	// MaxIterations caps retrieval rounds per query (minimum 1).
	MaxIterations int
	// MinEvidence and MinScore define sufficiency: at least MinEvidence
	// items, the MinEvidence-th of which scores at least MinScore.
	MinEvidence int
	MinScore    float64
	// TopK is the per-source result count on round 1.
	TopK int
	// TopN bounds the fused evidence set.
	TopN int
	// MaxHops is the graph depth on round 1.
	MaxHops int
	// RetrievalTimeout applies to each retriever independently.
	RetrievalTimeout time.Duration
	// ContextTokens is the prompt budget.
	ContextTokens int
}

// DefaultPolicy returns the built-in tuning.
func DefaultPolicy() Policy {
	return Policy{
		MaxIterations:    3,
		MinEvidence:      2,
		MinScore:         0.30,
		TopK:             5,
		TopN:             fusion.DefaultTopN,
		MaxHops:          2,
		RetrievalTimeout: 3 * time.Second,
		ContextTokens:    budget.DefaultMaxContextTokens,
	}
}

// PolicyFromEnv reads MAX_ITERATIONS, MIN_EVIDENCE, MIN_SCORE,
// RETRIEVAL_TOP_K, FUSION_TOP_N, GRAPH_MAX_HOPS, RETRIEVAL_TIMEOUT and
// CONTEXT_TOKENS over the defaults.
func PolicyFromEnv() Policy {
	d := DefaultPolicy()
	return Policy{
		MaxIterations:    config.GetEnvInt("MAX_ITERATIONS", d.MaxIterations),
		MinEvidence:      config.GetEnvInt("MIN_EVIDENCE", d.MinEvidence),
		MinScore:         config.GetEnvFloat("MIN_SCORE", d.MinScore),
		TopK:             config.GetEnvInt("RETRIEVAL_TOP_K", d.TopK),
		TopN:             config.GetEnvInt("FUSION_TOP_N", d.TopN),
		MaxHops:          config.GetEnvInt("GRAPH_MAX_HOPS", d.MaxHops),
		RetrievalTimeout: config.GetEnvDuration("RETRIEVAL_TIMEOUT", d.RetrievalTimeout),
		ContextTokens:    config.GetEnvInt("CONTEXT_TOKENS", d.ContextTokens),
	}
}

// normalized clamps out-of-range values to usable ones.
func (p Policy) normalized() Policy {
	d := DefaultPolicy()
	if p.MaxIterations < 1 {
		p.MaxIterations = 1
	}
	if p.MinEvidence < 1 {
		p.MinEvidence = 1
	}
	if p.MinScore < 0 {
		p.MinScore = 0
	}
	if p.TopK < 1 {
		p.TopK = d.TopK
	}
	if p.TopN < 1 {
		p.TopN = d.TopN
	}
	if p.MaxHops < 1 {
		p.MaxHops = d.MaxHops
	}
	if p.ContextTokens < 1 {
		p.ContextTokens = d.ContextTokens
	}
	return p
}

// Sufficient reports whether e holds at least MinEvidence items and the
// MinEvidence-th scores at least MinScore. e is ordered best first.
func (p Policy) Sufficient(e fusion.EvidenceSet) bool {
	if len(e) < p.MinEvidence {
		return false
	}
	return e[p.MinEvidence-1].Score >= p.MinScore
}

// Initial returns the round-1 plan.
func (p Policy) Initial(text string, entities []string, filters rag.Filters) retrieval.Request {
	return retrieval.Request{
		Text:     text,
		Entities: entities,
		K:        p.TopK,
		Filters:  filters,
		MaxHops:  p.MaxHops,
	}
}

// Refine returns the plan for round i (1-based, i >= 2). It widens k and the
// graph depth, drops metadata filters, appends discovered node names that
// the query does not already mention, and seeds the graph with the original
// entities plus every discovered name.
func (p Policy) Refine(i int, query string, entities, discovered []string) retrieval.Request {
	lower := strings.ToLower(query)
	var extra []string
	for _, name := range sortedUnique(discovered) {
		if !strings.Contains(lower, strings.ToLower(name)) {
			extra = append(extra, name)
		}
	}
	text := query
	if len(extra) > 0 {
		text = query + " " + strings.Join(extra, " ")
	}
	return retrieval.Request{
		Text:     text,
		Entities: sortedUnique(append(append([]string(nil), entities...), discovered...)),
		K:        p.TopK * i,
		MaxHops:  p.MaxHops + i - 1,
	}
}

func sortedUnique(in []string) []string {
	seen := make(map[string]bool, len(in))
	out := make([]string, 0, len(in))
	for _, s := range in {
		if s == "" || seen[s] {
			continue
		}
		seen[s] = true
		out = append(out, s)
	}
	sort.Strings(out)
	return out
}
