// Package fusion merges per-source retrieval hits into one ranked,
// de-duplicated evidence set. Each source is min-max normalised on its own
// scale before merging, so BM25 scores, cosine similarities and hop
// distances become comparable.
package fusion

import (
	"sort"

	"github.com/54b3r/edupolicy-go/internal/rag"
)

// DefaultTopN is the evidence set size when none is configured.
const DefaultTopN = 8

// Evidence is one fused chunk.
type Evidence struct {
	ChunkID string `json:"chunk_id"`
	// Score is the fused score in [0,1].
	Score float64 `json:"score"`
	// Source is the contributor that won the chunk.
	Source rag.Source `json:"source"`
	// Sources lists every contributor, highest priority first.
	Sources []rag.Source `json:"sources"`
}

// EvidenceSet is ordered by score descending, then source priority, then
// chunk id ascending. Chunk ids are unique.
type EvidenceSet []Evidence

// IDs returns the chunk ids in order.
func (e EvidenceSet) IDs() []string {
	out := make([]string, len(e))
	for i, ev := range e {
		out[i] = ev.ChunkID
	}
	return out
}

// Contains reports whether chunkID is in the set.
func (e EvidenceSet) Contains(chunkID string) bool {
	for _, ev := range e {
		if ev.ChunkID == chunkID {
			return true
		}
	}
	return false
}

// Fuse normalises each source's hits to [0,1], merges by chunk id keeping the
// best score, and returns the top n. A source whose scores are all equal
// normalises every hit to 1. n < 1 means DefaultTopN.
func Fuse(n int, results map[rag.Source][]rag.Hit) EvidenceSet {
	merged := make(map[string]*Evidence)
	for src, hits := range results {
		for id, score := range normalise(hits) {
			absorb(merged, Evidence{ChunkID: id, Score: score, Source: src, Sources: []rag.Source{src}})
		}
	}
	return rank(n, merged)
}

// Merge combines evidence accumulated over rounds. Scores are already
// normalised, so the per-chunk maximum wins.
func Merge(n int, prev, next EvidenceSet) EvidenceSet {
	merged := make(map[string]*Evidence, len(prev)+len(next))
	for _, set := range []EvidenceSet{prev, next} {
		for _, ev := range set {
			absorb(merged, ev)
		}
	}
	return rank(n, merged)
}

// normalise de-duplicates hits (keeping the max raw score) and min-max
// scales them.
func normalise(hits []rag.Hit) map[string]float64 {
	raw := make(map[string]float64, len(hits))
	for _, h := range hits {
		if s, ok := raw[h.ChunkID]; !ok || h.Score > s {
			raw[h.ChunkID] = h.Score
		}
	}
	if len(raw) == 0 {
		return raw
	}

	first := true
	var lo, hi float64
	for _, s := range raw {
		if first || s < lo {
			lo = s
		}
		if first || s > hi {
			hi = s
		}
		first = false
	}

	out := make(map[string]float64, len(raw))
	for id, s := range raw {
		if hi == lo {
			out[id] = 1
		} else {
			out[id] = (s - lo) / (hi - lo)
		}
	}
	return out
}

// absorb folds ev into merged. The higher score wins; equal scores go to the
// higher-priority source. Contributors accumulate either way.
func absorb(merged map[string]*Evidence, ev Evidence) {
	cur, ok := merged[ev.ChunkID]
	if !ok {
		cp := ev
		cp.Sources = append([]rag.Source(nil), ev.Sources...)
		sortSources(cp.Sources)
		merged[ev.ChunkID] = &cp
		return
	}
	if ev.Score > cur.Score || (ev.Score == cur.Score && outranks(ev.Source, cur.Source)) {
		cur.Score = ev.Score
		cur.Source = ev.Source
	}
	for _, s := range ev.Sources {
		if !hasSource(cur.Sources, s) {
			cur.Sources = append(cur.Sources, s)
		}
	}
	sortSources(cur.Sources)
}

func rank(n int, merged map[string]*Evidence) EvidenceSet {
	if n < 1 {
		n = DefaultTopN
	}
	out := make(EvidenceSet, 0, len(merged))
	for _, ev := range merged {
		out = append(out, *ev)
	}
	sort.Slice(out, func(i, j int) bool {
		a, b := out[i], out[j]
		if a.Score != b.Score {
			return a.Score > b.Score
		}
		if a.Source != b.Source {
			return outranks(a.Source, b.Source)
		}
		return a.ChunkID < b.ChunkID
	})
	if len(out) > n {
		out = out[:n]
	}
	return out
}

// outranks orders sources by priority, then by name for sources that share
// a priority.
func outranks(a, b rag.Source) bool {
	if pa, pb := a.Priority(), b.Priority(); pa != pb {
		return pa > pb
	}
	return a < b
}

func sortSources(s []rag.Source) {
	sort.Slice(s, func(i, j int) bool { return outranks(s[i], s[j]) })
}

func hasSource(list []rag.Source, s rag.Source) bool {
	for _, x := range list {
		if x == s {
			return true
		}
	}
	return false
}
