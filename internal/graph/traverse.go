package graph

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/54b3r/edupolicy-go/internal/rag"
)

// maxRelations caps the relation strings kept for the trace summary.
const maxRelations = 5

// Result is the outcome of one traversal.
type Result struct {
	// Hits are graph-sourced chunk hits, score descending then chunk id.
	Hits []rag.Hit

	// Seeds are the canonical names of the resolved seed nodes, sorted.
	Seeds []string

	// Discovered are the names of non-seed nodes reached, sorted.
	Discovered []string

	// Nodes and Edges count what the traversal visited.
	Nodes int
	Edges int

	// Hops is the deepest hop that expanded at least one edge.
	Hops int

	// Relations holds up to five "A -[rel]-> B" strings in visit order.
	Relations []string
}

// Summary renders the traversal for the processing trace. An empty traversal
// (no seed resolved) is "N/A".
func (r Result) Summary() string {
	if len(r.Seeds) == 0 {
		return "N/A"
	}
	var b strings.Builder
	fmt.Fprintf(&b, "seeds: %s | nodes: %d | edges: %d | hops: %d",
		strings.Join(r.Seeds, ", "), r.Nodes, r.Edges, r.Hops)
	if len(r.Relations) > 0 {
		b.WriteString(" | ")
		b.WriteString(strings.Join(r.Relations, "; "))
	}
	return b.String()
}

// Traverser expands seed entities breadth-first over the graph store.
type Traverser struct {
	store Store
}

// NewTraverser returns a Traverser reading from store.
func NewTraverser(store Store) *Traverser {
	return &Traverser{store: store}
}

// Traverse resolves entities to seed nodes and walks outward up to maxHops,
// following edges in both directions. Each edge is expanded once; an edge
// first reached at hop d scores its provenance chunks 1/d, and a chunk
// reached several times keeps its best score. The walk stops early once a
// hop adds no new node.
func (t *Traverser) Traverse(ctx context.Context, entities []string, maxHops int) (Result, error) {
	var res Result
	if len(entities) == 0 {
		return res, nil
	}

	seeds, err := t.store.ResolveEntities(ctx, entities)
	if err != nil {
		return res, fmt.Errorf("graph: resolve seeds: %w", err)
	}
	if len(seeds) == 0 {
		return res, nil
	}

	visited := make(map[string]bool, len(seeds))
	seedIDs := make(map[string]bool, len(seeds))
	frontier := make([]string, 0, len(seeds))
	for _, n := range seeds {
		if visited[n.ID] {
			continue
		}
		visited[n.ID] = true
		seedIDs[n.ID] = true
		frontier = append(frontier, n.ID)
	}
	sort.Strings(frontier)

	seenEdges := make(map[string]bool)
	best := make(map[string]float64)
	var walked []Edge

	for d := 1; d <= maxHops && len(frontier) > 0; d++ {
		if err := ctx.Err(); err != nil {
			return Result{}, err
		}

		edges, err := t.store.Edges(ctx, frontier)
		if err != nil {
			return Result{}, fmt.Errorf("graph: expand hop %d: %w", d, err)
		}
		sort.Slice(edges, func(i, j int) bool { return edges[i].ID < edges[j].ID })

		var next []string
		expanded := false
		for _, e := range edges {
			if seenEdges[e.ID] {
				continue
			}
			seenEdges[e.ID] = true
			walked = append(walked, e)
			expanded = true

			score := 1.0 / float64(d)
			for _, c := range e.ChunkIDs {
				if score > best[c] {
					best[c] = score
				}
			}
			for _, end := range [2]string{e.From, e.To} {
				if !visited[end] {
					visited[end] = true
					next = append(next, end)
				}
			}
		}

		if expanded {
			res.Hops = d
		}
		sort.Strings(next)
		frontier = next
	}

	ids := make([]string, 0, len(visited))
	for id := range visited {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	nodes, err := t.store.Nodes(ctx, ids)
	if err != nil {
		return Result{}, fmt.Errorf("graph: load nodes: %w", err)
	}
	name := func(id string) string {
		if n, ok := nodes[id]; ok && n.Name != "" {
			return n.Name
		}
		return id
	}

	for _, id := range ids {
		if seedIDs[id] {
			res.Seeds = append(res.Seeds, name(id))
		} else {
			res.Discovered = append(res.Discovered, name(id))
		}
	}
	sort.Strings(res.Seeds)
	sort.Strings(res.Discovered)

	for _, e := range walked {
		if len(res.Relations) == maxRelations {
			break
		}
		res.Relations = append(res.Relations, fmt.Sprintf("%s -[%s]-> %s", name(e.From), e.Relation, name(e.To)))
	}

	res.Nodes = len(visited)
	res.Edges = len(walked)
	res.Hits = make([]rag.Hit, 0, len(best))
	for id, s := range best {
		res.Hits = append(res.Hits, rag.Hit{ChunkID: id, Score: s, Source: rag.SourceGraph})
	}
	sort.Slice(res.Hits, func(i, j int) bool {
		if res.Hits[i].Score != res.Hits[j].Score {
			return res.Hits[i].Score > res.Hits[j].Score
		}
		return res.Hits[i].ChunkID < res.Hits[j].ChunkID
	})
	return res, nil
}
