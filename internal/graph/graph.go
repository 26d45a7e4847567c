// Package graph implements knowledge graph traversal over policy entities
// (programmes, requirements, bodies, documents) and the gazetteer that finds
// those entities in a query. Nodes and edges live in the corpus store; this
// package only reads them through the Store interface.
package graph

import (
	"context"
	"strings"
)

// Node is a graph entity.
type Node struct {
	ID      string
	Name    string
	Kind    string
	Aliases []string
}

// Edge is a directed, typed relation between two nodes. ChunkIDs are the
// chunks that state the relation; traversal turns them into hits.
type Edge struct {
	ID       string
	From     string
	To       string
	Relation string
	ChunkIDs []string
}

// Store is the read side of the graph used by traversal.
type Store interface {
	// ResolveEntities returns the nodes whose name or alias equals one of
	// names, compared case-insensitively. Unknown names are ignored.
	ResolveEntities(ctx context.Context, names []string) ([]Node, error)

	// Edges returns every edge with either endpoint in nodeIDs.
	Edges(ctx context.Context, nodeIDs []string) ([]Edge, error)

	// Nodes resolves node ids to nodes. Unknown ids are omitted.
	Nodes(ctx context.Context, ids []string) (map[string]Node, error)
}

// Term is one surface form the gazetteer can match, with the canonical name
// of the node it refers to.
type Term struct {
	Text string
	Name string
}

// Vocabulary lists every name and alias of every node.
type Vocabulary interface {
	Terms(ctx context.Context) ([]Term, error)
}

// NormalizeName folds a surface form for case-insensitive comparison.
func NormalizeName(s string) string {
	return strings.ToLower(strings.Join(strings.Fields(s), " "))
}
