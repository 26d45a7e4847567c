package store

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/54b3r/edupolicy-go/internal/graph"
)

// UpsertNode writes a node and replaces its aliases. The node name is always
// registered as an alias of itself.
func (s *SQLiteStore) UpsertNode(ctx context.Context, n graph.Node) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("store: begin: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	const upsert = `
INSERT INTO graph_nodes (id, name, kind) VALUES (?, ?, ?)
ON CONFLICT(id) DO UPDATE SET name = excluded.name, kind = excluded.kind`
	if _, err := tx.ExecContext(ctx, upsert, n.ID, n.Name, n.Kind); err != nil {
		return fmt.Errorf("store: upsert node %s: %w", n.ID, err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM graph_aliases WHERE node_id = ?`, n.ID); err != nil {
		return fmt.Errorf("store: reset aliases of %s: %w", n.ID, err)
	}
	for _, surface := range append([]string{n.Name}, n.Aliases...) {
		alias := graph.NormalizeName(surface)
		if alias == "" {
			continue
		}
		const ins = `INSERT OR IGNORE INTO graph_aliases (alias, surface, node_id) VALUES (?, ?, ?)`
		if _, err := tx.ExecContext(ctx, ins, alias, surface, n.ID); err != nil {
			return fmt.Errorf("store: alias %q of %s: %w", surface, n.ID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("store: commit: %w", err)
	}
	return nil
}

// UpsertEdge writes an edge. Both endpoints must already exist.
func (s *SQLiteStore) UpsertEdge(ctx context.Context, e graph.Edge) error {
	ids := e.ChunkIDs
	if ids == nil {
		ids = []string{}
	}
	chunkIDs, err := json.Marshal(ids)
	if err != nil {
		return fmt.Errorf("store: edge %s chunk ids: %w", e.ID, err)
	}
	const q = `
INSERT INTO graph_edges (id, src, dst, relation, chunk_ids) VALUES (?, ?, ?, ?, ?)
ON CONFLICT(id) DO UPDATE SET
    src = excluded.src, dst = excluded.dst, relation = excluded.relation, chunk_ids = excluded.chunk_ids`
	if _, err := s.db.ExecContext(ctx, q, e.ID, e.From, e.To, e.Relation, string(chunkIDs)); err != nil {
		return fmt.Errorf("store: upsert edge %s: %w", e.ID, err)
	}
	return nil
}

// ResolveEntities implements graph.Store.
func (s *SQLiteStore) ResolveEntities(ctx context.Context, names []string) ([]graph.Node, error) {
	norm := make([]string, 0, len(names))
	for _, n := range names {
		if a := graph.NormalizeName(n); a != "" {
			norm = append(norm, a)
		}
	}
	if len(norm) == 0 {
		return nil, nil
	}
	ph, args := placeholders(norm)
	q := `
SELECT DISTINCT n.id, n.name, n.kind
FROM   graph_aliases a
JOIN   graph_nodes n ON n.id = a.node_id
WHERE  a.alias IN (` + ph + `)
ORDER  BY n.id`
	return s.queryNodes(ctx, q, args...)
}

// Nodes implements graph.Store.
func (s *SQLiteStore) Nodes(ctx context.Context, ids []string) (map[string]graph.Node, error) {
	out := make(map[string]graph.Node, len(ids))
	if len(ids) == 0 {
		return out, nil
	}
	ph, args := placeholders(ids)
	nodes, err := s.queryNodes(ctx, `SELECT id, name, kind FROM graph_nodes WHERE id IN (`+ph+`)`, args...)
	if err != nil {
		return nil, err
	}
	for _, n := range nodes {
		out[n.ID] = n
	}
	return out, nil
}

func (s *SQLiteStore) queryNodes(ctx context.Context, q string, args ...any) ([]graph.Node, error) {
	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("store: query nodes: %w", err)
	}
	defer rows.Close()
	var out []graph.Node
	for rows.Next() {
		var n graph.Node
		if err := rows.Scan(&n.ID, &n.Name, &n.Kind); err != nil {
			return nil, fmt.Errorf("store: scan node: %w", err)
		}
		out = append(out, n)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("store: node rows: %w", err)
	}
	return out, nil
}

// Edges implements graph.Store.
func (s *SQLiteStore) Edges(ctx context.Context, nodeIDs []string) ([]graph.Edge, error) {
	if len(nodeIDs) == 0 {
		return nil, nil
	}
	ph, args := placeholders(nodeIDs)
	q := `
SELECT id, src, dst, relation, chunk_ids
FROM   graph_edges
WHERE  src IN (` + ph + `) OR dst IN (` + ph + `)
ORDER  BY id`
	rows, err := s.db.QueryContext(ctx, q, append(args, args...)...)
	if err != nil {
		return nil, fmt.Errorf("store: edges: %w", err)
	}
	defer rows.Close()

	var out []graph.Edge
	for rows.Next() {
		var (
			e   graph.Edge
			ids string
		)
		if err := rows.Scan(&e.ID, &e.From, &e.To, &e.Relation, &ids); err != nil {
			return nil, fmt.Errorf("store: scan edge: %w", err)
		}
		if err := json.Unmarshal([]byte(ids), &e.ChunkIDs); err != nil {
			return nil, fmt.Errorf("store: edge %s chunk ids: %w", e.ID, err)
		}
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("store: edge rows: %w", err)
	}
	return out, nil
}

// Terms implements graph.Vocabulary.
func (s *SQLiteStore) Terms(ctx context.Context) ([]graph.Term, error) {
	const q = `
SELECT a.surface, n.name
FROM   graph_aliases a
JOIN   graph_nodes n ON n.id = a.node_id
ORDER  BY a.alias`
	rows, err := s.db.QueryContext(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("store: terms: %w", err)
	}
	defer rows.Close()
	var out []graph.Term
	for rows.Next() {
		var t graph.Term
		if err := rows.Scan(&t.Text, &t.Name); err != nil {
			return nil, fmt.Errorf("store: scan term: %w", err)
		}
		out = append(out, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("store: term rows: %w", err)
	}
	return out, nil
}
