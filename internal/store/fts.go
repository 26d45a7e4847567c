package store

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"unicode"

	"github.com/54b3r/edupolicy-go/internal/rag"
)

// stopwords are dropped from queries (never from the index) so that common
// function words do not dominate an OR query.
var stopwords = map[string]bool{
	"a": true, "an": true, "and": true, "are": true, "as": true, "at": true,
	"be": true, "by": true, "can": true, "do": true, "does": true, "for": true,
	"from": true, "how": true, "i": true, "in": true, "is": true, "it": true,
	"of": true, "on": true, "or": true, "the": true, "this": true, "to": true,
	"was": true, "what": true, "when": true, "where": true, "which": true,
	"who": true, "why": true, "will": true, "with": true, "my": true, "me": true,
	"there": true, "any": true, "about": true, "under": true, "into": true,
}

// MatchExpr turns free text into an FTS5 MATCH expression: letter/digit
// tokens, lower-cased, stopwords removed, de-duplicated, each quoted and
// OR-ed. It returns "" when nothing searchable remains.
func MatchExpr(text string) string {
	tokens := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r) && !unicode.IsMark(r)
	})
	seen := make(map[string]bool, len(tokens))
	terms := make([]string, 0, len(tokens))
	for _, t := range tokens {
		if stopwords[t] || seen[t] {
			continue
		}
		seen[t] = true
		terms = append(terms, `"`+t+`"`)
	}
	return strings.Join(terms, " OR ")
}

// SearchText runs a BM25 keyword search over chunk text. Scores are the
// negated bm25() value so that higher is better. Filters match chunk metadata
// exactly. Errors wrap rag.ErrIndexUnavailable.
func (s *SQLiteStore) SearchText(ctx context.Context, query string, k int, filters rag.Filters) ([]rag.Hit, error) {
	if k < 1 {
		return nil, fmt.Errorf("store: search: k must be >= 1, got %d", k)
	}
	expr := MatchExpr(query)
	if expr == "" {
		return []rag.Hit{}, nil
	}

	var b strings.Builder
	b.WriteString(`
SELECT c.id, -bm25(chunks_fts) AS score
FROM   chunks_fts
JOIN   chunks c ON c.seq = chunks_fts.rowid
WHERE  chunks_fts MATCH ?`)
	args := []any{expr}
	for _, key := range sortedFilterKeys(filters) {
		b.WriteString(` AND json_extract(c.metadata, ?) = ?`)
		args = append(args, `$."`+strings.ReplaceAll(key, `"`, ``)+`"`, filters[key])
	}
	b.WriteString(`
ORDER  BY score DESC, c.id
LIMIT  ?`)
	args = append(args, k)

	rows, err := s.db.QueryContext(ctx, b.String(), args...)
	if err != nil {
		return nil, fmt.Errorf("store: search: %w: %w", rag.ErrIndexUnavailable, err)
	}
	defer rows.Close()

	hits := []rag.Hit{}
	for rows.Next() {
		h := rag.Hit{Source: rag.SourceSparse}
		if err := rows.Scan(&h.ChunkID, &h.Score); err != nil {
			return nil, fmt.Errorf("store: search scan: %w", err)
		}
		hits = append(hits, h)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("store: search rows: %w: %w", rag.ErrIndexUnavailable, err)
	}
	return hits, nil
}

func sortedFilterKeys(f rag.Filters) []string {
	keys := make([]string, 0, len(f))
	for k := range f {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
