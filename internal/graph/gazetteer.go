package graph

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"unicode"
	"unicode/utf8"
)

// Gazetteer finds known entity names and aliases in free text.
type Gazetteer struct {
	vocab Vocabulary
}

// NewGazetteer returns a Gazetteer over vocab. Terms are loaded per call so
// newly ingested nodes are visible immediately.
func NewGazetteer(vocab Vocabulary) *Gazetteer {
	return &Gazetteer{vocab: vocab}
}

// Extract returns the canonical names of the entities mentioned in text,
// sorted and de-duplicated. Matching is case-insensitive, respects word
// boundaries and prefers the longest surface form at any position.
func (g *Gazetteer) Extract(ctx context.Context, text string) ([]string, error) {
	terms, err := g.vocab.Terms(ctx)
	if err != nil {
		return nil, fmt.Errorf("gazetteer: load terms: %w", err)
	}
	return match(NormalizeName(text), terms), nil
}

func match(text string, terms []Term) []string {
	type form struct {
		text string
		name string
	}
	forms := make([]form, 0, len(terms))
	for _, t := range terms {
		if n := NormalizeName(t.Text); n != "" {
			forms = append(forms, form{text: n, name: t.Name})
		}
	}
	sort.Slice(forms, func(i, j int) bool {
		if len(forms[i].text) != len(forms[j].text) {
			return len(forms[i].text) > len(forms[j].text)
		}
		return forms[i].text < forms[j].text
	})

	claimed := make([]bool, len(text))
	found := make(map[string]bool)
	for _, f := range forms {
		for from := 0; from < len(text); {
			i := strings.Index(text[from:], f.text)
			if i < 0 {
				break
			}
			start := from + i
			end := start + len(f.text)
			from = start + 1
			if !bounded(text, start, end) || anyClaimed(claimed[start:end]) {
				continue
			}
			for k := start; k < end; k++ {
				claimed[k] = true
			}
			found[f.name] = true
		}
	}

	out := make([]string, 0, len(found))
	for n := range found {
		out = append(out, n)
	}
	sort.Strings(out)
	return out
}

// bounded reports whether text[start:end] is not glued to a neighbouring
// letter or digit.
func bounded(text string, start, end int) bool {
	if start > 0 {
		r, _ := utf8.DecodeLastRuneInString(text[:start])
		if isWordRune(r) {
			return false
		}
	}
	if end < len(text) {
		r, _ := utf8.DecodeRuneInString(text[end:])
		if isWordRune(r) {
			return false
		}
	}
	return true
}

func isWordRune(r rune) bool {
	return unicode.IsLetter(r) || unicode.IsDigit(r) || unicode.IsMark(r)
}

func anyClaimed(span []bool) bool {
	for _, c := range span {
		if c {
			return true
		}
	}
	return false
}
