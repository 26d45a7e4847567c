// Package lang normalises incoming questions and identifies their language.
// Detection is script-based: the policy corpus is English, and the other
// languages users write in (Hindi, Telugu, Tamil, ...) each have a distinct
// script, so the dominant script is a reliable signal.
package lang

import (
	"strings"
	"unicode"

	"golang.org/x/text/language"
	"golang.org/x/text/language/display"
	"golang.org/x/text/unicode/norm"
)

// Unknown is reported when no letters are present.
const Unknown = "N/A"

// Query is an immutable user question.
type Query struct {
	// Raw is the text as received.
	Raw string
	// Language is the English name of the detected language, or Unknown.
	Language string
	// Normalized is Raw in NFC with whitespace collapsed.
	Normalized string
}

// NewQuery builds a Query from raw input.
func NewQuery(raw string) Query {
	n := Normalize(raw)
	return Query{Raw: raw, Language: Detect(n), Normalized: n}
}

// Normalize applies NFC and collapses runs of whitespace.
func Normalize(s string) string {
	return strings.Join(strings.Fields(norm.NFC.String(s)), " ")
}

// scripts maps a Unicode script to the language it most likely indicates.
var scripts = []struct {
	table *unicode.RangeTable
	tag   language.Tag
}{
	{unicode.Latin, language.English},
	{unicode.Devanagari, language.Hindi},
	{unicode.Bengali, language.Bengali},
	{unicode.Telugu, language.Telugu},
	{unicode.Tamil, language.Tamil},
	{unicode.Kannada, language.Kannada},
	{unicode.Malayalam, language.Malayalam},
	{unicode.Gujarati, language.Gujarati},
	{unicode.Gurmukhi, language.Punjabi},
	{unicode.Oriya, language.MustParse("or")},
	{unicode.Arabic, language.Urdu},
	{unicode.Han, language.Chinese},
}

// Tag returns the language tag for the dominant script of s, or
// language.Und when s has no letters.
func Tag(s string) language.Tag {
	counts := make([]int, len(scripts))
	for _, r := range s {
		if !unicode.IsLetter(r) {
			continue
		}
		for i, sc := range scripts {
			if unicode.Is(sc.table, r) {
				counts[i]++
				break
			}
		}
	}
	best, bestN := -1, 0
	for i, n := range counts {
		if n > bestN {
			best, bestN = i, n
		}
	}
	if best < 0 {
		return language.Und
	}
	return scripts[best].tag
}

// Detect returns the English display name of the language of s ("English",
// "Hindi", ...) or Unknown.
func Detect(s string) string {
	t := Tag(s)
	if t == language.Und {
		return Unknown
	}
	if name := display.English.Languages().Name(t); name != "" {
		return name
	}
	return t.String()
}
