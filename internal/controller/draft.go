package controller

import (
	"encoding/json"
	"regexp"
	"strings"

	"github.com/xeipuuv/gojsonschema"

	"github.com/54b3r/edupolicy-go/internal/citation"
)

// Draft is a parsed model answer before citation verification.
type Draft struct {
	Answer string `json:"answer"`
	// Claims are the citations the model proposed, in its order.
	Claims []citation.Claim `json:"citations"`
	// Structured is true when the output was valid draft JSON; false when
	// the raw text was used and claims were scraped from inline markers.
	Structured bool `json:"-"`
}

// draftSchema is the JSON Schema the model is asked to follow.
var draftSchema = gojsonschema.NewGoLoader(map[string]any{
	"type":     "object",
	"required": []string{"answer"},
	"properties": map[string]any{
		"answer": map[string]any{"type": "string", "minLength": 1},
		"citations": map[string]any{
			"type": "array",
			"items": map[string]any{
				"type":     "object",
				"required": []string{"chunk_id"},
				"properties": map[string]any{
					"chunk_id": map[string]any{"type": "string", "minLength": 1},
					"claim":    map[string]any{"type": "string"},
				},
			},
		},
	},
})

var (
	thinkBlock = regexp.MustCompile(`(?s)<think>.*?</think>`)
	fence      = regexp.MustCompile("(?s)^```[a-zA-Z]*\\s*\n?(.*?)\\s*```$")
	// marker matches "[chunk:<id>]" and "[<doc>:p<page>:c<idx>]".
	marker = regexp.MustCompile(`\[(?:chunk:\s*)?([A-Za-z0-9._\-]+:p\d+:c\d+|[^\[\]\s]+)\]`)

	spaceBeforePunct = regexp.MustCompile(`[ \t]+([.,;:!?])`)
	spaceRun         = regexp.MustCompile(`[ \t]{2,}`)
)

// cleanOutput removes reasoning blocks and a surrounding code fence.
func cleanOutput(raw string) string {
	s := thinkBlock.ReplaceAllString(raw, "")
	// Some runtimes drop the opening tag and emit only "</think>".
	if i := strings.LastIndex(s, "</think>"); i >= 0 {
		s = s[i+len("</think>"):]
	}
	// An unterminated <think> swallows the rest of the output.
	if i := strings.Index(s, "<think>"); i >= 0 {
		s = s[:i]
	}
	s = strings.TrimSpace(s)
	if m := fence.FindStringSubmatch(s); m != nil {
		s = strings.TrimSpace(m[1])
	}
	return s
}

// ParseDraft turns raw model output into a Draft. Output that validates
// against the draft schema is used as-is; anything else becomes the answer
// text with claims taken from its inline citation markers.
func ParseDraft(raw string) Draft {
	s := cleanOutput(raw)

	// Models sometimes wrap the object in a sentence of preamble.
	if i, j := strings.Index(s, "{"), strings.LastIndex(s, "}"); i >= 0 && j > i {
		if d, ok := decodeDraft(s[i : j+1]); ok {
			return d
		}
	}
	return Draft{Answer: s, Claims: scrapeMarkers(s)}
}

func decodeDraft(s string) (Draft, bool) {
	res, err := gojsonschema.Validate(draftSchema, gojsonschema.NewStringLoader(s))
	if err != nil || !res.Valid() {
		return Draft{}, false
	}
	var d Draft
	if err := json.Unmarshal([]byte(s), &d); err != nil {
		return Draft{}, false
	}
	d.Structured = true
	d.Answer = strings.TrimSpace(d.Answer)
	return d, true
}

// scrapeMarkers collects inline citation markers in order of appearance.
// Bracketed text that does not look like a chunk id (no colon) is ignored.
func scrapeMarkers(s string) []citation.Claim {
	var out []citation.Claim
	for _, m := range marker.FindAllStringSubmatch(s, -1) {
		id := m[1]
		if !strings.Contains(id, ":") {
			continue
		}
		out = append(out, citation.Claim{ChunkID: id})
	}
	return out
}

// removeMarkers deletes inline markers that reference any of ids.
func removeMarkers(s string, ids []string) string {
	if len(ids) == 0 {
		return s
	}
	drop := make(map[string]bool, len(ids))
	for _, id := range ids {
		drop[id] = true
	}
	out := marker.ReplaceAllStringFunc(s, func(m string) string {
		sub := marker.FindStringSubmatch(m)
		if drop[sub[1]] {
			return ""
		}
		return m
	})
	out = spaceBeforePunct.ReplaceAllString(out, "$1")
	out = spaceRun.ReplaceAllString(out, " ")
	return strings.TrimSpace(out)
}
