package controller

import (
	"fmt"
	"strings"

	"github.com/cloudwego/eino/schema"

	"github.com/54b3r/edupolicy-go/internal/budget"
	"github.com/54b3r/edupolicy-go/internal/fusion"
	"github.com/54b3r/edupolicy-go/internal/lang"
	"github.com/54b3r/edupolicy-go/internal/rag"
)

// ThinkingMode shapes the answer style. It never changes retrieval.
type ThinkingMode string

const (
	ModeSmart     ThinkingMode = "smart"
	ModeGeneral   ThinkingMode = "general"
	ModeDeep      ThinkingMode = "deep"
	ModeReasoning ThinkingMode = "reasoning"
)

// ParseThinkingMode validates s. Empty means ModeSmart.
func ParseThinkingMode(s string) (ThinkingMode, error) {
	switch m := ThinkingMode(strings.ToLower(strings.TrimSpace(s))); m {
	case "":
		return ModeSmart, nil
	case ModeSmart, ModeGeneral, ModeDeep, ModeReasoning:
		return m, nil
	default:
		return "", fmt.Errorf("controller: unknown thinking mode %q (want smart, general, deep or reasoning)", s)
	}
}

var modeHints = map[ThinkingMode]string{
	ModeSmart:     "Answer concisely and expand only where the policy text demands it.",
	ModeGeneral:   "Answer in plain language suitable for students and parents.",
	ModeDeep:      "Give a thorough answer covering eligibility conditions, exceptions and related provisions.",
	ModeReasoning: "Work through the passages step by step before answering, but put only the conclusion in the answer field.",
}

const systemPrompt = `You answer questions about Indian education policy using ONLY the numbered passages provided.

Rules:
- Every factual statement must be supported by a passage. Cite it by its chunk id.
- If the passages do not answer the question, say so plainly. Do not guess.
- Never cite a chunk id that is not listed in the passages.

Respond with a single JSON object and nothing else:
{"answer": "<your answer>", "citations": [{"chunk_id": "<id>", "claim": "<the statement it supports>"}]}`

// buildMessages assembles system prompt, evidence context fitted to
// maxTokens, and the question. Evidence whose chunk could not be loaded is
// skipped. The returned set holds exactly the evidence that made it into
// the prompt, in prompt order.
func buildMessages(q lang.Query, mode ThinkingMode, evidence fusion.EvidenceSet, chunks map[string]rag.Chunk, maxTokens int) ([]*schema.Message, fusion.EvidenceSet) {
	sys := systemPrompt
	if hint := modeHints[mode]; hint != "" {
		sys += "\n\n" + hint
	}
	if q.Language != lang.Unknown && q.Language != "English" {
		sys += fmt.Sprintf("\n\nThe question is written in %s. Answer in %s.", q.Language, q.Language)
	}
	user := schema.UserMessage("Question: " + q.Normalized)
	fixed := []*schema.Message{schema.SystemMessage(sys), user}

	var (
		passages []string
		loaded   fusion.EvidenceSet
	)
	for _, ev := range evidence {
		c, ok := chunks[ev.ChunkID]
		if !ok {
			continue
		}
		passages = append(passages, formatPassage(c))
		loaded = append(loaded, ev)
	}
	// FitPassages keeps a prefix, so the prompted evidence is the same prefix.
	passages = budget.FitPassages(append(fixed, schema.UserMessage("Passages:\n")), passages, maxTokens)
	prompted := loaded[:len(passages)]

	var ctx strings.Builder
	ctx.WriteString("Passages:\n")
	for i, p := range passages {
		fmt.Fprintf(&ctx, "\n[%d] %s\n", i+1, p)
	}
	return []*schema.Message{
		schema.SystemMessage(sys),
		schema.UserMessage(ctx.String()),
		user,
	}, prompted
}

func formatPassage(c rag.Chunk) string {
	title := c.Metadata["title"]
	if title == "" {
		title = c.DocID
	}
	return fmt.Sprintf("chunk_id: %s | %s, page %d\n%s", c.ID, title, c.Page, strings.TrimSpace(c.Text))
}
