// Package budget provides token budget estimation for generation prompts.
// Because the router supports multiple LLM backends with different
// tokenizers, this package uses a conservative character-based heuristic:
// 1 token ≈ 4 characters.
package budget

import (
	"unicode/utf8"

	"github.com/cloudwego/eino/schema"
)

const (
	// charsPerToken is the conservative character-to-token ratio used for
	// estimation.
	charsPerToken = 4

	// DefaultMaxContextTokens is the default prompt budget in tokens. It fits
	// 8k-context models (deepseek-r1:7b, Llama 3 8B) with room for the answer.
	// Override via CONTEXT_TOKENS.
	DefaultMaxContextTokens = 6000
)

// Estimate returns a rough token count for s using the character heuristic.
func Estimate(s string) int {
	n := len(s) / charsPerToken
	if n == 0 && len(s) > 0 {
		return 1
	}
	return n
}

// EstimateMessages returns the estimated total token count for a slice of
// schema.Message values, summing role + content for each message.
func EstimateMessages(msgs []*schema.Message) int {
	total := 0
	for _, m := range msgs {
		// Each message has a small per-message overhead (~4 tokens in most APIs).
		total += 4
		total += Estimate(string(m.Role))
		total += Estimate(m.Content)
	}
	return total
}

// FitPassages returns the longest prefix of passages that fits within
// maxTokens alongside fixed. Passages are ranked best first, so the tail is
// dropped. When not even the first passage fits, it is truncated to the
// remaining budget rather than dropped; generation always sees some context
// when there is any.
func FitPassages(fixed []*schema.Message, passages []string, maxTokens int) []string {
	if len(passages) == 0 {
		return passages
	}
	remaining := maxTokens - EstimateMessages(fixed)

	n := 0
	for _, p := range passages {
		cost := Estimate(p)
		if cost > remaining {
			break
		}
		remaining -= cost
		n++
	}
	if n > 0 {
		return passages[:n]
	}
	return []string{Truncate(passages[0], max(remaining, 1))}
}

// Truncate cuts s to roughly tokens tokens, on a rune boundary.
func Truncate(s string, tokens int) string {
	limit := tokens * charsPerToken
	if len(s) <= limit {
		return s
	}
	for limit > 0 && !utf8.RuneStart(s[limit]) {
		limit--
	}
	return s[:limit]
}
