// Package budget provides token budget estimation for answer prompts.
// Completion backends use different tokenizers, so this package uses a
// conservative character-based heuristic: 1 token ≈ 4 characters.
package budget

import (
	"strings"

	"github.com/cloudwego/eino/schema"
)

const (
	// charsPerToken is the character-to-token ratio used for estimation.
	charsPerToken = 4

	// DefaultMaxContextTokens is the default input budget in tokens. It fits
	// 8k-context models while leaving room for the output.
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

// FitPassages drops passages from the end of the ranked list until fixed plus
// the passages joined by sep fit within maxTokens. fixed holds the prompt
// without its passage context.
//
// The top-ranked passage is always kept, even when it alone exceeds the
// budget; callers should warn in that case. A non-positive maxTokens keeps
// every passage.
func FitPassages(fixed []*schema.Message, passages []string, sep string, maxTokens int) []string {
	if maxTokens <= 0 || len(passages) <= 1 {
		return passages
	}

	fixedTokens := EstimateMessages(fixed)
	n := len(passages)
	for n > 1 && fixedTokens+Estimate(strings.Join(passages[:n], sep)) > maxTokens {
		n--
	}
	return passages[:n]
}
