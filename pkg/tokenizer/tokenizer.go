// Package tokenizer estimates prompt sizes so free-text field input can be
// kept within a budget before it is sent to a text-generation backend.
package tokenizer

import (
	"strings"
	"unicode/utf8"
)

// EstimateTokens provides a rough token count estimate.
// Uses the heuristic of ~4 characters per token for English text.
func EstimateTokens(text string) int {
	if text == "" {
		return 0
	}
	words := len(strings.Fields(text))
	chars := utf8.RuneCountInString(text)

	wordEstimate := int(float64(words) * 1.3) // ~1.3 tokens per word
	charEstimate := chars / 4                 // ~4 chars per token

	return (wordEstimate + charEstimate) / 2
}

// Truncate shortens text to approximately budget tokens, cutting at a word
// boundary when one is close and marking the cut with "...".
func Truncate(text string, budget int) string {
	if budget <= 0 {
		return ""
	}
	if EstimateTokens(text) <= budget {
		return text
	}

	runes := []rune(text)
	maxChars := budget * 4
	if maxChars >= len(runes) {
		return text
	}

	truncated := string(runes[:maxChars])
	if lastSpace := strings.LastIndex(truncated, " "); lastSpace > len(truncated)/2 {
		truncated = truncated[:lastSpace]
	}
	return strings.TrimSpace(truncated) + "..."
}

// Fit returns the leading items whose combined estimate stays within budget.
// An item that alone exceeds the budget is truncated rather than dropped when
// it is the first one.
func Fit(items []string, budget int) []string {
	out := make([]string, 0, len(items))
	used := 0
	for _, item := range items {
		n := EstimateTokens(item) + 1 // +1 for the list separator
		if used+n > budget {
			if len(out) == 0 && budget > 1 {
				out = append(out, Truncate(item, budget-1))
			}
			break
		}
		out = append(out, item)
		used += n
	}
	return out
}
