package llmclient

import "strings"

// CountTokens gives a rough token count: whitespace-delimited words with a
// character-based fallback. An approximation, not backend tokenization.
func CountTokens(text string) int {
	text = strings.TrimSpace(text)
	if text == "" {
		return 0
	}
	words := strings.Fields(text)
	if len(words) > 0 {
		return len(words)
	}
	n := len(text) / 4
	if n == 0 {
		n = 1
	}
	return n
}
