// Package budget estimates and caps the size of text sent to the classifier.
package budget

import (
	"strings"
	"unicode"
)

// EstimateTokens gives a rough token count from the word count.
func EstimateTokens(text string) int {
	if text == "" {
		return 0
	}
	// Roughly 0.75 words per token for English text.
	words := len(strings.Fields(text))
	tokens := int(float64(words) * 1.33)
	if tokens < 1 {
		tokens = 1
	}
	return tokens
}

// Truncate cuts text to at most maxTokens estimated tokens, ending on a word
// boundary. It reports whether anything was removed. maxTokens <= 0 means no
// limit.
func Truncate(text string, maxTokens int) (string, bool) {
	if maxTokens <= 0 || EstimateTokens(text) <= maxTokens {
		return text, false
	}

	maxWords := int(float64(maxTokens) / 1.33)
	if maxWords < 1 {
		maxWords = 1
	}

	words := 0
	inWord := false
	for i, r := range text {
		if unicode.IsSpace(r) {
			if inWord && words == maxWords {
				return text[:i], true
			}
			inWord = false
			continue
		}
		if !inWord {
			inWord = true
			words++
		}
	}
	return text, false
}
