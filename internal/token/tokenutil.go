// Package token provides a centralized token counting utility backed by
// tiktoken-go. It lazily initializes the cl100k_base encoding on first use
// and falls back to a character-based heuristic if initialization fails.
package token

import (
	"strings"
	"sync"

	"github.com/pkoukk/tiktoken-go"
)

var (
	once     sync.Once
	encoding *tiktoken.Tiktoken
)

func initEncoding() {
	once.Do(func() {
		enc, err := tiktoken.GetEncoding("cl100k_base")
		if err == nil {
			encoding = enc
		}
	})
}

// CountTokens returns an accurate token count using cl100k_base encoding.
// If tiktoken is unavailable, it falls back to EstimateFast.
func CountTokens(text string) int {
	initEncoding()
	if encoding != nil {
		return len(encoding.Encode(text, nil, nil))
	}
	return EstimateFast(text)
}

// EstimateFast returns a heuristic token estimate: max(runes/4, word_count).
func EstimateFast(text string) int {
	trimmed := strings.TrimSpace(text)
	if trimmed == "" {
		return 0
	}
	runes := len([]rune(trimmed)) / 4
	words := len(strings.Fields(trimmed))
	if words > runes {
		return words
	}
	return runes
}

// Truncate bounds text to roughly budget tokens, cutting on a line boundary
// where possible. A budget of zero or less disables truncation.
func Truncate(text string, budget int) string {
	if budget <= 0 || CountTokens(text) <= budget {
		return text
	}
	// Binary search the byte length whose token count fits the budget.
	low, high := 0, len(text)
	for low < high {
		mid := (low + high + 1) / 2
		if CountTokens(text[:mid]) <= budget {
			low = mid
		} else {
			high = mid - 1
		}
	}
	cut := text[:low]
	if idx := strings.LastIndexByte(cut, '\n'); idx > len(cut)/2 {
		cut = cut[:idx]
	}
	return cut + "\n[content truncated]"
}
