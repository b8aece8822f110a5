package llm

import (
	"github.com/tiktoken-go/tokenizer"
)

// TokenCounter estimates prompt sizes with the cl100k encoding. Token
// counts are an estimate for providers with their own tokenizer.
type TokenCounter struct {
	codec tokenizer.Codec
}

// NewTokenCounter returns a counter; on codec load failure it falls back
// to a four-characters-per-token estimate.
func NewTokenCounter() *TokenCounter {
	codec, err := tokenizer.ForModel(tokenizer.GPT4)
	if err != nil {
		return &TokenCounter{}
	}
	return &TokenCounter{codec: codec}
}

// Count returns the estimated number of tokens in text.
func (tc *TokenCounter) Count(text string) int {
	if text == "" {
		return 0
	}
	if tc == nil || tc.codec == nil {
		return len(text) / 4
	}
	n, err := tc.codec.Count(text)
	if err != nil {
		return len(text) / 4
	}
	return n
}

// Truncate shortens text so it fits in limit tokens, cutting at a line
// boundary when possible. The second result reports whether text was cut.
func (tc *TokenCounter) Truncate(text string, limit int) (string, bool) {
	if limit <= 0 || tc.Count(text) <= limit {
		return text, false
	}
	lo, hi := 0, len(text)
	for lo < hi {
		mid := (lo + hi + 1) / 2
		if tc.Count(text[:mid]) <= limit {
			lo = mid
		} else {
			hi = mid - 1
		}
	}
	cut := text[:lo]
	for i := len(cut) - 1; i > len(cut)/2; i-- {
		if cut[i] == '\n' {
			cut = cut[:i+1]
			break
		}
	}
	return cut, true
}
