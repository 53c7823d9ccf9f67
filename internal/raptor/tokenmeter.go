package raptor

import (
	"fmt"
	"sync"

	"github.com/pkoukk/tiktoken-go"
)

// TokenCounter is the counting capability EmbeddingClient depends on;
// TokenMeter is the production implementation.
type TokenCounter interface {
	Count(text string) int
	CountAll(texts []string) []int
	CountTotal(texts []string) int
}

// TokenMeter counts tokens for a text using the embedding model's tokenizer.
// VoyageAI exposes token counting only through its Python SDK, so this
// counts with a cl100k-family BPE encoding via tiktoken-go, which is close
// enough in practice for budget/packing purposes and, unlike a network
// round-trip per count, never blocks on the provider.
type TokenMeter struct {
	mu  sync.Mutex
	enc *tiktoken.Tiktoken
}

// NewTokenMeter builds a TokenMeter for the given model name. Unknown model
// names fall back to the cl100k_base encoding.
func NewTokenMeter(model string) (*TokenMeter, error) {
	enc, err := tiktoken.EncodingForModel(model)
	if err != nil {
		enc, err = tiktoken.GetEncoding("cl100k_base")
		if err != nil {
			return nil, fmt.Errorf("token meter: load fallback encoding: %w", err)
		}
	}
	return &TokenMeter{enc: enc}, nil
}

// Count returns the token length of a single text.
func (m *TokenMeter) Count(text string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.enc.Encode(text, nil, nil))
}

// CountAll returns the token length of each text.
func (m *TokenMeter) CountAll(texts []string) []int {
	out := make([]int, len(texts))
	for i, t := range texts {
		out[i] = m.Count(t)
	}
	return out
}

// CountTotal sums the token length across all given texts.
func (m *TokenMeter) CountTotal(texts []string) int {
	total := 0
	for _, t := range texts {
		total += m.Count(t)
	}
	return total
}
