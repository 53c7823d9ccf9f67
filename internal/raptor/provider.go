package raptor

import "context"

// EmbeddingProvider is the polymorphic contract a concrete embedding
// backend implements. One contextualized_embed call may batch several
// groups of input strings in a single request, each group sharing mutual
// context; the result is one vector per item, grouped the same way:
// result[i][j] is the embedding of groups[i][j].
type EmbeddingProvider interface {
	ContextualizedEmbed(ctx context.Context, groups [][]string, inputType, model string, outputDim int) ([][][]float32, error)
}

// ChatLLM is the polymorphic contract a concrete LLM backend implements.
type ChatLLM interface {
	Summarize(ctx context.Context, prompt string, maxTokens int, temperature float64) (string, error)
}
