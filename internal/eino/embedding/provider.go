package embedding

import (
	"context"

	einoembedding "github.com/cloudwego/eino/components/embedding"

	"raptorengine/internal/errs"
)

// FallbackProvider adapts a plain eino Embedder to raptor.EmbeddingProvider.
// Unlike VoyageProvider it has no contextualized-embed mode: each item in a
// group is embedded independently, so items never share context with their
// group-mates. It exists for operators without a VoyageAI key; only
// embedding quality changes, not the builder's contract.
type FallbackProvider struct {
	embedder einoembedding.Embedder
}

// NewFallbackProvider wraps embedder, applying maxBatch as a per-call
// input-count ceiling (some providers, e.g. Qwen-hosted endpoints, reject
// oversized batches).
func NewFallbackProvider(embedder einoembedding.Embedder, maxBatch int) *FallbackProvider {
	return &FallbackProvider{embedder: WrapWithBatchLimit(embedder, maxBatch)}
}

// ContextualizedEmbed embeds each group's items independently and returns
// them in the same [group][item] shape VoyageProvider uses, so the two
// providers are interchangeable behind raptor.EmbeddingProvider.
func (p *FallbackProvider) ContextualizedEmbed(ctx context.Context, groups [][]string, inputType, model string, outputDim int) ([][][]float32, error) {
	out := make([][][]float32, len(groups))
	for gi, group := range groups {
		if len(group) == 0 {
			continue
		}
		vecs, err := p.embedder.EmbedStrings(ctx, group)
		if err != nil {
			return nil, errs.Embedding("EMBEDDING_GENERATION_FAILED", "fallback provider: embed failed", err)
		}
		if len(vecs) != len(group) {
			return nil, errs.Embedding("EMBEDDING_GENERATION_FAILED", "fallback provider: returned vector count mismatch", nil)
		}
		groupOut := make([][]float32, len(vecs))
		for i, v := range vecs {
			f32 := make([]float32, len(v))
			for j, x := range v {
				f32[j] = float32(x)
			}
			groupOut[i] = f32
		}
		out[gi] = groupOut
	}
	return out, nil
}
