package embedding

import (
	"context"
	"testing"

	"raptorengine/internal/raptor"
)

// TestNewEmbedderBuildsEachProviderType exercises NewEmbedder (and, through
// it, newOpenAIEmbedder/newAzureEmbedder/newOllamaEmbedder) for every
// ProviderType it supports, plus the default fallback for an unrecognized
// type. Construction only: none of these SDK constructors dial the network,
// they just build a configured client.
func TestNewEmbedderBuildsEachProviderType(t *testing.T) {
	cases := []struct {
		name string
		cfg  *ProviderConfig
	}{
		{"openai", &ProviderConfig{ProviderType: "openai", APIKey: "k", ModelID: "text-embedding-3-small", Dimension: 512}},
		{"azure", &ProviderConfig{ProviderType: "azure", APIKey: "k", ModelID: "text-embedding-ada-002", APIEndpoint: "https://example.openai.azure.com"}},
		{"ollama", &ProviderConfig{ProviderType: "ollama", ModelID: "nomic-embed-text"}},
		{"unrecognized falls back to openai", &ProviderConfig{ProviderType: "bogus", APIKey: "k", ModelID: "text-embedding-3-small"}},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			emb, err := NewEmbedder(context.Background(), tc.cfg)
			if err != nil {
				t.Fatalf("NewEmbedder(%s): %v", tc.cfg.ProviderType, err)
			}
			if emb == nil {
				t.Fatalf("NewEmbedder(%s): expected a non-nil embedder", tc.cfg.ProviderType)
			}
		})
	}
}

// TestNewFallbackProviderFromConfigSatisfiesEmbeddingProvider wires
// NewEmbedder's output through NewFallbackProvider and confirms the result
// satisfies raptor.EmbeddingProvider, the contract EmbeddingClient depends
// on — this is the real construction path an operator without a VoyageAI
// key takes.
func TestNewFallbackProviderFromConfigSatisfiesEmbeddingProvider(t *testing.T) {
	p, err := NewFallbackProviderFromConfig(context.Background(), &ProviderConfig{
		ProviderType: "openai",
		APIKey:       "k",
		ModelID:      "text-embedding-3-small",
		MaxBatchSize: 10,
	})
	if err != nil {
		t.Fatalf("NewFallbackProviderFromConfig: %v", err)
	}
	var _ raptor.EmbeddingProvider = p
	if p == nil {
		t.Fatalf("expected a non-nil provider")
	}
}
