// Package embedding builds eino embedding.Embedder instances for the
// plain (non-contextualized) providers used as a fallback EmbeddingProvider
// when the VoyageAI contextualized-embed path (internal/raptor.VoyageProvider)
// is unavailable — no key configured, or the operator targets a
// self-hosted/OpenAI-compatible endpoint instead.
package embedding

import (
	"context"
	"encoding/json"
	"time"

	ollamaembed "github.com/cloudwego/eino-ext/components/embedding/ollama"
	openaiembed "github.com/cloudwego/eino-ext/components/embedding/openai"
	"github.com/cloudwego/eino/components/embedding"
)

// ProviderConfig configures one fallback embedder.
type ProviderConfig struct {
	// ProviderType selects the backend: openai, azure, or ollama.
	ProviderType string
	APIKey       string
	APIEndpoint  string
	ModelID      string
	// Dimension requests a specific output width, for models that support it.
	Dimension int
	// ExtraConfig is provider-specific JSON, e.g. Azure's api_version.
	ExtraConfig string
	Timeout     time.Duration
	// MaxBatchSize caps how many items go into a single EmbedStrings call;
	// 0 disables the cap. Some providers reject oversized batches (e.g.
	// Qwen-hosted endpoints cap at 10 items).
	MaxBatchSize int
}

// NewEmbedder constructs an Embedder for cfg.ProviderType, defaulting to
// an OpenAI-compatible endpoint when the type is unrecognized.
func NewEmbedder(ctx context.Context, cfg *ProviderConfig) (embedding.Embedder, error) {
	if cfg.Timeout == 0 {
		cfg.Timeout = 60 * time.Second
	}

	switch cfg.ProviderType {
	case "openai":
		return newOpenAIEmbedder(ctx, cfg)
	case "azure":
		return newAzureEmbedder(ctx, cfg)
	case "ollama":
		return newOllamaEmbedder(ctx, cfg)
	default:
		return newOpenAIEmbedder(ctx, cfg)
	}
}

func newOpenAIEmbedder(ctx context.Context, cfg *ProviderConfig) (embedding.Embedder, error) {
	config := &openaiembed.EmbeddingConfig{
		APIKey:  cfg.APIKey,
		Model:   cfg.ModelID,
		Timeout: cfg.Timeout,
	}
	if cfg.APIEndpoint != "" {
		config.BaseURL = cfg.APIEndpoint
	}
	if cfg.Dimension > 0 {
		dim := cfg.Dimension
		config.Dimensions = &dim
	}
	return openaiembed.NewEmbedder(ctx, config)
}

func newAzureEmbedder(ctx context.Context, cfg *ProviderConfig) (embedding.Embedder, error) {
	var extra struct {
		APIVersion string `json:"api_version"`
	}
	if cfg.ExtraConfig != "" {
		if err := json.Unmarshal([]byte(cfg.ExtraConfig), &extra); err != nil {
			extra.APIVersion = "2023-05-15"
		}
	}

	config := &openaiembed.EmbeddingConfig{
		APIKey:     cfg.APIKey,
		Model:      cfg.ModelID,
		BaseURL:    cfg.APIEndpoint,
		ByAzure:    true,
		APIVersion: extra.APIVersion,
		Timeout:    cfg.Timeout,
	}
	return openaiembed.NewEmbedder(ctx, config)
}

func newOllamaEmbedder(ctx context.Context, cfg *ProviderConfig) (embedding.Embedder, error) {
	baseURL := cfg.APIEndpoint
	if baseURL == "" {
		baseURL = "http://localhost:11434"
	}
	config := &ollamaembed.EmbeddingConfig{
		BaseURL: baseURL,
		Model:   cfg.ModelID,
		Timeout: cfg.Timeout,
	}
	return ollamaembed.NewEmbedder(ctx, config)
}

// NewFallbackProviderFromConfig builds the raptor.EmbeddingProvider a caller
// reaches for when no VoyageAI key is configured: it constructs the
// underlying eino Embedder via NewEmbedder for cfg.ProviderType, then wraps
// it as a FallbackProvider batch-limited to cfg.MaxBatchSize. This is the
// only call site in the module that exercises NewEmbedder and, through
// NewFallbackProvider, WrapWithBatchLimit's splitting branch with a
// caller-supplied positive batch size.
func NewFallbackProviderFromConfig(ctx context.Context, cfg *ProviderConfig) (*FallbackProvider, error) {
	embedder, err := NewEmbedder(ctx, cfg)
	if err != nil {
		return nil, err
	}
	return NewFallbackProvider(embedder, cfg.MaxBatchSize), nil
}
