package llm

import (
	"fmt"
	"time"

	"github.com/scrypster/memorycore/internal/config"
)

// NewTextGenerator creates the appropriate TextGenerator based on the
// configured LLM provider.
func NewTextGenerator(cfg config.LLMConfig) (TextGenerator, error) {
	switch cfg.Provider {
	case "openai":
		return NewOpenAIClient(OpenAIConfig{APIKey: cfg.OpenAIAPIKey, Model: cfg.OpenAIModel}), nil
	case "anthropic":
		return NewAnthropicClient(AnthropicConfig{APIKey: cfg.AnthropicAPIKey, Model: cfg.AnthropicModel}), nil
	case "ollama", "":
		baseURL := cfg.OllamaURL
		if baseURL == "" {
			baseURL = "http://localhost:11434"
		}
		model := cfg.OllamaModel
		if model == "" {
			model = "qwen2.5:7b"
		}
		return NewOllamaClient(OllamaConfig{BaseURL: baseURL, Model: model}), nil
	default:
		return nil, fmt.Errorf("unsupported LLM provider: %q", cfg.Provider)
	}
}

// NewEmbeddingGenerator creates the appropriate EmbeddingGenerator.
// Returns (nil, nil) for providers that don't support embeddings
// (Anthropic has no embeddings endpoint).
func NewEmbeddingGenerator(cfg config.LLMConfig) (EmbeddingGenerator, error) {
	switch cfg.Provider {
	case "openai":
		model := cfg.OpenAIEmbeddingModel
		if model == "" {
			model = "text-embedding-3-small"
		}
		return NewOpenAIEmbeddingClient(OpenAIEmbeddingConfig{APIKey: cfg.OpenAIAPIKey, Model: model}), nil
	case "ollama", "":
		baseURL := cfg.OllamaURL
		if baseURL == "" {
			baseURL = "http://localhost:11434"
		}
		model := cfg.OllamaEmbeddingModel
		if model == "" {
			model = "nomic-embed-text"
		}
		return NewOllamaClient(OllamaConfig{BaseURL: baseURL, Model: model}), nil
	default:
		return nil, nil
	}
}

// NewEnricher builds the structured Enricher on top of the configured
// TextGenerator, falling back to heuristics whenever the underlying model
// call fails.
func NewEnricher(cfg config.LLMConfig) (Enricher, error) {
	gen, err := NewTextGenerator(cfg)
	if err != nil {
		return nil, err
	}
	return NewPromptEnricher(gen, parseTimeout(cfg.EnrichTimeout)), nil
}

// parseTimeout returns 0 for empty or malformed values, letting the
// constructor's default stand.
func parseTimeout(s string) time.Duration {
	if s == "" {
		return 0
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0
	}
	return d
}

// NewEmbedder builds the Embedder for cfg's provider, returning a nil
// Embedder (not an error) when vectors are disabled or the provider has no
// embeddings endpoint; callers treat a nil Embedder the same as an embed
// failure: keyword-only degraded mode.
func NewEmbedder(cfg config.LLMConfig, vec config.VectorConfig) (Embedder, error) {
	if !vec.Enabled {
		return nil, nil
	}
	gen, err := NewEmbeddingGenerator(cfg)
	if err != nil {
		return nil, err
	}
	if gen == nil {
		return nil, nil
	}
	dim := vec.Dim
	if dim <= 0 {
		dim = cfg.EmbeddingDimension
	}
	return NewGeneratorEmbedder(gen, dim, parseTimeout(cfg.EmbedTimeout)), nil
}
