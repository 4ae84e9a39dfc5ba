package llm

import (
	"fmt"
	"time"
)

// Config selects and configures an embedding provider.
type Config struct {
	// Provider is "ollama" (default) or "openai".
	Provider string

	// BaseURL overrides the provider's default endpoint.
	BaseURL string

	// Model overrides the provider's default embedding model.
	Model string

	// APIKey authenticates hosted providers. Ignored by Ollama.
	APIKey string

	// Timeout is the per-request timeout.
	Timeout time.Duration

	// RequestsPerSecond paces outbound calls.
	RequestsPerSecond float64
}

// NewEmbedder creates the embedding client for the configured provider.
func NewEmbedder(cfg Config) (EmbeddingGenerator, error) {
	switch cfg.Provider {
	case "ollama", "":
		return NewOllamaClient(OllamaConfig{
			BaseURL:           cfg.BaseURL,
			Model:             cfg.Model,
			Timeout:           cfg.Timeout,
			RequestsPerSecond: cfg.RequestsPerSecond,
		}), nil
	case "openai":
		if cfg.APIKey == "" {
			return nil, fmt.Errorf("openai provider requires an API key")
		}
		return NewOpenAIClient(OpenAIConfig{
			APIKey:            cfg.APIKey,
			Model:             cfg.Model,
			BaseURL:           cfg.BaseURL,
			Timeout:           cfg.Timeout,
			RequestsPerSecond: cfg.RequestsPerSecond,
		}), nil
	default:
		return nil, fmt.Errorf("unsupported embedding provider: %q", cfg.Provider)
	}
}
