// Package llm provides clients for embedding providers. All providers are
// exposed through the EmbeddingGenerator interface; HTTP calls are paced by a
// rate limiter and wrapped with circuit breaker protection.
package llm

import "context"

// EmbeddingGenerator is the interface for generating vector embeddings.
type EmbeddingGenerator interface {
	// Embed generates an embedding vector for the given text.
	Embed(ctx context.Context, text string) ([]float32, error)

	// GetModel returns the model name that produces the vectors. Stored
	// alongside each embedding so vectors from different models never mix.
	GetModel() string
}
