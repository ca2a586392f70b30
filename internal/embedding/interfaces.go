// Package embedding provides clients for generating vector embeddings of
// chat transcripts, with circuit breaker protection around the upstream
// providers.
package embedding

import "context"

// Generator is the interface for generating vector embeddings.
// Implementations must be safe for concurrent use.
type Generator interface {
	// Embed returns the embedding vector for the given text.
	Embed(ctx context.Context, text string) ([]float32, error)

	// Model returns the model identifier recorded alongside stored vectors.
	Model() string
}
