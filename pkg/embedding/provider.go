// Package embedding provides embedding generation and its
// single-flight de-duplicating cache (spec §4.2).
package embedding

import "context"

// Provider generates an embedding vector for a single text using a
// named model.
type Provider interface {
	GenerateEmbedding(ctx context.Context, text string, modelID string) ([]float32, error)
	SupportedModels() []string
}
