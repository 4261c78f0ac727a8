// Package embeddings defines the Provider interface for text-embedding backends.
//
// An embeddings provider maps text to dense float32 vectors. The long-term
// memory layer uses these vectors to retrieve facts about the child that are
// semantically related to the current utterance, so relevant context can be
// injected into the system prompt.
//
// Implementations must be safe for concurrent use.
package embeddings

import "context"

// Provider is the abstraction over any text-embedding backend.
//
// Every vector produced by one Provider instance has the same length
// (Dimensions). Vectors from different providers or models live in different
// spaces and must never be compared against each other.
type Provider interface {
	// Embed computes the embedding vector for a single text string. The
	// returned slice has length Dimensions().
	Embed(ctx context.Context, text string) ([]float32, error)

	// EmbedBatch embeds a slice of texts in one provider call. The result has
	// the same length and order as texts. On error the whole result is nil;
	// partial results are never returned.
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)

	// Dimensions returns the fixed vector length produced by this provider.
	Dimensions() int

	// ModelID returns the model identifier used for embeddings, for logging
	// and for detecting model mismatches between stored and query vectors.
	ModelID() string
}
