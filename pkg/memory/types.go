// Package memory defines the long-term fact memory used to personalise
// conversations.
//
// During chat the bot extracts small facts about the child ("Mia's favourite
// animal is the red panda") and stores them alongside an embedding vector.
// Before each response the loop retrieves the facts most related to the
// current utterance and folds them into the system prompt. The same store
// feeds the daily parent report.
package memory

import (
	"context"
	"time"
)

// Fact is one remembered statement about the child.
type Fact struct {
	// ID uniquely identifies the fact. Callers typically use a UUID.
	ID string

	// ChildID scopes the fact to one registered child.
	ChildID string

	// Content is the fact in plain language, as extracted by the LLM.
	Content string

	// Embedding is the vector for Content, produced by the configured
	// embeddings provider.
	Embedding []float32

	// Source names where the fact came from ("conversation", "parent").
	Source string

	// CreatedAt is when the fact was first stored.
	CreatedAt time.Time
}

// FactResult is a Fact plus its similarity to a query.
type FactResult struct {
	Fact

	// Similarity is the cosine similarity to the query embedding, in [-1, 1].
	// Higher is more related.
	Similarity float64
}

// Store is the persistence abstraction for long-term facts.
//
// Implementations must be safe for concurrent use.
type Store interface {
	// AddFact inserts or replaces a fact by ID.
	AddFact(ctx context.Context, fact Fact) error

	// SearchFacts returns the topK facts for childID most similar to the
	// query embedding, ordered most similar first.
	SearchFacts(ctx context.Context, childID string, embedding []float32, topK int) ([]FactResult, error)

	// RecentFacts returns facts for childID created after the given time,
	// newest first. Used to assemble the daily parent report.
	RecentFacts(ctx context.Context, childID string, after time.Time) ([]Fact, error)

	// DeleteFact removes a fact by ID. Deleting a missing fact is not an
	// error.
	DeleteFact(ctx context.Context, id string) error

	// Close releases the underlying resources.
	Close() error
}
