// Package mock provides an in-memory test double for memory.Store.
package mock

import (
	"context"
	"math"
	"sort"
	"sync"
	"time"

	"github.com/SuperGokou/kidsBot/pkg/memory"
)

var _ memory.Store = (*Store)(nil)

// Store is a mock implementation of memory.Store backed by a map. Unless an
// error field is set, operations behave like a real store, including cosine
// ranking in SearchFacts, so loop-level tests get realistic retrieval.
type Store struct {
	mu sync.Mutex

	// AddErr, SearchErr, RecentErr, DeleteErr force the corresponding method
	// to fail when non-nil.
	AddErr    error
	SearchErr error
	RecentErr error
	DeleteErr error

	facts map[string]memory.Fact

	// AddCalls records the facts passed to AddFact in order.
	AddCalls []memory.Fact
}

// NewStore returns an empty mock store.
func NewStore() *Store {
	return &Store{facts: make(map[string]memory.Fact)}
}

// AddFact implements memory.Store.
func (s *Store) AddFact(ctx context.Context, fact memory.Fact) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.AddErr != nil {
		return s.AddErr
	}
	if fact.CreatedAt.IsZero() {
		fact.CreatedAt = time.Now()
	}
	s.facts[fact.ID] = fact
	s.AddCalls = append(s.AddCalls, fact)
	return nil
}

// SearchFacts implements memory.Store with an exact cosine ranking.
func (s *Store) SearchFacts(ctx context.Context, childID string, embedding []float32, topK int) ([]memory.FactResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.SearchErr != nil {
		return nil, s.SearchErr
	}

	var results []memory.FactResult
	for _, f := range s.facts {
		if f.ChildID != childID {
			continue
		}
		results = append(results, memory.FactResult{
			Fact:       f,
			Similarity: cosine(embedding, f.Embedding),
		})
	}
	sort.Slice(results, func(i, j int) bool {
		return results[i].Similarity > results[j].Similarity
	})
	if topK > 0 && len(results) > topK {
		results = results[:topK]
	}
	return results, nil
}

// RecentFacts implements memory.Store.
func (s *Store) RecentFacts(ctx context.Context, childID string, after time.Time) ([]memory.Fact, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.RecentErr != nil {
		return nil, s.RecentErr
	}

	var facts []memory.Fact
	for _, f := range s.facts {
		if f.ChildID == childID && f.CreatedAt.After(after) {
			facts = append(facts, f)
		}
	}
	sort.Slice(facts, func(i, j int) bool {
		return facts[i].CreatedAt.After(facts[j].CreatedAt)
	})
	return facts, nil
}

// DeleteFact implements memory.Store.
func (s *Store) DeleteFact(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.DeleteErr != nil {
		return s.DeleteErr
	}
	delete(s.facts, id)
	return nil
}

// Close implements memory.Store.
func (s *Store) Close() error {
	return nil
}

// Len returns the number of stored facts.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.facts)
}

func cosine(a, b []float32) float64 {
	if len(a) == 0 || len(a) != len(b) {
		return 0
	}
	var dot, na, nb float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}
