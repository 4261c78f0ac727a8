// Package postgres implements the memory.Store interface on PostgreSQL with
// the pgvector extension.
package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	pgvector "github.com/pgvector/pgvector-go"
	pgxvec "github.com/pgvector/pgvector-go/pgx"

	"github.com/SuperGokou/kidsBot/pkg/memory"
)

// Compile-time interface check.
var _ memory.Store = (*Store)(nil)

// Store is the PostgreSQL-backed fact store. All operations are safe for
// concurrent use.
type Store struct {
	pool *pgxpool.Pool
}

// NewStore establishes a connection pool to the PostgreSQL database at dsn,
// registers pgvector types on every connection, and runs [Migrate] to ensure
// the schema exists.
//
// embeddingDimensions must match the output dimension of the configured
// embeddings provider.
func NewStore(ctx context.Context, dsn string, embeddingDimensions int) (*Store, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("postgres store: parse dsn: %w", err)
	}

	// Register pgvector types on every new connection so vector columns can
	// be scanned into and inserted from pgvector.Vector values.
	cfg.AfterConnect = func(ctx context.Context, conn *pgx.Conn) error {
		return pgxvec.RegisterTypes(ctx, conn)
	}

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("postgres store: connect: %w", err)
	}

	if err := Migrate(ctx, pool, embeddingDimensions); err != nil {
		pool.Close()
		return nil, err
	}

	return &Store{pool: pool}, nil
}

// AddFact implements memory.Store.
func (s *Store) AddFact(ctx context.Context, fact memory.Fact) error {
	const q = `
		INSERT INTO facts (id, child_id, content, embedding, source, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (id) DO UPDATE SET
		    child_id   = EXCLUDED.child_id,
		    content    = EXCLUDED.content,
		    embedding  = EXCLUDED.embedding,
		    source     = EXCLUDED.source,
		    created_at = EXCLUDED.created_at`

	createdAt := fact.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now()
	}

	_, err := s.pool.Exec(ctx, q,
		fact.ID,
		fact.ChildID,
		fact.Content,
		pgvector.NewVector(fact.Embedding),
		fact.Source,
		createdAt,
	)
	if err != nil {
		return fmt.Errorf("postgres store: add fact: %w", err)
	}
	return nil
}

// SearchFacts implements memory.Store. Results are ordered by ascending
// cosine distance, i.e. most similar first.
func (s *Store) SearchFacts(ctx context.Context, childID string, embedding []float32, topK int) ([]memory.FactResult, error) {
	const q = `
		SELECT id, child_id, content, embedding, source, created_at,
		       embedding <=> $1 AS distance
		FROM   facts
		WHERE  child_id = $2
		ORDER  BY distance
		LIMIT  $3`

	rows, err := s.pool.Query(ctx, q, pgvector.NewVector(embedding), childID, topK)
	if err != nil {
		return nil, fmt.Errorf("postgres store: search facts: %w", err)
	}

	results, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (memory.FactResult, error) {
		var r memory.FactResult
		var vec pgvector.Vector
		var distance float64
		if err := row.Scan(&r.ID, &r.ChildID, &r.Content, &vec, &r.Source, &r.CreatedAt, &distance); err != nil {
			return memory.FactResult{}, err
		}
		r.Embedding = vec.Slice()
		// pgvector's <=> operator yields cosine distance (1 − similarity).
		r.Similarity = 1 - distance
		return r, nil
	})
	if err != nil {
		return nil, fmt.Errorf("postgres store: collect facts: %w", err)
	}
	return results, nil
}

// RecentFacts implements memory.Store.
func (s *Store) RecentFacts(ctx context.Context, childID string, after time.Time) ([]memory.Fact, error) {
	const q = `
		SELECT id, child_id, content, embedding, source, created_at
		FROM   facts
		WHERE  child_id = $1 AND created_at > $2
		ORDER  BY created_at DESC`

	rows, err := s.pool.Query(ctx, q, childID, after)
	if err != nil {
		return nil, fmt.Errorf("postgres store: recent facts: %w", err)
	}

	facts, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (memory.Fact, error) {
		var f memory.Fact
		var vec pgvector.Vector
		if err := row.Scan(&f.ID, &f.ChildID, &f.Content, &vec, &f.Source, &f.CreatedAt); err != nil {
			return memory.Fact{}, err
		}
		f.Embedding = vec.Slice()
		return f, nil
	})
	if err != nil {
		return nil, fmt.Errorf("postgres store: collect recent facts: %w", err)
	}
	return facts, nil
}

// DeleteFact implements memory.Store.
func (s *Store) DeleteFact(ctx context.Context, id string) error {
	const q = `DELETE FROM facts WHERE id = $1`
	if _, err := s.pool.Exec(ctx, q, id); err != nil {
		return fmt.Errorf("postgres store: delete fact: %w", err)
	}
	return nil
}

// Close implements memory.Store.
func (s *Store) Close() error {
	s.pool.Close()
	return nil
}
