package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	pgxvec "github.com/pgvector/pgvector-go/pgx"

	"github.com/kaelstrom/ragforge/internal/observe"
	"github.com/kaelstrom/ragforge/internal/resilience"
	"github.com/kaelstrom/ragforge/pkg/provider/embeddings"
	"github.com/kaelstrom/ragforge/pkg/retrieval"
)

// Compile-time interface check.
var _ retrieval.StorageAdapter = (*Store)(nil)

// Store is the PostgreSQL-backed [retrieval.StorageAdapter]. It holds a
// single [pgxpool.Pool] shared across all five operations and an
// [embeddings.Provider] used only by [Store.Embed], guarded by a circuit
// breaker and a one-shot retry.
type Store struct {
	pool     *pgxpool.Pool
	embedder embeddings.Provider
	breaker  *resilience.CircuitBreaker
	metrics  *observe.Metrics
}

// NewStore establishes a connection pool to dsn, registers pgvector types on
// every connection, and runs [Migrate] to ensure the schema exists.
//
// embedder's Dimensions() must match the dimension the kg_edge_embedding
// table is created with; changing embedders after the first migration
// requires a manual schema update.
func NewStore(ctx context.Context, dsn string, embedder embeddings.Provider) (*Store, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("postgres store: parse dsn: %w", err)
	}

	cfg.AfterConnect = func(ctx context.Context, conn *pgx.Conn) error {
		return pgxvec.RegisterTypes(ctx, conn)
	}

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("postgres store: create pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres store: ping: %w", err)
	}

	if err := Migrate(ctx, pool, embedder.Dimensions()); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres store: migrate: %w", err)
	}

	s := &Store{pool: pool, embedder: embedder, metrics: observe.DefaultMetrics()}
	s.breaker = resilience.NewCircuitBreaker(resilience.CircuitBreakerConfig{
		Name: "embedding-service",
		OnOpen: func(name string) {
			s.metrics.RecordCircuitBreakerTrip(context.Background(), name)
		},
	})
	return s, nil
}

// WithMetrics overrides the [observe.Metrics] instance Embed records to.
// Tests should supply one built on a private meter provider to avoid
// polluting the global one.
func (s *Store) WithMetrics(m *observe.Metrics) *Store {
	s.metrics = m
	return s
}

// Close releases all connections held by the underlying pool. Call it via
// defer once the Store is no longer needed.
func (s *Store) Close() {
	s.pool.Close()
}

// Embed calls the configured embedding provider to produce the dense
// embedding for text. A transient failure is retried once after a fixed
// backoff before the circuit breaker records it; once the breaker is open,
// calls fail fast without reaching the provider.
func (s *Store) Embed(ctx context.Context, text string) ([]float32, error) {
	provider := s.embedder.ModelID()
	start := time.Now()

	var vec []float32
	err := s.breaker.Execute(func() error {
		return resilience.RetryOnce(ctx, resilience.DefaultRetryBackoff, func() error {
			v, err := s.embedder.Embed(ctx, text)
			if err != nil {
				return err
			}
			vec = v
			return nil
		})
	})
	s.metrics.EmbeddingDuration.Record(ctx, time.Since(start).Seconds())
	if err != nil {
		s.metrics.RecordEmbeddingRequest(ctx, provider, "error")
		return nil, retrieval.NewError(retrieval.KindTransport, "postgres.Embed", err)
	}
	s.metrics.RecordEmbeddingRequest(ctx, provider, "ok")
	return vec, nil
}
