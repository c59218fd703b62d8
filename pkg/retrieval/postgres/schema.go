// Package postgres is a PostgreSQL + pgvector implementation of
// [retrieval.StorageAdapter]: messages live in one table (message
// embeddings are not stored), knowledge-graph nodes, edges and edge-text
// embeddings in three more, queried through Postgres's built-in full-text search
// (to_tsvector/to_tsquery), a pgvector HNSW index, and plain relational
// lookups.
//
// All operations share a single [pgxpool.Pool]; a connection handle is
// acquired per call and released immediately, never held across requests.
package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

const ddlMessages = `
CREATE TABLE IF NOT EXISTS message (
    id              TEXT         PRIMARY KEY,
    conversation_id TEXT         NOT NULL,
    content         TEXT         NOT NULL,
    metadata        JSONB        NOT NULL DEFAULT '{}',
    created_at      TIMESTAMPTZ  NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_message_conversation_id
    ON message (conversation_id);

CREATE INDEX IF NOT EXISTS idx_message_fts
    ON message USING GIN (to_tsvector('english', content));
`

const ddlKnowledgeGraph = `
CREATE TABLE IF NOT EXISTS kg_node (
    id              TEXT  NOT NULL,
    conversation_id TEXT  NOT NULL,
    node_type       TEXT  NOT NULL DEFAULT '',
    PRIMARY KEY (id, conversation_id)
);

CREATE TABLE IF NOT EXISTS kg_edge (
    id              TEXT         PRIMARY KEY,
    conversation_id TEXT         NOT NULL,
    source_id       TEXT         NOT NULL,
    target_id       TEXT         NOT NULL,
    relation        TEXT         NOT NULL,
    evidence        TEXT[]       NOT NULL,
    created_at      TIMESTAMPTZ  NOT NULL DEFAULT now(),
    FOREIGN KEY (source_id, conversation_id) REFERENCES kg_node (id, conversation_id),
    FOREIGN KEY (target_id, conversation_id) REFERENCES kg_node (id, conversation_id)
);

CREATE INDEX IF NOT EXISTS idx_kg_edge_conversation
    ON kg_edge (conversation_id);

CREATE INDEX IF NOT EXISTS idx_kg_edge_source
    ON kg_edge (source_id, conversation_id);

CREATE INDEX IF NOT EXISTS idx_kg_edge_target
    ON kg_edge (target_id, conversation_id);
`

// ddlEdgeEmbeddings returns the DDL for the edge-embedding table with the
// vector dimension substituted; the dimension is baked into the column type
// at schema-creation time.
func ddlEdgeEmbeddings(embeddingDimensions int) string {
	return fmt.Sprintf(`
CREATE EXTENSION IF NOT EXISTS vector;

CREATE TABLE IF NOT EXISTS kg_edge_embedding (
    edge_id   TEXT REFERENCES kg_edge (id) ON DELETE CASCADE PRIMARY KEY,
    edge_text TEXT NOT NULL,
    embedding vector(%d) NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_kg_edge_embedding_hnsw
    ON kg_edge_embedding USING hnsw (embedding vector_cosine_ops);
`, embeddingDimensions)
}

// Migrate creates or ensures all required tables, indices, and extensions
// exist. It is idempotent and safe to call on every application start.
//
// embeddingDimensions must match the dimensionality of the configured
// embedding provider (768 in the reference deployment). Changing it after
// the first migration requires a manual schema update.
func Migrate(ctx context.Context, pool *pgxpool.Pool, embeddingDimensions int) error {
	statements := []string{
		ddlMessages,
		ddlKnowledgeGraph,
		ddlEdgeEmbeddings(embeddingDimensions),
	}
	for _, stmt := range statements {
		if _, err := pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("postgres migrate: %w", err)
		}
	}
	return nil
}
