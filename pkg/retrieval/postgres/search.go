package postgres

import (
	"context"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	pgvector "github.com/pgvector/pgvector-go"

	"github.com/kaelstrom/ragforge/pkg/retrieval"
)

// FTSSearch runs a prefix-match full-text search over message content.
// Each expanded keyword is turned into a prefix lexeme (term:*) so that,
// e.g., "install" also matches "installer" and "installation".
func (s *Store) FTSSearch(ctx context.Context, expandedKeywords []string, limit int) ([]retrieval.FTSHit, error) {
	if len(expandedKeywords) == 0 {
		return nil, nil
	}

	terms := make([]string, len(expandedKeywords))
	for i, k := range expandedKeywords {
		terms[i] = strings.ReplaceAll(k, "'", "''") + ":*"
	}
	tsquery := strings.Join(terms, " | ")

	const q = `
		SELECT id, content, conversation_id,
		       ts_rank(to_tsvector('english', content), to_tsquery('english', $1)) AS score
		FROM   message
		WHERE  to_tsvector('english', content) @@ to_tsquery('english', $1)
		ORDER  BY score DESC
		LIMIT  $2`

	rows, err := s.pool.Query(ctx, q, tsquery, limit)
	if err != nil {
		return nil, fmt.Errorf("postgres FTSSearch: %w", err)
	}

	hits, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (retrieval.FTSHit, error) {
		var h retrieval.FTSHit
		if err := row.Scan(&h.MessageID, &h.Content, &h.ConversationID, &h.Score); err != nil {
			return retrieval.FTSHit{}, err
		}
		return h, nil
	})
	if err != nil {
		return nil, fmt.Errorf("postgres FTSSearch: scan: %w", err)
	}
	return hits, nil
}

// EdgeVectorSearch returns up to limit edges ranked by ascending cosine
// distance (descending similarity) to queryVec, ties broken by edge ID.
func (s *Store) EdgeVectorSearch(ctx context.Context, queryVec []float32, limit int) ([]retrieval.EdgeSearchHit, error) {
	vec := pgvector.NewVector(queryVec)

	const q = `
		SELECT e.id, e.conversation_id, e.source_id, e.relation, e.target_id, e.evidence,
		       ee.edge_text,
		       1 - (ee.embedding <=> $1) AS similarity
		FROM   kg_edge_embedding ee
		JOIN   kg_edge e ON e.id = ee.edge_id
		ORDER  BY ee.embedding <=> $1, e.id
		LIMIT  $2`

	rows, err := s.pool.Query(ctx, q, vec, limit)
	if err != nil {
		return nil, fmt.Errorf("postgres EdgeVectorSearch: %w", err)
	}

	hits, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (retrieval.EdgeSearchHit, error) {
		var h retrieval.EdgeSearchHit
		if err := row.Scan(
			&h.EdgeID, &h.ConversationID, &h.Source, &h.Relation, &h.Target, &h.Evidence,
			&h.EdgeText, &h.Similarity,
		); err != nil {
			return retrieval.EdgeSearchHit{}, err
		}
		return h, nil
	})
	if err != nil {
		return nil, fmt.Errorf("postgres EdgeVectorSearch: scan: %w", err)
	}
	return hits, nil
}

// FetchMessages resolves messageIDs to their stored content. IDs with no
// matching row are silently omitted.
func (s *Store) FetchMessages(ctx context.Context, messageIDs []string) ([]retrieval.Message, error) {
	if len(messageIDs) == 0 {
		return nil, nil
	}

	const q = `
		SELECT id, conversation_id, content, created_at
		FROM   message
		WHERE  id = ANY($1)`

	rows, err := s.pool.Query(ctx, q, messageIDs)
	if err != nil {
		return nil, fmt.Errorf("postgres FetchMessages: %w", err)
	}

	msgs, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (retrieval.Message, error) {
		var m retrieval.Message
		if err := row.Scan(&m.ID, &m.ConversationID, &m.Content, &m.CreatedAt); err != nil {
			return retrieval.Message{}, err
		}
		return m, nil
	})
	if err != nil {
		return nil, fmt.Errorf("postgres FetchMessages: scan: %w", err)
	}
	return msgs, nil
}
