package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/kaelstrom/ragforge/pkg/retrieval"
)

// EdgesTouching returns every edge in conversationID whose source or target
// equals nodeID. This is the single-hop primitive the graph traverser calls
// once per frontier edge per BFS layer; it deliberately does not implement
// multi-hop expansion itself, since the noisy upstream graph makes bounded,
// seeded expansion (owned by the caller) the safer default.
func (s *Store) EdgesTouching(ctx context.Context, nodeID, conversationID string) ([]retrieval.KGEdge, error) {
	const q = `
		SELECT id, conversation_id, source_id, relation, target_id, evidence
		FROM   kg_edge
		WHERE  conversation_id = $1
		AND    (source_id = $2 OR target_id = $2)`

	rows, err := s.pool.Query(ctx, q, conversationID, nodeID)
	if err != nil {
		return nil, fmt.Errorf("postgres EdgesTouching: %w", err)
	}

	edges, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (retrieval.KGEdge, error) {
		var e retrieval.KGEdge
		if err := row.Scan(&e.ID, &e.ConversationID, &e.Source, &e.Relation, &e.Target, &e.Evidence); err != nil {
			return retrieval.KGEdge{}, err
		}
		return e, nil
	})
	if err != nil {
		return nil, fmt.Errorf("postgres EdgesTouching: scan: %w", err)
	}
	return edges, nil
}
