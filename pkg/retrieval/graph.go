package retrieval

import (
	"context"
	"log/slog"
	"sort"
)

// DefaultMaxHops is the default bound on BFS expansion depth.
const DefaultMaxHops = 2

// ReachedEdge is a [KGEdge] annotated with its minimal hop distance from the
// nearest seed edge (0 for a seed itself) and the similarity of the seed
// that reached it — used by the fusion ranker's decay(h) term. When an edge
// is reachable from more than one seed at the same hop distance, the
// highest seed similarity is kept, so the result does not depend on
// traversal order.
type ReachedEdge struct {
	KGEdge
	Hops           int
	SeedSimilarity float64
}

// GraphTraverser performs breadth-first expansion from a seed set of edges
// to all edges reachable within H hops via shared node identifiers in the
// same conversation. Traversal is intentionally seeded rather than
// whole-graph, since blind expansion over a noisy, upstream-generated
// knowledge graph (~70% edge precision) would amplify that noise.
type GraphTraverser struct {
	storage StorageAdapter
}

// NewGraphTraverser returns a traverser backed by storage.
func NewGraphTraverser(storage StorageAdapter) *GraphTraverser {
	return &GraphTraverser{storage: storage}
}

// Traverse returns the union of seeds and every edge reachable from them
// within maxHops BFS layers, each annotated with its hop distance from the
// nearest seed and that seed's similarity. A maxHops <= 0 uses
// [DefaultMaxHops].
func (t *GraphTraverser) Traverse(ctx context.Context, seeds []VectorHit, maxHops int) ([]ReachedEdge, error) {
	if maxHops <= 0 {
		maxHops = DefaultMaxHops
	}

	visited := make(map[string]ReachedEdge, len(seeds))
	type frontierItem struct {
		edge KGEdge
		sim  float64
	}
	frontier := make([]frontierItem, 0, len(seeds))
	for _, s := range seeds {
		edge := s.Edge()
		if _, ok := visited[edge.ID]; ok {
			continue
		}
		visited[edge.ID] = ReachedEdge{KGEdge: edge, Hops: 0, SeedSimilarity: s.Similarity}
		frontier = append(frontier, frontierItem{edge: edge, sim: s.Similarity})
	}

	for hop := 1; hop <= maxHops && len(frontier) > 0; hop++ {
		bestSim := make(map[string]float64)
		bestEdge := make(map[string]KGEdge)
		for _, item := range frontier {
			for _, nodeID := range []string{item.edge.Source, item.edge.Target} {
				touching, err := t.storage.EdgesTouching(ctx, nodeID, item.edge.ConversationID)
				if err != nil {
					return nil, NewError(KindTransport, "graph.Traverse", err)
				}
				for _, cand := range touching {
					if _, ok := visited[cand.ID]; ok {
						continue
					}
					if len(cand.Evidence) == 0 {
						slog.Warn("graph traversal: skipping edge with empty evidence", "edge_id", cand.ID)
						continue // IntegrityViolation: skip, don't propagate.
					}
					if item.sim > bestSim[cand.ID] || bestEdge[cand.ID].ID == "" {
						bestSim[cand.ID] = item.sim
						bestEdge[cand.ID] = cand
					}
				}
			}
		}

		var next []frontierItem
		for id, edge := range bestEdge {
			sim := bestSim[id]
			visited[id] = ReachedEdge{KGEdge: edge, Hops: hop, SeedSimilarity: sim}
			next = append(next, frontierItem{edge: edge, sim: sim})
		}
		frontier = next
	}

	out := make([]ReachedEdge, 0, len(visited))
	for _, re := range visited {
		out = append(out, re)
	}
	// Map iteration order is randomized; sort for deterministic output.
	sort.Slice(out, func(i, j int) bool {
		if out[i].Hops != out[j].Hops {
			return out[i].Hops < out[j].Hops
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}
