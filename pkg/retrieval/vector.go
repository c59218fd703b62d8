package retrieval

import (
	"context"
	"encoding/binary"
	"hash/fnv"
	"log/slog"
	"math"
	"sort"
	"sync"
	"time"
)

// VectorHit is one result from [VectorSearcher.Search]: an edge ranked by
// cosine similarity to the query embedding.
type VectorHit struct {
	EdgeID         string
	ConversationID string
	Similarity     float64
	Source         string
	Relation       string
	Target         string
	Evidence       []string
	EdgeText       string
}

// Edge renders the hit as a [KGEdge].
func (h VectorHit) Edge() KGEdge {
	return KGEdge{
		ID:             h.EdgeID,
		ConversationID: h.ConversationID,
		Source:         h.Source,
		Relation:       h.Relation,
		Target:         h.Target,
		Evidence:       h.Evidence,
	}
}

// clampSimilarity clamps a cosine similarity to [0, 1] for display. The
// upstream corpus occasionally reports values slightly above 1.0 (e.g.
// 1.0000001) due to float accumulation; this is never treated as an error,
// only cosmetically clamped.
func clampSimilarity(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

// VectorSearcher runs a dense-vector top-k search over edge embeddings. The
// query embedding is produced by calling the storage adapter's embedding
// backend; results are cached briefly (read-mostly, TTL default 60s) keyed
// by the embedding+topK pair, since a burst of requests for the same or
// repeated queries is common in interactive use.
type VectorSearcher struct {
	storage StorageAdapter
	cache   *similarityCache
}

// NewVectorSearcher returns a searcher backed by storage, with an in-process
// TTL cache of the given duration. A non-positive ttl disables caching.
func NewVectorSearcher(storage StorageAdapter, ttl time.Duration) *VectorSearcher {
	return &VectorSearcher{storage: storage, cache: newSimilarityCache(ttl)}
}

// Search embeds query via the storage adapter, then returns up to topK
// edges ordered by descending similarity, ties broken by edge ID.
func (s *VectorSearcher) Search(ctx context.Context, query string, topK int) ([]VectorHit, error) {
	vec, err := s.storage.Embed(ctx, query)
	if err != nil {
		return nil, NewError(KindTransport, "vector.Search", err)
	}
	return s.SearchEmbedding(ctx, vec, topK)
}

// SearchEmbedding runs the vector search for a pre-computed query embedding,
// bypassing the embedding call. Useful when a caller already has the vector
// (e.g. the dispatcher reusing one embedding across pathways).
func (s *VectorSearcher) SearchEmbedding(ctx context.Context, vec []float32, topK int) ([]VectorHit, error) {
	key := cacheKey(vec, topK)
	if hits, ok := s.cache.get(key); ok {
		return hits, nil
	}

	rows, err := s.storage.EdgeVectorSearch(ctx, vec, topK)
	if err != nil {
		return nil, NewError(KindTransport, "vector.SearchEmbedding", err)
	}

	hits := make([]VectorHit, 0, len(rows))
	for _, r := range rows {
		if len(r.Evidence) == 0 {
			// An edge with no evidence is a data integrity violation; log
			// and skip the offending record rather than failing the search.
			slog.Warn("vector search: skipping edge with empty evidence", "edge_id", r.EdgeID)
			continue
		}
		hits = append(hits, VectorHit{
			EdgeID:         r.EdgeID,
			ConversationID: r.ConversationID,
			Similarity:     clampSimilarity(r.Similarity),
			Source:         r.Source,
			Relation:       r.Relation,
			Target:         r.Target,
			Evidence:       r.Evidence,
			EdgeText:       r.EdgeText,
		})
	}
	sort.SliceStable(hits, func(i, j int) bool {
		if hits[i].Similarity != hits[j].Similarity {
			return hits[i].Similarity > hits[j].Similarity
		}
		return hits[i].EdgeID < hits[j].EdgeID
	})
	if len(hits) > topK {
		hits = hits[:topK]
	}

	s.cache.put(key, hits)
	return hits, nil
}

// ─────────────────────────────────────────────────────────────────────────────
// Read-mostly TTL cache
// ─────────────────────────────────────────────────────────────────────────────

// similarityCache is a single-writer/many-reader cache for vector search
// results, invalidated by a fixed TTL rather than tied to ingestion — it is
// never strong-consistency-bound to the write path.
type similarityCache struct {
	ttl time.Duration

	mu      sync.RWMutex
	entries map[string]cacheEntry
}

type cacheEntry struct {
	hits    []VectorHit
	expires time.Time
}

func newSimilarityCache(ttl time.Duration) *similarityCache {
	return &similarityCache{ttl: ttl, entries: make(map[string]cacheEntry)}
}

func (c *similarityCache) get(key string) ([]VectorHit, bool) {
	if c.ttl <= 0 {
		return nil, false
	}
	c.mu.RLock()
	e, ok := c.entries[key]
	c.mu.RUnlock()
	if !ok || time.Now().After(e.expires) {
		return nil, false
	}
	return e.hits, true
}

func (c *similarityCache) put(key string, hits []VectorHit) {
	if c.ttl <= 0 {
		return
	}
	c.mu.Lock()
	c.entries[key] = cacheEntry{hits: hits, expires: time.Now().Add(c.ttl)}
	c.mu.Unlock()
}

// cacheKey hashes an embedding vector and topK into a stable string key.
func cacheKey(vec []float32, topK int) string {
	h := fnv.New64a()
	buf := make([]byte, 4)
	for _, f := range vec {
		binary.LittleEndian.PutUint32(buf, math.Float32bits(f))
		h.Write(buf)
	}
	var topKBuf [8]byte
	binary.LittleEndian.PutUint64(topKBuf[:], uint64(topK))
	h.Write(topKBuf[:])
	return string(h.Sum(nil))
}
