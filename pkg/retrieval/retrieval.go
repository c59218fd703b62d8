// Package retrieval implements a hybrid retrieval engine that serves
// conversational context to large language models.
//
// Given a natural-language query, [Dispatcher.Retrieve] returns a ranked,
// deduplicated, token-budgeted set of prior conversation messages plus the
// knowledge-graph edges that justify them. Three retrieval paths feed a
// single fusion ranker:
//
//   - a lexical/BM25-style full-text search over message content ([LexicalSearcher]),
//   - a dense-vector search over knowledge-graph edge embeddings ([VectorSearcher]),
//   - a multi-hop graph traversal seeded from the vector search's top hits ([GraphTraverser]).
//
// The corpus is owned by a [StorageAdapter] implementation (see the
// `postgres` subpackage for a PostgreSQL/pgvector-backed one, and `mock` for
// a test double). Retrieval is stateless per request; every type in this
// package is safe for concurrent use.
package retrieval

import (
	"context"
	"time"
)

// ─────────────────────────────────────────────────────────────────────────────
// Corpus types
// ─────────────────────────────────────────────────────────────────────────────

// Message is an immutable conversation message. Message embeddings are not
// read by this package — only edge embeddings feed the vector path — and the
// postgres adapter's schema does not store them.
type Message struct {
	// ID is the opaque, globally unique message identifier.
	ID string

	// ConversationID groups this message with others in the same conversation.
	ConversationID string

	// Content is the raw message text.
	Content string

	// CreatedAt is when the message was ingested.
	CreatedAt time.Time

	// Metadata is an opaque, schemaless blob carried through verbatim. The
	// core never parses it.
	Metadata map[string]any
}

// KGNode is a typed, conversation-scoped knowledge-graph entity. Node
// identifiers are free-form strings scoped to a conversation — the same
// string in two conversations denotes two distinct nodes.
type KGNode struct {
	ID             string
	ConversationID string
	Type           string
}

// KGEdge is a directed, typed relation between two nodes in the same
// conversation. Evidence must be non-empty and every ID in it must resolve
// to a message in the same conversation — callers constructing edges from
// storage are expected to have enforced this upstream; the core treats a
// violation as a [KindIntegrityViolation].
type KGEdge struct {
	ID             string
	ConversationID string
	Source         string
	Relation       string
	Target         string
	Evidence       []string
}

// Text renders the edge's canonical "source relation target" form, the
// string whose embedding is the edge's semantic key.
func (e KGEdge) Text() string {
	return e.Source + " " + e.Relation + " " + e.Target
}

// EdgeEmbedding is the 768-dimensional dense embedding of a [KGEdge]'s
// canonical text, keyed by edge ID.
type EdgeEmbedding struct {
	EdgeID    string
	Vec       []float32
	EdgeText  string
	ModelName string
}

// ─────────────────────────────────────────────────────────────────────────────
// Query fingerprint
// ─────────────────────────────────────────────────────────────────────────────

// Keyword is a single term extracted from a query, carrying the weight used
// throughout fusion and coverage computation.
type Keyword struct {
	// Text is the lowercase keyword (proper nouns keep their original casing).
	Text string

	// Weight is max(len(Text), 1).
	Weight float64

	// IsProperNoun marks a term detected as a proper noun in the raw query.
	// Proper nouns are never synonym-expanded.
	IsProperNoun bool
}

// QueryFingerprint is the request-scoped derived view of a query: its
// extracted and expanded keywords, the longest keyword (used by the
// relevance filter's has_longest test), and the total keyword weight.
type QueryFingerprint struct {
	// Query is the original, unmodified query string.
	Query string

	// Keywords is the expanded keyword set with per-term weights, used for
	// lexical matching, coverage computation, and fusion boosts.
	Keywords []Keyword

	// Longest is the longest keyword by character length, ties broken
	// lexicographically. Empty only when Keywords is empty.
	Longest string

	// TotalWeight is the sum of Weight across Keywords (Σ weight(k)).
	TotalWeight float64
}

// ExpandedTerms returns the distinct lowercase keyword text set, suitable for
// passing to [StorageAdapter.FTSSearch] or edge-text substring matching.
func (f QueryFingerprint) ExpandedTerms() []string {
	seen := make(map[string]struct{}, len(f.Keywords))
	terms := make([]string, 0, len(f.Keywords))
	for _, k := range f.Keywords {
		if _, ok := seen[k.Text]; ok {
			continue
		}
		seen[k.Text] = struct{}{}
		terms = append(terms, k.Text)
	}
	return terms
}

// ─────────────────────────────────────────────────────────────────────────────
// Candidates and provenance
// ─────────────────────────────────────────────────────────────────────────────

// Provenance names a retrieval pathway that contributed a message to a result.
type Provenance string

const (
	// ProvenanceLexical marks a message surfaced by the lexical searcher.
	ProvenanceLexical Provenance = "lexical"

	// ProvenanceGraphEvidence marks a message surfaced as evidence for a
	// graph-traversal-reached edge.
	ProvenanceGraphEvidence Provenance = "graph-evidence"
)

// Candidate is a transient (message ID, provisional score, provenance)
// triple produced by a single retrieval pathway, before fusion.
type Candidate struct {
	MessageID  string
	Score      float64
	Provenance []Provenance
}

// ─────────────────────────────────────────────────────────────────────────────
// Storage adapter contract
// ─────────────────────────────────────────────────────────────────────────────

// FTSHit is one row returned by [StorageAdapter.FTSSearch].
type FTSHit struct {
	MessageID      string
	Content        string
	ConversationID string
	Score          float64
}

// EdgeSearchHit is one row returned by [StorageAdapter.EdgeVectorSearch].
type EdgeSearchHit struct {
	EdgeID         string
	ConversationID string
	Similarity     float64
	Source         string
	Relation       string
	Target         string
	Evidence       []string
	EdgeText       string
}

// StorageAdapter abstracts the three underlying indices (full-text,
// approximate-nearest-neighbour vector, relational graph) behind the five
// operations the retrieval core needs. No operation mutates state.
//
// The core wraps any error an operation returns as a [RetrievalError] of
// kind [KindTransport]. Records that violate an invariant (e.g. an edge
// with empty evidence) are skipped by the core and logged rather than
// returned as errors. Implementations must be safe for concurrent use.
type StorageAdapter interface {
	// FTSSearch performs a prefix-match full-text search over message
	// content for the given expanded keyword set, returning up to limit
	// hits ranked by the underlying ranker's opaque relevance score.
	FTSSearch(ctx context.Context, expandedKeywords []string, limit int) ([]FTSHit, error)

	// EdgeVectorSearch returns up to limit edges ranked by descending
	// cosine similarity to queryVec, ties broken by edge ID.
	EdgeVectorSearch(ctx context.Context, queryVec []float32, limit int) ([]EdgeSearchHit, error)

	// EdgesTouching returns every edge in conversationID whose source or
	// target equals nodeID — the primitive the graph traverser uses to
	// expand one BFS layer.
	EdgesTouching(ctx context.Context, nodeID, conversationID string) ([]KGEdge, error)

	// FetchMessages resolves a set of message IDs to their stored content.
	// IDs with no matching message are silently omitted from the result.
	FetchMessages(ctx context.Context, messageIDs []string) ([]Message, error)

	// Embed calls the external embedding service to produce the dense
	// embedding for text. Returns a vector of the adapter's configured
	// dimensionality (768-dimensional in the reference deployment).
	Embed(ctx context.Context, text string) ([]float32, error)
}
