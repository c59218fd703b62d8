package retrieval_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/kaelstrom/ragforge/pkg/retrieval"
	"github.com/kaelstrom/ragforge/pkg/retrieval/mock"
)

// A single-token proper-noun query in lexical_only mode returns every
// matching message without firing synonym expansion or the vector pathway.
func TestDispatcher_LexicalOnly_ProperNoun(t *testing.T) {
	storage := &mock.StorageAdapter{
		FTSSearchResult: []retrieval.FTSHit{
			{MessageID: "m1", Content: "I use Zapier for automation", ConversationID: "c1", Score: 1.0},
			{MessageID: "m2", Content: "Zapier integrates with everything", ConversationID: "c1", Score: 0.8},
			{MessageID: "m3", Content: "another Zapier mention here", ConversationID: "c1", Score: 0.6},
		},
	}
	disp := retrieval.NewDispatcher(storage)

	resp, err := disp.Retrieve(context.Background(), retrieval.Request{
		Query: "Zapier",
		TopK:  5,
		Mode:  retrieval.ModeLexicalOnly,
	})
	if err != nil {
		t.Fatalf("Retrieve: %v", err)
	}
	if len(resp.Context.Messages) != 3 {
		t.Fatalf("want 3 messages, got %d: %+v", len(resp.Context.Messages), resp.Context.Messages)
	}
	for _, m := range resp.Context.Messages {
		if m.Score <= 0 {
			t.Errorf("message %s: want relevance_score > 0, got %v", m.MessageID, m.Score)
		}
	}
	// Mode isolation: lexical_only must issue no vector/edge calls.
	if resp.Stats.EdgeMatches != 0 {
		t.Errorf("lexical_only: want edge_matches=0, got %d", resp.Stats.EdgeMatches)
	}
	if storage.CallCount("Embed") != 0 || storage.CallCount("EdgeVectorSearch") != 0 {
		t.Error("lexical_only must not call Embed or EdgeVectorSearch")
	}
}

// An empty query fails fast, before any storage or embedding call.
func TestDispatcher_EmptyQuery_InvalidQuery(t *testing.T) {
	storage := &mock.StorageAdapter{}
	disp := retrieval.NewDispatcher(storage)

	_, err := disp.Retrieve(context.Background(), retrieval.Request{Query: ""})
	if !retrieval.IsKind(err, retrieval.KindInvalidQuery) {
		t.Fatalf("want KindInvalidQuery, got %v", err)
	}
	if len(storage.Calls()) != 0 {
		t.Errorf("S5: no storage or embedding calls should be issued for an invalid query, got %+v", storage.Calls())
	}
}

// Embedding service down in hybrid mode degrades to the lexical result.
// Message content includes the query's longest keyword ("installation") so
// the relevance filter keeps every hit regardless of score.
func TestDispatcher_Hybrid_DegradesOnEmbeddingFailure(t *testing.T) {
	const covered = "install setup installation pip npm brew"
	storage := &mock.StorageAdapter{
		FTSSearchResult: []retrieval.FTSHit{
			{MessageID: "m1", Content: covered, ConversationID: "c1", Score: 0.9},
			{MessageID: "m2", Content: covered, ConversationID: "c1", Score: 0.8},
			{MessageID: "m3", Content: covered, ConversationID: "c1", Score: 0.7},
			{MessageID: "m4", Content: covered, ConversationID: "c1", Score: 0.6},
		},
		EmbedErr: errors.New("503 service unavailable"),
	}
	disp := retrieval.NewDispatcher(storage)

	resp, err := disp.Retrieve(context.Background(), retrieval.Request{
		Query: "install",
		TopK:  10,
		Mode:  retrieval.ModeHybrid,
	})
	if err != nil {
		t.Fatalf("Retrieve: %v", err)
	}
	if !resp.Stats.Degraded {
		t.Error("want retrieval_stats.degraded = true when embedding service fails in hybrid mode")
	}
	if resp.Stats.EdgeMatches != 0 {
		t.Errorf("want edge_matches=0 on embedding failure, got %d", resp.Stats.EdgeMatches)
	}
	if len(resp.Context.Messages) == 0 {
		t.Error("want lexical pathway's messages still returned")
	}
}

// Both pathways failing in hybrid mode must surface the error to the caller.
func TestDispatcher_Hybrid_BothPathwaysFail(t *testing.T) {
	storage := &mock.StorageAdapter{
		FTSSearchErr: errors.New("fts index down"),
		EmbedErr:     errors.New("embedding service down"),
	}
	disp := retrieval.NewDispatcher(storage)

	_, err := disp.Retrieve(context.Background(), retrieval.Request{Query: "install", Mode: retrieval.ModeHybrid})
	if err == nil {
		t.Fatal("want error when both pathways fail, got nil")
	}
	if !retrieval.IsKind(err, retrieval.KindTransport) {
		t.Errorf("want KindTransport, got %v", err)
	}
}

// graph_only mode never contributes purely-lexical provenance. Evidence
// content includes the query's longest keyword so the relevance filter keeps
// it unconditionally.
func TestDispatcher_GraphOnly_NoLexicalProvenance(t *testing.T) {
	storage := &mock.StorageAdapter{
		EmbedResult: []float32{0.1, 0.2},
		EdgeVectorSearchResult: []retrieval.EdgeSearchHit{
			{EdgeID: "e1", ConversationID: "c1", Similarity: 0.9, Source: "user", Relation: "uses", Target: "pip", Evidence: []string{"m1"}, EdgeText: "user install pip"},
		},
		FetchMessagesFunc: func(ids []string) ([]retrieval.Message, error) {
			return []retrieval.Message{{ID: "m1", ConversationID: "c1", Content: "install setup installation pip npm brew"}}, nil
		},
	}
	disp := retrieval.NewDispatcher(storage)

	resp, err := disp.Retrieve(context.Background(), retrieval.Request{
		Query: "install",
		Mode:  retrieval.ModeGraphOnly,
		TopK:  5,
	})
	if err != nil {
		t.Fatalf("Retrieve: %v", err)
	}
	for _, m := range resp.Context.Messages {
		for _, p := range m.Provenance {
			if p == retrieval.ProvenanceLexical {
				t.Errorf("graph_only result %s carries lexical provenance: %v", m.MessageID, m.Provenance)
			}
		}
	}
	if resp.Stats.LexicalMatches != 0 {
		t.Errorf("graph_only: want lexical_matches=0, got %d", resp.Stats.LexicalMatches)
	}
}

// Hybrid fusion: a message reached by both pathways is not duplicated
// and scores above a graph-only message. Content includes the query's
// longest keyword so the relevance filter keeps it unconditionally.
func TestDispatcher_Hybrid_FusionDeduplicates(t *testing.T) {
	const covered = "install setup installation pip npm brew"
	storage := &mock.StorageAdapter{
		FTSSearchResult: []retrieval.FTSHit{
			{MessageID: "m1", Content: covered, ConversationID: "c1", Score: 1.2},
		},
		EmbedResult: []float32{0.1, 0.2},
		EdgeVectorSearchResult: []retrieval.EdgeSearchHit{
			{EdgeID: "e1", ConversationID: "c1", Similarity: 0.9, Source: "user", Relation: "uses", Target: "pip", Evidence: []string{"m1"}, EdgeText: "user install pip"},
		},
		FetchMessagesFunc: func(ids []string) ([]retrieval.Message, error) {
			return []retrieval.Message{{ID: "m1", ConversationID: "c1", Content: covered}}, nil
		},
	}
	disp := retrieval.NewDispatcher(storage)

	resp, err := disp.Retrieve(context.Background(), retrieval.Request{
		Query: "install",
		Mode:  retrieval.ModeHybrid,
		TopK:  5,
	})
	if err != nil {
		t.Fatalf("Retrieve: %v", err)
	}
	count := 0
	for _, m := range resp.Context.Messages {
		if m.MessageID == "m1" {
			count++
		}
	}
	if count != 1 {
		t.Fatalf("m1 must appear exactly once, got %d", count)
	}
	if resp.Stats.UniqueMessages != len(resp.Context.Messages) {
		t.Errorf("total_unique_messages=%d must equal distinct message count=%d", resp.Stats.UniqueMessages, len(resp.Context.Messages))
	}
}

// Edges are included by default and omitted when ExcludeEdges is set.
func TestDispatcher_ExcludeEdges(t *testing.T) {
	storage := &mock.StorageAdapter{
		EmbedResult: []float32{0.1},
		EdgeVectorSearchResult: []retrieval.EdgeSearchHit{
			{EdgeID: "e1", ConversationID: "c1", Similarity: 0.9, Source: "user", Relation: "uses", Target: "pip", Evidence: []string{"m1"}, EdgeText: "user install pip"},
		},
		FetchMessagesFunc: func(ids []string) ([]retrieval.Message, error) {
			return []retrieval.Message{{ID: "m1", ConversationID: "c1", Content: "install setup installation pip npm brew"}}, nil
		},
	}
	disp := retrieval.NewDispatcher(storage)

	withEdges, err := disp.Retrieve(context.Background(), retrieval.Request{
		Query: "install", Mode: retrieval.ModeGraphOnly, TopK: 5,
	})
	if err != nil {
		t.Fatalf("Retrieve: %v", err)
	}
	if len(withEdges.Context.Edges) == 0 {
		t.Error("want edges included by default")
	}

	withoutEdges, err := disp.Retrieve(context.Background(), retrieval.Request{
		Query: "install", Mode: retrieval.ModeGraphOnly, TopK: 5, ExcludeEdges: true,
	})
	if err != nil {
		t.Fatalf("Retrieve: %v", err)
	}
	if len(withoutEdges.Context.Edges) != 0 {
		t.Error("want no edges when ExcludeEdges=true")
	}
}

// Determinism: repeated invocations over a fixed corpus return
// identical rankings.
func TestDispatcher_Deterministic(t *testing.T) {
	const covered = "install setup installation pip npm brew"
	newStorage := func() *mock.StorageAdapter {
		return &mock.StorageAdapter{
			FTSSearchResult: []retrieval.FTSHit{
				{MessageID: "m1", Content: covered, ConversationID: "c1", Score: 0.9},
				{MessageID: "m2", Content: covered, ConversationID: "c1", Score: 0.8},
			},
		}
	}
	req := retrieval.Request{Query: "install", TopK: 5, Mode: retrieval.ModeLexicalOnly}

	disp1 := retrieval.NewDispatcher(newStorage())
	disp2 := retrieval.NewDispatcher(newStorage())

	r1, err := disp1.Retrieve(context.Background(), req)
	if err != nil {
		t.Fatalf("Retrieve: %v", err)
	}
	r2, err := disp2.Retrieve(context.Background(), req)
	if err != nil {
		t.Fatalf("Retrieve: %v", err)
	}
	if len(r1.Context.Messages) != len(r2.Context.Messages) {
		t.Fatalf("non-deterministic message count: %d vs %d", len(r1.Context.Messages), len(r2.Context.Messages))
	}
	for i := range r1.Context.Messages {
		if r1.Context.Messages[i].MessageID != r2.Context.Messages[i].MessageID {
			t.Errorf("non-deterministic order at %d: %s vs %s", i, r1.Context.Messages[i].MessageID, r2.Context.Messages[i].MessageID)
		}
	}
}

// Concurrency: one Dispatcher shared across many goroutines must never mix
// up one caller's ExcludeEdges=true evidence with another caller's
// edges-included request — regression test for the race where per-request
// evidence lived in a Dispatcher struct field instead of being threaded
// through as a return value.
func TestDispatcher_Retrieve_ConcurrentCallsDoNotLeakEdges(t *testing.T) {
	storage := &mock.StorageAdapter{
		EmbedResult: []float32{0.1},
		EdgeVectorSearchResult: []retrieval.EdgeSearchHit{
			{EdgeID: "e1", ConversationID: "c1", Similarity: 0.9, Source: "user", Relation: "uses", Target: "pip", Evidence: []string{"m1"}, EdgeText: "user install pip"},
		},
		FetchMessagesFunc: func(ids []string) ([]retrieval.Message, error) {
			return []retrieval.Message{{ID: "m1", ConversationID: "c1", Content: "install setup installation pip npm brew"}}, nil
		},
	}
	disp := retrieval.NewDispatcher(storage)

	const n = 50
	errs := make(chan error, n)
	for i := 0; i < n; i++ {
		excludeEdges := i%2 == 0
		go func(excludeEdges bool) {
			resp, err := disp.Retrieve(context.Background(), retrieval.Request{
				Query: "install", Mode: retrieval.ModeGraphOnly, TopK: 5, ExcludeEdges: excludeEdges,
			})
			if err != nil {
				errs <- err
				return
			}
			hasEdges := len(resp.Context.Edges) > 0
			if hasEdges == excludeEdges {
				errs <- errors.New("edge presence did not match this call's ExcludeEdges flag")
				return
			}
			errs <- nil
		}(excludeEdges)
	}
	for i := 0; i < n; i++ {
		if err := <-errs; err != nil {
			t.Fatal(err)
		}
	}
}

// Every successful response carries a correlation ID even when no tracer
// provider is configured (the trace-ID path yields an empty string then, so
// the dispatcher falls back to a generated UUID).
func TestDispatcher_CorrelationIDAlwaysSet(t *testing.T) {
	storage := &mock.StorageAdapter{
		FTSSearchResult: []retrieval.FTSHit{
			{MessageID: "m1", Content: "I use Zapier daily", ConversationID: "c1", Score: 1.0},
		},
	}
	disp := retrieval.NewDispatcher(storage)

	resp, err := disp.Retrieve(context.Background(), retrieval.Request{
		Query: "Zapier", Mode: retrieval.ModeLexicalOnly,
	})
	if err != nil {
		t.Fatalf("Retrieve: %v", err)
	}
	if resp.Stats.CorrelationID == "" {
		t.Error("want a non-empty correlation_id on every successful response")
	}
}

// Timeout: a deadline that expires during a slow storage call fails with
// KindTimeout.
func TestDispatcher_Timeout(t *testing.T) {
	slow := &blockingStorage{StorageAdapter: &mock.StorageAdapter{}, delay: 50 * time.Millisecond}
	disp := retrieval.NewDispatcher(slow, retrieval.WithRequestDeadline(1*time.Millisecond))

	_, err := disp.Retrieve(context.Background(), retrieval.Request{Query: "install", Mode: retrieval.ModeLexicalOnly})
	if !retrieval.IsKind(err, retrieval.KindTimeout) {
		t.Fatalf("want KindTimeout, got %v", err)
	}
}

// blockingStorage wraps mock.StorageAdapter and sleeps past the caller's
// context deadline on FTSSearch, to exercise the dispatcher's timeout path.
type blockingStorage struct {
	*mock.StorageAdapter
	delay time.Duration
}

func (b *blockingStorage) FTSSearch(ctx context.Context, expandedKeywords []string, limit int) ([]retrieval.FTSHit, error) {
	select {
	case <-time.After(b.delay):
		return nil, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}
