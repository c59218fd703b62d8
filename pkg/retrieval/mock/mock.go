// Package mock provides an in-memory test double for
// [retrieval.StorageAdapter].
//
// StorageAdapter records every method call for assertion in tests and
// exposes exported fields that control what it returns. It is safe for
// concurrent use via an internal [sync.Mutex].
//
// Typical usage:
//
//	storage := &mock.StorageAdapter{}
//	storage.FTSSearchResult = []retrieval.FTSHit{{MessageID: "m1", Content: "hello"}}
//
//	// inject storage into the system under test …
//
//	if got := storage.CallCount("FTSSearch"); got != 1 {
//	    t.Errorf("expected 1 FTSSearch call, got %d", got)
//	}
package mock

import (
	"context"
	"sync"

	"github.com/kaelstrom/ragforge/pkg/retrieval"
)

// Call records the name and arguments of a single method invocation.
type Call struct {
	Method string
	Args   []any
}

// StorageAdapter is a configurable test double for [retrieval.StorageAdapter].
// All exported *Err fields default to nil (success); all exported *Result
// fields default to nil (empty slice returned).
type StorageAdapter struct {
	mu sync.Mutex

	calls []Call

	// FTSSearchResult is returned by [StorageAdapter.FTSSearch].
	FTSSearchResult []retrieval.FTSHit
	// FTSSearchErr is returned by [StorageAdapter.FTSSearch] when non-nil.
	FTSSearchErr error

	// EdgeVectorSearchResult is returned by [StorageAdapter.EdgeVectorSearch].
	EdgeVectorSearchResult []retrieval.EdgeSearchHit
	// EdgeVectorSearchErr is returned by [StorageAdapter.EdgeVectorSearch] when non-nil.
	EdgeVectorSearchErr error

	// EdgesTouchingFunc, when set, computes the result of
	// [StorageAdapter.EdgesTouching] from its arguments — tests driving a
	// multi-hop traversal need per-node responses, not one fixed value.
	EdgesTouchingFunc func(nodeID, conversationID string) ([]retrieval.KGEdge, error)
	// EdgesTouchingResult is returned by [StorageAdapter.EdgesTouching] when
	// EdgesTouchingFunc is nil.
	EdgesTouchingResult []retrieval.KGEdge
	// EdgesTouchingErr is returned by [StorageAdapter.EdgesTouching] when
	// EdgesTouchingFunc is nil and this is non-nil.
	EdgesTouchingErr error

	// FetchMessagesFunc, when set, computes the result of
	// [StorageAdapter.FetchMessages] from its arguments.
	FetchMessagesFunc func(messageIDs []string) ([]retrieval.Message, error)
	// FetchMessagesResult is returned by [StorageAdapter.FetchMessages] when
	// FetchMessagesFunc is nil.
	FetchMessagesResult []retrieval.Message
	// FetchMessagesErr is returned by [StorageAdapter.FetchMessages] when
	// FetchMessagesFunc is nil and this is non-nil.
	FetchMessagesErr error

	// EmbedResult is returned by [StorageAdapter.Embed].
	EmbedResult []float32
	// EmbedErr is returned by [StorageAdapter.Embed] when non-nil.
	EmbedErr error
}

// Calls returns a copy of all recorded method invocations.
func (m *StorageAdapter) Calls() []Call {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Call, len(m.calls))
	copy(out, m.calls)
	return out
}

// CallCount returns how many times the named method was invoked.
func (m *StorageAdapter) CallCount(method string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, c := range m.calls {
		if c.Method == method {
			n++
		}
	}
	return n
}

// Reset clears all recorded calls without altering response configuration.
func (m *StorageAdapter) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = nil
}

func (m *StorageAdapter) record(method string, args ...any) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, Call{Method: method, Args: args})
}

// FTSSearch implements [retrieval.StorageAdapter].
func (m *StorageAdapter) FTSSearch(_ context.Context, expandedKeywords []string, limit int) ([]retrieval.FTSHit, error) {
	m.record("FTSSearch", expandedKeywords, limit)
	if m.FTSSearchErr != nil {
		return nil, m.FTSSearchErr
	}
	return m.FTSSearchResult, nil
}

// EdgeVectorSearch implements [retrieval.StorageAdapter].
func (m *StorageAdapter) EdgeVectorSearch(_ context.Context, queryVec []float32, limit int) ([]retrieval.EdgeSearchHit, error) {
	m.record("EdgeVectorSearch", queryVec, limit)
	if m.EdgeVectorSearchErr != nil {
		return nil, m.EdgeVectorSearchErr
	}
	return m.EdgeVectorSearchResult, nil
}

// EdgesTouching implements [retrieval.StorageAdapter].
func (m *StorageAdapter) EdgesTouching(_ context.Context, nodeID, conversationID string) ([]retrieval.KGEdge, error) {
	m.record("EdgesTouching", nodeID, conversationID)
	if m.EdgesTouchingFunc != nil {
		return m.EdgesTouchingFunc(nodeID, conversationID)
	}
	if m.EdgesTouchingErr != nil {
		return nil, m.EdgesTouchingErr
	}
	return m.EdgesTouchingResult, nil
}

// FetchMessages implements [retrieval.StorageAdapter].
func (m *StorageAdapter) FetchMessages(_ context.Context, messageIDs []string) ([]retrieval.Message, error) {
	m.record("FetchMessages", messageIDs)
	if m.FetchMessagesFunc != nil {
		return m.FetchMessagesFunc(messageIDs)
	}
	if m.FetchMessagesErr != nil {
		return nil, m.FetchMessagesErr
	}
	return m.FetchMessagesResult, nil
}

// Embed implements [retrieval.StorageAdapter].
func (m *StorageAdapter) Embed(_ context.Context, text string) ([]float32, error) {
	m.record("Embed", text)
	if m.EmbedErr != nil {
		return nil, m.EmbedErr
	}
	return m.EmbedResult, nil
}

// Ensure StorageAdapter implements retrieval.StorageAdapter at compile time.
var _ retrieval.StorageAdapter = (*StorageAdapter)(nil)
