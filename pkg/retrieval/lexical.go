package retrieval

import "context"

// LexicalHit is one result from [LexicalSearcher.Search].
type LexicalHit struct {
	MessageID      string
	Content        string
	ConversationID string
	Score          float64
}

// LexicalSearcher runs a BM25-style full-text search over message content
// using prefix-match semantics on the expanded keyword set. It does not
// normalize or floor the underlying index's ranking score — filtering
// happens downstream in the relevance filter.
type LexicalSearcher struct {
	storage StorageAdapter
}

// NewLexicalSearcher returns a searcher backed by storage.
func NewLexicalSearcher(storage StorageAdapter) *LexicalSearcher {
	return &LexicalSearcher{storage: storage}
}

// Search returns up to topK candidate messages ranked by the storage
// engine's opaque relevance score for the expanded keyword set in fp.
func (s *LexicalSearcher) Search(ctx context.Context, fp QueryFingerprint, topK int) ([]LexicalHit, error) {
	hits, err := s.storage.FTSSearch(ctx, fp.ExpandedTerms(), topK)
	if err != nil {
		return nil, NewError(KindTransport, "lexical.Search", err)
	}
	out := make([]LexicalHit, len(hits))
	for i, h := range hits {
		out[i] = LexicalHit{
			MessageID:      h.MessageID,
			Content:        h.Content,
			ConversationID: h.ConversationID,
			Score:          h.Score,
		}
	}
	return out, nil
}
