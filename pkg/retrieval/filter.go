package retrieval

import "strings"

// RelevanceFilter applies edge filtering before graph expansion and message
// filtering before fusion output.
type RelevanceFilter struct{}

// NewRelevanceFilter returns a ready-to-use filter. It holds no state.
func NewRelevanceFilter() *RelevanceFilter { return &RelevanceFilter{} }

// FilterEdges keeps a vector-search hit iff its edge text contains at least
// one keyword from the expanded set (case-insensitive substring). Hits are
// assumed to already be restricted to the requested top-k similarity band by
// the caller; the conjunction of both conditions is what prevents
// semantically-close-but-off-topic edges from seeding graph traversal.
func (f *RelevanceFilter) FilterEdges(hits []VectorHit, fp QueryFingerprint) []VectorHit {
	terms := fp.ExpandedTerms()
	kept := make([]VectorHit, 0, len(hits))
	for _, h := range hits {
		if containsAnyTerm(h.EdgeText, terms) {
			kept = append(kept, h)
		}
	}
	return kept
}

// Coverage computes the weighted fraction of query keywords present in
// content (coverage) and whether content contains the query's longest
// keyword (hasLongest).
func (f *RelevanceFilter) Coverage(content string, fp QueryFingerprint) (coverage float64, hasLongest bool) {
	if fp.TotalWeight <= 0 {
		return 0, false
	}
	lower := strings.ToLower(content)
	var matched float64
	for _, k := range fp.Keywords {
		if strings.Contains(lower, strings.ToLower(k.Text)) {
			matched += k.Weight
		}
	}
	coverage = matched / fp.TotalWeight
	hasLongest = fp.Longest != "" && strings.Contains(lower, strings.ToLower(fp.Longest))
	return coverage, hasLongest
}

// KeepMessage applies the three-disjunct message-retention rule to a single
// candidate message given its lexical score (0 if the candidate did not
// come from the lexical pathway) and content.
func (f *RelevanceFilter) KeepMessage(content string, score float64, fp QueryFingerprint) bool {
	coverage, hasLongest := f.Coverage(content, fp)
	if hasLongest {
		return true
	}
	if score > 0.01 && coverage >= 0.5 {
		return true
	}
	return coverage >= 0.6
}

// containsAnyTerm reports whether text contains any of terms as a
// case-insensitive substring.
func containsAnyTerm(text string, terms []string) bool {
	lower := strings.ToLower(text)
	for _, t := range terms {
		if strings.Contains(lower, strings.ToLower(t)) {
			return true
		}
	}
	return false
}
