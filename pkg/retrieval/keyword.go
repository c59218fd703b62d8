package retrieval

import (
	"sort"
	"strings"
	"unicode"
)

// stopEquivalents lists ordinary sentence-starting words that must never be
// classified as proper nouns purely because they are capitalized at the
// start of a query (e.g. "The install failed" must still expand "install").
var stopEquivalents = map[string]struct{}{
	"the": {}, "a": {}, "an": {}, "this": {}, "that": {}, "these": {}, "those": {},
	"it": {}, "is": {}, "are": {}, "was": {}, "were": {}, "i": {}, "you": {},
	"we": {}, "they": {}, "he": {}, "she": {}, "what": {}, "why": {}, "how": {},
	"when": {}, "where": {}, "who": {}, "can": {}, "could": {}, "should": {}, "would": {},
}

// knownVocabulary reports whether the lowercase form w is a recognized
// technical term in the synonym table (either a root or one of its
// expansions). Such words are never treated as proper nouns even when
// capitalized, since they are ordinary vocabulary, not names.
func knownVocabulary(w string) bool {
	for _, root := range synonymRoots {
		if w == root {
			return true
		}
		for _, syn := range synonymMap[root] {
			if w == syn {
				return true
			}
		}
	}
	return false
}

// KeywordAnalyzer performs query tokenization, proper-noun detection, and
// synonym expansion into a [QueryFingerprint].
type KeywordAnalyzer struct{}

// NewKeywordAnalyzer returns a ready-to-use analyzer. It holds no state.
func NewKeywordAnalyzer() *KeywordAnalyzer { return &KeywordAnalyzer{} }

// token is one raw, original-cased run of alphanumeric characters extracted
// from the query, before lowercasing or expansion.
type token struct {
	original string
	lower    string
}

// Analyze tokenizes query, expands it per the built-in synonym map, and
// returns the resulting [QueryFingerprint]. Returns a [RetrievalError] of
// kind [KindInvalidQuery] when query is empty or contains no token of
// length >= 2.
func (a *KeywordAnalyzer) Analyze(query string) (QueryFingerprint, error) {
	raw := tokenize(query)
	if len(raw) == 0 {
		return QueryFingerprint{}, NewError(KindInvalidQuery, "keyword.Analyze", nil)
	}

	var ordered []Keyword
	seen := make(map[string]bool, len(raw)*2)

	appendKeyword := func(text string, properNoun bool) {
		if seen[text] {
			return
		}
		seen[text] = true
		ordered = append(ordered, Keyword{
			Text:         text,
			Weight:       weightOf(text),
			IsProperNoun: properNoun,
		})
	}

	for _, t := range raw {
		if isProperNoun(t) {
			appendKeyword(t.original, true)
			continue
		}
		if root, ok := matchSynonymRoot(t.lower); ok {
			for _, syn := range synonymMap[root] {
				appendKeyword(syn, false)
			}
			continue
		}
		appendKeyword(t.lower, false)
	}

	fp := QueryFingerprint{Query: query, Keywords: ordered}
	for _, k := range ordered {
		fp.TotalWeight += k.Weight
	}
	fp.Longest = longestKeyword(ordered)
	return fp, nil
}

// tokenize splits query into runs of alphanumeric characters, discarding any
// run shorter than two characters.
func tokenize(query string) []token {
	var tokens []token
	var buf []rune
	flush := func() {
		if len(buf) >= 2 {
			orig := string(buf)
			tokens = append(tokens, token{original: orig, lower: strings.ToLower(orig)})
		}
		buf = buf[:0]
	}
	for _, r := range query {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			buf = append(buf, r)
			continue
		}
		flush()
	}
	flush()
	return tokens
}

// isProperNoun reports whether a token is a proper noun: its original form
// begins with an uppercase letter and its lowercase form is not a
// stop-equivalent or already-known technical vocabulary word.
//
// A capitalized technical term ("Install") is therefore never classified as
// a proper noun and remains eligible for synonym expansion — see the
// resolution recorded in the design ledger's open-questions section.
func isProperNoun(t token) bool {
	r := []rune(t.original)
	if len(r) == 0 || !unicode.IsUpper(r[0]) {
		return false
	}
	if _, stop := stopEquivalents[t.lower]; stop {
		return false
	}
	return !knownVocabulary(t.lower)
}

// matchSynonymRoot implements the "k == b || k.startswith(b)" rule, scanning
// roots in a fixed order and returning the first match.
func matchSynonymRoot(lower string) (string, bool) {
	for _, root := range synonymRoots {
		if lower == root || strings.HasPrefix(lower, root) {
			return root, true
		}
	}
	return "", false
}

// weightOf computes weight(k) = max(len(k), 1).
func weightOf(k string) float64 {
	n := len([]rune(k))
	if n < 1 {
		return 1
	}
	return float64(n)
}

// longestKeyword returns the longest keyword text, ties broken
// lexicographically (ascending).
func longestKeyword(keywords []Keyword) string {
	if len(keywords) == 0 {
		return ""
	}
	texts := make([]string, len(keywords))
	for i, k := range keywords {
		texts[i] = k.Text
	}
	sort.Slice(texts, func(i, j int) bool {
		if len(texts[i]) != len(texts[j]) {
			return len(texts[i]) > len(texts[j])
		}
		return texts[i] < texts[j]
	})
	return texts[0]
}
