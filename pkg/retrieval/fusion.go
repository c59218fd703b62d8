package retrieval

import "sort"

// RankedMessage is one fused, scored result from [FusionRanker.Fuse].
type RankedMessage struct {
	Message    Message
	Score      float64
	Coverage   float64
	Provenance []Provenance

	lexicalScore float64
	bestEdgeSim  float64
}

// lexicalOnly reports whether the message was scored only by the lexical
// pathway.
func (r RankedMessage) lexicalOnly() bool {
	return len(r.Provenance) == 1 && r.Provenance[0] == ProvenanceLexical
}

// graphOnly reports whether the message was scored only by the graph
// pathway.
func (r RankedMessage) graphOnly() bool {
	return len(r.Provenance) == 1 && r.Provenance[0] == ProvenanceGraphEvidence
}

// FusionRanker combines lexical hits and graph-reached edges into one
// ranked, deduplicated list of messages.
type FusionRanker struct {
	filter *RelevanceFilter
}

// NewFusionRanker returns a ranker using filter to compute per-message
// keyword coverage. A nil filter uses a default [RelevanceFilter].
func NewFusionRanker(filter *RelevanceFilter) *FusionRanker {
	if filter == nil {
		filter = NewRelevanceFilter()
	}
	return &FusionRanker{filter: filter}
}

// Fuse scores the union of lexical hits and the messages evidenced by
// graph-reached edges.
//
// For each unique message: coverage is the keyword-coverage fraction of its
// content; boost = 2.0 + 2.0*coverage; base is the larger of its lexical
// score (0 if absent from the lexical pathway) and, over every reached edge
// whose evidence lists this message, edge similarity * decay(hops), where
// decay(h) = 1/(1+h); score = base * boost. Messages whose base is zero
// (present in neither pathway with positive score) are dropped. Results are
// sorted by descending score, ties broken so lexical-only results precede
// graph-only results, which precede mixed results, and finally by message
// ID.
func (r *FusionRanker) Fuse(lexical []LexicalHit, edges []ReachedEdge, fp QueryFingerprint, messages map[string]Message) []RankedMessage {
	acc := make(map[string]*RankedMessage)
	order := make([]string, 0, len(lexical)+len(edges))

	get := func(mid string) *RankedMessage {
		rm, ok := acc[mid]
		if !ok {
			rm = &RankedMessage{Message: messages[mid]}
			acc[mid] = rm
			order = append(order, mid)
		}
		return rm
	}

	for _, l := range lexical {
		rm := get(l.MessageID)
		if l.Score > rm.lexicalScore {
			rm.lexicalScore = l.Score
		}
		rm.Provenance = appendProvenance(rm.Provenance, ProvenanceLexical)
	}

	for _, e := range edges {
		edgeScore := e.SeedSimilarity * decay(e.Hops)
		for _, mid := range e.Evidence {
			rm := get(mid)
			if edgeScore > rm.bestEdgeSim {
				rm.bestEdgeSim = edgeScore
			}
			rm.Provenance = appendProvenance(rm.Provenance, ProvenanceGraphEvidence)
		}
	}

	out := make([]RankedMessage, 0, len(order))
	for _, mid := range order {
		rm := acc[mid]
		coverage, _ := r.filter.Coverage(rm.Message.Content, fp)
		boost := 2.0 + 2.0*coverage

		base := rm.lexicalScore
		if rm.bestEdgeSim > base {
			base = rm.bestEdgeSim
		}
		if base <= 0 {
			continue
		}

		rm.Coverage = coverage
		rm.Score = base * boost
		out = append(out, *rm)
	}

	sort.Slice(out, func(i, j int) bool {
		if out[i].Score != out[j].Score {
			return out[i].Score > out[j].Score
		}
		ri, rj := rankClass(out[i]), rankClass(out[j])
		if ri != rj {
			return ri < rj
		}
		return out[i].Message.ID < out[j].Message.ID
	})
	return out
}

// decay returns 1/(1+h), the per-hop attenuation applied to graph-sourced
// evidence scores.
func decay(hops int) float64 {
	return 1.0 / (1.0 + float64(hops))
}

// rankClass orders tie-break classes: lexical-only (0) < graph-only (1) <
// mixed (2).
func rankClass(rm RankedMessage) int {
	switch {
	case rm.lexicalOnly():
		return 0
	case rm.graphOnly():
		return 1
	default:
		return 2
	}
}

func appendProvenance(provs []Provenance, p Provenance) []Provenance {
	for _, existing := range provs {
		if existing == p {
			return provs
		}
	}
	return append(provs, p)
}
