package retrieval_test

import (
	"testing"

	"github.com/kaelstrom/ragforge/pkg/retrieval"
)

func TestFusionRanker_DeduplicatesAndBoosts(t *testing.T) {
	fp := mustFingerprint(t, "python pip install")
	ranker := retrieval.NewFusionRanker(nil)

	messages := map[string]retrieval.Message{
		"m1": {ID: "m1", ConversationID: "c1", Content: "user uses pip to install things"},
		"m2": {ID: "m2", ConversationID: "c1", Content: "completely unrelated filler about cooking"},
	}

	lexical := []retrieval.LexicalHit{
		{MessageID: "m1", Content: messages["m1"].Content, ConversationID: "c1", Score: 1.5},
	}
	edges := []retrieval.ReachedEdge{
		{
			KGEdge:         retrieval.KGEdge{ID: "e1", ConversationID: "c1", Evidence: []string{"m1"}},
			Hops:           0,
			SeedSimilarity: 0.8,
		},
		{
			KGEdge:         retrieval.KGEdge{ID: "e2", ConversationID: "c1", Evidence: []string{"m2"}},
			Hops:           1,
			SeedSimilarity: 0.9,
		},
	}

	out := ranker.Fuse(lexical, edges, fp, messages)

	// m1 appears exactly once (dedup across lexical + graph-evidence).
	count := 0
	var m1Rank, m2Rank *retrieval.RankedMessage
	for i := range out {
		if out[i].Message.ID == "m1" {
			count++
			m1Rank = &out[i]
		}
		if out[i].Message.ID == "m2" {
			m2Rank = &out[i]
		}
	}
	if count != 1 {
		t.Fatalf("message m1: want exactly 1 occurrence, got %d", count)
	}
	if m1Rank == nil {
		t.Fatal("m1 missing from fused output")
	}
	if len(m1Rank.Provenance) != 2 {
		t.Errorf("m1 provenance: want both lexical and graph-evidence, got %v", m1Rank.Provenance)
	}

	// m1's score must exceed any message reached only via graph (m2), since
	// m1 has both a strong lexical score and graph evidence.
	if m2Rank != nil && m1Rank.Score <= m2Rank.Score {
		t.Errorf("score_final(m1)=%.4f should exceed score_final(m2)=%.4f", m1Rank.Score, m2Rank.Score)
	}
}

func TestFusionRanker_ZeroBaseDropped(t *testing.T) {
	fp := mustFingerprint(t, "install")
	ranker := retrieval.NewFusionRanker(nil)

	// A message present in neither pathway with a positive score should
	// never appear (here, simulated by a lexical hit with score 0 and no
	// graph evidence — base() is 0, so it's dropped regardless of coverage).
	messages := map[string]retrieval.Message{
		"m1": {ID: "m1", ConversationID: "c1", Content: "install setup installation pip npm brew"},
	}
	lexical := []retrieval.LexicalHit{{MessageID: "m1", Content: messages["m1"].Content, ConversationID: "c1", Score: 0}}

	out := ranker.Fuse(lexical, nil, fp, messages)
	if len(out) != 0 {
		t.Errorf("want zero-base candidate dropped, got %+v", out)
	}
}

func TestFusionRanker_DecayAttenuatesWithHops(t *testing.T) {
	fp := mustFingerprint(t, "install")
	ranker := retrieval.NewFusionRanker(nil)

	messages := map[string]retrieval.Message{
		"near": {ID: "near", ConversationID: "c1", Content: "install setup installation pip npm brew"},
		"far":  {ID: "far", ConversationID: "c1", Content: "install setup installation pip npm brew"},
	}
	edges := []retrieval.ReachedEdge{
		{KGEdge: retrieval.KGEdge{ID: "e-near", ConversationID: "c1", Evidence: []string{"near"}}, Hops: 0, SeedSimilarity: 0.9},
		{KGEdge: retrieval.KGEdge{ID: "e-far", ConversationID: "c1", Evidence: []string{"far"}}, Hops: 2, SeedSimilarity: 0.9},
	}

	out := ranker.Fuse(nil, edges, fp, messages)
	var nearScore, farScore float64
	for _, rm := range out {
		if rm.Message.ID == "near" {
			nearScore = rm.Score
		}
		if rm.Message.ID == "far" {
			farScore = rm.Score
		}
	}
	if nearScore <= farScore {
		t.Errorf("decay(hop) must attenuate score: near (hop 0) = %.4f should exceed far (hop 2) = %.4f", nearScore, farScore)
	}
}

func TestFusionRanker_TieBreakOrder(t *testing.T) {
	fp := mustFingerprint(t, "install")
	ranker := retrieval.NewFusionRanker(nil)

	// Construct three candidates with identical final scores but different
	// provenance classes, to exercise the lexical-only < graph-only < mixed
	// tie-break order.
	messages := map[string]retrieval.Message{
		"zzz-lex":   {ID: "zzz-lex", ConversationID: "c1", Content: "install"},
		"aaa-graph": {ID: "aaa-graph", ConversationID: "c1", Content: "install"},
	}
	lexical := []retrieval.LexicalHit{{MessageID: "zzz-lex", Content: "install", ConversationID: "c1", Score: 1}}
	edges := []retrieval.ReachedEdge{
		{KGEdge: retrieval.KGEdge{ID: "e1", ConversationID: "c1", Evidence: []string{"aaa-graph"}}, Hops: 0, SeedSimilarity: 1},
	}

	out := ranker.Fuse(lexical, edges, fp, messages)
	if len(out) != 2 {
		t.Fatalf("want 2 ranked messages, got %d", len(out))
	}
	if out[0].Score == out[1].Score && out[0].Message.ID != "zzz-lex" {
		t.Errorf("equal-score tie-break: lexical-only must precede graph-only, got order %v", []string{out[0].Message.ID, out[1].Message.ID})
	}
}
