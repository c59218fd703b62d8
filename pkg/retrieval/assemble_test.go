package retrieval_test

import (
	"fmt"
	"strings"
	"testing"

	"github.com/kaelstrom/ragforge/pkg/retrieval"
)

func rankedMessage(id, conv, content string, score float64) retrieval.RankedMessage {
	return retrieval.RankedMessage{
		Message: retrieval.Message{ID: id, ConversationID: conv, Content: content},
		Score:   score,
	}
}

func TestContextAssembler_TokenBudgetSafety(t *testing.T) {
	// 100 matching messages of 400 chars (~100 tokens each), budget 500.
	var ranked []retrieval.RankedMessage
	content := strings.Repeat("x", 400)
	for i := 0; i < 100; i++ {
		ranked = append(ranked, rankedMessage(fmt.Sprintf("m%d", i), "c1", content, float64(100-i)))
	}

	asm := retrieval.NewContextAssembler()
	out := asm.Assemble(ranked, 0, 500, nil)

	if out.TotalTokens > 500 {
		t.Fatalf("total_tokens_estimate=%d exceeds max_tokens=500", out.TotalTokens)
	}
	if len(out.Messages) != 5 {
		t.Errorf("want exactly 5 messages (100 tokens each, budget 500), got %d", len(out.Messages))
	}
	if out.PercentUsed < 90 || out.PercentUsed > 100 {
		t.Errorf("context_window_used: want ~100%%, got %.1f", out.PercentUsed)
	}
}

func TestContextAssembler_RespectsTopK(t *testing.T) {
	ranked := []retrieval.RankedMessage{
		rankedMessage("m1", "c1", "hello", 3),
		rankedMessage("m2", "c1", "world", 2),
		rankedMessage("m3", "c1", "third", 1),
	}
	asm := retrieval.NewContextAssembler()
	out := asm.Assemble(ranked, 2, 0, nil)

	if len(out.Messages) != 2 {
		t.Fatalf("want 2 messages (topK=2), got %d", len(out.Messages))
	}
}

func TestContextAssembler_GroupsByConversationPreservingScoreOrder(t *testing.T) {
	ranked := []retrieval.RankedMessage{
		rankedMessage("c1-hi", "c1", "hi", 10),
		rankedMessage("c2-hi", "c2", "hi", 9),
		rankedMessage("c1-lo", "c1", "lo", 8),
	}
	asm := retrieval.NewContextAssembler()
	out := asm.Assemble(ranked, 0, 0, nil)

	if len(out.Messages) != 3 {
		t.Fatalf("want 3 messages, got %d", len(out.Messages))
	}
	// c1 appeared first (highest score), so its group comes first; within it,
	// score order (c1-hi before c1-lo) is preserved.
	ids := []string{out.Messages[0].MessageID, out.Messages[1].MessageID, out.Messages[2].MessageID}
	if ids[0] != "c1-hi" || ids[1] != "c1-lo" || ids[2] != "c2-hi" {
		t.Errorf("unexpected grouping/order: %v", ids)
	}
	if out.ConversationCount != 2 {
		t.Errorf("want 2 distinct conversations, got %d", out.ConversationCount)
	}
}

func TestContextAssembler_StripsRolePrefix(t *testing.T) {
	ranked := []retrieval.RankedMessage{
		rankedMessage("m1", "c1", "assistant: here is the answer", 1),
		rankedMessage("m2", "c1", "no prefix at all", 1),
	}
	asm := retrieval.NewContextAssembler()
	out := asm.Assemble(ranked, 0, 0, nil)

	var gotAssistant, gotDefault bool
	for _, m := range out.Messages {
		if m.MessageID == "m1" {
			gotAssistant = true
			if m.Role != "assistant" || m.Content != "here is the answer" {
				t.Errorf("m1: want role=assistant content stripped, got role=%q content=%q", m.Role, m.Content)
			}
		}
		if m.MessageID == "m2" {
			gotDefault = true
			if m.Role != "user" || m.Content != "no prefix at all" {
				t.Errorf("m2: want default role=user unchanged content, got role=%q content=%q", m.Role, m.Content)
			}
		}
	}
	if !gotAssistant || !gotDefault {
		t.Fatalf("missing expected messages in output: %+v", out.Messages)
	}
}

func TestContextAssembler_CollectsDedupedEvidenceEdges(t *testing.T) {
	ranked := []retrieval.RankedMessage{
		rankedMessage("m1", "c1", "hello", 3),
	}
	edgesByMessage := map[string][]retrieval.ReachedEdge{
		"m1": {
			{KGEdge: retrieval.KGEdge{ID: "e1"}},
			{KGEdge: retrieval.KGEdge{ID: "e1"}}, // duplicate, must collapse
			{KGEdge: retrieval.KGEdge{ID: "e2"}},
		},
	}
	asm := retrieval.NewContextAssembler()
	out := asm.Assemble(ranked, 0, 0, edgesByMessage)

	if len(out.Edges) != 2 {
		t.Fatalf("want 2 deduplicated edges, got %d: %+v", len(out.Edges), out.Edges)
	}
}
