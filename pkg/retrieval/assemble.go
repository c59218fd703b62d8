package retrieval

import (
	"sort"
	"strings"
)

// DefaultTokenBudget is the default token budget T used by the context
// assembler when the caller does not specify one.
const DefaultTokenBudget = 2000

// AssembledMessage is one message included in an [AssembledContext].
type AssembledMessage struct {
	MessageID      string
	ConversationID string
	Role           string
	Content        string
	Score          float64
	Provenance     []Provenance
}

// AssembledContext is the output of [ContextAssembler.Assemble]: a
// token-budgeted, conversation-grouped set of messages plus the knowledge
// graph edges that justify them.
type AssembledContext struct {
	Messages          []AssembledMessage
	Edges             []ReachedEdge
	TotalTokens       int
	BudgetTokens      int
	PercentUsed       float64
	ConversationCount int
}

// ContextAssembler packs a ranked message list into a token-budgeted,
// conversation-grouped context.
type ContextAssembler struct{}

// NewContextAssembler returns a ready-to-use assembler. It holds no state.
func NewContextAssembler() *ContextAssembler { return &ContextAssembler{} }

// estimateTokens approximates the token count of content as ceil(len/4).
func estimateTokens(content string) int {
	n := len(content)
	if n == 0 {
		return 0
	}
	return (n + 3) / 4
}

// roleAndContent extracts a leading "user:" or "assistant:" prefix from
// content, returning the role ("user" by default) and the content with a
// recognized prefix stripped.
func roleAndContent(content string) (role, cleaned string) {
	trimmed := strings.TrimLeft(content, " \t")
	for _, prefix := range []string{"user:", "assistant:"} {
		if len(trimmed) >= len(prefix) && strings.EqualFold(trimmed[:len(prefix)], prefix) {
			role = strings.ToLower(prefix[:len(prefix)-1])
			cleaned = strings.TrimLeft(trimmed[len(prefix):], " \t")
			return role, cleaned
		}
	}
	return "user", content
}

// Assemble greedily packs ranked (already score-sorted) messages into the
// given token budget, stopping once either the budget or topK count is
// reached. Included messages are then grouped by conversation identifier,
// preserving each conversation's relative score order and the order in
// which conversations first appear. edgesByMessage supplies, for each
// included message ID, the reached edges that evidenced it (for the
// returned Edges set); a nil or missing entry contributes no edges.
func (a *ContextAssembler) Assemble(ranked []RankedMessage, topK int, tokenBudget int, edgesByMessage map[string][]ReachedEdge) AssembledContext {
	if tokenBudget <= 0 {
		tokenBudget = DefaultTokenBudget
	}

	type packed struct {
		msg   RankedMessage
		order int
	}

	var selected []packed
	total := 0
	for i, rm := range ranked {
		if topK > 0 && len(selected) >= topK {
			break
		}
		cost := estimateTokens(rm.Message.Content)
		if total+cost > tokenBudget {
			break
		}
		total += cost
		selected = append(selected, packed{msg: rm, order: i})
	}

	convOrder := make([]string, 0)
	seenConv := make(map[string]bool)
	byConv := make(map[string][]packed)
	for _, p := range selected {
		cid := p.msg.Message.ConversationID
		if !seenConv[cid] {
			seenConv[cid] = true
			convOrder = append(convOrder, cid)
		}
		byConv[cid] = append(byConv[cid], p)
	}
	for _, cid := range convOrder {
		group := byConv[cid]
		sort.SliceStable(group, func(i, j int) bool { return group[i].order < group[j].order })
		byConv[cid] = group
	}

	var out []AssembledMessage
	edgeSeen := make(map[string]bool)
	var edges []ReachedEdge
	for _, cid := range convOrder {
		for _, p := range byConv[cid] {
			role, cleaned := roleAndContent(p.msg.Message.Content)
			out = append(out, AssembledMessage{
				MessageID:      p.msg.Message.ID,
				ConversationID: cid,
				Role:           role,
				Content:        cleaned,
				Score:          p.msg.Score,
				Provenance:     p.msg.Provenance,
			})
			for _, e := range edgesByMessage[p.msg.Message.ID] {
				if !edgeSeen[e.ID] {
					edgeSeen[e.ID] = true
					edges = append(edges, e)
				}
			}
		}
	}
	sort.Slice(edges, func(i, j int) bool { return edges[i].ID < edges[j].ID })

	percent := 0.0
	if tokenBudget > 0 {
		percent = float64(total) / float64(tokenBudget) * 100
	}

	return AssembledContext{
		Messages:          out,
		Edges:             edges,
		TotalTokens:       total,
		BudgetTokens:      tokenBudget,
		PercentUsed:       percent,
		ConversationCount: len(convOrder),
	}
}

// EdgesByMessage inverts a reached-edge list into a message-ID-keyed map of
// the edges that list each message as evidence, for use as the
// edgesByMessage argument to [ContextAssembler.Assemble].
func EdgesByMessage(edges []ReachedEdge) map[string][]ReachedEdge {
	out := make(map[string][]ReachedEdge)
	for _, e := range edges {
		for _, mid := range e.Evidence {
			out[mid] = append(out[mid], e)
		}
	}
	return out
}
