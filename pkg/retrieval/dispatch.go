package retrieval

import (
	"context"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"github.com/kaelstrom/ragforge/internal/observe"
)

// Mode selects which retrieval pathway(s) the dispatcher runs.
type Mode string

const (
	// ModeLexicalOnly runs only the keyword analyzer and lexical searcher.
	ModeLexicalOnly Mode = "lexical_only"

	// ModeGraphOnly runs only the vector searcher and graph traverser.
	ModeGraphOnly Mode = "graph_only"

	// ModeHybrid fans out the lexical and graph pathways concurrently and
	// joins at the fusion ranker. This is the default.
	ModeHybrid Mode = "hybrid"
)

// DefaultRequestDeadline is the per-request wall-clock deadline the
// dispatcher enforces when the caller does not supply a context deadline.
const DefaultRequestDeadline = 5 * time.Second

// DefaultEmbeddingConcurrency bounds the number of concurrent in-flight
// calls to the embedding service.
const DefaultEmbeddingConcurrency = 32

// DefaultTopK is the result count used when a request does not specify one.
const DefaultTopK = 5

// Stats reports per-stage counters and timing for one dispatcher call.
type Stats struct {
	Mode            Mode
	LexicalMatches  int
	EdgeMatches     int
	ReachedEdges    int
	UniqueMessages  int
	ElapsedMillis   int64
	Degraded        bool
	DegradedPathway string

	// CorrelationID is the OTel trace ID of this call, or a generated UUID
	// when no tracer provider is configured, suitable for a client to quote
	// back when reporting an issue. Never empty on a successful response.
	CorrelationID string
}

// Request is the input to [Dispatcher.Retrieve]. The zero value of every
// optional field selects its default: Mode [ModeHybrid], TopK [DefaultTopK],
// MaxTokens [DefaultTokenBudget], and edges included in the response
// (ExcludeEdges follows the same inverted-bool convention as
// http.Transport.DisableCompression so the zero value is the default).
type Request struct {
	Query     string
	TopK      int
	Mode      Mode
	MaxTokens int

	// ExcludeEdges omits the knowledge-graph edge set from the response.
	ExcludeEdges bool
}

// Response is the output of [Dispatcher.Retrieve].
type Response struct {
	Context AssembledContext
	Stats   Stats
}

// Dispatcher is the single public entry point of the retrieval engine: it
// selects a pathway, orchestrates the component pipeline, and returns a
// token-budgeted context plus retrieval statistics.
type Dispatcher struct {
	keyword  *KeywordAnalyzer
	lexical  *LexicalSearcher
	vector   *VectorSearcher
	graph    *GraphTraverser
	filter   *RelevanceFilter
	fusion   *FusionRanker
	assemble *ContextAssembler
	storage  StorageAdapter
	embedSem *semaphore.Weighted
	deadline time.Duration
	maxHops  int
	metrics  *observe.Metrics
}

// DispatcherOption configures a [Dispatcher] constructed by [NewDispatcher].
type DispatcherOption func(*Dispatcher)

// WithRequestDeadline overrides the default per-request wall-clock
// deadline.
func WithRequestDeadline(d time.Duration) DispatcherOption {
	return func(disp *Dispatcher) { disp.deadline = d }
}

// WithEmbeddingConcurrency overrides the default bound on concurrent
// embedding-service calls.
func WithEmbeddingConcurrency(n int64) DispatcherOption {
	return func(disp *Dispatcher) { disp.embedSem = semaphore.NewWeighted(n) }
}

// WithCacheTTL overrides the default TTL of the in-process vector search
// cache. A non-positive ttl disables caching.
func WithCacheTTL(ttl time.Duration) DispatcherOption {
	return func(disp *Dispatcher) { disp.vector = NewVectorSearcher(disp.storage, ttl) }
}

// WithMaxHops overrides the default graph traversal hop bound. A
// non-positive value falls back to [DefaultMaxHops].
func WithMaxHops(hops int) DispatcherOption {
	return func(disp *Dispatcher) { disp.maxHops = hops }
}

// WithMetrics overrides the [observe.Metrics] instance the dispatcher records
// to. Tests should supply a [observe.NewMetrics] built on a private
// [metric.MeterProvider] to avoid polluting the global one; production code
// can leave this unset to use [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) DispatcherOption {
	return func(disp *Dispatcher) { disp.metrics = m }
}

// NewDispatcher wires the full component pipeline on top of storage.
func NewDispatcher(storage StorageAdapter, opts ...DispatcherOption) *Dispatcher {
	filter := NewRelevanceFilter()
	disp := &Dispatcher{
		keyword:  NewKeywordAnalyzer(),
		lexical:  NewLexicalSearcher(storage),
		vector:   NewVectorSearcher(storage, 60*time.Second),
		graph:    NewGraphTraverser(storage),
		filter:   filter,
		fusion:   NewFusionRanker(filter),
		assemble: NewContextAssembler(),
		storage:  storage,
		embedSem: semaphore.NewWeighted(DefaultEmbeddingConcurrency),
		deadline: DefaultRequestDeadline,
		maxHops:  DefaultMaxHops,
		metrics:  observe.DefaultMetrics(),
	}
	for _, o := range opts {
		o(disp)
	}
	return disp
}

// Retrieve runs the requested pathway(s) and returns a fused, assembled
// context. Mode defaults to [ModeHybrid]. A zero-value TopK or MaxTokens
// falls back to the component defaults.
func (d *Dispatcher) Retrieve(ctx context.Context, req Request) (Response, error) {
	start := time.Now()

	ctx, span := observe.StartSpan(ctx, "retrieval.Retrieve")
	defer span.End()

	mode := req.Mode
	if mode == "" {
		mode = ModeHybrid
	}
	topK := req.TopK
	if topK <= 0 {
		topK = DefaultTopK
	}

	ctx, cancel := context.WithTimeout(ctx, d.deadline)
	defer cancel()

	kwStart := time.Now()
	fp, err := d.keyword.Analyze(req.Query)
	d.metrics.KeywordAnalysisDuration.Record(ctx, time.Since(kwStart).Seconds())
	if err != nil {
		d.metrics.RecordRequest(ctx, string(mode), "error")
		return Response{}, err
	}

	var (
		ranked         []RankedMessage
		stats          Stats
		edgesByMessage map[string][]ReachedEdge
	)
	stats.Mode = mode

	switch mode {
	case ModeLexicalOnly:
		ranked, edgesByMessage, stats, err = d.runLexicalOnly(ctx, fp, topK, stats)
	case ModeGraphOnly:
		ranked, edgesByMessage, stats, err = d.runGraphOnly(ctx, fp, topK, stats)
	default:
		ranked, edgesByMessage, stats, err = d.runHybrid(ctx, fp, topK, stats)
	}
	if err != nil {
		d.metrics.RecordRequest(ctx, string(mode), "error")
		if ctx.Err() == context.DeadlineExceeded {
			return Response{}, NewError(KindTimeout, "dispatch.Retrieve", ctx.Err())
		}
		if ctx.Err() == context.Canceled {
			return Response{}, NewError(KindCancelled, "dispatch.Retrieve", ctx.Err())
		}
		return Response{}, err
	}
	if stats.Degraded {
		d.metrics.RecordDegraded(ctx, stats.DegradedPathway)
	}

	kept := make([]RankedMessage, 0, len(ranked))
	for _, rm := range ranked {
		if d.filter.KeepMessage(rm.Message.Content, rm.lexicalScore, fp) {
			kept = append(kept, rm)
		}
	}
	stats.UniqueMessages = len(kept)

	if req.ExcludeEdges {
		edgesByMessage = nil
	}

	asmStart := time.Now()
	assembled := d.assemble.Assemble(kept, topK, req.MaxTokens, edgesByMessage)
	d.metrics.AssemblyDuration.Record(ctx, time.Since(asmStart).Seconds())
	d.metrics.TokenBudgetUsedPercent.Record(ctx, assembled.PercentUsed)

	stats.ElapsedMillis = time.Since(start).Milliseconds()
	stats.CorrelationID = observe.CorrelationID(ctx)
	if stats.CorrelationID == "" {
		stats.CorrelationID = uuid.NewString()
	}
	d.metrics.RequestDuration.Record(ctx, time.Since(start).Seconds())
	d.metrics.RecordRequest(ctx, string(mode), "ok")
	return Response{Context: assembled, Stats: stats}, nil
}

func (d *Dispatcher) runLexicalOnly(ctx context.Context, fp QueryFingerprint, topK int, stats Stats) ([]RankedMessage, map[string][]ReachedEdge, Stats, error) {
	ctx, span := observe.StartSpan(ctx, "retrieval.lexical_search")
	defer span.End()

	lexStart := time.Now()
	hits, err := d.lexical.Search(ctx, fp, topK)
	d.metrics.LexicalSearchDuration.Record(ctx, time.Since(lexStart).Seconds())
	if err != nil {
		d.metrics.RecordStorageError(ctx, "FTSSearch")
		return nil, nil, stats, err
	}
	stats.LexicalMatches = len(hits)

	messages := make(map[string]Message, len(hits))
	for _, h := range hits {
		messages[h.MessageID] = Message{ID: h.MessageID, Content: h.Content, ConversationID: h.ConversationID}
	}

	fusionStart := time.Now()
	ranked := d.fusion.Fuse(hits, nil, fp, messages)
	d.metrics.FusionDuration.Record(ctx, time.Since(fusionStart).Seconds())
	return ranked, nil, stats, nil
}

func (d *Dispatcher) runGraphOnly(ctx context.Context, fp QueryFingerprint, topK int, stats Stats) ([]RankedMessage, map[string][]ReachedEdge, Stats, error) {
	ctx, span := observe.StartSpan(ctx, "retrieval.graph_only")
	defer span.End()

	if err := d.embedSem.Acquire(ctx, 1); err != nil {
		return nil, nil, stats, NewError(KindCancelled, "dispatch.runGraphOnly", err)
	}
	vecStart := time.Now()
	seeds, err := d.vector.Search(ctx, fp.Query, topK)
	d.embedSem.Release(1)
	d.metrics.VectorSearchDuration.Record(ctx, time.Since(vecStart).Seconds())
	if err != nil {
		d.metrics.RecordEmbeddingError(ctx, "embedding")
		return nil, nil, stats, err
	}
	stats.EdgeMatches = len(seeds)

	seeds = d.filter.FilterEdges(seeds, fp)

	graphStart := time.Now()
	reached, err := d.graph.Traverse(ctx, seeds, d.maxHops)
	d.metrics.GraphTraversalDuration.Record(ctx, time.Since(graphStart).Seconds())
	if err != nil {
		return nil, nil, stats, err
	}
	stats.ReachedEdges = len(reached)

	evidenceIDs := uniqueEvidenceIDs(reached)
	msgs, err := d.storage.FetchMessages(ctx, evidenceIDs)
	if err != nil {
		d.metrics.RecordStorageError(ctx, "FetchMessages")
		return nil, nil, stats, NewError(KindTransport, "dispatch.runGraphOnly", err)
	}
	messages := make(map[string]Message, len(msgs))
	for _, m := range msgs {
		messages[m.ID] = m
	}

	edgesByMessage := EdgesByMessage(reached)

	fusionStart := time.Now()
	ranked := d.fusion.Fuse(nil, reached, fp, messages)
	d.metrics.FusionDuration.Record(ctx, time.Since(fusionStart).Seconds())
	return ranked, edgesByMessage, stats, nil
}

func (d *Dispatcher) runHybrid(ctx context.Context, fp QueryFingerprint, topK int, stats Stats) ([]RankedMessage, map[string][]ReachedEdge, Stats, error) {
	ctx, span := observe.StartSpan(ctx, "retrieval.hybrid")
	defer span.End()

	var (
		lexHits []LexicalHit
		reached []ReachedEdge
		seeds   []VectorHit
	)

	eg, egCtx := errgroup.WithContext(ctx)
	var lexErr, graphErr error

	eg.Go(func() error {
		lexStart := time.Now()
		hits, err := d.lexical.Search(egCtx, fp, topK)
		d.metrics.LexicalSearchDuration.Record(egCtx, time.Since(lexStart).Seconds())
		if err != nil {
			d.metrics.RecordStorageError(egCtx, "FTSSearch")
			lexErr = err
			return nil // degrade, don't abort the sibling pathway
		}
		lexHits = hits
		return nil
	})

	eg.Go(func() error {
		if err := d.embedSem.Acquire(egCtx, 1); err != nil {
			graphErr = NewError(KindCancelled, "dispatch.runHybrid", err)
			return nil
		}
		vecStart := time.Now()
		s, err := d.vector.Search(egCtx, fp.Query, topK)
		d.embedSem.Release(1)
		d.metrics.VectorSearchDuration.Record(egCtx, time.Since(vecStart).Seconds())
		if err != nil {
			d.metrics.RecordEmbeddingError(egCtx, "embedding")
			graphErr = err
			return nil
		}
		s = d.filter.FilterEdges(s, fp)
		seeds = s

		graphStart := time.Now()
		r, err := d.graph.Traverse(egCtx, s, d.maxHops)
		d.metrics.GraphTraversalDuration.Record(egCtx, time.Since(graphStart).Seconds())
		if err != nil {
			graphErr = err
			return nil
		}
		reached = r
		return nil
	})

	_ = eg.Wait()

	if lexErr != nil && graphErr != nil {
		return nil, nil, stats, lexErr
	}
	if lexErr != nil {
		observe.Logger(ctx).Warn("hybrid retrieval: lexical pathway degraded", "error", lexErr)
		stats.Degraded = true
		stats.DegradedPathway = "lexical"
	}
	if graphErr != nil {
		observe.Logger(ctx).Warn("hybrid retrieval: graph pathway degraded", "error", graphErr)
		stats.Degraded = true
		stats.DegradedPathway = "graph"
	}

	stats.LexicalMatches = len(lexHits)
	stats.EdgeMatches = len(seeds)
	stats.ReachedEdges = len(reached)

	messages := make(map[string]Message)
	for _, h := range lexHits {
		messages[h.MessageID] = Message{ID: h.MessageID, Content: h.Content, ConversationID: h.ConversationID}
	}
	if len(reached) > 0 {
		evidenceIDs := uniqueEvidenceIDs(reached)
		msgs, err := d.storage.FetchMessages(ctx, evidenceIDs)
		if err != nil {
			if lexErr != nil {
				return nil, nil, stats, NewError(KindTransport, "dispatch.runHybrid", err)
			}
			observe.Logger(ctx).Warn("hybrid retrieval: graph evidence materialization degraded", "error", err)
			stats.Degraded = true
			stats.DegradedPathway = "graph"
			reached = nil
		} else {
			for _, m := range msgs {
				messages[m.ID] = m
			}
		}
	}

	edgesByMessage := EdgesByMessage(reached)

	fusionStart := time.Now()
	ranked := d.fusion.Fuse(lexHits, reached, fp, messages)
	d.metrics.FusionDuration.Record(ctx, time.Since(fusionStart).Seconds())
	return ranked, edgesByMessage, stats, nil
}

// uniqueEvidenceIDs collects the deduplicated union of evidence message IDs
// across reached edges.
func uniqueEvidenceIDs(edges []ReachedEdge) []string {
	seen := make(map[string]bool)
	var out []string
	for _, e := range edges {
		for _, mid := range e.Evidence {
			if !seen[mid] {
				seen[mid] = true
				out = append(out, mid)
			}
		}
	}
	return out
}
