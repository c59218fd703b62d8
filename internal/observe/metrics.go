// Package observe provides application-wide observability primitives for
// the retrieval engine: OpenTelemetry metrics and distributed tracing for
// the dispatcher, its pathways, and the embedding provider call.
//
// Metrics are recorded through the OpenTelemetry Metrics API. A Prometheus
// exporter bridge is available via [InitProvider]; this package does not
// itself serve a /metrics HTTP endpoint. A package-level default
// [Metrics] instance ([DefaultMetrics]) is provided for convenience; tests
// should use [NewMetrics] with a custom [metric.MeterProvider] to avoid
// cross-test pollution.
package observe

import (
	"context"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// meterName is the instrumentation scope name used for all retrieval metrics.
const meterName = "github.com/kaelstrom/ragforge"

// Metrics holds all OpenTelemetry metric instruments for the application.
// All fields are safe for concurrent use — the underlying OTel types handle
// their own synchronisation.
type Metrics struct {
	// --- Latency histograms per retrieval stage ---

	// KeywordAnalysisDuration tracks query keyword extraction latency.
	KeywordAnalysisDuration metric.Float64Histogram

	// LexicalSearchDuration tracks full-text search latency.
	LexicalSearchDuration metric.Float64Histogram

	// VectorSearchDuration tracks dense vector search latency.
	VectorSearchDuration metric.Float64Histogram

	// GraphTraversalDuration tracks BFS graph expansion latency.
	GraphTraversalDuration metric.Float64Histogram

	// FusionDuration tracks result fusion and ranking latency.
	FusionDuration metric.Float64Histogram

	// AssemblyDuration tracks context assembly latency.
	AssemblyDuration metric.Float64Histogram

	// RequestDuration tracks end-to-end Dispatcher.Retrieve latency.
	RequestDuration metric.Float64Histogram

	// EmbeddingDuration tracks embedding provider call latency.
	EmbeddingDuration metric.Float64Histogram

	// --- Counters ---

	// RequestsByMode counts retrieval requests. Use with attributes:
	//   attribute.String("mode", ...), attribute.String("status", ...)
	RequestsByMode metric.Int64Counter

	// EmbeddingRequests counts embedding provider calls. Use with attributes:
	//   attribute.String("provider", ...), attribute.String("status", ...)
	EmbeddingRequests metric.Int64Counter

	// DegradedRequests counts hybrid-mode requests that completed on a
	// single pathway after the other one failed. Use with attribute:
	//   attribute.String("pathway", ...)
	DegradedRequests metric.Int64Counter

	// --- Error counters ---

	// EmbeddingErrors counts embedding provider errors. Use with attribute:
	//   attribute.String("provider", ...)
	EmbeddingErrors metric.Int64Counter

	// StorageErrors counts storage adapter errors. Use with attribute:
	//   attribute.String("op", ...)
	StorageErrors metric.Int64Counter

	// CircuitBreakerTrips counts transitions of a [resilience.CircuitBreaker]
	// into the open state. Use with attribute:
	//   attribute.String("breaker", ...)
	CircuitBreakerTrips metric.Int64Counter

	// --- Gauges ---

	// TokenBudgetUsedPercent records, for each context assembly, the
	// percentage of its token budget consumed.
	TokenBudgetUsedPercent metric.Float64Histogram
}

// latencyBuckets defines histogram bucket boundaries (in seconds) for
// retrieval-stage latencies, which run from sub-millisecond keyword parsing
// up to multi-second hybrid requests under the request deadline.
var latencyBuckets = []float64{
	0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5,
}

// NewMetrics creates a fully initialised [Metrics] struct using the given
// [metric.MeterProvider]. Returns an error if any instrument creation fails.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	// Histograms.
	if met.KeywordAnalysisDuration, err = m.Float64Histogram("ragforge.keyword_analysis.duration",
		metric.WithDescription("Latency of query keyword extraction."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.LexicalSearchDuration, err = m.Float64Histogram("ragforge.lexical_search.duration",
		metric.WithDescription("Latency of full-text lexical search."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.VectorSearchDuration, err = m.Float64Histogram("ragforge.vector_search.duration",
		metric.WithDescription("Latency of dense vector search over edge embeddings."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.GraphTraversalDuration, err = m.Float64Histogram("ragforge.graph_traversal.duration",
		metric.WithDescription("Latency of hop-bounded BFS graph expansion."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.FusionDuration, err = m.Float64Histogram("ragforge.fusion.duration",
		metric.WithDescription("Latency of lexical/graph result fusion and ranking."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.AssemblyDuration, err = m.Float64Histogram("ragforge.assembly.duration",
		metric.WithDescription("Latency of token-budgeted context assembly."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.RequestDuration, err = m.Float64Histogram("ragforge.request.duration",
		metric.WithDescription("End-to-end Dispatcher.Retrieve latency."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.EmbeddingDuration, err = m.Float64Histogram("ragforge.embedding.duration",
		metric.WithDescription("Latency of embedding provider calls."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}

	// Counters.
	if met.RequestsByMode, err = m.Int64Counter("ragforge.requests",
		metric.WithDescription("Total retrieval requests by mode and status."),
	); err != nil {
		return nil, err
	}
	if met.EmbeddingRequests, err = m.Int64Counter("ragforge.embedding.requests",
		metric.WithDescription("Total embedding provider requests by provider and status."),
	); err != nil {
		return nil, err
	}
	if met.DegradedRequests, err = m.Int64Counter("ragforge.degraded_requests",
		metric.WithDescription("Total hybrid requests that completed on a single pathway."),
	); err != nil {
		return nil, err
	}

	// Error counters.
	if met.EmbeddingErrors, err = m.Int64Counter("ragforge.embedding.errors",
		metric.WithDescription("Total embedding provider errors by provider."),
	); err != nil {
		return nil, err
	}
	if met.StorageErrors, err = m.Int64Counter("ragforge.storage.errors",
		metric.WithDescription("Total storage adapter errors by operation."),
	); err != nil {
		return nil, err
	}
	if met.CircuitBreakerTrips, err = m.Int64Counter("ragforge.circuit_breaker.trips",
		metric.WithDescription("Total circuit breaker transitions into the open state."),
	); err != nil {
		return nil, err
	}

	// Gauges.
	if met.TokenBudgetUsedPercent, err = m.Float64Histogram("ragforge.token_budget.used_percent",
		metric.WithDescription("Percentage of the token budget consumed by assembled context."),
		metric.WithUnit("%"),
	); err != nil {
		return nil, err
	}

	return met, nil
}

// defaultMetrics is the lazily-initialised package-level Metrics instance.
var (
	defaultMetrics     *Metrics
	defaultMetricsOnce sync.Once
)

// DefaultMetrics returns the package-level [Metrics] instance, creating it on
// first call using [otel.GetMeterProvider]. Subsequent calls return the same
// pointer. Panics if instrument creation fails (should not happen with the
// global provider).
func DefaultMetrics() *Metrics {
	defaultMetricsOnce.Do(func() {
		var err error
		defaultMetrics, err = NewMetrics(otel.GetMeterProvider())
		if err != nil {
			panic("observe: failed to create default metrics: " + err.Error())
		}
	})
	return defaultMetrics
}

// Attr is a convenience alias for [attribute.String] to reduce verbosity at
// call sites.
func Attr(key, value string) attribute.KeyValue {
	return attribute.String(key, value)
}

// RecordRequest is a convenience method that records a retrieval request
// counter increment with the standard attribute set.
func (m *Metrics) RecordRequest(ctx context.Context, mode, status string) {
	m.RequestsByMode.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("mode", mode),
			attribute.String("status", status),
		),
	)
}

// RecordEmbeddingRequest is a convenience method that records an embedding
// provider request counter increment with the standard attribute set.
func (m *Metrics) RecordEmbeddingRequest(ctx context.Context, provider, status string) {
	m.EmbeddingRequests.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("provider", provider),
			attribute.String("status", status),
		),
	)
}

// RecordDegraded is a convenience method that records a hybrid-mode
// single-pathway degradation, attributed to the pathway that failed.
func (m *Metrics) RecordDegraded(ctx context.Context, pathway string) {
	m.DegradedRequests.Add(ctx, 1,
		metric.WithAttributes(attribute.String("pathway", pathway)),
	)
}

// RecordEmbeddingError is a convenience method that records an embedding
// provider error counter increment.
func (m *Metrics) RecordEmbeddingError(ctx context.Context, provider string) {
	m.EmbeddingErrors.Add(ctx, 1,
		metric.WithAttributes(attribute.String("provider", provider)),
	)
}

// RecordStorageError is a convenience method that records a storage adapter
// error counter increment.
func (m *Metrics) RecordStorageError(ctx context.Context, op string) {
	m.StorageErrors.Add(ctx, 1,
		metric.WithAttributes(attribute.String("op", op)),
	)
}

// RecordCircuitBreakerTrip is a convenience method that records a circuit
// breaker transition into the open state, identified by breaker name.
func (m *Metrics) RecordCircuitBreakerTrip(ctx context.Context, breaker string) {
	m.CircuitBreakerTrips.Add(ctx, 1,
		metric.WithAttributes(attribute.String("breaker", breaker)),
	)
}
