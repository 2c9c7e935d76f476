package telemetry

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Metrics holds all application metrics
type Metrics struct {
	SearchCounter      metric.Int64Counter
	SearchDuration     metric.Float64Histogram
	InferenceDuration  metric.Float64Histogram
	EmbeddingCacheHits metric.Int64Counter
	DatabaseOperations metric.Int64Counter
}

// InitMetrics initializes all application metrics
func InitMetrics() (*Metrics, error) {
	meter := otel.Meter("media-archive-search")

	searchCounter, err := meter.Int64Counter(
		"search.requests.total",
		metric.WithDescription("Total search requests by mode"),
	)
	if err != nil {
		return nil, err
	}

	searchDuration, err := meter.Float64Histogram(
		"search.request.duration",
		metric.WithDescription("Search request duration in seconds"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, err
	}

	inferenceDuration, err := meter.Float64Histogram(
		"inference.request.duration",
		metric.WithDescription("Inference sidecar request duration in seconds"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, err
	}

	embeddingCacheHits, err := meter.Int64Counter(
		"embedding.cache.hits",
		metric.WithDescription("Query embedding cache hits"),
	)
	if err != nil {
		return nil, err
	}

	databaseOperations, err := meter.Int64Counter(
		"database.operations.total",
		metric.WithDescription("Total database operations"),
	)
	if err != nil {
		return nil, err
	}

	return &Metrics{
		SearchCounter:      searchCounter,
		SearchDuration:     searchDuration,
		InferenceDuration:  inferenceDuration,
		EmbeddingCacheHits: embeddingCacheHits,
		DatabaseOperations: databaseOperations,
	}, nil
}

// RecordSearch records one search request with its mode and duration.
func (m *Metrics) RecordSearch(ctx context.Context, mode string, seconds float64) {
	if m == nil {
		return
	}
	attrs := metric.WithAttributes(attribute.String("search.mode", mode))
	m.SearchCounter.Add(ctx, 1, attrs)
	m.SearchDuration.Record(ctx, seconds, attrs)
}

// RecordInference records the duration of one sidecar call, keyed by
// endpoint path.
func (m *Metrics) RecordInference(ctx context.Context, path string, seconds float64) {
	if m == nil {
		return
	}
	m.InferenceDuration.Record(ctx, seconds,
		metric.WithAttributes(attribute.String("inference.path", path)))
}

// RecordEmbeddingCacheHit counts one query embedding served from cache.
func (m *Metrics) RecordEmbeddingCacheHit(ctx context.Context) {
	if m == nil {
		return
	}
	m.EmbeddingCacheHits.Add(ctx, 1)
}
