package telemetry

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Metrics holds all application metrics
type Metrics struct {
	RequestCounter   metric.Int64Counter
	RequestDuration  metric.Float64Histogram
	RunsPersisted    metric.Int64Counter
	SourcesExtracted metric.Int64Counter
	ExcerptFetches   metric.Int64Counter
}

// InitMetrics initializes all application metrics
func InitMetrics() (*Metrics, error) {
	meter := otel.Meter("pmc-rag-platform")

	requestCounter, err := meter.Int64Counter(
		"http.requests.total",
		metric.WithDescription("Total HTTP requests"),
	)
	if err != nil {
		return nil, err
	}

	requestDuration, err := meter.Float64Histogram(
		"http.request.duration",
		metric.WithDescription("HTTP request duration in seconds"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, err
	}

	runsPersisted, err := meter.Int64Counter(
		"audit.runs.persisted",
		metric.WithDescription("Audit runs written to the run store"),
	)
	if err != nil {
		return nil, err
	}

	sourcesExtracted, err := meter.Int64Counter(
		"grounding.sources.extracted",
		metric.WithDescription("Deduplicated sources extracted from grounding metadata"),
	)
	if err != nil {
		return nil, err
	}

	excerptFetches, err := meter.Int64Counter(
		"excerpt.fetches.total",
		metric.WithDescription("Best-effort excerpt fetches, by outcome"),
	)
	if err != nil {
		return nil, err
	}

	return &Metrics{
		RequestCounter:   requestCounter,
		RequestDuration:  requestDuration,
		RunsPersisted:    runsPersisted,
		SourcesExtracted: sourcesExtracted,
		ExcerptFetches:   excerptFetches,
	}, nil
}

// RecordRequest records one completed HTTP request
func (m *Metrics) RecordRequest(method, path, status string, duration float64) {
	ctx := context.Background()
	attrs := metric.WithAttributes(
		attribute.String("method", method),
		attribute.String("path", path),
		attribute.String("status", status),
	)
	m.RequestCounter.Add(ctx, 1, attrs)
	m.RequestDuration.Record(ctx, duration, attrs)
}

// RecordRunPersisted counts one audit run written to the store.
func (m *Metrics) RecordRunPersisted() {
	if m == nil {
		return
	}
	m.RunsPersisted.Add(context.Background(), 1)
}

// RecordSourcesExtracted counts deduplicated sources produced by one
// grounding mapping.
func (m *Metrics) RecordSourcesExtracted(n int) {
	if m == nil || n == 0 {
		return
	}
	m.SourcesExtracted.Add(context.Background(), int64(n))
}

// RecordExcerptFetch counts one best-effort excerpt fetch by outcome.
func (m *Metrics) RecordExcerptFetch(outcome string) {
	if m == nil {
		return
	}
	m.ExcerptFetches.Add(context.Background(), 1,
		metric.WithAttributes(attribute.String("outcome", outcome)))
}
