// Package observe provides application-wide observability primitives for
// subtitlecore: OpenTelemetry metrics, distributed tracing, structured
// logging, and HTTP middleware that ties them together.
//
// Metrics are recorded through the OpenTelemetry Metrics API. A Prometheus
// exporter bridge is available via [InitProvider] so that metrics can still be
// scraped via the standard /metrics endpoint. A package-level default
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

// meterName is the instrumentation scope name used for all subtitlecore metrics.
const meterName = "github.com/subtitleworks/core"

// Metrics holds all OpenTelemetry metric instruments for the application.
// All fields are safe for concurrent use — the underlying OTel types handle
// their own synchronisation.
type Metrics struct {
	// --- Job lifecycle ---

	// JobsSubmitted counts jobs accepted by the job manager. Use with
	// attribute.String("kind", ...) for full/url/resume.
	JobsSubmitted metric.Int64Counter

	// JobsActive tracks the number of jobs currently queued or running.
	JobsActive metric.Int64UpDownCounter

	// StageDuration tracks how long each pipeline stage took. Use with
	// attribute.String("stage", ...).
	StageDuration metric.Float64Histogram

	// --- Pipeline fallback counters ---

	// ASRProviderFallback counts ASR dispatcher chain entries served by a
	// provider other than the chain's first member. Use with
	// attribute.String("provider", ...).
	ASRProviderFallback metric.Int64Counter

	// LLMProtocolFallback counts LLM calls that fell back from the first
	// negotiated protocol (responses/chat) to the second.
	LLMProtocolFallback metric.Int64Counter

	// TranslationBatchSize records the sentence count per translation batch.
	TranslationBatchSize metric.Int64Histogram

	// --- HTTP middleware ---

	// HTTPRequestDuration tracks HTTP request processing time. Use with attributes:
	//   attribute.String("method", ...), attribute.String("path", ...)
	HTTPRequestDuration metric.Float64Histogram
}

// latencyBuckets defines histogram bucket boundaries (in seconds), wide
// enough to span a single translation batch call and a full pipeline stage.
var latencyBuckets = []float64{
	0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60, 300,
}

// batchSizeBuckets defines histogram bucket boundaries for translation batch
// sentence counts.
var batchSizeBuckets = []float64{
	1, 2, 5, 10, 20, 40, 80, 160,
}

// NewMetrics creates a fully initialised [Metrics] struct using the given
// [metric.MeterProvider]. Returns an error if any instrument creation fails.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	if met.JobsSubmitted, err = m.Int64Counter("subtitlecore.jobs_submitted_total",
		metric.WithDescription("Total jobs accepted by the job manager, by kind."),
	); err != nil {
		return nil, err
	}
	if met.JobsActive, err = m.Int64UpDownCounter("subtitlecore.jobs_active",
		metric.WithDescription("Number of jobs currently queued or running."),
	); err != nil {
		return nil, err
	}
	if met.StageDuration, err = m.Float64Histogram("subtitlecore.stage_duration_seconds",
		metric.WithDescription("Duration of each pipeline stage, by stage name."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.ASRProviderFallback, err = m.Int64Counter("subtitlecore.asr_provider_fallback_total",
		metric.WithDescription("Total ASR transcriptions served by a fallback provider, by provider name."),
	); err != nil {
		return nil, err
	}
	if met.LLMProtocolFallback, err = m.Int64Counter("subtitlecore.llm_protocol_fallback_total",
		metric.WithDescription("Total LLM calls that fell back from the first negotiated protocol."),
	); err != nil {
		return nil, err
	}
	if met.TranslationBatchSize, err = m.Int64Histogram("subtitlecore.translation_batch_size",
		metric.WithDescription("Sentence count per translation batch."),
		metric.WithExplicitBucketBoundaries(batchSizeBuckets...),
	); err != nil {
		return nil, err
	}

	// HTTP middleware histogram.
	if met.HTTPRequestDuration, err = m.Float64Histogram("subtitlecore.http.request.duration",
		metric.WithDescription("HTTP request latency by method and path."),
		metric.WithUnit("s"),
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

// RecordJobSubmitted is a convenience method that increments JobsSubmitted
// and JobsActive for a newly accepted job.
func (m *Metrics) RecordJobSubmitted(ctx context.Context, kind string) {
	m.JobsSubmitted.Add(ctx, 1, metric.WithAttributes(attribute.String("kind", kind)))
	m.JobsActive.Add(ctx, 1)
}

// RecordJobFinished is a convenience method that decrements JobsActive when a
// job reaches a terminal state.
func (m *Metrics) RecordJobFinished(ctx context.Context) {
	m.JobsActive.Add(ctx, -1)
}

// RecordStageDuration is a convenience method that records a completed
// stage's duration in seconds.
func (m *Metrics) RecordStageDuration(ctx context.Context, stage string, seconds float64) {
	m.StageDuration.Record(ctx, seconds, metric.WithAttributes(attribute.String("stage", stage)))
}

// RecordASRProviderFallback is a convenience method that records an ASR
// transcription served by a fallback chain entry.
func (m *Metrics) RecordASRProviderFallback(ctx context.Context, provider string) {
	m.ASRProviderFallback.Add(ctx, 1, metric.WithAttributes(attribute.String("provider", provider)))
}

// RecordLLMProtocolFallback is a convenience method that records an LLM call
// that fell back to its second negotiated protocol.
func (m *Metrics) RecordLLMProtocolFallback(ctx context.Context) {
	m.LLMProtocolFallback.Add(ctx, 1)
}

// RecordTranslationBatchSize is a convenience method that records a
// translation batch's sentence count.
func (m *Metrics) RecordTranslationBatchSize(ctx context.Context, size int) {
	m.TranslationBatchSize.Record(ctx, int64(size))
}
