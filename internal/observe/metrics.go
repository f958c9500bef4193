// Package observe provides application-wide observability primitives for
// the cabildo transcription service: OpenTelemetry metrics, distributed
// tracing, structured logging, and HTTP middleware that ties them together.
//
// Metrics are recorded through the OpenTelemetry Metrics API. A Prometheus
// exporter bridge is available via [InitProvider] so that metrics can still
// be scraped via the standard /metrics endpoint. A package-level default
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

// meterName is the instrumentation scope name used for all cabildo metrics.
const meterName = "github.com/cabildolabs/cabildo"

// Metrics holds all OpenTelemetry metric instruments for the application.
// All fields are safe for concurrent use — the underlying OTel types handle
// their own synchronisation.
type Metrics struct {
	// --- Latency histograms ---

	// TranscriptionDuration tracks end-to-end transcription latency (upload
	// through terminal job status) for the blocking endpoint.
	TranscriptionDuration metric.Float64Histogram

	// AttributionDuration tracks the duration of one speaker name
	// attribution pass.
	AttributionDuration metric.Float64Histogram

	// --- Counters ---

	// ProviderRequests counts transcription provider API calls. Use with
	// attributes:
	//   attribute.String("op", ...), attribute.String("status", ...)
	ProviderRequests metric.Int64Counter

	// ProviderErrors counts transcription provider errors by operation.
	ProviderErrors metric.Int64Counter

	// Candidates counts name candidates extracted by the pattern matcher.
	// Use with attribute.String("pattern", ...).
	Candidates metric.Int64Counter

	// CandidateRejections counts candidates the validator rejected.
	// Use with attribute.String("reason", ...).
	CandidateRejections metric.Int64Counter

	// SpeakersNamed counts speaker IDs that received a resolved name.
	SpeakersNamed metric.Int64Counter

	// --- Gauges ---

	// ActiveJobs tracks the number of transcription jobs in flight.
	ActiveJobs metric.Int64UpDownCounter

	// --- HTTP middleware ---

	// HTTPRequestDuration tracks HTTP request processing time. Use with
	// attributes:
	//   attribute.String("method", ...), attribute.String("route", ...)
	HTTPRequestDuration metric.Float64Histogram
}

// latencyBuckets defines histogram bucket boundaries (in seconds). The upper
// buckets accommodate blocking transcriptions of long council recordings.
var latencyBuckets = []float64{
	0.01, 0.05, 0.25, 1, 5, 15, 60, 180, 600, 1800,
}

// NewMetrics creates a fully initialised [Metrics] struct using the given
// [metric.MeterProvider]. Returns an error if any instrument creation fails.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	// Histograms.
	if met.TranscriptionDuration, err = m.Float64Histogram("cabildo.transcription.duration",
		metric.WithDescription("End-to-end latency of a blocking transcription."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.AttributionDuration, err = m.Float64Histogram("cabildo.attribution.duration",
		metric.WithDescription("Duration of one speaker name attribution pass."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}

	// Counters.
	if met.ProviderRequests, err = m.Int64Counter("cabildo.provider.requests",
		metric.WithDescription("Total transcription provider API requests by operation and status."),
	); err != nil {
		return nil, err
	}
	if met.ProviderErrors, err = m.Int64Counter("cabildo.provider.errors",
		metric.WithDescription("Total transcription provider errors by operation."),
	); err != nil {
		return nil, err
	}
	if met.Candidates, err = m.Int64Counter("cabildo.attribution.candidates",
		metric.WithDescription("Total name candidates extracted by pattern."),
	); err != nil {
		return nil, err
	}
	if met.CandidateRejections, err = m.Int64Counter("cabildo.attribution.rejections",
		metric.WithDescription("Total rejected name candidates by reason."),
	); err != nil {
		return nil, err
	}
	if met.SpeakersNamed, err = m.Int64Counter("cabildo.attribution.speakers_named",
		metric.WithDescription("Total speaker IDs that received a resolved name."),
	); err != nil {
		return nil, err
	}

	// Gauges (UpDownCounters).
	if met.ActiveJobs, err = m.Int64UpDownCounter("cabildo.active_jobs",
		metric.WithDescription("Number of transcription jobs currently in flight."),
	); err != nil {
		return nil, err
	}

	// HTTP middleware histogram.
	if met.HTTPRequestDuration, err = m.Float64Histogram("cabildo.http.request.duration",
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

// RecordProviderRequest records a provider request counter increment with
// the standard attribute set.
func (m *Metrics) RecordProviderRequest(ctx context.Context, op, status string) {
	m.ProviderRequests.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("op", op),
			attribute.String("status", status),
		),
	)
}

// RecordProviderError records a provider error counter increment.
func (m *Metrics) RecordProviderError(ctx context.Context, op string) {
	m.ProviderErrors.Add(ctx, 1,
		metric.WithAttributes(attribute.String("op", op)),
	)
}

// RecordCandidates records n extracted name candidates for one pattern.
func (m *Metrics) RecordCandidates(ctx context.Context, pattern string, n int64) {
	m.Candidates.Add(ctx, n,
		metric.WithAttributes(attribute.String("pattern", pattern)),
	)
}

// RecordRejections records n rejected name candidates for one reason.
func (m *Metrics) RecordRejections(ctx context.Context, reason string, n int64) {
	m.CandidateRejections.Add(ctx, n,
		metric.WithAttributes(attribute.String("reason", reason)),
	)
}
