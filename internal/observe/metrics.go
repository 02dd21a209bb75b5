// Package observe provides application-wide observability primitives for
// mp3voice: OpenTelemetry metrics, distributed tracing, structured logging,
// and HTTP middleware that ties them together.
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

// meterName is the instrumentation scope name used for all mp3voice metrics.
const meterName = "github.com/MrWong99/mp3voice"

// Metrics holds all OpenTelemetry metric instruments for the application.
// All fields are safe for concurrent use.
type Metrics struct {
	// --- Latency histograms per pipeline stage ---

	// NegotiateDuration tracks the attachment negotiation request.
	NegotiateDuration metric.Float64Histogram

	// UploadDuration tracks the PUT to the pre-signed upload URL.
	UploadDuration metric.Float64Histogram

	// PostDuration tracks creation of the voice message.
	PostDuration metric.Float64Histogram

	// --- Counters ---

	// Conversions counts finished MP3 pipelines. Use with attributes:
	//   attribute.String("status", "ok"|"error"), attribute.String("stage", ...)
	Conversions metric.Int64Counter

	// UploadedBytes counts bytes successfully PUT to upload URLs.
	UploadedBytes metric.Int64Counter

	// DiscordRequests counts outgoing Discord HTTP requests. Use with attributes:
	//   attribute.String("method", ...), attribute.Int("status_code", ...)
	DiscordRequests metric.Int64Counter

	// --- Gauges ---

	// ActiveBatches tracks interception batches that have not finished yet.
	ActiveBatches metric.Int64UpDownCounter

	// --- HTTP ---

	// HTTPRequestDuration tracks HTTP request processing time. Use with attributes:
	//   attribute.String("method", ...), attribute.String("path", ...)
	HTTPRequestDuration metric.Float64Histogram

	// DiscordRequestDuration tracks outgoing Discord HTTP round trips.
	DiscordRequestDuration metric.Float64Histogram
}

// latencyBuckets defines histogram bucket boundaries (in seconds) for REST
// round trips, including multi-megabyte uploads.
var latencyBuckets = []float64{
	0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60,
}

// NewMetrics creates a fully initialised [Metrics] struct using the given
// [metric.MeterProvider]. Returns an error if any instrument creation fails.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	// Stage histograms.
	if met.NegotiateDuration, err = m.Float64Histogram("mp3voice.negotiate.duration",
		metric.WithDescription("Latency of the attachment upload negotiation."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.UploadDuration, err = m.Float64Histogram("mp3voice.upload.duration",
		metric.WithDescription("Latency of the binary upload to the pre-signed URL."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.PostDuration, err = m.Float64Histogram("mp3voice.post.duration",
		metric.WithDescription("Latency of posting the voice message."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}

	// Counters.
	if met.Conversions, err = m.Int64Counter("mp3voice.conversions",
		metric.WithDescription("Total MP3 conversions by status and last stage reached."),
	); err != nil {
		return nil, err
	}
	if met.UploadedBytes, err = m.Int64Counter("mp3voice.uploaded.bytes",
		metric.WithDescription("Total bytes uploaded as voice messages."),
		metric.WithUnit("By"),
	); err != nil {
		return nil, err
	}
	if met.DiscordRequests, err = m.Int64Counter("mp3voice.discord.requests",
		metric.WithDescription("Total outgoing Discord HTTP requests by method and status code."),
	); err != nil {
		return nil, err
	}

	// Gauges (UpDownCounters).
	if met.ActiveBatches, err = m.Int64UpDownCounter("mp3voice.active_batches",
		metric.WithDescription("Number of interception batches still running."),
	); err != nil {
		return nil, err
	}

	// HTTP histograms.
	if met.HTTPRequestDuration, err = m.Float64Histogram("mp3voice.http.request.duration",
		metric.WithDescription("HTTP request latency by method and path."),
		metric.WithUnit("s"),
	); err != nil {
		return nil, err
	}
	if met.DiscordRequestDuration, err = m.Float64Histogram("mp3voice.discord.request.duration",
		metric.WithDescription("Outgoing Discord HTTP round-trip latency."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
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
// pointer. Panics if instrument creation fails.
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

// RecordConversion records one finished MP3 pipeline.
func (m *Metrics) RecordConversion(ctx context.Context, status, stage string) {
	m.Conversions.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("status", status),
			attribute.String("stage", stage),
		),
	)
}

// RecordDiscordRequest records one outgoing Discord round trip. statusCode is
// 0 when no response was received.
func (m *Metrics) RecordDiscordRequest(ctx context.Context, method string, statusCode int, seconds float64) {
	attrs := metric.WithAttributes(
		attribute.String("method", method),
		attribute.Int("status_code", statusCode),
	)
	m.DiscordRequests.Add(ctx, 1, attrs)
	m.DiscordRequestDuration.Record(ctx, seconds, attrs)
}
