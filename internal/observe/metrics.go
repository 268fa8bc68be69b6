// Package observe provides application-wide observability primitives for
// meetcaption: OpenTelemetry metrics, distributed tracing, structured logging,
// and HTTP middleware that ties them together.
//
// Metrics are recorded through the OpenTelemetry Metrics API. A Prometheus
// exporter bridge is available via [InitProvider] so that metrics can still be
// scraped via the standard /metrics endpoint. A package-level default
// [Metrics] instance ([DefaultMetrics]) is provided for convenience; tests
// should use [NewMetrics] with a custom [metric.MeterProvider] to avoid
// cross-test pollution.
//
// Transport-level counters (chunks sent and dropped, encoding fallbacks)
// live with the recognition provider itself; this package covers the
// capture lifecycle, reconciliation, translation and the control bridge.
package observe

import (
	"context"
	"strconv"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// meterName is the instrumentation scope name used for all meetcaption metrics.
const meterName = "github.com/MrWong99/meetcaption"

// Metrics holds all OpenTelemetry metric instruments for the application.
// All fields are safe for concurrent use; the underlying OTel types handle
// their own synchronisation.
type Metrics struct {
	// --- Latency histograms ---

	// CaptureStartDuration tracks the time from a start request until audio
	// is piped to the recognizer.
	CaptureStartDuration metric.Float64Histogram

	// TranslationDuration tracks translation latency per final utterance.
	TranslationDuration metric.Float64Histogram

	// --- Counters ---

	// CaptureStarts counts start attempts. Use with attribute:
	//   attribute.String("status", "ok"|"acquire_failed"|"connect_failed"|"cancelled")
	CaptureStarts metric.Int64Counter

	// Utterances counts reconciled utterances. Use with attributes:
	//   attribute.String("final", "true"|"false"), attribute.String("speaker_resolved", "true"|"false")
	Utterances metric.Int64Counter

	// HandoffDrops counts capture blocks discarded because the pump fell
	// behind the realtime callback.
	HandoffDrops metric.Int64Counter

	// ProviderRequests counts provider API calls. Use with attributes:
	//   attribute.String("provider", ...), attribute.String("kind", ...), attribute.String("status", ...)
	ProviderRequests metric.Int64Counter

	// BridgeDrops counts outbound bridge messages dropped for slow clients.
	BridgeDrops metric.Int64Counter

	// --- Error counters ---

	// ProviderErrors counts provider errors. Use with attributes:
	//   attribute.String("provider", ...), attribute.String("kind", ...)
	ProviderErrors metric.Int64Counter

	// --- Gauges ---

	// ActiveSessions tracks the number of live capture sessions (0 or 1).
	ActiveSessions metric.Int64UpDownCounter

	// BridgeClients tracks the number of connected bridge clients.
	BridgeClients metric.Int64UpDownCounter

	// --- HTTP middleware ---

	// HTTPRequestDuration tracks HTTP request processing time. Use with attributes:
	//   attribute.String("method", ...), attribute.String("path", ...)
	HTTPRequestDuration metric.Float64Histogram
}

// latencyBuckets defines histogram bucket boundaries (in seconds) for
// network round trips to the recognition and translation backends.
var latencyBuckets = []float64{
	0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10,
}

// NewMetrics creates a fully initialised [Metrics] struct using the given
// [metric.MeterProvider]. Returns an error if any instrument creation fails.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	// Histograms.
	if met.CaptureStartDuration, err = m.Float64Histogram("meetcaption.capture.start.duration",
		metric.WithDescription("Time from start request until audio is piped."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.TranslationDuration, err = m.Float64Histogram("meetcaption.translation.duration",
		metric.WithDescription("Latency of utterance translation."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}

	// Counters.
	if met.CaptureStarts, err = m.Int64Counter("meetcaption.capture.starts",
		metric.WithDescription("Capture start attempts by outcome."),
	); err != nil {
		return nil, err
	}
	if met.Utterances, err = m.Int64Counter("meetcaption.utterances",
		metric.WithDescription("Reconciled utterances by finality and speaker resolution."),
	); err != nil {
		return nil, err
	}
	if met.HandoffDrops, err = m.Int64Counter("meetcaption.capture.handoff_drops",
		metric.WithDescription("Capture blocks dropped because the pump fell behind."),
	); err != nil {
		return nil, err
	}
	if met.ProviderRequests, err = m.Int64Counter("meetcaption.provider.requests",
		metric.WithDescription("Total provider API requests by provider, kind, and status."),
	); err != nil {
		return nil, err
	}
	if met.BridgeDrops, err = m.Int64Counter("meetcaption.bridge.drops",
		metric.WithDescription("Outbound bridge messages dropped for slow clients."),
	); err != nil {
		return nil, err
	}

	// Error counters.
	if met.ProviderErrors, err = m.Int64Counter("meetcaption.provider.errors",
		metric.WithDescription("Total provider errors by provider and kind."),
	); err != nil {
		return nil, err
	}

	// Gauges (UpDownCounters).
	if met.ActiveSessions, err = m.Int64UpDownCounter("meetcaption.active_sessions",
		metric.WithDescription("Number of live capture sessions."),
	); err != nil {
		return nil, err
	}
	if met.BridgeClients, err = m.Int64UpDownCounter("meetcaption.bridge.clients",
		metric.WithDescription("Number of connected bridge clients."),
	); err != nil {
		return nil, err
	}

	// HTTP middleware histogram.
	if met.HTTPRequestDuration, err = m.Float64Histogram("meetcaption.http.request.duration",
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

// RecordProviderRequest records a provider request counter increment with the
// standard attribute set.
func (m *Metrics) RecordProviderRequest(ctx context.Context, provider, kind, status string) {
	m.ProviderRequests.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("provider", provider),
			attribute.String("kind", kind),
			attribute.String("status", status),
		),
	)
}

// RecordProviderError records a provider error counter increment.
func (m *Metrics) RecordProviderError(ctx context.Context, provider, kind string) {
	m.ProviderErrors.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("provider", provider),
			attribute.String("kind", kind),
		),
	)
}

// RecordCaptureStart records the outcome of one start attempt.
func (m *Metrics) RecordCaptureStart(ctx context.Context, status string) {
	m.CaptureStarts.Add(ctx, 1, metric.WithAttributes(attribute.String("status", status)))
}

// RecordUtterance records one reconciled utterance.
func (m *Metrics) RecordUtterance(ctx context.Context, final, speakerResolved bool) {
	m.Utterances.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("final", strconv.FormatBool(final)),
			attribute.String("speaker_resolved", strconv.FormatBool(speakerResolved)),
		),
	)
}
