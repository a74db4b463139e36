// Package observe provides application-wide observability primitives for
// Vokalis: OpenTelemetry metrics and the Prometheus exporter bridge.
//
// Metrics are recorded through the OpenTelemetry Metrics API. A Prometheus
// exporter is wired in via [InitProvider] so that metrics can be scraped from
// the standard /metrics endpoint. A package-level default [Metrics] instance
// ([DefaultMetrics]) is provided for convenience; tests should use
// [NewMetrics] with a custom [metric.MeterProvider] to avoid cross-test
// pollution.
package observe

import (
	"context"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// meterName is the instrumentation scope name used for all Vokalis metrics.
const meterName = "github.com/vokalis/vokalis"

// Metrics holds all OpenTelemetry metric instruments for the application.
// All fields are safe for concurrent use — the underlying OTel types handle
// their own synchronisation.
type Metrics struct {
	// --- Relay ---

	// ActiveSessions tracks the number of live relay sessions.
	ActiveSessions metric.Int64UpDownCounter

	// FramesForwarded counts audio frames forwarded by the relay. Use with
	// attribute.String("direction", "upstream"|"client").
	FramesForwarded metric.Int64Counter

	// PrebufferedBytes counts bytes held back while the upstream connection
	// was still opening.
	PrebufferedBytes metric.Int64Counter

	// PrebufferEvictions counts bytes discarded from full prebuffers.
	PrebufferEvictions metric.Int64Counter

	// FlushesSent counts flush control messages sent upstream. Use with
	// attribute.String("reason", "idle"|"close").
	FlushesSent metric.Int64Counter

	// RelayErrors counts relay transport failures. Use with
	// attribute.String("side", "client"|"upstream").
	RelayErrors metric.Int64Counter

	// --- Conversation turn ---

	// DialogueDuration tracks dialogue collaborator round-trip latency.
	DialogueDuration metric.Float64Histogram

	// SynthesisDuration tracks synthesized playback duration.
	SynthesisDuration metric.Float64Histogram

	// DialogueRequests counts dialogue requests. Use with
	// attribute.String("status", "ok"|"fallback").
	DialogueRequests metric.Int64Counter

	// BargeIns counts playback cancellations caused by new user speech.
	BargeIns metric.Int64Counter

	// --- HTTP ---

	// HTTPRequestDuration tracks HTTP request processing time. Use with
	// attribute.String("method", ...), attribute.String("path", ...).
	HTTPRequestDuration metric.Float64Histogram
}

// latencyBuckets defines histogram bucket boundaries (in seconds) optimised
// for voice-pipeline latencies.
var latencyBuckets = []float64{
	0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10,
}

// NewMetrics creates a fully initialised [Metrics] struct using the given
// [metric.MeterProvider]. Returns an error if any instrument creation fails.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	if met.ActiveSessions, err = m.Int64UpDownCounter("vokalis.relay.active_sessions",
		metric.WithDescription("Number of live relay sessions."),
	); err != nil {
		return nil, err
	}
	if met.FramesForwarded, err = m.Int64Counter("vokalis.relay.frames_forwarded",
		metric.WithDescription("Audio frames forwarded by direction."),
	); err != nil {
		return nil, err
	}
	if met.PrebufferedBytes, err = m.Int64Counter("vokalis.relay.prebuffered_bytes",
		metric.WithDescription("Bytes buffered while the upstream connection was opening."),
		metric.WithUnit("By"),
	); err != nil {
		return nil, err
	}
	if met.PrebufferEvictions, err = m.Int64Counter("vokalis.relay.prebuffer_evicted_bytes",
		metric.WithDescription("Bytes evicted oldest-first from full prebuffers."),
		metric.WithUnit("By"),
	); err != nil {
		return nil, err
	}
	if met.FlushesSent, err = m.Int64Counter("vokalis.relay.flushes_sent",
		metric.WithDescription("Flush control messages sent upstream by reason."),
	); err != nil {
		return nil, err
	}
	if met.RelayErrors, err = m.Int64Counter("vokalis.relay.errors",
		metric.WithDescription("Relay transport failures by side."),
	); err != nil {
		return nil, err
	}

	if met.DialogueDuration, err = m.Float64Histogram("vokalis.dialogue.duration",
		metric.WithDescription("Latency of dialogue collaborator round trips."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.SynthesisDuration, err = m.Float64Histogram("vokalis.synthesis.duration",
		metric.WithDescription("Duration of synthesized playback."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.DialogueRequests, err = m.Int64Counter("vokalis.dialogue.requests",
		metric.WithDescription("Dialogue requests by status."),
	); err != nil {
		return nil, err
	}
	if met.BargeIns, err = m.Int64Counter("vokalis.turn.barge_ins",
		metric.WithDescription("Playback cancellations caused by new user speech."),
	); err != nil {
		return nil, err
	}

	if met.HTTPRequestDuration, err = m.Float64Histogram("vokalis.http.request.duration",
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

// RecordDialogueRequest records one dialogue round trip with its status and
// latency in seconds.
func (m *Metrics) RecordDialogueRequest(ctx context.Context, status string, seconds float64) {
	attrs := metric.WithAttributes(attribute.String("status", status))
	m.DialogueRequests.Add(ctx, 1, attrs)
	m.DialogueDuration.Record(ctx, seconds, attrs)
}
