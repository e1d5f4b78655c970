// Package observe provides application-wide observability primitives for
// Aetheria: OpenTelemetry metrics, tracing, trace-aware logging, and HTTP
// middleware that ties them together.
//
// Metrics are recorded through the OpenTelemetry Metrics API. A Prometheus
// exporter bridge is available via [InitProvider] so that metrics can be
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

// meterName is the instrumentation scope name used for all Aetheria metrics.
const meterName = "github.com/MrWong99/aetheria"

// Metrics holds all OpenTelemetry metric instruments for the application.
// All fields are safe for concurrent use.
type Metrics struct {
	// ConnectDuration tracks how long opening a live session takes, from
	// the start request to the session being usable.
	ConnectDuration metric.Float64Histogram

	// SessionStarts counts start attempts. Use with attribute:
	//   attribute.String("outcome", "ok"|"error"|"cancelled")
	SessionStarts metric.Int64Counter

	// SessionEnds counts session teardowns. Use with attribute:
	//   attribute.String("reason", "stopped"|"remote_close"|"error")
	SessionEnds metric.Int64Counter

	// ActiveSessions tracks the number of live sessions (0 or 1).
	ActiveSessions metric.Int64UpDownCounter

	// FramesSent counts captured frames handed to the session.
	FramesSent metric.Int64Counter

	// FramesDropped counts captured frames that were not sent. Use with
	// attribute:
	//   attribute.String("reason", "muted"|"send_error")
	FramesDropped metric.Int64Counter

	// ResponseChunks counts audio chunks scheduled for playback.
	ResponseChunks metric.Int64Counter

	// ResponseAudio accumulates scheduled response audio in seconds.
	ResponseAudio metric.Float64Counter

	// Interruptions counts barge-in events that flushed playback.
	Interruptions metric.Int64Counter

	// TurnsCompleted counts conversation turns appended to the history.
	TurnsCompleted metric.Int64Counter

	// HTTPRequestDuration tracks status server request time, labelled with
	// method, route (the mux pattern) and status.
	HTTPRequestDuration metric.Float64Histogram
}

// latencyBuckets defines histogram bucket boundaries (in seconds) for
// session setup.
var latencyBuckets = []float64{
	0.05, 0.1, 0.25, 0.5, 1, 2, 4, 8, 15, 30,
}

// NewMetrics creates a fully initialised [Metrics] struct using the given
// [metric.MeterProvider]. Returns an error if any instrument creation fails.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	if met.ConnectDuration, err = m.Float64Histogram("aetheria.session.connect.duration",
		metric.WithDescription("Latency of opening a live session."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}

	if met.SessionStarts, err = m.Int64Counter("aetheria.session.starts",
		metric.WithDescription("Session start attempts by outcome."),
	); err != nil {
		return nil, err
	}
	if met.SessionEnds, err = m.Int64Counter("aetheria.session.ends",
		metric.WithDescription("Session teardowns by reason."),
	); err != nil {
		return nil, err
	}
	if met.ActiveSessions, err = m.Int64UpDownCounter("aetheria.active_sessions",
		metric.WithDescription("Number of live sessions."),
	); err != nil {
		return nil, err
	}

	if met.FramesSent, err = m.Int64Counter("aetheria.audio.frames_sent",
		metric.WithDescription("Captured audio frames sent to the session."),
	); err != nil {
		return nil, err
	}
	if met.FramesDropped, err = m.Int64Counter("aetheria.audio.frames_dropped",
		metric.WithDescription("Captured audio frames not sent, by reason."),
	); err != nil {
		return nil, err
	}
	if met.ResponseChunks, err = m.Int64Counter("aetheria.audio.response_chunks",
		metric.WithDescription("Response audio chunks scheduled for playback."),
	); err != nil {
		return nil, err
	}
	if met.ResponseAudio, err = m.Float64Counter("aetheria.audio.response_seconds",
		metric.WithDescription("Response audio scheduled for playback."),
		metric.WithUnit("s"),
	); err != nil {
		return nil, err
	}
	if met.Interruptions, err = m.Int64Counter("aetheria.interruptions",
		metric.WithDescription("Interruptions that flushed scheduled playback."),
	); err != nil {
		return nil, err
	}
	if met.TurnsCompleted, err = m.Int64Counter("aetheria.turns",
		metric.WithDescription("Conversation turns appended to the history."),
	); err != nil {
		return nil, err
	}

	if met.HTTPRequestDuration, err = m.Float64Histogram("aetheria.http.request.duration",
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

// RecordSessionStart records a start attempt with its outcome.
func (m *Metrics) RecordSessionStart(ctx context.Context, outcome string) {
	m.SessionStarts.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", outcome)))
}

// RecordSessionEnd records a teardown with its reason.
func (m *Metrics) RecordSessionEnd(ctx context.Context, reason string) {
	m.SessionEnds.Add(ctx, 1, metric.WithAttributes(attribute.String("reason", reason)))
}

// RecordFrameDropped records one unsent capture frame.
func (m *Metrics) RecordFrameDropped(ctx context.Context, reason string) {
	m.FramesDropped.Add(ctx, 1, metric.WithAttributes(attribute.String("reason", reason)))
}

// RecordResponseChunk records one scheduled response chunk of the given
// length in seconds.
func (m *Metrics) RecordResponseChunk(ctx context.Context, seconds float64) {
	m.ResponseChunks.Add(ctx, 1)
	m.ResponseAudio.Add(ctx, seconds)
}
