// Package observe provides application-wide observability primitives for
// pivoice: OpenTelemetry metrics, tracing, trace-aware logging and HTTP
// middleware that ties them together.
//
// Metrics are recorded through the OpenTelemetry Metrics API. A Prometheus
// exporter bridge is installed by [InitProvider] so that metrics can be
// scraped via the standard /metrics endpoint. A package-level default
// [Metrics] instance ([DefaultMetrics]) is provided for convenience; tests
// should use [NewMetrics] with a custom [metric.MeterProvider] to avoid
// cross-test pollution.
package observe

import (
	"context"
	"strconv"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// meterName is the instrumentation scope name used for all pivoice metrics.
const meterName = "github.com/MrWong99/pivoice"

// Metrics holds all OpenTelemetry metric instruments for the application.
// All fields are safe for concurrent use; the underlying OTel types handle
// their own synchronisation.
type Metrics struct {
	// --- Latency histograms per pipeline stage ---

	// STTDuration tracks speech-to-text transcription latency.
	STTDuration metric.Float64Histogram

	// LLMDuration tracks LLM inference latency.
	LLMDuration metric.Float64Histogram

	// TTSDuration tracks time to first audio of speech synthesis.
	TTSDuration metric.Float64Histogram

	// HandlerDuration tracks action handler latency. Use with attributes:
	//   attribute.String("intent", ...), attribute.String("handler", ...), attribute.String("status", ...)
	HandlerDuration metric.Float64Histogram

	// CycleDuration tracks a full command cycle from trigger to the end of
	// the spoken response.
	CycleDuration metric.Float64Histogram

	// --- Counters ---

	// ProviderRequests counts provider API calls. Use with attributes:
	//   attribute.String("provider", ...), attribute.String("kind", ...), attribute.String("status", ...)
	ProviderRequests metric.Int64Counter

	// ProviderErrors counts provider errors. Use with attributes:
	//   attribute.String("provider", ...), attribute.String("kind", ...)
	ProviderErrors metric.Int64Counter

	// WakeDetections counts triggers. Use with attributes:
	//   attribute.String("kind", ...), attribute.String("source", ...)
	WakeDetections metric.Int64Counter

	// StateTransitions counts session state changes by from and to state.
	StateTransitions metric.Int64Counter

	// BargeIns counts playbacks cut short by the user.
	BargeIns metric.Int64Counter

	// RemindersFired counts spoken reminders. attribute.Bool("deferred", ...)
	// marks those held back until the session went idle.
	RemindersFired metric.Int64Counter

	// DroppedFrames counts microphone frames discarded because the consumer
	// lagged.
	DroppedFrames metric.Int64Counter

	// BreakerTransitions counts circuit breaker state changes by kind,
	// provider and new state.
	BreakerTransitions metric.Int64Counter

	// --- Gauges ---

	// PendingReminders tracks the number of scheduled reminders.
	PendingReminders metric.Int64UpDownCounter

	// --- HTTP middleware ---

	// HTTPRequestDuration tracks HTTP request processing time. Use with attributes:
	//   attribute.String("method", ...), attribute.String("path", ...), attribute.String("status", ...)
	HTTPRequestDuration metric.Float64Histogram
}

// latencyBuckets defines histogram bucket boundaries (in seconds) optimised
// for voice-pipeline latencies.
var latencyBuckets = []float64{
	0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10,
}

// cycleBuckets covers whole command cycles, which include speaking time.
var cycleBuckets = []float64{
	0.5, 1, 2, 4, 8, 15, 30, 60,
}

// NewMetrics creates a fully initialised [Metrics] struct using the given
// [metric.MeterProvider]. Returns an error if any instrument creation fails.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	// Histograms.
	if met.STTDuration, err = m.Float64Histogram("pivoice.stt.duration",
		metric.WithDescription("Latency of speech-to-text transcription."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.LLMDuration, err = m.Float64Histogram("pivoice.llm.duration",
		metric.WithDescription("Latency of LLM inference."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.TTSDuration, err = m.Float64Histogram("pivoice.tts.duration",
		metric.WithDescription("Latency of text-to-speech synthesis until the stream opened."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.HandlerDuration, err = m.Float64Histogram("pivoice.handler.duration",
		metric.WithDescription("Latency of action handlers by intent, handler and status."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.CycleDuration, err = m.Float64Histogram("pivoice.cycle.duration",
		metric.WithDescription("Duration of a command cycle from trigger to idle."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(cycleBuckets...),
	); err != nil {
		return nil, err
	}

	// Counters.
	if met.ProviderRequests, err = m.Int64Counter("pivoice.provider.requests",
		metric.WithDescription("Total provider API requests by provider, kind, and status."),
	); err != nil {
		return nil, err
	}
	if met.ProviderErrors, err = m.Int64Counter("pivoice.provider.errors",
		metric.WithDescription("Total provider errors by provider and kind."),
	); err != nil {
		return nil, err
	}
	if met.WakeDetections, err = m.Int64Counter("pivoice.wake.detections",
		metric.WithDescription("Total wake and stop detections by kind and source."),
	); err != nil {
		return nil, err
	}
	if met.StateTransitions, err = m.Int64Counter("pivoice.session.transitions",
		metric.WithDescription("Total session state transitions by from and to state."),
	); err != nil {
		return nil, err
	}
	if met.BargeIns, err = m.Int64Counter("pivoice.session.barge_ins",
		metric.WithDescription("Total playbacks interrupted by the user."),
	); err != nil {
		return nil, err
	}
	if met.RemindersFired, err = m.Int64Counter("pivoice.reminders.fired",
		metric.WithDescription("Total reminders spoken, split by whether they were deferred."),
	); err != nil {
		return nil, err
	}
	if met.DroppedFrames, err = m.Int64Counter("pivoice.audio.dropped_frames",
		metric.WithDescription("Total microphone frames dropped because the consumer lagged."),
	); err != nil {
		return nil, err
	}

	if met.BreakerTransitions, err = m.Int64Counter("pivoice.provider.breaker_transitions",
		metric.WithDescription("Total circuit breaker state changes by kind, provider and state."),
	); err != nil {
		return nil, err
	}

	// Gauges (UpDownCounters).
	if met.PendingReminders, err = m.Int64UpDownCounter("pivoice.reminders.pending",
		metric.WithDescription("Number of scheduled reminders that have not fired."),
	); err != nil {
		return nil, err
	}

	// HTTP middleware histogram.
	if met.HTTPRequestDuration, err = m.Float64Histogram("pivoice.http.request.duration",
		metric.WithDescription("HTTP request latency by method, path and status."),
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

// RecordProviderRequest records a provider request counter increment with
// the standard attribute set.
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

// RecordHandler records one handler invocation.
func (m *Metrics) RecordHandler(ctx context.Context, intent, handler, status string, d time.Duration) {
	m.HandlerDuration.Record(ctx, d.Seconds(),
		metric.WithAttributes(
			attribute.String("intent", intent),
			attribute.String("handler", handler),
			attribute.String("status", status),
		),
	)
}

// RecordWake records a wake or stop detection, or a button press.
func (m *Metrics) RecordWake(ctx context.Context, kind, source string) {
	m.WakeDetections.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("kind", kind),
			attribute.String("source", source),
		),
	)
}

// RecordTransition records a session state change.
func (m *Metrics) RecordTransition(ctx context.Context, from, to string) {
	m.StateTransitions.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("from", from),
			attribute.String("to", to),
		),
	)
}

// RecordBargeIn records an interrupted playback.
func (m *Metrics) RecordBargeIn(ctx context.Context) {
	m.BargeIns.Add(ctx, 1)
}

// RecordReminderFired records a reminder being handed to the speaker.
func (m *Metrics) RecordReminderFired(ctx context.Context, deferred bool) {
	m.RemindersFired.Add(ctx, 1,
		metric.WithAttributes(attribute.String("deferred", strconv.FormatBool(deferred))),
	)
}

// RecordDroppedFrames adds n dropped microphone frames.
func (m *Metrics) RecordDroppedFrames(ctx context.Context, n int64) {
	if n > 0 {
		m.DroppedFrames.Add(ctx, n)
	}
}

// RecordBreaker records a circuit breaker moving to state.
func (m *Metrics) RecordBreaker(ctx context.Context, kind, provider, state string) {
	m.BreakerTransitions.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("kind", kind),
			attribute.String("provider", provider),
			attribute.String("state", state),
		),
	)
}
