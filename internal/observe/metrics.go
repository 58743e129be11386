// Package observe provides application-wide observability primitives for the
// voice call service: OpenTelemetry metrics, tracing helpers, and structured
// logging glue.
//
// Metrics are recorded through the OpenTelemetry Metrics API. A Prometheus
// exporter bridge is available via [InitProvider] so that metrics can still
// be scraped via the standard /metrics endpoint. A package-level default
// [Metrics] instance ([DefaultMetrics]) is provided for convenience; tests
// should use [NewMetrics] with a custom [metric.MeterProvider] to avoid
// cross-test pollution.
package observe

import (
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
)

// meterName is the instrumentation scope name used for all service metrics.
const meterName = "github.com/lkw0831/HomeApplianceService"

// Metrics holds all OpenTelemetry metric instruments for the application.
// All fields are safe for concurrent use — the underlying OTel types handle
// their own synchronisation.
type Metrics struct {
	// --- Counters ---

	// CaptureFrames counts microphone blocks captured and encoded.
	CaptureFrames metric.Int64Counter

	// AudioBytesSent counts PCM bytes sent to the remote model.
	AudioBytesSent metric.Int64Counter

	// SegmentsScheduled counts response audio segments handed to the
	// playback scheduler.
	SegmentsScheduled metric.Int64Counter

	// PlaybackInterrupts counts barge-in interruptions.
	PlaybackInterrupts metric.Int64Counter

	// DecodeErrors counts inbound audio segments dropped as malformed.
	DecodeErrors metric.Int64Counter

	// --- Histograms ---

	// ScheduleLead tracks how far ahead of the playback clock each segment
	// was scheduled. Values near zero mean the consumer barely keeps up.
	ScheduleLead metric.Float64Histogram

	// SessionDuration tracks the wall-clock length of completed calls.
	SessionDuration metric.Float64Histogram

	// --- Gauges ---

	// ActiveSessions tracks the number of live calls (0 or 1 today, but the
	// session type supports independent instances).
	ActiveSessions metric.Int64UpDownCounter
}

// leadBuckets defines histogram bucket boundaries (in seconds) for the
// schedule lead time. Leads are short — a segment is usually scheduled well
// under a second ahead of the cursor.
var leadBuckets = []float64{
	0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5,
}

// sessionBuckets defines histogram bucket boundaries (in seconds) for call
// durations.
var sessionBuckets = []float64{
	1, 5, 15, 30, 60, 120, 300, 600, 1800,
}

// NewMetrics creates a fully initialised [Metrics] struct using the given
// [metric.MeterProvider]. Returns an error if any instrument creation fails.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	// Counters.
	if met.CaptureFrames, err = m.Int64Counter("voicecall.capture.frames",
		metric.WithDescription("Total microphone blocks captured and encoded."),
	); err != nil {
		return nil, err
	}
	if met.AudioBytesSent, err = m.Int64Counter("voicecall.audio.bytes_sent",
		metric.WithDescription("Total PCM bytes sent to the remote model."),
		metric.WithUnit("By"),
	); err != nil {
		return nil, err
	}
	if met.SegmentsScheduled, err = m.Int64Counter("voicecall.playback.segments",
		metric.WithDescription("Total response audio segments scheduled for playback."),
	); err != nil {
		return nil, err
	}
	if met.PlaybackInterrupts, err = m.Int64Counter("voicecall.playback.interrupts",
		metric.WithDescription("Total barge-in interruptions of agent playback."),
	); err != nil {
		return nil, err
	}
	if met.DecodeErrors, err = m.Int64Counter("voicecall.audio.decode_errors",
		metric.WithDescription("Total inbound audio segments dropped as malformed."),
	); err != nil {
		return nil, err
	}

	// Histograms.
	if met.ScheduleLead, err = m.Float64Histogram("voicecall.playback.schedule_lead",
		metric.WithDescription("Lead time between scheduling a segment and its playback start."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(leadBuckets...),
	); err != nil {
		return nil, err
	}
	if met.SessionDuration, err = m.Float64Histogram("voicecall.session.duration",
		metric.WithDescription("Wall-clock duration of completed calls."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(sessionBuckets...),
	); err != nil {
		return nil, err
	}

	// Gauges (UpDownCounters).
	if met.ActiveSessions, err = m.Int64UpDownCounter("voicecall.active_sessions",
		metric.WithDescription("Number of live calls."),
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
