// Package metrics holds the Prometheus instruments for voice calls.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "mevy"

// Metrics groups all Prometheus instruments used by a call.
// A nil *Metrics is valid and records nothing.
type Metrics struct {
	registry *prometheus.Registry

	ActiveSessions    prometheus.Gauge
	SessionEvents     *prometheus.CounterVec
	FramesCaptured    prometheus.Counter
	FramesSent        prometheus.Counter
	FramesDropped     *prometheus.CounterVec
	SendFailures      prometheus.Counter
	ChunksScheduled   prometheus.Counter
	DecodeFailures    prometheus.Counter
	Interruptions     prometheus.Counter
	ActiveChunks      prometheus.Gauge
	TranscriptTurns   *prometheus.CounterVec
	AudioLevel        prometheus.Gauge
	FirstAudioLatency prometheus.Histogram
	SessionDuration   prometheus.Histogram
}

// New registers the instruments on a fresh registry, which also carries
// the Go and process collectors.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	m := NewWith(reg)
	m.registry = reg
	return m
}

// NewWith registers the instruments on reg.
func NewWith(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		ActiveSessions: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "active_sessions",
			Help:      "Number of calls currently connected.",
		}),
		SessionEvents: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "session_events_total",
			Help:      "Session lifecycle events by type.",
		}, []string{"event"}),
		FramesCaptured: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "frames_captured_total",
			Help:      "Microphone frames produced by the capture pipeline.",
		}),
		FramesSent: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "frames_sent_total",
			Help:      "Microphone frames handed to the transport.",
		}),
		FramesDropped: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "frames_dropped_total",
			Help:      "Microphone frames dropped before sending, by reason.",
		}, []string{"reason"}),
		SendFailures: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "send_failures_total",
			Help:      "Frames the transport failed to send. They are not retried.",
		}),
		ChunksScheduled: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "chunks_scheduled_total",
			Help:      "Agent audio chunks scheduled for playback.",
		}),
		DecodeFailures: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "decode_failures_total",
			Help:      "Agent audio payloads skipped because they could not be decoded.",
		}),
		Interruptions: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "interruptions_total",
			Help:      "Barge-in interruptions received from the service.",
		}),
		ActiveChunks: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "active_chunks",
			Help:      "Agent audio chunks scheduled or playing.",
		}),
		TranscriptTurns: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "transcript_turns_total",
			Help:      "Transcript turns started, by speaker.",
		}, []string{"speaker"}),
		AudioLevel: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "audio_level",
			Help:      "Last published activity level in [0,1].",
		}),
		FirstAudioLatency: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "first_audio_latency_ms",
			Help:      "Latency from connection open to the first agent audio chunk in milliseconds.",
			Buckets:   []float64{100, 200, 300, 500, 700, 900, 1200, 2000, 5000},
		}),
		SessionDuration: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "session_duration_seconds",
			Help:      "Call duration in seconds.",
			Buckets:   prometheus.ExponentialBuckets(15, 2, 8),
		}),
	}
}

// Gatherer returns the registry created by New, or the default gatherer.
func (m *Metrics) Gatherer() prometheus.Gatherer {
	if m == nil || m.registry == nil {
		return prometheus.DefaultGatherer
	}
	return m.registry
}

// Handler serves the metrics in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.Gatherer(), promhttp.HandlerOpts{})
}

func (m *Metrics) SessionEvent(event string) {
	if m == nil {
		return
	}
	m.SessionEvents.WithLabelValues(event).Inc()
}

func (m *Metrics) SessionConnected() {
	if m == nil {
		return
	}
	m.ActiveSessions.Inc()
	m.SessionEvents.WithLabelValues("connected").Inc()
}

func (m *Metrics) SessionEnded(connected bool, d time.Duration) {
	if m == nil {
		return
	}
	if connected {
		m.ActiveSessions.Dec()
	}
	m.SessionEvents.WithLabelValues("ended").Inc()
	m.SessionDuration.Observe(d.Seconds())
}

func (m *Metrics) FrameCaptured() {
	if m == nil {
		return
	}
	m.FramesCaptured.Inc()
}

func (m *Metrics) FrameSent() {
	if m == nil {
		return
	}
	m.FramesSent.Inc()
}

func (m *Metrics) FrameDropped(reason string) {
	if m == nil {
		return
	}
	m.FramesDropped.WithLabelValues(reason).Inc()
}

func (m *Metrics) SendFailed() {
	if m == nil {
		return
	}
	m.SendFailures.Inc()
}

func (m *Metrics) ChunkScheduled(active int) {
	if m == nil {
		return
	}
	m.ChunksScheduled.Inc()
	m.ActiveChunks.Set(float64(active))
}

func (m *Metrics) ChunkFinished(active int) {
	if m == nil {
		return
	}
	m.ActiveChunks.Set(float64(active))
}

func (m *Metrics) DecodeFailed() {
	if m == nil {
		return
	}
	m.DecodeFailures.Inc()
}

func (m *Metrics) Interrupted() {
	if m == nil {
		return
	}
	m.Interruptions.Inc()
	m.ActiveChunks.Set(0)
}

func (m *Metrics) TurnStarted(speaker string) {
	if m == nil {
		return
	}
	m.TranscriptTurns.WithLabelValues(speaker).Inc()
}

func (m *Metrics) Level(level float64) {
	if m == nil {
		return
	}
	m.AudioLevel.Set(level)
}

func (m *Metrics) ObserveFirstAudioLatency(d time.Duration) {
	if m == nil {
		return
	}
	m.FirstAudioLatency.Observe(float64(d.Milliseconds()))
}
