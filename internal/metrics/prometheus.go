package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics contains all Prometheus metrics for the voice chat client.
// A nil *Metrics is valid and records nothing.
type Metrics struct {
	// Channel metrics
	ConnectAttempts prometheus.Counter
	Connects        prometheus.Counter
	Drops           prometheus.Counter
	MessagesSent    prometheus.Counter
	MessagesDropped prometheus.Counter
	Envelopes       *prometheus.CounterVec

	// Capture metrics
	RecordingsStarted prometheus.Counter
	RecordingFailures prometheus.Counter
	ClipSize          prometheus.Histogram

	// Transcription metrics
	Transcriptions        *prometheus.CounterVec
	TranscriptionDuration prometheus.Histogram

	// Speech metrics
	Utterances *prometheus.CounterVec
}

// NewMetrics creates all metrics and registers them with reg. A nil reg
// leaves them unregistered.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		ConnectAttempts: factory.NewCounter(prometheus.CounterOpts{
			Name: "voicechat_channel_connect_attempts_total",
			Help: "Total number of channel dial attempts",
		}),
		Connects: factory.NewCounter(prometheus.CounterOpts{
			Name: "voicechat_channel_connects_total",
			Help: "Total number of successful channel connections",
		}),
		Drops: factory.NewCounter(prometheus.CounterOpts{
			Name: "voicechat_channel_drops_total",
			Help: "Total number of channel connections lost",
		}),
		MessagesSent: factory.NewCounter(prometheus.CounterOpts{
			Name: "voicechat_channel_messages_sent_total",
			Help: "Total number of messages written to the channel",
		}),
		MessagesDropped: factory.NewCounter(prometheus.CounterOpts{
			Name: "voicechat_channel_messages_dropped_total",
			Help: "Total number of messages dropped while disconnected",
		}),
		Envelopes: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "voicechat_channel_envelopes_total",
			Help: "Total number of inbound envelopes by type",
		}, []string{"type"}),

		RecordingsStarted: factory.NewCounter(prometheus.CounterOpts{
			Name: "voicechat_recordings_started_total",
			Help: "Total number of recording sessions started",
		}),
		RecordingFailures: factory.NewCounter(prometheus.CounterOpts{
			Name: "voicechat_recording_failures_total",
			Help: "Total number of recording sessions that could not start",
		}),
		ClipSize: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "voicechat_clip_size_bytes",
			Help:    "Size of finalized audio clips in bytes",
			Buckets: prometheus.ExponentialBuckets(1024, 4, 8),
		}),

		Transcriptions: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "voicechat_transcriptions_total",
			Help: "Total number of transcription requests by result",
		}, []string{"result"}),
		TranscriptionDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "voicechat_transcription_duration_seconds",
			Help:    "Duration of transcription round trips",
			Buckets: prometheus.DefBuckets,
		}),

		Utterances: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "voicechat_utterances_total",
			Help: "Total number of spoken utterances by result",
		}, []string{"result"}),
	}
}

func (m *Metrics) RecordConnectAttempt() {
	if m == nil {
		return
	}
	m.ConnectAttempts.Inc()
}

func (m *Metrics) RecordConnected() {
	if m == nil {
		return
	}
	m.Connects.Inc()
}

func (m *Metrics) RecordDrop() {
	if m == nil {
		return
	}
	m.Drops.Inc()
}

func (m *Metrics) RecordSend(delivered bool) {
	if m == nil {
		return
	}
	if delivered {
		m.MessagesSent.Inc()
		return
	}
	m.MessagesDropped.Inc()
}

func (m *Metrics) RecordEnvelope(envelopeType string) {
	if m == nil {
		return
	}
	if envelopeType == "" {
		envelopeType = "malformed"
	}
	m.Envelopes.WithLabelValues(envelopeType).Inc()
}

func (m *Metrics) RecordRecordingStarted() {
	if m == nil {
		return
	}
	m.RecordingsStarted.Inc()
}

func (m *Metrics) RecordRecordingFailure() {
	if m == nil {
		return
	}
	m.RecordingFailures.Inc()
}

func (m *Metrics) RecordClip(sizeBytes int) {
	if m == nil {
		return
	}
	m.ClipSize.Observe(float64(sizeBytes))
}

// RecordTranscription records one round trip; result is "ok", "fallback" or "error".
func (m *Metrics) RecordTranscription(result string, durationSeconds float64) {
	if m == nil {
		return
	}
	m.Transcriptions.WithLabelValues(result).Inc()
	m.TranscriptionDuration.Observe(durationSeconds)
}

// RecordUtterance records one playback; result is "played", "cancelled" or "error".
func (m *Metrics) RecordUtterance(result string) {
	if m == nil {
		return
	}
	m.Utterances.WithLabelValues(result).Inc()
}
