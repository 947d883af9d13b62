package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics contains all Prometheus metrics for the consultation engine.
type Metrics struct {
	// Transport
	ChunksSent       prometheus.Counter
	ChunksSuppressed prometheus.Counter
	Reconnects       prometheus.Counter
	ConnectionState  prometheus.Gauge

	// Conversation
	UtterancesFinalized prometheus.Counter
	StaleTranscripts    prometheus.Counter
	ResponsesReceived   prometheus.Counter

	// Voice detection
	SpeechSegments  prometheus.Counter
	InputLevel      prometheus.Gauge
	SegmentDuration prometheus.Histogram

	// Playback
	PlaybackStarted  prometheus.Counter
	PlaybackFailures prometheus.Counter
	PlaybackDuration prometheus.Histogram
}

// NewMetrics creates and registers all engine metrics with the given
// registerer. Pass prometheus.DefaultRegisterer in production.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		ChunksSent: factory.NewCounter(prometheus.CounterOpts{
			Name: "voxconsult_audio_chunks_sent_total",
			Help: "Total number of audio chunks transmitted upstream",
		}),
		ChunksSuppressed: factory.NewCounter(prometheus.CounterOpts{
			Name: "voxconsult_audio_chunks_suppressed_total",
			Help: "Total number of captured blocks withheld while the microphone gate was closed",
		}),
		Reconnects: factory.NewCounter(prometheus.CounterOpts{
			Name: "voxconsult_reconnects_total",
			Help: "Total number of reconnect attempts after a dropped socket",
		}),
		ConnectionState: factory.NewGauge(prometheus.GaugeOpts{
			Name: "voxconsult_connection_state",
			Help: "Current connection state (0 disconnected, 1 connecting, 2 connected, 3 reconnecting)",
		}),

		UtterancesFinalized: factory.NewCounter(prometheus.CounterOpts{
			Name: "voxconsult_utterances_finalized_total",
			Help: "Total number of utterances flushed for transcription",
		}),
		StaleTranscripts: factory.NewCounter(prometheus.CounterOpts{
			Name: "voxconsult_stale_transcripts_total",
			Help: "Total number of transcripts discarded for arriving out of order",
		}),
		ResponsesReceived: factory.NewCounter(prometheus.CounterOpts{
			Name: "voxconsult_responses_received_total",
			Help: "Total number of assistant responses received",
		}),

		SpeechSegments: factory.NewCounter(prometheus.CounterOpts{
			Name: "voxconsult_speech_segments_total",
			Help: "Total number of speech segments detected locally",
		}),
		InputLevel: factory.NewGauge(prometheus.GaugeOpts{
			Name: "voxconsult_input_level",
			Help: "Most recent microphone input level (0-255)",
		}),
		SegmentDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "voxconsult_speech_segment_duration_seconds",
			Help:    "Duration of detected speech segments in seconds",
			Buckets: prometheus.ExponentialBuckets(0.25, 2, 8), // 250ms to 32s
		}),

		PlaybackStarted: factory.NewCounter(prometheus.CounterOpts{
			Name: "voxconsult_playback_started_total",
			Help: "Total number of assistant utterances sent to the speaker",
		}),
		PlaybackFailures: factory.NewCounter(prometheus.CounterOpts{
			Name: "voxconsult_playback_failures_total",
			Help: "Total number of playback attempts that failed",
		}),
		PlaybackDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "voxconsult_playback_duration_seconds",
			Help:    "Audible duration of assistant utterances in seconds",
			Buckets: prometheus.ExponentialBuckets(0.5, 2, 8), // 500ms to ~1 minute
		}),
	}
}
