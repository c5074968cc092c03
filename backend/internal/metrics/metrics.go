// Package metrics holds the Prometheus collectors for the voice pipeline.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "voice_assistant"

// Cycle outcomes used as the "outcome" label
const (
	OutcomeComplete  = "complete"
	OutcomeLLMError  = "llm_error"
	OutcomeTTSError  = "tts_error"
	OutcomeCancelled = "cancelled"
)

// Metrics holds every collector on its own registry so tests can create
// independent instances. All methods are safe on a nil *Metrics.
type Metrics struct {
	registry *prometheus.Registry

	SessionsActive    prometheus.Gauge
	SessionsTotal     prometheus.Counter
	AudioBytes        prometheus.Counter
	AudioFrames       prometheus.Counter
	Transcripts       *prometheus.CounterVec
	TranscriberErrors prometheus.Counter
	Suppressed        *prometheus.CounterVec
	Cycles            *prometheus.CounterVec
	CycleDuration     prometheus.Histogram
	LLMFragments      prometheus.Counter
	TTSChunks         prometheus.Counter
	TTSBytes          prometheus.Counter
	EventPublishes    *prometheus.CounterVec
}

// New creates and registers all collectors, including the Go runtime and
// process collectors.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	f := promauto.With(reg)

	return &Metrics{
		registry: reg,
		SessionsActive: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "sessions_active",
			Help:      "Number of open audio-stream sessions",
		}),
		SessionsTotal: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sessions_total",
			Help:      "Total number of audio-stream sessions opened",
		}),
		AudioBytes: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "audio_bytes_received_total",
			Help:      "Total client audio bytes received",
		}),
		AudioFrames: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "audio_frames_received_total",
			Help:      "Total client audio frames received",
		}),
		Transcripts: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "transcripts_total",
			Help:      "Transcripts received from the transcription provider",
		}, []string{"kind"}),
		TranscriberErrors: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "transcriber_errors_total",
			Help:      "Transcription sessions that ended with an error",
		}),
		Suppressed: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "utterances_suppressed_total",
			Help:      "Final utterances that did not start a response cycle",
		}, []string{"reason"}),
		Cycles: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "response_cycles_total",
			Help:      "Completed response cycles by outcome",
		}, []string{"outcome"}),
		CycleDuration: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "response_cycle_duration_seconds",
			Help:      "Time from trigger to the terminal cycle message",
			Buckets:   []float64{0.25, 0.5, 1, 2, 3, 5, 8, 13, 21, 34},
		}),
		LLMFragments: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "llm_fragments_total",
			Help:      "Text fragments relayed from the language model",
		}),
		TTSChunks: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "tts_chunks_total",
			Help:      "Synthesized audio chunks relayed to clients",
		}),
		TTSBytes: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "tts_base64_bytes_total",
			Help:      "Base64 audio bytes relayed to clients",
		}),
		EventPublishes: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "event_publishes_total",
			Help:      "Conversation events published by result",
		}, []string{"topic", "result"}),
	}
}

// Handler serves the registry in the Prometheus exposition format
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// Registry exposes the underlying registry, mainly for tests
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

func (m *Metrics) SessionOpened() {
	if m == nil {
		return
	}
	m.SessionsTotal.Inc()
	m.SessionsActive.Inc()
}

func (m *Metrics) SessionClosed() {
	if m == nil {
		return
	}
	m.SessionsActive.Dec()
}

func (m *Metrics) AudioReceived(n int) {
	if m == nil {
		return
	}
	m.AudioFrames.Inc()
	m.AudioBytes.Add(float64(n))
}

func (m *Metrics) TranscriptReceived(final bool) {
	if m == nil {
		return
	}
	kind := "partial"
	if final {
		kind = "final"
	}
	m.Transcripts.WithLabelValues(kind).Inc()
}

func (m *Metrics) TranscriberFailed() {
	if m == nil {
		return
	}
	m.TranscriberErrors.Inc()
}

func (m *Metrics) UtteranceSuppressed(reason string) {
	if m == nil {
		return
	}
	m.Suppressed.WithLabelValues(reason).Inc()
}

// CycleFinished records one response cycle
func (m *Metrics) CycleFinished(outcome string, seconds float64) {
	if m == nil {
		return
	}
	m.Cycles.WithLabelValues(outcome).Inc()
	m.CycleDuration.Observe(seconds)
}

func (m *Metrics) FragmentRelayed() {
	if m == nil {
		return
	}
	m.LLMFragments.Inc()
}

func (m *Metrics) AudioChunkRelayed(size int) {
	if m == nil {
		return
	}
	m.TTSChunks.Inc()
	m.TTSBytes.Add(float64(size))
}

func (m *Metrics) EventPublished(topic string, err error) {
	if m == nil {
		return
	}
	result := "ok"
	if err != nil {
		result = "error"
	}
	m.EventPublishes.WithLabelValues(topic, result).Inc()
}
