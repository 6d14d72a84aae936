package observability

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Session metrics
	activeSessions = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "voice_gateway_active_sessions",
		Help: "Number of active conversation sessions",
	})

	totalSessions = promauto.NewCounter(prometheus.CounterOpts{
		Name: "voice_gateway_sessions_total",
		Help: "Total number of conversation sessions",
	})

	sessionDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "voice_gateway_session_duration_seconds",
		Help:    "Duration of conversation sessions in seconds",
		Buckets: []float64{1, 5, 10, 30, 60, 120, 300, 600},
	})

	// Turn metrics
	turnsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "voice_gateway_turns_total",
		Help: "Total number of conversation turns",
	}, []string{"status"}) // status: completed, fallback

	// Frame metrics
	framesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "voice_gateway_audio_frames_total",
		Help: "Total number of microphone frames processed",
	}, []string{"result"}) // result: speech, silence, suppressed, rejected, while_speaking

	transcriptsDebounced = promauto.NewCounter(prometheus.CounterOpts{
		Name: "voice_gateway_transcripts_debounced_total",
		Help: "Transcripts dropped as duplicates or too-frequent input",
	})

	// Language model metrics
	llmRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "voice_gateway_llm_requests_total",
		Help: "Total number of language model streaming requests",
	}, []string{"status"})

	llmLatency = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "voice_gateway_llm_latency_seconds",
		Help:    "Language model stream completion latency in seconds",
		Buckets: []float64{0.1, 0.25, 0.5, 1.0, 2.0, 5.0, 10.0},
	})

	// TTS metrics
	ttsRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "voice_gateway_tts_requests_total",
		Help: "Total number of speech synthesis requests",
	}, []string{"status"})

	ttsLatency = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "voice_gateway_tts_latency_seconds",
		Help:    "Per-chunk speech synthesis latency in seconds",
		Buckets: []float64{0.1, 0.25, 0.5, 1.0, 2.0, 5.0},
	})

	// Error metrics
	errorsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "voice_gateway_errors_total",
		Help: "Total number of errors",
	}, []string{"type", "component"})

	// Audio volume metrics
	audioBytesProcessed = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "voice_gateway_audio_bytes_total",
		Help: "Total audio bytes processed",
	}, []string{"direction"}) // direction: "in" or "out"
)

// Frame classification results recorded against the frames counter
const (
	FrameSpeech        = "speech"
	FrameSilence       = "silence"
	FrameSuppressed    = "suppressed"
	FrameRejected      = "rejected"
	FrameWhileSpeaking = "while_speaking"
)

// Metrics tracks metrics for a single conversation session
type Metrics struct {
	sessionID    string
	startTime    time.Time
	llmStartTime time.Time
	mu           sync.Mutex
}

// NewSessionMetrics creates a new metrics tracker for a session
func NewSessionMetrics(sessionID string) *Metrics {
	return &Metrics{
		sessionID: sessionID,
		startTime: time.Now(),
	}
}

// RecordSessionStart records the start of a session
func (m *Metrics) RecordSessionStart() {
	activeSessions.Inc()
	totalSessions.Inc()
}

// RecordSessionEnd records the end of a session
func (m *Metrics) RecordSessionEnd() {
	activeSessions.Dec()
	sessionDuration.Observe(time.Since(m.startTime).Seconds())
}

// RecordTurn records a completed conversation turn
func (m *Metrics) RecordTurn(fallback bool) {
	status := "completed"
	if fallback {
		status = "fallback"
	}
	turnsTotal.WithLabelValues(status).Inc()
}

// RecordFrame records the classification result of one microphone frame
func (m *Metrics) RecordFrame(result string) {
	framesTotal.WithLabelValues(result).Inc()
}

// RecordDebounce records a transcript rejected by the debouncer
func (m *Metrics) RecordDebounce() {
	transcriptsDebounced.Inc()
}

// RecordLLMStart records the start of a language model stream
func (m *Metrics) RecordLLMStart() {
	m.mu.Lock()
	m.llmStartTime = time.Now()
	m.mu.Unlock()
}

// RecordLLMEnd records the end of a language model stream
func (m *Metrics) RecordLLMEnd(success bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.llmStartTime.IsZero() {
		llmLatency.Observe(time.Since(m.llmStartTime).Seconds())
	}

	status := "success"
	if !success {
		status = "error"
	}
	llmRequests.WithLabelValues(status).Inc()
}

// RecordSynthesis records one speech synthesis call
func (m *Metrics) RecordSynthesis(latency time.Duration, success bool) {
	ttsLatency.Observe(latency.Seconds())

	status := "success"
	if !success {
		status = "error"
	}
	ttsRequests.WithLabelValues(status).Inc()
}

// RecordError records an error
func (m *Metrics) RecordError(errorType, component string) {
	errorsTotal.WithLabelValues(errorType, component).Inc()
}

// RecordAudioBytes records audio bytes processed
func (m *Metrics) RecordAudioBytes(direction string, bytes int64) {
	audioBytesProcessed.WithLabelValues(direction).Add(float64(bytes))
}
