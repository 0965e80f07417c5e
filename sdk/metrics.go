package golive

import (
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics for the live client. A nil *Metrics
// is valid and records nothing.
type Metrics struct {
	registry *prometheus.Registry

	SessionsActive  prometheus.Gauge
	SessionsTotal   *prometheus.CounterVec
	SessionDuration prometheus.Histogram

	FramesTotal     *prometheus.CounterVec
	AudioBytesTotal *prometheus.CounterVec
	TokensTotal     *prometheus.CounterVec

	ReconnectsTotal prometheus.Counter
	ErrorsTotal     *prometheus.CounterVec

	tokenMu   sync.Mutex
	lastUsage Usage
}

// NewMetrics creates a Metrics instance with all collectors registered on a
// fresh registry.
func NewMetrics(namespace string) *Metrics {
	if namespace == "" {
		namespace = "golive"
	}

	registry := prometheus.NewRegistry()

	sessionsActive := prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "sessions_active",
			Help:      "Number of active live sessions",
		},
	)

	sessionsTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sessions_total",
			Help:      "Total number of live sessions",
		},
		[]string{"status"},
	)

	sessionDuration := prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "session_duration_seconds",
			Help:      "Live session duration in seconds",
			Buckets:   []float64{1, 5, 10, 30, 60, 120, 300, 600},
		},
	)

	framesTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "frames_total",
			Help:      "Total frames by type and direction",
		},
		[]string{"type", "direction"},
	)

	audioBytesTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "audio_bytes_total",
			Help:      "Total PCM audio bytes by direction",
		},
		[]string{"direction"},
	)

	tokensTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "tokens_total",
			Help:      "Total tokens consumed",
		},
		[]string{"kind"},
	)

	reconnectsTotal := prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "reconnects_total",
			Help:      "Total reconnect attempts",
		},
	)

	errorsTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "errors_total",
			Help:      "Total session errors by type",
		},
		[]string{"error_type"},
	)

	registry.MustRegister(
		sessionsActive,
		sessionsTotal,
		sessionDuration,
		framesTotal,
		audioBytesTotal,
		tokensTotal,
		reconnectsTotal,
		errorsTotal,
	)

	return &Metrics{
		registry:        registry,
		SessionsActive:  sessionsActive,
		SessionsTotal:   sessionsTotal,
		SessionDuration: sessionDuration,
		FramesTotal:     framesTotal,
		AudioBytesTotal: audioBytesTotal,
		TokensTotal:     tokensTotal,
		ReconnectsTotal: reconnectsTotal,
		ErrorsTotal:     errorsTotal,
	}
}

// Handler returns an HTTP handler for the metrics endpoint.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Metrics) sessionStarted() {
	if m == nil {
		return
	}
	m.SessionsActive.Inc()
}

// sessionStartFailed unwinds sessionStarted for sessions whose handshake
// never completed; no read loop ran, so sessionEnded will not fire.
func (m *Metrics) sessionStartFailed() {
	if m == nil {
		return
	}
	m.SessionsActive.Dec()
	m.SessionsTotal.WithLabelValues("connect_failed").Inc()
}

func (m *Metrics) sessionEnded(status string, duration time.Duration) {
	if m == nil {
		return
	}
	m.SessionsActive.Dec()
	m.SessionsTotal.WithLabelValues(status).Inc()
	m.SessionDuration.Observe(duration.Seconds())
}

func (m *Metrics) frameSent(frameType string) {
	if m == nil {
		return
	}
	m.FramesTotal.WithLabelValues(frameType, "out").Inc()
}

func (m *Metrics) frameReceived(frameType string) {
	if m == nil {
		return
	}
	m.FramesTotal.WithLabelValues(frameType, "in").Inc()
}

func (m *Metrics) audioBytes(direction string, n int) {
	if m == nil || n <= 0 {
		return
	}
	m.AudioBytesTotal.WithLabelValues(direction).Add(float64(n))
}

// tokens folds a usage snapshot into the token counters. Snapshots carry
// running totals, so only the delta against the previous snapshot is added.
func (m *Metrics) tokens(u Usage) {
	if m == nil {
		return
	}
	m.tokenMu.Lock()
	defer m.tokenMu.Unlock()
	if d := u.PromptTokens - m.lastUsage.PromptTokens; d > 0 {
		m.TokensTotal.WithLabelValues("prompt").Add(float64(d))
	}
	if d := u.ResponseTokens - m.lastUsage.ResponseTokens; d > 0 {
		m.TokensTotal.WithLabelValues("response").Add(float64(d))
	}
	m.lastUsage = u
}

func (m *Metrics) reconnectAttempt() {
	if m == nil {
		return
	}
	m.ReconnectsTotal.Inc()
}

func (m *Metrics) sessionError(errorType string) {
	if m == nil {
		return
	}
	m.ErrorsTotal.WithLabelValues(errorType).Inc()
}
