package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics for the gateway
type Metrics struct {
	// Backend call metrics
	BackendRequests        *prometheus.CounterVec
	BackendRequestDuration *prometheus.HistogramVec
	TokenRefreshes         *prometheus.CounterVec

	// Chat metrics
	ChatQueries *prometheus.CounterVec

	// Voice metrics
	VoiceSessions     prometheus.Counter
	VoiceCommits      *prometheus.CounterVec
	VoiceAdvisories   *prometheus.CounterVec
	WebsocketClients  prometheus.Gauge
	SpokenReplyErrors prometheus.Counter

	// HTTP API metrics
	HTTPRequests        *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec
}

// NewMetrics creates and registers all metrics on the given registerer
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		BackendRequests: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "bmschat_backend_requests_total",
			Help: "Total number of requests sent to the chat backend",
		}, []string{"endpoint", "status"}),
		BackendRequestDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "bmschat_backend_request_duration_seconds",
			Help:    "Duration of chat backend requests",
			Buckets: []float64{0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60, 90},
		}, []string{"endpoint"}),
		TokenRefreshes: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "bmschat_token_refreshes_total",
			Help: "Total number of access token refreshes",
		}, []string{"result"}),

		ChatQueries: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "bmschat_chat_queries_total",
			Help: "Total number of chat queries by outcome",
		}, []string{"outcome"}),

		VoiceSessions: factory.NewCounter(prometheus.CounterOpts{
			Name: "bmschat_voice_sessions_total",
			Help: "Total number of listening sessions started",
		}),
		VoiceCommits: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "bmschat_voice_commits_total",
			Help: "Total number of committed utterances by trigger",
		}, []string{"trigger"}),
		VoiceAdvisories: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "bmschat_voice_advisories_total",
			Help: "Total number of recognition failures by kind",
		}, []string{"kind"}),
		WebsocketClients: factory.NewGauge(prometheus.GaugeOpts{
			Name: "bmschat_websocket_clients",
			Help: "Current number of connected voice websocket clients",
		}),
		SpokenReplyErrors: factory.NewCounter(prometheus.CounterOpts{
			Name: "bmschat_spoken_reply_errors_total",
			Help: "Total number of failed speech synthesis attempts",
		}),

		HTTPRequests: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "bmschat_http_requests_total",
			Help: "Total number of HTTP requests",
		}, []string{"method", "route", "status"}),
		HTTPRequestDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "bmschat_http_request_duration_seconds",
			Help:    "HTTP request duration",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "route"}),
	}
}

// NewNop returns metrics registered on a private registry, for tests and tools
func NewNop() *Metrics {
	return NewMetrics(prometheus.NewRegistry())
}

// RecordBackendRequest records a call to the chat backend
func (m *Metrics) RecordBackendRequest(endpoint, status string, durationSeconds float64) {
	m.BackendRequests.WithLabelValues(endpoint, status).Inc()
	m.BackendRequestDuration.WithLabelValues(endpoint).Observe(durationSeconds)
}

// RecordTokenRefresh records a refresh attempt ("ok" or "failed")
func (m *Metrics) RecordTokenRefresh(result string) {
	m.TokenRefreshes.WithLabelValues(result).Inc()
}

// RecordChatQuery records the outcome of a chat query
func (m *Metrics) RecordChatQuery(outcome string) {
	m.ChatQueries.WithLabelValues(outcome).Inc()
}

// RecordVoiceCommit records a committed utterance and what triggered it
func (m *Metrics) RecordVoiceCommit(trigger string) {
	m.VoiceCommits.WithLabelValues(trigger).Inc()
}

// RecordVoiceAdvisory records a recognition failure
func (m *Metrics) RecordVoiceAdvisory(kind string) {
	m.VoiceAdvisories.WithLabelValues(kind).Inc()
}

// RecordHTTPRequest records an HTTP request served by the gateway
func (m *Metrics) RecordHTTPRequest(method, route, statusCode string, durationSeconds float64) {
	m.HTTPRequests.WithLabelValues(method, route, statusCode).Inc()
	m.HTTPRequestDuration.WithLabelValues(method, route).Observe(durationSeconds)
}
