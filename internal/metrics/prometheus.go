package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics contains all Prometheus metrics for the STT ingest service
type Metrics struct {
	// Frame metrics
	FramesReceived     prometheus.Counter
	FrameBytesReceived prometheus.Counter
	DecodeErrors       *prometheus.CounterVec
	FrameProcessing    prometheus.Histogram

	// Verification metrics
	Verifications       *prometheus.CounterVec
	ConnectionsRejected prometheus.Counter

	// Session metrics
	ActiveSessions  prometheus.Gauge
	SessionsCreated prometheus.Counter
	SessionsClosed  prometheus.Counter
	SessionDuration prometheus.Histogram

	// Utterance metrics
	UtterancesAssembled prometheus.Counter
	UtteranceDuration   prometheus.Histogram
	UtteranceSize       prometheus.Histogram

	// Recognition metrics
	RecognitionRequests  prometheus.Counter
	RecognitionSuccesses prometheus.Counter
	RecognitionFailures  prometheus.Counter
	RecognitionDuration  prometheus.Histogram
	RecognitionRetries   prometheus.Counter

	// HTTP API metrics
	HTTPRequests        *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec
	HTTPErrors          *prometheus.CounterVec
}

// NewMetrics creates and registers all Prometheus metrics
func NewMetrics() *Metrics {
	return &Metrics{
		// Frame metrics
		FramesReceived: promauto.NewCounter(prometheus.CounterOpts{
			Name: "stt_frames_received_total",
			Help: "Total number of audio frames received",
		}),
		FrameBytesReceived: promauto.NewCounter(prometheus.CounterOpts{
			Name: "stt_frame_bytes_received_total",
			Help: "Total number of frame bytes received",
		}),
		DecodeErrors: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "stt_decode_errors_total",
			Help: "Total number of frame decode errors",
		}, []string{"reason"}),
		FrameProcessing: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "stt_frame_processing_duration_seconds",
			Help:    "Time spent decoding, verifying and routing one frame",
			Buckets: prometheus.ExponentialBuckets(0.0001, 2, 12), // 100µs to ~400ms
		}),

		// Verification metrics
		Verifications: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "stt_verifications_total",
			Help: "Total number of integrity verifications by result",
		}, []string{"result"}),
		ConnectionsRejected: promauto.NewCounter(prometheus.CounterOpts{
			Name: "stt_connections_rejected_total",
			Help: "Total number of connections rejected for repeated corruption",
		}),

		// Session metrics
		ActiveSessions: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "stt_sessions_active",
			Help: "Current number of active client sessions",
		}),
		SessionsCreated: promauto.NewCounter(prometheus.CounterOpts{
			Name: "stt_sessions_created_total",
			Help: "Total number of sessions created",
		}),
		SessionsClosed: promauto.NewCounter(prometheus.CounterOpts{
			Name: "stt_sessions_closed_total",
			Help: "Total number of sessions closed",
		}),
		SessionDuration: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "stt_session_duration_seconds",
			Help:    "Duration of client sessions in seconds",
			Buckets: prometheus.ExponentialBuckets(1, 2, 12), // 1s to ~68 minutes
		}),

		// Utterance metrics
		UtterancesAssembled: promauto.NewCounter(prometheus.CounterOpts{
			Name: "stt_utterances_total",
			Help: "Total number of utterances assembled for recognition",
		}),
		UtteranceDuration: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "stt_utterance_duration_seconds",
			Help:    "Duration of assembled utterances",
			Buckets: prometheus.ExponentialBuckets(0.5, 2, 8), // 0.5s to ~1 minute
		}),
		UtteranceSize: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "stt_utterance_size_bytes",
			Help:    "Size of assembled utterances in bytes",
			Buckets: prometheus.ExponentialBuckets(1024, 2, 12), // 1KB to ~4MB
		}),

		// Recognition metrics
		RecognitionRequests: promauto.NewCounter(prometheus.CounterOpts{
			Name: "stt_recognition_requests_total",
			Help: "Total number of recognition requests sent",
		}),
		RecognitionSuccesses: promauto.NewCounter(prometheus.CounterOpts{
			Name: "stt_recognition_successes_total",
			Help: "Total number of successful recognition requests",
		}),
		RecognitionFailures: promauto.NewCounter(prometheus.CounterOpts{
			Name: "stt_recognition_failures_total",
			Help: "Total number of failed recognition requests",
		}),
		RecognitionDuration: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "stt_recognition_duration_seconds",
			Help:    "Duration of recognition requests",
			Buckets: prometheus.ExponentialBuckets(0.1, 2, 10), // 100ms to ~2 minutes
		}),
		RecognitionRetries: promauto.NewCounter(prometheus.CounterOpts{
			Name: "stt_recognition_retries_total",
			Help: "Total number of recognition request retries",
		}),

		// HTTP API metrics
		HTTPRequests: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "stt_http_requests_total",
			Help: "Total number of HTTP requests",
		}, []string{"method", "endpoint", "status_code"}),
		HTTPRequestDuration: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "stt_http_request_duration_seconds",
			Help:    "Duration of HTTP requests",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "endpoint"}),
		HTTPErrors: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "stt_http_errors_total",
			Help: "Total number of HTTP errors",
		}, []string{"method", "endpoint", "error_type"}),
	}
}

// RecordFrameReceived counts one incoming frame and its size
func (m *Metrics) RecordFrameReceived(sizeBytes int) {
	m.FramesReceived.Inc()
	m.FrameBytesReceived.Add(float64(sizeBytes))
}

// RecordDecodeError counts a decode failure by reason
func (m *Metrics) RecordDecodeError(reason string) {
	m.DecodeErrors.WithLabelValues(reason).Inc()
}

// RecordFrameProcessed observes the end-to-end handling time of one frame
func (m *Metrics) RecordFrameProcessed(durationSeconds float64) {
	m.FrameProcessing.Observe(durationSeconds)
}

// RecordVerification counts one integrity check outcome
func (m *Metrics) RecordVerification(ok bool) {
	if ok {
		m.Verifications.WithLabelValues("pass").Inc()
	} else {
		m.Verifications.WithLabelValues("fail").Inc()
	}
}

// RecordConnectionRejected counts a policy-triggered rejection
func (m *Metrics) RecordConnectionRejected() {
	m.ConnectionsRejected.Inc()
}

// SetActiveSessions sets the current number of active sessions
func (m *Metrics) SetActiveSessions(count int) {
	m.ActiveSessions.Set(float64(count))
}

// RecordSessionCreated increments the sessions created counter
func (m *Metrics) RecordSessionCreated() {
	m.SessionsCreated.Inc()
}

// RecordSessionClosed increments the sessions closed counter and records duration
func (m *Metrics) RecordSessionClosed(durationSeconds float64) {
	m.SessionsClosed.Inc()
	m.SessionDuration.Observe(durationSeconds)
}

// RecordUtterance records an assembled utterance
func (m *Metrics) RecordUtterance(durationSeconds float64, sizeBytes int) {
	m.UtterancesAssembled.Inc()
	m.UtteranceDuration.Observe(durationSeconds)
	m.UtteranceSize.Observe(float64(sizeBytes))
}

// RecordRecognitionRequest increments the recognition requests counter
func (m *Metrics) RecordRecognitionRequest() {
	m.RecognitionRequests.Inc()
}

// RecordRecognitionSuccess records a successful recognition
func (m *Metrics) RecordRecognitionSuccess(durationSeconds float64) {
	m.RecognitionSuccesses.Inc()
	m.RecognitionDuration.Observe(durationSeconds)
}

// RecordRecognitionFailure records a failed recognition
func (m *Metrics) RecordRecognitionFailure(durationSeconds float64) {
	m.RecognitionFailures.Inc()
	m.RecognitionDuration.Observe(durationSeconds)
}

// RecordRecognitionRetry increments the retry counter
func (m *Metrics) RecordRecognitionRetry() {
	m.RecognitionRetries.Inc()
}

// RecordHTTPRequest records an HTTP request
func (m *Metrics) RecordHTTPRequest(method, endpoint, statusCode string, durationSeconds float64) {
	m.HTTPRequests.WithLabelValues(method, endpoint, statusCode).Inc()
	m.HTTPRequestDuration.WithLabelValues(method, endpoint).Observe(durationSeconds)
}

// RecordHTTPError records an HTTP error
func (m *Metrics) RecordHTTPError(method, endpoint, errorType string) {
	m.HTTPErrors.WithLabelValues(method, endpoint, errorType).Inc()
}
