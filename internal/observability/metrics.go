package observability

import (
	"sync"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	registerOnce         sync.Once
	httpRequestsTotal    *prometheus.CounterVec
	httpLatencySeconds   *prometheus.HistogramVec
	httpErrorsTotal      *prometheus.CounterVec
	recordingRejections  *prometheus.CounterVec
	recordingSessions    prometheus.Gauge
	uploadAttemptsTotal  *prometheus.CounterVec
	uploadFailuresTotal  *prometheus.CounterVec
	uploadLatencySeconds *prometheus.HistogramVec
	scoringRequestsTotal *prometheus.CounterVec
	submissionChecks     *prometheus.CounterVec
)

// RegisterMetrics initialises the Prometheus collectors used by the practice pipeline.
func RegisterMetrics() {
	registerOnce.Do(func() {
		httpRequestsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "practice_http_requests_total",
			Help: "Total number of practice API requests served.",
		}, []string{"method", "route", "status"})

		httpLatencySeconds = prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "practice_http_latency_seconds",
			Help:    "Latency distribution for practice API requests.",
			Buckets: []float64{0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0, 2.0},
		}, []string{"method", "route"})

		httpErrorsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "practice_http_errors_total",
			Help: "Total number of error responses returned by practice endpoints.",
		}, []string{"method", "route", "status"})

		recordingRejections = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "recording_rejections_total",
			Help: "Recordings rejected before upload, by reason.",
		}, []string{"platform", "reason", "method"})

		recordingSessions = prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "recording_sessions_active",
			Help: "Recording sessions currently holding a microphone.",
		})

		uploadAttemptsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "recording_upload_attempts_total",
			Help: "Upload attempts by outcome.",
		}, []string{"outcome"})

		uploadFailuresTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "recording_upload_failures_total",
			Help: "Uploads that failed after classification or retry exhaustion.",
		}, []string{"kind"})

		uploadLatencySeconds = prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "recording_upload_latency_seconds",
			Help:    "Wall time of an upload including retries.",
			Buckets: []float64{0.1, 0.25, 0.5, 1, 2, 4, 8, 16},
		}, []string{"outcome"})

		scoringRequestsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "pronunciation_scoring_requests_total",
			Help: "Scoring requests by outcome.",
		}, []string{"outcome"})

		submissionChecks = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "submission_gate_checks_total",
			Help: "Submission gate evaluations by result.",
		}, []string{"result"})

		prometheus.MustRegister(
			httpRequestsTotal, httpLatencySeconds, httpErrorsTotal,
			recordingRejections, recordingSessions,
			uploadAttemptsTotal, uploadFailuresTotal, uploadLatencySeconds,
			scoringRequestsTotal, submissionChecks,
		)
	})
}

// HTTPRequests exposes the counter for practice API requests.
func HTTPRequests() *prometheus.CounterVec {
	RegisterMetrics()
	return httpRequestsTotal
}

// HTTPLatency exposes the latency histogram for practice API requests.
func HTTPLatency() *prometheus.HistogramVec {
	RegisterMetrics()
	return httpLatencySeconds
}

// HTTPErrors exposes the counter for error responses.
func HTTPErrors() *prometheus.CounterVec {
	RegisterMetrics()
	return httpErrorsTotal
}

func RecordingRejections() *prometheus.CounterVec {
	RegisterMetrics()
	return recordingRejections
}

func RecordingSessions() prometheus.Gauge {
	RegisterMetrics()
	return recordingSessions
}

func UploadAttempts() *prometheus.CounterVec {
	RegisterMetrics()
	return uploadAttemptsTotal
}

func UploadFailures() *prometheus.CounterVec {
	RegisterMetrics()
	return uploadFailuresTotal
}

// UploadLatency exposes the end-to-end upload histogram.
func UploadLatency() *prometheus.HistogramVec {
	RegisterMetrics()
	return uploadLatencySeconds
}

func ScoringRequests() *prometheus.CounterVec {
	RegisterMetrics()
	return scoringRequestsTotal
}

func SubmissionChecks() *prometheus.CounterVec {
	RegisterMetrics()
	return submissionChecks
}

// MetricsHandler serves the scrape endpoint from the default registry.
func MetricsHandler() fiber.Handler {
	RegisterMetrics()
	return adaptor.HTTPHandler(promhttp.HandlerFor(prometheus.DefaultGatherer, promhttp.HandlerOpts{
		EnableOpenMetrics: true,
	}))
}
