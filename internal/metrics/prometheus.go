package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics contains all Prometheus metrics for the relay
type Metrics struct {
	// Upstream generative API metrics, labelled by operation (text, speech)
	UpstreamRequests  *prometheus.CounterVec
	UpstreamSuccesses *prometheus.CounterVec
	UpstreamFailures  *prometheus.CounterVec
	UpstreamRetries   *prometheus.CounterVec
	UpstreamDuration  *prometheus.HistogramVec

	// Response shaping
	WAVEncoded       prometheus.Counter
	WAVBytes         prometheus.Histogram
	MarkdownStripped prometheus.Counter
	MarkdownRemoved  prometheus.Histogram

	// Uploads, labelled by kind (image, audio)
	UploadsReceived *prometheus.CounterVec
	UploadsRejected *prometheus.CounterVec
	UploadBytes     *prometheus.HistogramVec

	// HTTP API metrics
	HTTPRequests        *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec
	HTTPErrors          *prometheus.CounterVec
	RateLimited         prometheus.Counter
}

// New creates all metrics and registers them with reg.
// Passing prometheus.DefaultRegisterer exposes them on the default handler.
func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		UpstreamRequests: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "relay_upstream_requests_total",
			Help: "Total number of generative API requests sent",
		}, []string{"operation"}),
		UpstreamSuccesses: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "relay_upstream_successes_total",
			Help: "Total number of successful generative API requests",
		}, []string{"operation"}),
		UpstreamFailures: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "relay_upstream_failures_total",
			Help: "Total number of failed generative API requests",
		}, []string{"operation"}),
		UpstreamRetries: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "relay_upstream_retries_total",
			Help: "Total number of generative API request retries",
		}, []string{"operation"}),
		UpstreamDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "relay_upstream_duration_seconds",
			Help:    "Duration of generative API requests including retries",
			Buckets: prometheus.ExponentialBuckets(0.1, 2, 10), // 100ms to ~50s
		}, []string{"operation"}),

		WAVEncoded: factory.NewCounter(prometheus.CounterOpts{
			Name: "relay_wav_encoded_total",
			Help: "Total number of PCM payloads wrapped in a WAV container",
		}),
		WAVBytes: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "relay_wav_size_bytes",
			Help:    "Size of produced WAV files in bytes",
			Buckets: prometheus.ExponentialBuckets(1024, 4, 10), // 1KB to ~256MB
		}),
		MarkdownStripped: factory.NewCounter(prometheus.CounterOpts{
			Name: "relay_markdown_stripped_total",
			Help: "Total number of model replies normalized to plain text",
		}),
		MarkdownRemoved: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "relay_markdown_removed_bytes",
			Help:    "Bytes removed from a reply by Markdown stripping",
			Buckets: prometheus.ExponentialBuckets(1, 4, 8),
		}),

		UploadsReceived: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "relay_uploads_received_total",
			Help: "Total number of accepted multipart uploads",
		}, []string{"kind"}),
		UploadsRejected: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "relay_uploads_rejected_total",
			Help: "Total number of rejected multipart uploads",
		}, []string{"kind", "reason"}),
		UploadBytes: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "relay_upload_size_bytes",
			Help:    "Size of accepted uploads in bytes",
			Buckets: prometheus.ExponentialBuckets(1024, 4, 10),
		}, []string{"kind"}),

		HTTPRequests: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "relay_http_requests_total",
			Help: "Total number of HTTP requests",
		}, []string{"method", "endpoint", "status_code"}),
		HTTPRequestDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "relay_http_request_duration_seconds",
			Help:    "Duration of HTTP requests",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "endpoint"}),
		HTTPErrors: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "relay_http_errors_total",
			Help: "Total number of HTTP errors",
		}, []string{"method", "endpoint", "error_type"}),
		RateLimited: factory.NewCounter(prometheus.CounterOpts{
			Name: "relay_rate_limited_total",
			Help: "Total number of requests rejected by the rate limiter",
		}),
	}
}

// RecordUpstreamRequest increments the upstream request counter
func (m *Metrics) RecordUpstreamRequest(operation string) {
	m.UpstreamRequests.WithLabelValues(operation).Inc()
}

// RecordUpstreamSuccess records a successful upstream call
func (m *Metrics) RecordUpstreamSuccess(operation string, durationSeconds float64) {
	m.UpstreamSuccesses.WithLabelValues(operation).Inc()
	m.UpstreamDuration.WithLabelValues(operation).Observe(durationSeconds)
}

// RecordUpstreamFailure records a failed upstream call
func (m *Metrics) RecordUpstreamFailure(operation string, durationSeconds float64) {
	m.UpstreamFailures.WithLabelValues(operation).Inc()
	m.UpstreamDuration.WithLabelValues(operation).Observe(durationSeconds)
}

// RecordUpstreamRetry increments the retry counter
func (m *Metrics) RecordUpstreamRetry(operation string) {
	m.UpstreamRetries.WithLabelValues(operation).Inc()
}

// RecordWAVEncoded records a produced WAV file
func (m *Metrics) RecordWAVEncoded(sizeBytes int) {
	m.WAVEncoded.Inc()
	m.WAVBytes.Observe(float64(sizeBytes))
}

// RecordMarkdownStripped records one stripped reply
func (m *Metrics) RecordMarkdownStripped(before, after int) {
	m.MarkdownStripped.Inc()
	if removed := before - after; removed > 0 {
		m.MarkdownRemoved.Observe(float64(removed))
	} else {
		m.MarkdownRemoved.Observe(0)
	}
}

// RecordUpload records an accepted upload
func (m *Metrics) RecordUpload(kind string, sizeBytes int64) {
	m.UploadsReceived.WithLabelValues(kind).Inc()
	m.UploadBytes.WithLabelValues(kind).Observe(float64(sizeBytes))
}

// RecordUploadRejected records a rejected upload
func (m *Metrics) RecordUploadRejected(kind, reason string) {
	m.UploadsRejected.WithLabelValues(kind, reason).Inc()
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

// RecordRateLimited increments the rate limited counter
func (m *Metrics) RecordRateLimited() {
	m.RateLimited.Inc()
}
