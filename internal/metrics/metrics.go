package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// API Metrics
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "renderdeck_http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "endpoint", "status"},
	)

	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "renderdeck_http_request_duration_seconds",
			Help:    "HTTP request latency in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "endpoint"},
	)

	// Job Metrics
	JobsCreatedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "renderdeck_jobs_created_total",
			Help: "Total number of render jobs created",
		},
	)

	JobsDeduplicatedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "renderdeck_jobs_deduplicated_total",
			Help: "Total number of job creations answered by an existing queued job",
		},
	)

	JobsCompletedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "renderdeck_jobs_completed_total",
			Help: "Total number of render jobs reaching a terminal state",
		},
		[]string{"status"},
	)

	JobsInProgress = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "renderdeck_jobs_in_progress",
			Help: "Number of jobs currently being rendered",
		},
	)

	JobDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "renderdeck_job_duration_seconds",
			Help:    "Render job duration in seconds",
			Buckets: prometheus.ExponentialBuckets(1, 2, 12), // 1s to ~1 hour
		},
		[]string{"codec", "quality"},
	)

	// Engine Metrics
	EngineSelectionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "renderdeck_engine_selections_total",
			Help: "Total number of avatar engine selections",
		},
		[]string{"requested", "selected"},
	)

	EngineProbeFailuresTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "renderdeck_engine_probe_failures_total",
			Help: "Total number of failed engine availability probes",
		},
		[]string{"engine"},
	)

	// Lip-sync Metrics
	LipSyncFallbacksTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "renderdeck_lipsync_fallbacks_total",
			Help: "Total number of lip-sync analyses served by the local fallback",
		},
	)

	// Encoder Metrics
	EncoderRunsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "renderdeck_encoder_runs_total",
			Help: "Total number of encoder subprocess runs",
		},
		[]string{"status"},
	)

	EncoderFPS = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "renderdeck_encoder_fps",
			Help:    "Instantaneous encoder frames per second",
			Buckets: prometheus.ExponentialBuckets(1, 2, 10),
		},
	)

	EncoderSpeed = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "renderdeck_encoder_speed_ratio",
			Help:    "Encoder speed multiplier relative to realtime",
			Buckets: []float64{0.1, 0.25, 0.5, 1.0, 2.0, 4.0, 8.0, 16.0},
		},
	)

	// Circuit Breaker Metrics
	BreakerState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "renderdeck_breaker_open",
			Help: "Whether the circuit breaker for a dependency is open (1) or closed (0)",
		},
		[]string{"dependency"},
	)

	BreakerShortCircuitsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "renderdeck_breaker_short_circuits_total",
			Help: "Total number of calls answered by a fallback without touching the dependency",
		},
		[]string{"dependency"},
	)

	// Webhook Metrics
	WebhookDeliveriesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "renderdeck_webhook_deliveries_total",
			Help: "Total number of webhook delivery attempts",
		},
		[]string{"event", "status"},
	)

	// Error Metrics
	ErrorsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "renderdeck_errors_total",
			Help: "Total number of errors",
		},
		[]string{"component", "error_type"},
	)
)

// RecordHTTPRequest records an HTTP request
func RecordHTTPRequest(method, endpoint, status string, duration float64) {
	HTTPRequestsTotal.WithLabelValues(method, endpoint, status).Inc()
	HTTPRequestDuration.WithLabelValues(method, endpoint).Observe(duration)
}

// RecordJobCreated records a job creation; deduplicated marks creations
// answered by the idempotency window.
func RecordJobCreated(deduplicated bool) {
	if deduplicated {
		JobsDeduplicatedTotal.Inc()
		return
	}
	JobsCreatedTotal.Inc()
}

// RecordJobCompleted records a job reaching a terminal state
func RecordJobCompleted(status string, duration float64, codec, quality string) {
	JobsCompletedTotal.WithLabelValues(status).Inc()
	JobDuration.WithLabelValues(codec, quality).Observe(duration)
}

// RecordEngineSelection records which backend served an engine request
func RecordEngineSelection(requested, selected string) {
	EngineSelectionsTotal.WithLabelValues(requested, selected).Inc()
}

// RecordEngineProbeFailure records a failed availability probe
func RecordEngineProbeFailure(engine string) {
	EngineProbeFailuresTotal.WithLabelValues(engine).Inc()
}

// RecordLipSyncFallback records a lip-sync analysis served locally
func RecordLipSyncFallback() {
	LipSyncFallbacksTotal.Inc()
}

// RecordEncoderRun records an encoder subprocess run outcome
func RecordEncoderRun(status string) {
	EncoderRunsTotal.WithLabelValues(status).Inc()
}

// RecordEncoderProgress records parsed encoder fps and speed samples
func RecordEncoderProgress(fps, speed float64) {
	if fps > 0 {
		EncoderFPS.Observe(fps)
	}
	if speed > 0 {
		EncoderSpeed.Observe(speed)
	}
}

// SetBreakerState records a breaker state change
func SetBreakerState(dependency, state string) {
	if state == "open" {
		BreakerState.WithLabelValues(dependency).Set(1)
	} else {
		BreakerState.WithLabelValues(dependency).Set(0)
	}
}

// RecordBreakerShortCircuit records a fallback-served call
func RecordBreakerShortCircuit(dependency string) {
	BreakerShortCircuitsTotal.WithLabelValues(dependency).Inc()
}

// RecordWebhookDelivery records a webhook delivery attempt
func RecordWebhookDelivery(event, status string) {
	WebhookDeliveriesTotal.WithLabelValues(event, status).Inc()
}

// RecordError records an error
func RecordError(component, errorType string) {
	ErrorsTotal.WithLabelValues(component, errorType).Inc()
}
