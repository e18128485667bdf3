// Package metrics provides Prometheus metrics for the transaction guard service.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Default metrics configuration constants.
const (
	defaultNamespace = "txguard"
	defaultSubsystem = "guard"
)

// Manager manages all Prometheus metrics for the guard service.
type Manager struct {
	namespace        string
	subsystem        string
	histogramBuckets []float64
	constLabels      prometheus.Labels
	registry         prometheus.Registerer

	// Pipeline outcomes
	decisions      *prometheus.CounterVec
	evaluationTime *prometheus.HistogramVec
	checkLatency   *prometheus.HistogramVec
	checkFailures  *prometheus.CounterVec
	reviewQueued   *prometheus.CounterVec

	// Individual checks
	rateLimitRejections *prometheus.CounterVec
	idempotency         *prometheus.CounterVec
	riskScores          *prometheus.HistogramVec
	anomalies           *prometheus.CounterVec
	payoutOutcomes      *prometheus.CounterVec

	// Alert sink
	alertsEnqueued  *prometheus.CounterVec
	alertsDropped   prometheus.Counter
	alertsRecorded  prometheus.Counter
	alertsFailed    prometheus.Counter
	alertQueueSize  prometheus.Gauge
	alertQueueUtil  prometheus.Gauge
	alertWorkers    prometheus.Gauge
	alertRecordTime prometheus.Histogram

	// HTTP
	httpRequests        *prometheus.CounterVec
	httpRequestDuration *prometheus.HistogramVec

	// System
	systemMemoryUsage    prometheus.Gauge
	systemGoroutineCount prometheus.Gauge
	systemGCPauseTime    prometheus.Histogram
}

// Global metrics manager instance.
var globalManager *Manager //nolint:gochecknoglobals // intentional global for singleton metrics manager

// Custom registry to avoid default Go metrics.
var customRegistry = prometheus.NewRegistry() //nolint:gochecknoglobals // intentional global for metrics registry

func init() { //nolint:gochecknoinits // intentional init for global metrics setup
	globalManager = NewManager(WithPrometheusRegistry(customRegistry))
}

// NewManager creates a new metrics manager with default configuration.
func NewManager(opts ...Option) *Manager {
	m := &Manager{
		namespace:        defaultNamespace,
		subsystem:        defaultSubsystem,
		histogramBuckets: []float64{0.5, 1, 2.5, 5, 10, 25, 50, 100, 250, 500, 1000, 2500},
		constLabels:      prometheus.Labels{},
		registry:         prometheus.DefaultRegisterer,
	}

	for _, opt := range opts {
		opt(m)
	}

	m.initializeMetrics()

	return m
}

func (m *Manager) counterVec(name, help string, labels ...string) *prometheus.CounterVec {
	return promauto.With(m.registry).NewCounterVec(prometheus.CounterOpts{
		Namespace:   m.namespace,
		Subsystem:   m.subsystem,
		Name:        name,
		Help:        help,
		ConstLabels: m.constLabels,
	}, labels)
}

func (m *Manager) counter(name, help string) prometheus.Counter {
	return promauto.With(m.registry).NewCounter(prometheus.CounterOpts{
		Namespace:   m.namespace,
		Subsystem:   m.subsystem,
		Name:        name,
		Help:        help,
		ConstLabels: m.constLabels,
	})
}

func (m *Manager) gauge(name, help string) prometheus.Gauge {
	return promauto.With(m.registry).NewGauge(prometheus.GaugeOpts{
		Namespace:   m.namespace,
		Subsystem:   m.subsystem,
		Name:        name,
		Help:        help,
		ConstLabels: m.constLabels,
	})
}

func (m *Manager) histogramVec(name, help string, buckets []float64, labels ...string) *prometheus.HistogramVec {
	return promauto.With(m.registry).NewHistogramVec(prometheus.HistogramOpts{
		Namespace:   m.namespace,
		Subsystem:   m.subsystem,
		Name:        name,
		Help:        help,
		Buckets:     buckets,
		ConstLabels: m.constLabels,
	}, labels)
}

func (m *Manager) histogram(name, help string, buckets []float64) prometheus.Histogram {
	return promauto.With(m.registry).NewHistogram(prometheus.HistogramOpts{
		Namespace:   m.namespace,
		Subsystem:   m.subsystem,
		Name:        name,
		Help:        help,
		Buckets:     buckets,
		ConstLabels: m.constLabels,
	})
}

// initializeMetrics creates all the Prometheus metrics.
func (m *Manager) initializeMetrics() { //nolint:funlen // long function required for comprehensive metrics initialization
	m.decisions = m.counterVec("decisions_total",
		"Guard decisions by action type and decision code", "action", "code")
	m.evaluationTime = m.histogramVec("evaluation_duration_milliseconds",
		"End-to-end pipeline latency in milliseconds", m.histogramBuckets, "action")
	m.checkLatency = m.histogramVec("check_duration_milliseconds",
		"Latency of individual guard checks in milliseconds", m.histogramBuckets, "check")
	m.checkFailures = m.counterVec("check_failures_total",
		"Checks that could not complete, by check and applied failure policy", "check", "policy")
	m.reviewQueued = m.counterVec("review_queued_total",
		"Allowed decisions flagged for manual review", "action")

	m.rateLimitRejections = m.counterVec("rate_limit_rejections_total",
		"Requests rejected by the rate limiter, by scope and tier", "scope", "tier")
	m.idempotency = m.counterVec("idempotency_outcomes_total",
		"Idempotency begin outcomes (proceed, replay, conflict)", "outcome")
	m.riskScores = m.histogramVec("risk_score",
		"Distribution of computed risk scores", []float64{10, 20, 30, 40, 50, 60, 70, 80, 90, 100}, "action")
	m.anomalies = m.counterVec("anomalies_detected_total",
		"Anomaly detector hits by detector", "detector")
	m.payoutOutcomes = m.counterVec("payout_gate_outcomes_total",
		"Payout eligibility gate outcomes by status and reason", "status", "reason")

	m.alertsEnqueued = m.counterVec("alerts_enqueued_total",
		"Fraud alerts accepted by the alert sink, by type and severity", "type", "severity")
	m.alertsDropped = m.counter("alerts_dropped_total",
		"Fraud alerts dropped because the alert queue was full or closed")
	m.alertsRecorded = m.counter("alerts_recorded_total",
		"Fraud alerts persisted by the alert recorder")
	m.alertsFailed = m.counter("alerts_failed_total",
		"Fraud alerts the recorder failed to persist")
	m.alertQueueSize = m.gauge("alert_queue_size", "Current number of queued fraud alerts")
	m.alertQueueUtil = m.gauge("alert_queue_utilization", "Alert queue utilization ratio (0.0-1.0)")
	m.alertWorkers = m.gauge("alert_workers", "Number of alert recorder workers")
	m.alertRecordTime = m.histogram("alert_record_duration_milliseconds",
		"Time spent persisting a single alert in milliseconds", m.histogramBuckets)

	m.httpRequests = m.counterVec("http_requests_total",
		"Total number of HTTP requests by endpoint and method", "endpoint", "method", "status_code")
	m.httpRequestDuration = m.histogramVec("http_request_duration_milliseconds",
		"HTTP request duration in milliseconds", m.histogramBuckets, "endpoint", "method", "status_code")

	m.systemMemoryUsage = m.gauge("system_memory_usage_bytes", "System memory usage in bytes")
	m.systemGoroutineCount = m.gauge("system_goroutine_count", "Number of goroutines")
	m.systemGCPauseTime = m.histogram("system_gc_pause_time_milliseconds", "GC pause time in milliseconds",
		[]float64{0.1, 0.5, 1, 2, 5, 10, 25, 50, 100, 250, 500, 1000})
}

func ms(d time.Duration) float64 { return float64(d) / float64(time.Millisecond) }

// RecordDecision counts a pipeline decision.
func RecordDecision(action, code string) {
	globalManager.decisions.WithLabelValues(action, code).Inc()
}

// RecordEvaluationLatency observes the full pipeline latency.
func RecordEvaluationLatency(action string, d time.Duration) {
	globalManager.evaluationTime.WithLabelValues(action).Observe(ms(d))
}

// RecordCheckLatency observes a single check's latency.
func RecordCheckLatency(check string, d time.Duration) {
	globalManager.checkLatency.WithLabelValues(check).Observe(ms(d))
}

// RecordCheckFailure counts a check that errored or timed out.
func RecordCheckFailure(check, policy string) {
	globalManager.checkFailures.WithLabelValues(check, policy).Inc()
}

// RecordReviewQueued counts an allowed decision that was flagged for review.
func RecordReviewQueued(action string) {
	globalManager.reviewQueued.WithLabelValues(action).Inc()
}

// RecordRateLimitRejection counts a rate limiter rejection.
func RecordRateLimitRejection(scope, tier string) {
	globalManager.rateLimitRejections.WithLabelValues(scope, tier).Inc()
}

// RecordIdempotencyOutcome counts an idempotency begin outcome.
func RecordIdempotencyOutcome(outcome string) {
	globalManager.idempotency.WithLabelValues(outcome).Inc()
}

// RecordRiskScore observes a computed risk score.
func RecordRiskScore(action string, score int) {
	globalManager.riskScores.WithLabelValues(action).Observe(float64(score))
}

// RecordAnomaly counts an anomaly detector hit.
func RecordAnomaly(detector string) {
	globalManager.anomalies.WithLabelValues(detector).Inc()
}

// RecordPayoutOutcome counts a payout gate outcome.
func RecordPayoutOutcome(status, reason string) {
	globalManager.payoutOutcomes.WithLabelValues(status, reason).Inc()
}

// RecordAlertEnqueued counts an alert accepted by the sink.
func RecordAlertEnqueued(alertType, severity string) {
	globalManager.alertsEnqueued.WithLabelValues(alertType, severity).Inc()
}

// RecordAlertDropped counts an alert that could not be queued.
func RecordAlertDropped() {
	globalManager.alertsDropped.Inc()
}

// RecordAlertRecorded counts a persisted alert and its write latency.
func RecordAlertRecorded(d time.Duration) {
	globalManager.alertsRecorded.Inc()
	globalManager.alertRecordTime.Observe(ms(d))
}

// RecordAlertFailed counts an alert the recorder failed to persist.
func RecordAlertFailed() {
	globalManager.alertsFailed.Inc()
}

// UpdateAlertQueue sets the alert queue size and utilization.
func UpdateAlertQueue(size, capacity int) {
	globalManager.alertQueueSize.Set(float64(size))
	if capacity > 0 {
		globalManager.alertQueueUtil.Set(float64(size) / float64(capacity))
	}
}

// UpdateAlertWorkers sets the number of alert recorder workers.
func UpdateAlertWorkers(count int) {
	globalManager.alertWorkers.Set(float64(count))
}

// RecordHTTPRequest records an HTTP request.
func RecordHTTPRequest(endpoint, method, statusCode string) {
	globalManager.httpRequests.WithLabelValues(endpoint, method, statusCode).Inc()
}

// RecordHTTPRequestDuration records HTTP request duration in milliseconds.
func RecordHTTPRequestDuration(endpoint, method, statusCode string, duration float64) {
	globalManager.httpRequestDuration.WithLabelValues(endpoint, method, statusCode).Observe(duration)
}

// UpdateSystemMemoryUsage sets the system memory usage in bytes.
func UpdateSystemMemoryUsage(bytes uint64) {
	globalManager.systemMemoryUsage.Set(float64(bytes))
}

// UpdateSystemGoroutineCount sets the current goroutine count.
func UpdateSystemGoroutineCount(count int) {
	globalManager.systemGoroutineCount.Set(float64(count))
}

// RecordSystemGCPauseTime records GC pause time in milliseconds.
func RecordSystemGCPauseTime(pauseMs float64) {
	globalManager.systemGCPauseTime.Observe(pauseMs)
}

// GetRegistry returns the custom Prometheus registry used by our metrics.
func GetRegistry() *prometheus.Registry {
	return customRegistry
}
