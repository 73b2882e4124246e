// Package metrics provides Prometheus metrics for the ucoin reward service.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Manager manages all Prometheus metrics for the service.
type Manager struct {
	namespace        string
	subsystem        string
	histogramBuckets []float64
	constLabels      map[string]string
	registry         prometheus.Registerer

	// Telemetry collaborator
	telemetryFetches      *prometheus.CounterVec
	telemetryFetchLatency prometheus.Histogram

	// Leaderboard aggregation
	leaderboardBuilds        *prometheus.CounterVec
	leaderboardBuildDuration prometheus.Histogram
	leaderboardEntries       prometheus.Gauge
	leaderboardExcluded      prometheus.Counter

	// Withdrawal state machine
	withdrawalRequests  *prometheus.CounterVec
	withdrawalApprovals *prometheus.CounterVec
	pendingRequests     prometheus.Gauge

	// Claim tracking
	claimsRecorded   prometheus.Counter
	claimsReplayed   prometheus.Counter
	claimReconciles  *prometheus.CounterVec
	claimDivergences prometheus.Counter

	// Ledger events
	ledgerEvents *prometheus.CounterVec

	// Queue
	queueSize          prometheus.Gauge
	queueCapacity      prometheus.Gauge
	queueUtilization   prometheus.Gauge
	queueEnqueued      prometheus.Counter
	queueDequeued      prometheus.Counter
	queueEnqueueErrors prometheus.Counter

	// Workers
	workerCount             prometheus.Gauge
	workerProcessingLatency prometheus.Histogram
	workerErrors            prometheus.Counter

	// Sessions
	activeSessions prometheus.Gauge

	// HTTP
	httpRequests        *prometheus.CounterVec
	httpRequestDuration *prometheus.HistogramVec
	errorRateByEndpoint *prometheus.CounterVec
	errorRateByType     *prometheus.CounterVec

	// Errors by component
	errorRateByComponent *prometheus.CounterVec

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
		namespace:        "ucoin",
		subsystem:        "rewards",
		histogramBuckets: []float64{1, 5, 10, 25, 50, 100, 250, 500, 1000, 2500, 5000, 15000},
		constLabels:      map[string]string{},
		registry:         prometheus.DefaultRegisterer,
	}

	for _, opt := range opts {
		opt(m)
	}

	m.initializeMetrics()
	return m
}

func (m *Manager) counterOpts(name, help string) prometheus.CounterOpts {
	return prometheus.CounterOpts{
		Namespace:   m.namespace,
		Subsystem:   m.subsystem,
		Name:        name,
		Help:        help,
		ConstLabels: m.constLabels,
	}
}

func (m *Manager) gaugeOpts(name, help string) prometheus.GaugeOpts {
	return prometheus.GaugeOpts{
		Namespace:   m.namespace,
		Subsystem:   m.subsystem,
		Name:        name,
		Help:        help,
		ConstLabels: m.constLabels,
	}
}

func (m *Manager) histogramOpts(name, help string, buckets []float64) prometheus.HistogramOpts {
	return prometheus.HistogramOpts{
		Namespace:   m.namespace,
		Subsystem:   m.subsystem,
		Name:        name,
		Help:        help,
		ConstLabels: m.constLabels,
		Buckets:     buckets,
	}
}

// initializeMetrics creates all the Prometheus metrics.
func (m *Manager) initializeMetrics() { //nolint:funlen // long function required for comprehensive metrics initialization
	auto := promauto.With(m.registry)

	m.telemetryFetches = auto.NewCounterVec(
		m.counterOpts("telemetry_fetches_total", "Telemetry contribution fetches by result status"),
		[]string{"status"},
	)
	m.telemetryFetchLatency = auto.NewHistogram(
		m.histogramOpts("telemetry_fetch_latency_milliseconds", "Telemetry fetch latency in milliseconds", m.histogramBuckets),
	)

	m.leaderboardBuilds = auto.NewCounterVec(
		m.counterOpts("leaderboard_builds_total", "Leaderboard aggregations by outcome"),
		[]string{"outcome"},
	)
	m.leaderboardBuildDuration = auto.NewHistogram(
		m.histogramOpts("leaderboard_build_duration_milliseconds", "Leaderboard aggregation duration in milliseconds", m.histogramBuckets),
	)
	m.leaderboardEntries = auto.NewGauge(
		m.gaugeOpts("leaderboard_entries", "Entries in the last published leaderboard"),
	)
	m.leaderboardExcluded = auto.NewCounter(
		m.counterOpts("leaderboard_excluded_identities_total", "Identities skipped for missing address or handle"),
	)

	m.withdrawalRequests = auto.NewCounterVec(
		m.counterOpts("withdrawal_requests_total", "Withdrawal requests by outcome"),
		[]string{"outcome"},
	)
	m.withdrawalApprovals = auto.NewCounterVec(
		m.counterOpts("withdrawal_approvals_total", "Withdrawal approvals by outcome"),
		[]string{"outcome"},
	)
	m.pendingRequests = auto.NewGauge(
		m.gaugeOpts("pending_requests", "Live pending withdrawal requests"),
	)

	m.claimsRecorded = auto.NewCounter(
		m.counterOpts("claims_recorded_total", "Completed claims applied to the claimed-amount cache"),
	)
	m.claimsReplayed = auto.NewCounter(
		m.counterOpts("claims_replayed_total", "Claim completions ignored because the tx ref was already applied"),
	)
	m.claimReconciles = auto.NewCounterVec(
		m.counterOpts("claim_reconciles_total", "Claimed-amount reconciliations against the ledger by outcome"),
		[]string{"outcome"},
	)
	m.claimDivergences = auto.NewCounter(
		m.counterOpts("claim_cache_divergences_total", "Reconciliations where the cached total disagreed with the ledger"),
	)

	m.ledgerEvents = auto.NewCounterVec(
		m.counterOpts("ledger_events_total", "Ledger events processed by kind"),
		[]string{"kind"},
	)

	m.queueSize = auto.NewGauge(m.gaugeOpts("queue_size", "Current size of the ledger event queue"))
	m.queueCapacity = auto.NewGauge(m.gaugeOpts("queue_capacity", "Maximum queue capacity"))
	m.queueUtilization = auto.NewGauge(m.gaugeOpts("queue_utilization_ratio", "Queue utilization ratio (current size / capacity)"))
	m.queueEnqueued = auto.NewCounter(m.counterOpts("queue_enqueue_total", "Total number of events enqueued"))
	m.queueDequeued = auto.NewCounter(m.counterOpts("queue_dequeue_total", "Total number of events dequeued"))
	m.queueEnqueueErrors = auto.NewCounter(m.counterOpts("queue_enqueue_errors_total", "Total number of rejected enqueues"))

	m.workerCount = auto.NewGauge(m.gaugeOpts("worker_count", "Number of ledger event workers"))
	m.workerProcessingLatency = auto.NewHistogram(
		m.histogramOpts("worker_processing_latency_milliseconds", "Ledger event processing latency in milliseconds", m.histogramBuckets),
	)
	m.workerErrors = auto.NewCounter(m.counterOpts("worker_errors_total", "Ledger events that failed processing"))

	m.activeSessions = auto.NewGauge(m.gaugeOpts("active_sessions", "Open session feeds"))

	m.httpRequests = auto.NewCounterVec(
		m.counterOpts("http_requests_total", "Total number of HTTP requests by endpoint and method"),
		[]string{"endpoint", "method", "status_code"},
	)
	m.httpRequestDuration = auto.NewHistogramVec(
		m.histogramOpts("http_request_duration_milliseconds", "HTTP request duration in milliseconds", m.histogramBuckets),
		[]string{"endpoint", "method", "status_code"},
	)
	m.errorRateByEndpoint = auto.NewCounterVec(
		m.counterOpts("errors_by_endpoint_total", "HTTP errors by endpoint, method and error type"),
		[]string{"endpoint", "method", "error_type"},
	)
	m.errorRateByType = auto.NewCounterVec(
		m.counterOpts("errors_by_type_total", "Errors by type and severity"),
		[]string{"error_type", "severity"},
	)
	m.errorRateByComponent = auto.NewCounterVec(
		m.counterOpts("errors_by_component_total", "Errors by component and error type"),
		[]string{"component", "error_type"},
	)

	m.systemMemoryUsage = auto.NewGauge(m.gaugeOpts("system_memory_bytes", "Allocated heap bytes"))
	m.systemGoroutineCount = auto.NewGauge(m.gaugeOpts("system_goroutines", "Number of goroutines"))
	m.systemGCPauseTime = auto.NewHistogram(
		m.histogramOpts("system_gc_pause_milliseconds", "Average GC pause in milliseconds",
			[]float64{0.1, 0.5, 1, 2, 5, 10, 25, 50, 100, 250, 500, 1000}),
	)
}

// RecordTelemetryFetch records one telemetry fetch and its latency.
func RecordTelemetryFetch(status string, latencyMs float64) {
	globalManager.telemetryFetches.WithLabelValues(status).Inc()
	globalManager.telemetryFetchLatency.Observe(latencyMs)
}

// RecordLeaderboardBuild records one aggregation run.
func RecordLeaderboardBuild(outcome string, durationMs float64) {
	globalManager.leaderboardBuilds.WithLabelValues(outcome).Inc()
	globalManager.leaderboardBuildDuration.Observe(durationMs)
}

// UpdateLeaderboardEntries sets the size of the published leaderboard.
func UpdateLeaderboardEntries(count int) {
	globalManager.leaderboardEntries.Set(float64(count))
}

// RecordLeaderboardExcluded counts identities that cannot be scored.
func RecordLeaderboardExcluded(count int) {
	globalManager.leaderboardExcluded.Add(float64(count))
}

// RecordWithdrawalRequest counts a withdrawal request by outcome.
func RecordWithdrawalRequest(outcome string) {
	globalManager.withdrawalRequests.WithLabelValues(outcome).Inc()
}

// RecordWithdrawalApproval counts an approval attempt by outcome.
func RecordWithdrawalApproval(outcome string) {
	globalManager.withdrawalApprovals.WithLabelValues(outcome).Inc()
}

// UpdatePendingRequests sets the number of live pending requests.
func UpdatePendingRequests(count int) {
	globalManager.pendingRequests.Set(float64(count))
}

// RecordClaimRecorded counts a claim applied to the cache.
func RecordClaimRecorded() {
	globalManager.claimsRecorded.Inc()
}

// RecordClaimReplayed counts a claim completion dropped as a replay.
func RecordClaimReplayed() {
	globalManager.claimsReplayed.Inc()
}

// RecordClaimReconcile counts a reconciliation against the ledger.
func RecordClaimReconcile(outcome string) {
	globalManager.claimReconciles.WithLabelValues(outcome).Inc()
}

// RecordClaimDivergence counts a cache/ledger disagreement.
func RecordClaimDivergence() {
	globalManager.claimDivergences.Inc()
}

// RecordLedgerEvent counts a processed ledger event.
func RecordLedgerEvent(kind string) {
	globalManager.ledgerEvents.WithLabelValues(kind).Inc()
}

// UpdateQueueSize sets the current queue size.
func UpdateQueueSize(size int) {
	globalManager.queueSize.Set(float64(size))
}

// UpdateQueueCapacity sets the queue capacity.
func UpdateQueueCapacity(capacity int) {
	globalManager.queueCapacity.Set(float64(capacity))
}

// UpdateQueueUtilization sets the queue utilization ratio.
func UpdateQueueUtilization(utilization float64) {
	globalManager.queueUtilization.Set(utilization)
}

// RecordQueueEnqueue increments the enqueue counter.
func RecordQueueEnqueue() {
	globalManager.queueEnqueued.Inc()
}

// RecordQueueDequeue increments the dequeue counter.
func RecordQueueDequeue() {
	globalManager.queueDequeued.Inc()
}

// RecordQueueEnqueueError increments the rejected enqueue counter.
func RecordQueueEnqueueError() {
	globalManager.queueEnqueueErrors.Inc()
}

// UpdateWorkerCount sets the current worker count.
func UpdateWorkerCount(count int) {
	globalManager.workerCount.Set(float64(count))
}

// RecordWorkerProcessingLatency records event processing latency.
func RecordWorkerProcessingLatency(latencyMs float64) {
	globalManager.workerProcessingLatency.Observe(latencyMs)
}

// RecordWorkerError increments the worker error counter.
func RecordWorkerError() {
	globalManager.workerErrors.Inc()
}

// SessionOpened increments the active session gauge.
func SessionOpened() {
	globalManager.activeSessions.Inc()
}

// SessionClosed decrements the active session gauge.
func SessionClosed() {
	globalManager.activeSessions.Dec()
}

// RecordHTTPRequest records an HTTP request.
func RecordHTTPRequest(endpoint, method, statusCode string) {
	globalManager.httpRequests.WithLabelValues(endpoint, method, statusCode).Inc()
}

// RecordHTTPRequestDuration records HTTP request duration.
func RecordHTTPRequestDuration(endpoint, method, statusCode string, duration float64) {
	globalManager.httpRequestDuration.WithLabelValues(endpoint, method, statusCode).Observe(duration)
}

// RecordErrorByEndpoint records an error with endpoint, method, and error type labels.
func RecordErrorByEndpoint(endpoint, method, errorType string) {
	globalManager.errorRateByEndpoint.WithLabelValues(endpoint, method, errorType).Inc()
}

// RecordErrorByType records an error with type and severity labels.
func RecordErrorByType(errorType, severity string) {
	globalManager.errorRateByType.WithLabelValues(errorType, severity).Inc()
}

// RecordErrorByComponent records an error with component and type labels.
func RecordErrorByComponent(component, errorType string) {
	globalManager.errorRateByComponent.WithLabelValues(component, errorType).Inc()
}

// UpdateSystemMemoryUsage sets the system memory usage in bytes.
func UpdateSystemMemoryUsage(bytes uint64) {
	globalManager.systemMemoryUsage.Set(float64(bytes))
}

// UpdateSystemGoroutineCount sets the number of goroutines.
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
