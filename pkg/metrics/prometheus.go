// Package metrics provides Prometheus metrics for the trendcast pipeline.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Fetch outcome label values.
const (
	FetchOK          = "ok"
	FetchTimeout     = "timeout"
	FetchUnavailable = "unavailable"
	FetchSkipped     = "rate_limited"
)

// Manager manages all Prometheus metrics for the pipeline.
type Manager struct {
	namespace        string
	subsystem        string
	histogramBuckets []float64
	constLabels      map[string]string
	registry         prometheus.Registerer

	// Ingest
	fetchTotal        *prometheus.CounterVec
	fetchLatency      *prometheus.HistogramVec
	signalsNormalized *prometheus.CounterVec
	signalsMalformed  *prometheus.CounterVec
	signalsDuplicate  *prometheus.CounterVec

	// Trend detection
	clustersFormed      prometheus.Counter
	singleSourceGroups  prometheus.Counter
	signaturesUpserted  prometheus.Counter
	signaturesLowOpp    prometheus.Counter
	signaturesExpired   prometheus.Counter
	activeSignatures    prometheus.Gauge
	cycleDuration       prometheus.Histogram
	cycleFailures       prometheus.Counter
	lastCycleUnixSecond prometheus.Gauge

	// Replication
	variantsGenerated    *prometheus.CounterVec
	generationLatency    prometheus.Histogram
	opportunityStatus    *prometheus.CounterVec
	persistenceConflicts *prometheus.CounterVec

	// Delivery queue and workers
	queueSize          prometheus.Gauge
	queueCapacity      prometheus.Gauge
	queueEnqueueErrors prometheus.Counter
	deliveries         *prometheus.CounterVec
	workerCount        prometheus.Gauge
	workerLatency      prometheus.Histogram

	// HTTP
	httpRequests        *prometheus.CounterVec
	httpRequestDuration *prometheus.HistogramVec

	errorsByComponent *prometheus.CounterVec
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
		namespace:        "trendcast",
		subsystem:        "pipeline",
		histogramBuckets: prometheus.DefBuckets,
		constLabels:      map[string]string{},
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

func (m *Manager) histogram(name, help string) prometheus.Histogram {
	return promauto.With(m.registry).NewHistogram(prometheus.HistogramOpts{
		Namespace:   m.namespace,
		Subsystem:   m.subsystem,
		Name:        name,
		Help:        help,
		Buckets:     m.histogramBuckets,
		ConstLabels: m.constLabels,
	})
}

func (m *Manager) histogramVec(name, help string, labels ...string) *prometheus.HistogramVec {
	return promauto.With(m.registry).NewHistogramVec(prometheus.HistogramOpts{
		Namespace:   m.namespace,
		Subsystem:   m.subsystem,
		Name:        name,
		Help:        help,
		Buckets:     m.histogramBuckets,
		ConstLabels: m.constLabels,
	}, labels)
}

// initializeMetrics creates all the Prometheus metrics.
func (m *Manager) initializeMetrics() { //nolint:funlen // long function required for comprehensive metrics initialization
	m.fetchTotal = m.counterVec("fetch_total", "Adapter fetch attempts by source and outcome", "source", "outcome")
	m.fetchLatency = m.histogramVec("fetch_latency_milliseconds", "Adapter fetch latency in milliseconds", "source")
	m.signalsNormalized = m.counterVec("signals_normalized_total", "Signal records normalized per source", "source")
	m.signalsMalformed = m.counterVec("signals_malformed_total", "Raw payloads dropped as malformed per source", "source")
	m.signalsDuplicate = m.counterVec("signals_duplicate_total", "Signal records skipped as already seen per source", "source")

	m.clustersFormed = m.counter("clusters_formed_total", "Cross-source clusters formed")
	m.singleSourceGroups = m.counter("single_source_groups_total", "Bucket groups discarded for lacking corroboration")
	m.signaturesUpserted = m.counter("signatures_upserted_total", "Trend signatures written to the store")
	m.signaturesLowOpp = m.counter("signatures_low_opportunity_total", "Signatures whose exploitation window collapsed")
	m.signaturesExpired = m.counter("signatures_expired_total", "Signatures expired after their predicted peak")
	m.activeSignatures = m.gauge("active_signatures", "Active signatures after the last cycle")
	m.cycleDuration = m.histogram("cycle_duration_milliseconds", "Duration of one polling cycle in milliseconds")
	m.cycleFailures = m.counter("cycle_failures_total", "Polling cycles that ended with an error")
	m.lastCycleUnixSecond = m.gauge("last_cycle_unix_seconds", "Completion time of the last successful cycle")

	m.variantsGenerated = m.counterVec("variants_generated_total", "Variant generation attempts by outcome", "outcome")
	m.generationLatency = m.histogram("generation_latency_milliseconds", "Generation backend latency in milliseconds")
	m.opportunityStatus = m.counterVec("opportunity_transitions_total", "Opportunity status transitions", "status")
	m.persistenceConflicts = m.counterVec("persistence_conflicts_total", "Store write conflicts by entity", "entity")

	m.queueSize = m.gauge("delivery_queue_size", "Current number of queued delivery jobs")
	m.queueCapacity = m.gauge("delivery_queue_capacity", "Delivery queue capacity")
	m.queueEnqueueErrors = m.counter("delivery_queue_enqueue_errors_total", "Delivery jobs rejected by the queue")
	m.deliveries = m.counterVec("deliveries_total", "Per-source deliveries by outcome", "source", "outcome")
	m.workerCount = m.gauge("delivery_workers", "Number of delivery workers")
	m.workerLatency = m.histogram("delivery_latency_milliseconds", "Delivery job processing latency in milliseconds")

	m.httpRequests = m.counterVec("http_requests_total", "Total number of HTTP requests by endpoint and method", "endpoint", "method", "status_code")
	m.httpRequestDuration = m.histogramVec("http_request_duration_milliseconds", "HTTP request duration in milliseconds", "endpoint", "method", "status_code")

	m.errorsByComponent = m.counterVec("errors_total", "Errors by component and type", "component", "error_type")
}

// Ingest recorders.

// RecordFetch counts one adapter fetch with its outcome label.
func RecordFetch(source, outcome string) {
	globalManager.fetchTotal.WithLabelValues(source, outcome).Inc()
}

// RecordFetchLatency records adapter fetch latency.
func RecordFetchLatency(source string, latencyMs float64) {
	globalManager.fetchLatency.WithLabelValues(source).Observe(latencyMs)
}

// RecordSignalNormalized counts a normalized record.
func RecordSignalNormalized(source string) {
	globalManager.signalsNormalized.WithLabelValues(source).Inc()
}

// RecordSignalMalformed counts a dropped payload.
func RecordSignalMalformed(source string) {
	globalManager.signalsMalformed.WithLabelValues(source).Inc()
}

// RecordSignalDuplicate counts a record skipped as already seen.
func RecordSignalDuplicate(source string) {
	globalManager.signalsDuplicate.WithLabelValues(source).Inc()
}

// Trend recorders.

// RecordClustersFormed adds n formed clusters.
func RecordClustersFormed(n int) {
	globalManager.clustersFormed.Add(float64(n))
}

// RecordSingleSourceGroups adds n discarded single-source groups.
func RecordSingleSourceGroups(n int) {
	globalManager.singleSourceGroups.Add(float64(n))
}

// RecordSignatureUpserted counts a written signature.
func RecordSignatureUpserted() {
	globalManager.signaturesUpserted.Inc()
}

// RecordLowOpportunity counts a signature with a collapsed window.
func RecordLowOpportunity() {
	globalManager.signaturesLowOpp.Inc()
}

// RecordSignaturesExpired adds n expired signatures.
func RecordSignaturesExpired(n int) {
	globalManager.signaturesExpired.Add(float64(n))
}

// UpdateActiveSignatures sets the active signature gauge.
func UpdateActiveSignatures(n int) {
	globalManager.activeSignatures.Set(float64(n))
}

// RecordCycle records a finished cycle's duration and completion time.
func RecordCycle(durationMs float64, completedUnix int64) {
	globalManager.cycleDuration.Observe(durationMs)
	globalManager.lastCycleUnixSecond.Set(float64(completedUnix))
}

// RecordCycleFailure counts a failed cycle.
func RecordCycleFailure() {
	globalManager.cycleFailures.Inc()
}

// Replication recorders.

// RecordVariant counts a variant generation with outcome "ok", "failed" or "timeout".
func RecordVariant(outcome string) {
	globalManager.variantsGenerated.WithLabelValues(outcome).Inc()
}

// RecordGenerationLatency records backend latency for one variant.
func RecordGenerationLatency(latencyMs float64) {
	globalManager.generationLatency.Observe(latencyMs)
}

// RecordOpportunityStatus counts a transition into status.
func RecordOpportunityStatus(status string) {
	globalManager.opportunityStatus.WithLabelValues(status).Inc()
}

// RecordPersistenceConflict counts a store conflict for "signature" or "opportunity".
func RecordPersistenceConflict(entity string) {
	globalManager.persistenceConflicts.WithLabelValues(entity).Inc()
}

// Delivery recorders.

// UpdateQueueSize sets the delivery queue size.
func UpdateQueueSize(size int) {
	globalManager.queueSize.Set(float64(size))
}

// UpdateQueueCapacity sets the delivery queue capacity.
func UpdateQueueCapacity(capacity int) {
	globalManager.queueCapacity.Set(float64(capacity))
}

// RecordQueueEnqueueError counts a rejected delivery job.
func RecordQueueEnqueueError() {
	globalManager.queueEnqueueErrors.Inc()
}

// RecordDelivery counts one per-source delivery.
func RecordDelivery(source, outcome string) {
	globalManager.deliveries.WithLabelValues(source, outcome).Inc()
}

// UpdateWorkerCount sets the number of delivery workers.
func UpdateWorkerCount(count int) {
	globalManager.workerCount.Set(float64(count))
}

// RecordWorkerLatency records delivery job latency.
func RecordWorkerLatency(latencyMs float64) {
	globalManager.workerLatency.Observe(latencyMs)
}

// HTTP recorders.

// RecordHTTPRequest increments the HTTP request counter.
func RecordHTTPRequest(endpoint, method, statusCode string) {
	globalManager.httpRequests.WithLabelValues(endpoint, method, statusCode).Inc()
}

// RecordHTTPRequestDuration records HTTP request duration.
func RecordHTTPRequestDuration(endpoint, method, statusCode string, duration float64) {
	globalManager.httpRequestDuration.WithLabelValues(endpoint, method, statusCode).Observe(duration)
}

// RecordErrorByComponent records an error with component and type labels.
func RecordErrorByComponent(component, errorType string) {
	globalManager.errorsByComponent.WithLabelValues(component, errorType).Inc()
}

// GetRegistry returns the custom Prometheus registry used by our metrics.
func GetRegistry() *prometheus.Registry {
	return customRegistry
}
