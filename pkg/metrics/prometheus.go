// Package metrics provides Prometheus metrics for the canonry scoring service.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Default metrics configuration constants.
const (
	defaultRefreshInterval = 10 * time.Second
)

// Manager manages all Prometheus metrics for the canonry service.
type Manager struct {
	namespace        string
	subsystem        string
	histogramBuckets []float64
	enabled          bool
	refreshInterval  time.Duration
	customLabels     map[string]string
	metricPrefix     string
	registry         prometheus.Registerer

	// Core Business Metrics - unit computations are the product
	unitsProcessed       *prometheus.CounterVec
	unitsFailed          *prometheus.CounterVec
	unitRetries          prometheus.Counter
	unitDuration         *prometheus.HistogramVec
	worksScored          prometheus.Counter
	orchestrations       *prometheus.CounterVec
	unitsQueued          *prometheus.CounterVec
	duplicatesSuppressed prometheus.Counter

	// Cache Metrics - both tiers plus durable write traffic
	cacheReads       *prometheus.CounterVec
	cacheUpserts     prometheus.Counter
	cachePurges      prometheus.Counter
	cacheWriteErrors prometheus.Counter
	cacheEntryCount  prometheus.Gauge
	memoryEntryCount prometheus.Gauge
	memoryEvictions  prometheus.Counter
	readVerdicts     *prometheus.CounterVec

	// Configuration Metrics - lifecycle visibility
	configActivations  *prometheus.CounterVec
	configurationCount prometheus.Gauge

	// Queue Metrics - scheduling backlog indicators
	queueDepth        prometheus.Gauge
	queueCapacity     prometheus.Gauge
	queueEnqueues     prometheus.Counter
	queueDequeues     prometheus.Counter
	queueEnqueueError prometheus.Counter
	outstandingUnits  prometheus.Gauge

	// Worker Metrics - processing performance
	workerActiveCount       prometheus.Gauge
	workerIdleCount         prometheus.Gauge
	workerProcessingLatency prometheus.Histogram
	workerErrors            prometheus.Counter

	// HTTP Performance Metrics
	httpRequests        *prometheus.CounterVec
	httpRequestDuration *prometheus.HistogramVec

	// Enhanced Error Metrics - per-component error tracking
	errorsByComponent *prometheus.CounterVec

	// System Performance Metrics
	systemMemoryUsage    prometheus.Gauge
	systemGoroutineCount prometheus.Gauge
	systemGCPause        prometheus.Histogram
}

// Global metrics manager instance.
var globalManager *Manager //nolint:gochecknoglobals // intentional global for singleton metrics manager

// Custom registry to avoid default Go metrics.
var customRegistry = prometheus.NewRegistry() //nolint:gochecknoglobals // intentional global for metrics registry

// Initialize global metrics.
func init() { //nolint:gochecknoinits // intentional init for global metrics setup
	globalManager = NewManager(WithPrometheusRegistry(customRegistry))
}

// NewManager creates a new metrics manager with default configuration.
func NewManager(opts ...Option) *Manager {
	m := &Manager{
		namespace:        "canonry",
		subsystem:        "scores",
		histogramBuckets: prometheus.DefBuckets,
		enabled:          true,
		refreshInterval:  defaultRefreshInterval,
		customLabels:     make(map[string]string),
		metricPrefix:     "",
		registry:         prometheus.DefaultRegisterer,
	}

	// Apply all options
	for _, opt := range opts {
		opt(m)
	}

	// Initialize metrics
	m.initializeMetrics()

	return m
}

func (m *Manager) initializeMetrics() { //nolint:funlen // long function required for comprehensive metrics initialization
	// Ensure metrics are registered on the configured registry (custom by default)
	auto := promauto.With(m.registry)

	// Core Business Metrics - unit computations are the product
	m.unitsProcessed = auto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: m.namespace,
			Subsystem: m.subsystem,
			Name:      "units_processed_total",
			Help:      "Total number of work units completed successfully, by kind",
		},
		[]string{"kind"},
	)

	m.unitsFailed = auto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: m.namespace,
			Subsystem: m.subsystem,
			Name:      "units_failed_total",
			Help:      "Total number of work units that exhausted their retries, by kind",
		},
		[]string{"kind"},
	)

	m.unitRetries = auto.NewCounter(prometheus.CounterOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      "unit_retries_total",
		Help:      "Total number of work unit redeliveries after a failed attempt",
	})

	m.unitDuration = auto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: m.namespace,
			Subsystem: m.subsystem,
			Name:      "unit_duration_milliseconds",
			Help:      "Histogram of work unit wall-clock duration in milliseconds, by kind",
			Buckets:   m.histogramBuckets,
		},
		[]string{"kind"},
	)

	m.worksScored = auto.NewCounter(prometheus.CounterOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      "works_scored_total",
		Help:      "Total number of works run through the scoring engine",
	})

	m.orchestrations = auto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: m.namespace,
			Subsystem: m.subsystem,
			Name:      "orchestrations_total",
			Help:      "Total number of refresh orchestrations, by family",
		},
		[]string{"family"},
	)

	m.unitsQueued = auto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: m.namespace,
			Subsystem: m.subsystem,
			Name:      "units_queued_total",
			Help:      "Total number of work units enqueued by orchestrations, by family",
		},
		[]string{"family"},
	)

	m.duplicatesSuppressed = auto.NewCounter(prometheus.CounterOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      "duplicates_suppressed_total",
		Help:      "Total number of enqueue attempts suppressed because an equal unit was outstanding",
	})

	// Cache Metrics - both tiers plus durable write traffic
	m.cacheReads = auto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: m.namespace,
			Subsystem: m.subsystem,
			Name:      "cache_reads_total",
			Help:      "Total number of cache reads by tier and outcome",
		},
		[]string{"tier", "outcome"},
	)

	m.cacheUpserts = auto.NewCounter(prometheus.CounterOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      "cache_upserts_total",
		Help:      "Total number of durable cache upserts",
	})

	m.cachePurges = auto.NewCounter(prometheus.CounterOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      "cache_purges_total",
		Help:      "Total number of administrative cache purges",
	})

	m.cacheWriteErrors = auto.NewCounter(prometheus.CounterOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      "cache_write_errors_total",
		Help:      "Total number of failed durable cache writes",
	})

	m.cacheEntryCount = auto.NewGauge(prometheus.GaugeOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      "cache_entries",
		Help:      "Current number of rows in the durable score cache",
	})

	m.memoryEntryCount = auto.NewGauge(prometheus.GaugeOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      "memory_cache_entries",
		Help:      "Current number of entries in the in-memory cache tier",
	})

	m.memoryEvictions = auto.NewCounter(prometheus.CounterOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      "memory_cache_evictions_total",
		Help:      "Total number of in-memory cache evictions (TTL or capacity)",
	})

	m.readVerdicts = auto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: m.namespace,
			Subsystem: m.subsystem,
			Name:      "read_verdicts_total",
			Help:      "Total number of reader verdicts handed out, by verdict",
		},
		[]string{"verdict"},
	)

	// Configuration Metrics - lifecycle visibility
	m.configActivations = auto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: m.namespace,
			Subsystem: m.subsystem,
			Name:      "config_activations_total",
			Help:      "Total number of configuration activations, by family",
		},
		[]string{"family"},
	)

	m.configurationCount = auto.NewGauge(prometheus.GaugeOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      "configurations",
		Help:      "Current number of stored scoring configurations",
	})

	// Queue Metrics - scheduling backlog indicators
	m.queueDepth = auto.NewGauge(prometheus.GaugeOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      "queue_depth",
		Help:      "Current number of units held by the delayed queue (backlog indicator)",
	})

	m.queueCapacity = auto.NewGauge(prometheus.GaugeOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      "queue_capacity",
		Help:      "Configured capacity of the delayed queue",
	})

	m.queueEnqueues = auto.NewCounter(prometheus.CounterOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      "queue_enqueues_total",
		Help:      "Total number of units accepted by the queue",
	})

	m.queueDequeues = auto.NewCounter(prometheus.CounterOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      "queue_dequeues_total",
		Help:      "Total number of units released to workers",
	})

	m.queueEnqueueError = auto.NewCounter(prometheus.CounterOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      "queue_enqueue_errors_total",
		Help:      "Total number of rejected enqueue attempts (closed or full queue)",
	})

	m.outstandingUnits = auto.NewGauge(prometheus.GaugeOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      "outstanding_units",
		Help:      "Current number of units queued or executing",
	})

	// Worker Metrics - processing performance
	m.workerActiveCount = auto.NewGauge(prometheus.GaugeOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      "worker_active_count",
		Help:      "Current number of workers executing a unit",
	})

	m.workerIdleCount = auto.NewGauge(prometheus.GaugeOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      "worker_idle_count",
		Help:      "Current number of idle workers",
	})

	m.workerProcessingLatency = auto.NewHistogram(prometheus.HistogramOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      "worker_processing_latency_milliseconds",
		Help:      "Worker unit processing latency in milliseconds",
		Buckets:   m.histogramBuckets,
	})

	m.workerErrors = auto.NewCounter(prometheus.CounterOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      "worker_errors_total",
		Help:      "Total number of worker processing errors",
	})

	// HTTP Performance Metrics
	m.httpRequests = auto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: m.namespace,
			Subsystem: m.subsystem,
			Name:      "http_requests_total",
			Help:      "Total number of HTTP requests by endpoint and method",
		},
		[]string{"endpoint", "method", "status_code"},
	)

	m.httpRequestDuration = auto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: m.namespace,
			Subsystem: m.subsystem,
			Name:      "http_request_duration_milliseconds",
			Help:      "HTTP request duration in milliseconds",
			Buckets:   m.histogramBuckets,
		},
		[]string{"endpoint", "method", "status_code"},
	)

	// Enhanced Error Metrics - per-component error tracking
	m.errorsByComponent = auto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: m.namespace,
			Subsystem: m.subsystem,
			Name:      "errors_by_component_total",
			Help:      "Total errors by component and error type",
		},
		[]string{"component", "error_type"},
	)

	// System Performance Metrics
	m.systemMemoryUsage = auto.NewGauge(prometheus.GaugeOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      "system_memory_usage_bytes",
		Help:      "Current memory usage in bytes",
	})

	m.systemGoroutineCount = auto.NewGauge(prometheus.GaugeOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      "system_goroutine_count",
		Help:      "Current number of goroutines",
	})

	m.systemGCPause = auto.NewHistogram(prometheus.HistogramOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      "system_gc_pause_ms",
		Help:      "Average garbage collection pause time in milliseconds",
		Buckets:   []float64{0.1, 0.5, 1, 5, 10, 50, 100},
	})
}

// RecordUnitProcessed increments the completed unit counter for a kind.
func RecordUnitProcessed(kind string) {
	globalManager.unitsProcessed.WithLabelValues(kind).Inc()
}

// RecordUnitFailure increments the terminally failed unit counter for a kind.
func RecordUnitFailure(kind string) {
	globalManager.unitsFailed.WithLabelValues(kind).Inc()
}

// RecordUnitRetry increments the unit redelivery counter.
func RecordUnitRetry() {
	globalManager.unitRetries.Inc()
}

// RecordUnitDuration records a unit's wall-clock duration in milliseconds.
func RecordUnitDuration(kind string, durationMs float64) {
	globalManager.unitDuration.WithLabelValues(kind).Observe(durationMs)
}

// RecordWorksScored adds to the scored works counter.
func RecordWorksScored(count int) {
	globalManager.worksScored.Add(float64(count))
}

// RecordOrchestration increments the orchestration counter for a family.
func RecordOrchestration(family string) {
	globalManager.orchestrations.WithLabelValues(family).Inc()
}

// RecordUnitsQueued adds to the queued unit counter for a family.
func RecordUnitsQueued(family string, count int) {
	globalManager.unitsQueued.WithLabelValues(family).Add(float64(count))
}

// RecordDuplicateSuppressed increments the suppressed duplicate counter.
func RecordDuplicateSuppressed() {
	globalManager.duplicatesSuppressed.Inc()
}

// RecordCacheHit records a cache read that found its key in the given tier.
func RecordCacheHit(tier string) {
	globalManager.cacheReads.WithLabelValues(tier, "hit").Inc()
}

// RecordCacheMiss records a cache read that missed in the given tier.
func RecordCacheMiss(tier string) {
	globalManager.cacheReads.WithLabelValues(tier, "miss").Inc()
}

// RecordCacheUpsert increments the durable upsert counter.
func RecordCacheUpsert() {
	globalManager.cacheUpserts.Inc()
}

// RecordCachePurge increments the administrative purge counter.
func RecordCachePurge() {
	globalManager.cachePurges.Inc()
}

// RecordCacheWriteError increments the failed durable write counter.
func RecordCacheWriteError() {
	globalManager.cacheWriteErrors.Inc()
}

// UpdateCacheEntryCount sets the durable cache row gauge.
func UpdateCacheEntryCount(count int) {
	globalManager.cacheEntryCount.Set(float64(count))
}

// UpdateMemoryEntryCount sets the in-memory tier entry gauge.
func UpdateMemoryEntryCount(count int) {
	globalManager.memoryEntryCount.Set(float64(count))
}

// RecordMemoryEviction increments the in-memory eviction counter.
func RecordMemoryEviction() {
	globalManager.memoryEvictions.Inc()
}

// RecordReadVerdict increments the verdict counter handed out by the reader.
func RecordReadVerdict(verdict string) {
	globalManager.readVerdicts.WithLabelValues(verdict).Inc()
}

// RecordConfigActivation increments the activation counter for a family.
func RecordConfigActivation(family string) {
	globalManager.configActivations.WithLabelValues(family).Inc()
}

// UpdateConfigurationCount sets the stored configuration gauge.
func UpdateConfigurationCount(count int) {
	globalManager.configurationCount.Set(float64(count))
}

// UpdateQueueDepth sets the current queue depth.
func UpdateQueueDepth(depth int) {
	globalManager.queueDepth.Set(float64(depth))
}

// UpdateQueueCapacity sets the configured queue capacity.
func UpdateQueueCapacity(capacity int) {
	globalManager.queueCapacity.Set(float64(capacity))
}

// RecordQueueEnqueue increments the accepted enqueue counter.
func RecordQueueEnqueue() {
	globalManager.queueEnqueues.Inc()
}

// RecordQueueDequeue increments the released unit counter.
func RecordQueueDequeue() {
	globalManager.queueDequeues.Inc()
}

// RecordQueueEnqueueError increments the rejected enqueue counter.
func RecordQueueEnqueueError() {
	globalManager.queueEnqueueError.Inc()
}

// UpdateOutstandingUnits sets the queued-or-executing unit gauge.
func UpdateOutstandingUnits(count int) {
	globalManager.outstandingUnits.Set(float64(count))
}

// UpdateWorkerActiveCount sets the active worker gauge.
func UpdateWorkerActiveCount(count int) {
	globalManager.workerActiveCount.Set(float64(count))
}

// UpdateWorkerIdleCount sets the idle worker gauge.
func UpdateWorkerIdleCount(count int) {
	globalManager.workerIdleCount.Set(float64(count))
}

// RecordWorkerProcessingLatency records worker processing latency in milliseconds.
func RecordWorkerProcessingLatency(latencyMs float64) {
	globalManager.workerProcessingLatency.Observe(latencyMs)
}

// RecordWorkerError increments the worker error counter.
func RecordWorkerError() {
	globalManager.workerErrors.Inc()
}

// RecordHTTPRequest records an HTTP request.
func RecordHTTPRequest(endpoint, method, statusCode string) {
	globalManager.httpRequests.WithLabelValues(endpoint, method, statusCode).Inc()
}

// RecordHTTPRequestDuration records HTTP request duration.
func RecordHTTPRequestDuration(endpoint, method, statusCode string, duration float64) {
	globalManager.httpRequestDuration.WithLabelValues(endpoint, method, statusCode).Observe(duration)
}

// RecordErrorByComponent records an error for a specific component.
func RecordErrorByComponent(component, errorType string) {
	globalManager.errorsByComponent.WithLabelValues(component, errorType).Inc()
}

// UpdateSystemMemoryUsage sets current memory usage.
func UpdateSystemMemoryUsage(bytes uint64) {
	globalManager.systemMemoryUsage.Set(float64(bytes))
}

// UpdateSystemGoroutineCount sets the current goroutine count.
func UpdateSystemGoroutineCount(count int) {
	globalManager.systemGoroutineCount.Set(float64(count))
}

// RecordSystemGCPauseTime records the average GC pause time in milliseconds.
func RecordSystemGCPauseTime(pauseMs float64) {
	globalManager.systemGCPause.Observe(pauseMs)
}

// GetRegistry returns the custom Prometheus registry used by our metrics.
func GetRegistry() *prometheus.Registry {
	return customRegistry
}
