// Package metrics provides Prometheus metrics for the evidence fusion service.
package metrics

import (
	"strconv"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Default metrics configuration constants.
const (
	defaultRefreshInterval = 10 * time.Second
)

// DefaultLatencyBuckets are the latency histogram buckets, in milliseconds.
var DefaultLatencyBuckets = []float64{1, 5, 10, 25, 50, 100, 250, 500, 1000, 2500, 5000, 10000} //nolint:gochecknoglobals // read-only defaults

// Manager manages all Prometheus metrics for the service.
type Manager struct {
	namespace        string
	subsystem        string
	histogramBuckets []float64
	enabled          atomic.Bool
	refreshInterval  time.Duration
	customLabels     map[string]string
	metricPrefix     string
	registry         prometheus.Registerer

	// Request Metrics - caller contract
	requests        *prometheus.CounterVec
	requestFailures *prometheus.CounterVec
	batchSize       prometheus.Histogram

	// Fusion Metrics
	fusionLatency    prometheus.Histogram
	noEvidence       prometheus.Counter
	fusedConfidence  prometheus.Histogram
	evidenceItems    *prometheus.CounterVec
	collectorFailure *prometheus.CounterVec
	collectorLatency *prometheus.HistogramVec

	// Reasoning Metrics
	generations       *prometheus.CounterVec
	fallbacks         *prometheus.CounterVec
	truncations       *prometheus.CounterVec
	promptTokens      prometheus.Histogram
	providerLatency   prometheus.Histogram
	rateLimitRejected *prometheus.CounterVec

	// Weight Configuration Metrics
	weightUpdates *prometheus.CounterVec
	weightVersion prometheus.Gauge

	// Inference Metrics
	predictionCache *prometheus.CounterVec

	// HTTP Performance Metrics
	httpRequests        *prometheus.CounterVec
	httpRequestDuration *prometheus.HistogramVec

	// System Performance Metrics
	systemMemoryUsage    prometheus.Gauge
	systemGoroutineCount prometheus.Gauge
	systemGCPauseTime    prometheus.Histogram
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
		namespace:        "fusion",
		subsystem:        "assessment",
		histogramBuckets: DefaultLatencyBuckets,
		refreshInterval:  defaultRefreshInterval,
		customLabels:     make(map[string]string),
		metricPrefix:     "",
		registry:         prometheus.DefaultRegisterer,
	}

	m.enabled.Store(true)

	for _, opt := range opts {
		opt(m)
	}

	m.initializeMetrics()

	return m
}

func (m *Manager) name(n string) string {
	return m.metricPrefix + n
}

func (m *Manager) counterVec(name, help string, labels ...string) *prometheus.CounterVec {
	return promauto.With(m.registry).NewCounterVec(prometheus.CounterOpts{
		Namespace:   m.namespace,
		Subsystem:   m.subsystem,
		Name:        m.name(name),
		Help:        help,
		ConstLabels: m.customLabels,
	}, labels)
}

func (m *Manager) histogram(name, help string, buckets []float64) prometheus.Histogram {
	return promauto.With(m.registry).NewHistogram(prometheus.HistogramOpts{
		Namespace:   m.namespace,
		Subsystem:   m.subsystem,
		Name:        m.name(name),
		Help:        help,
		Buckets:     buckets,
		ConstLabels: m.customLabels,
	})
}

func (m *Manager) gauge(name, help string) prometheus.Gauge {
	return promauto.With(m.registry).NewGauge(prometheus.GaugeOpts{
		Namespace:   m.namespace,
		Subsystem:   m.subsystem,
		Name:        m.name(name),
		Help:        help,
		ConstLabels: m.customLabels,
	})
}

// initializeMetrics creates all the Prometheus metrics.
func (m *Manager) initializeMetrics() { //nolint:funlen // long function required for comprehensive metrics initialization
	auto := promauto.With(m.registry)
	unitBuckets := prometheus.LinearBuckets(0.1, 0.1, 10)

	m.requests = m.counterVec("requests_total", "Total assessment requests by operation", "operation")
	m.requestFailures = m.counterVec("request_failures_total", "Requests that did not yield an assessment, by cause", "cause")
	m.batchSize = m.histogram("batch_size", "Number of students per batch request", prometheus.ExponentialBuckets(1, 2, 10))

	m.fusionLatency = m.histogram("fusion_latency_milliseconds", "Time to collect and fuse evidence", m.histogramBuckets)
	m.noEvidence = auto.NewCounter(prometheus.CounterOpts{
		Namespace:   m.namespace,
		Subsystem:   m.subsystem,
		Name:        m.name("no_evidence_total"),
		Help:        "Fusions where no source contributed evidence",
		ConstLabels: m.customLabels,
	})
	m.fusedConfidence = m.histogram("fused_confidence", "Confidence of fused results", unitBuckets)
	m.evidenceItems = m.counterVec("evidence_items_total", "Evidence items collected per source", "source")
	m.collectorFailure = m.counterVec("collector_failures_total", "Collector failures by source and cause", "source", "cause")
	m.collectorLatency = auto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace:   m.namespace,
		Subsystem:   m.subsystem,
		Name:        m.name("collector_latency_milliseconds"),
		Help:        "Collector latency by source",
		Buckets:     m.histogramBuckets,
		ConstLabels: m.customLabels,
	}, []string{"source"})

	m.generations = m.counterVec("generations_total", "Generated explanations by provenance", "generated_by")
	m.fallbacks = m.counterVec("fallbacks_total", "Fallback explanations by cause", "cause")
	m.truncations = m.counterVec("truncations_total", "Prompt evidence truncation steps", "to")
	m.promptTokens = m.histogram("prompt_tokens", "Estimated prompt size in tokens", prometheus.ExponentialBuckets(64, 2, 10))
	m.providerLatency = m.histogram("provider_latency_milliseconds", "External text-generation latency", m.histogramBuckets)
	m.rateLimitRejected = m.counterVec("rate_limit_rejections_total", "Rate limiter denials", "resource", "window")

	m.weightUpdates = m.counterVec("weight_updates_total", "Weight configuration updates by result", "result")
	m.weightVersion = m.gauge("weight_config_version", "Current weight configuration version")

	m.predictionCache = m.counterVec("prediction_cache_total", "Model prediction cache lookups", "result")

	m.httpRequests = m.counterVec("http_requests_total", "Total number of HTTP requests by endpoint and method", "endpoint", "method", "status_code")
	m.httpRequestDuration = auto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace:   m.namespace,
		Subsystem:   m.subsystem,
		Name:        m.name("http_request_duration_milliseconds"),
		Help:        "HTTP request duration in milliseconds",
		Buckets:     m.histogramBuckets,
		ConstLabels: m.customLabels,
	}, []string{"endpoint", "method", "status_code"})

	m.systemMemoryUsage = m.gauge("system_memory_bytes", "Allocated heap bytes")
	m.systemGoroutineCount = m.gauge("system_goroutines", "Current goroutine count")
	m.systemGCPauseTime = m.histogram("system_gc_pause_milliseconds", "Average GC pause in milliseconds", m.histogramBuckets)
}

// Request metrics.

// RecordRequest counts a caller request for operation (assessment, batch).
func RecordRequest(operation string) {
	if !globalManager.enabled.Load() {
		return
	}
	globalManager.requests.WithLabelValues(operation).Inc()
}

// RecordRequestFailure counts a request that ended without an assessment.
func RecordRequestFailure(cause string) {
	if !globalManager.enabled.Load() {
		return
	}
	globalManager.requestFailures.WithLabelValues(cause).Inc()
}

// RecordBatchSize observes the number of students in a batch.
func RecordBatchSize(n int) {
	if !globalManager.enabled.Load() {
		return
	}
	globalManager.batchSize.Observe(float64(n))
}

// Fusion metrics.

// RecordFusionLatency records end-to-end fusion latency.
func RecordFusionLatency(latencyMs float64) {
	if !globalManager.enabled.Load() {
		return
	}
	globalManager.fusionLatency.Observe(latencyMs)
}

// RecordNoEvidence counts a NoEvidence fusion result.
func RecordNoEvidence() {
	if !globalManager.enabled.Load() {
		return
	}
	globalManager.noEvidence.Inc()
}

// RecordFusedConfidence observes the confidence of a fused result.
func RecordFusedConfidence(confidence float64) {
	if !globalManager.enabled.Load() {
		return
	}
	globalManager.fusedConfidence.Observe(confidence)
}

// RecordEvidenceItems adds n collected items for source.
func RecordEvidenceItems(source string, n int) {
	if !globalManager.enabled.Load() {
		return
	}
	globalManager.evidenceItems.WithLabelValues(source).Add(float64(n))
}

// RecordCollectorFailure counts a degraded collector.
func RecordCollectorFailure(source, cause string) {
	if !globalManager.enabled.Load() {
		return
	}
	globalManager.collectorFailure.WithLabelValues(source, cause).Inc()
}

// RecordCollectorLatency records how long a collector took.
func RecordCollectorLatency(source string, latencyMs float64) {
	if !globalManager.enabled.Load() {
		return
	}
	globalManager.collectorLatency.WithLabelValues(source).Observe(latencyMs)
}

// Reasoning metrics.

// RecordGeneration counts an explanation by provenance (external, fallback).
func RecordGeneration(generatedBy string) {
	if !globalManager.enabled.Load() {
		return
	}
	globalManager.generations.WithLabelValues(generatedBy).Inc()
}

// RecordFallback counts a fallback explanation by cause.
func RecordFallback(cause string) {
	if !globalManager.enabled.Load() {
		return
	}
	globalManager.fallbacks.WithLabelValues(cause).Inc()
}

// RecordTruncation counts an evidence truncation step down to size.
func RecordTruncation(to int) {
	if !globalManager.enabled.Load() {
		return
	}
	globalManager.truncations.WithLabelValues(strconv.Itoa(to)).Inc()
}

// RecordPromptTokens observes an estimated prompt size.
func RecordPromptTokens(tokens int) {
	if !globalManager.enabled.Load() {
		return
	}
	globalManager.promptTokens.Observe(float64(tokens))
}

// RecordProviderLatency records the external generation call latency.
func RecordProviderLatency(latencyMs float64) {
	if !globalManager.enabled.Load() {
		return
	}
	globalManager.providerLatency.Observe(latencyMs)
}

// RecordRateLimitRejection counts a denied acquisition on resource/window.
func RecordRateLimitRejection(resource, window string) {
	if !globalManager.enabled.Load() {
		return
	}
	globalManager.rateLimitRejected.WithLabelValues(resource, window).Inc()
}

// Weight configuration metrics.

// RecordWeightUpdate counts an update attempt by result (accepted, rejected, reloaded).
func RecordWeightUpdate(result string) {
	if !globalManager.enabled.Load() {
		return
	}
	globalManager.weightUpdates.WithLabelValues(result).Inc()
}

// UpdateWeightVersion publishes the current weight configuration version.
func UpdateWeightVersion(version int64) {
	if !globalManager.enabled.Load() {
		return
	}
	globalManager.weightVersion.Set(float64(version))
}

// RecordPredictionCache counts a prediction cache lookup (hit, miss).
func RecordPredictionCache(result string) {
	if !globalManager.enabled.Load() {
		return
	}
	globalManager.predictionCache.WithLabelValues(result).Inc()
}

// HTTP metrics.

// RecordHTTPRequest records an HTTP request.
func RecordHTTPRequest(endpoint, method, statusCode string) {
	globalManager.httpRequests.WithLabelValues(endpoint, method, statusCode).Inc()
}

// RecordHTTPRequestDuration records HTTP request duration.
func RecordHTTPRequestDuration(endpoint, method, statusCode string, duration float64) {
	globalManager.httpRequestDuration.WithLabelValues(endpoint, method, statusCode).Observe(duration)
}

// System metrics.

// UpdateSystemMemoryUsage updates the system memory usage metric.
func UpdateSystemMemoryUsage(bytes uint64) {
	globalManager.systemMemoryUsage.Set(float64(bytes))
}

// UpdateSystemGoroutineCount updates the system goroutine count metric.
func UpdateSystemGoroutineCount(count int) {
	globalManager.systemGoroutineCount.Set(float64(count))
}

// RecordSystemGCPauseTime records system GC pause time.
func RecordSystemGCPauseTime(pauseMs float64) {
	globalManager.systemGCPauseTime.Observe(pauseMs)
}

// Init replaces the global manager with one built from opts and registered
// on a fresh registry, which GetRegistry returns from then on. Call it once
// at startup, before anything records or serves the registry.
func Init(opts ...Option) *prometheus.Registry {
	registry := prometheus.NewRegistry()
	globalManager = NewManager(append(opts, WithPrometheusRegistry(registry))...)
	customRegistry = registry
	return registry
}

// RefreshInterval reports how often runtime gauges should be sampled.
func RefreshInterval() time.Duration {
	return globalManager.refreshInterval
}

// GetRegistry returns the custom Prometheus registry.
func GetRegistry() *prometheus.Registry {
	return customRegistry
}

// SetEnabled toggles recording for the global manager.
func SetEnabled(enabled bool) {
	globalManager.enabled.Store(enabled)
}
