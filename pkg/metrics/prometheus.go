// Package metrics provides Prometheus metrics for the versus leaderboard service.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Manager manages all Prometheus metrics for the service.
type Manager struct {
	namespace        string
	subsystem        string
	histogramBuckets []float64
	constLabels      map[string]string
	metricPrefix     string
	registry         prometheus.Registerer

	// Intake
	votesReceived  *prometheus.CounterVec
	votesDuplicate prometheus.Counter
	intakeRetries  prometheus.Counter
	intakeLatency  prometheus.Histogram

	// Rating processor
	ratingUpdates     prometheus.Counter
	processorErrors   *prometheus.CounterVec
	poisonRecords     prometheus.Counter
	redeliveriesSkip  prometheus.Counter
	processorRetries  prometheus.Counter
	processingLatency prometheus.Histogram

	// Change feed
	feedPublished   prometheus.Counter
	feedRedelivered prometheus.Counter
	feedLag         prometheus.Gauge
	feedDepth       *prometheus.GaugeVec
	relayCursor     prometheus.Gauge

	// Store
	storeLatency   *prometheus.HistogramVec
	standingsTotal prometheus.Gauge

	// Leaderboard
	leaderboardQueries   *prometheus.CounterVec
	leaderboardCacheHits prometheus.Counter

	// HTTP
	httpRequests        *prometheus.CounterVec
	httpRequestDuration *prometheus.HistogramVec

	// Workers
	workerActiveCount       prometheus.Gauge
	workerMessagesPerSecond prometheus.Gauge

	errorRateByComponent *prometheus.CounterVec

	// System
	systemMemoryUsage    prometheus.Gauge
	systemGoroutineCount prometheus.Gauge
	systemGCPauseTime    prometheus.Histogram
}

var globalManager *Manager //nolint:gochecknoglobals // singleton metrics manager

// Custom registry to avoid default Go metrics.
var customRegistry = prometheus.NewRegistry() //nolint:gochecknoglobals // metrics registry

func init() { //nolint:gochecknoinits // global metrics setup
	globalManager = NewManager(WithPrometheusRegistry(customRegistry))
}

// NewManager creates a new metrics manager with default configuration.
func NewManager(opts ...Option) *Manager {
	m := &Manager{
		namespace:        "versus",
		subsystem:        "leaderboard",
		histogramBuckets: prometheus.DefBuckets,
		constLabels:      make(map[string]string),
		registry:         prometheus.DefaultRegisterer,
	}

	for _, opt := range opts {
		opt(m)
	}

	m.initializeMetrics()

	return m
}

func (m *Manager) name(n string) string {
	return m.metricPrefix + n
}

func (m *Manager) initializeMetrics() { //nolint:funlen // one place for every metric
	auto := promauto.With(m.registry)
	labels := prometheus.Labels(m.constLabels)

	counter := func(name, help string) prometheus.Counter {
		return auto.NewCounter(prometheus.CounterOpts{
			Namespace: m.namespace, Subsystem: m.subsystem, Name: m.name(name), Help: help, ConstLabels: labels,
		})
	}
	counterVec := func(name, help string, lv ...string) *prometheus.CounterVec {
		return auto.NewCounterVec(prometheus.CounterOpts{
			Namespace: m.namespace, Subsystem: m.subsystem, Name: m.name(name), Help: help, ConstLabels: labels,
		}, lv)
	}
	gauge := func(name, help string) prometheus.Gauge {
		return auto.NewGauge(prometheus.GaugeOpts{
			Namespace: m.namespace, Subsystem: m.subsystem, Name: m.name(name), Help: help, ConstLabels: labels,
		})
	}
	histogram := func(name, help string) prometheus.Histogram {
		return auto.NewHistogram(prometheus.HistogramOpts{
			Namespace: m.namespace, Subsystem: m.subsystem, Name: m.name(name), Help: help, ConstLabels: labels,
			Buckets: m.histogramBuckets,
		})
	}

	m.votesReceived = counterVec("votes_received_total", "Votes received by intake, by outcome", "result")
	m.votesDuplicate = counter("votes_duplicate_total", "Votes rejected because the voter already judged the pair")
	m.intakeRetries = counter("intake_retries_total", "Vote store retries performed by intake")
	m.intakeLatency = histogram("intake_latency_milliseconds", "Vote intake latency in milliseconds")

	m.ratingUpdates = counter("rating_updates_total", "Votes applied to standings")
	m.processorErrors = counterVec("processor_errors_total", "Rating processor failures by kind", "kind")
	m.poisonRecords = counter("poison_records_total", "Change records that could not be decoded or validated")
	m.redeliveriesSkip = counter("processor_redeliveries_skipped_total", "Redelivered votes already applied")
	m.processorRetries = counter("processor_retries_total", "Standing store retries performed by the processor")
	m.processingLatency = histogram("processing_latency_milliseconds", "Rating processor latency per vote in milliseconds")

	m.feedPublished = counter("feed_published_total", "Change records published to the feed")
	m.feedRedelivered = counter("feed_redelivered_total", "Change records delivered again after a failed attempt")
	m.feedLag = gauge("feed_lag", "Committed votes not yet published to the feed")
	m.feedDepth = auto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: m.namespace, Subsystem: m.subsystem, Name: m.name("feed_partition_depth"),
		Help: "Buffered records per feed partition", ConstLabels: labels,
	}, []string{"partition"})
	m.relayCursor = gauge("relay_cursor", "Last vote sequence published by the relay")

	m.storeLatency = auto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: m.namespace, Subsystem: m.subsystem, Name: m.name("store_latency_milliseconds"),
		Help: "Store operation latency in milliseconds", ConstLabels: labels, Buckets: m.histogramBuckets,
	}, []string{"operation"})
	m.standingsTotal = gauge("standings_total", "Standings known to the store")

	m.leaderboardQueries = counterVec("leaderboard_queries_total", "Leaderboard queries by order", "order")
	m.leaderboardCacheHits = counter("leaderboard_cache_hits_total", "Leaderboard pages served from cache")

	m.httpRequests = counterVec("http_requests_total", "HTTP requests by endpoint and method", "endpoint", "method", "status_code")
	m.httpRequestDuration = auto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: m.namespace, Subsystem: m.subsystem, Name: m.name("http_request_duration_milliseconds"),
		Help: "HTTP request duration in milliseconds", ConstLabels: labels, Buckets: m.histogramBuckets,
	}, []string{"endpoint", "method", "status_code"})

	m.workerActiveCount = gauge("worker_active_count", "Workers consuming feed partitions")
	m.workerMessagesPerSecond = gauge("worker_messages_per_second", "Average records handled per second")

	m.errorRateByComponent = counterVec("errors_by_component_total", "Errors by component and type", "component", "error_type")

	m.systemMemoryUsage = gauge("system_memory_bytes", "Heap memory in use")
	m.systemGoroutineCount = gauge("system_goroutines", "Number of goroutines")
	m.systemGCPauseTime = histogram("system_gc_pause_milliseconds", "GC pause time in milliseconds")
}

// Intake.

// RecordVoteReceived counts an intake outcome: accepted, duplicate, invalid, error.
func RecordVoteReceived(result string) {
	globalManager.votesReceived.WithLabelValues(result).Inc()
}

// RecordVoteDuplicate increments the duplicate vote counter.
func RecordVoteDuplicate() {
	globalManager.votesDuplicate.Inc()
}

// RecordIntakeRetry increments the intake retry counter.
func RecordIntakeRetry() {
	globalManager.intakeRetries.Inc()
}

// RecordIntakeLatency records intake latency in milliseconds.
func RecordIntakeLatency(latencyMs float64) {
	globalManager.intakeLatency.Observe(latencyMs)
}

// Processor.

// RecordRatingUpdate increments the applied vote counter.
func RecordRatingUpdate() {
	globalManager.ratingUpdates.Inc()
}

// RecordProcessorError counts a processor failure by kind.
func RecordProcessorError(kind string) {
	globalManager.processorErrors.WithLabelValues(kind).Inc()
}

// RecordPoisonRecord increments the poison record counter.
func RecordPoisonRecord() {
	globalManager.poisonRecords.Inc()
}

// RecordRedeliverySkipped counts a redelivered vote that was already applied.
func RecordRedeliverySkipped() {
	globalManager.redeliveriesSkip.Inc()
}

// RecordProcessorRetry increments the processor retry counter.
func RecordProcessorRetry() {
	globalManager.processorRetries.Inc()
}

// RecordProcessingLatency records per-vote processing latency in milliseconds.
func RecordProcessingLatency(latencyMs float64) {
	globalManager.processingLatency.Observe(latencyMs)
}

// Feed.

// RecordFeedPublished increments the published counter.
func RecordFeedPublished() {
	globalManager.feedPublished.Inc()
}

// RecordFeedRedelivered increments the redelivery counter.
func RecordFeedRedelivered() {
	globalManager.feedRedelivered.Inc()
}

// UpdateFeedLag sets the number of committed but unpublished votes.
func UpdateFeedLag(n int) {
	globalManager.feedLag.Set(float64(n))
}

// UpdateFeedDepth sets the buffered record count of a partition.
func UpdateFeedDepth(partition string, n int) {
	globalManager.feedDepth.WithLabelValues(partition).Set(float64(n))
}

// UpdateRelayCursor sets the last published vote sequence.
func UpdateRelayCursor(seq int64) {
	globalManager.relayCursor.Set(float64(seq))
}

// Store.

// RecordStoreLatency records a store operation latency in milliseconds.
func RecordStoreLatency(operation string, latencyMs float64) {
	globalManager.storeLatency.WithLabelValues(operation).Observe(latencyMs)
}

// UpdateStandingsTotal sets the number of standings in the store.
func UpdateStandingsTotal(n int) {
	globalManager.standingsTotal.Set(float64(n))
}

// Leaderboard.

// RecordLeaderboardQuery counts a leaderboard query.
func RecordLeaderboardQuery(order string) {
	globalManager.leaderboardQueries.WithLabelValues(order).Inc()
}

// RecordLeaderboardCacheHit counts a cached leaderboard page.
func RecordLeaderboardCacheHit() {
	globalManager.leaderboardCacheHits.Inc()
}

// HTTP.

// RecordHTTPRequest records an HTTP request.
func RecordHTTPRequest(endpoint, method, statusCode string) {
	globalManager.httpRequests.WithLabelValues(endpoint, method, statusCode).Inc()
}

// RecordHTTPRequestDuration records HTTP request duration.
func RecordHTTPRequestDuration(endpoint, method, statusCode string, duration float64) {
	globalManager.httpRequestDuration.WithLabelValues(endpoint, method, statusCode).Observe(duration)
}

// Workers.

// UpdateWorkerActiveCount sets the number of active workers.
func UpdateWorkerActiveCount(count int) {
	globalManager.workerActiveCount.Set(float64(count))
}

// UpdateWorkerMessagesPerSecond sets the average records handled per second.
func UpdateWorkerMessagesPerSecond(rate float64) {
	globalManager.workerMessagesPerSecond.Set(rate)
}

// RecordErrorByComponent records an error with component and type labels.
func RecordErrorByComponent(component, errorType string) {
	globalManager.errorRateByComponent.WithLabelValues(component, errorType).Inc()
}

// System.

// UpdateSystemMemoryUsage sets the heap usage in bytes.
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

// Since returns the milliseconds elapsed since start.
func Since(start time.Time) float64 {
	return float64(time.Since(start).Microseconds()) / 1000
}
