// Package metrics provides Prometheus metrics for the duel rating service.
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

// Manager manages all Prometheus metrics for the duel service.
type Manager struct {
	namespace        string
	subsystem        string
	histogramBuckets []float64
	enabled          bool
	refreshInterval  time.Duration
	customLabels     map[string]string
	registry         prometheus.Registerer

	// Core business metrics
	duelsPresented   prometheus.Counter
	votesApplied     prometheus.Counter
	votesDuplicate   prometheus.Counter
	voteErrors       *prometheus.CounterVec
	partialWrites    prometheus.Counter
	ratingDelta      prometheus.Histogram
	expectedScore    prometheus.Histogram
	emptyPopulations prometheus.Counter

	// Population and session gauges
	populationSize  prometheus.Gauge
	activeSessions  prometheus.Gauge
	sessionsExpired prometheus.Counter

	// Store metrics
	storeLatency *prometheus.HistogramVec
	storeErrors  *prometheus.CounterVec

	// HTTP metrics
	httpRequests        *prometheus.CounterVec
	httpRequestDuration *prometheus.HistogramVec

	// Event queue and publisher workers
	queueCapacity   prometheus.Gauge
	queueSize       prometheus.Gauge
	queueEnqueued   prometheus.Counter
	queueDropped    *prometheus.CounterVec
	eventsPublished prometheus.Counter
	publishErrors   prometheus.Counter
	workerCount     prometheus.Gauge
	publishLatency  prometheus.Histogram
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
		namespace:        "duel",
		subsystem:        "rating",
		histogramBuckets: prometheus.DefBuckets,
		enabled:          true,
		refreshInterval:  defaultRefreshInterval,
		customLabels:     make(map[string]string),
		registry:         prometheus.DefaultRegisterer,
	}

	for _, opt := range opts {
		opt(m)
	}

	m.initializeMetrics()
	return m
}

// RefreshInterval reports how often callers should refresh gauges.
func (m *Manager) RefreshInterval() time.Duration { return m.refreshInterval }

// Enabled reports whether recording is switched on.
func (m *Manager) Enabled() bool { return m.enabled }

func (m *Manager) initializeMetrics() { //nolint:funlen // one place for every metric definition
	auto := promauto.With(m.registry)
	constLabels := prometheus.Labels(m.customLabels)

	counter := func(name, help string) prometheus.Counter {
		return auto.NewCounter(prometheus.CounterOpts{
			Namespace: m.namespace, Subsystem: m.subsystem, Name: name, Help: help, ConstLabels: constLabels,
		})
	}
	gauge := func(name, help string) prometheus.Gauge {
		return auto.NewGauge(prometheus.GaugeOpts{
			Namespace: m.namespace, Subsystem: m.subsystem, Name: name, Help: help, ConstLabels: constLabels,
		})
	}

	m.duelsPresented = counter("duels_presented_total", "Total number of pairs handed to a presenter")
	m.votesApplied = counter("votes_applied_total", "Total number of outcomes applied to the store")
	m.votesDuplicate = counter("votes_duplicate_total", "Total number of replayed votes ignored")
	m.partialWrites = counter("partial_writes_total", "Outcomes where only one side of the exchange was persisted")
	m.emptyPopulations = counter("insufficient_population_total", "Selections refused because fewer than two items were available")
	m.sessionsExpired = counter("sessions_expired_total", "Idle duel sessions evicted")

	m.voteErrors = auto.NewCounterVec(prometheus.CounterOpts{
		Namespace: m.namespace, Subsystem: m.subsystem, ConstLabels: constLabels,
		Name: "vote_errors_total",
		Help: "Votes that failed, by error kind",
	}, []string{"kind"})

	m.ratingDelta = auto.NewHistogram(prometheus.HistogramOpts{
		Namespace: m.namespace, Subsystem: m.subsystem, ConstLabels: constLabels,
		Name:    "rating_delta_points",
		Help:    "Rating points moved by one outcome",
		Buckets: []float64{0, 1, 2, 4, 8, 12, 16, 20, 24, 28, 32, 48, 64},
	})

	m.expectedScore = auto.NewHistogram(prometheus.HistogramOpts{
		Namespace: m.namespace, Subsystem: m.subsystem, ConstLabels: constLabels,
		Name:    "winner_expected_score",
		Help:    "Winner expected score before the update (how surprising outcomes are)",
		Buckets: prometheus.LinearBuckets(0.05, 0.1, 10),
	})

	m.populationSize = gauge("population_size", "Number of items in the last loaded population")
	m.activeSessions = gauge("active_sessions", "Number of live duel sessions")

	m.storeLatency = auto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: m.namespace, Subsystem: m.subsystem, ConstLabels: constLabels,
		Name:    "store_latency_milliseconds",
		Help:    "Rating store operation latency in milliseconds",
		Buckets: m.histogramBuckets,
	}, []string{"backend", "op"})

	m.storeErrors = auto.NewCounterVec(prometheus.CounterOpts{
		Namespace: m.namespace, Subsystem: m.subsystem, ConstLabels: constLabels,
		Name: "store_errors_total",
		Help: "Rating store errors by backend and operation",
	}, []string{"backend", "op"})

	m.httpRequests = auto.NewCounterVec(prometheus.CounterOpts{
		Namespace: m.namespace, Subsystem: m.subsystem, ConstLabels: constLabels,
		Name: "http_requests_total",
		Help: "Total number of HTTP requests by endpoint and method",
	}, []string{"endpoint", "method", "status_code"})

	m.httpRequestDuration = auto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: m.namespace, Subsystem: m.subsystem, ConstLabels: constLabels,
		Name:    "http_request_duration_milliseconds",
		Help:    "HTTP request duration in milliseconds",
		Buckets: m.histogramBuckets,
	}, []string{"endpoint", "method", "status_code"})

	m.queueCapacity = gauge("event_queue_capacity", "Maximum rating-change event queue capacity")
	m.queueSize = gauge("event_queue_size", "Current rating-change event backlog")
	m.queueEnqueued = counter("event_queue_enqueued_total", "Rating-change events enqueued")
	m.queueDropped = auto.NewCounterVec(prometheus.CounterOpts{
		Namespace: m.namespace, Subsystem: m.subsystem, ConstLabels: constLabels,
		Name: "event_queue_dropped_total",
		Help: "Rating-change events dropped, by reason",
	}, []string{"reason"})
	m.eventsPublished = counter("events_published_total", "Rating-change events delivered to the publisher")
	m.publishErrors = counter("event_publish_errors_total", "Rating-change events the publisher rejected")
	m.workerCount = gauge("publisher_workers", "Number of publisher workers")
	m.publishLatency = auto.NewHistogram(prometheus.HistogramOpts{
		Namespace: m.namespace, Subsystem: m.subsystem, ConstLabels: constLabels,
		Name:    "event_publish_latency_milliseconds",
		Help:    "Latency of a single publish call in milliseconds",
		Buckets: m.histogramBuckets,
	})
}

// RecordDuelPresented increments the presented duels counter.
func RecordDuelPresented() {
	if globalManager.enabled {
		globalManager.duelsPresented.Inc()
	}
}

// RecordVoteApplied records a fully persisted outcome.
func RecordVoteApplied(delta, expected float64) {
	if !globalManager.enabled {
		return
	}
	globalManager.votesApplied.Inc()
	globalManager.ratingDelta.Observe(delta)
	globalManager.expectedScore.Observe(expected)
}

// RecordVoteDuplicate increments the replayed votes counter.
func RecordVoteDuplicate() {
	if globalManager.enabled {
		globalManager.votesDuplicate.Inc()
	}
}

// RecordVoteError counts a failed vote by kind.
func RecordVoteError(kind string) {
	if globalManager.enabled {
		globalManager.voteErrors.WithLabelValues(kind).Inc()
	}
}

// RecordPartialWrite counts an outcome that left rating mass unconserved.
func RecordPartialWrite() {
	if globalManager.enabled {
		globalManager.partialWrites.Inc()
	}
}

// RecordInsufficientPopulation counts a refused selection.
func RecordInsufficientPopulation() {
	if globalManager.enabled {
		globalManager.emptyPopulations.Inc()
	}
}

// UpdatePopulationSize sets the population gauge.
func UpdatePopulationSize(n int) {
	if globalManager.enabled {
		globalManager.populationSize.Set(float64(n))
	}
}

// UpdateActiveSessions sets the live session gauge.
func UpdateActiveSessions(n int) {
	if globalManager.enabled {
		globalManager.activeSessions.Set(float64(n))
	}
}

// RecordSessionsExpired adds n evicted sessions.
func RecordSessionsExpired(n int) {
	if globalManager.enabled {
		globalManager.sessionsExpired.Add(float64(n))
	}
}

// RecordStoreOp records one store call; err marks it as failed.
func RecordStoreOp(backend, op string, started time.Time, err error) {
	if !globalManager.enabled {
		return
	}
	globalManager.storeLatency.WithLabelValues(backend, op).Observe(float64(time.Since(started).Milliseconds()))
	if err != nil {
		globalManager.storeErrors.WithLabelValues(backend, op).Inc()
	}
}

// RecordHTTPRequest records an HTTP request and its duration.
func RecordHTTPRequest(endpoint, method, statusCode string, durationMs float64) {
	if !globalManager.enabled {
		return
	}
	globalManager.httpRequests.WithLabelValues(endpoint, method, statusCode).Inc()
	globalManager.httpRequestDuration.WithLabelValues(endpoint, method, statusCode).Observe(durationMs)
}

// UpdateQueueCapacity sets the event queue capacity.
func UpdateQueueCapacity(capacity int) {
	if globalManager.enabled {
		globalManager.queueCapacity.Set(float64(capacity))
	}
}

// UpdateQueueSize sets the event backlog.
func UpdateQueueSize(size int) {
	if globalManager.enabled {
		globalManager.queueSize.Set(float64(size))
	}
}

// RecordQueueEnqueue increments the enqueue counter.
func RecordQueueEnqueue() {
	if globalManager.enabled {
		globalManager.queueEnqueued.Inc()
	}
}

// RecordQueueDrop counts a dropped event by reason.
func RecordQueueDrop(reason string) {
	if globalManager.enabled {
		globalManager.queueDropped.WithLabelValues(reason).Inc()
	}
}

// RecordEventPublished records a publish attempt.
func RecordEventPublished(latencyMs float64, err error) {
	if !globalManager.enabled {
		return
	}
	globalManager.publishLatency.Observe(latencyMs)
	if err != nil {
		globalManager.publishErrors.Inc()
		return
	}
	globalManager.eventsPublished.Inc()
}

// UpdateWorkerCount sets the publisher worker gauge.
func UpdateWorkerCount(count int) {
	if globalManager.enabled {
		globalManager.workerCount.Set(float64(count))
	}
}

// RefreshInterval is how often derived gauges should be refreshed.
func RefreshInterval() time.Duration {
	return globalManager.RefreshInterval()
}

// GetRegistry returns the custom Prometheus registry used by our metrics.
func GetRegistry() *prometheus.Registry {
	return customRegistry
}
