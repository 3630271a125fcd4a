// Package metrics provides Prometheus metrics for the neodrop service.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Manager owns every Prometheus collector of the service.
type Manager struct {
	namespace        string
	subsystem        string
	histogramBuckets []float64
	constLabels      prometheus.Labels
	registry         prometheus.Registerer

	// Rotation
	rotations          *prometheus.CounterVec
	rotationDuration   prometheus.Histogram
	engineState        *prometheus.GaugeVec
	currentNeoDeadline prometheus.Gauge
	feedCandidates     prometheus.Gauge

	// Award
	awardPasses     *prometheus.CounterVec
	awardDuration   prometheus.Histogram
	mints           *prometheus.CounterVec
	transfers       *prometheus.CounterVec
	metadataPublish *prometheus.HistogramVec

	// Gate
	gateWait         prometheus.Histogram
	gateWaitFailures prometheus.Counter
	gateInFlight     prometheus.Gauge

	// Winners
	winnersRecorded  prometheus.Counter
	winnersDuplicate prometheus.Counter
	winnersRejected  *prometheus.CounterVec
	dedupeSize       prometheus.Gauge

	// Quiz
	quizRotations *prometheus.CounterVec

	// Trigger queue
	triggerQueueSize prometheus.Gauge
	triggersEnqueued *prometheus.CounterVec
	triggersDropped  prometheus.Counter

	// Repository
	repositoryLatency *prometheus.HistogramVec

	// HTTP
	httpRequests        *prometheus.CounterVec
	httpRequestDuration *prometheus.HistogramVec
	httpRateLimited     *prometheus.CounterVec

	// Errors
	errorsByComponent *prometheus.CounterVec

	// System
	systemMemoryUsage    prometheus.Gauge
	systemGoroutineCount prometheus.Gauge
	systemGCPauseTime    prometheus.Histogram
}

var globalManager *Manager //nolint:gochecknoglobals // singleton used by the package-level recorders

var customRegistry = prometheus.NewRegistry() //nolint:gochecknoglobals // keeps default Go collectors out

func init() { //nolint:gochecknoinits // global metrics setup
	globalManager = NewManager(WithPrometheusRegistry(customRegistry))
}

// NewManager creates a metrics manager and registers its collectors.
func NewManager(opts ...Option) *Manager {
	m := &Manager{
		namespace:        "neodrop",
		subsystem:        "",
		histogramBuckets: []float64{1, 5, 10, 25, 50, 100, 250, 500, 1000, 2500, 5000, 10000, 30000},
		registry:         prometheus.DefaultRegisterer,
	}
	for _, opt := range opts {
		opt(m)
	}
	m.initializeMetrics()
	return m
}

func (m *Manager) counterOpts(name, help string) prometheus.CounterOpts {
	return prometheus.CounterOpts{Namespace: m.namespace, Subsystem: m.subsystem, Name: name, Help: help, ConstLabels: m.constLabels}
}

func (m *Manager) gaugeOpts(name, help string) prometheus.GaugeOpts {
	return prometheus.GaugeOpts{Namespace: m.namespace, Subsystem: m.subsystem, Name: name, Help: help, ConstLabels: m.constLabels}
}

func (m *Manager) histogramOpts(name, help string) prometheus.HistogramOpts {
	return prometheus.HistogramOpts{
		Namespace:   m.namespace,
		Subsystem:   m.subsystem,
		Name:        name,
		Help:        help,
		Buckets:     m.histogramBuckets,
		ConstLabels: m.constLabels,
	}
}

func (m *Manager) initializeMetrics() { //nolint:funlen // one place for every collector
	auto := promauto.With(m.registry)

	m.rotations = auto.NewCounterVec(m.counterOpts("rotations_total", "Rotations by outcome and trigger reason"), []string{"outcome", "reason"})
	m.rotationDuration = auto.NewHistogram(m.histogramOpts("rotation_duration_milliseconds", "Wall time of a rotation including the award pass"))
	m.engineState = auto.NewGaugeVec(m.gaugeOpts("engine_state", "1 for the current rotation engine state"), []string{"state"})
	m.currentNeoDeadline = auto.NewGauge(m.gaugeOpts("current_neo_close_approach_unix", "Close approach of the current NEO as unix seconds"))
	m.feedCandidates = auto.NewGauge(m.gaugeOpts("feed_candidates", "Eligible candidates seen by the last rotation"))

	m.awardPasses = auto.NewCounterVec(m.counterOpts("award_passes_total", "Award passes by outcome"), []string{"outcome"})
	m.awardDuration = auto.NewHistogram(m.histogramOpts("award_duration_milliseconds", "Wall time of an award pass"))
	m.mints = auto.NewCounterVec(m.counterOpts("mints_total", "Token mints by outcome"), []string{"outcome"})
	m.transfers = auto.NewCounterVec(m.counterOpts("transfers_total", "Token transfers by outcome"), []string{"outcome"})
	m.metadataPublish = auto.NewHistogramVec(m.histogramOpts("metadata_publish_milliseconds", "Metadata publish latency"), []string{"outcome"})

	m.gateWait = auto.NewHistogram(m.histogramOpts("gate_wait_milliseconds", "Time spent waiting for the transaction gate"))
	m.gateWaitFailures = auto.NewCounter(m.counterOpts("gate_wait_failures_total", "Gate waits abandoned by timeout or cancellation"))
	m.gateInFlight = auto.NewGauge(m.gaugeOpts("gate_in_flight", "Ledger operations holding the gate"))

	m.winnersRecorded = auto.NewCounter(m.counterOpts("winners_recorded_total", "Winner reports accepted"))
	m.winnersDuplicate = auto.NewCounter(m.counterOpts("winners_duplicate_total", "Winner reports answered from the dedupe cache"))
	m.winnersRejected = auto.NewCounterVec(m.counterOpts("winners_rejected_total", "Winner reports rejected"), []string{"reason"})
	m.dedupeSize = auto.NewGauge(m.gaugeOpts("dedupe_entries", "Keys held by the winner dedupe cache"))

	m.quizRotations = auto.NewCounterVec(m.counterOpts("quiz_rotations_total", "Quiz rotations by outcome"), []string{"outcome"})

	m.triggerQueueSize = auto.NewGauge(m.gaugeOpts("trigger_queue_size", "Pending rotation triggers"))
	m.triggersEnqueued = auto.NewCounterVec(m.counterOpts("triggers_enqueued_total", "Rotation triggers enqueued by reason"), []string{"reason"})
	m.triggersDropped = auto.NewCounter(m.counterOpts("triggers_dropped_total", "Rotation triggers dropped on a full queue"))

	m.repositoryLatency = auto.NewHistogramVec(m.histogramOpts("repository_latency_milliseconds", "Repository call latency"), []string{"store", "op"})

	m.httpRequests = auto.NewCounterVec(m.counterOpts("http_requests_total", "HTTP requests by endpoint and method"), []string{"endpoint", "method", "status_code"})
	m.httpRequestDuration = auto.NewHistogramVec(m.histogramOpts("http_request_duration_milliseconds", "HTTP request duration"), []string{"endpoint", "method", "status_code"})
	m.httpRateLimited = auto.NewCounterVec(m.counterOpts("http_rate_limited_total", "Requests rejected by the rate limiter"), []string{"endpoint"})

	m.errorsByComponent = auto.NewCounterVec(m.counterOpts("errors_by_component_total", "Errors by component and kind"), []string{"component", "kind"})

	m.systemMemoryUsage = auto.NewGauge(m.gaugeOpts("system_memory_usage_bytes", "Heap in use in bytes"))
	m.systemGoroutineCount = auto.NewGauge(m.gaugeOpts("system_goroutine_count", "Number of goroutines"))
	gc := m.histogramOpts("system_gc_pause_time_milliseconds", "GC pause time in milliseconds")
	gc.Buckets = []float64{0.1, 0.5, 1, 2, 5, 10, 25, 50, 100, 250, 500, 1000}
	m.systemGCPauseTime = auto.NewHistogram(gc)
}

func ms(d time.Duration) float64 { return float64(d) / float64(time.Millisecond) }

func outcome(ok bool) string {
	if ok {
		return "success"
	}
	return "failure"
}

// RecordRotation records a finished rotation.
func RecordRotation(reason string, ok bool, d time.Duration) {
	globalManager.rotations.WithLabelValues(outcome(ok), reason).Inc()
	globalManager.rotationDuration.Observe(ms(d))
}

// UpdateEngineState marks state as the current engine state among states.
func UpdateEngineState(state string, states []string) {
	for _, s := range states {
		v := 0.0
		if s == state {
			v = 1
		}
		globalManager.engineState.WithLabelValues(s).Set(v)
	}
}

// UpdateCurrentNeoDeadline sets the close-approach gauge; a zero time clears it.
func UpdateCurrentNeoDeadline(t time.Time) {
	if t.IsZero() {
		globalManager.currentNeoDeadline.Set(0)
		return
	}
	globalManager.currentNeoDeadline.Set(float64(t.Unix()))
}

// UpdateFeedCandidates sets the eligible candidate count of the last rotation.
func UpdateFeedCandidates(n int) {
	globalManager.feedCandidates.Set(float64(n))
}

// RecordAwardPass records an award pass outcome ("success", "partial", "failure").
func RecordAwardPass(result string, d time.Duration) {
	globalManager.awardPasses.WithLabelValues(result).Inc()
	globalManager.awardDuration.Observe(ms(d))
}

// RecordMint records a mint attempt.
func RecordMint(ok bool) {
	globalManager.mints.WithLabelValues(outcome(ok)).Inc()
}

// RecordTransfer records a transfer attempt.
func RecordTransfer(ok bool) {
	globalManager.transfers.WithLabelValues(outcome(ok)).Inc()
}

// RecordMetadataPublish records a metadata publish attempt.
func RecordMetadataPublish(ok bool, d time.Duration) {
	globalManager.metadataPublish.WithLabelValues(outcome(ok)).Observe(ms(d))
}

// RecordGateWait records how long a caller waited for the gate.
func RecordGateWait(d time.Duration, acquired bool) {
	globalManager.gateWait.Observe(ms(d))
	if !acquired {
		globalManager.gateWaitFailures.Inc()
	}
}

// UpdateGateInFlight sets the number of operations holding the gate.
func UpdateGateInFlight(n int) {
	globalManager.gateInFlight.Set(float64(n))
}

// RecordWinnerRecorded increments accepted winner reports.
func RecordWinnerRecorded() {
	globalManager.winnersRecorded.Inc()
}

// RecordWinnerDuplicate increments reports answered from the dedupe cache.
func RecordWinnerDuplicate() {
	globalManager.winnersDuplicate.Inc()
}

// RecordWinnerRejected increments rejected winner reports.
func RecordWinnerRejected(reason string) {
	globalManager.winnersRejected.WithLabelValues(reason).Inc()
}

// UpdateDedupeSize sets the dedupe cache size.
func UpdateDedupeSize(n int64) {
	globalManager.dedupeSize.Set(float64(n))
}

// RecordQuizRotation records a quiz rotation.
func RecordQuizRotation(ok bool) {
	globalManager.quizRotations.WithLabelValues(outcome(ok)).Inc()
}

// UpdateTriggerQueueSize sets the pending trigger count.
func UpdateTriggerQueueSize(n int) {
	globalManager.triggerQueueSize.Set(float64(n))
}

// RecordTriggerEnqueued increments enqueued triggers for reason.
func RecordTriggerEnqueued(reason string) {
	globalManager.triggersEnqueued.WithLabelValues(reason).Inc()
}

// RecordTriggerDropped increments triggers dropped on a full queue.
func RecordTriggerDropped() {
	globalManager.triggersDropped.Inc()
}

// RecordRepositoryLatency records a repository call.
func RecordRepositoryLatency(store, op string, d time.Duration) {
	globalManager.repositoryLatency.WithLabelValues(store, op).Observe(ms(d))
}

// RecordHTTPRequest records an HTTP request.
func RecordHTTPRequest(endpoint, method, statusCode string) {
	globalManager.httpRequests.WithLabelValues(endpoint, method, statusCode).Inc()
}

// RecordHTTPRequestDuration records HTTP request duration in milliseconds.
func RecordHTTPRequestDuration(endpoint, method, statusCode string, durationMs float64) {
	globalManager.httpRequestDuration.WithLabelValues(endpoint, method, statusCode).Observe(durationMs)
}

// RecordHTTPRateLimited increments rejected requests for endpoint.
func RecordHTTPRateLimited(endpoint string) {
	globalManager.httpRateLimited.WithLabelValues(endpoint).Inc()
}

// RecordErrorByComponent records an error with component and kind labels.
func RecordErrorByComponent(component, kind string) {
	globalManager.errorsByComponent.WithLabelValues(component, kind).Inc()
}

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
