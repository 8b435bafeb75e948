package monitoring

import (
	"github.com/prometheus/client_golang/prometheus"
)

var defaultBuckets = []float64{.0005, .001, .0025, .005, .01, .025, .05, .1, .25, .5, 1}

// PrometheusMetrics 基于 Prometheus 的 Metrics 实现
type PrometheusMetrics struct {
	storeAppendDuration *prometheus.HistogramVec
	storeLoadDuration   *prometheus.HistogramVec
	eventsAppended      *prometheus.CounterVec
	eventsLoaded        *prometheus.CounterVec
	storeErrors         *prometheus.CounterVec

	repoSaveDuration     *prometheus.HistogramVec
	repoLoadDuration     *prometheus.HistogramVec
	concurrencyConflicts *prometheus.CounterVec

	eventsPublished *prometheus.CounterVec
}

// NewPrometheusMetrics 创建指标并注册到 reg
func NewPrometheusMetrics(reg prometheus.Registerer) *PrometheusMetrics {
	m := &PrometheusMetrics{
		storeAppendDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "esroot_store_append_duration_seconds",
			Help:    "Event store append latency in seconds",
			Buckets: defaultBuckets,
		}, []string{"aggregate_type"}),

		storeLoadDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "esroot_store_load_duration_seconds",
			Help:    "Event store load latency in seconds",
			Buckets: defaultBuckets,
		}, []string{"aggregate_type"}),

		eventsAppended: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "esroot_events_appended_total",
			Help: "Total number of events appended",
		}, []string{"aggregate_type"}),

		eventsLoaded: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "esroot_events_loaded_total",
			Help: "Total number of events loaded",
		}, []string{"aggregate_type"}),

		storeErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "esroot_store_errors_total",
			Help: "Total number of failed event store operations",
		}, []string{"aggregate_type", "operation"}),

		repoSaveDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "esroot_repo_save_duration_seconds",
			Help:    "Repository save latency in seconds",
			Buckets: defaultBuckets,
		}, []string{"aggregate_type"}),

		repoLoadDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "esroot_repo_load_duration_seconds",
			Help:    "Repository load latency in seconds",
			Buckets: defaultBuckets,
		}, []string{"aggregate_type"}),

		concurrencyConflicts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "esroot_concurrency_conflicts_total",
			Help: "Total number of optimistic lock failures",
		}, []string{"aggregate_type"}),

		eventsPublished: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "esroot_events_published_total",
			Help: "Total number of events handed to the publisher",
		}, []string{"event_type", "success"}),
	}

	reg.MustRegister(
		m.storeAppendDuration,
		m.storeLoadDuration,
		m.eventsAppended,
		m.eventsLoaded,
		m.storeErrors,
		m.repoSaveDuration,
		m.repoLoadDuration,
		m.concurrencyConflicts,
		m.eventsPublished,
	)
	return m
}

func (m *PrometheusMetrics) StoreAppendDuration(aggType string) Timer {
	return prometheus.NewTimer(m.storeAppendDuration.WithLabelValues(aggType))
}

func (m *PrometheusMetrics) StoreLoadDuration(aggType string) Timer {
	return prometheus.NewTimer(m.storeLoadDuration.WithLabelValues(aggType))
}

func (m *PrometheusMetrics) EventsAppended(aggType string, count int) {
	m.eventsAppended.WithLabelValues(aggType).Add(float64(count))
}

func (m *PrometheusMetrics) EventsLoaded(aggType string, count int) {
	m.eventsLoaded.WithLabelValues(aggType).Add(float64(count))
}

func (m *PrometheusMetrics) StoreError(aggType, operation string) {
	m.storeErrors.WithLabelValues(aggType, operation).Inc()
}

func (m *PrometheusMetrics) RepoSaveDuration(aggType string) Timer {
	return prometheus.NewTimer(m.repoSaveDuration.WithLabelValues(aggType))
}

func (m *PrometheusMetrics) RepoLoadDuration(aggType string) Timer {
	return prometheus.NewTimer(m.repoLoadDuration.WithLabelValues(aggType))
}

func (m *PrometheusMetrics) ConcurrencyConflict(aggType string) {
	m.concurrencyConflicts.WithLabelValues(aggType).Inc()
}

func (m *PrometheusMetrics) EventPublished(eventType string, success bool) {
	label := "false"
	if success {
		label = "true"
	}
	m.eventsPublished.WithLabelValues(eventType, label).Inc()
}

var _ Metrics = (*PrometheusMetrics)(nil)
