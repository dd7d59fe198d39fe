package workqueue

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Observer receives engine events. Implementations must be safe for
// concurrent use and must not block.
//
// WorkCancelled reports a cancelled item; queued is false when only its timer
// was disarmed, so the item never reached WorkQueued.
type Observer interface {
	WorkQueued(wq string)
	WorkExecuted(wq string, d time.Duration)
	WorkCancelled(wq string, queued bool)
	Flushed(wq string, d time.Duration)
}

type nopObserver struct{}

func (nopObserver) WorkQueued(string)                 {}
func (nopObserver) WorkExecuted(string, time.Duration) {}
func (nopObserver) WorkCancelled(string, bool)        {}
func (nopObserver) Flushed(string, time.Duration)     {}

// PrometheusMetrics is an Observer that exports engine events.
type PrometheusMetrics struct {
	registry      prometheus.Registerer
	queuedTotal   *prometheus.CounterVec
	executedTotal *prometheus.CounterVec
	cancelTotal   *prometheus.CounterVec
	flushTotal    *prometheus.CounterVec
	pending       *prometheus.GaugeVec
	workDuration  *prometheus.HistogramVec
	flushDuration *prometheus.HistogramVec
}

func InitPrometheusMetrics(namespace string, reg prometheus.Registerer) *PrometheusMetrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	labels := []string{"workqueue"}

	m := &PrometheusMetrics{
		registry: reg,
		queuedTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "workqueue_queued_total",
				Help:      "Total number of work items queued",
			},
			labels,
		),
		executedTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "workqueue_executed_total",
				Help:      "Total number of work callbacks run",
			},
			labels,
		),
		cancelTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "workqueue_cancelled_total",
				Help:      "Total number of pending work items cancelled",
			},
			labels,
		),
		flushTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "workqueue_flushes_total",
				Help:      "Total number of completed workqueue flushes",
			},
			labels,
		),
		pending: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "workqueue_pending",
				Help:      "Number of queued work items not yet run or cancelled",
			},
			labels,
		),
		workDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "workqueue_work_duration_seconds",
				Help:      "Duration of work callbacks",
				Buckets:   []float64{.0001, .001, .01, .1, .5, 1, 5, 30},
			},
			labels,
		),
		flushDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "workqueue_flush_duration_seconds",
				Help:      "Time spent waiting in workqueue flushes",
				Buckets:   []float64{.0001, .001, .01, .1, .5, 1, 5, 30},
			},
			labels,
		),
	}

	reg.MustRegister(
		m.queuedTotal,
		m.executedTotal,
		m.cancelTotal,
		m.flushTotal,
		m.pending,
		m.workDuration,
		m.flushDuration,
	)

	return m
}

func (m *PrometheusMetrics) WorkQueued(wq string) {
	m.queuedTotal.WithLabelValues(wq).Inc()
	m.pending.WithLabelValues(wq).Inc()
}

func (m *PrometheusMetrics) WorkExecuted(wq string, d time.Duration) {
	m.executedTotal.WithLabelValues(wq).Inc()
	m.pending.WithLabelValues(wq).Dec()
	m.workDuration.WithLabelValues(wq).Observe(d.Seconds())
}

func (m *PrometheusMetrics) WorkCancelled(wq string, queued bool) {
	m.cancelTotal.WithLabelValues(wq).Inc()
	if queued {
		m.pending.WithLabelValues(wq).Dec()
	}
}

func (m *PrometheusMetrics) Flushed(wq string, d time.Duration) {
	m.flushTotal.WithLabelValues(wq).Inc()
	m.flushDuration.WithLabelValues(wq).Observe(d.Seconds())
}
