// Package metrics records counters, histograms, and gauges for every
// runtime transition. Recording is best-effort: a nil *Metrics is a valid
// no-op sink, and no method ever returns an error or blocks its caller.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "cortex_toolrunner"

// Metrics is an instance-scoped sink so tests can build isolated registries.
type Metrics struct {
	invocations        *prometheus.CounterVec
	invocationDuration *prometheus.HistogramVec
	timeouts           *prometheus.CounterVec
	rejections         *prometheus.CounterVec
	tasksCreated       *prometheus.CounterVec
	tasksFinished      *prometheus.CounterVec
	taskDuration       *prometheus.HistogramVec
	queueDepth         *prometheus.GaugeVec
	capabilitiesLoaded prometheus.Gauge
}

func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		invocations: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "invocations_total",
				Help:      "Total capability invocations by outcome",
			},
			[]string{"capability", "outcome", "caller_class"},
		),
		invocationDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "invocation_duration_seconds",
				Help:      "Capability invocation duration in seconds",
			},
			[]string{"capability"},
		),
		timeouts: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "invocation_timeouts_total",
				Help:      "Total invocations that exceeded their timeout",
			},
			[]string{"capability"},
		),
		rejections: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "admission_rejections_total",
				Help:      "Total admission rejections by error code",
			},
			[]string{"code"},
		),
		tasksCreated: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "tasks_created_total",
				Help:      "Total tasks created",
			},
			[]string{"capability", "priority"},
		),
		tasksFinished: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "tasks_finished_total",
				Help:      "Total tasks reaching a terminal status",
			},
			[]string{"capability", "status"},
		),
		taskDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "task_duration_seconds",
				Help:      "Task duration from creation to terminal state",
			},
			[]string{"capability"},
		),
		queueDepth: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "queue_depth",
				Help:      "Tasks waiting for a worker",
			},
			[]string{"priority"},
		),
		capabilitiesLoaded: factory.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "capabilities_loaded",
				Help:      "Capability instances currently loaded",
			},
		),
	}
}

func (m *Metrics) Invocation(capability, outcome, callerClass string, duration time.Duration) {
	if m == nil {
		return
	}
	m.invocations.WithLabelValues(capability, outcome, callerClass).Inc()
	m.invocationDuration.WithLabelValues(capability).Observe(duration.Seconds())
}

func (m *Metrics) Timeout(capability string) {
	if m == nil {
		return
	}
	m.timeouts.WithLabelValues(capability).Inc()
}

func (m *Metrics) Rejection(code string) {
	if m == nil {
		return
	}
	m.rejections.WithLabelValues(code).Inc()
}

func (m *Metrics) TaskCreated(capability, priority string) {
	if m == nil {
		return
	}
	m.tasksCreated.WithLabelValues(capability, priority).Inc()
}

func (m *Metrics) TaskFinished(capability, status string, duration time.Duration) {
	if m == nil {
		return
	}
	m.tasksFinished.WithLabelValues(capability, status).Inc()
	m.taskDuration.WithLabelValues(capability).Observe(duration.Seconds())
}

func (m *Metrics) QueueDepth(priority string, delta float64) {
	if m == nil {
		return
	}
	m.queueDepth.WithLabelValues(priority).Add(delta)
}

func (m *Metrics) CapabilitiesLoaded(n float64) {
	if m == nil {
		return
	}
	m.capabilitiesLoaded.Set(n)
}
