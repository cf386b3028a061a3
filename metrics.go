package toposched

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics collects Prometheus metrics for a Runtime. All metrics are
// namespaced with "toposched":
//
//   - planned_tasks, pending_tasks, blocked_tasks, waiting_tasks (gauges):
//     current size of each lifecycle category.
//   - resumes_total (counter, label outcome): task resumes by what the task
//     did with its slice of control (completed, failed, suspended, awaiting).
//   - deadlocks_total (counter): deadlocks diagnosed by the scheduling loop.
//   - resume_duration_seconds (histogram, label outcome): how long a task
//     held control before yielding.
//
// Share one Metrics per registry; attach it to a Runtime with WithMetrics.
type Metrics struct {
	planned prometheus.Gauge
	pending prometheus.Gauge
	blocked prometheus.Gauge
	waiting prometheus.Gauge

	resumes   *prometheus.CounterVec
	deadlocks prometheus.Counter

	resumeDuration *prometheus.HistogramVec
}

// NewMetrics creates and registers all scheduler metrics with the provided
// registry. Pass prometheus.DefaultRegisterer for the global registry, or a
// private prometheus.NewRegistry() for isolation.
func NewMetrics(registry prometheus.Registerer) *Metrics {
	if registry == nil {
		registry = prometheus.DefaultRegisterer
	}
	factory := promauto.With(registry)

	return &Metrics{
		planned: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: "toposched",
			Name:      "planned_tasks",
			Help:      "Registered tasks that are dormant and excluded from scheduling",
		}),
		pending: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: "toposched",
			Name:      "pending_tasks",
			Help:      "Active tasks with no unresolved dependencies, runnable now",
		}),
		blocked: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: "toposched",
			Name:      "blocked_tasks",
			Help:      "Active tasks waiting on at least one unresolved dependency",
		}),
		waiting: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: "toposched",
			Name:      "waiting_tasks",
			Help:      "Tasks explicitly suspended pending an external event",
		}),
		resumes: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "toposched",
			Name:      "resumes_total",
			Help:      "Task resumes by outcome of the task's slice of control",
		}, []string{"outcome"}), // outcome: completed, failed, suspended, awaiting
		deadlocks: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "toposched",
			Name:      "deadlocks_total",
			Help:      "Deadlocks diagnosed by the scheduling loop",
		}),
		resumeDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "toposched",
			Name:      "resume_duration_seconds",
			Help:      "Time a task held control before yielding back to the scheduler",
			Buckets:   prometheus.DefBuckets,
		}, []string{"outcome"}),
	}
}

// ObserveStats sets the four lifecycle gauges from an engine Stats sample.
func (m *Metrics) ObserveStats(s Stats) {
	m.planned.Set(float64(s.Planned))
	m.pending.Set(float64(s.Pending))
	m.blocked.Set(float64(s.Blocked))
	m.waiting.Set(float64(s.Waiting))
}

// RecordResume counts one task resume and observes how long the task held
// control.
func (m *Metrics) RecordResume(outcome string, d time.Duration) {
	m.resumes.WithLabelValues(outcome).Inc()
	m.resumeDuration.WithLabelValues(outcome).Observe(d.Seconds())
}

// IncDeadlocks counts one diagnosed deadlock.
func (m *Metrics) IncDeadlocks() {
	m.deadlocks.Inc()
}
