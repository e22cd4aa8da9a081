package observability

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Job outcomes reported by the queue.
const (
	OutcomeCompleted = "completed"
	OutcomeRetried   = "retried"
	OutcomeFailed    = "failed"
)

// Metrics is safe to use as a nil pointer; every method is then a no-op.
type Metrics struct {
	scheduled      *prometheus.CounterVec
	processed      *prometheus.CounterVec
	duration       *prometheus.HistogramVec
	claimConflicts prometheus.Counter
	requeued       prometheus.Counter
}

func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		scheduled: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "field_route",
			Name:      "jobs_scheduled_total",
			Help:      "Jobs inserted into the queue.",
		}, []string{"name"}),
		processed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "field_route",
			Name:      "jobs_processed_total",
			Help:      "Job executions by outcome.",
		}, []string{"name", "outcome"}),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "field_route",
			Name:      "job_duration_seconds",
			Help:      "Handler execution time.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"name"}),
		claimConflicts: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "field_route",
			Name:      "job_claim_conflicts_total",
			Help:      "Claims lost to another worker.",
		}),
		requeued: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "field_route",
			Name:      "jobs_reaped_total",
			Help:      "Stale processing jobs released by the reaper.",
		}),
	}
	reg.MustRegister(m.scheduled, m.processed, m.duration, m.claimConflicts, m.requeued)
	return m
}

func (m *Metrics) JobScheduled(name string) {
	if m == nil {
		return
	}
	m.scheduled.WithLabelValues(name).Inc()
}

func (m *Metrics) JobProcessed(name, outcome string, d time.Duration) {
	if m == nil {
		return
	}
	m.processed.WithLabelValues(name, outcome).Inc()
	m.duration.WithLabelValues(name).Observe(d.Seconds())
}

func (m *Metrics) ClaimConflict() {
	if m == nil {
		return
	}
	m.claimConflicts.Inc()
}

func (m *Metrics) JobsReaped(n int64) {
	if m == nil || n <= 0 {
		return
	}
	m.requeued.Add(float64(n))
}

// Processed returns the counter for one name/outcome pair. A nil Metrics
// yields an unregistered counter that stays at zero.
func (m *Metrics) Processed(name, outcome string) prometheus.Counter {
	if m == nil {
		return prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "field_route",
			Name:      "jobs_processed_total",
		})
	}
	return m.processed.WithLabelValues(name, outcome)
}
