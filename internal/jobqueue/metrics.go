package jobqueue

import "github.com/prometheus/client_golang/prometheus"

const (
	resultSucceeded = "succeeded"
	resultRetried   = "retried"
	resultFailed    = "failed"
)

type Metrics struct {
	enqueued       prometheus.Counter
	completed      *prometheus.CounterVec
	failedRetained prometheus.Gauge
}

// NewMetrics creates the queue collectors and registers them with reg when it
// is non-nil.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		enqueued: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "taskflow_jobs_enqueued_total",
			Help: "Total number of automation jobs enqueued.",
		}),
		completed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "taskflow_jobs_completed_total",
			Help: "Total number of job attempts by outcome.",
		}, []string{"result"}),
		failedRetained: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "taskflow_jobs_failed_retained",
			Help: "Number of jobs retained as failed after exhausting their attempts.",
		}),
	}
	if reg != nil {
		reg.MustRegister(m.enqueued, m.completed, m.failedRetained)
	}
	return m
}
