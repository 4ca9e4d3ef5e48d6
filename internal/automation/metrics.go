package automation

import "github.com/prometheus/client_golang/prometheus"

type Metrics struct {
	actions *prometheus.CounterVec
}

func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		actions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "taskflow_actions_total",
			Help: "Total number of executed actions by logged status.",
		}, []string{"status"}),
	}
	if reg != nil {
		reg.MustRegister(m.actions)
	}
	return m
}
