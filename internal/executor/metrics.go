package executor

import "github.com/prometheus/client_golang/prometheus"

// Metrics holds the Executor's prometheus instrumentation.
type Metrics struct {
	Processed                *prometheus.CounterVec
	ResponseDispatchFailures *prometheus.CounterVec
}

// NewMetrics registers and returns a Metrics on reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		Processed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "replicator",
			Subsystem: "executor",
			Name:      "processed_total",
			Help:      "Number of inbound requests processed, by database.",
		}, []string{"database"}),
		ResponseDispatchFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "replicator",
			Subsystem: "executor",
			Name:      "response_dispatch_failures_total",
			Help:      "Number of responses that could not be delivered to the sender, by database.",
		}, []string{"database"}),
	}
	reg.MustRegister(m.Processed, m.ResponseDispatchFailures)
	return m
}
