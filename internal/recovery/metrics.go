package recovery

import "github.com/prometheus/client_golang/prometheus"

// Metrics holds the Coordinator's prometheus instrumentation.
type Metrics struct {
	DatabasesConfigured prometheus.Counter
	NodesRemoved        prometheus.Counter
}

// NewMetrics registers and returns a Metrics on reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		DatabasesConfigured: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "replicator",
			Subsystem: "recovery",
			Name:      "databases_configured_total",
			Help:      "Number of ConfigureDatabase calls completed.",
		}),
		NodesRemoved: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "replicator",
			Subsystem: "recovery",
			Name:      "nodes_removed_total",
			Help:      "Number of membership-churn node removals applied.",
		}),
	}
	reg.MustRegister(m.DatabasesConfigured, m.NodesRemoved)
	return m
}
