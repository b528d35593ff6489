package dispatch

import "github.com/prometheus/client_golang/prometheus"

// Metrics holds the Dispatcher's prometheus instrumentation (SPEC_FULL
// §7 ambient stack: metrics). Nil-safe call sites let tests and the
// single-process demo opt out without a no-op shim.
type Metrics struct {
	Broadcasts *prometheus.CounterVec
}

// NewMetrics registers and returns a Metrics on reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		Broadcasts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "replicator",
			Subsystem: "dispatch",
			Name:      "broadcasts_total",
			Help:      "Number of successful broadcast dispatches, by database.",
		}, []string{"database"}),
	}
	reg.MustRegister(m.Broadcasts)
	return m
}
