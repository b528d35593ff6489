// Package telemetry carries the replication coordinator's ambient stack:
// environment-driven configuration, structured logging, and the
// prometheus metric registry shared by dispatch/executor/recovery.
//
// LoadConfig reads environment variables through the getenv and
// getenvDuration helpers, falling back to defaults, and returns an error
// when the required REPLICATOR_NODE_ID is missing.
package telemetry

import (
	"fmt"
	"os"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"
)

// Config holds the coordinator's environment-driven tuning knobs
// (SPEC_FULL §6 configuration conventions).
type Config struct {
	// NodeID is this process's node name (REPLICATOR_NODE_ID, required).
	NodeID string
	// ListenAddr is the admin HTTP surface's bind address.
	ListenAddr string
	// QueueTimeout bounds Queue.Offer calls (REPLICATOR_QUEUE_TIMEOUT).
	QueueTimeout time.Duration
	// LockTimeout bounds the per-database broadcast lock acquisition
	// (REPLICATOR_LOCK_TIMEOUT).
	LockTimeout time.Duration
	// ChurnDebounce bounds how long a detected node departure waits
	// before the recovery coordinator applies it (REPLICATOR_CHURN_DEBOUNCE).
	ChurnDebounce time.Duration
	// LogLevel is parsed by logrus.ParseLevel (REPLICATOR_LOG_LEVEL).
	LogLevel string
}

// LoadConfig reads Config from the environment, applying the same
// defaults a single-node demo would want.
func LoadConfig() (Config, error) {
	nodeID := os.Getenv("REPLICATOR_NODE_ID")
	if nodeID == "" {
		return Config{}, fmt.Errorf("telemetry: missing required env REPLICATOR_NODE_ID")
	}

	queueTimeout, err := getenvDuration("REPLICATOR_QUEUE_TIMEOUT", 5*time.Second)
	if err != nil {
		return Config{}, err
	}
	lockTimeout, err := getenvDuration("REPLICATOR_LOCK_TIMEOUT", time.Second)
	if err != nil {
		return Config{}, err
	}
	churnDebounce, err := getenvDuration("REPLICATOR_CHURN_DEBOUNCE", 10*time.Second)
	if err != nil {
		return Config{}, err
	}

	return Config{
		NodeID:        nodeID,
		ListenAddr:    getenv("REPLICATOR_LISTEN", ":8090"),
		QueueTimeout:  queueTimeout,
		LockTimeout:   lockTimeout,
		ChurnDebounce: churnDebounce,
		LogLevel:      getenv("REPLICATOR_LOG_LEVEL", "info"),
	}, nil
}

func getenv(k, def string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return def
}

func getenvDuration(k string, def time.Duration) (time.Duration, error) {
	v := os.Getenv(k)
	if v == "" {
		return def, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("telemetry: invalid %s=%q: %w", k, v, err)
	}
	return d, nil
}

// NewLogger builds a logrus.Logger configured with Config's log level
// and a JSON formatter. It adds no default fields; entries carry the
// node's identity only where a caller adds it.
func NewLogger(cfg Config) (*logrus.Logger, error) {
	log := logrus.New()
	log.SetFormatter(&logrus.JSONFormatter{})
	level, err := logrus.ParseLevel(cfg.LogLevel)
	if err != nil {
		return nil, fmt.Errorf("telemetry: %w", err)
	}
	log.SetLevel(level)
	return log, nil
}

// Registry is the shared prometheus registry the coordinator's
// components register their metrics against.
type Registry struct {
	*prometheus.Registry
}

// NewRegistry creates an empty prometheus Registry wrapped for this
// module's metric constructors (dispatch.NewMetrics, executor.NewMetrics,
// recovery.NewMetrics all take a prometheus.Registerer).
func NewRegistry() *Registry {
	return &Registry{Registry: prometheus.NewRegistry()}
}
