// Package config tracks per-database, per-shard partition configuration:
// which nodes own a shard, and the quorum/read policy that governs
// dispatches against it (spec §3 "PartitionConfig", §4.1.1 quorum
// computation, §4.4 membership churn). See doc.go for the package
// architecture overview.
package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"
)

// ErrNoSuchShard is returned when a (database, shard) pair has no
// configuration registered.
var ErrNoSuchShard = errors.New("config: no configuration for shard")

// PartitionConfig is an immutable snapshot of a shard's ownership and
// quorum policy (spec §3). Callers that need a changed configuration call
// one of the With* methods, which return a new value — nothing here is
// ever mutated in place; callers always get their own copy back.
type PartitionConfig struct {
	Database                        string        `json:"database"`
	Shard                           string        `json:"shard"`
	Nodes                           []string      `json:"nodes"`
	ReadQuorum                      int           `json:"read_quorum"`
	WriteQuorum                     int           `json:"write_quorum"`
	ReadYourWrites                  bool          `json:"read_your_writes"`
	FailWhenAvailableLessThanQuorum bool          `json:"fail_when_available_less_than_quorum"`
	PartitionStrategy               string        `json:"partition_strategy"`
	ResyncEvery                     time.Duration `json:"resync_every"`
}

// WithNodes returns a copy of cfg with Nodes replaced.
func (c PartitionConfig) WithNodes(nodes []string) PartitionConfig {
	c.Nodes = append([]string(nil), nodes...)
	return c
}

// WithQuorum returns a copy of cfg with the read/write quorum replaced.
func (c PartitionConfig) WithQuorum(read, write int) PartitionConfig {
	c.ReadQuorum = read
	c.WriteQuorum = write
	return c
}

// Serialize marshals cfg to JSON, matching the config contract's
// serialize() operation (spec §6).
func (c PartitionConfig) Serialize() ([]byte, error) {
	return json.Marshal(c)
}

// DeserializePartitionConfig is the inverse of Serialize, used by the
// recovery coordinator when it receives a broadcast config update.
func DeserializePartitionConfig(data []byte) (PartitionConfig, error) {
	var c PartitionConfig
	if err := json.Unmarshal(data, &c); err != nil {
		return PartitionConfig{}, fmt.Errorf("config: deserialize: %w", err)
	}
	return c, nil
}

// HasNode reports whether node is present in the config's node-set.
func (c PartitionConfig) HasNode(node string) bool {
	for _, n := range c.Nodes {
		if n == node {
			return true
		}
	}
	return false
}

// Resolver answers "which nodes own (database, shard)?" and vends the
// PartitionConfig governing dispatches against it — the Partition
// Resolver of spec §2 component 2.
type Resolver interface {
	Resolve(database, shard string) (PartitionConfig, error)
}

// Store is a mutex-guarded, in-process Resolver plus the mutation
// operations the recovery coordinator needs for membership churn
// (spec §4.4: check_local_in_configuration, remove_node). Grounded on
// shard_registry.go's ShardRegistry: an RWMutex-guarded map with
// copy-out accessors, generalized from shard→node assignments to
// (database, shard)→PartitionConfig.
type Store struct {
	mu      sync.RWMutex
	configs map[string]PartitionConfig // key: database + "/" + shard
}

// NewStore creates an empty Store.
func NewStore() *Store {
	return &Store{configs: make(map[string]PartitionConfig)}
}

func key(database, shard string) string {
	return database + "/" + shard
}

// Set installs or replaces the configuration for (database, shard).
func (s *Store) Set(cfg PartitionConfig) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.configs[key(cfg.Database, cfg.Shard)] = cfg
}

// Resolve implements Resolver.
func (s *Store) Resolve(database, shard string) (PartitionConfig, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	cfg, ok := s.configs[key(database, shard)]
	if !ok {
		return PartitionConfig{}, fmt.Errorf("%w: %s/%s", ErrNoSuchShard, database, shard)
	}
	return cfg, nil
}

// All returns a copy of every configuration currently held, used by the
// recovery coordinator to walk every partition during membership churn.
func (s *Store) All() []PartitionConfig {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]PartitionConfig, 0, len(s.configs))
	for _, cfg := range s.configs {
		out = append(out, cfg)
	}
	return out
}

// AddNewNodeInPartitions adds node to every partition's node-set that
// doesn't already contain it, returning the updated configs so the
// caller can broadcast them (spec §4.4 "check_local_in_configuration").
func (s *Store) AddNewNodeInPartitions(node string) []PartitionConfig {
	s.mu.Lock()
	defer s.mu.Unlock()

	var changed []PartitionConfig
	for k, cfg := range s.configs {
		if cfg.HasNode(node) {
			continue
		}
		cfg = cfg.WithNodes(append(append([]string(nil), cfg.Nodes...), node))
		s.configs[k] = cfg
		changed = append(changed, cfg)
	}
	return changed
}

// RemoveNodeInPartition removes node from every partition's node-set.
// force is accepted for interface parity with spec §6's
// remove_node_in_partition(node, force) contract — this in-process store
// always removes unconditionally; a real implementation might use force
// to distinguish a graceful decommission from a detected crash.
func (s *Store) RemoveNodeInPartition(node string, _ bool) []PartitionConfig {
	s.mu.Lock()
	defer s.mu.Unlock()

	var changed []PartitionConfig
	for k, cfg := range s.configs {
		if !cfg.HasNode(node) {
			continue
		}
		remaining := make([]string, 0, len(cfg.Nodes))
		for _, n := range cfg.Nodes {
			if n != node {
				remaining = append(remaining, n)
			}
		}
		cfg = cfg.WithNodes(remaining)
		s.configs[k] = cfg
		changed = append(changed, cfg)
	}
	return changed
}
