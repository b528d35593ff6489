// Package dispatch implements the Outbound Dispatcher of spec §2
// component 1 / §4.1: it resolves a request's target node-set, computes
// the dispatch's quorum, broadcasts under the database's cluster-wide
// named lock, and aggregates responses through a response.Manager.
//
// The broadcast strategy: snapshot targets outside the lock, fan out,
// collect per-node results, tolerate individual failures. Offer onto
// every node's request queue under a named per-database lock, then let
// a response.Manager collect the replies — the broadcast-ordering
// invariant (spec §8 O1-O3) is what forces the per-database lock.
package dispatch

import (
	"context"
	"fmt"
	"time"

	"github.com/hashicorp/go-multierror"
	"github.com/sirupsen/logrus"

	"github.com/dreamware/replicator/internal/config"
	"github.com/dreamware/replicator/internal/messaging"
	"github.com/dreamware/replicator/internal/primitives"
	"github.com/dreamware/replicator/internal/response"
	"github.com/dreamware/replicator/internal/task"
)

// Dispatcher is the outbound dispatcher for one node (spec §2 component 1).
//
// Thread Safety:
// A single Dispatcher is safe for concurrent use by multiple goroutines
// issuing independent Send/SendToNodes calls. Ordering guarantees are
// per-database, enforced by the named lock broadcast acquires, not by
// any lock held across a whole Send call.
type Dispatcher struct {
	service      *messaging.Service
	resolver     config.Resolver
	membership   primitives.Membership
	queueTimeout time.Duration
	lockTimeout  time.Duration
	log          *logrus.Logger
	metrics      *Metrics
}

// New creates a Dispatcher.
//
// Parameters:
//   - service: the messaging.Service whose request/response queues and
//     undo maps this dispatcher and its response managers use.
//   - resolver: resolves (database, shard) to the PartitionConfig that
//     governs target node-set and quorum policy.
//   - membership: reports node liveness and this process's local node
//     identity, used to compute available-node counts and ReadYourWrites.
//   - queueTimeout: bounds each per-node Queue.Offer call during broadcast.
//   - lockTimeout: bounds acquiring a database's broadcast-ordering lock.
//   - log: optional; a standard logrus.Logger is created when nil
//     (SPEC_FULL §7 logging conventions).
//   - metrics: optional; instrumentation is skipped when nil (spec
//     Non-goals: metrics export is not required, but SPEC_FULL carries
//     it as ambient stack).
//
// Returns a ready-to-use Dispatcher.
func New(service *messaging.Service, resolver config.Resolver, membership primitives.Membership, queueTimeout, lockTimeout time.Duration, log *logrus.Logger, metrics *Metrics) *Dispatcher {
	if log == nil {
		log = logrus.New()
	}
	return &Dispatcher{
		service:      service,
		resolver:     resolver,
		membership:   membership,
		queueTimeout: queueTimeout,
		lockTimeout:  lockTimeout,
		log:          log,
		metrics:      metrics,
	}
}

// resultStrategyToResponse maps task.ResultStrategy onto response.Strategy
// (the two packages deliberately don't share the enum, see response/doc.go).
func resultStrategyToResponse(s task.ResultStrategy) response.Strategy {
	switch s {
	case task.ResultMajority:
		return response.StrategyMajority
	case task.ResultUnion:
		return response.StrategyUnion
	case task.ResultAny:
		return response.StrategyAny
	default:
		return response.StrategyFirst
	}
}

// computeQuorum implements spec §4.1.1's table, including the
// downgrade/fail policy when the computed quorum exceeds targetCount.
// targetCount must be the partition's full configured node-set size
// (queue_size in spec §4.1.1 step 2), not the currently-alive subset:
// the raw/downgrade decision is about partition size, liveness is
// folded in separately afterward (step 4-5) to clamp expected_sync.
func computeQuorum(qt task.QuorumType, cfg config.PartitionConfig, targetCount int) (int, error) {
	var raw int
	switch qt {
	case task.QuorumNone:
		raw = 0
	case task.QuorumRead:
		raw = cfg.ReadQuorum
	case task.QuorumWrite:
		raw = cfg.WriteQuorum
	case task.QuorumAll:
		raw = targetCount
	default:
		raw = cfg.WriteQuorum
	}
	if raw <= targetCount {
		if raw < 1 {
			raw = 1
		}
		return raw, nil
	}
	if cfg.FailWhenAvailableLessThanQuorum {
		return 0, ErrQuorumUnreachable
	}
	return targetCount, nil
}

// Send resolves req.Database/req.Cluster through the partition resolver
// and dispatches to the resulting node-set (spec §4.1 step 1-2).
//
// Parameters:
//   - ctx: governs the whole dispatch, including quorum wait and
//     broadcast lock acquisition.
//   - req: the request to dispatch. req.ID is assigned if empty;
//     req.Sender defaults to the local node if empty.
//
// Returns:
//   - the aggregated response payload (shape depends on req.Task's
//     ResultStrategy) and nil error on success.
//   - nil and one of ErrNoTargets, ErrQuorumUnreachable,
//     ErrDispatchFailed, ErrTotalTimeout, or a resolver/response error
//     on failure (spec §7).
//
// Thread Safety: safe to call concurrently with other Send/SendToNodes
// calls, including against the same database.
func (d *Dispatcher) Send(ctx context.Context, req *task.Request) ([]byte, error) {
	shard := ""
	if req.Cluster != nil {
		shard = *req.Cluster
	}
	cfg, err := d.resolver.Resolve(req.Database, shard)
	if err != nil {
		return nil, err
	}
	return d.sendToNodes(ctx, req, cfg, cfg.Nodes)
}

// SendToNodes dispatches req directly to nodes, looking up (database,
// shard) only for its quorum/read policy (spec §4.1's send_to_nodes).
//
// Parameters:
//   - ctx: governs the whole dispatch, as in Send.
//   - req: the request to dispatch; req.Cluster selects which shard's
//     PartitionConfig supplies quorum/read policy.
//   - nodes: the explicit target node-set, overriding whatever nodes
//     the resolved PartitionConfig names.
//
// Returns: the same result/error shape as Send.
//
// Thread Safety: safe to call concurrently with other Send/SendToNodes
// calls, including against the same database.
func (d *Dispatcher) SendToNodes(ctx context.Context, req *task.Request, nodes []string) ([]byte, error) {
	shard := ""
	if req.Cluster != nil {
		shard = *req.Cluster
	}
	cfg, err := d.resolver.Resolve(req.Database, shard)
	if err != nil {
		return nil, err
	}
	return d.sendToNodes(ctx, req, cfg, nodes)
}

func (d *Dispatcher) sendToNodes(ctx context.Context, req *task.Request, cfg config.PartitionConfig, nodes []string) ([]byte, error) {
	if len(nodes) == 0 {
		return nil, ErrNoTargets
	}
	if req.ID == "" {
		req.ID = d.service.NewRequestID()
	}
	if req.Sender == "" {
		req.Sender = d.membership.LocalNode()
	}

	available := 0
	includesLocal := false
	for _, n := range nodes {
		if d.membership.IsAlive(n) {
			available++
		}
		if n == d.membership.LocalNode() {
			includesLocal = true
		}
	}
	if available == 0 {
		available = len(nodes)
	}

	quorum, err := computeQuorum(req.Task.QuorumType(), cfg, len(nodes))
	if err != nil {
		d.log.WithFields(logrus.Fields{"database": req.Database, "shard": cfg.Shard}).Warn("quorum unreachable")
		return nil, err
	}

	// spec §4.1.1 step 5: expected_sync = max(1, min(quorum, available)).
	// Quorum is decided against the partition's full node-set above;
	// only here does the currently-alive count clamp how many responses
	// we'll actually wait for synchronously.
	expectedSync := quorum
	if req.Task.ResultStrategy() == task.ResultUnion {
		expectedSync = available
	} else if expectedSync > available {
		expectedSync = available
	}
	if expectedSync < 1 {
		expectedSync = 1
	}

	waitLocal := includesLocal && cfg.ReadYourWrites
	mgr := response.New(expectedSync, waitLocal, d.membership.LocalNode(),
		req.Task.SynchronousTimeout(expectedSync), req.Task.TotalTimeout(len(nodes)))

	if req.Mode != task.ModeNoResponse {
		if err := d.service.RegisterPending(req.ID, mgr); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrDispatchFailed, err)
		}
		defer d.service.UnregisterPending(req.ID)
	}

	if err := d.broadcast(ctx, req, nodes); err != nil {
		mgr.Close()
		return nil, err
	}
	if d.metrics != nil {
		d.metrics.Broadcasts.WithLabelValues(req.Database).Inc()
	}

	if req.Mode == task.ModeNoResponse {
		return nil, nil
	}
	return d.collect(mgr, req.Task)
}

// broadcast offers req onto every node's request queue while holding
// req.Database's per-database lock, preserving the global ordering
// invariant that O1-O3 (spec §8) require: no two broadcasts against the
// same database may interleave their enqueues.
func (d *Dispatcher) broadcast(ctx context.Context, req *task.Request, nodes []string) error {
	unlock, err := d.service.RequestLock(req.Database).Lock(ctx, d.lockTimeout)
	if err != nil {
		return fmt.Errorf("%w: lock: %v", ErrDispatchFailed, err)
	}
	defer unlock()

	var merr *multierror.Error
	for _, n := range nodes {
		q := d.service.RequestQueue(n, req.Database)
		if offerErr := q.Offer(ctx, req, d.queueTimeout); offerErr != nil {
			merr = multierror.Append(merr, fmt.Errorf("node %s: %w", n, offerErr))
		}
	}
	if merr.ErrorOrNil() != nil {
		d.log.WithError(merr).WithField("database", req.Database).Warn("broadcast had per-node failures")
		return fmt.Errorf("%w: %v", ErrDispatchFailed, merr)
	}
	return nil
}

// collect waits for the synchronous threshold and reduces whatever
// responses arrived, per spec §4.1.2(b)-(c).
func (d *Dispatcher) collect(mgr *response.Manager, t task.Task) ([]byte, error) {
	switch mgr.WaitForSynchronousResponses() {
	case response.WaitTotalTimeout:
		return nil, ErrTotalTimeout
	case response.WaitSynchronousTimeout:
		d.log.Warn("synchronous timeout, returning best-effort aggregation")
		payload, rerr := mgr.GetResponse(resultStrategyToResponse(t.ResultStrategy()), t.Equal)
		if rerr != nil {
			return nil, rerr
		}
		return payload, nil
	default:
		return mgr.GetResponse(resultStrategyToResponse(t.ResultStrategy()), t.Equal)
	}
}
