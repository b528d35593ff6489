// Package recovery implements the Recovery Coordinator of spec §4.4:
// per-database startup replay and executor bring-up, periodic resync,
// and reaction to membership churn.
//
// Its shutdown sequencing (ctx/cancel plus sync.WaitGroup drain), its
// periodic time.Ticker loop, and its mutex-guarded state map follow a
// health-monitoring pattern: a periodic probe body becomes the
// resync-dispatch body, and an "N consecutive failures before marking
// unhealthy" debounce becomes RemoveNode's churn-coalescing timer (a
// node flapping between departed/rejoined within the debounce window
// only triggers one broadcast).
package recovery

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/dreamware/replicator/internal/config"
	"github.com/dreamware/replicator/internal/dispatch"
	"github.com/dreamware/replicator/internal/executor"
	"github.com/dreamware/replicator/internal/messaging"
	"github.com/dreamware/replicator/internal/task"
)

// ConfigBroadcastFunc is invoked with every PartitionConfig changed by
// membership churn (spec §4.4 "broadcast new config"). The in-process
// message service has no dedicated config-distribution queue — real
// deployments propagate configuration through their own distributed
// configuration mechanism, not the data-plane request/response queues
// this module models — so propagation across coordinators is left to
// the caller to wire (e.g. a hook that Sets cfg into another node's
// config.Store, or a logging-only no-op in single-node setups).
type ConfigBroadcastFunc func(ctx context.Context, cfg config.PartitionConfig)

// Coordinator is the Recovery Coordinator for one local node (spec §2
// component 5).
//
// Thread Safety:
// All exported methods are safe for concurrent use. ConfigureDatabase
// for distinct databases may run concurrently; calling it twice for the
// same database replaces the tracked executor/cancel pair without
// stopping the previous one's goroutine, so callers should not do that
// outside tests.
type Coordinator struct {
	node       string
	svc        *messaging.Service
	store      *config.Store
	dispatcher *dispatch.Dispatcher
	log        *logrus.Logger
	metrics    *Metrics
	execMetric *executor.Metrics

	churnDebounce time.Duration

	mu        sync.Mutex
	executors map[string]*executor.Executor
	cancels   map[string]context.CancelFunc
	wg        sync.WaitGroup

	removalMu     sync.Mutex
	removalTimers map[string]*time.Timer

	onConfigBroadcast ConfigBroadcastFunc

	resyncSyncTimeout  time.Duration
	resyncTotalTimeout time.Duration
}

// NewCoordinator creates a Coordinator for node.
//
// Parameters:
//   - node: the local node name this coordinator manages executors for.
//   - svc: the messaging.Service its executors and resync dispatches use.
//   - store: the config.Store consulted and mutated by
//     CheckLocalInConfiguration/RemoveNode.
//   - dispatcher: used by resyncOnce to issue ResyncTask dispatches.
//   - churnDebounce: how long RemoveNode waits before applying the
//     removal; repeated RemoveNode calls for the same node within it
//     coalesce into one removal (spec §4.4 "detected departure"). Node
//     liveness is not consulted, so a node that reappears within the
//     window is still removed.
//   - log: optional; a standard logrus.Logger is created when nil.
//   - metrics, execMetrics: optional; instrumentation is skipped when nil.
//
// Returns a Coordinator with no executors running yet.
func NewCoordinator(node string, svc *messaging.Service, store *config.Store, dispatcher *dispatch.Dispatcher, churnDebounce time.Duration, log *logrus.Logger, metrics *Metrics, execMetrics *executor.Metrics) *Coordinator {
	if log == nil {
		log = logrus.New()
	}
	return &Coordinator{
		node:          node,
		svc:           svc,
		store:         store,
		dispatcher:    dispatcher,
		log:           log,
		metrics:       metrics,
		execMetric:    execMetrics,
		churnDebounce: churnDebounce,
		executors:     make(map[string]*executor.Executor),
		cancels:       make(map[string]context.CancelFunc),
		removalTimers: make(map[string]*time.Timer),
	}
}

// SetConfigBroadcastHook installs fn as the membership-churn
// config-change notifier (see ConfigBroadcastFunc).
//
// Parameters:
//   - fn: called with each PartitionConfig changed by
//     CheckLocalInConfiguration or RemoveNode; nil disables notification.
//
// Thread Safety: not safe to call concurrently with
// CheckLocalInConfiguration/RemoveNode; call once during setup, before
// the Coordinator is driven by membership events.
func (c *Coordinator) SetConfigBroadcastHook(fn ConfigBroadcastFunc) {
	c.onConfigBroadcast = fn
}

// SetResyncTimeouts overrides the synchronous/total timeouts resync
// dispatches use, instead of task.ResyncTask's 5s/30s defaults. Useful
// for clusters whose round-trip latency is known to be much shorter (or
// longer) than the default.
//
// Parameters:
//   - sync: the per-resync synchronous timeout passed as
//     task.ResyncTask.SyncTimeout.
//   - total: the per-resync total timeout passed as
//     task.ResyncTask.TotalTimeoutDuration.
//
// Thread Safety: call before StartResync; not safe to call concurrently
// with an active resync loop.
func (c *Coordinator) SetResyncTimeouts(sync, total time.Duration) {
	c.resyncSyncTimeout = sync
	c.resyncTotalTimeout = total
}

// ConfigureDatabase implements spec §4.4's configure_database: replay
// the undo record if present and requested, optionally drain whatever is
// already queued, start the inbound-executor worker, then mark it
// online.
//
// Parameters:
//   - ctx: governs the whole setup sequence (replay, drain) and is
//     inherited (via a child context) by the executor's Run goroutine.
//   - database: the database name this executor serves.
//   - db: the LocalDatabase requests are executed against.
//   - queueTimeout: passed through to the new Executor (bounds its
//     response-offer calls).
//   - restoreMessages: when true, replay any persisted undo record
//     before starting the executor loop (spec §4.4 step 1).
//   - unqueuePending: when true, drain whatever is already queued
//     before starting the executor loop (spec §4.4 step 2).
//
// Returns the running Executor, or an error if undo replay failed.
//
// Thread Safety: safe to call concurrently for distinct databases; see
// the type-level note about calling it twice for the same database.
func (c *Coordinator) ConfigureDatabase(ctx context.Context, database string, db task.LocalDatabase, queueTimeout time.Duration, restoreMessages, unqueuePending bool) (*executor.Executor, error) {
	ex := executor.New(c.node, database, c.svc, db, queueTimeout, c.log, c.execMetric)

	if restoreMessages {
		if _, err := ex.ReplayUndo(ctx); err != nil {
			return nil, err
		}
	}
	if unqueuePending {
		ex.DrainPending(ctx)
	}

	runCtx, cancel := context.WithCancel(ctx)
	c.mu.Lock()
	c.executors[database] = ex
	c.cancels[database] = cancel
	c.mu.Unlock()

	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		ex.Run(runCtx)
	}()

	ex.SetOnline(true)
	if c.metrics != nil {
		c.metrics.DatabasesConfigured.Inc()
	}
	return ex, nil
}

// StartResync launches the periodic anti-entropy loop for (database,
// shard) (spec §4.4 "Periodic resync").
//
// Parameters:
//   - ctx: governs the loop's lifetime; canceling it stops the ticker.
//   - database, shard: identify the partition resyncOnce dispatches
//     ResyncTask requests against.
//   - every: the tick interval; StartResync no-ops if every <= 0.
//
// Thread Safety: safe to call concurrently for distinct (database,
// shard) pairs; runs its own goroutine tracked by Coordinator's
// WaitGroup, and Shutdown cancels it and waits for it to exit. A second
// call for the same (database, shard) stops the earlier loop.
func (c *Coordinator) StartResync(ctx context.Context, database, shard string, every time.Duration) {
	if every <= 0 {
		return
	}
	ctx, cancel := context.WithCancel(ctx)
	key := "resync:" + database + "/" + shard
	c.mu.Lock()
	if prev, ok := c.cancels[key]; ok {
		prev()
	}
	c.cancels[key] = cancel
	c.mu.Unlock()
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		ticker := time.NewTicker(every)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				c.resyncOnce(ctx, database, shard)
			}
		}
	}()
}

// resyncOnce issues one ResyncTask against (database, shard). Quorum
// failures are swallowed — resync is best-effort anti-entropy, not a
// consistency requirement (spec §4.4).
func (c *Coordinator) resyncOnce(ctx context.Context, database, shard string) {
	s := shard
	_, err := c.dispatcher.Send(ctx, &task.Request{
		Sender: c.node, Database: database, Cluster: &s,
		Task: task.ResyncTask{
			SyncTimeout:          c.resyncSyncTimeout,
			TotalTimeoutDuration: c.resyncTotalTimeout,
		},
		Mode: task.ModeResponse,
	})
	if err == nil {
		return
	}
	if errors.Is(err, dispatch.ErrQuorumUnreachable) || errors.Is(err, dispatch.ErrTotalTimeout) {
		c.log.WithError(err).WithField("database", database).Debug("resync quorum not met, continuing best-effort")
		return
	}
	c.log.WithError(err).WithField("database", database).Warn("resync dispatch failed")
}

// CheckLocalInConfiguration implements spec §4.4's startup membership
// check: add the local node to any partition missing it and broadcast
// the change.
//
// Parameters:
//   - ctx: passed to the ConfigBroadcastFunc hook, if one is installed.
//
// Thread Safety: safe to call concurrently with RemoveNode and with
// itself; config.Store's own locking serializes the underlying mutation.
func (c *Coordinator) CheckLocalInConfiguration(ctx context.Context) {
	changed := c.store.AddNewNodeInPartitions(c.node)
	for _, cfg := range changed {
		c.log.WithFields(logrus.Fields{"database": cfg.Database, "shard": cfg.Shard}).
			Info("added local node to partition configuration")
		if c.onConfigBroadcast != nil {
			c.onConfigBroadcast(ctx, cfg)
		}
	}
}

// RemoveNode schedules node's removal from every partition's node-set,
// coalescing repeated departure detections within churnDebounce into a
// single applied removal (spec §4.4 "remove_node(node, force)").
//
// Parameters:
//   - node: the node name to remove from every partition it appears in.
//   - force: passed through to config.Store.RemoveNodeInPartition,
//     which ignores it and always removes the node.
//
// Thread Safety: safe to call concurrently, including repeatedly for
// the same node; each call restarts that node's debounce timer.
func (c *Coordinator) RemoveNode(node string, force bool) {
	c.removalMu.Lock()
	defer c.removalMu.Unlock()
	if existing, ok := c.removalTimers[node]; ok {
		existing.Stop()
	}
	c.removalTimers[node] = time.AfterFunc(c.churnDebounce, func() {
		c.applyRemoval(node, force)
	})
}

func (c *Coordinator) applyRemoval(node string, force bool) {
	c.removalMu.Lock()
	delete(c.removalTimers, node)
	c.removalMu.Unlock()

	changed := c.store.RemoveNodeInPartition(node, force)
	// The in-process ClusterFactory has no queue-eviction primitive, so
	// node's request queue is left to become unreferenced rather than
	// explicitly dropped; a real cluster-queue service would expose a
	// delete-queue call here.
	for _, cfg := range changed {
		c.log.WithFields(logrus.Fields{"database": cfg.Database, "shard": cfg.Shard, "node": node}).
			Info("removed node from partition configuration")
		if c.onConfigBroadcast != nil {
			c.onConfigBroadcast(context.Background(), cfg)
		}
	}
	if c.metrics != nil {
		c.metrics.NodesRemoved.Inc()
	}
}

// Executor returns the running executor for database, if configured.
//
// Returns the *executor.Executor and true if ConfigureDatabase has been
// called for database; nil and false otherwise. Shutdown does not remove
// entries, so an executor that has been shut down is still returned.
//
// Thread Safety: safe to call concurrently with ConfigureDatabase/Shutdown.
func (c *Coordinator) Executor(database string) (*executor.Executor, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	ex, ok := c.executors[database]
	return ex, ok
}

// Shutdown cancels every running executor and resync loop and waits for
// them to exit.
//
// Thread Safety: intended to be called once, after which the
// Coordinator should not be reused; safe to call concurrently with
// in-flight ConfigureDatabase/StartResync calls, but any executor
// started after Shutdown begins waiting will not be waited on.
func (c *Coordinator) Shutdown() {
	c.mu.Lock()
	for _, cancel := range c.cancels {
		cancel()
	}
	c.mu.Unlock()
	c.wg.Wait()
}
