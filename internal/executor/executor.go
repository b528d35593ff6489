// Package executor implements the Inbound Executor of spec §4.2: a
// dedicated worker per (local node, database) that drains the node's
// request queue, applies undo/redo crash recovery around each task, and
// replies on the sender's response queue.
//
// State follows a string-enum-with-explicit-transition-table pattern,
// generalized from a shard's active/migrating/deleted lifecycle to an
// inbound message's idle/reading/processing lifecycle, with the same
// lock discipline around SetState.
package executor

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/dreamware/replicator/internal/messaging"
	"github.com/dreamware/replicator/internal/task"
)

// State is one of the inbound executor's states (spec §4.2): IDLE ->
// READING -> {WAITING_FOR_TASK_TYPE, WAITING_FOR_ONLINE} -> PROCESSING
// -> IDLE, with any state able to transition to SHUTDOWN on context
// cancellation.
//
// Transitions:
//   - IDLE -> READING: the loop starts waiting on the request queue.
//   - READING -> WAITING_FOR_TASK_TYPE: a task-type filter is armed via
//     SetWaitForTaskType and the next request doesn't match it.
//   - READING -> WAITING_FOR_ONLINE: the request requires the node to
//     be online (RequiresNodeOnline) but SetOnline(true) hasn't run yet.
//   - READING -> PROCESSING: the request is ready to execute.
//   - WAITING_FOR_TASK_TYPE -> READING: a mismatched request is skipped.
//   - WAITING_FOR_ONLINE -> PROCESSING: SetOnline(true) wakes the wait.
//   - PROCESSING -> IDLE: process returns and the loop starts over.
//   - any state -> SHUTDOWN: ctx.Done() observed in Run or waitUntilOnline.
type State string

const (
	StateIdle            State = "idle"
	StateReading         State = "reading"
	StateWaitingTaskType State = "waiting_for_task_type"
	StateWaitingOnline   State = "waiting_for_online"
	StateProcessing      State = "processing"
	StateShutdown        State = "shutdown"
)

// onlinePollInterval is how often WAITING_FOR_ONLINE re-checks the
// online flag while blocked (spec §4.2: "5s polling").
const onlinePollInterval = 5 * time.Second

// Executor runs the inbound executor loop for one (local node, database)
// pair (spec §2 component 3 "Inbound Executor").
//
// Thread Safety:
// Run, DrainPending, and ReplayUndo must not be called concurrently
// against the same Executor — each drives the same process path and
// would race on undo-record persistence for the same database. State,
// SetOnline, and SetWaitForTaskType are safe to call from any goroutine
// while Run is active; they exist specifically so the recovery
// coordinator can observe and drive the loop from the outside.
type Executor struct {
	node     string
	database string

	svc *messaging.Service
	db  task.LocalDatabase
	log *logrus.Logger

	mu     sync.RWMutex
	state  State
	online bool
	cond   *sync.Cond

	// waitForTaskType is the gate spec §4.2 READING→WAITING_FOR_TASK_TYPE
	// describes, stored as an atomic.Pointer[string] per SPEC_FULL §9 Open
	// Question 1: any goroutine may arm/disarm the filter concurrently
	// with the loop's own read of it, so every loop iteration takes one
	// snapshot instead of re-reading a plain field under a separate lock.
	waitForTaskType atomic.Pointer[string]

	queueTimeout time.Duration
	metrics      *Metrics
}

// New creates an Executor for (node, database). online starts false: spec
// §4.4 step 2 runs undo replay and pending drain "before going online",
// so the recovery coordinator is expected to call SetOnline(true) once
// ConfigureDatabase's setup steps finish.
//
// Parameters:
//   - node: the local node name this executor serves requests for.
//   - database: the database name this executor's queue is scoped to.
//   - svc: the messaging.Service providing the request/response queues
//     and undo map this executor reads and writes.
//   - db: the LocalDatabase each request is ultimately executed against.
//   - queueTimeout: bounds how long process waits when offering a
//     response onto the sender's response queue.
//   - log: optional; a default logrus.Logger is created when nil.
//   - metrics: optional; instrumentation is skipped when nil.
//
// Returns an Executor in StateIdle, not yet running — call Run to start
// its loop.
func New(node, database string, svc *messaging.Service, db task.LocalDatabase, queueTimeout time.Duration, log *logrus.Logger, metrics *Metrics) *Executor {
	if log == nil {
		log = logrus.New()
	}
	e := &Executor{
		node:         node,
		database:     database,
		svc:          svc,
		db:           db,
		log:          log,
		state:        StateIdle,
		online:       false,
		queueTimeout: queueTimeout,
		metrics:      metrics,
	}
	e.cond = sync.NewCond(&e.mu)
	return e
}

// State reports the executor's current state.
//
// Thread Safety: safe to call from any goroutine; reads under RLock.
func (e *Executor) State() State {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.state
}

func (e *Executor) setState(s State) {
	e.mu.Lock()
	e.state = s
	e.mu.Unlock()
}

// SetOnline flips the online flag and wakes anything blocked in
// WAITING_FOR_ONLINE (spec §4.2, §4.4 "before going online").
//
// Parameters:
//   - online: the new value; true releases any request blocked in
//     WAITING_FOR_ONLINE whose task requires the node to be online.
//
// Thread Safety: safe to call from any goroutine, including
// concurrently with Run.
func (e *Executor) SetOnline(online bool) {
	e.mu.Lock()
	e.online = online
	e.mu.Unlock()
	e.cond.Broadcast()
}

func (e *Executor) isOnline() bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.online
}

// SetWaitForTaskType arms the READING→WAITING_FOR_TASK_TYPE filter
// (spec §4.2): the next request whose TaskType doesn't match taskType is
// skipped and logged rather than processed. Pass nil to clear the
// filter.
//
// Parameters:
//   - taskType: the TaskType to wait for, or nil to disarm the filter.
//
// Thread Safety: backed by atomic.Pointer[string], safe to call
// concurrently with Run — see SPEC_FULL §9 Open Question 1 for why a
// plain field guarded by a separate lock was rejected here.
func (e *Executor) SetWaitForTaskType(taskType *string) {
	e.waitForTaskType.Store(taskType)
}

// Run drives the state machine until ctx is canceled (spec §4.2 "any
// state → SHUTDOWN: on interrupt"). It blocks and is meant to run as its
// own goroutine, one per (node, database).
//
// Parameters:
//   - ctx: governs the loop's lifetime; cancellation transitions the
//     executor to StateShutdown and returns, whether the cancellation
//     is observed between requests or while blocked in
//     WAITING_FOR_ONLINE.
//
// Thread Safety: exactly one goroutine should call Run for a given
// Executor; State/SetOnline/SetWaitForTaskType are safe to call
// concurrently from others.
func (e *Executor) Run(ctx context.Context) {
	queue := e.svc.RequestQueue(e.node, e.database)
	for {
		if ctx.Err() != nil {
			e.setState(StateShutdown)
			return
		}

		e.setState(StateIdle)
		e.setState(StateReading)

		req, err := queue.Take(ctx)
		if err != nil {
			e.setState(StateShutdown)
			return
		}

		if filter := e.waitForTaskType.Load(); filter != nil {
			e.setState(StateWaitingTaskType)
			if req.Task.TaskType() != *filter {
				e.log.WithFields(logrus.Fields{
					"database": e.database, "node": e.node,
					"want_type": *filter, "got_type": req.Task.TaskType(),
				}).Debug("skipping request: task type filter unmatched")
				continue
			}
			e.waitForTaskType.Store(nil)
		}

		if !e.isOnline() && req.Task.RequiresNodeOnline() {
			e.setState(StateWaitingOnline)
			e.waitUntilOnline(ctx)
			if ctx.Err() != nil {
				e.setState(StateShutdown)
				return
			}
		}

		e.setState(StateProcessing)
		e.process(ctx, req)
	}
}

// waitUntilOnline blocks on the online condition, re-checking every
// onlinePollInterval as spec §4.2 describes, until online flips true or
// ctx is canceled.
func (e *Executor) waitUntilOnline(ctx context.Context) {
	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			e.cond.Broadcast()
		case <-done:
		}
	}()

	e.mu.Lock()
	defer e.mu.Unlock()
	for !e.online && ctx.Err() == nil {
		timer := time.AfterFunc(onlinePollInterval, func() { e.cond.Broadcast() })
		e.cond.Wait()
		timer.Stop()
	}
}

// process implements the PROCESSING state of spec §4.2: undo-record
// write, task execution under the replicated-context marker, cache
// clear, response offer, undo-record delete.
func (e *Executor) process(ctx context.Context, req *task.Request) {
	undoMap := e.svc.UndoMap(e.node, e.database)

	if err := undoMap.Put(ctx, e.database, req); err != nil {
		e.log.WithError(err).Error("failed to persist undo record")
	}

	runCtx := task.WithReplicated(ctx)
	payload, execErr := e.db.Execute(runCtx, req)

	e.db.ClearLevel1Cache()

	if req.Mode != task.ModeNoResponse {
		resp := &task.Response{
			RequestID: req.ID,
			FromNode:  e.node,
			ToNode:    req.Sender,
			Payload:   payload,
			Err:       execErr,
		}
		respQueue := e.svc.ResponseQueue(req.Sender)
		if offerErr := respQueue.Offer(ctx, resp, e.queueTimeout); offerErr != nil {
			// ResponseDispatchFailed (spec §7, SPEC_FULL Open Question 2):
			// logged, not re-raised to the loop. The task was already
			// applied locally; the undo record is still cleared below
			// because redelivering it on restart would redundantly
			// replay a write the local database already has, and tasks
			// must already tolerate that replay (spec §8 P2).
			e.log.WithError(offerErr).WithFields(logrus.Fields{
				"request_id": req.ID, "to_node": req.Sender,
			}).Warn("ResponseDispatchFailed: applied locally, not delivered")
			if e.metrics != nil {
				e.metrics.ResponseDispatchFailures.WithLabelValues(e.database).Inc()
			}
		}
	}

	if err := undoMap.Remove(ctx, e.database); err != nil {
		e.log.WithError(err).Error("failed to clear undo record")
	}

	if e.metrics != nil {
		e.metrics.Processed.WithLabelValues(e.database).Inc()
	}
}

// DrainPending processes whatever is already sitting in (node, database)'s
// request queue without blocking for new arrivals, for the recovery
// coordinator's optional unqueue_pending step (spec §4.4 step 2).
//
// Parameters:
//   - ctx: passed through to each drained request's process call; a
//     short per-item timeout context is used internally to detect an
//     empty queue without blocking indefinitely.
//
// Returns the number of requests drained.
//
// Thread Safety: call before Run starts its own goroutine for this
// Executor; it is not meant to run concurrently with Run.
func (e *Executor) DrainPending(ctx context.Context) int {
	queue := e.svc.RequestQueue(e.node, e.database)
	n := 0
	for {
		peekCtx, cancel := context.WithTimeout(ctx, 10*time.Millisecond)
		req, err := queue.Take(peekCtx)
		cancel()
		if err != nil {
			return n
		}
		e.process(ctx, req)
		n++
	}
}

// ReplayUndo re-executes the persisted undo record for (node, database)
// through the same PROCESSING path process uses, for the recovery
// coordinator's startup replay (spec §4.4 step 1).
//
// Parameters:
//   - ctx: passed through to the replayed request's process call.
//
// Returns:
//   - (true, nil) if an undo record was found and replayed.
//   - (false, nil) if no undo record was present (not an error case).
//   - (false, err) if reading the undo record itself failed.
//
// Thread Safety: call before Run starts its own goroutine for this
// Executor; it is not meant to run concurrently with Run.
func (e *Executor) ReplayUndo(ctx context.Context) (bool, error) {
	undoMap := e.svc.UndoMap(e.node, e.database)
	req, ok, err := undoMap.Get(ctx, e.database)
	if err != nil {
		return false, err
	}
	if !ok {
		return false, nil
	}
	e.process(ctx, req)
	return true, nil
}
