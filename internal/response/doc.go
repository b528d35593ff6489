// Package response implements the ResponseManager of spec §4.3: the
// per-request aggregator that the outbound dispatcher creates for every
// in-flight Send/SendToNodes call.
//
// # Overview
//
// One Manager is created per dispatch, registered under the request id
// in the messaging.Service pending-request registry, and torn down once
// it closes — quorum reached, total timeout elapsed, or every targeted
// node has responded (spec §3 "PendingRequest" lifetime).
//
// # Concurrency
//
// Manager uses a sync.Mutex + sync.Cond rather than a channel: OnResponse
// is called from arbitrary goroutines draining per-node response queues,
// and WaitForSynchronousResponses needs to wake the instant the
// threshold is met while also respecting two independent timeouts. A
// single AfterFunc timer drives the synchronous-timeout wakeup; when no
// node has responded by then, the same timer is re-armed for the total
// deadline, and both deadlines are checked against wall-clock time on
// every wakeup.
//
// # Result reduction
//
// GetResponse implements the four strategies of spec §4.3 — FIRST,
// MAJORITY, UNION, ANY — against whatever responses were recorded by the
// time the caller asks, independent of whether the synchronous threshold
// was actually met (a SynchronousTimeout still returns the best-effort
// aggregation spec §4.1.2(b) calls for).
package response
