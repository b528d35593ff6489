// Package primitives defines the cluster-primitive contracts the rest of
// the replication coordinator is built on: durable queues, visible maps,
// cluster-wide mutexes, and node liveness.
//
// # Overview
//
// Per spec.md §1, the coordinator treats the underlying cluster-membership
// service — the thing that actually provides durable queues, maps, and
// locks across a fleet of processes — as an external collaborator. This
// package is the seam: it names the exact contract the rest of the module
// depends on, and supplies a single-process, non-durable implementation
// good enough for tests and local demos.
//
// # Architecture
//
//	┌──────────────────────────────────────────┐
//	│              primitives                   │
//	├──────────────────────────────────────────┤
//	│  Queue[T]    — offer(v, timeout) / take() │
//	│  Map[K,V]    — put / get / remove         │
//	│  Mutex       — lock(timeout) -> unlock    │
//	│  Membership  — is_alive(node) / local()   │
//	├──────────────────────────────────────────┤
//	│  MemoryQueue / MemoryMap / MemoryMutex /  │
//	│  StaticMembership — in-process stand-ins  │
//	└──────────────────────────────────────────┘
//
// A real deployment swaps the Memory* types for adapters over whatever
// cluster-coordination system is already running (a distributed map/queue
// service, an embedded Raft-backed KV store used purely as a primitive,
// etc.) without touching internal/dispatch, internal/executor, or
// internal/recovery — none of them import anything but this package's
// interfaces.
//
// # Concurrency
//
// Every Memory* implementation is safe for concurrent use. MemoryQueue
// uses a condition variable rather than a channel so that Offer never
// blocks (queues are meant to be durable and non-rejecting) while Take
// can still observe context cancellation promptly.
package primitives
