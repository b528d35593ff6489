// Package task defines the Task capability interface (spec §6) and the
// Request/Response data model (spec §3) the rest of the coordinator
// dispatches and executes, plus a MemoryDatabase reference
// implementation of the LocalDatabase contract used by tests and the
// cmd/replicator demo in place of a real document store.
//
// # Overview
//
// Everything outside this package treats a Task as an opaque bundle of
// policy (quorum type, result strategy, timeouts, online-requirement)
// plus one method, Execute, that does the actual work against a
// LocalDatabase. Neither the dispatcher (internal/dispatch) nor the
// executor (internal/executor) know what a Task actually does — they
// only read its policy and call Execute at the right point in the
// protocol.
//
// # Architecture
//
//	┌────────────────────────────────────────┐
//	│                 task                    │
//	├────────────────────────────────────────┤
//	│  Task interface — policy + Execute      │
//	│  Request / Response — wire data model   │
//	│  WithReplicated / IsReplicated — the    │
//	│    replicated-execution-context marker  │
//	├────────────────────────────────────────┤
//	│  KVRequest    — reference Task          │
//	│  ResyncTask   — built-in anti-entropy   │
//	│  MemoryDatabase — reference LocalDatabase│
//	└────────────────────────────────────────┘
//
// # Replicated execution context
//
// Execute receives a context.Context that carries a marker (set by the
// inbound executor's PROCESSING state) telling the database "this call
// is replication-driven, don't re-broadcast it". This replaces the
// thread-local "distributed run mode" flag the design notes (spec §9)
// flag as needing re-architecture for a language without thread-locals.
package task
