// Package executor implements the inbound half of the replication
// coordinator (spec §4.2): one long-lived worker per (local node,
// database) draining that node's request queue.
//
// # State machine
//
// IDLE → READING → {WAITING_FOR_TASK_TYPE, WAITING_FOR_ONLINE} →
// PROCESSING → IDLE, with any state transitioning to SHUTDOWN when the
// driving context is canceled. See executor.go's Run for the loop and
// process for the undo/redo crash-recovery protocol PROCESSING runs.
//
// # Crash recovery
//
// The undo record for (node, database) is written before task.Execute
// and removed after the response offer is attempted — not after it
// succeeds. A crash between those two points leaves a stale undo record
// that the recovery coordinator replays once on restart via ReplayUndo;
// tasks are required to tolerate that single redundant replay (spec §8
// P2), so no ordering stronger than "at-least-once, not-more-than-twice"
// is needed here.
package executor
