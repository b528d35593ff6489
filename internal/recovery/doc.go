// Package recovery implements the recovery coordinator of spec §4.4:
// bringing a database's inbound executor up (undo replay, pending
// drain), keeping it in sync (periodic resync), and reacting to
// membership churn (node join/departure).
//
// See recovery.go for the health_monitor.go grounding this package
// generalizes from periodic health-probing to periodic resync.
package recovery
