// Package messaging names cluster primitives (queues, maps, mutexes) for
// the replication protocol and vends/memoizes their handles, plus holds
// the pending-request registry that demultiplexes inbound responses
// (spec §2 component 3 "Message Service", §6 "Queue naming").
package messaging

import "fmt"

// RequestQueueName returns the name of node's request queue for
// database, per spec §6: "orientdb.node." + node + "." + database +
// ".request".
func RequestQueueName(node, database string) string {
	return fmt.Sprintf("orientdb.node.%s.%s.request", node, database)
}

// ResponseQueueName returns the name of node's (per-node, not
// per-database) response queue, per spec §6: "orientdb.node." + node +
// ".response".
func ResponseQueueName(node string) string {
	return fmt.Sprintf("orientdb.node.%s.response", node)
}

// UndoMapName returns the name of the undo-record map for (node,
// database), per spec §6: "orientdb.node." + node + "." + database +
// ".undo".
func UndoMapName(node, database string) string {
	return fmt.Sprintf("orientdb.node.%s.%s.undo", node, database)
}

// RequestLockName returns the name of the per-database cluster-wide
// broadcast mutex, per spec §6: "orientdb.reqlock." + database.
func RequestLockName(database string) string {
	return fmt.Sprintf("orientdb.reqlock.%s", database)
}
