// Package messaging is the Message Service of spec §2 component 3: it
// names the cluster-primitive handles (request queues, response queues,
// undo maps, broadcast mutexes) the rest of the coordinator needs, vends
// and memoizes them, generates request ids, and demultiplexes inbound
// responses to the ResponseManager that is waiting for them.
//
// # Naming
//
// Names follow spec §6 literally so a deployment can interoperate with
// any cluster-primitive backend that already has objects under these
// names:
//
//	request queue:  orientdb.node.<node>.<database>.request
//	response queue: orientdb.node.<node>.response
//	undo map:       orientdb.node.<node>.<database>.undo
//	broadcast lock: orientdb.reqlock.<database>
//
// # Pending-request registry
//
// Service.RegisterPending/UnregisterPending/Dispatch implement spec §3's
// "PendingRequest": a request id maps to exactly one ResponseManager for
// the lifetime of that dispatch. Dispatch silently drops responses for
// unregistered ids — the expected case for a response that arrives after
// its ResponseManager already reached quorum and unregistered itself.
package messaging
