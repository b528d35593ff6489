// Package dispatch implements the outbound half of the replication
// coordinator (spec §4.1): resolving a request's target node-set,
// computing quorum, broadcasting under the per-database ordering lock,
// and reducing the responses a response.Manager collects.
//
// Send/SendToNodes correspond one-to-one with spec §6's dispatch
// contract. See dispatcher.go for the broadcast-ordering discussion and
// response/doc.go for the aggregation half.
package dispatch
