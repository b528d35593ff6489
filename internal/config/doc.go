// Package config tracks partition (shard) ownership and the quorum/read
// policy that governs dispatches, per database. See partition.go for the
// PartitionConfig type and Store implementation.
//
// # Overview
//
// Every dispatch (internal/dispatch) and every membership-churn event
// (internal/recovery) needs to answer two questions: which nodes own
// this (database, shard), and what quorum/read policy applies? This
// package is the single source of truth for both, held as an in-process,
// mutex-guarded Store that mirrors whatever config blob the cluster
// broadcasts on membership change (spec §4.4).
//
// # Architecture
//
//	┌────────────────────────────────────┐
//	│              config                │
//	├────────────────────────────────────┤
//	│  PartitionConfig — immutable value │
//	│    Nodes, ReadQuorum, WriteQuorum,  │
//	│    ReadYourWrites, ResyncEvery, ... │
//	├────────────────────────────────────┤
//	│  Store — RWMutex-guarded map        │
//	│    database/shard -> PartitionConfig│
//	│    AddNewNodeInPartitions(node)     │
//	│    RemoveNodeInPartition(node)      │
//	└────────────────────────────────────┘
//
// # Concurrency
//
// Store uses a single RWMutex: reads (Resolve, All) take the read lock,
// mutations (Set, AddNewNodeInPartitions, RemoveNodeInPartition) take the
// write lock. Every returned PartitionConfig is a value copy — nothing
// in this package hands out a pointer into its internal map, so callers
// can never observe a half-updated configuration.
package config
