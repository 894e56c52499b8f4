// Package dengine implements a replicated, fault-tolerant engine using the Dragonboat
// RAFT consensus library. Every replica runs a local engine (lengine) and applies the
// same sequence of mutations to it, so all replicas hold identical pools, containers,
// epochs, objects and handles.
//
// Architecture:
//
//   - Engine Client: Implements the engine.IEngine interface. Mutations are turned into
//     commands and proposed to the RAFT shard, reads are served by the state machine.
//
//   - State Machine: A Dragonboat IConcurrentStateMachine that owns a local engine and
//     applies commands and queries to it (statemachine.go).
//
//   - Communication Protocol: Defined in the internal package. Commands are an op byte
//     followed by CBOR encoded arguments; queries are passed to the state machine as Go values.
//
// Determinism:
//
//	Replicas must reach the same state from the same log. Inputs that are not
//	deterministic are therefore produced by the client before proposing:
//
//	- Pool uuids are generated by the client when the caller did not supply one.
//	- Object identifiers are generated by the client without consulting the shard.
//	- Handles are allocated from a counter that is part of the replicated state.
//
// Write Operations:
//
//	1. The operation and its arguments are serialized into a Command
//	2. The Command is proposed to the RAFT shard via SyncPropose
//	3. Once committed, the command is applied on every replica (Update in statemachine.go)
//	4. The engine result code and the encoded result are returned to the client
//
//	Proposals are retried when Dragonboat reports ErrSystemBusy.
//
// Read Operations:
//
//	Reads (query-pool, fetch-obj, layout-obj, ...) use SyncRead, so they observe every
//	committed mutation. Engine statistics and client log records use StaleRead.
//	Fetches hand the caller's scatter-gather lists to the state machine, which fills them in place.
//
// Snapshotting and Recovery:
//
//	PrepareSnapshot captures the local engine state (lengine Save) while updates are paused,
//	SaveSnapshot writes it out and RecoverFromSnapshot loads it (lengine Load).
//
// Usage:
//
//	nh, err := dragonboat.NewNodeHost(nodeHostConfig)
//	if err != nil { ... }
//
//	err = nh.StartConcurrentReplica(
//	    clusterMembers,
//	    false,
//	    dengine.CreateStateMachineFactory(lengine.DefaultOptions()),
//	    shardConfig)
//	if err != nil { ... }
//
//	e := dengine.NewReplicatedEngine(nh, shardID, 5*time.Second)
package dengine
