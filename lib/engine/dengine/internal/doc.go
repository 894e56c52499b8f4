// Package internal provides the communication protocol structures and serialization
// logic for the dengine package. It defines the format used to transmit engine
// operations between the engine client and the replicated state machine.
//
// This package is intended for internal use by the dengine implementation and should
// not be imported directly by external code.
//
// The package consists of two main components:
//
//   - Command System: Mutating operations (create-pool, hold-epoch, update-obj, ...).
//     Commands are serialized and proposed to the RAFT cluster, executed on every
//     replica's state machine, and produce a Result that is returned to the client.
//
//   - Query System: Read-only operations (query-pool, fetch-obj, local2global-cont, ...).
//     Queries are executed locally on the state machine and therefore do not require
//     serialization. They carry the caller's receive buffers, which the engine fills in place.
//
// Command Format:
//
//	- 1 byte: Operation (engine.Op)
//	- N bytes: Arguments, CBOR encoded (core deterministic encoding)
//
//	CBOR keeps nil and empty byte slices apart, so a nil dkey or a nil key list
//	("everything at this level") reaches the state machine unchanged.
//
// Result Format:
//
//	A command result is returned through the dragonboat sm.Result:
//
//	- Value: 0 on success, otherwise the negated engine result code
//	- Data: the CBOR encoded Result on success, otherwise the error message
//
// Thread Safety:
//
//	The types in this package are not thread-safe and should not be shared
//	across goroutines without external synchronization.
package internal
