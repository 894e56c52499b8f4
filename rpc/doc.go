// Package rpc provides a comprehensive framework for remote procedure calls
// in dOBJ. It makes every engine.IEngine reachable over the network. It acts as the communication layer
// between clients and servers, enabling operations across network boundaries.
//
// The package is organized into several subpackages:
//
//   - common: Core data structures and utilities used across the RPC system,
//     including the Message protocol, configuration structures, and logging.
//
//   - transport: Network communication abstractions with pluggable implementations
//     (TCP, Unix sockets, HTTP).
//
//   - serializer: Message serialization with multiple format options (Binary, JSON, GOB, CBOR)
//     for converting between Message objects and byte arrays.
//
//   - client: NewRPCEngine, an engine.IEngine that forwards every operation to a
//     server, so the dobj client API works against remote engines transparently.
//
//   - server: The RPC server hosting local and replicated engines by shard ID,
//     with the adapter that applies decoded requests to an engine.
package rpc
