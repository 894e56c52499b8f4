// Package cmd implements the command-line interface for the dOBJ distributed
// object store. It provides a hierarchical command structure with operations
// for running the server and interacting with it as a client.
//
// The package is organized into several subpackages:
//
//   - serve: Commands for starting and configuring the dOBJ server
//   - pool: Commands for pool management (create, destroy, query, exclude, etc.)
//   - cont: Commands for containers, their attributes and epochs
//   - obj: Commands for object I/O, punching, layouts and the performance test
//   - util: Shared utilities for command-line processing and configuration (internal use)
//
// Every client command opens its own session: it connects to the engine of the
// addressed shard, performs the operation and disconnects again.
//
// See dobj -help for a list of all commands.
package cmd
