// Package base implements the connection oriented transports (tcp, unix) on top
// of a small connector interface. The connector opens listeners and dials
// endpoints, everything else lives here.
//
// Requests and responses travel as frames (see util.go) tagged with the shard
// id and a request id. A client connection multiplexes many requests and
// matches the responses by request id, so responses may arrive out of order.
// Clients spread requests round robin over all connections of all endpoints and
// retry failed sends on the next connection.
//
// The server reads frames from every connection in one goroutine and processes
// them on up to WorkersPerConn workers. Writes to a connection are serialized.
// Read buffers come from a sync.Pool.
//
// All exported functions are safe for concurrent use.
package base
