// Package tcp provides the TCP connectors for the base transport.
//
// Socket options (no delay, keep-alive, linger, buffer sizes) come from
// common.TransportConfig and are applied to dialed and accepted connections.
// The read buffer of the server defaults to 64 KB, frames that are larger use a
// temporary buffer.
package tcp
