// Package unix provides the Unix domain socket connectors for the base transport.
// Endpoints are socket paths. A stale socket file left behind by a crashed
// server is removed before listening.
//
// Use it for clients on the same machine as the server, it skips the TCP stack.
package unix
