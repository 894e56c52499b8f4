// Package transport defines how serialized engine requests reach a server.
// A client transport sends one request to the engine of a shard and returns the
// response bytes. A server transport hands every request to the registered
// ServerHandleFunc together with the shard id it was addressed to.
//
// Implementations: tcp and unix (frame based, see package base) and http.
// Transports know nothing about engine operations, retries of failed sends are
// the only semantics they add.
package transport
