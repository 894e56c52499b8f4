package internal

import "github.com/ValentinKolb/dOBJ/lib/engine"

// Query defines the structure for lookup requests (read-only) sent via SyncRead or StaleRead.
// Queries never leave the process, so they carry the caller's buffers directly.
type Query struct {
	Op   engine.Op
	Args Args
	Glob *engine.IOV // receive buffer of the local2global queries
}

// OpInfo requests the engine statistics. Info is not an engine operation, so it
// reuses the otherwise unused invalid op value.
const OpInfo = engine.OpInvalid
