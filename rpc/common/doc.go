// Package common holds what client and server of the RPC layer agree on.
//
// Message is the envelope of every request and response. Its Op names the
// engine operation, the arguments and results travel as CBOR encoded Args and
// Result payloads, so the serializers never see engine types. Failed operations
// come back as MsgTError with the engine result code in RC, AsError turns them
// into *engine.Error again.
//
// ServerConfig and ClientConfig carry the settings of the serve command and of
// the client commands. ServerConfig also converts to the Dragonboat
// configuration of replicated shards.
//
// InitLoggers installs the log format used by all dOBJ and Dragonboat loggers.
package common
