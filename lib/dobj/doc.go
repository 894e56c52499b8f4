/*
Package dobj is the client API of dOBJ. It turns calls on handle objects into
engine operations and keeps the handles those operations return.

# Handles

A Context is created for an engine (local, replicated or remote, see lib/engine).
Every other object is created from it:

	ctx, err := dobj.NewContext(lengine.NewLocalEngine(nil), dobj.WithOwnedEngine())
	if err != nil { ... }
	defer ctx.Close()

	pool := dobj.NewPool(ctx)
	_ = pool.Create(0o731, 0, 0, 1<<30, "", nil, 1, nil)
	_ = pool.Connect(engine.PoolConnectRW, nil)

	cont := dobj.NewContainer(ctx)
	_ = cont.Create(pool.Handle, uuid.Nil, nil)
	_ = cont.Open(pool.Handle, cont.UUID, 0, nil)

	obj, epoch, err := cont.WriteObject([]byte("value"), []byte("dkey"), []byte("akey"), nil, nil, 0)
	value, err := cont.ReadObject(64, []byte("dkey"), []byte("akey"), obj, epoch)

Handle objects are not synchronized. Callers that share one between goroutines
must serialize the calls themselves.

# Epochs

Writes happen at an epoch held through Container.Epochs and become visible to
readers once the epoch is committed. Reads at an epoch see the newest version
at or below it.

# Synchronous and asynchronous calls

Methods taking a Callback run synchronously when it is nil and return the engine
failure as an *EngineError. With a callback the call is queued and the method
returns right away; the callback later receives the result code and the handle
object. NewFuture wraps a callback for callers that prefer to wait. Each queued
call is also tracked by an Event that can be polled from Context.EventQueue.

# Errors

  - *PreconditionError: rejected before reaching the engine.
  - *EngineError: the engine returned a non-zero result code.
  - *UnsupportedError: the engine has no binding for the operation.
  - *IoError: layout and global handle conversions failed.

RC extracts the result code from any of them.
*/
package dobj
