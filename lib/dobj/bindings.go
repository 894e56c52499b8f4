package dobj

import (
	"github.com/ValentinKolb/dOBJ/lib/engine"
)

// --------------------------------------------------------------------------
// Engine Bindings
// --------------------------------------------------------------------------

// neverBound lists operations that no engine binding is resolved for.
var neverBound = engine.NewOpSet(engine.OpExtendPool, engine.OpQueryTarget)

// bindings is the table of operations resolved against an engine once, when the
// context is created. Every call goes through invoke, which rejects unbound
// operations with an UnsupportedError instead of reaching the engine.
type bindings struct {
	engine engine.IEngine
	bound  engine.OpSet
}

func resolveBindings(e engine.IEngine) *bindings {
	b := &bindings{engine: e}
	for _, op := range engine.AllOps() {
		switch {
		case neverBound.Has(op):
		case op.IsLocal():
			b.bound = b.bound.With(op)
		case e.SupportsOp(op):
			b.bound = b.bound.With(op)
		}
	}
	return b
}

func (b *bindings) has(op engine.Op) bool { return b.bound.Has(op) }

// unbound returns the operations that resolved to the unsupported stub.
func (b *bindings) unbound() []engine.Op {
	var ops []engine.Op
	for _, op := range engine.AllOps() {
		if !b.has(op) {
			ops = append(ops, op)
		}
	}
	return ops
}

// invoke runs fn as op. Engine failures are wrapped into EngineError.
func (b *bindings) invoke(op engine.Op, fn func(e engine.IEngine) error) error {
	if !b.has(op) {
		return &UnsupportedError{Op: op}
	}
	return engineError(op, fn(b.engine))
}
