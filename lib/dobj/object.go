package dobj

import (
	"github.com/ValentinKolb/dOBJ/lib/engine"
)

// Object is a client side object in an open container.
type Object struct {
	ctx  *Context
	cont *Container

	OID    engine.OID
	Handle engine.Handle
	Epoch  engine.Epoch // epoch the handle was opened at

	// Ranks holds the target ranks of the object: the shard leaders after Query,
	// the replicas of shard 0 after GetLayout.
	Ranks  []engine.Rank
	Layout engine.Layout
}

// NewObject returns an object of cont. A zero oid is assigned by Create.
func NewObject(cont *Container, oid engine.OID) *Object {
	return &Object{ctx: cont.ctx, cont: cont, OID: oid}
}

// Container returns the container the object belongs to.
func (o *Object) Container() *Container { return o.cont }

// Class returns the object class encoded in the identifier.
func (o *Object) Class() engine.ObjClass { return o.OID.Class() }

// Create generates a new identifier of class and packs rankHint into it.
// A zero class selects engine.DefaultClass.
func (o *Object) Create(rankHint *engine.Rank, class engine.ObjClass) error {
	if rankHint != nil && *rankHint > engine.MaxRankHint {
		return precondition(engine.OpGenerateOID, "rank hint %d does not fit into 8 bits", *rankHint)
	}
	if class == engine.ClassUnknown {
		class = engine.DefaultClass
	}
	var oid engine.OID
	err := o.ctx.call(engine.OpGenerateOID, func(e engine.IEngine) (err error) {
		oid, err = e.ObjGenerateOID(class)
		return err
	})
	if err != nil {
		return err
	}
	if rankHint != nil {
		if oid, err = oid.WithRankHint(*rankHint); err != nil {
			return precondition(engine.OpGenerateOID, "%v", err)
		}
	}
	o.OID = oid
	return nil
}

// Open opens the object at epoch, read-write unless the container handle is read-only.
// Opening an open object is a no-op.
func (o *Object) Open(epoch engine.Epoch) error {
	if o.Handle.IsValid() {
		return nil
	}
	if o.OID.IsZero() {
		return precondition(engine.OpOpenObj, "object has no identifier")
	}
	if !o.cont.Handle.IsValid() {
		return precondition(engine.OpOpenObj, "Container needs to be open.")
	}
	mode := o.cont.objectMode()
	return o.ctx.call(engine.OpOpenObj, func(e engine.IEngine) error {
		oh, err := e.ObjOpen(o.cont.Handle, o.OID, epoch, mode)
		if err != nil {
			return err
		}
		o.Handle, o.Epoch = oh, epoch
		return nil
	})
}

// Close closes the object handle. Closing a closed object is a no-op.
func (o *Object) Close() error {
	if !o.Handle.IsValid() {
		return nil
	}
	return o.ctx.call(engine.OpCloseObj, func(e engine.IEngine) error {
		if err := e.ObjClose(o.Handle); err != nil {
			return err
		}
		o.Handle = engine.InvalidHandle
		return nil
	})
}

// Query refreshes Ranks with the leader rank of every shard.
func (o *Object) Query(epoch engine.Epoch) ([]engine.Rank, error) {
	if err := o.Open(epoch); err != nil {
		return nil, err
	}
	err := o.ctx.call(engine.OpQueryObj, func(e engine.IEngine) error {
		ranks, err := e.ObjQuery(o.Handle, epoch)
		if err != nil {
			return err
		}
		o.Ranks = ranks
		return nil
	})
	return o.Ranks, err
}

// GetLayout computes the placement of the object and replaces Ranks with the
// replica ranks of shard 0.
func (o *Object) GetLayout() error {
	if err := o.Open(0); err != nil {
		return err
	}
	err := o.ctx.call(engine.OpLayoutObj, func(e engine.IEngine) error {
		layout, err := e.ObjLayout(o.cont.Handle, o.OID)
		if err != nil {
			return err
		}
		o.Layout = layout
		o.Ranks = nil
		if len(layout.Shards) > 0 {
			o.Ranks = append([]engine.Rank(nil), layout.Shards[0].Ranks...)
		}
		return nil
	})
	return ioError(engine.OpLayoutObj, err)
}

// Punch removes the whole object at epoch.
func (o *Object) Punch(epoch engine.Epoch, cb Callback) error {
	if err := o.Open(0); err != nil {
		return err
	}
	return o.ctx.dispatch(engine.OpPunchObj, func(e engine.IEngine) error {
		return e.ObjPunch(o.Handle, epoch)
	}, cb, o)
}

// PunchDkeys removes dkeys at epoch. nil removes every dkey, including dkeys
// written later at an epoch below the punch.
func (o *Object) PunchDkeys(epoch engine.Epoch, dkeys [][]byte, cb Callback) error {
	if err := o.Open(0); err != nil {
		return err
	}
	return o.ctx.dispatch(engine.OpPunchDkeys, func(e engine.IEngine) error {
		return e.ObjPunchDkeys(o.Handle, epoch, dkeys)
	}, cb, o)
}

// PunchAkeys removes akeys under dkey at epoch. nil removes every akey.
func (o *Object) PunchAkeys(epoch engine.Epoch, dkey []byte, akeys [][]byte, cb Callback) error {
	if dkey == nil {
		return precondition(engine.OpPunchAkeys, "dkey is required")
	}
	if err := o.Open(0); err != nil {
		return err
	}
	return o.ctx.dispatch(engine.OpPunchAkeys, func(e engine.IEngine) error {
		return e.ObjPunchAkeys(o.Handle, epoch, dkey, akeys)
	}, cb, o)
}
