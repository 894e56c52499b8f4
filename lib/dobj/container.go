package dobj

import (
	"sort"

	"github.com/ValentinKolb/dOBJ/lib/engine"
	"github.com/google/uuid"
)

// Container is a client side container object.
type Container struct {
	ctx *Context

	UUID       uuid.UUID
	PoolHandle engine.Handle
	Handle     engine.Handle
	Flags      uint64 // flags the handle was opened with, 0 if unknown
	Info       engine.ContInfo

	epochs *EpochManager
}

// NewContainer returns an empty container object.
func NewContainer(ctx *Context) *Container {
	c := &Container{ctx: ctx}
	c.epochs = &EpochManager{cont: c}
	return c
}

// Create creates a container in the pool connected through poh. A nil id creates
// a container with a random uuid. On failure UUID is reset.
func (c *Container) Create(poh engine.Handle, id uuid.UUID, cb Callback) error {
	if !poh.IsValid() {
		return precondition(engine.OpCreateCont, "pool is not connected")
	}
	if id == uuid.Nil {
		id = uuid.New()
	}
	c.UUID, c.PoolHandle = id, poh
	return c.ctx.dispatch(engine.OpCreateCont, func(e engine.IEngine) error {
		if err := e.ContCreate(poh, id); err != nil {
			c.UUID = uuid.Nil
			return err
		}
		return nil
	}, cb, c)
}

// Destroy destroys a container. Zero arguments fall back to the object's pool
// handle and uuid.
func (c *Container) Destroy(poh engine.Handle, id uuid.UUID, force bool, cb Callback) error {
	poh, id = c.pick(poh, id)
	if !poh.IsValid() {
		return precondition(engine.OpDestroyCont, "pool is not connected")
	}
	if id == uuid.Nil {
		return precondition(engine.OpDestroyCont, "container uuid is not set")
	}
	return c.ctx.dispatch(engine.OpDestroyCont, func(e engine.IEngine) error {
		return e.ContDestroy(poh, id, force)
	}, cb, c)
}

// Open opens the container. Zero flags open it read-write.
func (c *Container) Open(poh engine.Handle, id uuid.UUID, flags uint64, cb Callback) error {
	poh, id = c.pick(poh, id)
	if !poh.IsValid() {
		return precondition(engine.OpOpenCont, "pool is not connected")
	}
	if id == uuid.Nil {
		return precondition(engine.OpOpenCont, "container uuid is not set")
	}
	if flags == 0 {
		flags = engine.ContOpenDefault
	}
	c.PoolHandle, c.UUID = poh, id
	return c.ctx.dispatch(engine.OpOpenCont, func(e engine.IEngine) error {
		coh, info, err := e.ContOpen(poh, id, flags)
		if err != nil {
			c.Handle = engine.InvalidHandle
			return err
		}
		c.Handle, c.Info, c.Flags = coh, info, flags
		return nil
	}, cb, c)
}

// Close closes the container handle and every object handle opened through it.
func (c *Container) Close(cb Callback) error {
	if !c.Handle.IsValid() {
		return precondition(engine.OpCloseCont, "container is not open")
	}
	return c.ctx.dispatch(engine.OpCloseCont, func(e engine.IEngine) error {
		if err := e.ContClose(c.Handle); err != nil {
			return err
		}
		c.Handle, c.Flags = engine.InvalidHandle, 0
		return nil
	}, cb, c)
}

// Query refreshes Info.
func (c *Container) Query(cb Callback) error {
	if !c.Handle.IsValid() {
		return precondition(engine.OpQueryCont, "container is not open")
	}
	return c.ctx.dispatch(engine.OpQueryCont, func(e engine.IEngine) error {
		info, err := e.ContQuery(c.Handle)
		if err != nil {
			return err
		}
		c.Info = info
		return nil
	}, cb, c)
}

// Local2Global serializes the container handle.
func (c *Container) Local2Global() (GlobalHandle, error) {
	if !c.Handle.IsValid() {
		return GlobalHandle{}, precondition(engine.OpLocal2GlobalCont, "container is not open")
	}
	return c.ctx.local2global(engine.OpLocal2GlobalCont, func(e engine.IEngine, glob *engine.IOV) error {
		return e.ContLocal2Global(c.Handle, glob)
	})
}

// Global2Local turns a global handle into this object's container handle under poh.
func (c *Container) Global2Local(poh engine.Handle, gh GlobalHandle) error {
	if !poh.IsValid() {
		return precondition(engine.OpGlobal2LocalCont, "pool is not connected")
	}
	err := c.ctx.call(engine.OpGlobal2LocalCont, func(e engine.IEngine) error {
		coh, err := e.ContGlobal2Local(poh, gh.iov())
		if err != nil {
			return err
		}
		c.PoolHandle, c.Handle, c.Flags = poh, coh, 0
		return nil
	})
	return ioError(engine.OpGlobal2LocalCont, err)
}

// ListAttr lists the attribute names in lexical order.
func (c *Container) ListAttr() ([]string, error) {
	if !c.Handle.IsValid() {
		return nil, precondition(engine.OpListAttrCont, "container is not open")
	}
	var names []string
	err := c.ctx.call(engine.OpListAttrCont, func(e engine.IEngine) (err error) {
		names, err = e.ContListAttr(c.Handle)
		return err
	})
	return names, err
}

// SetAttr sets the given attributes.
func (c *Container) SetAttr(attrs map[string][]byte, cb Callback) error {
	if !c.Handle.IsValid() {
		return precondition(engine.OpSetAttrCont, "container is not open")
	}
	if len(attrs) == 0 {
		return precondition(engine.OpSetAttrCont, "no attributes given")
	}
	names := make([]string, 0, len(attrs))
	for n := range attrs {
		names = append(names, n)
	}
	sort.Strings(names)
	values := make([][]byte, len(names))
	for i, n := range names {
		values[i] = attrs[n]
	}
	return c.ctx.dispatch(engine.OpSetAttrCont, func(e engine.IEngine) error {
		return e.ContSetAttr(c.Handle, names, values)
	}, cb, c)
}

// GetAttr returns the values of the named attributes.
func (c *Container) GetAttr(names []string) (map[string][]byte, error) {
	if !c.Handle.IsValid() {
		return nil, precondition(engine.OpGetAttrCont, "container is not open")
	}
	if len(names) == 0 {
		return nil, precondition(engine.OpGetAttrCont, "no attribute names given")
	}
	var values [][]byte
	err := c.ctx.call(engine.OpGetAttrCont, func(e engine.IEngine) (err error) {
		values, err = e.ContGetAttr(c.Handle, names)
		return err
	})
	if err != nil {
		return nil, err
	}
	out := make(map[string][]byte, len(names))
	for i, n := range names {
		if i < len(values) {
			out[n] = values[i]
		}
	}
	return out, nil
}

// Epochs returns the epoch manager of the container.
func (c *Container) Epochs() *EpochManager { return c.epochs }

func (c *Container) pick(poh engine.Handle, id uuid.UUID) (engine.Handle, uuid.UUID) {
	if !poh.IsValid() {
		poh = c.PoolHandle
	}
	if id == uuid.Nil {
		id = c.UUID
	}
	return poh, id
}

// objectMode returns the object open mode matching the container handle.
func (c *Container) objectMode() uint64 {
	if c.Flags&engine.ContOpenRO != 0 {
		return engine.ObjOpenRO
	}
	return engine.ObjOpenRW
}

// --------------------------------------------------------------------------
// Convenience Helpers
// --------------------------------------------------------------------------

// WriteObject holds an epoch, writes value as a single value and commits.
// A nil obj creates a new object of the given class, with rank as placement hint.
func (c *Container) WriteObject(value, dkey, akey []byte, obj *Object, rank *engine.Rank, class engine.ObjClass) (*Object, engine.Epoch, error) {
	return c.writeCommitted(obj, rank, class, func(req *IORequest, epoch engine.Epoch) error {
		return req.SingleInsert(dkey, akey, value, epoch, nil)
	})
}

// WriteArray holds an epoch, writes values as array records [0, len(values)) and commits.
func (c *Container) WriteArray(values [][]byte, dkey, akey []byte, obj *Object, rank *engine.Rank, class engine.ObjClass) (*Object, engine.Epoch, error) {
	return c.writeCommitted(obj, rank, class, func(req *IORequest, epoch engine.Epoch) error {
		return req.InsertArray(dkey, akey, values, epoch, nil)
	})
}

// WriteMultiAkeys holds an epoch, writes one single value per akey under dkey and commits.
func (c *Container) WriteMultiAkeys(dkey []byte, values []AkeyValue, obj *Object, rank *engine.Rank, class engine.ObjClass) (*Object, engine.Epoch, error) {
	return c.writeCommitted(obj, rank, class, func(req *IORequest, epoch engine.Epoch) error {
		return req.MultiAkeyInsert(dkey, values, epoch, nil)
	})
}

func (c *Container) writeCommitted(obj *Object, rank *engine.Rank, class engine.ObjClass, write func(*IORequest, engine.Epoch) error) (*Object, engine.Epoch, error) {
	epoch, err := c.epochs.Hold()
	if err != nil {
		return nil, 0, err
	}
	req, err := NewIORequest(c, obj, rank, class)
	if err != nil {
		return nil, 0, err
	}
	if err := write(req, epoch); err != nil {
		return req.Obj, 0, err
	}
	if err := c.epochs.Commit(epoch); err != nil {
		return req.Obj, 0, err
	}
	return req.Obj, epoch, nil
}

// ReadObject reads a single value of at most size bytes.
func (c *Container) ReadObject(size uint64, dkey, akey []byte, obj *Object, epoch engine.Epoch, hints ...FetchHint) ([]byte, error) {
	req, err := c.readRequest(obj)
	if err != nil {
		return nil, err
	}
	return req.SingleFetch(dkey, akey, size, epoch, hints...)
}

// ReadArray reads count array records of at most size bytes each.
func (c *Container) ReadArray(count, size uint64, dkey, akey []byte, obj *Object, epoch engine.Epoch) ([][]byte, error) {
	req, err := c.readRequest(obj)
	if err != nil {
		return nil, err
	}
	return req.FetchArray(dkey, akey, count, size, epoch)
}

// ReadMultiAkeys reads one single value per akey under dkey.
func (c *Container) ReadMultiAkeys(dkey []byte, keys []AkeySize, obj *Object, epoch engine.Epoch) (map[string][]byte, error) {
	req, err := c.readRequest(obj)
	if err != nil {
		return nil, err
	}
	return req.MultiAkeyFetch(dkey, keys, epoch)
}

func (c *Container) readRequest(obj *Object) (*IORequest, error) {
	if obj == nil {
		return nil, precondition(engine.OpFetchObj, "no object to read from")
	}
	return NewIORequest(c, obj, nil, obj.Class())
}
