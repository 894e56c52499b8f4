package dobj

import (
	"github.com/ValentinKolb/dOBJ/lib/engine"
	"github.com/google/uuid"
)

// Pool is a client side pool object. It remembers the pool's uuid, group and
// service ranks once created (or assigned) and the connection handle once connected.
// Fields are updated by the calls that produce them, also for asynchronous calls,
// where the callback receives the *Pool.
type Pool struct {
	ctx *Context

	UUID   uuid.UUID
	Group  string
	Svc    []engine.Rank
	Handle engine.Handle
	Info   engine.PoolInfo

	// Attached is set once the pool was created through this object.
	Attached bool
}

// NewPool returns an empty pool object.
func NewPool(ctx *Context) *Pool {
	return &Pool{ctx: ctx}
}

// Create creates a pool and records its uuid and service ranks.
// An empty targets list lets the engine pick its default targets.
func (p *Pool) Create(mode, uid, gid uint32, scmSize uint64, group string, targets []engine.Rank, svcNr uint32, cb Callback) error {
	if svcNr == 0 {
		svcNr = 1
	}
	req := engine.PoolCreateRequest{
		Mode:    mode,
		UID:     uid,
		GID:     gid,
		Group:   group,
		Targets: targets,
		ScmSize: scmSize,
		SvcNr:   svcNr,
	}
	p.Group = group
	return p.ctx.dispatch(engine.OpCreatePool, func(e engine.IEngine) error {
		id, svc, err := e.PoolCreate(req)
		if err != nil {
			p.UUID = uuid.Nil
			return err
		}
		p.UUID, p.Svc, p.Attached = id, svc, true
		return nil
	}, cb, p)
}

// Destroy destroys the pool. Without force, a pool with open connections is kept.
func (p *Pool) Destroy(force bool, cb Callback) error {
	if p.UUID == uuid.Nil {
		return precondition(engine.OpDestroyPool, "pool uuid is not set")
	}
	return p.ctx.dispatch(engine.OpDestroyPool, func(e engine.IEngine) error {
		if err := e.PoolDestroy(p.UUID, p.Group, force); err != nil {
			return err
		}
		p.Handle, p.Attached = engine.InvalidHandle, false
		return nil
	}, cb, p)
}

// Connect opens a connection with the given engine.PoolConnect* flags.
func (p *Pool) Connect(flags uint64, cb Callback) error {
	if p.UUID == uuid.Nil {
		return precondition(engine.OpConnectPool, "pool uuid is not set")
	}
	return p.ctx.dispatch(engine.OpConnectPool, func(e engine.IEngine) error {
		poh, info, err := e.PoolConnect(p.UUID, p.Group, p.Svc, flags)
		if err != nil {
			p.Handle = engine.InvalidHandle
			return err
		}
		p.Handle, p.Info = poh, info
		return nil
	}, cb, p)
}

// Disconnect closes the connection and every container opened through it.
func (p *Pool) Disconnect(cb Callback) error {
	if !p.Handle.IsValid() {
		return precondition(engine.OpDisconnectPool, "pool is not connected")
	}
	return p.ctx.dispatch(engine.OpDisconnectPool, func(e engine.IEngine) error {
		if err := e.PoolDisconnect(p.Handle); err != nil {
			return err
		}
		p.Handle = engine.InvalidHandle
		return nil
	}, cb, p)
}

// Local2Global serializes the connection handle.
func (p *Pool) Local2Global() (GlobalHandle, error) {
	if !p.Handle.IsValid() {
		return GlobalHandle{}, precondition(engine.OpLocal2GlobalPool, "pool is not connected")
	}
	return p.ctx.local2global(engine.OpLocal2GlobalPool, func(e engine.IEngine, glob *engine.IOV) error {
		return e.PoolLocal2Global(p.Handle, glob)
	})
}

// Global2Local turns a global handle into this object's connection handle.
func (p *Pool) Global2Local(gh GlobalHandle) error {
	err := p.ctx.call(engine.OpGlobal2LocalPool, func(e engine.IEngine) error {
		poh, err := e.PoolGlobal2Local(gh.iov())
		if err != nil {
			return err
		}
		p.Handle = poh
		return nil
	})
	return ioError(engine.OpGlobal2LocalPool, err)
}

// Exclude marks the given targets down.
func (p *Pool) Exclude(ranks []engine.Rank, cb Callback) error {
	if err := p.checkTargets(engine.OpExcludePool, ranks); err != nil {
		return err
	}
	return p.ctx.dispatch(engine.OpExcludePool, func(e engine.IEngine) error {
		return e.PoolExclude(p.UUID, p.Group, p.Svc, ranks)
	}, cb, p)
}

// ExcludeOut marks the given targets out, removing them from placement.
func (p *Pool) ExcludeOut(ranks []engine.Rank, cb Callback) error {
	if err := p.checkTargets(engine.OpExcludeOutPool, ranks); err != nil {
		return err
	}
	return p.ctx.dispatch(engine.OpExcludeOutPool, func(e engine.IEngine) error {
		return e.PoolExcludeOut(p.UUID, p.Group, p.Svc, ranks)
	}, cb, p)
}

// AddTarget brings the given targets (back) into the pool.
func (p *Pool) AddTarget(ranks []engine.Rank, cb Callback) error {
	if err := p.checkTargets(engine.OpAddTargetPool, ranks); err != nil {
		return err
	}
	return p.ctx.dispatch(engine.OpAddTargetPool, func(e engine.IEngine) error {
		return e.PoolAddTarget(p.UUID, p.Group, p.Svc, ranks)
	}, cb, p)
}

// Evict invalidates every connection to the pool, including this object's.
func (p *Pool) Evict(cb Callback) error {
	if p.UUID == uuid.Nil {
		return precondition(engine.OpEvictPool, "pool uuid is not set")
	}
	return p.ctx.dispatch(engine.OpEvictPool, func(e engine.IEngine) error {
		if err := e.PoolEvict(p.UUID, p.Group, p.Svc); err != nil {
			return err
		}
		p.Handle = engine.InvalidHandle
		return nil
	}, cb, p)
}

// StopService stops the pool service.
func (p *Pool) StopService(cb Callback) error {
	if !p.Handle.IsValid() {
		return precondition(engine.OpStopServicePool, "pool is not connected")
	}
	return p.ctx.dispatch(engine.OpStopServicePool, func(e engine.IEngine) error {
		return e.PoolStopService(p.Handle)
	}, cb, p)
}

// Query refreshes Info.
func (p *Pool) Query(cb Callback) error {
	if !p.Handle.IsValid() {
		return precondition(engine.OpQueryPool, "pool is not connected")
	}
	return p.ctx.dispatch(engine.OpQueryPool, func(e engine.IEngine) error {
		info, err := e.PoolQuery(p.Handle)
		if err != nil {
			return err
		}
		p.Info = info
		return nil
	}, cb, p)
}

// SetService replaces the service ranks with a single rank.
func (p *Pool) SetService(rank engine.Rank) {
	p.Svc = []engine.Rank{rank}
}

// Extend is not supported.
func (p *Pool) Extend() error {
	return &UnsupportedError{Op: engine.OpExtendPool}
}

// TargetQuery is not supported.
func (p *Pool) TargetQuery() error {
	return &UnsupportedError{Op: engine.OpQueryTarget}
}

func (p *Pool) checkTargets(op engine.Op, ranks []engine.Rank) error {
	if p.UUID == uuid.Nil {
		return precondition(op, "pool uuid is not set")
	}
	if len(ranks) == 0 {
		return precondition(op, "no target ranks given")
	}
	return nil
}
