package dobj

import (
	"runtime"
	"sync"
	"sync/atomic"

	"github.com/ValentinKolb/dOBJ/lib/engine"
	"github.com/lni/dragonboat/v4/logger"
	"github.com/puzpuzpuz/xsync/v3"
)

// --------------------------------------------------------------------------
// Options
// --------------------------------------------------------------------------

// Option configures a Context.
type Option func(*Context)

// WithWorkers bounds the number of asynchronous calls executed concurrently.
// Values below one are ignored.
func WithWorkers(n int) Option {
	return func(c *Context) {
		if n > 0 {
			c.workers = n
		}
	}
}

// WithOwnedEngine makes Close also close the engine.
func WithOwnedEngine() Option {
	return func(c *Context) { c.owned = true }
}

// WithLogger replaces the default "dobj" logger.
func WithLogger(l logger.ILogger) Option {
	return func(c *Context) {
		if l != nil {
			c.log = l
		}
	}
}

// --------------------------------------------------------------------------
// Context
// --------------------------------------------------------------------------

// Context is the entry point of the client. It owns the resolved engine bindings,
// the asynchronous dispatcher and the event queues. All handle objects (Pool,
// Container, Object, ...) are created from a Context.
type Context struct {
	bind    *bindings
	disp    *dispatcher
	log     logger.ILogger
	workers int
	owned   bool

	eq     *EventQueue
	eqs    *xsync.MapOf[uint64, *EventQueue]
	nextEQ atomic.Uint64

	closed    atomic.Bool
	closeOnce sync.Once
	closeErr  error
}

// NewContext resolves the engine bindings and starts the dispatcher.
func NewContext(e engine.IEngine, opts ...Option) (*Context, error) {
	if e == nil {
		return nil, precondition(engine.OpInit, "engine is nil")
	}
	c := &Context{
		log:     logger.GetLogger("dobj"),
		workers: runtime.NumCPU(),
		eqs:     xsync.NewMapOf[uint64, *EventQueue](),
	}
	for _, opt := range opts {
		opt(c)
	}

	c.bind = resolveBindings(e)
	if unbound := c.bind.unbound(); len(unbound) > 0 {
		c.log.Debugf("operations without engine binding: %v", unbound)
	}
	c.disp = newDispatcher(c.bind, c.workers, c.log)

	eq, err := c.CreateEQ()
	if err != nil {
		c.disp.close()
		return nil, err
	}
	c.eq = eq
	return c, nil
}

// Engine returns the engine the context was created for.
func (c *Context) Engine() engine.IEngine { return c.bind.engine }

// Bound reports whether op resolved to an engine binding.
func (c *Context) Bound(op engine.Op) bool { return c.bind.has(op) }

// EventQueue returns the default event queue every asynchronous call is tracked on.
func (c *Context) EventQueue() *EventQueue { return c.eq }

// Close waits for outstanding asynchronous calls, destroys the event queues and,
// with WithOwnedEngine, closes the engine. Later calls return the first result.
func (c *Context) Close() error {
	c.closeOnce.Do(func() {
		c.closed.Store(true)
		c.disp.close()
		c.eqs.Range(func(id uint64, eq *EventQueue) bool {
			eq.destroyed.Store(true)
			c.eqs.Delete(id)
			return true
		})
		if c.owned {
			c.closeErr = engineError(engine.OpFini, c.bind.engine.Close())
		}
	})
	return c.closeErr
}

// CreateEQ creates an additional event queue.
func (c *Context) CreateEQ() (*EventQueue, error) {
	if c.closed.Load() {
		return nil, precondition(engine.OpCreateEQ, "context is closed")
	}
	eq := newEventQueue(c.nextEQ.Add(1))
	c.eqs.Store(eq.id, eq)
	return eq, nil
}

// DestroyEQ destroys an event queue. Queues with launched or unpolled events are
// only destroyed with force.
func (c *Context) DestroyEQ(eq *EventQueue, force bool) error {
	if eq == nil {
		return precondition(engine.OpDestroyEQ, "event queue is nil")
	}
	if _, ok := c.eqs.Load(eq.id); !ok || eq.destroyed.Load() {
		return &EngineError{Op: engine.OpDestroyEQ, RC: engine.RCNonexist}
	}
	if !force && eq.Pending() > 0 {
		return &EngineError{Op: engine.OpDestroyEQ, RC: engine.RCEQBusy}
	}
	eq.destroyed.Store(true)
	c.eqs.Delete(eq.id)
	if eq == c.eq {
		c.log.Warningf("default event queue %d destroyed", eq.id)
	}
	return nil
}

// --------------------------------------------------------------------------
// Call Helpers
// --------------------------------------------------------------------------

// call runs op synchronously.
func (c *Context) call(op engine.Op, fn func(e engine.IEngine) error) error {
	if c.closed.Load() {
		return precondition(op, "context is closed")
	}
	return c.bind.invoke(op, fn)
}

// dispatch runs op synchronously when cb is nil. Otherwise the call is queued,
// tracked by an event on the default queue and cb receives (rc, arg).
// An unbound op is rejected right away, without running cb.
func (c *Context) dispatch(op engine.Op, fn func(e engine.IEngine) error, cb Callback, arg any) error {
	if cb == nil {
		return c.call(op, fn)
	}
	if c.closed.Load() {
		return precondition(op, "context is closed")
	}
	if !c.bind.has(op) {
		return &UnsupportedError{Op: op}
	}

	t := &task{op: op, fn: fn, cb: cb, arg: arg}
	if eq := c.eq; eq != nil && !eq.destroyed.Load() {
		t.ev = &Event{}
		if err := t.ev.Init(eq); err == nil {
			eq.launch(t.ev, op)
		} else {
			t.ev = nil
		}
	}
	if !c.disp.submit(t) {
		if t.ev != nil {
			t.ev.eq.complete(t.ev, int(engine.RCCanceled))
		}
		return precondition(op, "context is closed")
	}
	return nil
}
