package dobj

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/ValentinKolb/dOBJ/lib/engine"
	"github.com/ValentinKolb/dOBJ/lib/util"
	"github.com/lni/dragonboat/v4/logger"
)

// Callback is invoked once an asynchronous call completed. rc is the result code
// (0 on success), ctx is the handle object the call was made on (*Pool, *Container,
// *Object, ...), so the callback can read the fields the call updated.
type Callback func(rc int, ctx any)

// --------------------------------------------------------------------------
// Future
// --------------------------------------------------------------------------

// Future is a Callback that can be waited on.
//
//	cb, fut := dobj.NewFuture()
//	_ = pool.Connect(engine.PoolConnectRW, cb)
//	if rc := fut.Wait(); rc != 0 { ... }
type Future struct {
	done chan struct{}
	once sync.Once
	rc   int
	ctx  any
}

// NewFuture returns a callback and the future it completes.
func NewFuture() (Callback, *Future) {
	f := &Future{done: make(chan struct{})}
	return f.complete, f
}

func (f *Future) complete(rc int, ctx any) {
	f.once.Do(func() {
		f.rc = rc
		f.ctx = ctx
		close(f.done)
	})
}

// Done is closed when the call completed.
func (f *Future) Done() <-chan struct{} { return f.done }

// Wait blocks until the call completed and returns its result code.
func (f *Future) Wait() int {
	<-f.done
	return f.rc
}

// Result blocks until the call completed and returns its result code and handle object.
func (f *Future) Result() (int, any) {
	<-f.done
	return f.rc, f.ctx
}

// --------------------------------------------------------------------------
// Events
// --------------------------------------------------------------------------

const (
	eventInit int32 = iota
	eventLaunched
	eventCompleted
)

// Event tracks one asynchronous call. An event is initialised on an event queue,
// launched when the call is queued and completed with the call's result code, at
// which point it can be polled from its queue.
type Event struct {
	eq    *EventQueue
	op    engine.Op
	state atomic.Int32
	rc    atomic.Int32
}

// Init binds the event to eq and resets it.
func (ev *Event) Init(eq *EventQueue) error {
	if eq == nil || eq.destroyed.Load() {
		return precondition(engine.OpInitEvent, "event queue is not usable")
	}
	if ev.state.Load() == eventLaunched {
		return &EngineError{Op: engine.OpInitEvent, RC: engine.RCBusy}
	}
	ev.eq = eq
	ev.op = engine.OpInvalid
	ev.rc.Store(0)
	ev.state.Store(eventInit)
	return nil
}

// Test reports whether the event completed and, if so, its result code.
func (ev *Event) Test() (done bool, rc int) {
	if ev.state.Load() != eventCompleted {
		return false, 0
	}
	return true, int(ev.rc.Load())
}

// Op returns the operation the event was launched for.
func (ev *Event) Op() engine.Op { return ev.op }

// RC returns the result code of a completed event.
func (ev *Event) RC() int { return int(ev.rc.Load()) }

// EventQueue collects completed events until they are polled.
type EventQueue struct {
	id        uint64
	mu        sync.Mutex
	completed []*Event
	inflight  int
	notify    chan struct{}
	destroyed atomic.Bool
}

func newEventQueue(id uint64) *EventQueue {
	return &EventQueue{id: id, notify: make(chan struct{}, 1)}
}

// ID returns the identifier of the queue within its context.
func (eq *EventQueue) ID() uint64 { return eq.id }

func (eq *EventQueue) launch(ev *Event, op engine.Op) {
	ev.op = op
	ev.state.Store(eventLaunched)
	eq.mu.Lock()
	eq.inflight++
	eq.mu.Unlock()
}

func (eq *EventQueue) complete(ev *Event, rc int) {
	ev.rc.Store(int32(rc))
	ev.state.Store(eventCompleted)
	eq.mu.Lock()
	eq.inflight--
	eq.completed = append(eq.completed, ev)
	eq.mu.Unlock()
	select {
	case eq.notify <- struct{}{}:
	default:
	}
}

// Pending returns the number of launched and not yet polled events.
func (eq *EventQueue) Pending() int {
	eq.mu.Lock()
	defer eq.mu.Unlock()
	return eq.inflight + len(eq.completed)
}

// Poll returns up to maxEvents completed events. A negative timeout waits until at
// least one event completed, zero never waits.
func (eq *EventQueue) Poll(maxEvents int, timeout time.Duration) ([]*Event, error) {
	if eq.destroyed.Load() {
		return nil, precondition(engine.OpPollEQ, "event queue %d is destroyed", eq.id)
	}
	if maxEvents <= 0 {
		return nil, precondition(engine.OpPollEQ, "maxEvents must be positive")
	}

	var deadline <-chan time.Time
	if timeout > 0 {
		timer := time.NewTimer(timeout)
		defer timer.Stop()
		deadline = timer.C
	}

	for {
		eq.mu.Lock()
		if n := len(eq.completed); n > 0 {
			n = min(n, maxEvents)
			out := make([]*Event, n)
			copy(out, eq.completed)
			eq.completed = eq.completed[n:]
			eq.mu.Unlock()
			return out, nil
		}
		eq.mu.Unlock()

		if timeout == 0 {
			return nil, nil
		}
		select {
		case <-eq.notify:
		case <-deadline:
			return nil, nil
		}
	}
}

// --------------------------------------------------------------------------
// Dispatcher
// --------------------------------------------------------------------------

type task struct {
	op  engine.Op
	fn  func(e engine.IEngine) error
	cb  Callback
	arg any
	ev  *Event
}

// dispatcher runs asynchronous calls. Submissions go to a lock-free queue so
// callers never block; a single loop hands them to at most `workers` goroutines.
type dispatcher struct {
	bind    *bindings
	queue   *util.Queue[task]
	slots   chan struct{}
	pending sync.WaitGroup
	stopped chan struct{}
	log     logger.ILogger
}

func newDispatcher(b *bindings, workers int, log logger.ILogger) *dispatcher {
	d := &dispatcher{
		bind:    b,
		queue:   util.NewQueue[task](),
		slots:   make(chan struct{}, workers),
		stopped: make(chan struct{}),
		log:     log,
	}
	go d.loop()
	return d
}

func (d *dispatcher) submit(t *task) bool {
	d.pending.Add(1)
	if !d.queue.Push(t) {
		d.pending.Done()
		return false
	}
	return true
}

func (d *dispatcher) loop() {
	defer close(d.stopped)
	for t := range d.queue.Recv() {
		d.slots <- struct{}{}
		go func(t *task) {
			defer func() {
				<-d.slots
				d.pending.Done()
			}()
			d.run(t)
		}(t)
	}
}

func (d *dispatcher) run(t *task) {
	rc := RC(d.bind.invoke(t.op, t.fn))
	if rc != 0 {
		d.log.Debugf("async %s completed with rc %d", t.op, rc)
	}
	if t.ev != nil {
		t.ev.eq.complete(t.ev, rc)
	}
	if t.cb != nil {
		defer func() {
			if r := recover(); r != nil {
				d.log.Errorf("callback for %s panicked: %v", t.op, r)
			}
		}()
		t.cb(rc, t.arg)
	}
}

// close stops accepting work and waits until every queued call completed.
func (d *dispatcher) close() {
	d.queue.Close()
	<-d.stopped
	d.pending.Wait()
}
