package lengine

import (
	"fmt"
	"io"
	"sync"
	"sync/atomic"

	"github.com/ValentinKolb/dOBJ/lib/engine"
	"github.com/ValentinKolb/dOBJ/lib/util"
	"github.com/google/uuid"
	"github.com/lni/dragonboat/v4/logger"
	"github.com/puzpuzpuz/xsync/v3"
)

var log = logger.GetLogger("engine")

// --------------------------------------------------------------------------
// Options
// --------------------------------------------------------------------------

// Options configures a local engine.
type Options struct {
	Group          string      // group name of this engine; empty accepts any group
	Rank           engine.Rank // rank of the server this engine represents
	DefaultTargets int         // number of targets for pools created without an explicit target list
}

// DefaultOptions returns the default options.
func DefaultOptions() *Options {
	return &Options{
		Group:          "",
		Rank:           0,
		DefaultTargets: 4,
	}
}

// supportedOps lists every operation this engine implements.
var supportedOps = engine.NewOpSet(engine.AllOps()...).
	Without(engine.OpExtendPool).
	Without(engine.OpQueryTarget)

// --------------------------------------------------------------------------
// Engine structure
// --------------------------------------------------------------------------

type engineImpl struct {
	opts Options

	// stateMu is held shared by every operation and exclusively by Load,
	// which swaps the whole state.
	stateMu sync.RWMutex

	nextHandle atomic.Uint64
	stopped    atomic.Bool

	pools       *xsync.MapOf[uuid.UUID, *pool]
	poolHandles *xsync.MapOf[engine.Handle, *poolHandle]
	contHandles *xsync.MapOf[engine.Handle, *contHandle]
	objHandles  *xsync.MapOf[engine.Handle, *objHandle]

	sizes *util.SizeHistogram
}

type poolHandle struct {
	pool  *pool
	flags uint64
}

type contHandle struct {
	poh   engine.Handle
	pool  *pool
	cont  *container
	flags uint64
}

type objHandle struct {
	coh   engine.Handle
	cont  *container
	oid   engine.OID
	epoch engine.Epoch
	mode  uint64
}

// Engine is the local engine. Besides engine.IEngine it can snapshot its state.
type Engine interface {
	engine.IEngine
	// Save writes a snapshot of the complete state to w.
	Save(w io.Writer) error
	// Load replaces the complete state with a snapshot read from r.
	Load(r io.Reader) error
}

// NewLocalEngine creates a new local engine. Nil options select the defaults.
func NewLocalEngine(opts *Options) Engine {
	if opts == nil {
		opts = DefaultOptions()
	}
	if opts.DefaultTargets <= 0 {
		opts.DefaultTargets = DefaultOptions().DefaultTargets
	}
	e := &engineImpl{opts: *opts}
	e.reset()
	return e
}

// reset installs empty state tables.
func (e *engineImpl) reset() {
	e.pools = xsync.NewMapOf[uuid.UUID, *pool]()
	e.poolHandles = xsync.NewMapOf[engine.Handle, *poolHandle]()
	e.contHandles = xsync.NewMapOf[engine.Handle, *contHandle]()
	e.objHandles = xsync.NewMapOf[engine.Handle, *objHandle]()
	e.sizes = util.NewSizeHistogram()
	e.nextHandle.Store(0)
	e.stopped.Store(false)
}

// newHandle returns a fresh, never used handle.
//
// Thread-safety: This method is thread-safe since it uses atomic operations.
func (e *engineImpl) newHandle() engine.Handle {
	return engine.Handle(e.nextHandle.Add(1))
}

// enter is called at the start of every operation. The returned function must be deferred.
func (e *engineImpl) enter() (func(), error) {
	e.stateMu.RLock()
	if e.stopped.Load() {
		e.stateMu.RUnlock()
		return nil, engine.NewError(engine.RCUnreach, "server rank %d was killed", e.opts.Rank)
	}
	return e.stateMu.RUnlock, nil
}

// --------------------------------------------------------------------------
// Handle lookup
// --------------------------------------------------------------------------

func (e *engineImpl) lookupPool(poh engine.Handle) (*poolHandle, error) {
	if h, ok := e.poolHandles.Load(poh); ok {
		return h, nil
	}
	return nil, engine.NewError(engine.RCNoHandle, "pool handle %d", poh)
}

func (e *engineImpl) lookupCont(coh engine.Handle) (*contHandle, error) {
	if h, ok := e.contHandles.Load(coh); ok {
		return h, nil
	}
	return nil, engine.NewError(engine.RCNoHandle, "container handle %d", coh)
}

func (e *engineImpl) lookupObj(oh engine.Handle) (*objHandle, error) {
	if h, ok := e.objHandles.Load(oh); ok {
		return h, nil
	}
	return nil, engine.NewError(engine.RCNoHandle, "object handle %d", oh)
}

// closeContHandle removes a container handle and every object handle opened through it.
func (e *engineImpl) closeContHandle(coh engine.Handle) {
	e.contHandles.Delete(coh)
	e.objHandles.Range(func(oh engine.Handle, h *objHandle) bool {
		if h.coh == coh {
			e.objHandles.Delete(oh)
		}
		return true
	})
}

// closePoolHandle removes a pool handle and every container handle opened through it.
func (e *engineImpl) closePoolHandle(poh engine.Handle) {
	e.poolHandles.Delete(poh)
	e.contHandles.Range(func(coh engine.Handle, h *contHandle) bool {
		if h.poh == poh {
			e.closeContHandle(coh)
		}
		return true
	})
}

// --------------------------------------------------------------------------
// Interface Methods (docu see engine/interface.go)
// --------------------------------------------------------------------------

// SupportedOps returns the operations implemented by the local engine.
func SupportedOps() engine.OpSet {
	return supportedOps
}

func (e *engineImpl) SupportsOp(op engine.Op) bool {
	return supportedOps.Has(op)
}

func (e *engineImpl) PoolExtend(uuid.UUID, string, []engine.Rank) error {
	return engine.NewError(engine.RCNoSys, "%s is not supported", engine.OpExtendPool)
}

func (e *engineImpl) PoolQueryTarget(engine.Handle, engine.Rank) (engine.Target, error) {
	return engine.Target{}, engine.NewError(engine.RCNoSys, "%s is not supported", engine.OpQueryTarget)
}

func (e *engineImpl) Log(msg, file, function string, line int, level engine.LogLevel) error {
	done, err := e.enter()
	if err != nil {
		return err
	}
	defer done()

	switch level {
	case engine.LogDebug:
		log.Debugf("%s:%d %s() %s", file, line, function, msg)
	case engine.LogInfo:
		log.Infof("%s:%d %s() %s", file, line, function, msg)
	case engine.LogWarning:
		log.Warningf("%s:%d %s() %s", file, line, function, msg)
	case engine.LogError:
		log.Errorf("%s:%d %s() %s", file, line, function, msg)
	default:
		return engine.NewError(engine.RCInval, "unknown log level %d", level)
	}
	return nil
}

// KillServer takes rank out of service. Killing the rank of this engine stops it,
// every later call fails with RCUnreach. Killing another rank marks its targets
// down in every pool.
func (e *engineImpl) KillServer(group string, rank engine.Rank, force bool) error {
	done, err := e.enter()
	if err != nil {
		return err
	}
	defer done()

	if group != "" && e.opts.Group != "" && group != e.opts.Group {
		return engine.NewError(engine.RCNonexist, "unknown group %q", group)
	}
	if rank == e.opts.Rank {
		log.Warningf("killing server rank %d (force=%v)", rank, force)
		e.stopped.Store(true)
		return nil
	}

	found := false
	e.pools.Range(func(_ uuid.UUID, p *pool) bool {
		if p.setTargetState([]engine.Rank{rank}, engine.TargetDown) == nil {
			found = true
		}
		return true
	})
	if !found {
		return engine.NewError(engine.RCNonexist, "rank %d is not part of any pool", rank)
	}
	log.Infof("rank %d marked down (force=%v)", rank, force)
	return nil
}

func (e *engineImpl) Info() (engine.Info, error) {
	e.stateMu.RLock()
	defer e.stateMu.RUnlock()

	info := engine.Info{
		Type:         "local",
		Handles:      e.poolHandles.Size() + e.contHandles.Size() + e.objHandles.Size(),
		SupportedOps: supportedOps.Ops(),
		Records:      int(e.sizes.Count()),
		Bytes:        uint64(e.sizes.Sum()),
		Metadata: map[string]string{
			"rank":               fmt.Sprint(e.opts.Rank),
			"group":              e.opts.Group,
			"stopped":            fmt.Sprint(e.stopped.Load()),
			"avg_record_size":    fmt.Sprint(e.sizes.AverageSize()),
			"median_record_size": fmt.Sprint(e.sizes.Percentile(50)),
			"p99_record_size":    fmt.Sprint(e.sizes.Percentile(99)),
		},
	}
	var perCont []float64
	e.pools.Range(func(_ uuid.UUID, p *pool) bool {
		info.Pools++
		p.conts.Range(func(_ uuid.UUID, c *container) bool {
			info.Containers++
			info.Objects += c.objects.Size()
			perCont = append(perCont, float64(c.objects.Size()))
			return true
		})
		return true
	})
	if len(perCont) > 0 {
		info.Metadata["object_balance"] = fmt.Sprintf("%.2f", util.Balance(perCont))
	}
	return info, nil
}

func (e *engineImpl) Close() error {
	e.stateMu.Lock()
	defer e.stateMu.Unlock()
	e.poolHandles.Clear()
	e.contHandles.Clear()
	e.objHandles.Clear()
	return nil
}
