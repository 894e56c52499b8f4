package lengine

import (
	"cmp"
	"slices"
	"sync"

	"github.com/ValentinKolb/dOBJ/lib/engine"
	"github.com/google/uuid"
	"github.com/puzpuzpuz/xsync/v3"
)

// --------------------------------------------------------------------------
// Pool structure
// --------------------------------------------------------------------------

type pool struct {
	mu         sync.RWMutex
	uuid       uuid.UUID
	group      string
	mode       uint32
	uid        uint32
	gid        uint32
	scmSize    uint64
	svc        []engine.Rank
	mapVersion uint32
	targets    []engine.Target // sorted by rank
	svcStopped bool

	conts *xsync.MapOf[uuid.UUID, *container]
}

func newPool(id uuid.UUID) *pool {
	return &pool{uuid: id, mapVersion: 1, conts: xsync.NewMapOf[uuid.UUID, *container]()}
}

// info builds the pool info under the read lock.
func (p *pool) info() engine.PoolInfo {
	p.mu.RLock()
	defer p.mu.RUnlock()

	info := engine.PoolInfo{
		UUID:       p.uuid,
		Group:      p.group,
		Mode:       p.mode,
		UID:        p.uid,
		GID:        p.gid,
		ScmSize:    p.scmSize,
		MapVersion: p.mapVersion,
		Targets:    slices.Clone(p.targets),
		Svc:        slices.Clone(p.svc),
		Conts:      uint32(p.conts.Size()),
	}
	for _, t := range p.targets {
		if t.State != engine.TargetUp {
			info.Disabled++
		}
	}
	return info
}

// liveRanks returns the ranks of all targets in state up, ascending.
func (p *pool) liveRanks() []engine.Rank {
	p.mu.RLock()
	defer p.mu.RUnlock()
	ranks := make([]engine.Rank, 0, len(p.targets))
	for _, t := range p.targets {
		if t.State == engine.TargetUp {
			ranks = append(ranks, t.Rank)
		}
	}
	return ranks
}

// setTargetState changes the state of existing targets. Unknown ranks fail the whole call.
func (p *pool) setTargetState(ranks []engine.Rank, state engine.TargetState) error {
	if len(ranks) == 0 {
		return engine.NewError(engine.RCInval, "empty rank list")
	}
	p.mu.Lock()
	defer p.mu.Unlock()

	idx := make([]int, len(ranks))
	for i, r := range ranks {
		j := slices.IndexFunc(p.targets, func(t engine.Target) bool { return t.Rank == r })
		if j < 0 {
			return engine.NewError(engine.RCNonexist, "rank %d is not a target of pool %s", r, p.uuid)
		}
		idx[i] = j
	}
	for _, j := range idx {
		p.targets[j].State = state
	}
	p.mapVersion++
	return nil
}

// addTargets brings ranks up, appending unknown ones to the target map.
func (p *pool) addTargets(ranks []engine.Rank) error {
	if len(ranks) == 0 {
		return engine.NewError(engine.RCInval, "empty rank list")
	}
	p.mu.Lock()
	defer p.mu.Unlock()

	for _, r := range ranks {
		j := slices.IndexFunc(p.targets, func(t engine.Target) bool { return t.Rank == r })
		if j < 0 {
			p.targets = append(p.targets, engine.Target{Rank: r, State: engine.TargetUp})
		} else {
			p.targets[j].State = engine.TargetUp
		}
	}
	slices.SortFunc(p.targets, func(a, b engine.Target) int { return cmp.Compare(a.Rank, b.Rank) })
	p.mapVersion++
	return nil
}

// findPool resolves a pool by uuid and optional group.
func (e *engineImpl) findPool(id uuid.UUID, group string) (*pool, error) {
	p, ok := e.pools.Load(id)
	if !ok || (group != "" && p.group != "" && group != p.group) {
		return nil, engine.NewError(engine.RCNonexist, "pool %s", id)
	}
	return p, nil
}

// checkSvc verifies that a caller supplied service rank list addresses the pool service.
func checkSvc(p *pool, svc []engine.Rank) error {
	if len(svc) == 0 {
		return nil
	}
	p.mu.RLock()
	defer p.mu.RUnlock()
	for _, r := range svc {
		if slices.Contains(p.svc, r) {
			return nil
		}
	}
	return engine.NewError(engine.RCInval, "none of the ranks %v serve pool %s", svc, p.uuid)
}

// connections counts the pool handles open on p.
func (e *engineImpl) connections(p *pool) (n int, exclusive bool) {
	e.poolHandles.Range(func(_ engine.Handle, h *poolHandle) bool {
		if h.pool == p {
			n++
			exclusive = exclusive || h.flags&engine.PoolConnectEX != 0
		}
		return true
	})
	return n, exclusive
}

// --------------------------------------------------------------------------
// Interface Methods (docu see engine/interface.go)
// --------------------------------------------------------------------------

func (e *engineImpl) PoolCreate(req engine.PoolCreateRequest) (uuid.UUID, []engine.Rank, error) {
	done, err := e.enter()
	if err != nil {
		return uuid.Nil, nil, err
	}
	defer done()

	if req.Group != "" && e.opts.Group != "" && req.Group != e.opts.Group {
		return uuid.Nil, nil, engine.NewError(engine.RCNonexist, "unknown group %q", req.Group)
	}

	id := req.UUID
	if id == uuid.Nil {
		id = uuid.New()
	}

	ranks := slices.Clone(req.Targets)
	if len(ranks) == 0 {
		for i := 0; i < e.opts.DefaultTargets; i++ {
			ranks = append(ranks, engine.Rank(i))
		}
	}
	slices.Sort(ranks)
	ranks = slices.Compact(ranks)

	svcNr := int(req.SvcNr)
	if svcNr == 0 {
		svcNr = 1
	}
	if svcNr > len(ranks) {
		return uuid.Nil, nil, engine.NewError(engine.RCInval, "%d service ranks requested, pool has %d targets", svcNr, len(ranks))
	}

	p := newPool(id)
	p.group = req.Group
	p.mode = req.Mode
	p.uid = req.UID
	p.gid = req.GID
	p.scmSize = req.ScmSize
	p.svc = slices.Clone(ranks[:svcNr])
	for _, r := range ranks {
		p.targets = append(p.targets, engine.Target{Rank: r, State: engine.TargetUp})
	}

	if _, loaded := e.pools.LoadOrStore(id, p); loaded {
		return uuid.Nil, nil, engine.NewError(engine.RCExist, "pool %s", id)
	}
	log.Infof("created pool %s with %d targets", id, len(ranks))
	return id, slices.Clone(p.svc), nil
}

func (e *engineImpl) PoolDestroy(id uuid.UUID, group string, force bool) error {
	done, err := e.enter()
	if err != nil {
		return err
	}
	defer done()

	p, err := e.findPool(id, group)
	if err != nil {
		return err
	}
	if n, _ := e.connections(p); n > 0 && !force {
		return engine.NewError(engine.RCBusy, "pool %s has %d open connections", id, n)
	}
	e.evict(p)
	e.pools.Delete(id)
	p.conts.Range(func(_ uuid.UUID, c *container) bool {
		e.dropContainer(c)
		return true
	})
	log.Infof("destroyed pool %s", id)
	return nil
}

func (e *engineImpl) PoolConnect(id uuid.UUID, group string, svc []engine.Rank, flags uint64) (engine.Handle, engine.PoolInfo, error) {
	done, err := e.enter()
	if err != nil {
		return engine.InvalidHandle, engine.PoolInfo{}, err
	}
	defer done()

	mode := flags & (engine.PoolConnectRO | engine.PoolConnectRW | engine.PoolConnectEX)
	if mode == 0 || mode&(mode-1) != 0 {
		return engine.InvalidHandle, engine.PoolInfo{}, engine.NewError(engine.RCInval, "invalid connect flags %#x", flags)
	}

	p, err := e.findPool(id, group)
	if err != nil {
		return engine.InvalidHandle, engine.PoolInfo{}, err
	}
	if err := checkSvc(p, svc); err != nil {
		return engine.InvalidHandle, engine.PoolInfo{}, err
	}
	p.mu.RLock()
	stopped := p.svcStopped
	p.mu.RUnlock()
	if stopped {
		return engine.InvalidHandle, engine.PoolInfo{}, engine.NewError(engine.RCUnreach, "pool service of %s is stopped", id)
	}
	n, exclusive := e.connections(p)
	if exclusive || (mode == engine.PoolConnectEX && n > 0) {
		return engine.InvalidHandle, engine.PoolInfo{}, engine.NewError(engine.RCBusy, "pool %s is connected exclusively", id)
	}

	poh := e.newHandle()
	e.poolHandles.Store(poh, &poolHandle{pool: p, flags: mode})
	return poh, p.info(), nil
}

func (e *engineImpl) PoolDisconnect(poh engine.Handle) error {
	done, err := e.enter()
	if err != nil {
		return err
	}
	defer done()

	if _, err := e.lookupPool(poh); err != nil {
		return err
	}
	e.closePoolHandle(poh)
	return nil
}

func (e *engineImpl) PoolQuery(poh engine.Handle) (engine.PoolInfo, error) {
	done, err := e.enter()
	if err != nil {
		return engine.PoolInfo{}, err
	}
	defer done()

	h, err := e.lookupPool(poh)
	if err != nil {
		return engine.PoolInfo{}, err
	}
	return h.pool.info(), nil
}

func (e *engineImpl) PoolExclude(id uuid.UUID, group string, svc []engine.Rank, ranks []engine.Rank) error {
	return e.changeTargets(id, group, svc, func(p *pool) error { return p.setTargetState(ranks, engine.TargetDown) })
}

func (e *engineImpl) PoolExcludeOut(id uuid.UUID, group string, svc []engine.Rank, ranks []engine.Rank) error {
	return e.changeTargets(id, group, svc, func(p *pool) error { return p.setTargetState(ranks, engine.TargetOut) })
}

func (e *engineImpl) PoolAddTarget(id uuid.UUID, group string, svc []engine.Rank, ranks []engine.Rank) error {
	return e.changeTargets(id, group, svc, func(p *pool) error { return p.addTargets(ranks) })
}

func (e *engineImpl) changeTargets(id uuid.UUID, group string, svc []engine.Rank, fn func(p *pool) error) error {
	done, err := e.enter()
	if err != nil {
		return err
	}
	defer done()

	p, err := e.findPool(id, group)
	if err != nil {
		return err
	}
	if err := checkSvc(p, svc); err != nil {
		return err
	}
	return fn(p)
}

func (e *engineImpl) PoolEvict(id uuid.UUID, group string, svc []engine.Rank) error {
	done, err := e.enter()
	if err != nil {
		return err
	}
	defer done()

	p, err := e.findPool(id, group)
	if err != nil {
		return err
	}
	if err := checkSvc(p, svc); err != nil {
		return err
	}
	e.evict(p)
	return nil
}

// evict closes every handle opened on p.
func (e *engineImpl) evict(p *pool) {
	e.poolHandles.Range(func(poh engine.Handle, h *poolHandle) bool {
		if h.pool == p {
			e.closePoolHandle(poh)
		}
		return true
	})
}

func (e *engineImpl) PoolStopService(poh engine.Handle) error {
	done, err := e.enter()
	if err != nil {
		return err
	}
	defer done()

	h, err := e.lookupPool(poh)
	if err != nil {
		return err
	}
	h.pool.mu.Lock()
	h.pool.svcStopped = true
	h.pool.mu.Unlock()
	log.Infof("stopped pool service of %s", h.pool.uuid)
	return nil
}

func (e *engineImpl) PoolLocal2Global(poh engine.Handle, glob *engine.IOV) error {
	done, err := e.enter()
	if err != nil {
		return err
	}
	defer done()

	h, err := e.lookupPool(poh)
	if err != nil {
		return err
	}
	blob, err := engine.EncodeGlobal(engine.GlobalPayload{
		Kind:   engine.HandleKindPool,
		Pool:   h.pool.uuid,
		Handle: poh,
		Flags:  h.flags,
		Group:  h.pool.group,
	})
	if err != nil {
		return err
	}
	return engine.FillGlobal(glob, blob)
}

func (e *engineImpl) PoolGlobal2Local(glob engine.IOV) (engine.Handle, error) {
	done, err := e.enter()
	if err != nil {
		return engine.InvalidHandle, err
	}
	defer done()

	payload, err := engine.DecodeGlobal(glob.Bytes())
	if err != nil {
		return engine.InvalidHandle, err
	}
	if payload.Kind != engine.HandleKindPool {
		return engine.InvalidHandle, engine.NewError(engine.RCInval, "not a pool handle")
	}
	p, err := e.findPool(payload.Pool, payload.Group)
	if err != nil {
		return engine.InvalidHandle, err
	}
	poh := e.newHandle()
	e.poolHandles.Store(poh, &poolHandle{pool: p, flags: payload.Flags})
	return poh, nil
}
