package lengine

import (
	"maps"
	"slices"
	"sync"

	"github.com/ValentinKolb/dOBJ/lib/engine"
	"github.com/ValentinKolb/dOBJ/lib/util"
	"github.com/google/uuid"
	"github.com/puzpuzpuz/xsync/v3"
)

// --------------------------------------------------------------------------
// Container structure
// --------------------------------------------------------------------------

type container struct {
	// mu guards the epoch state and the attributes
	mu       sync.Mutex
	uuid     uuid.UUID
	hce      engine.Epoch
	lre      engine.Epoch
	ghce     engine.Epoch
	lastHeld engine.Epoch
	held     *util.EpochHeap
	attrs    map[string][]byte

	objects *xsync.MapOf[engine.OID, *object]
}

func newContainer(id uuid.UUID) *container {
	return &container{
		uuid:    id,
		held:    util.NewEpochHeap(),
		attrs:   make(map[string][]byte),
		objects: xsync.NewMapOf[engine.OID, *object](),
	}
}

// epochState returns the current epoch state. Caller holds c.mu.
func (c *container) epochState() engine.EpochState {
	lhe := engine.EpochMax
	if _, p, ok := c.held.Min(); ok {
		lhe = engine.Epoch(p)
	}
	return engine.EpochState{HCE: c.hce, LRE: c.lre, LHE: lhe, GHCE: c.ghce}
}

func (c *container) info() engine.ContInfo {
	c.mu.Lock()
	state := c.epochState()
	c.mu.Unlock()
	return engine.ContInfo{UUID: c.uuid, Epoch: state, Objects: uint64(c.objects.Size())}
}

// checkWrite verifies that epoch can still be written. Caller holds c.mu.
func (c *container) checkWrite(epoch engine.Epoch) error {
	if epoch == 0 {
		return engine.NewError(engine.RCInval, "epoch 0 is not writable")
	}
	if epoch <= c.hce {
		return engine.NewError(engine.RCEpochRO, "epoch %d is committed (hce %d)", epoch, c.hce)
	}
	return nil
}

// checkRead verifies that epoch was not reclaimed. Caller holds c.mu.
func (c *container) checkRead(epoch engine.Epoch) error {
	if epoch < c.lre {
		return engine.NewError(engine.RCEpochOld, "epoch %d is below lre %d", epoch, c.lre)
	}
	return nil
}

// dropContainer forgets the record statistics of a removed container.
func (e *engineImpl) dropContainer(c *container) {
	c.objects.Range(func(_ engine.OID, o *object) bool {
		o.mu.Lock()
		o.forEachRecord(func(v []byte) { e.sizes.RemoveSample(len(v)) })
		o.mu.Unlock()
		return true
	})
}

// writableCont resolves a container handle that must have been opened read-write.
func (e *engineImpl) writableCont(coh engine.Handle) (*contHandle, error) {
	h, err := e.lookupCont(coh)
	if err != nil {
		return nil, err
	}
	if h.flags&engine.ContOpenRW == 0 {
		return nil, engine.NewError(engine.RCNoPerm, "container handle %d is read-only", coh)
	}
	return h, nil
}

// --------------------------------------------------------------------------
// Interface Methods (docu see engine/interface.go)
// --------------------------------------------------------------------------

func (e *engineImpl) ContCreate(poh engine.Handle, id uuid.UUID) error {
	done, err := e.enter()
	if err != nil {
		return err
	}
	defer done()

	h, err := e.lookupPool(poh)
	if err != nil {
		return err
	}
	if h.flags&engine.PoolConnectRO != 0 {
		return engine.NewError(engine.RCNoPerm, "pool handle %d is read-only", poh)
	}
	if id == uuid.Nil {
		return engine.NewError(engine.RCInval, "nil container uuid")
	}
	if _, loaded := h.pool.conts.LoadOrStore(id, newContainer(id)); loaded {
		return engine.NewError(engine.RCExist, "container %s", id)
	}
	return nil
}

func (e *engineImpl) ContDestroy(poh engine.Handle, id uuid.UUID, force bool) error {
	done, err := e.enter()
	if err != nil {
		return err
	}
	defer done()

	h, err := e.lookupPool(poh)
	if err != nil {
		return err
	}
	if h.flags&engine.PoolConnectRO != 0 {
		return engine.NewError(engine.RCNoPerm, "pool handle %d is read-only", poh)
	}
	c, ok := h.pool.conts.Load(id)
	if !ok {
		return engine.NewError(engine.RCNonexist, "container %s", id)
	}

	var open []engine.Handle
	e.contHandles.Range(func(coh engine.Handle, ch *contHandle) bool {
		if ch.cont == c {
			open = append(open, coh)
		}
		return true
	})
	if len(open) > 0 && !force {
		return engine.NewError(engine.RCBusy, "container %s has %d open handles", id, len(open))
	}
	for _, coh := range open {
		e.closeContHandle(coh)
	}
	h.pool.conts.Delete(id)
	e.dropContainer(c)
	return nil
}

func (e *engineImpl) ContOpen(poh engine.Handle, id uuid.UUID, flags uint64) (engine.Handle, engine.ContInfo, error) {
	done, err := e.enter()
	if err != nil {
		return engine.InvalidHandle, engine.ContInfo{}, err
	}
	defer done()

	h, err := e.lookupPool(poh)
	if err != nil {
		return engine.InvalidHandle, engine.ContInfo{}, err
	}
	if flags != engine.ContOpenRO && flags != engine.ContOpenRW {
		return engine.InvalidHandle, engine.ContInfo{}, engine.NewError(engine.RCInval, "invalid open flags %#x", flags)
	}
	if flags == engine.ContOpenRW && h.flags&engine.PoolConnectRO != 0 {
		return engine.InvalidHandle, engine.ContInfo{}, engine.NewError(engine.RCNoPerm, "pool handle %d is read-only", poh)
	}
	c, ok := h.pool.conts.Load(id)
	if !ok {
		return engine.InvalidHandle, engine.ContInfo{}, engine.NewError(engine.RCNonexist, "container %s", id)
	}

	coh := e.newHandle()
	e.contHandles.Store(coh, &contHandle{poh: poh, pool: h.pool, cont: c, flags: flags})
	return coh, c.info(), nil
}

func (e *engineImpl) ContClose(coh engine.Handle) error {
	done, err := e.enter()
	if err != nil {
		return err
	}
	defer done()

	if _, err := e.lookupCont(coh); err != nil {
		return err
	}
	e.closeContHandle(coh)
	return nil
}

func (e *engineImpl) ContQuery(coh engine.Handle) (engine.ContInfo, error) {
	done, err := e.enter()
	if err != nil {
		return engine.ContInfo{}, err
	}
	defer done()

	h, err := e.lookupCont(coh)
	if err != nil {
		return engine.ContInfo{}, err
	}
	return h.cont.info(), nil
}

func (e *engineImpl) ContLocal2Global(coh engine.Handle, glob *engine.IOV) error {
	done, err := e.enter()
	if err != nil {
		return err
	}
	defer done()

	h, err := e.lookupCont(coh)
	if err != nil {
		return err
	}
	blob, err := engine.EncodeGlobal(engine.GlobalPayload{
		Kind:   engine.HandleKindCont,
		Pool:   h.pool.uuid,
		Cont:   h.cont.uuid,
		Handle: coh,
		Flags:  h.flags,
		Group:  h.pool.group,
	})
	if err != nil {
		return err
	}
	return engine.FillGlobal(glob, blob)
}

func (e *engineImpl) ContGlobal2Local(poh engine.Handle, glob engine.IOV) (engine.Handle, error) {
	done, err := e.enter()
	if err != nil {
		return engine.InvalidHandle, err
	}
	defer done()

	ph, err := e.lookupPool(poh)
	if err != nil {
		return engine.InvalidHandle, err
	}
	payload, err := engine.DecodeGlobal(glob.Bytes())
	if err != nil {
		return engine.InvalidHandle, err
	}
	if payload.Kind != engine.HandleKindCont {
		return engine.InvalidHandle, engine.NewError(engine.RCInval, "not a container handle")
	}
	if payload.Pool != ph.pool.uuid {
		return engine.InvalidHandle, engine.NewError(engine.RCInval, "container handle belongs to pool %s", payload.Pool)
	}
	c, ok := ph.pool.conts.Load(payload.Cont)
	if !ok {
		return engine.InvalidHandle, engine.NewError(engine.RCNonexist, "container %s", payload.Cont)
	}
	coh := e.newHandle()
	e.contHandles.Store(coh, &contHandle{poh: poh, pool: ph.pool, cont: c, flags: payload.Flags})
	return coh, nil
}

func (e *engineImpl) ContListAttr(coh engine.Handle) ([]string, error) {
	done, err := e.enter()
	if err != nil {
		return nil, err
	}
	defer done()

	h, err := e.lookupCont(coh)
	if err != nil {
		return nil, err
	}
	h.cont.mu.Lock()
	defer h.cont.mu.Unlock()
	return slices.Sorted(maps.Keys(h.cont.attrs)), nil
}

func (e *engineImpl) ContGetAttr(coh engine.Handle, names []string) ([][]byte, error) {
	done, err := e.enter()
	if err != nil {
		return nil, err
	}
	defer done()

	h, err := e.lookupCont(coh)
	if err != nil {
		return nil, err
	}
	if len(names) == 0 {
		return nil, engine.NewError(engine.RCInval, "no attribute names")
	}
	h.cont.mu.Lock()
	defer h.cont.mu.Unlock()

	values := make([][]byte, len(names))
	for i, n := range names {
		v, ok := h.cont.attrs[n]
		if !ok {
			return nil, engine.NewError(engine.RCNonexist, "attribute %q", n)
		}
		values[i] = slices.Clone(v)
	}
	return values, nil
}

func (e *engineImpl) ContSetAttr(coh engine.Handle, names []string, values [][]byte) error {
	done, err := e.enter()
	if err != nil {
		return err
	}
	defer done()

	h, err := e.writableCont(coh)
	if err != nil {
		return err
	}
	if len(names) == 0 || len(names) != len(values) {
		return engine.NewError(engine.RCInval, "%d attribute names for %d values", len(names), len(values))
	}
	for _, n := range names {
		if n == "" {
			return engine.NewError(engine.RCInval, "empty attribute name")
		}
	}
	h.cont.mu.Lock()
	defer h.cont.mu.Unlock()
	for i, n := range names {
		h.cont.attrs[n] = slices.Clone(values[i])
	}
	return nil
}

// --------------------------------------------------------------------------
// Epochs
// --------------------------------------------------------------------------

func (e *engineImpl) EpochHold(coh engine.Handle, epoch engine.Epoch) (engine.Epoch, engine.EpochState, error) {
	done, err := e.enter()
	if err != nil {
		return 0, engine.EpochState{}, err
	}
	defer done()

	h, err := e.writableCont(coh)
	if err != nil {
		return 0, engine.EpochState{}, err
	}
	c := h.cont
	c.mu.Lock()
	defer c.mu.Unlock()

	held := max(epoch, c.hce+1, c.lastHeld+1)
	if held == 0 {
		return 0, c.epochState(), engine.NewError(engine.RCOverflow, "epoch space exhausted")
	}
	c.lastHeld = held
	c.held.Add(uint64(held), uint64(held))
	return held, c.epochState(), nil
}

func (e *engineImpl) EpochCommit(coh engine.Handle, epoch engine.Epoch) (engine.EpochState, error) {
	done, err := e.enter()
	if err != nil {
		return engine.EpochState{}, err
	}
	defer done()

	h, err := e.writableCont(coh)
	if err != nil {
		return engine.EpochState{}, err
	}
	c := h.cont
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.held.Contains(uint64(epoch)) {
		if epoch != 0 && epoch <= c.hce {
			return c.epochState(), engine.NewError(engine.RCAlready, "epoch %d is already committed", epoch)
		}
		return c.epochState(), engine.NewError(engine.RCNonexist, "epoch %d is not held", epoch)
	}
	// committing an epoch commits every held epoch below it
	c.held.RemoveUpTo(uint64(epoch))
	c.hce = max(c.hce, epoch)
	c.ghce = c.hce
	return c.epochState(), nil
}

func (e *engineImpl) EpochSlip(coh engine.Handle, epoch engine.Epoch) (engine.EpochState, error) {
	done, err := e.enter()
	if err != nil {
		return engine.EpochState{}, err
	}
	defer done()

	h, err := e.writableCont(coh)
	if err != nil {
		return engine.EpochState{}, err
	}
	c := h.cont
	c.mu.Lock()
	lre := min(epoch, c.hce)
	if lre <= c.lre {
		state := c.epochState()
		c.mu.Unlock()
		return state, nil
	}
	c.lre = lre
	state := c.epochState()
	c.mu.Unlock()

	// reclaim versions that no read at an epoch >= lre can observe
	c.objects.Range(func(_ engine.OID, o *object) bool {
		o.mu.Lock()
		for _, size := range o.aggregate(lre) {
			e.sizes.RemoveSample(size)
		}
		o.mu.Unlock()
		return true
	})
	return state, nil
}
