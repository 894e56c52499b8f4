package lengine

import (
	"slices"

	"github.com/ValentinKolb/dOBJ/lib/engine"
	"github.com/ValentinKolb/dOBJ/lib/util"
)

// --------------------------------------------------------------------------
// Layout
// --------------------------------------------------------------------------

// computeLayout places oid on the live targets. Shard g takes `replicas` consecutive
// live targets starting at offset+g*replicas, where the offset comes from the rank hint
// when it names a live target and from a hash of the oid otherwise.
func computeLayout(oid engine.OID, live []engine.Rank) (engine.Layout, error) {
	class := oid.Class()
	groups, replicas, err := class.Resolve(len(live))
	if err != nil {
		return engine.Layout{}, err
	}

	n := len(live)
	start := int(util.HashUint64(oid.Lo^oid.Hi, 0) % uint64(n))
	if hint, ok := oid.RankHint(); ok {
		if i := slices.Index(live, hint); i >= 0 {
			start = i
		}
	}

	layout := engine.Layout{OID: oid, Class: class, Shards: make([]engine.Shard, groups)}
	for g := 0; g < groups; g++ {
		ranks := make([]engine.Rank, replicas)
		for r := 0; r < replicas; r++ {
			ranks[r] = live[(start+g*replicas+r)%n]
		}
		layout.Shards[g] = engine.Shard{Ranks: ranks}
	}
	return layout, nil
}

// --------------------------------------------------------------------------
// Interface Methods (docu see engine/interface.go)
// --------------------------------------------------------------------------

func (e *engineImpl) ObjGenerateOID(class engine.ObjClass) (engine.OID, error) {
	done, err := e.enter()
	if err != nil {
		return engine.OID{}, err
	}
	defer done()

	if !class.Known() {
		return engine.OID{}, engine.NewError(engine.RCNoType, "unknown object class %d", class)
	}
	return engine.NewOID(class, nil), nil
}

func (e *engineImpl) ObjOpen(coh engine.Handle, oid engine.OID, epoch engine.Epoch, mode uint64) (engine.Handle, error) {
	done, err := e.enter()
	if err != nil {
		return engine.InvalidHandle, err
	}
	defer done()

	h, err := e.lookupCont(coh)
	if err != nil {
		return engine.InvalidHandle, err
	}
	if mode != engine.ObjOpenRO && mode != engine.ObjOpenRW {
		return engine.InvalidHandle, engine.NewError(engine.RCInval, "invalid object open mode %#x", mode)
	}
	if mode == engine.ObjOpenRW && h.flags&engine.ContOpenRW == 0 {
		return engine.InvalidHandle, engine.NewError(engine.RCNoPerm, "container handle %d is read-only", coh)
	}
	if !oid.Class().Known() {
		return engine.InvalidHandle, engine.NewError(engine.RCNoType, "object %s has unknown class %d", oid, oid.Class())
	}

	oh := e.newHandle()
	e.objHandles.Store(oh, &objHandle{coh: coh, cont: h.cont, oid: oid, epoch: epoch, mode: mode})
	return oh, nil
}

func (e *engineImpl) ObjClose(oh engine.Handle) error {
	done, err := e.enter()
	if err != nil {
		return err
	}
	defer done()

	if _, loaded := e.objHandles.LoadAndDelete(oh); !loaded {
		return engine.NewError(engine.RCNoHandle, "object handle %d", oh)
	}
	return nil
}

func (e *engineImpl) ObjLayout(coh engine.Handle, oid engine.OID) (engine.Layout, error) {
	done, err := e.enter()
	if err != nil {
		return engine.Layout{}, err
	}
	defer done()

	h, err := e.lookupCont(coh)
	if err != nil {
		return engine.Layout{}, err
	}
	return computeLayout(oid, h.pool.liveRanks())
}

func (e *engineImpl) ObjQuery(oh engine.Handle, _ engine.Epoch) ([]engine.Rank, error) {
	done, err := e.enter()
	if err != nil {
		return nil, err
	}
	defer done()

	h, err := e.lookupObj(oh)
	if err != nil {
		return nil, err
	}
	ch, err := e.lookupCont(h.coh)
	if err != nil {
		return nil, err
	}
	layout, err := computeLayout(h.oid, ch.pool.liveRanks())
	if err != nil {
		return nil, err
	}
	leaders := make([]engine.Rank, len(layout.Shards))
	for i, s := range layout.Shards {
		leaders[i] = s.Ranks[0]
	}
	return leaders, nil
}

func (e *engineImpl) ObjFetch(oh engine.Handle, epoch engine.Epoch, dkey []byte, iods []engine.IOD, sgls []engine.SGL) error {
	done, err := e.enter()
	if err != nil {
		return err
	}
	defer done()

	h, err := e.lookupObj(oh)
	if err != nil {
		return err
	}
	if dkey == nil {
		return engine.NewError(engine.RCInval, "nil dkey")
	}
	sizeOnly := len(sgls) == 0
	if !sizeOnly && len(sgls) != len(iods) {
		return engine.NewError(engine.RCIOInval, "%d descriptors for %d scatter-gather lists", len(iods), len(sgls))
	}
	for i := range iods {
		if len(iods[i].Name) == 0 {
			return engine.NewError(engine.RCInval, "empty akey")
		}
		if !sizeOnly {
			if err := iods[i].Validate(sgls[i]); err != nil {
				return err
			}
		}
	}

	h.cont.mu.Lock()
	err = h.cont.checkRead(epoch)
	h.cont.mu.Unlock()
	if err != nil {
		return err
	}

	o, ok := h.cont.objects.Load(h.oid)
	if !ok {
		o = newObject(h.oid) // never written, every record reads as missing
	}
	o.mu.RLock()
	defer o.mu.RUnlock()

	for i := range iods {
		iod := &iods[i]
		d, a := o.lookup(dkey, iod.Name)
		var sgl *engine.SGL
		if !sizeOnly {
			sgl = &sgls[i]
			sgl.NrOut = 0
		}

		switch iod.Type {
		case engine.IODSingle:
			v, found := o.readSingle(d, a, epoch)
			if !found {
				iod.Size = 0
				if sgl != nil {
					sgl.IOVs[0].Len = 0
				}
				continue
			}
			iod.Size = uint64(len(v))
			if sgl == nil {
				continue
			}
			iov := &sgl.IOVs[0]
			if iov.Cap() < uint64(len(v)) {
				return engine.NewError(engine.RCTrunc, "akey %q holds %d bytes, buffer has %d", iod.Name, len(v), iov.Cap())
			}
			copy(iov.Buf, v)
			iov.Len = uint64(len(v))
			sgl.NrOut = 1

		case engine.IODArray:
			var size uint64
			found := false
			k := 0
			for _, ext := range iod.Extents {
				for idx := ext.Index; idx < ext.Index+ext.Count; idx++ {
					v, ok := o.readIndex(d, a, idx, epoch)
					if ok && !found {
						found, size = true, uint64(len(v))
					}
					if sgl != nil {
						iov := &sgl.IOVs[k]
						if !ok {
							iov.Len = 0
						} else if iov.Cap() < uint64(len(v)) {
							return engine.NewError(engine.RCTrunc, "akey %q record %d holds %d bytes, buffer has %d", iod.Name, idx, len(v), iov.Cap())
						} else {
							copy(iov.Buf, v)
							iov.Len = uint64(len(v))
							sgl.NrOut++
						}
					}
					k++
				}
			}
			iod.Size = size

		default:
			return engine.NewError(engine.RCInval, "descriptor %q has no type", iod.Name)
		}
	}
	return nil
}

func (e *engineImpl) ObjUpdate(oh engine.Handle, epoch engine.Epoch, dkey []byte, iods []engine.IOD, sgls []engine.SGL) error {
	done, err := e.enter()
	if err != nil {
		return err
	}
	defer done()

	h, err := e.writableObj(oh)
	if err != nil {
		return err
	}
	if dkey == nil {
		return engine.NewError(engine.RCInval, "nil dkey")
	}
	if len(iods) != len(sgls) {
		return engine.NewError(engine.RCIOInval, "%d descriptors for %d scatter-gather lists", len(iods), len(sgls))
	}

	seen := make(map[string]bool, len(iods))
	for i, iod := range iods {
		if err := iod.Validate(sgls[i]); err != nil {
			return err
		}
		if seen[string(iod.Name)] {
			return engine.NewError(engine.RCInval, "akey %q appears twice", iod.Name)
		}
		seen[string(iod.Name)] = true

		switch iod.Type {
		case engine.IODSingle:
			if n := sgls[i].IOVs[0].Len; iod.Size != 0 && iod.Size != n {
				return engine.NewError(engine.RCIOInval, "akey %q size %d but buffer holds %d bytes", iod.Name, iod.Size, n)
			}
		case engine.IODArray:
			if iod.Size == 0 {
				return engine.NewError(engine.RCInval, "array akey %q with record size 0", iod.Name)
			}
			for _, iov := range sgls[i].IOVs {
				if iov.Len != iod.Size || iov.Cap() < iov.Len {
					return engine.NewError(engine.RCIOInval, "akey %q record size %d but buffer holds %d bytes", iod.Name, iod.Size, iov.Len)
				}
			}
		}
	}

	h.cont.mu.Lock()
	err = h.cont.checkWrite(epoch)
	h.cont.mu.Unlock()
	if err != nil {
		return err
	}

	o, _ := h.cont.objects.LoadOrCompute(h.oid, func() *object { return newObject(h.oid) })
	o.mu.Lock()
	defer o.mu.Unlock()

	// an akey keeps one type for all live versions
	for _, iod := range iods {
		if d, a := o.lookup(dkey, iod.Name); a != nil && a.typ != iod.Type && o.live(d, a, epoch) {
			return engine.NewError(engine.RCInval, "akey %q holds %s records", iod.Name, a.typ)
		}
	}

	for i, iod := range iods {
		a := o.akeyFor(dkey, iod.Name, iod.Type)
		switch iod.Type {
		case engine.IODSingle:
			if a.single == nil {
				a.single = newChain()
			}
			v := slices.Clone(sgls[i].IOVs[0].Bytes())
			if v == nil {
				v = []byte{}
			}
			e.storeVersion(a.single, epoch, v)
		case engine.IODArray:
			if a.array == nil {
				a.array = make(map[uint64]*chain)
			}
			k := 0
			for _, ext := range iod.Extents {
				for idx := ext.Index; idx < ext.Index+ext.Count; idx++ {
					c := a.array[idx]
					if c == nil {
						c = newChain()
						a.array[idx] = c
					}
					e.storeVersion(c, epoch, slices.Clone(sgls[i].IOVs[k].Bytes()))
					k++
				}
			}
		}
	}
	return nil
}

// storeVersion writes v at epoch, replacing a version written earlier at the same epoch.
func (e *engineImpl) storeVersion(c *chain, epoch engine.Epoch, v []byte) {
	if old, loaded := c.Load(epoch); loaded {
		e.sizes.RemoveSample(len(old))
	}
	c.Store(epoch, v)
	e.sizes.AddSample(len(v))
}

// writableObj resolves an object handle that must have been opened read-write.
func (e *engineImpl) writableObj(oh engine.Handle) (*objHandle, error) {
	h, err := e.lookupObj(oh)
	if err != nil {
		return nil, err
	}
	if h.mode != engine.ObjOpenRW {
		return nil, engine.NewError(engine.RCNoPerm, "object handle %d is read-only", oh)
	}
	return h, nil
}

// punch runs fn on the object after the usual handle and epoch checks.
func (e *engineImpl) punch(oh engine.Handle, epoch engine.Epoch, fn func(o *object) error) error {
	done, err := e.enter()
	if err != nil {
		return err
	}
	defer done()

	h, err := e.writableObj(oh)
	if err != nil {
		return err
	}
	h.cont.mu.Lock()
	err = h.cont.checkWrite(epoch)
	h.cont.mu.Unlock()
	if err != nil {
		return err
	}

	o, _ := h.cont.objects.LoadOrCompute(h.oid, func() *object { return newObject(h.oid) })
	o.mu.Lock()
	defer o.mu.Unlock()
	return fn(o)
}

func (e *engineImpl) ObjPunch(oh engine.Handle, epoch engine.Epoch) error {
	return e.punch(oh, epoch, func(o *object) error {
		o.punched = o.punched.add(epoch)
		return nil
	})
}

func (e *engineImpl) ObjPunchDkeys(oh engine.Handle, epoch engine.Epoch, dkeys [][]byte) error {
	return e.punch(oh, epoch, func(o *object) error {
		if dkeys == nil {
			// also hides dkeys written later at an epoch below the punch
			o.punched = o.punched.add(epoch)
			return nil
		}
		for _, k := range dkeys {
			if k == nil {
				return engine.NewError(engine.RCInval, "nil dkey")
			}
		}
		for _, k := range dkeys {
			d := o.dkeyFor(k)
			d.punched = d.punched.add(epoch)
		}
		return nil
	})
}

func (e *engineImpl) ObjPunchAkeys(oh engine.Handle, epoch engine.Epoch, dkey []byte, akeys [][]byte) error {
	return e.punch(oh, epoch, func(o *object) error {
		if dkey == nil {
			return engine.NewError(engine.RCInval, "nil dkey")
		}
		d := o.dkeyFor(dkey)
		if akeys == nil {
			d.punched = d.punched.add(epoch)
			return nil
		}
		for _, k := range akeys {
			a := d.akeys[string(k)]
			if a == nil {
				a = &akeyEntry{}
				d.akeys[string(k)] = a
			}
			a.punched = a.punched.add(epoch)
		}
		return nil
	})
}
