package lengine

import (
	"bufio"
	"cmp"
	"fmt"
	"io"
	"maps"
	"slices"

	"github.com/ValentinKolb/dOBJ/lib/engine"
	"github.com/google/uuid"
	"github.com/pierrec/lz4/v4"
)

// --------------------------------------------------------------------------
// Constants
// --------------------------------------------------------------------------

const (
	magicNum        = "DOBJSNAP" // File format identifier
	snapshotVersion = 1          // Snapshot version
)

// --------------------------------------------------------------------------
// Snapshot document
// --------------------------------------------------------------------------

type snapshot struct {
	NextHandle  uint64           `cbor:"1,keyasint"`
	Stopped     bool             `cbor:"2,keyasint"`
	Pools       []poolDump       `cbor:"3,keyasint"`
	PoolHandles []poolHandleDump `cbor:"4,keyasint"`
	ContHandles []contHandleDump `cbor:"5,keyasint"`
	ObjHandles  []objHandleDump  `cbor:"6,keyasint"`
}

type poolDump struct {
	UUID       uuid.UUID       `cbor:"1,keyasint"`
	Group      string          `cbor:"2,keyasint"`
	Mode       uint32          `cbor:"3,keyasint"`
	UID        uint32          `cbor:"4,keyasint"`
	GID        uint32          `cbor:"5,keyasint"`
	ScmSize    uint64          `cbor:"6,keyasint"`
	Svc        []engine.Rank   `cbor:"7,keyasint"`
	MapVersion uint32          `cbor:"8,keyasint"`
	Targets    []engine.Target `cbor:"9,keyasint"`
	SvcStopped bool            `cbor:"10,keyasint"`
	Conts      []contDump      `cbor:"11,keyasint"`
}

type contDump struct {
	UUID     uuid.UUID         `cbor:"1,keyasint"`
	HCE      engine.Epoch      `cbor:"2,keyasint"`
	LRE      engine.Epoch      `cbor:"3,keyasint"`
	GHCE     engine.Epoch      `cbor:"4,keyasint"`
	LastHeld engine.Epoch      `cbor:"5,keyasint"`
	Held     []uint64          `cbor:"6,keyasint"`
	Attrs    map[string][]byte `cbor:"7,keyasint"`
	Objects  []objDump         `cbor:"8,keyasint"`
}

type objDump struct {
	OID     engine.OID     `cbor:"1,keyasint"`
	Punched []engine.Epoch `cbor:"2,keyasint"`
	Dkeys   []dkeyDump     `cbor:"3,keyasint"`
}

type dkeyDump struct {
	Key     []byte         `cbor:"1,keyasint"`
	Punched []engine.Epoch `cbor:"2,keyasint"`
	Akeys   []akeyDump     `cbor:"3,keyasint"`
}

type akeyDump struct {
	Name    []byte         `cbor:"1,keyasint"`
	Type    engine.IODType `cbor:"2,keyasint"`
	Punched []engine.Epoch `cbor:"4,keyasint"`
	Single  []versionDump  `cbor:"5,keyasint"`
	Array   []indexDump    `cbor:"6,keyasint"`
}

type versionDump struct {
	Epoch engine.Epoch `cbor:"1,keyasint"`
	Value []byte       `cbor:"2,keyasint"`
}

type indexDump struct {
	Index    uint64        `cbor:"1,keyasint"`
	Versions []versionDump `cbor:"2,keyasint"`
}

type poolHandleDump struct {
	Handle engine.Handle `cbor:"1,keyasint"`
	Pool   uuid.UUID     `cbor:"2,keyasint"`
	Flags  uint64        `cbor:"3,keyasint"`
}

type contHandleDump struct {
	Handle     engine.Handle `cbor:"1,keyasint"`
	PoolHandle engine.Handle `cbor:"2,keyasint"`
	Pool       uuid.UUID     `cbor:"3,keyasint"`
	Cont       uuid.UUID     `cbor:"4,keyasint"`
	Flags      uint64        `cbor:"5,keyasint"`
}

type objHandleDump struct {
	Handle     engine.Handle `cbor:"1,keyasint"`
	ContHandle engine.Handle `cbor:"2,keyasint"`
	OID        engine.OID    `cbor:"3,keyasint"`
	Epoch      engine.Epoch  `cbor:"4,keyasint"`
	Mode       uint64        `cbor:"5,keyasint"`
}

// --------------------------------------------------------------------------
// Dump helpers
// --------------------------------------------------------------------------

func dumpChain(c *chain) []versionDump {
	var out []versionDump
	c.Range(func(ev engine.Epoch, v []byte) bool {
		out = append(out, versionDump{Epoch: ev, Value: v})
		return true
	})
	return out
}

func loadChain(versions []versionDump) *chain {
	c := newChain()
	for _, v := range versions {
		value := v.Value
		if value == nil {
			value = []byte{}
		}
		c.Store(v.Epoch, value)
	}
	return c
}

func (o *object) dump() objDump {
	o.mu.RLock()
	defer o.mu.RUnlock()

	od := objDump{OID: o.oid, Punched: slices.Clone(o.punched)}
	for _, dk := range slices.Sorted(maps.Keys(o.dkeys)) {
		d := o.dkeys[dk]
		dd := dkeyDump{Key: []byte(dk), Punched: slices.Clone(d.punched)}
		for _, ak := range slices.Sorted(maps.Keys(d.akeys)) {
			a := d.akeys[ak]
			ad := akeyDump{Name: []byte(ak), Type: a.typ, Punched: slices.Clone(a.punched)}
			if a.single != nil {
				ad.Single = dumpChain(a.single)
			}
			for _, idx := range slices.Sorted(maps.Keys(a.array)) {
				ad.Array = append(ad.Array, indexDump{Index: idx, Versions: dumpChain(a.array[idx])})
			}
			dd.Akeys = append(dd.Akeys, ad)
		}
		od.Dkeys = append(od.Dkeys, dd)
	}
	return od
}

func restoreObject(od objDump, sample func(int)) *object {
	o := newObject(od.OID)
	o.punched = od.Punched
	for _, dd := range od.Dkeys {
		d := &dkeyEntry{punched: dd.Punched, akeys: make(map[string]*akeyEntry)}
		for _, ad := range dd.Akeys {
			a := &akeyEntry{typ: ad.Type, punched: ad.Punched}
			if len(ad.Single) > 0 {
				a.single = loadChain(ad.Single)
			}
			if len(ad.Array) > 0 {
				a.array = make(map[uint64]*chain, len(ad.Array))
				for _, id := range ad.Array {
					a.array[id.Index] = loadChain(id.Versions)
				}
			}
			d.akeys[string(ad.Name)] = a
		}
		o.dkeys[string(dd.Key)] = d
	}
	o.forEachRecord(func(v []byte) { sample(len(v)) })
	return o
}

// --------------------------------------------------------------------------
// Persistence Operations
// --------------------------------------------------------------------------

// Save writes the complete engine state to w.
//
// Thread-safety: Save may run concurrently with other operations. Each object is
// copied under its own lock, so the snapshot is consistent per object but not
// across objects. Callers that need a global cut (the replicated engine) must
// not run updates while saving.
func (e *engineImpl) Save(w io.Writer) error {
	e.stateMu.RLock()
	snap := snapshot{NextHandle: e.nextHandle.Load(), Stopped: e.stopped.Load()}

	var poolIDs []uuid.UUID
	e.pools.Range(func(id uuid.UUID, _ *pool) bool { poolIDs = append(poolIDs, id); return true })
	slices.SortFunc(poolIDs, func(a, b uuid.UUID) int { return slices.Compare(a[:], b[:]) })

	for _, id := range poolIDs {
		p, ok := e.pools.Load(id)
		if !ok {
			continue
		}
		p.mu.RLock()
		pd := poolDump{
			UUID: p.uuid, Group: p.group, Mode: p.mode, UID: p.uid, GID: p.gid, ScmSize: p.scmSize,
			Svc: slices.Clone(p.svc), MapVersion: p.mapVersion, Targets: slices.Clone(p.targets), SvcStopped: p.svcStopped,
		}
		p.mu.RUnlock()

		p.conts.Range(func(_ uuid.UUID, c *container) bool {
			c.mu.Lock()
			cd := contDump{UUID: c.uuid, HCE: c.hce, LRE: c.lre, GHCE: c.ghce, LastHeld: c.lastHeld, Held: c.held.Keys(), Attrs: maps.Clone(c.attrs)}
			c.mu.Unlock()
			c.objects.Range(func(_ engine.OID, o *object) bool {
				cd.Objects = append(cd.Objects, o.dump())
				return true
			})
			slices.SortFunc(cd.Objects, func(a, b objDump) int {
				if a.OID == b.OID {
					return 0
				}
				if a.OID.Less(b.OID) {
					return -1
				}
				return 1
			})
			pd.Conts = append(pd.Conts, cd)
			return true
		})
		slices.SortFunc(pd.Conts, func(a, b contDump) int { return slices.Compare(a.UUID[:], b.UUID[:]) })
		snap.Pools = append(snap.Pools, pd)
	}

	e.poolHandles.Range(func(h engine.Handle, ph *poolHandle) bool {
		snap.PoolHandles = append(snap.PoolHandles, poolHandleDump{Handle: h, Pool: ph.pool.uuid, Flags: ph.flags})
		return true
	})
	e.contHandles.Range(func(h engine.Handle, ch *contHandle) bool {
		snap.ContHandles = append(snap.ContHandles, contHandleDump{Handle: h, PoolHandle: ch.poh, Pool: ch.pool.uuid, Cont: ch.cont.uuid, Flags: ch.flags})
		return true
	})
	e.objHandles.Range(func(h engine.Handle, oh *objHandle) bool {
		snap.ObjHandles = append(snap.ObjHandles, objHandleDump{Handle: h, ContHandle: oh.coh, OID: oh.oid, Epoch: oh.epoch, Mode: oh.mode})
		return true
	})
	e.stateMu.RUnlock()

	slices.SortFunc(snap.PoolHandles, func(a, b poolHandleDump) int { return cmp.Compare(a.Handle, b.Handle) })
	slices.SortFunc(snap.ContHandles, func(a, b contHandleDump) int { return cmp.Compare(a.Handle, b.Handle) })
	slices.SortFunc(snap.ObjHandles, func(a, b objHandleDump) int { return cmp.Compare(a.Handle, b.Handle) })

	bw := bufio.NewWriterSize(w, 1024*1024)
	if _, err := bw.WriteString(magicNum); err != nil {
		return err
	}
	if err := bw.WriteByte(snapshotVersion); err != nil {
		return err
	}
	zw := lz4.NewWriter(bw)
	if err := engine.NewCBOREncoder(zw).Encode(&snap); err != nil {
		return fmt.Errorf("encode snapshot: %w", err)
	}
	if err := zw.Close(); err != nil {
		return err
	}
	return bw.Flush()
}

// Load replaces the engine state with a snapshot read from r.
//
// Thread-safety: Load blocks every other operation while the state is swapped.
func (e *engineImpl) Load(r io.Reader) error {
	br := bufio.NewReaderSize(r, 1024*1024)

	magic := make([]byte, len(magicNum))
	if _, err := io.ReadFull(br, magic); err != nil {
		return err
	}
	if string(magic) != magicNum {
		return fmt.Errorf("invalid snapshot format: magic number mismatch")
	}
	version, err := br.ReadByte()
	if err != nil {
		return err
	}
	if version != snapshotVersion {
		return fmt.Errorf("unsupported snapshot version: %d (expected %d)", version, snapshotVersion)
	}

	var snap snapshot
	if err := engine.NewCBORDecoder(lz4.NewReader(br)).Decode(&snap); err != nil {
		return fmt.Errorf("decode snapshot: %w", err)
	}

	e.stateMu.Lock()
	defer e.stateMu.Unlock()
	e.reset()
	e.nextHandle.Store(snap.NextHandle)
	e.stopped.Store(snap.Stopped)

	for _, pd := range snap.Pools {
		p := newPool(pd.UUID)
		p.group, p.mode, p.uid, p.gid, p.scmSize = pd.Group, pd.Mode, pd.UID, pd.GID, pd.ScmSize
		p.svc, p.mapVersion, p.targets, p.svcStopped = pd.Svc, pd.MapVersion, pd.Targets, pd.SvcStopped
		for _, cd := range pd.Conts {
			c := newContainer(cd.UUID)
			c.hce, c.lre, c.ghce, c.lastHeld = cd.HCE, cd.LRE, cd.GHCE, cd.LastHeld
			for _, h := range cd.Held {
				c.held.Add(h, h)
			}
			if cd.Attrs != nil {
				c.attrs = cd.Attrs
			}
			for _, od := range cd.Objects {
				c.objects.Store(od.OID, restoreObject(od, e.sizes.AddSample))
			}
			p.conts.Store(c.uuid, c)
		}
		e.pools.Store(p.uuid, p)
	}

	for _, hd := range snap.PoolHandles {
		p, ok := e.pools.Load(hd.Pool)
		if !ok {
			return fmt.Errorf("snapshot references unknown pool %s", hd.Pool)
		}
		e.poolHandles.Store(hd.Handle, &poolHandle{pool: p, flags: hd.Flags})
	}
	for _, hd := range snap.ContHandles {
		p, ok := e.pools.Load(hd.Pool)
		if !ok {
			return fmt.Errorf("snapshot references unknown pool %s", hd.Pool)
		}
		c, ok := p.conts.Load(hd.Cont)
		if !ok {
			return fmt.Errorf("snapshot references unknown container %s", hd.Cont)
		}
		e.contHandles.Store(hd.Handle, &contHandle{poh: hd.PoolHandle, pool: p, cont: c, flags: hd.Flags})
	}
	for _, hd := range snap.ObjHandles {
		ch, ok := e.contHandles.Load(hd.ContHandle)
		if !ok {
			return fmt.Errorf("snapshot references unknown container handle %d", hd.ContHandle)
		}
		e.objHandles.Store(hd.Handle, &objHandle{coh: hd.ContHandle, cont: ch.cont, oid: hd.OID, epoch: hd.Epoch, mode: hd.Mode})
	}
	return nil
}
