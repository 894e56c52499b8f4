package lengine

import (
	"slices"
	"sync"

	"github.com/ValentinKolb/dOBJ/lib/engine"
	"github.com/zhangyunhao116/skipmap"
)

// --------------------------------------------------------------------------
// Version chains
// --------------------------------------------------------------------------

// chain holds the versions of one record, newest epoch first.
type chain = skipmap.FuncMap[engine.Epoch, []byte]

func newChain() *chain {
	return skipmap.NewFunc[engine.Epoch, []byte](func(a, b engine.Epoch) bool {
		return a > b
	})
}

// floor returns the newest version at an epoch <= e.
func floor(c *chain, e engine.Epoch) (engine.Epoch, []byte, bool) {
	var (
		at    engine.Epoch
		value []byte
		found bool
	)
	c.Range(func(ev engine.Epoch, v []byte) bool {
		if ev <= e {
			at, value, found = ev, v, true
			return false
		}
		return true
	})
	return at, value, found
}

// punches is a sorted list of tombstone epochs.
type punches []engine.Epoch

// latest returns the newest punch at an epoch <= e, 0 if there is none.
func (p punches) latest(e engine.Epoch) engine.Epoch {
	i, _ := slices.BinarySearch(p, e+1)
	if e == engine.EpochMax {
		i = len(p)
	}
	if i == 0 {
		return 0
	}
	return p[i-1]
}

func (p punches) add(e engine.Epoch) punches {
	i, found := slices.BinarySearch(p, e)
	if found {
		return p
	}
	return slices.Insert(p, i, e)
}

// dropUpTo removes every punch <= e.
func (p punches) dropUpTo(e engine.Epoch) punches {
	i, found := slices.BinarySearch(p, e)
	if found {
		i++
	}
	return slices.Clone(p[i:])
}

// --------------------------------------------------------------------------
// Object tree
// --------------------------------------------------------------------------

type object struct {
	mu      sync.RWMutex
	oid     engine.OID
	punched punches
	dkeys   map[string]*dkeyEntry
}

type dkeyEntry struct {
	punched punches
	akeys   map[string]*akeyEntry
}

type akeyEntry struct {
	typ     engine.IODType
	punched punches
	single  *chain
	array   map[uint64]*chain
}

func newObject(oid engine.OID) *object {
	return &object{oid: oid, dkeys: make(map[string]*dkeyEntry)}
}

// hidden returns the newest punch at any level of the path that applies to a read at e.
func (o *object) hidden(d *dkeyEntry, a *akeyEntry, e engine.Epoch) engine.Epoch {
	p := o.punched.latest(e)
	if d != nil {
		p = max(p, d.punched.latest(e))
	}
	if a != nil {
		p = max(p, a.punched.latest(e))
	}
	return p
}

// lookup returns the dkey and akey entries; either may be nil.
func (o *object) lookup(dkey, akey []byte) (*dkeyEntry, *akeyEntry) {
	d := o.dkeys[string(dkey)]
	if d == nil {
		return nil, nil
	}
	return d, d.akeys[string(akey)]
}

// readSingle returns the visible single value at e.
func (o *object) readSingle(d *dkeyEntry, a *akeyEntry, e engine.Epoch) ([]byte, bool) {
	if a == nil || a.single == nil {
		return nil, false
	}
	ev, v, ok := floor(a.single, e)
	if !ok || ev <= o.hidden(d, a, e) {
		return nil, false
	}
	return v, true
}

// readIndex returns the visible array record at index idx and epoch e.
func (o *object) readIndex(d *dkeyEntry, a *akeyEntry, idx uint64, e engine.Epoch) ([]byte, bool) {
	if a == nil || a.array == nil {
		return nil, false
	}
	c := a.array[idx]
	if c == nil {
		return nil, false
	}
	ev, v, ok := floor(c, e)
	if !ok || ev <= o.hidden(d, a, e) {
		return nil, false
	}
	return v, true
}

// dkeyFor returns the dkey entry, creating it when missing.
func (o *object) dkeyFor(dkey []byte) *dkeyEntry {
	d := o.dkeys[string(dkey)]
	if d == nil {
		d = &dkeyEntry{akeys: make(map[string]*akeyEntry)}
		o.dkeys[string(dkey)] = d
	}
	return d
}

// akeyFor returns the akey entry, creating the path when missing.
func (o *object) akeyFor(dkey, akey []byte, typ engine.IODType) *akeyEntry {
	d := o.dkeyFor(dkey)
	a := d.akeys[string(akey)]
	if a == nil {
		a = &akeyEntry{typ: typ}
		d.akeys[string(akey)] = a
	}
	a.typ = typ
	return a
}

// live reports whether the akey has a version visible at e.
func (o *object) live(d *dkeyEntry, a *akeyEntry, e engine.Epoch) bool {
	if _, ok := o.readSingle(d, a, e); ok {
		return true
	}
	for idx := range a.array {
		if _, ok := o.readIndex(d, a, idx, e); ok {
			return true
		}
	}
	return false
}

// forEachRecord calls fn for the value of every stored version.
func (o *object) forEachRecord(fn func(v []byte)) {
	for _, d := range o.dkeys {
		for _, a := range d.akeys {
			if a.single != nil {
				a.single.Range(func(_ engine.Epoch, v []byte) bool { fn(v); return true })
			}
			for _, c := range a.array {
				c.Range(func(_ engine.Epoch, v []byte) bool { fn(v); return true })
			}
		}
	}
}

// aggregate removes every version that no read at an epoch >= lre can observe and
// returns the sizes of the removed versions. Caller holds o.mu exclusively.
func (o *object) aggregate(lre engine.Epoch) []int {
	var removed []int
	trim := func(d *dkeyEntry, a *akeyEntry, c *chain) {
		keep, _, ok := floor(c, lre)
		if !ok {
			return
		}
		if keep <= o.hidden(d, a, lre) {
			keep++ // the version at lre is punched, drop it as well
		}
		var drop []engine.Epoch
		c.Range(func(ev engine.Epoch, v []byte) bool {
			if ev < keep {
				drop = append(drop, ev)
				removed = append(removed, len(v))
			}
			return true
		})
		for _, ev := range drop {
			c.Delete(ev)
		}
	}

	for dk, d := range o.dkeys {
		for ak, a := range d.akeys {
			if a.single != nil {
				trim(d, a, a.single)
			}
			for idx, c := range a.array {
				trim(d, a, c)
				if c.Len() == 0 {
					delete(a.array, idx)
				}
			}
			a.punched = a.punched.dropUpTo(lre)
			if (a.single == nil || a.single.Len() == 0) && len(a.array) == 0 && len(a.punched) == 0 {
				delete(d.akeys, ak)
			}
		}
		d.punched = d.punched.dropUpTo(lre)
		if len(d.akeys) == 0 && len(d.punched) == 0 {
			delete(o.dkeys, dk)
		}
	}
	o.punched = o.punched.dropUpTo(lre)
	return removed
}
