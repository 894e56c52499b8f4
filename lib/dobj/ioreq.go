package dobj

import (
	"github.com/ValentinKolb/dOBJ/lib/engine"
)

// FetchHint modifies how SingleFetch builds its request.
type FetchHint uint8

const (
	// HintSGLNull omits the scatter-gather list, only the record size is queried.
	HintSGLNull FetchHint = 1 << iota
	// HintIODNull omits the I/O descriptor, leaving the engine to reject the request.
	HintIODNull
)

// AkeyValue is one single value written by MultiAkeyInsert.
type AkeyValue struct {
	Akey  []byte
	Value []byte
}

// AkeySize is one single value read by MultiAkeyFetch, Size is the receive capacity.
type AkeySize struct {
	Akey []byte
	Size uint64
}

// IORequest builds descriptors and buffers for reads and writes of one object.
// Writes borrow the caller's memory, which must not change until the write completed.
// Reads allocate receive buffers and return them sliced to the length the engine
// reported.
type IORequest struct {
	ctx  *Context
	Cont *Container
	Obj  *Object
}

// NewIORequest prepares requests against obj, which is created (with rank as
// placement hint and the given class) when nil, and opened.
func NewIORequest(cont *Container, obj *Object, rank *engine.Rank, class engine.ObjClass) (*IORequest, error) {
	if cont == nil {
		return nil, precondition(engine.OpOpenObj, "container is nil")
	}
	if obj == nil {
		obj = NewObject(cont, engine.OID{})
		if err := obj.Create(rank, class); err != nil {
			return nil, err
		}
	}
	if err := obj.Open(0); err != nil {
		return nil, err
	}
	return &IORequest{ctx: cont.ctx, Cont: cont, Obj: obj}, nil
}

// --------------------------------------------------------------------------
// Writes
// --------------------------------------------------------------------------

// InsertArray writes values as array records [0, len(values)) under dkey/akey.
// All values must have the same size.
func (r *IORequest) InsertArray(dkey, akey []byte, values [][]byte, epoch engine.Epoch, cb Callback) error {
	if len(values) == 0 {
		return precondition(engine.OpUpdateObj, "no values to insert")
	}
	size := uint64(len(values[0]))
	iovs := make([]engine.IOV, len(values))
	for i, v := range values {
		if uint64(len(v)) != size {
			return precondition(engine.OpUpdateObj, "value %d has %d bytes, expected %d", i, len(v), size)
		}
		iovs[i] = engine.BorrowIOV(v)
	}
	iods := []engine.IOD{{
		Name:    akey,
		Type:    engine.IODArray,
		Size:    size,
		Extents: []engine.Extent{{Index: 0, Count: uint64(len(values))}},
		Epoch:   engine.WriteRange(epoch),
	}}
	return r.update(dkey, iods, []engine.SGL{engine.NewSGL(iovs...)}, epoch, cb)
}

// SingleInsert writes value as a single value under dkey/akey.
func (r *IORequest) SingleInsert(dkey, akey, value []byte, epoch engine.Epoch, cb Callback) error {
	iods := []engine.IOD{singleIOD(akey, uint64(len(value)), engine.WriteRange(epoch))}
	sgls := []engine.SGL{engine.NewSGL(engine.BorrowIOV(value))}
	return r.update(dkey, iods, sgls, epoch, cb)
}

// MultiAkeyInsert writes one single value per akey under dkey in one update.
func (r *IORequest) MultiAkeyInsert(dkey []byte, values []AkeyValue, epoch engine.Epoch, cb Callback) error {
	if len(values) == 0 {
		return precondition(engine.OpUpdateObj, "no akeys to insert")
	}
	akeys := make([][]byte, len(values))
	for i, v := range values {
		akeys[i] = v.Akey
	}
	if err := checkDuplicates(engine.OpUpdateObj, akeys); err != nil {
		return err
	}
	iods := make([]engine.IOD, len(values))
	sgls := make([]engine.SGL, len(values))
	for i, v := range values {
		iods[i] = singleIOD(v.Akey, uint64(len(v.Value)), engine.WriteRange(epoch))
		sgls[i] = engine.NewSGL(engine.BorrowIOV(v.Value))
	}
	return r.update(dkey, iods, sgls, epoch, cb)
}

func (r *IORequest) update(dkey []byte, iods []engine.IOD, sgls []engine.SGL, epoch engine.Epoch, cb Callback) error {
	if err := checkShape(engine.OpUpdateObj, iods, sgls); err != nil {
		return err
	}
	oh := r.Obj.Handle
	return r.ctx.dispatch(engine.OpUpdateObj, func(e engine.IEngine) error {
		return e.ObjUpdate(oh, epoch, dkey, iods, sgls)
	}, cb, r)
}

// --------------------------------------------------------------------------
// Reads
// --------------------------------------------------------------------------

// FetchArray reads count array records of at most size bytes each, starting at index 0.
func (r *IORequest) FetchArray(dkey, akey []byte, count, size uint64, epoch engine.Epoch) ([][]byte, error) {
	if count == 0 {
		return nil, precondition(engine.OpFetchObj, "count must be positive")
	}
	iovs := make([]engine.IOV, count)
	for i := range iovs {
		iovs[i] = engine.NewOwnedIOV(size)
	}
	iods := []engine.IOD{{
		Name:    akey,
		Type:    engine.IODArray,
		Size:    size,
		Extents: []engine.Extent{{Index: 0, Count: count}},
		Epoch:   engine.ReadRange(epoch),
	}}
	sgls := []engine.SGL{engine.NewSGL(iovs...)}
	if err := r.fetch(dkey, iods, sgls, epoch, true); err != nil {
		return nil, err
	}
	out := make([][]byte, count)
	for i, iov := range sgls[0].IOVs {
		out[i] = iov.Bytes()
	}
	return out, nil
}

// SingleFetch reads a single value of at most size bytes. A nil dkey is passed on
// to the engine as is. With HintSGLNull no buffer is sent and the result is empty.
func (r *IORequest) SingleFetch(dkey, akey []byte, size uint64, epoch engine.Epoch, hints ...FetchHint) ([]byte, error) {
	var hint FetchHint
	for _, h := range hints {
		hint |= h
	}
	iods := []engine.IOD{singleIOD(akey, size, engine.ReadRange(epoch))}
	sgls := []engine.SGL{engine.NewSGL(engine.NewOwnedIOV(size))}
	if hint&HintSGLNull != 0 {
		sgls = nil
	}
	if hint&HintIODNull != 0 {
		iods = nil
	}
	if err := r.fetch(dkey, iods, sgls, epoch, hint == 0); err != nil {
		return nil, err
	}
	if sgls == nil {
		return []byte{}, nil
	}
	return sgls[0].IOVs[0].Bytes(), nil
}

// MultiAkeyFetch reads one single value per akey under dkey, keyed by akey.
func (r *IORequest) MultiAkeyFetch(dkey []byte, keys []AkeySize, epoch engine.Epoch) (map[string][]byte, error) {
	if len(keys) == 0 {
		return nil, precondition(engine.OpFetchObj, "no akeys to fetch")
	}
	akeys := make([][]byte, len(keys))
	for i, k := range keys {
		akeys[i] = k.Akey
	}
	if err := checkDuplicates(engine.OpFetchObj, akeys); err != nil {
		return nil, err
	}
	iods := make([]engine.IOD, len(keys))
	sgls := make([]engine.SGL, len(keys))
	for i, k := range keys {
		iods[i] = singleIOD(k.Akey, k.Size, engine.ReadRange(epoch))
		sgls[i] = engine.NewSGL(engine.NewOwnedIOV(k.Size))
	}
	if err := r.fetch(dkey, iods, sgls, epoch, true); err != nil {
		return nil, err
	}
	out := make(map[string][]byte, len(keys))
	for i, k := range keys {
		out[string(k.Akey)] = sgls[i].IOVs[0].Bytes()
	}
	return out, nil
}

func (r *IORequest) fetch(dkey []byte, iods []engine.IOD, sgls []engine.SGL, epoch engine.Epoch, validate bool) error {
	if validate {
		if err := checkShape(engine.OpFetchObj, iods, sgls); err != nil {
			return err
		}
	}
	oh := r.Obj.Handle
	return r.ctx.call(engine.OpFetchObj, func(e engine.IEngine) error {
		return e.ObjFetch(oh, epoch, dkey, iods, sgls)
	})
}

// --------------------------------------------------------------------------
// Descriptor Helpers
// --------------------------------------------------------------------------

func singleIOD(akey []byte, size uint64, epochs engine.EpochRange) engine.IOD {
	return engine.IOD{Name: akey, Type: engine.IODSingle, Size: size, Epoch: epochs}
}

// checkShape verifies that every descriptor has a scatter-gather list holding one
// buffer per addressed record.
func checkShape(op engine.Op, iods []engine.IOD, sgls []engine.SGL) error {
	if len(iods) != len(sgls) {
		return precondition(op, "%d descriptors for %d scatter-gather lists", len(iods), len(sgls))
	}
	for i := range iods {
		if n := uint64(len(sgls[i].IOVs)); n != iods[i].Records() {
			return precondition(op, "akey %q addresses %d records but has %d buffers", iods[i].Name, iods[i].Records(), n)
		}
	}
	return nil
}

func checkDuplicates(op engine.Op, akeys [][]byte) error {
	seen := make(map[string]struct{}, len(akeys))
	for _, a := range akeys {
		if _, dup := seen[string(a)]; dup {
			return precondition(op, "duplicate akey %q", a)
		}
		seen[string(a)] = struct{}{}
	}
	return nil
}
