package enginetesting

import (
	"bytes"
	"fmt"
	"io"
	"sync"
	"testing"

	"github.com/ValentinKolb/dOBJ/lib/engine"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// EngineFactory creates a fresh engine for every test.
type EngineFactory func() engine.IEngine

// RunEngineTests runs the conformance suite against an engine implementation.
func RunEngineTests(t *testing.T, name string, factory EngineFactory) {
	t.Run(name, func(t *testing.T) {
		t.Run("PoolLifecycle", func(t *testing.T) { testPoolLifecycle(t, factory()) })
		t.Run("PoolTargets", func(t *testing.T) { testPoolTargets(t, factory()) })
		t.Run("InvalidHandles", func(t *testing.T) { testInvalidHandles(t, factory()) })
		t.Run("ContainerLifecycle", func(t *testing.T) { testContainerLifecycle(t, factory()) })
		t.Run("Attributes", func(t *testing.T) { testAttributes(t, factory()) })
		t.Run("Epochs", func(t *testing.T) { testEpochs(t, factory()) })
		t.Run("SingleValueVersions", func(t *testing.T) { testSingleValueVersions(t, factory()) })
		t.Run("SizeQueryAndTruncation", func(t *testing.T) { testSizeQueryAndTruncation(t, factory()) })
		t.Run("ArrayRecords", func(t *testing.T) { testArrayRecords(t, factory()) })
		t.Run("ArrayRecordSize", func(t *testing.T) { testArrayRecordSize(t, factory()) })
		t.Run("MultiAkey", func(t *testing.T) { testMultiAkey(t, factory()) })
		t.Run("UpdateValidation", func(t *testing.T) { testUpdateValidation(t, factory()) })
		t.Run("Punch", func(t *testing.T) { testPunch(t, factory()) })
		t.Run("PunchBeforeWrite", func(t *testing.T) { testPunchBeforeWrite(t, factory()) })
		t.Run("Slip", func(t *testing.T) { testSlip(t, factory()) })
		t.Run("Layout", func(t *testing.T) { testLayout(t, factory()) })
		t.Run("GlobalHandles", func(t *testing.T) { testGlobalHandles(t, factory()) })
		t.Run("ConcurrentUpdates", func(t *testing.T) { testConcurrentUpdates(t, factory()) })
		t.Run("SaveLoad", func(t *testing.T) { testSaveLoad(t, factory) })
	})
}

// --------------------------------------------------------------------------
// Helper functions
// --------------------------------------------------------------------------

// requireOp skips the test if the engine does not support op.
func requireOp(t testing.TB, e engine.IEngine, ops ...engine.Op) {
	for _, op := range ops {
		if !e.SupportsOp(op) {
			t.Skipf("%s is not supported", op)
		}
	}
}

// requireRC asserts that err carries the given result code.
func requireRC(t testing.TB, want engine.RC, err error) {
	t.Helper()
	require.Error(t, err)
	require.Equal(t, want, engine.RCOf(err), "unexpected error: %v", err)
}

type fixture struct {
	e   engine.IEngine
	id  uuid.UUID
	svc []engine.Rank
	poh engine.Handle
	cid uuid.UUID
	coh engine.Handle
}

// newFixture creates a pool with the given targets, connects, and opens a fresh container.
func newFixture(t testing.TB, e engine.IEngine, targets ...engine.Rank) *fixture {
	t.Helper()
	id, svc, err := e.PoolCreate(engine.PoolCreateRequest{Mode: 0o731, Targets: targets, ScmSize: 1 << 30, SvcNr: 1})
	require.NoError(t, err)
	poh, _, err := e.PoolConnect(id, "", svc, engine.PoolConnectRW)
	require.NoError(t, err)
	cid := uuid.New()
	require.NoError(t, e.ContCreate(poh, cid))
	coh, _, err := e.ContOpen(poh, cid, engine.ContOpenRW)
	require.NoError(t, err)
	return &fixture{e: e, id: id, svc: svc, poh: poh, cid: cid, coh: coh}
}

// object generates and opens an object of the given class.
func (f *fixture) object(t testing.TB, class engine.ObjClass) (engine.OID, engine.Handle) {
	t.Helper()
	oid, err := f.e.ObjGenerateOID(class)
	require.NoError(t, err)
	oh, err := f.e.ObjOpen(f.coh, oid, 0, engine.ObjOpenRW)
	require.NoError(t, err)
	return oid, oh
}

// hold holds the next epoch.
func (f *fixture) hold(t testing.TB) engine.Epoch {
	t.Helper()
	e, _, err := f.e.EpochHold(f.coh, 0)
	require.NoError(t, err)
	return e
}

func (f *fixture) commit(t testing.TB, e engine.Epoch) {
	t.Helper()
	_, err := f.e.EpochCommit(f.coh, e)
	require.NoError(t, err)
}

func single(akey string, size uint64, epoch engine.EpochRange) engine.IOD {
	return engine.IOD{Name: []byte(akey), Type: engine.IODSingle, Size: size, Epoch: epoch}
}

// put writes a single value at epoch.
func (f *fixture) put(t testing.TB, oh engine.Handle, epoch engine.Epoch, dkey, akey, value string) {
	t.Helper()
	iods := []engine.IOD{single(akey, uint64(len(value)), engine.WriteRange(epoch))}
	sgls := []engine.SGL{engine.NewSGL(engine.BorrowIOV([]byte(value)))}
	require.NoError(t, f.e.ObjUpdate(oh, epoch, []byte(dkey), iods, sgls))
}

// get reads a single value at epoch; the bool reports whether a record exists.
func (f *fixture) get(t testing.TB, oh engine.Handle, epoch engine.Epoch, dkey, akey string) (string, bool) {
	t.Helper()
	iods := []engine.IOD{single(akey, 64, engine.ReadRange(epoch))}
	sgls := []engine.SGL{engine.NewSGL(engine.NewOwnedIOV(64))}
	require.NoError(t, f.e.ObjFetch(oh, epoch, []byte(dkey), iods, sgls))
	if iods[0].Size == 0 {
		return "", false
	}
	return string(sgls[0].IOVs[0].Bytes()), true
}

// --------------------------------------------------------------------------
// Test functions
// --------------------------------------------------------------------------

func testPoolLifecycle(t *testing.T, e engine.IEngine) {
	defer e.Close()

	id, svc, err := e.PoolCreate(engine.PoolCreateRequest{Mode: 0o731, Targets: []engine.Rank{0, 1, 2}, SvcNr: 2})
	require.NoError(t, err)
	assert.NotEqual(t, uuid.Nil, id)
	assert.Equal(t, []engine.Rank{0, 1}, svc)

	_, _, err = e.PoolCreate(engine.PoolCreateRequest{UUID: id})
	requireRC(t, engine.RCExist, err)

	_, _, err = e.PoolConnect(uuid.New(), "", nil, engine.PoolConnectRW)
	requireRC(t, engine.RCNonexist, err)
	_, _, err = e.PoolConnect(id, "", svc, 0)
	requireRC(t, engine.RCInval, err)

	poh, info, err := e.PoolConnect(id, "", svc, engine.PoolConnectRW)
	require.NoError(t, err)
	assert.True(t, poh.IsValid())
	assert.Equal(t, id, info.UUID)
	assert.Len(t, info.Targets, 3)
	assert.Equal(t, uint32(0), info.Disabled)

	info, err = e.PoolQuery(poh)
	require.NoError(t, err)
	assert.Equal(t, svc, info.Svc)

	requireRC(t, engine.RCBusy, e.PoolDestroy(id, "", false))

	require.NoError(t, e.PoolDisconnect(poh))
	requireRC(t, engine.RCNoHandle, e.PoolDisconnect(poh))

	require.NoError(t, e.PoolDestroy(id, "", false))
	requireRC(t, engine.RCNonexist, e.PoolDestroy(id, "", false))

	// force destroys pools with open connections and invalidates them
	id2, svc2, err := e.PoolCreate(engine.PoolCreateRequest{})
	require.NoError(t, err)
	poh2, _, err := e.PoolConnect(id2, "", svc2, engine.PoolConnectRO)
	require.NoError(t, err)
	require.NoError(t, e.PoolDestroy(id2, "", true))
	_, err = e.PoolQuery(poh2)
	requireRC(t, engine.RCNoHandle, err)
}

func testPoolTargets(t *testing.T, e engine.IEngine) {
	defer e.Close()
	requireOp(t, e, engine.OpExcludePool, engine.OpExcludeOutPool, engine.OpAddTargetPool, engine.OpEvictPool, engine.OpStopServicePool)

	f := newFixture(t, e, 0, 1, 2, 3)

	require.NoError(t, e.PoolExclude(f.id, "", f.svc, []engine.Rank{1}))
	require.NoError(t, e.PoolExcludeOut(f.id, "", f.svc, []engine.Rank{2}))
	info, err := e.PoolQuery(f.poh)
	require.NoError(t, err)
	assert.Equal(t, uint32(2), info.Disabled)
	assert.Equal(t, engine.TargetDown, info.Targets[1].State)
	assert.Equal(t, engine.TargetOut, info.Targets[2].State)

	requireRC(t, engine.RCNonexist, e.PoolExclude(f.id, "", f.svc, []engine.Rank{99}))
	requireRC(t, engine.RCInval, e.PoolExclude(f.id, "", f.svc, nil))

	require.NoError(t, e.PoolAddTarget(f.id, "", f.svc, []engine.Rank{1, 2, 4}))
	info, err = e.PoolQuery(f.poh)
	require.NoError(t, err)
	assert.Equal(t, uint32(0), info.Disabled)
	assert.Len(t, info.Targets, 5)

	// evict invalidates every connection and the containers opened through it
	require.NoError(t, e.PoolEvict(f.id, "", f.svc))
	_, err = e.PoolQuery(f.poh)
	requireRC(t, engine.RCNoHandle, err)
	_, err = e.ContQuery(f.coh)
	requireRC(t, engine.RCNoHandle, err)

	poh, _, err := e.PoolConnect(f.id, "", f.svc, engine.PoolConnectRW)
	require.NoError(t, err)
	require.NoError(t, e.PoolStopService(poh))
	_, _, err = e.PoolConnect(f.id, "", f.svc, engine.PoolConnectRW)
	requireRC(t, engine.RCUnreach, err)

	if e.SupportsOp(engine.OpKillServer) {
		require.NoError(t, e.KillServer("", 3, false))
		info, err = e.PoolQuery(poh)
		require.NoError(t, err)
		assert.Equal(t, engine.TargetDown, info.Targets[3].State)
	}
}

func testInvalidHandles(t *testing.T, e engine.IEngine) {
	defer e.Close()

	_, err := e.PoolQuery(engine.InvalidHandle)
	requireRC(t, engine.RCNoHandle, err)
	_, err = e.ContQuery(12345)
	requireRC(t, engine.RCNoHandle, err)
	requireRC(t, engine.RCNoHandle, e.ObjClose(777))
	err = e.ObjFetch(777, 1, []byte("d"), nil, nil)
	requireRC(t, engine.RCNoHandle, err)

	// closing a pool connection closes everything opened through it
	f := newFixture(t, e)
	_, oh := f.object(t, engine.DefaultClass)
	require.NoError(t, e.PoolDisconnect(f.poh))
	_, err = e.ContQuery(f.coh)
	requireRC(t, engine.RCNoHandle, err)
	requireRC(t, engine.RCNoHandle, e.ObjClose(oh))
}

func testContainerLifecycle(t *testing.T, e engine.IEngine) {
	defer e.Close()

	f := newFixture(t, e)
	requireRC(t, engine.RCExist, e.ContCreate(f.poh, f.cid))
	requireRC(t, engine.RCInval, e.ContCreate(f.poh, uuid.Nil))

	_, _, err := e.ContOpen(f.poh, uuid.New(), engine.ContOpenRW)
	requireRC(t, engine.RCNonexist, err)

	info, err := e.ContQuery(f.coh)
	require.NoError(t, err)
	assert.Equal(t, f.cid, info.UUID)
	assert.Equal(t, engine.Epoch(0), info.Epoch.HCE)
	assert.Equal(t, engine.EpochMax, info.Epoch.LHE)

	requireRC(t, engine.RCBusy, e.ContDestroy(f.poh, f.cid, false))
	require.NoError(t, e.ContClose(f.coh))
	requireRC(t, engine.RCNoHandle, e.ContClose(f.coh))
	require.NoError(t, e.ContDestroy(f.poh, f.cid, false))
	requireRC(t, engine.RCNonexist, e.ContDestroy(f.poh, f.cid, false))

	// a read-only handle refuses writes
	cid := uuid.New()
	require.NoError(t, e.ContCreate(f.poh, cid))
	ro, _, err := e.ContOpen(f.poh, cid, engine.ContOpenRO)
	require.NoError(t, err)
	_, _, err = e.EpochHold(ro, 0)
	requireRC(t, engine.RCNoPerm, err)
	oid, err := e.ObjGenerateOID(engine.DefaultClass)
	require.NoError(t, err)
	_, err = e.ObjOpen(ro, oid, 0, engine.ObjOpenRW)
	requireRC(t, engine.RCNoPerm, err)
	require.NoError(t, e.ContDestroy(f.poh, cid, true))
	_, err = e.ContQuery(ro)
	requireRC(t, engine.RCNoHandle, err)
}

func testAttributes(t *testing.T, e engine.IEngine) {
	defer e.Close()
	requireOp(t, e, engine.OpListAttrCont, engine.OpGetAttrCont, engine.OpSetAttrCont)

	f := newFixture(t, e)
	names, err := e.ContListAttr(f.coh)
	require.NoError(t, err)
	assert.Empty(t, names)

	require.NoError(t, e.ContSetAttr(f.coh, []string{"b", "a"}, [][]byte{[]byte("2"), []byte("1")}))
	names, err = e.ContListAttr(f.coh)
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b"}, names)

	values, err := e.ContGetAttr(f.coh, []string{"b", "a"})
	require.NoError(t, err)
	assert.Equal(t, [][]byte{[]byte("2"), []byte("1")}, values)

	_, err = e.ContGetAttr(f.coh, []string{"missing"})
	requireRC(t, engine.RCNonexist, err)
	requireRC(t, engine.RCInval, e.ContSetAttr(f.coh, []string{"x"}, nil))
	requireRC(t, engine.RCInval, e.ContSetAttr(f.coh, nil, nil))
}

func testEpochs(t *testing.T, e engine.IEngine) {
	defer e.Close()

	f := newFixture(t, e)

	// repeated holds are strictly increasing
	var last engine.Epoch
	for i := 0; i < 5; i++ {
		held := f.hold(t)
		assert.Greater(t, uint64(held), uint64(last))
		last = held
	}

	held, state, err := e.EpochHold(f.coh, 100)
	require.NoError(t, err)
	assert.Equal(t, engine.Epoch(100), held)
	assert.Equal(t, engine.Epoch(1), state.LHE)

	_, err = e.EpochCommit(f.coh, 50)
	requireRC(t, engine.RCNonexist, err)

	state, err = e.EpochCommit(f.coh, 3)
	require.NoError(t, err)
	assert.Equal(t, engine.Epoch(3), state.HCE)
	assert.Equal(t, engine.Epoch(4), state.LHE)

	// committing again is an error
	_, err = e.EpochCommit(f.coh, 3)
	require.Error(t, err)

	state, err = e.EpochCommit(f.coh, 100)
	require.NoError(t, err)
	assert.Equal(t, engine.Epoch(100), state.HCE)
	assert.Equal(t, engine.EpochMax, state.LHE)

	// new holds start above the highest committed epoch
	held, _, err = e.EpochHold(f.coh, 7)
	require.NoError(t, err)
	assert.Equal(t, engine.Epoch(101), held)

	info, err := e.ContQuery(f.coh)
	require.NoError(t, err)
	assert.Equal(t, engine.Epoch(100), info.Epoch.HCE)
	assert.Equal(t, engine.Epoch(101), info.Epoch.LHE)
}

func testSingleValueVersions(t *testing.T, e engine.IEngine) {
	defer e.Close()

	f := newFixture(t, e)
	_, oh := f.object(t, engine.DefaultClass)

	e1 := f.hold(t)
	f.put(t, oh, e1, "dkey", "akey", "hello")
	f.commit(t, e1)

	e2 := f.hold(t)
	f.put(t, oh, e2, "dkey", "akey", "world")
	f.commit(t, e2)

	v, ok := f.get(t, oh, e1, "dkey", "akey")
	assert.True(t, ok)
	assert.Equal(t, "hello", v)
	v, _ = f.get(t, oh, e2, "dkey", "akey")
	assert.Equal(t, "world", v)
	v, _ = f.get(t, oh, engine.EpochMax, "dkey", "akey")
	assert.Equal(t, "world", v)

	// before the first write nothing is visible
	_, ok = f.get(t, oh, e1-1, "dkey", "akey")
	assert.False(t, ok)
	_, ok = f.get(t, oh, e2, "other", "akey")
	assert.False(t, ok)

	// committed epochs are read-only
	iods := []engine.IOD{single("akey", 1, engine.WriteRange(e1))}
	sgls := []engine.SGL{engine.NewSGL(engine.BorrowIOV([]byte("x")))}
	requireRC(t, engine.RCEpochRO, e.ObjUpdate(oh, e1, []byte("dkey"), iods, sgls))

	// the empty dkey is a valid key, a nil dkey is not
	e3 := f.hold(t)
	f.put(t, oh, e3, "", "akey", "empty")
	v, _ = f.get(t, oh, e3, "", "akey")
	assert.Equal(t, "empty", v)
	requireRC(t, engine.RCInval, e.ObjUpdate(oh, e3, nil, iods, sgls))
}

func testSizeQueryAndTruncation(t *testing.T, e engine.IEngine) {
	defer e.Close()

	f := newFixture(t, e)
	_, oh := f.object(t, engine.DefaultClass)
	ep := f.hold(t)
	f.put(t, oh, ep, "d", "a", "0123456789")

	// no scatter-gather lists: only sizes are reported
	iods := []engine.IOD{single("a", 0, engine.ReadRange(ep)), single("missing", 0, engine.ReadRange(ep))}
	require.NoError(t, e.ObjFetch(oh, ep, []byte("d"), iods, nil))
	assert.Equal(t, uint64(10), iods[0].Size)
	assert.Equal(t, uint64(0), iods[1].Size)

	// zero descriptors is a no-op
	require.NoError(t, e.ObjFetch(oh, ep, []byte("d"), nil, nil))

	// a short receive buffer is rejected
	iods = []engine.IOD{single("a", 4, engine.ReadRange(ep))}
	sgls := []engine.SGL{engine.NewSGL(engine.NewOwnedIOV(4))}
	requireRC(t, engine.RCTrunc, e.ObjFetch(oh, ep, []byte("d"), iods, sgls))

	// a larger buffer reports the logical length, not the capacity
	iods = []engine.IOD{single("a", 32, engine.ReadRange(ep))}
	sgls = []engine.SGL{engine.NewSGL(engine.NewOwnedIOV(32))}
	require.NoError(t, e.ObjFetch(oh, ep, []byte("d"), iods, sgls))
	assert.Equal(t, uint64(10), sgls[0].IOVs[0].Len)
	assert.Equal(t, uint64(32), sgls[0].IOVs[0].Cap())
	assert.Equal(t, "0123456789", string(sgls[0].IOVs[0].Bytes()))
	assert.Equal(t, uint32(1), sgls[0].NrOut)

	// descriptor and buffer count must match
	requireRC(t, engine.RCIOInval, e.ObjFetch(oh, ep, []byte("d"), iods, []engine.SGL{sgls[0], sgls[0]}))
}

func testArrayRecords(t *testing.T, e engine.IEngine) {
	defer e.Close()

	f := newFixture(t, e)
	_, oh := f.object(t, engine.DefaultClass)
	ep := f.hold(t)

	values := []string{"aa", "bb", "cc", "dd"}
	iov := make([]engine.IOV, len(values))
	for i, v := range values {
		iov[i] = engine.BorrowIOV([]byte(v))
	}
	iod := engine.IOD{Name: []byte("arr"), Type: engine.IODArray, Size: 2, Extents: []engine.Extent{{Index: 0, Count: 4}}, Epoch: engine.WriteRange(ep)}
	require.NoError(t, e.ObjUpdate(oh, ep, []byte("d"), []engine.IOD{iod}, []engine.SGL{engine.NewSGL(iov...)}))

	// overwrite index 1 at a later epoch
	f.commit(t, ep)
	ep2 := f.hold(t)
	over := engine.IOD{Name: []byte("arr"), Type: engine.IODArray, Size: 2, Extents: []engine.Extent{{Index: 1, Count: 1}}, Epoch: engine.WriteRange(ep2)}
	require.NoError(t, e.ObjUpdate(oh, ep2, []byte("d"), []engine.IOD{over}, []engine.SGL{engine.NewSGL(engine.BorrowIOV([]byte("XX")))}))

	fetch := func(epoch engine.Epoch, extents ...engine.Extent) ([]string, uint64) {
		rd := engine.IOD{Name: []byte("arr"), Type: engine.IODArray, Size: 2, Extents: extents, Epoch: engine.ReadRange(epoch)}
		out := make([]engine.IOV, rd.Records())
		for i := range out {
			out[i] = engine.NewOwnedIOV(2)
		}
		sgls := []engine.SGL{engine.NewSGL(out...)}
		iods := []engine.IOD{rd}
		require.NoError(t, e.ObjFetch(oh, epoch, []byte("d"), iods, sgls))
		res := make([]string, len(out))
		for i, v := range sgls[0].IOVs {
			res[i] = string(v.Bytes())
		}
		return res, iods[0].Size
	}

	got, size := fetch(ep, engine.Extent{Index: 0, Count: 4})
	assert.Equal(t, values, got)
	assert.Equal(t, uint64(2), size)

	got, _ = fetch(ep2, engine.Extent{Index: 0, Count: 4})
	assert.Equal(t, []string{"aa", "XX", "cc", "dd"}, got)

	// holes read as empty records
	got, _ = fetch(ep2, engine.Extent{Index: 3, Count: 3})
	assert.Equal(t, []string{"dd", "", ""}, got)

	got, size = fetch(ep2, engine.Extent{Index: 10, Count: 2})
	assert.Equal(t, []string{"", ""}, got)
	assert.Equal(t, uint64(0), size)
}

func testArrayRecordSize(t *testing.T, e engine.IEngine) {
	defer e.Close()

	f := newFixture(t, e)
	_, oh := f.object(t, engine.DefaultClass)

	write := func(epoch engine.Epoch, value string) {
		iod := engine.IOD{Name: []byte("arr"), Type: engine.IODArray, Size: uint64(len(value)), Extents: []engine.Extent{{Index: 0, Count: 1}}, Epoch: engine.WriteRange(epoch)}
		require.NoError(t, e.ObjUpdate(oh, epoch, []byte("d"), []engine.IOD{iod}, []engine.SGL{engine.NewSGL(engine.BorrowIOV([]byte(value)))}))
	}
	sizeAt := func(epoch engine.Epoch) uint64 {
		iods := []engine.IOD{{Name: []byte("arr"), Type: engine.IODArray, Extents: []engine.Extent{{Index: 0, Count: 1}}, Epoch: engine.ReadRange(epoch)}}
		require.NoError(t, e.ObjFetch(oh, epoch, []byte("d"), iods, nil))
		return iods[0].Size
	}

	ep1 := f.hold(t)
	write(ep1, "abcd")
	f.commit(t, ep1)
	ep2 := f.hold(t)
	write(ep2, "abcdefgh")
	f.commit(t, ep2)

	// the size belongs to the version visible at the read epoch
	assert.Equal(t, uint64(4), sizeAt(ep1))
	assert.Equal(t, uint64(8), sizeAt(ep2))
}

func testMultiAkey(t *testing.T, e engine.IEngine) {
	defer e.Close()

	f := newFixture(t, e)
	_, oh := f.object(t, engine.DefaultClass)
	ep := f.hold(t)

	data := map[string]string{"one": "1", "two": "22", "three": "333"}
	var iods []engine.IOD
	var sgls []engine.SGL
	for k, v := range data {
		iods = append(iods, single(k, uint64(len(v)), engine.WriteRange(ep)))
		sgls = append(sgls, engine.NewSGL(engine.BorrowIOV([]byte(v))))
	}
	require.NoError(t, e.ObjUpdate(oh, ep, []byte("d"), iods, sgls))

	iods, sgls = nil, nil
	var names []string
	for k := range data {
		names = append(names, k)
		iods = append(iods, single(k, 8, engine.ReadRange(ep)))
		sgls = append(sgls, engine.NewSGL(engine.NewOwnedIOV(8)))
	}
	require.NoError(t, e.ObjFetch(oh, ep, []byte("d"), iods, sgls))
	for i, k := range names {
		assert.Equal(t, data[k], string(sgls[i].IOVs[0].Bytes()), "akey %s", k)
		assert.Equal(t, uint64(len(data[k])), iods[i].Size)
	}
}

func testUpdateValidation(t *testing.T, e engine.IEngine) {
	defer e.Close()

	f := newFixture(t, e)
	_, oh := f.object(t, engine.DefaultClass)
	ep := f.hold(t)
	val := engine.NewSGL(engine.BorrowIOV([]byte("v")))

	// empty akey
	requireRC(t, engine.RCInval, e.ObjUpdate(oh, ep, []byte("d"), []engine.IOD{single("", 1, engine.WriteRange(ep))}, []engine.SGL{val}))
	// descriptor count mismatch
	requireRC(t, engine.RCIOInval, e.ObjUpdate(oh, ep, []byte("d"), []engine.IOD{single("a", 1, engine.WriteRange(ep))}, nil))
	// record count mismatch
	arr := engine.IOD{Name: []byte("arr"), Type: engine.IODArray, Size: 1, Extents: []engine.Extent{{Index: 0, Count: 2}}, Epoch: engine.WriteRange(ep)}
	requireRC(t, engine.RCIOInval, e.ObjUpdate(oh, ep, []byte("d"), []engine.IOD{arr}, []engine.SGL{val}))
	// duplicate akeys
	requireRC(t, engine.RCInval, e.ObjUpdate(oh, ep, []byte("d"),
		[]engine.IOD{single("a", 1, engine.WriteRange(ep)), single("a", 1, engine.WriteRange(ep))},
		[]engine.SGL{val, val}))
	// read-only object handle
	oid, err := e.ObjGenerateOID(engine.ClassTinyRW)
	require.NoError(t, err)
	ro, err := e.ObjOpen(f.coh, oid, 0, engine.ObjOpenRO)
	require.NoError(t, err)
	requireRC(t, engine.RCNoPerm, e.ObjUpdate(ro, ep, []byte("d"), []engine.IOD{single("a", 1, engine.WriteRange(ep))}, []engine.SGL{val}))
	require.NoError(t, e.ObjClose(ro))
}

func testPunch(t *testing.T, e engine.IEngine) {
	defer e.Close()
	requireOp(t, e, engine.OpPunchObj, engine.OpPunchDkeys, engine.OpPunchAkeys)

	f := newFixture(t, e)
	_, oh := f.object(t, engine.DefaultClass)

	e1 := f.hold(t)
	for _, d := range []string{"d1", "d2"} {
		for _, a := range []string{"a1", "a2"} {
			f.put(t, oh, e1, d, a, d+a)
		}
	}
	f.commit(t, e1)

	// punch one akey
	e2 := f.hold(t)
	require.NoError(t, e.ObjPunchAkeys(oh, e2, []byte("d1"), [][]byte{[]byte("a1")}))
	_, ok := f.get(t, oh, e2, "d1", "a1")
	assert.False(t, ok)
	v, ok := f.get(t, oh, e2, "d1", "a2")
	assert.True(t, ok)
	assert.Equal(t, "d1a2", v)
	// older epochs still see the value
	v, _ = f.get(t, oh, e1, "d1", "a1")
	assert.Equal(t, "d1a1", v)

	// an empty list punches nothing, nil punches everything at that level
	require.NoError(t, e.ObjPunchAkeys(oh, e2, []byte("d2"), [][]byte{}))
	_, ok = f.get(t, oh, e2, "d2", "a1")
	assert.True(t, ok)
	require.NoError(t, e.ObjPunchAkeys(oh, e2, []byte("d2"), nil))
	_, ok = f.get(t, oh, e2, "d2", "a1")
	assert.False(t, ok)
	requireRC(t, engine.RCInval, e.ObjPunchAkeys(oh, e2, nil, nil))
	f.commit(t, e2)

	// dkey punch
	e3 := f.hold(t)
	require.NoError(t, e.ObjPunchDkeys(oh, e3, [][]byte{[]byte("d1")}))
	_, ok = f.get(t, oh, e3, "d1", "a2")
	assert.False(t, ok)

	// a write after the punch is visible again
	f.commit(t, e3)
	e4 := f.hold(t)
	f.put(t, oh, e4, "d1", "a2", "again")
	v, ok = f.get(t, oh, e4, "d1", "a2")
	assert.True(t, ok)
	assert.Equal(t, "again", v)
	f.commit(t, e4)

	// object punch hides everything
	e5 := f.hold(t)
	require.NoError(t, e.ObjPunch(oh, e5))
	_, ok = f.get(t, oh, e5, "d1", "a2")
	assert.False(t, ok)
	v, _ = f.get(t, oh, e4, "d1", "a2")
	assert.Equal(t, "again", v)
}

func testPunchBeforeWrite(t *testing.T, e engine.IEngine) {
	defer e.Close()
	requireOp(t, e, engine.OpPunchDkeys, engine.OpPunchAkeys)

	f := newFixture(t, e)
	_, oh := f.object(t, engine.DefaultClass)

	e1 := f.hold(t)
	e2 := f.hold(t)
	require.Less(t, uint64(e1), uint64(e2))
	f.put(t, oh, e1, "d0", "a", "old")

	// tombstones also cover keys written later at an epoch below the punch
	require.NoError(t, e.ObjPunchDkeys(oh, e2, nil))
	require.NoError(t, e.ObjPunchDkeys(oh, e2, [][]byte{[]byte("d6")}))
	require.NoError(t, e.ObjPunchAkeys(oh, e2, []byte("d7"), nil))
	require.NoError(t, e.ObjPunchAkeys(oh, e2, []byte("d8"), [][]byte{[]byte("a")}))
	for _, d := range []string{"d1", "d6", "d7", "d8"} {
		f.put(t, oh, e1, d, "a", "new")
	}

	for _, d := range []string{"d0", "d1", "d6", "d7", "d8"} {
		_, ok := f.get(t, oh, e2, d, "a")
		assert.False(t, ok, "dkey %s visible at the punch epoch", d)
	}
	for _, d := range []string{"d1", "d6", "d7", "d8"} {
		v, ok := f.get(t, oh, e1, d, "a")
		assert.True(t, ok)
		assert.Equal(t, "new", v)
	}

	// a punched akey that never held a value takes any type afterwards
	e3 := f.hold(t)
	iod := engine.IOD{Name: []byte("a"), Type: engine.IODArray, Size: 1, Extents: []engine.Extent{{Index: 0, Count: 1}}, Epoch: engine.WriteRange(e3)}
	require.NoError(t, e.ObjPunchAkeys(oh, e2, []byte("d9"), [][]byte{[]byte("a")}))
	require.NoError(t, e.ObjUpdate(oh, e3, []byte("d9"), []engine.IOD{iod}, []engine.SGL{engine.NewSGL(engine.BorrowIOV([]byte("x")))}))
}

func testSlip(t *testing.T, e engine.IEngine) {
	defer e.Close()

	f := newFixture(t, e)
	_, oh := f.object(t, engine.DefaultClass)

	var epochs []engine.Epoch
	for i := 0; i < 3; i++ {
		ep := f.hold(t)
		f.put(t, oh, ep, "d", "a", fmt.Sprintf("v%d", i))
		f.commit(t, ep)
		epochs = append(epochs, ep)
	}

	state, err := e.EpochSlip(f.coh, engine.EpochMax)
	require.NoError(t, err)
	assert.Equal(t, epochs[2], state.LRE, "slip is capped at the highest committed epoch")

	err = e.ObjFetch(oh, epochs[0], []byte("d"), []engine.IOD{single("a", 8, engine.ReadRange(epochs[0]))}, []engine.SGL{engine.NewSGL(engine.NewOwnedIOV(8))})
	requireRC(t, engine.RCEpochOld, err)

	v, ok := f.get(t, oh, epochs[2], "d", "a")
	assert.True(t, ok)
	assert.Equal(t, "v2", v)

	// slipping backwards is a no-op
	state, err = e.EpochSlip(f.coh, epochs[0])
	require.NoError(t, err)
	assert.Equal(t, epochs[2], state.LRE)
}

func testLayout(t *testing.T, e engine.IEngine) {
	defer e.Close()
	requireOp(t, e, engine.OpLayoutObj, engine.OpQueryObj)

	f := newFixture(t, e, 0, 1, 2, 3, 4)

	oid, oh := f.object(t, engine.ClassReplMaxRW)
	layout, err := e.ObjLayout(f.coh, oid)
	require.NoError(t, err)
	require.Len(t, layout.Shards, 1)
	assert.ElementsMatch(t, []engine.Rank{0, 1, 2, 3, 4}, layout.Shards[0].Ranks)

	leaders, err := e.ObjQuery(oh, 0)
	require.NoError(t, err)
	assert.Equal(t, []engine.Rank{layout.Shards[0].Ranks[0]}, leaders)

	// the rank hint selects the first replica
	hinted, err := oid.WithRankHint(3)
	require.NoError(t, err)
	layout, err = e.ObjLayout(f.coh, hinted)
	require.NoError(t, err)
	assert.Equal(t, engine.Rank(3), layout.Shards[0].Ranks[0])

	tiny, err := e.ObjGenerateOID(engine.ClassSmallRW)
	require.NoError(t, err)
	layout, err = e.ObjLayout(f.coh, tiny)
	require.NoError(t, err)
	assert.Len(t, layout.Shards, 4)
	seen := map[engine.Rank]bool{}
	for _, s := range layout.Shards {
		require.Len(t, s.Ranks, 1)
		assert.False(t, seen[s.Ranks[0]], "shards must not share targets")
		seen[s.Ranks[0]] = true
	}

	// excluded targets leave the layout
	require.NoError(t, e.PoolExclude(f.id, "", f.svc, []engine.Rank{1}))
	layout, err = e.ObjLayout(f.coh, oid)
	require.NoError(t, err)
	assert.NotContains(t, layout.Shards[0].Ranks, engine.Rank(1))

	_, err = e.ObjGenerateOID(engine.ObjClass(999))
	requireRC(t, engine.RCNoType, err)
}

func testGlobalHandles(t *testing.T, e engine.IEngine) {
	defer e.Close()
	requireOp(t, e, engine.OpLocal2GlobalPool, engine.OpGlobal2LocalPool, engine.OpLocal2GlobalCont, engine.OpGlobal2LocalCont)

	f := newFixture(t, e)

	// size probe, then fill
	probe := engine.IOV{}
	require.NoError(t, e.PoolLocal2Global(f.poh, &probe))
	require.NotZero(t, probe.Len)
	glob := engine.NewOwnedIOV(probe.Len)
	require.NoError(t, e.PoolLocal2Global(f.poh, &glob))
	assert.Equal(t, probe.Len, glob.Len)

	poh, err := e.PoolGlobal2Local(glob)
	require.NoError(t, err)
	assert.NotEqual(t, f.poh, poh)
	info, err := e.PoolQuery(poh)
	require.NoError(t, err)
	assert.Equal(t, f.id, info.UUID)

	probe = engine.IOV{}
	require.NoError(t, e.ContLocal2Global(f.coh, &probe))
	cglob := engine.NewOwnedIOV(probe.Len)
	require.NoError(t, e.ContLocal2Global(f.coh, &cglob))
	coh, err := e.ContGlobal2Local(poh, cglob)
	require.NoError(t, err)
	cinfo, err := e.ContQuery(coh)
	require.NoError(t, err)
	assert.Equal(t, f.cid, cinfo.UUID)

	// a too small buffer is rejected
	small := engine.NewOwnedIOV(probe.Len - 1)
	requireRC(t, engine.RCTrunc, e.ContLocal2Global(f.coh, &small))

	// corrupted and mismatched blobs are rejected
	bad := engine.NewOwnedIOV(glob.Len)
	copy(bad.Buf, glob.Buf)
	bad.Len = glob.Len
	bad.Buf[len(bad.Buf)-1] ^= 0xff
	_, err = e.PoolGlobal2Local(bad)
	require.Error(t, err)
	_, err = e.ContGlobal2Local(poh, glob)
	requireRC(t, engine.RCInval, err)
}

func testConcurrentUpdates(t *testing.T, e engine.IEngine) {
	defer e.Close()

	f := newFixture(t, e)
	ep := f.hold(t)

	const workers = 8
	const perWorker = 25
	var wg sync.WaitGroup
	errs := make(chan error, workers)
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			oid, err := e.ObjGenerateOID(engine.DefaultClass)
			if err != nil {
				errs <- err
				return
			}
			oh, err := e.ObjOpen(f.coh, oid, 0, engine.ObjOpenRW)
			if err != nil {
				errs <- err
				return
			}
			for i := 0; i < perWorker; i++ {
				v := []byte(fmt.Sprintf("w%d-%d", w, i))
				iods := []engine.IOD{single(fmt.Sprintf("a%d", i), uint64(len(v)), engine.WriteRange(ep))}
				if err := e.ObjUpdate(oh, ep, []byte("d"), iods, []engine.SGL{engine.NewSGL(engine.BorrowIOV(v))}); err != nil {
					errs <- err
					return
				}
			}
			for i := 0; i < perWorker; i++ {
				iods := []engine.IOD{single(fmt.Sprintf("a%d", i), 16, engine.ReadRange(ep))}
				sgls := []engine.SGL{engine.NewSGL(engine.NewOwnedIOV(16))}
				if err := e.ObjFetch(oh, ep, []byte("d"), iods, sgls); err != nil {
					errs <- err
					return
				}
				if want := fmt.Sprintf("w%d-%d", w, i); !bytes.Equal(sgls[0].IOVs[0].Bytes(), []byte(want)) {
					errs <- fmt.Errorf("read %q, want %q", sgls[0].IOVs[0].Bytes(), want)
					return
				}
			}
		}(w)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Error(err)
	}
}

// snapshotter is implemented by engines that can persist their state.
type snapshotter interface {
	Save(w io.Writer) error
	Load(r io.Reader) error
}

func testSaveLoad(t *testing.T, factory EngineFactory) {
	src := factory()
	defer src.Close()
	s, ok := src.(snapshotter)
	if !ok {
		t.Skip("engine does not support snapshots")
	}

	f := newFixture(t, src)
	_, oh := f.object(t, engine.DefaultClass)
	e1 := f.hold(t)
	f.put(t, oh, e1, "d", "a", "persisted")
	f.commit(t, e1)
	e2 := f.hold(t)
	require.NoError(t, src.ContSetAttr(f.coh, []string{"k"}, [][]byte{[]byte("v")}))

	var buf bytes.Buffer
	require.NoError(t, s.Save(&buf))

	dst := factory()
	defer dst.Close()
	require.NoError(t, dst.(snapshotter).Load(&buf))

	// handles survive the snapshot
	g := &fixture{e: dst, id: f.id, svc: f.svc, poh: f.poh, cid: f.cid, coh: f.coh}
	v, ok := g.get(t, oh, e1, "d", "a")
	assert.True(t, ok)
	assert.Equal(t, "persisted", v)

	info, err := dst.ContQuery(f.coh)
	require.NoError(t, err)
	assert.Equal(t, e1, info.Epoch.HCE)
	assert.Equal(t, e2, info.Epoch.LHE)

	values, err := dst.ContGetAttr(f.coh, []string{"k"})
	require.NoError(t, err)
	assert.Equal(t, []byte("v"), values[0])

	// new handles do not collide with restored ones
	poh, _, err := dst.PoolConnect(f.id, "", f.svc, engine.PoolConnectRW)
	require.NoError(t, err)
	assert.Greater(t, uint64(poh), uint64(oh))

	// a broken snapshot is rejected and leaves the engine untouched
	require.Error(t, dst.(snapshotter).Load(bytes.NewReader([]byte("garbage!!"))))
	_, err = dst.PoolQuery(poh)
	require.NoError(t, err)
}
