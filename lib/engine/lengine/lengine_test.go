package lengine

import (
	"bytes"
	"testing"

	"github.com/ValentinKolb/dOBJ/lib/engine"
	"github.com/ValentinKolb/dOBJ/lib/engine/enginetesting"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func Test(t *testing.T) {
	enginetesting.RunEngineTests(t, "LocalEngine", func() engine.IEngine {
		return NewLocalEngine(nil)
	})
}

func Benchmark(b *testing.B) {
	enginetesting.RunEngineBenchmarks(b, "LocalEngine", func() engine.IEngine {
		return NewLocalEngine(nil)
	})
}

// setup creates a pool with four targets and an open container.
func setup(t *testing.T, e Engine) (poh, coh engine.Handle) {
	t.Helper()
	id, svc, err := e.PoolCreate(engine.PoolCreateRequest{})
	require.NoError(t, err)
	poh, _, err = e.PoolConnect(id, "", svc, engine.PoolConnectRW)
	require.NoError(t, err)
	cid := uuid.New()
	require.NoError(t, e.ContCreate(poh, cid))
	coh, _, err = e.ContOpen(poh, cid, engine.ContOpenRW)
	require.NoError(t, err)
	return poh, coh
}

func write(t *testing.T, e Engine, oh engine.Handle, epoch engine.Epoch, value string) {
	t.Helper()
	iods := []engine.IOD{{Name: []byte("a"), Type: engine.IODSingle, Size: uint64(len(value)), Epoch: engine.WriteRange(epoch)}}
	require.NoError(t, e.ObjUpdate(oh, epoch, []byte("d"), iods, []engine.SGL{engine.NewSGL(engine.BorrowIOV([]byte(value)))}))
}

func TestKillOwnRank(t *testing.T) {
	e := NewLocalEngine(&Options{Rank: 2})
	poh, _ := setup(t, e)

	require.NoError(t, e.KillServer("", 1, false))
	info, err := e.PoolQuery(poh)
	require.NoError(t, err)
	assert.Equal(t, engine.TargetDown, info.Targets[1].State)

	requireRC := func(err error) {
		require.Error(t, err)
		assert.Equal(t, engine.RCUnreach, engine.RCOf(err))
	}
	require.NoError(t, e.KillServer("", 2, true))
	_, err = e.PoolQuery(poh)
	requireRC(err)
	_, _, err = e.PoolCreate(engine.PoolCreateRequest{})
	requireRC(err)

	err = e.KillServer("", 42, false)
	requireRC(err)
}

func TestKillUnknownRank(t *testing.T) {
	e := NewLocalEngine(nil)
	setup(t, e)
	err := e.KillServer("", 42, false)
	require.Error(t, err)
	assert.Equal(t, engine.RCNonexist, engine.RCOf(err))

	err = NewLocalEngine(&Options{Group: "g1"}).KillServer("g2", 0, false)
	assert.Equal(t, engine.RCNonexist, engine.RCOf(err))
}

func TestUnsupportedOps(t *testing.T) {
	e := NewLocalEngine(nil)
	assert.False(t, e.SupportsOp(engine.OpExtendPool))
	assert.False(t, e.SupportsOp(engine.OpQueryTarget))
	assert.True(t, e.SupportsOp(engine.OpUpdateObj))

	err := e.PoolExtend(uuid.New(), "", nil)
	assert.Equal(t, engine.RCNoSys, engine.RCOf(err))
	_, err = e.PoolQueryTarget(1, 0)
	assert.Equal(t, engine.RCNoSys, engine.RCOf(err))
}

func TestExclusiveConnect(t *testing.T) {
	e := NewLocalEngine(nil)
	id, svc, err := e.PoolCreate(engine.PoolCreateRequest{})
	require.NoError(t, err)

	ex, _, err := e.PoolConnect(id, "", svc, engine.PoolConnectEX)
	require.NoError(t, err)
	_, _, err = e.PoolConnect(id, "", svc, engine.PoolConnectRO)
	assert.Equal(t, engine.RCBusy, engine.RCOf(err))

	require.NoError(t, e.PoolDisconnect(ex))
	ro, _, err := e.PoolConnect(id, "", svc, engine.PoolConnectRO)
	require.NoError(t, err)
	_, _, err = e.PoolConnect(id, "", svc, engine.PoolConnectEX)
	assert.Equal(t, engine.RCBusy, engine.RCOf(err))

	// read-only connections can neither create nor open containers read-write
	assert.Equal(t, engine.RCNoPerm, engine.RCOf(e.ContCreate(ro, uuid.New())))

	_, _, err = e.PoolConnect(id, "", []engine.Rank{3}, engine.PoolConnectRO)
	assert.Equal(t, engine.RCInval, engine.RCOf(err))
	_, _, err = e.PoolConnect(id, "", svc, engine.PoolConnectRO|engine.PoolConnectRW)
	assert.Equal(t, engine.RCInval, engine.RCOf(err))
}

func TestAggregationKeepsVisibleVersions(t *testing.T) {
	e := NewLocalEngine(nil)
	_, coh := setup(t, e)
	oid, err := e.ObjGenerateOID(engine.DefaultClass)
	require.NoError(t, err)
	oh, err := e.ObjOpen(coh, oid, 0, engine.ObjOpenRW)
	require.NoError(t, err)

	for i := 0; i < 4; i++ {
		ep, _, err := e.EpochHold(coh, 0)
		require.NoError(t, err)
		write(t, e, oh, ep, string(rune('a'+i)))
		_, err = e.EpochCommit(coh, ep)
		require.NoError(t, err)
	}
	before, err := e.Info()
	require.NoError(t, err)
	assert.Equal(t, 4, before.Records)

	state, err := e.EpochSlip(coh, 3)
	require.NoError(t, err)
	assert.Equal(t, engine.Epoch(3), state.LRE)

	// versions 1 and 2 can no longer be read, version 3 is still visible at 3
	after, err := e.Info()
	require.NoError(t, err)
	assert.Equal(t, 2, after.Records)

	iods := []engine.IOD{{Name: []byte("a"), Type: engine.IODSingle, Epoch: engine.ReadRange(3)}}
	sgls := []engine.SGL{engine.NewSGL(engine.NewOwnedIOV(4))}
	require.NoError(t, e.ObjFetch(oh, 3, []byte("d"), iods, sgls))
	assert.Equal(t, "c", string(sgls[0].IOVs[0].Bytes()))
}

func TestRewriteSameEpoch(t *testing.T) {
	e := NewLocalEngine(nil)
	_, coh := setup(t, e)
	oid, err := e.ObjGenerateOID(engine.ClassTinyRW)
	require.NoError(t, err)
	oh, err := e.ObjOpen(coh, oid, 0, engine.ObjOpenRW)
	require.NoError(t, err)

	ep, _, err := e.EpochHold(coh, 0)
	require.NoError(t, err)
	write(t, e, oh, ep, "first")
	write(t, e, oh, ep, "second")

	info, err := e.Info()
	require.NoError(t, err)
	assert.Equal(t, 1, info.Records)
	assert.Equal(t, uint64(len("second")), info.Bytes)

	// an akey keeps its record type
	arr := engine.IOD{Name: []byte("a"), Type: engine.IODArray, Size: 1, Extents: []engine.Extent{{Index: 0, Count: 1}}, Epoch: engine.WriteRange(ep)}
	err = e.ObjUpdate(oh, ep, []byte("d"), []engine.IOD{arr}, []engine.SGL{engine.NewSGL(engine.BorrowIOV([]byte("x")))})
	assert.Equal(t, engine.RCInval, engine.RCOf(err))
}

func TestSnapshotIsDeterministic(t *testing.T) {
	e := NewLocalEngine(nil)
	_, coh := setup(t, e)
	for i := 0; i < 3; i++ {
		oid, err := e.ObjGenerateOID(engine.DefaultClass)
		require.NoError(t, err)
		oh, err := e.ObjOpen(coh, oid, 0, engine.ObjOpenRW)
		require.NoError(t, err)
		write(t, e, oh, 1, "value")
	}

	var a, b bytes.Buffer
	require.NoError(t, e.Save(&a))
	require.NoError(t, e.Save(&b))
	assert.Equal(t, a.Bytes(), b.Bytes())

	// unknown snapshot versions are rejected
	assert.Error(t, NewLocalEngine(nil).Load(bytes.NewReader([]byte("DOBJSNAP\x09"))))
}

func TestComputeLayout(t *testing.T) {
	live := []engine.Rank{2, 5, 7}
	oid := engine.NewOID(engine.ClassRepl2RW, nil)

	layout, err := computeLayout(oid, live)
	require.NoError(t, err)
	require.Len(t, layout.Shards, 1)
	require.Len(t, layout.Shards[0].Ranks, 2)
	assert.NotEqual(t, layout.Shards[0].Ranks[0], layout.Shards[0].Ranks[1])

	hinted, err := oid.WithRankHint(7)
	require.NoError(t, err)
	layout, err = computeLayout(hinted, live)
	require.NoError(t, err)
	assert.Equal(t, []engine.Rank{7, 2}, layout.Shards[0].Ranks)

	// a hint naming a dead rank falls back to hashing
	hinted, err = oid.WithRankHint(3)
	require.NoError(t, err)
	_, err = computeLayout(hinted, live)
	require.NoError(t, err)

	_, err = computeLayout(engine.NewOID(engine.ClassRepl3RW, nil), live[:2])
	assert.Error(t, err)
}
