package dengine

import (
	"bytes"
	"testing"

	"github.com/ValentinKolb/dOBJ/lib/engine"
	"github.com/ValentinKolb/dOBJ/lib/engine/dengine/internal"
	"github.com/ValentinKolb/dOBJ/lib/engine/lengine"
	"github.com/google/uuid"
	sm "github.com/lni/dragonboat/v4/statemachine"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var index uint64

// update applies a single command like dragonboat would after commit.
func update(t *testing.T, fsm sm.IConcurrentStateMachine, op engine.Op, args internal.Args) (internal.Result, error) {
	t.Helper()
	cmd := internal.Command{Op: op, Args: args}
	data, err := cmd.Serialize()
	require.NoError(t, err)

	index++
	entries, err := fsm.Update([]sm.Entry{{Index: index, Cmd: data}})
	require.NoError(t, err)
	require.Len(t, entries, 1)

	res := entries[0].Result
	if res.Value != 0 {
		return internal.Result{}, &engine.Error{RC: engine.RC(-int64(res.Value)), Msg: string(res.Data)}
	}
	return internal.DecodeResult(res.Data)
}

func lookup(t *testing.T, fsm sm.IConcurrentStateMachine, q internal.Query) (internal.Result, error) {
	t.Helper()
	res, err := fsm.Lookup(q)
	if err != nil {
		return internal.Result{}, err
	}
	r, ok := res.(internal.Result)
	require.True(t, ok, "unexpected lookup result %T", res)
	return r, nil
}

// replica holds the handles of a pool, container and object set up through commands.
type replica struct {
	fsm sm.IConcurrentStateMachine
	poh engine.Handle
	coh engine.Handle
	oh  engine.Handle
}

func newReplica(t *testing.T) *replica {
	fsm := CreateStateMachineFactory(lengine.DefaultOptions())(1, 1)
	r := &replica{fsm: fsm}

	id := uuid.New()
	res, err := update(t, fsm, engine.OpCreatePool, internal.Args{Create: &engine.PoolCreateRequest{UUID: id}})
	require.NoError(t, err)
	require.Equal(t, id, res.UUID)

	res, err = update(t, fsm, engine.OpConnectPool, internal.Args{UUID: id, Svc: res.Svc, Flags: engine.PoolConnectRW})
	require.NoError(t, err)
	require.NotNil(t, res.Pool)
	r.poh = res.Handle

	cid := uuid.New()
	_, err = update(t, fsm, engine.OpCreateCont, internal.Args{Parent: r.poh, UUID: cid})
	require.NoError(t, err)
	res, err = update(t, fsm, engine.OpOpenCont, internal.Args{Parent: r.poh, UUID: cid, Flags: engine.ContOpenRW})
	require.NoError(t, err)
	r.coh = res.Handle

	res, err = update(t, fsm, engine.OpOpenObj, internal.Args{Handle: r.coh, OID: engine.NewOID(engine.DefaultClass, nil), Flags: engine.ObjOpenRW})
	require.NoError(t, err)
	r.oh = res.Handle
	return r
}

func (r *replica) write(t *testing.T, epoch engine.Epoch, dkey []byte, value string) {
	_, err := update(t, r.fsm, engine.OpUpdateObj, internal.Args{
		Handle: r.oh,
		Epoch:  epoch,
		Dkey:   dkey,
		IODs:   []engine.IOD{{Name: []byte("a"), Type: engine.IODSingle, Size: uint64(len(value)), Epoch: engine.WriteRange(epoch)}},
		SGLs:   []engine.SGL{engine.NewSGL(engine.BorrowIOV([]byte(value)))},
	})
	require.NoError(t, err)
}

func (r *replica) read(t *testing.T, epoch engine.Epoch, dkey []byte) string {
	iods := []engine.IOD{{Name: []byte("a"), Type: engine.IODSingle, Epoch: engine.ReadRange(epoch)}}
	sgls := []engine.SGL{engine.NewSGL(engine.NewOwnedIOV(32))}
	_, err := lookup(t, r.fsm, internal.Query{Op: engine.OpFetchObj, Args: internal.Args{Handle: r.oh, Epoch: epoch, Dkey: dkey, IODs: iods, SGLs: sgls}})
	require.NoError(t, err)
	return string(sgls[0].IOVs[0].Bytes())
}

func TestStateMachineAppliesCommands(t *testing.T) {
	r := newReplica(t)

	res, err := update(t, r.fsm, engine.OpHoldEpoch, internal.Args{Handle: r.coh})
	require.NoError(t, err)
	ep := res.Epoch
	assert.Equal(t, engine.Epoch(1), ep)

	r.write(t, ep, []byte("d"), "replicated")
	r.write(t, ep, []byte{}, "empty dkey")
	assert.Equal(t, "replicated", r.read(t, ep, []byte("d")))
	assert.Equal(t, "empty dkey", r.read(t, ep, []byte{}))

	res, err = update(t, r.fsm, engine.OpCommitEpoch, internal.Args{Handle: r.coh, Epoch: ep})
	require.NoError(t, err)
	assert.Equal(t, ep, res.State.HCE)

	// engine errors travel through the result code
	_, err = update(t, r.fsm, engine.OpCommitEpoch, internal.Args{Handle: r.coh, Epoch: 99})
	assert.Equal(t, engine.RCNonexist, engine.RCOf(err))
	_, err = update(t, r.fsm, engine.OpUpdateObj, internal.Args{Handle: r.oh, Epoch: ep, Dkey: nil})
	assert.Equal(t, engine.RCInval, engine.RCOf(err))

	res, err = lookup(t, r.fsm, internal.Query{Op: engine.OpQueryCont, Args: internal.Args{Handle: r.coh}})
	require.NoError(t, err)
	require.NotNil(t, res.Cont)
	assert.Equal(t, ep, res.Cont.Epoch.HCE)
}

func TestStateMachineRejectsInvalidInput(t *testing.T) {
	r := newReplica(t)

	entries, err := r.fsm.Update([]sm.Entry{{Index: 1, Cmd: []byte{1}}, {Index: 2, Cmd: nil}})
	require.NoError(t, err)
	for _, e := range entries {
		assert.Equal(t, uint64(-int64(engine.RCProto)), e.Result.Value)
	}

	_, err = r.fsm.Lookup("not a query")
	assert.Equal(t, engine.RCProto, engine.RCOf(err))
	_, err = r.fsm.Lookup(internal.Query{Op: engine.OpUpdateObj})
	assert.Equal(t, engine.RCInval, engine.RCOf(err))

	res, err := lookup(t, r.fsm, internal.Query{Op: internal.OpInfo})
	require.NoError(t, err)
	require.NotNil(t, res.Info)
	assert.Equal(t, 1, res.Info.Pools)
}

func TestStateMachineGlobalHandles(t *testing.T) {
	r := newReplica(t)

	probe := engine.IOV{}
	_, err := lookup(t, r.fsm, internal.Query{Op: engine.OpLocal2GlobalCont, Args: internal.Args{Handle: r.coh}, Glob: &probe})
	require.NoError(t, err)
	glob := engine.NewOwnedIOV(probe.Len)
	_, err = lookup(t, r.fsm, internal.Query{Op: engine.OpLocal2GlobalCont, Args: internal.Args{Handle: r.coh}, Glob: &glob})
	require.NoError(t, err)

	res, err := update(t, r.fsm, engine.OpGlobal2LocalCont, internal.Args{Parent: r.poh, Glob: glob.Bytes()})
	require.NoError(t, err)
	assert.NotEqual(t, r.coh, res.Handle)
}

func TestStateMachineSnapshot(t *testing.T) {
	r := newReplica(t)
	r.write(t, 1, []byte("d"), "snap")

	ctx, err := r.fsm.PrepareSnapshot()
	require.NoError(t, err)
	// updates after PrepareSnapshot are not part of the snapshot
	r.write(t, 1, []byte("d"), "after")

	var buf bytes.Buffer
	require.NoError(t, r.fsm.SaveSnapshot(ctx, &buf, nil, nil))

	other := CreateStateMachineFactory(lengine.DefaultOptions())(1, 2)
	require.NoError(t, other.RecoverFromSnapshot(&buf, nil, nil))

	restored := &replica{fsm: other, poh: r.poh, coh: r.coh, oh: r.oh}
	assert.Equal(t, "snap", restored.read(t, 1, []byte("d")))
	assert.Equal(t, "after", r.read(t, 1, []byte("d")))

	require.NoError(t, r.fsm.Close())
	require.NoError(t, other.Close())
}

func TestReplicasStayIdentical(t *testing.T) {
	a := CreateStateMachineFactory(lengine.DefaultOptions())(1, 1)
	b := CreateStateMachineFactory(lengine.DefaultOptions())(1, 2)

	id := uuid.New()
	cmds := []internal.Command{
		{Op: engine.OpCreatePool, Args: internal.Args{Create: &engine.PoolCreateRequest{UUID: id}}},
		{Op: engine.OpConnectPool, Args: internal.Args{UUID: id, Flags: engine.PoolConnectRW}},
		{Op: engine.OpCreateCont, Args: internal.Args{Parent: 1, UUID: id}},
		{Op: engine.OpOpenCont, Args: internal.Args{Parent: 1, UUID: id, Flags: engine.ContOpenRW}},
		{Op: engine.OpHoldEpoch, Args: internal.Args{Handle: 2}},
	}
	for _, cmd := range cmds {
		resA, errA := update(t, a, cmd.Op, cmd.Args)
		resB, errB := update(t, b, cmd.Op, cmd.Args)
		require.NoError(t, errA)
		require.NoError(t, errB)
		assert.Equal(t, resA.Handle, resB.Handle, "%s", cmd.Op)
		assert.Equal(t, resA.Epoch, resB.Epoch, "%s", cmd.Op)
	}

	var snapA, snapB bytes.Buffer
	ctxA, err := a.PrepareSnapshot()
	require.NoError(t, err)
	ctxB, err := b.PrepareSnapshot()
	require.NoError(t, err)
	require.NoError(t, a.SaveSnapshot(ctxA, &snapA, nil, nil))
	require.NoError(t, b.SaveSnapshot(ctxB, &snapB, nil, nil))
	assert.Equal(t, snapA.Bytes(), snapB.Bytes())
}
