package dobj

import (
	"errors"
	"testing"
	"time"

	"github.com/ValentinKolb/dOBJ/lib/engine"
	"github.com/ValentinKolb/dOBJ/lib/engine/lengine"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// --------------------------------------------------------------------------
// Helpers
// --------------------------------------------------------------------------

func newTestContext(t *testing.T, e engine.IEngine) *Context {
	t.Helper()
	if e == nil {
		e = lengine.NewLocalEngine(nil)
	}
	ctx, err := NewContext(e, WithOwnedEngine(), WithWorkers(4))
	require.NoError(t, err)
	t.Cleanup(func() { _ = ctx.Close() })
	return ctx
}

// openContainer creates and connects a pool and creates and opens a container in it.
func openContainer(t *testing.T, ctx *Context) (*Pool, *Container) {
	t.Helper()
	pool := NewPool(ctx)
	require.NoError(t, pool.Create(0o731, 0, 0, 1<<20, "", nil, 1, nil))
	require.NoError(t, pool.Connect(engine.PoolConnectRW, nil))

	cont := NewContainer(ctx)
	require.NoError(t, cont.Create(pool.Handle, uuid.Nil, nil))
	require.NoError(t, cont.Open(pool.Handle, cont.UUID, 0, nil))
	return pool, cont
}

func requireEngineRC(t *testing.T, want engine.RC, err error) {
	t.Helper()
	require.Error(t, err)
	var ee *EngineError
	require.True(t, errors.As(err, &ee), "unexpected error: %v", err)
	assert.Equal(t, want, ee.RC)
}

func rank(r engine.Rank) *engine.Rank { return &r }

// limitedEngine hides some operations of the wrapped engine.
type limitedEngine struct {
	engine.IEngine
	hidden engine.OpSet
}

func (l limitedEngine) SupportsOp(op engine.Op) bool {
	return !l.hidden.Has(op) && l.IEngine.SupportsOp(op)
}

// --------------------------------------------------------------------------
// Pool
// --------------------------------------------------------------------------

func TestPoolLifecycle(t *testing.T) {
	ctx := newTestContext(t, nil)
	pool := NewPool(ctx)

	err := pool.Connect(engine.PoolConnectRW, nil)
	assert.True(t, IsPrecondition(err))
	assert.Equal(t, int(engine.RCInval), RC(err))

	require.NoError(t, pool.Create(0o731, 0, 0, 1<<20, "", nil, 1, nil))
	assert.NotEqual(t, uuid.Nil, pool.UUID)
	assert.True(t, pool.Attached)
	assert.Len(t, pool.Svc, 1)

	require.NoError(t, pool.Connect(engine.PoolConnectRW, nil))
	assert.True(t, pool.Handle.IsValid())
	assert.Equal(t, pool.UUID, pool.Info.UUID)

	require.NoError(t, pool.Exclude([]engine.Rank{1}, nil))
	require.NoError(t, pool.Query(nil))
	assert.Equal(t, uint32(1), pool.Info.Disabled)
	require.NoError(t, pool.AddTarget([]engine.Rank{1}, nil))
	require.NoError(t, pool.Query(nil))
	assert.Equal(t, uint32(0), pool.Info.Disabled)
	assert.True(t, IsPrecondition(pool.Exclude(nil, nil)))

	err = pool.Destroy(false, nil)
	requireEngineRC(t, engine.RCBusy, err)

	require.NoError(t, pool.Disconnect(nil))
	assert.False(t, pool.Handle.IsValid())
	assert.True(t, IsPrecondition(pool.Disconnect(nil)))
	assert.True(t, IsPrecondition(pool.Query(nil)))

	require.NoError(t, pool.Destroy(false, nil))
	assert.False(t, pool.Attached)
	requireEngineRC(t, engine.RCNonexist, pool.Connect(engine.PoolConnectRW, nil))
	assert.False(t, pool.Handle.IsValid())
}

func TestPoolCreateFailureResetsUUID(t *testing.T) {
	ctx := newTestContext(t, lengine.NewLocalEngine(&lengine.Options{Group: "g1", DefaultTargets: 4}))
	pool := NewPool(ctx)
	err := pool.Create(0o731, 0, 0, 1<<20, "other", nil, 1, nil)
	requireEngineRC(t, engine.RCNonexist, err)
	assert.Equal(t, uuid.Nil, pool.UUID)
	assert.False(t, pool.Attached)
}

func TestPoolUnsupported(t *testing.T) {
	ctx := newTestContext(t, nil)
	pool := NewPool(ctx)

	for _, err := range []error{pool.Extend(), pool.TargetQuery()} {
		assert.True(t, IsUnsupported(err))
		assert.Equal(t, int(engine.RCNoSys), RC(err))
	}
	assert.False(t, ctx.Bound(engine.OpExtendPool))
	assert.False(t, ctx.Bound(engine.OpQueryTarget))
	assert.True(t, ctx.Bound(engine.OpConnectPool))
	assert.True(t, ctx.Bound(engine.OpCreateEQ))
}

func TestPoolEvictAndStopService(t *testing.T) {
	ctx := newTestContext(t, nil)
	pool, cont := openContainer(t, ctx)
	other := &Pool{ctx: ctx, UUID: pool.UUID, Svc: pool.Svc}

	require.NoError(t, other.Evict(nil))
	assert.False(t, other.Handle.IsValid())
	requireEngineRC(t, engine.RCNoHandle, pool.Query(nil))
	requireEngineRC(t, engine.RCNoHandle, cont.Query(nil))

	require.NoError(t, pool.Connect(engine.PoolConnectRW, nil))
	require.NoError(t, pool.StopService(nil))
	requireEngineRC(t, engine.RCUnreach, pool.Connect(engine.PoolConnectRW, nil))
}

func TestPoolGlobalHandle(t *testing.T) {
	ctx := newTestContext(t, nil)
	pool, _ := openContainer(t, ctx)

	gh, err := pool.Local2Global()
	require.NoError(t, err)
	assert.Equal(t, gh.IovLen, gh.IovBufLen)
	assert.Equal(t, gh.IovLen, uint64(len(gh.Data)))

	// ship the handle through its binary form
	blob, err := gh.MarshalBinary()
	require.NoError(t, err)
	var shipped GlobalHandle
	require.NoError(t, shipped.UnmarshalBinary(blob))
	assert.Equal(t, gh, shipped)

	remote := &Pool{ctx: ctx, UUID: pool.UUID}
	require.NoError(t, remote.Global2Local(shipped))
	assert.True(t, remote.Handle.IsValid())
	assert.NotEqual(t, pool.Handle, remote.Handle)
	require.NoError(t, remote.Query(nil))
	assert.Equal(t, pool.UUID, remote.Info.UUID)

	shipped.Data[len(shipped.Data)-1] ^= 0xff
	err = remote.Global2Local(shipped)
	var ioErr *IoError
	require.True(t, errors.As(err, &ioErr), "unexpected error: %v", err)
	assert.Equal(t, engine.OpGlobal2LocalPool, ioErr.Op)
	assert.Equal(t, engine.RCInval, ioErr.RC)

	_, err = NewPool(ctx).Local2Global()
	assert.True(t, IsPrecondition(err))
}

func TestGlobalHandleShortInput(t *testing.T) {
	var gh GlobalHandle
	assert.Error(t, gh.UnmarshalBinary([]byte{1, 2, 3}))

	blob, err := GlobalHandle{IovLen: 3, IovBufLen: 4, Data: []byte("abc")}.MarshalBinary()
	require.NoError(t, err)
	assert.Equal(t, []byte{0, 0, 0, 0, 0, 0, 0, 3, 0, 0, 0, 0, 0, 0, 0, 4, 'a', 'b', 'c'}, blob)
}

// --------------------------------------------------------------------------
// Container
// --------------------------------------------------------------------------

func TestContainerLifecycle(t *testing.T) {
	ctx := newTestContext(t, nil)
	pool, cont := openContainer(t, ctx)
	assert.NotEqual(t, uuid.Nil, cont.UUID)
	assert.Equal(t, engine.ContOpenRW, cont.Flags)
	assert.Equal(t, cont.UUID, cont.Info.UUID)

	dup := NewContainer(ctx)
	requireEngineRC(t, engine.RCExist, dup.Create(pool.Handle, cont.UUID, nil))
	assert.Equal(t, uuid.Nil, dup.UUID)

	requireEngineRC(t, engine.RCBusy, cont.Destroy(0, uuid.Nil, false, nil))
	require.NoError(t, cont.Close(nil))
	assert.True(t, IsPrecondition(cont.Close(nil)))
	require.NoError(t, cont.Destroy(0, uuid.Nil, false, nil))
	requireEngineRC(t, engine.RCNonexist, cont.Open(0, uuid.Nil, 0, nil))
	assert.False(t, cont.Handle.IsValid())

	assert.True(t, IsPrecondition(NewContainer(ctx).Create(0, uuid.Nil, nil)))
	assert.True(t, IsPrecondition(NewContainer(ctx).Open(pool.Handle, uuid.Nil, 0, nil)))
}

func TestContainerAttributes(t *testing.T) {
	ctx := newTestContext(t, nil)
	_, cont := openContainer(t, ctx)

	assert.True(t, IsPrecondition(cont.SetAttr(nil, nil)))
	_, err := cont.GetAttr(nil)
	assert.True(t, IsPrecondition(err))

	require.NoError(t, cont.SetAttr(map[string][]byte{
		"owner": []byte("alice"),
		"color": []byte("blue"),
	}, nil))
	names, err := cont.ListAttr()
	require.NoError(t, err)
	assert.Equal(t, []string{"color", "owner"}, names)

	values, err := cont.GetAttr([]string{"owner", "color"})
	require.NoError(t, err)
	assert.Equal(t, map[string][]byte{"owner": []byte("alice"), "color": []byte("blue")}, values)

	_, err = cont.GetAttr([]string{"missing"})
	requireEngineRC(t, engine.RCNonexist, err)
}

func TestContainerGlobalHandle(t *testing.T) {
	ctx := newTestContext(t, nil)
	pool, cont := openContainer(t, ctx)
	obj, epoch, err := cont.WriteObject([]byte("shared"), []byte("d"), []byte("a"), nil, nil, 0)
	require.NoError(t, err)

	gh, err := cont.Local2Global()
	require.NoError(t, err)

	remote := NewContainer(ctx)
	assert.True(t, IsPrecondition(remote.Global2Local(0, gh)))
	require.NoError(t, remote.Global2Local(pool.Handle, gh))
	require.NoError(t, remote.Query(nil))
	assert.Equal(t, cont.UUID, remote.Info.UUID)

	value, err := remote.ReadObject(16, []byte("d"), []byte("a"), NewObject(remote, obj.OID), epoch)
	require.NoError(t, err)
	assert.Equal(t, []byte("shared"), value)
}

// --------------------------------------------------------------------------
// Epochs
// --------------------------------------------------------------------------

func TestEpochsNeedOpenContainer(t *testing.T) {
	ctx := newTestContext(t, nil)
	epochs := NewContainer(ctx).Epochs()

	_, err := epochs.Hold()
	var pe *PreconditionError
	require.True(t, errors.As(err, &pe), "unexpected error: %v", err)
	assert.Equal(t, engine.OpHoldEpoch, pe.Op)
	assert.Equal(t, "Container needs to be open.", pe.Msg)

	assert.True(t, IsPrecondition(epochs.Commit(1)))
	assert.True(t, IsPrecondition(epochs.Slip(1)))
	assert.True(t, IsPrecondition(epochs.Consolidate()))
}

func TestEpochHoldCommit(t *testing.T) {
	ctx := newTestContext(t, nil)
	_, cont := openContainer(t, ctx)
	epochs := cont.Epochs()

	e1, err := epochs.Hold()
	require.NoError(t, err)
	e2, err := epochs.Hold()
	require.NoError(t, err)
	assert.Greater(t, uint64(e2), uint64(e1))

	requireEngineRC(t, engine.RCNonexist, epochs.Commit(e2+100))

	require.NoError(t, epochs.Commit(e2))
	state, err := epochs.Query()
	require.NoError(t, err)
	assert.Equal(t, e2, state.HCE)
	requireEngineRC(t, engine.RCAlready, epochs.Commit(e1))

	require.NoError(t, epochs.Consolidate())
	state, err = epochs.Query()
	require.NoError(t, err)
	assert.Equal(t, e2, state.LRE)
}

func TestEpochAsync(t *testing.T) {
	ctx := newTestContext(t, nil)
	_, cont := openContainer(t, ctx)
	epochs := cont.Epochs()

	cb, fut := NewFuture()
	require.NoError(t, epochs.HoldAsync(cb))
	rc, arg := fut.Result()
	require.Equal(t, 0, rc)
	assert.True(t, epochs == arg)
	held := epochs.Last
	assert.NotZero(t, uint64(held))

	cb, fut = NewFuture()
	require.NoError(t, epochs.CommitAsync(held, cb))
	require.Equal(t, 0, fut.Wait())
	assert.Equal(t, held, epochs.State.HCE)

	cb, fut = NewFuture()
	require.NoError(t, epochs.CommitAsync(held, cb))
	assert.Equal(t, int(engine.RCAlready), fut.Wait())
}

// --------------------------------------------------------------------------
// Objects and I/O
// --------------------------------------------------------------------------

func TestObjectCreate(t *testing.T) {
	ctx := newTestContext(t, nil)
	_, cont := openContainer(t, ctx)

	obj := NewObject(cont, engine.OID{})
	assert.True(t, IsPrecondition(obj.Create(rank(256), engine.ClassTinyRW)))
	assert.True(t, obj.OID.IsZero())

	require.NoError(t, obj.Create(rank(2), engine.ClassReplMaxRW))
	hint, ok := obj.OID.RankHint()
	assert.True(t, ok)
	assert.Equal(t, engine.Rank(2), hint)
	assert.Equal(t, engine.ClassReplMaxRW, obj.Class())

	plain := NewObject(cont, engine.OID{})
	require.NoError(t, plain.Create(nil, 0))
	_, ok = plain.OID.RankHint()
	assert.False(t, ok)
	assert.Equal(t, engine.DefaultClass, plain.Class())

	requireEngineRC(t, engine.RCNoType, NewObject(cont, engine.OID{}).Create(nil, 99))
}

func TestObjectLayout(t *testing.T) {
	ctx := newTestContext(t, nil)
	pool, cont := openContainer(t, ctx)

	obj := NewObject(cont, engine.OID{})
	require.NoError(t, obj.Create(rank(2), engine.ClassReplMaxRW))
	require.NoError(t, obj.GetLayout())
	assert.True(t, obj.Handle.IsValid())
	assert.Equal(t, []engine.Rank{2, 3, 0, 1}, obj.Ranks)
	require.Len(t, obj.Layout.Shards, 1)

	leaders, err := obj.Query(0)
	require.NoError(t, err)
	assert.Equal(t, []engine.Rank{2}, leaders)

	// more replicas than live targets
	require.NoError(t, pool.ExcludeOut([]engine.Rank{1, 2}, nil))
	wide := NewObject(cont, engine.OID{})
	require.NoError(t, wide.Create(nil, engine.ClassRepl3RW))
	err = wide.GetLayout()
	var ioErr *IoError
	require.True(t, errors.As(err, &ioErr), "unexpected error: %v", err)
	assert.Equal(t, engine.OpLayoutObj, ioErr.Op)
	assert.Equal(t, engine.RCNoSpace, ioErr.RC)
}

func TestObjectCloseIsIdempotent(t *testing.T) {
	ctx := newTestContext(t, nil)
	_, cont := openContainer(t, ctx)

	obj := NewObject(cont, engine.OID{})
	assert.True(t, IsPrecondition(obj.Open(0)))
	require.NoError(t, obj.Create(nil, engine.ClassTinyRW))
	require.NoError(t, obj.Close())
	require.NoError(t, obj.Open(0))
	oh := obj.Handle
	require.NoError(t, obj.Open(0))
	assert.Equal(t, oh, obj.Handle)
	require.NoError(t, obj.Close())
	assert.False(t, obj.Handle.IsValid())
	require.NoError(t, obj.Close())
}

func TestSingleValues(t *testing.T) {
	ctx := newTestContext(t, nil)
	_, cont := openContainer(t, ctx)
	dkey, akey := []byte("dkey"), []byte("akey")

	obj, e1, err := cont.WriteObject([]byte("first"), dkey, akey, nil, nil, engine.ClassTinyRW)
	require.NoError(t, err)
	_, e2, err := cont.WriteObject([]byte("second value"), dkey, akey, obj, nil, 0)
	require.NoError(t, err)
	assert.Greater(t, uint64(e2), uint64(e1))

	// results are sliced to the stored length, not the buffer capacity
	value, err := cont.ReadObject(64, dkey, akey, obj, e1)
	require.NoError(t, err)
	assert.Equal(t, []byte("first"), value)
	value, err = cont.ReadObject(64, dkey, akey, obj, e2)
	require.NoError(t, err)
	assert.Equal(t, []byte("second value"), value)

	_, err = cont.ReadObject(4, dkey, akey, obj, e2)
	requireEngineRC(t, engine.RCTrunc, err)

	value, err = cont.ReadObject(64, dkey, []byte("missing"), obj, e2)
	require.NoError(t, err)
	assert.Empty(t, value)

	_, err = cont.ReadObject(64, dkey, akey, nil, e2)
	assert.True(t, IsPrecondition(err))
}

func TestSingleFetchHints(t *testing.T) {
	ctx := newTestContext(t, nil)
	_, cont := openContainer(t, ctx)
	obj, epoch, err := cont.WriteObject([]byte("value"), []byte("d"), []byte("a"), nil, nil, 0)
	require.NoError(t, err)

	req, err := NewIORequest(cont, obj, nil, 0)
	require.NoError(t, err)

	value, err := req.SingleFetch([]byte("d"), []byte("a"), 16, epoch, HintSGLNull)
	require.NoError(t, err)
	assert.NotNil(t, value)
	assert.Len(t, value, 0)

	_, err = req.SingleFetch([]byte("d"), []byte("a"), 16, epoch, HintIODNull)
	requireEngineRC(t, engine.RCIOInval, err)

	_, err = req.SingleFetch(nil, []byte("a"), 16, epoch)
	requireEngineRC(t, engine.RCInval, err)
}

func TestArrays(t *testing.T) {
	ctx := newTestContext(t, nil)
	_, cont := openContainer(t, ctx)
	values := [][]byte{[]byte("aaaa"), []byte("bbbb"), []byte("cccc")}

	obj, epoch, err := cont.WriteArray(values, []byte("d"), []byte("a"), nil, rank(1), engine.ClassSmallRW)
	require.NoError(t, err)
	hint, _ := obj.OID.RankHint()
	assert.Equal(t, engine.Rank(1), hint)

	got, err := cont.ReadArray(3, 8, []byte("d"), []byte("a"), obj, epoch)
	require.NoError(t, err)
	assert.Equal(t, values, got)

	// records beyond the written extent read as empty
	got, err = cont.ReadArray(4, 4, []byte("d"), []byte("a"), obj, epoch)
	require.NoError(t, err)
	assert.Equal(t, append(values, []byte{}), got)

	req, err := NewIORequest(cont, obj, nil, 0)
	require.NoError(t, err)
	assert.True(t, IsPrecondition(req.InsertArray([]byte("d"), []byte("a"), [][]byte{[]byte("x"), []byte("yy")}, epoch+1, nil)))
	assert.True(t, IsPrecondition(req.InsertArray([]byte("d"), []byte("a"), nil, epoch+1, nil)))
	_, err = req.FetchArray([]byte("d"), []byte("a"), 0, 4, epoch)
	assert.True(t, IsPrecondition(err))
}

func TestMultiAkeys(t *testing.T) {
	ctx := newTestContext(t, nil)
	_, cont := openContainer(t, ctx)
	dkey := []byte("dkey")

	obj, epoch, err := cont.WriteMultiAkeys(dkey, []AkeyValue{
		{Akey: []byte("a1"), Value: []byte("one")},
		{Akey: []byte("a2"), Value: []byte("two two")},
	}, nil, nil, 0)
	require.NoError(t, err)

	got, err := cont.ReadMultiAkeys(dkey, []AkeySize{{Akey: []byte("a1"), Size: 16}, {Akey: []byte("a2"), Size: 16}}, obj, epoch)
	require.NoError(t, err)
	assert.Equal(t, map[string][]byte{"a1": []byte("one"), "a2": []byte("two two")}, got)

	_, err = cont.ReadMultiAkeys(dkey, []AkeySize{{Akey: []byte("a1"), Size: 16}, {Akey: []byte("a1"), Size: 16}}, obj, epoch)
	assert.True(t, IsPrecondition(err))

	req, err := NewIORequest(cont, obj, nil, 0)
	require.NoError(t, err)
	err = req.MultiAkeyInsert(dkey, []AkeyValue{{Akey: []byte("x"), Value: []byte("1")}, {Akey: []byte("x"), Value: []byte("2")}}, epoch+1, nil)
	assert.True(t, IsPrecondition(err))
}

func TestPunch(t *testing.T) {
	ctx := newTestContext(t, nil)
	_, cont := openContainer(t, ctx)
	dkey, akey := []byte("d"), []byte("a")

	obj, written, err := cont.WriteMultiAkeys(dkey, []AkeyValue{
		{Akey: akey, Value: []byte("v1")},
		{Akey: []byte("b"), Value: []byte("v2")},
	}, nil, nil, 0)
	require.NoError(t, err)

	epoch, err := cont.Epochs().Hold()
	require.NoError(t, err)
	require.NoError(t, obj.PunchAkeys(epoch, dkey, [][]byte{akey}, nil))
	require.NoError(t, cont.Epochs().Commit(epoch))
	assert.True(t, IsPrecondition(obj.PunchAkeys(epoch, nil, nil, nil)))

	got, err := cont.ReadMultiAkeys(dkey, []AkeySize{{Akey: akey, Size: 8}, {Akey: []byte("b"), Size: 8}}, obj, epoch)
	require.NoError(t, err)
	assert.Empty(t, got["a"])
	assert.Equal(t, []byte("v2"), got["b"])

	// older epochs still see the punched value
	value, err := cont.ReadObject(8, dkey, akey, obj, written)
	require.NoError(t, err)
	assert.Equal(t, []byte("v1"), value)

	epoch, err = cont.Epochs().Hold()
	require.NoError(t, err)
	cb, fut := NewFuture()
	require.NoError(t, obj.Punch(epoch, cb))
	require.Equal(t, 0, fut.Wait())
	require.NoError(t, cont.Epochs().Commit(epoch))
	value, err = cont.ReadObject(8, dkey, []byte("b"), obj, epoch)
	require.NoError(t, err)
	assert.Empty(t, value)

	// a nil dkey list also hides dkeys written afterwards below the punch epoch
	req, err := NewIORequest(cont, nil, nil, 0)
	require.NoError(t, err)
	e1, err := cont.Epochs().Hold()
	require.NoError(t, err)
	e2, err := cont.Epochs().Hold()
	require.NoError(t, err)
	require.NoError(t, req.SingleInsert([]byte("d0"), akey, []byte("old"), e1, nil))
	require.NoError(t, req.Obj.PunchDkeys(e2, nil, nil))
	require.NoError(t, req.SingleInsert([]byte("d1"), akey, []byte("new"), e1, nil))

	value, err = req.SingleFetch([]byte("d1"), akey, 8, e2)
	require.NoError(t, err)
	assert.Empty(t, value)
	value, err = req.SingleFetch([]byte("d0"), akey, 8, e2)
	require.NoError(t, err)
	assert.Empty(t, value)
	value, err = req.SingleFetch([]byte("d1"), akey, 8, e1)
	require.NoError(t, err)
	assert.Equal(t, []byte("new"), value)
}

// --------------------------------------------------------------------------
// Async, Events, Bindings
// --------------------------------------------------------------------------

func TestAsyncCalls(t *testing.T) {
	ctx := newTestContext(t, nil)
	pool := NewPool(ctx)

	cb, fut := NewFuture()
	require.NoError(t, pool.Create(0o731, 0, 0, 1<<20, "", nil, 1, cb))
	rc, arg := fut.Result()
	require.Equal(t, 0, rc)
	assert.True(t, pool == arg)
	assert.NotEqual(t, uuid.Nil, pool.UUID)

	cb, fut = NewFuture()
	require.NoError(t, pool.Connect(engine.PoolConnectRW, cb))
	require.Equal(t, 0, fut.Wait())
	assert.True(t, pool.Handle.IsValid())

	// failures are reported to the callback, not returned
	bogus := &Pool{ctx: ctx, UUID: uuid.New()}
	cb, fut = NewFuture()
	require.NoError(t, bogus.Connect(engine.PoolConnectRW, cb))
	assert.Equal(t, int(engine.RCNonexist), fut.Wait())
	assert.False(t, bogus.Handle.IsValid())

	// preconditions are still checked synchronously
	cb, _ = NewFuture()
	assert.True(t, IsPrecondition(NewPool(ctx).Connect(engine.PoolConnectRW, cb)))

	events, err := ctx.EventQueue().Poll(10, time.Second)
	require.NoError(t, err)
	ops := map[engine.Op]int{}
	for len(events) > 0 {
		for _, ev := range events {
			done, rc := ev.Test()
			assert.True(t, done)
			assert.Equal(t, ev.RC(), rc)
			ops[ev.Op()] = rc
		}
		events, err = ctx.EventQueue().Poll(10, 0)
		require.NoError(t, err)
	}
	assert.Equal(t, map[engine.Op]int{
		engine.OpCreatePool:  0,
		engine.OpConnectPool: int(engine.RCNonexist),
	}, ops)
}

func TestConcurrentAsyncWrites(t *testing.T) {
	ctx := newTestContext(t, nil)
	_, cont := openContainer(t, ctx)

	epoch, err := cont.Epochs().Hold()
	require.NoError(t, err)
	req, err := NewIORequest(cont, nil, nil, engine.ClassTinyRW)
	require.NoError(t, err)

	const n = 64
	futures := make([]*Future, n)
	for i := 0; i < n; i++ {
		cb, fut := NewFuture()
		futures[i] = fut
		key := []byte{byte(i)}
		require.NoError(t, req.SingleInsert([]byte("d"), key, key, epoch, cb))
	}
	for _, fut := range futures {
		require.Equal(t, 0, fut.Wait())
	}
	require.NoError(t, cont.Epochs().Commit(epoch))

	for i := 0; i < n; i++ {
		value, err := req.SingleFetch([]byte("d"), []byte{byte(i)}, 1, epoch)
		require.NoError(t, err)
		assert.Equal(t, []byte{byte(i)}, value)
	}
}

func TestEventQueues(t *testing.T) {
	ctx := newTestContext(t, nil)

	eq, err := ctx.CreateEQ()
	require.NoError(t, err)
	assert.NotEqual(t, ctx.EventQueue().ID(), eq.ID())

	events, err := eq.Poll(1, 0)
	require.NoError(t, err)
	assert.Empty(t, events)
	events, err = eq.Poll(1, 10*time.Millisecond)
	require.NoError(t, err)
	assert.Empty(t, events)
	_, err = eq.Poll(0, 0)
	assert.True(t, IsPrecondition(err))

	var ev Event
	require.NoError(t, ev.Init(eq))
	done, _ := ev.Test()
	assert.False(t, done)

	eq.launch(&ev, engine.OpQueryPool)
	requireEngineRC(t, engine.RCBusy, ev.Init(eq))
	requireEngineRC(t, engine.RCEQBusy, ctx.DestroyEQ(eq, false))
	eq.complete(&ev, -1)
	done, rc := ev.Test()
	assert.True(t, done)
	assert.Equal(t, -1, rc)

	events, err = eq.Poll(4, -1)
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.True(t, &ev == events[0])
	assert.Equal(t, engine.OpQueryPool, events[0].Op())

	require.NoError(t, ctx.DestroyEQ(eq, false))
	requireEngineRC(t, engine.RCNonexist, ctx.DestroyEQ(eq, false))
	_, err = eq.Poll(1, 0)
	assert.True(t, IsPrecondition(err))
	assert.True(t, IsPrecondition(ev.Init(eq)))
}

func TestUnboundOperations(t *testing.T) {
	e := limitedEngine{
		IEngine: lengine.NewLocalEngine(nil),
		hidden:  engine.NewOpSet(engine.OpPunchObj, engine.OpLog),
	}
	ctx := newTestContext(t, e)
	assert.False(t, ctx.Bound(engine.OpPunchObj))
	assert.True(t, ctx.Bound(engine.OpPunchDkeys))

	_, cont := openContainer(t, ctx)
	obj, _, err := cont.WriteObject([]byte("v"), []byte("d"), []byte("a"), nil, nil, 0)
	require.NoError(t, err)

	err = obj.Punch(1, nil)
	assert.True(t, IsUnsupported(err))
	cb, _ := NewFuture()
	assert.True(t, IsUnsupported(obj.Punch(1, cb)))
	assert.True(t, IsUnsupported(NewLog(ctx).Info("hidden")))
}

func TestContextClose(t *testing.T) {
	ctx, err := NewContext(lengine.NewLocalEngine(nil))
	require.NoError(t, err)
	pool := NewPool(ctx)
	require.NoError(t, pool.Create(0, 0, 0, 0, "", nil, 0, nil))

	cb, fut := NewFuture()
	require.NoError(t, pool.Connect(engine.PoolConnectRW, cb))
	require.NoError(t, ctx.Close())
	// outstanding calls complete before Close returns
	select {
	case <-fut.Done():
	default:
		t.Fatal("async call still pending after Close")
	}
	require.NoError(t, ctx.Close())

	assert.True(t, IsPrecondition(pool.Query(nil)))
	assert.True(t, IsPrecondition(pool.Query(cb)))
	_, err = ctx.CreateEQ()
	assert.True(t, IsPrecondition(err))

	_, err = NewContext(nil)
	assert.True(t, IsPrecondition(err))
}

// --------------------------------------------------------------------------
// Log, Server
// --------------------------------------------------------------------------

func TestLog(t *testing.T) {
	ctx := newTestContext(t, nil)
	log := NewLog(ctx)
	require.NoError(t, log.Debug("debug message"))
	require.NoError(t, log.Info("info message"))
	require.NoError(t, log.Warning("warning message"))
	require.NoError(t, log.Error("error message"))

	file, function, line := caller(0)
	assert.Equal(t, "dobj_test.go", file)
	assert.Contains(t, function, "TestLog")
	assert.NotZero(t, line)
}

func TestServerKill(t *testing.T) {
	ctx := newTestContext(t, lengine.NewLocalEngine(&lengine.Options{Rank: 3, DefaultTargets: 4}))
	pool, _ := openContainer(t, ctx)

	require.NoError(t, NewServer(ctx, "", 1).Kill(false, nil))
	require.NoError(t, pool.Query(nil))
	assert.Equal(t, engine.TargetDown, pool.Info.Targets[1].State)

	requireEngineRC(t, engine.RCNonexist, NewServer(ctx, "", 9).Kill(false, nil))

	cb, fut := NewFuture()
	require.NoError(t, NewServer(ctx, "", 3).Kill(true, cb))
	require.Equal(t, 0, fut.Wait())
	requireEngineRC(t, engine.RCUnreach, pool.Query(nil))
}

func TestRC(t *testing.T) {
	assert.Equal(t, 0, RC(nil))
	assert.Equal(t, int(engine.RCInval), RC(precondition(engine.OpOpenObj, "x")))
	assert.Equal(t, int(engine.RCNoSys), RC(&UnsupportedError{Op: engine.OpExtendPool}))
	assert.Equal(t, int(engine.RCEpochRO), RC(engineError(engine.OpUpdateObj, engine.NewError(engine.RCEpochRO, "ro"))))
	assert.True(t, IsUnsupported(engineError(engine.OpPunchObj, engine.NewError(engine.RCNoSys, "no"))))
	assert.Equal(t, int(engine.RCTrunc), RC(ioError(engine.OpLayoutObj, engineError(engine.OpLayoutObj, engine.NewError(engine.RCTrunc, "short")))))
}
