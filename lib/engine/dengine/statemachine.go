package dengine

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/ValentinKolb/dOBJ/lib/engine"
	"github.com/ValentinKolb/dOBJ/lib/engine/dengine/internal"
	"github.com/ValentinKolb/dOBJ/lib/engine/lengine"
	sm "github.com/lni/dragonboat/v4/statemachine"
)

// --------------------------------------------------------------------------
// State Machine Implementation
// --------------------------------------------------------------------------

// ObjectStateMachine is a state machine implementation for Dragonboat RAFT.
// Every replica applies the same commands to its own local engine.
type ObjectStateMachine struct {
	replicaID uint64
	shardID   uint64
	engine    lengine.Engine
}

// CreateStateMachineFactory returns a function that can be used by dragonboat to create a new state machine for a node host.
// All replicas of a shard must be created with the same options, since the options take part in command execution.
func CreateStateMachineFactory(opts *lengine.Options) func(shardID uint64, replicaID uint64) sm.IConcurrentStateMachine {
	return func(shardID uint64, replicaID uint64) sm.IConcurrentStateMachine {
		var o *lengine.Options
		if opts != nil {
			copied := *opts
			o = &copied
		}
		return &ObjectStateMachine{
			replicaID: replicaID,
			shardID:   shardID,
			engine:    lengine.NewLocalEngine(o),
		}
	}
}

// Lookup handles read-only queries.
func (fsm *ObjectStateMachine) Lookup(itf interface{}) (interface{}, error) {
	q, ok := itf.(internal.Query)
	if !ok {
		return nil, engine.NewError(engine.RCProto, "invalid query type: %T", itf)
	}
	if q.Op == internal.OpInfo {
		info, err := fsm.engine.Info()
		return internal.Result{Info: &info}, err
	}
	if q.Op.IsMutation() {
		return nil, engine.NewError(engine.RCInval, "%s is not a query", q.Op)
	}
	return apply(fsm.engine, q.Op, &q.Args, q.Glob)
}

// Update applies committed commands to the engine.
// The engine result code is returned in Result.Value (negated), the encoded result or error message in Result.Data.
func (fsm *ObjectStateMachine) Update(entries []sm.Entry) ([]sm.Entry, error) {
	if len(entries) == 0 {
		return entries, nil
	}

	start := time.Now()

	for idx, e := range entries {
		cmd := internal.Command{}
		if err := cmd.Deserialize(e.Cmd); err != nil {
			entries[idx].Result = failure(engine.NewError(engine.RCProto, "failed to deserialize command: %v", err))
			continue
		}

		res, err := apply(fsm.engine, cmd.Op, &cmd.Args, nil)
		if err != nil {
			entries[idx].Result = failure(err)
			continue
		}
		data, err := internal.EncodeResult(res)
		if err != nil {
			entries[idx].Result = failure(engine.NewError(engine.RCProto, "failed to encode %s result: %v", cmd.Op, err))
			continue
		}
		entries[idx].Result = sm.Result{Value: 0, Data: data}
	}

	if elapsed := time.Since(start); elapsed > time.Millisecond {
		log.Infof("State machine took long to update. Batch updated %d entries, took %.2fms:", len(entries), float64(elapsed)/float64(time.Millisecond))
	}
	return entries, nil
}

// failure encodes an engine error as a command result.
func failure(err error) sm.Result {
	msg := err.Error()
	var ee *engine.Error
	if errors.As(err, &ee) {
		msg = ee.Msg
	}
	return sm.Result{Value: uint64(-int64(engine.RCOf(err))), Data: []byte(msg)}
}

// PrepareSnapshot captures the engine state while updates are paused.
func (fsm *ObjectStateMachine) PrepareSnapshot() (interface{}, error) {
	var buf bytes.Buffer
	if err := fsm.engine.Save(&buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// SaveSnapshot writes the state captured by PrepareSnapshot.
func (fsm *ObjectStateMachine) SaveSnapshot(ctx interface{}, writer io.Writer, _ sm.ISnapshotFileCollection, _ <-chan struct{}) error {
	data, ok := ctx.([]byte)
	if !ok {
		return fmt.Errorf("unexpected snapshot context %T", ctx)
	}
	_, err := writer.Write(data)
	return err
}

// RecoverFromSnapshot replaces the engine state with the snapshot.
func (fsm *ObjectStateMachine) RecoverFromSnapshot(r io.Reader, _ []sm.SnapshotFile, _ <-chan struct{}) error {
	return fsm.engine.Load(r)
}

// Close performs any necessary cleanup.
func (fsm *ObjectStateMachine) Close() error {
	return fsm.engine.Close()
}

// --------------------------------------------------------------------------
// Operation dispatch
// --------------------------------------------------------------------------

// apply runs one operation on e. glob is only used by the local2global queries.
func apply(e engine.IEngine, op engine.Op, a *internal.Args, glob *engine.IOV) (internal.Result, error) {
	var res internal.Result
	var err error

	switch op {
	// pool
	case engine.OpCreatePool:
		if a.Create == nil {
			return res, engine.NewError(engine.RCInval, "%s without request", op)
		}
		res.UUID, res.Svc, err = e.PoolCreate(*a.Create)
	case engine.OpDestroyPool:
		err = e.PoolDestroy(a.UUID, a.Group, a.Force)
	case engine.OpConnectPool:
		var info engine.PoolInfo
		res.Handle, info, err = e.PoolConnect(a.UUID, a.Group, a.Svc, a.Flags)
		res.Pool = &info
	case engine.OpDisconnectPool:
		err = e.PoolDisconnect(a.Handle)
	case engine.OpQueryPool:
		var info engine.PoolInfo
		info, err = e.PoolQuery(a.Handle)
		res.Pool = &info
	case engine.OpExcludePool:
		err = e.PoolExclude(a.UUID, a.Group, a.Svc, a.Ranks)
	case engine.OpExcludeOutPool:
		err = e.PoolExcludeOut(a.UUID, a.Group, a.Svc, a.Ranks)
	case engine.OpAddTargetPool:
		err = e.PoolAddTarget(a.UUID, a.Group, a.Svc, a.Ranks)
	case engine.OpEvictPool:
		err = e.PoolEvict(a.UUID, a.Group, a.Svc)
	case engine.OpStopServicePool:
		err = e.PoolStopService(a.Handle)
	case engine.OpExtendPool:
		err = e.PoolExtend(a.UUID, a.Group, a.Ranks)
	case engine.OpQueryTarget:
		var t engine.Target
		t, err = e.PoolQueryTarget(a.Handle, a.Rank)
		res.Target = &t
	case engine.OpLocal2GlobalPool:
		err = e.PoolLocal2Global(a.Handle, glob)
	case engine.OpGlobal2LocalPool:
		res.Handle, err = e.PoolGlobal2Local(engine.BorrowIOV(a.Glob))

	// container
	case engine.OpCreateCont:
		err = e.ContCreate(a.Parent, a.UUID)
	case engine.OpDestroyCont:
		err = e.ContDestroy(a.Parent, a.UUID, a.Force)
	case engine.OpOpenCont:
		var info engine.ContInfo
		res.Handle, info, err = e.ContOpen(a.Parent, a.UUID, a.Flags)
		res.Cont = &info
	case engine.OpCloseCont:
		err = e.ContClose(a.Handle)
	case engine.OpQueryCont:
		var info engine.ContInfo
		info, err = e.ContQuery(a.Handle)
		res.Cont = &info
	case engine.OpLocal2GlobalCont:
		err = e.ContLocal2Global(a.Handle, glob)
	case engine.OpGlobal2LocalCont:
		res.Handle, err = e.ContGlobal2Local(a.Parent, engine.BorrowIOV(a.Glob))
	case engine.OpListAttrCont:
		res.Names, err = e.ContListAttr(a.Handle)
	case engine.OpGetAttrCont:
		res.Values, err = e.ContGetAttr(a.Handle, a.Names)
	case engine.OpSetAttrCont:
		err = e.ContSetAttr(a.Handle, a.Names, a.Values)

	// epoch
	case engine.OpHoldEpoch:
		res.Epoch, res.State, err = e.EpochHold(a.Handle, a.Epoch)
	case engine.OpCommitEpoch:
		res.State, err = e.EpochCommit(a.Handle, a.Epoch)
	case engine.OpSlipEpoch:
		res.State, err = e.EpochSlip(a.Handle, a.Epoch)

	// object
	case engine.OpOpenObj:
		res.Handle, err = e.ObjOpen(a.Handle, a.OID, a.Epoch, a.Flags)
	case engine.OpCloseObj:
		err = e.ObjClose(a.Handle)
	case engine.OpQueryObj:
		res.Ranks, err = e.ObjQuery(a.Handle, a.Epoch)
	case engine.OpLayoutObj:
		var l engine.Layout
		l, err = e.ObjLayout(a.Handle, a.OID)
		res.Layout = &l
	case engine.OpFetchObj:
		err = e.ObjFetch(a.Handle, a.Epoch, a.Dkey, a.IODs, a.SGLs)
	case engine.OpUpdateObj:
		err = e.ObjUpdate(a.Handle, a.Epoch, a.Dkey, a.IODs, a.SGLs)
	case engine.OpPunchObj:
		err = e.ObjPunch(a.Handle, a.Epoch)
	case engine.OpPunchDkeys:
		err = e.ObjPunchDkeys(a.Handle, a.Epoch, a.Keys)
	case engine.OpPunchAkeys:
		err = e.ObjPunchAkeys(a.Handle, a.Epoch, a.Dkey, a.Keys)

	// misc
	case engine.OpLog:
		if a.Log == nil {
			return res, engine.NewError(engine.RCInval, "%s without record", op)
		}
		err = e.Log(a.Log.Msg, a.Log.File, a.Log.Function, a.Log.Line, a.Log.Level)
	case engine.OpKillServer:
		err = e.KillServer(a.Group, a.Rank, a.Force)

	default:
		err = engine.NewError(engine.RCNoSys, "operation %s cannot be applied", op)
	}
	return res, err
}
