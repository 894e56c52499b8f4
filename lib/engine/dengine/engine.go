package dengine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ValentinKolb/dOBJ/lib/engine"
	"github.com/ValentinKolb/dOBJ/lib/engine/dengine/internal"
	"github.com/ValentinKolb/dOBJ/lib/engine/lengine"
	"github.com/google/uuid"
	"github.com/lni/dragonboat/v4"
	"github.com/lni/dragonboat/v4/client"
	"github.com/lni/dragonboat/v4/logger"
)

var (
	retries = 5
	log     = logger.GetLogger("engine")
)

// engineImpl is the concrete implementation of the replicated engine.
// It encapsulates a Dragonboat NodeHost which is used to communicate with the state machine.
type engineImpl struct {
	nh      *dragonboat.NodeHost
	shardID uint64
	cs      *client.Session
	timeout time.Duration
}

// NewReplicatedEngine creates a new engine which uses raft consensus to replicate every
// mutation across all replicas of the shard.
func NewReplicatedEngine(nh *dragonboat.NodeHost, shardID uint64, timeout time.Duration) engine.IEngine {
	return &engineImpl{
		nh:      nh,
		shardID: shardID,
		cs:      nh.GetNoOPSession(shardID),
		timeout: timeout,
	}
}

// --------------------------------------------------------------------------
// Internal write and read operations (used by interface methods)
// --------------------------------------------------------------------------

// propose serializes a command and sends it via SyncPropose.
func (s *engineImpl) propose(op engine.Op, args internal.Args) (internal.Result, error) {
	cmd := internal.Command{Op: op, Args: args}
	data, err := cmd.Serialize()
	if err != nil {
		return internal.Result{}, engine.NewError(engine.RCProto, "%v", err)
	}

	for i := 0; i < retries; i++ {
		ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
		res, err := s.nh.SyncPropose(ctx, s.cs, data)
		cancel()

		if errors.Is(err, dragonboat.ErrSystemBusy) {
			log.Infof("SyncPropose %s: System busy, retrying (%d/%d)...", op, i+1, retries)
			time.Sleep(s.timeout / 10)
			continue
		}
		if errors.Is(err, dragonboat.ErrTimeout) {
			return internal.Result{}, engine.NewError(engine.RCTimedOut, "%s: %v", op, err)
		}
		if err != nil {
			return internal.Result{}, engine.NewError(engine.RCUnreach, "%s: %v", op, err)
		}
		if res.Value != 0 {
			return internal.Result{}, &engine.Error{RC: engine.RC(-int64(res.Value)), Msg: string(res.Data)}
		}
		out, err := internal.DecodeResult(res.Data)
		if err != nil {
			return internal.Result{}, engine.NewError(engine.RCProto, "decode %s result: %v", op, err)
		}
		return out, nil
	}
	return internal.Result{}, engine.NewError(engine.RCTimedOut, "%s: system busy", op)
}

// read queries the state machine.
//
// This function uses the SyncRead function (dragonboat) by default.
// If linearizability is not required, stale can be set to true to use the faster StaleRead function.
// If the read fails due to a system busy error, it is retried up to 5 times.
func (s *engineImpl) read(q internal.Query, stale bool) (internal.Result, error) {
	for i := 0; i < retries; i++ {
		var res interface{}
		var err error

		if stale {
			res, err = s.nh.StaleRead(s.shardID, q)
		} else {
			ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
			res, err = s.nh.SyncRead(ctx, s.shardID, q)
			cancel()
		}

		if errors.Is(err, dragonboat.ErrSystemBusy) {
			log.Infof("SyncRead %s: System busy, retrying (%d/%d)...", q.Op, i+1, retries)
			time.Sleep(s.timeout / 10)
			continue
		}

		// the state machine returns engine errors unchanged, keep them
		if err != nil {
			var ee *engine.Error
			if errors.As(err, &ee) {
				return internal.Result{}, ee
			}
			return internal.Result{}, engine.NewError(engine.RCUnreach, "%s: %v", q.Op, err)
		}

		casted, ok := res.(internal.Result)
		if !ok {
			return internal.Result{}, engine.NewError(engine.RCProto,
				"unexpected type: received %T, expected %T", res, internal.Result{})
		}
		return casted, nil
	}
	return internal.Result{}, engine.NewError(engine.RCTimedOut, "%s: system busy", q.Op)
}

// trimmed returns sgls with every IOV cut to its logical length, which keeps
// unused buffer capacity out of the raft log.
func trimmed(sgls []engine.SGL) []engine.SGL {
	out := make([]engine.SGL, len(sgls))
	for i, sgl := range sgls {
		iovs := make([]engine.IOV, len(sgl.IOVs))
		for j, iov := range sgl.IOVs {
			iovs[j] = engine.BorrowIOV(iov.Bytes())
		}
		out[i] = engine.NewSGL(iovs...)
	}
	return out
}

// --------------------------------------------------------------------------
// Interface Methods (docs see engine/interface.go)
// --------------------------------------------------------------------------

func (s *engineImpl) SupportsOp(op engine.Op) bool {
	return lengine.SupportedOps().Has(op)
}

func (s *engineImpl) PoolCreate(req engine.PoolCreateRequest) (uuid.UUID, []engine.Rank, error) {
	// uuids are generated before proposing, every replica must create the same pool
	if req.UUID == uuid.Nil {
		req.UUID = uuid.New()
	}
	res, err := s.propose(engine.OpCreatePool, internal.Args{Create: &req})
	return res.UUID, res.Svc, err
}

func (s *engineImpl) PoolDestroy(id uuid.UUID, group string, force bool) error {
	_, err := s.propose(engine.OpDestroyPool, internal.Args{UUID: id, Group: group, Force: force})
	return err
}

func (s *engineImpl) PoolConnect(id uuid.UUID, group string, svc []engine.Rank, flags uint64) (engine.Handle, engine.PoolInfo, error) {
	res, err := s.propose(engine.OpConnectPool, internal.Args{UUID: id, Group: group, Svc: svc, Flags: flags})
	if err != nil {
		return engine.InvalidHandle, engine.PoolInfo{}, err
	}
	return res.Handle, deref(res.Pool), nil
}

func (s *engineImpl) PoolDisconnect(poh engine.Handle) error {
	_, err := s.propose(engine.OpDisconnectPool, internal.Args{Handle: poh})
	return err
}

func (s *engineImpl) PoolQuery(poh engine.Handle) (engine.PoolInfo, error) {
	res, err := s.read(internal.Query{Op: engine.OpQueryPool, Args: internal.Args{Handle: poh}}, false)
	return deref(res.Pool), err
}

func (s *engineImpl) PoolExclude(id uuid.UUID, group string, svc []engine.Rank, ranks []engine.Rank) error {
	_, err := s.propose(engine.OpExcludePool, internal.Args{UUID: id, Group: group, Svc: svc, Ranks: ranks})
	return err
}

func (s *engineImpl) PoolExcludeOut(id uuid.UUID, group string, svc []engine.Rank, ranks []engine.Rank) error {
	_, err := s.propose(engine.OpExcludeOutPool, internal.Args{UUID: id, Group: group, Svc: svc, Ranks: ranks})
	return err
}

func (s *engineImpl) PoolAddTarget(id uuid.UUID, group string, svc []engine.Rank, ranks []engine.Rank) error {
	_, err := s.propose(engine.OpAddTargetPool, internal.Args{UUID: id, Group: group, Svc: svc, Ranks: ranks})
	return err
}

func (s *engineImpl) PoolEvict(id uuid.UUID, group string, svc []engine.Rank) error {
	_, err := s.propose(engine.OpEvictPool, internal.Args{UUID: id, Group: group, Svc: svc})
	return err
}

func (s *engineImpl) PoolStopService(poh engine.Handle) error {
	_, err := s.propose(engine.OpStopServicePool, internal.Args{Handle: poh})
	return err
}

func (s *engineImpl) PoolExtend(uuid.UUID, string, []engine.Rank) error {
	return engine.NewError(engine.RCNoSys, "%s is not supported", engine.OpExtendPool)
}

func (s *engineImpl) PoolQueryTarget(engine.Handle, engine.Rank) (engine.Target, error) {
	return engine.Target{}, engine.NewError(engine.RCNoSys, "%s is not supported", engine.OpQueryTarget)
}

func (s *engineImpl) PoolLocal2Global(poh engine.Handle, glob *engine.IOV) error {
	_, err := s.read(internal.Query{Op: engine.OpLocal2GlobalPool, Args: internal.Args{Handle: poh}, Glob: glob}, false)
	return err
}

func (s *engineImpl) PoolGlobal2Local(glob engine.IOV) (engine.Handle, error) {
	res, err := s.propose(engine.OpGlobal2LocalPool, internal.Args{Glob: glob.Bytes()})
	return res.Handle, err
}

func (s *engineImpl) ContCreate(poh engine.Handle, id uuid.UUID) error {
	_, err := s.propose(engine.OpCreateCont, internal.Args{Parent: poh, UUID: id})
	return err
}

func (s *engineImpl) ContDestroy(poh engine.Handle, id uuid.UUID, force bool) error {
	_, err := s.propose(engine.OpDestroyCont, internal.Args{Parent: poh, UUID: id, Force: force})
	return err
}

func (s *engineImpl) ContOpen(poh engine.Handle, id uuid.UUID, flags uint64) (engine.Handle, engine.ContInfo, error) {
	res, err := s.propose(engine.OpOpenCont, internal.Args{Parent: poh, UUID: id, Flags: flags})
	if err != nil {
		return engine.InvalidHandle, engine.ContInfo{}, err
	}
	return res.Handle, deref(res.Cont), nil
}

func (s *engineImpl) ContClose(coh engine.Handle) error {
	_, err := s.propose(engine.OpCloseCont, internal.Args{Handle: coh})
	return err
}

func (s *engineImpl) ContQuery(coh engine.Handle) (engine.ContInfo, error) {
	res, err := s.read(internal.Query{Op: engine.OpQueryCont, Args: internal.Args{Handle: coh}}, false)
	return deref(res.Cont), err
}

func (s *engineImpl) ContLocal2Global(coh engine.Handle, glob *engine.IOV) error {
	_, err := s.read(internal.Query{Op: engine.OpLocal2GlobalCont, Args: internal.Args{Handle: coh}, Glob: glob}, false)
	return err
}

func (s *engineImpl) ContGlobal2Local(poh engine.Handle, glob engine.IOV) (engine.Handle, error) {
	res, err := s.propose(engine.OpGlobal2LocalCont, internal.Args{Parent: poh, Glob: glob.Bytes()})
	return res.Handle, err
}

func (s *engineImpl) ContListAttr(coh engine.Handle) ([]string, error) {
	res, err := s.read(internal.Query{Op: engine.OpListAttrCont, Args: internal.Args{Handle: coh}}, false)
	return res.Names, err
}

func (s *engineImpl) ContGetAttr(coh engine.Handle, names []string) ([][]byte, error) {
	res, err := s.read(internal.Query{Op: engine.OpGetAttrCont, Args: internal.Args{Handle: coh, Names: names}}, false)
	return res.Values, err
}

func (s *engineImpl) ContSetAttr(coh engine.Handle, names []string, values [][]byte) error {
	_, err := s.propose(engine.OpSetAttrCont, internal.Args{Handle: coh, Names: names, Values: values})
	return err
}

func (s *engineImpl) EpochHold(coh engine.Handle, epoch engine.Epoch) (engine.Epoch, engine.EpochState, error) {
	res, err := s.propose(engine.OpHoldEpoch, internal.Args{Handle: coh, Epoch: epoch})
	return res.Epoch, res.State, err
}

func (s *engineImpl) EpochCommit(coh engine.Handle, epoch engine.Epoch) (engine.EpochState, error) {
	res, err := s.propose(engine.OpCommitEpoch, internal.Args{Handle: coh, Epoch: epoch})
	return res.State, err
}

func (s *engineImpl) EpochSlip(coh engine.Handle, epoch engine.Epoch) (engine.EpochState, error) {
	res, err := s.propose(engine.OpSlipEpoch, internal.Args{Handle: coh, Epoch: epoch})
	return res.State, err
}

// ObjGenerateOID draws the random bits locally; identifiers are not replicated state.
func (s *engineImpl) ObjGenerateOID(class engine.ObjClass) (engine.OID, error) {
	if !class.Known() {
		return engine.OID{}, engine.NewError(engine.RCNoType, "unknown object class %d", class)
	}
	return engine.NewOID(class, nil), nil
}

func (s *engineImpl) ObjOpen(coh engine.Handle, oid engine.OID, epoch engine.Epoch, mode uint64) (engine.Handle, error) {
	res, err := s.propose(engine.OpOpenObj, internal.Args{Handle: coh, OID: oid, Epoch: epoch, Flags: mode})
	return res.Handle, err
}

func (s *engineImpl) ObjClose(oh engine.Handle) error {
	_, err := s.propose(engine.OpCloseObj, internal.Args{Handle: oh})
	return err
}

func (s *engineImpl) ObjQuery(oh engine.Handle, epoch engine.Epoch) ([]engine.Rank, error) {
	res, err := s.read(internal.Query{Op: engine.OpQueryObj, Args: internal.Args{Handle: oh, Epoch: epoch}}, false)
	return res.Ranks, err
}

func (s *engineImpl) ObjLayout(coh engine.Handle, oid engine.OID) (engine.Layout, error) {
	res, err := s.read(internal.Query{Op: engine.OpLayoutObj, Args: internal.Args{Handle: coh, OID: oid}}, false)
	return deref(res.Layout), err
}

func (s *engineImpl) ObjFetch(oh engine.Handle, epoch engine.Epoch, dkey []byte, iods []engine.IOD, sgls []engine.SGL) error {
	_, err := s.read(internal.Query{Op: engine.OpFetchObj, Args: internal.Args{Handle: oh, Epoch: epoch, Dkey: dkey, IODs: iods, SGLs: sgls}}, false)
	return err
}

func (s *engineImpl) ObjUpdate(oh engine.Handle, epoch engine.Epoch, dkey []byte, iods []engine.IOD, sgls []engine.SGL) error {
	_, err := s.propose(engine.OpUpdateObj, internal.Args{Handle: oh, Epoch: epoch, Dkey: dkey, IODs: iods, SGLs: trimmed(sgls)})
	return err
}

func (s *engineImpl) ObjPunch(oh engine.Handle, epoch engine.Epoch) error {
	_, err := s.propose(engine.OpPunchObj, internal.Args{Handle: oh, Epoch: epoch})
	return err
}

func (s *engineImpl) ObjPunchDkeys(oh engine.Handle, epoch engine.Epoch, dkeys [][]byte) error {
	_, err := s.propose(engine.OpPunchDkeys, internal.Args{Handle: oh, Epoch: epoch, Keys: dkeys})
	return err
}

func (s *engineImpl) ObjPunchAkeys(oh engine.Handle, epoch engine.Epoch, dkey []byte, akeys [][]byte) error {
	_, err := s.propose(engine.OpPunchAkeys, internal.Args{Handle: oh, Epoch: epoch, Dkey: dkey, Keys: akeys})
	return err
}

func (s *engineImpl) Log(msg, file, function string, line int, level engine.LogLevel) error {
	rec := &internal.LogRecord{Msg: msg, File: file, Function: function, Line: line, Level: level}
	_, err := s.read(internal.Query{Op: engine.OpLog, Args: internal.Args{Log: rec}}, true)
	return err
}

func (s *engineImpl) KillServer(group string, rank engine.Rank, force bool) error {
	_, err := s.propose(engine.OpKillServer, internal.Args{Group: group, Rank: rank, Force: force})
	return err
}

func (s *engineImpl) Info() (engine.Info, error) {
	res, err := s.read(internal.Query{Op: internal.OpInfo}, true) // Note: allow for stale reads
	if err != nil {
		return engine.Info{}, err
	}
	info := deref(res.Info)
	info.Type = "replicated"
	if info.Metadata == nil {
		info.Metadata = map[string]string{}
	}
	info.Metadata["shard"] = fmt.Sprint(s.shardID)
	return info, nil
}

// Close does nothing, the node host is owned by the caller.
func (s *engineImpl) Close() error {
	return nil
}

func deref[T any](p *T) T {
	var zero T
	if p == nil {
		return zero
	}
	return *p
}
