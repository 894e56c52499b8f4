package client

import (
	"github.com/ValentinKolb/dOBJ/lib/engine"
	"github.com/ValentinKolb/dOBJ/rpc/common"
	"github.com/ValentinKolb/dOBJ/rpc/serializer"
	"github.com/ValentinKolb/dOBJ/rpc/transport"
	"github.com/google/uuid"
	"github.com/pkg/errors"
)

// NewRPCEngine creates a new RPC engine
// The function takes a shard ID, a config, a transport and a serializer as parameters.
// It connects the transport and asks the server which operations the engine hosted
// by the shard supports. It returns an engine.IEngine and an error
func NewRPCEngine(
	shardId uint64,
	config common.ClientConfig,
	transport transport.IRPCClientTransport,
	serializer serializer.IRPCSerializer,
) (engine.IEngine, error) {

	// Connect the transport
	if err := transport.Connect(config); err != nil {
		return nil, errors.Wrap(err, "connect transport")
	}

	e := &rpcEngine{
		rpcClientAdapter: rpcClientAdapter{
			shardId:    shardId,
			config:     config,
			transport:  transport,
			serializer: serializer,
		},
	}

	info, err := e.Info()
	if err != nil {
		_ = transport.Close()
		return nil, errors.Wrapf(err, "query engine of shard %d", shardId)
	}
	e.supported = engine.NewOpSet(info.SupportedOps...)
	Logger.Debugf("Shard %d hosts a %s engine supporting %d operations", shardId, info.Metadata["remote"], len(info.SupportedOps))

	return e, nil
}

type rpcEngine struct {
	rpcClientAdapter
	supported engine.OpSet
}

// --------------------------------------------------------------------------
// Interface Methods (docs see engine/interface.go)
// --------------------------------------------------------------------------

func (e *rpcEngine) SupportsOp(op engine.Op) bool {
	return e.supported.Has(op)
}

func (e *rpcEngine) PoolCreate(req engine.PoolCreateRequest) (uuid.UUID, []engine.Rank, error) {
	res, err := e.invoke(engine.OpCreatePool, common.Args{Create: &req})
	return res.UUID, res.Svc, err
}

func (e *rpcEngine) PoolDestroy(id uuid.UUID, group string, force bool) error {
	_, err := e.invoke(engine.OpDestroyPool, common.Args{UUID: id, Group: group, Force: force})
	return err
}

func (e *rpcEngine) PoolConnect(id uuid.UUID, group string, svc []engine.Rank, flags uint64) (engine.Handle, engine.PoolInfo, error) {
	res, err := e.invoke(engine.OpConnectPool, common.Args{UUID: id, Group: group, Svc: svc, Flags: flags})
	if err != nil {
		return engine.InvalidHandle, engine.PoolInfo{}, err
	}
	return res.Handle, deref(res.Pool), nil
}

func (e *rpcEngine) PoolDisconnect(poh engine.Handle) error {
	_, err := e.invoke(engine.OpDisconnectPool, common.Args{Handle: poh})
	return err
}

func (e *rpcEngine) PoolQuery(poh engine.Handle) (engine.PoolInfo, error) {
	res, err := e.invoke(engine.OpQueryPool, common.Args{Handle: poh})
	return deref(res.Pool), err
}

func (e *rpcEngine) PoolExclude(id uuid.UUID, group string, svc []engine.Rank, ranks []engine.Rank) error {
	_, err := e.invoke(engine.OpExcludePool, common.Args{UUID: id, Group: group, Svc: svc, Ranks: ranks})
	return err
}

func (e *rpcEngine) PoolExcludeOut(id uuid.UUID, group string, svc []engine.Rank, ranks []engine.Rank) error {
	_, err := e.invoke(engine.OpExcludeOutPool, common.Args{UUID: id, Group: group, Svc: svc, Ranks: ranks})
	return err
}

func (e *rpcEngine) PoolAddTarget(id uuid.UUID, group string, svc []engine.Rank, ranks []engine.Rank) error {
	_, err := e.invoke(engine.OpAddTargetPool, common.Args{UUID: id, Group: group, Svc: svc, Ranks: ranks})
	return err
}

func (e *rpcEngine) PoolEvict(id uuid.UUID, group string, svc []engine.Rank) error {
	_, err := e.invoke(engine.OpEvictPool, common.Args{UUID: id, Group: group, Svc: svc})
	return err
}

func (e *rpcEngine) PoolStopService(poh engine.Handle) error {
	_, err := e.invoke(engine.OpStopServicePool, common.Args{Handle: poh})
	return err
}

func (e *rpcEngine) PoolExtend(id uuid.UUID, group string, ranks []engine.Rank) error {
	_, err := e.invoke(engine.OpExtendPool, common.Args{UUID: id, Group: group, Ranks: ranks})
	return err
}

func (e *rpcEngine) PoolQueryTarget(poh engine.Handle, rank engine.Rank) (engine.Target, error) {
	res, err := e.invoke(engine.OpQueryTarget, common.Args{Handle: poh, Rank: rank})
	return deref(res.Target), err
}

func (e *rpcEngine) PoolLocal2Global(poh engine.Handle, glob *engine.IOV) error {
	return e.local2global(engine.OpLocal2GlobalPool, poh, glob)
}

func (e *rpcEngine) PoolGlobal2Local(glob engine.IOV) (engine.Handle, error) {
	res, err := e.invoke(engine.OpGlobal2LocalPool, common.Args{Glob: glob.Bytes()})
	return res.Handle, err
}

func (e *rpcEngine) ContCreate(poh engine.Handle, id uuid.UUID) error {
	_, err := e.invoke(engine.OpCreateCont, common.Args{Parent: poh, UUID: id})
	return err
}

func (e *rpcEngine) ContDestroy(poh engine.Handle, id uuid.UUID, force bool) error {
	_, err := e.invoke(engine.OpDestroyCont, common.Args{Parent: poh, UUID: id, Force: force})
	return err
}

func (e *rpcEngine) ContOpen(poh engine.Handle, id uuid.UUID, flags uint64) (engine.Handle, engine.ContInfo, error) {
	res, err := e.invoke(engine.OpOpenCont, common.Args{Parent: poh, UUID: id, Flags: flags})
	if err != nil {
		return engine.InvalidHandle, engine.ContInfo{}, err
	}
	return res.Handle, deref(res.Cont), nil
}

func (e *rpcEngine) ContClose(coh engine.Handle) error {
	_, err := e.invoke(engine.OpCloseCont, common.Args{Handle: coh})
	return err
}

func (e *rpcEngine) ContQuery(coh engine.Handle) (engine.ContInfo, error) {
	res, err := e.invoke(engine.OpQueryCont, common.Args{Handle: coh})
	return deref(res.Cont), err
}

func (e *rpcEngine) ContLocal2Global(coh engine.Handle, glob *engine.IOV) error {
	return e.local2global(engine.OpLocal2GlobalCont, coh, glob)
}

func (e *rpcEngine) ContGlobal2Local(poh engine.Handle, glob engine.IOV) (engine.Handle, error) {
	res, err := e.invoke(engine.OpGlobal2LocalCont, common.Args{Parent: poh, Glob: glob.Bytes()})
	return res.Handle, err
}

func (e *rpcEngine) ContListAttr(coh engine.Handle) ([]string, error) {
	res, err := e.invoke(engine.OpListAttrCont, common.Args{Handle: coh})
	return res.Names, err
}

func (e *rpcEngine) ContGetAttr(coh engine.Handle, names []string) ([][]byte, error) {
	res, err := e.invoke(engine.OpGetAttrCont, common.Args{Handle: coh, Names: names})
	return res.Values, err
}

func (e *rpcEngine) ContSetAttr(coh engine.Handle, names []string, values [][]byte) error {
	_, err := e.invoke(engine.OpSetAttrCont, common.Args{Handle: coh, Names: names, Values: values})
	return err
}

func (e *rpcEngine) EpochHold(coh engine.Handle, epoch engine.Epoch) (engine.Epoch, engine.EpochState, error) {
	res, err := e.invoke(engine.OpHoldEpoch, common.Args{Handle: coh, Epoch: epoch})
	return res.Epoch, res.State, err
}

func (e *rpcEngine) EpochCommit(coh engine.Handle, epoch engine.Epoch) (engine.EpochState, error) {
	res, err := e.invoke(engine.OpCommitEpoch, common.Args{Handle: coh, Epoch: epoch})
	return res.State, err
}

func (e *rpcEngine) EpochSlip(coh engine.Handle, epoch engine.Epoch) (engine.EpochState, error) {
	res, err := e.invoke(engine.OpSlipEpoch, common.Args{Handle: coh, Epoch: epoch})
	return res.State, err
}

func (e *rpcEngine) ObjGenerateOID(class engine.ObjClass) (engine.OID, error) {
	res, err := e.invoke(engine.OpGenerateOID, common.Args{Class: class})
	return res.OID, err
}

func (e *rpcEngine) ObjOpen(coh engine.Handle, oid engine.OID, epoch engine.Epoch, mode uint64) (engine.Handle, error) {
	res, err := e.invoke(engine.OpOpenObj, common.Args{Handle: coh, OID: oid, Epoch: epoch, Flags: mode})
	return res.Handle, err
}

func (e *rpcEngine) ObjClose(oh engine.Handle) error {
	_, err := e.invoke(engine.OpCloseObj, common.Args{Handle: oh})
	return err
}

func (e *rpcEngine) ObjQuery(oh engine.Handle, epoch engine.Epoch) ([]engine.Rank, error) {
	res, err := e.invoke(engine.OpQueryObj, common.Args{Handle: oh, Epoch: epoch})
	return res.Ranks, err
}

func (e *rpcEngine) ObjLayout(coh engine.Handle, oid engine.OID) (engine.Layout, error) {
	res, err := e.invoke(engine.OpLayoutObj, common.Args{Handle: coh, OID: oid})
	return deref(res.Layout), err
}

// ObjFetch sends the capacities of the receive buffers instead of the buffers and
// copies the returned records, sizes and counts back into iods and sgls.
func (e *rpcEngine) ObjFetch(oh engine.Handle, epoch engine.Epoch, dkey []byte, iods []engine.IOD, sgls []engine.SGL) error {
	args := common.Args{Handle: oh, Epoch: epoch, Dkey: dkey, IODs: iods}
	if len(sgls) > 0 {
		args.Caps = make([][]uint64, len(sgls))
		for i, sgl := range sgls {
			caps := make([]uint64, len(sgl.IOVs))
			for j, iov := range sgl.IOVs {
				caps[j] = iov.Cap()
			}
			args.Caps[i] = caps
		}
	}

	res, err := e.invoke(engine.OpFetchObj, args)

	if len(res.Sizes) == len(iods) {
		for i := range iods {
			iods[i].Size = res.Sizes[i]
		}
	}
	if len(res.Data) == len(sgls) && len(res.Lens) == len(sgls) {
		for i := range sgls {
			iovs := sgls[i].IOVs
			for j := range iovs {
				if j >= len(res.Data[i]) || j >= len(res.Lens[i]) {
					break
				}
				copy(iovs[j].Buf, res.Data[i][j])
				iovs[j].Len = res.Lens[i][j]
			}
			if i < len(res.NrOut) {
				sgls[i].NrOut = res.NrOut[i]
			}
		}
	}
	return err
}

func (e *rpcEngine) ObjUpdate(oh engine.Handle, epoch engine.Epoch, dkey []byte, iods []engine.IOD, sgls []engine.SGL) error {
	_, err := e.invoke(engine.OpUpdateObj, common.Args{Handle: oh, Epoch: epoch, Dkey: dkey, IODs: iods, SGLs: trimmed(sgls)})
	return err
}

func (e *rpcEngine) ObjPunch(oh engine.Handle, epoch engine.Epoch) error {
	_, err := e.invoke(engine.OpPunchObj, common.Args{Handle: oh, Epoch: epoch})
	return err
}

func (e *rpcEngine) ObjPunchDkeys(oh engine.Handle, epoch engine.Epoch, dkeys [][]byte) error {
	_, err := e.invoke(engine.OpPunchDkeys, common.Args{Handle: oh, Epoch: epoch, Keys: dkeys})
	return err
}

func (e *rpcEngine) ObjPunchAkeys(oh engine.Handle, epoch engine.Epoch, dkey []byte, akeys [][]byte) error {
	_, err := e.invoke(engine.OpPunchAkeys, common.Args{Handle: oh, Epoch: epoch, Dkey: dkey, Keys: akeys})
	return err
}

func (e *rpcEngine) Log(msg, file, function string, line int, level engine.LogLevel) error {
	rec := &common.LogRecord{Msg: msg, File: file, Function: function, Line: line, Level: level}
	_, err := e.invoke(engine.OpLog, common.Args{Log: rec})
	return err
}

func (e *rpcEngine) KillServer(group string, rank engine.Rank, force bool) error {
	_, err := e.invoke(engine.OpKillServer, common.Args{Group: group, Rank: rank, Force: force})
	return err
}

// Info returns the statistics of the remote engine. Type is "rpc", the type of the
// remote engine is kept in Metadata["remote"].
func (e *rpcEngine) Info() (engine.Info, error) {
	res, err := e.invoke(common.OpInfo, common.Args{})
	if err != nil {
		return engine.Info{}, err
	}
	info := deref(res.Info)
	if info.Metadata == nil {
		info.Metadata = map[string]string{}
	}
	info.Metadata["remote"] = info.Type
	info.Type = "rpc"
	return info, nil
}

// Close closes the transport, the remote engine keeps running.
func (e *rpcEngine) Close() error {
	return e.transport.Close()
}

// --------------------------------------------------------------------------
// Helper Methods
// --------------------------------------------------------------------------

// local2global runs the two phase global handle protocol remotely: the server fills
// a buffer of the caller's capacity and the result is copied into glob.
func (e *rpcEngine) local2global(op engine.Op, h engine.Handle, glob *engine.IOV) error {
	if glob == nil {
		return engine.NewError(engine.RCInval, "nil global handle buffer")
	}
	res, err := e.invoke(op, common.Args{Handle: h, GlobCap: glob.Cap()})
	glob.Len = res.GlobLen
	copy(glob.Buf, res.Glob)
	return err
}

// trimmed returns sgls with every IOV cut to its logical length, which keeps
// unused buffer capacity off the wire.
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

func deref[T any](p *T) T {
	var zero T
	if p == nil {
		return zero
	}
	return *p
}
