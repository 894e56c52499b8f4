package server

import (
	"github.com/ValentinKolb/dOBJ/lib/engine"
	"github.com/ValentinKolb/dOBJ/rpc/common"
)

func NewIEngineServerAdapter() IRPCServerAdapter {
	return &iEngineServerAdapterImpl{}
}

type iEngineServerAdapterImpl struct{}

func (adapter *iEngineServerAdapterImpl) Handle(req *common.Message, e engine.IEngine) *common.Message {
	// Check for nil engine
	if e == nil {
		return common.NewErrorResponse(req.Op, engine.NewError(engine.RCNoHandle, "handler: engine is nil"))
	}

	if req.MsgType != common.MsgTRequest {
		return common.NewErrorResponse(req.Op, engine.NewError(engine.RCProto, "unexpected message type: %s", req.MsgType))
	}

	args, err := common.DecodeArgs(req.Args)
	if err != nil {
		return common.NewErrorResponse(req.Op, engine.NewError(engine.RCProto, "decode %s arguments: %v", req.Op, err))
	}

	if req.Op == common.OpInfo {
		info, err := e.Info()
		return common.NewResponse(req.Op, &common.Result{Info: &info}, err)
	}

	if !e.SupportsOp(req.Op) {
		return common.NewErrorResponse(req.Op, engine.NewError(engine.RCNoSys, "operation %s is not supported", req.Op))
	}

	res, err := apply(e, req.Op, &args)
	return common.NewResponse(req.Op, &res, err)
}

// apply runs a single operation on e and collects its return values.
func apply(e engine.IEngine, op engine.Op, a *common.Args) (common.Result, error) {
	var res common.Result
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
		glob := engine.NewOwnedIOV(a.GlobCap)
		err = e.PoolLocal2Global(a.Handle, &glob)
		res.Glob, res.GlobLen = glob.Bytes(), glob.Len
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
		glob := engine.NewOwnedIOV(a.GlobCap)
		err = e.ContLocal2Global(a.Handle, &glob)
		res.Glob, res.GlobLen = glob.Bytes(), glob.Len
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
	case engine.OpGenerateOID:
		res.OID, err = e.ObjGenerateOID(a.Class)
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
		err = fetch(e, a, &res)
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
		err = engine.NewError(engine.RCNoSys, "operation %s cannot be served", op)
	}
	return res, err
}

// fetch allocates receive buffers of the capacities the client sent, runs the fetch
// and returns sizes and records. The result is filled even if the fetch fails.
func fetch(e engine.IEngine, a *common.Args, res *common.Result) error {
	var sgls []engine.SGL
	if a.Caps != nil {
		sgls = make([]engine.SGL, len(a.Caps))
		for i, caps := range a.Caps {
			iovs := make([]engine.IOV, len(caps))
			for j, c := range caps {
				iovs[j] = engine.NewOwnedIOV(c)
			}
			sgls[i] = engine.NewSGL(iovs...)
		}
	}

	err := e.ObjFetch(a.Handle, a.Epoch, a.Dkey, a.IODs, sgls)

	res.Sizes = make([]uint64, len(a.IODs))
	for i, iod := range a.IODs {
		res.Sizes[i] = iod.Size
	}
	if sgls != nil {
		res.Data = make([][][]byte, len(sgls))
		res.Lens = make([][]uint64, len(sgls))
		res.NrOut = make([]uint32, len(sgls))
		for i, sgl := range sgls {
			data := make([][]byte, len(sgl.IOVs))
			lens := make([]uint64, len(sgl.IOVs))
			for j, iov := range sgl.IOVs {
				data[j] = iov.Bytes()
				lens[j] = iov.Len
			}
			res.Data[i], res.Lens[i], res.NrOut[i] = data, lens, sgl.NrOut
		}
	}
	return err
}
