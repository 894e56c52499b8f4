package server

import (
	"testing"

	"github.com/ValentinKolb/dOBJ/lib/engine"
	"github.com/ValentinKolb/dOBJ/lib/engine/lengine"
	"github.com/ValentinKolb/dOBJ/rpc/common"
	"github.com/ValentinKolb/dOBJ/rpc/serializer"
	"github.com/ValentinKolb/dOBJ/rpc/transport"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type nopTransport struct {
	handler transport.ServerHandleFunc
}

func (n *nopTransport) RegisterHandler(h transport.ServerHandleFunc) { n.handler = h }
func (n *nopTransport) Listen(common.ServerConfig) error            { return nil }
func (n *nopTransport) Close() error                                { return nil }

func newTestServer(t *testing.T) (*RPCServer, *nopTransport, serializer.IRPCSerializer) {
	tr := &nopTransport{}
	s := serializer.NewBinarySerializer()
	srv := NewRPCServer(common.ServerConfig{
		Shards:         []common.ServerShard{{ShardID: 1, Type: common.ShardTypeLocalEngine}},
		DefaultTargets: 2,
		LogLevel:       "error",
	}, tr, s)
	require.NoError(t, srv.Init())
	t.Cleanup(func() { _ = srv.Close() })
	return srv, tr, s
}

func roundTrip(t *testing.T, tr *nopTransport, s serializer.IRPCSerializer, shard uint64, req *common.Message) common.Message {
	data, err := s.Serialize(*req)
	require.NoError(t, err)
	var resp common.Message
	require.NoError(t, s.Deserialize(tr.handler(shard, data), &resp))
	return resp
}

func TestServerInfo(t *testing.T) {
	srv, tr, s := newTestServer(t)

	req, err := common.NewRequest(common.OpInfo, &common.Args{})
	require.NoError(t, err)
	resp := roundTrip(t, tr, s, 1, req)
	require.NoError(t, resp.AsError())

	res, err := common.DecodeResult(resp.Result)
	require.NoError(t, err)
	require.NotNil(t, res.Info)
	assert.Equal(t, "local", res.Info.Type)

	e, ok := srv.Engine(1)
	require.True(t, ok)
	assert.True(t, e.SupportsOp(engine.OpCreatePool))
}

func TestServerUnknownShard(t *testing.T) {
	_, tr, s := newTestServer(t)

	req, err := common.NewRequest(engine.OpQueryPool, &common.Args{Handle: 1})
	require.NoError(t, err)
	resp := roundTrip(t, tr, s, 99, req)
	assert.Equal(t, common.MsgTError, resp.MsgType)
	assert.Equal(t, engine.OpQueryPool, resp.Op)
	assert.Equal(t, engine.RCNonexist, engine.RCOf(resp.AsError()))
}

func TestServerInvalidRequest(t *testing.T) {
	_, tr, s := newTestServer(t)

	var resp common.Message
	require.NoError(t, s.Deserialize(tr.handler(1, []byte{0xff}), &resp))
	assert.Equal(t, engine.RCProto, engine.RCOf(resp.AsError()))
}

func TestAdapter(t *testing.T) {
	adapter := NewIEngineServerAdapter()
	e := lengine.NewLocalEngine(nil)
	defer e.Close()

	tests := []struct {
		name string
		req  *common.Message
		rc   engine.RC
	}{
		{"NilEngineIsRejected", &common.Message{MsgType: common.MsgTRequest, Op: engine.OpQueryPool}, engine.RCNoHandle},
		{"ResponseIsNoRequest", &common.Message{MsgType: common.MsgTResponse, Op: engine.OpQueryPool}, engine.RCProto},
		{"UndecodableArguments", &common.Message{MsgType: common.MsgTRequest, Op: engine.OpQueryPool, Args: []byte{0xff, 0x00}}, engine.RCProto},
		{"UnsupportedOperation", &common.Message{MsgType: common.MsgTRequest, Op: engine.OpExtendPool}, engine.RCNoSys},
		{"CreateWithoutRequest", &common.Message{MsgType: common.MsgTRequest, Op: engine.OpCreatePool}, engine.RCInval},
		{"LogWithoutRecord", &common.Message{MsgType: common.MsgTRequest, Op: engine.OpLog}, engine.RCInval},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			var target engine.IEngine = e
			if tc.name == "NilEngineIsRejected" {
				target = nil
			}
			resp := adapter.Handle(tc.req, target)
			assert.Equal(t, common.MsgTError, resp.MsgType)
			assert.Equal(t, tc.rc, engine.RCOf(resp.AsError()))
		})
	}
}

func TestAdapterFetchReportsSizesOnTruncation(t *testing.T) {
	adapter := NewIEngineServerAdapter()
	e := lengine.NewLocalEngine(nil)
	defer e.Close()

	id, svc, err := e.PoolCreate(engine.PoolCreateRequest{ScmSize: 1 << 20, SvcNr: 1})
	require.NoError(t, err)
	poh, _, err := e.PoolConnect(id, "", svc, engine.PoolConnectRW)
	require.NoError(t, err)
	cid := id // any uuid works for the container
	require.NoError(t, e.ContCreate(poh, cid))
	coh, _, err := e.ContOpen(poh, cid, 0)
	require.NoError(t, err)
	ep, _, err := e.EpochHold(coh, 0)
	require.NoError(t, err)
	oid, err := e.ObjGenerateOID(engine.DefaultClass)
	require.NoError(t, err)
	oh, err := e.ObjOpen(coh, oid, 0, engine.ObjOpenRW)
	require.NoError(t, err)

	value := []byte("0123456789")
	iods := []engine.IOD{{Name: []byte("a"), Type: engine.IODSingle, Size: uint64(len(value)), Epoch: engine.WriteRange(ep)}}
	require.NoError(t, e.ObjUpdate(oh, ep, []byte("d"), iods, []engine.SGL{engine.NewSGL(engine.BorrowIOV(value))}))

	req, err := common.NewRequest(engine.OpFetchObj, &common.Args{
		Handle: oh,
		Epoch:  ep,
		Dkey:   []byte("d"),
		IODs:   []engine.IOD{{Name: []byte("a"), Type: engine.IODSingle, Size: 4, Epoch: engine.ReadRange(ep)}},
		Caps:   [][]uint64{{4}},
	})
	require.NoError(t, err)

	resp := adapter.Handle(req, e)
	assert.Equal(t, engine.RCTrunc, engine.RCOf(resp.AsError()))

	res, err := common.DecodeResult(resp.Result)
	require.NoError(t, err)
	require.Len(t, res.Sizes, 1)
	assert.Equal(t, uint64(len(value)), res.Sizes[0])
}
