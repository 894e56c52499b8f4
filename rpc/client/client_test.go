package client_test

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/ValentinKolb/dOBJ/lib/dobj"
	"github.com/ValentinKolb/dOBJ/lib/engine"
	"github.com/ValentinKolb/dOBJ/lib/engine/enginetesting"
	"github.com/ValentinKolb/dOBJ/rpc/client"
	"github.com/ValentinKolb/dOBJ/rpc/common"
	"github.com/ValentinKolb/dOBJ/rpc/serializer"
	"github.com/ValentinKolb/dOBJ/rpc/server"
	"github.com/ValentinKolb/dOBJ/rpc/transport"
	"github.com/ValentinKolb/dOBJ/rpc/transport/unix"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testShard = 7

// pipeTransport connects a client directly to the handler of a server.
type pipeTransport struct {
	handler transport.ServerHandleFunc
	done    chan struct{}
}

func newPipeTransport() *pipeTransport {
	return &pipeTransport{done: make(chan struct{})}
}

func (p *pipeTransport) RegisterHandler(handler transport.ServerHandleFunc) { p.handler = handler }

func (p *pipeTransport) Listen(common.ServerConfig) error {
	<-p.done
	return nil
}

func (p *pipeTransport) Connect(common.ClientConfig) error {
	if p.handler == nil {
		return errors.New("no handler registered")
	}
	return nil
}

func (p *pipeTransport) Send(shardId uint64, req []byte) ([]byte, error) {
	return p.handler(shardId, req), nil
}

func (p *pipeTransport) Close() error { return nil }

func serverConfig() common.ServerConfig {
	return common.ServerConfig{
		Shards:         []common.ServerShard{{ShardID: testShard, Type: common.ShardTypeLocalEngine}},
		Group:          "test",
		DefaultTargets: 4,
		TimeoutSecond:  5,
		LogLevel:       "error",
	}
}

// newPipeEngine starts a server with one local shard and returns a client engine for it.
func newPipeEngine(t testing.TB, s serializer.IRPCSerializer) engine.IEngine {
	pipe := newPipeTransport()
	srv := server.NewRPCServer(serverConfig(), pipe, s)
	require.NoError(t, srv.Init())
	t.Cleanup(func() { _ = srv.Close() })

	e, err := client.NewRPCEngine(testShard, common.ClientConfig{TimeoutSecond: 5}, pipe, s)
	require.NoError(t, err)
	return e
}

func TestRPCEngine(t *testing.T) {
	serializers := map[string]serializer.IRPCSerializer{
		"Binary": serializer.NewBinarySerializer(),
		"JSON":   serializer.NewJSONSerializer(),
		"GOB":    serializer.NewGOBSerializer(),
		"CBOR":   serializer.NewCBORSerializer(),
	}
	for name, s := range serializers {
		enginetesting.RunEngineTests(t, name, func() engine.IEngine {
			return newPipeEngine(t, s)
		})
	}
}

func TestRPCEngineInfo(t *testing.T) {
	e := newPipeEngine(t, serializer.NewBinarySerializer())
	defer e.Close()

	info, err := e.Info()
	require.NoError(t, err)
	assert.Equal(t, "rpc", info.Type)
	assert.Equal(t, "local", info.Metadata["remote"])

	assert.True(t, e.SupportsOp(engine.OpFetchObj))
	assert.False(t, e.SupportsOp(engine.OpExtendPool))
	assert.False(t, e.SupportsOp(engine.OpInvalid))
}

func TestRPCEngineUnknownShard(t *testing.T) {
	pipe := newPipeTransport()
	srv := server.NewRPCServer(serverConfig(), pipe, serializer.NewBinarySerializer())
	require.NoError(t, srv.Init())
	defer srv.Close()

	_, err := client.NewRPCEngine(testShard+1, common.ClientConfig{TimeoutSecond: 5}, pipe, serializer.NewBinarySerializer())
	require.Error(t, err)
	assert.Equal(t, engine.RCNonexist, engine.RCOf(err))
}

func TestRPCEngineErrorsKeepResultCode(t *testing.T) {
	e := newPipeEngine(t, serializer.NewBinarySerializer())
	defer e.Close()

	_, err := e.PoolQuery(engine.Handle(12345))
	require.Error(t, err)
	assert.Equal(t, engine.RCNoHandle, engine.RCOf(err))

	var ee *engine.Error
	require.True(t, errors.As(err, &ee))
	assert.NotContains(t, ee.Msg, "engine error")
}

func TestRPCEngineLocal2GlobalNilBuffer(t *testing.T) {
	e := newPipeEngine(t, serializer.NewBinarySerializer())
	defer e.Close()

	err := e.PoolLocal2Global(engine.Handle(1), nil)
	assert.Equal(t, engine.RCInval, engine.RCOf(err))
}

// The client API must work unchanged on top of the rpc engine.
func TestRPCEngineWithClientAPI(t *testing.T) {
	e := newPipeEngine(t, serializer.NewBinarySerializer())

	ctx, err := dobj.NewContext(e, dobj.WithOwnedEngine())
	require.NoError(t, err)
	defer ctx.Close()

	pool := dobj.NewPool(ctx)
	require.NoError(t, pool.Create(0o731, 0, 0, 1<<20, "test", nil, 1, nil))
	require.NoError(t, pool.Connect(engine.PoolConnectRW, nil))

	cont := dobj.NewContainer(ctx)
	require.NoError(t, cont.Create(pool.Handle, uuid.Nil, nil))
	require.NoError(t, cont.Open(pool.Handle, cont.UUID, 0, nil))

	obj, epoch, err := cont.WriteObject([]byte("remote value"), []byte("dkey"), []byte("akey"), nil, nil, 0)
	require.NoError(t, err)

	value, err := cont.ReadObject(64, []byte("dkey"), []byte("akey"), obj, epoch)
	require.NoError(t, err)
	assert.Equal(t, "remote value", string(value))
}

func TestUnixTransport(t *testing.T) {
	socket := filepath.Join(t.TempDir(), "dobj.sock")

	config := serverConfig()
	config.Transport = common.DefaultTransportConfig()
	config.Transport.Endpoint = socket

	srv := server.NewRPCServer(config, unix.NewUnixDefaultServerTransport(), serializer.NewBinarySerializer())
	served := make(chan error, 1)
	go func() { served <- srv.Serve() }()
	defer func() {
		require.NoError(t, srv.Close())
		require.NoError(t, <-served)
	}()

	// wait for the socket
	deadline := time.Now().Add(5 * time.Second)
	for {
		if _, err := os.Stat(socket); err == nil {
			break
		}
		require.True(t, time.Now().Before(deadline), "socket was not created")
		time.Sleep(10 * time.Millisecond)
	}

	clientConfig := common.ClientConfig{TimeoutSecond: 5, Transport: common.DefaultTransportConfig()}
	clientConfig.Transport.Endpoints = []string{socket}

	e, err := client.NewRPCEngine(testShard, clientConfig, unix.NewUnixClientTransport(), serializer.NewBinarySerializer())
	require.NoError(t, err)
	defer e.Close()

	id, svc, err := e.PoolCreate(engine.PoolCreateRequest{Group: "test", ScmSize: 1 << 20, SvcNr: 1})
	require.NoError(t, err)
	assert.NotEmpty(t, svc)

	poh, info, err := e.PoolConnect(id, "test", svc, engine.PoolConnectRO)
	require.NoError(t, err)
	assert.Equal(t, id, info.UUID)
	require.NoError(t, e.PoolDisconnect(poh))
}
