package server

import (
	"fmt"
	"os/signal"
	"runtime"
	"syscall"
	"time"

	"github.com/ValentinKolb/dOBJ/lib/engine"
	"github.com/ValentinKolb/dOBJ/lib/engine/dengine"
	"github.com/ValentinKolb/dOBJ/lib/engine/lengine"
	"github.com/ValentinKolb/dOBJ/rpc/common"
	"github.com/ValentinKolb/dOBJ/rpc/serializer"
	"github.com/ValentinKolb/dOBJ/rpc/transport"
	"github.com/VictoriaMetrics/metrics"
	"github.com/lni/dragonboat/v4"
	"github.com/lni/dragonboat/v4/logger"
	"github.com/pkg/errors"
	"github.com/puzpuzpuz/xsync/v3"
)

var Logger = logger.GetLogger("rpc")

// serverShard is a struct that represents a shard in the RPC server
// It contains the engine it encapsulates and the adapter
// that handles requests for the engine
type serverShard struct {
	Engine  engine.IEngine
	Adapter IRPCServerAdapter
}

// NewRPCServer creates a new RPC server
// It takes a config, transport and serializer as parameters
//
// Usage:
//
//	s := server.NewRPCServer(
//		*config,
//		tcp.NewTCPDefaultServerTransport(),
//		serializer.NewBinarySerializer(),
//	)
//
//	if err := s.Serve(); err != nil {
//		panic(err)
//	 }
func NewRPCServer(
	config common.ServerConfig,
	transport transport.IRPCServerTransport,
	serializer serializer.IRPCSerializer,
) *RPCServer {
	// https://github.com/golang/go/issues/17393
	if runtime.GOOS == "darwin" {
		signal.Ignore(syscall.Signal(0xd))
	}

	Logger.Infof("Created RPC Server")
	Logger.Infof(config.String())

	return &RPCServer{
		config:     config,
		transport:  transport,
		serializer: serializer,
		shards:     xsync.NewMapOf[uint64, serverShard](),
	}
}

// RPCServer serves the engines of its shards through a transport.
type RPCServer struct {
	config     common.ServerConfig
	transport  transport.IRPCServerTransport
	serializer serializer.IRPCSerializer
	shards     *xsync.MapOf[uint64, serverShard]
	nodeHost   *dragonboat.NodeHost
}

// Engine returns the engine hosted by a shard. The engines exist once Init returned.
func (s *RPCServer) Engine(shardId uint64) (engine.IEngine, bool) {
	shard, ok := s.shards.Load(shardId)
	return shard.Engine, ok
}

// handle processes one serialized request for a shard and returns the serialized response.
func (s *RPCServer) handle(shardId uint64, req []byte) []byte {
	start := time.Now()

	var msg common.Message
	var resp *common.Message

	if err := s.serializer.Deserialize(req, &msg); err != nil {
		resp = common.NewErrorResponse(engine.OpInvalid, engine.NewError(engine.RCProto, "failed to deserialize request: %v", err))
	} else if shard, ok := s.shards.Load(shardId); !ok {
		resp = common.NewErrorResponse(msg.Op, engine.NewError(engine.RCNonexist, "shard %d not found", shardId))
	} else {
		// Let the adapter handle the request
		resp = shard.Adapter.Handle(&msg, shard.Engine)
	}

	metrics.GetOrCreateCounter(fmt.Sprintf(`dobj_rpc_requests_total{shard="%d",op=%q}`, shardId, opName(msg.Op))).Inc()
	if resp.MsgType == common.MsgTError {
		metrics.GetOrCreateCounter(fmt.Sprintf(`dobj_rpc_errors_total{shard="%d",op=%q}`, shardId, opName(msg.Op))).Inc()
	}

	// Return result
	val, err := s.serializer.Serialize(*resp)
	if err != nil {
		Logger.Errorf("failed to serialize %s response: %v", msg.Op, err)
		val, _ = s.serializer.Serialize(*common.NewErrorResponse(msg.Op, engine.NewError(engine.RCProto, "failed to serialize response: %v", err)))
	}

	metrics.GetOrCreateHistogram(fmt.Sprintf(`dobj_rpc_request_duration_seconds{shard="%d"}`, shardId)).UpdateDuration(start)
	return val
}

func opName(op engine.Op) string {
	if op == common.OpInfo {
		return "info"
	}
	return op.String()
}

// Init creates the engines of all configured shards and registers the request
// handler at the transport. Serve calls it, it is exported for callers that need
// the engines before the server listens.
func (s *RPCServer) Init() error {

	// Init logger
	if err := common.InitLoggers(s.config.LogLevel); err != nil {
		return err
	}

	opts := &lengine.Options{
		Group:          s.config.Group,
		Rank:           engine.Rank(s.config.Rank),
		DefaultTargets: s.config.DefaultTargets,
	}

	// Only create the NodeHost if there are replicated shards
	if s.config.HasReplicatedShard() && s.nodeHost == nil {
		nodeHost, err := dragonboat.NewNodeHost(s.config.ToNodeHostConfig())
		if err != nil {
			return errors.Wrap(err, "failed to create node host")
		}
		s.nodeHost = nodeHost
	}

	// Configure the timeout for the replicated engines
	timeout := time.Duration(s.config.TimeoutSecond) * time.Second

	// CREATE SHARDS

	/*
		Note: A single RPC Server can host any number of local and replicated shards.
		Every shard owns one engine, replicated shards share the node host.
	*/

	for _, shardConfig := range s.config.Shards {
		switch shardConfig.Type {

		// Case local engine
		case common.ShardTypeLocalEngine:
			s.shards.Store(shardConfig.ShardID, serverShard{
				Engine:  lengine.NewLocalEngine(opts),
				Adapter: NewIEngineServerAdapter(),
			})
			Logger.Infof("created local engine for shard %d", shardConfig.ShardID)

		// Case replicated engine
		case common.ShardTypeReplicatedEngine:
			// Start Raft for the shard
			if err := s.nodeHost.StartConcurrentReplica(s.config.ClusterMembers, false, dengine.CreateStateMachineFactory(opts), s.config.ToDragonboatConfig(shardConfig.ShardID)); err != nil {
				return errors.Wrapf(err, "failed to start shard %d", shardConfig.ShardID)
			}
			s.shards.Store(shardConfig.ShardID, serverShard{
				Engine:  dengine.NewReplicatedEngine(s.nodeHost, shardConfig.ShardID, timeout),
				Adapter: NewIEngineServerAdapter(),
			})
			Logger.Infof("created replicated engine for shard %d", shardConfig.ShardID)

		default:
			return fmt.Errorf("invalid shard type: %s", shardConfig.Type)
		}
	}

	Logger.Infof("dOBJ setup completed successfully")

	// Configure the transport layer
	s.transport.RegisterHandler(s.handle)

	return nil
}

// Serve starts the RPC server
// This function will also initialize the server plus the shards and start the transport layer.
// It blocks until the transport is closed.
func (s *RPCServer) Serve() error {
	if err := s.Init(); err != nil {
		return err
	}
	return s.Listen()
}

// Listen starts the transport of an initialized server and blocks until it is closed.
func (s *RPCServer) Listen() error {
	return s.transport.Listen(s.config)
}

// Close stops the transport, closes every engine and stops the node host.
func (s *RPCServer) Close() error {
	err := s.transport.Close()
	s.shards.Range(func(id uint64, shard serverShard) bool {
		if cerr := shard.Engine.Close(); cerr != nil {
			Logger.Warningf("failed to close engine of shard %d: %v", id, cerr)
		}
		return true
	})
	if s.nodeHost != nil {
		s.nodeHost.Close()
		s.nodeHost = nil
	}
	return err
}
