// Package server implements the RPC server of dOBJ. A server hosts one engine per
// shard and answers requests addressed to the shard id.
//
// Key Components:
//
//   - IRPCServerAdapter: Interface defining the contract for all server adapters,
//     with the Handle method that processes an incoming request against an engine.IEngine.
//
//   - NewIEngineServerAdapter: Factory function creating the adapter that decodes the
//     operation arguments, runs the operation and encodes its results.
//
//   - NewRPCServer: Factory function creating a configured server with the specified
//     transport and serializer mechanisms.
//
// Usage Example:
//
//	config := common.ServerConfig{
//	  Shards: []common.ServerShard{
//	    {ShardID: 1, Type: common.ShardTypeLocalEngine},
//	  },
//	  Group:          "dobj",
//	  DefaultTargets: 4,
//	  Transport:      common.TransportConfig{Endpoint: "0.0.0.0:8080", WorkersPerConn: 16},
//	  TimeoutSecond:  5,
//	  LogLevel:       "info",
//	}
//
//	s := server.NewRPCServer(config, tcp.NewTCPDefaultServerTransport(), serializer.NewBinarySerializer())
//	if err := s.Serve(); err != nil {
//	  log.Fatalf("Server error: %v", err)
//	}
//
// Shard types, which can be mixed within a single server:
//
//   - ShardTypeLocalEngine: an in-memory engine on this node.
//
//   - ShardTypeReplicatedEngine: an engine replicated with Raft. RTTMillisecond,
//     SnapshotEntries, CompactionOverhead, DataDir, ReplicaID and ClusterMembers
//     must be configured.
//
// The server counts requests, errors and request durations per shard with
// VictoriaMetrics/metrics. The http transport exposes them on /metrics.
//
// Thread Safety:
//
//	The server handles concurrent requests across multiple connections.
//	Serve should be called only once.
package server
