// Package client implements the RPC client of dOBJ. NewRPCEngine returns an
// engine.IEngine that forwards every operation to the engine hosted by a shard
// of a remote server, so the dobj client API runs unchanged on top of it.
//
// Receive buffers are not sent to the server. Fetches transmit the capacity of
// every IOV and the server returns the records, sizes and counts, which are
// copied back into the caller's descriptors and buffers. Global handle
// conversions work the same way with the capacity of the handle buffer.
//
// Usage Example:
//
//	config := common.ClientConfig{
//	  TimeoutSecond: 5,
//	  Transport: common.TransportConfig{
//	    Endpoints:              []string{"localhost:8080"},
//	    RetryCount:             3,
//	    ConnectionsPerEndpoint: 1,
//	  },
//	}
//
//	e, err := client.NewRPCEngine(1, config, tcp.NewTCPClientTransport(), serializer.NewBinarySerializer())
//	if err != nil { ... }
//
//	ctx, _ := dobj.NewContext(e, dobj.WithOwnedEngine())
//	defer ctx.Close()
//
// Errors returned by the server keep their engine result code, engine.RCOf
// works on them. Transport failures are reported as RCUnreach.
//
// Performance Considerations:
//
//   - For applications that frequently send large payloads, increasing ConnectionsPerEndpoint
//     can improve throughput by allowing parallel requests.
//
//   - The choice of serializer significantly affects performance. The binary serializer
//     provides the best performance and smallest payload size.
//
// Thread Safety:
//
//	The engine is thread-safe and can be used concurrently from multiple goroutines.
package client
