package client

import (
	"github.com/ValentinKolb/dOBJ/lib/engine"
	"github.com/ValentinKolb/dOBJ/rpc/common"
	"github.com/ValentinKolb/dOBJ/rpc/serializer"
	"github.com/ValentinKolb/dOBJ/rpc/transport"
	"github.com/lni/dragonboat/v4/logger"
	"github.com/pkg/errors"
)

var (
	Logger = logger.GetLogger("rpc")
)

// rpcClientAdapter is a struct that stores all data needed for an implementation of an RPC client
type rpcClientAdapter struct {
	shardId    uint64
	config     common.ClientConfig
	transport  transport.IRPCClientTransport
	serializer serializer.IRPCSerializer
}

// invoke sends op with its arguments to the shard and decodes the result.
// Failures are returned as engine errors: transport problems as RCUnreach, broken
// messages as RCProto, failed operations with the result code the server reported.
// The result is decoded for failed operations too, fetches still report sizes.
func (a *rpcClientAdapter) invoke(op engine.Op, args common.Args) (common.Result, error) {
	req, err := common.NewRequest(op, &args)
	if err != nil {
		return common.Result{}, engine.NewError(engine.RCProto, "%v", err)
	}
	resp, err := invokeRPCRequest(a.shardId, req, a.transport, a.serializer)
	if err != nil {
		return common.Result{}, err
	}

	res, decErr := common.DecodeResult(resp.Result)
	if decErr != nil {
		return common.Result{}, engine.NewError(engine.RCProto, "decode %s result: %v", op, decErr)
	}
	return res, resp.AsError()
}

// invokeRPCRequest is a helper function used for all RPC Clients to send requests
// It takes a shard ID, a request message, a transport layer and a serializer as parameters
// It returns the response message, which may be an error response, or an error if the
// exchange itself failed. The operation of the response must match the request.
func invokeRPCRequest(shardId uint64, req *common.Message, transport transport.IRPCClientTransport, serializer serializer.IRPCSerializer) (*common.Message, error) {
	// Serialize the request
	reqBytes, err := serializer.Serialize(*req)
	if err != nil {
		return nil, engine.NewError(engine.RCProto, "serialize %s request: %v", req.Op, err)
	}

	// Send the request
	respBytes, err := transport.Send(shardId, reqBytes)
	if err != nil {
		return nil, errors.Wrapf(engine.NewError(engine.RCUnreach, "%v", err), "send %s to shard %d", req.Op, shardId)
	}

	// Deserialize the response
	resp := &common.Message{}
	if err := serializer.Deserialize(respBytes, resp); err != nil {
		return nil, engine.NewError(engine.RCProto, "deserialize %s response: %v", req.Op, err)
	}

	// Shard level failures are answered without an operation
	if resp.MsgType == common.MsgTError && resp.Op != req.Op {
		return nil, errors.Wrapf(resp.AsError(), "shard %d", shardId)
	}

	// Check if the response matches the request
	if resp.MsgType == common.MsgTRequest || resp.MsgType == common.MsgTUnknown || resp.Op != req.Op {
		return nil, engine.NewError(engine.RCProto, "unexpected response: %s %s, expected response to %s", resp.MsgType, resp.Op, req.Op)
	}

	return resp, nil
}
