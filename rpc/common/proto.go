package common

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/ValentinKolb/dOBJ/lib/engine"
)

// --------------------------------------------------------------------------
// Message Structure
// --------------------------------------------------------------------------

// Message represents a single message used for both requests and responses.
// The operation arguments and results travel CBOR encoded (see Args and Result),
// so the serializers only have to preserve the byte payloads.
type Message struct {
	// Type of message
	MsgType MessageType `json:"msg_type"`

	// Engine operation, OpInfo for the engine statistics
	Op engine.Op `json:"op"`

	// Request only fields
	Args []byte `json:"args,omitempty"` // cbor(Args)

	// Response only fields
	Result []byte `json:"result,omitempty"` // cbor(Result), also set on failures that report sizes
	RC     int32  `json:"rc,omitempty"`     // Zero on success, otherwise the engine result code
	Err    string `json:"err,omitempty"`    // Empty if no error, otherwise contains the error message
}

// OpInfo requests the engine statistics. Info is not an engine operation, so it
// reuses the otherwise unused invalid op value.
const OpInfo = engine.OpInvalid

// --------------------------------------------------------------------------
// Message Factory Functions
// --------------------------------------------------------------------------

// NewRequest creates a new request for op with the encoded arguments
func NewRequest(op engine.Op, args *Args) (*Message, error) {
	data, err := args.Encode()
	if err != nil {
		return nil, fmt.Errorf("encode %s arguments: %w", op, err)
	}
	return &Message{
		MsgType: MsgTRequest,
		Op:      op,
		Args:    data,
	}, nil
}

// NewResponse creates a new response for op. A non-nil err turns it into an
// error response carrying the engine result code. The result is encoded in both
// cases, failed fetches and global handle conversions still report sizes.
func NewResponse(op engine.Op, res *Result, err error) *Message {
	msg := &Message{
		MsgType: MsgTResponse,
		Op:      op,
	}
	if res != nil {
		data, encErr := res.Encode()
		if encErr != nil {
			return NewErrorResponse(op, engine.NewError(engine.RCProto, "encode %s result: %v", op, encErr))
		}
		msg.Result = data
	}
	if err != nil {
		msg.MsgType = MsgTError
		msg.RC = int32(engine.RCOf(err))
		msg.Err = errorDetail(err)
	}
	return msg
}

// NewErrorResponse creates a new error response without a result
func NewErrorResponse(op engine.Op, err error) *Message {
	return &Message{
		MsgType: MsgTError,
		Op:      op,
		RC:      int32(engine.RCOf(err)),
		Err:     errorDetail(err),
	}
}

// errorDetail returns the message of an engine error without the result code prefix,
// which the receiving side adds again.
func errorDetail(err error) string {
	var ee *engine.Error
	if errors.As(err, &ee) {
		return ee.Msg
	}
	return err.Error()
}

// AsError converts an error response back into an engine error. It returns nil for
// every other message.
func (m *Message) AsError() error {
	if m.MsgType != MsgTError && m.Err == "" && m.RC == 0 {
		return nil
	}
	rc := engine.RC(m.RC)
	if rc == engine.RCSuccess {
		rc = engine.RCUnknown
	}
	return &engine.Error{RC: rc, Msg: m.Err}
}

// --------------------------------------------------------------------------
// Message Types
// --------------------------------------------------------------------------

// MessageType defines the type of message being sent.
type MessageType uint8

const (
	MsgTUnknown MessageType = iota

	MsgTRequest  // Request of an engine operation
	MsgTResponse // Successful response
	MsgTError    // Response of a failed operation
)

// String returns the string representation of the message type
func (t MessageType) String() string {
	switch t {
	case MsgTRequest:
		return "request"
	case MsgTResponse:
		return "response"
	case MsgTError:
		return "error"
	default:
		return "unknown"
	}
}

// MarshalJSON implements the json.Marshaler interface for MessageType.
// This allows MessageType to be serialized as a string in JSON.
func (t MessageType) MarshalJSON() ([]byte, error) {
	return json.Marshal(t.String())
}

// UnmarshalJSON implements the json.Unmarshaler interface for MessageType.
// This allows MessageType to be deserialized from a string in JSON.
func (t *MessageType) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}

	switch s {
	case "request":
		*t = MsgTRequest
	case "response":
		*t = MsgTResponse
	case "error":
		*t = MsgTError
	case "unknown":
		*t = MsgTUnknown
	default:
		return fmt.Errorf("unknown message type: %s", s)
	}
	return nil
}
