package serializer

import (
	"fmt"

	"github.com/ValentinKolb/dOBJ/rpc/common"
)

// IRPCSerializer converts messages to and from the bytes carried by a transport.
// The Args and Result payloads are opaque to a serializer, they only have to
// survive the round trip with nil and empty slices kept apart where the format allows it.
type IRPCSerializer interface {
	// Serialize encodes a Message
	Serialize(msg common.Message) ([]byte, error)
	// Deserialize decodes b into msg, overwriting every field.
	// Messages of an unknown type are rejected.
	Deserialize(b []byte, msg *common.Message) error
}

// checkMessage rejects decoded messages that no transport peer can have sent
func checkMessage(msg *common.Message) error {
	switch msg.MsgType {
	case common.MsgTRequest, common.MsgTResponse, common.MsgTError:
		return nil
	default:
		return fmt.Errorf("unknown message type %d", msg.MsgType)
	}
}
