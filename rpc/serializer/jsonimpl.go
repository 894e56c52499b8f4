package serializer

import (
	"encoding/json"

	"github.com/ValentinKolb/dOBJ/rpc/common"
)

// NewJSONSerializer creates a new serializer using json encoding.
// Args and Result are base64 strings in the output and nil payloads are omitted.
func NewJSONSerializer() IRPCSerializer {
	return &jsonSerializerImpl{}
}

type jsonSerializerImpl struct {
}

// --------------------------------------------------------------------------
// Interface Methods (docu see serializer.IRPCSerializer)
// --------------------------------------------------------------------------

func (j jsonSerializerImpl) Serialize(msg common.Message) ([]byte, error) {
	return json.Marshal(msg)
}

func (j jsonSerializerImpl) Deserialize(b []byte, msg *common.Message) error {
	*msg = common.Message{}
	if err := json.Unmarshal(b, msg); err != nil {
		return err
	}
	return checkMessage(msg)
}
