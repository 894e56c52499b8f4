package engine

import (
	"io"

	"github.com/fxamacker/cbor/v2"
)

// encMode produces Core Deterministic CBOR: the same value always encodes to the same bytes,
// which replicated state machines and checksummed blobs rely on.
var encMode cbor.EncMode

var decMode cbor.DecMode

func init() {
	var err error
	encMode, err = cbor.CoreDetEncOptions().EncMode()
	if err != nil {
		panic("engine: CBOR encoder initialization failed: " + err.Error())
	}
	decMode, err = cbor.DecOptions{}.DecMode()
	if err != nil {
		panic("engine: CBOR decoder initialization failed: " + err.Error())
	}
}

// MarshalCBOR encodes v with the deterministic encoder shared by all engines.
func MarshalCBOR(v any) ([]byte, error) { return encMode.Marshal(v) }

// UnmarshalCBOR decodes data into v.
func UnmarshalCBOR(data []byte, v any) error { return decMode.Unmarshal(data, v) }

// NewCBOREncoder returns a stream encoder writing to w.
func NewCBOREncoder(w io.Writer) *cbor.Encoder { return encMode.NewEncoder(w) }

// NewCBORDecoder returns a stream decoder reading from r.
func NewCBORDecoder(r io.Reader) *cbor.Decoder { return decMode.NewDecoder(r) }
