package common

import (
	"github.com/ValentinKolb/dOBJ/lib/engine"
	"github.com/google/uuid"
)

// --------------------------------------------------------------------------
// Operation Payloads
// --------------------------------------------------------------------------

// Args holds the arguments of every engine operation. Each operation uses a subset.
// Receive buffers never travel: fetches send the capacities of the caller's IOVs
// and local2global sends the capacity of the handle buffer.
type Args struct {
	UUID    uuid.UUID                 `cbor:"1,keyasint,omitempty"`
	Group   string                    `cbor:"2,keyasint,omitempty"`
	Svc     []engine.Rank             `cbor:"3,keyasint,omitempty"`
	Ranks   []engine.Rank             `cbor:"4,keyasint,omitempty"`
	Rank    engine.Rank               `cbor:"5,keyasint,omitempty"`
	Flags   uint64                    `cbor:"6,keyasint,omitempty"`
	Force   bool                      `cbor:"7,keyasint,omitempty"`
	Handle  engine.Handle             `cbor:"8,keyasint,omitempty"`
	Parent  engine.Handle             `cbor:"9,keyasint,omitempty"`
	Create  *engine.PoolCreateRequest `cbor:"10,keyasint,omitempty"`
	Epoch   engine.Epoch              `cbor:"11,keyasint,omitempty"`
	OID     engine.OID                `cbor:"12,keyasint,omitempty"`
	Class   engine.ObjClass           `cbor:"13,keyasint,omitempty"`
	Dkey    []byte                    `cbor:"14,keyasint"` // nil and empty differ
	Keys    [][]byte                  `cbor:"15,keyasint"` // nil punches everything
	IODs    []engine.IOD              `cbor:"16,keyasint,omitempty"`
	SGLs    []engine.SGL              `cbor:"17,keyasint,omitempty"` // update data
	Caps    [][]uint64                `cbor:"18,keyasint,omitempty"` // fetch receive capacities, nil for size queries
	Names   []string                  `cbor:"19,keyasint,omitempty"`
	Values  [][]byte                  `cbor:"20,keyasint,omitempty"`
	Glob    []byte                    `cbor:"21,keyasint,omitempty"`
	GlobCap uint64                    `cbor:"22,keyasint,omitempty"`
	Log     *LogRecord                `cbor:"23,keyasint,omitempty"`
}

// LogRecord is a client log line forwarded to the engine.
type LogRecord struct {
	Msg      string
	File     string
	Function string
	Line     int
	Level    engine.LogLevel
}

// Result holds the return values of every engine operation.
type Result struct {
	Handle  engine.Handle     `cbor:"1,keyasint,omitempty"`
	UUID    uuid.UUID         `cbor:"2,keyasint,omitempty"`
	Svc     []engine.Rank     `cbor:"3,keyasint,omitempty"`
	Pool    *engine.PoolInfo  `cbor:"4,keyasint,omitempty"`
	Cont    *engine.ContInfo  `cbor:"5,keyasint,omitempty"`
	State   engine.EpochState `cbor:"6,keyasint,omitempty"`
	Epoch   engine.Epoch      `cbor:"7,keyasint,omitempty"`
	Ranks   []engine.Rank     `cbor:"8,keyasint,omitempty"`
	Layout  *engine.Layout    `cbor:"9,keyasint,omitempty"`
	Names   []string          `cbor:"10,keyasint,omitempty"`
	Values  [][]byte          `cbor:"11,keyasint,omitempty"`
	Info    *engine.Info      `cbor:"12,keyasint,omitempty"`
	Target  *engine.Target    `cbor:"13,keyasint,omitempty"`
	OID     engine.OID        `cbor:"14,keyasint,omitempty"`
	Sizes   []uint64          `cbor:"15,keyasint,omitempty"` // fetched record sizes, one per IOD
	Data    [][][]byte        `cbor:"16,keyasint,omitempty"` // fetched records, per SGL and IOV
	NrOut   []uint32          `cbor:"17,keyasint,omitempty"`
	Glob    []byte            `cbor:"18,keyasint,omitempty"`
	GlobLen uint64            `cbor:"19,keyasint,omitempty"`
	Lens    [][]uint64        `cbor:"20,keyasint,omitempty"` // logical lengths of the fetched IOVs
}

// Encode encodes the arguments with the deterministic engine encoder.
func (a *Args) Encode() ([]byte, error) {
	return engine.MarshalCBOR(a)
}

// DecodeArgs decodes the arguments of a request.
func DecodeArgs(data []byte) (Args, error) {
	var args Args
	if len(data) == 0 {
		return args, nil
	}
	err := engine.UnmarshalCBOR(data, &args)
	return args, err
}

// Encode encodes the result with the deterministic engine encoder.
func (r *Result) Encode() ([]byte, error) {
	return engine.MarshalCBOR(r)
}

// DecodeResult decodes the result of a response.
func DecodeResult(data []byte) (Result, error) {
	var res Result
	if len(data) == 0 {
		return res, nil
	}
	err := engine.UnmarshalCBOR(data, &res)
	return res, err
}
