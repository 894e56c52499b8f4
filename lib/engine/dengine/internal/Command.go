package internal

import (
	"fmt"

	"github.com/ValentinKolb/dOBJ/lib/engine"
	"github.com/google/uuid"
)

// Args holds the arguments of every engine operation. Each operation uses a subset.
type Args struct {
	UUID   uuid.UUID                 `cbor:"1,keyasint,omitempty"`
	Group  string                    `cbor:"2,keyasint,omitempty"`
	Svc    []engine.Rank             `cbor:"3,keyasint,omitempty"`
	Ranks  []engine.Rank             `cbor:"4,keyasint,omitempty"`
	Rank   engine.Rank               `cbor:"5,keyasint,omitempty"`
	Flags  uint64                    `cbor:"6,keyasint,omitempty"`
	Force  bool                      `cbor:"7,keyasint,omitempty"`
	Handle engine.Handle             `cbor:"8,keyasint,omitempty"` // target handle of the operation
	Parent engine.Handle             `cbor:"9,keyasint,omitempty"` // pool handle for container lookups
	Create *engine.PoolCreateRequest `cbor:"10,keyasint,omitempty"`
	Epoch  engine.Epoch              `cbor:"11,keyasint,omitempty"`
	OID    engine.OID                `cbor:"12,keyasint,omitempty"`
	Dkey   []byte                    `cbor:"13,keyasint"`
	Keys   [][]byte                  `cbor:"14,keyasint"`
	IODs   []engine.IOD              `cbor:"15,keyasint,omitempty"`
	SGLs   []engine.SGL              `cbor:"16,keyasint,omitempty"`
	Names  []string                  `cbor:"17,keyasint,omitempty"`
	Values [][]byte                  `cbor:"18,keyasint,omitempty"`
	Glob   []byte                    `cbor:"19,keyasint,omitempty"`
	Log    *LogRecord                `cbor:"20,keyasint,omitempty"`
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
	Handle engine.Handle      `cbor:"1,keyasint,omitempty"`
	UUID   uuid.UUID          `cbor:"2,keyasint,omitempty"`
	Svc    []engine.Rank      `cbor:"3,keyasint,omitempty"`
	Pool   *engine.PoolInfo   `cbor:"4,keyasint,omitempty"`
	Cont   *engine.ContInfo   `cbor:"5,keyasint,omitempty"`
	State  engine.EpochState  `cbor:"6,keyasint,omitempty"`
	Epoch  engine.Epoch       `cbor:"7,keyasint,omitempty"`
	Ranks  []engine.Rank      `cbor:"8,keyasint,omitempty"`
	Layout *engine.Layout     `cbor:"9,keyasint,omitempty"`
	Names  []string           `cbor:"10,keyasint,omitempty"`
	Values [][]byte           `cbor:"11,keyasint,omitempty"`
	Info   *engine.Info       `cbor:"12,keyasint,omitempty"`
	Target *engine.Target     `cbor:"13,keyasint,omitempty"`
}

// Command represents a mutating operation executed by the state machine (a single entry in the raft log).
type Command struct {
	Op   engine.Op
	Args Args
}

// Serialize serializes a command into a byte array with the format:
// 1 byte for the operation,
// N bytes for the CBOR encoded arguments
func (command *Command) Serialize() ([]byte, error) {
	args, err := engine.MarshalCBOR(&command.Args)
	if err != nil {
		return nil, fmt.Errorf("encode %s arguments: %w", command.Op, err)
	}
	result := make([]byte, 1+len(args))
	result[0] = byte(command.Op)
	copy(result[1:], args)
	return result, nil
}

// Deserialize extracts all Command fields from a byte array.
func (command *Command) Deserialize(data []byte) error {
	if len(data) < 2 {
		return fmt.Errorf("data too short for command")
	}
	command.Op = engine.Op(data[0])
	if !command.Op.IsMutation() {
		return fmt.Errorf("%s is not a command", command.Op)
	}
	command.Args = Args{}
	if err := engine.UnmarshalCBOR(data[1:], &command.Args); err != nil {
		return fmt.Errorf("decode %s arguments: %w", command.Op, err)
	}
	return nil
}

// EncodeResult encodes a command result for sm.Result.Data.
func EncodeResult(res Result) ([]byte, error) {
	return engine.MarshalCBOR(&res)
}

// DecodeResult decodes the data of a successful sm.Result.
func DecodeResult(data []byte) (Result, error) {
	var res Result
	if len(data) == 0 {
		return res, nil
	}
	err := engine.UnmarshalCBOR(data, &res)
	return res, err
}
