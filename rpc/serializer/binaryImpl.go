package serializer

import (
	"encoding/binary"
	"fmt"

	"github.com/ValentinKolb/dOBJ/lib/engine"
	"github.com/ValentinKolb/dOBJ/rpc/common"
)

// NewBinarySerializer creates a new serializer using a custom binary format
// optimized for speed and efficiency
func NewBinarySerializer() IRPCSerializer {
	return &binarySerializerImpl{}
}

// binarySerializerImpl implements IRPCSerializer using a custom binary format:
//
//	type   u8
//	op     u8
//	flags  u8
//	args   u32 BE length + data   (hasArgs)
//	result u32 BE length + data   (hasResult)
//	rc     i32 BE                 (hasRC)
//	err    u32 BE length + data   (hasErr)
type binarySerializerImpl struct {
}

// Bit flags to indicate which optional fields are present.
// A payload flag is set for every non-nil slice, so empty payloads stay empty and nil stays nil.
const (
	hasArgs   byte = 1 << 0
	hasResult byte = 1 << 1
	hasRC     byte = 1 << 2
	hasErr    byte = 1 << 3
)

const headerSize = 3

// --------------------------------------------------------------------------
// Interface Methods (docu see serializer.IRPCSerializer)
// --------------------------------------------------------------------------

func (b binarySerializerImpl) Serialize(msg common.Message) ([]byte, error) {
	// Calculate total size needed
	result := make([]byte, b.sizeBytes(msg))

	result[0] = byte(msg.MsgType)
	result[1] = byte(msg.Op)

	var flags byte = 0
	pos := headerSize

	if msg.Args != nil {
		flags |= hasArgs
		pos = putBytes(result, pos, msg.Args)
	}

	if msg.Result != nil {
		flags |= hasResult
		pos = putBytes(result, pos, msg.Result)
	}

	if msg.RC != 0 {
		flags |= hasRC
		binary.BigEndian.PutUint32(result[pos:pos+4], uint32(msg.RC))
		pos += 4
	}

	if msg.Err != "" {
		flags |= hasErr
		pos = putBytes(result, pos, []byte(msg.Err))
	}

	// Set flags byte after knowing which fields are present
	result[2] = flags

	return result[:pos], nil
}

func (b binarySerializerImpl) Deserialize(data []byte, msg *common.Message) error {
	// Check minimum size (MsgType + Op + flags)
	if len(data) < headerSize {
		return fmt.Errorf("data too short for message header")
	}

	msg.MsgType = common.MessageType(data[0])
	msg.Op = engine.Op(data[1])
	flags := data[2]
	pos := headerSize

	var err error
	msg.Args = nil
	if flags&hasArgs != 0 {
		if msg.Args, pos, err = readBytes(data, pos, "args"); err != nil {
			return err
		}
	}

	msg.Result = nil
	if flags&hasResult != 0 {
		if msg.Result, pos, err = readBytes(data, pos, "result"); err != nil {
			return err
		}
	}

	msg.RC = 0
	if flags&hasRC != 0 {
		if pos+4 > len(data) {
			return fmt.Errorf("data too short for result code")
		}
		msg.RC = int32(binary.BigEndian.Uint32(data[pos : pos+4]))
		pos += 4
	}

	msg.Err = ""
	if flags&hasErr != 0 {
		var errBytes []byte
		if errBytes, pos, err = readBytes(data, pos, "error"); err != nil {
			return err
		}
		msg.Err = string(errBytes)
	}

	if pos != len(data) {
		return fmt.Errorf("%d trailing bytes after message", len(data)-pos)
	}
	return checkMessage(msg)
}

// --------------------------------------------------------------------------
// Helper Methods
// --------------------------------------------------------------------------

// sizeBytes calculates the total size needed for serialization
func (b binarySerializerImpl) sizeBytes(msg common.Message) int {
	size := headerSize
	if msg.Args != nil {
		size += 4 + len(msg.Args)
	}
	if msg.Result != nil {
		size += 4 + len(msg.Result)
	}
	if msg.RC != 0 {
		size += 4
	}
	if msg.Err != "" {
		size += 4 + len(msg.Err)
	}
	return size
}

// putBytes writes a length prefixed byte slice and returns the new position
func putBytes(dst []byte, pos int, src []byte) int {
	binary.BigEndian.PutUint32(dst[pos:pos+4], uint32(len(src)))
	pos += 4
	copy(dst[pos:pos+len(src)], src)
	return pos + len(src)
}

// readBytes reads a length prefixed byte slice into a fresh (never nil) slice
func readBytes(data []byte, pos int, field string) ([]byte, int, error) {
	if pos+4 > len(data) {
		return nil, pos, fmt.Errorf("data too short for %s length", field)
	}
	n := int(binary.BigEndian.Uint32(data[pos : pos+4]))
	pos += 4
	if pos+n > len(data) {
		return nil, pos, fmt.Errorf("data too short for %s data", field)
	}
	out := make([]byte, n)
	copy(out, data[pos:pos+n])
	return out, pos + n, nil
}
