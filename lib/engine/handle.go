package engine

import (
	"bytes"
	"encoding/binary"

	"github.com/google/uuid"
	"github.com/zeebo/blake3"
)

// --------------------------------------------------------------------------
// Global Handles
// --------------------------------------------------------------------------

// HandleKind tells pool and container blobs apart.
type HandleKind uint8

const (
	HandleKindPool HandleKind = iota + 1
	HandleKindCont
)

// GlobalPayload is the content of a global handle blob.
type GlobalPayload struct {
	Kind   HandleKind `cbor:"1,keyasint"`
	Pool   uuid.UUID  `cbor:"2,keyasint"`
	Cont   uuid.UUID  `cbor:"3,keyasint,omitempty"`
	Handle Handle     `cbor:"4,keyasint"`
	Flags  uint64     `cbor:"5,keyasint"`
	Group  string     `cbor:"6,keyasint,omitempty"`
}

// Blob layout:
//
//	magic      u32 BE  "GHND"
//	version    u16 BE
//	kind       u8
//	pad        u8
//	payloadLen u32 BE
//	payload    cbor(GlobalPayload)
//	checksum   blake3 keyed hash over everything above
const (
	globalMagic      uint32 = 0x47484e44
	globalVersion    uint16 = 1
	globalHeaderSize        = 12
	globalSumSize           = 32
)

var globalKey = [32]byte{'d', 'o', 'b', 'j', '-', 'g', 'l', 'o', 'b', 'a', 'l', '-', 'h', 'a', 'n', 'd', 'l', 'e'}

func globalSum(data []byte) []byte {
	h, err := blake3.NewKeyed(globalKey[:])
	if err != nil {
		panic("engine: BLAKE3 keyed hash initialization failed: " + err.Error())
	}
	_, _ = h.Write(data)
	return h.Sum(nil)
}

// EncodeGlobal serializes a payload into a self-describing, checksummed blob.
func EncodeGlobal(p GlobalPayload) ([]byte, error) {
	payload, err := MarshalCBOR(p)
	if err != nil {
		return nil, NewError(RCInval, "encode global handle: %v", err)
	}
	buf := make([]byte, globalHeaderSize, globalHeaderSize+len(payload)+globalSumSize)
	binary.BigEndian.PutUint32(buf[0:4], globalMagic)
	binary.BigEndian.PutUint16(buf[4:6], globalVersion)
	buf[6] = byte(p.Kind)
	binary.BigEndian.PutUint32(buf[8:12], uint32(len(payload)))
	buf = append(buf, payload...)
	return append(buf, globalSum(buf)...), nil
}

// DecodeGlobal validates and parses a blob produced by EncodeGlobal.
// A foreign magic or version yields RCProto, any structural or checksum damage RCInval.
func DecodeGlobal(blob []byte) (GlobalPayload, error) {
	var p GlobalPayload
	if len(blob) < globalHeaderSize+globalSumSize {
		return p, NewError(RCInval, "global handle too short (%d bytes)", len(blob))
	}
	if binary.BigEndian.Uint32(blob[0:4]) != globalMagic {
		return p, NewError(RCProto, "not a global handle")
	}
	if v := binary.BigEndian.Uint16(blob[4:6]); v != globalVersion {
		return p, NewError(RCProto, "unsupported global handle version %d", v)
	}
	n := int(binary.BigEndian.Uint32(blob[8:12]))
	if len(blob) != globalHeaderSize+n+globalSumSize {
		return p, NewError(RCInval, "global handle length mismatch")
	}
	body := blob[:globalHeaderSize+n]
	if !bytes.Equal(globalSum(body), blob[globalHeaderSize+n:]) {
		return p, NewError(RCInval, "global handle checksum mismatch")
	}
	if err := UnmarshalCBOR(body[globalHeaderSize:], &p); err != nil {
		return p, NewError(RCInval, "decode global handle: %v", err)
	}
	if p.Kind != HandleKind(blob[6]) {
		return p, NewError(RCInval, "global handle kind mismatch")
	}
	return p, nil
}

// FillGlobal implements the two-phase local2global protocol on the engine side:
// an IOV without capacity only learns the required size, an IOV that is too small
// fails with RCTrunc, otherwise the blob is copied and Len set.
func FillGlobal(glob *IOV, blob []byte) error {
	if glob == nil {
		return NewError(RCInval, "nil global handle buffer")
	}
	need := uint64(len(blob))
	if glob.Cap() == 0 {
		glob.Len = need
		return nil
	}
	if glob.Cap() < need {
		glob.Len = need
		return NewError(RCTrunc, "global handle needs %d bytes, buffer has %d", need, glob.Cap())
	}
	copy(glob.Buf, blob)
	glob.Len = need
	return nil
}
