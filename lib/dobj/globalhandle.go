package dobj

import (
	"encoding/binary"
	"fmt"

	"github.com/ValentinKolb/dOBJ/lib/engine"
)

// GlobalHandle is a process independent form of a pool connection or container
// handle. It can be shipped to another process and turned back into a local handle
// there with Global2Local.
type GlobalHandle struct {
	IovLen    uint64 // logical length reported by the engine
	IovBufLen uint64 // capacity of the buffer the engine filled
	Data      []byte
}

const globalHandleHeader = 16

// MarshalBinary encodes the handle as IovLen (u64 BE), IovBufLen (u64 BE) and the data.
func (g GlobalHandle) MarshalBinary() ([]byte, error) {
	out := make([]byte, globalHandleHeader+len(g.Data))
	binary.BigEndian.PutUint64(out[0:8], g.IovLen)
	binary.BigEndian.PutUint64(out[8:16], g.IovBufLen)
	copy(out[globalHandleHeader:], g.Data)
	return out, nil
}

// UnmarshalBinary is the inverse of MarshalBinary.
func (g *GlobalHandle) UnmarshalBinary(data []byte) error {
	if len(data) < globalHandleHeader {
		return fmt.Errorf("global handle too short: %d bytes", len(data))
	}
	g.IovLen = binary.BigEndian.Uint64(data[0:8])
	g.IovBufLen = binary.BigEndian.Uint64(data[8:16])
	g.Data = append([]byte(nil), data[globalHandleHeader:]...)
	return nil
}

// iov rebuilds the engine buffer. Both lengths are handed back as reported.
func (g GlobalHandle) iov() engine.IOV {
	buf := g.Data
	if uint64(len(buf)) > g.IovBufLen {
		buf = buf[:g.IovBufLen]
	}
	return engine.IOV{Buf: buf, Len: g.IovLen}
}

// local2global runs the two-phase protocol: probe with an empty buffer to learn the
// size, then fill a buffer of exactly that capacity.
func (c *Context) local2global(op engine.Op, fill func(e engine.IEngine, glob *engine.IOV) error) (GlobalHandle, error) {
	var probe engine.IOV
	err := c.call(op, func(e engine.IEngine) error { return fill(e, &probe) })
	if err != nil {
		return GlobalHandle{}, ioError(op, err)
	}
	if probe.Len == 0 {
		return GlobalHandle{}, &IoError{Op: op, RC: engine.RCInval, Err: fmt.Errorf("engine reported an empty global handle")}
	}

	glob := engine.NewOwnedIOV(probe.Len)
	err = c.call(op, func(e engine.IEngine) error { return fill(e, &glob) })
	if err != nil {
		return GlobalHandle{}, ioError(op, err)
	}
	return GlobalHandle{IovLen: glob.Len, IovBufLen: glob.Cap(), Data: glob.Bytes()}, nil
}
