package engine

import "fmt"

// --------------------------------------------------------------------------
// Buffers
// --------------------------------------------------------------------------

// IOV is a single I/O buffer. len(Buf) is the capacity the engine may write into,
// Len is the number of meaningful bytes. Own tags buffers that were allocated for
// the request (true) as opposed to caller memory borrowed without copying (false).
type IOV struct {
	Buf []byte
	Len uint64
	Own bool
}

// NewOwnedIOV allocates a zeroed receive buffer with the given capacity.
func NewOwnedIOV(capacity uint64) IOV {
	return IOV{Buf: make([]byte, capacity), Own: true}
}

// BorrowIOV wraps caller memory without copying. Len is set to len(b).
func BorrowIOV(b []byte) IOV {
	return IOV{Buf: b, Len: uint64(len(b))}
}

// Cap returns the capacity of the buffer.
func (v IOV) Cap() uint64 { return uint64(len(v.Buf)) }

// Bytes returns the logical content, sliced to Len and never beyond the capacity.
func (v IOV) Bytes() []byte {
	if v.Len > uint64(len(v.Buf)) {
		return v.Buf
	}
	return v.Buf[:v.Len]
}

// SGL is a scatter-gather list. NrOut is set by fetches to the number of IOVs filled.
type SGL struct {
	IOVs  []IOV
	NrOut uint32
}

// NewSGL returns a scatter-gather list over the given IOVs.
func NewSGL(iovs ...IOV) SGL { return SGL{IOVs: iovs} }

// --------------------------------------------------------------------------
// I/O Descriptors
// --------------------------------------------------------------------------

// IODType selects how records under an akey are addressed.
type IODType uint8

const (
	IODNone   IODType = iota // no type, only valid for size queries
	IODSingle                // one atomic value
	IODArray                 // indexed fixed-size records
)

func (t IODType) String() string {
	switch t {
	case IODSingle:
		return "single"
	case IODArray:
		return "array"
	}
	return "none"
}

// Extent is a run of array records [Index, Index+Count).
type Extent struct {
	Index uint64
	Count uint64
}

// IOD describes the records addressed under one akey.
// Size is the record size; fetches overwrite it with the size found.
type IOD struct {
	Name    []byte
	Type    IODType
	Size    uint64
	Extents []Extent
	Epoch   EpochRange
}

// Records returns the number of records the descriptor addresses, which is the
// number of IOVs the matching SGL must hold.
func (d IOD) Records() uint64 {
	if d.Type != IODArray {
		return 1
	}
	var n uint64
	for _, e := range d.Extents {
		n += e.Count
	}
	return n
}

// Validate checks the descriptor against its scatter-gather list.
func (d IOD) Validate(sgl SGL) error {
	if len(d.Name) == 0 {
		return NewError(RCInval, "empty akey")
	}
	switch d.Type {
	case IODSingle:
	case IODArray:
		if len(d.Extents) == 0 {
			return NewError(RCInval, "array descriptor %q without extents", d.Name)
		}
	default:
		return NewError(RCInval, "descriptor %q has no type", d.Name)
	}
	if uint64(len(sgl.IOVs)) != d.Records() {
		return NewError(RCIOInval, "akey %q addresses %d records but has %d buffers", d.Name, d.Records(), len(sgl.IOVs))
	}
	return nil
}

func (d IOD) String() string {
	return fmt.Sprintf("iod{%q %s size=%d records=%d epoch=[%d,%d]}", d.Name, d.Type, d.Size, d.Records(), d.Epoch.Lo, d.Epoch.Hi)
}
