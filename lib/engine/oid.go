package engine

import (
	"encoding/binary"
	"fmt"
	"math/rand/v2"
	"strconv"
	"strings"
)

// OID is a 128-bit object identifier.
//
// Layout of Hi:
//
//	bits  0..23  random
//	bits 24..31  rank hint
//	bits 32..47  object class
//	bit  48      rank hint present
//	bits 49..63  reserved
type OID struct {
	Lo uint64
	Hi uint64
}

const (
	oidRandomMask  = 1<<24 - 1
	oidRankShift   = 24
	oidRankMask    = 0xff << oidRankShift
	oidClassShift  = 32
	oidClassMask   = 0xffff << oidClassShift
	oidHintPresent = 1 << 48

	// MaxRankHint is the largest rank that can be packed into an OID.
	MaxRankHint Rank = 0xff
)

// NewOID builds an identifier of the given class from a random source.
func NewOID(class ObjClass, rnd *rand.Rand) OID {
	var lo, hi uint64
	if rnd == nil {
		lo, hi = rand.Uint64(), rand.Uint64()
	} else {
		lo, hi = rnd.Uint64(), rnd.Uint64()
	}
	if lo == 0 {
		lo = 1
	}
	return OID{Lo: lo, Hi: hi&oidRandomMask | uint64(class)<<oidClassShift}
}

// IsZero reports whether the identifier is unset.
func (o OID) IsZero() bool { return o.Lo == 0 && o.Hi == 0 }

// Class returns the object class encoded in the identifier.
func (o OID) Class() ObjClass { return ObjClass((o.Hi & oidClassMask) >> oidClassShift) }

// RankHint returns the packed rank hint and whether one is present.
func (o OID) RankHint() (Rank, bool) {
	if o.Hi&oidHintPresent == 0 {
		return 0, false
	}
	return Rank((o.Hi & oidRankMask) >> oidRankShift), true
}

// WithRankHint returns a copy of o with rank packed into bits 24..31.
// Ranks that do not fit into 8 bits are rejected.
func (o OID) WithRankHint(rank Rank) (OID, error) {
	if rank > MaxRankHint {
		return o, NewError(RCOverflow, "rank hint %d does not fit into 8 bits", rank)
	}
	o.Hi = o.Hi&^oidRankMask | uint64(rank)<<oidRankShift | oidHintPresent
	return o, nil
}

func (o OID) String() string {
	return fmt.Sprintf("%016x.%016x", o.Hi, o.Lo)
}

// ParseOID parses the form produced by OID.String.
func ParseOID(s string) (OID, error) {
	hi, lo, ok := strings.Cut(strings.TrimSpace(s), ".")
	if !ok {
		return OID{}, NewError(RCInval, "malformed oid %q", s)
	}
	h, err := strconv.ParseUint(hi, 16, 64)
	if err != nil {
		return OID{}, NewError(RCInval, "malformed oid %q: %v", s, err)
	}
	l, err := strconv.ParseUint(lo, 16, 64)
	if err != nil {
		return OID{}, NewError(RCInval, "malformed oid %q: %v", s, err)
	}
	return OID{Lo: l, Hi: h}, nil
}

// MarshalBinary encodes the identifier as 16 bytes, low word first.
func (o OID) MarshalBinary() ([]byte, error) {
	buf := make([]byte, 16)
	binary.LittleEndian.PutUint64(buf[0:8], o.Lo)
	binary.LittleEndian.PutUint64(buf[8:16], o.Hi)
	return buf, nil
}

// UnmarshalBinary decodes the form produced by MarshalBinary.
func (o *OID) UnmarshalBinary(data []byte) error {
	if len(data) != 16 {
		return NewError(RCInval, "oid needs 16 bytes, got %d", len(data))
	}
	o.Lo = binary.LittleEndian.Uint64(data[0:8])
	o.Hi = binary.LittleEndian.Uint64(data[8:16])
	return nil
}

// Less orders identifiers by (Hi, Lo).
func (o OID) Less(other OID) bool {
	if o.Hi != other.Hi {
		return o.Hi < other.Hi
	}
	return o.Lo < other.Lo
}
