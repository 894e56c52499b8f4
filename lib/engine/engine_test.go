package engine

import (
	"bytes"
	"errors"
	"fmt"
	"math/rand/v2"
	"testing"

	"github.com/google/uuid"
)

// TestRCString tests that result codes render their message and numeric value
func TestRCString(t *testing.T) {
	tests := []struct {
		rc   RC
		want string
	}{
		{RCSuccess, "Success (0)"},
		{RCNoHandle, "Invalid handle (-1002)"},
		{RCTrunc, "Buffer too short, larger buffer needed (-1016)"},
		{RCIO, "Generic I/O error (-2001)"},
		{RCIOInval, "IO buffers can't match object extents (-2013)"},
		{RC(-42), "Unknown error code (-42)"},
	}
	for _, tt := range tests {
		if got := tt.rc.String(); got != tt.want {
			t.Errorf("RC(%d).String() = %q, want %q", int32(tt.rc), got, tt.want)
		}
	}
}

// TestRCOf tests extraction of result codes from wrapped errors
func TestRCOf(t *testing.T) {
	if rc := RCOf(nil); rc != RCSuccess {
		t.Errorf("RCOf(nil) = %v, want success", rc)
	}
	wrapped := fmt.Errorf("outer: %w", NewError(RCBusy, "pool %s busy", "x"))
	if rc := RCOf(wrapped); rc != RCBusy {
		t.Errorf("RCOf(wrapped) = %v, want %v", rc, RCBusy)
	}
	if rc := RCOf(errors.New("plain")); rc != RCUnknown {
		t.Errorf("RCOf(plain) = %v, want %v", rc, RCUnknown)
	}
}

// TestOpNames tests the action-subject names and their inverse
func TestOpNames(t *testing.T) {
	seen := map[string]bool{}
	for _, op := range AllOps() {
		name := op.String()
		if name == "" || name == "unknown" {
			t.Fatalf("op %d has no name", op)
		}
		if seen[name] {
			t.Fatalf("duplicate op name %q", name)
		}
		seen[name] = true
		if ParseOp(name) != op {
			t.Errorf("ParseOp(%q) = %v, want %v", name, ParseOp(name), op)
		}
	}
	if OpUpdateObj.String() != "update-obj" || OpConnectPool.String() != "connect-pool" {
		t.Errorf("unexpected names %q %q", OpUpdateObj, OpConnectPool)
	}
	if !OpPollEQ.IsLocal() || OpFetchObj.IsLocal() {
		t.Error("IsLocal misclassifies ops")
	}
	if OpFetchObj.IsMutation() || !OpUpdateObj.IsMutation() {
		t.Error("IsMutation misclassifies ops")
	}
}

// TestOpSet tests membership in op sets
func TestOpSet(t *testing.T) {
	s := NewOpSet(OpFetchObj, OpUpdateObj, OpKillServer)
	if !s.Has(OpFetchObj) || !s.Has(OpKillServer) || s.Has(OpExtendPool) {
		t.Fatalf("unexpected membership in %v", s.Ops())
	}
	s = s.Without(OpFetchObj)
	if s.Has(OpFetchObj) || len(s.Ops()) != 2 {
		t.Fatalf("Without did not remove op: %v", s.Ops())
	}
}

// TestIOVBytes tests that the logical length is honoured and never exceeds the capacity
func TestIOVBytes(t *testing.T) {
	v := NewOwnedIOV(8)
	if !v.Own || v.Cap() != 8 || len(v.Bytes()) != 0 {
		t.Fatalf("unexpected owned iov %+v", v)
	}
	copy(v.Buf, "abc")
	v.Len = 3
	if string(v.Bytes()) != "abc" {
		t.Errorf("Bytes() = %q, want abc", v.Bytes())
	}
	v.Len = 100
	if len(v.Bytes()) != 8 {
		t.Errorf("Bytes() must be clamped to capacity, got %d", len(v.Bytes()))
	}
	b := BorrowIOV([]byte("xyz"))
	if b.Own || b.Len != 3 {
		t.Errorf("unexpected borrowed iov %+v", b)
	}
}

// TestIODValidate tests descriptor and buffer consistency checks
func TestIODValidate(t *testing.T) {
	arr := IOD{Name: []byte("a"), Type: IODArray, Size: 2, Extents: []Extent{{0, 2}, {5, 1}}}
	if arr.Records() != 3 {
		t.Fatalf("Records() = %d, want 3", arr.Records())
	}
	three := NewSGL(NewOwnedIOV(2), NewOwnedIOV(2), NewOwnedIOV(2))
	if err := arr.Validate(three); err != nil {
		t.Errorf("Validate() = %v, want nil", err)
	}
	if rc := RCOf(arr.Validate(NewSGL(NewOwnedIOV(2)))); rc != RCIOInval {
		t.Errorf("Validate() rc = %v, want %v", rc, RCIOInval)
	}
	if rc := RCOf(IOD{Type: IODSingle}.Validate(NewSGL(NewOwnedIOV(1)))); rc != RCInval {
		t.Errorf("empty akey rc = %v, want %v", rc, RCInval)
	}
}

// TestClassResolve tests group and replica resolution for the class table
func TestClassResolve(t *testing.T) {
	tests := []struct {
		class    ObjClass
		targets  int
		groups   int
		replicas int
		fails    bool
	}{
		{ClassTinyRW, 4, 1, 1, false},
		{ClassSmallRW, 8, 4, 1, false},
		{ClassSmallRW, 2, 2, 1, false},
		{ClassLargeRW, 6, 6, 1, false},
		{ClassRepl2RW, 4, 1, 2, false},
		{ClassRepl3RW, 2, 0, 0, true},
		{ClassReplMaxRW, 5, 1, 5, false},
		{ObjClass(99), 5, 0, 0, true},
	}
	for _, tt := range tests {
		t.Run(fmt.Sprintf("%s/%d", tt.class, tt.targets), func(t *testing.T) {
			g, r, err := tt.class.Resolve(tt.targets)
			if tt.fails {
				if err == nil {
					t.Fatal("expected error")
				}
				return
			}
			if err != nil {
				t.Fatalf("Resolve() error = %v", err)
			}
			if g != tt.groups || r != tt.replicas {
				t.Errorf("Resolve() = (%d, %d), want (%d, %d)", g, r, tt.groups, tt.replicas)
			}
		})
	}
	if c, err := ParseObjClass("repl_max_rw"); err != nil || c != ClassReplMaxRW {
		t.Errorf("ParseObjClass() = %v, %v", c, err)
	}
	if c, err := ParseObjClass("4"); err != nil || c != ClassRepl2RW {
		t.Errorf("ParseObjClass(4) = %v, %v", c, err)
	}
}

// TestOIDRankHint tests packing of the rank hint into bits 24..31
func TestOIDRankHint(t *testing.T) {
	oid := NewOID(ClassRepl2RW, rand.New(rand.NewPCG(1, 2)))
	if oid.Class() != ClassRepl2RW {
		t.Fatalf("Class() = %v", oid.Class())
	}
	if _, ok := oid.RankHint(); ok {
		t.Fatal("fresh oid must not carry a rank hint")
	}
	hinted, err := oid.WithRankHint(7)
	if err != nil {
		t.Fatal(err)
	}
	if r, ok := hinted.RankHint(); !ok || r != 7 {
		t.Errorf("RankHint() = %d, %v", r, ok)
	}
	if (hinted.Hi>>24)&0xff != 7 {
		t.Errorf("bits 24..31 = %d, want 7", (hinted.Hi>>24)&0xff)
	}
	if hinted.Class() != ClassRepl2RW || hinted.Lo != oid.Lo || hinted.Hi&oidRandomMask != oid.Hi&oidRandomMask {
		t.Error("rank hint must not disturb other fields")
	}
	// bit 48 flags the hint, bits 49..63 stay clear
	if hinted.Hi>>48 != 1 || oid.Hi>>48 != 0 {
		t.Errorf("bits 48..63 = %#x, unhinted %#x", hinted.Hi>>48, oid.Hi>>48)
	}
	zero, err := oid.WithRankHint(0)
	if err != nil {
		t.Fatal(err)
	}
	if r, ok := zero.RankHint(); !ok || r != 0 {
		t.Errorf("RankHint() of rank 0 = %d, %v", r, ok)
	}
	if _, err := oid.WithRankHint(256); RCOf(err) != RCOverflow {
		t.Errorf("WithRankHint(256) error = %v", err)
	}
}

// TestOIDEncoding tests the text and binary forms
func TestOIDEncoding(t *testing.T) {
	oid := OID{Lo: 0x1122334455667788, Hi: 0x0000000d00abcdef}
	parsed, err := ParseOID(oid.String())
	if err != nil || parsed != oid {
		t.Fatalf("ParseOID(%s) = %v, %v", oid, parsed, err)
	}
	b, _ := oid.MarshalBinary()
	var back OID
	if err := back.UnmarshalBinary(b); err != nil || back != oid {
		t.Fatalf("UnmarshalBinary() = %v, %v", back, err)
	}
	if err := back.UnmarshalBinary(b[:3]); err == nil {
		t.Error("short input must fail")
	}
	if _, err := ParseOID("nodot"); err == nil {
		t.Error("malformed text must fail")
	}
}

// TestGlobalHandleBlob tests encoding, corruption detection and the size probe
func TestGlobalHandleBlob(t *testing.T) {
	p := GlobalPayload{Kind: HandleKindCont, Pool: uuid.New(), Cont: uuid.New(), Handle: 42, Flags: ContOpenRW, Group: "g"}
	blob, err := EncodeGlobal(p)
	if err != nil {
		t.Fatal(err)
	}
	got, err := DecodeGlobal(blob)
	if err != nil {
		t.Fatal(err)
	}
	if got != p {
		t.Errorf("DecodeGlobal() = %+v, want %+v", got, p)
	}

	corrupt := bytes.Clone(blob)
	corrupt[globalHeaderSize] ^= 0xff
	if rc := RCOf(func() error { _, err := DecodeGlobal(corrupt); return err }()); rc != RCInval {
		t.Errorf("corrupted payload rc = %v, want %v", rc, RCInval)
	}
	foreign := bytes.Clone(blob)
	foreign[0] = 'X'
	if rc := RCOf(func() error { _, err := DecodeGlobal(foreign); return err }()); rc != RCProto {
		t.Errorf("foreign magic rc = %v, want %v", rc, RCProto)
	}

	probe := IOV{}
	if err := FillGlobal(&probe, blob); err != nil || probe.Len != uint64(len(blob)) {
		t.Fatalf("probe = %+v, %v", probe, err)
	}
	small := NewOwnedIOV(probe.Len - 1)
	if rc := RCOf(FillGlobal(&small, blob)); rc != RCTrunc {
		t.Errorf("short buffer rc = %v, want %v", rc, RCTrunc)
	}
	full := NewOwnedIOV(probe.Len)
	if err := FillGlobal(&full, blob); err != nil || !bytes.Equal(full.Bytes(), blob) {
		t.Errorf("fill = %v", err)
	}
}
