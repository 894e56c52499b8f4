package internal

import (
	"bytes"
	"reflect"
	"testing"

	"github.com/ValentinKolb/dOBJ/lib/engine"
	"github.com/google/uuid"
)

// TestSerializeDeserialize tests both Serialize and Deserialize methods
func TestSerializeDeserialize(t *testing.T) {
	id := uuid.MustParse("8d5f1c7e-3c1a-4c1b-9a55-0f5b9c9f8a01")
	oid := engine.OID{Lo: 42, Hi: uint64(engine.ClassTinyRW) << 32}

	tests := []struct {
		name    string
		command Command
	}{
		{
			name: "Create pool",
			command: Command{Op: engine.OpCreatePool, Args: Args{
				Create: &engine.PoolCreateRequest{UUID: id, Mode: 0o731, Targets: []engine.Rank{0, 1, 2}, SvcNr: 1},
			}},
		},
		{
			name: "Exclude targets",
			command: Command{Op: engine.OpExcludePool, Args: Args{
				UUID: id, Group: "g", Svc: []engine.Rank{0}, Ranks: []engine.Rank{2},
			}},
		},
		{
			name: "Open object",
			command: Command{Op: engine.OpOpenObj, Args: Args{
				Handle: 7, OID: oid, Epoch: 3, Flags: engine.ObjOpenRW,
			}},
		},
		{
			name: "Update with array",
			command: Command{Op: engine.OpUpdateObj, Args: Args{
				Handle: 9,
				Epoch:  5,
				Dkey:   []byte("dkey"),
				IODs: []engine.IOD{{
					Name: []byte("akey"), Type: engine.IODArray, Size: 2,
					Extents: []engine.Extent{{Index: 0, Count: 2}}, Epoch: engine.WriteRange(5),
				}},
				SGLs: []engine.SGL{engine.NewSGL(engine.BorrowIOV([]byte("ab")), engine.BorrowIOV([]byte("cd")))},
			}},
		},
		{
			name: "Set attributes",
			command: Command{Op: engine.OpSetAttrCont, Args: Args{
				Handle: 3, Names: []string{"a", "b"}, Values: [][]byte{{1}, {0, 255}},
			}},
		},
		{
			name:    "Kill server",
			command: Command{Op: engine.OpKillServer, Args: Args{Group: "g", Rank: 4, Force: true}},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			data, err := tt.command.Serialize()
			if err != nil {
				t.Fatalf("Serialize() error = %v", err)
			}
			if data[0] != byte(tt.command.Op) {
				t.Errorf("first byte = %d, want op %d", data[0], tt.command.Op)
			}

			var got Command
			if err := got.Deserialize(data); err != nil {
				t.Fatalf("Deserialize() error = %v", err)
			}
			if got.Op != tt.command.Op {
				t.Errorf("Op mismatch: got %v, want %v", got.Op, tt.command.Op)
			}
			if got.Args.UUID != tt.command.Args.UUID || got.Args.Handle != tt.command.Args.Handle ||
				got.Args.Epoch != tt.command.Args.Epoch || got.Args.OID != tt.command.Args.OID {
				t.Errorf("Args mismatch: got %+v, want %+v", got.Args, tt.command.Args)
			}
			if !reflect.DeepEqual(got.Args.Create, tt.command.Args.Create) {
				t.Errorf("Create mismatch: got %+v, want %+v", got.Args.Create, tt.command.Args.Create)
			}
			if !reflect.DeepEqual(got.Args.Ranks, tt.command.Args.Ranks) {
				t.Errorf("Ranks mismatch: got %v, want %v", got.Args.Ranks, tt.command.Args.Ranks)
			}
			if !reflect.DeepEqual(got.Args.Names, tt.command.Args.Names) {
				t.Errorf("Names mismatch: got %v, want %v", got.Args.Names, tt.command.Args.Names)
			}
			for i, sgl := range tt.command.Args.SGLs {
				for j, iov := range sgl.IOVs {
					if !bytes.Equal(got.Args.SGLs[i].IOVs[j].Bytes(), iov.Bytes()) {
						t.Errorf("SGL %d IOV %d mismatch: got %q, want %q", i, j, got.Args.SGLs[i].IOVs[j].Bytes(), iov.Bytes())
					}
				}
			}
		})
	}
}

// TestNilKeys checks that nil and empty keys stay distinct, since nil means
// "no key" for dkeys and "everything" for key lists.
func TestNilKeys(t *testing.T) {
	tests := []struct {
		name    string
		dkey    []byte
		keys    [][]byte
		nilDkey bool
		nilKeys bool
	}{
		{name: "nil dkey and nil list", nilDkey: true, nilKeys: true},
		{name: "empty dkey and empty list", dkey: []byte{}, keys: [][]byte{}},
		{name: "set", dkey: []byte("d"), keys: [][]byte{[]byte("a"), {}}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cmd := Command{Op: engine.OpPunchAkeys, Args: Args{Handle: 1, Epoch: 2, Dkey: tt.dkey, Keys: tt.keys}}
			data, err := cmd.Serialize()
			if err != nil {
				t.Fatalf("Serialize() error = %v", err)
			}
			var got Command
			if err := got.Deserialize(data); err != nil {
				t.Fatalf("Deserialize() error = %v", err)
			}
			if (got.Args.Dkey == nil) != tt.nilDkey {
				t.Errorf("dkey nil = %v, want %v", got.Args.Dkey == nil, tt.nilDkey)
			}
			if (got.Args.Keys == nil) != tt.nilKeys {
				t.Errorf("key list nil = %v, want %v", got.Args.Keys == nil, tt.nilKeys)
			}
			if len(got.Args.Keys) != len(tt.keys) {
				t.Errorf("got %d keys, want %d", len(got.Args.Keys), len(tt.keys))
			}
		})
	}
}

// TestDeserializeErrors tests error cases in Deserialize
func TestDeserializeErrors(t *testing.T) {
	tests := []struct {
		name string
		data []byte
	}{
		{name: "Empty data", data: []byte{}},
		{name: "Only op", data: []byte{byte(engine.OpUpdateObj)}},
		{name: "Query op", data: []byte{byte(engine.OpFetchObj), 0xa0}},
		{name: "Unknown op", data: []byte{250, 0xa0}},
		{name: "Broken arguments", data: []byte{byte(engine.OpUpdateObj), 0xff, 0x00}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var cmd Command
			if err := cmd.Deserialize(tt.data); err == nil {
				t.Fatalf("Expected error but got nil")
			}
		})
	}
}

// TestResultEncoding checks the result round trip used by sm.Result.Data
func TestResultEncoding(t *testing.T) {
	info := engine.PoolInfo{UUID: uuid.New(), Targets: []engine.Target{{Rank: 1, State: engine.TargetDown}}, Disabled: 1}
	res := Result{Handle: 12, Pool: &info, State: engine.EpochState{HCE: 3, LHE: engine.EpochMax}}

	data, err := EncodeResult(res)
	if err != nil {
		t.Fatalf("EncodeResult() error = %v", err)
	}
	got, err := DecodeResult(data)
	if err != nil {
		t.Fatalf("DecodeResult() error = %v", err)
	}
	if got.Handle != res.Handle || got.State != res.State {
		t.Errorf("got %+v, want %+v", got, res)
	}
	if got.Pool == nil || !reflect.DeepEqual(*got.Pool, info) {
		t.Errorf("pool info mismatch: got %+v, want %+v", got.Pool, info)
	}

	empty, err := DecodeResult(nil)
	if err != nil || empty.Handle != 0 {
		t.Errorf("DecodeResult(nil) = %+v, %v", empty, err)
	}
}
