package serializer

import (
	"reflect"
	"testing"

	"github.com/ValentinKolb/dOBJ/lib/engine"
	"github.com/ValentinKolb/dOBJ/rpc/common"
)

// testSerializers is a map of serializer name to factory function
var testSerializers = map[string]func() IRPCSerializer{
	"JSON":   NewJSONSerializer,
	"GOB":    NewGOBSerializer,
	"CBOR":   NewCBORSerializer,
	"Binary": NewBinarySerializer,
}

// mustRequest encodes args into a request message
func mustRequest(t testing.TB, op engine.Op, args common.Args) common.Message {
	msg, err := common.NewRequest(op, &args)
	if err != nil {
		t.Fatalf("Failed to build %s request: %v", op, err)
	}
	return *msg
}

// testMessages creates a set of test messages with different fields filled
func testMessages(t testing.TB) []common.Message {
	return []common.Message{
		// Basic message with just a type
		{MsgType: common.MsgTResponse, Op: engine.OpCloseCont},

		// Update request
		mustRequest(t, engine.OpUpdateObj, common.Args{
			Handle: 7,
			Epoch:  3,
			Dkey:   []byte("dkey"),
			IODs:   []engine.IOD{{Name: []byte("akey"), Type: engine.IODSingle, Size: 5, Epoch: engine.WriteRange(3)}},
			SGLs:   []engine.SGL{engine.NewSGL(engine.BorrowIOV([]byte("value")))},
		}),

		// Hold response
		*common.NewResponse(engine.OpHoldEpoch, &common.Result{Epoch: 4, State: engine.EpochState{HCE: 3, LHE: 4}}, nil),

		// Error response
		*common.NewErrorResponse(engine.OpOpenCont, engine.NewError(engine.RCNonexist, "container not found")),

		// Failed fetch that still reports sizes
		*common.NewResponse(engine.OpFetchObj, &common.Result{Sizes: []uint64{12}}, engine.NewError(engine.RCTrunc, "buffer too small")),
	}
}

// TestSerializerRoundTrip tests that messages can be serialized and deserialized correctly
func TestSerializerRoundTrip(t *testing.T) {
	messages := testMessages(t)

	for name, factory := range testSerializers {
		t.Run(name, func(t *testing.T) {
			serializer := factory()

			for i, msg := range messages {
				// Serialize
				data, err := serializer.Serialize(msg)
				if err != nil {
					t.Errorf("Failed to serialize message %d: %v", i, err)
					continue
				}

				// Deserialize
				var result common.Message
				err = serializer.Deserialize(data, &result)
				if err != nil {
					t.Errorf("Failed to deserialize message %d: %v", i, err)
					continue
				}

				// Compare
				if !reflect.DeepEqual(msg, result) {
					t.Errorf("Message %d doesn't match after round trip:\nOriginal: %+v\nResult: %+v",
						i, msg, result)
				}
			}
		})
	}
}

// TestMessageTypes tests each message type and operation with each serializer
func TestMessageTypes(t *testing.T) {
	for name, factory := range testSerializers {
		t.Run(name, func(t *testing.T) {
			serializer := factory()

			for msgType := common.MsgTRequest; msgType <= common.MsgTError; msgType++ {
				for _, op := range engine.AllOps() {
					msg := common.Message{MsgType: msgType, Op: op}

					data, err := serializer.Serialize(msg)
					if err != nil {
						t.Errorf("Failed to serialize %s %s: %v", op, msgType, err)
						continue
					}

					var result common.Message
					if err := serializer.Deserialize(data, &result); err != nil {
						t.Errorf("Failed to deserialize %s %s: %v", op, msgType, err)
						continue
					}

					if result.MsgType != msgType || result.Op != op {
						t.Errorf("Header doesn't match after round trip: expected %s %s, got %s %s",
							msgType, op, result.MsgType, result.Op)
					}
				}
			}
		})
	}
}

// TestErrorResponse tests that result codes survive the round trip and turn back into engine errors
func TestErrorResponse(t *testing.T) {
	for name, factory := range testSerializers {
		t.Run(name, func(t *testing.T) {
			serializer := factory()
			msg := common.NewErrorResponse(engine.OpCommitEpoch, engine.NewError(engine.RCAlready, "epoch 3 is committed"))

			data, err := serializer.Serialize(*msg)
			if err != nil {
				t.Fatalf("Failed to serialize: %v", err)
			}
			var result common.Message
			if err := serializer.Deserialize(data, &result); err != nil {
				t.Fatalf("Failed to deserialize: %v", err)
			}

			err = result.AsError()
			if rc := engine.RCOf(err); rc != engine.RCAlready {
				t.Fatalf("Expected %s, got %s (%v)", engine.RCAlready, rc, err)
			}
			if want := "engine error: " + engine.RCAlready.String() + ": epoch 3 is committed"; err.Error() != want {
				t.Errorf("Error text mismatch: expected %q, got %q", want, err.Error())
			}
		})
	}
}

// TestBinarySerializerSpecific tests specific edge cases for the binary serializer
func TestBinarySerializerSpecific(t *testing.T) {
	serializer := NewBinarySerializer()

	// Test cases for empty or zero values
	testCases := []struct {
		name string
		msg  common.Message
	}{
		{
			name: "Empty message",
			msg:  common.Message{},
		},
		{
			name: "Message with empty payloads",
			msg: common.Message{
				MsgType: common.MsgTRequest,
				Op:      engine.OpFetchObj,
				Args:    []byte{},
				Result:  []byte{},
			},
		},
		{
			name: "Message with nil payloads and negative rc",
			msg: common.Message{
				MsgType: common.MsgTError,
				Op:      engine.OpOpenObj,
				RC:      int32(engine.RCNoHandle),
				Err:     "bad handle",
			},
		},
		{
			name: "Message with only a result",
			msg: common.Message{
				MsgType: common.MsgTResponse,
				Op:      engine.OpGenerateOID,
				Result:  []byte{0xa0},
			},
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			data, err := serializer.Serialize(tc.msg)
			if err != nil {
				t.Fatalf("Failed to serialize: %v", err)
			}

			var result common.Message
			if err := serializer.Deserialize(data, &result); err != nil {
				t.Fatalf("Failed to deserialize: %v", err)
			}

			// DeepEqual tells nil and empty slices apart
			if !reflect.DeepEqual(tc.msg, result) {
				t.Errorf("Message doesn't match after round trip:\nOriginal: %#v\nResult: %#v", tc.msg, result)
			}
		})
	}
}

// TestNilDkey tests that a nil dkey and an empty dkey stay apart through the binary codec
func TestNilDkey(t *testing.T) {
	serializer := NewBinarySerializer()

	for _, dkey := range [][]byte{nil, {}} {
		msg := mustRequest(t, engine.OpFetchObj, common.Args{Handle: 1, Dkey: dkey})

		data, err := serializer.Serialize(msg)
		if err != nil {
			t.Fatalf("Failed to serialize: %v", err)
		}
		var result common.Message
		if err := serializer.Deserialize(data, &result); err != nil {
			t.Fatalf("Failed to deserialize: %v", err)
		}
		args, err := common.DecodeArgs(result.Args)
		if err != nil {
			t.Fatalf("Failed to decode args: %v", err)
		}

		if (dkey == nil) != (args.Dkey == nil) {
			t.Errorf("Dkey nil/non-nil mismatch: expected %#v, got %#v", dkey, args.Dkey)
		}
		if len(args.Dkey) != 0 {
			t.Errorf("Expected empty dkey, got %q", args.Dkey)
		}
	}
}

// TestInvalidBinaryData tests how the binary serializer handles corrupt or invalid data
func TestInvalidBinaryData(t *testing.T) {
	serializer := NewBinarySerializer()

	testCases := []struct {
		name        string
		data        []byte
		expectError bool
	}{
		{
			name:        "Empty data",
			data:        []byte{},
			expectError: true,
		},
		{
			name:        "Too short header",
			data:        []byte{1, 2}, // Type and op, no flags
			expectError: true,
		},
		{
			name:        "Valid header only",
			data:        []byte{1, 2, 0}, // Request, op 2, no flags
			expectError: false,
		},
		{
			name:        "Invalid length for args",
			data:        []byte{1, 2, 1, 0, 0, 0, 5, 'a', 'b', 'c'}, // Claims args length 5 but only 3 bytes provided
			expectError: true,
		},
		{
			name:        "Missing result code",
			data:        []byte{3, 2, 4, 0xff}, // Claims rc but only 1 byte provided
			expectError: true,
		},
		{
			name:        "Trailing bytes",
			data:        []byte{1, 2, 0, 42},
			expectError: true,
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			var msg common.Message
			err := serializer.Deserialize(tc.data, &msg)

			if tc.expectError && err == nil {
				t.Errorf("Expected error but got none")
			} else if !tc.expectError && err != nil {
				t.Errorf("Did not expect error but got: %v", err)
			}
		})
	}
}

// TestUnknownMessageType tests that every serializer rejects messages without a known type
func TestUnknownMessageType(t *testing.T) {
	for name, factory := range testSerializers {
		t.Run(name, func(t *testing.T) {
			serializer := factory()
			for _, msgType := range []common.MessageType{common.MsgTUnknown, common.MsgTError + 1} {
				data, err := serializer.Serialize(common.Message{MsgType: msgType, Op: engine.OpQueryPool})
				if err != nil {
					t.Fatalf("Failed to serialize message type %d: %v", msgType, err)
				}
				var msg common.Message
				if err := serializer.Deserialize(data, &msg); err == nil {
					t.Errorf("Expected message type %d to be rejected", msgType)
				}
			}
		})
	}
}
