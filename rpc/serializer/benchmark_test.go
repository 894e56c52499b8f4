package serializer

import (
	"testing"

	"github.com/ValentinKolb/dOBJ/lib/engine"
	"github.com/ValentinKolb/dOBJ/rpc/common"
)

// benchmarkMessages returns a set of messages for targeted benchmarking
func benchmarkMessages(b *testing.B) map[string]common.Message {
	update := func(size int) common.Message {
		return mustRequest(b, engine.OpUpdateObj, common.Args{
			Handle: 42,
			Epoch:  7,
			Dkey:   []byte("dkey"),
			IODs:   []engine.IOD{{Name: []byte("akey"), Type: engine.IODSingle, Size: uint64(size), Epoch: engine.WriteRange(7)}},
			SGLs:   []engine.SGL{engine.NewSGL(engine.BorrowIOV(make([]byte, size)))},
		})
	}
	fetched := func(size int) common.Message {
		return *common.NewResponse(engine.OpFetchObj, &common.Result{
			Sizes: []uint64{uint64(size)},
			Data:  [][][]byte{{make([]byte, size)}},
			NrOut: []uint32{1},
		}, nil)
	}
	return map[string]common.Message{
		"Empty": {
			MsgType: common.MsgTResponse,
			Op:      engine.OpCloseObj,
		},
		"HoldRequest":    mustRequest(b, engine.OpHoldEpoch, common.Args{Handle: 3}),
		"SmallUpdate":    update(8),
		"LargeUpdate":    update(1024),      // 1KB of data
		"VeryLargeFetch": fetched(1024 * 16), // 16KB of data
		"PoolInfo": *common.NewResponse(engine.OpQueryPool, &common.Result{Pool: &engine.PoolInfo{
			Targets: []engine.Target{{Rank: 0}, {Rank: 1}, {Rank: 2}, {Rank: 3}},
			Svc:     []engine.Rank{0},
		}}, nil),
		"ErrorMessage": *common.NewErrorResponse(engine.OpOpenCont,
			engine.NewError(engine.RCNonexist, "Lorem ipsum dolor sit amet, consectetur adipiscing elit. Sed do eiusmod tempor incididunt ut labore et dolore magna aliqua.")),
	}
}

// BenchmarkSerialize benchmarks serialization for all implementations with various message types
func BenchmarkSerialize(b *testing.B) {
	messages := benchmarkMessages(b)

	for name, factory := range testSerializers {
		for msgName, msg := range messages {
			b.Run(name+"_"+msgName, func(b *testing.B) {
				serializer := factory()
				b.ResetTimer()

				for i := 0; i < b.N; i++ {
					_, err := serializer.Serialize(msg)
					if err != nil {
						b.Fatalf("Failed to serialize: %v", err)
					}
				}
			})
		}
	}
}

// BenchmarkDeserialize benchmarks deserialization for all implementations with various message types
func BenchmarkDeserialize(b *testing.B) {
	messages := benchmarkMessages(b)
	serializedData := make(map[string]map[string][]byte)

	// Pre-serialize all messages with all serializers
	for name, factory := range testSerializers {
		serializer := factory()
		serializedData[name] = make(map[string][]byte)

		for msgName, msg := range messages {
			data, err := serializer.Serialize(msg)
			if err != nil {
				b.Fatalf("Failed to serialize %s with %s: %v", msgName, name, err)
			}
			serializedData[name][msgName] = data
		}
	}

	// Benchmark deserialization
	for name, factory := range testSerializers {
		for msgName := range messages {
			b.Run(name+"_"+msgName, func(b *testing.B) {
				serializer := factory()
				data := serializedData[name][msgName]
				b.ResetTimer()

				for i := 0; i < b.N; i++ {
					var msg common.Message
					err := serializer.Deserialize(data, &msg)
					if err != nil {
						b.Fatalf("Failed to deserialize: %v", err)
					}
				}
			})
		}
	}
}

// BenchmarkSize measures and reports the serialized size for each message type
func BenchmarkSize(b *testing.B) {
	messages := benchmarkMessages(b)

	for name, factory := range testSerializers {
		serializer := factory()

		for msgName, msg := range messages {
			b.Run(name+"_"+msgName, func(b *testing.B) {
				data, err := serializer.Serialize(msg)
				if err != nil {
					b.Fatalf("Failed to serialize: %v", err)
				}

				// Report the size as a custom metric
				b.ReportMetric(float64(len(data)), "bytes")

				// Minimal loop to satisfy benchmark requirements
				for i := 0; i < b.N; i++ {
					_ = data
				}
			})
		}
	}
}
