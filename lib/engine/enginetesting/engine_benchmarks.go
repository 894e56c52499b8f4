package enginetesting

import (
	"fmt"
	"sync/atomic"
	"testing"

	"github.com/ValentinKolb/dOBJ/lib/engine"
)

var benchValueSizes = []int{64, 4096}

// RunEngineBenchmarks runs the object I/O benchmarks against an engine implementation.
func RunEngineBenchmarks(b *testing.B, name string, factory EngineFactory) {
	b.Run(name, func(b *testing.B) {
		for _, size := range benchValueSizes {
			b.Run(fmt.Sprintf("Update/%dB", size), func(b *testing.B) { benchmarkUpdate(b, factory(), size) })
			b.Run(fmt.Sprintf("Fetch/%dB", size), func(b *testing.B) { benchmarkFetch(b, factory(), size) })
		}
		b.Run("HoldCommit", func(b *testing.B) { benchmarkHoldCommit(b, factory()) })
	})
}

func benchmarkUpdate(b *testing.B, e engine.IEngine, size int) {
	defer e.Close()
	f := newFixture(b, e)
	_, oh := f.object(b, engine.DefaultClass)
	ep := f.hold(b)
	value := make([]byte, size)

	var counter atomic.Uint64
	b.SetBytes(int64(size))
	b.ResetTimer()
	b.RunParallel(func(pb *testing.PB) {
		for pb.Next() {
			akey := fmt.Sprintf("akey-%d", counter.Add(1)%1024)
			iods := []engine.IOD{single(akey, uint64(size), engine.WriteRange(ep))}
			sgls := []engine.SGL{engine.NewSGL(engine.BorrowIOV(value))}
			if err := e.ObjUpdate(oh, ep, []byte("bench"), iods, sgls); err != nil {
				b.Fatal(err)
			}
		}
	})
}

func benchmarkFetch(b *testing.B, e engine.IEngine, size int) {
	defer e.Close()
	f := newFixture(b, e)
	_, oh := f.object(b, engine.DefaultClass)
	ep := f.hold(b)
	value := make([]byte, size)
	for i := 0; i < 1024; i++ {
		f.put(b, oh, ep, "bench", fmt.Sprintf("akey-%d", i), string(value))
	}
	f.commit(b, ep)

	var counter atomic.Uint64
	b.SetBytes(int64(size))
	b.ResetTimer()
	b.RunParallel(func(pb *testing.PB) {
		sgls := []engine.SGL{engine.NewSGL(engine.NewOwnedIOV(uint64(size)))}
		for pb.Next() {
			akey := fmt.Sprintf("akey-%d", counter.Add(1)%1024)
			iods := []engine.IOD{single(akey, uint64(size), engine.ReadRange(ep))}
			if err := e.ObjFetch(oh, ep, []byte("bench"), iods, sgls); err != nil {
				b.Fatal(err)
			}
		}
	})
}

func benchmarkHoldCommit(b *testing.B, e engine.IEngine) {
	defer e.Close()
	f := newFixture(b, e)

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		ep := f.hold(b)
		f.commit(b, ep)
	}
}
