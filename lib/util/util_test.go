package util

import (
	"container/heap"
	"reflect"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

// TestEpochHeapOrder tests that the minimum is always the lowest priority
func TestEpochHeapOrder(t *testing.T) {
	h := NewEpochHeap()
	heap.Init(h)

	h.Add(5, 5)
	h.Add(2, 2)
	h.Add(9, 9)

	if k, p, ok := h.Min(); !ok || k != 2 || p != 2 {
		t.Fatalf("Min() = (%d, %d, %v), want (2, 2, true)", k, p, ok)
	}
	if got := h.Keys(); !reflect.DeepEqual(got, []uint64{2, 5, 9}) {
		t.Errorf("Keys() = %v", got)
	}
	if h.Len() != 3 {
		t.Errorf("Keys() must not modify the heap, len = %d", h.Len())
	}

	// updating a priority moves the entry
	h.Add(9, 1)
	if k, _, _ := h.Min(); k != 9 {
		t.Errorf("Min() after update = %d, want 9", k)
	}
}

// TestEpochHeapRemove tests key based and range removal
func TestEpochHeapRemove(t *testing.T) {
	h := NewEpochHeap()
	for _, e := range []uint64{7, 3, 4, 10} {
		h.Add(e, e)
	}

	if p, ok := h.Remove(4); !ok || p != 4 {
		t.Fatalf("Remove(4) = (%d, %v)", p, ok)
	}
	if h.Contains(4) {
		t.Error("heap still contains 4")
	}
	if _, ok := h.Remove(4); ok {
		t.Error("second Remove(4) must fail")
	}

	removed := h.RemoveUpTo(7)
	if !reflect.DeepEqual(removed, []uint64{3, 7}) {
		t.Errorf("RemoveUpTo(7) = %v, want [3 7]", removed)
	}
	if k, _, ok := h.Min(); !ok || k != 10 {
		t.Errorf("Min() = %d, want 10", k)
	}
	h.RemoveUpTo(100)
	if _, _, ok := h.Min(); ok {
		t.Error("heap should be empty")
	}
}

// TestQueueDelivery tests ordered delivery from a single producer
func TestQueueDelivery(t *testing.T) {
	q := NewQueue[int]()
	defer q.Close()

	for i := 0; i < 10; i++ {
		if !q.Push(&i) {
			t.Fatalf("Failed to push item %d", i)
		}
	}
	for i := 0; i < 10; i++ {
		select {
		case v := <-q.Recv():
			if *v != i {
				t.Errorf("Expected %d, got %d", i, *v)
			}
		case <-time.After(time.Second):
			t.Fatalf("Timeout waiting for item %d", i)
		}
	}
	if q.Push(nil) {
		t.Error("nil values must be rejected")
	}
}

// TestQueueConcurrentProducers tests that every item of many producers arrives exactly once
func TestQueueConcurrentProducers(t *testing.T) {
	q := NewQueue[int]()

	const producers = 8
	const perProducer = 500

	var wg sync.WaitGroup
	for p := 0; p < producers; p++ {
		wg.Add(1)
		go func(base int) {
			defer wg.Done()
			for i := 0; i < perProducer; i++ {
				v := base + i
				q.Push(&v)
			}
		}(p * perProducer)
	}

	seen := make(map[int]bool, producers*perProducer)
	timeout := time.After(5 * time.Second)
	for len(seen) < producers*perProducer {
		select {
		case v := <-q.Recv():
			if seen[*v] {
				t.Fatalf("duplicate item %d", *v)
			}
			seen[*v] = true
		case <-timeout:
			t.Fatalf("received %d of %d items", len(seen), producers*perProducer)
		}
	}
	wg.Wait()
	q.Close()
}

// TestQueueClose tests that queued items survive Close and the channel is closed afterwards
func TestQueueClose(t *testing.T) {
	q := NewQueue[string]()
	a, b := "a", "b"
	q.Push(&a)
	q.Push(&b)
	q.Close()

	if q.Push(&a) {
		t.Error("Push after Close must fail")
	}

	var got []string
	for v := range q.Recv() {
		got = append(got, *v)
	}
	q.Wait()
	if !reflect.DeepEqual(got, []string{"a", "b"}) {
		t.Errorf("drained %v, want [a b]", got)
	}
}

// TestQueuePushRacingClose tests that every item accepted by Push is delivered when Close
// runs concurrently with the producers
func TestQueuePushRacingClose(t *testing.T) {
	for round := 0; round < 200; round++ {
		q := NewQueue[int]()

		var accepted atomic.Int64
		var wg sync.WaitGroup
		start := make(chan struct{})
		for p := 0; p < 4; p++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				<-start
				for i := 0; i < 50; i++ {
					v := i
					if q.Push(&v) {
						accepted.Add(1)
					}
				}
			}()
		}

		received := 0
		drained := make(chan struct{})
		go func() {
			defer close(drained)
			for range q.Recv() {
				received++
			}
		}()

		close(start)
		q.Close()
		wg.Wait()

		select {
		case <-drained:
		case <-time.After(5 * time.Second):
			t.Fatalf("round %d: Recv channel not closed after Close", round)
		}
		q.Wait()
		if int64(received) != accepted.Load() {
			t.Fatalf("round %d: received %d items, Push accepted %d", round, received, accepted.Load())
		}
	}
}

// TestHashKey tests determinism and seed influence
func TestHashKey(t *testing.T) {
	if HashKey([]byte("dkey"), 0) != HashKey([]byte("dkey"), 0) {
		t.Fatal("hash is not deterministic")
	}
	if HashKey([]byte("dkey"), 1) == HashKey([]byte("dkey"), 2) {
		t.Error("seed has no influence")
	}
	// FNV-1a of the empty input is the offset basis
	if HashKey(nil, 0) != fnvOffset64 {
		t.Errorf("HashKey(nil) = %d", HashKey(nil, 0))
	}
}

// TestSizeHistogram tests sample accounting and percentile estimates
func TestSizeHistogram(t *testing.T) {
	h := NewSizeHistogram()
	for i := 0; i < 90; i++ {
		h.AddSample(10)
	}
	for i := 0; i < 10; i++ {
		h.AddSample(5000)
	}
	if h.Count() != 100 || h.Sum() != 90*10+10*5000 {
		t.Fatalf("count=%d sum=%d", h.Count(), h.Sum())
	}
	if p := h.Percentile(50); p != 8 {
		t.Errorf("Percentile(50) = %d, want 8", p)
	}
	if p := h.Percentile(99); p != (4096+16384)/2 {
		t.Errorf("Percentile(99) = %d", p)
	}
	h.RemoveSample(5000)
	if h.Count() != 99 {
		t.Errorf("Count() after remove = %d", h.Count())
	}
	h.Reset()
	if h.Count() != 0 || h.AverageSize() != 0 {
		t.Error("Reset did not clear the histogram")
	}
}

// TestStats tests summary statistics and the balance score
func TestStats(t *testing.T) {
	s := NewStats([]float64{2, 4, 4, 4, 5, 5, 7, 9})
	if s.Mean != 5 || s.StdDeviation != 2 || s.Min != 2 || s.Max != 9 {
		t.Errorf("unexpected stats %+v", s)
	}
	if b := Balance([]float64{3, 3, 3}); b != 1 {
		t.Errorf("Balance(equal) = %v, want 1", b)
	}
	if b := Balance([]float64{0, 10}); b >= 1 {
		t.Errorf("Balance(skewed) = %v", b)
	}
}
