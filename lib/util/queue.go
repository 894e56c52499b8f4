package util

import (
	"runtime"
	"sync"
	"sync/atomic"
)

// Queue is an unbounded lock-free multi-producer single-consumer queue.
// Producers never block in Push; a single internal consumer goroutine moves
// items into the channel returned by Recv, in the order they were linked.
//
// After Close, Push fails, already queued items are still delivered and the
// Recv channel is closed once the queue is drained.
type Queue[T any] struct {
	head   atomic.Pointer[qnode[T]]
	tail   atomic.Pointer[qnode[T]]
	out    chan *T
	done   sync.WaitGroup
	closed atomic.Bool

	// producers between their closed check and the link of their node
	inflight atomic.Int64

	mu   sync.Mutex
	cond *sync.Cond
}

type qnode[T any] struct {
	value *T
	next  atomic.Pointer[qnode[T]]
}

// NewQueue creates a queue and starts its consumer goroutine.
func NewQueue[T any]() *Queue[T] {
	sentinel := &qnode[T]{}
	q := &Queue[T]{out: make(chan *T)}
	q.cond = sync.NewCond(&q.mu)
	q.head.Store(sentinel)
	q.tail.Store(sentinel)

	q.done.Add(1)
	go q.consume()
	return q
}

// Push appends value. It returns false for nil values and after Close.
func (q *Queue[T]) Push(value *T) bool {
	if value == nil {
		return false
	}
	q.inflight.Add(1)
	if q.closed.Load() {
		q.inflight.Add(-1)
		q.wake()
		return false
	}
	n := &qnode[T]{value: value}

	var backoff uint8
	for {
		tail := q.tail.Load()
		next := tail.next.Load()
		if next == nil {
			if tail.next.CompareAndSwap(nil, n) {
				q.tail.CompareAndSwap(tail, n)
				q.inflight.Add(-1)
				q.wake()
				return true
			}
		} else {
			// another producer linked a node but has not moved the tail yet
			q.tail.CompareAndSwap(tail, next)
		}

		if backoff < 10 {
			backoff++
			for i := 0; i < 1<<backoff; i++ {
				runtime.Gosched()
			}
		}
		runtime.Gosched()
	}
}

// wake signals the consumer. The mutex is taken so the signal cannot fall between
// the consumer's emptiness check and its Wait.
func (q *Queue[T]) wake() {
	q.mu.Lock()
	q.cond.Signal()
	q.mu.Unlock()
}

func (q *Queue[T]) consume() {
	defer q.done.Done()
	defer close(q.out)

	for {
		drained := false
		for {
			head := q.head.Load()
			next := head.next.Load()
			if next == nil {
				break
			}
			drained = true
			value := next.value
			q.head.Store(next)
			q.out <- value
			next.value = nil
		}

		if !drained && q.closed.Load() && q.inflight.Load() == 0 {
			// a producer that passed its closed check has linked its node by now
			if q.head.Load().next.Load() == nil {
				return
			}
			continue
		}
		if !drained {
			q.mu.Lock()
			if q.head.Load().next.Load() == nil && (!q.closed.Load() || q.inflight.Load() > 0) {
				q.cond.Wait()
			}
			q.mu.Unlock()
		}
	}
}

// Recv returns the channel items are delivered on.
func (q *Queue[T]) Recv() <-chan *T { return q.out }

// Close stops accepting new items.
func (q *Queue[T]) Close() {
	q.closed.Store(true)
	q.wake()
}

// Wait blocks until the consumer has delivered every item and closed the Recv channel.
// Someone must keep receiving from Recv for Wait to return.
func (q *Queue[T]) Wait() { q.done.Wait() }

// IsClosed reports whether Close was called.
func (q *Queue[T]) IsClosed() bool { return q.closed.Load() }

// Len counts the queued items. O(n), meant for diagnostics.
func (q *Queue[T]) Len() int {
	count := 0
	for cur := q.head.Load().next.Load(); cur != nil; cur = cur.next.Load() {
		count++
	}
	return count
}
