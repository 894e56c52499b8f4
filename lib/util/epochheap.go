package util

import (
	"container/heap"
	"strconv"
)

// heapItem is one entry of an EpochHeap.
type heapItem struct {
	Key      uint64
	Priority uint64
	index    int // maintained by container/heap
}

func (i *heapItem) String() string {
	return "{Key: " + strconv.FormatUint(i.Key, 10) + ", Priority: " + strconv.FormatUint(i.Priority, 10) + "}"
}

// EpochHeap is a min-heap with O(1) key lookup. Engines keep the epochs held on a
// container in it: the minimum is the lowest held epoch, and commits remove entries by key.
//
// Not thread safe, callers synchronize.
type EpochHeap struct {
	items    []*heapItem
	itemsMap map[uint64]*heapItem
}

// NewEpochHeap returns an empty, initialized heap.
func NewEpochHeap() *EpochHeap {
	return &EpochHeap{
		items:    make([]*heapItem, 0),
		itemsMap: make(map[uint64]*heapItem),
	}
}

// --------------------------------------------------------------------------
// heap.Interface
// --------------------------------------------------------------------------

func (h *EpochHeap) Len() int { return len(h.items) }

func (h *EpochHeap) Less(i, j int) bool { return h.items[i].Priority < h.items[j].Priority }

func (h *EpochHeap) Swap(i, j int) {
	h.items[i], h.items[j] = h.items[j], h.items[i]
	h.items[i].index = i
	h.items[j].index = j
}

func (h *EpochHeap) Push(x any) {
	it := x.(*heapItem)
	it.index = len(h.items)
	h.items = append(h.items, it)
	h.itemsMap[it.Key] = it
}

func (h *EpochHeap) Pop() any {
	old := h.items
	n := len(old)
	it := old[n-1]
	old[n-1] = nil
	it.index = -1
	h.items = old[:n-1]
	delete(h.itemsMap, it.Key)
	return it
}

// --------------------------------------------------------------------------
// Key based access
// --------------------------------------------------------------------------

// Add inserts key with the given priority or updates the priority of an existing key.
func (h *EpochHeap) Add(key, priority uint64) {
	if it, ok := h.itemsMap[key]; ok {
		it.Priority = priority
		heap.Fix(h, it.index)
		return
	}
	heap.Push(h, &heapItem{Key: key, Priority: priority})
}

// Remove deletes key and returns its priority.
func (h *EpochHeap) Remove(key uint64) (uint64, bool) {
	it, ok := h.itemsMap[key]
	if !ok {
		return 0, false
	}
	heap.Remove(h, it.index)
	return it.Priority, true
}

// RemoveUpTo deletes every entry with a priority <= limit and returns their keys in ascending priority order.
func (h *EpochHeap) RemoveUpTo(limit uint64) []uint64 {
	var keys []uint64
	for len(h.items) > 0 && h.items[0].Priority <= limit {
		keys = append(keys, heap.Pop(h).(*heapItem).Key)
	}
	return keys
}

// Min returns the entry with the lowest priority.
func (h *EpochHeap) Min() (key, priority uint64, ok bool) {
	if len(h.items) == 0 {
		return 0, 0, false
	}
	return h.items[0].Key, h.items[0].Priority, true
}

// Contains reports whether key is in the heap.
func (h *EpochHeap) Contains(key uint64) bool {
	_, ok := h.itemsMap[key]
	return ok
}

// Keys returns all keys in ascending priority order without modifying the heap.
func (h *EpochHeap) Keys() []uint64 {
	c := &EpochHeap{items: make([]*heapItem, len(h.items)), itemsMap: make(map[uint64]*heapItem, len(h.items))}
	for i, it := range h.items {
		cp := *it
		c.items[i] = &cp
		c.itemsMap[cp.Key] = &cp
	}
	keys := make([]uint64, 0, len(h.items))
	for c.Len() > 0 {
		keys = append(keys, heap.Pop(c).(*heapItem).Key)
	}
	return keys
}
