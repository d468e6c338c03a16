// Package util
//
// This file provides the recency index used by the cache janitor.
//
// The implementation combines a binary min-heap with a hash map, so the
// janitor can both pop the least recently used key in O(log n) and react
// to individual cache events in O(1)/O(log n):
//
//   - Touch: a key was accessed, update its priority and fix the heap
//   - RemoveByKey: a key left the cache, drop it from the index
//   - Peek/Pop: find the next eviction candidate without scanning
//
// Priorities are last-access timestamps in unix nanoseconds, so the heap
// minimum is always the coldest key. The index is owned by the single
// janitor goroutine and is not thread-safe, all cache events reach it
// through the MPSC queue.
package util

import (
	"container/heap"
	"strconv"
)

// accessItem tracks one cached key and when it was last accessed
type accessItem struct {
	Key        string // cache key
	AccessedAt int64  // unix nanoseconds of the last access, heap priority
	index      int    // position in the heap, maintained by the heap package
}

func (i *accessItem) String() string {
	return "{Key: " + i.Key + ", AccessedAt: " + strconv.FormatInt(i.AccessedAt, 10) + "}"
}

// AccessHeap is a recency index over cache keys with both heap operations
// and key-based access
type AccessHeap struct {
	items    []*accessItem          // the actual heap slice
	itemsMap map[string]*accessItem // map for O(1) access by key
}

// NewAccessHeap creates an empty recency index
func NewAccessHeap() *AccessHeap {
	return &AccessHeap{
		items:    make([]*accessItem, 0),
		itemsMap: make(map[string]*accessItem),
	}
}

// Len returns the number of tracked keys (part of heap.Interface)
func (h *AccessHeap) Len() int { return len(h.items) }

// Less orders by last access, oldest first (part of heap.Interface)
func (h *AccessHeap) Less(i, j int) bool {
	return h.items[i].AccessedAt < h.items[j].AccessedAt
}

// Swap exchanges items at positions i and j (part of heap.Interface)
func (h *AccessHeap) Swap(i, j int) {
	h.items[i], h.items[j] = h.items[j], h.items[i]
	h.items[i].index = i
	h.items[j].index = j
}

// Push adds an item to the heap (part of heap.Interface)
func (h *AccessHeap) Push(x interface{}) {
	n := len(h.items)
	item := x.(*accessItem)
	item.index = n
	h.items = append(h.items, item)
	h.itemsMap[item.Key] = item
}

// Pop removes and returns the coldest item (part of heap.Interface)
func (h *AccessHeap) Pop() interface{} {
	old := h.items
	n := len(old)
	item := old[n-1]
	old[n-1] = nil  // avoid memory leak
	item.index = -1 // for safety
	h.items = old[:n-1]
	delete(h.itemsMap, item.Key)
	return item
}

// Touch records an access for a key, inserting it if unknown or updating
// its timestamp and fixing the heap if already tracked
func (h *AccessHeap) Touch(key string, accessedAt int64) {
	if item, exists := h.itemsMap[key]; exists {
		item.AccessedAt = accessedAt
		heap.Fix(h, item.index)
		return
	}

	heap.Push(h, &accessItem{
		Key:        key,
		AccessedAt: accessedAt,
	})
}

// RemoveByKey drops a key from the index, returning its last access time
func (h *AccessHeap) RemoveByKey(key string) (int64, bool) {
	item, exists := h.itemsMap[key]
	if !exists {
		return 0, false
	}

	heap.Remove(h, item.index)
	return item.AccessedAt, true
}

// PopColdest removes and returns the least recently accessed key
func (h *AccessHeap) PopColdest() (string, int64, bool) {
	if len(h.items) == 0 {
		return "", 0, false
	}
	item := heap.Pop(h).(*accessItem)
	return item.Key, item.AccessedAt, true
}

// Peek returns the least recently accessed key without removing it
func (h *AccessHeap) Peek() (string, int64, bool) {
	if len(h.items) == 0 {
		return "", 0, false
	}
	return h.items[0].Key, h.items[0].AccessedAt, true
}

// Contains checks if a key is tracked in the index
func (h *AccessHeap) Contains(key string) bool {
	_, exists := h.itemsMap[key]
	return exists
}
