// Package util
//
// This file provides a keyed min-heap used to track watcher deadlines.
//
// The implementation combines a binary heap with a hash map so that the registry can
// both find the next deadline and drop a single watcher when it is resolved early
// (by a notification or a cancel) without scanning the heap:
//
//   - O(log n) for priority operations (AddItem, PopDue, RemoveByKey)
//   - O(1) for key-based lookups and existence checks
//
// The heap is not thread-safe. The watch registry guards it with its own mutex.
//
// Example usage:
//
//	deadlines := NewMapHeap()
//	deadlines.AddItem(watchID, uint64(deadline.UnixNano()))
//
//	// later, from the sweeper
//	for _, id := range deadlines.PopDue(uint64(time.Now().UnixNano())) {
//	    // resolve watcher id with a timeout
//	}
package util

import (
	"container/heap"
	"strconv"
)

// item is a single entry of the heap
type item struct {
	Key      uint64 // Unique identifier for the item
	Priority uint64 // Priority used for ordering, lower values pop first
	index    int    // Index in the heap, maintained by heap package
}

func (i *item) String() string {
	return "{Key: " + strconv.FormatUint(i.Key, 10) + ", Priority: " + strconv.FormatUint(i.Priority, 10) + "}"
}

// MapHeap is a min-heap over uint64 priorities with key-based access.
type MapHeap struct {
	items    []*item          // The actual heap slice
	itemsMap map[uint64]*item // Map for O(1) access by key
}

// NewMapHeap creates a new empty heap
func NewMapHeap() *MapHeap {
	return &MapHeap{
		items:    make([]*item, 0),
		itemsMap: make(map[uint64]*item),
	}
}

// Len returns the number of items in the queue (part of heap.Interface)
func (mh *MapHeap) Len() int { return len(mh.items) }

// Less compares items by priority (part of heap.Interface)
func (mh *MapHeap) Less(i, j int) bool {
	return mh.items[i].Priority < mh.items[j].Priority
}

// Swap exchanges items at positions i and j (part of heap.Interface)
func (mh *MapHeap) Swap(i, j int) {
	mh.items[i], mh.items[j] = mh.items[j], mh.items[i]
	mh.items[i].index = i
	mh.items[j].index = j
}

// Push adds an item to the heap (part of heap.Interface)
func (mh *MapHeap) Push(x interface{}) {
	n := len(mh.items)
	item := x.(*item)
	item.index = n
	mh.items = append(mh.items, item)
	mh.itemsMap[item.Key] = item
}

// Pop removes and returns the minimum item (part of heap.Interface)
func (mh *MapHeap) Pop() interface{} {
	old := mh.items
	n := len(old)
	item := old[n-1]
	old[n-1] = nil  // Avoid memory leak
	item.index = -1 // For safety
	mh.items = old[:n-1]
	delete(mh.itemsMap, item.Key)
	return item
}

// AddItem adds a new item to the queue or updates the priority of an existing one
func (mh *MapHeap) AddItem(key, priority uint64) {
	if item, exists := mh.itemsMap[key]; exists {
		item.Priority = priority
		heap.Fix(mh, item.index)
		return
	}

	heap.Push(mh, &item{
		Key:      key,
		Priority: priority,
	})
}

// RemoveByKey removes an item by its key and returns its priority
func (mh *MapHeap) RemoveByKey(key uint64) (uint64, bool) {
	item, exists := mh.itemsMap[key]
	if !exists {
		return 0, false
	}
	heap.Remove(mh, item.index)
	return item.Priority, true
}

// PopDue removes all items with a priority <= limit and returns their keys
// in ascending priority order.
func (mh *MapHeap) PopDue(limit uint64) []uint64 {
	var keys []uint64
	for len(mh.items) > 0 && mh.items[0].Priority <= limit {
		keys = append(keys, heap.Pop(mh).(*item).Key)
	}
	return keys
}

// Peek returns the minimum item without removing it
func (mh *MapHeap) Peek() (*item, bool) {
	if len(mh.items) == 0 {
		return nil, false
	}
	return mh.items[0], true
}

// Contains checks if a key exists in the queue
func (mh *MapHeap) Contains(key uint64) bool {
	_, exists := mh.itemsMap[key]
	return exists
}
