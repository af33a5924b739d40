// Package util provides a lock-free Multi-Producer Single-Consumer (MPSC) queue implementation.
//
// The watch engine uses the queue to hand committed records from the apply path of a range
// to its notifier goroutine, so the apply path never waits on watcher delivery.
//
// Features and Guarantees:
//
//   - Lock-Free Push: producers append with compare-and-swap only
//   - Unbounded Size: limited only by available memory
//   - Batched Delivery: the consumer receives every value that is ready as one slice (see RecvBatch)
//   - FIFO per producer: values pushed by one goroutine are received in push order. Under
//     concurrent producers the interleaving is decided by which Push completes first.
package util

import (
	"runtime"
	"sync"
	"sync/atomic"
)

// MaxBatch is the largest number of values delivered in one batch
const MaxBatch = 256

// mpscNode is one element of the linked list of the queue
type mpscNode[T any] struct {
	value T
	next  atomic.Pointer[mpscNode[T]]
}

// LockFreeMPSC is a lock-free multi-producer single-consumer queue.
// Producers append to the tail of a linked list. A single internal goroutine
// unlinks from the head and hands the values out in batches.
type LockFreeMPSC[T any] struct {
	head    atomic.Pointer[mpscNode[T]] // sentinel, owned by the drain goroutine
	tail    atomic.Pointer[mpscNode[T]]
	pending atomic.Int64
	pushing atomic.Int64 // producers between the closed check and the link
	closed  atomic.Bool
	out     chan []T

	// wakes the drain goroutine when it found the list empty
	mu     sync.Mutex
	cond   *sync.Cond
	parked bool
}

// NewLockFreeMPSC creates the queue and starts its drain goroutine
func NewLockFreeMPSC[T any]() *LockFreeMPSC[T] {
	sentinel := &mpscNode[T]{}

	q := &LockFreeMPSC[T]{
		out: make(chan []T),
	}
	q.cond = sync.NewCond(&q.mu)
	q.head.Store(sentinel)
	q.tail.Store(sentinel)

	go q.drain()

	return q
}

// Push appends a value to the queue.
// Returns false if the queue is closed.
//
// Thread-safety: This method is thread-safe and can be called concurrently.
func (q *LockFreeMPSC[T]) Push(value T) bool {
	// the drain goroutine does not exit while a producer that passed the check is linking
	q.pushing.Add(1)
	defer q.pushing.Add(-1)
	if q.closed.Load() {
		return false
	}

	n := &mpscNode[T]{value: value}
	q.pending.Add(1)

	for spins := 0; ; spins++ {
		tail := q.tail.Load()
		next := tail.next.Load()

		if next != nil {
			// another producer linked a node but has not moved the tail yet
			q.tail.CompareAndSwap(tail, next)
		} else if tail.next.CompareAndSwap(nil, n) {
			q.tail.CompareAndSwap(tail, n)
			q.wake()
			return true
		}

		// spin a little under contention, then let other goroutines run
		if spins > 8 {
			runtime.Gosched()
		}
	}
}

// wake signals the drain goroutine if it is parked
func (q *LockFreeMPSC[T]) wake() {
	q.mu.Lock()
	if q.parked {
		q.cond.Signal()
	}
	q.mu.Unlock()
}

// drain moves the values from the list to the output channel, up to MaxBatch at a time
func (q *LockFreeMPSC[T]) drain() {
	defer close(q.out)

	for {
		batch := q.take()
		if len(batch) > 0 {
			q.out <- batch
			continue
		}

		q.mu.Lock()
		// the list may have been filled or the queue closed since take
		for q.head.Load().next.Load() == nil && !q.closed.Load() {
			q.parked = true
			q.cond.Wait()
			q.parked = false
		}
		empty := q.head.Load().next.Load() == nil
		q.mu.Unlock()

		if empty && q.closed.Load() {
			// a producer that linked its value has left pushing, so the list is checked after it
			if q.pushing.Load() == 0 && q.head.Load().next.Load() == nil {
				return
			}
			runtime.Gosched()
		}
	}
}

// take unlinks up to MaxBatch values from the head of the list
func (q *LockFreeMPSC[T]) take() []T {
	var batch []T
	head := q.head.Load()
	for len(batch) < MaxBatch {
		next := head.next.Load()
		if next == nil {
			break
		}
		batch = append(batch, next.value)

		// next becomes the new sentinel, its value is no longer referenced by the queue
		var zero T
		next.value = zero
		head = next
	}
	q.head.Store(head)
	q.pending.Add(-int64(len(batch)))
	return batch
}

// RecvBatch returns the channel the batches are delivered on.
// The channel is closed after Close once every pushed value was delivered.
func (q *LockFreeMPSC[T]) RecvBatch() <-chan []T {
	return q.out
}

// Close stops accepting values. Every Push that returned true is still delivered.
func (q *LockFreeMPSC[T]) Close() {
	q.closed.Store(true)
	q.mu.Lock()
	q.cond.Signal()
	q.mu.Unlock()
}

// IsClosed returns true if the queue is closed.
func (q *LockFreeMPSC[T]) IsClosed() bool {
	return q.closed.Load()
}

// Len returns the number of values pushed but not yet handed to the consumer.
func (q *LockFreeMPSC[T]) Len() int {
	return int(q.pending.Load())
}
