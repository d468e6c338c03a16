// Package util provides a lock-free Multi-Producer Single-Consumer (MPSC)
// queue. The cache uses it to stream access and removal events from the
// hot read/write paths to the janitor goroutine without blocking them.
//
// Features and Guarantees:
//
//   - Lock-free writes: any number of goroutines may Push concurrently,
//     producers never block on a mutex
//   - Unbounded: the queue grows as needed, limited only by memory. This
//     matters for the cache, a bounded queue could stall the very
//     goroutines the janitor is trying to relieve.
//   - Single consumer: one goroutine drains the queue via the Recv channel
//   - No strict FIFO under contention: concurrent pushes are ordered by
//     which producer finishes its append first
package util

import (
	"runtime"
	"sync"
	"sync/atomic"
)

// mpscNode is a single element in the queue's linked list
type mpscNode[T any] struct {
	value *T
	next  atomic.Pointer[mpscNode[T]]
}

// MPSC is a lock-free multi-producer single-consumer queue built on a
// linked list with atomic appends
type MPSC[T any] struct {
	head     atomic.Pointer[mpscNode[T]]
	tail     atomic.Pointer[mpscNode[T]]
	out      chan *T
	consumer sync.WaitGroup
	closed   atomic.Bool

	// condition variable so the consumer can sleep while the queue is empty
	mu   sync.Mutex
	cond *sync.Cond
}

// NewMPSC creates a new queue and starts its consumer goroutine
func NewMPSC[T any]() *MPSC[T] {
	// sentinel node, head and tail always point at a valid node
	sentinel := &mpscNode[T]{}

	q := &MPSC[T]{
		out: make(chan *T),
	}
	q.cond = sync.NewCond(&q.mu)
	q.head.Store(sentinel)
	q.tail.Store(sentinel)

	q.consumer.Add(1)
	go q.consume()

	return q
}

// Push adds an item to the queue.
// Returns true if the item was added, or false if the queue is closed.
//
// Thread-safety: This method is thread-safe and can be called concurrently.
func (q *MPSC[T]) Push(value *T) bool {
	if value == nil {
		return false
	}
	if q.closed.Load() {
		return false
	}

	newNode := &mpscNode[T]{value: value}

	var backoff uint8 = 0
	for {
		tailNode := q.tail.Load()

		next := tailNode.next.Load()
		if next == nil {
			// the tail has no successor yet, try to append our node
			if tailNode.next.CompareAndSwap(nil, newNode) {
				// appended. The tail CAS may lose to a helping producer,
				// the tail still converges.
				q.tail.CompareAndSwap(tailNode, newNode)

				// wake the consumer
				q.cond.Signal()
				return true
			}
		} else {
			// another producer appended but has not moved the tail yet, help it along
			q.tail.CompareAndSwap(tailNode, next)
		}

		// exponential backoff under contention: spin while cheap, then
		// yield so the winning producer can finish its append
		if backoff < 10 {
			backoff++
			for i := 0; i < 1<<backoff; i++ {
				runtime.Gosched()
			}
		}
		runtime.Gosched()
	}
}

// consume moves items from the linked list to the output channel and frees
// the consumed nodes
func (q *MPSC[T]) consume() {
	defer q.consumer.Done()
	defer close(q.out)

	for {
		hasItems := false

		for {
			head := q.head.Load()
			next := head.next.Load()
			if next == nil {
				break // drained
			}

			hasItems = true
			value := next.value

			// advance head, the old node becomes garbage
			q.head.Store(next)

			q.out <- value

			next.value = nil
		}

		// exit once closed and fully drained
		if !hasItems && q.closed.Load() {
			return
		}

		if !hasItems {
			q.mu.Lock()
			// re-check under the lock, a producer may have signaled between
			// the drain loop and here
			head := q.head.Load()
			if head.next.Load() == nil && !q.closed.Load() {
				q.cond.Wait()
			}
			q.mu.Unlock()
		}
	}
}

// Recv returns the receive-only channel the consumer drains from. The
// channel is closed after Close once all queued items were delivered.
func (q *MPSC[T]) Recv() <-chan *T {
	return q.out
}

// Close closes the queue, preventing further writes. Items already queued
// are still delivered before the Recv channel closes.
func (q *MPSC[T]) Close() {
	q.closed.Store(true)

	// wake the consumer if it is waiting
	q.cond.Signal()
}

// IsClosed returns true if the queue is closed.
func (q *MPSC[T]) IsClosed() bool {
	return q.closed.Load()
}

// Len counts the items currently queued. This is O(n) and should only be
// used for debugging.
func (q *MPSC[T]) Len() int {
	count := 0
	current := q.head.Load()
	for {
		next := current.next.Load()
		if next == nil {
			break
		}
		count++
		current = next
	}
	return count
}
