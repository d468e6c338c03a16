package util

import (
	"runtime"
	"sync"
	"testing"
	"time"
)

// TestQueueBasicOperations tests basic push and consume functionality
func TestQueueBasicOperations(t *testing.T) {
	q := NewMPSC[int]()
	defer q.Close()

	// push 10 items
	for i := 0; i < 10; i++ {
		v := i
		if !q.Push(&v) {
			t.Fatalf("Failed to push item %d", i)
		}
	}

	// consume 10 items
	for i := 0; i < 10; i++ {
		select {
		case val := <-q.Recv():
			if *val != i {
				t.Errorf("Expected %d, got %v", i, *val)
			}
		case <-time.After(100 * time.Millisecond):
			t.Fatalf("Timeout waiting for item %d", i)
		}
	}

	// make sure queue is empty
	select {
	case val := <-q.Recv():
		t.Errorf("Queue should be empty, but got %v", val)
	case <-time.After(10 * time.Millisecond):
		// expected timeout, queue is empty
	}
}

// TestQueuePushNil tests that nil values are rejected
func TestQueuePushNil(t *testing.T) {
	q := NewMPSC[int]()
	defer q.Close()

	if q.Push(nil) {
		t.Error("Push(nil) should return false")
	}
}

// TestQueueConcurrentProducers verifies the queue works correctly with
// multiple producers pushing at once
func TestQueueConcurrentProducers(t *testing.T) {
	q := NewMPSC[int]()
	defer q.Close()

	const numProducers = 10
	const itemsPerProducer = 1000
	totalItems := numProducers * itemsPerProducer

	// track received items
	received := make(map[int]bool)
	done := make(chan struct{})

	go func() {
		defer close(done)
		for count := 0; count < totalItems; count++ {
			select {
			case val := <-q.Recv():
				if val == nil {
					t.Errorf("Received nil item")
					return
				}
				if received[*val] {
					t.Errorf("Duplicate item received: %d", *val)
				}
				received[*val] = true
			case <-time.After(2 * time.Second):
				t.Errorf("Timeout waiting for items, received %d of %d", count, totalItems)
				return
			}
		}
	}()

	var wg sync.WaitGroup
	wg.Add(numProducers)
	for p := 0; p < numProducers; p++ {
		go func(producerID int) {
			defer wg.Done()

			base := producerID * itemsPerProducer
			for i := 0; i < itemsPerProducer; i++ {
				val := base + i
				if !q.Push(&val) {
					t.Errorf("Producer %d failed to push item %d", producerID, i)
				}

				// add some randomness to producer timing
				if i%100 == 0 {
					runtime.Gosched()
				}
			}
		}(p)
	}

	wg.Wait()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("Timeout waiting for consumer to finish")
	}

	if len(received) != totalItems {
		t.Errorf("Expected %d distinct items, got %d", totalItems, len(received))
	}
}

// TestQueueClose tests that queued items drain after Close and that the
// Recv channel then closes
func TestQueueClose(t *testing.T) {
	q := NewMPSC[string]()

	values := []string{"a", "b", "c"}
	for i := range values {
		q.Push(&values[i])
	}

	q.Close()

	if !q.IsClosed() {
		t.Error("IsClosed should report true after Close")
	}

	// pushes after close are rejected
	extra := "late"
	if q.Push(&extra) {
		t.Error("Push after Close should return false")
	}

	// the queued items still arrive, then the channel closes
	got := make([]string, 0, len(values))
	for val := range q.Recv() {
		got = append(got, *val)
	}

	if len(got) != len(values) {
		t.Fatalf("Expected %d items before close, got %d", len(values), len(got))
	}
	for i, v := range values {
		if got[i] != v {
			t.Errorf("Item %d: expected %q, got %q", i, v, got[i])
		}
	}
}

// TestQueueLen tests the debugging length estimate
func TestQueueLen(t *testing.T) {
	q := NewMPSC[int]()

	// no consumer progress yet is not guaranteed, so only check the
	// closed-and-drained end state
	for i := 0; i < 5; i++ {
		v := i
		q.Push(&v)
	}
	q.Close()

	for range q.Recv() {
	}

	if q.Len() != 0 {
		t.Errorf("Expected empty queue after drain, Len() = %d", q.Len())
	}
}
