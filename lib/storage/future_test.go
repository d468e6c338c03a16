package storage

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

// TestFutureResolvesOnce tests that only the first resolve call counts
func TestFutureResolvesOnce(t *testing.T) {
	f, resolve := NewFuture[int]()

	resolve(42, nil)
	resolve(99, errors.New("too late"))

	got, err := f.Wait()
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if got != 42 {
		t.Errorf("Expected 42, got %d", got)
	}
}

// TestCompletedAndFailed tests the pre-resolved constructors
func TestCompletedAndFailed(t *testing.T) {
	got, err := Completed("done").Wait()
	if err != nil || got != "done" {
		t.Errorf("Expected done/nil, got %q/%v", got, err)
	}

	boom := errors.New("boom")
	got, err = Failed[string](boom).Wait()
	if !errors.Is(err, boom) {
		t.Errorf("Expected boom, got %v", err)
	}
	if got != "" {
		t.Errorf("Expected zero value, got %q", got)
	}
}

// TestWaitCtx tests that a cancelled context unblocks the waiter while the
// future itself stays usable
func TestWaitCtx(t *testing.T) {
	f, resolve := NewFuture[int]()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if _, err := f.WaitCtx(ctx); !errors.Is(err, context.Canceled) {
		t.Errorf("Expected context.Canceled, got %v", err)
	}

	// the operation behind the future finishes later
	resolve(7, nil)
	got, err := f.Wait()
	if err != nil || got != 7 {
		t.Errorf("Expected 7/nil after late resolve, got %d/%v", got, err)
	}
}

// TestDoneChannel tests waiting on the future inside a select
func TestDoneChannel(t *testing.T) {
	f, resolve := NewFuture[bool]()

	select {
	case <-f.Done():
		t.Fatal("Future should not be resolved yet")
	default:
	}

	go func() {
		time.Sleep(10 * time.Millisecond)
		resolve(true, nil)
	}()

	select {
	case <-f.Done():
	case <-time.After(time.Second):
		t.Fatal("Timed out waiting for the future")
	}

	if got, _ := f.Wait(); !got {
		t.Error("Expected true")
	}
}

// TestConcurrentWaiters tests that many goroutines can wait on one future
func TestConcurrentWaiters(t *testing.T) {
	f, resolve := NewFuture[int]()

	const waiters = 50
	results := make([]int, waiters)

	wg := sync.WaitGroup{}
	wg.Add(waiters)
	for i := 0; i < waiters; i++ {
		go func(i int) {
			defer wg.Done()
			results[i], _ = f.Wait()
		}(i)
	}

	resolve(123, nil)
	wg.Wait()

	for i, got := range results {
		if got != 123 {
			t.Errorf("Waiter %d: expected 123, got %d", i, got)
		}
	}
}
