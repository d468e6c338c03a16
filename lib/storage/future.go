package storage

import (
	"context"
	"sync"
)

// --------------------------------------------------------------------------
// Future
// --------------------------------------------------------------------------

// Future is the completion handle returned by all storage operations. It
// is resolved exactly once by the storage implementation, later resolve
// calls are ignored. Any number of goroutines may wait on the same future.
type Future[T any] struct {
	done  chan struct{}
	once  sync.Once
	value T
	err   error
}

// NewFuture creates an unresolved future and the function that resolves
// it. Only the creator holds the resolve function, callers of the storage
// API can only wait.
//
// Returns:
//   - *Future[T]: the unresolved future
//   - func(T, error): resolves the future, subsequent calls are no-ops
func NewFuture[T any]() (*Future[T], func(T, error)) {
	f := &Future[T]{done: make(chan struct{})}
	resolve := func(value T, err error) {
		f.once.Do(func() {
			f.value = value
			f.err = err
			close(f.done)
		})
	}
	return f, resolve
}

// Completed creates a future that is already resolved with the given value.
func Completed[T any](value T) *Future[T] {
	f, resolve := NewFuture[T]()
	resolve(value, nil)
	return f
}

// Failed creates a future that is already resolved with the given error.
func Failed[T any](err error) *Future[T] {
	f, resolve := NewFuture[T]()
	var zero T
	resolve(zero, err)
	return f
}

// Wait blocks until the future is resolved and returns its outcome.
//
// Thread-safety: This method is thread-safe and can be called concurrently.
func (f *Future[T]) Wait() (T, error) {
	<-f.done
	return f.value, f.err
}

// WaitCtx blocks until the future is resolved or the context ends. If the
// context ends first, the context error is returned and the underlying
// operation keeps running, a later Wait still yields its outcome.
//
// Thread-safety: This method is thread-safe and can be called concurrently.
func (f *Future[T]) WaitCtx(ctx context.Context) (T, error) {
	select {
	case <-f.done:
		return f.value, f.err
	case <-ctx.Done():
		var zero T
		return zero, ctx.Err()
	}
}

// Done returns a channel that is closed once the future is resolved. Use
// it to wait inside a select, then call Wait for the outcome.
//
// Thread-safety: This method is thread-safe and can be called concurrently.
func (f *Future[T]) Done() <-chan struct{} {
	return f.done
}
