package jobs

import (
	"context"
	"sync"
	"sync/atomic"
)

type futureState int32

const (
	stateAbandoned futureState = iota
	statePending
	stateAvailable
)

// Future is the eventual result of a dispatched job.
//
// A nil *Future is abandoned: it was never dispatched. A future whose
// submission was rejected is abandoned too. Once the job finishes the future
// becomes available; a job that observed cancellation publishes the zero
// value of T.
type Future[T any] struct {
	state  atomic.Int32
	done   chan struct{}
	once   sync.Once
	value  T
	parent context.Context
	ctx    context.Context
	cancel context.CancelFunc

	canceled atomic.Bool
}

func newFuture[T any](parent context.Context) *Future[T] {
	if parent == nil {
		parent = context.Background()
	}
	ctx, cancel := context.WithCancel(parent)
	return &Future[T]{
		done:   make(chan struct{}),
		parent: parent,
		ctx:    ctx,
		cancel: cancel,
	}
}

// IsAbandoned reports whether the job was never dispatched or was rejected.
func (f *Future[T]) IsAbandoned() bool {
	return f == nil || futureState(f.state.Load()) == stateAbandoned
}

// IsAvailable reports whether the result has been published.
func (f *Future[T]) IsAvailable() bool {
	return f != nil && futureState(f.state.Load()) == stateAvailable
}

// IsCanceled reports whether Cancel was called or the parent context ended.
func (f *Future[T]) IsCanceled() bool {
	return f != nil && (f.canceled.Load() || f.parent.Err() != nil)
}

// Value returns the result without blocking. ok is false until the future
// is available.
func (f *Future[T]) Value() (v T, ok bool) {
	if !f.IsAvailable() {
		return v, false
	}
	return f.value, true
}

// Get blocks until the result is available or ctx is done.
func (f *Future[T]) Get(ctx context.Context) (T, error) {
	var zero T
	if f == nil {
		return zero, ErrAbandoned
	}
	if futureState(f.state.Load()) == stateAbandoned {
		return zero, ErrAbandoned
	}
	select {
	case <-f.done:
		return f.value, nil
	case <-ctx.Done():
		return zero, ctx.Err()
	}
}

// Cancel asks the job to stop. A job that has not started will not run its
// work; a running job sees its context cancelled.
func (f *Future[T]) Cancel() {
	if f != nil {
		f.canceled.Store(true)
		f.cancel()
	}
}

func (f *Future[T]) resolve(v T) {
	f.once.Do(func() {
		f.value = v
		f.state.Store(int32(stateAvailable))
		close(f.done)
		f.cancel()
	})
}
