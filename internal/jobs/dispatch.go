package jobs

import (
	"context"
	"errors"
	"fmt"
)

// ErrAbandoned is returned by Future.Get when the job was never run.
var ErrAbandoned = errors.New("jobs: future abandoned")

// Job describes a unit of background work.
type Job struct {
	// Name labels the job in logs.
	Name string
	// Arena selects the pool. Empty selects ArenaDefault.
	Arena string
}

// Dispatch submits fn to the job's arena and returns its future.
//
// The context passed to fn is cancelled by Future.Cancel or when ctx ends.
// Cancellation is checked before fn runs and again before its result is
// published; in both cases the future resolves to the zero value. If the
// arena rejects the job the returned future is abandoned.
func Dispatch[T any](ctx context.Context, arenas *Arenas, job Job, fn func(context.Context) T) *Future[T] {
	f := newFuture[T](ctx)
	pool := arenas.Get(job.Arena)
	if pool == nil {
		f.cancel()
		return f
	}

	f.state.Store(int32(statePending))
	accepted := pool.TrySubmit(func() {
		execute(f, job, fn)
	})
	if !accepted {
		f.state.Store(int32(stateAbandoned))
		f.cancel()
	}
	return f
}

// Run executes fn on the calling goroutine and returns an available future.
func Run[T any](ctx context.Context, job Job, fn func(context.Context) T) *Future[T] {
	f := newFuture[T](ctx)
	f.state.Store(int32(statePending))
	execute(f, job, fn)
	return f
}

// Resolved returns an available future holding v.
func Resolved[T any](v T) *Future[T] {
	f := newFuture[T](context.Background())
	f.state.Store(int32(statePending))
	f.resolve(v)
	return f
}

func execute[T any](f *Future[T], job Job, fn func(context.Context) T) {
	var zero T
	if f.ctx.Err() != nil {
		f.resolve(zero)
		return
	}

	v, err := safeCall(f.ctx, fn)
	if err != nil {
		slogger().Warn("jobs: job failed", "job", job.Name, "err", err)
		f.resolve(zero)
		return
	}
	if f.ctx.Err() != nil {
		f.resolve(zero)
		return
	}
	f.resolve(v)
}

func safeCall[T any](ctx context.Context, fn func(context.Context) T) (v T, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("jobs: panic: %v", r)
		}
	}()
	return fn(ctx), nil
}
