package worker

import (
	"context"
	"sync"
)

// Future is the handle to a result produced by another goroutine. It is
// resolved at most once; later calls to Resolve are ignored.
type Future[R any] struct {
	once  sync.Once
	done  chan struct{}
	value R
	err   error
}

func NewFuture[R any]() *Future[R] {
	return &Future[R]{done: make(chan struct{})}
}

func (f *Future[R]) Resolve(value R, err error) {
	f.once.Do(func() {
		f.value = value
		f.err = err
		close(f.done)
	})
}

// Done is closed once the future has a result.
func (f *Future[R]) Done() <-chan struct{} {
	return f.done
}

// Await blocks until the future resolves or ctx ends. On ctx expiry it
// returns the context error; the producer may still resolve later.
func (f *Future[R]) Await(ctx context.Context) (R, error) {
	select {
	case <-f.done:
		return f.value, f.err
	case <-ctx.Done():
		var zero R
		return zero, ctx.Err()
	}
}
