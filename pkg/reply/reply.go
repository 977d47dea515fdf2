// Package reply implements request/response over channels: the caller hands a
// one-shot reply channel to the receiver and waits for the answer with a timeout.
package reply

import (
	"context"
	"time"

	"github.com/proerror77/ploy-sub006/pkg/exception"
)

// Call sends a request through send and waits for the receiver to answer on the
// provided channel. send must not block forever; it returns false when the
// request could not be delivered.
//
// A timeout <= 0 waits until ctx is done.
func Call[T any](ctx context.Context, timeout time.Duration, send func(reply chan<- T) bool) (T, error) {
	var zero T
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	ch := make(chan T, 1)
	if !send(ch) {
		return zero, exception.ErrNotDelivered
	}

	select {
	case v := <-ch:
		return v, nil
	case <-ctx.Done():
		if ctx.Err() == context.DeadlineExceeded {
			return zero, exception.ErrTimeout
		}
		return zero, ctx.Err()
	}
}

// Send delivers v on ch unless ctx is done first.
func Send[T any](ctx context.Context, ch chan<- T, v T) bool {
	select {
	case ch <- v:
		return true
	case <-ctx.Done():
		return false
	}
}

// Answer replies without blocking. The reply channel created by Call is buffered,
// so a late answer after the caller gave up is dropped silently.
func Answer[T any](ch chan<- T, v T) {
	if ch == nil {
		return
	}
	select {
	case ch <- v:
	default:
	}
}
