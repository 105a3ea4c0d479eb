// Package flight collapses concurrent calls that share a key into a single
// execution whose result every waiter observes.
package flight

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/sync/singleflight"
)

// ErrTimeout is returned to a waiter when the shared call outlives the group
// timeout. It wraps context.DeadlineExceeded.
var ErrTimeout = fmt.Errorf("flight: call timed out: %w", context.DeadlineExceeded)

// Group coalesces calls per key. The zero value has no timeout.
type Group[T any] struct {
	sf      singleflight.Group
	timeout time.Duration
}

func NewGroup[T any](timeout time.Duration) *Group[T] {
	return &Group[T]{timeout: timeout}
}

// Timeout reports the per-call bound.
func (g *Group[T]) Timeout() time.Duration {
	return g.timeout
}

// Do runs fn once for all concurrent callers of key. fn gets a context that
// ignores the caller's cancellation but carries its values and the group
// timeout. A caller whose ctx is done stops waiting and gets ctx.Err(); the
// shared call keeps running for the remaining waiters. shared reports whether
// the result was delivered to more than one caller.
func (g *Group[T]) Do(ctx context.Context, key string, fn func(context.Context) (T, error)) (v T, shared bool, err error) {
	ch := g.sf.DoChan(key, func() (any, error) {
		runCtx := context.WithoutCancel(ctx)
		if g.timeout > 0 {
			var cancel context.CancelFunc
			runCtx, cancel = context.WithTimeout(runCtx, g.timeout)
			defer cancel()
		}
		return fn(runCtx)
	})

	var expired <-chan time.Time
	if g.timeout > 0 {
		timer := time.NewTimer(g.timeout)
		defer timer.Stop()
		expired = timer.C
	}

	select {
	case res := <-ch:
		if res.Err != nil {
			return v, res.Shared, res.Err
		}
		v, _ = res.Val.(T)
		return v, res.Shared, nil
	case <-ctx.Done():
		return v, false, ctx.Err()
	case <-expired:
		// fn ignored its context; let the next caller start a fresh call
		g.sf.Forget(key)
		return v, false, ErrTimeout
	}
}

// Forget drops any in-flight call for key so the next Do starts fresh.
func (g *Group[T]) Forget(key string) {
	g.sf.Forget(key)
}
