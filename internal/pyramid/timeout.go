package pyramid

import (
	"fmt"
	"time"
)

// bounded runs fn and fails with ErrTimeout if it has not returned within d.
// The timeout error also wraps kind so callers classify it with the operation's
// own error class. A zero d disables the bound.
//
// fn keeps running after a timeout; its result is dropped.
func bounded[T any](d time.Duration, kind error, op, path string, fn func() (T, error)) (T, error) {
	if d <= 0 {
		return fn()
	}

	type result struct {
		v   T
		err error
	}
	done := make(chan result, 1)
	go func() {
		v, err := fn()
		done <- result{v, err}
	}()

	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case r := <-done:
		return r.v, r.err
	case <-timer.C:
		var zero T
		return zero, newError(ErrTimeout, op, path, fmt.Errorf("%w: exceeded %s", kind, d))
	}
}
