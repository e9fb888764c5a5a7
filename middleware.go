package xcorr

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"time"
)

// Handler answers one data request. The returned value becomes the result's
// data field. Returning an error wrapping ErrDataNotFound yields status
// not_found; any other error yields status error.
type Handler func(ctx context.Context, req *RequestEnvelope) (any, error)

// Middleware decorates a Handler.
type Middleware func(next Handler) Handler

// RetryConfig controls retry behavior for handler middleware.
type RetryConfig struct {
	// MaxAttempts is the total number of attempts including the first execution.
	MaxAttempts int
	// Backoff computes the wait before the next attempt.
	Backoff func(attempt int) time.Duration
	// RetryIf reports whether err should be retried. Nil retries everything
	// except ErrDataNotFound.
	RetryIf func(err error) bool
	// Jitter adds up to [0, Jitter] random delay to the base backoff.
	Jitter time.Duration
}

// ExponentialBackoff doubles base on every attempt up to limit.
func ExponentialBackoff(base, limit time.Duration) func(attempt int) time.Duration {
	return func(attempt int) time.Duration {
		d := base
		for i := 1; i < attempt; i++ {
			d *= 2
			if d >= limit {
				return limit
			}
		}
		return d
	}
}

// RetryMiddleware provides bounded, selective retries around a handler.
func RetryMiddleware(cfg RetryConfig) Middleware {
	return func(next Handler) Handler {
		return func(ctx context.Context, req *RequestEnvelope) (any, error) {
			attempts := cfg.MaxAttempts
			if attempts < 1 {
				attempts = 1
			}
			shouldRetry := cfg.RetryIf
			if shouldRetry == nil {
				shouldRetry = func(err error) bool { return !errors.Is(err, ErrDataNotFound) }
			}
			var (
				out     any
				lastErr error
			)
			for i := 1; i <= attempts; i++ {
				out, lastErr = next(ctx, req)
				if lastErr == nil {
					return out, nil
				}
				if ctx.Err() != nil || i == attempts || !shouldRetry(lastErr) {
					return out, lastErr
				}
				if cfg.Backoff != nil {
					wait := cfg.Backoff(i)
					if cfg.Jitter > 0 {
						wait += time.Duration(rand.Int63n(int64(cfg.Jitter)))
					}
					if err := sleepCtx(ctx, wait); err != nil {
						return out, lastErr
					}
				}
			}
			return out, lastErr
		}
	}
}

// TimeoutMiddleware bounds handler run time. On expiry the handler's context
// is cancelled and context.DeadlineExceeded is returned.
func TimeoutMiddleware(d time.Duration) Middleware {
	if d <= 0 {
		return func(next Handler) Handler { return next }
	}
	return func(next Handler) Handler {
		return func(ctx context.Context, req *RequestEnvelope) (any, error) {
			tctx, cancel := context.WithTimeout(ctx, d)
			defer cancel()

			type outcome struct {
				v   any
				err error
			}
			done := make(chan outcome, 1)
			go func() {
				defer func() {
					if r := recover(); r != nil {
						done <- outcome{err: fmt.Errorf("panic recovered: %v", r)}
					}
				}()
				v, err := next(tctx, req)
				done <- outcome{v: v, err: err}
			}()

			select {
			case <-tctx.Done():
				return nil, tctx.Err()
			case o := <-done:
				return o.v, o.err
			}
		}
	}
}

// RecoveryMiddleware converts handler panics into errors.
func RecoveryMiddleware() Middleware {
	return func(next Handler) Handler {
		return func(ctx context.Context, req *RequestEnvelope) (out any, err error) {
			defer func() {
				if r := recover(); r != nil {
					out, err = nil, fmt.Errorf("panic recovered: %v", r)
				}
			}()
			return next(ctx, req)
		}
	}
}

// Chain composes middlewares around a handler; the first wraps outermost.
func Chain(h Handler, mws ...Middleware) Handler {
	wrapped := h
	for i := len(mws) - 1; i >= 0; i-- {
		if mws[i] == nil {
			continue
		}
		wrapped = mws[i](wrapped)
	}
	return wrapped
}
