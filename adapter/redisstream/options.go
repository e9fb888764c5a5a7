package redisstream

import (
	"github.com/trickstertwo/xclock"
	"github.com/trickstertwo/xcorr"
	"github.com/trickstertwo/xlog"
)

// Option configures the xcorr.Client construction in Use and NewClient.
type Option func(*xcorr.ClientBuilder)

// WithLogger injects a custom xlog logger.
func WithLogger(l *xlog.Logger) Option {
	return func(b *xcorr.ClientBuilder) { b.WithLogger(l) }
}

// WithClock injects a custom xclock clock.
func WithClock(c xclock.Clock) Option {
	return func(b *xcorr.ClientBuilder) { b.WithClock(c) }
}

// WithCodec selects a codec by name (default: json).
func WithCodec(name string) Option {
	return func(b *xcorr.ClientBuilder) { b.WithCodec(name) }
}

// WithOptions sets the client's streams, group and timings.
func WithOptions(o xcorr.Options) Option {
	return func(b *xcorr.ClientBuilder) { b.WithOptions(o) }
}

// WithMiddleware adds middlewares for responders created from the client.
func WithMiddleware(mw ...xcorr.Middleware) Option {
	return func(b *xcorr.ClientBuilder) { b.WithMiddleware(mw...) }
}

// WithObserver attaches observers for lifecycle events.
func WithObserver(obs ...xcorr.Observer) Option {
	return func(b *xcorr.ClientBuilder) { b.WithObserver(obs...) }
}

// WithObserverPool dispatches observers asynchronously.
func WithObserverPool(workers, bufferSize int) Option {
	return func(b *xcorr.ClientBuilder) { b.WithObserverPool(workers, bufferSize) }
}
