package memory

import (
	"fmt"

	"github.com/trickstertwo/xclock"
	"github.com/trickstertwo/xcorr"
	"github.com/trickstertwo/xlog"
)

// NewClient builds an unopened xcorr.Client on a fresh memory broker.
// The broker is returned as well so tests can act as the result producer.
//
// Example:
//
//	client, broker, err := memory.NewClient(memory.Config{},
//	    memory.WithLogger(logger),
//	    memory.WithObserver(observer),
//	)
func NewClient(cfg Config, opts ...Option) (*xcorr.Client, *Broker, error) {
	b := New(cfg)
	cb := xcorr.NewClientBuilder().WithBrokerInstance(b)
	if cfg.Clock != nil {
		cb.WithClock(cfg.Clock)
	}
	for _, o := range opts {
		if o != nil {
			o(cb)
		}
	}
	c, err := cb.Build()
	if err != nil {
		return nil, nil, err
	}
	return c, b, nil
}

// Use is NewClient for callers that treat construction failure as fatal.
func Use(cfg Config, opts ...Option) (*xcorr.Client, *Broker) {
	c, b, err := NewClient(cfg, opts...)
	if err != nil {
		panic(fmt.Errorf("memory.Use: %w", err))
	}
	return c, b
}

// Option configures the xcorr.Client built by NewClient.
type Option func(*xcorr.ClientBuilder)

// WithLogger injects a custom xlog logger.
func WithLogger(l *xlog.Logger) Option {
	return func(b *xcorr.ClientBuilder) { b.WithLogger(l) }
}

// WithClock injects a custom xclock clock into the client.
func WithClock(c xclock.Clock) Option {
	return func(b *xcorr.ClientBuilder) { b.WithClock(c) }
}

// WithCodec selects a codec by name (default: "json").
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

// WithObserverPool configures an async observer pool for non-blocking notifications.
func WithObserverPool(workers, bufferSize int) Option {
	return func(b *xcorr.ClientBuilder) { b.WithObserverPool(workers, bufferSize) }
}
