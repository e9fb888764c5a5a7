package redisstream

import (
	"fmt"

	"github.com/trickstertwo/xcorr"
)

func init() {
	if err := xcorr.RegisterBroker(BrokerName, func(cfg map[string]any) (xcorr.Broker, error) {
		return New(ConfigFromMap(cfg))
	}); err != nil {
		panic(fmt.Errorf("xcorr: failed to register broker %q: %w", BrokerName, err))
	}
}

// NewClient builds an unopened xcorr.Client on Redis Streams.
func NewClient(cfg Config, opts ...Option) (*xcorr.Client, error) {
	cb := xcorr.NewClientBuilder().
		WithBroker(BrokerName, cfg.toMap())
	for _, o := range opts {
		if o != nil {
			o(cb)
		}
	}
	return cb.Build()
}

// Use is NewClient for composition roots that treat construction failure as fatal.
func Use(cfg Config, opts ...Option) *xcorr.Client {
	c, err := NewClient(cfg, opts...)
	if err != nil {
		panic(fmt.Errorf("redisstream.Use: %w", err))
	}
	return c
}
