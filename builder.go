package xcorr

import (
	"context"

	"github.com/trickstertwo/xclock"
	"github.com/trickstertwo/xlog"
)

// ClientBuilder constructs Client instances (Builder pattern).
type ClientBuilder struct {
	brokerName string
	brokerCfg  map[string]any
	brokerInst Broker

	codecName string
	codecInst Codec

	middlewares []Middleware
	observers   []Observer
	logger      *xlog.Logger
	clock       xclock.Clock
	opts        Options

	poolWorkers int
	poolBuffer  int
}

// NewClientBuilder returns a builder preloaded with DefaultOptions and the JSON codec.
func NewClientBuilder() *ClientBuilder {
	return &ClientBuilder{
		codecName: "json",
		opts:      DefaultOptions(),
	}
}

// WithBroker selects a registered broker factory by name.
func (cb *ClientBuilder) WithBroker(name string, cfg map[string]any) *ClientBuilder {
	cb.brokerName = name
	cb.brokerCfg = cfg
	return cb
}

// WithBrokerInstance accepts a ready Broker (e.g. from redisstream.New).
func (cb *ClientBuilder) WithBrokerInstance(b Broker) *ClientBuilder {
	cb.brokerInst = b
	return cb
}

func (cb *ClientBuilder) WithCodec(name string) *ClientBuilder {
	cb.codecName = name
	return cb
}

func (cb *ClientBuilder) WithCodecInstance(c Codec) *ClientBuilder {
	cb.codecInst = c
	return cb
}

// WithMiddleware sets middlewares applied to handlers of responders created by the client.
func (cb *ClientBuilder) WithMiddleware(mw ...Middleware) *ClientBuilder {
	cb.middlewares = append(cb.middlewares, mw...)
	return cb
}

func (cb *ClientBuilder) WithObserver(obs ...Observer) *ClientBuilder {
	for _, o := range obs {
		if o != nil {
			cb.observers = append(cb.observers, o)
		}
	}
	return cb
}

// WithObserverPool dispatches observer callbacks asynchronously on a bounded pool.
func (cb *ClientBuilder) WithObserverPool(workers, bufferSize int) *ClientBuilder {
	cb.poolWorkers = workers
	cb.poolBuffer = bufferSize
	return cb
}

func (cb *ClientBuilder) WithLogger(l *xlog.Logger) *ClientBuilder {
	cb.logger = l
	return cb
}

func (cb *ClientBuilder) WithClock(c xclock.Clock) *ClientBuilder {
	cb.clock = c
	return cb
}

// WithOptions replaces the client options. Zero timing fields fall back to defaults.
func (cb *ClientBuilder) WithOptions(o Options) *ClientBuilder {
	cb.opts = o
	return cb
}

// Options exposes the options being built so callers can tweak single fields.
func (cb *ClientBuilder) Options() *Options { return &cb.opts }

func (cb *ClientBuilder) Build() (*Client, error) {
	if err := cb.opts.Validate(); err != nil {
		return nil, err
	}

	var (
		br  Broker
		err error
	)
	switch {
	case cb.brokerInst != nil:
		br = cb.brokerInst
	case cb.brokerName != "":
		br, err = NewBroker(cb.brokerName, cb.brokerCfg)
		if err != nil {
			return nil, err
		}
	default:
		return nil, ErrNoBrokerConfigured
	}

	cd := cb.codecInst
	if cd == nil {
		cd, err = NewCodec(cb.codecName)
		if err != nil {
			return nil, err
		}
	}

	clk := cb.clock
	if clk == nil {
		clk = xclock.Default()
	}
	lg := cb.logger
	if lg == nil {
		lg = xlog.Default()
	}

	var pool *ObserverPool
	if cb.poolWorkers > 0 || cb.poolBuffer > 0 {
		pool = NewObserverPool(cb.poolWorkers, cb.poolBuffer)
	}

	c := newClient(br, cd, clk, lg, cb.opts, pool)
	c.middlewares = cb.middlewares

	hasLoggingObserver := false
	for _, o := range cb.observers {
		if _, ok := o.(LoggingObserver); ok {
			hasLoggingObserver = true
			break
		}
	}
	if !hasLoggingObserver {
		c.AddObserver(LoggingObserver{Logger: lg})
	}
	for _, o := range cb.observers {
		c.AddObserver(o)
	}
	return c, nil
}

// New constructs a Client via the builder and returns a close func for convenience.
// The client still has to be opened.
func New(init func(cb *ClientBuilder)) (*Client, func() error, error) {
	cb := NewClientBuilder()
	if init != nil {
		init(cb)
	}
	c, err := cb.Build()
	if err != nil {
		return nil, nil, err
	}
	closeFn := func() error { return c.Close(context.Background()) }
	return c, closeFn, nil
}
