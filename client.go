package xcorr

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/trickstertwo/xclock"
	"github.com/trickstertwo/xlog"
)

var _ API = (*Client)(nil)
var _ HealthChecker = (*Client)(nil)

// Options configures the streams, group and timing of a Client.
type Options struct {
	RequestStream  string
	ResultStream   string
	Group          string
	ConsumerPrefix string

	WaitTimeout  time.Duration
	ReadCount    int64
	ReadBlock    time.Duration
	PollInterval time.Duration
	AckTimeout   time.Duration

	ReclaimMinIdle time.Duration
	ReclaimBatch   int
	// ReclaimInterval schedules sweeps after the one run by Open. Zero disables them.
	ReclaimInterval time.Duration

	KeepConsumers bool
}

// DefaultOptions returns the stream names and timings the chatbot uses.
func DefaultOptions() Options {
	return Options{
		RequestStream:   "data-requests",
		ResultStream:    "data-results",
		Group:           "chatbot-consumers",
		ConsumerPrefix:  "chatbot",
		WaitTimeout:     DefaultWaitTimeout,
		ReadCount:       DefaultReadCount,
		ReadBlock:       DefaultReadBlock,
		PollInterval:    DefaultPollInterval,
		AckTimeout:      DefaultAckTimeout,
		ReclaimMinIdle:  DefaultReclaimMinIdle,
		ReclaimBatch:    DefaultReclaimBatch,
		ReclaimInterval: 5 * time.Minute,
	}
}

// Validate checks Options for completeness.
func (o Options) Validate() error {
	if o.RequestStream == "" || o.ResultStream == "" {
		return fmt.Errorf("xcorr: request and result streams required")
	}
	if o.RequestStream == o.ResultStream {
		return fmt.Errorf("xcorr: request and result streams must differ, both are %q", o.RequestStream)
	}
	if o.Group == "" {
		return fmt.Errorf("xcorr: consumer group required")
	}
	if o.WaitTimeout < 0 || o.ReadBlock < 0 || o.PollInterval < 0 || o.ReclaimInterval < 0 {
		return fmt.Errorf("xcorr: durations must not be negative")
	}
	return nil
}

// Client is the chatbot-side facade: it publishes data requests and waits
// for their correlated results. It is built by ClientBuilder and owned by
// the application's composition root, which calls Open at startup and Close
// at shutdown.
type Client struct {
	broker  Broker
	codec   Codec
	clock   xclock.Clock
	logger  *xlog.Logger
	opts    Options
	events  *notifier
	metrics *clientMetrics

	middlewares []Middleware

	topology   *Topology
	publisher  *Publisher
	correlator *Correlator
	reclaimer  *Reclaimer

	openMu        sync.Mutex
	opened        atomic.Bool
	closed        atomic.Bool
	closeOnce     sync.Once
	stopReclaim   context.CancelFunc
	reclaimerDone sync.WaitGroup
}

func newClient(b Broker, codec Codec, clock xclock.Clock, logger *xlog.Logger, opts Options, pool *ObserverPool) *Client {
	m := &clientMetrics{}
	events := &notifier{direct: m, pool: pool}
	c := &Client{
		broker:  b,
		codec:   codec,
		clock:   clock,
		logger:  logger,
		opts:    opts,
		events:  events,
		metrics: m,
		topology: NewTopology(b, logger,
			[]string{opts.RequestStream, opts.ResultStream},
			GroupSpec{Stream: opts.ResultStream, Group: opts.Group, Start: GroupStart},
		),
		publisher: NewPublisher(b, codec, clock, opts.RequestStream),
		correlator: NewCorrelator(b, logger, clock, CorrelatorConfig{
			Stream:         opts.ResultStream,
			Group:          opts.Group,
			ConsumerPrefix: opts.ConsumerPrefix,
			ReadCount:      opts.ReadCount,
			ReadBlock:      opts.ReadBlock,
			PollInterval:   opts.PollInterval,
			AckTimeout:     opts.AckTimeout,
			KeepConsumers:  opts.KeepConsumers,
		}),
		reclaimer: NewReclaimer(b, logger, opts.ResultStream, opts.Group, opts.ReclaimMinIdle, opts.ReclaimBatch),
	}
	c.publisher.events = events
	c.correlator.events = events
	c.reclaimer.events = events
	return c
}

// Codec returns the configured codec.
func (c *Client) Codec() Codec { return c.codec }

// Broker returns the underlying broker.
func (c *Client) Broker() Broker { return c.broker }

// Options returns the effective options.
func (c *Client) Options() Options { return c.opts }

// Open ensures the topology, sweeps stale pending entries and starts the
// periodic reclaimer. A topology failure is returned and should abort
// startup; a failed sweep is only logged. Open is idempotent.
func (c *Client) Open(ctx context.Context) error {
	c.openMu.Lock()
	defer c.openMu.Unlock()

	if c.closed.Load() {
		return ErrClientClosed
	}
	if c.opened.Load() {
		return nil
	}
	if err := c.topology.Init(ctx); err != nil {
		return err
	}
	if _, err := c.reclaimer.Sweep(ctx); err != nil {
		c.logger.Warn().Err(err).Msg("xcorr: startup reclaim failed")
	}

	if c.opts.ReclaimInterval > 0 {
		rctx, cancel := context.WithCancel(context.Background())
		c.stopReclaim = cancel
		c.reclaimerDone.Add(1)
		go func() {
			defer c.reclaimerDone.Done()
			c.reclaimer.Run(rctx, c.opts.ReclaimInterval)
		}()
	}

	c.logger.Info().
		Str("requests", c.opts.RequestStream).
		Str("results", c.opts.ResultStream).
		Str("group", c.opts.Group).
		Msg("xcorr: client open")
	c.opened.Store(true)
	return nil
}

// Publish appends a data request and returns its correlation id without waiting.
func (c *Client) Publish(ctx context.Context, requestType RequestType, shopID int64, parameters any) (string, error) {
	if c.closed.Load() {
		return "", ErrClientClosed
	}
	return c.publisher.Publish(ctx, requestType, shopID, parameters)
}

// Wait blocks for the result of correlationID. See Correlator.Wait.
func (c *Client) Wait(ctx context.Context, correlationID string, timeout time.Duration) (*ResultEnvelope, error) {
	if c.closed.Load() {
		return nil, ErrClientClosed
	}
	if timeout <= 0 {
		timeout = c.opts.WaitTimeout
	}
	return c.correlator.Wait(ctx, correlationID, timeout)
}

// Request publishes a data request and waits up to the configured wait timeout for its result.
func (c *Client) Request(ctx context.Context, requestType RequestType, shopID int64, parameters any) (*ResultEnvelope, error) {
	id, err := c.Publish(ctx, requestType, shopID, parameters)
	if err != nil {
		return nil, err
	}
	return c.Wait(ctx, id, c.opts.WaitTimeout)
}

// Sweep runs one pending-entry reclaim pass on demand.
func (c *Client) Sweep(ctx context.Context) (ReclaimReport, error) {
	if c.closed.Load() {
		return ReclaimReport{}, ErrClientClosed
	}
	return c.reclaimer.Sweep(ctx)
}

// GetMetrics returns current client metrics.
func (c *Client) GetMetrics() Metrics {
	m := c.metrics.snapshot()
	if c.events.pool != nil {
		m.EventsDropped = c.events.pool.Stats().Dropped
	}
	return m
}

// Health reports unhealthy when closed or not open and degraded when more
// than 5% of finished waits failed on broker errors.
func (c *Client) Health(ctx context.Context) HealthStatus {
	now := c.clock.Now()
	if c.closed.Load() {
		return HealthStatus{Status: "unhealthy", Timestamp: now, Message: "client is closed"}
	}
	if !c.opened.Load() {
		return HealthStatus{Status: "unhealthy", Timestamp: now, Message: "client is not open"}
	}

	m := c.GetMetrics()
	status := "healthy"
	if waits := m.Matched + m.Timeouts + m.Failures; waits > 0 {
		if float64(m.Failures)/float64(waits) > 0.05 {
			status = "degraded"
		}
	}
	return HealthStatus{Status: status, Metrics: m, Timestamp: now}
}

// Close stops the reclaimer, drains observers and closes the broker. Idempotent.
func (c *Client) Close(ctx context.Context) error {
	var closeErr error

	c.closeOnce.Do(func() {
		c.openMu.Lock()
		c.closed.Store(true)
		if c.stopReclaim != nil {
			c.stopReclaim()
		}
		c.openMu.Unlock()
		c.reclaimerDone.Wait()

		if c.events.pool != nil {
			pctx, cancel := context.WithTimeout(ctx, 5*time.Second)
			if err := c.events.pool.Close(pctx); err != nil {
				c.logger.Warn().Err(err).Msg("xcorr: observer pool shutdown timeout")
				closeErr = err
			}
			cancel()
		}

		if err := c.broker.Close(ctx); err != nil {
			c.logger.Error().Err(err).Msg("xcorr: broker close failed")
			closeErr = err
		}
	})

	return closeErr
}

// AddObserver registers an observer (thread-safe).
func (c *Client) AddObserver(obs Observer) { c.events.add(obs) }

// RemoveObserver removes an observer.
func (c *Client) RemoveObserver(obs Observer) { c.events.remove(obs) }
