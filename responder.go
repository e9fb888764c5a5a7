package xcorr

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/trickstertwo/xclock"
	"github.com/trickstertwo/xlog"
)

// ResponderConfig controls the request-stream worker.
type ResponderConfig struct {
	RequestStream string
	ResultStream  string
	Group         string
	// Consumer is the member name inside Group. Empty derives one from ConsumerName.
	Consumer    string
	Concurrency int
	BatchSize   int64
	Block       time.Duration
	// AckTimeout bounds result publication and acknowledgment, which run detached from ctx.
	AckTimeout time.Duration
}

// DefaultResponderConfig mirrors the data worker defaults.
func DefaultResponderConfig() ResponderConfig {
	return ResponderConfig{
		RequestStream: "data-requests",
		ResultStream:  "data-results",
		Group:         "spring-consumers",
		Concurrency:   4,
		BatchSize:     DefaultReadCount,
		Block:         DefaultReadBlock,
		AckTimeout:    DefaultAckTimeout,
	}
}

func (c ResponderConfig) withDefaults() ResponderConfig {
	d := DefaultResponderConfig()
	if c.RequestStream == "" {
		c.RequestStream = d.RequestStream
	}
	if c.ResultStream == "" {
		c.ResultStream = d.ResultStream
	}
	if c.Group == "" {
		c.Group = d.Group
	}
	if c.Consumer == "" {
		c.Consumer = ConsumerName("responder")
	}
	if c.Concurrency < 1 {
		c.Concurrency = d.Concurrency
	}
	if c.BatchSize < 1 {
		c.BatchSize = d.BatchSize
	}
	if c.Block <= 0 {
		c.Block = d.Block
	}
	if c.AckTimeout <= 0 {
		c.AckTimeout = d.AckTimeout
	}
	return c
}

// ResponderOption customizes a Responder.
type ResponderOption func(*Responder)

func WithResponderLogger(l *xlog.Logger) ResponderOption {
	return func(r *Responder) {
		if l != nil {
			r.logger = l
		}
	}
}

func WithResponderClock(c xclock.Clock) ResponderOption {
	return func(r *Responder) {
		if c != nil {
			r.clock = c
		}
	}
}

func WithResponderCodec(c Codec) ResponderOption {
	return func(r *Responder) {
		if c != nil {
			r.codec = c
		}
	}
}

func WithResponderMiddleware(mw ...Middleware) ResponderOption {
	return func(r *Responder) { r.middlewares = append(r.middlewares, mw...) }
}

func WithResponderObserver(obs ...Observer) ResponderOption {
	return func(r *Responder) {
		for _, o := range obs {
			r.events.add(o)
		}
	}
}

// Responder is the worker side of the exchange: it consumes data requests
// from the request stream as a member of its own group, dispatches them by
// request type and appends one result per request to the result stream.
// Every request is acknowledged after its result is published, including
// malformed ones and those whose handler failed.
type Responder struct {
	broker      Broker
	codec       Codec
	clock       xclock.Clock
	logger      *xlog.Logger
	events      *notifier
	cfg         ResponderConfig
	middlewares []Middleware

	mu       sync.RWMutex
	handlers map[RequestType]Handler

	running atomic.Bool
}

// NewResponder returns a Responder reading cfg.RequestStream through b.
func NewResponder(b Broker, cfg ResponderConfig, opts ...ResponderOption) *Responder {
	r := &Responder{
		broker:   b,
		codec:    JSONCodec{},
		clock:    xclock.Default(),
		logger:   xlog.Default(),
		events:   &notifier{},
		cfg:      cfg.withDefaults(),
		handlers: make(map[RequestType]Handler),
	}
	for _, o := range opts {
		o(r)
	}
	return r
}

// NewResponder returns a Responder sharing the client's broker, codec, clock,
// logger, middlewares and observers. Its request and result streams default
// to the client's.
func (c *Client) NewResponder(cfg ResponderConfig) *Responder {
	if cfg.RequestStream == "" {
		cfg.RequestStream = c.opts.RequestStream
	}
	if cfg.ResultStream == "" {
		cfg.ResultStream = c.opts.ResultStream
	}
	r := NewResponder(c.broker, cfg,
		WithResponderLogger(c.logger),
		WithResponderClock(c.clock),
		WithResponderCodec(c.codec),
		WithResponderMiddleware(c.middlewares...),
	)
	r.events = c.events
	return r
}

// Config returns the effective configuration.
func (r *Responder) Config() ResponderConfig { return r.cfg }

// Handle registers h for requests of type rt, replacing any previous handler.
func (r *Responder) Handle(rt RequestType, h Handler) {
	r.mu.Lock()
	r.handlers[rt] = h
	r.mu.Unlock()
}

// HandleFunc is Handle for a handler of typed parameters.
func HandleFunc[P any](r *Responder, rt RequestType, fn func(ctx context.Context, shopID int64, params P) (any, error)) {
	r.Handle(rt, func(ctx context.Context, req *RequestEnvelope) (any, error) {
		codec, _ := CodecFromContext(ctx)
		p, err := DecodeParameters[P](codec, req)
		if err != nil {
			return nil, err
		}
		return fn(ctx, req.ShopID, p)
	})
}

func (r *Responder) handler(rt RequestType) Handler {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.handlers[rt]
}

// Run ensures the streams and the responder group, then consumes requests
// until ctx ends. It returns nil on cancellation and an error when the
// topology cannot be set up or the broker is closed underneath it.
func (r *Responder) Run(ctx context.Context) error {
	if r.running.Swap(true) {
		return fmt.Errorf("xcorr: responder %s already running", r.cfg.Consumer)
	}
	defer r.running.Store(false)

	topo := NewTopology(r.broker, r.logger,
		[]string{r.cfg.RequestStream, r.cfg.ResultStream},
		GroupSpec{Stream: r.cfg.RequestStream, Group: r.cfg.Group, Start: GroupStart},
	)
	if err := topo.Init(ctx); err != nil {
		return err
	}

	workCh := make(chan Entry, r.cfg.Concurrency*2)
	var wg sync.WaitGroup
	for i := 0; i < r.cfg.Concurrency; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for e := range workCh {
				r.process(ctx, e)
			}
		}()
	}

	r.logger.Info().
		Str("stream", r.cfg.RequestStream).
		Str("group", r.cfg.Group).
		Str("consumer", r.cfg.Consumer).
		Str("workers", strconv.Itoa(r.cfg.Concurrency)).
		Msg("xcorr: responder started")

	err := r.pollerLoop(ctx, workCh)
	close(workCh)
	wg.Wait()

	if err == nil {
		dctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), r.cfg.AckTimeout)
		if derr := r.broker.DeleteConsumer(dctx, r.cfg.RequestStream, r.cfg.Group, r.cfg.Consumer); derr != nil {
			r.logger.Debug().Err(derr).Str("consumer", r.cfg.Consumer).Msg("xcorr: delete responder consumer failed")
		}
		cancel()
	}
	r.logger.Info().Str("consumer", r.cfg.Consumer).Msg("xcorr: responder stopped")
	return err
}

func (r *Responder) pollerLoop(ctx context.Context, workCh chan<- Entry) error {
	const (
		minBackoff = 100 * time.Millisecond
		maxBackoff = 5 * time.Second
	)
	backoff := minBackoff

	for {
		if ctx.Err() != nil {
			return nil
		}

		entries, err := r.broker.ReadGroup(ctx, r.cfg.RequestStream, r.cfg.Group, r.cfg.Consumer, r.cfg.BatchSize, r.cfg.Block)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			switch {
			case IsFatal(err):
				return fmt.Errorf("xcorr: read %s: %w", r.cfg.RequestStream, err)
			case errors.Is(err, ErrNoGroup):
				if _, gerr := r.broker.EnsureGroup(ctx, r.cfg.RequestStream, r.cfg.Group, GroupStart); gerr == nil {
					r.events.notify(Event{Type: GroupRecreated, Stream: r.cfg.RequestStream, Group: r.cfg.Group})
					continue
				}
			default:
				r.logger.Warn().Err(err).Str("stream", r.cfg.RequestStream).Dur("backoff", backoff).Msg("xcorr: request read failed, retrying")
			}
			if sleepCtx(ctx, backoff) != nil {
				return nil
			}
			backoff = minDuration(backoff*2, maxBackoff)
			continue
		}
		backoff = minBackoff

		for _, e := range entries {
			select {
			case workCh <- e:
			case <-ctx.Done():
				// undelivered entries stay pending in the group
				return nil
			}
		}
	}
}

// process answers one request entry and acknowledges it.
func (r *Responder) process(ctx context.Context, e Entry) {
	start := r.clock.Now()
	ev := Event{
		Stream:        r.cfg.RequestStream,
		Group:         r.cfg.Group,
		Consumer:      r.cfg.Consumer,
		EntryID:       e.ID,
		CorrelationID: e.Fields[FieldCorrelationID],
	}

	if e.Fields[FieldCorrelationID] == "" && e.Fields[FieldInit] != "" {
		r.ack(ctx, e.ID)
		return
	}

	req, err := DecodeRequest(e)
	if err != nil {
		r.logger.Warn().Err(err).Str("entry_id", e.ID).Msg("xcorr: dropping malformed request entry")
		if ev.CorrelationID != "" {
			r.publish(ctx, &ResultEnvelope{CorrelationID: ev.CorrelationID, Status: StatusError, Error: err.Error()})
		}
		r.ack(ctx, e.ID)
		ev.Type, ev.Err = EntryPoison, err
		r.events.notify(ev)
		return
	}

	res := r.answer(ctx, e.ID, req)
	perr := r.publish(ctx, res)
	r.ack(ctx, e.ID)

	ev.Type = RespondDone
	ev.RequestType = req.RequestType
	ev.Status = res.Status
	ev.Duration = r.clock.Since(start)
	ev.Err = perr
	r.events.notify(ev)
}

// answer runs the handler for req and converts its outcome into a result.
func (r *Responder) answer(ctx context.Context, entryID string, req *RequestEnvelope) *ResultEnvelope {
	res := &ResultEnvelope{CorrelationID: req.CorrelationID}

	h := r.handler(req.RequestType)
	if h == nil {
		res.Status, res.Error = StatusError, fmt.Sprintf("%v: %s", ErrNoHandler, req.RequestType)
		return res
	}

	lg := r.logger.With(
		xlog.Str("correlation_id", req.CorrelationID),
		xlog.Str("request_type", string(req.RequestType)),
	)
	hctx := InjectAll(ctx, r.codec, lg, r.clock)
	hctx = context.WithValue(hctx, entryIDCtxKey, entryID)

	wrapped := Chain(RecoveryMiddleware()(h), r.middlewares...)
	out, err := wrapped(hctx, req)
	switch {
	case errors.Is(err, ErrDataNotFound):
		res.Status, res.Error = StatusNotFound, err.Error()
		return res
	case err != nil:
		lg.Warn().Err(err).Msg("xcorr: handler failed")
		res.Status, res.Error = StatusError, err.Error()
		return res
	}

	data, err := encodeObject(r.codec, out)
	if err != nil {
		res.Status, res.Error = StatusError, fmt.Sprintf("encode result: %v", err)
		return res
	}
	res.Status, res.Data = StatusSuccess, data
	return res
}

func (r *Responder) publish(ctx context.Context, res *ResultEnvelope) error {
	res.Timestamp = r.clock.Now().UTC().Format(time.RFC3339Nano)
	pctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), r.cfg.AckTimeout)
	defer cancel()
	if _, err := r.broker.Append(pctx, r.cfg.ResultStream, res.Fields()); err != nil {
		r.logger.Error().Err(err).Str("correlation_id", res.CorrelationID).Msg("xcorr: publish result failed")
		return fmt.Errorf("xcorr: publish result: %w", err)
	}
	return nil
}

func (r *Responder) ack(ctx context.Context, id string) {
	actx, cancel := context.WithTimeout(context.WithoutCancel(ctx), r.cfg.AckTimeout)
	defer cancel()
	if _, err := r.broker.Ack(actx, r.cfg.RequestStream, r.cfg.Group, id); err != nil {
		r.logger.Warn().Err(err).Str("entry_id", id).Msg("xcorr: request ack failed")
	}
}
