package xcorr

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/trickstertwo/xclock"
	"github.com/trickstertwo/xlog"
)

const (
	DefaultWaitTimeout  = 30 * time.Second
	DefaultReadCount    = 10
	DefaultReadBlock    = time.Second
	DefaultPollInterval = 100 * time.Millisecond
	DefaultAckTimeout   = 5 * time.Second
	maxErrorBackoff     = 2 * time.Second
)

// CorrelatorConfig controls how a Correlator reads the result stream.
type CorrelatorConfig struct {
	Stream         string
	Group          string
	ConsumerPrefix string
	ReadCount      int64
	ReadBlock      time.Duration
	PollInterval   time.Duration
	// AckTimeout bounds the cleanup acknowledgments, which run even after ctx is cancelled.
	AckTimeout time.Duration
	// KeepConsumers leaves per-wait consumers registered in the group instead of deleting them.
	KeepConsumers bool
}

func (c CorrelatorConfig) withDefaults() CorrelatorConfig {
	if c.ReadCount <= 0 {
		c.ReadCount = DefaultReadCount
	}
	if c.ReadBlock <= 0 {
		c.ReadBlock = DefaultReadBlock
	}
	if c.PollInterval <= 0 {
		c.PollInterval = DefaultPollInterval
	}
	if c.AckTimeout <= 0 {
		c.AckTimeout = DefaultAckTimeout
	}
	return c
}

// Correlator waits on the shared result stream for the entry carrying a given
// correlation id.
//
// Each Wait reads as its own uniquely named consumer of the shared group and
// acknowledges every entry it was handed before returning, matched or not.
// The result stream's pending list therefore only grows when a process dies
// mid-wait. The price: an entry meant for a concurrent waiter that lands in
// this waiter's batch is acknowledged here and never reaches its owner, which
// then times out.
type Correlator struct {
	broker Broker
	logger *xlog.Logger
	clock  xclock.Clock
	events *notifier
	cfg    CorrelatorConfig
}

// NewCorrelator returns a Correlator reading cfg.Stream as a member of cfg.Group.
func NewCorrelator(b Broker, logger *xlog.Logger, clock xclock.Clock, cfg CorrelatorConfig) *Correlator {
	if logger == nil {
		logger = xlog.Default()
	}
	if clock == nil {
		clock = xclock.Default()
	}
	return &Correlator{broker: b, logger: logger, clock: clock, cfg: cfg.withDefaults()}
}

// waitState is the per-call mutable state. It is never shared between goroutines.
type waitState struct {
	correlationID string
	consumer      string
	registered    bool
	unacked       []string
}

func (s *waitState) drop(id string) {
	for i, u := range s.unacked {
		if u == id {
			s.unacked = append(s.unacked[:i], s.unacked[i+1:]...)
			return
		}
	}
}

// Wait blocks until the result for correlationID arrives, timeout elapses or
// ctx ends. It returns ErrResultNotFound on timeout, ctx.Err() on
// cancellation and a wrapped broker error on unrecoverable broker failure.
// Every exit acknowledges every entry the call observed. A non-positive
// timeout means DefaultWaitTimeout.
func (c *Correlator) Wait(ctx context.Context, correlationID string, timeout time.Duration) (*ResultEnvelope, error) {
	if correlationID == "" {
		return nil, ErrInvalidCorrelation
	}
	if timeout <= 0 {
		timeout = DefaultWaitTimeout
	}

	st := &waitState{correlationID: correlationID, consumer: ConsumerName(c.cfg.ConsumerPrefix)}
	start := c.clock.Now()

	res, err := c.loop(ctx, st, start, timeout)
	c.cleanup(ctx, st)

	ev := Event{
		Stream:        c.cfg.Stream,
		Group:         c.cfg.Group,
		Consumer:      st.consumer,
		CorrelationID: correlationID,
		Duration:      c.clock.Since(start),
		Err:           err,
	}
	switch {
	case err == nil:
		ev.Type, ev.EntryID, ev.Status = WaitMatched, res.EntryID, res.Status
	case errors.Is(err, ErrResultNotFound):
		ev.Type = WaitTimeout
		c.logger.Warn().Str("correlation_id", correlationID).Dur("timeout", timeout).Msg("xcorr: result wait timed out")
	case errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded):
		ev.Type = WaitCancelled
	default:
		ev.Type = WaitFailed
		c.logger.Error().Err(err).Str("correlation_id", correlationID).Msg("xcorr: result wait failed")
	}
	c.events.notify(ev)
	return res, err
}

func (c *Correlator) loop(ctx context.Context, st *waitState, start time.Time, timeout time.Duration) (*ResultEnvelope, error) {
	backoff := c.cfg.PollInterval

	for {
		remaining := timeout - c.clock.Since(start)
		if remaining <= 0 {
			return nil, ErrResultNotFound
		}
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		// the broker may register the consumer even when this read fails
		st.registered = true
		entries, err := c.broker.ReadGroup(ctx, c.cfg.Stream, c.cfg.Group, st.consumer, c.cfg.ReadCount, clampBlock(c.cfg.ReadBlock, remaining))
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return nil, ctxErr
			}
			switch {
			case errors.Is(err, ErrNoGroup):
				if gerr := c.recreateGroup(ctx); gerr != nil {
					c.logger.Warn().Err(gerr).Str("group", c.cfg.Group).Msg("xcorr: recreate consumer group failed")
				}
			case IsFatal(err) || !IsTransient(err):
				return nil, fmt.Errorf("xcorr: read %s: %w", c.cfg.Stream, err)
			default:
				c.logger.Warn().Err(err).Str("correlation_id", st.correlationID).Dur("backoff", backoff).Msg("xcorr: result read failed, retrying")
			}
			if err := sleepCtx(ctx, minDuration(backoff, timeout-c.clock.Since(start))); err != nil {
				return nil, err
			}
			backoff = minDuration(backoff*2, maxErrorBackoff)
			continue
		}
		backoff = c.cfg.PollInterval

		for _, e := range entries {
			st.unacked = append(st.unacked, e.ID)
		}
		for _, e := range entries {
			if res := c.inspect(ctx, st, e); res != nil {
				return res, nil
			}
		}

		if err := sleepCtx(ctx, minDuration(c.cfg.PollInterval, timeout-c.clock.Since(start))); err != nil {
			return nil, err
		}
	}
}

// inspect handles one delivered entry and returns the envelope when it is the match.
func (c *Correlator) inspect(ctx context.Context, st *waitState, e Entry) *ResultEnvelope {
	cid := e.Fields[FieldCorrelationID]
	if cid == "" && e.Fields[FieldInit] != "" {
		// stream bootstrap entry
		if c.ack(ctx, e.ID) {
			st.drop(e.ID)
		}
		return nil
	}
	if cid != "" && cid != st.correlationID {
		// someone else's result; acknowledged during cleanup
		return nil
	}

	res, err := DecodeResult(e)
	if err != nil {
		c.logger.Warn().Err(err).Str("entry_id", e.ID).Str("stream", c.cfg.Stream).Msg("xcorr: dropping malformed result entry")
		if c.ack(ctx, e.ID) {
			st.drop(e.ID)
		}
		c.events.notify(Event{
			Type:          EntryPoison,
			Stream:        c.cfg.Stream,
			Group:         c.cfg.Group,
			Consumer:      st.consumer,
			EntryID:       e.ID,
			CorrelationID: cid,
			Err:           err,
		})
		return nil
	}

	if c.ack(ctx, e.ID) {
		st.drop(e.ID)
	}
	return res
}

func (c *Correlator) ack(ctx context.Context, ids ...string) bool {
	actx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.cfg.AckTimeout)
	defer cancel()
	if _, err := c.broker.Ack(actx, c.cfg.Stream, c.cfg.Group, ids...); err != nil {
		c.logger.Warn().Err(err).Str("stream", c.cfg.Stream).Str("group", c.cfg.Group).Str("entries", strings.Join(ids, ",")).Msg("xcorr: ack failed")
		return false
	}
	return true
}

// cleanup acknowledges everything still unacked and, unless configured
// otherwise, removes the per-call consumer from the group.
func (c *Correlator) cleanup(ctx context.Context, st *waitState) {
	if n := len(st.unacked); n > 0 {
		if c.ack(ctx, st.unacked...) {
			c.events.notify(Event{
				Type:          EntryDiscarded,
				Stream:        c.cfg.Stream,
				Group:         c.cfg.Group,
				Consumer:      st.consumer,
				CorrelationID: st.correlationID,
				Count:         n,
			})
			st.unacked = st.unacked[:0]
		}
	}
	if !st.registered || c.cfg.KeepConsumers {
		return
	}
	dctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.cfg.AckTimeout)
	defer cancel()
	if err := c.broker.DeleteConsumer(dctx, c.cfg.Stream, c.cfg.Group, st.consumer); err != nil {
		c.logger.Debug().Err(err).Str("consumer", st.consumer).Msg("xcorr: delete consumer failed")
	}
}

func (c *Correlator) recreateGroup(ctx context.Context) error {
	created, err := c.broker.EnsureGroup(ctx, c.cfg.Stream, c.cfg.Group, GroupStart)
	if err != nil {
		return err
	}
	if created {
		c.logger.Info().Str("stream", c.cfg.Stream).Str("group", c.cfg.Group).Msg("xcorr: consumer group recreated")
	}
	c.events.notify(Event{Type: GroupRecreated, Stream: c.cfg.Stream, Group: c.cfg.Group})
	return nil
}

// clampBlock keeps a read from blocking past the wait deadline. Brokers treat
// a zero block as "forever", so the floor is one millisecond.
func clampBlock(block, remaining time.Duration) time.Duration {
	if remaining < block {
		block = remaining
	}
	if block < time.Millisecond {
		block = time.Millisecond
	}
	return block
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

func minDuration(a, b time.Duration) time.Duration {
	if a < b {
		return a
	}
	return b
}
