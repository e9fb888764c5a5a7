package xcorr

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/trickstertwo/xlog"
)

const (
	DefaultReclaimMinIdle = 600_000 * time.Millisecond
	DefaultReclaimBatch   = 100
)

// Reclaimer acknowledges pending entries left behind by consumers that read
// and then died. Without it the group's pending list only grows.
type Reclaimer struct {
	broker  Broker
	logger  *xlog.Logger
	events  *notifier
	stream  string
	group   string
	minIdle time.Duration
	batch   int64
}

// NewReclaimer sweeps stream/group, acknowledging entries idle longer than
// minIdle. Non-positive minIdle and batch take the defaults.
func NewReclaimer(b Broker, logger *xlog.Logger, stream, group string, minIdle time.Duration, batch int) *Reclaimer {
	if logger == nil {
		logger = xlog.Default()
	}
	if minIdle <= 0 {
		minIdle = DefaultReclaimMinIdle
	}
	if batch <= 0 {
		batch = DefaultReclaimBatch
	}
	return &Reclaimer{
		broker:  b,
		logger:  logger,
		stream:  stream,
		group:   group,
		minIdle: minIdle,
		batch:   int64(batch),
	}
}

// Sweep pages through the pending list once. Individual ack failures are
// logged and skipped; only a failure to read the pending list is returned.
func (r *Reclaimer) Sweep(ctx context.Context) (ReclaimReport, error) {
	var rep ReclaimReport

	n, err := r.broker.PendingCount(ctx, r.stream, r.group)
	if err != nil {
		return rep, fmt.Errorf("xcorr: pending summary %s/%s: %w", r.stream, r.group, err)
	}
	rep.Pending = n
	if n == 0 {
		return rep, nil
	}

	start := "-"
	for {
		page, err := r.broker.PendingRange(ctx, r.stream, r.group, start, "+", r.batch)
		if err != nil {
			return rep, fmt.Errorf("xcorr: pending range %s/%s: %w", r.stream, r.group, err)
		}
		for _, p := range page {
			rep.Scanned++
			if p.Idle <= r.minIdle {
				continue
			}
			if _, err := r.broker.Ack(ctx, r.stream, r.group, p.ID); err != nil {
				rep.Failed++
				r.logger.Warn().Err(err).Str("entry_id", p.ID).Str("consumer", p.Consumer).Msg("xcorr: reclaim ack failed")
				continue
			}
			rep.Acked++
			r.events.notify(Event{
				Type:     PendingReclaim,
				Stream:   r.stream,
				Group:    r.group,
				Consumer: p.Consumer,
				EntryID:  p.ID,
				Duration: p.Idle,
			})
		}
		if int64(len(page)) < r.batch {
			break
		}
		start = "(" + page[len(page)-1].ID
	}

	if rep.Acked > 0 || rep.Failed > 0 {
		r.logger.Info().
			Str("stream", r.stream).
			Str("group", r.group).
			Str("scanned", strconv.Itoa(rep.Scanned)).
			Str("acked", strconv.Itoa(rep.Acked)).
			Str("failed", strconv.Itoa(rep.Failed)).
			Msg("xcorr: pending entries reclaimed")
	}
	return rep, nil
}

// Run sweeps every interval until ctx ends.
func (r *Reclaimer) Run(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
		if _, err := r.Sweep(ctx); err != nil && ctx.Err() == nil {
			r.logger.Warn().Err(err).Msg("xcorr: periodic reclaim failed")
		}
	}
}
