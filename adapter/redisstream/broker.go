package redisstream

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net"
	"strings"
	"sync/atomic"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/trickstertwo/xcorr"
)

var _ xcorr.Broker = (*Broker)(nil)

// Broker implements xcorr.Broker on Redis Streams consumer groups.
type Broker struct {
	cfg    Config
	client *redis.Client
	owned  bool

	closed  atomic.Bool
	metrics brokerMetrics
}

type brokerMetrics struct {
	appended    atomic.Uint64
	delivered   atomic.Uint64
	acked       atomic.Uint64
	readErrors  atomic.Uint64
	writeErrors atomic.Uint64
}

// Stats is a point-in-time copy of broker counters.
type Stats struct {
	Appended    uint64
	Delivered   uint64
	Acked       uint64
	ReadErrors  uint64
	WriteErrors uint64
}

// New connects to Redis and verifies the connection with PING.
func New(cfg Config) (*Broker, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	opts, err := cfg.redisOptions()
	if err != nil {
		return nil, err
	}
	client := redis.NewClient(opts)
	if err := ping(client, cfg.DialTimeout); err != nil {
		_ = client.Close()
		return nil, err
	}
	return &Broker{cfg: cfg, client: client, owned: true}, nil
}

// NewWithClient wraps an existing client. Close leaves the client open.
func NewWithClient(client *redis.Client, cfg Config) *Broker {
	return &Broker{cfg: cfg, client: client}
}

// Client exposes the underlying go-redis client.
func (b *Broker) Client() *redis.Client { return b.client }

func (b *Broker) Stats() Stats {
	return Stats{
		Appended:    b.metrics.appended.Load(),
		Delivered:   b.metrics.delivered.Load(),
		Acked:       b.metrics.acked.Load(),
		ReadErrors:  b.metrics.readErrors.Load(),
		WriteErrors: b.metrics.writeErrors.Load(),
	}
}

// Append adds fields to stream with XADD, trimming approximately when MaxLenApprox is set.
func (b *Broker) Append(ctx context.Context, stream string, fields map[string]string) (string, error) {
	if b.closed.Load() {
		return "", xcorr.ErrBrokerClosed
	}
	vals := make(map[string]any, len(fields))
	for k, v := range fields {
		vals[k] = v
	}
	args := &redis.XAddArgs{
		Stream: stream,
		ID:     "*",
		Values: vals,
	}
	if b.cfg.MaxLenApprox > 0 {
		args.MaxLen = b.cfg.MaxLenApprox
		args.Approx = true
	}
	id, err := b.client.XAdd(ctx, args).Result()
	if err != nil {
		b.metrics.writeErrors.Add(1)
		return "", mapErr(err)
	}
	b.metrics.appended.Add(1)
	return id, nil
}

// EnsureStream probes stream with XINFO STREAM and appends a bootstrap entry when it is missing.
func (b *Broker) EnsureStream(ctx context.Context, stream string) (bool, error) {
	if b.closed.Load() {
		return false, xcorr.ErrBrokerClosed
	}
	err := b.client.XInfoStream(ctx, stream).Err()
	if err == nil {
		return false, nil
	}
	if !isNoSuchKey(err) {
		return false, mapErr(err)
	}
	_, err = b.Append(ctx, stream, map[string]string{
		xcorr.FieldInit:      xcorr.InitValue,
		xcorr.FieldTimestamp: fmt.Sprintf("%d", time.Now().UnixMilli()),
	})
	if err != nil {
		return false, err
	}
	return true, nil
}

// EnsureGroup runs XGROUP CREATE ... MKSTREAM. BUSYGROUP reports created=false.
func (b *Broker) EnsureGroup(ctx context.Context, stream, group, start string) (bool, error) {
	if b.closed.Load() {
		return false, xcorr.ErrBrokerClosed
	}
	if start == "" {
		start = xcorr.GroupStart
	}
	err := b.client.XGroupCreateMkStream(ctx, stream, group, start).Err()
	switch {
	case err == nil:
		return true, nil
	case strings.Contains(err.Error(), errBusyGroup):
		return false, nil
	default:
		return false, mapErr(err)
	}
}

// Groups lists group names via XINFO GROUPS. A missing stream has no groups.
func (b *Broker) Groups(ctx context.Context, stream string) ([]string, error) {
	if b.closed.Load() {
		return nil, xcorr.ErrBrokerClosed
	}
	infos, err := b.client.XInfoGroups(ctx, stream).Result()
	if err != nil {
		if isNoSuchKey(err) {
			return nil, nil
		}
		return nil, mapErr(err)
	}
	names := make([]string, 0, len(infos))
	for _, g := range infos {
		names = append(names, g.Name)
	}
	return names, nil
}

// ReadGroup runs XREADGROUP with ">" for new entries only.
func (b *Broker) ReadGroup(ctx context.Context, stream, group, consumer string, count int64, block time.Duration) ([]xcorr.Entry, error) {
	if b.closed.Load() {
		return nil, xcorr.ErrBrokerClosed
	}
	if block < time.Millisecond {
		block = time.Millisecond
	}
	res, err := b.client.XReadGroup(ctx, &redis.XReadGroupArgs{
		Group:    group,
		Consumer: consumer,
		Streams:  []string{stream, ">"},
		Count:    count,
		Block:    block,
	}).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		b.metrics.readErrors.Add(1)
		return nil, mapErr(err)
	}

	var out []xcorr.Entry
	for _, s := range res {
		for _, m := range s.Messages {
			out = append(out, xcorr.Entry{ID: m.ID, Fields: stringFields(m.Values)})
		}
	}
	b.metrics.delivered.Add(uint64(len(out)))
	return out, nil
}

// Ack runs XACK.
func (b *Broker) Ack(ctx context.Context, stream, group string, ids ...string) (int64, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	if b.closed.Load() {
		return 0, xcorr.ErrBrokerClosed
	}
	n, err := b.client.XAck(ctx, stream, group, ids...).Result()
	if err != nil {
		b.metrics.writeErrors.Add(1)
		return 0, mapErr(err)
	}
	b.metrics.acked.Add(uint64(n))
	return n, nil
}

// PendingCount runs the summary form of XPENDING.
func (b *Broker) PendingCount(ctx context.Context, stream, group string) (int64, error) {
	if b.closed.Load() {
		return 0, xcorr.ErrBrokerClosed
	}
	p, err := b.client.XPending(ctx, stream, group).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return 0, nil
		}
		return 0, mapErr(err)
	}
	return p.Count, nil
}

// PendingRange runs the extended form of XPENDING.
func (b *Broker) PendingRange(ctx context.Context, stream, group, start, end string, count int64) ([]xcorr.PendingEntry, error) {
	if b.closed.Load() {
		return nil, xcorr.ErrBrokerClosed
	}
	res, err := b.client.XPendingExt(ctx, &redis.XPendingExtArgs{
		Stream: stream,
		Group:  group,
		Start:  start,
		End:    end,
		Count:  count,
	}).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, mapErr(err)
	}
	out := make([]xcorr.PendingEntry, 0, len(res))
	for _, p := range res {
		out = append(out, xcorr.PendingEntry{
			ID:         p.ID,
			Consumer:   p.Consumer,
			Idle:       p.Idle,
			RetryCount: p.RetryCount,
		})
	}
	return out, nil
}

// DeleteConsumer runs XGROUP DELCONSUMER. Entries still pending for the consumer are dropped from the PEL.
func (b *Broker) DeleteConsumer(ctx context.Context, stream, group, consumer string) error {
	if b.closed.Load() {
		return xcorr.ErrBrokerClosed
	}
	if err := b.client.XGroupDelConsumer(ctx, stream, group, consumer).Err(); err != nil {
		return mapErr(err)
	}
	return nil
}

// Close closes the client when the broker created it. Idempotent.
func (b *Broker) Close(_ context.Context) error {
	if b.closed.Swap(true) {
		return nil
	}
	if !b.owned {
		return nil
	}
	return b.client.Close()
}

func stringFields(vals map[string]any) map[string]string {
	out := make(map[string]string, len(vals))
	for k, v := range vals {
		switch s := v.(type) {
		case string:
			out[k] = s
		case []byte:
			out[k] = string(s)
		default:
			out[k] = fmt.Sprint(s)
		}
	}
	return out
}

func mapErr(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, redis.ErrClosed):
		return fmt.Errorf("%w: %v", xcorr.ErrBrokerClosed, err)
	case strings.HasPrefix(err.Error(), errNoGroup):
		return fmt.Errorf("%w: %v", xcorr.ErrNoGroup, err)
	default:
		return err
	}
}

func isNoSuchKey(err error) bool {
	return err != nil && strings.Contains(strings.ToLower(err.Error()), errNoSuchKey)
}

func ping(c *redis.Client, timeout time.Duration) error {
	if timeout <= 0 {
		timeout = 2 * time.Second
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	res, err := c.Ping(ctx).Result()
	if err != nil {
		var netErr net.Error
		if errors.As(err, &netErr) && netErr.Timeout() {
			return fmt.Errorf("redis ping timeout: %w", err)
		}
		return err
	}
	if strings.ToUpper(res) != "PONG" {
		return fmt.Errorf("unexpected redis ping result: %s", res)
	}
	return nil
}

func tlsConfig(serverName string) *tls.Config {
	return &tls.Config{
		MinVersion:    tls.VersionTLS12,
		ServerName:    serverName,
		Renegotiation: tls.RenegotiateNever,
	}
}
