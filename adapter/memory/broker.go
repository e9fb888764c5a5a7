package memory

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/trickstertwo/xclock"
	"github.com/trickstertwo/xcorr"
)

const BrokerName = "memory"

func init() {
	if err := xcorr.RegisterBroker(BrokerName, func(cfg map[string]any) (xcorr.Broker, error) {
		return New(ConfigFromMap(cfg)), nil
	}); err != nil {
		panic(fmt.Errorf("xcorr/memory: failed to register broker: %w", err))
	}
}

// Config controls memory broker behavior.
type Config struct {
	// MaxLen trims each stream to its newest MaxLen entries on append (default: 0 = unbounded).
	MaxLen int
	// Clock stamps entry ids and delivery times (default: xclock.Default()).
	Clock xclock.Clock
}

func ConfigFromMap(cfg map[string]any) Config {
	var c Config
	switch v := cfg["max_len"].(type) {
	case int:
		c.MaxLen = v
	case int64:
		c.MaxLen = int(v)
	case float64:
		c.MaxLen = int(v)
	}
	if v, ok := cfg["clock"].(xclock.Clock); ok {
		c.Clock = v
	}
	return c
}

func (c Config) toMap() map[string]any {
	m := map[string]any{"max_len": c.MaxLen}
	if c.Clock != nil {
		m["clock"] = c.Clock
	}
	return m
}

// Broker implements xcorr.Broker in process memory with Redis consumer-group
// semantics: one delivery cursor per group, a pending entries list recording
// owner and delivery time, and blocking reads woken by appends. Intended for
// tests and local development.
type Broker struct {
	cfg Config
	now func() time.Time

	mu      sync.Mutex
	streams map[string]*stream

	closed   atomic.Bool
	closedCh chan struct{}

	metrics brokerMetrics
}

type brokerMetrics struct {
	appended  atomic.Uint64
	delivered atomic.Uint64
	acked     atomic.Uint64
}

// Stats is a point-in-time copy of broker counters.
type Stats struct {
	Appended  uint64
	Delivered uint64
	Acked     uint64
}

var _ xcorr.Broker = (*Broker)(nil)

type stream struct {
	entries []xcorr.Entry
	// offset is the absolute position of entries[0]; it grows when trimming.
	offset int
	lastMs int64
	lastSq int64
	groups map[string]*group
	wake   chan struct{}
}

type group struct {
	// next is the absolute position of the first never-delivered entry.
	next      int
	pending   map[string]*pendingEntry
	consumers map[string]struct{}
}

type pendingEntry struct {
	id          string
	consumer    string
	deliveredAt time.Time
	deliveries  int64
}

// New creates an empty memory broker.
func New(cfg Config) *Broker {
	clk := cfg.Clock
	if clk == nil {
		clk = xclock.Default()
	}
	return &Broker{
		cfg:      cfg,
		now:      clk.Now,
		streams:  make(map[string]*stream),
		closedCh: make(chan struct{}),
	}
}

func (b *Broker) Stats() Stats {
	return Stats{
		Appended:  b.metrics.appended.Load(),
		Delivered: b.metrics.delivered.Load(),
		Acked:     b.metrics.acked.Load(),
	}
}

func (b *Broker) Append(_ context.Context, name string, fields map[string]string) (string, error) {
	if b.closed.Load() {
		return "", xcorr.ErrBrokerClosed
	}
	b.mu.Lock()
	defer b.mu.Unlock()

	s := b.ensure(name)
	id := s.nextID(b.now().UnixMilli())
	cp := make(map[string]string, len(fields))
	for k, v := range fields {
		cp[k] = v
	}
	s.entries = append(s.entries, xcorr.Entry{ID: id, Fields: cp})
	if limit := b.cfg.MaxLen; limit > 0 && len(s.entries) > limit {
		drop := len(s.entries) - limit
		s.entries = append([]xcorr.Entry(nil), s.entries[drop:]...)
		s.offset += drop
	}
	close(s.wake)
	s.wake = make(chan struct{})
	b.metrics.appended.Add(1)
	return id, nil
}

func (b *Broker) EnsureStream(ctx context.Context, name string) (bool, error) {
	if b.closed.Load() {
		return false, xcorr.ErrBrokerClosed
	}
	b.mu.Lock()
	_, ok := b.streams[name]
	b.mu.Unlock()
	if ok {
		return false, nil
	}
	_, err := b.Append(ctx, name, map[string]string{
		xcorr.FieldInit:      xcorr.InitValue,
		xcorr.FieldTimestamp: strconv.FormatInt(b.now().UnixMilli(), 10),
	})
	return err == nil, err
}

// EnsureGroup creates the group, and the stream when missing. start is "0",
// "$" or an entry id; delivery begins after it.
func (b *Broker) EnsureGroup(_ context.Context, name, groupName, start string) (bool, error) {
	if b.closed.Load() {
		return false, xcorr.ErrBrokerClosed
	}
	b.mu.Lock()
	defer b.mu.Unlock()

	s := b.ensure(name)
	if _, ok := s.groups[groupName]; ok {
		return false, nil
	}
	g := &group{
		pending:   make(map[string]*pendingEntry),
		consumers: make(map[string]struct{}),
	}
	switch start {
	case "", "0", "0-0":
		g.next = s.offset
	case "$":
		g.next = s.offset + len(s.entries)
	default:
		g.next = s.offset + len(s.entries)
		for i, e := range s.entries {
			if compareID(e.ID, start) > 0 {
				g.next = s.offset + i
				break
			}
		}
	}
	s.groups[groupName] = g
	return true, nil
}

func (b *Broker) Groups(_ context.Context, name string) ([]string, error) {
	if b.closed.Load() {
		return nil, xcorr.ErrBrokerClosed
	}
	b.mu.Lock()
	defer b.mu.Unlock()

	s, ok := b.streams[name]
	if !ok {
		return nil, nil
	}
	names := make([]string, 0, len(s.groups))
	for n := range s.groups {
		names = append(names, n)
	}
	sort.Strings(names)
	return names, nil
}

// ReadGroup delivers never-delivered entries. A non-positive block returns
// immediately instead of blocking forever.
func (b *Broker) ReadGroup(ctx context.Context, name, groupName, consumer string, count int64, block time.Duration) ([]xcorr.Entry, error) {
	if count <= 0 {
		count = 1
	}
	var timer *time.Timer
	if block > 0 {
		timer = time.NewTimer(block)
		defer timer.Stop()
	}

	for {
		if b.closed.Load() {
			return nil, xcorr.ErrBrokerClosed
		}
		b.mu.Lock()
		s, g, err := b.lookup(name, groupName)
		if err != nil {
			b.mu.Unlock()
			return nil, err
		}
		g.consumers[consumer] = struct{}{}

		if g.next < s.offset {
			g.next = s.offset
		}
		if avail := s.offset + len(s.entries) - g.next; avail > 0 {
			n := int(count)
			if avail < n {
				n = avail
			}
			now := b.now()
			out := make([]xcorr.Entry, 0, n)
			for _, e := range s.entries[g.next-s.offset : g.next-s.offset+n] {
				g.pending[e.ID] = &pendingEntry{id: e.ID, consumer: consumer, deliveredAt: now, deliveries: 1}
				out = append(out, copyEntry(e))
			}
			g.next += n
			b.mu.Unlock()
			b.metrics.delivered.Add(uint64(n))
			return out, nil
		}
		wake := s.wake
		b.mu.Unlock()

		if timer == nil {
			return nil, nil
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-b.closedCh:
			return nil, xcorr.ErrBrokerClosed
		case <-timer.C:
			return nil, nil
		case <-wake:
		}
	}
}

func (b *Broker) Ack(_ context.Context, name, groupName string, ids ...string) (int64, error) {
	if b.closed.Load() {
		return 0, xcorr.ErrBrokerClosed
	}
	b.mu.Lock()
	defer b.mu.Unlock()

	_, g, err := b.lookup(name, groupName)
	if err != nil {
		return 0, err
	}
	var n int64
	for _, id := range ids {
		if _, ok := g.pending[id]; ok {
			delete(g.pending, id)
			n++
		}
	}
	b.metrics.acked.Add(uint64(n))
	return n, nil
}

func (b *Broker) PendingCount(_ context.Context, name, groupName string) (int64, error) {
	if b.closed.Load() {
		return 0, xcorr.ErrBrokerClosed
	}
	b.mu.Lock()
	defer b.mu.Unlock()

	_, g, err := b.lookup(name, groupName)
	if err != nil {
		return 0, err
	}
	return int64(len(g.pending)), nil
}

func (b *Broker) PendingRange(_ context.Context, name, groupName, start, end string, count int64) ([]xcorr.PendingEntry, error) {
	if b.closed.Load() {
		return nil, xcorr.ErrBrokerClosed
	}
	b.mu.Lock()
	defer b.mu.Unlock()

	_, g, err := b.lookup(name, groupName)
	if err != nil {
		return nil, err
	}
	ids := make([]string, 0, len(g.pending))
	for id := range g.pending {
		if inRange(id, start, end) {
			ids = append(ids, id)
		}
	}
	sort.Slice(ids, func(i, j int) bool { return compareID(ids[i], ids[j]) < 0 })
	if count > 0 && int64(len(ids)) > count {
		ids = ids[:count]
	}

	now := b.now()
	out := make([]xcorr.PendingEntry, 0, len(ids))
	for _, id := range ids {
		p := g.pending[id]
		out = append(out, xcorr.PendingEntry{
			ID:         p.id,
			Consumer:   p.consumer,
			Idle:       now.Sub(p.deliveredAt),
			RetryCount: p.deliveries,
		})
	}
	return out, nil
}

// DeleteConsumer removes consumer and drops its pending entries, as XGROUP DELCONSUMER does.
func (b *Broker) DeleteConsumer(_ context.Context, name, groupName, consumer string) error {
	if b.closed.Load() {
		return xcorr.ErrBrokerClosed
	}
	b.mu.Lock()
	defer b.mu.Unlock()

	_, g, err := b.lookup(name, groupName)
	if err != nil {
		return err
	}
	delete(g.consumers, consumer)
	for id, p := range g.pending {
		if p.consumer == consumer {
			delete(g.pending, id)
		}
	}
	return nil
}

// Consumers lists the members of a group in sorted order.
func (b *Broker) Consumers(_ context.Context, name, groupName string) ([]string, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	_, g, err := b.lookup(name, groupName)
	if err != nil {
		return nil, err
	}
	out := make([]string, 0, len(g.consumers))
	for c := range g.consumers {
		out = append(out, c)
	}
	sort.Strings(out)
	return out, nil
}

// DestroyGroup removes a group with its pending list, as XGROUP DESTROY does.
func (b *Broker) DestroyGroup(_ context.Context, name, groupName string) (bool, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	s, ok := b.streams[name]
	if !ok {
		return false, nil
	}
	if _, ok := s.groups[groupName]; !ok {
		return false, nil
	}
	delete(s.groups, groupName)
	return true, nil
}

// Len returns the number of entries held for a stream.
func (b *Broker) Len(name string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	if s, ok := b.streams[name]; ok {
		return len(s.entries)
	}
	return 0
}

func (b *Broker) Close(_ context.Context) error {
	if b.closed.Swap(true) {
		return nil
	}
	close(b.closedCh)
	return nil
}

// caller holds b.mu
func (b *Broker) ensure(name string) *stream {
	s, ok := b.streams[name]
	if !ok {
		s = &stream{groups: make(map[string]*group), wake: make(chan struct{})}
		b.streams[name] = s
	}
	return s
}

// caller holds b.mu
func (b *Broker) lookup(name, groupName string) (*stream, *group, error) {
	s, ok := b.streams[name]
	if !ok {
		return nil, nil, fmt.Errorf("%w: no such key %q or consumer group %q", xcorr.ErrNoGroup, name, groupName)
	}
	g, ok := s.groups[groupName]
	if !ok {
		return nil, nil, fmt.Errorf("%w: consumer group %q on %q", xcorr.ErrNoGroup, groupName, name)
	}
	return s, g, nil
}

func (s *stream) nextID(ms int64) string {
	if ms <= s.lastMs {
		s.lastSq++
	} else {
		s.lastMs, s.lastSq = ms, 0
	}
	return fmt.Sprintf("%d-%d", s.lastMs, s.lastSq)
}

func copyEntry(e xcorr.Entry) xcorr.Entry {
	cp := make(map[string]string, len(e.Fields))
	for k, v := range e.Fields {
		cp[k] = v
	}
	return xcorr.Entry{ID: e.ID, Fields: cp}
}

func parseID(id string) (ms, seq int64) {
	head, tail, _ := strings.Cut(id, "-")
	ms, _ = strconv.ParseInt(head, 10, 64)
	seq, _ = strconv.ParseInt(tail, 10, 64)
	return ms, seq
}

func compareID(a, b string) int {
	am, as := parseID(a)
	bm, bs := parseID(b)
	switch {
	case am != bm:
		if am < bm {
			return -1
		}
		return 1
	case as < bs:
		return -1
	case as > bs:
		return 1
	}
	return 0
}

// inRange evaluates XPENDING style bounds: "-", "+", an inclusive id or an exclusive "(id".
func inRange(id, start, end string) bool {
	switch {
	case start == "-" || start == "":
	case strings.HasPrefix(start, "("):
		if compareID(id, start[1:]) <= 0 {
			return false
		}
	default:
		if compareID(id, start) < 0 {
			return false
		}
	}
	switch {
	case end == "+" || end == "":
	case strings.HasPrefix(end, "("):
		if compareID(id, end[1:]) >= 0 {
			return false
		}
	default:
		if compareID(id, end) > 0 {
			return false
		}
	}
	return true
}
