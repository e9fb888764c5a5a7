package xcorr

import (
	"sync/atomic"
)

// clientMetrics uses lock-free atomics and is fed synchronously from events.
type clientMetrics struct {
	published       atomic.Uint64
	publishErrors   atomic.Uint64
	matched         atomic.Uint64
	timeouts        atomic.Uint64
	cancelled       atomic.Uint64
	failures        atomic.Uint64
	poison          atomic.Uint64
	discarded       atomic.Uint64
	reclaimed       atomic.Uint64
	groupsRecreated atomic.Uint64
	waitNs          atomic.Int64
}

func (m *clientMetrics) OnEvent(e Event) {
	switch e.Type {
	case PublishDone:
		if e.Err != nil {
			m.publishErrors.Add(1)
			return
		}
		m.published.Add(1)
	case WaitMatched:
		m.matched.Add(1)
		m.recordWait(e.Duration.Nanoseconds())
	case WaitTimeout:
		m.timeouts.Add(1)
		m.recordWait(e.Duration.Nanoseconds())
	case WaitCancelled:
		m.cancelled.Add(1)
	case WaitFailed:
		m.failures.Add(1)
	case EntryPoison:
		m.poison.Add(1)
	case EntryDiscarded:
		m.discarded.Add(uint64(e.Count))
	case PendingReclaim:
		m.reclaimed.Add(1)
	case GroupRecreated:
		m.groupsRecreated.Add(1)
	}
}

// recordWait keeps an exponential moving average of wait durations.
func (m *clientMetrics) recordWait(ns int64) {
	const alpha = 0.2
	for {
		cur := m.waitNs.Load()
		next := ns
		if cur != 0 {
			next = int64(float64(ns)*alpha + float64(cur)*(1-alpha))
		}
		if m.waitNs.CompareAndSwap(cur, next) {
			return
		}
	}
}

func (m *clientMetrics) snapshot() Metrics {
	return Metrics{
		Published:       m.published.Load(),
		PublishErrors:   m.publishErrors.Load(),
		Matched:         m.matched.Load(),
		Timeouts:        m.timeouts.Load(),
		Cancelled:       m.cancelled.Load(),
		Failures:        m.failures.Load(),
		Poison:          m.poison.Load(),
		Discarded:       m.discarded.Load(),
		Reclaimed:       m.reclaimed.Load(),
		GroupsRecreated: m.groupsRecreated.Load(),
		AvgWaitMs:       float64(m.waitNs.Load()) / 1e6,
	}
}
