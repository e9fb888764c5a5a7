package xcorr

import (
	"sync"

	"github.com/trickstertwo/xlog"
)

// ObserverFunc is an Adapter that lets a plain function satisfy Observer.
type ObserverFunc func(e Event)

func (f ObserverFunc) OnEvent(e Event) { f(e) }

// LoggingObserver is an Adapter that emits lifecycle events via xlog.
type LoggingObserver struct {
	Logger *xlog.Logger
}

func (o LoggingObserver) OnEvent(e Event) {
	if o.Logger == nil {
		return
	}
	ev := o.Logger.With(
		xlog.Str("type", string(e.Type)),
		xlog.Str("stream", e.Stream),
		xlog.Str("group", e.Group),
		xlog.Str("consumer", e.Consumer),
		xlog.Str("entry_id", e.EntryID),
		xlog.Str("correlation_id", e.CorrelationID),
	)
	if e.Duration > 0 {
		ev = ev.With(xlog.Dur("duration", e.Duration))
	}
	switch e.Type {
	case Error, WaitFailed, EntryPoison:
		ev.Warn().Err(e.Err).Msg("xcorr event")
	case WaitTimeout, GroupRecreated:
		ev.Info().Msg("xcorr event")
	default:
		ev.Debug().Msg("xcorr event")
	}
}

// notifier fans events out to registered observers, through the pool when one
// is attached and inline otherwise. direct is always called inline.
type notifier struct {
	direct    Observer
	mu        sync.RWMutex
	observers []Observer
	pool      *ObserverPool
}

func (n *notifier) add(obs Observer) {
	if obs == nil {
		return
	}
	n.mu.Lock()
	n.observers = append(n.observers, obs)
	n.mu.Unlock()
}

func (n *notifier) remove(obs Observer) {
	if obs == nil {
		return
	}
	n.mu.Lock()
	defer n.mu.Unlock()
	for i, o := range n.observers {
		if o == obs {
			n.observers = append(n.observers[:i:i], n.observers[i+1:]...)
			return
		}
	}
}

func (n *notifier) notify(e Event) {
	if n == nil {
		return
	}
	if n.direct != nil {
		n.direct.OnEvent(e)
	}
	n.mu.RLock()
	if len(n.observers) == 0 {
		n.mu.RUnlock()
		return
	}
	obs := make([]Observer, len(n.observers))
	copy(obs, n.observers)
	pool := n.pool
	n.mu.RUnlock()

	if pool != nil {
		pool.Notify(e, obs)
		return
	}
	for _, o := range obs {
		o.OnEvent(e)
	}
}
