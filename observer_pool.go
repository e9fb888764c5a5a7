package xcorr

import (
	"context"
	"sync"
	"sync/atomic"
)

// ObserverPool dispatches events to observers off the wait path so a slow
// observer cannot stretch a Wait past its timeout. When the buffer is full
// events are dropped and counted.
type ObserverPool struct {
	eventCh   chan *Event
	workers   int
	stop      chan struct{}
	wg        sync.WaitGroup
	closed    atomic.Bool
	dropped   atomic.Uint64
	processed atomic.Uint64
	panics    atomic.Uint64
}

// NewObserverPool starts workers dispatch goroutines over a bufferSize queue.
func NewObserverPool(workers, bufferSize int) *ObserverPool {
	if workers < 1 {
		workers = 2
	}
	if bufferSize < 1 {
		bufferSize = 1024
	}
	op := &ObserverPool{
		eventCh: make(chan *Event, bufferSize),
		workers: workers,
		stop:    make(chan struct{}),
	}
	for i := 0; i < workers; i++ {
		op.wg.Add(1)
		go op.worker()
	}
	return op
}

// Notify queues e for observers. It never blocks and reports whether the event was queued.
func (op *ObserverPool) Notify(e Event, observers []Observer) bool {
	if len(observers) == 0 || op.closed.Load() {
		return false
	}
	e.observers = observers
	select {
	case op.eventCh <- &e:
		return true
	default:
		op.dropped.Add(1)
		return false
	}
}

func (op *ObserverPool) worker() {
	defer op.wg.Done()
	for {
		select {
		case e := <-op.eventCh:
			op.dispatch(e)
		case <-op.stop:
			// drain what is already queued
			for {
				select {
				case e := <-op.eventCh:
					op.dispatch(e)
				default:
					return
				}
			}
		}
	}
}

func (op *ObserverPool) dispatch(e *Event) {
	if e == nil {
		return
	}
	for _, obs := range e.observers {
		if obs == nil {
			continue
		}
		func() {
			defer func() {
				if r := recover(); r != nil {
					op.panics.Add(1)
				}
			}()
			obs.OnEvent(*e)
		}()
	}
	op.processed.Add(1)
}

// Close stops the workers after draining queued events, or returns
// ErrObserverPoolShutdownTimeout when ctx ends first.
func (op *ObserverPool) Close(ctx context.Context) error {
	if op.closed.Swap(true) {
		return nil
	}
	close(op.stop)

	done := make(chan struct{})
	go func() {
		op.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ErrObserverPoolShutdownTimeout
	}
}

// Stats returns current pool statistics.
func (op *ObserverPool) Stats() PoolStats {
	return PoolStats{
		Dropped:      op.dropped.Load(),
		Processed:    op.processed.Load(),
		ActiveEvents: len(op.eventCh),
		Workers:      op.workers,
		BufferSize:   cap(op.eventCh),
	}
}
