package xcorr

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestObserverPool_DeliversAndDrains(t *testing.T) {
	pool := NewObserverPool(2, 64)
	var got atomic.Int64
	obs := ObserverFunc(func(Event) { got.Add(1) })

	for i := 0; i < 50; i++ {
		require.True(t, pool.Notify(Event{Type: WaitMatched}, []Observer{obs}))
	}
	require.NoError(t, pool.Close(context.Background()))
	assert.Equal(t, int64(50), got.Load())
	assert.Equal(t, uint64(50), pool.Stats().Processed)

	assert.False(t, pool.Notify(Event{Type: WaitMatched}, []Observer{obs}))
	require.NoError(t, pool.Close(context.Background()))
}

func TestObserverPool_DropsWhenFull(t *testing.T) {
	pool := NewObserverPool(1, 1)
	release := make(chan struct{})
	blocking := ObserverFunc(func(Event) { <-release })

	var queued int
	for i := 0; i < 10; i++ {
		if pool.Notify(Event{Type: WaitMatched}, []Observer{blocking}) {
			queued++
		}
	}
	st := pool.Stats()
	assert.Positive(t, st.Dropped)
	assert.Equal(t, uint64(10), st.Dropped+uint64(queued))
	assert.Equal(t, 1, st.BufferSize)

	close(release)
	require.NoError(t, pool.Close(context.Background()))
}

func TestObserverPool_RecoversPanics(t *testing.T) {
	pool := NewObserverPool(1, 4)
	var after atomic.Bool
	obs := []Observer{
		ObserverFunc(func(Event) { panic("observer bug") }),
		ObserverFunc(func(Event) { after.Store(true) }),
	}
	pool.Notify(Event{Type: Error}, obs)
	require.NoError(t, pool.Close(context.Background()))
	assert.True(t, after.Load())
	assert.Equal(t, uint64(1), pool.panics.Load())
}

func TestObserverPool_CloseTimeout(t *testing.T) {
	pool := NewObserverPool(1, 4)
	release := make(chan struct{})
	defer close(release)
	pool.Notify(Event{}, []Observer{ObserverFunc(func(Event) { <-release })})
	time.Sleep(10 * time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, pool.Close(ctx), ErrObserverPoolShutdownTimeout)
}

type countingObserver struct {
	mu sync.Mutex
	n  int
}

func (c *countingObserver) OnEvent(Event) {
	c.mu.Lock()
	c.n++
	c.mu.Unlock()
}

func TestNotifier(t *testing.T) {
	var direct int
	n := &notifier{direct: ObserverFunc(func(Event) { direct++ })}
	a, b := &countingObserver{}, &countingObserver{}
	n.add(a)
	n.add(b)
	n.add(nil)

	n.notify(Event{Type: PublishDone})
	n.remove(a)
	n.notify(Event{Type: PublishDone})

	assert.Equal(t, 2, direct)
	assert.Equal(t, 1, a.n)
	assert.Equal(t, 2, b.n)

	var none *notifier
	assert.NotPanics(t, func() { none.notify(Event{}) })
}

func TestClientMetrics(t *testing.T) {
	m := &clientMetrics{}
	m.OnEvent(Event{Type: PublishDone})
	m.OnEvent(Event{Type: PublishDone, Err: errors.New("down")})
	m.OnEvent(Event{Type: WaitMatched, Duration: 100 * time.Millisecond})
	m.OnEvent(Event{Type: WaitMatched, Duration: 200 * time.Millisecond})
	m.OnEvent(Event{Type: WaitTimeout, Duration: time.Second})
	m.OnEvent(Event{Type: WaitCancelled})
	m.OnEvent(Event{Type: WaitFailed})
	m.OnEvent(Event{Type: EntryDiscarded, Count: 4})
	m.OnEvent(Event{Type: GroupRecreated})

	s := m.snapshot()
	assert.Equal(t, uint64(1), s.Published)
	assert.Equal(t, uint64(1), s.PublishErrors)
	assert.Equal(t, uint64(2), s.Matched)
	assert.Equal(t, uint64(1), s.Timeouts)
	assert.Equal(t, uint64(1), s.Cancelled)
	assert.Equal(t, uint64(1), s.Failures)
	assert.Equal(t, uint64(4), s.Discarded)
	assert.Equal(t, uint64(1), s.GroupsRecreated)
	// 100 -> 0.2*200+0.8*100 = 120 -> 0.2*1000+0.8*120 = 296
	assert.InDelta(t, 296.0, s.AvgWaitMs, 0.01)
}

func TestErrorClassification(t *testing.T) {
	assert.True(t, IsFatal(ErrBrokerClosed))
	assert.False(t, IsFatal(ErrNoGroup))
	assert.True(t, IsTransient(errors.New("dial tcp: i/o timeout")))
	assert.True(t, IsTransient(context.DeadlineExceeded))
	assert.False(t, IsTransient(ErrBrokerClosed))
	assert.False(t, IsTransient(errors.New("WRONGTYPE")))
	assert.False(t, IsTransient(nil))
	assert.Equal(t, "unknown broker: kafka", ErrUnknownBroker{name: "kafka"}.Error())
}

func TestConsumerName(t *testing.T) {
	a, b := ConsumerName("chatbot"), ConsumerName("chatbot")
	assert.NotEqual(t, a, b)
	assert.Contains(t, a, "chatbot")
}
