package xcorr

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func resultEntry(id, cid string) Entry {
	return Entry{ID: id, Fields: map[string]string{
		FieldCorrelationID: cid,
		FieldStatus:        string(StatusSuccess),
		FieldData:          `{"ok":true}`,
	}}
}

func testCorrelator(b Broker, events *[]Event) *Correlator {
	c := NewCorrelator(b, nil, nil, CorrelatorConfig{
		Stream:       "data-results",
		Group:        "chatbot-consumers",
		ReadBlock:    20 * time.Millisecond,
		PollInterval: time.Millisecond,
	})
	if events != nil {
		c.events = &notifier{direct: ObserverFunc(func(e Event) { *events = append(*events, e) })}
	}
	return c
}

func TestCorrelator_AcksEverythingSeen(t *testing.T) {
	b := &stubBroker{reads: []stubRead{{entries: []Entry{
		resultEntry("1-0", "someone-else"),
		{ID: "2-0", Fields: map[string]string{FieldInit: InitValue}},
		resultEntry("3-0", "mine"),
		resultEntry("4-0", "later"),
	}}}}
	c := testCorrelator(b, nil)

	res, err := c.Wait(context.Background(), "mine", time.Second)
	require.NoError(t, err)
	assert.Equal(t, "3-0", res.EntryID)
	assert.JSONEq(t, `{"ok":true}`, string(res.Data))
	assert.ElementsMatch(t, []string{"1-0", "2-0", "3-0", "4-0"}, b.ackedIDs())
}

func TestCorrelator_RecreatesMissingGroup(t *testing.T) {
	var events []Event
	b := &stubBroker{reads: []stubRead{
		{err: fmt.Errorf("%w: NOGROUP", ErrNoGroup)},
		{entries: []Entry{resultEntry("1-0", "mine")}},
	}}
	c := testCorrelator(b, &events)

	res, err := c.Wait(context.Background(), "mine", time.Second)
	require.NoError(t, err)
	assert.Equal(t, "mine", res.CorrelationID)
	assert.Equal(t, 1, b.groups)

	var types []EventType
	for _, e := range events {
		types = append(types, e.Type)
	}
	assert.Contains(t, types, GroupRecreated)
	assert.Contains(t, types, WaitMatched)
}

func TestCorrelator_RetriesTransientErrors(t *testing.T) {
	b := &stubBroker{reads: []stubRead{
		{err: errors.New("dial tcp: connection refused")},
		{err: errors.New("i/o timeout")},
		{entries: []Entry{resultEntry("1-0", "mine")}},
	}}
	c := testCorrelator(b, nil)

	res, err := c.Wait(context.Background(), "mine", 2*time.Second)
	require.NoError(t, err)
	assert.Equal(t, "1-0", res.EntryID)
}

func TestCorrelator_FatalBrokerErrorFails(t *testing.T) {
	var events []Event
	b := &stubBroker{reads: []stubRead{{err: ErrBrokerClosed}}}
	c := testCorrelator(b, &events)

	_, err := c.Wait(context.Background(), "mine", time.Second)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrBrokerClosed)
	require.NotEmpty(t, events)
	assert.Equal(t, WaitFailed, events[len(events)-1].Type)
}

func TestCorrelator_PermanentBrokerErrorFails(t *testing.T) {
	var events []Event
	b := &stubBroker{reads: []stubRead{
		{err: errors.New("WRONGTYPE Operation against a key holding the wrong kind of value")},
		{entries: []Entry{resultEntry("1-0", "mine")}},
	}}
	c := testCorrelator(b, &events)

	start := time.Now()
	_, err := c.Wait(context.Background(), "mine", 5*time.Second)
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrResultNotFound)
	assert.ErrorContains(t, err, "WRONGTYPE")
	assert.Less(t, time.Since(start), time.Second)
	assert.Equal(t, 1, b.readCalls)

	require.NotEmpty(t, events)
	assert.Equal(t, WaitFailed, events[len(events)-1].Type)
}

func TestCorrelator_DeletesConsumerWhenFirstReadIsCancelled(t *testing.T) {
	b := &stubBroker{}
	c := testCorrelator(b, nil)
	c.cfg.ReadBlock = time.Second

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err := c.Wait(ctx, "mine", 5*time.Second)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Len(t, b.deleted, 1)
}

func TestCorrelator_DeletesConsumerOnlyWhenRegistered(t *testing.T) {
	b := &stubBroker{reads: []stubRead{{entries: []Entry{resultEntry("1-0", "mine")}}}}
	c := testCorrelator(b, nil)
	_, err := c.Wait(context.Background(), "mine", time.Second)
	require.NoError(t, err)
	assert.Len(t, b.deleted, 1)

	kept := &stubBroker{reads: []stubRead{{entries: []Entry{resultEntry("1-0", "mine")}}}}
	kc := testCorrelator(kept, nil)
	kc.cfg.KeepConsumers = true
	_, err = kc.Wait(context.Background(), "mine", time.Second)
	require.NoError(t, err)
	assert.Empty(t, kept.deleted)

	never := &stubBroker{}
	nc := testCorrelator(never, nil)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = nc.Wait(ctx, "mine", time.Second)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Empty(t, never.deleted)
}

func TestCorrelator_UniqueConsumerPerWait(t *testing.T) {
	var events []Event
	b := &stubBroker{reads: []stubRead{
		{entries: []Entry{resultEntry("1-0", "a")}},
		{entries: []Entry{resultEntry("2-0", "b")}},
	}}
	c := testCorrelator(b, &events)

	_, err := c.Wait(context.Background(), "a", time.Second)
	require.NoError(t, err)
	_, err = c.Wait(context.Background(), "b", time.Second)
	require.NoError(t, err)

	require.Len(t, b.deleted, 2)
	assert.NotEqual(t, b.deleted[0], b.deleted[1])
}

func TestCorrelator_RejectsEmptyCorrelationID(t *testing.T) {
	c := testCorrelator(&stubBroker{}, nil)
	_, err := c.Wait(context.Background(), "", time.Second)
	assert.ErrorIs(t, err, ErrInvalidCorrelation)
}

func TestClampBlock(t *testing.T) {
	assert.Equal(t, time.Second, clampBlock(time.Second, 5*time.Second))
	assert.Equal(t, 300*time.Millisecond, clampBlock(time.Second, 300*time.Millisecond))
	assert.Equal(t, time.Millisecond, clampBlock(time.Second, 0))
	assert.Equal(t, time.Millisecond, clampBlock(time.Second, -time.Second))
}

func TestSleepCtx(t *testing.T) {
	assert.NoError(t, sleepCtx(context.Background(), time.Millisecond))
	assert.NoError(t, sleepCtx(context.Background(), 0))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, sleepCtx(ctx, time.Hour), context.Canceled)
}
