package promobserver

import (
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/trickstertwo/xcorr"
)

func TestObserver_CountsEvents(t *testing.T) {
	reg := prometheus.NewRegistry()
	o, err := New(reg, "test")
	require.NoError(t, err)

	o.OnEvent(xcorr.Event{Type: xcorr.PublishDone, Stream: "data-requests"})
	o.OnEvent(xcorr.Event{Type: xcorr.PublishDone, Stream: "data-requests"})
	o.OnEvent(xcorr.Event{Type: xcorr.WaitMatched, Stream: "data-results", Duration: 150 * time.Millisecond})
	o.OnEvent(xcorr.Event{Type: xcorr.WaitFailed, Stream: "data-results", Err: errors.New("boom")})
	o.OnEvent(xcorr.Event{Type: xcorr.EntryDiscarded, Stream: "data-results", Count: 3})
	o.OnEvent(xcorr.Event{Type: xcorr.RespondDone, RequestType: xcorr.VisitHistory, Status: xcorr.StatusSuccess, Duration: time.Millisecond})

	assert.Equal(t, 2.0, testutil.ToFloat64(o.events.WithLabelValues(string(xcorr.PublishDone), "data-requests")))
	assert.Equal(t, 1.0, testutil.ToFloat64(o.errors.WithLabelValues(string(xcorr.WaitFailed))))
	assert.Equal(t, 3.0, testutil.ToFloat64(o.discarded.WithLabelValues("data-results")))
	assert.Equal(t, 2, testutil.CollectAndCount(o.wait))
	assert.Equal(t, 1, testutil.CollectAndCount(o.respond))
}

func TestNew_ReusesRegisteredCollectors(t *testing.T) {
	reg := prometheus.NewRegistry()
	a, err := New(reg, "dup")
	require.NoError(t, err)
	b, err := New(reg, "dup")
	require.NoError(t, err)

	a.OnEvent(xcorr.Event{Type: xcorr.GroupRecreated, Stream: "s"})
	b.OnEvent(xcorr.Event{Type: xcorr.GroupRecreated, Stream: "s"})

	assert.Equal(t, 2.0, testutil.ToFloat64(b.events.WithLabelValues(string(xcorr.GroupRecreated), "s")))
}
