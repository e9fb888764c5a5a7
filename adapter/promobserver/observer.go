// Package promobserver exports xcorr lifecycle events as Prometheus metrics.
package promobserver

import (
	"errors"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/trickstertwo/xcorr"
)

// Observer counts events by type and stream and records wait and respond
// latencies. Safe for concurrent use.
type Observer struct {
	events    *prometheus.CounterVec
	errors    *prometheus.CounterVec
	discarded *prometheus.CounterVec
	wait      *prometheus.HistogramVec
	respond   *prometheus.HistogramVec
}

var _ xcorr.Observer = (*Observer)(nil)

// New registers the collectors on reg under namespace (default "xcorr").
// An already registered collector set is reused.
func New(reg prometheus.Registerer, namespace string) (*Observer, error) {
	if namespace == "" {
		namespace = "xcorr"
	}
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	o := &Observer{
		events: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "events_total",
			Help:      "Lifecycle events by type and stream.",
		}, []string{"type", "stream"}),
		errors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "event_errors_total",
			Help:      "Lifecycle events carrying an error, by type.",
		}, []string{"type"}),
		discarded: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "discarded_entries_total",
			Help:      "Result entries acknowledged by a waiter they did not belong to.",
		}, []string{"stream"}),
		wait: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "wait_duration_seconds",
			Help:      "Time from Wait start to its terminal outcome.",
			Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10, 30},
		}, []string{"outcome"}),
		respond: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "respond_duration_seconds",
			Help:      "Time a responder spent answering a request.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"request_type", "status"}),
	}

	var err error
	if o.events, err = register(reg, o.events); err != nil {
		return nil, err
	}
	if o.errors, err = register(reg, o.errors); err != nil {
		return nil, err
	}
	if o.discarded, err = register(reg, o.discarded); err != nil {
		return nil, err
	}
	if o.wait, err = register(reg, o.wait); err != nil {
		return nil, err
	}
	if o.respond, err = register(reg, o.respond); err != nil {
		return nil, err
	}
	return o, nil
}

// MustNew is New that panics on error.
func MustNew(reg prometheus.Registerer, namespace string) *Observer {
	o, err := New(reg, namespace)
	if err != nil {
		panic(err)
	}
	return o
}

func register[C prometheus.Collector](reg prometheus.Registerer, c C) (C, error) {
	if err := reg.Register(c); err != nil {
		var are prometheus.AlreadyRegisteredError
		if errors.As(err, &are) {
			if existing, ok := are.ExistingCollector.(C); ok {
				return existing, nil
			}
		}
		return c, err
	}
	return c, nil
}

func (o *Observer) OnEvent(e xcorr.Event) {
	o.events.WithLabelValues(string(e.Type), e.Stream).Inc()
	if e.Err != nil {
		o.errors.WithLabelValues(string(e.Type)).Inc()
	}

	switch e.Type {
	case xcorr.WaitMatched:
		o.wait.WithLabelValues("matched").Observe(e.Duration.Seconds())
	case xcorr.WaitTimeout:
		o.wait.WithLabelValues("timeout").Observe(e.Duration.Seconds())
	case xcorr.WaitCancelled:
		o.wait.WithLabelValues("cancelled").Observe(e.Duration.Seconds())
	case xcorr.WaitFailed:
		o.wait.WithLabelValues("failed").Observe(e.Duration.Seconds())
	case xcorr.EntryDiscarded:
		o.discarded.WithLabelValues(e.Stream).Add(float64(e.Count))
	case xcorr.RespondDone:
		o.respond.WithLabelValues(string(e.RequestType), string(e.Status)).Observe(e.Duration.Seconds())
	}
}
