package xcorr

import (
	"time"
)

// EventType enumerates internal lifecycle events for Observer pattern.
type EventType string

const (
	PublishDone    EventType = "publish_done"
	WaitMatched    EventType = "wait_matched"
	WaitTimeout    EventType = "wait_timeout"
	WaitCancelled  EventType = "wait_cancelled"
	WaitFailed     EventType = "wait_failed"
	EntryPoison    EventType = "entry_poison"
	EntryDiscarded EventType = "entry_discarded"
	GroupRecreated EventType = "group_recreated"
	PendingReclaim EventType = "pending_reclaimed"
	RespondDone    EventType = "respond_done"
	Error          EventType = "error"
)

// Event carries telemetry for observers.
type Event struct {
	Type          EventType
	Stream        string
	Group         string
	Consumer      string
	EntryID       string
	CorrelationID string
	RequestType   RequestType
	Status        Status
	Count         int
	Duration      time.Duration
	Err           error

	// Internal: attached for async dispatch
	observers []Observer
}
