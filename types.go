package xcorr

import (
	"encoding/json"
	"time"
)

// RequestType names the data a chatbot asks the result producer for.
type RequestType string

const (
	CustomerSearch    RequestType = "customer_search"
	CustomerDetail    RequestType = "customer_detail"
	VisitHistory      RequestType = "visit_history"
	TodayReservations RequestType = "today_reservations"
	MemoUpdate        RequestType = "memo_update"
)

// Valid reports whether t is one of the known request types.
func (t RequestType) Valid() bool {
	switch t {
	case CustomerSearch, CustomerDetail, VisitHistory, TodayReservations, MemoUpdate:
		return true
	}
	return false
}

// RequestTypes lists every known request type.
func RequestTypes() []RequestType {
	return []RequestType{CustomerSearch, CustomerDetail, VisitHistory, TodayReservations, MemoUpdate}
}

// Status is the outcome reported by the result producer.
type Status string

const (
	StatusSuccess  Status = "success"
	StatusError    Status = "error"
	StatusNotFound Status = "not_found"
)

func (s Status) Valid() bool {
	switch s {
	case StatusSuccess, StatusError, StatusNotFound:
		return true
	}
	return false
}

// RequestEnvelope is written once to the request stream and never mutated.
type RequestEnvelope struct {
	CorrelationID string          `json:"correlation_id"`
	RequestType   RequestType     `json:"request_type"`
	ShopID        int64           `json:"shop_id"`
	Parameters    json.RawMessage `json:"parameters"`
	Timestamp     string          `json:"timestamp"`
}

// ResultEnvelope is produced by the result producer; read-only to xcorr.
type ResultEnvelope struct {
	// EntryID is the result stream id the envelope was read from (empty when not read from a stream).
	EntryID       string          `json:"-"`
	CorrelationID string          `json:"correlation_id"`
	Status        Status          `json:"status"`
	Data          json.RawMessage `json:"data"`
	Error         string          `json:"error,omitempty"`
	Timestamp     string          `json:"timestamp"`
}

// Time parses Timestamp, accepting RFC 3339 or Unix milliseconds (the
// format the JVM producer writes). The zero time is returned when neither parses.
func (r *ResultEnvelope) Time() time.Time {
	return parseTimestamp(r.Timestamp)
}

// Time parses Timestamp like ResultEnvelope.Time.
func (r *RequestEnvelope) Time() time.Time {
	return parseTimestamp(r.Timestamp)
}

// ReclaimReport summarizes one pending-entry sweep.
type ReclaimReport struct {
	Pending int64 // pending count reported before the sweep
	Scanned int   // entries inspected
	Acked   int   // entries acknowledged for exceeding the idle threshold
	Failed  int   // acknowledgments that failed and were skipped
}

// PoolStats returns telemetry about the observer pool.
type PoolStats struct {
	Dropped      uint64 // Events dropped due to full buffer
	Processed    uint64 // Events successfully processed
	ActiveEvents int    // Current queue depth
	Workers      int    // Number of dispatch goroutines
	BufferSize   int    // Channel capacity
}

// Metrics defines observable telemetry for a Client.
type Metrics struct {
	Published       uint64
	PublishErrors   uint64
	Matched         uint64
	Timeouts        uint64
	Cancelled       uint64
	Failures        uint64
	Poison          uint64
	Discarded       uint64
	Reclaimed       uint64
	GroupsRecreated uint64
	EventsDropped   uint64
	AvgWaitMs       float64
}

// HealthStatus indicates client health for Kubernetes probes.
type HealthStatus struct {
	Status    string // "healthy", "degraded", "unhealthy"
	Metrics   Metrics
	Timestamp time.Time
	Message   string
}
