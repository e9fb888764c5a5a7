package xcorr

import (
	"context"
	"time"
)

// Entry is a single stream record as delivered by a Broker.
type Entry struct {
	// ID is the broker-assigned, monotonically increasing entry id.
	ID string
	// Fields holds the entry's string field/value pairs.
	Fields map[string]string
}

// PendingEntry describes a delivered-but-unacknowledged entry of a consumer group.
type PendingEntry struct {
	ID         string
	Consumer   string
	Idle       time.Duration
	RetryCount int64
}

// Broker is the Strategy interface over a log-based, consumer-group capable
// message broker. Every method is a round trip to the broker; implementations
// must not cache entries locally.
type Broker interface {
	// Append adds an entry to stream and returns its id.
	Append(ctx context.Context, stream string, fields map[string]string) (string, error)
	// EnsureStream creates stream with a bootstrap entry if it does not exist.
	EnsureStream(ctx context.Context, stream string) (created bool, err error)
	// EnsureGroup creates group on stream starting at start. An existing group is not an error.
	EnsureGroup(ctx context.Context, stream, group, start string) (created bool, err error)
	// Groups lists the consumer groups registered on stream.
	Groups(ctx context.Context, stream string) ([]string, error)
	// ReadGroup returns up to count entries never delivered to any member of
	// group, blocking up to block when none are available. A block expiry
	// yields an empty slice and a nil error. A missing group yields ErrNoGroup.
	ReadGroup(ctx context.Context, stream, group, consumer string, count int64, block time.Duration) ([]Entry, error)
	// Ack acknowledges ids and returns how many were pending.
	Ack(ctx context.Context, stream, group string, ids ...string) (int64, error)
	// PendingCount returns the size of the group's pending entries list.
	PendingCount(ctx context.Context, stream, group string) (int64, error)
	// PendingRange lists pending entries between start and end ("-", "+",
	// an id, or "(id" for an exclusive bound), at most count of them.
	PendingRange(ctx context.Context, stream, group, start, end string, count int64) ([]PendingEntry, error)
	// DeleteConsumer removes consumer from group.
	DeleteConsumer(ctx context.Context, stream, group, consumer string) error
	// Close releases broker resources.
	Close(ctx context.Context) error
}

// Observer receives lifecycle events. Implementations should be non-blocking.
type Observer interface {
	OnEvent(e Event)
}

// HealthChecker provides health status for production monitoring.
type HealthChecker interface {
	Health(ctx context.Context) HealthStatus
}

// API represents the complete chatbot-side surface of xcorr.
type API interface {
	Open(ctx context.Context) error
	Publish(ctx context.Context, requestType RequestType, shopID int64, parameters any) (string, error)
	Wait(ctx context.Context, correlationID string, timeout time.Duration) (*ResultEnvelope, error)
	Request(ctx context.Context, requestType RequestType, shopID int64, parameters any) (*ResultEnvelope, error)
	Close(ctx context.Context) error
	GetMetrics() Metrics
	Health(ctx context.Context) HealthStatus
	AddObserver(obs Observer)
	RemoveObserver(obs Observer)
}
