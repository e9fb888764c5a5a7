package xcorr

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrResultNotFound is returned by Wait when no matching result arrived in time.
	ErrResultNotFound = errors.New("xcorr: result not found before timeout")
	// ErrNoGroup is returned by a Broker when the consumer group does not exist.
	ErrNoGroup = errors.New("xcorr: consumer group does not exist")
	// ErrPoisonEntry marks stream entries that cannot be decoded.
	ErrPoisonEntry = errors.New("xcorr: malformed stream entry")
	// ErrBrokerClosed is returned by a Broker after Close.
	ErrBrokerClosed = errors.New("xcorr: broker is closed")

	ErrInvalidRequestType = errors.New("xcorr: invalid request type")
	ErrInvalidCorrelation = errors.New("xcorr: correlation id must not be empty")
	ErrClientClosed       = errors.New("xcorr: client is closed")
	ErrNoBrokerConfigured = errors.New("xcorr: no broker configured")
	ErrNoHandler          = errors.New("xcorr: no handler registered for request type")

	// ErrDataNotFound is returned by handlers when the requested record does not exist.
	ErrDataNotFound = errors.New("xcorr: data not found")

	// ErrObserverPoolShutdownTimeout is returned when observer workers fail to drain in time.
	ErrObserverPoolShutdownTimeout = errors.New("xcorr: observer pool shutdown timeout")
)

type ErrUnknownBroker struct{ name string }

func (e ErrUnknownBroker) Error() string { return fmt.Sprintf("unknown broker: %s", e.name) }

// IsFatal reports whether err means the broker can no longer be used.
func IsFatal(err error) bool {
	return errors.Is(err, ErrBrokerClosed)
}

// IsTransient reports whether err is worth retrying in a polling loop.
func IsTransient(err error) bool {
	if err == nil || IsFatal(err) {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	s := strings.ToLower(err.Error())
	for _, p := range []string{"timeout", "connection", "network", "temporary", "unavailable", "loading", "busy", "eof"} {
		if strings.Contains(s, p) {
			return true
		}
	}
	return false
}
