package xcorr

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/trickstertwo/xclock"
)

// Publisher appends data requests to the request stream. It never waits for a result.
type Publisher struct {
	broker Broker
	codec  Codec
	clock  xclock.Clock
	events *notifier
	stream string
}

// NewPublisher returns a Publisher writing to stream.
func NewPublisher(b Broker, codec Codec, clock xclock.Clock, stream string) *Publisher {
	if codec == nil {
		codec = JSONCodec{}
	}
	if clock == nil {
		clock = xclock.Default()
	}
	return &Publisher{broker: b, codec: codec, clock: clock, stream: stream}
}

// Publish builds a RequestEnvelope with a fresh correlation id, appends it and
// returns the id. Parameters are encoded with the codec; nil encodes as {}.
// Broker errors are returned, not retried.
func (p *Publisher) Publish(ctx context.Context, requestType RequestType, shopID int64, parameters any) (string, error) {
	if !requestType.Valid() {
		return "", fmt.Errorf("%w: %q", ErrInvalidRequestType, requestType)
	}
	params, err := encodeObject(p.codec, parameters)
	if err != nil {
		return "", fmt.Errorf("xcorr: encode parameters: %w", err)
	}

	req := RequestEnvelope{
		CorrelationID: uuid.NewString(),
		RequestType:   requestType,
		ShopID:        shopID,
		Parameters:    params,
		Timestamp:     p.clock.Now().UTC().Format(time.RFC3339Nano),
	}

	start := p.clock.Now()
	id, err := p.broker.Append(ctx, p.stream, req.Fields())
	p.events.notify(Event{
		Type:          PublishDone,
		Stream:        p.stream,
		EntryID:       id,
		CorrelationID: req.CorrelationID,
		RequestType:   requestType,
		Duration:      p.clock.Since(start),
		Err:           err,
	})
	if err != nil {
		return "", fmt.Errorf("xcorr: publish %s: %w", requestType, err)
	}
	return req.CorrelationID, nil
}
