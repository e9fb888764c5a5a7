package xcorr

import (
	"encoding/json"
	"errors"
	"fmt"
	"sync"
)

// Codec is the Strategy for encoding request parameters and result data.
// Broker fields are strings, so structured values always travel encoded.
type Codec interface {
	Marshal(v any) ([]byte, error)
	Unmarshal(data []byte, v any) error
	Name() string
}

// JSONCodec is the default JSON implementation.
type JSONCodec struct{}

func (JSONCodec) Marshal(v any) ([]byte, error)   { return json.Marshal(v) }
func (JSONCodec) Unmarshal(b []byte, v any) error { return json.Unmarshal(b, v) }
func (JSONCodec) Name() string                    { return "json" }

// CodecFactory constructs codecs via Factory pattern.
type CodecFactory func() Codec

var (
	codecRegistryMu sync.RWMutex
	codecRegistry   = map[string]CodecFactory{
		"json": func() Codec { return JSONCodec{} },
	}
)

// RegisterCodec registers a codec factory by name.
func RegisterCodec(name string, factory CodecFactory) error {
	if name == "" {
		return errors.New("codec name must not be empty")
	}
	if factory == nil {
		return errors.New("codec factory must not be nil")
	}
	codecRegistryMu.Lock()
	codecRegistry[name] = factory
	codecRegistryMu.Unlock()
	return nil
}

// NewCodec constructs a codec by name or returns an error.
func NewCodec(name string) (Codec, error) {
	codecRegistryMu.RLock()
	f, ok := codecRegistry[name]
	codecRegistryMu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("codec %q not registered", name)
	}
	return f(), nil
}

// encodeObject encodes v for a JSON string field; nil becomes "{}".
// Pre-encoded json.RawMessage and []byte values pass through after validation.
func encodeObject(c Codec, v any) (json.RawMessage, error) {
	switch p := v.(type) {
	case nil:
		return emptyObject, nil
	case json.RawMessage:
		if len(p) == 0 {
			return emptyObject, nil
		}
		if !json.Valid(p) {
			return nil, errors.New("raw parameters are not valid JSON")
		}
		return p, nil
	case []byte:
		return encodeObject(c, json.RawMessage(p))
	}
	b, err := c.Marshal(v)
	if err != nil {
		return nil, err
	}
	return b, nil
}

// DecodeData unmarshals the result data into T with the given codec
// (JSONCodec when c is nil).
func DecodeData[T any](c Codec, r *ResultEnvelope) (T, error) {
	var v T
	if c == nil {
		c = JSONCodec{}
	}
	if err := c.Unmarshal(r.Data, &v); err != nil {
		return v, err
	}
	return v, nil
}

// DecodeParameters unmarshals request parameters into T with the given codec
// (JSONCodec when c is nil).
func DecodeParameters[T any](c Codec, r *RequestEnvelope) (T, error) {
	var v T
	if c == nil {
		c = JSONCodec{}
	}
	if err := c.Unmarshal(r.Parameters, &v); err != nil {
		return v, err
	}
	return v, nil
}
