package xcorr

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Wire field names shared with the result producer.
const (
	FieldCorrelationID = "correlation_id"
	FieldRequestType   = "request_type"
	FieldShopID        = "shop_id"
	FieldParameters    = "parameters"
	FieldStatus        = "status"
	FieldData          = "data"
	FieldError         = "error"
	FieldTimestamp     = "timestamp"

	// FieldInit marks the bootstrap entry written when a stream is created.
	FieldInit = "init"
	InitValue = "stream_created"
)

var emptyObject = json.RawMessage(`{}`)

// Fields flattens the envelope into broker string fields.
func (r *RequestEnvelope) Fields() map[string]string {
	params := r.Parameters
	if len(params) == 0 {
		params = emptyObject
	}
	return map[string]string{
		FieldCorrelationID: r.CorrelationID,
		FieldRequestType:   string(r.RequestType),
		FieldShopID:        strconv.FormatInt(r.ShopID, 10),
		FieldParameters:    string(params),
		FieldTimestamp:     r.Timestamp,
	}
}

// Fields flattens the envelope into broker string fields.
func (r *ResultEnvelope) Fields() map[string]string {
	data := r.Data
	if len(data) == 0 {
		data = emptyObject
	}
	fields := map[string]string{
		FieldCorrelationID: r.CorrelationID,
		FieldStatus:        string(r.Status),
		FieldData:          string(data),
		FieldTimestamp:     r.Timestamp,
	}
	if r.Error != "" {
		fields[FieldError] = r.Error
	}
	return fields
}

// DecodeRequest parses request stream fields. Errors wrap ErrPoisonEntry.
func DecodeRequest(e Entry) (*RequestEnvelope, error) {
	id := e.Fields[FieldCorrelationID]
	if id == "" {
		return nil, fmt.Errorf("%w: entry %s has no %s", ErrPoisonEntry, e.ID, FieldCorrelationID)
	}
	rt := RequestType(e.Fields[FieldRequestType])
	if !rt.Valid() {
		return nil, fmt.Errorf("%w: entry %s has unknown request type %q", ErrPoisonEntry, e.ID, rt)
	}
	shop, err := strconv.ParseInt(strings.TrimSpace(e.Fields[FieldShopID]), 10, 64)
	if err != nil {
		return nil, fmt.Errorf("%w: entry %s shop_id: %v", ErrPoisonEntry, e.ID, err)
	}
	params := json.RawMessage(e.Fields[FieldParameters])
	if len(params) == 0 {
		params = emptyObject
	}
	if !json.Valid(params) {
		return nil, fmt.Errorf("%w: entry %s parameters are not valid JSON", ErrPoisonEntry, e.ID)
	}
	return &RequestEnvelope{
		CorrelationID: id,
		RequestType:   rt,
		ShopID:        shop,
		Parameters:    params,
		Timestamp:     e.Fields[FieldTimestamp],
	}, nil
}

// DecodeResult parses result stream fields. Errors wrap ErrPoisonEntry.
func DecodeResult(e Entry) (*ResultEnvelope, error) {
	id := e.Fields[FieldCorrelationID]
	if id == "" {
		return nil, fmt.Errorf("%w: entry %s has no %s", ErrPoisonEntry, e.ID, FieldCorrelationID)
	}
	st := Status(e.Fields[FieldStatus])
	if !st.Valid() {
		return nil, fmt.Errorf("%w: entry %s has unknown status %q", ErrPoisonEntry, e.ID, st)
	}
	data := json.RawMessage(e.Fields[FieldData])
	if len(data) == 0 {
		data = emptyObject
	}
	if !json.Valid(data) {
		return nil, fmt.Errorf("%w: entry %s data is not valid JSON", ErrPoisonEntry, e.ID)
	}
	return &ResultEnvelope{
		EntryID:       e.ID,
		CorrelationID: id,
		Status:        st,
		Data:          data,
		Error:         e.Fields[FieldError],
		Timestamp:     e.Fields[FieldTimestamp],
	}, nil
}

func parseTimestamp(s string) time.Time {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}
	}
	for _, layout := range []string{time.RFC3339Nano, "2006-01-02T15:04:05.999999", "2006-01-02 15:04:05.999999"} {
		if t, err := time.Parse(layout, s); err == nil {
			return t
		}
	}
	if ms, err := strconv.ParseInt(s, 10, 64); err == nil {
		return time.UnixMilli(ms)
	}
	return time.Time{}
}
