package domain

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"
)

// Wire field names.
const (
	FieldStationID   = "station_id"
	FieldTimestamp   = "timestamp"
	FieldTemperature = "temperature"
	FieldHumidity    = "humidity"
	FieldPressure    = "pressure"
)

// Reading is a validated station reading. It is never mutated after creation.
type Reading struct {
	StationID   string    `json:"station_id"`
	Timestamp   time.Time `json:"timestamp"`
	Temperature float64   `json:"temperature"`
	Humidity    float64   `json:"humidity"`
	Pressure    float64   `json:"pressure"`
}

// Encode serializes the reading into the broker message body.
func Encode(r Reading) ([]byte, error) {
	data, err := json.Marshal(r)
	if err != nil {
		return nil, fmt.Errorf("encode reading: %w", err)
	}
	return data, nil
}

// RawReading is a decoded message body whose fields have not been checked.
type RawReading struct {
	fields map[string]json.RawMessage
}

// DecodeReading parses a message body. The only requirement is that the body
// is a JSON object; field contents are inspected later.
func DecodeReading(payload []byte) (RawReading, error) {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(payload, &fields); err != nil {
		return RawReading{}, fmt.Errorf("%w: %v", ErrMalformedPayload, err)
	}
	if fields == nil {
		return RawReading{}, fmt.Errorf("%w: body is null", ErrMalformedPayload)
	}
	return RawReading{fields: fields}, nil
}

// StationID returns the station_id field, or "" if it is absent or not a string.
func (r RawReading) StationID() string {
	s, err := r.String(FieldStationID)
	if err != nil {
		return ""
	}
	return s
}

// String returns a string field.
func (r RawReading) String(field string) (string, error) {
	raw, ok := r.lookup(field)
	if !ok {
		return "", &ValidationError{Reason: ReasonMissingField, Field: field}
	}
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return "", &ValidationError{Reason: ReasonWrongType, Field: field, Value: string(raw)}
	}
	if strings.TrimSpace(s) == "" {
		return "", &ValidationError{Reason: ReasonMissingField, Field: field}
	}
	return s, nil
}

// Number returns a field as a finite real number. JSON numbers and numeric
// strings are accepted. Anything else is wrong_type; a value is never
// coerced to zero.
func (r RawReading) Number(field string) (float64, error) {
	raw, ok := r.lookup(field)
	if !ok {
		return 0, &ValidationError{Reason: ReasonMissingField, Field: field}
	}

	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		return 0, &ValidationError{Reason: ReasonWrongType, Field: field, Value: string(raw)}
	}

	var f float64
	switch x := v.(type) {
	case float64:
		f = x
	case string:
		parsed, err := strconv.ParseFloat(strings.TrimSpace(x), 64)
		if err != nil {
			return 0, &ValidationError{Reason: ReasonWrongType, Field: field, Value: string(raw)}
		}
		f = parsed
	default:
		return 0, &ValidationError{Reason: ReasonWrongType, Field: field, Value: string(raw)}
	}

	if math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, &ValidationError{Reason: ReasonWrongType, Field: field, Value: string(raw)}
	}
	return f, nil
}

// lookup treats an explicit JSON null the same as an absent key.
func (r RawReading) lookup(field string) (json.RawMessage, bool) {
	raw, ok := r.fields[field]
	if !ok || bytes.Equal(bytes.TrimSpace(raw), []byte("null")) {
		return nil, false
	}
	return raw, true
}
