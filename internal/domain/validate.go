package domain

import (
	"strconv"
	"time"
)

// timestampLayouts are the ISO-8601 forms accepted for a reading timestamp.
// Layouts without a zone designator are read as UTC.
var timestampLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05.999999999Z07:00",
	"2006-01-02 15:04:05.999999999",
	"20060102T150405Z0700",
	"20060102T150405",
}

func parseTimestamp(text string) (time.Time, bool) {
	for _, layout := range timestampLayouts {
		if ts, err := time.Parse(layout, text); err == nil {
			return ts, true
		}
	}
	return time.Time{}, false
}

// Range is an inclusive interval of physically plausible values.
type Range struct {
	Min float64
	Max float64
}

// Contains reports whether v lies within the range, bounds included.
func (r Range) Contains(v float64) bool {
	return v >= r.Min && v <= r.Max
}

// Bounds holds the validity range of each numeric field.
type Bounds struct {
	Temperature Range
	Humidity    Range
	Pressure    Range
}

// DefaultBounds are the physical limits accepted for persistence.
var DefaultBounds = Bounds{
	Temperature: Range{Min: -30.0, Max: 60.0},
	Humidity:    Range{Min: 0.0, Max: 100.0},
	Pressure:    Range{Min: 700.0, Max: 1100.0},
}

// Validate checks a decoded reading against DefaultBounds.
func Validate(raw RawReading) (Reading, error) {
	return DefaultBounds.Validate(raw)
}

// Validate returns the typed reading, or a *ValidationError describing the
// first failing field. Fields are checked in wire order; nothing is accepted
// partially.
func (b Bounds) Validate(raw RawReading) (Reading, error) {
	station, err := raw.String(FieldStationID)
	if err != nil {
		return Reading{}, err
	}

	tsText, err := raw.String(FieldTimestamp)
	if err != nil {
		return Reading{}, err
	}
	ts, ok := parseTimestamp(tsText)
	if !ok {
		return Reading{}, &ValidationError{Reason: ReasonWrongType, Field: FieldTimestamp, Value: tsText}
	}

	checks := []struct {
		field string
		rng   Range
		dst   *float64
	}{
		{FieldTemperature, b.Temperature, new(float64)},
		{FieldHumidity, b.Humidity, new(float64)},
		{FieldPressure, b.Pressure, new(float64)},
	}
	for _, c := range checks {
		v, err := raw.Number(c.field)
		if err != nil {
			return Reading{}, err
		}
		if !c.rng.Contains(v) {
			return Reading{}, &ValidationError{
				Reason: ReasonOutOfRange,
				Field:  c.field,
				Value:  strconv.FormatFloat(v, 'f', -1, 64),
			}
		}
		*c.dst = v
	}

	return Reading{
		StationID:   station,
		Timestamp:   ts.UTC(),
		Temperature: *checks[0].dst,
		Humidity:    *checks[1].dst,
		Pressure:    *checks[2].dst,
	}, nil
}
