package domain

import (
	"fmt"
	"strconv"
)

// Thresholds are the operator-configured critical values per field. They are
// loaded once at startup and never change afterwards.
type Thresholds struct {
	Temperature float64
	Humidity    float64
	Pressure    float64
}

// Violation is one field that exceeded its threshold.
type Violation struct {
	Field     string
	Value     float64
	Threshold float64
	Unit      string
}

func (v Violation) String() string {
	return fmt.Sprintf("critical %s: %s %s (threshold %s %s)",
		v.Field, formatValue(v.Value), v.Unit, formatValue(v.Threshold), v.Unit)
}

// Evaluate compares each numeric field present in raw against t using strict
// greater-than. Absent and non-numeric fields are skipped. The result depends
// only on raw and t.
func Evaluate(raw RawReading, t Thresholds) []Violation {
	checks := []struct {
		field     string
		threshold float64
		unit      string
	}{
		{FieldTemperature, t.Temperature, "°C"},
		{FieldHumidity, t.Humidity, "%"},
		{FieldPressure, t.Pressure, "hPa"},
	}

	var out []Violation
	for _, c := range checks {
		v, err := raw.Number(c.field)
		if err != nil {
			continue
		}
		if v > c.threshold {
			out = append(out, Violation{Field: c.field, Value: v, Threshold: c.threshold, Unit: c.unit})
		}
	}
	return out
}

func formatValue(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}
