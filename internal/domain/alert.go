package domain

import "strings"

const unknownStation = "unknown"

// Alert is the notification derived from one reading. It is never persisted.
type Alert struct {
	StationID  string
	Violations []Violation
}

// NewAlert builds an alert for station. ok is false when there is nothing to
// report.
func NewAlert(station string, violations []Violation) (Alert, bool) {
	if len(violations) == 0 {
		return Alert{}, false
	}
	if station == "" {
		station = unknownStation
	}
	return Alert{StationID: station, Violations: violations}, true
}

// Subject names the originating station.
func (a Alert) Subject() string {
	return "Weather alert: station " + a.StationID
}

// Body lists every violation, one per line.
func (a Alert) Body() string {
	var b strings.Builder
	b.WriteString("An alert has been reported at station ")
	b.WriteString(a.StationID)
	b.WriteString(". Immediate attention is required.\n\n")
	for _, v := range a.Violations {
		b.WriteString("- ")
		b.WriteString(v.String())
		b.WriteString("\n")
	}
	return b.String()
}
