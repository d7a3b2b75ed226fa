// Package domain models weather-station readings as they travel through the
// pipeline.
//
// # Wire format
//
// Every broker message carries one flat UTF-8 JSON object:
//
//	{"station_id":"ST-4821","timestamp":"2025-05-07T19:00:00Z",
//	 "temperature":25.0,"humidity":40.0,"pressure":1010.0}
//
// A message is first decoded into a [RawReading], which only requires the
// body to be a JSON object. Consumers then apply their own rule to it:
//
//   - the persistence consumer calls [Validate], which turns a RawReading into
//     a typed [Reading] or a [*ValidationError];
//   - the threshold consumer calls [Evaluate], which compares whatever numeric
//     fields are present against the operator [Thresholds].
//
// The two rules are deliberately independent. A reading can fail validation
// (pressure 1200 hPa is outside the physical range) and still raise an alert.
//
// # Timestamps
//
// The timestamp is required. Validate accepts RFC 3339 as well as the common
// ISO-8601 variants: a space instead of the "T" separator, a missing zone
// designator (read as UTC) and the basic format without separators
// ("20250507T190000Z"). Week dates, ordinal dates and reduced precision forms
// are rejected as wrong_type. Accepted instants are normalised to UTC.
//
// # Physical ranges
//
//	temperature  [-30, 60]    °C
//	humidity     [0, 100]     %
//	pressure     [700, 1100]  hPa
//
// Bounds are inclusive. Alert thresholds are compared with strict
// greater-than.
package domain
