package main

import (
	"bytes"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/couchcryptid/weather-station-pipeline/internal/domain"
)

var thresholds = domain.Thresholds{Temperature: 35, Humidity: 90, Pressure: 1050}

const fixture = `{"station_id":"ST-4821","timestamp":"2025-05-07T19:00:00Z","temperature":25.0,"humidity":40.0,"pressure":1010.0}
{"station_id":"ST-1001","timestamp":"2025-05-07T19:00:01Z","temperature":42.0,"humidity":95.0,"pressure":1200.0}

{"station_id":"ST-2","timestamp":"2025-05-07T19:00:02Z","temperature":20}
`

func TestReplay(t *testing.T) {
	rep, err := replay(strings.NewReader(fixture), thresholds, false)
	require.NoError(t, err)

	assert.Equal(t, 3, rep.total)
	assert.Equal(t, 1, rep.stored)
	assert.Equal(t, 1, rep.alerts)
	assert.Equal(t, map[string]int{"out_of_range": 1, "missing_field": 1}, rep.rejected)

	var out bytes.Buffer
	assert.Equal(t, 0, rep.print(&out))
	assert.Contains(t, out.String(), "PASS persistence")
}

func TestReplay_StrictFailsOnRejects(t *testing.T) {
	rep, err := replay(strings.NewReader(fixture), thresholds, true)
	require.NoError(t, err)

	var out bytes.Buffer
	assert.Equal(t, 1, rep.print(&out))
	assert.Contains(t, out.String(), "FAIL persistence (2 errors)")
}

func TestReplay_UndecodableLineFailsAlerting(t *testing.T) {
	rep, err := replay(strings.NewReader("not json\n"), thresholds, false)
	require.NoError(t, err)

	assert.Equal(t, map[string]int{"decode": 1}, rep.rejected)
	var out bytes.Buffer
	assert.Equal(t, 1, rep.print(&out))
	assert.Contains(t, out.String(), "FAIL alerting")
}
