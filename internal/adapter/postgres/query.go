package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/couchcryptid/weather-station-pipeline/internal/domain"
)

const listLimit = 1000

// Filter narrows reads by station and time range. Zero values mean unbounded.
type Filter struct {
	StationID string
	Since     time.Time
	Until     time.Time
}

// StoredReading is a persisted row.
type StoredReading struct {
	ID int64
	domain.Reading
}

// Summary aggregates readings matching a Filter.
type Summary struct {
	AvgTemperature float64
	MinTemperature float64
	MaxTemperature float64
	AvgHumidity    float64
	MinHumidity    float64
	MaxHumidity    float64
	AvgPressure    float64
	MinPressure    float64
	MaxPressure    float64
	TotalReadings  int64
}

func (f Filter) where() (string, []any) {
	var clauses []string
	var args []any
	add := func(clause string, arg any) {
		args = append(args, arg)
		clauses = append(clauses, fmt.Sprintf(clause, len(args)))
	}
	if f.StationID != "" {
		add("station_id = $%d", f.StationID)
	}
	if !f.Since.IsZero() {
		add("timestamp >= $%d", f.Since.UTC())
	}
	if !f.Until.IsZero() {
		add("timestamp <= $%d", f.Until.UTC())
	}
	if len(clauses) == 0 {
		return "", nil
	}
	return " WHERE " + strings.Join(clauses, " AND "), args
}

// ListReadings returns matching rows, newest first, capped at 1000.
func (s *Store) ListReadings(ctx context.Context, f Filter) ([]StoredReading, error) {
	db := s.handle()
	if db == nil {
		return nil, domain.ErrStorageUnavailable
	}

	where, args := f.where()
	query := fmt.Sprintf(
		"SELECT id, timestamp, station_id, temperature, humidity, pressure FROM %s%s ORDER BY timestamp DESC LIMIT %d",
		s.table, where, listLimit)

	rows, err := db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list readings: %w", err)
	}
	defer func() {
		if err := rows.Close(); err != nil {
			s.logger.Error("close readings rows", "error", err)
		}
	}()

	var out []StoredReading
	for rows.Next() {
		var r StoredReading
		if err := rows.Scan(&r.ID, &r.Timestamp, &r.StationID, &r.Temperature, &r.Humidity, &r.Pressure); err != nil {
			return nil, fmt.Errorf("scan reading: %w", err)
		}
		r.Timestamp = r.Timestamp.UTC()
		out = append(out, r)
	}
	return out, rows.Err()
}

// Summary returns avg/min/max per field and the row count. With no matching
// rows every aggregate is zero.
func (s *Store) Summary(ctx context.Context, f Filter) (Summary, error) {
	db := s.handle()
	if db == nil {
		return Summary{}, domain.ErrStorageUnavailable
	}

	where, args := f.where()
	query := fmt.Sprintf(`SELECT
		AVG(temperature), MIN(temperature), MAX(temperature),
		AVG(humidity), MIN(humidity), MAX(humidity),
		AVG(pressure), MIN(pressure), MAX(pressure),
		COUNT(*)
		FROM %s%s`, s.table, where)

	var agg [9]sql.NullFloat64
	var sum Summary
	err := db.QueryRowContext(ctx, query, args...).Scan(
		&agg[0], &agg[1], &agg[2],
		&agg[3], &agg[4], &agg[5],
		&agg[6], &agg[7], &agg[8],
		&sum.TotalReadings,
	)
	if err != nil {
		return Summary{}, fmt.Errorf("summary: %w", err)
	}

	sum.AvgTemperature, sum.MinTemperature, sum.MaxTemperature = agg[0].Float64, agg[1].Float64, agg[2].Float64
	sum.AvgHumidity, sum.MinHumidity, sum.MaxHumidity = agg[3].Float64, agg[4].Float64, agg[5].Float64
	sum.AvgPressure, sum.MinPressure, sum.MaxPressure = agg[6].Float64, agg[7].Float64, agg[8].Float64
	return sum, nil
}
