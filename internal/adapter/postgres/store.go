// Package postgres persists validated readings to a SQL store over a single
// owned connection, reconnecting on a fixed interval when it is lost.
package postgres

import (
	"context"
	"database/sql"
	"database/sql/driver"
	_ "embed"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	_ "github.com/lib/pq"

	"github.com/couchcryptid/weather-station-pipeline/internal/config"
	"github.com/couchcryptid/weather-station-pipeline/internal/domain"
	"github.com/couchcryptid/weather-station-pipeline/internal/observability"
	"github.com/couchcryptid/weather-station-pipeline/internal/retry"
)

//go:embed schema.sql
var schemaTemplate string

// Store writes readings to the readings table. It owns exactly one
// connection; a reconnect closes the old handle before replacing it.
type Store struct {
	driver        string
	dsn           string
	table         string
	retryInterval time.Duration
	logger        *slog.Logger
	metrics       *observability.Metrics

	insertSQL string

	mu        sync.Mutex
	db        *sql.DB
	connected atomic.Bool
}

// NewStore creates a Postgres-backed store. Call Connect before use.
func NewStore(cfg *config.Config, logger *slog.Logger, metrics *observability.Metrics) *Store {
	return newStore("postgres", cfg.Postgres.DSN(), cfg.StorageTable, cfg.StorageRetryInterval, logger, metrics)
}

func newStore(driverName, dsn, table string, retryInterval time.Duration, logger *slog.Logger, metrics *observability.Metrics) *Store {
	return &Store{
		driver:        driverName,
		dsn:           dsn,
		table:         table,
		retryInterval: retryInterval,
		logger:        logger,
		metrics:       metrics,
		insertSQL: fmt.Sprintf(
			`INSERT INTO %s (timestamp, station_id, temperature, humidity, pressure) VALUES ($1, $2, $3, $4, $5)`,
			table),
	}
}

// Connect opens the storage connection, retrying every retry interval until
// it succeeds or ctx is done.
func (s *Store) Connect(ctx context.Context) error {
	attempt := 0
	err := retry.Forever(ctx, s.retryInterval,
		func(err error, next time.Duration) {
			s.logger.Error("storage connect failed, retrying", "error", err, "attempt", attempt, "retry_in", next)
		},
		func() error {
			attempt++
			return s.open(ctx)
		})
	if err != nil {
		return fmt.Errorf("connect storage: %w", err)
	}
	s.logger.Info("connected to storage", "table", s.table, "attempts", attempt)
	return nil
}

// EnsureConnected returns immediately while the connection is healthy and
// otherwise blocks in Connect.
func (s *Store) EnsureConnected(ctx context.Context) error {
	if s.connected.Load() {
		return nil
	}
	return s.Connect(ctx)
}

func (s *Store) open(ctx context.Context) error {
	db, err := sql.Open(s.driver, s.dsn)
	if err != nil {
		return fmt.Errorf("open: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return fmt.Errorf("ping: %w", err)
	}

	s.mu.Lock()
	old := s.db
	s.db = db
	s.mu.Unlock()
	if old != nil {
		_ = old.Close()
	}

	s.setConnected(true)
	return nil
}

// Migrate creates the readings table if it does not exist. A failure caused
// by a lost connection wraps domain.ErrStorageUnavailable.
func (s *Store) Migrate(ctx context.Context) error {
	db := s.handle()
	if db == nil {
		return domain.ErrStorageUnavailable
	}
	ddl := strings.ReplaceAll(schemaTemplate, "{{table}}", s.table)
	if _, err := db.ExecContext(ctx, ddl); err != nil {
		return s.classify(ctx, fmt.Errorf("migrate %s: %w", s.table, err))
	}
	return nil
}

// Prepare connects and migrates. While storage is unreachable either step is
// retried every retry interval; any other migrate error is returned at once.
func (s *Store) Prepare(ctx context.Context) error {
	attempt := 0
	err := retry.Forever(ctx, s.retryInterval,
		func(err error, next time.Duration) {
			s.logger.Error("storage migrate failed, retrying", "error", err, "attempt", attempt, "retry_in", next)
		},
		func() error {
			attempt++
			if err := s.EnsureConnected(ctx); err != nil {
				return retry.Permanent(err)
			}
			err := s.Migrate(ctx)
			if err != nil && !errors.Is(err, domain.ErrStorageUnavailable) {
				return retry.Permanent(err)
			}
			return err
		})
	if err != nil {
		return fmt.Errorf("prepare storage: %w", err)
	}
	return nil
}

// InsertReading writes one reading in its own transaction. Failures caused
// by a lost connection wrap domain.ErrStorageUnavailable; any other error is
// a statement-level failure and the transaction has been rolled back.
func (s *Store) InsertReading(ctx context.Context, r domain.Reading) error {
	db := s.handle()
	if db == nil || !s.connected.Load() {
		return domain.ErrStorageUnavailable
	}

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return s.classify(ctx, fmt.Errorf("begin transaction: %w", err))
	}

	if _, err := tx.ExecContext(ctx, s.insertSQL, r.Timestamp, r.StationID, r.Temperature, r.Humidity, r.Pressure); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil && !errors.Is(rbErr, sql.ErrTxDone) {
			s.logger.Warn("rollback failed", "error", rbErr)
		}
		return s.classify(ctx, fmt.Errorf("insert reading: %w", err))
	}

	if err := tx.Commit(); err != nil {
		return s.classify(ctx, fmt.Errorf("commit: %w", err))
	}
	return nil
}

// classify decides whether err came from the connection. The connection is
// considered lost if the driver says so or a ping fails right after.
func (s *Store) classify(ctx context.Context, err error) error {
	if ctx.Err() != nil {
		return err
	}
	lost := errors.Is(err, driver.ErrBadConn) || errors.Is(err, sql.ErrConnDone)
	if !lost {
		if db := s.handle(); db == nil || db.PingContext(ctx) != nil {
			lost = true
		}
	}
	if !lost {
		return err
	}
	s.setConnected(false)
	return fmt.Errorf("%w: %w", domain.ErrStorageUnavailable, err)
}

// CheckReadiness reports whether the storage connection is up.
func (s *Store) CheckReadiness(ctx context.Context) error {
	if !s.connected.Load() {
		return errors.New("storage not connected")
	}
	db := s.handle()
	if db == nil {
		return errors.New("storage not connected")
	}
	return db.PingContext(ctx)
}

// Close releases the connection.
func (s *Store) Close() error {
	s.mu.Lock()
	db := s.db
	s.db = nil
	s.mu.Unlock()
	s.setConnected(false)
	if db == nil {
		return nil
	}
	return db.Close()
}

func (s *Store) handle() *sql.DB {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.db
}

func (s *Store) setConnected(up bool) {
	s.connected.Store(up)
	if s.metrics == nil {
		return
	}
	if up {
		s.metrics.StorageConnected.Set(1)
	} else {
		s.metrics.StorageConnected.Set(0)
	}
}
