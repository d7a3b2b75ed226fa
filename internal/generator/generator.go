// Package generator produces synthetic station readings on a fixed cadence.
package generator

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"math/rand/v2"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/couchcryptid/weather-station-pipeline/internal/config"
	"github.com/couchcryptid/weather-station-pipeline/internal/domain"
	"github.com/couchcryptid/weather-station-pipeline/internal/retry"
)

// Publisher makes one attempt at sending a reading.
type Publisher interface {
	Publish(ctx context.Context, r domain.Reading) error
}

// Options controls cadence and retry behaviour.
type Options struct {
	Interval      time.Duration
	Count         int // 0 runs until cancelled
	Attempts      int
	RetryInterval time.Duration
}

// OptionsFromConfig maps process configuration onto Options. Publish retries
// are one second apart.
func OptionsFromConfig(cfg *config.Config) Options {
	return Options{
		Interval:      cfg.GeneratorInterval,
		Count:         cfg.GeneratorCount,
		Attempts:      cfg.PublishAttempts,
		RetryInterval: time.Second,
	}
}

// Generator emits random readings that fall inside domain.DefaultBounds.
type Generator struct {
	pub    Publisher
	clock  clockwork.Clock
	rng    *rand.Rand
	bounds domain.Bounds
	opts   Options
	logger *slog.Logger
}

// New creates a Generator. A nil rng seeds one randomly.
func New(pub Publisher, clock clockwork.Clock, rng *rand.Rand, opts Options, logger *slog.Logger) *Generator {
	if rng == nil {
		rng = rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64()))
	}
	return &Generator{
		pub:    pub,
		clock:  clock,
		rng:    rng,
		bounds: domain.DefaultBounds,
		opts:   opts,
		logger: logger,
	}
}

// Next returns a new reading stamped with the current clock time.
func (g *Generator) Next() domain.Reading {
	return domain.Reading{
		StationID:   fmt.Sprintf("ST-%04d", 1000+g.rng.IntN(9000)),
		Timestamp:   g.clock.Now().UTC(),
		Temperature: g.uniform(g.bounds.Temperature),
		Humidity:    g.uniform(g.bounds.Humidity),
		Pressure:    g.uniform(g.bounds.Pressure),
	}
}

func (g *Generator) uniform(r domain.Range) float64 {
	return math.Round((r.Min+g.rng.Float64()*(r.Max-r.Min))*100) / 100
}

// Run publishes readings until Count is reached or ctx is cancelled. A
// reading that still fails after all attempts is logged and dropped. Run
// returns the number of readings published.
func (g *Generator) Run(ctx context.Context) (int, error) {
	g.logger.Info("generator started", "interval", g.opts.Interval, "count", g.opts.Count)

	published := 0
	for i := 0; g.opts.Count == 0 || i < g.opts.Count; i++ {
		if i > 0 {
			select {
			case <-ctx.Done():
				return published, nil
			case <-g.clock.After(g.opts.Interval):
			}
		}
		if ctx.Err() != nil {
			return published, nil
		}

		r := g.Next()
		err := retry.Times(ctx, g.opts.Attempts, g.opts.RetryInterval,
			func(err error, next time.Duration) {
				g.logger.Warn("publish failed, retrying", "error", err, "station_id", r.StationID, "retry_in", next)
			},
			func() error { return g.pub.Publish(ctx, r) },
		)
		if err != nil {
			if ctx.Err() != nil {
				return published, nil
			}
			g.logger.Error("reading dropped", "error", err, "station_id", r.StationID, "attempts", g.opts.Attempts)
			continue
		}
		published++
	}

	g.logger.Info("generator finished", "published", published)
	return published, nil
}
