// Command genmock writes a reproducible fixture of generated station
// readings, one JSON object per line, for manual and integration testing.
//
// Usage:
//
//	go run ./cmd/genmock -n 100 -seed 7 -out data/mock/readings.jsonl
package main

import (
	"bufio"
	"flag"
	"fmt"
	"io"
	"log"
	"log/slog"
	"math/rand/v2"
	"os"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/couchcryptid/weather-station-pipeline/internal/domain"
	"github.com/couchcryptid/weather-station-pipeline/internal/generator"
)

var baseTime = time.Date(2025, time.May, 7, 19, 0, 0, 0, time.UTC)

func main() {
	if err := run(); err != nil {
		log.Fatal(err)
	}
}

func run() error {
	n := flag.Int("n", 50, "number of readings to generate")
	seed := flag.Uint64("seed", 1, "random seed")
	interval := flag.Duration("interval", time.Second, "time between reading timestamps")
	out := flag.String("out", "", "output path (default stdout)")
	flag.Parse()

	if *n < 1 {
		flag.Usage()
		return fmt.Errorf("-n must be at least 1")
	}

	var w io.Writer = os.Stdout
	if *out != "" {
		f, err := os.Create(*out)
		if err != nil {
			return fmt.Errorf("create %s: %w", *out, err)
		}
		defer f.Close()
		w = f
	}

	bw := bufio.NewWriter(w)
	if err := writeFixture(bw, *n, *seed, *interval); err != nil {
		return err
	}
	if err := bw.Flush(); err != nil {
		return fmt.Errorf("flush output: %w", err)
	}
	if *out != "" {
		fmt.Fprintf(os.Stderr, "wrote %d readings to %s\n", *n, *out)
	}
	return nil
}

func writeFixture(w io.Writer, n int, seed uint64, interval time.Duration) error {
	clock := clockwork.NewFakeClockAt(baseTime)
	gen := generator.New(nil, clock, rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15)), generator.Options{},
		slog.New(slog.NewTextHandler(io.Discard, nil)))

	for range n {
		body, err := domain.Encode(gen.Next())
		if err != nil {
			return err
		}
		if _, err := fmt.Fprintf(w, "%s\n", body); err != nil {
			return fmt.Errorf("write reading: %w", err)
		}
		clock.Advance(interval)
	}
	return nil
}
