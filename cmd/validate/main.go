// Command validate replays a fixture of readings (one JSON object per line)
// through the persistence and alerting rules and reports what each consumer
// would do with it: which readings would be stored, which rejected and why,
// and which would raise alerts.
//
// Usage:
//
//	go run ./cmd/validate \
//	  -in data/mock/readings.jsonl \
//	  -temp 35 -hum 90 -pres 1050
package main

import (
	"bufio"
	"flag"
	"fmt"
	"io"
	"os"
	"sort"

	"github.com/couchcryptid/weather-station-pipeline/internal/domain"
)

// phase tracks pass/fail for a validation phase.
type phase struct {
	name   string
	errors []string
}

func (p *phase) errorf(format string, args ...any) {
	p.errors = append(p.errors, fmt.Sprintf(format, args...))
}

func (p *phase) passed() bool { return len(p.errors) == 0 }

// report is the outcome of replaying one fixture.
type report struct {
	total    int
	stored   int
	rejected map[string]int
	alerts   int
	phases   []*phase
}

func main() {
	in := flag.String("in", "", "path to JSON-lines reading fixture")
	temp := flag.Float64("temp", 35, "temperature threshold")
	hum := flag.Float64("hum", 90, "humidity threshold")
	pres := flag.Float64("pres", 1050, "pressure threshold")
	strict := flag.Bool("strict", false, "fail when any reading would be rejected")
	flag.Parse()

	if *in == "" {
		flag.Usage()
		os.Exit(1)
	}

	f, err := os.Open(*in)
	if err != nil {
		fmt.Fprintf(os.Stderr, "open fixture: %v\n", err)
		os.Exit(1)
	}
	defer f.Close()

	rep, err := replay(f, domain.Thresholds{Temperature: *temp, Humidity: *hum, Pressure: *pres}, *strict)
	if err != nil {
		fmt.Fprintf(os.Stderr, "read fixture: %v\n", err)
		os.Exit(1)
	}
	if code := rep.print(os.Stdout); code != 0 {
		os.Exit(code)
	}
}

func replay(r io.Reader, t domain.Thresholds, strict bool) (*report, error) {
	rep := &report{rejected: make(map[string]int)}
	persistence := &phase{name: "persistence"}
	alerting := &phase{name: "alerting"}

	sc := bufio.NewScanner(r)
	line := 0
	for sc.Scan() {
		line++
		if len(sc.Bytes()) == 0 {
			continue
		}
		rep.total++

		raw, err := domain.DecodeReading(sc.Bytes())
		if err != nil {
			rep.rejected[domain.RejectReason(err)]++
			if strict {
				persistence.errorf("line %d: %v", line, err)
			}
			alerting.errorf("line %d: undecodable: %v", line, err)
			continue
		}

		if _, err := domain.Validate(raw); err != nil {
			rep.rejected[domain.RejectReason(err)]++
			if strict {
				persistence.errorf("line %d: %v", line, err)
			}
		} else {
			rep.stored++
		}

		if alert, ok := domain.NewAlert(raw.StationID(), domain.Evaluate(raw, t)); ok {
			rep.alerts++
			fmt.Fprintf(os.Stderr, "line %d: %s\n", line, alert.Subject())
		}
	}
	if err := sc.Err(); err != nil {
		return nil, err
	}

	rep.phases = []*phase{persistence, alerting}
	return rep, nil
}

func (r *report) print(w io.Writer) int {
	fmt.Fprintf(w, "readings: %d\nstored:   %d\nalerts:   %d\n", r.total, r.stored, r.alerts)

	reasons := make([]string, 0, len(r.rejected))
	for reason := range r.rejected {
		reasons = append(reasons, reason)
	}
	sort.Strings(reasons)
	for _, reason := range reasons {
		fmt.Fprintf(w, "rejected %-14s %d\n", reason+":", r.rejected[reason])
	}

	code := 0
	for _, p := range r.phases {
		if p.passed() {
			fmt.Fprintf(w, "PASS %s\n", p.name)
			continue
		}
		code = 1
		fmt.Fprintf(w, "FAIL %s (%d errors)\n", p.name, len(p.errors))
		for _, e := range p.errors {
			fmt.Fprintf(w, "  %s\n", e)
		}
	}
	return code
}
