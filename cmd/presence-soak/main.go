// SPDX-License-Identifier: MIT

// presence-soak is a load harness for presenced. It holds a population of
// WebSocket sessions open, churns focus sets, disconnects a slice of the
// population mid-run and checks that the surviving watchers observe the
// resulting presence flips.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"math/rand"
	"os"
	"path/filepath"
	"time"

	"golang.org/x/sync/errgroup"
)

// Config holds command-line configuration.
type Config struct {
	URL           string
	Sessions      int
	WatchFanout   int
	Duration      time.Duration
	ChurnInterval time.Duration
	QuitterRatio  float64
	Seed          uint64
	ArtifactDir   string
}

// Report is the JSON output schema for a soak run.
type Report struct {
	RunID           string           `json:"run_id"`
	Seed            uint64           `json:"seed"`
	StartedAt       time.Time        `json:"started_at"`
	EndedAt         time.Time        `json:"ended_at"`
	DurationSeconds float64          `json:"duration_s"`
	Observations    map[string]int64 `json:"observations"`
	Failures        []Failure        `json:"failures"`
	Verdict         string           `json:"verdict"`
}

// Failure captures one invariant violation.
type Failure struct {
	Time    time.Time `json:"time"`
	RuleID  string    `json:"rule_id"`
	Message string    `json:"message"`
}

func main() {
	cfg := parseFlags()

	if cfg.Seed == 0 {
		cfg.Seed = uint64(time.Now().UnixNano()) // #nosec G115 -- UnixNano is positive
	}
	rng := rand.New(rand.NewSource(int64(cfg.Seed))) // #nosec G404 -- load harness, not crypto

	fmt.Printf("presence-soak\n")
	fmt.Printf("Target: %s\n", cfg.URL)
	fmt.Printf("Seed: %d\n", cfg.Seed)
	fmt.Printf("Sessions: %d (fanout %d, %.0f%% quitters)\n", cfg.Sessions, cfg.WatchFanout, cfg.QuitterRatio*100)
	fmt.Printf("Duration: %s (churn every %s)\n", cfg.Duration, cfg.ChurnInterval)

	report := Report{
		RunID:     fmt.Sprintf("soak-%d", cfg.Seed),
		Seed:      cfg.Seed,
		StartedAt: time.Now(),
	}

	stats := newStats()
	runPopulation(cfg, rng, stats)

	report.EndedAt = time.Now()
	report.DurationSeconds = report.EndedAt.Sub(report.StartedAt).Seconds()
	report.Observations = stats.snapshot()
	report.Failures = evaluate(cfg, report.Observations)
	if len(report.Failures) == 0 {
		report.Verdict = "PASS"
	} else {
		report.Verdict = "FAIL"
	}

	if err := writeReport(cfg.ArtifactDir, report); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to write report: %v\n", err)
		os.Exit(1)
	}

	fmt.Printf("\nVerdict: %s\n", report.Verdict)
	for k, v := range report.Observations {
		fmt.Printf("  %s: %d\n", k, v)
	}
	for _, f := range report.Failures {
		fmt.Printf("  FAIL [%s] %s\n", f.RuleID, f.Message)
	}

	if report.Verdict != "PASS" {
		os.Exit(1)
	}
}

func parseFlags() Config {
	cfg := Config{}

	flag.StringVar(&cfg.URL, "url", "ws://localhost:8080/ws", "presenced WebSocket endpoint")
	flag.IntVar(&cfg.Sessions, "sessions", 100, "concurrent sessions to hold open")
	flag.IntVar(&cfg.WatchFanout, "fanout", 5, "users each session focuses on")
	flag.DurationVar(&cfg.Duration, "duration", 2*time.Minute, "run duration")
	flag.DurationVar(&cfg.ChurnInterval, "churn", 15*time.Second, "focus churn interval")
	flag.Float64Var(&cfg.QuitterRatio, "quitters", 0.1, "fraction of sessions that disconnect mid-run")
	flag.Uint64Var(&cfg.Seed, "seed", 0, "random seed (0=random)")
	flag.StringVar(&cfg.ArtifactDir, "artifact-dir", "./soak-artifacts", "output directory")

	flag.Parse()
	return cfg
}

// runPopulation drives the whole client population and blocks until the run
// is over and every client has disconnected.
func runPopulation(cfg Config, rng *rand.Rand, stats *stats) {
	ctx, cancel := context.WithTimeout(context.Background(), cfg.Duration)
	defer cancel()

	// Quitters leave at half time to generate offline flips while the rest
	// of the population is still watching.
	quitters := make(map[int]bool, cfg.Sessions)
	for i := 0; i < cfg.Sessions; i++ {
		if rng.Float64() < cfg.QuitterRatio {
			quitters[i] = true
		}
	}

	g, ctx := errgroup.WithContext(ctx)
	for i := 0; i < cfg.Sessions; i++ {
		i := i
		g.Go(func() error {
			c := newSoakClient(cfg, i, quitters[i], stats)
			c.run(ctx)
			return nil
		})
	}
	_ = g.Wait()
}

// evaluate turns the raw counters into pass/fail findings.
func evaluate(cfg Config, obs map[string]int64) []Failure {
	var failures []Failure
	fail := func(rule, format string, args ...any) {
		failures = append(failures, Failure{
			Time:    time.Now(),
			RuleID:  rule,
			Message: fmt.Sprintf(format, args...),
		})
	}

	if obs["dial_failures"] > 0 {
		fail("DIAL", "%d sessions failed to connect", obs["dial_failures"])
	}
	if obs["auth_failures"] > 0 {
		fail("AUTH", "%d sessions failed to authenticate", obs["auth_failures"])
	}
	if obs["protocol_errors"] > 0 {
		fail("PROTO", "%d unexpected protocol errors", obs["protocol_errors"])
	}
	if obs["quitters"] > 0 && cfg.WatchFanout > 0 && obs["updates_offline"] == 0 {
		fail("FLIP", "%d sessions disconnected but no offline update was observed", obs["quitters"])
	}

	return failures
}

func writeReport(dir string, report Report) error {
	if err := os.MkdirAll(dir, 0750); err != nil {
		return err
	}

	path := filepath.Join(dir, "report.json")
	data, err := json.MarshalIndent(report, "", "  ")
	if err != nil {
		return err
	}

	return os.WriteFile(path, data, 0600)
}
