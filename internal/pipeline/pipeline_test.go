package pipeline

import (
	"context"
	"errors"
	"reflect"
	"testing"
	"time"

	"tfl-linestats/internal/aggregate"
	"tfl-linestats/internal/store"
	"tfl-linestats/internal/tfl"
)

var baseTime = time.Date(2023, time.March, 6, 8, 0, 0, 0, time.UTC)

type fakeSource struct {
	entities []store.EntityObservations
	err      error
}

func (f *fakeSource) LoadObservations(_ context.Context, _, _ time.Time, _, _ string) ([]store.EntityObservations, error) {
	return f.entities, f.err
}

func obsAt(entityID string, offset time.Duration, rank int) tfl.Observation {
	return tfl.Observation{
		EntityID:   entityID,
		ObservedAt: baseTime.Add(offset),
		Statuses:   []tfl.StatusRecord{{Rank: rank, Known: true}},
	}
}

// Two lines polled every 5 minutes for an hour. Victoria is clean; central
// spends the second half hour at Severe Delays.
func testSource() *fakeSource {
	var victoria, central []tfl.Observation
	for m := 0; m <= 60; m += 5 {
		victoria = append(victoria, obsAt("victoria", time.Duration(m)*time.Minute, 0))
		rank := 0
		if m >= 30 {
			rank = 6
		}
		central = append(central, obsAt("central", time.Duration(m)*time.Minute, rank))
	}
	return &fakeSource{entities: []store.EntityObservations{
		{Entity: tfl.Entity{ID: "central", Name: "Central", Mode: "tube"}, Observations: central},
		{Entity: tfl.Entity{ID: "victoria", Name: "Victoria", Mode: "tube"}, Observations: victoria},
	}}
}

func testConfig() Config {
	return Config{
		From:         baseTime,
		To:           baseTime.Add(time.Hour),
		GapThreshold: 10 * time.Minute,
		GapCeiling:   6 * time.Hour,
		Thresholds:   []int{0},
		Workers:      4,
		TopN:         5,
	}
}

func findMetric(t *testing.T, ms []aggregate.Metric, entityID string, threshold int) aggregate.Metric {
	t.Helper()
	for _, m := range ms {
		if m.EntityID == entityID && m.Threshold == threshold {
			return m
		}
	}
	t.Fatalf("no metric for entity %q threshold %d", entityID, threshold)
	return aggregate.Metric{}
}

func TestRunReport(t *testing.T) {
	r := NewRunner(testSource(), testConfig(), nil)
	report, err := r.Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	if report.RunID == "" {
		t.Error("empty run id")
	}
	if len(report.Diagnostics) != 0 {
		t.Errorf("unexpected diagnostics: %+v", report.Diagnostics)
	}

	vic := findMetric(t, report.PerEntity, "victoria", 0)
	if vic.Fraction != 1 {
		t.Errorf("victoria fraction = %v, want 1", vic.Fraction)
	}
	cen := findMetric(t, report.PerEntity, "central", 0)
	if cen.Fraction != 0.5 {
		t.Errorf("central fraction = %v, want 0.5", cen.Fraction)
	}

	if len(report.PerMode) != 1 {
		t.Fatalf("per-mode metrics = %d, want 1", len(report.PerMode))
	}
	mode := report.PerMode[0]
	if mode.Mode != "tube" || mode.EntityID != "" {
		t.Errorf("per-mode cell = %+v", mode)
	}
	if mode.Fraction != 0.75 {
		t.Errorf("mode fraction = %v, want 0.75", mode.Fraction)
	}
}

func TestRunRankings(t *testing.T) {
	r := NewRunner(testSource(), testConfig(), nil)
	report, err := r.Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	if len(report.Rankings) != 1 {
		t.Fatalf("rankings = %d, want 1", len(report.Rankings))
	}
	rk := report.Rankings[0]
	if rk.Mode != "tube" || rk.Threshold != 0 {
		t.Fatalf("ranking cell = %+v", rk)
	}
	if got := rk.Best[0].EntityID; got != "victoria" {
		t.Errorf("best = %q, want victoria", got)
	}
	if got := rk.Worst[0].EntityID; got != "central" {
		t.Errorf("worst = %q, want central", got)
	}
}

// Rankings are computed over the whole horizon even when the report is
// bucketed by hour.
func TestRunRankingsIgnoreGranularity(t *testing.T) {
	cfg := testConfig()
	cfg.Granularity = aggregate.BucketHour
	r := NewRunner(testSource(), cfg, nil)
	report, err := r.Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(report.Rankings) != 1 {
		t.Fatalf("rankings = %d, want 1", len(report.Rankings))
	}
	if got := report.Rankings[0].Worst[0].EntityID; got != "central" {
		t.Errorf("worst = %q, want central", got)
	}
}

// The fan-out must not change results: repeated runs with several workers
// produce identical metrics in identical order.
func TestRunDeterministic(t *testing.T) {
	src := testSource()
	cfg := testConfig()

	first, err := NewRunner(src, cfg, nil).Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	for i := 0; i < 5; i++ {
		next, err := NewRunner(src, cfg, nil).Run(context.Background())
		if err != nil {
			t.Fatalf("Run: %v", err)
		}
		if !reflect.DeepEqual(first.PerEntity, next.PerEntity) {
			t.Fatalf("run %d per-entity metrics differ", i)
		}
		if !reflect.DeepEqual(first.Rankings, next.Rankings) {
			t.Fatalf("run %d rankings differ", i)
		}
	}
}

func TestRunSilentEntity(t *testing.T) {
	src := testSource()
	src.entities = append(src.entities, store.EntityObservations{
		Entity: tfl.Entity{ID: "waterloo-city", Name: "Waterloo & City", Mode: "tube"},
	})
	r := NewRunner(src, testConfig(), nil)
	report, err := r.Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	wc := findMetric(t, report.PerEntity, "waterloo-city", 0)
	if wc.ObservedSeconds != 0 {
		t.Errorf("observed seconds = %v, want 0", wc.ObservedSeconds)
	}
	if wc.UnknownSeconds != 3600 {
		t.Errorf("unknown seconds = %v, want 3600", wc.UnknownSeconds)
	}
	// No evidence either way; the silent line must not outrank a clean one.
	if got := report.Rankings[0].Worst[0].EntityID; got != "central" {
		t.Errorf("worst = %q, want central", got)
	}
}

func TestRunSourceError(t *testing.T) {
	src := &fakeSource{err: errors.New("connection refused")}
	if _, err := NewRunner(src, testConfig(), nil).Run(context.Background()); err == nil {
		t.Fatal("expected error")
	}
}
