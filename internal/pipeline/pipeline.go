// Package pipeline runs the batch computation: load observations, fan out
// per-entity reconstruction and aggregation across workers, merge, rank.
// Entities are independent, so partitioning by entity id means workers
// never write to the same metric cell.
package pipeline

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"tfl-linestats/internal/aggregate"
	"tfl-linestats/internal/diag"
	mmetrics "tfl-linestats/internal/metrics"
	"tfl-linestats/internal/rank"
	"tfl-linestats/internal/store"
	"tfl-linestats/internal/timeline"
)

// Source provides the observation batches the pipeline consumes. The store
// satisfies it; tests supply fixtures.
type Source interface {
	LoadObservations(ctx context.Context, from, to time.Time, mode, line string) ([]store.EntityObservations, error)
}

// Config tunes one batch run.
type Config struct {
	From, To     time.Time
	GapThreshold time.Duration
	GapCeiling   time.Duration
	GapPolicy    aggregate.GapPolicy
	Granularity  aggregate.Granularity
	Thresholds   []int
	Location     *time.Location
	Mode, Line   string
	Workers      int
	TopN         int
}

// ModeRanking is the best/worst view for one mode at one threshold,
// computed over the whole horizon.
type ModeRanking struct {
	Mode      string
	Threshold int
	Best      []aggregate.Metric
	Worst     []aggregate.Metric
}

// Report is the outcome of one batch run.
type Report struct {
	RunID       string
	GeneratedAt time.Time
	From, To    time.Time
	PerEntity   []aggregate.Metric
	PerMode     []aggregate.Metric
	Rankings    []ModeRanking
	Diagnostics []diag.Diagnostic
}

type Runner struct {
	source  Source
	cfg     Config
	metrics *mmetrics.Collector
}

func NewRunner(source Source, cfg Config, metrics *mmetrics.Collector) *Runner {
	if cfg.Workers <= 0 {
		cfg.Workers = 1
	}
	if cfg.TopN <= 0 {
		cfg.TopN = 5
	}
	if len(cfg.Thresholds) == 0 {
		cfg.Thresholds = []int{0}
	}
	if cfg.Location == nil {
		cfg.Location = time.UTC
	}
	return &Runner{source: source, cfg: cfg, metrics: metrics}
}

// entityResult carries one worker's output: bucketed metrics under the
// configured granularity plus an overall cell for ranking.
type entityResult struct {
	bucketed []aggregate.Metric
	overall  []aggregate.Metric
}

// Run executes one batch over [cfg.From, cfg.To).
func (r *Runner) Run(ctx context.Context) (*Report, error) {
	entities, err := r.source.LoadObservations(ctx, r.cfg.From, r.cfg.To, r.cfg.Mode, r.cfg.Line)
	if err != nil {
		return nil, fmt.Errorf("load observations: %w", err)
	}

	rec := diag.NewRecorder()
	recon := timeline.NewReconstructor(timeline.Config{
		GapThreshold: r.cfg.GapThreshold,
		GapCeiling:   r.cfg.GapCeiling,
	}, rec)

	if r.metrics != nil {
		r.metrics.EntitiesProcessed.Set(float64(len(entities)))
		var total int
		for _, e := range entities {
			total += len(e.Observations)
		}
		r.metrics.ObservationsLoaded.Add(float64(total))
	}

	aggCfg := aggregate.Config{
		Granularity: r.cfg.Granularity,
		Thresholds:  r.cfg.Thresholds,
		GapPolicy:   r.cfg.GapPolicy,
		Location:    r.cfg.Location,
	}
	overallCfg := aggCfg
	overallCfg.Granularity = aggregate.BucketNone

	jobs := make(chan store.EntityObservations)
	results := make(chan entityResult)

	var wg sync.WaitGroup
	for i := 0; i < r.cfg.Workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for e := range jobs {
				results <- r.processEntity(recon, aggCfg, overallCfg, e)
			}
		}()
	}
	go func() {
		defer close(jobs)
		for _, e := range entities {
			select {
			case <-ctx.Done():
				return
			case jobs <- e:
			}
		}
	}()
	go func() {
		wg.Wait()
		close(results)
	}()

	var perEntity, overall []aggregate.Metric
	for res := range results {
		perEntity = append(perEntity, res.bucketed...)
		overall = append(overall, res.overall...)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	// Workers return in arbitrary order; restore determinism.
	sortMetrics(perEntity)
	sortMetrics(overall)

	report := &Report{
		RunID:       uuid.New().String(),
		GeneratedAt: time.Now(),
		From:        r.cfg.From,
		To:          r.cfg.To,
		PerEntity:   perEntity,
		PerMode:     aggregate.MergeByMode(aggCfg, perEntity),
		Rankings:    r.rankings(overall),
		Diagnostics: rec.Items(),
	}

	if r.metrics != nil {
		r.metrics.MetricsEmitted.Add(float64(len(report.PerEntity) + len(report.PerMode)))
		for kind, count := range rec.CountByKind() {
			r.metrics.Diagnostics.WithLabelValues(string(kind)).Add(float64(count))
		}
	}
	return report, nil
}

func (r *Runner) processEntity(recon *timeline.Reconstructor, aggCfg, overallCfg aggregate.Config, e store.EntityObservations) entityResult {
	start := time.Now()
	ivs := recon.Reconstruct(e.Entity.ID, e.Observations, r.cfg.From, r.cfg.To)
	if r.metrics != nil {
		r.metrics.ReconstructDuration.Observe(time.Since(start).Seconds())
		for _, iv := range ivs {
			r.metrics.IntervalsEmitted.WithLabelValues(string(iv.Confidence)).Inc()
		}
	}

	aggStart := time.Now()
	bucketed := aggregate.New(aggCfg)
	overall := aggregate.New(overallCfg)
	for _, iv := range ivs {
		bucketed.Add(iv)
		overall.Add(iv)
	}
	res := entityResult{
		bucketed: bucketed.Metrics(e.Entity.ID, e.Entity.Mode),
		overall:  overall.Metrics(e.Entity.ID, e.Entity.Mode),
	}
	if r.metrics != nil {
		r.metrics.AggregateDuration.Observe(time.Since(aggStart).Seconds())
	}
	return res
}

// rankings orders entities per mode and threshold over the whole horizon.
func (r *Runner) rankings(overall []aggregate.Metric) []ModeRanking {
	modes := make(map[string]bool)
	for _, m := range overall {
		modes[m.Mode] = true
	}
	var modeList []string
	for m := range modes {
		modeList = append(modeList, m)
	}
	sort.Strings(modeList)

	var out []ModeRanking
	for _, mode := range modeList {
		for _, th := range r.cfg.Thresholds {
			var cell []aggregate.Metric
			for _, m := range rank.ForCell(overall, 0, th) {
				if m.Mode == mode {
					cell = append(cell, m)
				}
			}
			if len(cell) == 0 {
				continue
			}
			ranking := rank.New(cell)
			out = append(out, ModeRanking{
				Mode:      mode,
				Threshold: th,
				Best:      ranking.Best(r.cfg.TopN),
				Worst:     ranking.Worst(r.cfg.TopN),
			})
		}
	}
	return out
}

func sortMetrics(ms []aggregate.Metric) {
	sort.Slice(ms, func(i, j int) bool {
		a, b := ms[i], ms[j]
		if a.EntityID != b.EntityID {
			return a.EntityID < b.EntityID
		}
		if a.Bucket != b.Bucket {
			return a.Bucket < b.Bucket
		}
		return a.Threshold < b.Threshold
	})
}
