// Package aggregate computes calendar-bucketed service-level fractions from
// reconstructed status intervals. All fractions are duration-weighted: an
// interval spanning six hours contributes six hours, not one sample.
package aggregate

import (
	"sort"
	"time"

	"tfl-linestats/internal/timeline"
)

// GapPolicy controls how interpolated-gap and unknown time enters the
// fraction. It is configuration, not a heuristic: the right choice depends
// on whether the consumer wants a conservative or optimistic bound.
type GapPolicy string

const (
	// GapExclude drops gap time from numerator and denominator. Default.
	GapExclude GapPolicy = "exclude"
	// GapAssumeGood counts gap time as at-or-better-than every threshold.
	GapAssumeGood GapPolicy = "assume-good"
	// GapAssumeBad counts gap time as worse than every threshold.
	GapAssumeBad GapPolicy = "assume-bad"
)

// ParseGapPolicy maps a configuration string to a GapPolicy.
func ParseGapPolicy(s string) (GapPolicy, bool) {
	switch GapPolicy(s) {
	case GapExclude, GapAssumeGood, GapAssumeBad:
		return GapPolicy(s), true
	case "":
		return GapExclude, true
	default:
		return "", false
	}
}

// Config tunes one aggregation run.
type Config struct {
	Granularity Granularity
	Thresholds  []int // severity ranks; fraction is time at rank <= threshold
	GapPolicy   GapPolicy
	Location    *time.Location // calendar timezone for bucketing
}

func (c Config) withDefaults() Config {
	if c.Granularity == "" {
		c.Granularity = BucketNone
	}
	if c.GapPolicy == "" {
		c.GapPolicy = GapExclude
	}
	if c.Location == nil {
		c.Location = time.UTC
	}
	return c
}

// Metric is one aggregation cell: (entity or mode, bucket, threshold).
// FavorableSeconds is the observed time at or below the threshold; it is
// kept alongside Fraction so cells can be merged across entities without
// losing exactness.
type Metric struct {
	EntityID            string  `json:"entityId,omitempty"`
	Mode                string  `json:"mode,omitempty"`
	Bucket              int     `json:"bucket"`
	BucketLabel         string  `json:"bucketLabel"`
	Threshold           int     `json:"threshold"`
	Fraction            float64 `json:"fraction"`
	FavorableSeconds    float64 `json:"favorableSeconds"`
	ObservedSeconds     float64 `json:"observedSeconds"`
	InterpolatedSeconds float64 `json:"interpolatedSeconds"`
	UnknownSeconds      float64 `json:"unknownSeconds"`
}

// DisruptionFraction is the complement of Fraction over the same
// denominator: the share of time spent worse than the threshold. A cell
// with no observed time has no evidence of disruption and reports 0.
func (m Metric) DisruptionFraction() float64 {
	if m.ObservedSeconds == 0 {
		return 0
	}
	return 1 - m.Fraction
}

// Aggregator accumulates intervals for a single entity. Each entity gets its
// own Aggregator so parallel workers never contend on shared cells.
type Aggregator struct {
	cfg Config

	totals    map[int]*bucketTotals // bucket -> durations
	favorable map[cell]float64      // (bucket, threshold) -> observed seconds at or below
}

type cell struct{ bucket, threshold int }

type bucketTotals struct {
	observed     float64
	interpolated float64
	unknown      float64
}

func New(cfg Config) *Aggregator {
	return &Aggregator{
		cfg:       cfg.withDefaults(),
		totals:    make(map[int]*bucketTotals),
		favorable: make(map[cell]float64),
	}
}

// Add accumulates one reconstructed interval, splitting it exactly at
// bucket boundaries.
func (a *Aggregator) Add(iv timeline.Interval) {
	for _, sp := range splitSpans(a.cfg.Granularity, iv.Start, iv.End, a.cfg.Location) {
		bt := a.totals[sp.bucket]
		if bt == nil {
			bt = &bucketTotals{}
			a.totals[sp.bucket] = bt
		}
		switch iv.Confidence {
		case timeline.Observed:
			bt.observed += sp.seconds
			for _, th := range a.cfg.Thresholds {
				if iv.Effective <= th {
					a.favorable[cell{sp.bucket, th}] += sp.seconds
				}
			}
		case timeline.InterpolatedGap:
			bt.interpolated += sp.seconds
		default:
			bt.unknown += sp.seconds
		}
	}
}

// Metrics returns one Metric per populated (bucket, threshold) cell, tagged
// with the entity and mode, sorted by bucket then threshold.
func (a *Aggregator) Metrics(entityID, mode string) []Metric {
	out := make([]Metric, 0, len(a.totals)*len(a.cfg.Thresholds))
	for bucket, bt := range a.totals {
		for _, th := range a.cfg.Thresholds {
			fav := a.favorable[cell{bucket, th}]
			out = append(out, Metric{
				EntityID:            entityID,
				Mode:                mode,
				Bucket:              bucket,
				BucketLabel:         BucketLabel(a.cfg.Granularity, bucket),
				Threshold:           th,
				Fraction:            fraction(a.cfg.GapPolicy, fav, *bt),
				FavorableSeconds:    fav,
				ObservedSeconds:     bt.observed,
				InterpolatedSeconds: bt.interpolated,
				UnknownSeconds:      bt.unknown,
			})
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Bucket != out[j].Bucket {
			return out[i].Bucket < out[j].Bucket
		}
		return out[i].Threshold < out[j].Threshold
	})
	return out
}

// MergeByMode collapses per-entity metrics into mode-wide aggregates. The
// fraction is recomputed from the summed durations, so the merge is exact.
func MergeByMode(cfg Config, metrics []Metric) []Metric {
	cfg = cfg.withDefaults()
	type key struct {
		mode      string
		bucket    int
		threshold int
	}
	merged := make(map[key]*Metric)
	var order []key
	for _, m := range metrics {
		k := key{m.Mode, m.Bucket, m.Threshold}
		agg := merged[k]
		if agg == nil {
			agg = &Metric{
				Mode:        m.Mode,
				Bucket:      m.Bucket,
				BucketLabel: m.BucketLabel,
				Threshold:   m.Threshold,
			}
			merged[k] = agg
			order = append(order, k)
		}
		agg.FavorableSeconds += m.FavorableSeconds
		agg.ObservedSeconds += m.ObservedSeconds
		agg.InterpolatedSeconds += m.InterpolatedSeconds
		agg.UnknownSeconds += m.UnknownSeconds
	}
	sort.Slice(order, func(i, j int) bool {
		a, b := order[i], order[j]
		if a.mode != b.mode {
			return a.mode < b.mode
		}
		if a.bucket != b.bucket {
			return a.bucket < b.bucket
		}
		return a.threshold < b.threshold
	})
	out := make([]Metric, 0, len(order))
	for _, k := range order {
		m := merged[k]
		m.Fraction = fraction(cfg.GapPolicy, m.FavorableSeconds, bucketTotals{
			observed:     m.ObservedSeconds,
			interpolated: m.InterpolatedSeconds,
			unknown:      m.UnknownSeconds,
		})
		out = append(out, *m)
	}
	return out
}

// fraction computes favorable time over elapsed time under the gap policy.
// A zero denominator yields 0.
func fraction(policy GapPolicy, favorable float64, bt bucketTotals) float64 {
	gap := bt.interpolated + bt.unknown
	num, den := favorable, bt.observed
	switch policy {
	case GapAssumeGood:
		num += gap
		den += gap
	case GapAssumeBad:
		den += gap
	}
	if den == 0 {
		return 0
	}
	return num / den
}
