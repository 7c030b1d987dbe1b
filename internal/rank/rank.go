// Package rank orders per-entity bucketed metrics from best to worst
// service for a fixed threshold and bucket.
package rank

import (
	"sort"

	"tfl-linestats/internal/aggregate"
)

// Ranking is an ordered view over per-entity metrics: ascending disruption
// fraction, ties broken by entity id so the order is deterministic.
type Ranking struct {
	ordered []aggregate.Metric
}

// New builds a Ranking from per-entity metrics. Callers normally pass the
// output of ForCell so every metric shares one (bucket, threshold) cell.
func New(metrics []aggregate.Metric) Ranking {
	ordered := make([]aggregate.Metric, len(metrics))
	copy(ordered, metrics)
	sort.Slice(ordered, func(i, j int) bool {
		di, dj := ordered[i].DisruptionFraction(), ordered[j].DisruptionFraction()
		if di != dj {
			return di < dj
		}
		return ordered[i].EntityID < ordered[j].EntityID
	})
	return Ranking{ordered: ordered}
}

// ForCell filters metrics down to one (bucket, threshold) cell, dropping
// mode-wide aggregates.
func ForCell(metrics []aggregate.Metric, bucket, threshold int) []aggregate.Metric {
	var out []aggregate.Metric
	for _, m := range metrics {
		if m.EntityID == "" {
			continue
		}
		if m.Bucket == bucket && m.Threshold == threshold {
			out = append(out, m)
		}
	}
	return out
}

// All returns the full best-to-worst order.
func (r Ranking) All() []aggregate.Metric {
	out := make([]aggregate.Metric, len(r.ordered))
	copy(out, r.ordered)
	return out
}

// Best returns the n least-disrupted entities, best first.
func (r Ranking) Best(n int) []aggregate.Metric {
	if n > len(r.ordered) {
		n = len(r.ordered)
	}
	out := make([]aggregate.Metric, n)
	copy(out, r.ordered[:n])
	return out
}

// Worst returns the n most-disrupted entities, worst first.
func (r Ranking) Worst(n int) []aggregate.Metric {
	if n > len(r.ordered) {
		n = len(r.ordered)
	}
	out := make([]aggregate.Metric, 0, n)
	for i := len(r.ordered) - 1; i >= len(r.ordered)-n; i-- {
		out = append(out, r.ordered[i])
	}
	return out
}
