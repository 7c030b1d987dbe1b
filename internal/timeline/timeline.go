// Package timeline reconstructs a gap-aware, non-overlapping interval
// sequence from an entity's chronologically ordered status observations.
package timeline

import (
	"fmt"
	"time"

	"tfl-linestats/internal/diag"
	"tfl-linestats/internal/tfl"
)

// Confidence describes how an interval's status was established.
type Confidence string

const (
	// Observed means the interval is bounded by two observations within the
	// expected polling cadence.
	Observed Confidence = "observed"
	// InterpolatedGap means the status was carried across a polling gap
	// longer than the gap threshold, or across a horizon boundary.
	InterpolatedGap Confidence = "interpolated-gap"
	// Unknown means the gap exceeded the hard ceiling and no assumption is
	// made about the status in force.
	Unknown Confidence = "unknown"
)

// Interval is a reconstructed span [Start, End) during which one effective
// status set held for an entity. Unknown intervals carry no status: Ranks is
// nil and Effective is -1.
type Interval struct {
	EntityID   string
	Start      time.Time
	End        time.Time
	Ranks      []int
	Effective  int
	Confidence Confidence
}

func (iv Interval) Duration() time.Duration { return iv.End.Sub(iv.Start) }

// Config tunes gap handling.
type Config struct {
	// GapThreshold is the longest observation spacing still considered a
	// normal poll. Defaults to twice the typical 5 minute cadence.
	GapThreshold time.Duration
	// GapCeiling is the spacing beyond which no status is assumed at all.
	GapCeiling time.Duration
}

const (
	DefaultGapThreshold = 10 * time.Minute
	DefaultGapCeiling   = 6 * time.Hour
)

// Reconstructor turns observations into intervals. It is a pure function of
// its inputs: the same observation sequence always yields the same intervals.
type Reconstructor struct {
	cfg Config
	rec *diag.Recorder
}

func NewReconstructor(cfg Config, rec *diag.Recorder) *Reconstructor {
	if cfg.GapThreshold <= 0 {
		cfg.GapThreshold = DefaultGapThreshold
	}
	if cfg.GapCeiling <= 0 {
		cfg.GapCeiling = DefaultGapCeiling
	}
	if cfg.GapCeiling < cfg.GapThreshold {
		cfg.GapCeiling = cfg.GapThreshold
	}
	return &Reconstructor{cfg: cfg, rec: rec}
}

// Reconstruct emits intervals exactly covering [horizonStart, horizonEnd)
// for one entity. Observations must be in chronological order; out-of-order
// observations are rejected with a diagnostic and do not corrupt the
// timeline. Observations outside the horizon are ignored.
func (r *Reconstructor) Reconstruct(entityID string, obs []tfl.Observation, horizonStart, horizonEnd time.Time) []Interval {
	if !horizonEnd.After(horizonStart) {
		return nil
	}

	kept := make([]tfl.Observation, 0, len(obs))
	var prev time.Time
	for _, o := range obs {
		if o.ObservedAt.Before(horizonStart) || !o.ObservedAt.Before(horizonEnd) {
			continue
		}
		if len(kept) > 0 && !o.ObservedAt.After(prev) {
			r.rec.Record(diag.Diagnostic{
				Kind:      diag.NonMonotonicTimestamp,
				EntityID:  entityID,
				Timestamp: o.ObservedAt,
				Detail:    fmt.Sprintf("observation at %s not after previous %s", o.ObservedAt.Format(time.RFC3339), prev.Format(time.RFC3339)),
			})
			continue
		}
		kept = append(kept, o)
		prev = o.ObservedAt
	}

	if len(kept) == 0 {
		return []Interval{r.unknownInterval(entityID, horizonStart, horizonEnd, false)}
	}

	var out []Interval

	// Leading boundary: the status before the first observation was never
	// seen, so back-fill with reduced confidence.
	if first := kept[0]; first.ObservedAt.After(horizonStart) {
		span := first.ObservedAt.Sub(horizonStart)
		if span > r.cfg.GapCeiling {
			out = append(out, r.unknownInterval(entityID, horizonStart, first.ObservedAt, true))
		} else {
			out = append(out, statusInterval(entityID, horizonStart, first.ObservedAt, first, InterpolatedGap))
		}
	}

	// Each observation's status persists until superseded by the next poll.
	for i := 0; i < len(kept)-1; i++ {
		o, next := kept[i], kept[i+1]
		out = append(out, r.spanInterval(entityID, o, o.ObservedAt, next.ObservedAt))
	}

	// Trailing boundary: last observation is open-ended at the horizon end.
	last := kept[len(kept)-1]
	if last.ObservedAt.Before(horizonEnd) {
		out = append(out, r.spanInterval(entityID, last, last.ObservedAt, horizonEnd))
	}
	return out
}

func (r *Reconstructor) spanInterval(entityID string, o tfl.Observation, start, end time.Time) Interval {
	span := end.Sub(start)
	switch {
	case span > r.cfg.GapCeiling:
		return r.unknownInterval(entityID, start, end, true)
	case span > r.cfg.GapThreshold:
		return statusInterval(entityID, start, end, o, InterpolatedGap)
	default:
		return statusInterval(entityID, start, end, o, Observed)
	}
}

func (r *Reconstructor) unknownInterval(entityID string, start, end time.Time, record bool) Interval {
	if record {
		r.rec.Record(diag.Diagnostic{
			Kind:      diag.GapExceededCeiling,
			EntityID:  entityID,
			Timestamp: start,
			Detail:    fmt.Sprintf("gap of %s exceeds ceiling %s", end.Sub(start), r.cfg.GapCeiling),
		})
	}
	return Interval{
		EntityID:   entityID,
		Start:      start,
		End:        end,
		Effective:  -1,
		Confidence: Unknown,
	}
}

func statusInterval(entityID string, start, end time.Time, o tfl.Observation, c Confidence) Interval {
	return Interval{
		EntityID:   entityID,
		Start:      start,
		End:        end,
		Ranks:      o.Ranks(),
		Effective:  o.WorstRank(),
		Confidence: c,
	}
}
