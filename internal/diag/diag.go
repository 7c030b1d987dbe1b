// Package diag collects structured anomaly records produced while
// normalizing and reconstructing line statuses. Anomalies degrade metric
// confidence but never abort a batch, so they are reported alongside the
// computed metrics instead of only being logged.
package diag

import (
	"sync"
	"time"
)

// Kind classifies an anomaly.
type Kind string

const (
	UnknownSeverity       Kind = "unknown_severity"
	MalformedSnapshot     Kind = "malformed_snapshot"
	NonMonotonicTimestamp Kind = "non_monotonic_timestamp"
	GapExceededCeiling    Kind = "gap_exceeded_ceiling"
)

// Diagnostic is one recorded anomaly.
type Diagnostic struct {
	Kind      Kind      `json:"kind"`
	EntityID  string    `json:"entityId,omitempty"`
	Timestamp time.Time `json:"timestamp,omitempty"`
	Detail    string    `json:"detail"`
}

// Recorder accumulates diagnostics. Safe for concurrent use, so per-entity
// workers can share one recorder.
type Recorder struct {
	mu    sync.Mutex
	items []Diagnostic
}

func NewRecorder() *Recorder { return &Recorder{} }

func (r *Recorder) Record(d Diagnostic) {
	r.mu.Lock()
	r.items = append(r.items, d)
	r.mu.Unlock()
}

// Items returns a copy of all recorded diagnostics in recording order.
func (r *Recorder) Items() []Diagnostic {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Diagnostic, len(r.items))
	copy(out, r.items)
	return out
}

// CountByKind returns the number of diagnostics recorded per kind.
func (r *Recorder) CountByKind() map[Kind]int {
	r.mu.Lock()
	defer r.mu.Unlock()
	counts := make(map[Kind]int)
	for _, d := range r.items {
		counts[d.Kind]++
	}
	return counts
}
