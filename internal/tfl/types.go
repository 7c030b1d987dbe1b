package tfl

import "time"

// RawLine mirrors one per-line record in a polled status API payload.
type RawLine struct {
	ID           string          `json:"id"`
	Name         string          `json:"name"`
	ModeName     string          `json:"modeName"`
	LineStatuses []RawLineStatus `json:"lineStatuses"`
}

// RawLineStatus is one status entry inside a RawLine. Reason and Disruption
// are frequently absent.
type RawLineStatus struct {
	StatusSeverity            int            `json:"statusSeverity"`
	StatusSeverityDescription string         `json:"statusSeverityDescription"`
	Reason                    string         `json:"reason,omitempty"`
	Disruption                *RawDisruption `json:"disruption,omitempty"`
}

type RawDisruption struct {
	Category string `json:"category"`
}

// Category classifies why a disruption is in effect.
type Category string

const (
	CategoryPlannedWork Category = "PlannedWork"
	CategoryRealTime    Category = "RealTime"
	CategoryInformation Category = "Information"
	CategoryUnknown     Category = "Unknown"
)

// Entity is a transit line or route, referenced by id from observations,
// intervals and metrics.
type Entity struct {
	ID   string
	Name string
	Mode string
}

// StatusRecord is one status in effect at a point in time. Rank comes from
// the severity registry; Known is false when the (mode, description) pair
// was not in the configured vocabulary and Rank holds the sentinel.
type StatusRecord struct {
	Rank        int
	Description string
	Reason      string
	Category    Category
	Known       bool
}

// Observation is one polled snapshot for one entity at one instant. The
// status set is unique by rank. RawMode and RawName retain the label the
// authority reported when alias resolution rewrote the entity id.
type Observation struct {
	EntityID   string
	ObservedAt time.Time
	Statuses   []StatusRecord
	RawMode    string
	RawName    string
}

// WorstRank returns the most severe rank among concurrent statuses, or -1
// for an empty set.
func (o Observation) WorstRank() int {
	worst := -1
	for _, s := range o.Statuses {
		if s.Rank > worst {
			worst = s.Rank
		}
	}
	return worst
}

// Ranks returns the sorted set of severity ranks present in the observation.
func (o Observation) Ranks() []int {
	out := make([]int, 0, len(o.Statuses))
	for _, s := range o.Statuses {
		out = append(out, s.Rank)
	}
	for i := 1; i < len(out); i++ {
		for j := i; j > 0 && out[j] < out[j-1]; j-- {
			out[j], out[j-1] = out[j-1], out[j]
		}
	}
	return out
}
