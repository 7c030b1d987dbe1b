package severity

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Modes is the fixed set of transport modes reported by the status API.
var Modes = []string{
	"bus", "national-rail", "tube", "river-bus", "dlr",
	"cable-car", "overground", "tflrail", "elizabeth-line", "tram",
}

// Entry declares the rank and disruption classification for one status
// description. An empty Modes list means the entry applies to every mode;
// mode-specific entries override catch-all ones for the listed modes.
type Entry struct {
	Description string   `yaml:"description"`
	Rank        int      `yaml:"rank"`
	Disruption  bool     `yaml:"disruption"`
	Modes       []string `yaml:"modes,omitempty"`
}

// Table is the on-disk severity configuration. The authority's vocabulary is
// the source of truth and may be refreshed, so the ordering lives here and
// not in code.
type Table struct {
	Entries []Entry `yaml:"severities"`

	// UnknownRank overrides the sentinel rank assigned to vocabulary the
	// table does not cover. Zero or negative means "one past the worst
	// configured rank", which sorts unknown statuses as worst-case.
	UnknownRank int `yaml:"unknown_rank,omitempty"`
}

// DefaultTable returns the built-in severity ordering:
// Good Service < Minor Delays < Reduced Service < Special Service/Bus Service
// < Part Closure < Part Suspended < Severe Delays < Suspended
// < Planned Closure < Service Closed < No Service.
func DefaultTable() Table {
	return Table{
		Entries: []Entry{
			{Description: "Good Service", Rank: 0, Disruption: false},
			{Description: "Minor Delays", Rank: 1, Disruption: true},
			{Description: "Reduced Service", Rank: 2, Disruption: true},
			// Real-world usage of Special/Bus Service is inconsistent:
			// treated as disruption everywhere except on bus itself.
			{Description: "Special Service", Rank: 3, Disruption: true},
			{Description: "Special Service", Rank: 3, Disruption: false, Modes: []string{"bus"}},
			{Description: "Bus Service", Rank: 3, Disruption: true},
			{Description: "Bus Service", Rank: 3, Disruption: false, Modes: []string{"bus"}},
			{Description: "Part Closure", Rank: 4, Disruption: true},
			{Description: "Part Suspended", Rank: 5, Disruption: true},
			{Description: "Severe Delays", Rank: 6, Disruption: true},
			{Description: "Suspended", Rank: 7, Disruption: true},
			{Description: "Planned Closure", Rank: 8, Disruption: true},
			{Description: "Service Closed", Rank: 9, Disruption: true},
			{Description: "No Service", Rank: 10, Disruption: true,
				Modes: []string{"national-rail", "cable-car", "river-bus"}},
		},
	}
}

// LoadTable reads a severity table from a YAML file.
func LoadTable(path string) (Table, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return Table{}, fmt.Errorf("read severity table: %w", err)
	}
	var t Table
	if err := yaml.Unmarshal(b, &t); err != nil {
		return Table{}, fmt.Errorf("parse severity table %s: %w", path, err)
	}
	if len(t.Entries) == 0 {
		return Table{}, fmt.Errorf("severity table %s declares no severities", path)
	}
	return t, nil
}
