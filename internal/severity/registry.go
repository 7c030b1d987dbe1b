package severity

import "fmt"

// Status is the resolved classification of one (mode, description) pair.
type Status struct {
	Rank       int
	Disruption bool
}

// Registry answers rank and disruption lookups for (mode, description)
// pairs. It is immutable after construction; refreshing the table means
// building a new Registry and swapping the pointer, so concurrent readers
// never observe a half-updated mapping.
type Registry struct {
	byMode      map[string]map[string]Status
	unknownRank int
	worstRank   int
}

// NewRegistry builds a Registry from a table. Entries without a mode list
// apply to every mode; mode-specific entries override them. Conflicting
// ranks for the same (mode, description) pair are rejected.
func NewRegistry(t Table) (*Registry, error) {
	byMode := make(map[string]map[string]Status, len(Modes))
	for _, m := range Modes {
		byMode[m] = make(map[string]Status)
	}

	worst := 0
	apply := func(e Entry, mode string, override bool) error {
		perMode, ok := byMode[mode]
		if !ok {
			return fmt.Errorf("severity entry %q lists unknown mode %q", e.Description, mode)
		}
		if prev, exists := perMode[e.Description]; exists && !override && prev.Rank != e.Rank {
			return fmt.Errorf("conflicting ranks for %s/%s: %d vs %d",
				mode, e.Description, prev.Rank, e.Rank)
		}
		perMode[e.Description] = Status{Rank: e.Rank, Disruption: e.Disruption}
		return nil
	}

	// Catch-all entries first, then mode-specific overrides.
	for _, e := range t.Entries {
		if e.Rank < 0 {
			return nil, fmt.Errorf("severity %q has negative rank %d", e.Description, e.Rank)
		}
		if e.Rank > worst {
			worst = e.Rank
		}
		if len(e.Modes) > 0 {
			continue
		}
		for _, m := range Modes {
			if err := apply(e, m, false); err != nil {
				return nil, err
			}
		}
	}
	for _, e := range t.Entries {
		if len(e.Modes) == 0 {
			continue
		}
		for _, m := range e.Modes {
			if err := apply(e, m, true); err != nil {
				return nil, err
			}
		}
	}

	unknown := t.UnknownRank
	if unknown <= 0 {
		unknown = worst + 1
	}
	return &Registry{byMode: byMode, unknownRank: unknown, worstRank: worst}, nil
}

// Rank returns the severity rank for the pair, lower meaning better service.
// The second return reports whether the pair is part of the configured
// vocabulary; unknown pairs get the sentinel rank.
func (r *Registry) Rank(mode, description string) (int, bool) {
	if s, ok := r.byMode[mode][description]; ok {
		return s.Rank, true
	}
	return r.unknownRank, false
}

// IsKnown reports whether the (mode, description) pair is configured.
func (r *Registry) IsKnown(mode, description string) bool {
	_, ok := r.byMode[mode][description]
	return ok
}

// IsDisruption reports the disruption classification for the pair. Unknown
// pairs are conservatively treated as disruption.
func (r *Registry) IsDisruption(mode, description string) bool {
	if s, ok := r.byMode[mode][description]; ok {
		return s.Disruption
	}
	return true
}

// UnknownRank is the sentinel rank assigned to vocabulary the registry does
// not cover. By default it sorts after every configured rank.
func (r *Registry) UnknownRank() int { return r.unknownRank }

// WorstRank is the highest configured rank across all modes.
func (r *Registry) WorstRank() int { return r.worstRank }
