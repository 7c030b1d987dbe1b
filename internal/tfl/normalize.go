package tfl

import (
	"encoding/json"
	"fmt"
	"sync/atomic"
	"time"

	"tfl-linestats/internal/diag"
	"tfl-linestats/internal/severity"
)

// Normalizer converts raw polled payloads into per-entity observations.
// Build one per ingestion batch so the alias table is computed per batch.
// The registry can be swapped while a long ingestion runs (hot reload of
// the severity table); readers always see a complete table.
type Normalizer struct {
	reg     atomic.Pointer[severity.Registry]
	rec     *diag.Recorder
	aliases *AliasResolver
}

func NewNormalizer(reg *severity.Registry, rec *diag.Recorder) *Normalizer {
	n := &Normalizer{rec: rec, aliases: NewAliasResolver()}
	n.reg.Store(reg)
	return n
}

// SetRegistry replaces the severity registry for subsequent snapshots.
func (n *Normalizer) SetRegistry(reg *severity.Registry) { n.reg.Store(reg) }

// ParsePayload decodes a raw status API payload body.
func ParsePayload(body []byte) ([]RawLine, error) {
	var lines []RawLine
	if err := json.Unmarshal(body, &lines); err != nil {
		return nil, fmt.Errorf("decode status payload: %w", err)
	}
	return lines, nil
}

// Snapshot turns one polled payload into observations, one per entity.
// Malformed records are skipped with a diagnostic; unknown vocabulary is
// sentinel-coded with a diagnostic. A line absent from the payload simply
// yields no observation; absence is a gap, never assumed Good Service.
func (n *Normalizer) Snapshot(observedAt time.Time, lines []RawLine) []Observation {
	if observedAt.IsZero() {
		n.rec.Record(diag.Diagnostic{
			Kind:   diag.MalformedSnapshot,
			Detail: "snapshot has no timestamp",
		})
		return nil
	}

	reg := n.reg.Load()
	out := make([]Observation, 0, len(lines))
	for _, line := range lines {
		id := line.ID
		if id == "" {
			id = line.Name
		}
		if id == "" {
			n.rec.Record(diag.Diagnostic{
				Kind:      diag.MalformedSnapshot,
				Timestamp: observedAt,
				Detail:    fmt.Sprintf("line record without id or name (mode %q)", line.ModeName),
			})
			continue
		}
		if len(line.LineStatuses) == 0 {
			// Nothing was observed for this line; let the reconstructor
			// treat it as a gap.
			continue
		}

		obs := Observation{
			EntityID:   n.aliases.Resolve(id, line.ModeName),
			ObservedAt: observedAt,
			RawMode:    line.ModeName,
			RawName:    line.Name,
		}
		seen := make(map[int]bool, len(line.LineStatuses))
		for _, rs := range line.LineStatuses {
			rank, known := reg.Rank(line.ModeName, rs.StatusSeverityDescription)
			if !known {
				n.rec.Record(diag.Diagnostic{
					Kind:      diag.UnknownSeverity,
					EntityID:  obs.EntityID,
					Timestamp: observedAt,
					Detail: fmt.Sprintf("unrecognized status %q for mode %q",
						rs.StatusSeverityDescription, line.ModeName),
				})
			}
			// Concurrent statuses are unique by rank; first occurrence wins.
			if seen[rank] {
				continue
			}
			seen[rank] = true
			obs.Statuses = append(obs.Statuses, StatusRecord{
				Rank:        rank,
				Description: rs.StatusSeverityDescription,
				Reason:      rs.Reason,
				Category:    normalizeCategory(rs.Disruption),
				Known:       known,
			})
		}
		out = append(out, obs)
	}
	return out
}

func normalizeCategory(d *RawDisruption) Category {
	if d == nil {
		return CategoryUnknown
	}
	switch d.Category {
	case "PlannedWork":
		return CategoryPlannedWork
	case "RealTime":
		return CategoryRealTime
	case "Information":
		return CategoryInformation
	default:
		return CategoryUnknown
	}
}
