// Package store persists raw observations and derived metrics. It speaks
// both Postgres (pgx) and SQLite (modernc, pure Go) through database/sql;
// the driver is chosen from the DSN scheme.
package store

import (
	"context"
	"database/sql"
	_ "embed"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "github.com/jackc/pgx/v5/stdlib"
	_ "modernc.org/sqlite"

	"tfl-linestats/internal/aggregate"
	"tfl-linestats/internal/diag"
	"tfl-linestats/internal/tfl"
)

//go:embed schema.sql
var schemaSQL string

type Store struct {
	db     *sql.DB
	driver string
}

// Open connects to the snapshot store. A postgres:// or postgresql:// DSN
// selects pgx; anything else is treated as a SQLite path or file: URI.
func Open(dsn string) (*Store, error) {
	driver := "sqlite"
	if strings.HasPrefix(dsn, "postgres://") || strings.HasPrefix(dsn, "postgresql://") {
		driver = "pgx"
	}
	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}
	if driver == "sqlite" {
		// SQLite supports a single writer; serialize through one connection.
		db.SetMaxOpenConns(1)
		db.SetMaxIdleConns(1)
	} else {
		db.SetMaxOpenConns(20)
		db.SetMaxIdleConns(5)
		db.SetConnMaxLifetime(30 * time.Minute)
	}
	return &Store{db: db, driver: driver}, nil
}

func (s *Store) Close() error { return s.db.Close() }

func (s *Store) Ping(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	return s.db.PingContext(ctx)
}

// EnsureSchema creates the tables if they do not exist.
func (s *Store) EnsureSchema(ctx context.Context) error {
	for _, stmt := range strings.Split(schemaSQL, ";") {
		stmt = strings.TrimSpace(stmt)
		if stmt == "" {
			continue
		}
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("ensure schema: %w", err)
		}
	}
	return nil
}

// rebind converts ?-style placeholders to $n for the pgx driver.
func (s *Store) rebind(q string) string {
	if s.driver != "pgx" {
		return q
	}
	var b strings.Builder
	n := 0
	for _, r := range q {
		if r == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

// InsertSnapshot stores one normalized snapshot under a batch id. Line
// vocabulary rows are upserted as a side effect, mirroring how the
// authority's payload interleaves naming and status data.
func (s *Store) InsertSnapshot(ctx context.Context, batchID string, obs []tfl.Observation) error {
	if batchID == "" {
		batchID = uuid.New().String()
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin snapshot tx: %w", err)
	}
	defer tx.Rollback()

	upsertLine := s.rebind(`INSERT INTO lines (line_id, name, mode) VALUES (?, ?, ?)
		ON CONFLICT (line_id) DO UPDATE SET name = excluded.name, mode = excluded.mode`)
	insertObs := s.rebind(`INSERT INTO observations
		(observation_id, batch_id, line_id, raw_mode, raw_name, observed_at_utc)
		VALUES (?, ?, ?, ?, ?, ?)`)
	insertStatus := s.rebind(`INSERT INTO observation_statuses
		(observation_id, severity_rank, description, reason, category, known)
		VALUES (?, ?, ?, ?, ?, ?)`)

	for _, o := range obs {
		if _, err := tx.ExecContext(ctx, upsertLine, o.EntityID, o.RawName, o.RawMode); err != nil {
			return fmt.Errorf("upsert line %s: %w", o.EntityID, err)
		}
		obsID := uuid.New().String()
		if _, err := tx.ExecContext(ctx, insertObs,
			obsID, batchID, o.EntityID, o.RawMode, o.RawName,
			o.ObservedAt.UTC().Format(time.RFC3339)); err != nil {
			return fmt.Errorf("insert observation for %s: %w", o.EntityID, err)
		}
		for _, st := range o.Statuses {
			known := 0
			if st.Known {
				known = 1
			}
			if _, err := tx.ExecContext(ctx, insertStatus,
				obsID, st.Rank, st.Description, st.Reason, string(st.Category), known); err != nil {
				return fmt.Errorf("insert status for %s: %w", o.EntityID, err)
			}
		}
	}
	return tx.Commit()
}

// EntityObservations is one entity's chronological observation sequence.
type EntityObservations struct {
	Entity       tfl.Entity
	Observations []tfl.Observation
}

// LoadObservations returns observations in [from, to), grouped per entity
// and ordered by time. Empty mode/line filters match everything.
func (s *Store) LoadObservations(ctx context.Context, from, to time.Time, mode, line string) ([]EntityObservations, error) {
	q := `SELECT o.observation_id, o.line_id, l.name, l.mode, o.raw_mode, o.raw_name,
		o.observed_at_utc, st.severity_rank, st.description, st.reason, st.category, st.known
		FROM observations o
		JOIN lines l ON l.line_id = o.line_id
		JOIN observation_statuses st ON st.observation_id = o.observation_id
		WHERE o.observed_at_utc >= ? AND o.observed_at_utc < ?`
	args := []any{from.UTC().Format(time.RFC3339), to.UTC().Format(time.RFC3339)}
	if mode != "" {
		q += ` AND l.mode = ?`
		args = append(args, mode)
	}
	if line != "" {
		q += ` AND o.line_id = ?`
		args = append(args, line)
	}
	q += ` ORDER BY o.line_id, o.observed_at_utc, st.severity_rank`

	rows, err := s.db.QueryContext(ctx, s.rebind(q), args...)
	if err != nil {
		return nil, fmt.Errorf("query observations: %w", err)
	}
	defer rows.Close()

	var out []EntityObservations
	var curEntity *EntityObservations
	var curObsID string
	for rows.Next() {
		var obsID, lineID, name, lineMode, rawMode, rawName, observedAt string
		var st tfl.StatusRecord
		var category string
		var known int
		if err := rows.Scan(&obsID, &lineID, &name, &lineMode, &rawMode, &rawName,
			&observedAt, &st.Rank, &st.Description, &st.Reason, &category, &known); err != nil {
			return nil, err
		}
		st.Category = tfl.Category(category)
		st.Known = known != 0

		if curEntity == nil || curEntity.Entity.ID != lineID {
			out = append(out, EntityObservations{
				Entity: tfl.Entity{ID: lineID, Name: name, Mode: lineMode},
			})
			curEntity = &out[len(out)-1]
			curObsID = ""
		}
		if obsID != curObsID {
			ts, err := time.Parse(time.RFC3339, observedAt)
			if err != nil {
				return nil, fmt.Errorf("bad observation timestamp %q: %w", observedAt, err)
			}
			curEntity.Observations = append(curEntity.Observations, tfl.Observation{
				EntityID:   lineID,
				ObservedAt: ts,
				RawMode:    rawMode,
				RawName:    rawName,
			})
			curObsID = obsID
		}
		obs := &curEntity.Observations[len(curEntity.Observations)-1]
		obs.Statuses = append(obs.Statuses, st)
	}
	return out, rows.Err()
}

// ListModes returns the distinct modes present in the line vocabulary.
func (s *Store) ListModes(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT DISTINCT mode FROM lines ORDER BY mode`)
	if err != nil {
		return nil, fmt.Errorf("query modes: %w", err)
	}
	defer rows.Close()
	var out []string
	for rows.Next() {
		var m string
		if err := rows.Scan(&m); err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

// ListLines returns the known lines for a mode, ordered by id.
func (s *Store) ListLines(ctx context.Context, mode string) ([]tfl.Entity, error) {
	rows, err := s.db.QueryContext(ctx,
		s.rebind(`SELECT line_id, name, mode FROM lines WHERE mode = ? ORDER BY line_id`), mode)
	if err != nil {
		return nil, fmt.Errorf("query lines: %w", err)
	}
	defer rows.Close()
	var out []tfl.Entity
	for rows.Next() {
		var e tfl.Entity
		if err := rows.Scan(&e.ID, &e.Name, &e.Mode); err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// WriteMetrics persists one run's bucketed metrics.
func (s *Store) WriteMetrics(ctx context.Context, runID string, metrics []aggregate.Metric) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin metrics tx: %w", err)
	}
	defer tx.Rollback()

	q := s.rebind(`INSERT INTO bucketed_metrics
		(run_id, line_id, mode, bucket, bucket_label, threshold, fraction,
		 favorable_seconds, observed_seconds, interpolated_seconds, unknown_seconds)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	for _, m := range metrics {
		if _, err := tx.ExecContext(ctx, q, runID, m.EntityID, m.Mode, m.Bucket,
			m.BucketLabel, m.Threshold, m.Fraction, m.FavorableSeconds,
			m.ObservedSeconds, m.InterpolatedSeconds, m.UnknownSeconds); err != nil {
			return fmt.Errorf("insert metric: %w", err)
		}
	}
	return tx.Commit()
}

// WriteDiagnostics persists one run's anomaly records.
func (s *Store) WriteDiagnostics(ctx context.Context, runID string, items []diag.Diagnostic) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin diagnostics tx: %w", err)
	}
	defer tx.Rollback()

	q := s.rebind(`INSERT INTO diagnostics (run_id, kind, line_id, at_utc, detail)
		VALUES (?, ?, ?, ?, ?)`)
	for _, d := range items {
		at := ""
		if !d.Timestamp.IsZero() {
			at = d.Timestamp.UTC().Format(time.RFC3339)
		}
		if _, err := tx.ExecContext(ctx, q, runID, string(d.Kind), d.EntityID, at, d.Detail); err != nil {
			return fmt.Errorf("insert diagnostic: %w", err)
		}
	}
	return tx.Commit()
}
