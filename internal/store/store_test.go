package store

import (
	"context"
	"testing"
	"time"

	"tfl-linestats/internal/aggregate"
	"tfl-linestats/internal/diag"
	"tfl-linestats/internal/tfl"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(t.TempDir() + "/linestats.db")
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	if err := s.EnsureSchema(context.Background()); err != nil {
		t.Fatalf("EnsureSchema: %v", err)
	}
	return s
}

func testObservation(id, mode string, ts time.Time, ranks ...int) tfl.Observation {
	o := tfl.Observation{EntityID: id, ObservedAt: ts, RawMode: mode, RawName: id}
	for _, rk := range ranks {
		o.Statuses = append(o.Statuses, tfl.StatusRecord{
			Rank: rk, Description: "status", Category: tfl.CategoryUnknown, Known: true,
		})
	}
	return o
}

func TestSnapshotRoundTrip(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	base := time.Date(2026, 3, 2, 8, 0, 0, 0, time.UTC)

	snaps := [][]tfl.Observation{
		{
			testObservation("victoria", "tube", base, 0),
			testObservation("central", "tube", base, 5, 9),
		},
		{
			testObservation("victoria", "tube", base.Add(5*time.Minute), 1),
		},
	}
	for _, snap := range snaps {
		if err := s.InsertSnapshot(ctx, "", snap); err != nil {
			t.Fatalf("InsertSnapshot: %v", err)
		}
	}

	got, err := s.LoadObservations(ctx, base, base.Add(time.Hour), "", "")
	if err != nil {
		t.Fatalf("LoadObservations: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("got %d entities, want 2: %+v", len(got), got)
	}
	// Ordered by line id: central before victoria.
	if got[0].Entity.ID != "central" || got[1].Entity.ID != "victoria" {
		t.Errorf("entity order = %s, %s", got[0].Entity.ID, got[1].Entity.ID)
	}
	if len(got[0].Observations) != 1 || len(got[0].Observations[0].Statuses) != 2 {
		t.Errorf("central observations = %+v", got[0].Observations)
	}
	if len(got[1].Observations) != 2 {
		t.Fatalf("victoria observations = %+v", got[1].Observations)
	}
	if !got[1].Observations[0].ObservedAt.Equal(base) {
		t.Errorf("first victoria observation at %s, want %s", got[1].Observations[0].ObservedAt, base)
	}
}

func TestLoadObservationsFilters(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	base := time.Date(2026, 3, 2, 8, 0, 0, 0, time.UTC)

	err := s.InsertSnapshot(ctx, "batch-1", []tfl.Observation{
		testObservation("victoria", "tube", base, 0),
		testObservation("rb1", "river-bus", base, 0),
		testObservation("victoria", "tube", base.Add(2*time.Hour), 0), // outside range
	})
	if err != nil {
		t.Fatalf("InsertSnapshot: %v", err)
	}

	byMode, err := s.LoadObservations(ctx, base, base.Add(time.Hour), "tube", "")
	if err != nil {
		t.Fatal(err)
	}
	if len(byMode) != 1 || byMode[0].Entity.ID != "victoria" {
		t.Errorf("mode filter result = %+v", byMode)
	}
	if len(byMode[0].Observations) != 1 {
		t.Errorf("time bound ignored: %+v", byMode[0].Observations)
	}

	byLine, err := s.LoadObservations(ctx, base, base.Add(time.Hour), "", "rb1")
	if err != nil {
		t.Fatal(err)
	}
	if len(byLine) != 1 || byLine[0].Entity.ID != "rb1" {
		t.Errorf("line filter result = %+v", byLine)
	}
}

func TestListModesAndLines(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	base := time.Date(2026, 3, 2, 8, 0, 0, 0, time.UTC)

	err := s.InsertSnapshot(ctx, "batch-1", []tfl.Observation{
		testObservation("victoria", "tube", base, 0),
		testObservation("central", "tube", base, 0),
		testObservation("rb1", "river-bus", base, 0),
	})
	if err != nil {
		t.Fatal(err)
	}

	modes, err := s.ListModes(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(modes) != 2 || modes[0] != "river-bus" || modes[1] != "tube" {
		t.Errorf("modes = %v", modes)
	}

	lines, err := s.ListLines(ctx, "tube")
	if err != nil {
		t.Fatal(err)
	}
	if len(lines) != 2 || lines[0].ID != "central" || lines[1].ID != "victoria" {
		t.Errorf("lines = %+v", lines)
	}
}

func TestWriteMetricsAndDiagnostics(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	metrics := []aggregate.Metric{
		{EntityID: "victoria", Mode: "tube", Bucket: 8, BucketLabel: "08",
			Threshold: 0, Fraction: 0.5, FavorableSeconds: 1800, ObservedSeconds: 3600},
	}
	if err := s.WriteMetrics(ctx, "run-1", metrics); err != nil {
		t.Fatalf("WriteMetrics: %v", err)
	}

	items := []diag.Diagnostic{
		{Kind: diag.UnknownSeverity, EntityID: "tram-1",
			Timestamp: time.Date(2026, 3, 2, 8, 0, 0, 0, time.UTC),
			Detail:    `unrecognized status "Llama Service"`},
		{Kind: diag.MalformedSnapshot, Detail: "snapshot has no timestamp"},
	}
	if err := s.WriteDiagnostics(ctx, "run-1", items); err != nil {
		t.Fatalf("WriteDiagnostics: %v", err)
	}
}

func TestRebindPostgresPlaceholders(t *testing.T) {
	s := &Store{driver: "pgx"}
	got := s.rebind("INSERT INTO t (a, b, c) VALUES (?, ?, ?)")
	want := "INSERT INTO t (a, b, c) VALUES ($1, $2, $3)"
	if got != want {
		t.Errorf("rebind = %q, want %q", got, want)
	}

	s = &Store{driver: "sqlite"}
	q := "SELECT * FROM t WHERE a = ?"
	if got := s.rebind(q); got != q {
		t.Errorf("sqlite rebind should be identity, got %q", got)
	}
}
