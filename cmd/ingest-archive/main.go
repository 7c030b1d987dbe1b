// Command ingest-archive loads an open-data snapshot archive into the
// store: it walks the tar.gz tree in chronological order, normalizes each
// payload against the severity table and inserts the observations batch by
// batch.
package main

import (
	"context"
	"log"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"

	"tfl-linestats/internal/archive"
	"tfl-linestats/internal/config"
	"tfl-linestats/internal/diag"
	"tfl-linestats/internal/metrics"
	"tfl-linestats/internal/severity"
	"tfl-linestats/internal/store"
	"tfl-linestats/internal/tfl"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config error: %v", err)
	}
	if cfg.ArchiveDir == "" {
		log.Fatal("ARCHIVE_DIR must be set")
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	table := severity.DefaultTable()
	if cfg.SeverityTablePath != "" {
		table, err = severity.LoadTable(cfg.SeverityTablePath)
		if err != nil {
			log.Fatalf("severity table error: %v", err)
		}
	}
	reg, err := severity.NewRegistry(table)
	if err != nil {
		log.Fatalf("severity table invalid: %v", err)
	}

	st, err := store.Open(cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("store open error: %v", err)
	}
	defer st.Close()
	if err := st.Ping(ctx); err != nil {
		log.Fatalf("store ping error: %v", err)
	}
	if err := st.EnsureSchema(ctx); err != nil {
		log.Fatalf("schema error: %v", err)
	}

	var mcol *metrics.Collector
	if cfg.MetricsAddr != "" {
		mcol = metrics.NewCollector(cfg.GapThreshold(), cfg.GapCeiling, cfg.Workers)
		srv := mcol.Serve(cfg.MetricsAddr)
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
			defer cancel()
			_ = srv.Shutdown(shutdownCtx)
		}()
	}

	rec := diag.NewRecorder()
	norm := tfl.NewNormalizer(reg, rec)

	// Pick up severity table edits mid-ingestion; long archive loads can
	// outlive a vocabulary fix.
	if cfg.SeverityTablePath != "" {
		go func() {
			if err := severity.Watch(ctx, cfg.SeverityTablePath, norm.SetRegistry); err != nil {
				log.Printf("severity table watch error: %v", err)
			}
		}()
	}

	walker := archive.NewWalker(cfg.ArchiveDir, cfg.Location)
	var snapshots, observations int
	start := time.Now()
	err = walker.Walk(archive.CategoryLines, func(ts time.Time, body []byte) error {
		if err := ctx.Err(); err != nil {
			return err
		}
		lines, err := tfl.ParsePayload(body)
		if err != nil {
			rec.Record(diag.Diagnostic{
				Kind:      diag.MalformedSnapshot,
				Timestamp: ts,
				Detail:    err.Error(),
			})
			log.Printf("skipping undecodable snapshot at %s: %v", ts.Format(time.RFC3339), err)
			return nil
		}
		obs := norm.Snapshot(ts, lines)
		if len(obs) == 0 {
			return nil
		}
		if err := st.InsertSnapshot(ctx, uuid.New().String(), obs); err != nil {
			return err
		}
		if mcol != nil {
			mcol.SnapshotsParsed.Inc()
		}
		snapshots++
		observations += len(obs)
		if snapshots%1000 == 0 {
			log.Printf("ingested %d snapshots (%d observations)", snapshots, observations)
		}
		return nil
	})
	if err != nil {
		log.Fatalf("ingest error: %v", err)
	}

	runID := uuid.New().String()
	if items := rec.Items(); len(items) > 0 {
		if err := st.WriteDiagnostics(ctx, runID, items); err != nil {
			log.Fatalf("write diagnostics error: %v", err)
		}
		for kind, n := range rec.CountByKind() {
			if mcol != nil {
				mcol.Diagnostics.WithLabelValues(string(kind)).Add(float64(n))
			}
			log.Printf("diagnostic %s: %d", kind, n)
		}
	}
	log.Printf("ingested %d snapshots (%d observations) in %s",
		snapshots, observations, time.Since(start).Round(time.Millisecond))
}
