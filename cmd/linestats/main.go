package main

import (
	"context"
	"log"
	"os/signal"
	"syscall"
	"time"

	"tfl-linestats/internal/config"
	"tfl-linestats/internal/diag"
	"tfl-linestats/internal/metrics"
	"tfl-linestats/internal/pipeline"
	"tfl-linestats/internal/publisher"
	"tfl-linestats/internal/store"
)

func main() {
	// Load configuration from .env and environment
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config error: %v", err)
	}

	// Root context with cancellation on SIGINT/SIGTERM
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

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

	// Metrics setup
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

	// Report publisher; empty NATS_URL runs the batch without publishing
	var pub *publisher.NATSPublisher
	if cfg.NATSURL != "" {
		pub, err = publisher.NewNATSPublisher(cfg.NATSURL, cfg.NATSSubjectPrefix, cfg.LogNATSSubjects, wrapPublisherMetrics(mcol))
		if err != nil {
			log.Fatalf("nats error: %v", err)
		}
		defer pub.Close()
	}

	runner := pipeline.NewRunner(st, pipeline.Config{
		From:         cfg.From,
		To:           cfg.To,
		GapThreshold: cfg.GapThreshold(),
		GapCeiling:   cfg.GapCeiling,
		GapPolicy:    cfg.GapPolicy,
		Granularity:  cfg.Bucket,
		Thresholds:   cfg.Thresholds,
		Location:     cfg.Location,
		Mode:         cfg.Mode,
		Line:         cfg.Line,
		Workers:      cfg.Workers,
		TopN:         cfg.TopN,
	}, mcol)

	log.Printf("aggregating %s to %s (bucket=%s policy=%s thresholds=%v)",
		cfg.From.Format(time.RFC3339), cfg.To.Format(time.RFC3339),
		cfg.Bucket, cfg.GapPolicy, cfg.Thresholds)

	report, err := runner.Run(ctx)
	if err != nil {
		log.Fatalf("run error: %v", err)
	}
	log.Printf("run %s: %d entity cells, %d mode cells, %d diagnostics",
		report.RunID, len(report.PerEntity), len(report.PerMode), len(report.Diagnostics))

	if err := st.WriteMetrics(ctx, report.RunID, report.PerEntity); err != nil {
		log.Fatalf("write entity metrics error: %v", err)
	}
	if err := st.WriteMetrics(ctx, report.RunID, report.PerMode); err != nil {
		log.Fatalf("write mode metrics error: %v", err)
	}
	if err := st.WriteDiagnostics(ctx, report.RunID, report.Diagnostics); err != nil {
		log.Fatalf("write diagnostics error: %v", err)
	}

	if pub != nil {
		counts := countByKind(report.Diagnostics)
		for _, rk := range report.Rankings {
			msg := publisher.ReportMessage{
				RunID:       report.RunID,
				GeneratedAt: report.GeneratedAt,
				Mode:        rk.Mode,
				BucketLabel: "all",
				Threshold:   rk.Threshold,
				Best:        rk.Best,
				Worst:       rk.Worst,
				Diagnostics: counts,
			}
			if err := pub.PublishReport(msg); err != nil {
				log.Printf("publish report for mode %s: %v", rk.Mode, err)
			}
		}
	}

	log.Println("run complete")
}

func countByKind(items []diag.Diagnostic) map[string]int {
	if len(items) == 0 {
		return nil
	}
	out := make(map[string]int)
	for _, d := range items {
		out[string(d.Kind)]++
	}
	return out
}

// wrapPublisherMetrics adapts our Collector to the PublisherMetrics interface.
func wrapPublisherMetrics(c *metrics.Collector) publisher.PublisherMetrics {
	if c == nil {
		return nil
	}
	return &pubMetrics{c: c}
}

type pubMetrics struct{ c *metrics.Collector }

func (p *pubMetrics) ReportPublishedInc()            { p.c.ReportsPublished.Inc() }
func (p *pubMetrics) ReportPublishErrInc()           { p.c.ReportPublishErrs.Inc() }
func (p *pubMetrics) PublishObserve(d time.Duration) { p.c.PublishDuration.Observe(d.Seconds()) }
func (p *pubMetrics) SetConnected(b bool) {
	if b {
		p.c.PublisherConnected.Set(1)
	} else {
		p.c.PublisherConnected.Set(0)
	}
}
