package metrics

import (
	"log"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type Collector struct {
	reg *prometheus.Registry

	SnapshotsParsed     prometheus.Counter
	ObservationsLoaded  prometheus.Counter
	EntitiesProcessed   prometheus.Gauge
	IntervalsEmitted    *prometheus.CounterVec // confidence label: observed|interpolated-gap|unknown
	MetricsEmitted      prometheus.Counter
	Diagnostics         *prometheus.CounterVec // kind label
	ReconstructDuration prometheus.Histogram
	AggregateDuration   prometheus.Histogram

	ReportsPublished   prometheus.Counter
	ReportPublishErrs  prometheus.Counter
	PublisherConnected prometheus.Gauge
	PublishDuration    prometheus.Histogram

	GapThresholdSeconds prometheus.Gauge
	GapCeilingSeconds   prometheus.Gauge
	Workers             prometheus.Gauge
}

func NewCollector(gapThreshold, gapCeiling time.Duration, workers int) *Collector {
	reg := prometheus.NewRegistry()

	c := &Collector{
		reg: reg,
		SnapshotsParsed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "linestats_snapshots_parsed_total",
			Help: "Total raw snapshot payloads parsed.",
		}),
		ObservationsLoaded: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "linestats_observations_loaded_total",
			Help: "Total observations fed into reconstruction.",
		}),
		EntitiesProcessed: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "linestats_entities_processed",
			Help: "Entities in the current batch run.",
		}),
		IntervalsEmitted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "linestats_intervals_emitted_total",
			Help: "Reconstructed intervals by confidence.",
		}, []string{"confidence"}),
		MetricsEmitted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "linestats_bucketed_metrics_total",
			Help: "Bucketed metric cells produced.",
		}),
		Diagnostics: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "linestats_diagnostics_total",
			Help: "Anomalies recorded during processing.",
		}, []string{"kind"}),
		ReconstructDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "linestats_reconstruct_duration_seconds",
			Help:    "Per-entity timeline reconstruction duration.",
			Buckets: prometheus.ExponentialBuckets(0.0001, 2, 15),
		}),
		AggregateDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "linestats_aggregate_duration_seconds",
			Help:    "Per-entity aggregation duration.",
			Buckets: prometheus.ExponentialBuckets(0.0001, 2, 15),
		}),
		ReportsPublished: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "linestats_reports_published_total",
			Help: "Ranked reports published.",
		}),
		ReportPublishErrs: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "linestats_report_publish_errors_total",
			Help: "Ranked report publish errors.",
		}),
		PublisherConnected: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "linestats_publisher_connected",
			Help: "1 if the report publisher connection is established.",
		}),
		PublishDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "linestats_publish_duration_seconds",
			Help:    "Duration to marshal and publish a report.",
			Buckets: prometheus.ExponentialBuckets(0.0005, 2, 15),
		}),
		GapThresholdSeconds: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "linestats_gap_threshold_seconds",
			Help: "Configured interpolation gap threshold.",
		}),
		GapCeilingSeconds: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "linestats_gap_ceiling_seconds",
			Help: "Configured unknown-interval gap ceiling.",
		}),
		Workers: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "linestats_workers",
			Help: "Configured per-entity worker count.",
		}),
	}

	reg.MustRegister(
		c.SnapshotsParsed, c.ObservationsLoaded, c.EntitiesProcessed,
		c.IntervalsEmitted, c.MetricsEmitted, c.Diagnostics,
		c.ReconstructDuration, c.AggregateDuration,
		c.ReportsPublished, c.ReportPublishErrs, c.PublisherConnected, c.PublishDuration,
		c.GapThresholdSeconds, c.GapCeilingSeconds, c.Workers,
	)

	c.GapThresholdSeconds.Set(gapThreshold.Seconds())
	c.GapCeilingSeconds.Set(gapCeiling.Seconds())
	c.Workers.Set(float64(workers))

	return c
}

func (c *Collector) Handler() http.Handler { return promhttp.HandlerFor(c.reg, promhttp.HandlerOpts{}) }

// Serve starts an HTTP server exposing /metrics on the given address.
func (c *Collector) Serve(addr string) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", c.Handler())
	srv := &http.Server{Addr: addr, Handler: mux}
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Printf("metrics server error: %v", err)
		}
	}()
	log.Printf("metrics listening on %s", addr)
	return srv
}
