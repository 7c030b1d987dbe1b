package config

import (
	"errors"
	"fmt"
	"os"
	"runtime"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"tfl-linestats/internal/aggregate"
)

type Config struct {
	DatabaseURL string

	NATSURL           string
	NATSSubjectPrefix string
	LogNATSSubjects   bool

	MetricsAddr string
	Location    *time.Location

	// PollInterval is the cadence the upstream poller is expected to run
	// at; the gap threshold is derived from it.
	PollInterval       time.Duration
	GapToleranceFactor float64
	GapCeiling         time.Duration
	GapPolicy          aggregate.GapPolicy

	SeverityTablePath string
	Thresholds        []int
	Bucket            aggregate.Granularity

	From, To time.Time
	Mode     string
	Line     string

	Workers int
	TopN    int

	ArchiveDir string
}

// GapThreshold is the longest observation spacing still treated as a
// normal poll.
func (c *Config) GapThreshold() time.Duration {
	return time.Duration(float64(c.PollInterval) * c.GapToleranceFactor)
}

func Load() (*Config, error) {
	// Load .env into environment (ignore if missing)
	_ = godotenv.Load()

	cfg := &Config{}

	// Store DSN: postgres URL, or a SQLite path for local analysis
	dsn := firstNonEmpty(
		os.Getenv("DATABASE_URL"),
		os.Getenv("PG_DSN"),
		os.Getenv("SQLITE_PATH"),
	)
	if dsn == "" {
		return nil, errors.New("DATABASE_URL, PG_DSN or SQLITE_PATH must be set")
	}
	cfg.DatabaseURL = dsn

	// NATS publishing; empty NATS_URL disables it
	cfg.NATSURL = os.Getenv("NATS_URL")
	cfg.NATSSubjectPrefix = getenvDefault("NATS_SUBJECT_PREFIX", "linestats.reports")
	if v := os.Getenv("LOG_NATS_SUBJECTS"); v != "" {
		switch strings.ToLower(strings.TrimSpace(v)) {
		case "1", "true", "t", "yes", "y", "on":
			cfg.LogNATSSubjects = true
		}
	}

	// Metrics listen address (e.g., ":9102"). Empty disables the metrics server.
	cfg.MetricsAddr = os.Getenv("METRICS_ADDR")

	// Time zone for calendar bucketing
	tzName := getenvDefault("TZ", "")
	if tzName == "" {
		cfg.Location = time.Local
	} else {
		loc, err := time.LoadLocation(tzName)
		if err != nil {
			return nil, fmt.Errorf("invalid TZ: %v", err)
		}
		cfg.Location = loc
	}

	// Expected polling cadence
	if v := os.Getenv("POLL_INTERVAL_SEC"); v != "" {
		sec, err := strconv.Atoi(v)
		if err != nil || sec <= 0 {
			return nil, fmt.Errorf("invalid POLL_INTERVAL_SEC: %q", v)
		}
		cfg.PollInterval = time.Duration(sec) * time.Second
	} else {
		cfg.PollInterval = 5 * time.Minute
	}

	// Gap tolerance factor: threshold = cadence x factor
	if v := os.Getenv("GAP_TOLERANCE_FACTOR"); v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil || f < 1 {
			return nil, fmt.Errorf("invalid GAP_TOLERANCE_FACTOR: %q", v)
		}
		cfg.GapToleranceFactor = f
	} else {
		cfg.GapToleranceFactor = 2.0
	}

	// Hard ceiling beyond which no status is assumed
	if v := os.Getenv("GAP_CEILING_MIN"); v != "" {
		min, err := strconv.Atoi(v)
		if err != nil || min <= 0 {
			return nil, fmt.Errorf("invalid GAP_CEILING_MIN: %q", v)
		}
		cfg.GapCeiling = time.Duration(min) * time.Minute
	} else {
		cfg.GapCeiling = 6 * time.Hour
	}

	policy, ok := aggregate.ParseGapPolicy(os.Getenv("GAP_POLICY"))
	if !ok {
		return nil, fmt.Errorf("invalid GAP_POLICY: %q", os.Getenv("GAP_POLICY"))
	}
	cfg.GapPolicy = policy

	cfg.SeverityTablePath = os.Getenv("SEVERITY_TABLE")

	// Severity thresholds as registry ranks, comma separated
	for _, tok := range strings.Split(getenvDefault("THRESHOLDS", "0"), ",") {
		tok = strings.TrimSpace(tok)
		if tok == "" {
			continue
		}
		rank, err := strconv.Atoi(tok)
		if err != nil || rank < 0 {
			return nil, fmt.Errorf("invalid THRESHOLDS entry: %q", tok)
		}
		cfg.Thresholds = append(cfg.Thresholds, rank)
	}
	if len(cfg.Thresholds) == 0 {
		cfg.Thresholds = []int{0}
	}

	bucket, err := aggregate.ParseGranularity(os.Getenv("BUCKET"))
	if err != nil {
		return nil, err
	}
	cfg.Bucket = bucket

	// Aggregation horizon; default is the last 24 hours
	now := time.Now().In(cfg.Location)
	cfg.To = now
	if v := os.Getenv("TO"); v != "" {
		t, err := parseTimeFlexible(v, cfg.Location)
		if err != nil {
			return nil, fmt.Errorf("invalid TO: %v", err)
		}
		cfg.To = t
	}
	cfg.From = cfg.To.Add(-24 * time.Hour)
	if v := os.Getenv("FROM"); v != "" {
		t, err := parseTimeFlexible(v, cfg.Location)
		if err != nil {
			return nil, fmt.Errorf("invalid FROM: %v", err)
		}
		cfg.From = t
	}
	if !cfg.To.After(cfg.From) {
		return nil, fmt.Errorf("TO (%s) must be after FROM (%s)", cfg.To, cfg.From)
	}

	cfg.Mode = os.Getenv("MODE")
	cfg.Line = os.Getenv("LINE")

	if v := os.Getenv("WORKERS"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			return nil, fmt.Errorf("invalid WORKERS: %q", v)
		}
		cfg.Workers = n
	} else {
		cfg.Workers = runtime.GOMAXPROCS(0)
	}

	if v := os.Getenv("TOP_N"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			return nil, fmt.Errorf("invalid TOP_N: %q", v)
		}
		cfg.TopN = n
	} else {
		cfg.TopN = 5
	}

	cfg.ArchiveDir = os.Getenv("ARCHIVE_DIR")

	return cfg, nil
}

// parseTimeFlexible accepts RFC3339 or a plain date interpreted in loc.
func parseTimeFlexible(s string, loc *time.Location) (time.Time, error) {
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t, nil
	}
	return time.ParseInLocation("2006-01-02", s, loc)
}

func getenvDefault(k, def string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return def
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}
