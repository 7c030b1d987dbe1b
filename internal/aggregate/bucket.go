package aggregate

import (
	"fmt"
	"time"
)

// Granularity selects the calendar bucketing for aggregation.
type Granularity string

const (
	BucketNone    Granularity = "none"
	BucketHour    Granularity = "hour"    // hour of day, 0-23
	BucketWeekday Granularity = "weekday" // time.Weekday numbering, 0=Sunday
	BucketMonth   Granularity = "month"   // 1-12
)

// ParseGranularity maps a configuration string to a Granularity.
func ParseGranularity(s string) (Granularity, error) {
	switch Granularity(s) {
	case BucketNone, BucketHour, BucketWeekday, BucketMonth:
		return Granularity(s), nil
	case "":
		return BucketNone, nil
	default:
		return "", fmt.Errorf("unknown bucket granularity %q", s)
	}
}

// BucketLabel renders a bucket key for reports.
func BucketLabel(g Granularity, key int) string {
	switch g {
	case BucketHour:
		return fmt.Sprintf("%02d", key)
	case BucketWeekday:
		return time.Weekday(key).String()
	case BucketMonth:
		return time.Month(key).String()
	default:
		return "all"
	}
}

// bucketKey returns the bucket a local timestamp falls into.
func bucketKey(g Granularity, t time.Time) int {
	switch g {
	case BucketHour:
		return t.Hour()
	case BucketWeekday:
		return int(t.Weekday())
	case BucketMonth:
		return int(t.Month())
	default:
		return 0
	}
}

// nextBoundary returns the first bucket boundary strictly after t. For
// BucketNone there is no boundary.
func nextBoundary(g Granularity, t time.Time) time.Time {
	switch g {
	case BucketHour:
		return time.Date(t.Year(), t.Month(), t.Day(), t.Hour(), 0, 0, 0, t.Location()).Add(time.Hour)
	case BucketWeekday:
		midnight := time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, t.Location())
		return midnight.AddDate(0, 0, 1)
	case BucketMonth:
		return time.Date(t.Year(), t.Month(), 1, 0, 0, 0, 0, t.Location()).AddDate(0, 1, 0)
	default:
		return time.Time{}
	}
}

// span is one bucket-aligned slice of an interval.
type span struct {
	bucket  int
	seconds float64
}

// splitSpans slices [start, end) at bucket boundaries so each bucket's
// duration total is exact. The slice durations always sum to end-start.
func splitSpans(g Granularity, start, end time.Time, loc *time.Location) []span {
	start = start.In(loc)
	end = end.In(loc)
	if g == BucketNone {
		return []span{{bucket: 0, seconds: end.Sub(start).Seconds()}}
	}
	var out []span
	for cur := start; cur.Before(end); {
		next := nextBoundary(g, cur)
		if next.After(end) {
			next = end
		}
		out = append(out, span{bucket: bucketKey(g, cur), seconds: next.Sub(cur).Seconds()})
		cur = next
	}
	return out
}
