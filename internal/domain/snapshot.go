package domain

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// UsageSnapshot accumulates one UTC day of consumption and request
// telemetry for a tenant. It is written incrementally during the day and
// becomes read-only once finalized.
type UsageSnapshot struct {
	TenantID        uuid.UUID `json:"tenantId"`
	PeriodStart     time.Time `json:"periodStart"`
	PeriodEnd       time.Time `json:"periodEnd"`
	Usage           Counters  `json:"usage"`
	Requests        int64     `json:"requests"`
	Errors          int64     `json:"errors"`
	ServerErrors    int64     `json:"serverErrors"`
	TotalResponseMs int64     `json:"totalResponseMs"`
	Finalized       bool      `json:"finalized"`
}

// SnapshotDay returns the UTC day containing t.
func SnapshotDay(t time.Time) (start, end time.Time) {
	t = t.UTC()
	start = time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
	return start, start.AddDate(0, 0, 1)
}

// RequestSample is a single observed request for snapshot accounting.
type RequestSample struct {
	Latency     time.Duration
	Failed      bool // any 4xx/5xx response
	ServerError bool // 5xx only
}

// StatsPeriod is the lookback window of a statistics query.
type StatsPeriod string

const (
	StatsDay   StatsPeriod = "day"
	StatsWeek  StatsPeriod = "week"
	StatsMonth StatsPeriod = "month"
	StatsYear  StatsPeriod = "year"
)

// ParseStatsPeriod validates a period name. An empty string selects month.
func ParseStatsPeriod(s string) (StatsPeriod, error) {
	switch StatsPeriod(s) {
	case "":
		return StatsMonth, nil
	case StatsDay, StatsWeek, StatsMonth, StatsYear:
		return StatsPeriod(s), nil
	}
	return "", Invalid("usage.parse_period", fmt.Sprintf("period must be one of day, week, month, year; got %q", s))
}

// Since returns the start of the lookback window ending at now.
func (p StatsPeriod) Since(now time.Time) time.Time {
	switch p {
	case StatsDay:
		return now.AddDate(0, 0, -1)
	case StatsWeek:
		return now.AddDate(0, 0, -7)
	case StatsYear:
		return now.AddDate(-1, 0, 0)
	default:
		return now.AddDate(0, -1, 0)
	}
}

// UsageStats aggregates snapshots over a lookback window.
type UsageStats struct {
	TenantID          uuid.UUID   `json:"tenantId"`
	Period            StatsPeriod `json:"period"`
	From              time.Time   `json:"from"`
	To                time.Time   `json:"to"`
	Usage             Counters    `json:"usage"`
	Requests          int64       `json:"requests"`
	AvgResponseTimeMs float64     `json:"avgResponseTimeMs"`
	ErrorRate         float64     `json:"errorRate"`
	Uptime            float64     `json:"uptime"`
	Days              int         `json:"days"`
}

// AggregateSnapshots folds snapshots into stats. Rates are percentages;
// uptime is 100 when no requests were observed.
func AggregateSnapshots(snapshots []UsageSnapshot) UsageStats {
	var (
		stats        UsageStats
		errs         int64
		serverErrs   int64
		totalLatency int64
	)
	for _, s := range snapshots {
		stats.Usage.Merge(s.Usage)
		stats.Requests += s.Requests
		errs += s.Errors
		serverErrs += s.ServerErrors
		totalLatency += s.TotalResponseMs
	}
	stats.Days = len(snapshots)
	stats.Uptime = 100
	if stats.Requests > 0 {
		n := float64(stats.Requests)
		stats.AvgResponseTimeMs = float64(totalLatency) / n
		stats.ErrorRate = float64(errs) * 100 / n
		stats.Uptime = float64(stats.Requests-serverErrs) * 100 / n
	}
	return stats
}

// SnapshotDelta is an increment to one tenant-day snapshot, buffered in
// memory and flushed in batches.
type SnapshotDelta struct {
	TenantID        uuid.UUID
	Day             time.Time
	Usage           Counters
	Requests        int64
	Errors          int64
	ServerErrors    int64
	TotalResponseMs int64
}

// IsZero reports whether the delta carries no changes.
func (d SnapshotDelta) IsZero() bool {
	return d.Usage == (Counters{}) && d.Requests == 0 && d.Errors == 0 &&
		d.ServerErrors == 0 && d.TotalResponseMs == 0
}
