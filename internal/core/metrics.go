package core

import (
	"context"
	"database/sql"
	"fmt"
	"math"
	"strings"
	"time"
)

// errorRules is the ordered list of known log substrings. First match wins;
// rule order is the tie-break, so additions must preserve it. This is
// operator-facing triage, intentionally approximate.
var errorRules = []struct {
	Substr   string
	Category string
}{
	{"export", "export_failure"},
	{"timed out", "timeout"},
	{"timeout", "timeout"},
	{"network", "network_error"},
	{"connection", "network_error"},
	{"exception", "exception"},
	{"panic", "exception"},
}

const (
	errorCategoryUnknown = "unknown"
	errorCategoryOther   = "other"
)

const (
	TrendFaster = "faster"
	TrendSlower = "slower"
	TrendStable = "stable"

	trendStableBandPct = 5.0
)

type QueueDepth struct {
	NeverStarted      int64 `json:"never_started"`
	StartedStale      int64 `json:"started_stale"`
	InFlight          int64 `json:"in_flight"`
	RecentlyCompleted int64 `json:"recently_completed"`
}

type CompletionStats struct {
	Succeeded      int64 `json:"succeeded"`
	Failed         int64 `json:"failed"`
	SuccessRatePct *int  `json:"success_rate_pct"`
}

type DurationTrend struct {
	CurrentAvgMS  *int64 `json:"current_avg_ms"`
	PreviousAvgMS *int64 `json:"previous_avg_ms"`
	Trend         string `json:"trend"`
}

type ErrorBucket struct {
	Category string `json:"category"`
	Count    int64  `json:"count"`
}

type DesignCount struct {
	DesignID  string `json:"design_id"`
	Name      string `json:"name"`
	Algorithm string `json:"algorithm"`
	Count     int64  `json:"count"`
}

type MetricsSnapshot struct {
	GeneratedAt      time.Time     `json:"generated_at"`
	Queue            QueueDepth    `json:"queue"`
	Last24h          CompletionStats `json:"last_24h"`
	Duration         DurationTrend `json:"duration"`
	HourlyThroughput []int64       `json:"hourly_throughput"`
	Errors           []ErrorBucket `json:"errors"`
	DesignCounts     []DesignCount `json:"design_counts"`
}

// MetricsAggregator computes read-only rollups over the job store. Safe to
// run concurrently and frequently; it mutates nothing.
type MetricsAggregator struct {
	db        *sql.DB
	staleness time.Duration
	now       func() time.Time
}

func NewMetricsAggregator(database *sql.DB, staleness time.Duration) *MetricsAggregator {
	return &MetricsAggregator{
		db:        database,
		staleness: staleness,
		now:       time.Now,
	}
}

func (a *MetricsAggregator) Snapshot(ctx context.Context) (*MetricsSnapshot, error) {
	now := a.now().UTC()
	dayAgo := now.Add(-24 * time.Hour)
	twoDaysAgo := now.Add(-48 * time.Hour)
	weekAgo := now.Add(-7 * 24 * time.Hour)
	staleBefore := now.Add(-a.staleness)

	snap := &MetricsSnapshot{
		GeneratedAt:      now,
		HourlyThroughput: make([]int64, 24),
		Errors:           []ErrorBucket{},
		DesignCounts:     []DesignCount{},
	}

	if err := a.queueDepth(ctx, snap, dayAgo, staleBefore); err != nil {
		return nil, err
	}
	if err := a.completionStats(ctx, snap, dayAgo); err != nil {
		return nil, err
	}
	if err := a.durationTrend(ctx, snap, now, dayAgo, twoDaysAgo); err != nil {
		return nil, err
	}
	if err := a.hourlyThroughput(ctx, snap, now, dayAgo); err != nil {
		return nil, err
	}
	if err := a.errorBuckets(ctx, snap, dayAgo); err != nil {
		return nil, err
	}
	if err := a.designCounts(ctx, snap, weekAgo); err != nil {
		return nil, err
	}
	return snap, nil
}

func (a *MetricsAggregator) queueDepth(ctx context.Context, snap *MetricsSnapshot, dayAgo, staleBefore time.Time) error {
	queries := []struct {
		dest  *int64
		query string
		args  []interface{}
	}{
		{&snap.Queue.NeverStarted,
			"SELECT COUNT(*) FROM processing_jobs WHERE enabled = 1 AND started_at IS NULL", nil},
		{&snap.Queue.StartedStale,
			"SELECT COUNT(*) FROM processing_jobs WHERE enabled = 1 AND started_at IS NOT NULL AND completed_at IS NULL AND started_at < ?",
			[]interface{}{staleBefore}},
		{&snap.Queue.InFlight,
			"SELECT COUNT(*) FROM processing_jobs WHERE enabled = 1 AND started_at IS NOT NULL AND completed_at IS NULL AND started_at >= ?",
			[]interface{}{staleBefore}},
		{&snap.Queue.RecentlyCompleted,
			"SELECT COUNT(*) FROM processing_jobs WHERE enabled = 1 AND completed_at IS NOT NULL AND completed_at >= ?",
			[]interface{}{dayAgo}},
	}

	for _, q := range queries {
		if err := a.db.QueryRowContext(ctx, q.query, q.args...).Scan(q.dest); err != nil {
			return fmt.Errorf("failed to compute queue depth: %w", err)
		}
	}
	return nil
}

func (a *MetricsAggregator) completionStats(ctx context.Context, snap *MetricsSnapshot, dayAgo time.Time) error {
	err := a.db.QueryRowContext(ctx, `
		SELECT
			COALESCE(SUM(CASE WHEN succeeded = 1 THEN 1 ELSE 0 END), 0),
			COALESCE(SUM(CASE WHEN succeeded = 0 THEN 1 ELSE 0 END), 0)
		FROM processing_jobs
		WHERE enabled = 1 AND completed_at IS NOT NULL AND completed_at >= ?
	`, dayAgo).Scan(&snap.Last24h.Succeeded, &snap.Last24h.Failed)
	if err != nil {
		return fmt.Errorf("failed to compute completion stats: %w", err)
	}

	total := snap.Last24h.Succeeded + snap.Last24h.Failed
	if total > 0 {
		rate := int(math.Round(float64(snap.Last24h.Succeeded) / float64(total) * 100))
		snap.Last24h.SuccessRatePct = &rate
	}
	return nil
}

func (a *MetricsAggregator) durationTrend(ctx context.Context, snap *MetricsSnapshot, now, dayAgo, twoDaysAgo time.Time) error {
	current, err := a.avgDurationMS(ctx, dayAgo, now)
	if err != nil {
		return err
	}
	previous, err := a.avgDurationMS(ctx, twoDaysAgo, dayAgo)
	if err != nil {
		return err
	}

	snap.Duration.CurrentAvgMS = current
	snap.Duration.PreviousAvgMS = previous
	snap.Duration.Trend = trendLabel(current, previous)
	return nil
}

func (a *MetricsAggregator) avgDurationMS(ctx context.Context, from, to time.Time) (*int64, error) {
	var avg sql.NullFloat64
	err := a.db.QueryRowContext(ctx, `
		SELECT AVG((julianday(completed_at) - julianday(started_at)) * 86400000.0)
		FROM processing_jobs
		WHERE enabled = 1 AND started_at IS NOT NULL AND completed_at IS NOT NULL
		AND completed_at >= ? AND completed_at < ?
	`, from, to).Scan(&avg)
	if err != nil {
		return nil, fmt.Errorf("failed to compute average duration: %w", err)
	}
	if !avg.Valid {
		return nil, nil
	}
	ms := int64(avg.Float64)
	return &ms, nil
}

// trendLabel compares the trailing window against the one before it. A delta
// of exactly the stable band counts as stable, never faster or slower.
func trendLabel(current, previous *int64) string {
	if current == nil || previous == nil || *previous == 0 {
		return TrendStable
	}
	deltaPct := (float64(*current) - float64(*previous)) / float64(*previous) * 100
	if math.Abs(deltaPct) <= trendStableBandPct {
		return TrendStable
	}
	if deltaPct < 0 {
		return TrendFaster
	}
	return TrendSlower
}

func (a *MetricsAggregator) hourlyThroughput(ctx context.Context, snap *MetricsSnapshot, now, dayAgo time.Time) error {
	rows, err := a.db.QueryContext(ctx, `
		SELECT completed_at FROM processing_jobs
		WHERE enabled = 1 AND completed_at IS NOT NULL AND completed_at >= ?
	`, dayAgo)
	if err != nil {
		return fmt.Errorf("failed to compute throughput: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var completedAt time.Time
		if err := rows.Scan(&completedAt); err != nil {
			return fmt.Errorf("failed to scan completed_at: %w", err)
		}
		bucket := int(now.Sub(completedAt).Hours())
		if bucket < 0 || bucket > 23 {
			continue
		}
		snap.HourlyThroughput[bucket]++
	}
	return rows.Err()
}

func (a *MetricsAggregator) errorBuckets(ctx context.Context, snap *MetricsSnapshot, dayAgo time.Time) error {
	rows, err := a.db.QueryContext(ctx, `
		SELECT processing_log FROM processing_jobs
		WHERE enabled = 1 AND completed_at IS NOT NULL AND succeeded = 0 AND completed_at >= ?
	`, dayAgo)
	if err != nil {
		return fmt.Errorf("failed to classify errors: %w", err)
	}
	defer rows.Close()

	counts := make(map[string]int64)
	for rows.Next() {
		var logText string
		if err := rows.Scan(&logText); err != nil {
			return fmt.Errorf("failed to scan processing log: %w", err)
		}
		counts[ClassifyError(logText)]++
	}
	if err := rows.Err(); err != nil {
		return err
	}

	// Emit in rule order so the output is deterministic.
	seen := make(map[string]bool)
	for _, rule := range errorRules {
		if seen[rule.Category] {
			continue
		}
		seen[rule.Category] = true
		if counts[rule.Category] > 0 {
			snap.Errors = append(snap.Errors, ErrorBucket{Category: rule.Category, Count: counts[rule.Category]})
		}
	}
	for _, category := range []string{errorCategoryOther, errorCategoryUnknown} {
		if counts[category] > 0 {
			snap.Errors = append(snap.Errors, ErrorBucket{Category: category, Count: counts[category]})
		}
	}
	return nil
}

// ClassifyError maps a processing log to a triage category by ordered
// substring match.
func ClassifyError(logText string) string {
	if strings.TrimSpace(logText) == "" {
		return errorCategoryUnknown
	}
	lower := strings.ToLower(logText)
	for _, rule := range errorRules {
		if strings.Contains(lower, rule.Substr) {
			return rule.Category
		}
	}
	return errorCategoryOther
}

func (a *MetricsAggregator) designCounts(ctx context.Context, snap *MetricsSnapshot, weekAgo time.Time) error {
	rows, err := a.db.QueryContext(ctx, `
		SELECT j.design_id, d.name, d.algorithm, COUNT(*) AS count
		FROM processing_jobs j
		JOIN designs d ON d.id = j.design_id
		WHERE j.enabled = 1 AND j.created_at >= ?
		GROUP BY j.design_id
		ORDER BY count DESC, d.name ASC
	`, weekAgo)
	if err != nil {
		return fmt.Errorf("failed to compute design counts: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var dc DesignCount
		if err := rows.Scan(&dc.DesignID, &dc.Name, &dc.Algorithm, &dc.Count); err != nil {
			return fmt.Errorf("failed to scan design count: %w", err)
		}
		snap.DesignCounts = append(snap.DesignCounts, dc)
	}
	return rows.Err()
}
