package core

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/orthofab/printflow/internal/db"
)

func TestClassifyError(t *testing.T) {
	tests := []struct {
		log      string
		category string
	}{
		{"STL export crashed", "export_failure"},
		{"request timed out after 30s", "timeout"},
		{"timeout waiting for mesher", "timeout"},
		{"network unreachable", "network_error"},
		{"connection refused by geometry service", "network_error"},
		{"unhandled exception in solver", "exception"},
		{"panic: nil deref", "exception"},
		{"disk full", "other"},
		{"", "unknown"},
		{"   \n", "unknown"},
		// Rule order is the tie-break: export outranks timeout.
		{"export timed out", "export_failure"},
	}

	for _, tc := range tests {
		assert.Equal(t, tc.category, ClassifyError(tc.log), "log: %q", tc.log)
	}
}

func TestTrendLabel(t *testing.T) {
	ms := func(v int64) *int64 { return &v }

	tests := []struct {
		name     string
		current  *int64
		previous *int64
		want     string
	}{
		{"no current", nil, ms(100), TrendStable},
		{"no previous", ms(100), nil, TrendStable},
		{"previous zero", ms(100), ms(0), TrendStable},
		{"within band", ms(104), ms(100), TrendStable},
		{"exactly at band", ms(105), ms(100), TrendStable},
		{"slower", ms(106), ms(100), TrendSlower},
		{"faster", ms(90), ms(100), TrendFaster},
		{"equal", ms(100), ms(100), TrendStable},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, trendLabel(tc.current, tc.previous))
		})
	}
}

func setupMetrics(t *testing.T) (*MetricsAggregator, time.Time) {
	t.Helper()

	require.NoError(t, db.Init(db.Config{Path: ":memory:"}))
	t.Cleanup(func() { db.Close() })

	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	agg := NewMetricsAggregator(db.GetDB(), 10*time.Minute)
	agg.now = func() time.Time { return now }
	return agg, now
}

func insertCompletedJob(t *testing.T, designID string, startedAt, completedAt time.Time, succeeded bool, logText string) {
	t.Helper()

	id := uuid.NewString()
	_, err := db.GetDB().Exec(`
		INSERT INTO processing_jobs
			(id, owner_org, creator, design_id, schema_version, params_json,
			 processing_log, succeeded, created_at, started_at, completed_at)
		VALUES (?, 'clinic-a', 'tester', ?, 1, '{}', ?, ?, ?, ?, ?)
	`, id, designID, logText, succeeded, startedAt, startedAt, completedAt)
	require.NoError(t, err)
}

func TestSnapshotEmptyDatabase(t *testing.T) {
	agg, now := setupMetrics(t)

	snap, err := agg.Snapshot(context.Background())
	require.NoError(t, err)

	assert.Equal(t, now, snap.GeneratedAt)
	assert.Equal(t, int64(0), snap.Queue.NeverStarted)
	assert.Nil(t, snap.Last24h.SuccessRatePct)
	assert.Equal(t, TrendStable, snap.Duration.Trend)
	assert.Len(t, snap.HourlyThroughput, 24)
	assert.Empty(t, snap.Errors)
	assert.Empty(t, snap.DesignCounts)
}

func TestSnapshotSuccessRate(t *testing.T) {
	agg, now := setupMetrics(t)
	design := createTestDesign(t)

	for i := 0; i < 3; i++ {
		insertCompletedJob(t, design.ID, now.Add(-2*time.Hour), now.Add(-time.Hour), true, "ok")
	}
	insertCompletedJob(t, design.ID, now.Add(-2*time.Hour), now.Add(-time.Hour), false, "export failed")

	snap, err := agg.Snapshot(context.Background())
	require.NoError(t, err)

	assert.Equal(t, int64(3), snap.Last24h.Succeeded)
	assert.Equal(t, int64(1), snap.Last24h.Failed)
	require.NotNil(t, snap.Last24h.SuccessRatePct)
	assert.Equal(t, 75, *snap.Last24h.SuccessRatePct)
}

func TestSnapshotQueueDepth(t *testing.T) {
	agg, now := setupMetrics(t)
	design := createTestDesign(t)
	ctx := context.Background()

	// One never started, one in flight, one stale, one completed.
	require.NoError(t, db.Jobs.CreateJob(ctx, &db.ProcessingJob{
		ID: uuid.NewString(), OwnerOrg: "clinic-a", DesignID: design.ID, CreatedAt: now,
	}))

	inFlightStart := now.Add(-time.Minute)
	staleStart := now.Add(-time.Hour)
	for _, start := range []time.Time{inFlightStart, staleStart} {
		id := uuid.NewString()
		_, err := db.GetDB().Exec(`
			INSERT INTO processing_jobs
				(id, owner_org, creator, design_id, schema_version, params_json, created_at, started_at)
			VALUES (?, 'clinic-a', 'tester', ?, 1, '{}', ?, ?)
		`, id, design.ID, start, start)
		require.NoError(t, err)
	}

	insertCompletedJob(t, design.ID, now.Add(-2*time.Hour), now.Add(-time.Hour), true, "ok")

	snap, err := agg.Snapshot(ctx)
	require.NoError(t, err)

	assert.Equal(t, int64(1), snap.Queue.NeverStarted)
	assert.Equal(t, int64(1), snap.Queue.InFlight)
	assert.Equal(t, int64(1), snap.Queue.StartedStale)
	assert.Equal(t, int64(1), snap.Queue.RecentlyCompleted)
}

func TestSnapshotHourlyThroughput(t *testing.T) {
	agg, now := setupMetrics(t)
	design := createTestDesign(t)

	// Two completions 30 minutes ago, one 5.5 hours ago.
	insertCompletedJob(t, design.ID, now.Add(-time.Hour), now.Add(-30*time.Minute), true, "")
	insertCompletedJob(t, design.ID, now.Add(-time.Hour), now.Add(-30*time.Minute), true, "")
	insertCompletedJob(t, design.ID, now.Add(-6*time.Hour), now.Add(-330*time.Minute), true, "")

	snap, err := agg.Snapshot(context.Background())
	require.NoError(t, err)

	require.Len(t, snap.HourlyThroughput, 24)
	assert.Equal(t, int64(2), snap.HourlyThroughput[0])
	assert.Equal(t, int64(1), snap.HourlyThroughput[5])
}

func TestSnapshotErrorBuckets(t *testing.T) {
	agg, now := setupMetrics(t)
	design := createTestDesign(t)

	insertCompletedJob(t, design.ID, now.Add(-2*time.Hour), now.Add(-time.Hour), false, "export died")
	insertCompletedJob(t, design.ID, now.Add(-2*time.Hour), now.Add(-time.Hour), false, "connection reset")
	insertCompletedJob(t, design.ID, now.Add(-2*time.Hour), now.Add(-time.Hour), false, "network down")
	insertCompletedJob(t, design.ID, now.Add(-2*time.Hour), now.Add(-time.Hour), false, "")
	insertCompletedJob(t, design.ID, now.Add(-2*time.Hour), now.Add(-time.Hour), true, "timeout but succeeded anyway")

	snap, err := agg.Snapshot(context.Background())
	require.NoError(t, err)

	// Succeeded jobs never contribute; rule order drives output order.
	assert.Equal(t, []ErrorBucket{
		{Category: "export_failure", Count: 1},
		{Category: "network_error", Count: 2},
		{Category: "unknown", Count: 1},
	}, snap.Errors)
}

func TestSnapshotDurationTrend(t *testing.T) {
	agg, now := setupMetrics(t)
	design := createTestDesign(t)

	// Previous window: 10-minute runs. Current window: 5-minute runs.
	prev := now.Add(-30 * time.Hour)
	insertCompletedJob(t, design.ID, prev, prev.Add(10*time.Minute), true, "")
	cur := now.Add(-6 * time.Hour)
	insertCompletedJob(t, design.ID, cur, cur.Add(5*time.Minute), true, "")

	snap, err := agg.Snapshot(context.Background())
	require.NoError(t, err)

	require.NotNil(t, snap.Duration.CurrentAvgMS)
	require.NotNil(t, snap.Duration.PreviousAvgMS)
	assert.InDelta(t, 5*60*1000, float64(*snap.Duration.CurrentAvgMS), 1000)
	assert.InDelta(t, 10*60*1000, float64(*snap.Duration.PreviousAvgMS), 1000)
	assert.Equal(t, TrendFaster, snap.Duration.Trend)
}

func TestSnapshotDesignCounts(t *testing.T) {
	agg, now := setupMetrics(t)
	ctx := context.Background()

	busy := createTestDesign(t)
	quiet := &db.Design{
		ID: uuid.NewString(), Name: "ankle brace", Algorithm: "brace-v1", SchemaVersion: 1, SchemaJSON: splintSchema,
	}
	require.NoError(t, db.Designs.CreateDesign(ctx, quiet))

	insertCompletedJob(t, busy.ID, now.Add(-2*time.Hour), now.Add(-time.Hour), true, "")
	insertCompletedJob(t, busy.ID, now.Add(-2*time.Hour), now.Add(-time.Hour), true, "")
	insertCompletedJob(t, quiet.ID, now.Add(-2*time.Hour), now.Add(-time.Hour), true, "")

	snap, err := agg.Snapshot(ctx)
	require.NoError(t, err)

	require.Len(t, snap.DesignCounts, 2)
	assert.Equal(t, busy.ID, snap.DesignCounts[0].DesignID)
	assert.Equal(t, int64(2), snap.DesignCounts[0].Count)
	assert.Equal(t, quiet.ID, snap.DesignCounts[1].DesignID)
}
