package db

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupDB(t *testing.T) {
	t.Helper()
	require.NoError(t, Init(Config{Path: ":memory:"}))
	t.Cleanup(func() { Close() })

	_, err := GetDB().Exec(`
		INSERT INTO designs (id, name, algorithm, schema_json)
		VALUES ('design-1', 'wrist splint', 'splint-v2', '{"fields": []}')
	`)
	require.NoError(t, err)
}

func TestInitRunsMigrations(t *testing.T) {
	setupDB(t)

	for _, table := range []string{"designs", "processing_jobs", "print_attempts", "job_files", "webhooks", "settings"} {
		var name string
		err := GetDB().QueryRow(
			"SELECT name FROM sqlite_master WHERE type = 'table' AND name = ?", table).Scan(&name)
		require.NoError(t, err, "table %s missing", table)
	}

	var applied int
	require.NoError(t, GetDB().QueryRow("SELECT COUNT(*) FROM schema_migrations").Scan(&applied))
	assert.Greater(t, applied, 0)
}

func insertJob(t *testing.T, shortID *string, enabled bool) string {
	t.Helper()

	id := uuid.NewString()
	_, err := GetDB().Exec(`
		INSERT INTO processing_jobs
			(id, short_id, owner_org, creator, design_id, schema_version, params_json, enabled, created_at)
		VALUES (?, ?, 'clinic-a', 'tester', 'design-1', 1, '{}', ?, ?)
	`, id, shortID, enabled, time.Now().UTC())
	require.NoError(t, err)
	return id
}

// The short code is unique among enabled jobs only, so purged jobs free
// their code for reuse.
func TestShortIDUniqueAmongEnabledJobs(t *testing.T) {
	setupDB(t)

	code := "AAAA"
	insertJob(t, &code, true)

	_, err := GetDB().Exec(`
		INSERT INTO processing_jobs
			(id, short_id, owner_org, creator, design_id, schema_version, params_json, enabled, created_at)
		VALUES (?, ?, 'clinic-a', 'tester', 'design-1', 1, '{}', 1, ?)
	`, uuid.NewString(), code, time.Now().UTC())
	assert.Error(t, err)

	// A disabled job with the same code is fine.
	insertJob(t, &code, false)
}

func TestShortIDInUse(t *testing.T) {
	setupDB(t)
	ctx := context.Background()

	code := "CCCC"
	insertJob(t, &code, true)

	taken, err := Jobs.ShortIDInUse(ctx, code)
	require.NoError(t, err)
	assert.True(t, taken)

	taken, err = Jobs.ShortIDInUse(ctx, "DDDD")
	require.NoError(t, err)
	assert.False(t, taken)
}

func TestJobFilesUniquePerName(t *testing.T) {
	setupDB(t)

	jobID := insertJob(t, nil, true)
	file := func() error {
		return Files.CreateJobFile(context.Background(), &JobFile{
			ID:    uuid.NewString(),
			JobID: jobID,
			Name:  "splint.stl",
			Kind:  FileKindRemote,
			Size:  12,
		})
	}

	require.NoError(t, file())
	assert.Error(t, file())
}

func TestPrintAttemptsOnePerJob(t *testing.T) {
	setupDB(t)

	jobID := insertJob(t, nil, true)
	attempt := func() error {
		_, err := GetDB().Exec(`
			INSERT INTO print_attempts (id, job_id, created_at) VALUES (?, ?, ?)
		`, uuid.NewString(), jobID, time.Now().UTC())
		return err
	}

	require.NoError(t, attempt())
	assert.Error(t, attempt())
}

func TestListJobsFilters(t *testing.T) {
	setupDB(t)
	ctx := context.Background()

	pending := insertJob(t, nil, true)
	started := insertJob(t, nil, true)
	_, err := GetDB().Exec("UPDATE processing_jobs SET started_at = ? WHERE id = ?", time.Now().UTC(), started)
	require.NoError(t, err)

	all, err := Jobs.ListJobs(ctx, JobFilter{OwnerOrg: "clinic-a"})
	require.NoError(t, err)
	assert.Len(t, all, 2)

	onlyPending, err := Jobs.ListJobs(ctx, JobFilter{OwnerOrg: "clinic-a", Pending: true})
	require.NoError(t, err)
	require.Len(t, onlyPending, 1)
	assert.Equal(t, pending, onlyPending[0].ID)

	other, err := Jobs.ListJobs(ctx, JobFilter{OwnerOrg: "clinic-b"})
	require.NoError(t, err)
	assert.Empty(t, other)
}

func TestSettingsRoundTrip(t *testing.T) {
	setupDB(t)
	ctx := context.Background()

	require.NoError(t, Settings.SetSetting(ctx, "jwt_secret", "aabbcc", false))

	s, err := Settings.GetSetting(ctx, "jwt_secret")
	require.NoError(t, err)
	assert.Equal(t, "aabbcc", s.Value)
	assert.False(t, s.Encrypted)

	// Upsert replaces in place.
	require.NoError(t, Settings.SetSetting(ctx, "jwt_secret", "ddeeff", true))
	s, err = Settings.GetSetting(ctx, "jwt_secret")
	require.NoError(t, err)
	assert.Equal(t, "ddeeff", s.Value)
	assert.True(t, s.Encrypted)

	require.NoError(t, Settings.DeleteSetting(ctx, "jwt_secret"))
	_, err = Settings.GetSetting(ctx, "jwt_secret")
	assert.ErrorIs(t, err, sql.ErrNoRows)
}

func TestInitIsReentrant(t *testing.T) {
	require.NoError(t, Init(Config{Path: ":memory:"}))
	first := GetDB()

	require.NoError(t, Init(Config{Path: ":memory:"}))
	t.Cleanup(func() { Close() })

	assert.NotSame(t, first, GetDB())
	assert.NoError(t, GetDB().Ping())
}
