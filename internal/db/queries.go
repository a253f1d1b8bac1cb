package db

const (
	InsertDesign = `
		INSERT INTO designs (id, name, algorithm, schema_version, schema_json, enabled)
		VALUES (?, ?, ?, ?, ?, 1)
	`

	GetDesignByID = `
		SELECT id, name, algorithm, schema_version, schema_json, enabled, created_at, updated_at
		FROM designs WHERE id = ?
	`

	ListDesigns = `
		SELECT id, name, algorithm, schema_version, schema_json, enabled, created_at, updated_at
		FROM designs WHERE enabled = 1 ORDER BY name ASC
	`

	UpdateDesign = `
		UPDATE designs SET
			name = ?, algorithm = ?, schema_version = ?, schema_json = ?,
			updated_at = CURRENT_TIMESTAMP
		WHERE id = ?
	`

	DisableDesign = `UPDATE designs SET enabled = 0, updated_at = CURRENT_TIMESTAMP WHERE id = ?`
)

const (
	jobColumns = `id, short_id, owner_org, creator, design_id, schema_version, params_json,
		customer_note, customer_ref, processing_log, is_debug, enabled, succeeded,
		created_at, started_at, completed_at`

	InsertJob = `
		INSERT INTO processing_jobs (id, short_id, owner_org, creator, design_id, schema_version,
			params_json, customer_note, customer_ref, is_debug, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	GetJobByID = `
		SELECT ` + jobColumns + `
		FROM processing_jobs WHERE id = ?
	`

	GetJobByShortID = `
		SELECT ` + jobColumns + `
		FROM processing_jobs WHERE short_id = ? AND enabled = 1
	`

	CountActiveShortID = `
		SELECT COUNT(*) FROM processing_jobs WHERE short_id = ? AND enabled = 1
	`

	// ClaimOldestPending is the one place correctness depends on the storage
	// engine's atomic-update guarantee: the select and the mark happen in a
	// single conditional UPDATE so two concurrent pollers can never both
	// claim the same row.
	ClaimOldestPending = `
		UPDATE processing_jobs
		SET started_at = ?
		WHERE id = (
			SELECT id FROM processing_jobs
			WHERE enabled = 1 AND started_at IS NULL
			ORDER BY created_at ASC, id ASC
			LIMIT 1
		)
		AND started_at IS NULL
		RETURNING id
	`

	CompleteJob = `
		UPDATE processing_jobs
		SET completed_at = ?, succeeded = ?, processing_log = ?
		WHERE id = ?
	`

	ListDebugJobIDs = `
		SELECT id FROM processing_jobs WHERE is_debug = 1
	`

	DeleteJob = `DELETE FROM processing_jobs WHERE id = ?`

	DeleteJobPrintAttempts = `DELETE FROM print_attempts WHERE job_id = ?`

	DeleteJobFiles = `DELETE FROM job_files WHERE job_id = ?`
)

const (
	InsertPrintAttempt = `
		INSERT INTO print_attempts (id, job_id, progress, created_at)
		VALUES (?, ?, 0, ?)
	`

	printColumns = `id, job_id, started_at, completed_at, succeeded, progress,
		progress_reported_at, note, acceptance, enabled, created_at`

	GetPrintAttemptByID = `
		SELECT ` + printColumns + `
		FROM print_attempts WHERE id = ?
	`

	GetPrintAttemptByJob = `
		SELECT ` + printColumns + `
		FROM print_attempts WHERE job_id = ?
	`

	UpdatePrintProgress = `
		UPDATE print_attempts
		SET progress = ?, progress_reported_at = ?, started_at = COALESCE(started_at, ?),
			completed_at = ?, succeeded = ?
		WHERE id = ?
	`

	DecidePrintAttempt = `
		UPDATE print_attempts SET acceptance = ?, note = ? WHERE id = ? AND acceptance = ''
	`
)

const (
	InsertJobFile = `
		INSERT INTO job_files (id, job_id, name, kind, blob_pathname, blob_url, content_type, size, inline_data)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	fileColumns = `id, job_id, name, kind, blob_pathname, blob_url, content_type, size, inline_data, created_at`

	GetJobFile = `
		SELECT ` + fileColumns + `
		FROM job_files WHERE job_id = ? AND name = ?
	`

	ListJobFiles = `
		SELECT ` + fileColumns + `
		FROM job_files WHERE job_id = ? ORDER BY name ASC
	`
)

const (
	InsertWebhook = `
		INSERT INTO webhooks (name, url, secret, events_json, enabled)
		VALUES (?, ?, ?, ?, ?)
	`

	GetWebhookByID = `
		SELECT id, name, url, secret, events_json, enabled, created_at
		FROM webhooks WHERE id = ?
	`

	ListWebhooks = `
		SELECT id, name, url, secret, events_json, enabled, created_at
		FROM webhooks ORDER BY id ASC
	`

	ListWebhooksForEvent = `
		SELECT id, name, url, secret, events_json, enabled, created_at
		FROM webhooks WHERE enabled = 1 AND events_json LIKE ?
	`

	UpdateWebhook = `
		UPDATE webhooks SET name = ?, url = ?, secret = ?, events_json = ?, enabled = ? WHERE id = ?
	`

	DeleteWebhook = `DELETE FROM webhooks WHERE id = ?`
)

const (
	GetSetting = `SELECT value, encrypted FROM settings WHERE key = ?`

	SetSetting = `
		INSERT INTO settings (key, value, encrypted) VALUES (?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET value = ?, encrypted = ?
	`

	DeleteSetting = `DELETE FROM settings WHERE key = ?`
)
