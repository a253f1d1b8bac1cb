package db

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"
)

type DesignOperations struct{}

func (o *DesignOperations) CreateDesign(ctx context.Context, d *Design) error {
	_, err := GetDB().ExecContext(ctx, InsertDesign,
		d.ID, d.Name, d.Algorithm, d.SchemaVersion, d.SchemaJSON)
	if err != nil {
		return fmt.Errorf("failed to create design: %w", err)
	}
	return nil
}

func (o *DesignOperations) GetDesignByID(ctx context.Context, id string) (*Design, error) {
	d := &Design{}
	err := GetDB().QueryRowContext(ctx, GetDesignByID, id).Scan(
		&d.ID, &d.Name, &d.Algorithm, &d.SchemaVersion, &d.SchemaJSON,
		&d.Enabled, &d.CreatedAt, &d.UpdatedAt)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, sql.ErrNoRows
		}
		return nil, fmt.Errorf("failed to get design: %w", err)
	}
	return d, nil
}

func (o *DesignOperations) ListDesigns(ctx context.Context) ([]*Design, error) {
	rows, err := GetDB().QueryContext(ctx, ListDesigns)
	if err != nil {
		return nil, fmt.Errorf("failed to list designs: %w", err)
	}
	defer rows.Close()

	var designs []*Design
	for rows.Next() {
		d := &Design{}
		if err := rows.Scan(
			&d.ID, &d.Name, &d.Algorithm, &d.SchemaVersion, &d.SchemaJSON,
			&d.Enabled, &d.CreatedAt, &d.UpdatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan design: %w", err)
		}
		designs = append(designs, d)
	}
	return designs, rows.Err()
}

func (o *DesignOperations) UpdateDesign(ctx context.Context, d *Design) error {
	_, err := GetDB().ExecContext(ctx, UpdateDesign,
		d.Name, d.Algorithm, d.SchemaVersion, d.SchemaJSON, d.ID)
	if err != nil {
		return fmt.Errorf("failed to update design: %w", err)
	}
	return nil
}

func (o *DesignOperations) DisableDesign(ctx context.Context, id string) error {
	_, err := GetDB().ExecContext(ctx, DisableDesign, id)
	if err != nil {
		return fmt.Errorf("failed to disable design: %w", err)
	}
	return nil
}

type JobOperations struct{}

func (o *JobOperations) CreateJob(ctx context.Context, j *ProcessingJob) error {
	_, err := GetDB().ExecContext(ctx, InsertJob,
		j.ID, j.ShortID, j.OwnerOrg, j.Creator, j.DesignID, j.SchemaVersion,
		j.ParamsJSON, j.CustomerNote, j.CustomerRef, j.IsDebug, j.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to create job: %w", err)
	}
	return nil
}

func (o *JobOperations) GetJobByID(ctx context.Context, id string) (*ProcessingJob, error) {
	j := &ProcessingJob{}
	err := GetDB().QueryRowContext(ctx, GetJobByID, id).Scan(
		&j.ID, &j.ShortID, &j.OwnerOrg, &j.Creator, &j.DesignID, &j.SchemaVersion,
		&j.ParamsJSON, &j.CustomerNote, &j.CustomerRef, &j.ProcessingLog,
		&j.IsDebug, &j.Enabled, &j.Succeeded, &j.CreatedAt, &j.StartedAt, &j.CompletedAt)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, sql.ErrNoRows
		}
		return nil, fmt.Errorf("failed to get job: %w", err)
	}
	return j, nil
}

// GetJobByShortID resolves a spoken short code to its active job. Disabled
// jobs release their code, so at most one row can match.
func (o *JobOperations) GetJobByShortID(ctx context.Context, shortID string) (*ProcessingJob, error) {
	j := &ProcessingJob{}
	err := GetDB().QueryRowContext(ctx, GetJobByShortID, shortID).Scan(
		&j.ID, &j.ShortID, &j.OwnerOrg, &j.Creator, &j.DesignID, &j.SchemaVersion,
		&j.ParamsJSON, &j.CustomerNote, &j.CustomerRef, &j.ProcessingLog,
		&j.IsDebug, &j.Enabled, &j.Succeeded, &j.CreatedAt, &j.StartedAt, &j.CompletedAt)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, sql.ErrNoRows
		}
		return nil, fmt.Errorf("failed to get job by short id: %w", err)
	}
	return j, nil
}

func (o *JobOperations) ShortIDInUse(ctx context.Context, shortID string) (bool, error) {
	var count int64
	err := GetDB().QueryRowContext(ctx, CountActiveShortID, shortID).Scan(&count)
	if err != nil {
		return false, fmt.Errorf("failed to check short id: %w", err)
	}
	return count > 0, nil
}

// ClaimOldest marks the oldest unstarted enabled job as started and returns
// it. The select-and-mark is a single conditional UPDATE; concurrent callers
// racing for the same row see sql.ErrNoRows instead of a double claim.
func (o *JobOperations) ClaimOldest(ctx context.Context, now time.Time) (*ProcessingJob, error) {
	var id string
	err := GetDB().QueryRowContext(ctx, ClaimOldestPending, now).Scan(&id)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, sql.ErrNoRows
		}
		return nil, fmt.Errorf("failed to claim job: %w", err)
	}
	return o.GetJobByID(ctx, id)
}

func (o *JobOperations) ListDebugJobIDs(ctx context.Context) ([]string, error) {
	rows, err := GetDB().QueryContext(ctx, ListDebugJobIDs)
	if err != nil {
		return nil, fmt.Errorf("failed to list debug jobs: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan debug job id: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func (o *JobOperations) ListJobs(ctx context.Context, filter JobFilter) ([]*ProcessingJob, error) {
	conditions := []string{"enabled = 1"}
	var args []interface{}

	if filter.OwnerOrg != "" {
		conditions = append(conditions, "owner_org = ?")
		args = append(args, filter.OwnerOrg)
	}
	if filter.DesignID != "" {
		conditions = append(conditions, "design_id = ?")
		args = append(args, filter.DesignID)
	}
	if filter.Pending {
		conditions = append(conditions, "started_at IS NULL")
	}
	if filter.FromDate != nil {
		conditions = append(conditions, "created_at >= ?")
		args = append(args, filter.FromDate)
	}
	if filter.ToDate != nil {
		conditions = append(conditions, "created_at <= ?")
		args = append(args, filter.ToDate)
	}

	query := "SELECT " + jobColumns + " FROM processing_jobs WHERE " +
		strings.Join(conditions, " AND ") + " ORDER BY created_at DESC"

	limit := 100
	if filter.Limit > 0 {
		limit = filter.Limit
	}
	query += " LIMIT ? OFFSET ?"
	args = append(args, limit, filter.Offset)

	rows, err := GetDB().QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list jobs: %w", err)
	}
	defer rows.Close()

	return scanJobs(rows)
}

func scanJobs(rows *sql.Rows) ([]*ProcessingJob, error) {
	var jobs []*ProcessingJob
	for rows.Next() {
		j := &ProcessingJob{}
		if err := rows.Scan(
			&j.ID, &j.ShortID, &j.OwnerOrg, &j.Creator, &j.DesignID, &j.SchemaVersion,
			&j.ParamsJSON, &j.CustomerNote, &j.CustomerRef, &j.ProcessingLog,
			&j.IsDebug, &j.Enabled, &j.Succeeded, &j.CreatedAt, &j.StartedAt, &j.CompletedAt); err != nil {
			return nil, fmt.Errorf("failed to scan job: %w", err)
		}
		jobs = append(jobs, j)
	}
	return jobs, rows.Err()
}

type PrintOperations struct{}

func (o *PrintOperations) GetPrintAttemptByID(ctx context.Context, id string) (*PrintAttempt, error) {
	p := &PrintAttempt{}
	err := GetDB().QueryRowContext(ctx, GetPrintAttemptByID, id).Scan(
		&p.ID, &p.JobID, &p.StartedAt, &p.CompletedAt, &p.Succeeded, &p.Progress,
		&p.ProgressReportedAt, &p.Note, &p.Acceptance, &p.Enabled, &p.CreatedAt)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, sql.ErrNoRows
		}
		return nil, fmt.Errorf("failed to get print attempt: %w", err)
	}
	return p, nil
}

func (o *PrintOperations) GetPrintAttemptByJob(ctx context.Context, jobID string) (*PrintAttempt, error) {
	p := &PrintAttempt{}
	err := GetDB().QueryRowContext(ctx, GetPrintAttemptByJob, jobID).Scan(
		&p.ID, &p.JobID, &p.StartedAt, &p.CompletedAt, &p.Succeeded, &p.Progress,
		&p.ProgressReportedAt, &p.Note, &p.Acceptance, &p.Enabled, &p.CreatedAt)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, sql.ErrNoRows
		}
		return nil, fmt.Errorf("failed to get print attempt by job: %w", err)
	}
	return p, nil
}

func (o *PrintOperations) UpdateProgress(ctx context.Context, p *PrintAttempt) error {
	_, err := GetDB().ExecContext(ctx, UpdatePrintProgress,
		p.Progress, p.ProgressReportedAt, p.StartedAt, p.CompletedAt, p.Succeeded, p.ID)
	if err != nil {
		return fmt.Errorf("failed to update print progress: %w", err)
	}
	return nil
}

// Decide writes the acceptance decision. The update only matches an undecided
// row; a zero count means another decision landed first.
func (o *PrintOperations) Decide(ctx context.Context, id, acceptance, note string) (int64, error) {
	res, err := GetDB().ExecContext(ctx, DecidePrintAttempt, acceptance, note, id)
	if err != nil {
		return 0, fmt.Errorf("failed to decide print attempt: %w", err)
	}
	return res.RowsAffected()
}

type FileOperations struct{}

func (o *FileOperations) CreateJobFile(ctx context.Context, f *JobFile) error {
	_, err := GetDB().ExecContext(ctx, InsertJobFile,
		f.ID, f.JobID, f.Name, f.Kind, f.BlobPath, f.BlobURL, f.ContentType, f.Size, f.InlineData)
	if err != nil {
		return fmt.Errorf("failed to create job file: %w", err)
	}
	return nil
}

func (o *FileOperations) GetJobFile(ctx context.Context, jobID, name string) (*JobFile, error) {
	f := &JobFile{}
	err := GetDB().QueryRowContext(ctx, GetJobFile, jobID, name).Scan(
		&f.ID, &f.JobID, &f.Name, &f.Kind, &f.BlobPath, &f.BlobURL,
		&f.ContentType, &f.Size, &f.InlineData, &f.CreatedAt)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, sql.ErrNoRows
		}
		return nil, fmt.Errorf("failed to get job file: %w", err)
	}
	return f, nil
}

func (o *FileOperations) ListJobFiles(ctx context.Context, jobID string) ([]*JobFile, error) {
	rows, err := GetDB().QueryContext(ctx, ListJobFiles, jobID)
	if err != nil {
		return nil, fmt.Errorf("failed to list job files: %w", err)
	}
	defer rows.Close()

	var files []*JobFile
	for rows.Next() {
		f := &JobFile{}
		if err := rows.Scan(
			&f.ID, &f.JobID, &f.Name, &f.Kind, &f.BlobPath, &f.BlobURL,
			&f.ContentType, &f.Size, &f.InlineData, &f.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan job file: %w", err)
		}
		files = append(files, f)
	}
	return files, rows.Err()
}

type WebhookOperations struct{}

func (o *WebhookOperations) CreateWebhook(ctx context.Context, w *Webhook) error {
	result, err := GetDB().ExecContext(ctx, InsertWebhook,
		w.Name, w.URL, w.Secret, w.EventsJSON, w.Enabled)
	if err != nil {
		return fmt.Errorf("failed to create webhook: %w", err)
	}
	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to get webhook id: %w", err)
	}
	w.ID = id
	return nil
}

func (o *WebhookOperations) GetWebhookByID(ctx context.Context, id int64) (*Webhook, error) {
	w := &Webhook{}
	err := GetDB().QueryRowContext(ctx, GetWebhookByID, id).Scan(
		&w.ID, &w.Name, &w.URL, &w.Secret, &w.EventsJSON, &w.Enabled, &w.CreatedAt)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, sql.ErrNoRows
		}
		return nil, fmt.Errorf("failed to get webhook: %w", err)
	}
	return w, nil
}

func (o *WebhookOperations) ListWebhooks(ctx context.Context) ([]*Webhook, error) {
	rows, err := GetDB().QueryContext(ctx, ListWebhooks)
	if err != nil {
		return nil, fmt.Errorf("failed to list webhooks: %w", err)
	}
	defer rows.Close()

	var webhooks []*Webhook
	for rows.Next() {
		w := &Webhook{}
		if err := rows.Scan(
			&w.ID, &w.Name, &w.URL, &w.Secret, &w.EventsJSON, &w.Enabled, &w.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan webhook: %w", err)
		}
		webhooks = append(webhooks, w)
	}
	return webhooks, rows.Err()
}

func (o *WebhookOperations) ListActiveWebhooksForEvent(ctx context.Context, event string) ([]*Webhook, error) {
	pattern := "%\"" + event + "\"%"
	rows, err := GetDB().QueryContext(ctx, ListWebhooksForEvent, pattern)
	if err != nil {
		return nil, fmt.Errorf("failed to list webhooks for event: %w", err)
	}
	defer rows.Close()

	var webhooks []*Webhook
	for rows.Next() {
		w := &Webhook{}
		if err := rows.Scan(
			&w.ID, &w.Name, &w.URL, &w.Secret, &w.EventsJSON, &w.Enabled, &w.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan webhook: %w", err)
		}
		webhooks = append(webhooks, w)
	}
	return webhooks, rows.Err()
}

func (o *WebhookOperations) UpdateWebhook(ctx context.Context, w *Webhook) error {
	_, err := GetDB().ExecContext(ctx, UpdateWebhook,
		w.Name, w.URL, w.Secret, w.EventsJSON, w.Enabled, w.ID)
	if err != nil {
		return fmt.Errorf("failed to update webhook: %w", err)
	}
	return nil
}

func (o *WebhookOperations) DeleteWebhook(ctx context.Context, id int64) error {
	_, err := GetDB().ExecContext(ctx, DeleteWebhook, id)
	if err != nil {
		return fmt.Errorf("failed to delete webhook: %w", err)
	}
	return nil
}

type SettingsOperations struct{}

func (o *SettingsOperations) GetSetting(ctx context.Context, key string) (*Setting, error) {
	s := &Setting{Key: key}
	err := GetDB().QueryRowContext(ctx, GetSetting, key).Scan(&s.Value, &s.Encrypted)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, sql.ErrNoRows
		}
		return nil, fmt.Errorf("failed to get setting: %w", err)
	}
	return s, nil
}

func (o *SettingsOperations) SetSetting(ctx context.Context, key, value string, encrypted bool) error {
	_, err := GetDB().ExecContext(ctx, SetSetting, key, value, encrypted, value, encrypted)
	if err != nil {
		return fmt.Errorf("failed to set setting: %w", err)
	}
	return nil
}

func (o *SettingsOperations) DeleteSetting(ctx context.Context, key string) error {
	_, err := GetDB().ExecContext(ctx, DeleteSetting, key)
	if err != nil {
		return fmt.Errorf("failed to delete setting: %w", err)
	}
	return nil
}

var (
	Designs  = &DesignOperations{}
	Jobs     = &JobOperations{}
	Prints   = &PrintOperations{}
	Files    = &FileOperations{}
	Webhooks = &WebhookOperations{}
	Settings = &SettingsOperations{}
)
