package core

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/mattn/go-sqlite3"

	"github.com/orthofab/printflow/internal/blob"
	"github.com/orthofab/printflow/internal/db"
)

const maxProcessingLogBytes = 64 << 10

// EventSink receives job lifecycle notifications. Nil-safe at the call sites
// so the store works without a webhook sender wired in.
type EventSink interface {
	SendJobCompleted(jobID string, succeeded bool, errorNote string)
	SendPrintDecided(attemptID, jobID, acceptance string)
}

// Store owns all state transitions for processing jobs and their print
// attempts.
type Store struct {
	db     *sql.DB
	blobs  blob.Store
	events EventSink
}

func NewStore(database *sql.DB, blobs blob.Store, events EventSink) *Store {
	return &Store{
		db:     database,
		blobs:  blobs,
		events: events,
	}
}

type SubmitRequest struct {
	OwnerOrg     string
	Creator      string
	DesignID     string
	Parameters   map[string]interface{}
	CustomerNote string
	CustomerRef  string
}

func (s *Store) Submit(ctx context.Context, req SubmitRequest) (*db.ProcessingJob, error) {
	design, err := db.Designs.GetDesignByID(ctx, req.DesignID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, notFoundError("design")
		}
		return nil, err
	}
	if !design.Enabled {
		return nil, notFoundError("design")
	}

	schema, err := ParseSchema(design.SchemaJSON)
	if err != nil {
		return nil, fmt.Errorf("design %s has invalid schema: %w", design.ID, err)
	}

	params := req.Parameters
	if params == nil {
		params = make(map[string]interface{})
	}
	params = schema.ApplyDefaults(params)
	if err := schema.Validate(params); err != nil {
		return nil, err
	}

	paramsJSON, err := json.Marshal(params)
	if err != nil {
		return nil, fmt.Errorf("failed to serialize parameters: %w", err)
	}

	shortID, err := GenerateShortID(ctx, db.Jobs.ShortIDInUse)
	if err != nil {
		return nil, err
	}

	job := &db.ProcessingJob{
		ID:            uuid.NewString(),
		ShortID:       &shortID,
		OwnerOrg:      req.OwnerOrg,
		Creator:       req.Creator,
		DesignID:      design.ID,
		SchemaVersion: design.SchemaVersion,
		ParamsJSON:    string(paramsJSON),
		CustomerNote:  req.CustomerNote,
		CustomerRef:   req.CustomerRef,
		Enabled:       true,
		CreatedAt:     time.Now().UTC(),
	}

	if err := db.Jobs.CreateJob(ctx, job); err != nil {
		return nil, err
	}
	return job, nil
}

// ClaimNext hands the oldest unstarted job to the caller, marking it started.
// Returns (nil, nil) when the queue is empty; that is the expected polling
// outcome, not an error.
func (s *Store) ClaimNext(ctx context.Context) (*db.ProcessingJob, error) {
	job, err := db.Jobs.ClaimOldest(ctx, time.Now().UTC())
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return job, nil
}

type FileInput struct {
	Name        string
	ContentType string
	Data        []byte
	// Inline keeps the bytes in the job row instead of the blob store. Used
	// only for legacy base64 payloads.
	Inline bool
}

type ResultReport struct {
	Succeeded bool
	Log       string
	ErrorNote string
	Files     []FileInput
}

// ReportResult resolves a claimed job. On success it creates exactly one
// print attempt in the same transaction, so a job is never observed as
// succeeded without its attempt. A duplicate success report trips the unique
// index on print_attempts(job_id); callers must not retry a successful
// report.
func (s *Store) ReportResult(ctx context.Context, jobID string, report ResultReport) (*db.ProcessingJob, *db.PrintAttempt, error) {
	job, err := db.Jobs.GetJobByID(ctx, jobID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil, notFoundError("job")
		}
		return nil, nil, err
	}
	if job.StartedAt == nil {
		return nil, nil, stateError("result reported for a job that was never claimed")
	}

	processingLog := report.Log
	if report.ErrorNote != "" {
		processingLog += "\nerror: " + report.ErrorNote
	}
	if len(processingLog) > maxProcessingLogBytes {
		// Back off to a rune boundary so the cap never leaves a torn
		// multi-byte character at the tail.
		cut := maxProcessingLogBytes
		for cut > 0 && !utf8.RuneStart(processingLog[cut]) {
			cut--
		}
		processingLog = processingLog[:cut]
	}

	// Blob uploads happen before the transaction; the store only records the
	// returned pointers.
	fileRows, err := s.persistFiles(ctx, job.ID, report.Files)
	if err != nil {
		return nil, nil, err
	}

	now := time.Now().UTC()
	var attemptID string

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, nil, &FatalError{Op: "report result", Err: err}
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, db.CompleteJob, now, report.Succeeded, processingLog, job.ID); err != nil {
		return nil, nil, &FatalError{Op: "complete job", Err: err}
	}

	if report.Succeeded {
		attemptID = uuid.NewString()
		if _, err := tx.ExecContext(ctx, db.InsertPrintAttempt, attemptID, job.ID, now); err != nil {
			if isUniqueViolation(err) {
				return nil, nil, stateError("result already reported for this job")
			}
			return nil, nil, &FatalError{Op: "create print attempt", Err: err}
		}
	}

	for _, f := range fileRows {
		if _, err := tx.ExecContext(ctx, db.InsertJobFile,
			f.ID, f.JobID, f.Name, f.Kind, f.BlobPath, f.BlobURL, f.ContentType, f.Size, f.InlineData); err != nil {
			return nil, nil, &FatalError{Op: "record job file", Err: err}
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, nil, &FatalError{Op: "report result", Err: err}
	}

	if s.events != nil {
		s.events.SendJobCompleted(job.ID, report.Succeeded, report.ErrorNote)
	}

	job, err = db.Jobs.GetJobByID(ctx, job.ID)
	if err != nil {
		return nil, nil, err
	}

	var attempt *db.PrintAttempt
	if attemptID != "" {
		attempt, err = db.Prints.GetPrintAttemptByID(ctx, attemptID)
		if err != nil {
			return nil, nil, err
		}
	}
	return job, attempt, nil
}

func (s *Store) persistFiles(ctx context.Context, jobID string, files []FileInput) ([]*db.JobFile, error) {
	rows := make([]*db.JobFile, 0, len(files))
	for _, f := range files {
		row := &db.JobFile{
			ID:          uuid.NewString(),
			JobID:       jobID,
			Name:        f.Name,
			ContentType: f.ContentType,
			Size:        int64(len(f.Data)),
		}

		if f.Inline {
			row.Kind = db.FileKindInline
			row.InlineData = f.Data
		} else {
			obj, err := s.blobs.Upload(ctx, f.Data, f.Name, f.ContentType)
			if err != nil {
				return nil, fmt.Errorf("failed to upload file %s: %w", f.Name, err)
			}
			row.Kind = db.FileKindRemote
			row.BlobPath = obj.Pathname
			row.BlobURL = obj.URL
			row.Size = obj.Size
		}
		rows = append(rows, row)
	}
	return rows, nil
}

// OpenJobFile resolves a file to its bytes, checking the blob pointer before
// falling back to inline data.
func (s *Store) OpenJobFile(ctx context.Context, file *db.JobFile) ([]byte, error) {
	if file.Kind == db.FileKindRemote && file.BlobPath != "" {
		return s.blobs.Open(ctx, file.BlobPath)
	}
	if file.InlineData != nil {
		return file.InlineData, nil
	}
	return nil, notFoundError("file content")
}

// RequestDebugRun clones an existing job into a fresh debug job. Debug jobs
// share the single reserved short code, so any live debug jobs are purged
// first; attempts and files go before their parent rows to keep referential
// integrity.
func (s *Store) RequestDebugRun(ctx context.Context, sourceJobID string) (*db.ProcessingJob, error) {
	source, err := db.Jobs.GetJobByID(ctx, sourceJobID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, notFoundError("job")
		}
		return nil, err
	}

	debugIDs, err := db.Jobs.ListDebugJobIDs(ctx)
	if err != nil {
		return nil, err
	}

	shortID := DebugShortID
	clone := &db.ProcessingJob{
		ID:            uuid.NewString(),
		ShortID:       &shortID,
		OwnerOrg:      source.OwnerOrg,
		Creator:       source.Creator,
		DesignID:      source.DesignID,
		SchemaVersion: source.SchemaVersion,
		ParamsJSON:    source.ParamsJSON,
		CustomerNote:  source.CustomerNote,
		CustomerRef:   source.CustomerRef,
		IsDebug:       true,
		Enabled:       true,
		CreatedAt:     time.Now().UTC(),
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, &FatalError{Op: "request debug run", Err: err}
	}
	defer tx.Rollback()

	for _, id := range debugIDs {
		if err := deleteJobTx(ctx, tx, id); err != nil {
			return nil, err
		}
	}

	if _, err := tx.ExecContext(ctx, db.InsertJob,
		clone.ID, clone.ShortID, clone.OwnerOrg, clone.Creator, clone.DesignID,
		clone.SchemaVersion, clone.ParamsJSON, clone.CustomerNote, clone.CustomerRef,
		clone.IsDebug, clone.CreatedAt); err != nil {
		return nil, &FatalError{Op: "create debug job", Err: err}
	}

	if err := tx.Commit(); err != nil {
		return nil, &FatalError{Op: "request debug run", Err: err}
	}
	return clone, nil
}

// FinalizeDebugPickup deletes a debug job after its single claim was served.
// Best-effort: the agent already has the data it needs, so failure is logged
// and never surfaced to the claim response.
func (s *Store) FinalizeDebugPickup(jobID string) {
	ctx := context.Background()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		log.Printf("[store] debug cleanup for %s failed: %v", jobID, err)
		return
	}
	defer tx.Rollback()

	if err := deleteJobTx(ctx, tx, jobID); err != nil {
		log.Printf("[store] debug cleanup for %s failed: %v", jobID, err)
		return
	}
	if err := tx.Commit(); err != nil {
		log.Printf("[store] debug cleanup for %s failed: %v", jobID, err)
	}
}

func deleteJobTx(ctx context.Context, tx *sql.Tx, jobID string) error {
	if _, err := tx.ExecContext(ctx, db.DeleteJobPrintAttempts, jobID); err != nil {
		return &FatalError{Op: "delete print attempts", Err: err}
	}
	if _, err := tx.ExecContext(ctx, db.DeleteJobFiles, jobID); err != nil {
		return &FatalError{Op: "delete job files", Err: err}
	}
	if _, err := tx.ExecContext(ctx, db.DeleteJob, jobID); err != nil {
		return &FatalError{Op: "delete job", Err: err}
	}
	return nil
}

type ProgressReport struct {
	Progress  int
	Completed bool
	Succeeded bool
}

func (s *Store) ReportPrintProgress(ctx context.Context, attemptID string, report ProgressReport) (*db.PrintAttempt, error) {
	if report.Progress < 0 || report.Progress > 100 {
		return nil, &ValidationError{Field: "progress", Reason: "must be between 0 and 100"}
	}

	attempt, err := db.Prints.GetPrintAttemptByID(ctx, attemptID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, notFoundError("print attempt")
		}
		return nil, err
	}

	now := time.Now().UTC()
	attempt.Progress = report.Progress
	attempt.ProgressReportedAt = &now
	if attempt.StartedAt == nil {
		attempt.StartedAt = &now
	}
	if report.Completed {
		attempt.CompletedAt = &now
		attempt.Succeeded = report.Succeeded
	}

	if err := db.Prints.UpdateProgress(ctx, attempt); err != nil {
		return nil, err
	}
	return db.Prints.GetPrintAttemptByID(ctx, attemptID)
}

// Decide applies the one-shot accept/reject decision on a completed print
// attempt. Irreversible: reversal means a new print attempt, not mutated
// history.
func (s *Store) Decide(ctx context.Context, attemptID, callerOrg string, accept bool, note *string) (*db.PrintAttempt, error) {
	attempt, err := db.Prints.GetPrintAttemptByID(ctx, attemptID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, notFoundError("print attempt")
		}
		return nil, err
	}

	job, err := db.Jobs.GetJobByID(ctx, attempt.JobID)
	if err != nil {
		return nil, err
	}
	if job.OwnerOrg != callerOrg {
		return nil, fmt.Errorf("%w: print attempt belongs to another organization", ErrForbidden)
	}

	if attempt.Progress <= 99 {
		return nil, stateError("print has not finished (progress must exceed 99)")
	}
	if attempt.Acceptance != db.AcceptanceUndecided {
		return nil, stateError("acceptance already decided")
	}

	acceptance := db.AcceptanceRejected
	if accept {
		acceptance = db.AcceptanceAccepted
	}

	newNote := attempt.Note
	if note != nil {
		newNote = *note
	}

	n, err := db.Prints.Decide(ctx, attemptID, acceptance, newNote)
	if err != nil {
		return nil, err
	}
	if n == 0 {
		// A concurrent decision landed between the read above and this
		// write. The conditional update makes the second caller lose.
		return nil, stateError("acceptance already decided")
	}

	if s.events != nil {
		s.events.SendPrintDecided(attemptID, job.ID, acceptance)
	}
	return db.Prints.GetPrintAttemptByID(ctx, attemptID)
}

func isUniqueViolation(err error) bool {
	var sqliteErr sqlite3.Error
	if errors.As(err, &sqliteErr) {
		return sqliteErr.ExtendedCode == sqlite3.ErrConstraintUnique ||
			sqliteErr.ExtendedCode == sqlite3.ErrConstraintPrimaryKey
	}
	return false
}
