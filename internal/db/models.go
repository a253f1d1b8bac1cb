package db

import (
	"time"
)

type Design struct {
	ID            string    `json:"id"`
	Name          string    `json:"name"`
	Algorithm     string    `json:"algorithm"`
	SchemaVersion int       `json:"schema_version"`
	SchemaJSON    string    `json:"schema_json"`
	Enabled       bool      `json:"enabled"`
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`
}

type ProcessingJob struct {
	ID            string     `json:"id"`
	ShortID       *string    `json:"short_id"`
	OwnerOrg      string     `json:"owner_org"`
	Creator       string     `json:"creator"`
	DesignID      string     `json:"design_id"`
	SchemaVersion int        `json:"schema_version"`
	ParamsJSON    string     `json:"params_json"`
	CustomerNote  string     `json:"customer_note"`
	CustomerRef   string     `json:"customer_ref"`
	ProcessingLog string     `json:"processing_log"`
	IsDebug       bool       `json:"is_debug"`
	Enabled       bool       `json:"enabled"`
	Succeeded     bool       `json:"succeeded"`
	CreatedAt     time.Time  `json:"created_at"`
	StartedAt     *time.Time `json:"started_at"`
	CompletedAt   *time.Time `json:"completed_at"`
}

const (
	AcceptanceUndecided = ""
	AcceptanceAccepted  = "accepted"
	AcceptanceRejected  = "rejected"
)

type PrintAttempt struct {
	ID                 string     `json:"id"`
	JobID              string     `json:"job_id"`
	StartedAt          *time.Time `json:"started_at"`
	CompletedAt        *time.Time `json:"completed_at"`
	Succeeded          bool       `json:"succeeded"`
	Progress           int        `json:"progress"`
	ProgressReportedAt *time.Time `json:"progress_reported_at"`
	Note               string     `json:"note"`
	Acceptance         string     `json:"acceptance"`
	Enabled            bool       `json:"enabled"`
	CreatedAt          time.Time  `json:"created_at"`
}

const (
	FileKindRemote = "remote"
	FileKindInline = "inline"
)

// JobFile stores either a blob-store pointer or inline bytes, never both.
// Readers must resolve the remote pointer before falling back to inline data.
type JobFile struct {
	ID          string    `json:"id"`
	JobID       string    `json:"job_id"`
	Name        string    `json:"name"`
	Kind        string    `json:"kind"`
	BlobPath    string    `json:"blob_pathname,omitempty"`
	BlobURL     string    `json:"blob_url,omitempty"`
	ContentType string    `json:"content_type,omitempty"`
	Size        int64     `json:"size"`
	InlineData  []byte    `json:"-"`
	CreatedAt   time.Time `json:"created_at"`
}

type Webhook struct {
	ID         int64     `json:"id"`
	Name       string    `json:"name"`
	URL        string    `json:"url"`
	Secret     string    `json:"-"`
	EventsJSON string    `json:"events_json"`
	Enabled    bool      `json:"enabled"`
	CreatedAt  time.Time `json:"created_at"`
}

type Setting struct {
	Key       string
	Value     string
	Encrypted bool
}

type JobFilter struct {
	OwnerOrg string
	DesignID string
	Pending  bool
	FromDate *time.Time
	ToDate   *time.Time
	Limit    int
	Offset   int
}
