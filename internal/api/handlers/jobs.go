package handlers

import (
	"database/sql"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/orthofab/printflow/internal/api/middleware"
	"github.com/orthofab/printflow/internal/core"
	"github.com/orthofab/printflow/internal/db"
)

type SubmitJobRequest struct {
	DesignID     string                 `json:"design_id" binding:"required"`
	Parameters   map[string]interface{} `json:"parameters"`
	Creator      string                 `json:"creator"`
	CustomerNote string                 `json:"customer_note"`
	CustomerRef  string                 `json:"customer_ref"`
}

type ListJobsQuery struct {
	DesignID string `form:"design_id"`
	Pending  bool   `form:"pending"`
	FromDate string `form:"from_date"`
	ToDate   string `form:"to_date"`
	Limit    int    `form:"limit" binding:"max=100"`
	Offset   int    `form:"offset"`
}

type JobResponse struct {
	ID            string                 `json:"id"`
	ShortID       string                 `json:"short_id,omitempty"`
	OwnerOrg      string                 `json:"owner_org"`
	Creator       string                 `json:"creator"`
	DesignID      string                 `json:"design_id"`
	SchemaVersion int                    `json:"schema_version"`
	Parameters    map[string]interface{} `json:"parameters"`
	CustomerNote  string                 `json:"customer_note,omitempty"`
	CustomerRef   string                 `json:"customer_ref,omitempty"`
	ProcessingLog string                 `json:"processing_log,omitempty"`
	Completed     bool                   `json:"completed"`
	Succeeded     *bool                  `json:"succeeded,omitempty"`
	CreatedAt     time.Time              `json:"created_at"`
	StartedAt     *time.Time             `json:"started_at,omitempty"`
	CompletedAt   *time.Time             `json:"completed_at,omitempty"`
	Duration      *int64                 `json:"duration_ms,omitempty"`
	PrintAttempt  *db.PrintAttempt       `json:"print_attempt,omitempty"`
	FileNames     []string               `json:"file_names,omitempty"`
}

type JobHandler struct {
	store *core.Store
}

func NewJobHandler(store *core.Store) *JobHandler {
	return &JobHandler{store: store}
}

func (h *JobHandler) SubmitJob(c *gin.Context) {
	var req SubmitJobRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	creator := req.Creator
	if creator == "" {
		creator = "operator"
	}

	job, err := h.store.Submit(c.Request.Context(), core.SubmitRequest{
		OwnerOrg:     middleware.CallerOrg(c),
		Creator:      creator,
		DesignID:     req.DesignID,
		Parameters:   req.Parameters,
		CustomerNote: req.CustomerNote,
		CustomerRef:  req.CustomerRef,
	})
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusCreated, jobToResponse(job))
}

func (h *JobHandler) ListJobs(c *gin.Context) {
	var query ListJobsQuery
	if err := c.ShouldBindQuery(&query); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	if query.Limit <= 0 {
		query.Limit = 50
	}

	filter := db.JobFilter{
		OwnerOrg: middleware.CallerOrg(c),
		DesignID: query.DesignID,
		Pending:  query.Pending,
		Limit:    query.Limit,
		Offset:   query.Offset,
	}

	if query.FromDate != "" {
		if t, err := time.Parse("2006-01-02", query.FromDate); err == nil {
			filter.FromDate = &t
		}
	}
	if query.ToDate != "" {
		if t, err := time.Parse("2006-01-02", query.ToDate); err == nil {
			endOfDay := t.Add(24*time.Hour - time.Second)
			filter.ToDate = &endOfDay
		}
	}

	jobs, err := db.Jobs.ListJobs(c.Request.Context(), filter)
	if err != nil {
		respondError(c, err)
		return
	}

	responses := make([]JobResponse, 0, len(jobs))
	for _, job := range jobs {
		responses = append(responses, jobToResponse(job))
	}

	c.JSON(http.StatusOK, gin.H{
		"jobs":   responses,
		"limit":  query.Limit,
		"offset": query.Offset,
		"count":  len(responses),
	})
}

// GetJobByCode resolves the four-character code printed on paperwork and
// spoken over the phone.
func (h *JobHandler) GetJobByCode(c *gin.Context) {
	code := strings.ToUpper(c.Param("code"))

	job, err := db.Jobs.GetJobByShortID(c.Request.Context(), code)
	if err != nil {
		if err == sql.ErrNoRows {
			c.JSON(http.StatusNotFound, gin.H{"error": "job not found"})
			return
		}
		respondError(c, err)
		return
	}

	if job.OwnerOrg != middleware.CallerOrg(c) {
		c.JSON(http.StatusNotFound, gin.H{"error": "job not found"})
		return
	}

	c.JSON(http.StatusOK, jobToResponse(job))
}

func (h *JobHandler) GetJob(c *gin.Context) {
	job, err := db.Jobs.GetJobByID(c.Request.Context(), c.Param("id"))
	if err != nil {
		if err == sql.ErrNoRows {
			c.JSON(http.StatusNotFound, gin.H{"error": "job not found"})
			return
		}
		respondError(c, err)
		return
	}

	// Foreign-org jobs answer not-found rather than forbidden so job ids do
	// not leak across organizations.
	if job.OwnerOrg != middleware.CallerOrg(c) {
		c.JSON(http.StatusNotFound, gin.H{"error": "job not found"})
		return
	}

	resp := jobToResponse(job)

	if attempt, err := db.Prints.GetPrintAttemptByJob(c.Request.Context(), job.ID); err == nil {
		resp.PrintAttempt = attempt
	}

	if files, err := db.Files.ListJobFiles(c.Request.Context(), job.ID); err == nil {
		for _, f := range files {
			resp.FileNames = append(resp.FileNames, f.Name)
		}
	}

	c.JSON(http.StatusOK, resp)
}

func jobToResponse(job *db.ProcessingJob) JobResponse {
	var params map[string]interface{}
	if job.ParamsJSON != "" {
		json.Unmarshal([]byte(job.ParamsJSON), &params)
	}
	if params == nil {
		params = make(map[string]interface{})
	}

	resp := JobResponse{
		ID:            job.ID,
		OwnerOrg:      job.OwnerOrg,
		Creator:       job.Creator,
		DesignID:      job.DesignID,
		SchemaVersion: job.SchemaVersion,
		Parameters:    params,
		CustomerNote:  job.CustomerNote,
		CustomerRef:   job.CustomerRef,
		ProcessingLog: job.ProcessingLog,
		Completed:     job.CompletedAt != nil,
		CreatedAt:     job.CreatedAt,
		StartedAt:     job.StartedAt,
		CompletedAt:   job.CompletedAt,
	}
	if job.ShortID != nil {
		resp.ShortID = *job.ShortID
	}

	// succeeded is undefined until the job completes.
	if job.CompletedAt != nil {
		succeeded := job.Succeeded
		resp.Succeeded = &succeeded
		if job.StartedAt != nil {
			duration := job.CompletedAt.Sub(*job.StartedAt).Milliseconds()
			resp.Duration = &duration
		}
	}
	return resp
}

func (h *JobHandler) RegisterRoutes(r *gin.RouterGroup, auth *middleware.AuthMiddleware) {
	r.POST("/jobs", auth.RequireCapability(middleware.CapQueueAdmin), h.SubmitJob)
	r.GET("/jobs", auth.RequireCapability(middleware.CapQueueAdmin), h.ListJobs)
	r.GET("/jobs/:id", auth.RequireCapability(middleware.CapQueueAdmin), h.GetJob)
	r.GET("/jobs/by-code/:code", auth.RequireCapability(middleware.CapQueueAdmin), h.GetJobByCode)
}
