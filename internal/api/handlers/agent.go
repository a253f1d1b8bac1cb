package handlers

import (
	"database/sql"
	"encoding/base64"
	"encoding/json"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/orthofab/printflow/internal/api/middleware"
	"github.com/orthofab/printflow/internal/core"
	"github.com/orthofab/printflow/internal/db"
)

type ClaimDesign struct {
	ID            string          `json:"id"`
	Name          string          `json:"name"`
	Algorithm     string          `json:"algorithm"`
	SchemaVersion int             `json:"schema_version"`
	Schema        json.RawMessage `json:"schema"`
}

// ClaimResponse carries everything the agent needs to process a job except
// file bytes, which it fetches separately. Debug-only fields are omitted
// from non-debug responses.
type ClaimResponse struct {
	ID           string          `json:"id"`
	ShortID      string          `json:"short_id,omitempty"`
	Design       ClaimDesign     `json:"design"`
	Parameters   json.RawMessage `json:"parameters"`
	CustomerRef  string          `json:"customer_ref,omitempty"`
	FileNames    []string        `json:"file_names"`
	IsDebug      bool            `json:"is_debug,omitempty"`
	SourceLog    string          `json:"source_log,omitempty"`
	CustomerNote string          `json:"customer_note,omitempty"`
}

type resultFilePayload struct {
	Name        string `json:"name"`
	ContentType string `json:"content_type"`
	DataBase64  string `json:"data_base64"`
}

type resultJSONRequest struct {
	Succeeded *bool               `json:"succeeded" binding:"required"`
	Log       string              `json:"log"`
	ErrorNote string              `json:"error_note"`
	Files     []resultFilePayload `json:"files"`
}

type debugRequest struct {
	JobID string `json:"job_id" binding:"required"`
}

type AgentHandler struct {
	store     *core.Store
	liveness  *core.LivenessMonitor
	maxInline int64
}

func NewAgentHandler(store *core.Store, liveness *core.LivenessMonitor, maxInlineFileBytes int64) *AgentHandler {
	return &AgentHandler{
		store:     store,
		liveness:  liveness,
		maxInline: maxInlineFileBytes,
	}
}

// NextJob is the agent's poll endpoint. Contact is recorded whether or not a
// job is available; an empty queue answers 204, which the agent treats as
// "poll again later".
func (h *AgentHandler) NextJob(c *gin.Context) {
	h.liveness.Touch()

	job, err := h.store.ClaimNext(c.Request.Context())
	if err != nil {
		respondError(c, err)
		return
	}
	if job == nil {
		c.Status(http.StatusNoContent)
		return
	}

	design, err := db.Designs.GetDesignByID(c.Request.Context(), job.DesignID)
	if err != nil {
		respondError(c, err)
		return
	}

	files, err := db.Files.ListJobFiles(c.Request.Context(), job.ID)
	if err != nil {
		respondError(c, err)
		return
	}
	fileNames := make([]string, 0, len(files))
	for _, f := range files {
		fileNames = append(fileNames, f.Name)
	}

	resp := ClaimResponse{
		ID: job.ID,
		Design: ClaimDesign{
			ID:            design.ID,
			Name:          design.Name,
			Algorithm:     design.Algorithm,
			SchemaVersion: job.SchemaVersion,
			Schema:        json.RawMessage(design.SchemaJSON),
		},
		Parameters:  json.RawMessage(job.ParamsJSON),
		CustomerRef: job.CustomerRef,
		FileNames:   fileNames,
	}
	if job.ShortID != nil {
		resp.ShortID = *job.ShortID
	}
	if job.IsDebug {
		resp.IsDebug = true
		resp.SourceLog = job.ProcessingLog
		resp.CustomerNote = job.CustomerNote
	}

	c.JSON(http.StatusOK, resp)

	// A debug job is single-use: once the agent has the payload the record
	// is gone. Best-effort, never surfaced to the response.
	if job.IsDebug {
		h.store.FinalizeDebugPickup(job.ID)
	}
}

func (h *AgentHandler) ReportResult(c *gin.Context) {
	jobID := c.Param("id")

	var report core.ResultReport
	var err error
	if strings.HasPrefix(c.ContentType(), "multipart/") {
		report, err = h.parseMultipartResult(c)
	} else {
		report, err = h.parseJSONResult(c)
	}
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	job, attempt, err := h.store.ReportResult(c.Request.Context(), jobID, report)
	if err != nil {
		respondError(c, err)
		return
	}

	resp := gin.H{"job": job}
	if attempt != nil {
		resp["print_attempt"] = attempt
	}
	c.JSON(http.StatusOK, resp)
}

func (h *AgentHandler) parseMultipartResult(c *gin.Context) (core.ResultReport, error) {
	form, err := c.MultipartForm()
	if err != nil {
		return core.ResultReport{}, err
	}

	report := core.ResultReport{
		Succeeded: formValue(form.Value, "succeeded") == "true",
		Log:       formValue(form.Value, "log"),
		ErrorNote: formValue(form.Value, "error_note"),
	}

	for _, fh := range form.File["files"] {
		f, err := fh.Open()
		if err != nil {
			return core.ResultReport{}, err
		}
		data, err := io.ReadAll(f)
		f.Close()
		if err != nil {
			return core.ResultReport{}, err
		}
		report.Files = append(report.Files, core.FileInput{
			Name:        fh.Filename,
			ContentType: fh.Header.Get("Content-Type"),
			Data:        data,
		})
	}
	return report, nil
}

// parseJSONResult handles the legacy inline encoding. Inline payloads are
// size-capped; large outputs must use the multipart path.
func (h *AgentHandler) parseJSONResult(c *gin.Context) (core.ResultReport, error) {
	var req resultJSONRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		return core.ResultReport{}, err
	}

	report := core.ResultReport{
		Succeeded: *req.Succeeded,
		Log:       req.Log,
		ErrorNote: req.ErrorNote,
	}

	// Checking the encoded length first means an oversized payload is
	// rejected without ever being decoded.
	encodedCap := int64(base64.StdEncoding.EncodedLen(int(h.maxInline)))
	for _, f := range req.Files {
		if int64(len(f.DataBase64)) > encodedCap {
			return core.ResultReport{}, h.inlineTooLarge(f.Name)
		}
		data, err := base64.StdEncoding.DecodeString(f.DataBase64)
		if err != nil {
			return core.ResultReport{}, err
		}
		if int64(len(data)) > h.maxInline {
			return core.ResultReport{}, h.inlineTooLarge(f.Name)
		}
		report.Files = append(report.Files, core.FileInput{
			Name:        f.Name,
			ContentType: f.ContentType,
			Data:        data,
			Inline:      true,
		})
	}
	return report, nil
}

func (h *AgentHandler) inlineTooLarge(name string) error {
	return &core.ValidationError{
		Field:  "files",
		Reason: "inline file '" + name + "' exceeds " + strconv.FormatInt(h.maxInline, 10) + " bytes",
	}
}

func (h *AgentHandler) GetJobFile(c *gin.Context) {
	jobID := c.Param("id")
	name := c.Param("name")

	file, err := db.Files.GetJobFile(c.Request.Context(), jobID, name)
	if err != nil {
		if err == sql.ErrNoRows {
			c.JSON(http.StatusNotFound, gin.H{"error": "file not found"})
			return
		}
		respondError(c, err)
		return
	}

	if c.Query("redirect") == "true" && file.Kind == db.FileKindRemote && file.BlobURL != "" {
		c.Redirect(http.StatusFound, file.BlobURL)
		return
	}

	data, err := h.store.OpenJobFile(c.Request.Context(), file)
	if err != nil {
		respondError(c, err)
		return
	}

	contentType := file.ContentType
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	c.Data(http.StatusOK, contentType, data)
}

func (h *AgentHandler) RequestDebugRun(c *gin.Context) {
	var req debugRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	job, err := h.store.RequestDebugRun(c.Request.Context(), req.JobID)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusCreated, job)
}

func formValue(values map[string][]string, key string) string {
	if v, ok := values[key]; ok && len(v) > 0 {
		return v[0]
	}
	return ""
}

func (h *AgentHandler) RegisterRoutes(r *gin.RouterGroup, auth *middleware.AuthMiddleware) {
	r.GET("/agent/next-job", auth.RequireCapability(middleware.CapQueueRead), h.NextJob)
	r.POST("/agent/jobs/:id/result", auth.RequireCapability(middleware.CapQueueWrite), h.ReportResult)
	r.GET("/agent/jobs/:id/files/:name", auth.RequireCapability(middleware.CapQueueRead), h.GetJobFile)
	r.POST("/debug-requests", auth.RequireCapability(middleware.CapQueueAdmin), h.RequestDebugRun)
}
