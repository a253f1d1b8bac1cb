package handlers

import (
	"database/sql"
	"io"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/orthofab/printflow/internal/api/middleware"
	"github.com/orthofab/printflow/internal/core"
	"github.com/orthofab/printflow/internal/db"
)

type ProgressRequest struct {
	Progress  *int `json:"progress" binding:"required"`
	Completed bool `json:"completed"`
	Succeeded bool `json:"succeeded"`
}

type DecisionRequest struct {
	Accept *bool   `json:"accept" binding:"required"`
	Note   *string `json:"note"`
}

type PrintHandler struct {
	store     *core.Store
	hub       *core.ProgressHub
	heartbeat time.Duration
}

func NewPrintHandler(store *core.Store, hub *core.ProgressHub, heartbeat time.Duration) *PrintHandler {
	return &PrintHandler{store: store, hub: hub, heartbeat: heartbeat}
}

func (h *PrintHandler) GetPrint(c *gin.Context) {
	attempt, err := db.Prints.GetPrintAttemptByID(c.Request.Context(), c.Param("id"))
	if err != nil {
		if err == sql.ErrNoRows {
			c.JSON(http.StatusNotFound, gin.H{"error": "print attempt not found"})
			return
		}
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, attempt)
}

func (h *PrintHandler) ReportProgress(c *gin.Context) {
	var req ProgressRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	attempt, err := h.store.ReportPrintProgress(c.Request.Context(), c.Param("id"), core.ProgressReport{
		Progress:  *req.Progress,
		Completed: req.Completed,
		Succeeded: req.Succeeded,
	})
	if err != nil {
		respondError(c, err)
		return
	}

	reportedAt := time.Now().UTC()
	if attempt.ProgressReportedAt != nil {
		reportedAt = *attempt.ProgressReportedAt
	}
	h.hub.Publish(core.ProgressUpdate{
		AttemptID:  attempt.ID,
		JobID:      attempt.JobID,
		Progress:   attempt.Progress,
		Completed:  attempt.CompletedAt != nil,
		Succeeded:  attempt.Succeeded,
		ReportedAt: reportedAt,
	})

	c.JSON(http.StatusOK, attempt)
}

func (h *PrintHandler) Decide(c *gin.Context) {
	var req DecisionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	attempt, err := h.store.Decide(c.Request.Context(), c.Param("id"), middleware.CallerOrg(c), *req.Accept, req.Note)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, attempt)
}

// Stream pushes live progress updates over server-sent events. Heartbeat
// comments keep idle connections from being reaped by proxies.
func (h *PrintHandler) Stream(c *gin.Context) {
	updates, unsubscribe := h.hub.Subscribe()
	defer unsubscribe()

	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")

	ticker := time.NewTicker(h.heartbeat)
	defer ticker.Stop()

	ctx := c.Request.Context()
	c.Stream(func(w io.Writer) bool {
		select {
		case update, ok := <-updates:
			if !ok {
				return false
			}
			c.SSEvent("progress", update)
		case <-ticker.C:
			c.SSEvent("heartbeat", gin.H{"time": time.Now().UTC()})
		case <-ctx.Done():
			return false
		}
		return true
	})
}

func (h *PrintHandler) RegisterRoutes(r *gin.RouterGroup, auth *middleware.AuthMiddleware) {
	r.GET("/prints/:id", auth.RequireCapability(middleware.CapQueueRead), h.GetPrint)
	r.POST("/prints/:id/progress", auth.RequireCapability(middleware.CapQueueWrite), h.ReportProgress)
	r.POST("/prints/:id/decision", auth.RequireCapability(middleware.CapQueueAdmin), h.Decide)
	r.GET("/progress/stream", auth.RequireCapability(middleware.CapQueueRead), h.Stream)
}
