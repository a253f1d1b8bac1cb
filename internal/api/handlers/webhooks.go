package handlers

import (
	"bytes"
	"crypto/hmac"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/orthofab/printflow/internal/api/middleware"
	"github.com/orthofab/printflow/internal/db"
	"github.com/orthofab/printflow/internal/webhook"
)

type CreateWebhookRequest struct {
	Name   string   `json:"name" binding:"required"`
	URL    string   `json:"url" binding:"required,url"`
	Secret string   `json:"secret"`
	Events []string `json:"events" binding:"required"`
}

type UpdateWebhookRequest struct {
	Name    string   `json:"name"`
	URL     string   `json:"url" binding:"omitempty,url"`
	Secret  string   `json:"secret"`
	Events  []string `json:"events"`
	Enabled *bool    `json:"enabled"`
}

type WebhookResponse struct {
	ID        int64     `json:"id"`
	Name      string    `json:"name"`
	URL       string    `json:"url"`
	Events    []string  `json:"events"`
	Enabled   bool      `json:"enabled"`
	CreatedAt time.Time `json:"created_at"`
}

type WebhookHandler struct {
	httpClient *http.Client
}

func NewWebhookHandler() *WebhookHandler {
	return &WebhookHandler{
		httpClient: &http.Client{
			Timeout: 10 * time.Second,
		},
	}
}

func (h *WebhookHandler) ListWebhooks(c *gin.Context) {
	webhooks, err := db.Webhooks.ListWebhooks(c.Request.Context())
	if err != nil {
		respondError(c, err)
		return
	}

	responses := make([]WebhookResponse, 0, len(webhooks))
	for _, w := range webhooks {
		responses = append(responses, webhookToResponse(w))
	}

	c.JSON(http.StatusOK, responses)
}

func (h *WebhookHandler) CreateWebhook(c *gin.Context) {
	var req CreateWebhookRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	if len(req.Events) == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "at least one event must be specified"})
		return
	}
	for _, event := range req.Events {
		if !isValidEvent(event) {
			c.JSON(http.StatusBadRequest, gin.H{"error": fmt.Sprintf("invalid event type: %s", event)})
			return
		}
	}

	eventsJSON, err := json.Marshal(req.Events)
	if err != nil {
		respondError(c, err)
		return
	}

	w := &db.Webhook{
		Name:       req.Name,
		URL:        req.URL,
		Secret:     req.Secret,
		EventsJSON: string(eventsJSON),
		Enabled:    true,
	}

	if err := db.Webhooks.CreateWebhook(c.Request.Context(), w); err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusCreated, webhookToResponse(w))
}

func (h *WebhookHandler) GetWebhook(c *gin.Context) {
	w, ok := h.lookup(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, webhookToResponse(w))
}

func (h *WebhookHandler) UpdateWebhook(c *gin.Context) {
	w, ok := h.lookup(c)
	if !ok {
		return
	}

	var req UpdateWebhookRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	if req.Name != "" {
		w.Name = req.Name
	}
	if req.URL != "" {
		w.URL = req.URL
	}
	if req.Secret != "" {
		w.Secret = req.Secret
	}
	if len(req.Events) > 0 {
		for _, event := range req.Events {
			if !isValidEvent(event) {
				c.JSON(http.StatusBadRequest, gin.H{"error": fmt.Sprintf("invalid event type: %s", event)})
				return
			}
		}
		eventsJSON, err := json.Marshal(req.Events)
		if err != nil {
			respondError(c, err)
			return
		}
		w.EventsJSON = string(eventsJSON)
	}
	if req.Enabled != nil {
		w.Enabled = *req.Enabled
	}

	if err := db.Webhooks.UpdateWebhook(c.Request.Context(), w); err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, webhookToResponse(w))
}

func (h *WebhookHandler) DeleteWebhook(c *gin.Context) {
	w, ok := h.lookup(c)
	if !ok {
		return
	}

	if err := db.Webhooks.DeleteWebhook(c.Request.Context(), w.ID); err != nil {
		respondError(c, err)
		return
	}

	c.Status(http.StatusNoContent)
}

// TestWebhook fires a synthetic event at the endpoint so operators can verify
// connectivity and signature handling before relying on real deliveries.
func (h *WebhookHandler) TestWebhook(c *gin.Context) {
	w, ok := h.lookup(c)
	if !ok {
		return
	}

	payloadBytes, err := json.Marshal(gin.H{
		"test":       true,
		"message":    "Test webhook from printflow",
		"timestamp":  time.Now().UTC(),
		"webhook_id": w.ID,
	})
	if err != nil {
		respondError(c, err)
		return
	}

	req, err := http.NewRequestWithContext(c.Request.Context(), http.MethodPost, w.URL, bytes.NewReader(payloadBytes))
	if err != nil {
		c.JSON(http.StatusOK, gin.H{"success": false, "message": fmt.Sprintf("failed to create request: %v", err)})
		return
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Webhook-Event", "test")
	req.Header.Set("X-Webhook-Test", "true")
	if w.Secret != "" {
		req.Header.Set("X-Webhook-Signature", computeSignature(payloadBytes, w.Secret))
	}

	resp, err := h.httpClient.Do(req)
	if err != nil {
		c.JSON(http.StatusOK, gin.H{"success": false, "message": fmt.Sprintf("failed to send webhook: %v", err)})
		return
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		c.JSON(http.StatusOK, gin.H{"success": false, "message": fmt.Sprintf("webhook returned status %d", resp.StatusCode)})
		return
	}

	c.JSON(http.StatusOK, gin.H{"success": true, "message": fmt.Sprintf("webhook test successful (status %d)", resp.StatusCode)})
}

func (h *WebhookHandler) lookup(c *gin.Context) (*db.Webhook, bool) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid webhook id"})
		return nil, false
	}

	w, err := db.Webhooks.GetWebhookByID(c.Request.Context(), id)
	if err != nil {
		if err == sql.ErrNoRows {
			c.JSON(http.StatusNotFound, gin.H{"error": "webhook not found"})
			return nil, false
		}
		respondError(c, err)
		return nil, false
	}
	return w, true
}

func webhookToResponse(w *db.Webhook) WebhookResponse {
	var events []string
	if w.EventsJSON != "" {
		json.Unmarshal([]byte(w.EventsJSON), &events)
	}
	if events == nil {
		events = []string{}
	}

	return WebhookResponse{
		ID:        w.ID,
		Name:      w.Name,
		URL:       w.URL,
		Events:    events,
		Enabled:   w.Enabled,
		CreatedAt: w.CreatedAt,
	}
}

func isValidEvent(event string) bool {
	switch webhook.Event(event) {
	case webhook.EventJobCompleted, webhook.EventJobFailed,
		webhook.EventPrintAccepted, webhook.EventPrintRejected:
		return true
	}
	return false
}

func computeSignature(payload []byte, secret string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(payload)
	return hex.EncodeToString(mac.Sum(nil))
}

func (h *WebhookHandler) RegisterRoutes(r *gin.RouterGroup, auth *middleware.AuthMiddleware) {
	admin := auth.RequireCapability(middleware.CapQueueAdmin)
	r.GET("/webhooks", admin, h.ListWebhooks)
	r.POST("/webhooks", admin, h.CreateWebhook)
	r.GET("/webhooks/:id", admin, h.GetWebhook)
	r.PUT("/webhooks/:id", admin, h.UpdateWebhook)
	r.DELETE("/webhooks/:id", admin, h.DeleteWebhook)
	r.POST("/webhooks/:id/test", admin, h.TestWebhook)
}
