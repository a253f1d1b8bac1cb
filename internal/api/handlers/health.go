package handlers

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/orthofab/printflow/internal/api/middleware"
	"github.com/orthofab/printflow/internal/core"
)

type HealthHandler struct {
	liveness *core.LivenessMonitor
	metrics  *core.MetricsAggregator
}

func NewHealthHandler(liveness *core.LivenessMonitor, metrics *core.MetricsAggregator) *HealthHandler {
	return &HealthHandler{liveness: liveness, metrics: metrics}
}

func (h *HealthHandler) GetHealth(c *gin.Context) {
	state, lastContact := h.liveness.State()

	resp := gin.H{
		"status":      "ok",
		"agent_state": state,
		"time":        time.Now().UTC(),
	}
	if !lastContact.IsZero() {
		resp["agent_last_contact"] = lastContact.UTC()
	}

	c.JSON(http.StatusOK, resp)
}

func (h *HealthHandler) GetMetrics(c *gin.Context) {
	snapshot, err := h.metrics.Snapshot(c.Request.Context())
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, snapshot)
}

func (h *HealthHandler) RegisterRoutes(r *gin.RouterGroup, auth *middleware.AuthMiddleware) {
	r.GET("/health", auth.RequireCapability(middleware.CapQueueRead), h.GetHealth)
	r.GET("/metrics", auth.RequireCapability(middleware.CapQueueAdmin), h.GetMetrics)
}
