package handlers

import (
	"database/sql"
	"encoding/json"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/orthofab/printflow/internal/api/middleware"
	"github.com/orthofab/printflow/internal/core"
	"github.com/orthofab/printflow/internal/db"
)

type CreateDesignRequest struct {
	Name      string          `json:"name" binding:"required"`
	Algorithm string          `json:"algorithm" binding:"required"`
	Schema    json.RawMessage `json:"schema" binding:"required"`
}

type UpdateDesignRequest struct {
	Name   string          `json:"name"`
	Schema json.RawMessage `json:"schema"`
}

type DesignHandler struct{}

func NewDesignHandler() *DesignHandler {
	return &DesignHandler{}
}

func (h *DesignHandler) CreateDesign(c *gin.Context) {
	var req CreateDesignRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	// Reject schemas the validator cannot enforce before they reach the
	// database, otherwise every later submission against the design fails.
	if _, err := core.ParseSchema(string(req.Schema)); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid parameter schema: " + err.Error()})
		return
	}

	design := &db.Design{
		ID:            uuid.NewString(),
		Name:          req.Name,
		Algorithm:     req.Algorithm,
		SchemaVersion: 1,
		SchemaJSON:    string(req.Schema),
		Enabled:       true,
		CreatedAt:     time.Now().UTC(),
		UpdatedAt:     time.Now().UTC(),
	}

	if err := db.Designs.CreateDesign(c.Request.Context(), design); err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusCreated, design)
}

func (h *DesignHandler) ListDesigns(c *gin.Context) {
	designs, err := db.Designs.ListDesigns(c.Request.Context())
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"designs": designs, "count": len(designs)})
}

func (h *DesignHandler) GetDesign(c *gin.Context) {
	design, err := db.Designs.GetDesignByID(c.Request.Context(), c.Param("id"))
	if err != nil {
		if err == sql.ErrNoRows {
			c.JSON(http.StatusNotFound, gin.H{"error": "design not found"})
			return
		}
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, design)
}

func (h *DesignHandler) UpdateDesign(c *gin.Context) {
	var req UpdateDesignRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	design, err := db.Designs.GetDesignByID(c.Request.Context(), c.Param("id"))
	if err != nil {
		if err == sql.ErrNoRows {
			c.JSON(http.StatusNotFound, gin.H{"error": "design not found"})
			return
		}
		respondError(c, err)
		return
	}

	if req.Name != "" {
		design.Name = req.Name
	}
	if len(req.Schema) > 0 {
		if _, err := core.ParseSchema(string(req.Schema)); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid parameter schema: " + err.Error()})
			return
		}
		design.SchemaJSON = string(req.Schema)
		// Jobs record the version they validated against; bump it so old
		// jobs stay attributable to the schema they actually used.
		design.SchemaVersion++
	}
	design.UpdatedAt = time.Now().UTC()

	if err := db.Designs.UpdateDesign(c.Request.Context(), design); err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, design)
}

func (h *DesignHandler) DisableDesign(c *gin.Context) {
	if err := db.Designs.DisableDesign(c.Request.Context(), c.Param("id")); err != nil {
		if err == sql.ErrNoRows {
			c.JSON(http.StatusNotFound, gin.H{"error": "design not found"})
			return
		}
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "design disabled"})
}

func (h *DesignHandler) RegisterRoutes(r *gin.RouterGroup, auth *middleware.AuthMiddleware) {
	admin := auth.RequireCapability(middleware.CapQueueAdmin)
	r.POST("/designs", admin, h.CreateDesign)
	r.GET("/designs", admin, h.ListDesigns)
	r.GET("/designs/:id", admin, h.GetDesign)
	r.PUT("/designs/:id", admin, h.UpdateDesign)
	r.DELETE("/designs/:id", admin, h.DisableDesign)
}
