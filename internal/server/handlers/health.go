// Package handlers provides HTTP request handlers for the server.
// This file handles the health check endpoint.
package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// HealthHandler serves GET /healthz.
type HealthHandler struct{}

// NewHealthHandler creates a new HealthHandler.
func NewHealthHandler() *HealthHandler {
	return &HealthHandler{}
}

// Health handles GET /healthz. Spec 6 only requires a trivial
// always-200 liveness probe; per-account quota detail belongs to the
// admin dashboard's own status call, not this route.
func (h *HealthHandler) Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}
