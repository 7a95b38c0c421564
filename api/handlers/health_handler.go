package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// RunningChecker reports whether the download manager accepts commands
type RunningChecker interface {
	IsRunning() bool
}

// HealthHandler handles health check requests
type HealthHandler struct {
	manager RunningChecker
	version string
}

// NewHealthHandler creates a new health handler
func NewHealthHandler(manager RunningChecker, version string) *HealthHandler {
	return &HealthHandler{
		manager: manager,
		version: version,
	}
}

// HealthResponse represents a health check response
type HealthResponse struct {
	Status  string `json:"status"`
	Version string `json:"version"`
	Manager struct {
		Running bool `json:"running"`
	} `json:"manager"`
}

// Health handles GET /health
func (h *HealthHandler) Health(c *gin.Context) {
	response := HealthResponse{
		Status:  "ok",
		Version: h.version,
	}
	response.Manager.Running = h.manager.IsRunning()

	c.JSON(http.StatusOK, response)
}

// Ready handles GET /ready
func (h *HealthHandler) Ready(c *gin.Context) {
	if !h.manager.IsRunning() {
		c.JSON(http.StatusServiceUnavailable, gin.H{
			"status": "not ready",
			"reason": "persistence manager not running",
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{"status": "ready"})
}
