// Package handler provides HTTP request handlers for the application.
package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/blocklist-app/blocklist-server/pkg/logger"
)

// HealthChecker reports whether a dependency is usable.
type HealthChecker interface {
	IsHealthy() bool
}

// HealthHandler handles health check endpoints.
type HealthHandler struct {
	ping      func(ctx context.Context) error
	publisher HealthChecker
}

// NewHealthHandler creates a new HealthHandler instance. publisher is nil
// when event publishing is disabled.
func NewHealthHandler(ping func(ctx context.Context) error, publisher HealthChecker) *HealthHandler {
	return &HealthHandler{
		ping:      ping,
		publisher: publisher,
	}
}

// LivenessProbe checks if the application is running.
func (h *HealthHandler) LivenessProbe(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status": "OK",
		"time":   time.Now().UTC(),
	})
}

// ReadinessProbe checks if the application is ready to serve traffic.
func (h *HealthHandler) ReadinessProbe(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 3*time.Second)
	defer cancel()

	if h.ping != nil {
		if err := h.ping(ctx); err != nil {
			logger.Log.Warn("Readiness check failed", zap.String("dependency", "database"), zap.Error(err))
			c.JSON(http.StatusServiceUnavailable, gin.H{
				"status":   "DOWN",
				"database": "unhealthy",
				"time":     time.Now().UTC(),
			})
			return
		}
	}

	rabbitmq := "disabled"
	if h.publisher != nil {
		if !h.publisher.IsHealthy() {
			c.JSON(http.StatusServiceUnavailable, gin.H{
				"status":   "DOWN",
				"database": "healthy",
				"rabbitmq": "unhealthy",
				"time":     time.Now().UTC(),
			})
			return
		}
		rabbitmq = "healthy"
	}

	c.JSON(http.StatusOK, gin.H{
		"status":   "UP",
		"database": "healthy",
		"rabbitmq": rabbitmq,
		"time":     time.Now().UTC(),
	})
}
