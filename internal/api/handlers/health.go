package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

const serviceName = "routerfleet"

// Health reports process liveness only. Dependencies are checked by Ready.
func (h *Handler) Health(c *gin.Context) {
	now := time.Now()
	c.JSON(http.StatusOK, gin.H{
		"status":         "healthy",
		"service":        serviceName,
		"started_at":     h.started.UTC().Format(time.RFC3339),
		"uptime_seconds": int64(now.Sub(h.started).Seconds()),
		"time":           now.Unix(),
	})
}

func (h *Handler) Ready(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
	defer cancel()

	if err := h.store.Ping(ctx); err != nil {
		h.logger.Warn("Readiness check failed", zap.Error(err))
		c.JSON(http.StatusServiceUnavailable, gin.H{
			"status": "not ready",
			"error":  "database connection failed",
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"status": "ready",
		"time":   time.Now().Unix(),
	})
}
