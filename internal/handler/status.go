package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"quota-gateway/internal/quota"
	"quota-gateway/internal/storage"
)

type StatusHandler struct {
	limiter  *quota.Service
	postgres *storage.Postgres
}

func NewStatusHandler(limiter *quota.Service, postgres *storage.Postgres) *StatusHandler {
	return &StatusHandler{limiter: limiter, postgres: postgres}
}

// Handles GET /status/:user_id. Returns usage against every metered API
// plus the caller's queue depth.
func (h *StatusHandler) UserStatus(c *gin.Context) {
	userID := c.Param("user_id")
	if userID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "user_id is required"})
		return
	}

	tier := c.GetString("user_tier")
	if tier == "" {
		tier = "free"
	}

	ctx := c.Request.Context()
	status, err := h.limiter.UserQuotaStatus(ctx, userID, tier)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, status)
}

// Handles GET /health. Unhealthy only when the quota store is down; a
// database outage degrades analytics but not admission.
func (h *StatusHandler) Health(c *gin.Context) {
	ctx := c.Request.Context()
	health := h.limiter.Store().HealthCheck(ctx)

	dbStatus := "ok"
	if h.postgres != nil {
		if err := h.postgres.Ping(ctx); err != nil {
			dbStatus = err.Error()
		}
	}

	status := http.StatusOK
	if !health.Connected {
		status = http.StatusServiceUnavailable
	}

	c.JSON(status, gin.H{
		"store":    health,
		"database": dbStatus,
	})
}
