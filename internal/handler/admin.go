package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"quota-gateway/internal/adapter"
	"quota-gateway/internal/config"
	"quota-gateway/internal/monitoring"
	"quota-gateway/internal/quota"
	"quota-gateway/internal/repository"
	"quota-gateway/internal/scheduler"
)

// Operational controls: quota resets, queue draining, alert history and
// circuit breaker management. All routes sit behind AdminAuth.
type AdminHandler struct {
	limiter   *quota.Service
	scheduler *scheduler.Scheduler
	alerts    *monitoring.AlertManager
	alertRepo *repository.AlertRepository
	breakers  map[string]*adapter.Breaker
}

func NewAdminHandler(limiter *quota.Service, sched *scheduler.Scheduler, alerts *monitoring.AlertManager, alertRepo *repository.AlertRepository, breakers map[string]*adapter.Breaker) *AdminHandler {
	return &AdminHandler{
		limiter:   limiter,
		scheduler: sched,
		alerts:    alerts,
		alertRepo: alertRepo,
		breakers:  breakers,
	}
}

// Handles POST /admin/quota/reset
func (h *AdminHandler) ResetQuota(c *gin.Context) {
	var req struct {
		UserID  string `json:"user_id" binding:"required"`
		APIType string `json:"api_type" binding:"required"`
	}

	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	api := config.APIType(req.APIType)
	if !validAPIType(api) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "unknown api_type"})
		return
	}

	ctx := c.Request.Context()
	if !h.limiter.Store().ResetQuota(ctx, api, req.UserID) {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "quota reset failed"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"message": "Quota reset successfully",
		"user_id": req.UserID,
		"api":     api,
	})
}

// Handles POST /admin/queue/drain. With a user_id only that user's queue is
// replayed; without one, every queue gets a drain pass.
func (h *AdminHandler) DrainQueues(c *gin.Context) {
	var req struct {
		UserID   string `json:"user_id"`
		MaxItems int64  `json:"max_items"`
	}

	// Empty body means drain everything
	_ = c.ShouldBindJSON(&req)

	if req.MaxItems <= 0 {
		req.MaxItems = 10
	}

	ctx := c.Request.Context()

	if req.UserID != "" {
		released, err := h.limiter.ProcessQueue(ctx, req.UserID, req.MaxItems)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"released": released, "user_id": req.UserID})
		return
	}

	released := h.scheduler.DrainQueues(ctx)
	c.JSON(http.StatusOK, gin.H{"released": released})
}

// Handles DELETE /admin/queue/:user_id. Discards queued requests without
// replaying them.
func (h *AdminHandler) DiscardQueue(c *gin.Context) {
	userID := c.Param("user_id")

	ctx := c.Request.Context()
	if !h.limiter.Store().DrainQueue(ctx, userID) {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "queue discard failed"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"message": "Queue discarded",
		"user_id": userID,
	})
}

// Handles GET /admin/alerts. Default is the in-memory 24h window;
// ?persisted=true reads the archived records from postgres instead.
func (h *AdminHandler) ListAlerts(c *gin.Context) {
	if c.Query("persisted") != "true" {
		c.JSON(http.StatusOK, gin.H{"alerts": h.alerts.History()})
		return
	}

	from, to, err := parseTimeRange(c)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	ctx := c.Request.Context()

	var records interface{}
	if level := c.Query("level"); level != "" {
		records, err = h.alertRepo.FindByLevel(ctx, level, from, to, 100, 0)
	} else {
		records, err = h.alertRepo.FindByTimeRange(ctx, from, to, 100, 0)
	}
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{"alerts": records})
}

// Handles GET /admin/system
func (h *AdminHandler) SystemStatus(c *gin.Context) {
	ctx := c.Request.Context()
	store := h.limiter.Store()

	apis := make(map[string]quota.CallStats)
	for _, api := range config.APITypes() {
		apis[string(api)] = store.APICallStats(ctx, api)
	}

	breakers := make(map[string]string, len(h.breakers))
	for name, b := range h.breakers {
		breakers[name] = b.State()
	}

	status := gin.H{
		"store":    store.HealthCheck(ctx),
		"apis":     apis,
		"breakers": breakers,
	}

	if rate, ok := store.CacheHitRate(ctx); ok {
		status["cache_hit_rate"] = rate
	}

	c.JSON(http.StatusOK, status)
}

// Handles POST /admin/breakers/:name/reset
func (h *AdminHandler) ResetBreaker(c *gin.Context) {
	name := c.Param("name")

	breaker, exists := h.breakers[name]
	if !exists {
		c.JSON(http.StatusNotFound, gin.H{"error": "Breaker not found"})
		return
	}

	breaker.Reset()

	c.JSON(http.StatusOK, gin.H{
		"message": "Circuit breaker reset successfully",
		"breaker": name,
	})
}

func validAPIType(api config.APIType) bool {
	for _, known := range config.APITypes() {
		if known == api {
			return true
		}
	}
	return false
}
