package handler

import (
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/pkg/errors"
	"quota-gateway/internal/adapter"
	"quota-gateway/internal/quota"
)

type VideoHandler struct {
	adapter *adapter.VideoAdapter
}

func NewVideoHandler(adapter *adapter.VideoAdapter) *VideoHandler {
	return &VideoHandler{adapter: adapter}
}

// Handles GET /api/video/search
func (h *VideoHandler) Search(c *gin.Context) {
	userID, tier, ok := callerIdentity(c)
	if !ok {
		return
	}

	query := c.Query("query")
	if query == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "query is required"})
		return
	}

	ctx := c.Request.Context()
	videos, err := h.adapter.SearchVideos(ctx, userID, tier, query, maxResults(c, 10),
		requestPriority(c), forceRefresh(c))
	if err != nil {
		respondQuotaError(c, err)
		return
	}

	c.JSON(http.StatusOK, videos)
}

// Handles GET /api/video/details
func (h *VideoHandler) Details(c *gin.Context) {
	userID, tier, ok := callerIdentity(c)
	if !ok {
		return
	}

	raw := c.Query("video_ids")
	if raw == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "video_ids is required"})
		return
	}

	ids := strings.Split(raw, ",")
	for i := range ids {
		ids[i] = strings.TrimSpace(ids[i])
	}

	ctx := c.Request.Context()
	videos, err := h.adapter.VideoDetails(ctx, userID, tier, ids, requestPriority(c), forceRefresh(c))
	if err != nil {
		respondQuotaError(c, err)
		return
	}

	c.JSON(http.StatusOK, videos)
}

// Handles GET /api/video/trending
func (h *VideoHandler) Trending(c *gin.Context) {
	userID, tier, ok := callerIdentity(c)
	if !ok {
		return
	}

	region := c.DefaultQuery("region", "US")

	ctx := c.Request.Context()
	videos, err := h.adapter.Trending(ctx, userID, tier, region, maxResults(c, 10),
		requestPriority(c), forceRefresh(c))
	if err != nil {
		respondQuotaError(c, err)
		return
	}

	c.JSON(http.StatusOK, videos)
}

// Handles GET /api/video/channel
func (h *VideoHandler) Channel(c *gin.Context) {
	userID, tier, ok := callerIdentity(c)
	if !ok {
		return
	}

	channelID := c.Query("channel_id")
	if channelID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "channel_id is required"})
		return
	}

	ctx := c.Request.Context()
	channels, err := h.adapter.ChannelInfo(ctx, userID, tier, channelID, requestPriority(c), forceRefresh(c))
	if err != nil {
		respondQuotaError(c, err)
		return
	}

	c.JSON(http.StatusOK, channels)
}

// Handles GET /video/recommendations. This route is metered by the rate
// limit middleware rather than the adapter, so the handler only builds
// the response.
func (h *VideoHandler) Recommendations(c *gin.Context) {
	seed := c.DefaultQuery("seed", "popular")

	items := make([]adapter.Video, 0, 5)
	for i := 1; i <= 5; i++ {
		items = append(items, adapter.Video{
			ID:           fmt.Sprintf("rec-%s-%d", seed, i),
			Title:        fmt.Sprintf("Recommended for %s #%d", seed, i),
			ChannelTitle: "recommendations",
		})
	}

	c.JSON(http.StatusOK, adapter.VideoList{Items: items})
}

func callerIdentity(c *gin.Context) (string, string, bool) {
	userID := c.GetString("user_id")
	if userID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "user identity is required"})
		c.Abort()
		return "", "", false
	}

	tier := c.GetString("user_tier")
	if tier == "" {
		tier = "free"
	}
	return userID, tier, true
}

func requestPriority(c *gin.Context) quota.Priority {
	raw := c.Query("priority")
	if raw == "" {
		raw = c.GetHeader("X-Priority")
	}

	switch strings.ToLower(raw) {
	case "critical":
		return quota.PriorityCritical
	case "high":
		return quota.PriorityHigh
	case "low":
		return quota.PriorityLow
	default:
		return quota.PriorityMedium
	}
}

func forceRefresh(c *gin.Context) bool {
	return c.Query("force_refresh") == "true"
}

func maxResults(c *gin.Context, fallback int) int {
	raw := c.Query("max_results")
	if raw == "" {
		return fallback
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n <= 0 || n > 50 {
		return fallback
	}
	return n
}

// Translates adapter errors into HTTP responses. Quota rejections become a
// 429 carrying the queue metadata; anything else is an upstream failure.
func respondQuotaError(c *gin.Context, err error) {
	var quotaErr *quota.ErrQuotaExceeded
	if errors.As(err, &quotaErr) {
		if quotaErr.EstimatedWait > 0 {
			c.Header("Retry-After", strconv.FormatInt(quotaErr.EstimatedWait, 10))
		}
		if quotaErr.QueuePosition > 0 {
			c.Header("X-Queue-Position", strconv.FormatInt(quotaErr.QueuePosition, 10))
		}
		c.JSON(http.StatusTooManyRequests, gin.H{
			"error":          quotaErr.Error(),
			"api_type":       quotaErr.APIType,
			"usage":          quotaErr.Usage,
			"limit":          quotaErr.Limit,
			"queue_position": quotaErr.QueuePosition,
			"estimated_wait": quotaErr.EstimatedWait,
			"timestamp":      time.Now().UTC().Format(time.RFC3339),
		})
		return
	}

	c.JSON(http.StatusBadGateway, gin.H{"error": err.Error()})
}
