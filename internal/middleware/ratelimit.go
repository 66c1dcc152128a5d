package middleware

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"quota-gateway/internal/metrics"
	"quota-gateway/internal/quota"
)

// Captures the response body so safe reads can be cached after the
// handler runs.
type cachingWriter struct {
	gin.ResponseWriter
	body bytes.Buffer
}

func (w *cachingWriter) Write(b []byte) (int, error) {
	w.body.Write(b)
	return w.ResponseWriter.Write(b)
}

// RateLimit makes quota enforcement transparent to route handlers. Requests
// on excluded paths, anonymous requests, and routes outside the routing
// table pass through untouched. Any failure inside the limiter itself fails
// open (or closed, per configuration) - availability wins over strict
// enforcement when the limiter is unhealthy.
func RateLimit(limiter *quota.Service, rules []RouteRule) gin.HandlerFunc {
	return func(c *gin.Context) {
		if excludedPath(c.Request.URL.Path) {
			c.Next()
			return
		}

		userID := c.GetString("user_id")
		if userID == "" {
			// Anonymous traffic was already checked by the global limiter
			c.Next()
			return
		}

		rule := matchRoute(rules, c.Request.URL.Path, c.Request.Method)
		if rule == nil {
			c.Next()
			return
		}

		tier := c.GetString("user_tier")
		requestData := extractRequestData(c, rule.DataFields)

		result, err := limiter.CheckAndConsume(c.Request.Context(), userID, tier, rule.API, rule.Operation, requestData, rule.Priority)
		if err != nil {
			if limiter.FailOpen() {
				log.Printf("rate limit check failed, passing through unprotected: %v", err)
				c.Next()
				return
			}
			rejectJSON(c, http.StatusServiceUnavailable, "rate limiter unavailable")
			return
		}

		c.Set("rate_limit_decision", result.Decision.String())
		metrics.RecordDecision(string(rule.API), result.Decision.String())

		switch result.Decision {
		case quota.Cached:
			c.Header("X-Cache-Status", "HIT")
			c.Data(http.StatusOK, "application/json", result.Payload)
			c.Abort()

		case quota.Allowed:
			c.Header("X-Rate-Limit-Limit", fmt.Sprintf("%d", result.Limit))
			c.Header("X-Rate-Limit-Remaining", fmt.Sprintf("%d", result.Remaining))
			c.Header("X-Rate-Limit-Used", fmt.Sprintf("%d", result.Usage))
			c.Header("X-Rate-Limit-Reset", fmt.Sprintf("%d", nextResetUnix()))

			writer := &cachingWriter{ResponseWriter: c.Writer}
			c.Writer = writer

			c.Next()

			// Opportunistically cache successful safe reads. Without
			// cacheable params the decision engine never looks the entry
			// up again, so writing one would only burn storage.
			status := writer.Status()
			if requestData != nil && c.Request.Method == http.MethodGet && status >= 200 && status < 300 && writer.body.Len() > 0 {
				limiter.CacheResponse(c.Request.Context(), tier, rule.API, rule.Operation, requestData, json.RawMessage(writer.body.Bytes()), 0)
			}

		case quota.Queued:
			retryAfter := int(result.EstimatedWait.Seconds())
			c.Header("Retry-After", fmt.Sprintf("%d", retryAfter))
			c.Header("X-Queue-Position", fmt.Sprintf("%d", result.QueuePosition))
			rejectJSON(c, http.StatusTooManyRequests,
				fmt.Sprintf("quota exhausted; request queued at position %d, estimated wait %ds", result.QueuePosition, retryAfter))

		default:
			c.Header("Retry-After", "60")
			message := "rate limit exceeded"
			if result.Reason != "" {
				message = result.Reason
			}
			rejectJSON(c, http.StatusTooManyRequests, message)
		}
	}
}

// Builds the cache-relevant request data from allow-listed fields only.
// Returns nil when nothing relevant is present, which disables the cache
// path for the request.
func extractRequestData(c *gin.Context, fields []string) map[string]string {
	data := make(map[string]string)

	var body map[string]interface{}
	if c.Request.Method != http.MethodGet && c.Request.Body != nil {
		raw, err := io.ReadAll(io.LimitReader(c.Request.Body, maxIdentityBodyBytes))
		if err == nil {
			c.Request.Body = io.NopCloser(bytes.NewReader(raw))
			_ = json.Unmarshal(raw, &body)
		}
	}

	for _, field := range fields {
		if value := c.Query(field); value != "" {
			data[field] = value
			continue
		}
		if body != nil {
			if value, ok := body[field].(string); ok && value != "" {
				data[field] = value
			}
		}
	}

	if len(data) == 0 {
		return nil
	}
	return data
}

func rejectJSON(c *gin.Context, status int, message string) {
	c.JSON(status, gin.H{
		"success":   false,
		"error":     message,
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
	c.Abort()
}

// Unix time of the next daily quota reset (00:00 UTC).
func nextResetUnix() int64 {
	now := time.Now().UTC()
	return time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC).Add(24 * time.Hour).Unix()
}
