package middleware

import (
	"context"
	"log"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"quota-gateway/internal/models"
	"quota-gateway/internal/repository"
)

// Batches request logs into postgres off the hot path. Constructed once and
// injected; the channel decouples handlers from database latency.
type RequestLogger struct {
	repo     *repository.RequestLogRepository
	logs     chan models.RequestLog
	stopChan chan struct{}
}

func NewRequestLogger(repo *repository.RequestLogRepository, bufferSize int) *RequestLogger {
	if bufferSize <= 0 {
		bufferSize = 1000
	}
	return &RequestLogger{
		repo:     repo,
		logs:     make(chan models.RequestLog, bufferSize),
		stopChan: make(chan struct{}),
	}
}

// Start launches the background batch writer.
func (l *RequestLogger) Start() {
	go func() {
		batch := make([]*models.RequestLog, 0, 100)
		ticker := time.NewTicker(5 * time.Second)
		defer ticker.Stop()

		flush := func() {
			if len(batch) == 0 {
				return
			}
			if err := l.repo.CreateBatch(context.Background(), batch); err != nil {
				log.Printf("request logger: batch insert failed: %v", err)
			}
			batch = make([]*models.RequestLog, 0, 100)
		}

		for {
			select {
			case entry := <-l.logs:
				e := entry
				batch = append(batch, &e)
				if len(batch) >= 100 {
					flush()
				}
			case <-ticker.C:
				flush()
			case <-l.stopChan:
				flush()
				return
			}
		}
	}()
}

func (l *RequestLogger) Stop() {
	close(l.stopChan)
}

// Logs all HTTP requests
func (l *RequestLogger) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()

		c.Next()

		duration := time.Since(start)

		var apiKeyID *uuid.UUID
		if apiKeyInterface, exists := c.Get("api_key_id"); exists {
			if id, ok := apiKeyInterface.(uuid.UUID); ok {
				apiKeyID = &id
			}
		}

		entry := models.RequestLog{
			Timestamp:      start,
			APIKeyID:       apiKeyID,
			UserID:         c.GetString("user_id"),
			Tier:           c.GetString("user_tier"),
			Decision:       c.GetString("rate_limit_decision"),
			Method:         c.Request.Method,
			Path:           c.Request.URL.Path,
			StatusCode:     c.Writer.Status(),
			ResponseTimeMs: int(duration.Milliseconds()),
			IPAddress:      c.ClientIP(),
			UserAgent:      c.Request.UserAgent(),
		}

		select {
		case l.logs <- entry:
			// Successfully queued
		default:
			// Channel full, skip logging to avoid blocking
		}
	}
}
