package handler

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"

	"quota-gateway/internal/config"
	"quota-gateway/internal/quota"
)

func TestRespondQuotaErrorSetsQueueHeaders(t *testing.T) {
	gin.SetMode(gin.TestMode)
	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)

	err := errors.Wrap(&quota.ErrQuotaExceeded{
		APIType:       config.APIYouTube,
		UserID:        "alice",
		Usage:         50,
		Limit:         50,
		QueuePosition: 1,
		EstimatedWait: 60,
	}, "search videos")
	respondQuotaError(c, err)

	assert.Equal(t, http.StatusTooManyRequests, w.Code)
	assert.Equal(t, "60", w.Header().Get("Retry-After"))
	assert.Equal(t, "1", w.Header().Get("X-Queue-Position"))
	assert.Contains(t, w.Body.String(), "queue_position")
}

func TestRespondQuotaErrorWithoutQueueOmitsHeaders(t *testing.T) {
	gin.SetMode(gin.TestMode)
	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)

	respondQuotaError(c, &quota.ErrQuotaExceeded{
		APIType: config.APIYouTube,
		UserID:  "alice",
		Usage:   50,
		Limit:   50,
	})

	assert.Equal(t, http.StatusTooManyRequests, w.Code)
	assert.Empty(t, w.Header().Get("Retry-After"))
	assert.Empty(t, w.Header().Get("X-Queue-Position"))
}

func TestRespondQuotaErrorUpstreamFailure(t *testing.T) {
	gin.SetMode(gin.TestMode)
	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)

	respondQuotaError(c, errors.New("connection reset"))

	assert.Equal(t, http.StatusBadGateway, w.Code)
}
