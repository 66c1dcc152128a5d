package middleware

import (
	"log"
	"time"

	"github.com/gin-gonic/gin"
)

// Logs one line per request, including the rate-limit decision recorded
// further down the chain.
func Logger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path
		if raw := c.Request.URL.RawQuery; raw != "" {
			path = path + "?" + raw
		}
		method := c.Request.Method

		c.Next()

		latency := time.Since(start)
		statusCode := c.Writer.Status()
		requestID := c.GetString("request_id")

		decision := c.GetString("rate_limit_decision")
		if decision == "" {
			decision = "unmetered"
		}

		log.Printf("[%s] %s %s - %d - %v - %s - decision=%s",
			requestID,
			method,
			path,
			statusCode,
			latency,
			c.ClientIP(),
			decision,
		)
	}
}
