package middleware

import (
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"
	"quota-gateway/internal/config"
)

type ipWindow struct {
	count       int
	windowStart time.Time
}

// First line of defense, running before any per-user logic: a fixed-window
// counter per client IP (reset every 60 seconds) plus an aggregate ceiling
// across all traffic. Anonymous requests get no further rate limiting.
type GlobalLimiter struct {
	mu        sync.Mutex
	perIP     map[string]*ipWindow
	ipLimit   int
	window    time.Duration
	aggregate *rate.Limiter
}

func NewGlobalLimiter(cfg config.GlobalLimit) *GlobalLimiter {
	ipLimit := cfg.PerIPPerMinute
	if ipLimit <= 0 {
		ipLimit = 120
	}
	perSecond := cfg.AggregatePerSecond
	if perSecond <= 0 {
		perSecond = 200
	}
	burst := cfg.AggregateBurst
	if burst <= 0 {
		burst = int(perSecond) * 2
	}

	return &GlobalLimiter{
		perIP:     make(map[string]*ipWindow),
		ipLimit:   ipLimit,
		window:    time.Minute,
		aggregate: rate.NewLimiter(rate.Limit(perSecond), burst),
	}
}

func (g *GlobalLimiter) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		if excludedPath(c.Request.URL.Path) {
			c.Next()
			return
		}

		if !g.aggregate.Allow() {
			c.Header("Retry-After", "1")
			rejectJSON(c, http.StatusTooManyRequests, "server is handling too many requests")
			return
		}

		if !g.allowIP(c.ClientIP()) {
			c.Header("Retry-After", "60")
			rejectJSON(c, http.StatusTooManyRequests, "too many requests from this address")
			return
		}

		c.Next()
	}
}

func (g *GlobalLimiter) allowIP(ip string) bool {
	g.mu.Lock()
	defer g.mu.Unlock()

	now := time.Now()

	window, exists := g.perIP[ip]
	if !exists || now.Sub(window.windowStart) >= g.window {
		// Stale windows pile up under address churn; prune opportunistically
		if len(g.perIP) > 10000 {
			g.prune(now)
		}
		g.perIP[ip] = &ipWindow{count: 1, windowStart: now}
		return true
	}

	window.count++
	return window.count <= g.ipLimit
}

func (g *GlobalLimiter) prune(now time.Time) {
	for ip, window := range g.perIP {
		if now.Sub(window.windowStart) >= g.window {
			delete(g.perIP, ip)
		}
	}
}
