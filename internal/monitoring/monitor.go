package monitoring

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"quota-gateway/internal/config"
	"quota-gateway/internal/quota"
)

// The slice of store state the monitor reads. *quota.Store satisfies it;
// tests substitute a fake.
type StateReader interface {
	HealthCheck(ctx context.Context) quota.HealthStatus
	ScanQuotaKeys(ctx context.Context) []string
	ScanQueueKeys(ctx context.Context) []string
	GetQuotaUsage(ctx context.Context, api config.APIType, userID string) int64
	GetQueueDepth(ctx context.Context, userID string) int64
	LastSeenTier(ctx context.Context, userID string) string
	APICallStats(ctx context.Context, api config.APIType) quota.CallStats
	CacheHitRate(ctx context.Context) (float64, bool)
}

// Periodically samples aggregate store state and raises threshold alerts.
// Runs on its own timer, completely outside the request path.
type Monitor struct {
	mu       sync.Mutex
	store    StateReader
	cfg      *config.Config
	alerts   *AlertManager
	stopChan chan struct{}
	running  bool
}

func NewMonitor(store StateReader, cfg *config.Config, alerts *AlertManager) *Monitor {
	return &Monitor{
		store:    store,
		cfg:      cfg,
		alerts:   alerts,
		stopChan: make(chan struct{}),
	}
}

// Begins the periodic checks
func (m *Monitor) Start() {
	m.mu.Lock()
	if m.running {
		m.mu.Unlock()
		return
	}
	m.running = true
	m.mu.Unlock()

	interval := m.cfg.Monitoring.Interval()
	log.Printf("Starting quota monitor (interval: %v)", interval)

	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-ticker.C:
				m.Tick(context.Background())
			case <-m.stopChan:
				return
			}
		}
	}()
}

func (m *Monitor) Stop() {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.running {
		close(m.stopChan)
		m.running = false
		log.Printf("Quota monitor stopped")
	}
}

// One full sampling pass. Exported so schedulers and tests can drive it
// directly.
func (m *Monitor) Tick(ctx context.Context) {
	m.checkConnectivity(ctx)
	m.checkQuotas(ctx)
	m.checkQueues(ctx)
	m.checkAPIMetrics(ctx)
	m.checkCacheHitRate(ctx)
	m.alerts.Prune()
}

func (m *Monitor) checkConnectivity(ctx context.Context) {
	health := m.store.HealthCheck(ctx)
	if health.Connected {
		return
	}

	m.alerts.Raise(Alert{
		Type:    "store_disconnected",
		Level:   LevelCritical,
		Message: fmt.Sprintf("quota store is unreachable: %s", health.Error),
	})
}

func (m *Monitor) checkQuotas(ctx context.Context) {
	for _, key := range m.store.ScanQuotaKeys(ctx) {
		api, userID, ok := quota.UserIDFromQuotaKey(key)
		if !ok {
			continue
		}

		tier := m.store.LastSeenTier(ctx, userID)
		limit, ok := m.cfg.Quota.Limit(tier, api)
		if !ok || limit <= 0 {
			continue
		}

		usage := m.store.GetQuotaUsage(ctx, api, userID)
		ratio := float64(usage) / float64(limit)

		switch {
		case ratio >= m.cfg.Monitoring.QuotaCriticalRatio:
			m.alerts.Raise(Alert{
				Type:      "quota_usage",
				Level:     LevelCritical,
				Message:   fmt.Sprintf("user %s has used %.0f%% of the %s quota", userID, ratio*100, api),
				UserID:    userID,
				APIType:   string(api),
				Current:   ratio,
				Threshold: m.cfg.Monitoring.QuotaCriticalRatio,
			})
		case ratio >= m.cfg.Monitoring.QuotaWarnRatio:
			m.alerts.Raise(Alert{
				Type:      "quota_usage",
				Level:     LevelWarning,
				Message:   fmt.Sprintf("user %s has used %.0f%% of the %s quota", userID, ratio*100, api),
				UserID:    userID,
				APIType:   string(api),
				Current:   ratio,
				Threshold: m.cfg.Monitoring.QuotaWarnRatio,
			})
		}
	}
}

func (m *Monitor) checkQueues(ctx context.Context) {
	threshold := m.cfg.Monitoring.QueueDepthWarn
	for _, key := range m.store.ScanQueueKeys(ctx) {
		userID, ok := quota.UserIDFromQueueKey(key)
		if !ok {
			continue
		}

		depth := m.store.GetQueueDepth(ctx, userID)
		if depth <= threshold {
			continue
		}

		m.alerts.Raise(Alert{
			Type:      "queue_depth",
			Level:     LevelWarning,
			Message:   fmt.Sprintf("user %s has %d queued requests", userID, depth),
			UserID:    userID,
			Current:   float64(depth),
			Threshold: float64(threshold),
		})
	}
}

func (m *Monitor) checkAPIMetrics(ctx context.Context) {
	for _, api := range config.APITypes() {
		stats := m.store.APICallStats(ctx, api)
		if stats.Total == 0 {
			continue
		}

		errorRate := float64(stats.Failed) / float64(stats.Total)
		if errorRate >= m.cfg.Monitoring.ErrorRateWarn {
			m.alerts.Raise(Alert{
				Type:      "api_error_rate",
				Level:     LevelWarning,
				Message:   fmt.Sprintf("%s error rate at %.0f%% (%d/%d calls failed)", api, errorRate*100, stats.Failed, stats.Total),
				APIType:   string(api),
				Current:   errorRate,
				Threshold: m.cfg.Monitoring.ErrorRateWarn,
			})
		}

		if stats.AvgLatencyMs >= m.cfg.Monitoring.LatencyWarnMs {
			m.alerts.Raise(Alert{
				Type:      "api_latency",
				Level:     LevelWarning,
				Message:   fmt.Sprintf("%s average latency at %.0fms", api, stats.AvgLatencyMs),
				APIType:   string(api),
				Current:   stats.AvgLatencyMs,
				Threshold: m.cfg.Monitoring.LatencyWarnMs,
			})
		}
	}
}

func (m *Monitor) checkCacheHitRate(ctx context.Context) {
	rate, ok := m.store.CacheHitRate(ctx)
	if !ok {
		return
	}

	if rate < m.cfg.Monitoring.CacheHitRateWarn {
		m.alerts.Raise(Alert{
			Type:      "cache_hit_rate",
			Level:     LevelWarning,
			Message:   fmt.Sprintf("cache hit rate at %.0f%%", rate*100),
			Current:   rate,
			Threshold: m.cfg.Monitoring.CacheHitRateWarn,
		})
	}
}
