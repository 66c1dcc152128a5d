package monitoring

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"quota-gateway/internal/config"
	"quota-gateway/internal/quota"
)

type fakeState struct {
	connected  bool
	quotaKeys  []string
	queueKeys  []string
	usage      map[string]int64
	tiers      map[string]string
	depths     map[string]int64
	stats      map[config.APIType]quota.CallStats
	hitRate    float64
	hasTraffic bool
}

func (f *fakeState) HealthCheck(ctx context.Context) quota.HealthStatus {
	if !f.connected {
		return quota.HealthStatus{Connected: false, Error: "connection refused"}
	}
	return quota.HealthStatus{Connected: true}
}

func (f *fakeState) ScanQuotaKeys(ctx context.Context) []string { return f.quotaKeys }
func (f *fakeState) ScanQueueKeys(ctx context.Context) []string { return f.queueKeys }

func (f *fakeState) GetQuotaUsage(ctx context.Context, api config.APIType, userID string) int64 {
	return f.usage[string(api)+":"+userID]
}

func (f *fakeState) GetQueueDepth(ctx context.Context, userID string) int64 {
	return f.depths[userID]
}

func (f *fakeState) LastSeenTier(ctx context.Context, userID string) string {
	if tier, ok := f.tiers[userID]; ok {
		return tier
	}
	return "free"
}

func (f *fakeState) APICallStats(ctx context.Context, api config.APIType) quota.CallStats {
	return f.stats[api]
}

func (f *fakeState) CacheHitRate(ctx context.Context) (float64, bool) {
	return f.hitRate, f.hasTraffic
}

// Records everything it receives.
type captureHandler struct {
	mu     sync.Mutex
	alerts []Alert
}

func (h *captureHandler) Name() string { return "capture" }

func (h *captureHandler) Handle(alert Alert) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.alerts = append(h.alerts, alert)
	return nil
}

func (h *captureHandler) byType(alertType string) []Alert {
	h.mu.Lock()
	defer h.mu.Unlock()
	var out []Alert
	for _, a := range h.alerts {
		if a.Type == alertType {
			out = append(out, a)
		}
	}
	return out
}

func newTestMonitor(state *fakeState) (*Monitor, *captureHandler) {
	alerts := NewAlertManager(5 * time.Minute)
	capture := &captureHandler{}
	alerts.AddHandler(capture)
	return NewMonitor(state, config.Default(), alerts), capture
}

func healthyState() *fakeState {
	return &fakeState{
		connected:  true,
		usage:      map[string]int64{},
		tiers:      map[string]string{},
		depths:     map[string]int64{},
		stats:      map[config.APIType]quota.CallStats{},
		hitRate:    0.8,
		hasTraffic: true,
	}
}

func TestHealthySystemRaisesNothing(t *testing.T) {
	monitor, capture := newTestMonitor(healthyState())

	monitor.Tick(context.Background())

	assert.Empty(t, capture.alerts)
}

func TestDisconnectedStoreRaisesCritical(t *testing.T) {
	state := healthyState()
	state.connected = false
	monitor, capture := newTestMonitor(state)

	monitor.Tick(context.Background())

	raised := capture.byType("store_disconnected")
	require.Len(t, raised, 1)
	assert.Equal(t, LevelCritical, raised[0].Level)
}

func TestQuotaUsageThresholds(t *testing.T) {
	state := healthyState()
	state.quotaKeys = []string{"quota:youtube:warn-user", "quota:youtube:crit-user", "quota:youtube:ok-user"}
	// Free tier youtube limit is 50
	state.usage["youtube:warn-user"] = 40 // 80%
	state.usage["youtube:crit-user"] = 48 // 96%
	state.usage["youtube:ok-user"] = 10   // 20%
	monitor, capture := newTestMonitor(state)

	monitor.Tick(context.Background())

	raised := capture.byType("quota_usage")
	require.Len(t, raised, 2)

	byUser := map[string]Level{}
	for _, a := range raised {
		byUser[a.UserID] = a.Level
	}
	assert.Equal(t, LevelWarning, byUser["warn-user"])
	assert.Equal(t, LevelCritical, byUser["crit-user"])
}

func TestQuotaThresholdUsesLastSeenTier(t *testing.T) {
	state := healthyState()
	state.quotaKeys = []string{"quota:youtube:alice"}
	state.tiers["alice"] = "premium"
	// 40/500 for premium is nowhere near the warning ratio
	state.usage["youtube:alice"] = 40
	monitor, capture := newTestMonitor(state)

	monitor.Tick(context.Background())

	assert.Empty(t, capture.byType("quota_usage"))
}

func TestQueueDepthWarning(t *testing.T) {
	state := healthyState()
	state.queueKeys = []string{"queue:alice", "queue:bob"}
	state.depths["alice"] = 51
	state.depths["bob"] = 5
	monitor, capture := newTestMonitor(state)

	monitor.Tick(context.Background())

	raised := capture.byType("queue_depth")
	require.Len(t, raised, 1)
	assert.Equal(t, "alice", raised[0].UserID)
}

func TestAPIMetricThresholds(t *testing.T) {
	state := healthyState()
	state.stats[config.APIYouTube] = quota.CallStats{Total: 100, Failed: 15, AvgLatencyMs: 200}
	state.stats[config.APISpotify] = quota.CallStats{Total: 100, Failed: 1, AvgLatencyMs: 6000}
	state.stats[config.APISteam] = quota.CallStats{Total: 100, Failed: 1, AvgLatencyMs: 200}
	monitor, capture := newTestMonitor(state)

	monitor.Tick(context.Background())

	errorAlerts := capture.byType("api_error_rate")
	require.Len(t, errorAlerts, 1)
	assert.Equal(t, string(config.APIYouTube), errorAlerts[0].APIType)

	latencyAlerts := capture.byType("api_latency")
	require.Len(t, latencyAlerts, 1)
	assert.Equal(t, string(config.APISpotify), latencyAlerts[0].APIType)
}

func TestLowCacheHitRateWarns(t *testing.T) {
	state := healthyState()
	state.hitRate = 0.2
	monitor, capture := newTestMonitor(state)

	monitor.Tick(context.Background())

	assert.Len(t, capture.byType("cache_hit_rate"), 1)
}

func TestNoCacheTrafficRaisesNothing(t *testing.T) {
	state := healthyState()
	state.hitRate = 0
	state.hasTraffic = false
	monitor, capture := newTestMonitor(state)

	monitor.Tick(context.Background())

	assert.Empty(t, capture.byType("cache_hit_rate"))
}

func TestCooldownSuppressesDuplicates(t *testing.T) {
	state := healthyState()
	state.connected = false
	monitor, capture := newTestMonitor(state)
	ctx := context.Background()

	monitor.Tick(ctx)
	monitor.Tick(ctx)
	monitor.Tick(ctx)

	assert.Len(t, capture.byType("store_disconnected"), 1)
}

func TestCooldownIsPerUserAndAPI(t *testing.T) {
	alerts := NewAlertManager(5 * time.Minute)
	capture := &captureHandler{}
	alerts.AddHandler(capture)

	assert.True(t, alerts.Raise(Alert{Type: "quota_usage", Level: LevelWarning, UserID: "alice", APIType: "youtube"}))
	assert.False(t, alerts.Raise(Alert{Type: "quota_usage", Level: LevelWarning, UserID: "alice", APIType: "youtube"}))
	assert.True(t, alerts.Raise(Alert{Type: "quota_usage", Level: LevelWarning, UserID: "bob", APIType: "youtube"}))
	assert.True(t, alerts.Raise(Alert{Type: "quota_usage", Level: LevelWarning, UserID: "alice", APIType: "spotify"}))

	assert.Len(t, capture.alerts, 3)
}

func TestRaiseAgainAfterCooldown(t *testing.T) {
	alerts := NewAlertManager(time.Millisecond)
	capture := &captureHandler{}
	alerts.AddHandler(capture)

	require.True(t, alerts.Raise(Alert{Type: "queue_depth", UserID: "alice"}))
	time.Sleep(5 * time.Millisecond)
	assert.True(t, alerts.Raise(Alert{Type: "queue_depth", UserID: "alice"}))
}

func TestPruneDropsOldHistory(t *testing.T) {
	alerts := NewAlertManager(time.Minute)

	alerts.Raise(Alert{Type: "old", Timestamp: time.Now().UTC().Add(-25 * time.Hour)})
	alerts.Raise(Alert{Type: "recent"})

	alerts.Prune()

	history := alerts.History()
	require.Len(t, history, 1)
	assert.Equal(t, "recent", history[0].Type)
}

func TestPanickyHandlerDoesNotStopDispatch(t *testing.T) {
	alerts := NewAlertManager(time.Minute)
	capture := &captureHandler{}
	alerts.AddHandler(panicHandler{})
	alerts.AddHandler(capture)

	assert.True(t, alerts.Raise(Alert{Type: "anything"}))
	assert.Len(t, capture.alerts, 1)
}

type panicHandler struct{}

func (panicHandler) Name() string             { return "panic" }
func (panicHandler) Handle(alert Alert) error { panic("boom") }
