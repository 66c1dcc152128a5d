package quota

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"quota-gateway/internal/config"
	"quota-gateway/internal/storage"
)

func newTestStore(t *testing.T) (*Store, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	return NewStore(storage.NewRedisFromClient(client)), mr
}

func TestIncrementQuotaConcurrent(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := store.IncrementQuota(ctx, config.APIYouTube, "alice", 1)
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	assert.Equal(t, int64(20), store.GetQuotaUsage(ctx, config.APIYouTube, "alice"))
}

func TestIncrementQuotaSetsResetTTL(t *testing.T) {
	store, mr := newTestStore(t)
	ctx := context.Background()

	_, err := store.IncrementQuota(ctx, config.APIYouTube, "alice", 5)
	require.NoError(t, err)

	ttl := mr.TTL("quota:youtube:alice")
	assert.Greater(t, ttl, time.Duration(0))
	assert.LessOrEqual(t, ttl, 24*time.Hour)
}

func TestQuotaIsolatedPerUserAndAPI(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()

	store.IncrementQuota(ctx, config.APIYouTube, "alice", 10)
	store.IncrementQuota(ctx, config.APISpotify, "alice", 3)
	store.IncrementQuota(ctx, config.APIYouTube, "bob", 7)

	assert.Equal(t, int64(10), store.GetQuotaUsage(ctx, config.APIYouTube, "alice"))
	assert.Equal(t, int64(3), store.GetQuotaUsage(ctx, config.APISpotify, "alice"))
	assert.Equal(t, int64(7), store.GetQuotaUsage(ctx, config.APIYouTube, "bob"))
	assert.Equal(t, int64(0), store.GetQuotaUsage(ctx, config.APISteam, "alice"))
}

func TestResetQuota(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()

	store.IncrementQuota(ctx, config.APIYouTube, "alice", 10)
	require.True(t, store.ResetQuota(ctx, config.APIYouTube, "alice"))

	assert.Equal(t, int64(0), store.GetQuotaUsage(ctx, config.APIYouTube, "alice"))
}

func TestCacheRoundtripAndExpiry(t *testing.T) {
	store, mr := newTestStore(t)
	ctx := context.Background()

	payload := json.RawMessage(`{"items":[{"id":"v1"}]}`)
	key := CacheKey(config.APIYouTube, config.OpSearch, map[string]string{"query": "go"}, "free")

	require.True(t, store.SetCache(ctx, key, config.APIYouTube, payload, time.Hour))
	assert.JSONEq(t, string(payload), string(store.GetCache(ctx, key)))

	mr.FastForward(2 * time.Hour)
	assert.Nil(t, store.GetCache(ctx, key))
}

func TestCacheMissReturnsNil(t *testing.T) {
	store, _ := newTestStore(t)
	assert.Nil(t, store.GetCache(context.Background(), "cache:youtube:search|query=nothing|tier=free"))
}

func TestQueueOrderingPriorityThenFIFO(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()

	base := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	entries := []QueuedRequest{
		{UserID: "alice", Tier: "free", API: config.APIYouTube, Operation: config.OpSearch, Priority: PriorityLow, QueuedAt: base},
		{UserID: "alice", Tier: "free", API: config.APIYouTube, Operation: config.OpTrending, Priority: PriorityHigh, QueuedAt: base.Add(time.Second)},
		{UserID: "alice", Tier: "free", API: config.APIYouTube, Operation: config.OpVideoDetails, Priority: PriorityMedium, QueuedAt: base.Add(2 * time.Second)},
		{UserID: "alice", Tier: "free", API: config.APIYouTube, Operation: config.OpChannelInfo, Priority: PriorityHigh, QueuedAt: base.Add(3 * time.Second)},
	}
	for _, e := range entries {
		require.True(t, store.QueueRequest(ctx, e))
	}

	got := store.GetQueuedRequests(ctx, "alice", 10)
	require.Len(t, got, 4)

	// High before medium before low; equal priority keeps insertion order
	assert.Equal(t, config.OpTrending, got[0].Operation)
	assert.Equal(t, config.OpChannelInfo, got[1].Operation)
	assert.Equal(t, config.OpVideoDetails, got[2].Operation)
	assert.Equal(t, config.OpSearch, got[3].Operation)
}

func TestRemoveQueuedRequestIdempotent(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()

	entry := QueuedRequest{
		UserID:    "alice",
		Tier:      "free",
		API:       config.APIYouTube,
		Operation: config.OpSearch,
		Priority:  PriorityMedium,
		QueuedAt:  time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC),
	}
	require.True(t, store.QueueRequest(ctx, entry))

	assert.True(t, store.RemoveQueuedRequest(ctx, "alice", entry))
	assert.False(t, store.RemoveQueuedRequest(ctx, "alice", entry))
	assert.Equal(t, int64(0), store.GetQueueDepth(ctx, "alice"))
}

func TestDrainQueueDiscardsEverything(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		store.QueueRequest(ctx, QueuedRequest{
			UserID:    "alice",
			Tier:      "free",
			API:       config.APIYouTube,
			Operation: config.OpSearch,
			Priority:  PriorityMedium,
			QueuedAt:  time.Date(2026, 8, 1, 12, 0, i, 0, time.UTC),
		})
	}
	require.Equal(t, int64(3), store.GetQueueDepth(ctx, "alice"))

	assert.True(t, store.DrainQueue(ctx, "alice"))
	assert.Equal(t, int64(0), store.GetQueueDepth(ctx, "alice"))
}

func TestLastSeenTier(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()

	assert.Equal(t, "free", store.LastSeenTier(ctx, "nobody"))

	store.RecordTier(ctx, "alice", "premium")
	assert.Equal(t, "premium", store.LastSeenTier(ctx, "alice"))
}

func TestAPICallStats(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()

	store.RecordAPICall(ctx, config.APIYouTube, false, 100*time.Millisecond)
	store.RecordAPICall(ctx, config.APIYouTube, true, 300*time.Millisecond)

	stats := store.APICallStats(ctx, config.APIYouTube)
	assert.Equal(t, int64(2), stats.Total)
	assert.Equal(t, int64(1), stats.Failed)
	assert.InDelta(t, 200.0, stats.AvgLatencyMs, 0.01)
}

func TestCacheHitRate(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()

	_, ok := store.CacheHitRate(ctx)
	assert.False(t, ok, "no traffic yet")

	store.RecordCacheHit(ctx)
	store.RecordCacheHit(ctx)
	store.RecordCacheHit(ctx)
	store.RecordCacheMiss(ctx)

	rate, ok := store.CacheHitRate(ctx)
	require.True(t, ok)
	assert.InDelta(t, 0.75, rate, 0.001)
}

func TestScanKeys(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()

	store.IncrementQuota(ctx, config.APIYouTube, "alice", 1)
	store.IncrementQuota(ctx, config.APISpotify, "bob", 1)
	store.QueueRequest(ctx, QueuedRequest{
		UserID: "carol", Tier: "free", API: config.APIYouTube,
		Operation: config.OpSearch, Priority: PriorityMedium,
		QueuedAt: time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC),
	})

	assert.Len(t, store.ScanQuotaKeys(ctx), 2)
	assert.Len(t, store.ScanQueueKeys(ctx), 1)
}

func TestHealthCheck(t *testing.T) {
	store, mr := newTestStore(t)
	ctx := context.Background()

	store.IncrementQuota(ctx, config.APIYouTube, "alice", 1)

	health := store.HealthCheck(ctx)
	assert.True(t, health.Connected)
	assert.Equal(t, 1, health.QuotaKeys)

	mr.Close()

	health = store.HealthCheck(ctx)
	assert.False(t, health.Connected)
	assert.NotEmpty(t, health.Error)
}

func TestKeyParsing(t *testing.T) {
	api, userID, ok := UserIDFromQuotaKey("quota:youtube:user:with:colons")
	require.True(t, ok)
	assert.Equal(t, config.APIYouTube, api)
	assert.Equal(t, "user:with:colons", userID)

	_, _, ok = UserIDFromQuotaKey("cache:youtube:whatever")
	assert.False(t, ok)

	userID, ok = UserIDFromQueueKey("queue:alice")
	require.True(t, ok)
	assert.Equal(t, "alice", userID)

	_, ok = UserIDFromQueueKey("queue:")
	assert.False(t, ok)
}

func TestCacheKeyNormalization(t *testing.T) {
	a := CacheKey(config.APIYouTube, config.OpVideoDetails, map[string]string{"video_ids": "b, a,c"}, "free")
	b := CacheKey(config.APIYouTube, config.OpVideoDetails, map[string]string{"video_ids": "c,b,a"}, "free")
	assert.Equal(t, a, b, "id order must not change the key")

	free := CacheKey(config.APIYouTube, config.OpSearch, map[string]string{"query": "go"}, "free")
	premium := CacheKey(config.APIYouTube, config.OpSearch, map[string]string{"query": "go"}, "premium")
	assert.NotEqual(t, free, premium, "tiers must not share cache entries")
}
