package quota

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"quota-gateway/internal/config"
	"quota-gateway/internal/storage"
)

func newTestService(t *testing.T) (*Service, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	store := NewStore(storage.NewRedisFromClient(client))
	return NewService(store, config.Default()), mr
}

func TestAdmissionUpToLimit(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	// video_details costs 1 against the free youtube limit of 50
	for i := 0; i < 50; i++ {
		result, err := svc.CheckAndConsume(ctx, "alice", "free", config.APIYouTube, config.OpVideoDetails, nil, PriorityMedium)
		require.NoError(t, err)
		require.Equal(t, Allowed, result.Decision, "request %d should be admitted", i+1)
	}

	result, err := svc.CheckAndConsume(ctx, "alice", "free", config.APIYouTube, config.OpVideoDetails, nil, PriorityMedium)
	require.NoError(t, err)
	assert.Equal(t, Queued, result.Decision)
	assert.Equal(t, int64(1), result.QueuePosition)
	assert.Equal(t, 60*time.Second, result.EstimatedWait)
}

func TestAllowedCarriesUsageMetadata(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	result, err := svc.CheckAndConsume(ctx, "alice", "free", config.APIYouTube, config.OpVideoDetails, nil, PriorityMedium)
	require.NoError(t, err)

	assert.Equal(t, Allowed, result.Decision)
	assert.Equal(t, int64(1), result.Usage)
	assert.Equal(t, int64(50), result.Limit)
	assert.Equal(t, int64(49), result.Remaining)
}

func TestExpensiveOperationQueuesImmediately(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	// A youtube search costs 100, more than the free tier's entire daily
	// budget of 50. The request queues rather than being rejected outright.
	result, err := svc.CheckAndConsume(ctx, "alice", "free", config.APIYouTube, config.OpSearch,
		map[string]string{"query": "go"}, PriorityHigh)
	require.NoError(t, err)

	assert.Equal(t, Queued, result.Decision)
	assert.Equal(t, int64(0), svc.Store().GetQuotaUsage(ctx, config.APIYouTube, "alice"), "queued request must not charge quota")
}

func TestCacheHitCostsNothing(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	data := map[string]string{"query": "go", "max_results": "10"}
	payload := json.RawMessage(`{"items":[{"id":"v1"}]}`)
	require.True(t, svc.CacheResponse(ctx, "free", config.APIYouTube, config.OpSearch, data, payload, 0))

	result, err := svc.CheckAndConsume(ctx, "alice", "free", config.APIYouTube, config.OpSearch, data, PriorityMedium)
	require.NoError(t, err)

	assert.Equal(t, Cached, result.Decision)
	assert.JSONEq(t, string(payload), string(result.Payload))
	assert.Equal(t, int64(0), svc.Store().GetQuotaUsage(ctx, config.APIYouTube, "alice"))
}

func TestCacheHitServedEvenWhenExhausted(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	data := map[string]string{"video_ids": "a,b"}
	payload := json.RawMessage(`{"items":[]}`)
	require.True(t, svc.CacheResponse(ctx, "free", config.APIYouTube, config.OpVideoDetails, data, payload, 0))

	// Burn the whole budget
	_, err := svc.Store().IncrementQuota(ctx, config.APIYouTube, "alice", 50)
	require.NoError(t, err)

	result, err := svc.CheckAndConsume(ctx, "alice", "free", config.APIYouTube, config.OpVideoDetails, data, PriorityMedium)
	require.NoError(t, err)
	assert.Equal(t, Cached, result.Decision)
}

func TestDeniedOnBadInput(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	result, err := svc.CheckAndConsume(ctx, "", "free", config.APIYouTube, config.OpSearch, nil, PriorityMedium)
	require.NoError(t, err)
	assert.Equal(t, Denied, result.Decision)

	result, err = svc.CheckAndConsume(ctx, "alice", "platinum", config.APIYouTube, config.OpSearch, nil, PriorityMedium)
	require.NoError(t, err)
	assert.Equal(t, Denied, result.Decision)

	result, err = svc.CheckAndConsume(ctx, "alice", "free", config.APISteam, config.OpSearch, nil, PriorityMedium)
	require.NoError(t, err)
	assert.Equal(t, Denied, result.Decision)
}

func TestCheckAndConsumeFailsOnStoreError(t *testing.T) {
	svc, mr := newTestService(t)
	ctx := context.Background()

	mr.Close()

	_, err := svc.CheckAndConsume(ctx, "alice", "free", config.APIYouTube, config.OpVideoDetails, nil, PriorityMedium)
	assert.Error(t, err, "a failed debit must surface so the middleware can fail open or closed")
}

func TestProcessQueueReplaysAfterReset(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	// Exhaust quota, then queue one request
	_, err := svc.Store().IncrementQuota(ctx, config.APIYouTube, "alice", 50)
	require.NoError(t, err)

	result, err := svc.CheckAndConsume(ctx, "alice", "free", config.APIYouTube, config.OpVideoDetails,
		map[string]string{"video_ids": "a"}, PriorityMedium)
	require.NoError(t, err)
	require.Equal(t, Queued, result.Decision)

	// Still exhausted: nothing is released, the entry stays queued
	processed, err := svc.ProcessQueue(ctx, "alice", 10)
	require.NoError(t, err)
	assert.Equal(t, 0, processed)
	assert.Equal(t, int64(1), svc.Store().GetQueueDepth(ctx, "alice"))

	// After the daily reset the replay admits it
	require.True(t, svc.Store().ResetQuota(ctx, config.APIYouTube, "alice"))

	processed, err = svc.ProcessQueue(ctx, "alice", 10)
	require.NoError(t, err)
	assert.Equal(t, 1, processed)
	assert.Equal(t, int64(0), svc.Store().GetQueueDepth(ctx, "alice"))
	assert.Equal(t, int64(1), svc.Store().GetQuotaUsage(ctx, config.APIYouTube, "alice"))
}

func TestProcessQueueDoesNotRequeue(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	_, err := svc.Store().IncrementQuota(ctx, config.APIYouTube, "alice", 50)
	require.NoError(t, err)

	result, err := svc.CheckAndConsume(ctx, "alice", "free", config.APIYouTube, config.OpVideoDetails,
		map[string]string{"video_ids": "a"}, PriorityMedium)
	require.NoError(t, err)
	require.Equal(t, Queued, result.Decision)

	// Several drain passes over a still-exhausted queue must not duplicate
	// the entry.
	for i := 0; i < 3; i++ {
		_, err := svc.ProcessQueue(ctx, "alice", 10)
		require.NoError(t, err)
	}
	assert.Equal(t, int64(1), svc.Store().GetQueueDepth(ctx, "alice"))
}

func TestUserQuotaStatus(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	_, err := svc.Store().IncrementQuota(ctx, config.APIYouTube, "alice", 25)
	require.NoError(t, err)

	status, err := svc.UserQuotaStatus(ctx, "alice", "free")
	require.NoError(t, err)

	assert.Equal(t, "alice", status.UserID)
	assert.Equal(t, "free", status.Tier)
	require.Len(t, status.APIs, 4)

	var youtube *APIQuotaStatus
	for i := range status.APIs {
		if status.APIs[i].APIType == config.APIYouTube {
			youtube = &status.APIs[i]
		}
	}
	require.NotNil(t, youtube)
	assert.Equal(t, int64(25), youtube.Usage)
	assert.Equal(t, int64(50), youtube.Limit)
	assert.Equal(t, int64(25), youtube.Remaining)
	assert.InDelta(t, 50.0, youtube.UsedPct, 0.01)
}

func TestUserQuotaStatusUnknownTier(t *testing.T) {
	svc, _ := newTestService(t)

	_, err := svc.UserQuotaStatus(context.Background(), "alice", "platinum")
	assert.Error(t, err)
}

func TestFailOpenFollowsConfig(t *testing.T) {
	svc, _ := newTestService(t)
	assert.True(t, svc.FailOpen())

	cfg := config.Default()
	cfg.FailMode = "closed"
	closed := NewService(svc.Store(), cfg)
	assert.False(t, closed.FailOpen())
}

func TestRecordsTierForMonitoring(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	_, err := svc.CheckAndConsume(ctx, "alice", "premium", config.APIYouTube, config.OpVideoDetails, nil, PriorityMedium)
	require.NoError(t, err)

	assert.Equal(t, "premium", svc.Store().LastSeenTier(ctx, "alice"))
}
