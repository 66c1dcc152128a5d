package scheduler

import (
	"context"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"quota-gateway/internal/config"
	"quota-gateway/internal/quota"
	"quota-gateway/internal/storage"
)

func newTestScheduler(t *testing.T) (*Scheduler, *quota.Service) {
	t.Helper()
	mr := miniredis.RunT(t)
	rc := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	limiter := quota.NewService(quota.NewStore(storage.NewRedisFromClient(rc)), config.Default())
	return NewScheduler(limiter, nil, config.SchedulerConfig{DrainBatchSize: 10}), limiter
}

func TestDrainQueuesReleasesAfterReset(t *testing.T) {
	sched, limiter := newTestScheduler(t)
	ctx := context.Background()

	// Exhaust two users, queue one request each
	for _, user := range []string{"alice", "bob"} {
		_, err := limiter.Store().IncrementQuota(ctx, config.APIYouTube, user, 50)
		require.NoError(t, err)

		result, err := limiter.CheckAndConsume(ctx, user, "free", config.APIYouTube, config.OpVideoDetails,
			map[string]string{"video_ids": "x"}, quota.PriorityMedium)
		require.NoError(t, err)
		require.Equal(t, quota.Queued, result.Decision)
	}

	// Quota still exhausted: a drain pass releases nothing
	assert.Equal(t, 0, sched.DrainQueues(ctx))

	require.True(t, limiter.Store().ResetQuota(ctx, config.APIYouTube, "alice"))

	// Only alice's entry is released
	assert.Equal(t, 1, sched.DrainQueues(ctx))
	assert.Equal(t, int64(0), limiter.Store().GetQueueDepth(ctx, "alice"))
	assert.Equal(t, int64(1), limiter.Store().GetQueueDepth(ctx, "bob"))
}

func TestDrainQueuesEmptyStore(t *testing.T) {
	sched, _ := newTestScheduler(t)
	assert.Equal(t, 0, sched.DrainQueues(context.Background()))
}

func TestStartStopIdempotent(t *testing.T) {
	sched, _ := newTestScheduler(t)

	sched.Start()
	sched.Start()
	sched.Stop()
	sched.Stop()
}
