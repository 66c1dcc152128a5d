package quota

import (
	"context"
	"encoding/json"
	"log"
	"strconv"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"
	"quota-gateway/internal/config"
	"quota-gateway/internal/storage"
)

// Queue scores order by priority first, then insertion time. Priority rank
// occupies a band far above any unix-millisecond timestamp.
const priorityBand = int64(1e13)

// Envelope persisted for each cache entry.
type cacheEnvelope struct {
	Result    json.RawMessage `json:"result"`
	Timestamp int64           `json:"timestamp"`
	APIType   config.APIType  `json:"api_type"`
	TTLSec    int64           `json:"ttl"`
}

// Aggregate call counters for one API over one day.
type CallStats struct {
	Total        int64   `json:"total"`
	Failed       int64   `json:"failed"`
	AvgLatencyMs float64 `json:"avg_latency_ms"`
}

type HealthStatus struct {
	Connected   bool   `json:"connected"`
	MemoryUsage string `json:"memory_usage,omitempty"`
	TotalKeys   int64  `json:"total_keys"`
	QuotaKeys   int    `json:"quota_keys"`
	QueueKeys   int    `json:"queue_keys"`
	Error       string `json:"error,omitempty"`
}

// Store owns every piece of cross-request shared state: quota counters,
// the response cache, per-user queues, and call metrics. All mutation uses
// redis atomic primitives so concurrent workers never race, and every
// operation degrades to a safe default when redis is unreachable.
type Store struct {
	redis *storage.RedisClient
}

func NewStore(redis *storage.RedisClient) *Store {
	return &Store{redis: redis}
}

func (s *Store) GetQuotaUsage(ctx context.Context, api config.APIType, userID string) int64 {
	val, err := s.redis.Get(ctx, quotaKey(api, userID))
	if err == redis.Nil {
		return 0
	}
	if err != nil {
		log.Printf("quota store: get usage %s/%s: %v", api, userID, err)
		return 0
	}

	usage, err := strconv.ParseInt(val, 10, 64)
	if err != nil {
		log.Printf("quota store: corrupt usage value for %s/%s: %v", api, userID, err)
		return 0
	}
	return usage
}

// Atomically adds amount and returns the new total. The key expires at the
// next 00:00 UTC boundary, which is how daily resets happen.
func (s *Store) IncrementQuota(ctx context.Context, api config.APIType, userID string, amount int64) (int64, error) {
	key := quotaKey(api, userID)

	total, err := s.redis.IncrBy(ctx, key, amount)
	if err != nil {
		log.Printf("quota store: incr %s: %v", key, err)
		return 0, errors.WithMessage(err, "increment quota")
	}

	if total == amount {
		// First increment of the period sets the reset TTL
		if err := s.redis.ExpireNX(ctx, key, untilDailyReset(time.Now())); err != nil {
			log.Printf("quota store: expire %s: %v", key, err)
		}
	}

	return total, nil
}

func (s *Store) ResetQuota(ctx context.Context, api config.APIType, userID string) bool {
	if err := s.redis.Del(ctx, quotaKey(api, userID)); err != nil {
		log.Printf("quota store: reset %s/%s: %v", api, userID, err)
		return false
	}
	return true
}

// GetCache returns the cached payload, or nil. Expiry is redis's native TTL;
// nothing is checked application-side.
func (s *Store) GetCache(ctx context.Context, key string) json.RawMessage {
	val, err := s.redis.Get(ctx, key)
	if err == redis.Nil {
		return nil
	}
	if err != nil {
		log.Printf("quota store: get cache: %v", err)
		return nil
	}

	var envelope cacheEnvelope
	if err := json.Unmarshal([]byte(val), &envelope); err != nil {
		log.Printf("quota store: corrupt cache entry %s: %v", key, err)
		return nil
	}
	return envelope.Result
}

func (s *Store) SetCache(ctx context.Context, key string, api config.APIType, payload json.RawMessage, ttl time.Duration) bool {
	envelope := cacheEnvelope{
		Result:    payload,
		Timestamp: time.Now().Unix(),
		APIType:   api,
		TTLSec:    int64(ttl.Seconds()),
	}

	data, err := json.Marshal(envelope)
	if err != nil {
		log.Printf("quota store: marshal cache entry: %v", err)
		return false
	}

	if err := s.redis.Set(ctx, key, data, ttl); err != nil {
		log.Printf("quota store: set cache: %v", err)
		return false
	}
	return true
}

// QueueRequest inserts into the user's ordered queue. Same-priority entries
// stay FIFO because insertion time is part of the score.
func (s *Store) QueueRequest(ctx context.Context, req QueuedRequest) bool {
	member, err := json.Marshal(req)
	if err != nil {
		log.Printf("quota store: marshal queue entry: %v", err)
		return false
	}

	score := float64(req.Priority.rank()*priorityBand + req.QueuedAt.UnixMilli())
	if err := s.redis.ZAdd(ctx, queueKey(req.UserID), redis.Z{Score: score, Member: string(member)}); err != nil {
		log.Printf("quota store: queue request for %s: %v", req.UserID, err)
		return false
	}
	return true
}

// Returns up to limit entries, highest priority first, without removing them.
func (s *Store) GetQueuedRequests(ctx context.Context, userID string, limit int64) []QueuedRequest {
	members, err := s.redis.ZRange(ctx, queueKey(userID), 0, limit-1)
	if err != nil {
		log.Printf("quota store: read queue for %s: %v", userID, err)
		return nil
	}

	requests := make([]QueuedRequest, 0, len(members))
	for _, member := range members {
		var req QueuedRequest
		if err := json.Unmarshal([]byte(member), &req); err != nil {
			log.Printf("quota store: corrupt queue entry for %s: %v", userID, err)
			continue
		}
		requests = append(requests, req)
	}
	return requests
}

// Idempotent removal by value-match. A second call with the same entry
// removes nothing and returns false.
func (s *Store) RemoveQueuedRequest(ctx context.Context, userID string, req QueuedRequest) bool {
	member, err := json.Marshal(req)
	if err != nil {
		log.Printf("quota store: marshal queue entry: %v", err)
		return false
	}

	removed, err := s.redis.ZRem(ctx, queueKey(userID), string(member))
	if err != nil {
		log.Printf("quota store: remove queue entry for %s: %v", userID, err)
		return false
	}
	return removed > 0
}

func (s *Store) GetQueueDepth(ctx context.Context, userID string) int64 {
	depth, err := s.redis.ZCard(ctx, queueKey(userID))
	if err != nil {
		log.Printf("quota store: queue depth for %s: %v", userID, err)
		return 0
	}
	return depth
}

// Drops every entry in the user's queue.
func (s *Store) DrainQueue(ctx context.Context, userID string) bool {
	if err := s.redis.Del(ctx, queueKey(userID)); err != nil {
		log.Printf("quota store: drain queue for %s: %v", userID, err)
		return false
	}
	return true
}

// Remembers the tier a user was last seen with, so monitoring can resolve
// limits without access to the request path.
func (s *Store) RecordTier(ctx context.Context, userID, tier string) {
	if err := s.redis.Set(ctx, tierKey(userID), tier, 48*time.Hour); err != nil {
		log.Printf("quota store: record tier for %s: %v", userID, err)
	}
}

func (s *Store) LastSeenTier(ctx context.Context, userID string) string {
	tier, err := s.redis.Get(ctx, tierKey(userID))
	if err != nil {
		return "free"
	}
	return tier
}

// RecordAPICall tracks one upstream call for today's aggregate metrics.
func (s *Store) RecordAPICall(ctx context.Context, api config.APIType, failed bool, latency time.Duration) {
	key := metricsKey(api, time.Now())

	pipe := s.redis.Pipeline()
	pipe.HIncrBy(ctx, key, "total", 1)
	if failed {
		pipe.HIncrBy(ctx, key, "failed", 1)
	}
	pipe.HIncrBy(ctx, key, "latency_ms", latency.Milliseconds())
	pipe.Expire(ctx, key, 48*time.Hour)
	if _, err := pipe.Exec(ctx); err != nil {
		log.Printf("quota store: record api call %s: %v", api, err)
	}
}

func (s *Store) APICallStats(ctx context.Context, api config.APIType) CallStats {
	fields, err := s.redis.HGetAll(ctx, metricsKey(api, time.Now()))
	if err != nil {
		log.Printf("quota store: api call stats %s: %v", api, err)
		return CallStats{}
	}

	stats := CallStats{
		Total:  parseInt(fields["total"]),
		Failed: parseInt(fields["failed"]),
	}
	if stats.Total > 0 {
		stats.AvgLatencyMs = float64(parseInt(fields["latency_ms"])) / float64(stats.Total)
	}
	return stats
}

func (s *Store) RecordCacheHit(ctx context.Context) {
	if err := s.redis.HIncrBy(ctx, cacheMetricsKey(time.Now()), "hits", 1); err != nil {
		log.Printf("quota store: record cache hit: %v", err)
	}
}

func (s *Store) RecordCacheMiss(ctx context.Context) {
	if err := s.redis.HIncrBy(ctx, cacheMetricsKey(time.Now()), "misses", 1); err != nil {
		log.Printf("quota store: record cache miss: %v", err)
	}
}

// CacheHitRate returns today's hit rate; ok is false when there is no
// traffic to judge yet.
func (s *Store) CacheHitRate(ctx context.Context) (float64, bool) {
	fields, err := s.redis.HGetAll(ctx, cacheMetricsKey(time.Now()))
	if err != nil {
		log.Printf("quota store: cache hit rate: %v", err)
		return 0, false
	}

	hits := parseInt(fields["hits"])
	misses := parseInt(fields["misses"])
	if hits+misses == 0 {
		return 0, false
	}
	return float64(hits) / float64(hits+misses), true
}

func (s *Store) ScanQuotaKeys(ctx context.Context) []string {
	keys, err := s.redis.Scan(ctx, "quota:*", 10000)
	if err != nil {
		log.Printf("quota store: scan quota keys: %v", err)
	}
	return keys
}

func (s *Store) ScanQueueKeys(ctx context.Context) []string {
	keys, err := s.redis.Scan(ctx, "queue:*", 10000)
	if err != nil {
		log.Printf("quota store: scan queue keys: %v", err)
	}
	return keys
}

// HealthCheck never errors; a degraded status is reported instead.
func (s *Store) HealthCheck(ctx context.Context) HealthStatus {
	if err := s.redis.Ping(ctx); err != nil {
		return HealthStatus{Connected: false, Error: err.Error()}
	}

	status := HealthStatus{Connected: true}

	if total, err := s.redis.DBSize(ctx); err == nil {
		status.TotalKeys = total
	}
	if info, err := s.redis.Info(ctx, "memory"); err == nil {
		status.MemoryUsage = memoryUsed(info)
	}
	status.QuotaKeys = len(s.ScanQuotaKeys(ctx))
	status.QueueKeys = len(s.ScanQueueKeys(ctx))

	return status
}

func memoryUsed(info string) string {
	for _, line := range strings.Split(info, "\r\n") {
		if value, ok := strings.CutPrefix(line, "used_memory_human:"); ok {
			return strings.TrimSpace(value)
		}
	}
	return ""
}

func parseInt(s string) int64 {
	n, _ := strconv.ParseInt(s, 10, 64)
	return n
}
