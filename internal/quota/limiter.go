package quota

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/pkg/errors"
	"quota-gateway/internal/config"
)

// Wait estimate heuristic for queued requests.
const (
	perPositionWait = 30 * time.Second
	minimumWait     = 60 * time.Second
)

// Service is the decision engine. It is the single writer-of-record for
// quota state: adapters and middleware never touch the Store's counters
// directly.
type Service struct {
	store *Store
	cfg   *config.Config
}

func NewService(store *Store, cfg *config.Config) *Service {
	return &Service{store: store, cfg: cfg}
}

// CheckAndConsume decides the fate of one request. The cache is consulted
// before any quota arithmetic, so a cache hit costs nothing even for a user
// whose quota is exhausted. On admission the operation's cost is debited
// atomically. A store failure during the debit is returned to the caller,
// which decides between fail-open and fail-closed.
func (s *Service) CheckAndConsume(ctx context.Context, userID, tier string, api config.APIType, op config.Operation, requestData map[string]string, priority Priority) (Result, error) {
	return s.decide(ctx, userID, tier, api, op, requestData, priority, true)
}

func (s *Service) decide(ctx context.Context, userID, tier string, api config.APIType, op config.Operation, requestData map[string]string, priority Priority, allowQueue bool) (Result, error) {
	if userID == "" {
		return Result{Decision: Denied, Reason: "missing user id"}, nil
	}
	if _, ok := s.cfg.Quota.Tiers.Quotas(tier); !ok {
		return Result{Decision: Denied, Reason: fmt.Sprintf("unknown tier %q", tier)}, nil
	}
	settings, ok := s.cfg.Quota.Operations.Lookup(api, op)
	if !ok {
		return Result{Decision: Denied, Reason: fmt.Sprintf("unknown operation %s/%s", api, op)}, nil
	}

	s.store.RecordTier(ctx, userID, tier)

	if requestData != nil {
		key := CacheKey(api, op, requestData, tier)
		if payload := s.store.GetCache(ctx, key); payload != nil {
			s.store.RecordCacheHit(ctx)
			return Result{Decision: Cached, Payload: payload}, nil
		}
		s.store.RecordCacheMiss(ctx)
	}

	limit, _ := s.cfg.Quota.Limit(tier, api)
	usage := s.store.GetQuotaUsage(ctx, api, userID)

	if usage+settings.Cost <= limit {
		newUsage, err := s.store.IncrementQuota(ctx, api, userID, settings.Cost)
		if err != nil {
			return Result{}, errors.WithMessage(err, "consume quota")
		}
		return Result{
			Decision:  Allowed,
			Usage:     newUsage,
			Limit:     limit,
			Remaining: limit - newUsage,
		}, nil
	}

	if !allowQueue {
		return Result{Decision: Queued, Usage: usage, Limit: limit, Reason: "quota still exhausted"}, nil
	}

	queued := s.store.QueueRequest(ctx, QueuedRequest{
		UserID:      userID,
		Tier:        tier,
		API:         api,
		Operation:   op,
		Priority:    priority,
		RequestData: requestData,
		QueuedAt:    time.Now().UTC(),
	})
	if !queued {
		return Result{
			Decision: Denied,
			Usage:    usage,
			Limit:    limit,
			Reason:   "quota exhausted and request could not be queued",
		}, nil
	}

	position := s.store.GetQueueDepth(ctx, userID)
	wait := time.Duration(position) * perPositionWait
	if wait < minimumWait {
		wait = minimumWait
	}

	return Result{
		Decision:      Queued,
		Usage:         usage,
		Limit:         limit,
		QueuePosition: position,
		EstimatedWait: wait,
	}, nil
}

// ProcessCached is a cache-only lookup for known-cacheable reads; it never
// touches quota state.
func (s *Service) ProcessCached(ctx context.Context, tier string, api config.APIType, op config.Operation, requestData map[string]string) (json.RawMessage, bool) {
	if requestData == nil {
		return nil, false
	}
	payload := s.store.GetCache(ctx, CacheKey(api, op, requestData, tier))
	if payload == nil {
		s.store.RecordCacheMiss(ctx)
		return nil, false
	}
	s.store.RecordCacheHit(ctx)
	return payload, true
}

// CacheResponse stores an upstream result. TTL comes from the operation's
// configuration unless the caller overrides it.
func (s *Service) CacheResponse(ctx context.Context, tier string, api config.APIType, op config.Operation, requestData map[string]string, payload json.RawMessage, ttlOverride time.Duration) bool {
	settings, ok := s.cfg.Quota.Operations.Lookup(api, op)
	if !ok {
		return false
	}

	ttl := settings.CacheTTL()
	if ttlOverride > 0 {
		ttl = ttlOverride
	}

	return s.store.SetCache(ctx, CacheKey(api, op, requestData, tier), api, payload, ttl)
}

// Read-only aggregate for the status endpoint.
func (s *Service) UserQuotaStatus(ctx context.Context, userID, tier string) (*UserQuotaStatus, error) {
	if userID == "" {
		return nil, errors.New("missing user id")
	}
	quotas, ok := s.cfg.Quota.Tiers.Quotas(tier)
	if !ok {
		return nil, errors.Errorf("unknown tier %q", tier)
	}

	status := &UserQuotaStatus{
		UserID:     userID,
		Tier:       tier,
		QueueDepth: s.store.GetQueueDepth(ctx, userID),
	}

	for _, api := range config.APITypes() {
		limit, _ := quotas.For(api)
		usage := s.store.GetQuotaUsage(ctx, api, userID)

		remaining := limit - usage
		if remaining < 0 {
			remaining = 0
		}

		status.APIs = append(status.APIs, APIQuotaStatus{
			APIType:   api,
			Usage:     usage,
			Limit:     limit,
			Remaining: remaining,
			UsedPct:   float64(usage) / float64(limit) * 100,
		})
	}

	return status, nil
}

// ProcessQueue replays up to maxItems queued requests, highest priority
// first. Entries that are admitted (or satisfied from cache) are removed;
// the rest stay queued. Something external drives this periodically - queue
// drains are not tied to quota resets.
func (s *Service) ProcessQueue(ctx context.Context, userID string, maxItems int64) (int, error) {
	if maxItems <= 0 {
		maxItems = 10
	}

	processed := 0
	for _, entry := range s.store.GetQueuedRequests(ctx, userID, maxItems) {
		result, err := s.decide(ctx, entry.UserID, entry.Tier, entry.API, entry.Operation, entry.RequestData, entry.Priority, false)
		if err != nil {
			return processed, errors.WithMessage(err, "replay queued request")
		}

		switch result.Decision {
		case Allowed, Cached:
			s.store.RemoveQueuedRequest(ctx, userID, entry)
			processed++
		default:
			// Still over quota (or invalid); leave it in place
		}
	}

	return processed, nil
}

// Store exposes the underlying store for monitoring and health endpoints.
func (s *Service) Store() *Store {
	return s.store
}

// FailOpen reports whether the gateway should pass requests through
// unprotected when the limiter itself is failing.
func (s *Service) FailOpen() bool {
	return s.cfg.FailMode != "closed"
}
