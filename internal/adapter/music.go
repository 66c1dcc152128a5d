package adapter

import (
	"context"
	"encoding/json"
	"strconv"
	"time"

	"github.com/pkg/errors"
	"quota-gateway/internal/config"
	"quota-gateway/internal/metrics"
	"quota-gateway/internal/quota"
)

// MusicAdapter follows the same pipeline as VideoAdapter. Unlike video, a
// failed upstream call is surfaced to the caller - there is no useful
// placeholder for music results.
type MusicAdapter struct {
	limiter *quota.Service
	client  MusicAPI
	breaker *Breaker
}

func NewMusicAdapter(limiter *quota.Service, client MusicAPI) *MusicAdapter {
	return &MusicAdapter{
		limiter: limiter,
		client:  client,
		breaker: NewBreaker(5, 30*time.Second),
	}
}

func (a *MusicAdapter) Breaker() *Breaker {
	return a.breaker
}

func (a *MusicAdapter) SearchTracks(ctx context.Context, userID, tier, query string, limit int, priority quota.Priority, forceRefresh bool) (*TrackList, error) {
	if limit <= 0 {
		limit = 10
	}
	data := map[string]string{
		"query":       query,
		"max_results": strconv.Itoa(limit),
	}

	return a.execute(ctx, userID, tier, config.OpSearch, data, priority, forceRefresh, func(ctx context.Context) ([]Track, error) {
		return a.client.Search(ctx, query, limit)
	})
}

func (a *MusicAdapter) Recommendations(ctx context.Context, userID, tier, seed string, limit int, priority quota.Priority, forceRefresh bool) (*TrackList, error) {
	if limit <= 0 {
		limit = 10
	}
	data := map[string]string{
		"seed":        seed,
		"max_results": strconv.Itoa(limit),
	}

	return a.execute(ctx, userID, tier, config.OpRecommendations, data, priority, forceRefresh, func(ctx context.Context) ([]Track, error) {
		return a.client.Recommendations(ctx, seed, limit)
	})
}

func (a *MusicAdapter) execute(ctx context.Context, userID, tier string, op config.Operation, data map[string]string, priority quota.Priority, forceRefresh bool, call func(context.Context) ([]Track, error)) (*TrackList, error) {
	if !forceRefresh {
		if payload, ok := a.limiter.ProcessCached(ctx, tier, config.APISpotify, op, data); ok {
			return unmarshalTracks(payload)
		}
	}

	result, err := a.limiter.CheckAndConsume(ctx, userID, tier, config.APISpotify, op, data, priority)
	if err != nil {
		return nil, errors.WithMessage(err, "check quota")
	}

	switch result.Decision {
	case quota.Cached:
		return unmarshalTracks(result.Payload)
	case quota.Allowed:
		// fall through to the upstream call
	case quota.Queued:
		return nil, &quota.ErrQuotaExceeded{
			APIType:       config.APISpotify,
			UserID:        userID,
			Usage:         result.Usage,
			Limit:         result.Limit,
			QueuePosition: result.QueuePosition,
			EstimatedWait: int64(result.EstimatedWait.Seconds()),
		}
	default:
		return nil, &quota.ErrQuotaExceeded{
			APIType: config.APISpotify,
			UserID:  userID,
			Usage:   result.Usage,
			Limit:   result.Limit,
		}
	}

	start := time.Now()
	var items []Track
	callErr := a.breaker.Call(func() error {
		var err error
		items, err = call(ctx)
		return err
	})
	latency := time.Since(start)

	store := a.limiter.Store()
	store.RecordAPICall(ctx, config.APISpotify, callErr != nil, latency)
	metrics.ObserveUpstreamCall(string(config.APISpotify), callErr != nil, latency)

	if callErr != nil {
		return nil, errors.WithMessage(callErr, "music upstream")
	}

	list := &TrackList{Items: items}
	if payload, err := json.Marshal(list); err == nil {
		a.limiter.CacheResponse(ctx, tier, config.APISpotify, op, data, payload, 0)
	}

	return list, nil
}

func unmarshalTracks(payload json.RawMessage) (*TrackList, error) {
	var list TrackList
	if err := json.Unmarshal(payload, &list); err != nil {
		return nil, errors.WithMessage(err, "decode track payload")
	}
	return &list, nil
}
