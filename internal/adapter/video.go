package adapter

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"strconv"
	"strings"
	"time"

	"github.com/pkg/errors"
	"quota-gateway/internal/config"
	"quota-gateway/internal/metrics"
	"quota-gateway/internal/quota"
)

// VideoAdapter fronts the upstream video API with the full quota pattern:
// check cache, check quota, call upstream, cache, normalize. On upstream
// failure it degrades to deterministic placeholder content instead of
// failing the request - the product stays usable while the upstream is down.
type VideoAdapter struct {
	limiter *quota.Service
	client  VideoAPI
	breaker *Breaker
}

func NewVideoAdapter(limiter *quota.Service, client VideoAPI) *VideoAdapter {
	return &VideoAdapter{
		limiter: limiter,
		client:  client,
		breaker: NewBreaker(5, 30*time.Second),
	}
}

func (a *VideoAdapter) Breaker() *Breaker {
	return a.breaker
}

func (a *VideoAdapter) SearchVideos(ctx context.Context, userID, tier, query string, maxResults int, priority quota.Priority, forceRefresh bool) (*VideoList, error) {
	if maxResults <= 0 {
		maxResults = 10
	}
	data := map[string]string{
		"query":       query,
		"max_results": strconv.Itoa(maxResults),
	}

	payload, err := a.execute(ctx, userID, tier, config.OpSearch, data, priority, forceRefresh, func(ctx context.Context) (interface{}, error) {
		items, err := a.client.Search(ctx, query, maxResults)
		if err != nil {
			return nil, err
		}
		return &VideoList{Items: items}, nil
	})
	if err != nil {
		if isUpstreamFailure(err) {
			log.Printf("video adapter: search %q degraded to fallback: %v", query, err)
			return fallbackSearch(query, maxResults), nil
		}
		return nil, err
	}

	return unmarshalVideos(payload)
}

func (a *VideoAdapter) VideoDetails(ctx context.Context, userID, tier string, ids []string, priority quota.Priority, forceRefresh bool) (*VideoList, error) {
	data := map[string]string{"video_ids": strings.Join(ids, ",")}

	payload, err := a.execute(ctx, userID, tier, config.OpVideoDetails, data, priority, forceRefresh, func(ctx context.Context) (interface{}, error) {
		items, err := a.client.VideoDetails(ctx, ids)
		if err != nil {
			return nil, err
		}
		return &VideoList{Items: items}, nil
	})
	if err != nil {
		if isUpstreamFailure(err) {
			log.Printf("video adapter: details degraded to fallback: %v", err)
			return fallbackDetails(ids), nil
		}
		return nil, err
	}

	return unmarshalVideos(payload)
}

func (a *VideoAdapter) Trending(ctx context.Context, userID, tier, region string, maxResults int, priority quota.Priority, forceRefresh bool) (*VideoList, error) {
	if region == "" {
		region = "US"
	}
	if maxResults <= 0 {
		maxResults = 10
	}
	data := map[string]string{
		"region":      region,
		"max_results": strconv.Itoa(maxResults),
	}

	payload, err := a.execute(ctx, userID, tier, config.OpTrending, data, priority, forceRefresh, func(ctx context.Context) (interface{}, error) {
		items, err := a.client.Trending(ctx, region, maxResults)
		if err != nil {
			return nil, err
		}
		return &VideoList{Items: items}, nil
	})
	if err != nil {
		if isUpstreamFailure(err) {
			log.Printf("video adapter: trending degraded to fallback: %v", err)
			return fallbackSearch("trending", maxResults), nil
		}
		return nil, err
	}

	return unmarshalVideos(payload)
}

func (a *VideoAdapter) ChannelInfo(ctx context.Context, userID, tier, channelID string, priority quota.Priority, forceRefresh bool) (*ChannelList, error) {
	data := map[string]string{"channel_id": channelID}

	payload, err := a.execute(ctx, userID, tier, config.OpChannelInfo, data, priority, forceRefresh, func(ctx context.Context) (interface{}, error) {
		channel, err := a.client.ChannelInfo(ctx, channelID)
		if err != nil {
			return nil, err
		}
		return &ChannelList{Items: []Channel{*channel}}, nil
	})
	if err != nil {
		// Channel lookups have no sensible placeholder; surface the error
		return nil, err
	}

	var list ChannelList
	if err := json.Unmarshal(payload, &list); err != nil {
		return nil, errors.WithMessage(err, "decode channel payload")
	}
	return &list, nil
}

// Marker wrapped around upstream call errors so the per-operation methods
// can tell "the upstream failed" apart from quota rejections.
type upstreamError struct {
	err error
}

func (e *upstreamError) Error() string { return e.err.Error() }
func (e *upstreamError) Unwrap() error { return e.err }

func isUpstreamFailure(err error) bool {
	var ue *upstreamError
	return errors.As(err, &ue)
}

// The shared cache -> quota -> upstream -> cache pipeline. Every operation
// goes through here so quota accounting stays identical across them.
func (a *VideoAdapter) execute(ctx context.Context, userID, tier string, op config.Operation, data map[string]string, priority quota.Priority, forceRefresh bool, call func(context.Context) (interface{}, error)) (json.RawMessage, error) {
	if !forceRefresh {
		if payload, ok := a.limiter.ProcessCached(ctx, tier, config.APIYouTube, op, data); ok {
			return payload, nil
		}
	}

	result, err := a.limiter.CheckAndConsume(ctx, userID, tier, config.APIYouTube, op, data, priority)
	if err != nil {
		return nil, errors.WithMessage(err, "check quota")
	}

	switch result.Decision {
	case quota.Cached:
		return result.Payload, nil
	case quota.Allowed:
		// fall through to the upstream call
	case quota.Queued:
		return nil, &quota.ErrQuotaExceeded{
			APIType:       config.APIYouTube,
			UserID:        userID,
			Usage:         result.Usage,
			Limit:         result.Limit,
			QueuePosition: result.QueuePosition,
			EstimatedWait: int64(result.EstimatedWait.Seconds()),
		}
	default:
		return nil, &quota.ErrQuotaExceeded{
			APIType: config.APIYouTube,
			UserID:  userID,
			Usage:   result.Usage,
			Limit:   result.Limit,
		}
	}

	start := time.Now()
	var response interface{}
	callErr := a.breaker.Call(func() error {
		var err error
		response, err = call(ctx)
		return err
	})
	latency := time.Since(start)

	store := a.limiter.Store()
	store.RecordAPICall(ctx, config.APIYouTube, callErr != nil, latency)
	metrics.ObserveUpstreamCall(string(config.APIYouTube), callErr != nil, latency)

	if callErr != nil {
		return nil, &upstreamError{err: callErr}
	}

	payload, err := json.Marshal(response)
	if err != nil {
		return nil, errors.WithMessage(err, "marshal upstream response")
	}

	a.limiter.CacheResponse(ctx, tier, config.APIYouTube, op, data, payload, 0)

	return payload, nil
}

func unmarshalVideos(payload json.RawMessage) (*VideoList, error) {
	var list VideoList
	if err := json.Unmarshal(payload, &list); err != nil {
		return nil, errors.WithMessage(err, "decode video payload")
	}
	return &list, nil
}

// Deterministic placeholder results served when the upstream is down.
func fallbackSearch(query string, maxResults int) *VideoList {
	count := maxResults
	if count > 3 {
		count = 3
	}

	items := make([]Video, 0, count)
	for i := 1; i <= count; i++ {
		items = append(items, Video{
			ID:          fmt.Sprintf("fallback-%s-%d", sanitize(query), i),
			Title:       fmt.Sprintf("Popular content about %s (#%d)", query, i),
			Description: "Temporarily unavailable - showing placeholder content",
		})
	}
	return &VideoList{Items: items}
}

func fallbackDetails(ids []string) *VideoList {
	items := make([]Video, 0, len(ids))
	for _, id := range ids {
		items = append(items, Video{
			ID:          id,
			Title:       "Video details temporarily unavailable",
			Description: "Temporarily unavailable - showing placeholder content",
		})
	}
	return &VideoList{Items: items}
}

func sanitize(s string) string {
	return strings.Map(func(r rune) rune {
		if r == ' ' {
			return '-'
		}
		return r
	}, strings.ToLower(s))
}
