package quota

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"quota-gateway/internal/config"
)

func quotaKey(api config.APIType, userID string) string {
	return fmt.Sprintf("quota:%s:%s", api, userID)
}

func queueKey(userID string) string {
	return fmt.Sprintf("queue:%s", userID)
}

func tierKey(userID string) string {
	return fmt.Sprintf("tier:%s", userID)
}

func metricsKey(api config.APIType, day time.Time) string {
	return fmt.Sprintf("metrics:%s:%s", api, day.UTC().Format("2006-01-02"))
}

func cacheMetricsKey(day time.Time) string {
	return fmt.Sprintf("metrics:cache:%s", day.UTC().Format("2006-01-02"))
}

// UserIDFromQuotaKey parses "quota:<api>:<user>"; the user id may itself
// contain colons.
func UserIDFromQuotaKey(key string) (config.APIType, string, bool) {
	parts := strings.SplitN(key, ":", 3)
	if len(parts) != 3 || parts[0] != "quota" {
		return "", "", false
	}
	return config.APIType(parts[1]), parts[2], true
}

func UserIDFromQueueKey(key string) (string, bool) {
	rest, ok := strings.CutPrefix(key, "queue:")
	if !ok || rest == "" {
		return "", false
	}
	return rest, true
}

// CacheKey builds the deterministic key for a cached response. Only the
// operation's semantically relevant parameters participate, and the caller's
// tier is appended so tiers never share entries.
func CacheKey(api config.APIType, op config.Operation, data map[string]string, tier string) string {
	return fmt.Sprintf("cache:%s:%s|%s|tier=%s", api, op, cacheParams(op, data), tier)
}

func cacheParams(op config.Operation, data map[string]string) string {
	switch op {
	case config.OpSearch:
		return pick(data, "query", "max_results")
	case config.OpVideoDetails:
		return sortedList(data["video_ids"])
	case config.OpTrending:
		return pick(data, "region", "max_results")
	case config.OpChannelInfo:
		return pick(data, "channel_id")
	case config.OpRecommendations:
		return pick(data, "seed", "max_results")
	case config.OpPlayerSummary:
		return pick(data, "player_id")
	case config.OpOwnedGames:
		return pick(data, "player_id")
	default:
		return pickAll(data)
	}
}

func pick(data map[string]string, fields ...string) string {
	parts := make([]string, 0, len(fields))
	for _, f := range fields {
		parts = append(parts, f+"="+data[f])
	}
	return strings.Join(parts, "&")
}

// Every field, sorted, for operations without a dedicated extractor.
func pickAll(data map[string]string) string {
	fields := make([]string, 0, len(data))
	for f := range data {
		fields = append(fields, f)
	}
	sort.Strings(fields)
	return pick(data, fields...)
}

// Comma-separated id list, order-insensitive.
func sortedList(raw string) string {
	ids := strings.Split(raw, ",")
	for i := range ids {
		ids[i] = strings.TrimSpace(ids[i])
	}
	sort.Strings(ids)
	return "ids=" + strings.Join(ids, ",")
}

// Duration until the next daily quota reset at 00:00 UTC.
func untilDailyReset(now time.Time) time.Duration {
	now = now.UTC()
	midnight := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC).Add(24 * time.Hour)
	return midnight.Sub(now)
}
