package middleware

import (
	"strings"

	"quota-gateway/internal/config"
	"quota-gateway/internal/quota"
)

// Maps a request path/method onto the (api, operation, priority) triple the
// rate limiter charges for. DataFields is the explicit allow-list of query
// and body fields that may participate in cache keys - arbitrary request
// content never does, to bound cache-key cardinality.
type RouteRule struct {
	Fragment   string
	Method     string
	API        config.APIType
	Operation  config.Operation
	Priority   quota.Priority
	DataFields []string
}

// Routes served directly through an adapter (video search/details/trending,
// music) are absent here on purpose: their adapters run the full quota
// pipeline themselves and a table entry would double-charge them.
func DefaultRoutes() []RouteRule {
	return []RouteRule{
		{
			Fragment:   "/video/recommendations",
			Method:     "GET",
			API:        config.APIYouTube,
			Operation:  config.OpSearch,
			Priority:   quota.PriorityHigh,
			DataFields: []string{"query", "max_results"},
		},
		{
			Fragment:   "/game/player",
			Method:     "GET",
			API:        config.APISteam,
			Operation:  config.OpPlayerSummary,
			Priority:   quota.PriorityMedium,
			DataFields: []string{"player_id"},
		},
		{
			Fragment:   "/game/library",
			Method:     "GET",
			API:        config.APISteam,
			Operation:  config.OpOwnedGames,
			Priority:   quota.PriorityLow,
			DataFields: []string{"player_id"},
		},
		{
			Fragment:   "/chat/completion",
			Method:     "POST",
			API:        config.APILLM,
			Operation:  config.OpCompletion,
			Priority:   quota.PriorityCritical,
			DataFields: []string{"prompt_hash"},
		},
		{
			Fragment:   "/chat/embedding",
			Method:     "POST",
			API:        config.APILLM,
			Operation:  config.OpEmbedding,
			Priority:   quota.PriorityLow,
			DataFields: []string{"prompt_hash"},
		},
	}
}

// Paths never subject to per-user rate limiting.
func excludedPath(path string) bool {
	for _, prefix := range []string{"/health", "/metrics", "/admin", "/docs", "/static"} {
		if strings.HasPrefix(path, prefix) {
			return true
		}
	}
	return false
}

func matchRoute(rules []RouteRule, path, method string) *RouteRule {
	for i := range rules {
		rule := &rules[i]
		if !strings.Contains(path, rule.Fragment) {
			continue
		}
		if rule.Method != "" && rule.Method != method {
			continue
		}
		return rule
	}
	return nil
}
