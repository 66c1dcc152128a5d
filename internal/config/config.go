package config

import (
	"encoding/json"
	"fmt"
	"os"
	"time"
)

type APIType string

const (
	APIYouTube APIType = "youtube"
	APISpotify APIType = "spotify"
	APISteam   APIType = "steam"
	APILLM     APIType = "llm"
)

type Operation string

const (
	OpSearch          Operation = "search"
	OpVideoDetails    Operation = "video_details"
	OpTrending        Operation = "trending"
	OpChannelInfo     Operation = "channel_info"
	OpRecommendations Operation = "recommendations"
	OpPlayerSummary   Operation = "player_summary"
	OpOwnedGames      Operation = "owned_games"
	OpCompletion      Operation = "completion"
	OpEmbedding       Operation = "embedding"
)

// APITypes lists every upstream API the gateway meters.
func APITypes() []APIType {
	return []APIType{APIYouTube, APISpotify, APISteam, APILLM}
}

type Config struct {
	Server               ServerConfig     `json:"server"`
	Redis                RedisConfig      `json:"redis"`
	Postgres             PostgresConfig   `json:"postgres"`
	Admin                AdminConfig      `json:"admin"`
	FailMode             string           `json:"fail_mode"` // "open" or "closed"
	StrictCostValidation bool             `json:"strict_cost_validation"`
	Quota                QuotaConfig      `json:"quota"`
	GlobalLimit          GlobalLimit      `json:"global_limit"`
	Monitoring           MonitoringConfig `json:"monitoring"`
	Scheduler            SchedulerConfig  `json:"scheduler"`
	Upstreams            UpstreamConfig   `json:"upstreams"`
}

type ServerConfig struct {
	Port        string `json:"port"`
	Environment string `json:"environment"`
	// HMAC secret for optional JWT identity extraction. Empty disables it.
	JWTSecret string `json:"jwt_secret"`
}

type RedisConfig struct {
	Host     string `json:"host"`
	Port     string `json:"port"`
	Password string `json:"password"`
	DB       int    `json:"db"`
}

func (r RedisConfig) Addr() string {
	return r.Host + ":" + r.Port
}

type PostgresConfig struct {
	DSN string `json:"dsn"`
}

type AdminConfig struct {
	// Bcrypt hash of the admin password. Empty disables the admin API.
	PasswordHash string `json:"password_hash"`
}

// Per-tier daily quota limits, in cost units, one field per API.
type TierQuotas struct {
	YouTube int64 `json:"youtube"`
	Spotify int64 `json:"spotify"`
	Steam   int64 `json:"steam"`
	LLM     int64 `json:"llm"`
}

func (t TierQuotas) For(api APIType) (int64, bool) {
	switch api {
	case APIYouTube:
		return t.YouTube, true
	case APISpotify:
		return t.Spotify, true
	case APISteam:
		return t.Steam, true
	case APILLM:
		return t.LLM, true
	default:
		return 0, false
	}
}

type Tiers struct {
	Free       TierQuotas `json:"free"`
	Premium    TierQuotas `json:"premium"`
	Enterprise TierQuotas `json:"enterprise"`
}

func (t Tiers) Quotas(tier string) (TierQuotas, bool) {
	switch tier {
	case "free":
		return t.Free, true
	case "premium":
		return t.Premium, true
	case "enterprise":
		return t.Enterprise, true
	default:
		return TierQuotas{}, false
	}
}

func (t Tiers) Names() []string {
	return []string{"free", "premium", "enterprise"}
}

// Fixed price and cache TTL for one logical operation.
type OperationSettings struct {
	Cost        int64     `json:"cost"`
	CacheTTLSec int64     `json:"cache_ttl_sec"`
	Name        Operation `json:"-"`
}

func (o OperationSettings) CacheTTL() time.Duration {
	return time.Duration(o.CacheTTLSec) * time.Second
}

type YouTubeOps struct {
	Search       OperationSettings `json:"search"`
	VideoDetails OperationSettings `json:"video_details"`
	Trending     OperationSettings `json:"trending"`
	ChannelInfo  OperationSettings `json:"channel_info"`
}

type SpotifyOps struct {
	Search          OperationSettings `json:"search"`
	Recommendations OperationSettings `json:"recommendations"`
}

type SteamOps struct {
	PlayerSummary OperationSettings `json:"player_summary"`
	OwnedGames    OperationSettings `json:"owned_games"`
}

type LLMOps struct {
	Completion OperationSettings `json:"completion"`
	Embedding  OperationSettings `json:"embedding"`
}

type APIOperations struct {
	YouTube YouTubeOps `json:"youtube"`
	Spotify SpotifyOps `json:"spotify"`
	Steam   SteamOps   `json:"steam"`
	LLM     LLMOps     `json:"llm"`
}

// Returns the settings for an (api, operation) pair.
func (a APIOperations) Lookup(api APIType, op Operation) (OperationSettings, bool) {
	for _, s := range a.list(api) {
		if s.Name == op {
			return s, true
		}
	}
	return OperationSettings{}, false
}

func (a APIOperations) list(api APIType) []OperationSettings {
	switch api {
	case APIYouTube:
		return []OperationSettings{
			named(a.YouTube.Search, OpSearch),
			named(a.YouTube.VideoDetails, OpVideoDetails),
			named(a.YouTube.Trending, OpTrending),
			named(a.YouTube.ChannelInfo, OpChannelInfo),
		}
	case APISpotify:
		return []OperationSettings{
			named(a.Spotify.Search, OpSearch),
			named(a.Spotify.Recommendations, OpRecommendations),
		}
	case APISteam:
		return []OperationSettings{
			named(a.Steam.PlayerSummary, OpPlayerSummary),
			named(a.Steam.OwnedGames, OpOwnedGames),
		}
	case APILLM:
		return []OperationSettings{
			named(a.LLM.Completion, OpCompletion),
			named(a.LLM.Embedding, OpEmbedding),
		}
	default:
		return nil
	}
}

func named(s OperationSettings, op Operation) OperationSettings {
	s.Name = op
	return s
}

type QuotaConfig struct {
	Tiers      Tiers         `json:"tiers"`
	Operations APIOperations `json:"operations"`
}

// Limit returns the daily limit for (tier, api).
func (q QuotaConfig) Limit(tier string, api APIType) (int64, bool) {
	quotas, ok := q.Tiers.Quotas(tier)
	if !ok {
		return 0, false
	}
	return quotas.For(api)
}

type GlobalLimit struct {
	PerIPPerMinute     int     `json:"per_ip_per_minute"`
	AggregatePerSecond float64 `json:"aggregate_per_second"`
	AggregateBurst     int     `json:"aggregate_burst"`
}

type MonitoringConfig struct {
	IntervalSec        int         `json:"interval_sec"`
	QuotaWarnRatio     float64     `json:"quota_warn_ratio"`
	QuotaCriticalRatio float64     `json:"quota_critical_ratio"`
	QueueDepthWarn     int64       `json:"queue_depth_warn"`
	ErrorRateWarn      float64     `json:"error_rate_warn"`
	LatencyWarnMs      float64     `json:"latency_warn_ms"`
	CacheHitRateWarn   float64     `json:"cache_hit_rate_warn"`
	CooldownSec        int         `json:"cooldown_sec"`
	Email              EmailConfig `json:"email"`
}

func (m MonitoringConfig) Interval() time.Duration {
	return time.Duration(m.IntervalSec) * time.Second
}

func (m MonitoringConfig) Cooldown() time.Duration {
	return time.Duration(m.CooldownSec) * time.Second
}

type EmailConfig struct {
	Enabled    bool     `json:"enabled"`
	SMTPAddr   string   `json:"smtp_addr"`
	From       string   `json:"from"`
	To         []string `json:"to"`
	TimeoutSec int      `json:"timeout_sec"`
}

// Timeout bounds the whole SMTP exchange. A silent server must not stall
// alert dispatch.
func (e EmailConfig) Timeout() time.Duration {
	if e.TimeoutSec <= 0 {
		return 10 * time.Second
	}
	return time.Duration(e.TimeoutSec) * time.Second
}

type SchedulerConfig struct {
	DrainIntervalSec int `json:"drain_interval_sec"`
	DrainBatchSize   int `json:"drain_batch_size"`
	LogRetentionDays int `json:"log_retention_days"`
}

type UpstreamConfig struct {
	YouTubeAPIKey string `json:"youtube_api_key"`
	SpotifyToken  string `json:"spotify_token"`
	TimeoutSec    int    `json:"timeout_sec"`
}

func (u UpstreamConfig) Timeout() time.Duration {
	return time.Duration(u.TimeoutSec) * time.Second
}

// Loads configuration from a JSON file, falling back to defaults
// when the file does not exist.
func Load(path string) (*Config, error) {
	cfg := Default()

	file, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return cfg, nil
	}
	if err != nil {
		return nil, err
	}

	if err := json.Unmarshal(file, cfg); err != nil {
		return nil, err
	}

	return cfg, nil
}

func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Port:        "8080",
			Environment: "development",
		},
		Redis: RedisConfig{
			Host: "localhost",
			Port: "6379",
		},
		FailMode: "open",
		Quota: QuotaConfig{
			Tiers: Tiers{
				Free:       TierQuotas{YouTube: 50, Spotify: 100, Steam: 100, LLM: 20},
				Premium:    TierQuotas{YouTube: 500, Spotify: 1000, Steam: 1000, LLM: 200},
				Enterprise: TierQuotas{YouTube: 5000, Spotify: 10000, Steam: 10000, LLM: 2000},
			},
			Operations: APIOperations{
				YouTube: YouTubeOps{
					Search:       OperationSettings{Cost: 100, CacheTTLSec: 3600},
					VideoDetails: OperationSettings{Cost: 1, CacheTTLSec: 7 * 24 * 3600},
					Trending:     OperationSettings{Cost: 100, CacheTTLSec: 1800},
					ChannelInfo:  OperationSettings{Cost: 1, CacheTTLSec: 24 * 3600},
				},
				Spotify: SpotifyOps{
					Search:          OperationSettings{Cost: 1, CacheTTLSec: 3600},
					Recommendations: OperationSettings{Cost: 1, CacheTTLSec: 1800},
				},
				Steam: SteamOps{
					PlayerSummary: OperationSettings{Cost: 1, CacheTTLSec: 3600},
					OwnedGames:    OperationSettings{Cost: 1, CacheTTLSec: 24 * 3600},
				},
				LLM: LLMOps{
					Completion: OperationSettings{Cost: 10, CacheTTLSec: 24 * 3600},
					Embedding:  OperationSettings{Cost: 1, CacheTTLSec: 7 * 24 * 3600},
				},
			},
		},
		GlobalLimit: GlobalLimit{
			PerIPPerMinute:     120,
			AggregatePerSecond: 200,
			AggregateBurst:     400,
		},
		Monitoring: MonitoringConfig{
			IntervalSec:        60,
			QuotaWarnRatio:     0.70,
			QuotaCriticalRatio: 0.90,
			QueueDepthWarn:     50,
			ErrorRateWarn:      0.10,
			LatencyWarnMs:      5000,
			CacheHitRateWarn:   0.40,
			CooldownSec:        300,
		},
		Scheduler: SchedulerConfig{
			DrainIntervalSec: 300,
			DrainBatchSize:   10,
			LogRetentionDays: 30,
		},
		Upstreams: UpstreamConfig{
			TimeoutSec: 10,
		},
	}
}

// A (tier, api, operation) combination whose cost can never be admitted.
type StarvationWarning struct {
	Tier      string
	API       APIType
	Operation Operation
	Cost      int64
	Limit     int64
}

func (w StarvationWarning) String() string {
	return fmt.Sprintf("operation %s/%s cost %d exceeds tier %q limit %d; requests will queue forever",
		w.API, w.Operation, w.Cost, w.Tier, w.Limit)
}

// Validate checks structural correctness. Cost-exceeds-limit combinations are
// returned as warnings; with StrictCostValidation they become an error.
func (c *Config) Validate() ([]StarvationWarning, error) {
	if c.Server.Port == "" {
		return nil, fmt.Errorf("server port is required")
	}
	if c.FailMode != "open" && c.FailMode != "closed" {
		return nil, fmt.Errorf("fail_mode must be \"open\" or \"closed\", got %q", c.FailMode)
	}
	if c.Monitoring.IntervalSec <= 0 {
		return nil, fmt.Errorf("monitoring interval must be positive")
	}
	if c.Monitoring.QuotaWarnRatio >= c.Monitoring.QuotaCriticalRatio {
		return nil, fmt.Errorf("quota warn ratio must be below critical ratio")
	}

	for _, tier := range c.Quota.Tiers.Names() {
		quotas, _ := c.Quota.Tiers.Quotas(tier)
		for _, api := range APITypes() {
			limit, _ := quotas.For(api)
			if limit <= 0 {
				return nil, fmt.Errorf("tier %q has no limit for api %q", tier, api)
			}
			for _, op := range c.Quota.Operations.list(api) {
				if op.Cost <= 0 {
					return nil, fmt.Errorf("operation %s/%s has non-positive cost", api, op.Name)
				}
			}
		}
	}

	var warnings []StarvationWarning
	for _, tier := range c.Quota.Tiers.Names() {
		quotas, _ := c.Quota.Tiers.Quotas(tier)
		for _, api := range APITypes() {
			limit, _ := quotas.For(api)
			for _, op := range c.Quota.Operations.list(api) {
				if op.Cost > limit {
					warnings = append(warnings, StarvationWarning{
						Tier:      tier,
						API:       api,
						Operation: op.Name,
						Cost:      op.Cost,
						Limit:     limit,
					})
				}
			}
		}
	}

	if c.StrictCostValidation && len(warnings) > 0 {
		return warnings, fmt.Errorf("%d operation cost(s) exceed their tier limit", len(warnings))
	}

	return warnings, nil
}
