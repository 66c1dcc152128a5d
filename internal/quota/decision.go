package quota

import (
	"encoding/json"
	"time"

	"quota-gateway/internal/config"
)

// Replay priority within a user's queue.
type Priority string

const (
	PriorityCritical Priority = "critical"
	PriorityHigh     Priority = "high"
	PriorityMedium   Priority = "medium"
	PriorityLow      Priority = "low"
)

// Lower rank drains first.
func (p Priority) rank() int64 {
	switch p {
	case PriorityCritical:
		return 0
	case PriorityHigh:
		return 1
	case PriorityMedium:
		return 2
	default:
		return 3
	}
}

type Decision int

const (
	Denied Decision = iota
	Allowed
	Cached
	Queued
)

func (d Decision) String() string {
	switch d {
	case Allowed:
		return "allowed"
	case Cached:
		return "cached"
	case Queued:
		return "queued"
	default:
		return "denied"
	}
}

// Outcome of a quota check, with the metadata the caller needs to build
// a response: usage numbers on Allowed, the payload on Cached, queue
// position and wait estimate on Queued, a reason on Denied.
type Result struct {
	Decision      Decision
	Reason        string
	Payload       json.RawMessage
	Usage         int64
	Limit         int64
	Remaining     int64
	QueuePosition int64
	EstimatedWait time.Duration
}

// A deferred request held in a user's queue until quota frees up.
type QueuedRequest struct {
	UserID      string            `json:"user_id"`
	Tier        string            `json:"tier"`
	API         config.APIType    `json:"api_type"`
	Operation   config.Operation  `json:"operation"`
	Priority    Priority          `json:"priority"`
	RequestData map[string]string `json:"request_data,omitempty"`
	QueuedAt    time.Time         `json:"queued_at"`
}

// Per-API usage numbers for the status endpoint.
type APIQuotaStatus struct {
	APIType   config.APIType `json:"api_type"`
	Usage     int64          `json:"usage"`
	Limit     int64          `json:"limit"`
	Remaining int64          `json:"remaining"`
	UsedPct   float64        `json:"used_pct"`
}

type UserQuotaStatus struct {
	UserID     string           `json:"user_id"`
	Tier       string           `json:"tier"`
	APIs       []APIQuotaStatus `json:"apis"`
	QueueDepth int64            `json:"queue_depth"`
}
