package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	decisions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "quota_gateway_decisions_total",
		Help: "Rate limit decisions by api type and outcome",
	}, []string{"api_type", "decision"})

	upstreamCalls = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "quota_gateway_upstream_calls_total",
		Help: "Upstream API calls by api type and result",
	}, []string{"api_type", "result"})

	upstreamLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "quota_gateway_upstream_latency_seconds",
		Help:    "Upstream API call latency",
		Buckets: prometheus.DefBuckets,
	}, []string{"api_type"})

	alerts = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "quota_gateway_alerts_total",
		Help: "Alerts raised by level",
	}, []string{"level"})
)

func RecordDecision(apiType, decision string) {
	decisions.WithLabelValues(apiType, decision).Inc()
}

func ObserveUpstreamCall(apiType string, failed bool, latency time.Duration) {
	result := "ok"
	if failed {
		result = "error"
	}
	upstreamCalls.WithLabelValues(apiType, result).Inc()
	upstreamLatency.WithLabelValues(apiType).Observe(latency.Seconds())
}

func RecordAlert(level string) {
	alerts.WithLabelValues(level).Inc()
}
