// Package metrics defines the gateway's Prometheus instrumentation:
// request counts and latencies, per-attempt upstream outcomes, token
// usage, breaker states, and database pool gauges.
package metrics

import (
	"database/sql"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/modelgate/modelgate/internal/resilience"
)

const namespace = "modelgate"

// LatencyBuckets covers sub-second overhead through multi-minute
// completions.
var LatencyBuckets = []float64{
	0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 20, 30, 60, 120, 300,
}

var (
	// RequestsTotal counts completed gateway requests.
	RequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "requests_total",
			Help:      "Total completion requests handled by the gateway",
		},
		[]string{"provider", "model", "route", "status"},
	)

	// RequestLatency tracks end-to-end request latency.
	RequestLatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "request_latency_seconds",
			Help:      "End-to-end request latency in seconds",
			Buckets:   LatencyBuckets,
		},
		[]string{"provider", "model"},
	)

	// AttemptsTotal counts individual candidate attempts, including the
	// ones fallback recovered from.
	AttemptsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "attempts_total",
			Help:      "Upstream candidate attempts by outcome",
		},
		[]string{"provider", "model", "outcome"},
	)

	// FallbacksTotal counts requests that advanced past their primary.
	FallbacksTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "fallbacks_total",
			Help:      "Requests served by a fallback candidate",
		},
		[]string{"route"},
	)

	// TokenUsage counts tokens by direction.
	TokenUsage = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "token_usage_total",
			Help:      "Token usage by direction",
		},
		[]string{"provider", "model", "direction"},
	)

	// UpstreamErrors counts classified upstream failures.
	UpstreamErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "upstream_errors_total",
			Help:      "Upstream errors by taxonomy tag",
		},
		[]string{"provider", "error_type"},
	)

	// CircuitBreakerState exports each provider's breaker state.
	CircuitBreakerState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "circuit_breaker_state",
			Help:      "Circuit breaker state (0=closed, 1=open, 2=half_open)",
		},
		[]string{"provider"},
	)

	// RerankLatency tracks BM25 rerank latency.
	RerankLatency = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "rerank_latency_seconds",
			Help:      "RAG rerank latency in seconds",
			Buckets:   []float64{0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5},
		},
	)

	// DBConnectionPoolSize exports observability store pool gauges.
	DBConnectionPoolSize = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "db_connection_pool_size",
			Help:      "Database connection pool size by state",
		},
		[]string{"state"},
	)
)

// RecordRequest records a completed request.
func RecordRequest(provider, model, route string, statusCode int, latency time.Duration) {
	RequestsTotal.WithLabelValues(
		labelOrUnknown(provider), sanitizeModelLabel(model), labelOrUnknown(route),
		strconv.Itoa(statusCode),
	).Inc()
	RequestLatency.WithLabelValues(
		labelOrUnknown(provider), sanitizeModelLabel(model),
	).Observe(latency.Seconds())
}

// RecordAttempt records one candidate attempt. outcome is "success" or
// the failure's taxonomy tag.
func RecordAttempt(provider, model, outcome string) {
	AttemptsTotal.WithLabelValues(
		labelOrUnknown(provider), sanitizeModelLabel(model), labelOrUnknown(outcome),
	).Inc()
	if outcome != "success" {
		UpstreamErrors.WithLabelValues(labelOrUnknown(provider), outcome).Inc()
	}
}

// RecordFallback records a request served past its primary candidate.
func RecordFallback(route string) {
	FallbacksTotal.WithLabelValues(labelOrUnknown(route)).Inc()
}

// RecordTokens records token usage.
func RecordTokens(provider, model string, tokensIn, tokensOut int) {
	provider = labelOrUnknown(provider)
	model = sanitizeModelLabel(model)
	if tokensIn > 0 {
		TokenUsage.WithLabelValues(provider, model, "input").Add(float64(tokensIn))
	}
	if tokensOut > 0 {
		TokenUsage.WithLabelValues(provider, model, "output").Add(float64(tokensOut))
	}
}

// SetBreakerState updates the state gauge for one provider.
func SetBreakerState(provider string, state resilience.State) {
	CircuitBreakerState.WithLabelValues(labelOrUnknown(provider)).Set(float64(state))
}

// UpdateDBPoolStats refreshes the pool gauges from sql.DBStats.
func UpdateDBPoolStats(stats sql.DBStats) {
	DBConnectionPoolSize.WithLabelValues("active").Set(float64(stats.InUse))
	DBConnectionPoolSize.WithLabelValues("idle").Set(float64(stats.Idle))
	DBConnectionPoolSize.WithLabelValues("max").Set(float64(stats.MaxOpenConnections))
}

const maxModelLabelLen = 64

// sanitizeModelLabel bounds label cardinality: registry ids are already
// clean, but user overrides flow through here too.
func sanitizeModelLabel(model string) string {
	model = strings.TrimSpace(model)
	if model == "" {
		return "unknown"
	}

	var b strings.Builder
	for _, r := range model {
		if (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') ||
			(r >= '0' && r <= '9') || r == '-' || r == '_' || r == '.' || r == ':' || r == '/' {
			b.WriteRune(r)
		} else {
			b.WriteByte('_')
		}
		if b.Len() >= maxModelLabelLen {
			break
		}
	}

	out := strings.Trim(b.String(), "_")
	if out == "" {
		return "unknown"
	}
	return out
}

func labelOrUnknown(v string) string {
	if v == "" {
		return "unknown"
	}
	return v
}
