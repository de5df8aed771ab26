// Package observability persists request logs, RAG traces, and breaker
// snapshots, and serves the aggregate metrics the admin API exposes. It
// also carries the ambient concerns shared by every request path:
// structured logging with redaction, request ids, and OTel tracing.
package observability

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/goccy/go-json"
)

// ErrNotFound is returned by point lookups for missing rows.
var ErrNotFound = errors.New("not found")

// RequestLog is one completed (or failed) gateway request. ID is the
// correlation id, shared with the response envelope and the RAG log.
type RequestLog struct {
	ID                string          `json:"id"`
	Timestamp         time.Time       `json:"timestamp"`
	UserID            string          `json:"user_id,omitempty"`
	ChatID            string          `json:"chat_id,omitempty"`
	Provider          string          `json:"provider,omitempty"`
	ModelID           string          `json:"model_id,omitempty"`
	RouteName         string          `json:"route_name,omitempty"`
	RouteReason       string          `json:"route_reason,omitempty"`
	FallbackUsed      bool            `json:"fallback_used"`
	FallbackChain     json.RawMessage `json:"fallback_chain,omitempty"`
	TotalLatencyMs    int64           `json:"total_latency_ms"`
	ProviderLatencyMs int64           `json:"provider_latency_ms"`
	TokensIn          int             `json:"tokens_in"`
	TokensOut         int             `json:"tokens_out"`
	ErrorType         string          `json:"error_type,omitempty"`
	ErrorShort        string          `json:"error_short,omitempty"`
	RAGAttempted      bool            `json:"rag_attempted"`
	RAGUsed           bool            `json:"rag_used"`
	RAGLatencyMs      int64           `json:"rag_latency_ms,omitempty"`
	RAGTopN           int             `json:"rag_top_n,omitempty"`
	RAGTopK           int             `json:"rag_top_k,omitempty"`
	RerankerType      string          `json:"reranker_type,omitempty"`
	RerankLatencyMs   int64           `json:"rerank_latency_ms,omitempty"`
	Metadata          json.RawMessage `json:"metadata,omitempty"`
}

// Succeeded reports whether the request completed without error.
func (l *RequestLog) Succeeded() bool {
	return l.ErrorType == ""
}

// RAGLog is the rerank trace for one request: every candidate with its
// scores and the chunks that were injected.
type RAGLog struct {
	ID              string          `json:"id"`
	RequestID       string          `json:"request_id"`
	Timestamp       time.Time       `json:"timestamp"`
	Query           string          `json:"query"`
	KnowledgeBaseID string          `json:"knowledge_base_id,omitempty"`
	Candidates      json.RawMessage `json:"candidates,omitempty"`
	RerankerType    string          `json:"reranker_type,omitempty"`
	SelectedChunks  json.RawMessage `json:"selected_chunks,omitempty"`
}

// BreakerSnapshot is the persisted view of one provider's circuit
// breaker, upserted on every state change and on admin reset.
type BreakerSnapshot struct {
	Provider        string     `json:"provider"`
	State           string     `json:"state"`
	FailureCount    int        `json:"failure_count"`
	LastFailureTime *time.Time `json:"last_failure_time,omitempty"`
	LastSuccessTime *time.Time `json:"last_success_time,omitempty"`
	OpenedAt        *time.Time `json:"opened_at,omitempty"`
	UpdatedAt       time.Time  `json:"updated_at"`
}

// Filter bounds for RequestLogs queries.
const (
	DefaultFilterLimit = 100
	MaxFilterLimit     = 1000
)

// Filter selects request logs. Zero fields match everything; results
// come back ordered timestamp descending.
type Filter struct {
	UserID      string
	Provider    string
	ModelID     string
	RouteName   string
	ErrorsOnly  bool
	RAGUsedOnly bool
	Start       time.Time
	End         time.Time
	Limit       int
	Offset      int
}

// Normalize clamps paging fields to their bounds.
func (f Filter) Normalize() Filter {
	if f.Limit <= 0 {
		f.Limit = DefaultFilterLimit
	}
	if f.Limit > MaxFilterLimit {
		f.Limit = MaxFilterLimit
	}
	if f.Offset < 0 {
		f.Offset = 0
	}
	return f
}

// Matches reports whether a log passes every set condition.
func (f Filter) Matches(l *RequestLog) bool {
	if f.UserID != "" && l.UserID != f.UserID {
		return false
	}
	if f.Provider != "" && l.Provider != f.Provider {
		return false
	}
	if f.ModelID != "" && l.ModelID != f.ModelID {
		return false
	}
	if f.RouteName != "" && l.RouteName != f.RouteName {
		return false
	}
	if f.ErrorsOnly && l.Succeeded() {
		return false
	}
	if f.RAGUsedOnly && !l.RAGUsed {
		return false
	}
	if !f.Start.IsZero() && l.Timestamp.Before(f.Start) {
		return false
	}
	if !f.End.IsZero() && l.Timestamp.After(f.End) {
		return false
	}
	return true
}

// MetricsQuery bounds an aggregation window. Provider narrows it to one
// upstream when set.
type MetricsQuery struct {
	Start    time.Time
	End      time.Time
	Provider string
}

// Metrics is the aggregate view over one window. Rates are fractions in
// [0, 1]; latency percentiles come from sorted present values.
type Metrics struct {
	TotalRequests int            `json:"total_requests"`
	ErrorRate     float64        `json:"error_rate"`
	FallbackRate  float64        `json:"fallback_rate"`
	AvgLatencyMs  float64        `json:"avg_latency_ms"`
	P50LatencyMs  int64          `json:"p50_latency_ms"`
	P95LatencyMs  int64          `json:"p95_latency_ms"`
	TokensIn      int64          `json:"tokens_in"`
	TokensOut     int64          `json:"tokens_out"`
	RAGHitRate    float64        `json:"rag_hit_rate"`
	ByProvider    map[string]int `json:"by_provider"`
	ByErrorType   map[string]int `json:"by_error_type"`
}

// Time series metrics.
const (
	MetricLatency      = "latency"
	MetricErrorRate    = "error_rate"
	MetricTokens       = "tokens"
	MetricFallbackRate = "fallback_rate"
)

// TimeSeriesPoint is one non-empty bucket of a time series.
type TimeSeriesPoint struct {
	Timestamp time.Time `json:"timestamp"`
	Value     float64   `json:"value"`
}

var intervals = map[string]time.Duration{
	"5m":  5 * time.Minute,
	"15m": 15 * time.Minute,
	"1h":  time.Hour,
	"6h":  6 * time.Hour,
	"1d":  24 * time.Hour,
}

// ParseInterval maps a wire interval name to its duration.
func ParseInterval(name string) (time.Duration, error) {
	if d, ok := intervals[name]; ok {
		return d, nil
	}
	return 0, fmt.Errorf("invalid interval %q (want 5m, 15m, 1h, 6h, or 1d)", name)
}

// ValidMetric reports whether a time-series metric name is known.
func ValidMetric(name string) bool {
	switch name {
	case MetricLatency, MetricErrorRate, MetricTokens, MetricFallbackRate:
		return true
	default:
		return false
	}
}

// Store persists and queries gateway telemetry. Implementations:
// Postgres for production, the in-memory store for DSN-less runs and
// tests.
type Store interface {
	InsertRequestLog(ctx context.Context, log *RequestLog) error
	InsertRAGLog(ctx context.Context, log *RAGLog) error
	RequestLog(ctx context.Context, id string) (*RequestLog, error)
	RequestLogs(ctx context.Context, filter Filter) ([]RequestLog, error)
	RAGLogByRequestID(ctx context.Context, requestID string) (*RAGLog, error)
	UpsertBreakerSnapshot(ctx context.Context, snap *BreakerSnapshot) error
	BreakerSnapshots(ctx context.Context) ([]BreakerSnapshot, error)
	Metrics(ctx context.Context, q MetricsQuery) (*Metrics, error)
	TimeSeries(ctx context.Context, q MetricsQuery, metric string, interval time.Duration) ([]TimeSeriesPoint, error)
	Close() error
}
