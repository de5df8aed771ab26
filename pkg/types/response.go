package types //nolint:revive // package name is intentional

import "github.com/goccy/go-json"

// CompletionResponse is the normalized envelope returned by the gateway.
// Adapters fill the upstream fields (content, tool calls, finish reason,
// usage, raw); the orchestrator overlays routing metadata and stamps ID
// with the correlation id so the envelope, request log, and RAG log all
// share one key.
type CompletionResponse struct {
	ID           string     `json:"id"`
	Object       string     `json:"object"`
	Created      int64      `json:"created"`
	Model        string     `json:"model"`
	Provider     string     `json:"provider,omitempty"`
	Content      string     `json:"content"`
	ToolCalls    []ToolCall `json:"tool_calls,omitempty"`
	FinishReason string     `json:"finish_reason,omitempty"`
	Usage        *Usage     `json:"usage,omitempty"`

	RouteName    string            `json:"route_name,omitempty"`
	RouteReason  string            `json:"route_reason,omitempty"`
	FallbackUsed bool              `json:"fallback_used,omitempty"`
	Attempts     []FallbackAttempt `json:"attempts,omitempty"`
	Sources      []Source          `json:"sources,omitempty"`

	// Raw is the untouched upstream body, kept for diagnostics and never
	// serialized back to callers.
	Raw json.RawMessage `json:"-"`
}

// Usage contains token usage statistics for the request.
type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// FallbackAttempt records one candidate tried by the fallback executor.
// StatusCode, ErrorType and ErrorShort are nil on the success entry.
type FallbackAttempt struct {
	AttemptN   int     `json:"attempt_n"`
	ModelID    string  `json:"model_id"`
	Provider   string  `json:"provider"`
	StatusCode *int    `json:"status_code,omitempty"`
	ErrorType  *string `json:"error_type,omitempty"`
	ErrorShort *string `json:"error_short,omitempty"`
	LatencyMs  int64   `json:"latency_ms"`
}
