// Package provider defines the adapter interface over upstream LLM APIs.
// An adapter normalizes request and response shapes for one upstream,
// classifies its errors into the gateway taxonomy, and exposes unary and
// streaming completion calls. Adapters are stateless apart from their
// HTTP client and are cached per provider by the fallback executor.
package provider

import (
	"context"
	"strings"
	"time"

	"github.com/modelgate/modelgate/pkg/types"
)

// Config carries the resolved connection settings for one adapter
// instance. APIKey is the resolved secret, not a handle.
type Config struct {
	// Name is the provider name from the registry (labels errors and
	// metrics; also strips "name/" model id prefixes).
	Name    string
	BaseURL string
	APIKey  string
	Timeout time.Duration
}

// StreamDelta is one normalized increment of a streaming completion.
type StreamDelta struct {
	Content      string           `json:"content,omitempty"`
	ToolCalls    []types.ToolCall `json:"tool_calls,omitempty"`
	FinishReason string           `json:"finish_reason,omitempty"`
	Usage        *types.Usage     `json:"usage,omitempty"`
}

// Stream is a lazy, finite, non-restartable sequence of deltas. Recv
// returns io.EOF after the terminal sentinel; transport errors propagate
// as-is. Close is safe to call at any point and more than once.
type Stream interface {
	Recv() (*StreamDelta, error)
	Close() error
}

// Adapter is the capability set every upstream integration implements.
//
// PrepareRequest emits only fields the upstream accepts and never leaks
// gateway-internal metadata; the stream flag is always set to match the
// call site. ParseResponse produces the normalized envelope with the raw
// body retained for diagnostics. StreamComplete validates the HTTP
// response status before returning, so a pre-first-byte failure comes
// back as a typed error the executor can fall back on.
type Adapter interface {
	Name() string
	PrepareRequest(req *types.CompletionRequest, stream bool) ([]byte, error)
	ParseResponse(body []byte) (*types.CompletionResponse, error)
	ParseStreamChunk(line []byte) (*StreamDelta, error)
	Complete(ctx context.Context, req *types.CompletionRequest) (*types.CompletionResponse, error)
	StreamComplete(ctx context.Context, req *types.CompletionRequest) (Stream, error)
	Close() error
}

// UpstreamModel strips a "provider/" prefix from a registry model id so
// the upstream sees the bare model name it expects. Ids without the
// prefix pass through unchanged.
func UpstreamModel(provider, modelID string) string {
	if rest, ok := strings.CutPrefix(modelID, provider+"/"); ok {
		return rest
	}
	return modelID
}
