// Package openai implements the OpenAI chat-completions adapter. It is
// the reference implementation the other adapters follow.
package openai

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/goccy/go-json"

	"github.com/modelgate/modelgate/internal/httputil"
	"github.com/modelgate/modelgate/internal/provider"
	"github.com/modelgate/modelgate/pkg/types"
)

// ProviderName is the registry name this adapter serves.
const ProviderName = "openai"

// DefaultBaseURL is the OpenAI API endpoint used when the registry
// leaves base_url empty.
const DefaultBaseURL = "https://api.openai.com/v1"

func init() {
	provider.Register(ProviderName, New)
}

// Adapter talks to the OpenAI chat completions API.
type Adapter struct {
	name    string
	apiKey  string
	baseURL string
	client  *http.Client
}

// New creates an OpenAI adapter from resolved connection settings.
func New(cfg provider.Config) (provider.Adapter, error) {
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	name := cfg.Name
	if name == "" {
		name = ProviderName
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	return &Adapter{
		name:    name,
		apiKey:  cfg.APIKey,
		baseURL: strings.TrimSuffix(baseURL, "/"),
		client:  &http.Client{Timeout: timeout},
	}, nil
}

// Name returns the provider name this adapter was built for.
func (a *Adapter) Name() string { return a.name }

// wireRequest is the subset of the chat completions request the
// upstream accepts. Gateway-internal fields (caller id, chat id, RAG
// inputs, metadata) never appear here.
type wireRequest struct {
	Model            string                `json:"model"`
	Messages         []types.ChatMessage   `json:"messages"`
	Temperature      *float64              `json:"temperature,omitempty"`
	MaxTokens        int                   `json:"max_tokens,omitempty"`
	TopP             *float64              `json:"top_p,omitempty"`
	FrequencyPenalty *float64              `json:"frequency_penalty,omitempty"`
	PresencePenalty  *float64              `json:"presence_penalty,omitempty"`
	Tools            []types.Tool          `json:"tools,omitempty"`
	ToolChoice       json.RawMessage       `json:"tool_choice,omitempty"`
	ResponseFormat   *types.ResponseFormat `json:"response_format,omitempty"`
	Stream           bool                  `json:"stream,omitempty"`
	StreamOptions    *streamOptions        `json:"stream_options,omitempty"`
}

type streamOptions struct {
	IncludeUsage bool `json:"include_usage"`
}

// PrepareRequest serializes the upstream request body. The stream flag
// always reflects the call site; streaming requests ask for a final
// usage frame.
func (a *Adapter) PrepareRequest(req *types.CompletionRequest, stream bool) ([]byte, error) {
	wire := wireRequest{
		Model:            provider.UpstreamModel(a.name, req.Model),
		Messages:         req.Messages,
		Temperature:      req.Temperature,
		MaxTokens:        req.MaxTokens,
		TopP:             req.TopP,
		FrequencyPenalty: req.FrequencyPenalty,
		PresencePenalty:  req.PresencePenalty,
		Tools:            req.Tools,
		ToolChoice:       req.ToolChoice,
		ResponseFormat:   req.ResponseFormat,
		Stream:           stream,
	}
	if stream {
		wire.StreamOptions = &streamOptions{IncludeUsage: true}
	}
	body, err := json.Marshal(wire)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}
	return body, nil
}

type wireResponse struct {
	ID      string `json:"id"`
	Object  string `json:"object"`
	Created int64  `json:"created"`
	Model   string `json:"model"`
	Choices []struct {
		Message struct {
			Content   string           `json:"content"`
			ToolCalls []types.ToolCall `json:"tool_calls"`
		} `json:"message"`
		FinishReason string `json:"finish_reason"`
	} `json:"choices"`
	Usage *types.Usage `json:"usage"`
}

// ParseResponse normalizes a successful upstream body.
func (a *Adapter) ParseResponse(body []byte) (*types.CompletionResponse, error) {
	var wire wireResponse
	if err := json.Unmarshal(body, &wire); err != nil {
		return nil, fmt.Errorf("unmarshal response: %w", err)
	}

	resp := &types.CompletionResponse{
		ID:       wire.ID,
		Object:   wire.Object,
		Created:  wire.Created,
		Model:    wire.Model,
		Provider: a.name,
		Usage:    wire.Usage,
		Raw:      body,
	}
	if len(wire.Choices) > 0 {
		choice := wire.Choices[0]
		resp.Content = choice.Message.Content
		resp.ToolCalls = choice.Message.ToolCalls
		resp.FinishReason = choice.FinishReason
	}
	return resp, nil
}

type wireChunk struct {
	Choices []struct {
		Delta struct {
			Content   string           `json:"content"`
			ToolCalls []types.ToolCall `json:"tool_calls"`
		} `json:"delta"`
		FinishReason string `json:"finish_reason"`
	} `json:"choices"`
	Usage *types.Usage `json:"usage"`
}

// ParseStreamChunk parses one SSE frame payload. Frames with neither
// content nor usage return (nil, nil) and are skipped by the stream.
func (a *Adapter) ParseStreamChunk(line []byte) (*provider.StreamDelta, error) {
	var chunk wireChunk
	if err := json.Unmarshal(line, &chunk); err != nil {
		return nil, fmt.Errorf("unmarshal chunk: %w", err)
	}

	delta := &provider.StreamDelta{Usage: chunk.Usage}
	if len(chunk.Choices) > 0 {
		choice := chunk.Choices[0]
		delta.Content = choice.Delta.Content
		delta.ToolCalls = choice.Delta.ToolCalls
		delta.FinishReason = choice.FinishReason
	}
	if delta.Content == "" && len(delta.ToolCalls) == 0 &&
		delta.FinishReason == "" && delta.Usage == nil {
		return nil, nil
	}
	return delta, nil
}

// Complete performs a unary completion call.
func (a *Adapter) Complete(ctx context.Context, req *types.CompletionRequest) (*types.CompletionResponse, error) {
	resp, err := a.do(ctx, req, false)
	if err != nil {
		return nil, err
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := httputil.ReadLimitedBody(resp.Body, httputil.DefaultMaxBodyBytes)
	if err != nil {
		return nil, provider.MapTransportError(err, a.name, req.Model)
	}
	if !provider.IsSuccess(resp.StatusCode) {
		return nil, provider.MapError(resp.StatusCode, body, a.name, req.Model)
	}
	return a.ParseResponse(body)
}

// StreamComplete opens a streaming completion. The response status is
// validated before any delta is surfaced, so auth and routing failures
// come back as typed errors the executor can retry on the next model.
func (a *Adapter) StreamComplete(ctx context.Context, req *types.CompletionRequest) (provider.Stream, error) {
	resp, err := a.do(ctx, req, true)
	if err != nil {
		return nil, err
	}
	if !provider.IsSuccess(resp.StatusCode) {
		body, _ := httputil.ReadLimitedBody(resp.Body, httputil.DefaultMaxBodyBytes)
		_ = resp.Body.Close()
		return nil, provider.MapError(resp.StatusCode, body, a.name, req.Model)
	}
	return provider.NewSSEStream(resp.Body, a.ParseStreamChunk), nil
}

func (a *Adapter) do(ctx context.Context, req *types.CompletionRequest, stream bool) (*http.Response, error) {
	body, err := a.PrepareRequest(req, stream)
	if err != nil {
		return nil, err
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost,
		a.baseURL+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+a.apiKey)
	if stream {
		httpReq.Header.Set("Accept", "text/event-stream")
	}

	resp, err := a.client.Do(httpReq)
	if err != nil {
		return nil, provider.MapTransportError(err, a.name, req.Model)
	}
	return resp, nil
}

// Close releases the adapter's idle connections.
func (a *Adapter) Close() error {
	a.client.CloseIdleConnections()
	return nil
}
