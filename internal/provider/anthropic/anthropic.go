// Package anthropic implements the Anthropic messages adapter. The
// upstream differs from the OpenAI wire shape throughout: the system
// prompt is a top-level field, auth rides x-api-key with a pinned
// anthropic-version, tools use input_schema, and streaming frames are
// typed events rather than chat-completion chunks.
package anthropic

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
const ProviderName = "anthropic"

// DefaultBaseURL is the Anthropic API endpoint used when the registry
// leaves base_url empty.
const DefaultBaseURL = "https://api.anthropic.com"

// apiVersion is the pinned anthropic-version header value.
const apiVersion = "2023-06-01"

// defaultMaxTokens fills the required max_tokens field when the caller
// does not set one.
const defaultMaxTokens = 4096

func init() {
	provider.Register(ProviderName, New)
}

// Adapter talks to the Anthropic messages API.
type Adapter struct {
	name    string
	apiKey  string
	baseURL string
	client  *http.Client
}

// New creates an Anthropic adapter from resolved connection settings.
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

type wireMessage struct {
	Role    string          `json:"role"`
	Content json.RawMessage `json:"content"`
}

type wireTool struct {
	Name        string          `json:"name"`
	Description string          `json:"description,omitempty"`
	InputSchema json.RawMessage `json:"input_schema,omitempty"`
}

type wireRequest struct {
	Model       string        `json:"model"`
	MaxTokens   int           `json:"max_tokens"`
	Messages    []wireMessage `json:"messages"`
	System      string        `json:"system,omitempty"`
	Temperature *float64      `json:"temperature,omitempty"`
	TopP        *float64      `json:"top_p,omitempty"`
	Tools       []wireTool    `json:"tools,omitempty"`
	ToolChoice  any           `json:"tool_choice,omitempty"`
	Stream      bool          `json:"stream,omitempty"`
}

// PrepareRequest serializes the upstream request body. System messages
// are lifted into the top-level system field; tool results become
// tool_result content blocks; assistant tool calls become tool_use
// blocks.
func (a *Adapter) PrepareRequest(req *types.CompletionRequest, stream bool) ([]byte, error) {
	maxTokens := req.MaxTokens
	if maxTokens <= 0 {
		maxTokens = defaultMaxTokens
	}

	wire := wireRequest{
		Model:       provider.UpstreamModel(a.name, req.Model),
		MaxTokens:   maxTokens,
		Temperature: req.Temperature,
		TopP:        req.TopP,
		Stream:      stream,
	}

	var systemParts []string
	for _, msg := range req.Messages {
		switch msg.Role {
		case "system":
			systemParts = append(systemParts, msg.FlattenText())
		case "tool":
			block, err := json.Marshal([]map[string]any{{
				"type":        "tool_result",
				"tool_use_id": msg.ToolCallID,
				"content":     msg.FlattenText(),
			}})
			if err != nil {
				return nil, fmt.Errorf("marshal tool result: %w", err)
			}
			wire.Messages = append(wire.Messages, wireMessage{Role: "user", Content: block})
		case "assistant":
			converted, err := convertAssistant(msg)
			if err != nil {
				return nil, err
			}
			wire.Messages = append(wire.Messages, converted)
		default:
			content, err := json.Marshal(msg.FlattenText())
			if err != nil {
				return nil, fmt.Errorf("marshal content: %w", err)
			}
			wire.Messages = append(wire.Messages, wireMessage{Role: "user", Content: content})
		}
	}
	wire.System = strings.Join(systemParts, "\n\n")

	for _, tool := range req.Tools {
		wire.Tools = append(wire.Tools, wireTool{
			Name:        tool.Function.Name,
			Description: tool.Function.Description,
			InputSchema: tool.Function.Parameters,
		})
	}
	wire.ToolChoice = convertToolChoice(req.ToolChoice)

	body, err := json.Marshal(wire)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}
	return body, nil
}

func convertAssistant(msg types.ChatMessage) (wireMessage, error) {
	if len(msg.ToolCalls) == 0 {
		content, err := json.Marshal(msg.FlattenText())
		if err != nil {
			return wireMessage{}, fmt.Errorf("marshal content: %w", err)
		}
		return wireMessage{Role: "assistant", Content: content}, nil
	}

	blocks := make([]map[string]any, 0, len(msg.ToolCalls)+1)
	if text := msg.FlattenText(); text != "" {
		blocks = append(blocks, map[string]any{"type": "text", "text": text})
	}
	for _, call := range msg.ToolCalls {
		input := json.RawMessage(call.Function.Arguments)
		if len(input) == 0 {
			input = json.RawMessage("{}")
		}
		blocks = append(blocks, map[string]any{
			"type":  "tool_use",
			"id":    call.ID,
			"name":  call.Function.Name,
			"input": input,
		})
	}
	content, err := json.Marshal(blocks)
	if err != nil {
		return wireMessage{}, fmt.Errorf("marshal tool_use blocks: %w", err)
	}
	return wireMessage{Role: "assistant", Content: content}, nil
}

// convertToolChoice maps the OpenAI tool_choice shapes onto Anthropic's.
// Unrecognized shapes are dropped rather than forwarded.
func convertToolChoice(raw json.RawMessage) any {
	if len(raw) == 0 {
		return nil
	}

	var mode string
	if err := json.Unmarshal(raw, &mode); err == nil {
		switch mode {
		case "auto":
			return map[string]string{"type": "auto"}
		case "required":
			return map[string]string{"type": "any"}
		case "none":
			return nil
		}
		return nil
	}

	var named struct {
		Function struct {
			Name string `json:"name"`
		} `json:"function"`
	}
	if err := json.Unmarshal(raw, &named); err == nil && named.Function.Name != "" {
		return map[string]string{"type": "tool", "name": named.Function.Name}
	}
	return nil
}

type wireContentBlock struct {
	Type  string          `json:"type"`
	Text  string          `json:"text"`
	ID    string          `json:"id"`
	Name  string          `json:"name"`
	Input json.RawMessage `json:"input"`
}

type wireUsage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
}

type wireResponse struct {
	ID         string             `json:"id"`
	Model      string             `json:"model"`
	Content    []wireContentBlock `json:"content"`
	StopReason string             `json:"stop_reason"`
	Usage      wireUsage          `json:"usage"`
}

// ParseResponse normalizes a successful upstream body.
func (a *Adapter) ParseResponse(body []byte) (*types.CompletionResponse, error) {
	var wire wireResponse
	if err := json.Unmarshal(body, &wire); err != nil {
		return nil, fmt.Errorf("unmarshal response: %w", err)
	}

	resp := &types.CompletionResponse{
		ID:           wire.ID,
		Object:       "chat.completion",
		Created:      time.Now().Unix(),
		Model:        wire.Model,
		Provider:     a.name,
		FinishReason: mapStopReason(wire.StopReason),
		Usage: &types.Usage{
			PromptTokens:     wire.Usage.InputTokens,
			CompletionTokens: wire.Usage.OutputTokens,
			TotalTokens:      wire.Usage.InputTokens + wire.Usage.OutputTokens,
		},
		Raw: body,
	}

	var text strings.Builder
	for _, block := range wire.Content {
		switch block.Type {
		case "text":
			text.WriteString(block.Text)
		case "tool_use":
			args := string(block.Input)
			if args == "" {
				args = "{}"
			}
			resp.ToolCalls = append(resp.ToolCalls, types.ToolCall{
				ID:   block.ID,
				Type: "function",
				Function: types.ToolCallFunction{
					Name:      block.Name,
					Arguments: args,
				},
			})
		}
	}
	resp.Content = text.String()

	return resp, nil
}

func mapStopReason(reason string) string {
	switch reason {
	case "end_turn", "stop_sequence":
		return "stop"
	case "max_tokens":
		return "length"
	case "tool_use":
		return "tool_calls"
	default:
		return reason
	}
}

type wireEvent struct {
	Type  string `json:"type"`
	Delta struct {
		Type       string `json:"type"`
		Text       string `json:"text"`
		StopReason string `json:"stop_reason"`
	} `json:"delta"`
	Message struct {
		Usage wireUsage `json:"usage"`
	} `json:"message"`
	Usage wireUsage `json:"usage"`
}

// ParseStreamChunk parses one typed streaming event. Only events that
// carry text, a stop reason, or usage produce a delta; the rest of the
// event vocabulary (pings, block boundaries) is skipped.
func (a *Adapter) ParseStreamChunk(line []byte) (*provider.StreamDelta, error) {
	var event wireEvent
	if err := json.Unmarshal(line, &event); err != nil {
		return nil, fmt.Errorf("unmarshal event: %w", err)
	}

	switch event.Type {
	case "message_start":
		if event.Message.Usage.InputTokens == 0 {
			return nil, nil
		}
		return &provider.StreamDelta{
			Usage: &types.Usage{PromptTokens: event.Message.Usage.InputTokens},
		}, nil

	case "content_block_delta":
		if event.Delta.Type != "text_delta" || event.Delta.Text == "" {
			return nil, nil
		}
		return &provider.StreamDelta{Content: event.Delta.Text}, nil

	case "message_delta":
		delta := &provider.StreamDelta{}
		if event.Delta.StopReason != "" {
			delta.FinishReason = mapStopReason(event.Delta.StopReason)
		}
		if event.Usage.OutputTokens > 0 {
			delta.Usage = &types.Usage{CompletionTokens: event.Usage.OutputTokens}
		}
		if delta.FinishReason == "" && delta.Usage == nil {
			return nil, nil
		}
		return delta, nil

	default:
		return nil, nil
	}
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

// StreamComplete opens a streaming completion, validating the response
// status before returning the stream.
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
		a.baseURL+"/v1/messages", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("x-api-key", a.apiKey)
	httpReq.Header.Set("anthropic-version", apiVersion)
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
