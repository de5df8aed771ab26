package anthropic

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/goccy/go-json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	gwerrors "github.com/modelgate/modelgate/pkg/errors"
	"github.com/modelgate/modelgate/internal/provider"
	"github.com/modelgate/modelgate/pkg/types"
)

func newTestAdapter(t *testing.T, baseURL string) *Adapter {
	t.Helper()
	a, err := New(provider.Config{
		Name:    "anthropic",
		BaseURL: baseURL,
		APIKey:  "sk-ant-test",
		Timeout: 5 * time.Second,
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = a.Close() })
	return a.(*Adapter)
}

func TestPrepareRequestLiftsSystemPrompt(t *testing.T) {
	req := &types.CompletionRequest{
		Model: "claude-3-5-sonnet",
		Messages: []types.ChatMessage{
			types.NewTextMessage("system", "Be terse."),
			types.NewTextMessage("user", "hi"),
			types.NewTextMessage("assistant", "hello"),
			types.NewTextMessage("system", "Answer in French."),
		},
		MaxTokens: 100,
	}

	a := newTestAdapter(t, "")
	body, err := a.PrepareRequest(req, false)
	require.NoError(t, err)

	var wire map[string]any
	require.NoError(t, json.Unmarshal(body, &wire))

	assert.Equal(t, "Be terse.\n\nAnswer in French.", wire["system"])
	messages := wire["messages"].([]any)
	require.Len(t, messages, 2, "system messages removed from the sequence")
	assert.Equal(t, float64(100), wire["max_tokens"])
}

func TestPrepareRequestDefaultsMaxTokens(t *testing.T) {
	a := newTestAdapter(t, "")
	body, err := a.PrepareRequest(&types.CompletionRequest{
		Model:    "claude-3-5-sonnet",
		Messages: []types.ChatMessage{types.NewTextMessage("user", "hi")},
	}, false)
	require.NoError(t, err)

	var wire map[string]any
	require.NoError(t, json.Unmarshal(body, &wire))
	assert.Equal(t, float64(defaultMaxTokens), wire["max_tokens"])
}

func TestPrepareRequestConvertsTools(t *testing.T) {
	req := &types.CompletionRequest{
		Model:    "claude-3-5-sonnet",
		Messages: []types.ChatMessage{types.NewTextMessage("user", "weather?")},
		Tools: []types.Tool{{
			Type: "function",
			Function: types.ToolFunction{
				Name:        "get_weather",
				Description: "Look up the weather",
				Parameters:  json.RawMessage(`{"type":"object"}`),
			},
		}},
		ToolChoice: json.RawMessage(`"auto"`),
	}

	a := newTestAdapter(t, "")
	body, err := a.PrepareRequest(req, false)
	require.NoError(t, err)

	var wire struct {
		Tools []struct {
			Name        string          `json:"name"`
			InputSchema json.RawMessage `json:"input_schema"`
		} `json:"tools"`
		ToolChoice map[string]string `json:"tool_choice"`
	}
	require.NoError(t, json.Unmarshal(body, &wire))
	require.Len(t, wire.Tools, 1)
	assert.Equal(t, "get_weather", wire.Tools[0].Name)
	assert.JSONEq(t, `{"type":"object"}`, string(wire.Tools[0].InputSchema))
	assert.Equal(t, map[string]string{"type": "auto"}, wire.ToolChoice)
}

func TestParseResponseNormalizesContentBlocks(t *testing.T) {
	body := []byte(`{
		"id": "msg_1",
		"model": "claude-3-5-sonnet",
		"content": [
			{"type": "text", "text": "Using the tool. "},
			{"type": "tool_use", "id": "toolu_1", "name": "get_weather", "input": {"city": "Paris"}}
		],
		"stop_reason": "tool_use",
		"usage": {"input_tokens": 20, "output_tokens": 12}
	}`)

	a := newTestAdapter(t, "")
	resp, err := a.ParseResponse(body)
	require.NoError(t, err)

	assert.Equal(t, "Using the tool. ", resp.Content)
	assert.Equal(t, "tool_calls", resp.FinishReason)
	require.Len(t, resp.ToolCalls, 1)
	assert.Equal(t, "get_weather", resp.ToolCalls[0].Function.Name)
	assert.JSONEq(t, `{"city":"Paris"}`, resp.ToolCalls[0].Function.Arguments)
	assert.Equal(t, 20, resp.Usage.PromptTokens)
	assert.Equal(t, 12, resp.Usage.CompletionTokens)
	assert.Equal(t, 32, resp.Usage.TotalTokens)
}

func TestParseStreamChunkEvents(t *testing.T) {
	a := newTestAdapter(t, "")

	delta, err := a.ParseStreamChunk([]byte(`{"type":"content_block_delta","delta":{"type":"text_delta","text":"Bonjour"}}`))
	require.NoError(t, err)
	require.NotNil(t, delta)
	assert.Equal(t, "Bonjour", delta.Content)

	delta, err = a.ParseStreamChunk([]byte(`{"type":"message_delta","delta":{"stop_reason":"end_turn"},"usage":{"output_tokens":9}}`))
	require.NoError(t, err)
	require.NotNil(t, delta)
	assert.Equal(t, "stop", delta.FinishReason)
	assert.Equal(t, 9, delta.Usage.CompletionTokens)

	for _, skipped := range []string{
		`{"type":"ping"}`,
		`{"type":"content_block_start","content_block":{"type":"text"}}`,
		`{"type":"message_stop"}`,
	} {
		delta, err = a.ParseStreamChunk([]byte(skipped))
		require.NoError(t, err)
		assert.Nil(t, delta, skipped)
	}
}

func TestCompleteSendsAnthropicHeaders(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/messages", r.URL.Path)
		assert.Equal(t, "sk-ant-test", r.Header.Get("x-api-key"))
		assert.Equal(t, apiVersion, r.Header.Get("anthropic-version"))
		assert.Empty(t, r.Header.Get("Authorization"))
		_, _ = w.Write([]byte(`{"id":"msg_1","model":"claude-3-5-sonnet","content":[{"type":"text","text":"hi"}],"stop_reason":"end_turn","usage":{"input_tokens":1,"output_tokens":1}}`))
	}))
	defer server.Close()

	a := newTestAdapter(t, server.URL)
	resp, err := a.Complete(context.Background(), &types.CompletionRequest{
		Model:    "claude-3-5-sonnet",
		Messages: []types.ChatMessage{types.NewTextMessage("user", "hi")},
	})
	require.NoError(t, err)
	assert.Equal(t, "hi", resp.Content)
	assert.Equal(t, "stop", resp.FinishReason)
}

func TestStreamCompleteParsesEventStream(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		frames := []string{
			`{"type":"message_start","message":{"usage":{"input_tokens":7}}}`,
			`{"type":"content_block_delta","delta":{"type":"text_delta","text":"Hel"}}`,
			`{"type":"content_block_delta","delta":{"type":"text_delta","text":"lo"}}`,
			`{"type":"message_delta","delta":{"stop_reason":"end_turn"},"usage":{"output_tokens":2}}`,
			`{"type":"message_stop"}`,
		}
		for _, frame := range frames {
			_, _ = io.WriteString(w, "event: whatever\ndata: "+frame+"\n\n")
		}
	}))
	defer server.Close()

	a := newTestAdapter(t, server.URL)
	stream, err := a.StreamComplete(context.Background(), &types.CompletionRequest{
		Model:    "claude-3-5-sonnet",
		Messages: []types.ChatMessage{types.NewTextMessage("user", "hi")},
	})
	require.NoError(t, err)
	defer func() { _ = stream.Close() }()

	var content, finish string
	for {
		delta, err := stream.Recv()
		if err == io.EOF {
			break
		}
		require.NoError(t, err)
		content += delta.Content
		if delta.FinishReason != "" {
			finish = delta.FinishReason
		}
	}
	assert.Equal(t, "Hello", content)
	assert.Equal(t, "stop", finish)
}

func TestStreamCompleteMapsPreStreamError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		_, _ = w.Write([]byte(`{"error":{"message":"model not found"}}`))
	}))
	defer server.Close()

	a := newTestAdapter(t, server.URL)
	_, err := a.StreamComplete(context.Background(), &types.CompletionRequest{
		Model:    "claude-nonexistent",
		Messages: []types.ChatMessage{types.NewTextMessage("user", "hi")},
	})

	var gwErr *gwerrors.GatewayError
	require.ErrorAs(t, err, &gwErr)
	assert.Equal(t, gwerrors.TagNotFound, gwErr.Tag)
	assert.Contains(t, gwErr.Message, "model not found")
}
