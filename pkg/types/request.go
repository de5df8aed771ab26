// Package types defines the data structures shared across the gateway:
// completion requests and responses, chat messages, RAG chunks, and
// fallback attempt records. Message content follows OpenAI's convention
// of either a plain string or an array of typed parts.
package types //nolint:revive // package name is intentional

import (
	"bytes"
	"fmt"
	"strings"

	"github.com/goccy/go-json"
)

// CompletionRequest is the gateway's inbound completion request. The model
// field is optional; when empty the router selects one. RAG fields carry
// pre-retrieved candidate chunks for reranking and injection.
type CompletionRequest struct {
	Messages         []ChatMessage   `json:"messages"`
	Model            string          `json:"model,omitempty"`
	Temperature      *float64        `json:"temperature,omitempty"`
	MaxTokens        int             `json:"max_tokens,omitempty"`
	TopP             *float64        `json:"top_p,omitempty"`
	FrequencyPenalty *float64        `json:"frequency_penalty,omitempty"`
	PresencePenalty  *float64        `json:"presence_penalty,omitempty"`
	Tools            []Tool          `json:"tools,omitempty"`
	ToolChoice       json.RawMessage `json:"tool_choice,omitempty"`
	ResponseFormat   *ResponseFormat `json:"response_format,omitempty"`
	Stream           bool            `json:"stream,omitempty"`
	User             string          `json:"user_id,omitempty"`
	ChatID           string          `json:"chat_id,omitempty"`

	RAGEnabled        bool       `json:"rag_enabled,omitempty"`
	RAGChunks         []RAGChunk `json:"rag_chunks,omitempty"`
	KnowledgeBaseID   string     `json:"knowledge_base_id,omitempty"`
	RAGTopK           int        `json:"rag_top_k,omitempty"`
	InjectionStrategy string     `json:"rag_injection_strategy,omitempty"`

	// Metadata is opaque caller-supplied context persisted with the
	// request log.
	Metadata map[string]json.RawMessage `json:"metadata,omitempty"`
}

// Validate checks the completion request.
func (r *CompletionRequest) Validate() error {
	if len(r.Messages) == 0 {
		return fmt.Errorf("messages is required")
	}
	for i := range r.Messages {
		if r.Messages[i].Role == "" {
			return fmt.Errorf("message %d: role is required", i)
		}
	}
	if r.RAGEnabled {
		for i := range r.RAGChunks {
			if r.RAGChunks[i].ChunkID == "" {
				return fmt.Errorf("rag_chunks[%d]: chunk_id is required", i)
			}
		}
	}
	return nil
}

// Clone returns a copy with its own message slice so callers can rewrite
// messages (model substitution, context injection) without mutating the
// original request.
func (r *CompletionRequest) Clone() *CompletionRequest {
	if r == nil {
		return nil
	}
	dup := *r
	dup.Messages = make([]ChatMessage, len(r.Messages))
	copy(dup.Messages, r.Messages)
	return &dup
}

// ChatMessage represents a single message in the conversation. Content is
// kept raw: it may be a JSON string or an array of typed parts.
type ChatMessage struct {
	Role       string          `json:"role"`
	Content    json.RawMessage `json:"content"`
	Name       string          `json:"name,omitempty"`
	ToolCalls  []ToolCall      `json:"tool_calls,omitempty"`
	ToolCallID string          `json:"tool_call_id,omitempty"`
}

// NewTextMessage builds a message with plain string content.
func NewTextMessage(role, text string) ChatMessage {
	content, _ := json.Marshal(text)
	return ChatMessage{Role: role, Content: content}
}

// Text returns the content when it is a plain JSON string.
func (m ChatMessage) Text() (string, bool) {
	if len(m.Content) == 0 || bytes.Equal(m.Content, []byte("null")) {
		return "", false
	}
	var s string
	if err := json.Unmarshal(m.Content, &s); err != nil {
		return "", false
	}
	return s, true
}

// HasArrayContent reports whether the content is an array of parts, the
// shape multimodal clients use for attachments.
func (m ChatMessage) HasArrayContent() bool {
	trimmed := bytes.TrimLeft(m.Content, " \t\r\n")
	return len(trimmed) > 0 && trimmed[0] == '['
}

type contentPart struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

// FlattenText extracts the textual content regardless of shape: plain
// strings are returned as-is, part arrays are concatenated over their text
// parts, anything else falls back to the raw JSON.
func (m ChatMessage) FlattenText() string {
	if len(m.Content) == 0 || bytes.Equal(m.Content, []byte("null")) {
		return ""
	}

	var text string
	if err := json.Unmarshal(m.Content, &text); err == nil {
		return text
	}

	var parts []contentPart
	if err := json.Unmarshal(m.Content, &parts); err == nil {
		var b strings.Builder
		for _, part := range parts {
			if part.Type == "" || part.Type == "text" {
				b.WriteString(part.Text)
			}
		}
		return b.String()
	}

	return string(m.Content)
}

// Tool represents a function that the model can call.
type Tool struct {
	Type     string       `json:"type"`
	Function ToolFunction `json:"function"`
}

// ToolFunction describes a callable function.
type ToolFunction struct {
	Name        string          `json:"name"`
	Description string          `json:"description,omitempty"`
	Parameters  json.RawMessage `json:"parameters,omitempty"`
}

// ToolCall represents a function call made by the model.
type ToolCall struct {
	ID       string           `json:"id"`
	Type     string           `json:"type"`
	Function ToolCallFunction `json:"function"`
}

// ToolCallFunction contains the function name and arguments.
type ToolCallFunction struct {
	Name      string `json:"name"`
	Arguments string `json:"arguments"`
}

// ResponseFormat specifies the output format for the model. The schema is
// passed through unchanged when type is json_schema.
type ResponseFormat struct {
	Type       string          `json:"type"`
	JSONSchema json.RawMessage `json:"json_schema,omitempty"`
}
