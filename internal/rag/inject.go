package rag

import (
	"fmt"
	"strings"

	"github.com/modelgate/modelgate/pkg/types"
)

// Injection strategies.
const (
	StrategySystem = "system"
	StrategyUser   = "user"
)

const contextPreamble = "You have access to the following relevant information " +
	"from the knowledge base. Use this context to provide accurate and grounded " +
	"responses:\n\n"

const questionSeparator = "\n\n---\n\nUser question: "

// contextBlock renders the ranked chunks as numbered source sections.
// The section title falls back to the document id when no title is set.
func contextBlock(ranked []RankedChunk) string {
	parts := make([]string, 0, len(ranked))
	for i, c := range ranked {
		title := c.DocTitle
		if title == "" {
			title = c.DocID
		}
		parts = append(parts, fmt.Sprintf("[Source %d: %s]\n%s\n", i+1, title, c.Content))
	}
	return contextPreamble + strings.Join(parts, "\n")
}

// Inject places the ranked chunks into the conversation and returns a
// new message slice; the caller's slice and its messages are never
// mutated. An unknown strategy behaves as StrategySystem. With no
// chunks the input is returned unchanged.
func Inject(messages []types.ChatMessage, ranked []RankedChunk, strategy string) []types.ChatMessage {
	if len(ranked) == 0 {
		return messages
	}
	block := contextBlock(ranked)

	if strategy == StrategyUser {
		if idx := firstUserIndex(messages); idx >= 0 {
			out := make([]types.ChatMessage, len(messages))
			copy(out, messages)
			out[idx] = types.NewTextMessage("user",
				block+questionSeparator+messages[idx].FlattenText())
			return out
		}
	}

	out := make([]types.ChatMessage, 0, len(messages)+1)
	out = append(out, types.NewTextMessage("system", block))
	out = append(out, messages...)
	return out
}

func firstUserIndex(messages []types.ChatMessage) int {
	for i, m := range messages {
		if m.Role == "user" {
			return i
		}
	}
	return -1
}
