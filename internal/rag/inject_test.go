package rag

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/modelgate/modelgate/pkg/types"
)

func rankedFixture() []RankedChunk {
	return []RankedChunk{
		{RAGChunk: types.RAGChunk{ChunkID: "c1", DocTitle: "Runbook", Content: "restart the ingest worker"}},
		{RAGChunk: types.RAGChunk{ChunkID: "c2", DocID: "doc-2", Content: "check the dead letter queue"}},
	}
}

func TestInjectSystemStrategy(t *testing.T) {
	messages := []types.ChatMessage{
		types.NewTextMessage("user", "how do I recover the pipeline?"),
	}

	out := Inject(messages, rankedFixture(), StrategySystem)

	require.Len(t, out, 2)
	assert.Equal(t, "system", out[0].Role)
	text, ok := out[0].Text()
	require.True(t, ok)
	assert.Contains(t, text, "[Source 1: Runbook]")
	assert.Contains(t, text, "restart the ingest worker")
	assert.Contains(t, text, "[Source 2: doc-2]", "missing title falls back to doc id")
	assert.Equal(t, messages[0], out[1], "original messages follow untouched")
}

func TestInjectUserStrategy(t *testing.T) {
	messages := []types.ChatMessage{
		types.NewTextMessage("system", "be helpful"),
		types.NewTextMessage("user", "first question"),
		types.NewTextMessage("assistant", "answer"),
		types.NewTextMessage("user", "how do I recover the pipeline?"),
	}

	out := Inject(messages, rankedFixture(), StrategyUser)

	require.Len(t, out, 4)
	text, ok := out[1].Text()
	require.True(t, ok)
	assert.Contains(t, text, "[Source 1: Runbook]")
	assert.Contains(t, text, "\n\n---\n\nUser question: first question")
	last, _ := out[3].Text()
	assert.Equal(t, "how do I recover the pipeline?", last, "later user messages untouched")
}

func TestInjectUserStrategyWithoutUserMessage(t *testing.T) {
	messages := []types.ChatMessage{
		types.NewTextMessage("assistant", "hello"),
	}

	out := Inject(messages, rankedFixture(), StrategyUser)

	// No user message to prefix: falls back to a prepended system turn.
	require.Len(t, out, 2)
	assert.Equal(t, "system", out[0].Role)
}

func TestInjectDoesNotMutateCaller(t *testing.T) {
	messages := []types.ChatMessage{
		types.NewTextMessage("user", "original text"),
	}

	_ = Inject(messages, rankedFixture(), StrategyUser)
	text, _ := messages[0].Text()
	assert.Equal(t, "original text", text)

	_ = Inject(messages, rankedFixture(), StrategySystem)
	require.Len(t, messages, 1)
	assert.Equal(t, "user", messages[0].Role)
}

func TestInjectNoChunks(t *testing.T) {
	messages := []types.ChatMessage{types.NewTextMessage("user", "hi")}
	out := Inject(messages, nil, StrategySystem)
	assert.Equal(t, messages, out)
}

func TestInjectUnknownStrategy(t *testing.T) {
	messages := []types.ChatMessage{types.NewTextMessage("user", "hi")}
	out := Inject(messages, rankedFixture(), "sidecar")
	require.Len(t, out, 2)
	assert.Equal(t, "system", out[0].Role)
}
