package provider

import (
	"io"
	"strings"
	"testing"

	"github.com/goccy/go-json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func parseTestChunk(line []byte) (*StreamDelta, error) {
	var payload struct {
		Content string `json:"content"`
	}
	if err := json.Unmarshal(line, &payload); err != nil {
		return nil, err
	}
	if payload.Content == "" {
		return nil, nil
	}
	return &StreamDelta{Content: payload.Content}, nil
}

func collect(t *testing.T, s Stream) []string {
	t.Helper()
	var out []string
	for {
		delta, err := s.Recv()
		if err == io.EOF {
			return out
		}
		require.NoError(t, err)
		out = append(out, delta.Content)
	}
}

func TestSSEStreamReadsFramesUntilDone(t *testing.T) {
	body := io.NopCloser(strings.NewReader(
		"data: {\"content\":\"Hello\"}\n" +
			"\n" +
			"data: {\"content\":\" world\"}\n" +
			"data: [DONE]\n" +
			"data: {\"content\":\"after done\"}\n",
	))
	stream := NewSSEStream(body, parseTestChunk)
	defer func() { _ = stream.Close() }()

	assert.Equal(t, []string{"Hello", " world"}, collect(t, stream))

	// Recv after EOF stays EOF.
	_, err := stream.Recv()
	assert.Equal(t, io.EOF, err)
}

func TestSSEStreamSkipsMalformedAndNonDataFrames(t *testing.T) {
	body := io.NopCloser(strings.NewReader(
		": keep-alive comment\n" +
			"event: content_block_delta\n" +
			"data: {not json\n" +
			"data: {\"content\":\"ok\"}\n" +
			"data: {\"other\":\"field\"}\n" +
			"data: [DONE]\n",
	))
	stream := NewSSEStream(body, parseTestChunk)
	defer func() { _ = stream.Close() }()

	assert.Equal(t, []string{"ok"}, collect(t, stream))
}

func TestSSEStreamEOFWithoutSentinel(t *testing.T) {
	body := io.NopCloser(strings.NewReader("data: {\"content\":\"partial\"}\n"))
	stream := NewSSEStream(body, parseTestChunk)
	defer func() { _ = stream.Close() }()

	assert.Equal(t, []string{"partial"}, collect(t, stream))
}

func TestSSEStreamCloseIsIdempotent(t *testing.T) {
	body := io.NopCloser(strings.NewReader("data: [DONE]\n"))
	stream := NewSSEStream(body, parseTestChunk)

	require.NoError(t, stream.Close())
	require.NoError(t, stream.Close())
}
