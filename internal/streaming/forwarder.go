// Package streaming writes completion deltas to HTTP clients as
// Server-Sent Events. The forwarder pumps a provider stream into
// "data: " framed JSON chunks with a terminal "data: [DONE]" sentinel,
// flushing after every frame and stopping promptly when the client
// disconnects.
package streaming

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/goccy/go-json"

	"github.com/modelgate/modelgate/internal/provider"
	"github.com/modelgate/modelgate/pkg/types"
)

const (
	// SSEDataPrefix is the prefix for SSE data lines.
	SSEDataPrefix = "data: "

	// SSEDone is the terminal sentinel.
	SSEDone = "[DONE]"
)

// framePool reuses frame assembly buffers across requests.
var framePool = sync.Pool{
	New: func() any {
		return bytes.NewBuffer(make([]byte, 0, 512))
	},
}

// Chunk is one SSE frame of a streaming completion.
type Chunk struct {
	ID       string         `json:"id"`
	Object   string         `json:"object"`
	Created  int64          `json:"created"`
	Model    string         `json:"model"`
	Provider string         `json:"provider,omitempty"`
	Choices  []ChunkChoice  `json:"choices"`
	Usage    *types.Usage   `json:"usage,omitempty"`
	Sources  []types.Source `json:"sources,omitempty"`
}

// ChunkChoice carries the delta for one choice.
type ChunkChoice struct {
	Index        int                  `json:"index"`
	Delta        provider.StreamDelta `json:"delta"`
	FinishReason *string              `json:"finish_reason,omitempty"`
}

// Result summarizes what was forwarded, for the request log.
type Result struct {
	Deltas       int
	ContentChars int
	FinishReason string
	Usage        *types.Usage
}

// Forwarder writes one streaming completion to an HTTP client.
type Forwarder struct {
	w        http.ResponseWriter
	flusher  http.Flusher
	id       string
	model    string
	provider string
	created  int64
	// sources ride on the first frame only.
	sources []types.Source
	started bool
}

// NewForwarder prepares the response for SSE and returns the forwarder.
// Fails when the response writer cannot flush.
func NewForwarder(w http.ResponseWriter, id, model, providerName string, sources []types.Source) (*Forwarder, error) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		return nil, fmt.Errorf("response writer does not support flushing")
	}

	h := w.Header()
	h.Set("Content-Type", "text/event-stream")
	h.Set("Cache-Control", "no-cache")
	h.Set("Connection", "keep-alive")
	h.Set("X-Accel-Buffering", "no")

	return &Forwarder{
		w:        w,
		flusher:  flusher,
		id:       id,
		model:    model,
		provider: providerName,
		created:  time.Now().Unix(),
		sources:  sources,
	}, nil
}

// Forward pumps the stream until EOF, a transport error, or client
// disconnect. The stream is always closed. The returned result reflects
// whatever was observed, error or not.
func (f *Forwarder) Forward(ctx context.Context, stream provider.Stream) (*Result, error) {
	defer stream.Close()
	res := &Result{}

	for {
		select {
		case <-ctx.Done():
			return res, ctx.Err()
		default:
		}

		delta, err := stream.Recv()
		if err == io.EOF {
			if werr := f.writeDone(); werr != nil {
				return res, werr
			}
			return res, nil
		}
		if err != nil {
			return res, err
		}
		if delta == nil {
			continue
		}

		res.Deltas++
		res.ContentChars += len(delta.Content)
		if delta.FinishReason != "" {
			res.FinishReason = delta.FinishReason
		}
		if delta.Usage != nil {
			res.Usage = delta.Usage
		}

		if err := f.writeDelta(delta); err != nil {
			return res, err
		}
	}
}

func (f *Forwarder) writeDelta(delta *provider.StreamDelta) error {
	choice := ChunkChoice{Delta: *delta}
	if delta.FinishReason != "" {
		reason := delta.FinishReason
		choice.FinishReason = &reason
	}

	chunk := Chunk{
		ID:       f.id,
		Object:   "chat.completion.chunk",
		Created:  f.created,
		Model:    f.model,
		Provider: f.provider,
		Choices:  []ChunkChoice{choice},
		Usage:    delta.Usage,
	}
	if !f.started {
		chunk.Sources = f.sources
		f.started = true
	}

	payload, err := json.Marshal(chunk)
	if err != nil {
		return fmt.Errorf("marshal chunk: %w", err)
	}
	return f.writeFrame(payload)
}

func (f *Forwarder) writeDone() error {
	return f.writeFrame([]byte(SSEDone))
}

func (f *Forwarder) writeFrame(payload []byte) error {
	buf := framePool.Get().(*bytes.Buffer)
	defer framePool.Put(buf)
	buf.Reset()

	buf.WriteString(SSEDataPrefix)
	buf.Write(payload)
	buf.WriteString("\n\n")

	if _, err := f.w.Write(buf.Bytes()); err != nil {
		return fmt.Errorf("write frame: %w", err)
	}
	f.flusher.Flush()
	return nil
}
