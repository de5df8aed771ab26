package provider

import (
	"bufio"
	"bytes"
	"io"
	"sync"
)

const (
	sseDataPrefix = "data: "
	sseDone       = "[DONE]"

	// sseInitialBuffer sizes the line scanner; sseMaxLine caps a single
	// SSE frame. Large tool-call arguments can produce long lines.
	sseInitialBuffer = 4 * 1024
	sseMaxLine       = 1024 * 1024
)

var sseBufferPool = sync.Pool{
	New: func() any {
		buf := make([]byte, sseInitialBuffer)
		return &buf
	},
}

// ChunkParser turns one upstream frame payload into a delta. A (nil,
// nil) return means the frame carried no content and is skipped.
type ChunkParser func(line []byte) (*StreamDelta, error)

// sseStream reads "data: "-framed SSE lines from an upstream body and
// parses each through the adapter's chunk parser. Malformed frames are
// skipped silently; transport errors propagate; the "[DONE]" sentinel
// ends the stream with io.EOF.
type sseStream struct {
	body    io.ReadCloser
	scanner *bufio.Scanner
	parse   ChunkParser
	buf     *[]byte
	done    bool

	closeOnce sync.Once
	closeErr  error
}

// NewSSEStream wraps an upstream response body in a Stream. The caller
// owns the body until the stream is closed.
func NewSSEStream(body io.ReadCloser, parse ChunkParser) Stream {
	buf := sseBufferPool.Get().(*[]byte)
	scanner := bufio.NewScanner(body)
	scanner.Buffer(*buf, sseMaxLine)
	return &sseStream{
		body:    body,
		scanner: scanner,
		parse:   parse,
		buf:     buf,
	}
}

func (s *sseStream) Recv() (*StreamDelta, error) {
	if s.done {
		return nil, io.EOF
	}

	for s.scanner.Scan() {
		line := bytes.TrimSpace(s.scanner.Bytes())
		if len(line) == 0 {
			continue
		}

		payload, ok := bytes.CutPrefix(line, []byte(sseDataPrefix))
		if !ok {
			// Comment lines and event names are framing detail.
			continue
		}
		if bytes.Equal(bytes.TrimSpace(payload), []byte(sseDone)) {
			s.done = true
			return nil, io.EOF
		}

		delta, err := s.parse(payload)
		if err != nil {
			// Malformed frame; skip and keep reading.
			continue
		}
		if delta == nil {
			continue
		}
		return delta, nil
	}

	s.done = true
	if err := s.scanner.Err(); err != nil {
		return nil, err
	}
	return nil, io.EOF
}

func (s *sseStream) Close() error {
	s.closeOnce.Do(func() {
		s.closeErr = s.body.Close()
		if s.buf != nil {
			sseBufferPool.Put(s.buf)
			s.buf = nil
		}
	})
	return s.closeErr
}
