package observability

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// recorder write deadline applied when the caller's context is gone.
const recorderWriteTimeout = 5 * time.Second

type recorderEntry struct {
	request *RequestLog
	rag     *RAGLog
}

// Recorder decouples log persistence from the request path: writes go
// through a buffered channel to a single writer goroutine. A request log
// and its RAG trace travel as one entry, so the request row always lands
// before its RAG row even when the queue is full and the write happens
// synchronously instead of being dropped.
type Recorder struct {
	store  Store
	queue  chan recorderEntry
	logger *slog.Logger

	closeOnce sync.Once
	done      chan struct{}
}

// NewRecorder starts the writer goroutine over the given store.
func NewRecorder(store Store, queueSize int, logger *slog.Logger) *Recorder {
	if queueSize <= 0 {
		queueSize = 256
	}
	r := &Recorder{
		store:  store,
		queue:  make(chan recorderEntry, queueSize),
		logger: logger.With("component", "recorder"),
		done:   make(chan struct{}),
	}
	go r.run()
	return r
}

// Record enqueues a request log write, together with its RAG trace when
// one exists. rag may be nil.
func (r *Recorder) Record(log *RequestLog, rag *RAGLog) {
	e := recorderEntry{request: log, rag: rag}
	select {
	case r.queue <- e:
	default:
		// Queue full: write inline rather than lose telemetry.
		r.write(e)
	}
}

func (r *Recorder) run() {
	defer close(r.done)
	for e := range r.queue {
		r.write(e)
	}
}

func (r *Recorder) write(e recorderEntry) {
	ctx, cancel := context.WithTimeout(context.Background(), recorderWriteTimeout)
	defer cancel()

	if e.request != nil {
		if err := r.store.InsertRequestLog(ctx, e.request); err != nil {
			r.logger.Error("request log write failed", "id", e.request.ID, "error", err)
		}
	}
	if e.rag != nil {
		if err := r.store.InsertRAGLog(ctx, e.rag); err != nil {
			r.logger.Error("rag log write failed", "request_id", e.rag.RequestID, "error", err)
		}
	}
}

// Close drains pending writes and stops the writer. Safe to call more
// than once.
func (r *Recorder) Close() {
	r.closeOnce.Do(func() {
		close(r.queue)
		<-r.done
	})
}
