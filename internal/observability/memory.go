package observability

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"
)

// MemoryStore is the DSN-less Store: a mutex over slices. It backs
// development runs and tests; nothing survives a restart.
type MemoryStore struct {
	mu       sync.RWMutex
	requests []RequestLog
	ragLogs  []RAGLog
	breakers map[string]BreakerSnapshot
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		breakers: make(map[string]BreakerSnapshot),
	}
}

// InsertRequestLog appends a request log.
func (s *MemoryStore) InsertRequestLog(_ context.Context, log *RequestLog) error {
	if log.ID == "" {
		return fmt.Errorf("request log id is required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.requests = append(s.requests, *log)
	return nil
}

// InsertRAGLog appends a RAG trace.
func (s *MemoryStore) InsertRAGLog(_ context.Context, log *RAGLog) error {
	if log.RequestID == "" {
		return fmt.Errorf("rag log request_id is required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ragLogs = append(s.ragLogs, *log)
	return nil
}

// RequestLog returns one log by id.
func (s *MemoryStore) RequestLog(_ context.Context, id string) (*RequestLog, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for i := range s.requests {
		if s.requests[i].ID == id {
			dup := s.requests[i]
			return &dup, nil
		}
	}
	return nil, ErrNotFound
}

// RequestLogs returns logs matching the filter, newest first.
func (s *MemoryStore) RequestLogs(_ context.Context, filter Filter) ([]RequestLog, error) {
	filter = filter.Normalize()

	s.mu.RLock()
	var matched []RequestLog
	for i := range s.requests {
		if filter.Matches(&s.requests[i]) {
			matched = append(matched, s.requests[i])
		}
	}
	s.mu.RUnlock()

	sort.SliceStable(matched, func(i, j int) bool {
		return matched[i].Timestamp.After(matched[j].Timestamp)
	})

	if filter.Offset >= len(matched) {
		return []RequestLog{}, nil
	}
	matched = matched[filter.Offset:]
	if len(matched) > filter.Limit {
		matched = matched[:filter.Limit]
	}
	return matched, nil
}

// RAGLogByRequestID returns the RAG trace for one request.
func (s *MemoryStore) RAGLogByRequestID(_ context.Context, requestID string) (*RAGLog, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for i := range s.ragLogs {
		if s.ragLogs[i].RequestID == requestID {
			dup := s.ragLogs[i]
			return &dup, nil
		}
	}
	return nil, ErrNotFound
}

// UpsertBreakerSnapshot replaces the stored snapshot for a provider.
func (s *MemoryStore) UpsertBreakerSnapshot(_ context.Context, snap *BreakerSnapshot) error {
	if snap.Provider == "" {
		return fmt.Errorf("breaker snapshot provider is required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	stored := *snap
	if stored.UpdatedAt.IsZero() {
		stored.UpdatedAt = time.Now().UTC()
	}
	s.breakers[stored.Provider] = stored
	return nil
}

// BreakerSnapshots returns all stored snapshots, sorted by provider.
func (s *MemoryStore) BreakerSnapshots(_ context.Context) ([]BreakerSnapshot, error) {
	s.mu.RLock()
	out := make([]BreakerSnapshot, 0, len(s.breakers))
	for _, snap := range s.breakers {
		out = append(out, snap)
	}
	s.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].Provider < out[j].Provider })
	return out, nil
}

// Metrics aggregates the window.
func (s *MemoryStore) Metrics(_ context.Context, q MetricsQuery) (*Metrics, error) {
	return computeMetrics(s.window(q)), nil
}

// TimeSeries buckets the window by interval.
func (s *MemoryStore) TimeSeries(_ context.Context, q MetricsQuery, metric string, interval time.Duration) ([]TimeSeriesPoint, error) {
	if !ValidMetric(metric) {
		return nil, fmt.Errorf("invalid metric %q", metric)
	}
	if interval <= 0 {
		return nil, fmt.Errorf("interval must be positive")
	}
	return computeTimeSeries(s.window(q), metric, interval), nil
}

func (s *MemoryStore) window(q MetricsQuery) []RequestLog {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []RequestLog
	for i := range s.requests {
		l := &s.requests[i]
		if !q.Start.IsZero() && l.Timestamp.Before(q.Start) {
			continue
		}
		if !q.End.IsZero() && l.Timestamp.After(q.End) {
			continue
		}
		if q.Provider != "" && l.Provider != q.Provider {
			continue
		}
		out = append(out, *l)
	}
	return out
}

// Close is a no-op.
func (s *MemoryStore) Close() error {
	return nil
}

var _ Store = (*MemoryStore)(nil)
