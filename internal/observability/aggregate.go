package observability

import (
	"sort"
	"time"
)

// computeMetrics aggregates a set of request logs. The caller has
// already applied the window and provider filter.
func computeMetrics(logs []RequestLog) *Metrics {
	m := &Metrics{
		ByProvider:  make(map[string]int),
		ByErrorType: make(map[string]int),
	}
	if len(logs) == 0 {
		return m
	}

	var (
		errored      int
		fellBack     int
		ragAttempted int
		ragUsed      int
		latencySum   int64
		latencies    []int64
	)
	for i := range logs {
		l := &logs[i]
		m.TotalRequests++
		if !l.Succeeded() {
			errored++
			m.ByErrorType[l.ErrorType]++
		}
		if l.FallbackUsed {
			fellBack++
		}
		if l.Provider != "" {
			m.ByProvider[l.Provider]++
		}
		if l.RAGAttempted {
			ragAttempted++
		}
		if l.RAGUsed {
			ragUsed++
		}
		m.TokensIn += int64(l.TokensIn)
		m.TokensOut += int64(l.TokensOut)
		if l.TotalLatencyMs > 0 {
			latencySum += l.TotalLatencyMs
			latencies = append(latencies, l.TotalLatencyMs)
		}
	}

	total := float64(m.TotalRequests)
	m.ErrorRate = float64(errored) / total
	m.FallbackRate = float64(fellBack) / total
	if ragAttempted > 0 {
		m.RAGHitRate = float64(ragUsed) / float64(ragAttempted)
	}

	if len(latencies) > 0 {
		sort.Slice(latencies, func(i, j int) bool { return latencies[i] < latencies[j] })
		m.AvgLatencyMs = float64(latencySum) / float64(len(latencies))
		m.P50LatencyMs = latencies[len(latencies)/2]
		p95 := int(0.95 * float64(len(latencies)))
		if p95 >= len(latencies) {
			p95 = len(latencies) - 1
		}
		m.P95LatencyMs = latencies[p95]
	}

	return m
}

// computeTimeSeries buckets logs by interval and evaluates the metric
// per bucket. Buckets with no traffic are omitted; points come back in
// chronological order.
func computeTimeSeries(logs []RequestLog, metric string, interval time.Duration) []TimeSeriesPoint {
	buckets := make(map[int64][]RequestLog)
	for i := range logs {
		key := logs[i].Timestamp.Truncate(interval).Unix()
		buckets[key] = append(buckets[key], logs[i])
	}

	keys := make([]int64, 0, len(buckets))
	for k := range buckets {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i] < keys[j] })

	points := make([]TimeSeriesPoint, 0, len(keys))
	for _, k := range keys {
		points = append(points, TimeSeriesPoint{
			Timestamp: time.Unix(k, 0).UTC(),
			Value:     bucketValue(buckets[k], metric),
		})
	}
	return points
}

func bucketValue(logs []RequestLog, metric string) float64 {
	switch metric {
	case MetricLatency:
		var sum int64
		var n int
		for i := range logs {
			if logs[i].TotalLatencyMs > 0 {
				sum += logs[i].TotalLatencyMs
				n++
			}
		}
		if n == 0 {
			return 0
		}
		return float64(sum) / float64(n)
	case MetricErrorRate:
		errored := 0
		for i := range logs {
			if !logs[i].Succeeded() {
				errored++
			}
		}
		return float64(errored) / float64(len(logs))
	case MetricTokens:
		var sum int64
		for i := range logs {
			sum += int64(logs[i].TokensIn) + int64(logs[i].TokensOut)
		}
		return float64(sum)
	case MetricFallbackRate:
		fellBack := 0
		for i := range logs {
			if logs[i].FallbackUsed {
				fellBack++
			}
		}
		return float64(fellBack) / float64(len(logs))
	default:
		return 0
	}
}
