package observability

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/goccy/go-json"
)

// startPostgres launches a throwaway Postgres container. Environments
// without Docker skip the suite instead of failing it.
func startPostgres(t *testing.T) *PostgresStore {
	t.Helper()
	ctx := context.Background()

	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        "postgres:16-alpine",
			ExposedPorts: []string{"5432/tcp"},
			Env: map[string]string{
				"POSTGRES_USER":     "gate",
				"POSTGRES_PASSWORD": "gate",
				"POSTGRES_DB":       "gate_test",
			},
			WaitingFor: wait.ForListeningPort("5432/tcp").WithStartupTimeout(60 * time.Second),
		},
		Started: true,
	})
	if err != nil {
		t.Skipf("docker unavailable, skipping postgres store tests: %v", err)
	}
	t.Cleanup(func() { _ = container.Terminate(context.Background()) })

	host, err := container.Host(ctx)
	require.NoError(t, err)
	port, err := container.MappedPort(ctx, "5432/tcp")
	require.NoError(t, err)

	dsn := fmt.Sprintf("postgres://gate:gate@%s:%s/gate_test?sslmode=disable", host, port.Port())

	var store *PostgresStore
	// The port can accept connections before the server is ready.
	require.Eventually(t, func() bool {
		store, err = NewPostgresStore(ctx, PostgresConfig{DSN: dsn})
		return err == nil
	}, 30*time.Second, 500*time.Millisecond, "connect to postgres: %v", err)

	t.Cleanup(func() { _ = store.Close() })
	return store
}

func TestPostgresStoreRoundTrip(t *testing.T) {
	store := startPostgres(t)
	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Millisecond)

	chain, _ := json.Marshal([]map[string]any{{"attempt_n": 1, "model_id": "gpt-4"}})
	log := seedLog("pg-1", now, func(l *RequestLog) {
		l.FallbackChain = chain
		l.Metadata = json.RawMessage(`{"source":"test"}`)
		l.FallbackUsed = true
		l.RAGAttempted = true
		l.RAGUsed = true
		l.RerankerType = "lexical_bm25"
	})
	require.NoError(t, store.InsertRequestLog(ctx, log))

	got, err := store.RequestLog(ctx, "pg-1")
	require.NoError(t, err)
	assert.Equal(t, log.ID, got.ID)
	assert.Equal(t, log.Provider, got.Provider)
	assert.True(t, got.FallbackUsed)
	assert.JSONEq(t, string(chain), string(got.FallbackChain))
	assert.JSONEq(t, `{"source":"test"}`, string(got.Metadata))
	assert.WithinDuration(t, now, got.Timestamp, time.Second)

	_, err = store.RequestLog(ctx, "missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestPostgresStoreFiltersAndMetrics(t *testing.T) {
	store := startPostgres(t)
	ctx := context.Background()
	base := time.Now().UTC().Add(-time.Hour)

	for i := 0; i < 5; i++ {
		log := seedLog(fmt.Sprintf("pg-f-%d", i), base.Add(time.Duration(i)*time.Minute))
		log.TotalLatencyMs = int64(100 + i*100)
		if i%2 == 1 {
			log.Provider = "deepseek"
			log.ErrorType = "server_error"
		}
		require.NoError(t, store.InsertRequestLog(ctx, log))
	}

	logs, err := store.RequestLogs(ctx, Filter{Provider: "deepseek"})
	require.NoError(t, err)
	require.Len(t, logs, 2)
	assert.True(t, logs[0].Timestamp.After(logs[1].Timestamp), "newest first")

	errorsOnly, err := store.RequestLogs(ctx, Filter{ErrorsOnly: true, Limit: 1})
	require.NoError(t, err)
	assert.Len(t, errorsOnly, 1)

	m, err := store.Metrics(ctx, MetricsQuery{Start: base.Add(-time.Minute)})
	require.NoError(t, err)
	assert.Equal(t, 5, m.TotalRequests)
	assert.InDelta(t, 0.4, m.ErrorRate, 1e-9)
	assert.Equal(t, 2, m.ByErrorType["server_error"])

	points, err := store.TimeSeries(ctx, MetricsQuery{Start: base.Add(-time.Minute)}, MetricLatency, 5*time.Minute)
	require.NoError(t, err)
	assert.NotEmpty(t, points)
}

func TestPostgresStoreIndexesFilterColumns(t *testing.T) {
	store := startPostgres(t)
	ctx := context.Background()

	rows, err := store.DB().QueryContext(ctx,
		`SELECT indexname FROM pg_indexes WHERE tablename = 'request_logs'`)
	require.NoError(t, err)
	defer rows.Close()

	have := map[string]bool{}
	for rows.Next() {
		var name string
		require.NoError(t, rows.Scan(&name))
		have[name] = true
	}
	require.NoError(t, rows.Err())

	// One index per filterable column, so provider/model/route/error
	// queries do not walk the whole table.
	for _, want := range []string{
		"idx_request_logs_provider",
		"idx_request_logs_model_id",
		"idx_request_logs_route_name",
		"idx_request_logs_error_type",
	} {
		assert.True(t, have[want], "missing index %s", want)
	}
}

func TestPostgresStoreRAGAndBreakers(t *testing.T) {
	store := startPostgres(t)
	ctx := context.Background()

	require.NoError(t, store.InsertRequestLog(ctx, seedLog("pg-r-1", time.Now().UTC())))
	require.NoError(t, store.InsertRAGLog(ctx, &RAGLog{
		ID:             "rag-pg-1",
		RequestID:      "pg-r-1",
		Timestamp:      time.Now().UTC(),
		Query:          "query text",
		Candidates:     json.RawMessage(`[{"chunk_id":"c1"}]`),
		RerankerType:   "lexical_bm25",
		SelectedChunks: json.RawMessage(`[{"chunk_id":"c1"}]`),
	}))

	rag, err := store.RAGLogByRequestID(ctx, "pg-r-1")
	require.NoError(t, err)
	assert.Equal(t, "rag-pg-1", rag.ID)
	assert.JSONEq(t, `[{"chunk_id":"c1"}]`, string(rag.Candidates))

	opened := time.Now().UTC().Truncate(time.Millisecond)
	require.NoError(t, store.UpsertBreakerSnapshot(ctx, &BreakerSnapshot{
		Provider: "openai", State: "open", FailureCount: 5, OpenedAt: &opened,
	}))
	require.NoError(t, store.UpsertBreakerSnapshot(ctx, &BreakerSnapshot{
		Provider: "openai", State: "closed",
	}))

	snaps, err := store.BreakerSnapshots(ctx)
	require.NoError(t, err)
	require.Len(t, snaps, 1)
	assert.Equal(t, "closed", snaps[0].State)
	assert.Nil(t, snaps[0].OpenedAt)
}
