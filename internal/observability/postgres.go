package observability

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	_ "github.com/lib/pq" // postgres driver
)

const schema = `
CREATE TABLE IF NOT EXISTS request_logs (
	id                  TEXT PRIMARY KEY,
	timestamp           TIMESTAMPTZ NOT NULL,
	user_id             TEXT NOT NULL DEFAULT '',
	chat_id             TEXT NOT NULL DEFAULT '',
	provider            TEXT NOT NULL DEFAULT '',
	model_id            TEXT NOT NULL DEFAULT '',
	route_name          TEXT NOT NULL DEFAULT '',
	route_reason        TEXT NOT NULL DEFAULT '',
	fallback_used       BOOLEAN NOT NULL DEFAULT FALSE,
	fallback_chain      JSONB,
	total_latency_ms    BIGINT NOT NULL DEFAULT 0,
	provider_latency_ms BIGINT NOT NULL DEFAULT 0,
	tokens_in           INTEGER NOT NULL DEFAULT 0,
	tokens_out          INTEGER NOT NULL DEFAULT 0,
	error_type          TEXT NOT NULL DEFAULT '',
	error_short         TEXT NOT NULL DEFAULT '',
	rag_attempted       BOOLEAN NOT NULL DEFAULT FALSE,
	rag_used            BOOLEAN NOT NULL DEFAULT FALSE,
	rag_latency_ms      BIGINT NOT NULL DEFAULT 0,
	rag_top_n           INTEGER NOT NULL DEFAULT 0,
	rag_top_k           INTEGER NOT NULL DEFAULT 0,
	reranker_type       TEXT NOT NULL DEFAULT '',
	rerank_latency_ms   BIGINT NOT NULL DEFAULT 0,
	metadata            JSONB
);
CREATE INDEX IF NOT EXISTS idx_request_logs_timestamp ON request_logs (timestamp);
CREATE INDEX IF NOT EXISTS idx_request_logs_ts_provider ON request_logs (timestamp, provider);
CREATE INDEX IF NOT EXISTS idx_request_logs_ts_error ON request_logs (timestamp, error_type);
CREATE INDEX IF NOT EXISTS idx_request_logs_user_ts ON request_logs (user_id, timestamp);
CREATE INDEX IF NOT EXISTS idx_request_logs_provider ON request_logs (provider);
CREATE INDEX IF NOT EXISTS idx_request_logs_model_id ON request_logs (model_id);
CREATE INDEX IF NOT EXISTS idx_request_logs_route_name ON request_logs (route_name);
CREATE INDEX IF NOT EXISTS idx_request_logs_error_type ON request_logs (error_type);

CREATE TABLE IF NOT EXISTS rag_logs (
	id                TEXT PRIMARY KEY,
	request_id        TEXT NOT NULL,
	timestamp         TIMESTAMPTZ NOT NULL,
	query             TEXT NOT NULL DEFAULT '',
	knowledge_base_id TEXT NOT NULL DEFAULT '',
	candidates        JSONB,
	reranker_type     TEXT NOT NULL DEFAULT '',
	selected_chunks   JSONB
);
CREATE INDEX IF NOT EXISTS idx_rag_logs_request_id ON rag_logs (request_id);

CREATE TABLE IF NOT EXISTS circuit_breaker_states (
	provider          TEXT PRIMARY KEY,
	state             TEXT NOT NULL,
	failure_count     INTEGER NOT NULL DEFAULT 0,
	last_failure_time TIMESTAMPTZ,
	last_success_time TIMESTAMPTZ,
	opened_at         TIMESTAMPTZ,
	updated_at        TIMESTAMPTZ NOT NULL
);
`

const requestLogColumns = `id, timestamp, user_id, chat_id, provider, model_id,
	route_name, route_reason, fallback_used, fallback_chain,
	total_latency_ms, provider_latency_ms, tokens_in, tokens_out,
	error_type, error_short, rag_attempted, rag_used, rag_latency_ms,
	rag_top_n, rag_top_k, reranker_type, rerank_latency_ms, metadata`

// PostgresStore is the durable Store implementation.
type PostgresStore struct {
	db *sql.DB
}

// PostgresConfig tunes the connection pool.
type PostgresConfig struct {
	DSN             string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

// NewPostgresStore connects, configures the pool, and bootstraps the
// schema.
func NewPostgresStore(ctx context.Context, cfg PostgresConfig) (*PostgresStore, error) {
	db, err := sql.Open("postgres", cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	if cfg.MaxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns > 0 {
		db.SetMaxIdleConns(cfg.MaxIdleConns)
	}
	if cfg.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	}

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	if _, err := db.ExecContext(ctx, schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("bootstrap schema: %w", err)
	}

	return &PostgresStore{db: db}, nil
}

// DB exposes the pool for metrics collection.
func (s *PostgresStore) DB() *sql.DB {
	return s.db
}

// InsertRequestLog writes one request log row.
func (s *PostgresStore) InsertRequestLog(ctx context.Context, log *RequestLog) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO request_logs (`+requestLogColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13,
			$14, $15, $16, $17, $18, $19, $20, $21, $22, $23, $24)`,
		log.ID, log.Timestamp, log.UserID, log.ChatID, log.Provider, log.ModelID,
		log.RouteName, log.RouteReason, log.FallbackUsed, nullJSON(log.FallbackChain),
		log.TotalLatencyMs, log.ProviderLatencyMs, log.TokensIn, log.TokensOut,
		log.ErrorType, log.ErrorShort, log.RAGAttempted, log.RAGUsed, log.RAGLatencyMs,
		log.RAGTopN, log.RAGTopK, log.RerankerType, log.RerankLatencyMs, nullJSON(log.Metadata),
	)
	if err != nil {
		return fmt.Errorf("insert request log: %w", err)
	}
	return nil
}

// InsertRAGLog writes one RAG trace row.
func (s *PostgresStore) InsertRAGLog(ctx context.Context, log *RAGLog) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO rag_logs (id, request_id, timestamp, query, knowledge_base_id,
			candidates, reranker_type, selected_chunks)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		log.ID, log.RequestID, log.Timestamp, log.Query, log.KnowledgeBaseID,
		nullJSON(log.Candidates), log.RerankerType, nullJSON(log.SelectedChunks),
	)
	if err != nil {
		return fmt.Errorf("insert rag log: %w", err)
	}
	return nil
}

// RequestLog fetches one log by primary key.
func (s *PostgresStore) RequestLog(ctx context.Context, id string) (*RequestLog, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+requestLogColumns+` FROM request_logs WHERE id = $1`, id)
	log, err := scanRequestLog(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("query request log: %w", err)
	}
	return log, nil
}

// RequestLogs queries logs by filter, newest first.
func (s *PostgresStore) RequestLogs(ctx context.Context, filter Filter) ([]RequestLog, error) {
	filter = filter.Normalize()

	var conds []string
	var args []any
	add := func(cond string, arg any) {
		args = append(args, arg)
		conds = append(conds, fmt.Sprintf(cond, len(args)))
	}
	if filter.UserID != "" {
		add("user_id = $%d", filter.UserID)
	}
	if filter.Provider != "" {
		add("provider = $%d", filter.Provider)
	}
	if filter.ModelID != "" {
		add("model_id = $%d", filter.ModelID)
	}
	if filter.RouteName != "" {
		add("route_name = $%d", filter.RouteName)
	}
	if filter.ErrorsOnly {
		conds = append(conds, "error_type <> ''")
	}
	if filter.RAGUsedOnly {
		conds = append(conds, "rag_used")
	}
	if !filter.Start.IsZero() {
		add("timestamp >= $%d", filter.Start)
	}
	if !filter.End.IsZero() {
		add("timestamp <= $%d", filter.End)
	}

	query := `SELECT ` + requestLogColumns + ` FROM request_logs`
	if len(conds) > 0 {
		query += " WHERE " + strings.Join(conds, " AND ")
	}
	args = append(args, filter.Limit)
	query += fmt.Sprintf(" ORDER BY timestamp DESC LIMIT $%d", len(args))
	args = append(args, filter.Offset)
	query += fmt.Sprintf(" OFFSET $%d", len(args))

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query request logs: %w", err)
	}
	defer func() { _ = rows.Close() }()

	logs := []RequestLog{}
	for rows.Next() {
		log, err := scanRequestLog(rows)
		if err != nil {
			return nil, fmt.Errorf("scan request log: %w", err)
		}
		logs = append(logs, *log)
	}
	return logs, rows.Err()
}

// RAGLogByRequestID fetches the RAG trace for one request.
func (s *PostgresStore) RAGLogByRequestID(ctx context.Context, requestID string) (*RAGLog, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, request_id, timestamp, query, knowledge_base_id,
			candidates, reranker_type, selected_chunks
		FROM rag_logs WHERE request_id = $1`, requestID)

	var log RAGLog
	var candidates, selected []byte
	err := row.Scan(&log.ID, &log.RequestID, &log.Timestamp, &log.Query,
		&log.KnowledgeBaseID, &candidates, &log.RerankerType, &selected)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("query rag log: %w", err)
	}
	log.Candidates = candidates
	log.SelectedChunks = selected
	return &log, nil
}

// UpsertBreakerSnapshot writes the provider's breaker state.
func (s *PostgresStore) UpsertBreakerSnapshot(ctx context.Context, snap *BreakerSnapshot) error {
	updatedAt := snap.UpdatedAt
	if updatedAt.IsZero() {
		updatedAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO circuit_breaker_states
			(provider, state, failure_count, last_failure_time, last_success_time, opened_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (provider) DO UPDATE SET
			state = EXCLUDED.state,
			failure_count = EXCLUDED.failure_count,
			last_failure_time = EXCLUDED.last_failure_time,
			last_success_time = EXCLUDED.last_success_time,
			opened_at = EXCLUDED.opened_at,
			updated_at = EXCLUDED.updated_at`,
		snap.Provider, snap.State, snap.FailureCount,
		snap.LastFailureTime, snap.LastSuccessTime, snap.OpenedAt, updatedAt,
	)
	if err != nil {
		return fmt.Errorf("upsert breaker snapshot: %w", err)
	}
	return nil
}

// BreakerSnapshots returns all stored breaker states.
func (s *PostgresStore) BreakerSnapshots(ctx context.Context) ([]BreakerSnapshot, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT provider, state, failure_count, last_failure_time,
			last_success_time, opened_at, updated_at
		FROM circuit_breaker_states ORDER BY provider`)
	if err != nil {
		return nil, fmt.Errorf("query breaker snapshots: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []BreakerSnapshot
	for rows.Next() {
		var snap BreakerSnapshot
		if err := rows.Scan(&snap.Provider, &snap.State, &snap.FailureCount,
			&snap.LastFailureTime, &snap.LastSuccessTime, &snap.OpenedAt,
			&snap.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan breaker snapshot: %w", err)
		}
		out = append(out, snap)
	}
	return out, rows.Err()
}

// Metrics aggregates the window. Rows are pulled and reduced in-process
// so the memory and Postgres stores share one aggregation.
func (s *PostgresStore) Metrics(ctx context.Context, q MetricsQuery) (*Metrics, error) {
	logs, err := s.window(ctx, q)
	if err != nil {
		return nil, err
	}
	return computeMetrics(logs), nil
}

// TimeSeries buckets the window by interval.
func (s *PostgresStore) TimeSeries(ctx context.Context, q MetricsQuery, metric string, interval time.Duration) ([]TimeSeriesPoint, error) {
	if !ValidMetric(metric) {
		return nil, fmt.Errorf("invalid metric %q", metric)
	}
	if interval <= 0 {
		return nil, fmt.Errorf("interval must be positive")
	}
	logs, err := s.window(ctx, q)
	if err != nil {
		return nil, err
	}
	return computeTimeSeries(logs, metric, interval), nil
}

func (s *PostgresStore) window(ctx context.Context, q MetricsQuery) ([]RequestLog, error) {
	var conds []string
	var args []any
	if !q.Start.IsZero() {
		args = append(args, q.Start)
		conds = append(conds, fmt.Sprintf("timestamp >= $%d", len(args)))
	}
	if !q.End.IsZero() {
		args = append(args, q.End)
		conds = append(conds, fmt.Sprintf("timestamp <= $%d", len(args)))
	}
	if q.Provider != "" {
		args = append(args, q.Provider)
		conds = append(conds, fmt.Sprintf("provider = $%d", len(args)))
	}

	query := `SELECT ` + requestLogColumns + ` FROM request_logs`
	if len(conds) > 0 {
		query += " WHERE " + strings.Join(conds, " AND ")
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query metrics window: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var logs []RequestLog
	for rows.Next() {
		log, err := scanRequestLog(rows)
		if err != nil {
			return nil, fmt.Errorf("scan metrics window: %w", err)
		}
		logs = append(logs, *log)
	}
	return logs, rows.Err()
}

// Close releases the pool.
func (s *PostgresStore) Close() error {
	return s.db.Close()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRequestLog(row rowScanner) (*RequestLog, error) {
	var log RequestLog
	var chain, metadata []byte
	err := row.Scan(
		&log.ID, &log.Timestamp, &log.UserID, &log.ChatID, &log.Provider, &log.ModelID,
		&log.RouteName, &log.RouteReason, &log.FallbackUsed, &chain,
		&log.TotalLatencyMs, &log.ProviderLatencyMs, &log.TokensIn, &log.TokensOut,
		&log.ErrorType, &log.ErrorShort, &log.RAGAttempted, &log.RAGUsed, &log.RAGLatencyMs,
		&log.RAGTopN, &log.RAGTopK, &log.RerankerType, &log.RerankLatencyMs, &metadata,
	)
	if err != nil {
		return nil, err
	}
	log.FallbackChain = chain
	log.Metadata = metadata
	return &log, nil
}

func nullJSON(raw []byte) any {
	if len(raw) == 0 {
		return nil
	}
	return []byte(raw)
}

var _ Store = (*PostgresStore)(nil)
