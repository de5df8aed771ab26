// Command server runs the modelgate gateway: an HTTP front door that
// routes chat completion requests across LLM providers with fallback,
// circuit breaking, and optional RAG context injection.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/modelgate/modelgate/internal/api"
	"github.com/modelgate/modelgate/internal/auth"
	"github.com/modelgate/modelgate/internal/config"
	"github.com/modelgate/modelgate/internal/executor"
	"github.com/modelgate/modelgate/internal/gateway"
	"github.com/modelgate/modelgate/internal/metrics"
	"github.com/modelgate/modelgate/internal/observability"
	_ "github.com/modelgate/modelgate/internal/provider/anthropic"
	_ "github.com/modelgate/modelgate/internal/provider/deepseek"
	_ "github.com/modelgate/modelgate/internal/provider/openai"
	_ "github.com/modelgate/modelgate/internal/provider/openaicompat"
	"github.com/modelgate/modelgate/internal/rag"
	"github.com/modelgate/modelgate/internal/registry"
	"github.com/modelgate/modelgate/internal/resilience"
	"github.com/modelgate/modelgate/internal/router"
	"github.com/modelgate/modelgate/internal/secret"
	"github.com/modelgate/modelgate/internal/secret/env"
	"github.com/modelgate/modelgate/internal/secret/vault"
)

const dbStatsInterval = 15 * time.Second

func main() {
	configPath := flag.String("config", "", "path to the server config file")
	flag.Parse()

	if err := run(*configPath); err != nil {
		fmt.Fprintln(os.Stderr, "server:", err)
		os.Exit(1)
	}
}

func run(configPath string) error {
	cfg := config.DefaultConfig()
	if configPath != "" {
		loaded, err := config.LoadFromFile(configPath)
		if err != nil {
			return err
		}
		cfg = loaded
	}

	redactor := observability.NewRedactor()
	logger := observability.NewLogger(observability.LoggerConfig{
		Level:      observability.ParseLevel(cfg.Log.Level),
		Output:     os.Stdout,
		JSONFormat: cfg.Log.Format == "json",
	}, redactor)
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	secrets, err := buildSecrets(cfg, logger)
	if err != nil {
		return err
	}
	defer func() { _ = secrets.Close() }()

	reg := registry.NewManager(cfg.Gateway.RegistryPath, secrets, logger)
	defer func() { _ = reg.Close() }()
	if cfg.Gateway.Watch {
		if err := reg.Watch(ctx); err != nil {
			logger.Warn("registry watch disabled", "error", err)
		}
	}

	store, pgStore, err := buildStore(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer func() { _ = store.Close() }()
	if pgStore != nil {
		go pollDBStats(ctx, pgStore)
	}

	var alerts *observability.AlertSink
	if cfg.Alerts.WebhookURL != "" {
		alerts, err = observability.NewAlertSink(observability.AlertConfig{
			WebhookURL:  cfg.Alerts.WebhookURL,
			MinInterval: cfg.Alerts.MinInterval,
		})
		if err != nil {
			return err
		}
	}

	var archiver *observability.Archiver
	if cfg.Archive.Enabled {
		archiver, err = buildArchiver(ctx, cfg, secrets, logger)
		if err != nil {
			return err
		}
		defer func() {
			closeCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			_ = archiver.Close(closeCtx)
		}()
	}

	breakers := resilience.NewManager(resilience.Config{
		FailureThreshold: cfg.Gateway.Breaker.FailureThreshold,
		Cooldown:         cfg.Gateway.Breaker.Cooldown,
		HalfOpenMax:      cfg.Gateway.Breaker.HalfOpenMax,
	})
	breakers.OnStateChange(func(provider string, from, to resilience.State) {
		logger.Warn("circuit breaker state change",
			"provider", provider,
			"from", from.String(),
			"to", to.String(),
		)
		metrics.SetBreakerState(provider, to)
		persistBreakerState(store, breakers, provider, logger)
		if alerts != nil {
			alertCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			if err := alerts.BreakerTransition(alertCtx, provider, from.String(), to.String()); err != nil {
				logger.Error("breaker alert failed", "provider", provider, "error", err)
			}
		}
	})

	tp, err := observability.InitTracing(ctx, observability.TracingConfig{
		Enabled:     cfg.Tracing.Enabled,
		Endpoint:    cfg.Tracing.Endpoint,
		ServiceName: cfg.Tracing.ServiceName,
		SampleRate:  cfg.Tracing.SampleRate,
		Insecure:    cfg.Tracing.Insecure,
	})
	if err != nil {
		return fmt.Errorf("init tracing: %w", err)
	}
	defer func() {
		shutCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = tp.Shutdown(shutCtx)
	}()

	exec := executor.New(reg, breakers, logger)
	defer func() { _ = exec.Close() }()

	var logStore observability.Store = store
	if archiver != nil || alerts != nil {
		logStore = &teeStore{Store: store, archiver: archiver, alerts: alerts}
	}
	recorder := observability.NewRecorder(logStore, 256, logger)
	defer recorder.Close()

	gw := gateway.New(reg, router.New(logger), exec, recorder, tp.Tracer(), logger, gateway.Config{
		RAGParams: rag.Params{
			TopK:          cfg.Gateway.RAG.TopK,
			VectorWeight:  cfg.Gateway.RAG.VectorWeight,
			LexicalWeight: cfg.Gateway.RAG.LexicalWeight,
		},
		InjectionStrategy: cfg.Gateway.RAG.InjectionStrategy,
	})

	authn, err := auth.NewAuthenticator(ctx, cfg.Auth, secrets, logger)
	if err != nil {
		return fmt.Errorf("configure auth: %w", err)
	}

	handler := api.NewHandler(gw, store, breakers, reg, authn.Enabled(), logger)

	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", handler.HandleHealth)
	if cfg.Metrics.Enabled {
		mux.Handle("GET "+cfg.Metrics.Path, promhttp.Handler())
	}

	var protected http.Handler = handler.Routes()
	if cfg.RateLimit.Enabled {
		limiter := auth.NewRateLimiter(cfg.RateLimit.RequestsPerMinute, cfg.RateLimit.BurstSize)
		defer limiter.Close()
		protected = limitCompletions(limiter, protected)
	}
	protected = authn.Middleware(protected)
	mux.Handle("/", protected)

	var root http.Handler = mux
	root = metrics.Middleware(root)
	root = observability.RequestIDMiddleware(root)

	srv := &http.Server{
		Addr:         cfg.Server.Addr(),
		Handler:      root,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("gateway listening",
			"addr", srv.Addr,
			"models", reg.Current().ModelCount(),
			"providers", reg.Current().ProviderCount(),
			"auth", authn.Enabled(),
		)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	shutCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	return nil
}

// limitCompletions applies the per-caller rate limiter to the
// completion endpoint only; read-side endpoints stay unthrottled.
func limitCompletions(limiter *auth.RateLimiter, next http.Handler) http.Handler {
	limited := limiter.Middleware(next)
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodPost && r.URL.Path == "/completion" {
			limited.ServeHTTP(w, r)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// buildSecrets wires the env:// scheme always and vault:// when
// configured, both behind a TTL cache.
func buildSecrets(cfg *config.Config, logger *slog.Logger) (*secret.Manager, error) {
	m := secret.NewManager()

	ttl := cfg.Secrets.CacheTTL
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	m.Register(secret.SchemeEnv, env.New())

	if cfg.Secrets.Vault.Enabled {
		vp, err := vault.New(vault.Config{
			Address:    cfg.Secrets.Vault.Address,
			AuthMethod: cfg.Secrets.Vault.AuthMethod,
			Token:      cfg.Secrets.Vault.Token,
			RoleID:     cfg.Secrets.Vault.RoleID,
			SecretID:   cfg.Secrets.Vault.SecretID,
			CACert:     cfg.Secrets.Vault.CACert,
			ClientCert: cfg.Secrets.Vault.ClientCert,
			ClientKey:  cfg.Secrets.Vault.ClientKey,
		}, logger)
		if err != nil {
			return nil, fmt.Errorf("configure vault: %w", err)
		}
		m.Register("vault", secret.NewCachedProvider(vp, ttl))
	}
	return m, nil
}

// buildStore picks Postgres when a connection is configured, otherwise
// the in-memory store. The second return is non-nil only for Postgres,
// for pool metrics.
func buildStore(ctx context.Context, cfg *config.Config, logger *slog.Logger) (observability.Store, *observability.PostgresStore, error) {
	dsn := cfg.Database.ConnString()
	if dsn == "" {
		logger.Info("no database configured, using in-memory store")
		return observability.NewMemoryStore(), nil, nil
	}

	pg, err := observability.NewPostgresStore(ctx, observability.PostgresConfig{
		DSN:          dsn,
		MaxOpenConns: cfg.Database.MaxOpenConns,
		MaxIdleConns: cfg.Database.MaxIdleConns,
	})
	if err != nil {
		return nil, nil, fmt.Errorf("connect postgres: %w", err)
	}
	logger.Info("connected to postgres")
	return pg, pg, nil
}

func buildArchiver(ctx context.Context, cfg *config.Config, secrets *secret.Manager, logger *slog.Logger) (*observability.Archiver, error) {
	var accessKey, secretKey string
	if cfg.Archive.AccessKeyEnv != "" {
		v, err := secrets.Get(ctx, cfg.Archive.AccessKeyEnv)
		if err != nil {
			return nil, fmt.Errorf("resolve archive access key: %w", err)
		}
		accessKey = v
	}
	if cfg.Archive.SecretKeyEnv != "" {
		v, err := secrets.Get(ctx, cfg.Archive.SecretKeyEnv)
		if err != nil {
			return nil, fmt.Errorf("resolve archive secret key: %w", err)
		}
		secretKey = v
	}

	return observability.NewArchiver(ctx, observability.ArchiveConfig{
		Bucket:        cfg.Archive.Bucket,
		Region:        cfg.Archive.Region,
		AccessKeyID:   accessKey,
		SecretKey:     secretKey,
		Endpoint:      cfg.Archive.Endpoint,
		PathPrefix:    cfg.Archive.PathPrefix,
		FlushInterval: cfg.Archive.FlushInterval,
		BatchSize:     cfg.Archive.BatchSize,
	}, logger)
}

func persistBreakerState(store observability.Store, breakers *resilience.Manager, provider string, logger *slog.Logger) {
	snap, ok := breakers.Snapshot(provider)
	if !ok {
		return
	}
	row := observability.BreakerSnapshot{
		Provider:        snap.Provider,
		State:           snap.State,
		FailureCount:    snap.FailureCount,
		LastFailureTime: snap.LastFailure,
		LastSuccessTime: snap.LastSuccess,
		OpenedAt:        snap.OpenedAt,
		UpdatedAt:       time.Now().UTC(),
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := store.UpsertBreakerSnapshot(ctx, &row); err != nil {
		logger.Error("breaker snapshot write failed", "provider", provider, "error", err)
	}
}

func pollDBStats(ctx context.Context, pg *observability.PostgresStore) {
	ticker := time.NewTicker(dbStatsInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			metrics.UpdateDBPoolStats(pg.DB().Stats())
		}
	}
}
