// Package api is the gateway's HTTP surface: the completion endpoint,
// log and metrics queries, breaker administration, and health. Handlers
// authorize against the identity the auth middleware attached; when auth
// is disabled the caller named in the request is trusted.
package api

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/modelgate/modelgate/internal/auth"
	"github.com/modelgate/modelgate/internal/observability"
	"github.com/modelgate/modelgate/internal/registry"
	"github.com/modelgate/modelgate/internal/resilience"
	"github.com/modelgate/modelgate/pkg/types"
)

// Completer runs the completion pipeline. Implemented by
// internal/gateway.
type Completer interface {
	Complete(ctx context.Context, req *types.CompletionRequest) (*types.CompletionResponse, error)
	CompleteStream(ctx context.Context, req *types.CompletionRequest, w http.ResponseWriter) error
}

// Handler serves the gateway API.
type Handler struct {
	completer   Completer
	store       observability.Store
	breakers    *resilience.Manager
	registry    *registry.Manager
	authEnabled bool
	logger      *slog.Logger
}

// NewHandler creates the API handler.
func NewHandler(completer Completer, store observability.Store, breakers *resilience.Manager, reg *registry.Manager, authEnabled bool, logger *slog.Logger) *Handler {
	return &Handler{
		completer:   completer,
		store:       store,
		breakers:    breakers,
		registry:    reg,
		authEnabled: authEnabled,
		logger:      logger.With("component", "api"),
	}
}

// Routes registers every endpoint on a fresh mux. The health endpoint is
// expected to bypass auth middleware; callers mount it separately when
// auth is enabled.
func (h *Handler) Routes() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /completion", h.handleCompletion)
	mux.HandleFunc("GET /logs", h.handleLogs)
	mux.HandleFunc("GET /logs/{id}", h.handleLogByID)
	mux.HandleFunc("GET /metrics", h.handleMetrics)
	mux.HandleFunc("GET /metrics/timeseries", h.handleTimeSeries)
	mux.HandleFunc("GET /circuit-breakers", h.handleBreakers)
	mux.HandleFunc("POST /circuit-breakers/{provider}/reset", h.handleBreakerReset)
	mux.HandleFunc("GET /rag/logs/{request_id}", h.handleRAGLog)
	return mux
}

// isAdmin reports whether the request may use admin endpoints. With auth
// disabled there are no roles to check.
func (h *Handler) isAdmin(r *http.Request) bool {
	if !h.authEnabled {
		return true
	}
	id, ok := auth.IdentityFrom(r.Context())
	return ok && id.IsAdmin()
}

// callerID resolves the caller for ownership checks. Falls back to the
// "caller" query parameter when auth is disabled.
func (h *Handler) callerID(r *http.Request) string {
	if id, ok := auth.IdentityFrom(r.Context()); ok {
		return id.CallerID
	}
	if !h.authEnabled {
		return r.URL.Query().Get("caller")
	}
	return ""
}
