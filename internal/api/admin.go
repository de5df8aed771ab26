package api

import (
	"net/http"
	"time"

	"github.com/modelgate/modelgate/internal/observability"
	"github.com/modelgate/modelgate/internal/resilience"
	gwerrors "github.com/modelgate/modelgate/pkg/errors"
)

// defaultMetricsWindow is applied when the query names no start time.
const defaultMetricsWindow = 24 * time.Hour

func (h *Handler) metricsQuery(r *http.Request) (observability.MetricsQuery, bool) {
	q := r.URL.Query()
	out := observability.MetricsQuery{Provider: q.Get("provider")}

	if v := q.Get("start"); v != "" {
		ts, err := time.Parse(time.RFC3339, v)
		if err != nil {
			return out, false
		}
		out.Start = ts
	} else {
		out.Start = time.Now().Add(-defaultMetricsWindow)
	}
	if v := q.Get("end"); v != "" {
		ts, err := time.Parse(time.RFC3339, v)
		if err != nil {
			return out, false
		}
		out.End = ts
	}
	return out, true
}

func (h *Handler) handleMetrics(w http.ResponseWriter, r *http.Request) {
	if !h.isAdmin(r) {
		writeError(w, http.StatusForbidden, gwerrors.TagPermission, "admin role required")
		return
	}
	q, ok := h.metricsQuery(r)
	if !ok {
		writeError(w, http.StatusBadRequest, gwerrors.TagInvalidRequest, "invalid timestamp")
		return
	}

	m, err := h.store.Metrics(r.Context(), q)
	if err != nil {
		h.logger.Error("metrics query failed", "error", err)
		writeError(w, http.StatusInternalServerError, gwerrors.TagServerError, "metrics query failed")
		return
	}
	writeJSON(w, http.StatusOK, m)
}

func (h *Handler) handleTimeSeries(w http.ResponseWriter, r *http.Request) {
	if !h.isAdmin(r) {
		writeError(w, http.StatusForbidden, gwerrors.TagPermission, "admin role required")
		return
	}
	q, ok := h.metricsQuery(r)
	if !ok {
		writeError(w, http.StatusBadRequest, gwerrors.TagInvalidRequest, "invalid timestamp")
		return
	}

	metric := r.URL.Query().Get("metric")
	if !observability.ValidMetric(metric) {
		writeError(w, http.StatusBadRequest, gwerrors.TagInvalidRequest,
			"invalid metric (want latency, error_rate, tokens, or fallback_rate)")
		return
	}
	intervalName := r.URL.Query().Get("interval")
	if intervalName == "" {
		intervalName = "1h"
	}
	interval, err := observability.ParseInterval(intervalName)
	if err != nil {
		writeError(w, http.StatusBadRequest, gwerrors.TagInvalidRequest, err.Error())
		return
	}

	points, err := h.store.TimeSeries(r.Context(), q, metric, interval)
	if err != nil {
		h.logger.Error("time series query failed", "error", err)
		writeError(w, http.StatusInternalServerError, gwerrors.TagServerError, "time series query failed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"metric":   metric,
		"interval": intervalName,
		"points":   points,
	})
}

func (h *Handler) handleBreakers(w http.ResponseWriter, r *http.Request) {
	if !h.isAdmin(r) {
		writeError(w, http.StatusForbidden, gwerrors.TagPermission, "admin role required")
		return
	}

	out := make(map[string]resilience.Snapshot)
	for _, snap := range h.breakers.Snapshots() {
		out[snap.Provider] = snap
	}
	writeJSON(w, http.StatusOK, out)
}

func (h *Handler) handleBreakerReset(w http.ResponseWriter, r *http.Request) {
	if !h.isAdmin(r) {
		writeError(w, http.StatusForbidden, gwerrors.TagPermission, "admin role required")
		return
	}

	provider := r.PathValue("provider")
	if !h.breakers.Reset(provider) {
		writeError(w, http.StatusNotFound, gwerrors.TagNotFound, "no circuit breaker for provider "+provider)
		return
	}
	h.logger.Info("circuit breaker reset", "provider", provider)

	// Resetting an already-closed breaker fires no state transition, so
	// the stored snapshot is refreshed here rather than via the
	// transition hook.
	if snap, ok := h.breakers.Snapshot(provider); ok {
		row := observability.BreakerSnapshot{
			Provider:        snap.Provider,
			State:           snap.State,
			FailureCount:    snap.FailureCount,
			LastFailureTime: snap.LastFailure,
			LastSuccessTime: snap.LastSuccess,
			OpenedAt:        snap.OpenedAt,
			UpdatedAt:       time.Now().UTC(),
		}
		if err := h.store.UpsertBreakerSnapshot(r.Context(), &row); err != nil {
			h.logger.Error("persisting breaker reset failed", "provider", provider, "error", err)
		}
	}

	writeJSON(w, http.StatusOK, map[string]string{
		"status":   "reset",
		"provider": provider,
	})
}
