package api

import (
	stderrors "errors"
	"net/http"
	"strconv"
	"time"

	"github.com/modelgate/modelgate/internal/observability"
	gwerrors "github.com/modelgate/modelgate/pkg/errors"
)

func (h *Handler) handleLogs(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := observability.Filter{
		UserID:      q.Get("user_id"),
		Provider:    q.Get("provider"),
		ModelID:     q.Get("model_id"),
		RouteName:   q.Get("route"),
		ErrorsOnly:  q.Get("errors_only") == "true",
		RAGUsedOnly: q.Get("rag_only") == "true",
	}
	if v := q.Get("start"); v != "" {
		ts, err := time.Parse(time.RFC3339, v)
		if err != nil {
			writeError(w, http.StatusBadRequest, gwerrors.TagInvalidRequest, "invalid start timestamp")
			return
		}
		filter.Start = ts
	}
	if v := q.Get("end"); v != "" {
		ts, err := time.Parse(time.RFC3339, v)
		if err != nil {
			writeError(w, http.StatusBadRequest, gwerrors.TagInvalidRequest, "invalid end timestamp")
			return
		}
		filter.End = ts
	}
	if v := q.Get("limit"); v != "" {
		filter.Limit, _ = strconv.Atoi(v)
	}
	if v := q.Get("offset"); v != "" {
		filter.Offset, _ = strconv.Atoi(v)
	}

	// Non-admin callers only ever see their own traffic.
	if !h.isAdmin(r) {
		caller := h.callerID(r)
		if caller == "" {
			writeError(w, http.StatusForbidden, gwerrors.TagPermission, "admin role required to list all logs")
			return
		}
		filter.UserID = caller
	}

	logs, err := h.store.RequestLogs(r.Context(), filter)
	if err != nil {
		h.logger.Error("log query failed", "error", err)
		writeError(w, http.StatusInternalServerError, gwerrors.TagServerError, "log query failed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"logs":  logs,
		"count": len(logs),
	})
}

// logDetail is the by-id response: the request log plus its RAG trace
// when one exists.
type logDetail struct {
	observability.RequestLog
	RAGDetails *observability.RAGLog `json:"rag_details,omitempty"`
}

func (h *Handler) handleLogByID(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")

	log, err := h.store.RequestLog(r.Context(), id)
	if err != nil {
		if stderrors.Is(err, observability.ErrNotFound) {
			writeError(w, http.StatusNotFound, gwerrors.TagNotFound, "request log not found")
			return
		}
		h.logger.Error("log lookup failed", "id", id, "error", err)
		writeError(w, http.StatusInternalServerError, gwerrors.TagServerError, "log lookup failed")
		return
	}

	if !h.isAdmin(r) && log.UserID != h.callerID(r) {
		writeError(w, http.StatusForbidden, gwerrors.TagPermission, "not the owner of this request")
		return
	}

	detail := logDetail{RequestLog: *log}
	if rag, err := h.store.RAGLogByRequestID(r.Context(), id); err == nil {
		detail.RAGDetails = rag
	}
	writeJSON(w, http.StatusOK, detail)
}

func (h *Handler) handleRAGLog(w http.ResponseWriter, r *http.Request) {
	requestID := r.PathValue("request_id")

	log, err := h.store.RequestLog(r.Context(), requestID)
	if err != nil {
		if stderrors.Is(err, observability.ErrNotFound) {
			writeError(w, http.StatusNotFound, gwerrors.TagNotFound, "request log not found")
			return
		}
		writeError(w, http.StatusInternalServerError, gwerrors.TagServerError, "log lookup failed")
		return
	}
	if !h.isAdmin(r) && log.UserID != h.callerID(r) {
		writeError(w, http.StatusForbidden, gwerrors.TagPermission, "not the owner of this request")
		return
	}

	rag, err := h.store.RAGLogByRequestID(r.Context(), requestID)
	if err != nil {
		if stderrors.Is(err, observability.ErrNotFound) {
			writeError(w, http.StatusNotFound, gwerrors.TagNotFound, "no RAG trace for this request")
			return
		}
		writeError(w, http.StatusInternalServerError, gwerrors.TagServerError, "rag log lookup failed")
		return
	}
	writeJSON(w, http.StatusOK, rag)
}
