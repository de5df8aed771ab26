package api

import (
	stderrors "errors"
	"net/http"

	"github.com/goccy/go-json"

	"github.com/modelgate/modelgate/internal/auth"
	"github.com/modelgate/modelgate/internal/httputil"
	gwerrors "github.com/modelgate/modelgate/pkg/errors"
	"github.com/modelgate/modelgate/pkg/types"
)

// maxRequestBodyBytes caps inbound completion bodies.
const maxRequestBodyBytes int64 = 10 * 1024 * 1024

func (h *Handler) handleCompletion(w http.ResponseWriter, r *http.Request) {
	body, err := httputil.ReadLimitedBody(r.Body, maxRequestBodyBytes)
	if err != nil {
		if stderrors.Is(err, httputil.ErrBodyTooLarge) {
			writeError(w, http.StatusRequestEntityTooLarge, gwerrors.TagInvalidRequest, "request body too large")
			return
		}
		writeError(w, http.StatusBadRequest, gwerrors.TagInvalidRequest, "read request body: "+err.Error())
		return
	}

	var req types.CompletionRequest
	if err := json.Unmarshal(body, &req); err != nil {
		writeError(w, http.StatusBadRequest, gwerrors.TagInvalidRequest, "invalid JSON: "+err.Error())
		return
	}
	if err := req.Validate(); err != nil {
		writeError(w, http.StatusBadRequest, gwerrors.TagInvalidRequest, err.Error())
		return
	}

	// An authenticated identity overrides whatever the body claims.
	if id, ok := auth.IdentityFrom(r.Context()); ok {
		req.User = id.CallerID
	}

	if req.Stream {
		if err := h.completer.CompleteStream(r.Context(), &req, w); err != nil {
			writeGatewayError(w, err)
		}
		return
	}

	resp, err := h.completer.Complete(r.Context(), &req)
	if err != nil {
		writeGatewayError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}
