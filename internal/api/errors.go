package api

import (
	stderrors "errors"
	"net/http"

	"github.com/goccy/go-json"

	gwerrors "github.com/modelgate/modelgate/pkg/errors"
)

// ErrorResponse is the OpenAI-style error envelope.
type ErrorResponse struct {
	Error ErrorDetail `json:"error"`
}

// ErrorDetail describes the error payload. Type carries the taxonomy
// tag; Code the provider-facing detail when one exists.
type ErrorDetail struct {
	Message string `json:"message"`
	Type    string `json:"type"`
	Code    string `json:"code,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, tag, message string) {
	writeJSON(w, status, ErrorResponse{Error: ErrorDetail{
		Message: message,
		Type:    tag,
	}})
}

// writeGatewayError maps a pipeline error back to its HTTP status.
func writeGatewayError(w http.ResponseWriter, err error) {
	var gerr *gwerrors.GatewayError
	if stderrors.As(err, &gerr) {
		writeJSON(w, gerr.HTTPStatusCode(), ErrorResponse{Error: ErrorDetail{
			Message: gerr.Message,
			Type:    gerr.Tag,
			Code:    gerr.Provider,
		}})
		return
	}
	writeError(w, http.StatusInternalServerError, gwerrors.TagUnknown, err.Error())
}
