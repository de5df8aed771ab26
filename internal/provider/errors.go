package provider

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/goccy/go-json"

	gwerrors "github.com/modelgate/modelgate/pkg/errors"
)

// upstreamError is the error envelope both OpenAI-style and Anthropic
// upstreams return.
type upstreamError struct {
	Error struct {
		Message string `json:"message"`
		Type    string `json:"type"`
		Code    any    `json:"code"`
	} `json:"error"`
}

// MapError classifies an upstream non-2xx response into a GatewayError.
// The error body is parsed for the conventional error.message field,
// with a raw-text fallback when the body is not that shape.
func MapError(statusCode int, body []byte, providerName, model string) *gwerrors.GatewayError {
	message := fmt.Sprintf("upstream returned status %d", statusCode)

	var envelope upstreamError
	if err := json.Unmarshal(body, &envelope); err == nil && envelope.Error.Message != "" {
		message = envelope.Error.Message
	} else if trimmed := strings.TrimSpace(string(body)); trimmed != "" {
		message = trimmed
	}

	return gwerrors.FromStatusCode(statusCode, providerName, model, message)
}

// MapTransportError classifies a failed HTTP round trip: context
// deadline and cancellation become timeout, everything else network.
func MapTransportError(err error, providerName, model string) *gwerrors.GatewayError {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return gwerrors.NewTimeout(providerName, model, err.Error())
	}
	return gwerrors.NewNetwork(providerName, model, err.Error())
}

// IsSuccess reports whether the upstream status is in the 2xx range.
func IsSuccess(statusCode int) bool {
	return statusCode >= http.StatusOK && statusCode < http.StatusMultipleChoices
}
