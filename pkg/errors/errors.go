// Package errors defines the gateway's unified error type and taxonomy.
// Every provider failure is mapped to a GatewayError carrying one of the
// taxonomy tags, which drive circuit-breaker accounting, fallback
// decisions, and the HTTP status returned to callers.
package errors

import (
	"fmt"
	"net/http"
)

// Taxonomy tags. Breaker-relevant tags are Timeout, ServerError, Network
// and Unknown; the rest describe caller or configuration faults that
// retrying another candidate cannot fix but fallback still attempts.
const (
	TagInvalidRequest     = "invalid_request"
	TagAuthentication     = "authentication"
	TagPermission         = "permission"
	TagNotFound           = "not_found"
	TagTimeout            = "timeout"
	TagRateLimit          = "rate_limit"
	TagServerError        = "server_error"
	TagNetwork            = "network"
	TagUnknown            = "unknown"
	TagCircuitBreakerOpen = "circuit_breaker_open"
	TagAllFallbacksFailed = "all_fallbacks_failed"
)

// ErrorShortLimit caps the stored short form of an error message.
const ErrorShortLimit = 200

// GatewayError is a classified failure from a provider call or from the
// gateway itself.
type GatewayError struct {
	StatusCode int    `json:"status_code"`
	Message    string `json:"message"`
	Tag        string `json:"tag"`
	Provider   string `json:"provider,omitempty"`
	Model      string `json:"model,omitempty"`
}

// Error implements the error interface.
func (e *GatewayError) Error() string {
	if e.Provider == "" && e.Model == "" {
		return fmt.Sprintf("[%s] %s (code=%d)", e.Tag, e.Message, e.StatusCode)
	}
	return fmt.Sprintf("[%s] %s (provider=%s, model=%s, code=%d)",
		e.Tag, e.Message, e.Provider, e.Model, e.StatusCode)
}

// HTTPStatusCode returns the status to surface to HTTP callers.
func (e *GatewayError) HTTPStatusCode() int {
	if e.StatusCode > 0 {
		return e.StatusCode
	}
	return http.StatusInternalServerError
}

// New builds a GatewayError with an explicit tag and status.
func New(statusCode int, tag, provider, model, message string) *GatewayError {
	return &GatewayError{
		StatusCode: statusCode,
		Message:    message,
		Tag:        tag,
		Provider:   provider,
		Model:      model,
	}
}

// NewTimeout creates a timeout error (408).
func NewTimeout(provider, model, message string) *GatewayError {
	return New(http.StatusRequestTimeout, TagTimeout, provider, model, message)
}

// NewNetwork creates a transport-level error (502).
func NewNetwork(provider, model, message string) *GatewayError {
	return New(http.StatusBadGateway, TagNetwork, provider, model, message)
}

// NewCircuitOpen creates the synthesized breaker-rejection error (503).
func NewCircuitOpen(provider, model string) *GatewayError {
	return New(http.StatusServiceUnavailable, TagCircuitBreakerOpen, provider, model,
		"Circuit breaker is open")
}

// NewAllFallbacksFailed creates the chain-exhausted error (500).
func NewAllFallbacksFailed(message string) *GatewayError {
	return New(http.StatusInternalServerError, TagAllFallbacksFailed, "", "", message)
}

// NewUnknown creates an unclassified error (500).
func NewUnknown(provider, model, message string) *GatewayError {
	return New(http.StatusInternalServerError, TagUnknown, provider, model, message)
}

// FromStatusCode classifies an upstream HTTP status into a GatewayError.
func FromStatusCode(statusCode int, provider, model, message string) *GatewayError {
	return New(statusCode, TagForStatus(statusCode), provider, model, message)
}

// TagForStatus maps an upstream HTTP status to a taxonomy tag.
func TagForStatus(statusCode int) string {
	switch {
	case statusCode == http.StatusBadRequest:
		return TagInvalidRequest
	case statusCode == http.StatusUnauthorized:
		return TagAuthentication
	case statusCode == http.StatusForbidden:
		return TagPermission
	case statusCode == http.StatusNotFound:
		return TagNotFound
	case statusCode == http.StatusRequestTimeout:
		return TagTimeout
	case statusCode == http.StatusTooManyRequests:
		return TagRateLimit
	case statusCode >= 500:
		return TagServerError
	default:
		return TagUnknown
	}
}

// CountsForBreaker reports whether failures with this tag charge the
// provider's circuit breaker. Caller faults (4xx except 408) do not.
func CountsForBreaker(tag string) bool {
	switch tag {
	case TagServerError, TagTimeout, TagNetwork, TagUnknown:
		return true
	default:
		return false
	}
}

// Truncate shortens a message to ErrorShortLimit characters for log
// storage.
func Truncate(message string) string {
	if len(message) <= ErrorShortLimit {
		return message
	}
	return message[:ErrorShortLimit]
}
