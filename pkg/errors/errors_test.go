package errors

import (
	"net/http"
	"strings"
	"testing"
)

func TestTagForStatus(t *testing.T) {
	tests := []struct {
		name       string
		statusCode int
		want       string
	}{
		{"bad request 400", http.StatusBadRequest, TagInvalidRequest},
		{"unauthorized 401", http.StatusUnauthorized, TagAuthentication},
		{"forbidden 403", http.StatusForbidden, TagPermission},
		{"not found 404", http.StatusNotFound, TagNotFound},
		{"timeout 408", http.StatusRequestTimeout, TagTimeout},
		{"rate limit 429", http.StatusTooManyRequests, TagRateLimit},
		{"internal error 500", http.StatusInternalServerError, TagServerError},
		{"bad gateway 502", http.StatusBadGateway, TagServerError},
		{"service unavailable 503", http.StatusServiceUnavailable, TagServerError},
		{"conflict 409", http.StatusConflict, TagUnknown},
		{"unprocessable 422", http.StatusUnprocessableEntity, TagUnknown},
		{"teapot 418", http.StatusTeapot, TagUnknown},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := TagForStatus(tt.statusCode)
			if got != tt.want {
				t.Errorf("TagForStatus(%d) = %q, want %q", tt.statusCode, got, tt.want)
			}
		})
	}
}

func TestCountsForBreaker(t *testing.T) {
	tests := []struct {
		tag  string
		want bool
	}{
		// Charge the breaker
		{TagServerError, true},
		{TagTimeout, true},
		{TagNetwork, true},
		{TagUnknown, true},

		// Never charge the breaker
		{TagInvalidRequest, false},
		{TagAuthentication, false},
		{TagPermission, false},
		{TagNotFound, false},
		{TagRateLimit, false},
		{TagCircuitBreakerOpen, false},
		{TagAllFallbacksFailed, false},
	}

	for _, tt := range tests {
		t.Run(tt.tag, func(t *testing.T) {
			if got := CountsForBreaker(tt.tag); got != tt.want {
				t.Errorf("CountsForBreaker(%q) = %v, want %v", tt.tag, got, tt.want)
			}
		})
	}
}

func TestGatewayError(t *testing.T) {
	t.Run("error message format", func(t *testing.T) {
		err := FromStatusCode(429, "openai", "gpt-4", "rate limit exceeded")
		msg := err.Error()

		contains := []string{"rate_limit", "openai", "gpt-4", "429"}
		for _, s := range contains {
			if !strings.Contains(msg, s) {
				t.Errorf("error message should contain %q, got %q", s, msg)
			}
		}
	})

	t.Run("message without provider context", func(t *testing.T) {
		err := NewAllFallbacksFailed("All models in fallback chain failed")
		msg := err.Error()
		if strings.Contains(msg, "provider=") {
			t.Errorf("chain-level error should not carry provider context, got %q", msg)
		}
	})

	t.Run("HTTP status codes", func(t *testing.T) {
		tests := []struct {
			name     string
			err      *GatewayError
			wantCode int
		}{
			{"timeout", NewTimeout("p", "m", "msg"), 408},
			{"network", NewNetwork("p", "m", "msg"), 502},
			{"circuit open", NewCircuitOpen("p", "m"), 503},
			{"all fallbacks failed", NewAllFallbacksFailed("msg"), 500},
			{"unknown", NewUnknown("p", "m", "msg"), 500},
			{"zero status defaults to 500", &GatewayError{Tag: TagUnknown}, 500},
		}

		for _, tt := range tests {
			t.Run(tt.name, func(t *testing.T) {
				if got := tt.err.HTTPStatusCode(); got != tt.wantCode {
					t.Errorf("HTTPStatusCode() = %d, want %d", got, tt.wantCode)
				}
			})
		}
	})
}

func TestTruncate(t *testing.T) {
	short := "connection refused"
	if got := Truncate(short); got != short {
		t.Errorf("Truncate(%q) = %q, want unchanged", short, got)
	}

	exact := strings.Repeat("a", ErrorShortLimit)
	if got := Truncate(exact); got != exact {
		t.Errorf("Truncate at the limit should be unchanged, got %d chars", len(got))
	}

	long := strings.Repeat("b", ErrorShortLimit+57)
	got := Truncate(long)
	if len(got) != ErrorShortLimit {
		t.Errorf("Truncate over the limit = %d chars, want %d", len(got), ErrorShortLimit)
	}
}
