package metrics

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSanitizeModelLabel(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"gpt-4", "gpt-4"},
		{"openai/gpt-4", "openai/gpt-4"},
		{"  deepseek-chat  ", "deepseek-chat"},
		{"weird model!", "weird_model"},
		{"", "unknown"},
		{"***", "unknown"},
		{strings.Repeat("a", 200), strings.Repeat("a", maxModelLabelLen)},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, sanitizeModelLabel(tt.in), "input %q", tt.in)
	}
}

func TestPathLabel(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"/completion", "/completion"},
		{"/logs/abc-123", "/logs"},
		{"/circuit-breakers/openai/reset", "/circuit-breakers"},
		{"/", "/"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, pathLabel(tt.in), "input %q", tt.in)
	}
}

func TestMiddlewarePassesThrough(t *testing.T) {
	handler := Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
		_, _ = w.Write([]byte("short and stout"))
	}))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))

	assert.Equal(t, http.StatusTeapot, rec.Code)
	assert.Equal(t, "short and stout", rec.Body.String())
}

func TestStatusRecorderFlush(t *testing.T) {
	rec := httptest.NewRecorder()
	sr := &statusRecorder{ResponseWriter: rec, statusCode: http.StatusOK}
	var _ http.Flusher = sr
	sr.Flush()
	assert.True(t, rec.Flushed)
}
