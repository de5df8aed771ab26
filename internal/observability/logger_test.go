package observability

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"strings"
	"testing"
)

func newBufferLogger(redactor *Redactor, level slog.Level) (*slog.Logger, *bytes.Buffer) {
	var buf bytes.Buffer
	logger := NewLogger(LoggerConfig{
		Level:      level,
		Output:     &buf,
		JSONFormat: true,
	}, redactor)
	return logger, &buf
}

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in   string
		want slog.Level
	}{
		{"debug", slog.LevelDebug},
		{"info", slog.LevelInfo},
		{"warn", slog.LevelWarn},
		{"warning", slog.LevelWarn},
		{"error", slog.LevelError},
		{"ERROR", slog.LevelError},
		{"nonsense", slog.LevelInfo},
		{"", slog.LevelInfo},
	}
	for _, tt := range tests {
		if got := ParseLevel(tt.in); got != tt.want {
			t.Errorf("ParseLevel(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestLoggerRedactsMessage(t *testing.T) {
	logger, buf := newBufferLogger(NewRedactor(), slog.LevelInfo)
	logger.Info("API key is sk-1234567890abcdefghijklmnop")

	output := buf.String()
	if strings.Contains(output, "sk-1234567890") {
		t.Errorf("expected API key to be redacted, got %s", output)
	}
	if !strings.Contains(output, "[REDACTED_API_KEY]") {
		t.Errorf("expected redaction marker, got %s", output)
	}
}

func TestLoggerRedactsStringAttrs(t *testing.T) {
	logger, buf := newBufferLogger(NewRedactor(), slog.LevelInfo)
	logger.Info("request", "key", "sk-1234567890abcdefghijklmnop")

	if strings.Contains(buf.String(), "sk-1234567890") {
		t.Errorf("expected key attribute to be redacted, got %s", buf.String())
	}
}

func TestLoggerRedactsErrorAttrs(t *testing.T) {
	logger, buf := newBufferLogger(NewRedactor(), slog.LevelInfo)
	err := errors.New("failed with key sk-1234567890abcdefghijklmnop")
	logger.Error("operation failed", "error", err)

	if strings.Contains(buf.String(), "sk-1234567890") {
		t.Errorf("expected error message to be redacted, got %s", buf.String())
	}
}

func TestLoggerRedactsWithAttrs(t *testing.T) {
	logger, buf := newBufferLogger(NewRedactor(), slog.LevelInfo)
	logger.With("token", "sk-1234567890abcdefghijklmnop").Info("request handled")

	if strings.Contains(buf.String(), "sk-1234567890") {
		t.Errorf("expected pre-bound attribute to be redacted, got %s", buf.String())
	}
}

func TestLoggerWithoutRedactor(t *testing.T) {
	logger, buf := newBufferLogger(nil, slog.LevelInfo)
	logger.Info("API key is sk-1234567890abcdefghijklmnop")

	if !strings.Contains(buf.String(), "sk-1234567890") {
		t.Errorf("expected no redaction without a redactor")
	}
}

func TestLoggerLevelFiltering(t *testing.T) {
	logger, buf := newBufferLogger(NewRedactor(), slog.LevelWarn)
	logger.Info("below the threshold")
	logger.Warn("at the threshold")

	output := buf.String()
	if strings.Contains(output, "below the threshold") {
		t.Errorf("info record should be filtered at warn level")
	}
	if !strings.Contains(output, "at the threshold") {
		t.Errorf("warn record should pass")
	}
}

func TestWithRequestID(t *testing.T) {
	logger, buf := newBufferLogger(nil, slog.LevelInfo)

	ctx := ContextWithRequestID(context.Background(), "test-req-123")
	WithRequestID(ctx, logger).Info("test message")

	if !strings.Contains(buf.String(), "test-req-123") {
		t.Errorf("expected request id in output, got %s", buf.String())
	}
}

func TestWithRequestIDAbsent(t *testing.T) {
	logger, _ := newBufferLogger(nil, slog.LevelInfo)
	if got := WithRequestID(context.Background(), logger); got != logger {
		t.Error("expected same logger when context has no request id")
	}
}

func TestLoggerTextFormat(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(LoggerConfig{
		Level:  slog.LevelInfo,
		Output: &buf,
	}, nil)
	logger.Info("test message")

	if strings.Contains(buf.String(), "{") {
		t.Errorf("expected text format, got JSON-like output: %s", buf.String())
	}
}
