package logging

import (
	"bytes"
	"errors"
	"strings"
	"testing"

	"github.com/rs/zerolog"
)

func TestNewDefaultsToInfoOnUnknownLevel(t *testing.T) {
	logger := New(Options{Level: "not-a-level", Format: "json"})
	if logger.GetLevel() != zerolog.InfoLevel {
		t.Fatalf("expected fallback to info level, got %v", logger.GetLevel())
	}
}

func TestErrorLogsMessageAndFields(t *testing.T) {
	var buf bytes.Buffer
	logger := zerolog.New(&buf)
	Error(logger, errors.New("boom"), "failed to publish", map[string]any{"channel": "orders"})

	out := buf.String()
	if !strings.Contains(out, "failed to publish") || !strings.Contains(out, "boom") || !strings.Contains(out, "orders") {
		t.Fatalf("expected message, error, and field in output, got %s", out)
	}
}

func TestPanicIncludesStackTrace(t *testing.T) {
	var buf bytes.Buffer
	logger := zerolog.New(&buf)
	Panic(logger, "something went wrong", "worker panic recovered", nil)

	out := buf.String()
	if !strings.Contains(out, "stack_trace") {
		t.Fatalf("expected a stack_trace field in output, got %s", out)
	}
}
