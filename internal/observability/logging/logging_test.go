package logging

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"strings"
	"testing"
)

func TestNewRespectsCustomWriter(t *testing.T) {
	var buf bytes.Buffer

	logger := New(Config{Writer: &buf})
	logger.Info("custom writer")

	if buf.Len() == 0 {
		t.Fatalf("expected output in custom writer, got none")
	}
}

func TestParseLevel(t *testing.T) {
	testCases := []struct {
		name     string
		input    string
		expected slog.Level
	}{
		{name: "debug", input: "debug", expected: slog.LevelDebug},
		{name: "warning", input: "warning", expected: slog.LevelWarn},
		{name: "warn", input: "warn", expected: slog.LevelWarn},
		{name: "error", input: "error", expected: slog.LevelError},
		{name: "info", input: "info", expected: slog.LevelInfo},
		{name: "empty", input: "", expected: slog.LevelInfo},
		{name: "mixed case", input: " DeBuG ", expected: slog.LevelDebug},
	}

	for _, tc := range testCases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			leveler := parseLevel(tc.input)
			if leveler == nil {
				t.Fatalf("expected leveler, got nil")
			}
			if got := leveler.Level(); got != tc.expected {
				t.Fatalf("parseLevel(%q) = %v, want %v", tc.input, got, tc.expected)
			}
		})
	}
}

func TestTextFormatSelectsTextHandler(t *testing.T) {
	var buf bytes.Buffer
	logger := New(Config{Writer: &buf, Format: "text"})
	logger.Info("plain line")
	if strings.HasPrefix(strings.TrimSpace(buf.String()), "{") {
		t.Fatalf("expected text output, got JSON: %s", buf.String())
	}
}

func TestNewCorrelationIDLengthAndUniqueness(t *testing.T) {
	first := NewCorrelationID()
	second := NewCorrelationID()
	if len(first) != 32 {
		t.Fatalf("correlation id length = %d, want 32 hex chars", len(first))
	}
	if first == second {
		t.Fatalf("expected distinct correlation ids")
	}
}

func TestCorrelationIDRoundTrip(t *testing.T) {
	ctx := ContextWithCorrelationID(context.Background(), "abc123")
	id, ok := CorrelationIDFromContext(ctx)
	if !ok || id != "abc123" {
		t.Fatalf("correlation id = %q, %v; want abc123, true", id, ok)
	}

	if _, ok := CorrelationIDFromContext(context.Background()); ok {
		t.Fatalf("expected no correlation id on empty context")
	}
	if ctx := ContextWithCorrelationID(context.Background(), "   "); ctx != context.Background() {
		t.Fatalf("blank correlation id should not modify the context")
	}
}

func TestWithContextAnnotatesCorrelationIDAndSource(t *testing.T) {
	var buf bytes.Buffer
	logger := New(Config{Writer: &buf})

	ctx := ContextWithCorrelationID(context.Background(), "deadbeef")
	ctx = ContextWithSource(ctx, "daily-chronicle")

	WithContext(ctx, logger).Info("annotated")

	var record map[string]any
	if err := json.Unmarshal(buf.Bytes(), &record); err != nil {
		t.Fatalf("decode log line: %v", err)
	}
	if record["correlation_id"] != "deadbeef" {
		t.Fatalf("correlation_id = %v, want deadbeef", record["correlation_id"])
	}
	if record["source"] != "daily-chronicle" {
		t.Fatalf("source = %v, want daily-chronicle", record["source"])
	}
}

func TestLoggerFromContext(t *testing.T) {
	if got := LoggerFromContext(context.Background()); got != nil {
		t.Fatalf("expected nil logger from bare context")
	}
	logger := New(Config{Writer: &bytes.Buffer{}})
	ctx := ContextWithLogger(context.Background(), logger)
	if got := LoggerFromContext(ctx); got != logger {
		t.Fatalf("expected the stored logger back")
	}
}

func TestWithComponentNilSafe(t *testing.T) {
	if got := WithComponent(nil, "scheduler"); got != nil {
		t.Fatalf("expected nil for nil logger")
	}
}
