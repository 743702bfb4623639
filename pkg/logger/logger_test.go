package logger

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"go.opentelemetry.io/otel/trace"
)

// fileLogger builds a JSON logger writing to a temp file and returns a
// function that reads back the decoded log lines.
func fileLogger(t *testing.T, level Level) (Logger, func() []map[string]any) {
	t.Helper()

	path := filepath.Join(t.TempDir(), "out.log")
	log := New(&Config{Level: level, Format: "json", Output: path})

	return log, func() []map[string]any {
		if sl, ok := log.(*SlogLogger); ok {
			_ = sl.Close()
		}
		raw, err := os.ReadFile(path)
		if err != nil {
			t.Fatalf("read log file: %v", err)
		}
		var entries []map[string]any
		for _, line := range strings.Split(strings.TrimSpace(string(raw)), "\n") {
			if line == "" {
				continue
			}
			var entry map[string]any
			if err := json.Unmarshal([]byte(line), &entry); err != nil {
				t.Fatalf("decode log line %q: %v", line, err)
			}
			entries = append(entries, entry)
		}
		return entries
	}
}

func TestParseLevel(t *testing.T) {
	tests := []struct {
		input    string
		expected Level
	}{
		{"debug", DebugLevel},
		{"info", InfoLevel},
		{"warn", WarnLevel},
		{"warning", WarnLevel},
		{"error", ErrorLevel},
		{"unknown", InfoLevel},
		{"", InfoLevel},
	}
	for _, tt := range tests {
		if got := ParseLevel(tt.input); got != tt.expected {
			t.Errorf("ParseLevel(%q) = %v, want %v", tt.input, got, tt.expected)
		}
	}
}

func TestLevelString(t *testing.T) {
	tests := []struct {
		level    Level
		expected string
	}{
		{DebugLevel, "debug"},
		{InfoLevel, "info"},
		{WarnLevel, "warn"},
		{ErrorLevel, "error"},
		{Level(99), "unknown"},
	}
	for _, tt := range tests {
		if got := tt.level.String(); got != tt.expected {
			t.Errorf("Level(%d).String() = %q, want %q", tt.level, got, tt.expected)
		}
	}
}

func TestNewNilConfigUsesDefaults(t *testing.T) {
	if log := New(nil); log == nil {
		t.Fatal("expected non-nil logger")
	}
}

func TestJSONOutputCarriesStructuredFields(t *testing.T) {
	log, read := fileLogger(t, InfoLevel)

	log.Info("saga completed", "saga_id", "s-1", "steps", 3)

	entries := read()
	if len(entries) != 1 {
		t.Fatalf("entries = %d, want 1", len(entries))
	}
	entry := entries[0]
	if entry["message"] != "saga completed" {
		t.Errorf("message = %v", entry["message"])
	}
	if entry["saga_id"] != "s-1" {
		t.Errorf("saga_id = %v", entry["saga_id"])
	}
	if entry["steps"] != float64(3) {
		t.Errorf("steps = %v", entry["steps"])
	}
	if entry["level"] != "INFO" {
		t.Errorf("level = %v", entry["level"])
	}
}

func TestLevelFiltering(t *testing.T) {
	log, read := fileLogger(t, WarnLevel)

	log.Debug("dropped")
	log.Info("dropped too")
	log.Warn("kept")
	log.Error("also kept")

	entries := read()
	if len(entries) != 2 {
		t.Fatalf("entries = %d, want 2", len(entries))
	}
	if entries[0]["message"] != "kept" || entries[1]["message"] != "also kept" {
		t.Errorf("unexpected messages: %v, %v", entries[0]["message"], entries[1]["message"])
	}
}

func TestSetLevelTakesEffect(t *testing.T) {
	log, read := fileLogger(t, ErrorLevel)

	log.Info("dropped")
	log.SetLevel(InfoLevel)
	log.Info("kept")

	entries := read()
	if len(entries) != 1 {
		t.Fatalf("entries = %d, want 1", len(entries))
	}
	if entries[0]["message"] != "kept" {
		t.Errorf("message = %v", entries[0]["message"])
	}
}

func TestWithAttachesFields(t *testing.T) {
	log, read := fileLogger(t, InfoLevel)

	log.With("component", "orchestrator").Info("ready")

	entries := read()
	if len(entries) != 1 {
		t.Fatalf("entries = %d, want 1", len(entries))
	}
	if entries[0]["component"] != "orchestrator" {
		t.Errorf("component = %v", entries[0]["component"])
	}
}

func TestContextLoggingEnrichesWithTraceIDs(t *testing.T) {
	log, read := fileLogger(t, InfoLevel)

	traceID, _ := trace.TraceIDFromHex("0102030405060708090a0b0c0d0e0f10")
	spanID, _ := trace.SpanIDFromHex("0102030405060708")
	ctx := trace.ContextWithSpanContext(context.Background(), trace.NewSpanContext(trace.SpanContextConfig{
		TraceID: traceID,
		SpanID:  spanID,
	}))

	log.InfoContext(ctx, "step started", "step", "charge-payment")
	log.InfoContext(context.Background(), "no span here")

	entries := read()
	if len(entries) != 2 {
		t.Fatalf("entries = %d, want 2", len(entries))
	}
	if entries[0]["trace_id"] != traceID.String() {
		t.Errorf("trace_id = %v, want %s", entries[0]["trace_id"], traceID)
	}
	if entries[0]["span_id"] != spanID.String() {
		t.Errorf("span_id = %v, want %s", entries[0]["span_id"], spanID)
	}
	if _, ok := entries[1]["trace_id"]; ok {
		t.Error("trace_id must be absent without a span in context")
	}
}

func TestWithContextRoundTrip(t *testing.T) {
	log := New(&Config{Level: InfoLevel, Format: "text", Output: "stdout"})

	ctx := log.WithContext(context.Background())
	if FromContext(ctx) == nil {
		t.Fatal("expected logger from context")
	}
	if FromContext(context.Background()) == nil {
		t.Fatal("expected global fallback when context has no logger")
	}
}

func TestGlobalConvenienceFunctions(t *testing.T) {
	if Global() == nil {
		t.Fatal("expected non-nil global logger")
	}
	SetGlobal(New(&Config{Level: ErrorLevel, Format: "text", Output: "stdout"}))

	// must not panic
	Debug("debug message", "key", "value")
	Info("info message", "key", "value")
	Warn("warn message", "key", "value")
	Error("error message", "key", "value")

	ctx := context.Background()
	DebugContext(ctx, "debug message")
	InfoContext(ctx, "info message")
	WarnContext(ctx, "warn message")
	ErrorContext(ctx, "error message")

	SetLevel(InfoLevel)
}

func TestCloseBehavior(t *testing.T) {
	t.Run("stdout has nothing to close", func(t *testing.T) {
		log := New(&Config{Level: InfoLevel, Format: "text", Output: "stdout"}).(*SlogLogger)
		if err := log.Close(); err != nil {
			t.Errorf("Close() error = %v", err)
		}
	})

	t.Run("file output flushes on close", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "test.log")
		log := New(&Config{Level: InfoLevel, Format: "json", Output: path}).(*SlogLogger)

		log.Info("before close")
		if err := log.Close(); err != nil {
			t.Errorf("Close() error = %v", err)
		}

		content, err := os.ReadFile(path)
		if err != nil {
			t.Fatalf("read log file: %v", err)
		}
		if len(content) == 0 {
			t.Error("expected log file content")
		}
	})

	t.Run("derived logger shares the underlying writer", func(t *testing.T) {
		log := New(&Config{Level: InfoLevel, Format: "text", Output: "stdout"}).
			With("component", "test").(*SlogLogger)
		if err := log.Close(); err != nil {
			t.Errorf("Close() error = %v", err)
		}
	})

	t.Run("unwritable path falls back to stdout", func(t *testing.T) {
		log := New(&Config{Level: InfoLevel, Format: "text", Output: "/nonexistent/dir/file.log"}).(*SlogLogger)
		if err := log.Close(); err != nil {
			t.Errorf("Close() error = %v", err)
		}
	})
}

func TestGetWriter(t *testing.T) {
	for _, output := range []string{"stdout", "stderr", ""} {
		if _, closer := getWriter(output); closer != nil {
			t.Errorf("getWriter(%q) returned a closer for a shared stream", output)
		}
	}

	path := filepath.Join(t.TempDir(), "w.log")
	_, closer := getWriter(path)
	if closer == nil {
		t.Fatal("expected a closer for file output")
	}
	_ = closer.Close()
}
