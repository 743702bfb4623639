package middleware

import (
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/sagaflow/sagaflow/pkg/logger"
)

// recordingLogger captures Info calls for assertions.
type recordingLogger struct {
	logger.Logger

	mu      sync.Mutex
	entries []logEntry
}

type logEntry struct {
	msg  string
	args []any
}

func newRecordingLogger() *recordingLogger {
	return &recordingLogger{
		Logger: logger.New(&logger.Config{Level: logger.ErrorLevel, Format: "json", Output: "stdout"}),
	}
}

func (l *recordingLogger) Info(msg string, args ...any) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.entries = append(l.entries, logEntry{msg: msg, args: args})
}

func (l *recordingLogger) last() (logEntry, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if len(l.entries) == 0 {
		return logEntry{}, false
	}
	return l.entries[len(l.entries)-1], true
}

func TestLoggerRecordsRequestFields(t *testing.T) {
	log := newRecordingLogger()
	handler := Logger(log)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		_, _ = w.Write([]byte(`{"error":"missing"}`))
	}))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/sagas/unknown", nil))

	entry, ok := log.last()
	if !ok {
		t.Fatal("expected one log entry")
	}
	if entry.msg != "HTTP request" {
		t.Fatalf("msg = %q, want HTTP request", entry.msg)
	}

	fields := argsToMap(t, entry.args)
	if fields["method"] != http.MethodGet {
		t.Fatalf("method field = %v", fields["method"])
	}
	if fields["path"] != "/api/v1/sagas/unknown" {
		t.Fatalf("path field = %v", fields["path"])
	}
	if fields["status"] != http.StatusNotFound {
		t.Fatalf("status field = %v, want 404", fields["status"])
	}
	if size, ok := fields["size"].(int); !ok || size <= 0 {
		t.Fatalf("size field = %v, want positive int", fields["size"])
	}
}

func TestLoggerDefaultsStatusToOK(t *testing.T) {
	log := newRecordingLogger()
	handler := Logger(log)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("ok"))
	}))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))

	entry, ok := log.last()
	if !ok {
		t.Fatal("expected one log entry")
	}
	fields := argsToMap(t, entry.args)
	if fields["status"] != http.StatusOK {
		t.Fatalf("status field = %v, want 200", fields["status"])
	}
}

func argsToMap(t *testing.T, args []any) map[string]any {
	t.Helper()
	if len(args)%2 != 0 {
		t.Fatalf("odd number of log args: %d", len(args))
	}
	fields := make(map[string]any, len(args)/2)
	for i := 0; i < len(args); i += 2 {
		key, ok := args[i].(string)
		if !ok {
			t.Fatalf("non-string log key at %d: %v", i, args[i])
		}
		fields[key] = args[i+1]
	}
	return fields
}
