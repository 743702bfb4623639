package api

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/sagaflow/sagaflow/config"
	"github.com/sagaflow/sagaflow/pkg/api/handlers"
	"github.com/sagaflow/sagaflow/pkg/logger"
	"github.com/sagaflow/sagaflow/pkg/saga"
)

func newServerForTest(t *testing.T) *HTTPServer {
	t.Helper()

	cfg := config.DefaultConfig()
	cfg.Server.Host = "127.0.0.1"
	cfg.Server.Port = 0

	registry := saga.NewRegistry()
	store := saga.NewMemoryStore()
	orchestrator := saga.NewOrchestrator(registry, saga.WithStateStore(store))
	log := logger.New(&logger.Config{Level: logger.ErrorLevel, Format: "json", Output: "stdout"})

	return NewHTTPServer(cfg, log, &Handlers{
		Saga:   handlers.NewSagaHandler(orchestrator, store, saga.NewRecoveryManager(orchestrator, store, nil), log),
		Health: handlers.NewHealthHandler(orchestrator, store),
		Events: handlers.NewWebSocketHandler(log, handlers.WebSocketConfig{}),
	})
}

func TestNewHTTPServerAppliesConfig(t *testing.T) {
	srv := newServerForTest(t)

	if srv.server.Addr != "127.0.0.1:0" {
		t.Errorf("addr = %q, want 127.0.0.1:0", srv.server.Addr)
	}
	if srv.server.ReadTimeout != srv.config.Server.HTTP.ReadTimeout {
		t.Errorf("read timeout = %v, want %v", srv.server.ReadTimeout, srv.config.Server.HTTP.ReadTimeout)
	}
	if srv.server.WriteTimeout != srv.config.Server.HTTP.WriteTimeout {
		t.Errorf("write timeout = %v, want %v", srv.server.WriteTimeout, srv.config.Server.HTTP.WriteTimeout)
	}
	if srv.Router() == nil {
		t.Error("expected non-nil router")
	}
}

func TestHTTPServerRouterServesRequests(t *testing.T) {
	srv := newServerForTest(t)

	rec := httptest.NewRecorder()
	srv.Router().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("health status = %d, want 200", rec.Code)
	}
}

func TestHTTPServerShutdownBeforeStart(t *testing.T) {
	srv := newServerForTest(t)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		t.Fatalf("shutdown: %v", err)
	}
}
