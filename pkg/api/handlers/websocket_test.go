package handlers

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/sagaflow/sagaflow/pkg/logger"
	"github.com/sagaflow/sagaflow/pkg/saga"
)

func newWebSocketHandlerForTest(t *testing.T, cfg WebSocketConfig) (*WebSocketHandler, *httptest.Server) {
	t.Helper()

	log := logger.New(&logger.Config{Level: logger.ErrorLevel, Format: "json", Output: "stdout"})
	handler := NewWebSocketHandler(log, cfg)
	server := httptest.NewServer(handler)

	t.Cleanup(func() {
		handler.Close()
		server.Close()
	})
	return handler, server
}

func dialWebSocket(t *testing.T, server *httptest.Server) *websocket.Conn {
	t.Helper()

	wsURL := "ws" + strings.TrimPrefix(server.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("dial websocket: %v", err)
	}
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

func readEvent(t *testing.T, conn *websocket.Conn, timeout time.Duration) EventMessage {
	t.Helper()

	_ = conn.SetReadDeadline(time.Now().Add(timeout))
	_, data, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("read websocket message: %v", err)
	}
	var event EventMessage
	if err := json.Unmarshal(data, &event); err != nil {
		t.Fatalf("unmarshal event: %v", err)
	}
	return event
}

func TestWebSocketBroadcastReachesClient(t *testing.T) {
	handler, server := newWebSocketHandlerForTest(t, WebSocketConfig{})
	conn := dialWebSocket(t, server)

	waitForClients(t, handler, 1)

	err := handler.Broadcast(EventMessage{
		Type:    "saga-started",
		Payload: map[string]any{"saga_id": "s-1"},
	})
	if err != nil {
		t.Fatalf("Broadcast() error = %v", err)
	}

	event := readEvent(t, conn, 2*time.Second)
	if event.Type != "saga-started" {
		t.Fatalf("event type = %q", event.Type)
	}
	if event.Timestamp.IsZero() {
		t.Fatal("expected broadcast to stamp timestamp")
	}
	payload, ok := event.Payload.(map[string]any)
	if !ok || payload["saga_id"] != "s-1" {
		t.Fatalf("payload = %v", event.Payload)
	}
}

func TestWebSocketSubscriptionFiltersBySagaID(t *testing.T) {
	handler, server := newWebSocketHandlerForTest(t, WebSocketConfig{})
	conn := dialWebSocket(t, server)

	waitForClients(t, handler, 1)

	sub := map[string]any{"type": "subscribe", "saga_id": "s-wanted"}
	if err := conn.WriteJSON(sub); err != nil {
		t.Fatalf("write subscribe: %v", err)
	}
	// Let the read pump apply the subscription before broadcasting.
	time.Sleep(50 * time.Millisecond)

	_ = handler.Broadcast(EventMessage{Type: "saga-started", Payload: map[string]any{"saga_id": "s-other"}})
	_ = handler.Broadcast(EventMessage{Type: "saga-completed", Payload: map[string]any{"saga_id": "s-wanted"}})

	event := readEvent(t, conn, 2*time.Second)
	if event.Type != "saga-completed" {
		t.Fatalf("event type = %q, want the subscribed saga only", event.Type)
	}
}

func TestWebSocketConnectionLimit(t *testing.T) {
	_, server := newWebSocketHandlerForTest(t, WebSocketConfig{MaxConnections: 1})

	dialWebSocket(t, server)

	wsURL := "ws" + strings.TrimPrefix(server.URL, "http")
	_, resp, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err == nil {
		t.Fatal("expected second dial to be rejected")
	}
	if resp == nil || resp.StatusCode != http.StatusServiceUnavailable {
		t.Fatalf("expected 503 rejection, got %v", resp)
	}
}

func TestWebSocketRequiresUpgrade(t *testing.T) {
	_, server := newWebSocketHandlerForTest(t, WebSocketConfig{})

	resp, err := http.Get(server.URL)
	if err != nil {
		t.Fatalf("plain GET: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", resp.StatusCode)
	}
}

func TestWebSocketSinkBridgesSagaEvents(t *testing.T) {
	handler, server := newWebSocketHandlerForTest(t, WebSocketConfig{})
	conn := dialWebSocket(t, server)

	waitForClients(t, handler, 1)

	sink := handler.Sink()
	sink.Emit(saga.Event{
		SagaID:    "s-bridge",
		Kind:      saga.EventStepFailed,
		StepName:  "reserve-inventory",
		Error:     "inventory shortfall",
		Timestamp: time.Now().UTC(),
	})

	event := readEvent(t, conn, 2*time.Second)
	if event.Type != string(saga.EventStepFailed) {
		t.Fatalf("event type = %q", event.Type)
	}
	payload, ok := event.Payload.(map[string]any)
	if !ok {
		t.Fatalf("payload = %v", event.Payload)
	}
	if payload["saga_id"] != "s-bridge" || payload["step_name"] != "reserve-inventory" {
		t.Fatalf("payload = %v", payload)
	}
	if payload["error"] != "inventory shortfall" {
		t.Fatalf("payload error = %v", payload["error"])
	}
}

func waitForClients(t *testing.T, handler *WebSocketHandler, want int) {
	t.Helper()

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if handler.manager.Count() >= want {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("expected %d registered clients", want)
}
