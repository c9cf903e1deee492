package ws

import (
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/webhookd/webhookd/internal/engine"
)

func newTestHub(t *testing.T) (*Hub, *httptest.Server) {
	t.Helper()
	hub := NewHub(slog.New(slog.NewTextHandler(io.Discard, nil)))
	go hub.Run()

	srv := httptest.NewServer(http.HandlerFunc(hub.HandleWebSocket))
	t.Cleanup(srv.Close)
	return hub, srv
}

func dial(t *testing.T, srv *httptest.Server) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dialing websocket: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

func waitForClients(t *testing.T, hub *Hub, want int) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if hub.ClientCount() == want {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("ClientCount never reached %d, got %d", want, hub.ClientCount())
}

func TestHub_BroadcastsLifecycleUpdates(t *testing.T) {
	hub, srv := newTestHub(t)
	conn := dial(t, srv)
	waitForClients(t, hub, 1)

	hub.Publish(engine.LifecycleUpdate{
		Stage:     engine.StageCompleted,
		EventID:   "evt-1",
		Source:    "stripe",
		EventType: "charge.succeeded",
		Status:    "completed",
		Timestamp: time.Now(),
	})

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, msg, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("reading broadcast: %v", err)
	}

	var update engine.LifecycleUpdate
	if err := json.Unmarshal(msg, &update); err != nil {
		t.Fatalf("decoding broadcast: %v", err)
	}
	if update.Stage != engine.StageCompleted || update.EventID != "evt-1" {
		t.Errorf("update = %+v, want completed evt-1", update)
	}
}

func TestHub_FansOutToAllClients(t *testing.T) {
	hub, srv := newTestHub(t)
	a := dial(t, srv)
	b := dial(t, srv)
	waitForClients(t, hub, 2)

	hub.Publish(engine.LifecycleUpdate{Stage: engine.StageReceived, EventID: "evt-2"})

	for _, conn := range []*websocket.Conn{a, b} {
		conn.SetReadDeadline(time.Now().Add(2 * time.Second))
		_, msg, err := conn.ReadMessage()
		if err != nil {
			t.Fatalf("reading broadcast: %v", err)
		}
		var update engine.LifecycleUpdate
		if err := json.Unmarshal(msg, &update); err != nil {
			t.Fatalf("decoding broadcast: %v", err)
		}
		if update.EventID != "evt-2" {
			t.Errorf("EventID = %q, want evt-2", update.EventID)
		}
	}
}

func TestHub_DisconnectUnregisters(t *testing.T) {
	hub, srv := newTestHub(t)
	conn := dial(t, srv)
	waitForClients(t, hub, 1)

	conn.Close()
	waitForClients(t, hub, 0)
}

func TestHub_PublishNeverBlocks(t *testing.T) {
	hub := NewHub(slog.New(slog.NewTextHandler(io.Discard, nil)))
	// Hub not running: the broadcast buffer fills, then updates drop.
	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < 1000; i++ {
			hub.Publish(engine.LifecycleUpdate{EventID: "evt"})
		}
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Publish blocked on a full broadcast buffer")
	}
}
