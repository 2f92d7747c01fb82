package activity

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
)

func newTestHub(t *testing.T) (*Hub, *httptest.Server) {
	t.Helper()

	hub := NewHub(nil, nil)
	server := httptest.NewServer(http.HandlerFunc(hub.Handle))
	t.Cleanup(func() {
		_ = hub.Stop(context.Background())
		server.Close()
	})
	return hub, server
}

func dial(t *testing.T, server *httptest.Server) *websocket.Conn {
	t.Helper()

	url := "ws" + strings.TrimPrefix(server.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { _ = conn.Close() })
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
	t.Fatalf("client count = %d, want %d", hub.ClientCount(), want)
}

func TestHubBroadcastsEvents(t *testing.T) {
	hub, server := newTestHub(t)

	conn := dial(t, server)
	waitForClients(t, hub, 1)

	hub.Publish(Event{
		Type:       EventClassification,
		GuideKey:   "toronto",
		Status:     "succeeded",
		Model:      "gpt-4o-2024-08-06",
		DurationMS: 1200,
	})

	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var got Event
	if err := conn.ReadJSON(&got); err != nil {
		t.Fatalf("read event: %v", err)
	}
	if got.Type != EventClassification {
		t.Errorf("type = %q, want %q", got.Type, EventClassification)
	}
	if got.GuideKey != "toronto" {
		t.Errorf("guide key = %q, want toronto", got.GuideKey)
	}
	if got.Status != "succeeded" {
		t.Errorf("status = %q, want succeeded", got.Status)
	}
	if got.At.IsZero() {
		t.Error("expected publish to stamp the event time")
	}
}

func TestHubBroadcastsToAllClients(t *testing.T) {
	hub, server := newTestHub(t)

	first := dial(t, server)
	second := dial(t, server)
	waitForClients(t, hub, 2)

	hub.Publish(Event{Type: EventGuideReload, Loaded: 3})

	for i, conn := range []*websocket.Conn{first, second} {
		_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
		var got Event
		if err := conn.ReadJSON(&got); err != nil {
			t.Fatalf("client %d read: %v", i, err)
		}
		if got.Loaded != 3 {
			t.Errorf("client %d loaded = %d, want 3", i, got.Loaded)
		}
	}
}

func TestHubStopDisconnectsClients(t *testing.T) {
	hub, server := newTestHub(t)

	conn := dial(t, server)
	waitForClients(t, hub, 1)

	if err := hub.Stop(context.Background()); err != nil {
		t.Fatalf("stop: %v", err)
	}
	if got := hub.ClientCount(); got != 0 {
		t.Fatalf("client count after stop = %d, want 0", got)
	}

	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	if _, _, err := conn.ReadMessage(); err == nil {
		t.Fatal("expected read to fail after hub stop")
	}

	// Stopping twice is harmless.
	if err := hub.Stop(context.Background()); err != nil {
		t.Fatalf("second stop: %v", err)
	}
}

func TestHubRefusesClientsAfterStop(t *testing.T) {
	hub, server := newTestHub(t)

	if err := hub.Stop(context.Background()); err != nil {
		t.Fatalf("stop: %v", err)
	}

	url := "ws" + strings.TrimPrefix(server.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		// Refused during the handshake is fine too.
		return
	}
	defer conn.Close()

	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	if _, _, err := conn.ReadMessage(); err == nil {
		t.Fatal("expected connection to be closed after hub stop")
	}
}

func TestHubRejectsDisallowedOrigin(t *testing.T) {
	hub := NewHub([]string{"https://app.example.com"}, nil)
	server := httptest.NewServer(http.HandlerFunc(hub.Handle))
	t.Cleanup(func() {
		_ = hub.Stop(context.Background())
		server.Close()
	})

	url := "ws" + strings.TrimPrefix(server.URL, "http")
	header := map[string][]string{"Origin": {"https://evil.example.com"}}
	if _, _, err := websocket.DefaultDialer.Dial(url, header); err == nil {
		t.Fatal("expected dial with disallowed origin to fail")
	}

	header = map[string][]string{"Origin": {"https://app.example.com"}}
	conn, _, err := websocket.DefaultDialer.Dial(url, header)
	if err != nil {
		t.Fatalf("dial with allowed origin: %v", err)
	}
	_ = conn.Close()
}
