package websocket

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/KevinKickass/OpenPLCWorkspace/internal/auth"
	"github.com/KevinKickass/OpenPLCWorkspace/internal/config"
)

type staticSnapshot []string

func (s staticSnapshot) Snapshot() any { return []string(s) }

func startHub(t *testing.T, cfg config.AuthConfig) (*Hub, string) {
	t.Helper()
	hub := NewHub(zap.NewNop(), auth.NewAuthService(cfg, zap.NewNop()))
	hub.SetSnapshotProvider(staticSnapshot{"Motor1"})

	ctx, cancel := context.WithCancel(context.Background())
	go hub.Run(ctx)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ServeWs(hub, w, r)
	}))
	t.Cleanup(func() {
		srv.Close()
		cancel()
	})
	return hub, "ws" + strings.TrimPrefix(srv.URL, "http")
}

func dial(t *testing.T, url string) *websocket.Conn {
	t.Helper()
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

type received struct {
	Type MessageType    `json:"type"`
	Data map[string]any `json:"data"`
}

func readType(t *testing.T, conn *websocket.Conn) MessageType {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var msg struct {
		Type MessageType `json:"type"`
	}
	if err := conn.ReadJSON(&msg); err != nil {
		t.Fatal(err)
	}
	return msg.Type
}

func readMessage(t *testing.T, conn *websocket.Conn) received {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var msg received
	if err := conn.ReadJSON(&msg); err != nil {
		t.Fatal(err)
	}
	return msg
}

func waitClients(t *testing.T, hub *Hub, n int) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for hub.GetClientCount() != n {
		if time.Now().After(deadline) {
			t.Fatalf("clients = %d, want %d", hub.GetClientCount(), n)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestHubWithoutAuth(t *testing.T) {
	hub, url := startHub(t, config.AuthConfig{})
	conn := dial(t, url)

	if got := readType(t, conn); got != MessageTypeWatchSnapshot {
		t.Fatalf("first message = %s", got)
	}
	waitClients(t, hub, 1)

	hub.Broadcast(NewWatchValueMessage("Motor1", map[string]string{"name": "Motor1", "value": "1.000"}))
	msg := readMessage(t, conn)
	if msg.Type != MessageTypeWatchValue || msg.Data["value"] != "1.000" {
		t.Errorf("got %+v", msg)
	}
}

func TestSubscriptionFiltersWatchValues(t *testing.T) {
	hub, url := startHub(t, config.AuthConfig{})
	conn := dial(t, url)
	readType(t, conn)
	waitClients(t, hub, 1)

	if err := conn.WriteJSON(map[string]any{"type": "subscribe", "names": []string{"Start"}}); err != nil {
		t.Fatal(err)
	}
	// the subscription is applied asynchronously; broadcast until it takes
	deadline := time.Now().Add(2 * time.Second)
	for {
		hub.Broadcast(NewWatchValueMessage("Motor1", map[string]string{"name": "Motor1"}))
		hub.Broadcast(NewWatchValueMessage("Start", map[string]string{"name": "Start"}))
		msg := readMessage(t, conn)
		if msg.Data["name"] == "Start" {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("subscription never applied")
		}
	}

	// device events are never filtered
	hub.Broadcast(NewMessage(MessageTypeDeviceDisconnected, map[string]string{"reason": "requested"}))
	for {
		msg := readMessage(t, conn)
		if msg.Data["name"] == "Motor1" {
			t.Fatal("filtered value delivered")
		}
		if msg.Type == MessageTypeDeviceDisconnected {
			break
		}
	}
}

func TestHubRequiresAuthMessage(t *testing.T) {
	token, hash, err := auth.GenerateAPIToken()
	if err != nil {
		t.Fatal(err)
	}
	cfg := config.AuthConfig{
		Enabled:        true,
		AccessTokenTTL: time.Minute,
		APITokens:      []config.APITokenConfig{{Name: "hmi", TokenHash: hash, Role: "operator"}},
	}
	hub, url := startHub(t, cfg)

	bad := dial(t, url)
	if err := bad.WriteJSON(map[string]string{"type": "subscribe"}); err != nil {
		t.Fatal(err)
	}
	if got := readType(t, bad); got != MessageTypeAuthFailed {
		t.Errorf("unauthenticated first message: got %s", got)
	}

	good := dial(t, url)
	if err := good.WriteJSON(map[string]string{"type": "auth", "token": token}); err != nil {
		t.Fatal(err)
	}
	if got := readType(t, good); got != MessageTypeAuthSuccess {
		t.Fatalf("got %s, want auth_success", got)
	}
	if got := readType(t, good); got != MessageTypeWatchSnapshot {
		t.Fatalf("got %s, want watch_snapshot", got)
	}
	waitClients(t, hub, 1)
}
