package api

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/jmcallister/perimeter-core/internal/device"
)

// wsReadTimeout bounds each read so a missing broadcast fails the test
// instead of hanging it.
const wsReadTimeout = 3 * time.Second

// dialWS connects a WebSocket client to the fixture's router.
func dialWS(t *testing.T, ts *httptest.Server) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/api/v1/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("websocket dial: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

// readSnapshot reads the next message and decodes it as a snapshot.
func readSnapshot(t *testing.T, conn *websocket.Conn) *Snapshot {
	t.Helper()
	if err := conn.SetReadDeadline(time.Now().Add(wsReadTimeout)); err != nil {
		t.Fatalf("set read deadline: %v", err)
	}
	_, data, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("reading websocket message: %v", err)
	}

	var msg struct {
		Type    string   `json:"type"`
		Payload Snapshot `json:"payload"`
	}
	if err := json.Unmarshal(data, &msg); err != nil {
		t.Fatalf("decoding message: %v\n%s", err, data)
	}
	if msg.Type != WSTypeSnapshot {
		t.Fatalf("message type = %q, want %q", msg.Type, WSTypeSnapshot)
	}
	return &msg.Payload
}

func TestWebSocket_SnapshotOnConnect(t *testing.T) {
	f := newFixture(t)
	f.seedSensor("s1", "warehouse", "10.0.0.5", true, device.DoorClosed)
	f.seedAlarm("a1", "warehouse", "10.0.0.9", 9000)

	ts := httptest.NewServer(f.router)
	defer ts.Close()

	conn := dialWS(t, ts)
	snap := readSnapshot(t, conn)

	if len(snap.Sensors) != 1 || len(snap.Alarms) != 1 {
		t.Errorf("initial snapshot = %d sensors / %d alarms, want 1/1",
			len(snap.Sensors), len(snap.Alarms))
	}
}

func TestWebSocket_SnapshotAfterMutation(t *testing.T) {
	f := newFixture(t)
	// The test HTTP client connects from loopback, so the sensor must be
	// bound to loopback for the update route to resolve it.
	f.seedSensor("s1", "warehouse", "127.0.0.1", true, device.DoorClosed)

	ts := httptest.NewServer(f.router)
	defer ts.Close()

	conn := dialWS(t, ts)
	readSnapshot(t, conn) // initial

	body, _ := json.Marshal(map[string]any{"state": "closed", "temperature": 31.5}) //nolint:errcheck // test input
	resp, err := http.Post(ts.URL+"/api/v1/sensors/update", "application/json", bytes.NewReader(body))
	if err != nil {
		t.Fatalf("update request: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("update status = %d, want 200", resp.StatusCode)
	}

	snap := readSnapshot(t, conn)
	if len(snap.Sensors) != 1 {
		t.Fatalf("snapshot sensors = %d, want 1", len(snap.Sensors))
	}
	got := snap.Sensors[0]
	if got.Temperature == nil || *got.Temperature != 31.5 {
		t.Errorf("broadcast temperature = %v, want 31.5", got.Temperature)
	}
}

func TestWebSocket_PingPong(t *testing.T) {
	f := newFixture(t)

	ts := httptest.NewServer(f.router)
	defer ts.Close()

	conn := dialWS(t, ts)
	readSnapshot(t, conn) // initial (empty) snapshot

	if err := conn.WriteJSON(WSMessage{Type: WSTypePing, ID: "keepalive-1"}); err != nil {
		t.Fatalf("writing ping: %v", err)
	}

	if err := conn.SetReadDeadline(time.Now().Add(wsReadTimeout)); err != nil {
		t.Fatalf("set read deadline: %v", err)
	}
	var msg WSMessage
	if err := conn.ReadJSON(&msg); err != nil {
		t.Fatalf("reading pong: %v", err)
	}
	if msg.Type != WSTypePong || msg.ID != "keepalive-1" {
		t.Errorf("got %q/%q, want pong/keepalive-1", msg.Type, msg.ID)
	}
}
