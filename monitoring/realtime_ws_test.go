package monitoring

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func startHub(t *testing.T) (*Hub, string) {
	t.Helper()
	hub := NewHub(nil, NewMetrics())
	go hub.Run()
	srv := httptest.NewServer(http.HandlerFunc(hub.HandleWebSocket))
	t.Cleanup(func() {
		hub.Stop()
		srv.Close()
	})
	return hub, "ws" + strings.TrimPrefix(srv.URL, "http")
}

func dial(t *testing.T, hub *Hub, url string, want int) *websocket.Conn {
	t.Helper()
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	require.Eventually(t, func() bool { return hub.ClientCount() == want }, 2*time.Second, 10*time.Millisecond)
	return conn
}

func readMessage(t *testing.T, conn *websocket.Conn) Message {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, data, err := conn.ReadMessage()
	require.NoError(t, err)
	var msg Message
	require.NoError(t, json.Unmarshal(data, &msg))
	return msg
}

func TestHubBroadcastsToClients(t *testing.T) {
	hub, url := startHub(t)
	conn := dial(t, hub, url, 1)

	require.NoError(t, hub.Publish(AssessmentEvent, map[string]string{"category": "unlikely"}))

	msg := readMessage(t, conn)
	assert.Equal(t, AssessmentEvent, msg.Type)
	assert.NotEmpty(t, msg.ID)
	var data map[string]string
	require.NoError(t, json.Unmarshal(msg.Data, &data))
	assert.Equal(t, "unlikely", data["category"])
}

func TestHubHonorsSubscriptions(t *testing.T) {
	hub, url := startHub(t)
	conn := dial(t, hub, url, 1)

	require.NoError(t, conn.WriteJSON(ClientMessage{Type: "subscribe", Topic: string(ModelReload)}))
	// 订阅消息异步处理，等待它生效
	require.Eventually(t, func() bool {
		for c := range snapshotClients(hub) {
			if !c.wants(AssessmentEvent) {
				return true
			}
		}
		return false
	}, 2*time.Second, 10*time.Millisecond)

	require.NoError(t, hub.Publish(AssessmentEvent, map[string]string{"category": "unlikely"}))
	require.NoError(t, hub.Publish(ModelReload, map[string]int{"generation": 2}))

	msg := readMessage(t, conn)
	assert.Equal(t, ModelReload, msg.Type)
}

func TestHubSendsHeartbeats(t *testing.T) {
	hub := NewHub(nil, NewMetrics())
	hub.heartbeat = 20 * time.Millisecond
	go hub.Run()
	srv := httptest.NewServer(http.HandlerFunc(hub.HandleWebSocket))
	t.Cleanup(func() {
		hub.Stop()
		srv.Close()
	})
	conn := dial(t, hub, "ws"+strings.TrimPrefix(srv.URL, "http"), 1)

	msg := readMessage(t, conn)
	assert.Equal(t, Heartbeat, msg.Type)
	var data map[string]int
	require.NoError(t, json.Unmarshal(msg.Data, &data))
	assert.Equal(t, 1, data["clients"])
}

func TestHubUnregistersClosedClients(t *testing.T) {
	hub, url := startHub(t)
	conn := dial(t, hub, url, 1)
	conn.Close()
	require.Eventually(t, func() bool { return hub.ClientCount() == 0 }, 2*time.Second, 10*time.Millisecond)
}

func TestPublishAfterStop(t *testing.T) {
	hub := NewHub(nil, nil)
	go hub.Run()
	hub.Stop()
	assert.ErrorIs(t, hub.Publish(Heartbeat, nil), ErrHubStopped)
}

func snapshotClients(h *Hub) map[*Client]bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	out := make(map[*Client]bool, len(h.clients))
	for c := range h.clients {
		out[c] = true
	}
	return out
}
