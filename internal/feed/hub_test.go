package feed

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joao-fontenele/bitelynk/internal/domain"
)

func newTestHub(t *testing.T, origins ...string) (*Hub, string) {
	t.Helper()
	hub := NewHub(origins, slog.New(slog.NewTextHandler(io.Discard, nil)))
	server := httptest.NewServer(hub)
	t.Cleanup(func() {
		hub.Close()
		server.Close()
	})
	return hub, "ws" + strings.TrimPrefix(server.URL, "http")
}

func dial(t *testing.T, url string, header http.Header) *websocket.Conn {
	t.Helper()
	conn, _, err := websocket.DefaultDialer.Dial(url, header)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

func TestHub_BroadcastsToEveryClient(t *testing.T) {
	hub, url := newTestHub(t)
	first := dial(t, url, nil)
	second := dial(t, url, nil)
	require.Eventually(t, func() bool { return hub.Len() == 2 }, time.Second, 10*time.Millisecond)

	event := domain.OrderEvent{Type: domain.OrderEventPaid, OrderID: "o-1", Reference: "BL_1_ABCDEF"}
	require.NoError(t, hub.Publish(context.Background(), "o-1", event))

	for _, conn := range []*websocket.Conn{first, second} {
		var got domain.OrderEvent
		require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
		require.NoError(t, conn.ReadJSON(&got))
		assert.Equal(t, domain.OrderEventPaid, got.Type)
		assert.Equal(t, "BL_1_ABCDEF", got.Reference)
	}
}

func TestHub_RemovesDisconnectedClients(t *testing.T) {
	hub, url := newTestHub(t)
	conn := dial(t, url, nil)
	require.Eventually(t, func() bool { return hub.Len() == 1 }, time.Second, 10*time.Millisecond)

	require.NoError(t, conn.Close())

	assert.Eventually(t, func() bool { return hub.Len() == 0 }, 2*time.Second, 10*time.Millisecond)
	assert.NoError(t, hub.Publish(context.Background(), "o-1", domain.OrderEvent{}))
}

func TestHub_DropsSlowClient(t *testing.T) {
	hub := NewHub(nil, slog.New(slog.NewTextHandler(io.Discard, nil)))
	slow := &client{send: make(chan []byte, 1), remote: "10.0.0.1:5000"}
	hub.clients[slow] = struct{}{}
	slow.send <- []byte("backlog")

	require.NoError(t, hub.Publish(context.Background(), "o-1", domain.OrderEvent{}))

	assert.Equal(t, 0, hub.Len())
	<-slow.send
	_, open := <-slow.send
	assert.False(t, open, "send channel is closed for a dropped client")
}

func TestHub_RejectsUnknownOrigin(t *testing.T) {
	_, url := newTestHub(t, "https://admin.bitelynk.test")

	_, resp, err := websocket.DefaultDialer.Dial(url, http.Header{"Origin": {"https://evil.test"}})
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)

	conn := dial(t, url, http.Header{"Origin": {"https://admin.bitelynk.test"}})
	assert.NotNil(t, conn)
}
