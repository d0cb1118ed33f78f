package remote

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/polyagent/polyagent/session"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// testHub is a minimal in-process hub endpoint. It records the subscribe
// frame and every relayed payload, and lets tests push notification frames
// down to the client.
type testHub struct {
	mu        sync.Mutex
	subscribe outboundFrame
	relayed   []outboundFrame
	conn      *websocket.Conn
	connected chan struct{}
	authz     string
}

func newTestHub() *testHub {
	return &testHub{connected: make(chan struct{}, 1)}
}

func (h *testHub) handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		h.mu.Lock()
		h.authz = r.Header.Get("Authorization")
		h.mu.Unlock()

		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}

		var sub outboundFrame
		if err := conn.ReadJSON(&sub); err != nil {
			conn.Close()
			return
		}
		h.mu.Lock()
		h.subscribe = sub
		h.conn = conn
		h.mu.Unlock()
		h.connected <- struct{}{}

		for {
			var frame outboundFrame
			if err := conn.ReadJSON(&frame); err != nil {
				return
			}
			h.mu.Lock()
			h.relayed = append(h.relayed, frame)
			h.mu.Unlock()
		}
	})
}

func (h *testHub) waitConnected(t *testing.T) {
	t.Helper()
	select {
	case <-h.connected:
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for hub connection")
	}
}

func (h *testHub) push(t *testing.T, frame inboundFrame) {
	t.Helper()
	h.mu.Lock()
	conn := h.conn
	h.mu.Unlock()
	require.NotNil(t, conn)
	require.NoError(t, conn.WriteJSON(frame))
}

func newTestClient(t *testing.T, hub *testHub, opts ...ClientOption) *Client {
	t.Helper()
	srv := httptest.NewServer(hub.handler())
	t.Cleanup(srv.Close)

	client, err := NewClient(srv.URL, opts...)
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })
	return client
}

func recv(t *testing.T, ch <-chan session.Notification) session.Notification {
	t.Helper()
	select {
	case n, ok := <-ch:
		require.True(t, ok, "stream closed")
		return n
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for notification")
		return session.Notification{}
	}
}

func TestClient_AttachSubscribesAndStreams(t *testing.T) {
	hub := newTestHub()
	client := newTestClient(t, hub, WithToken("tok-1"))

	ch, err := client.Attach(context.Background(), "sess-1")
	require.NoError(t, err)
	hub.waitConnected(t)

	hub.mu.Lock()
	assert.Equal(t, "subscribe", hub.subscribe.Type)
	assert.Equal(t, "sess-1", hub.subscribe.SessionID)
	assert.True(t, hub.subscribe.Resume)
	assert.Equal(t, "Bearer tok-1", hub.authz)
	hub.mu.Unlock()

	hub.push(t, inboundFrame{SessionID: "sess-1", Method: "turn/started", Params: json.RawMessage(`{"turn":{"id":"t1"}}`)})

	n := recv(t, ch)
	assert.Equal(t, "turn/started", n.Method)
	assert.JSONEq(t, `{"turn":{"id":"t1"}}`, string(n.Params))
}

func TestClient_FiltersForeignAndMalformedFrames(t *testing.T) {
	hub := newTestHub()
	client := newTestClient(t, hub)

	ch, err := client.Attach(context.Background(), "sess-1")
	require.NoError(t, err)
	hub.waitConnected(t)

	// Wrong session and missing method are both discarded.
	hub.push(t, inboundFrame{SessionID: "other", Method: "turn/started"})
	hub.push(t, inboundFrame{SessionID: "sess-1"})
	hub.push(t, inboundFrame{SessionID: "sess-1", Method: "turn/completed"})

	n := recv(t, ch)
	assert.Equal(t, "turn/completed", n.Method)
}

func TestClient_SendRelaysPayload(t *testing.T) {
	hub := newTestHub()
	client := newTestClient(t, hub)

	_, err := client.Attach(context.Background(), "sess-1")
	require.NoError(t, err)
	hub.waitConnected(t)

	require.NoError(t, client.Send(context.Background(), "sess-1", json.RawMessage(`{"op":"input"}`)))

	require.Eventually(t, func() bool {
		hub.mu.Lock()
		defer hub.mu.Unlock()
		return len(hub.relayed) == 1
	}, 5*time.Second, 10*time.Millisecond)

	hub.mu.Lock()
	frame := hub.relayed[0]
	hub.mu.Unlock()
	assert.Equal(t, "send", frame.Type)
	assert.Equal(t, "sess-1", frame.SessionID)
	assert.JSONEq(t, `{"op":"input"}`, string(frame.Payload))
}

func TestClient_SendBeforeAttach(t *testing.T) {
	client, err := NewClient("https://hub.example.com")
	require.NoError(t, err)
	assert.ErrorIs(t, client.Send(context.Background(), "s1", json.RawMessage(`{}`)), ErrNotAttached)
}

func TestClient_StreamClosesOnServerDisconnect(t *testing.T) {
	hub := newTestHub()
	client := newTestClient(t, hub)

	ch, err := client.Attach(context.Background(), "sess-1")
	require.NoError(t, err)
	hub.waitConnected(t)

	hub.mu.Lock()
	hub.conn.Close()
	hub.mu.Unlock()

	select {
	case _, ok := <-ch:
		assert.False(t, ok)
	case <-time.After(5 * time.Second):
		t.Fatal("stream did not close after disconnect")
	}
}

func TestNewClient_SchemeDefaults(t *testing.T) {
	client, err := NewClient("hub.example.com")
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(client.wsURL("s1"), "wss://hub.example.com"))

	client, err = NewClient("http://localhost:8080")
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(client.wsURL("s1"), "ws://localhost:8080"))
}
