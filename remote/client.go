// Package remote implements the websocket client for a polyagent hub. The
// hub runs backend processes on behalf of remote callers; this client
// subscribes to a session's notification stream and relays outbound
// payloads, satisfying the session package's RemoteAPI contract.
package remote

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"path"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/polyagent/polyagent/session"
)

const (
	dialTimeout  = 15 * time.Second
	writeTimeout = 10 * time.Second
	pongWait     = 90 * time.Second
	pingInterval = 30 * time.Second
	maxFrameSize = 32 << 20
)

// ErrNotAttached is returned by Send before Attach has established a
// connection for the session.
var ErrNotAttached = errors.New("remote: not attached")

// inbound frames carry one backend notification each.
type inboundFrame struct {
	SessionID string          `json:"sessionId"`
	Method    string          `json:"method"`
	Params    json.RawMessage `json:"params,omitempty"`
}

// outbound frames either subscribe to a session stream or relay a payload
// into it.
type outboundFrame struct {
	Type      string          `json:"type"`
	SessionID string          `json:"sessionId"`
	Resume    bool            `json:"resume,omitempty"`
	Payload   json.RawMessage `json:"payload,omitempty"`
}

// Client talks to one hub. It is safe for concurrent use; writes to the
// underlying connection are serialized.
type Client struct {
	baseURL *url.URL
	token   string
	log     *slog.Logger
	dialer  *websocket.Dialer

	mu   sync.Mutex
	conn *websocket.Conn
}

// ClientOption configures a Client.
type ClientOption func(*Client)

// WithToken sets the bearer token presented on dial.
func WithToken(token string) ClientOption {
	return func(c *Client) { c.token = strings.TrimSpace(token) }
}

// WithLogger sets the client logger.
func WithLogger(log *slog.Logger) ClientOption {
	return func(c *Client) {
		if log != nil {
			c.log = log
		}
	}
}

// NewClient parses the hub base URL. Scheme-less hosts default to https.
func NewClient(baseURL string, opts ...ClientOption) (*Client, error) {
	raw := strings.TrimSpace(baseURL)
	if raw != "" && !strings.Contains(raw, "://") {
		raw = "https://" + raw
	}
	parsed, err := url.Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("remote: invalid hub url: %w", err)
	}
	if parsed.Scheme == "" {
		parsed.Scheme = "https"
	}
	c := &Client{
		baseURL: parsed,
		log:     slog.Default(),
		dialer:  &websocket.Dialer{HandshakeTimeout: dialTimeout},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

func (c *Client) wsURL(sessionID string) string {
	u := *c.baseURL
	switch u.Scheme {
	case "https":
		u.Scheme = "wss"
	default:
		u.Scheme = "ws"
	}
	u.Path = path.Join(strings.TrimSuffix(u.Path, "/"), "/ws/sessions")
	q := u.Query()
	q.Set("sessionId", sessionID)
	u.RawQuery = q.Encode()
	return u.String()
}

// Attach dials the hub, subscribes to the session's notification stream,
// and returns a channel of notifications. The channel is closed when the
// connection drops; callers re-attach to resume. Any previous connection
// held by the client is replaced.
func (c *Client) Attach(ctx context.Context, sessionID string) (<-chan session.Notification, error) {
	header := http.Header{}
	if c.token != "" {
		header.Set("Authorization", "Bearer "+c.token)
	}

	endpoint := c.wsURL(sessionID)
	conn, resp, err := c.dialer.DialContext(ctx, endpoint, header)
	if err != nil {
		if resp != nil && resp.Body != nil {
			resp.Body.Close()
		}
		if resp != nil {
			return nil, fmt.Errorf("remote: dial %s: %s: %w", endpoint, resp.Status, err)
		}
		return nil, fmt.Errorf("remote: dial %s: %w", endpoint, err)
	}
	conn.SetReadLimit(maxFrameSize)

	c.mu.Lock()
	old := c.conn
	c.conn = conn
	c.mu.Unlock()
	if old != nil {
		_ = old.Close()
	}

	sub := outboundFrame{Type: "subscribe", SessionID: sessionID, Resume: true}
	if err := c.write(conn, sub); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("remote: subscribe %s: %w", sessionID, err)
	}

	out := make(chan session.Notification)
	go c.readLoop(ctx, conn, sessionID, out)
	go c.keepalive(ctx, conn)
	return out, nil
}

// Send relays one payload to the backend via the hub.
func (c *Client) Send(ctx context.Context, sessionID string, payload json.RawMessage) error {
	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()
	if conn == nil {
		return ErrNotAttached
	}
	return c.write(conn, outboundFrame{Type: "send", SessionID: sessionID, Payload: payload})
}

// Close tears down the current connection, if any.
func (c *Client) Close() error {
	c.mu.Lock()
	conn := c.conn
	c.conn = nil
	c.mu.Unlock()
	if conn == nil {
		return nil
	}
	deadline := time.Now().Add(writeTimeout)
	_ = conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, "client closed"), deadline)
	return conn.Close()
}

func (c *Client) write(conn *websocket.Conn, frame outboundFrame) error {
	data, err := json.Marshal(frame)
	if err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	_ = conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	return conn.WriteMessage(websocket.TextMessage, data)
}

func (c *Client) readLoop(ctx context.Context, conn *websocket.Conn, sessionID string, out chan<- session.Notification) {
	defer close(out)

	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				c.log.Debug("hub stream closed", "session_id", sessionID, "error", err)
			}
			return
		}
		_ = conn.SetReadDeadline(time.Now().Add(pongWait))

		var frame inboundFrame
		if err := json.Unmarshal(data, &frame); err != nil {
			c.log.Debug("discarding unparseable hub frame", "session_id", sessionID, "error", err)
			continue
		}
		if frame.Method == "" || (frame.SessionID != "" && frame.SessionID != sessionID) {
			continue
		}

		select {
		case out <- session.Notification{Method: frame.Method, Params: frame.Params}:
		case <-ctx.Done():
			_ = conn.Close()
			return
		}
	}
}

func (c *Client) keepalive(ctx context.Context, conn *websocket.Conn) {
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.mu.Lock()
			current := c.conn
			err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeTimeout))
			c.mu.Unlock()
			if current != conn || err != nil {
				return
			}
		}
	}
}

var _ session.RemoteAPI = (*Client)(nil)
