package ingest

import (
	"context"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
)

const (
	wsHandshakeTimeout = 10 * time.Second
	wsReadDeadline     = 90 * time.Second
	wsPingInterval     = 30 * time.Second
)

// WebsocketTransport streams JSON frames from a websocket feed. The
// credential rides in the Authorization header.
type WebsocketTransport struct {
	URL   string
	Token string
}

type wsConn struct {
	conn *websocket.Conn
	done chan struct{}
}

// Connect dials the feed. A 401 or 403 handshake response is an
// authentication failure and is not retried.
func (t *WebsocketTransport) Connect(ctx context.Context) (Conn, error) {
	dialer := websocket.Dialer{HandshakeTimeout: wsHandshakeTimeout}
	header := http.Header{}
	if t.Token != "" {
		header.Set("Authorization", "Bearer "+t.Token)
	}
	conn, resp, err := dialer.DialContext(ctx, t.URL, header)
	if err != nil {
		if resp != nil && (resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden) {
			return nil, ErrAuth
		}
		return nil, err
	}
	c := &wsConn{conn: conn, done: make(chan struct{})}
	go c.keepalive()
	return c, nil
}

func (c *wsConn) keepalive() {
	ticker := time.NewTicker(wsPingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			deadline := time.Now().Add(wsHandshakeTimeout)
			if err := c.conn.WriteControl(websocket.PingMessage, nil, deadline); err != nil {
				return
			}
		case <-c.done:
			return
		}
	}
}

func (c *wsConn) Next(ctx context.Context) (wireMessage, error) {
	if deadline, ok := ctx.Deadline(); ok {
		c.conn.SetReadDeadline(deadline)
	} else {
		c.conn.SetReadDeadline(time.Now().Add(wsReadDeadline))
	}
	_, data, err := c.conn.ReadMessage()
	if err != nil {
		return wireMessage{}, err
	}
	return decodeWire(data)
}

func (c *wsConn) Close() error {
	close(c.done)
	return c.conn.Close()
}
