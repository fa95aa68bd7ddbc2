package stream

import (
	"context"

	"github.com/gorilla/websocket"
)

// wsConn adapts a gorilla websocket connection to the Conn interface.
// The backend speaks JSON text frames only.
type wsConn struct {
	conn *websocket.Conn
}

func (c *wsConn) ReadMessage() ([]byte, error) {
	_, data, err := c.conn.ReadMessage()
	return data, err
}

func (c *wsConn) WriteMessage(data []byte) error {
	return c.conn.WriteMessage(websocket.TextMessage, data)
}

func (c *wsConn) Close() error {
	return c.conn.Close()
}

// WebSocketDialer returns the production Dialer backed by
// gorilla/websocket.
func WebSocketDialer() Dialer {
	return func(ctx context.Context, url string) (Conn, error) {
		conn, _, err := websocket.DefaultDialer.DialContext(ctx, url, nil)
		if err != nil {
			return nil, err
		}
		return &wsConn{conn: conn}, nil
	}
}

// StaticCredentials is the simplest Credentials provider: a fixed API key
// and endpoint from configuration.
type StaticCredentials struct {
	Key string
	URL string
}

// ErrNoAPIKey is returned when no API key is configured.
var ErrNoAPIKey = errNoAPIKey{}

type errNoAPIKey struct{}

func (errNoAPIKey) Error() string { return "no streaming api key configured" }

func (c StaticCredentials) APIKey() (string, error) {
	if c.Key == "" {
		return "", ErrNoAPIKey
	}
	return c.Key, nil
}

func (c StaticCredentials) WebSocketURL() string { return c.URL }
