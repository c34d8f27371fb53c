package live

import (
	"log/slog"
	"net/http"
	"strings"

	"github.com/gorilla/websocket"
)

// Client represents a websocket subscriber.
type Client struct {
	conn *websocket.Conn
	log  *slog.Logger
}

// NewClient constructs a client wrapper.
func NewClient(conn *websocket.Conn, logger *slog.Logger) *Client {
	return &Client{conn: conn, log: logger}
}

// Send writes a measurement frame to the websocket connection.
func (c *Client) Send(payload []byte) error {
	if err := c.conn.WriteMessage(websocket.TextMessage, payload); err != nil {
		if c.log != nil {
			c.log.Warn("websocket send failed", "error", err)
		}
		_ = c.conn.Close()
		return err
	}
	return nil
}

// Close terminates the connection.
func (c *Client) Close() {
	_ = c.conn.Close()
}

// StreamHandler upgrades requests to websocket subscriptions on the hub. An
// optional domain query parameter narrows the stream to one domain.
func StreamHandler(hub *Hub, logger *slog.Logger) http.Handler {
	upgrader := websocket.Upgrader{
		CheckOrigin: func(r *http.Request) bool { return true },
	}
	return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		key := strings.TrimSpace(req.URL.Query().Get("domain"))
		if key == "" {
			key = AllDomains
		}
		conn, err := upgrader.Upgrade(w, req, nil)
		if err != nil {
			if logger != nil {
				logger.Error("websocket upgrade failed", "error", err)
			}
			return
		}
		client := NewClient(conn, logger)
		hub.Register(key, client)
		go func() {
			defer func() {
				hub.Unregister(key, client)
				client.Close()
			}()
			for {
				if _, _, err := conn.ReadMessage(); err != nil {
					break
				}
			}
		}()
	})
}
