package ws

import (
	"log/slog"
	"time"

	"go-groupchat/internal/models"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/ratelimit"
)

const (
	// Time allowed to write a message
	writeWait = 10 * time.Second

	// Time allowed to read next pong message
	pongWait = 60 * time.Second

	// Send pings with this period (must be less than pongWait)
	pingPeriod = (pongWait * 9) / 10
)

// Client is one authenticated socket. Its principal is fixed at handshake.
type Client struct {
	hub       *Hub
	conn      *websocket.Conn
	send      chan []byte
	id        string
	principal models.Principal
	limiter   ratelimit.Limiter

	// Owned by the hub's event loop. While holding, frames queue in pending
	// instead of send.
	closed  bool
	holding bool
	pending [][]byte
}

func newClient(hub *Hub, conn *websocket.Conn, p models.Principal) *Client {
	limiter := ratelimit.NewUnlimited()
	if hub.opts.RateLimit > 0 {
		limiter = ratelimit.New(hub.opts.RateLimit)
	}
	return &Client{
		hub:       hub,
		conn:      conn,
		send:      make(chan []byte, hub.opts.SendBuffer),
		id:        uuid.NewString(),
		principal: p,
		limiter:   limiter,
	}
}

func (c *Client) close() {
	if !c.closed {
		c.closed = true
		close(c.send)
	}
}

// ReadPump pumps frames from the socket to the hub. Each frame is handled to
// completion before the next is read, so one connection's requests are
// processed in the order they were sent.
func (c *Client) ReadPump() {
	defer func() {
		c.hub.Unregister(c)
		c.conn.Close()
	}()

	c.conn.SetReadLimit(c.hub.opts.MaxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				slog.Warn("[CLIENT] Unexpected close", "conn", c.id, "user", c.principal.UserId, "error", err)
			}
			break
		}

		c.limiter.Take()
		c.hub.dispatch(c, message)
	}
}

// WritePump pumps frames from the hub to the socket.
func (c *Client) WritePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}

			w, err := c.conn.NextWriter(websocket.TextMessage)
			if err != nil {
				slog.Error("[CLIENT] Failed to get writer", "conn", c.id, "user", c.principal.UserId, "error", err)
				return
			}
			w.Write(message)

			if err := w.Close(); err != nil {
				slog.Error("[CLIENT] Failed to close writer", "conn", c.id, "user", c.principal.UserId, "error", err)
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				slog.Error("[CLIENT] Failed to send ping", "conn", c.id, "user", c.principal.UserId, "error", err)
				return
			}
		}
	}
}
