package ws

import (
	"context"
	"time"

	"roomchat/internal/logger"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 64 * 1024
	sendBuffer     = 256
	commandTimeout = 10 * time.Second
)

type Client struct {
	Hub    *Hub
	Conn   *websocket.Conn
	ID     string
	UserID uuid.UUID
	Send   chan []byte

	connectedAt time.Time
}

// ReadPump reads commands until the connection fails, then unregisters.
func (c *Client) ReadPump() {
	defer func() {
		select {
		case c.Hub.Unregister <- c:
		case <-c.Hub.done:
		}
		c.Conn.Close()
	}()

	c.Conn.SetReadLimit(maxMessageSize)
	c.Conn.SetReadDeadline(time.Now().Add(pongWait))
	c.Conn.SetPongHandler(func(string) error {
		return c.Conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, raw, err := c.Conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				logger.Warn("ws_read_failed", "user_id", c.UserID, "session_id", c.ID, "error", err)
			}
			return
		}

		ctx, cancel := context.WithTimeout(context.Background(), commandTimeout)
		reply := c.Hub.dispatch(ctx, c.UserID, raw)
		cancel()
		if reply == nil {
			continue
		}
		c.reply(reply)
	}
}

func (c *Client) reply(data []byte) {
	c.Hub.mu.RLock()
	defer c.Hub.mu.RUnlock()
	if cur, ok := c.Hub.clients[c.UserID][c.ID]; !ok || cur != c {
		return
	}
	select {
	case c.Send <- data:
	default:
		logger.Warn("ws_reply_dropped", "user_id", c.UserID, "session_id", c.ID)
	}
}

// WritePump drains Send to the connection and keeps it alive with pings.
func (c *Client) WritePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.Conn.Close()
	}()

	for {
		select {
		case data, ok := <-c.Send:
			c.Conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.Conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.Conn.WriteMessage(websocket.TextMessage, data); err != nil {
				return
			}
		case <-ticker.C:
			c.Conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.Conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
