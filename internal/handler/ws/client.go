package ws

import (
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"chatrelay-backend/pkg/logger"
	"chatrelay-backend/pkg/metrics"
)

// Client is one live connection. Frames are queued on send and written by
// writePump; a full queue drops the frame.
type Client struct {
	id     string
	userID uuid.UUID
	name   string

	hub  *Hub
	conn *websocket.Conn
	send chan []byte

	done      chan struct{}
	closeOnce sync.Once
}

func newClient(hub *Hub, conn *websocket.Conn, userID uuid.UUID, name string) *Client {
	return &Client{
		id:     uuid.NewString(),
		userID: userID,
		name:   name,
		hub:    hub,
		conn:   conn,
		send:   make(chan []byte, hub.cfg.SendBuffer),
		done:   make(chan struct{}),
	}
}

// trySend queues a frame without blocking
func (c *Client) trySend(frame []byte, event string) bool {
	select {
	case <-c.done:
		metrics.HubEventsDroppedTotal.WithLabelValues("closed").Inc()
		return false
	default:
	}

	select {
	case c.send <- frame:
		metrics.HubEventsDeliveredTotal.WithLabelValues(event).Inc()
		return true
	default:
		metrics.HubEventsDroppedTotal.WithLabelValues("buffer_full").Inc()
		logger.Warn("Client send buffer full, event dropped",
			zap.String("conn_id", c.id),
			zap.String("user_id", c.userID.String()),
			zap.String("event", event))
		return false
	}
}

func (c *Client) close() {
	c.closeOnce.Do(func() { close(c.done) })
}

// readPump reads client commands until the connection fails
func (c *Client) readPump() {
	reason := "closed"
	defer func() {
		c.hub.disconnect(c, reason)
		c.close()
		c.conn.Close()
	}()

	c.conn.SetReadLimit(c.hub.cfg.MaxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(c.hub.cfg.PongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(c.hub.cfg.PongWait))
		return nil
	})

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				reason = "error"
				logger.Warn("WebSocket read failed",
					zap.String("conn_id", c.id),
					zap.Error(err))
			}
			return
		}
		c.hub.dispatch(c, data)
	}
}

// writePump drains the send queue and keeps the connection alive with pings
func (c *Client) writePump() {
	ticker := time.NewTicker(c.hub.cfg.PingInterval)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case frame := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(c.hub.cfg.WriteWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, frame); err != nil {
				c.close()
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(c.hub.cfg.WriteWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				c.close()
				return
			}

		case <-c.done:
			c.conn.SetWriteDeadline(time.Now().Add(c.hub.cfg.WriteWait))
			c.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			return
		}
	}
}
