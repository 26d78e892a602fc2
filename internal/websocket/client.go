package websocket

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/gofiber/contrib/websocket"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = 54 * time.Second
	sendBuffer = 256
)

// Conn is the part of *websocket.Conn a client uses
type Conn interface {
	ReadMessage() (int, []byte, error)
	WriteMessage(messageType int, data []byte) error
	SetReadDeadline(t time.Time) error
	SetWriteDeadline(t time.Time) error
	SetPongHandler(h func(appData string) error)
	Close() error
}

// Client represents a WebSocket client connection
type Client struct {
	UserID   string
	Username string
	Send     chan []byte

	conn   Conn
	hub    *Hub
	router *Router
	log    *slog.Logger

	// Guarded by hub.mu
	rooms  map[string]struct{}
	closed bool
}

// NewClient creates a new WebSocket client
func NewClient(userID, username string, conn Conn, hub *Hub, router *Router) *Client {
	return &Client{
		UserID:   userID,
		Username: username,
		Send:     make(chan []byte, sendBuffer),
		conn:     conn,
		hub:      hub,
		router:   router,
		log:      hub.log.With("userId", userID),
		rooms:    make(map[string]struct{}),
	}
}

// closeSend closes the queue once. Callers hold hub.mu.
func (c *Client) closeSend() {
	if !c.closed {
		c.closed = true
		close(c.Send)
	}
}

// ReadPump handles incoming frames until the connection fails
func (c *Client) ReadPump(ctx context.Context) {
	defer func() {
		c.hub.Unregister(c)
		c.conn.Close()
	}()

	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.log.Warn("WebSocket read error", "error", err)
			}
			return
		}
		c.router.Handle(ctx, c, message)
	}
}

// WritePump handles outgoing messages to the client
func (c *Client) WritePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.Send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				c.log.Warn("WebSocket write error", "error", err)
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// SendFrame queues a frame for this client only
func (c *Client) SendFrame(frame Frame) {
	data, err := json.Marshal(frame)
	if err != nil {
		c.log.Error("Failed to marshal frame", "type", frame.Type, "error", err)
		return
	}

	c.hub.mu.RLock()
	defer c.hub.mu.RUnlock()
	if c.closed {
		return
	}
	select {
	case c.Send <- data:
	default:
		c.log.Warn("Send queue full, frame dropped", "type", frame.Type)
	}
}
