package websocket

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/KevinKickass/OpenPLCWorkspace/internal/auth"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const (
	// Time allowed to write a message to the peer
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer
	pongWait = 60 * time.Second

	// Send pings to peer with this period (must be less than pongWait)
	pingPeriod = (pongWait * 9) / 10

	// Time allowed for the auth message after connecting
	authWait = 10 * time.Second

	maxMessageSize = 8192
	sendBufferSize = 256
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// Client represents a WebSocket client connection
type Client struct {
	hub      *Hub
	conn     *websocket.Conn
	send     chan []byte
	logger   *zap.Logger
	identity *auth.Identity

	// subscription filter for watch values; nil means everything
	filterMu sync.RWMutex
	names    map[string]bool
}

func (c *Client) remoteAddr() string {
	return c.conn.RemoteAddr().String()
}

func (c *Client) wants(msg Message) bool {
	if msg.Type != MessageTypeWatchValue {
		return true
	}
	c.filterMu.RLock()
	defer c.filterMu.RUnlock()
	return c.names == nil || c.names[msg.name]
}

// readPump handles reading messages from the WebSocket connection
func (c *Client) readPump() {
	registered := c.identity != nil
	defer func() {
		if registered {
			c.hub.leave(c)
		} else {
			// never handed to the hub, so the write pump is ours to stop
			close(c.send)
		}
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	if !registered {
		c.conn.SetReadDeadline(time.Now().Add(authWait))
	}

	for {
		var msg inbound
		if err := c.conn.ReadJSON(&msg); err != nil {
			if websocket.IsUnexpectedCloseError(err,
				websocket.CloseGoingAway,
				websocket.CloseAbnormalClosure) {
				c.logger.Warn("WebSocket read error",
					zap.Error(err),
					zap.String("remote_addr", c.remoteAddr()))
			}
			return
		}

		// First message must be authentication
		if !registered {
			if !c.authenticate(msg) {
				return
			}
			if !c.hub.join(c) {
				return
			}
			registered = true
			continue
		}

		c.handleMessage(msg)
	}
}

func (c *Client) authenticate(msg inbound) bool {
	if msg.Type != "auth" {
		c.rejectAuth("First message must be authentication")
		return false
	}
	if msg.Token == "" {
		c.rejectAuth("Missing token in auth message")
		return false
	}

	id, err := c.hub.authService.ValidateToken(context.Background(), msg.Token)
	if err != nil {
		c.logger.Warn("WebSocket authentication failed",
			zap.Error(err),
			zap.String("remote_addr", c.remoteAddr()))
		c.rejectAuth("Invalid or expired token")
		return false
	}

	c.identity = id
	c.conn.SetReadDeadline(time.Time{})
	c.reply(NewMessage(MessageTypeAuthSuccess, id))
	c.logger.Info("WebSocket client authenticated",
		zap.String("remote_addr", c.remoteAddr()),
		zap.String("username", id.Username))
	return true
}

// rejectAuth writes directly: the client is not registered and the write
// pump must not be relied on before the connection closes.
func (c *Client) rejectAuth(reason string) {
	c.conn.SetWriteDeadline(time.Now().Add(writeWait))
	_ = c.conn.WriteJSON(NewMessage(MessageTypeAuthFailed, map[string]string{"reason": reason}))
	_ = c.conn.WriteMessage(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.ClosePolicyViolation, reason))
}

func (c *Client) reply(msg Message) {
	data, err := json.Marshal(msg)
	if err != nil {
		return
	}
	select {
	case c.send <- data:
	default:
	}
}

func (c *Client) handleMessage(msg inbound) {
	switch msg.Type {
	case "subscribe":
		c.filterMu.Lock()
		if len(msg.Names) == 0 {
			c.names = nil
		} else {
			c.names = make(map[string]bool, len(msg.Names))
			for _, n := range msg.Names {
				c.names[n] = true
			}
		}
		c.filterMu.Unlock()
		c.logger.Debug("WebSocket subscription changed",
			zap.String("remote_addr", c.remoteAddr()),
			zap.Strings("names", msg.Names))
	default:
		c.logger.Debug("Unhandled client message",
			zap.String("remote_addr", c.remoteAddr()),
			zap.String("type", msg.Type))
	}
}

// writePump handles writing messages to the WebSocket connection
func (c *Client) writePump() {
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
				// Hub closed the channel
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
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

// ServeWs handles WebSocket upgrade requests. With authentication disabled
// the client is registered right away; otherwise its first message must be
// {"type":"auth","token":"..."}.
func ServeWs(hub *Hub, w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		hub.logger.Error("WebSocket upgrade error",
			zap.Error(err),
			zap.String("remote_addr", r.RemoteAddr))
		return
	}

	client := &Client{
		hub:    hub,
		conn:   conn,
		send:   make(chan []byte, sendBufferSize),
		logger: hub.logger,
	}
	if !hub.authService.Enabled() {
		id := hub.authService.Anonymous()
		client.identity = &id
		if !hub.join(client) {
			conn.Close()
			return
		}
	}

	go client.writePump()
	go client.readPump()
}
