package main

import (
	"errors"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

const (
	writeWait         = 10 * time.Second
	pongWait          = 60 * time.Second
	pingPeriod        = (pongWait * 9) / 10
	maxMessageSize    = 4096
	sendBufSize       = 256
	maxMessagesPerSec = 50
)

// Client represents a WebSocket connection
type Client struct {
	id         string
	hub        *Hub
	conn       *websocket.Conn
	send       chan []byte
	open       atomic.Bool
	binary     bool
	remoteAddr string
	logger     *slog.Logger

	// set once by the handler before the pumps start
	lobby *Lobby
	role  Role

	msgCount   int
	msgResetAt time.Time
}

// NewClient creates a new Client. binary selects msgpack coordinate frames.
func NewClient(hub *Hub, conn *websocket.Conn, remoteAddr string, binary bool) *Client {
	id := uuid.New().String()
	c := &Client{
		id:         id,
		hub:        hub,
		conn:       conn,
		send:       make(chan []byte, sendBufSize),
		binary:     binary,
		remoteAddr: remoteAddr,
		logger:     hub.logger.With("client", id, "addr", remoteAddr),
	}
	c.open.Store(true)
	return c
}

// attach binds the client to the lobby slot it was admitted to
func (c *Client) attach(lobby *Lobby, role Role) {
	c.lobby = lobby
	c.role = role
	c.logger = c.logger.With("lobby", lobby.ID, "role", role)
}

// ReadPump reads messages from the WebSocket connection
func (c *Client) ReadPump() {
	defer func() {
		c.hub.TrackDisconnect(c.remoteAddr)
		select {
		case c.hub.unregister <- c:
		case <-c.hub.stop:
		}
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		msgType, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.logger.Warn("ws error", "error", err)
			}
			break
		}

		// Rate limiting
		now := time.Now()
		if now.After(c.msgResetAt) {
			c.msgCount = 0
			c.msgResetAt = now.Add(time.Second)
		}
		c.msgCount++
		if c.msgCount > maxMessagesPerSec {
			c.logger.Warn("rate limit exceeded, disconnecting")
			break
		}

		if msgType != websocket.TextMessage {
			c.logger.Debug("ignoring non-text frame", "type", msgType)
			continue
		}
		c.handleMessage(message)
	}
}

// WritePump writes messages to the WebSocket connection
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
			// Check for binary marker (0xFF prefix from SendBinary)
			var err error
			if len(message) > 0 && message[0] == 0xFF {
				err = c.conn.WriteMessage(websocket.BinaryMessage, message[1:])
			} else {
				err = c.conn.WriteMessage(websocket.TextMessage, message)
			}
			if err != nil {
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

// SendRaw queues pre-marshaled bytes as a text message
func (c *Client) SendRaw(data []byte) {
	if !c.open.Load() {
		return
	}
	defer func() { recover() }()
	select {
	case c.send <- data:
	default:
		// Client too slow, drop message
	}
}

// SendBinary queues pre-marshaled bytes as a binary WebSocket message.
// Prefixes with 0xFF marker byte so WritePump can distinguish from text.
func (c *Client) SendBinary(data []byte) {
	if !c.open.Load() {
		return
	}
	defer func() { recover() }()
	msg := make([]byte, len(data)+1)
	msg[0] = 0xFF
	copy(msg[1:], data)
	select {
	case c.send <- msg:
	default:
	}
}

// IsOpen reports whether the connection can still receive messages
func (c *Client) IsOpen() bool { return c.open.Load() }

// Binary reports whether the client asked for msgpack coordinate frames
func (c *Client) Binary() bool { return c.binary }

// handleMessage decodes an inbound frame and forwards swings to the lobby
func (c *Client) handleMessage(raw []byte) {
	msg, err := ParseInbound(raw)
	if err != nil {
		if errors.Is(err, ErrUnknownMessageType) {
			c.logger.Warn("rejected message", "error", err)
		} else {
			c.logger.Debug("dropping malformed message", "error", err)
		}
		return
	}

	switch m := msg.(type) {
	case SwingMsg:
		if c.lobby == nil || !c.role.IsPlayer() {
			return
		}
		c.lobby.Game.HandlePlayerSwing(c.role, m.Speed)
	}
}
