package client

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/BioHazard786/callrelay/internal/signaling"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 64 * 1024
)

// Client manages the WebSocket connection to the relay.
type Client struct {
	conn      *websocket.Conn
	serverURL string
	incoming  chan *Message
	outgoing  chan []byte
	done      chan struct{}
	closeOnce sync.Once
	logger    *slog.Logger
}

// New creates a client for the relay at serverURL. Call Connect before use.
func New(serverURL string, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		serverURL: serverURL,
		incoming:  make(chan *Message, 16),
		outgoing:  make(chan []byte, 16),
		done:      make(chan struct{}),
		logger:    logger.With("component", "client"),
	}
}

// Connect establishes the WebSocket connection and starts the pumps.
func (c *Client) Connect(ctx context.Context) error {
	u, err := url.Parse(c.serverURL)
	if err != nil {
		return NewError("connect", fmt.Errorf("invalid server URL: %w", err))
	}

	dialer := websocket.Dialer{HandshakeTimeout: writeWait}
	conn, _, err := dialer.DialContext(ctx, u.String(), nil)
	if err != nil {
		return WrapError("connect", err, u.Host)
	}

	c.conn = conn
	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	go c.readPump()
	go c.writePump()

	return nil
}

// readPump reads frames from the connection. Incoming is closed when it stops.
func (c *Client) readPump() {
	defer func() {
		c.conn.Close()
		close(c.incoming)
	}()

	c.conn.SetReadDeadline(time.Now().Add(pongWait))

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.logger.Debug("read failed", "error", err)
			}
			return
		}

		msg := &Message{Raw: data}
		if err := json.Unmarshal(data, msg); err != nil {
			c.logger.Debug("skipping undecodable frame", "error", err)
			continue
		}

		select {
		case c.incoming <- msg:
		case <-c.done:
			return
		}
	}
}

// writePump writes queued frames and sends periodic pings.
func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)

	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case frame := <-c.outgoing:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, frame); err != nil {
				c.logger.Debug("write failed", "error", err)
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}

		case <-c.done:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			c.conn.WriteMessage(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			return
		}
	}
}

// SendMessage encodes v as JSON and queues it.
func (c *Client) SendMessage(v any) error {
	frame, err := json.Marshal(v)
	if err != nil {
		return NewError("encode message", err)
	}
	return c.SendRaw(frame)
}

// SendRaw queues a pre-encoded frame.
func (c *Client) SendRaw(frame []byte) error {
	if c.conn == nil {
		return NewError("send", ErrNotConnected)
	}
	select {
	case <-c.done:
		return NewError("send", ErrClosed)
	default:
	}
	select {
	case c.outgoing <- frame:
		return nil
	case <-c.done:
		return NewError("send", ErrClosed)
	}
}

// JoinRoom asks the relay to place this connection in roomID.
func (c *Client) JoinRoom(roomID, userID, userRole string) error {
	return c.SendMessage(joinRoom{
		Type:     signaling.TypeJoinRoom,
		RoomID:   roomID,
		UserID:   userID,
		UserRole: userRole,
	})
}

// LeaveRoom removes this connection from its room.
func (c *Client) LeaveRoom() error {
	return c.SendMessage(leaveRoom{Type: signaling.TypeLeaveRoom})
}

// SendSignal sends an offer, answer or candidate.
func (c *Client) SendSignal(s Signal) error {
	return c.SendMessage(s)
}

// Incoming returns the channel of received frames.
func (c *Client) Incoming() <-chan *Message {
	return c.incoming
}

// Close sends a close frame and stops the pumps. Safe to call more than once.
func (c *Client) Close() {
	c.closeOnce.Do(func() {
		close(c.done)
	})
}
