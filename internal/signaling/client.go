package signaling

import (
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/BioHazard786/callrelay/internal/metrics"
)

// Client is the relay's per-connection envelope: the websocket plus the
// identity the peer announced with join-room.
type Client struct {
	// ID identifies the connection in logs. It is not part of the protocol.
	ID string

	// UserID, UserRole and RoomID are owned by the hub goroutine.
	UserID   string
	UserRole string
	RoomID   string

	hub  *Hub
	conn *websocket.Conn

	// send is a buffered channel of encoded outbound frames. Only the hub
	// writes to it and only the hub closes it.
	send chan []byte

	// closed is set by the hub once send has been closed.
	closed bool

	logger *slog.Logger
}

// NewClient wraps an upgraded connection. The client is not known to the hub
// until it is passed to Hub.Register.
func NewClient(hub *Hub, conn *websocket.Conn) *Client {
	id := uuid.NewString()
	return &Client{
		ID:     id,
		hub:    hub,
		conn:   conn,
		send:   make(chan []byte, hub.opts.SendBuffer),
		logger: hub.logger.With("client_id", id),
	}
}

// ReadPump pumps frames from the websocket connection to the hub.
//
// The application runs ReadPump in a per-connection goroutine. The application
// ensures that there is at most one reader on a connection by executing all
// reads from this goroutine.
func (c *Client) ReadPump() {
	defer func() {
		c.hub.unregisterClient(c)
		c.conn.Close()
	}()

	opts := c.hub.opts
	// A frame over the limit fails the read and ends the connection with
	// close code 1009; the hub then treats it as a disconnect.
	c.conn.SetReadLimit(opts.MaxMessageBytes)
	c.conn.SetReadDeadline(time.Now().Add(opts.PongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(opts.PongWait))
		return nil
	})

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.logger.Warn("connection error", "error", err)
			}
			return
		}

		cmd, err := Decode(data)
		if err != nil {
			c.dropFrame(err)
			continue
		}

		if !c.hub.dispatch(c, cmd) {
			return
		}
	}
}

// dropFrame logs a frame that failed validation. The connection stays open.
func (c *Client) dropFrame(err error) {
	switch {
	case errors.Is(err, ErrUnknownType):
		c.hub.metrics.Inc(metrics.FramesUnknown)
	default:
		c.hub.metrics.Inc(metrics.FramesMalformed)
	}
	c.logger.Warn("dropping frame", "error", err)
}

// WritePump pumps frames from the hub to the websocket connection.
//
// A goroutine running WritePump is started for each connection. The
// application ensures that there is at most one writer to a connection by
// executing all writes from this goroutine.
func (c *Client) WritePump() {
	opts := c.hub.opts
	ticker := time.NewTicker(opts.PingPeriod)

	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case frame, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(opts.WriteWait))
			if !ok {
				// The hub closed the channel.
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}

			if err := c.conn.WriteMessage(websocket.TextMessage, frame); err != nil {
				c.logger.Debug("write failed", "error", err)
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(opts.WriteWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
