package signaling

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/BioHazard786/callrelay/internal/metrics"
)

// ErrHubStopped is returned when the hub is no longer running.
var ErrHubStopped = errors.New("hub stopped")

const connectionSuccessText = "Connected to the signaling relay"

// Options tunes per-connection transport behaviour.
type Options struct {
	// MaxMessageBytes is the largest inbound frame accepted. A larger frame
	// closes the connection (1009 message too big) instead of being dropped.
	MaxMessageBytes int64

	// SendBuffer is the number of outbound frames queued per connection.
	SendBuffer int

	// PingPeriod must be less than PongWait.
	PingPeriod time.Duration
	PongWait   time.Duration
	WriteWait  time.Duration
}

// DefaultOptions returns the limits used when none are configured.
func DefaultOptions() Options {
	return Options{
		MaxMessageBytes: 64 * 1024, // enough for WebRTC SDP messages
		SendBuffer:      256,
		PingPeriod:      54 * time.Second,
		PongWait:        60 * time.Second,
		WriteWait:       10 * time.Second,
	}
}

type inbound struct {
	client *Client
	cmd    Command
}

// Hub is the central brain of the relay. A single goroutine (Run) owns the
// room registry and every connection's routing state; all other goroutines
// talk to it through channels.
type Hub struct {
	registry *Registry
	clients  map[*Client]struct{}

	register   chan *Client
	unregister chan *Client
	inbound    chan inbound
	snapshots  chan chan []RoomInfo

	// done is closed when Run returns.
	done chan struct{}

	opts    Options
	logger  *slog.Logger
	metrics *metrics.Metrics
}

// NewHub creates a hub. A nil logger or metrics registry is replaced with a default.
func NewHub(opts Options, logger *slog.Logger, m *metrics.Metrics) *Hub {
	if logger == nil {
		logger = slog.Default()
	}
	if m == nil {
		m = metrics.New()
	}
	return &Hub{
		registry:   NewRegistry(),
		clients:    make(map[*Client]struct{}),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		inbound:    make(chan inbound),
		snapshots:  make(chan chan []RoomInfo),
		done:       make(chan struct{}),
		opts:       opts,
		logger:     logger,
		metrics:    m,
	}
}

// Run processes connection events one at a time until ctx is cancelled.
// On return every remaining connection's send channel is closed.
func (h *Hub) Run(ctx context.Context) {
	defer close(h.done)

	for {
		select {
		case <-ctx.Done():
			h.shutdown()
			return

		case c := <-h.register:
			h.handleRegister(c)

		case c := <-h.unregister:
			h.handleUnregister(c)

		case in := <-h.inbound:
			h.route(in.client, in.cmd)

		case reply := <-h.snapshots:
			reply <- h.registry.Snapshot()
		}
	}
}

// Register hands a freshly upgraded client to the hub.
func (h *Hub) Register(c *Client) error {
	select {
	case h.register <- c:
		return nil
	case <-h.done:
		return ErrHubStopped
	}
}

// Snapshot returns the current rooms and their members.
func (h *Hub) Snapshot(ctx context.Context) ([]RoomInfo, error) {
	reply := make(chan []RoomInfo, 1)

	select {
	case h.snapshots <- reply:
	case <-h.done:
		return nil, ErrHubStopped
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	select {
	case rooms := <-reply:
		return rooms, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// dispatch forwards a decoded command to the hub. It reports false once the
// hub has stopped.
func (h *Hub) dispatch(c *Client, cmd Command) bool {
	select {
	case h.inbound <- inbound{client: c, cmd: cmd}:
		return true
	case <-h.done:
		return false
	}
}

func (h *Hub) unregisterClient(c *Client) {
	select {
	case h.unregister <- c:
	case <-h.done:
	}
}

func (h *Hub) handleRegister(c *Client) {
	h.clients[c] = struct{}{}
	h.metrics.Inc(metrics.ConnectionsOpened)
	c.logger.Info("client registered", "remote_addr", remoteAddr(c))

	h.deliver(c, ConnectionSuccess{Type: TypeConnectionSuccess, Message: connectionSuccessText})
}

func (h *Hub) handleUnregister(c *Client) {
	if _, ok := h.clients[c]; !ok {
		return
	}

	h.removeFromRoom(c)
	delete(h.clients, c)
	h.closeClient(c)

	h.metrics.Inc(metrics.ConnectionsClosed)
	c.logger.Info("client unregistered", "user_id", c.UserID)
}

func (h *Hub) shutdown() {
	for c := range h.clients {
		h.closeClient(c)
		delete(h.clients, c)
	}
	h.logger.Info("hub stopped", "rooms", h.registry.Len())
}

// closeClient closes the send channel, which makes WritePump send a close frame.
func (h *Hub) closeClient(c *Client) {
	if c.closed {
		return
	}
	c.closed = true
	close(c.send)
}

// route is the protocol state machine: one decoded command from one client.
func (h *Hub) route(c *Client, cmd Command) {
	if _, ok := h.clients[c]; !ok {
		return
	}

	switch cmd := cmd.(type) {
	case JoinRoom:
		h.joinRoom(c, cmd)
	case LeaveRoom:
		h.removeFromRoom(c)
	case Signal:
		h.relaySignal(c, cmd)
	default:
		c.logger.Warn("unhandled command", "command", cmd)
	}
}

func (h *Hub) joinRoom(c *Client, cmd JoinRoom) {
	// A connection belongs to at most one room: re-joining leaves the old one first.
	if c.RoomID != "" {
		h.removeFromRoom(c)
	}

	// The newest connection for a userId wins; the older one is evicted but stays connected.
	if room := h.registry.Room(cmd.RoomID); room != nil {
		if prior := room.FindUser(cmd.UserID); prior != nil {
			h.removeFromRoom(prior)
			h.deliver(prior, ErrorMessage{Type: TypeError, Error: "replaced by a newer connection"})
			h.metrics.Inc(metrics.Evictions)
			prior.logger.Info("evicted by newer connection", "user_id", cmd.UserID, "room_id", cmd.RoomID)
		}
	}

	c.UserID = cmd.UserID
	c.UserRole = cmd.UserRole

	room, created := h.registry.Join(cmd.RoomID, c)
	if created {
		h.metrics.Inc(metrics.RoomsCreated)
		h.logger.Info("room created", "room_id", room.ID)
	}
	h.metrics.Inc(metrics.Joins)
	c.logger.Info("joined room", "user_id", c.UserID, "user_role", c.UserRole, "room_id", room.ID, "members", room.Len())

	h.deliver(c, RoomJoined{Type: TypeRoomJoined, RoomID: room.ID, UsersInRoom: room.Members()})

	frame, err := encode(UserJoined{Type: TypeUserJoined, UserID: c.UserID, UserRole: c.UserRole})
	if err != nil {
		h.logger.Error("failed to encode message", "error", err)
		return
	}
	h.broadcast(room.ID, c, frame)
}

// removeFromRoom takes c out of its room and tells the remaining members.
// It is idempotent.
func (h *Hub) removeFromRoom(c *Client) {
	room, deleted, ok := h.registry.Leave(c)
	if !ok {
		return
	}
	h.metrics.Inc(metrics.Leaves)
	c.logger.Info("left room", "user_id", c.UserID, "room_id", room.ID)

	if deleted {
		h.metrics.Inc(metrics.RoomsDeleted)
		h.logger.Info("room deleted", "room_id", room.ID)
		return
	}

	frame, err := encode(UserLeft{Type: TypeUserLeft, UserID: c.UserID})
	if err != nil {
		h.logger.Error("failed to encode message", "error", err)
		return
	}
	h.broadcast(room.ID, c, frame)
}

// relaySignal forwards an offer, answer or candidate. Misses are dropped
// silently; ICE candidates routinely race a peer's join.
func (h *Hub) relaySignal(c *Client, sig Signal) {
	if c.RoomID == "" {
		h.metrics.Inc(metrics.SignalsDropped)
		c.logger.Debug("signal before join, dropping", "type", sig.Type)
		return
	}

	if sig.TargetUserID != "" {
		if !h.sendToUser(c.RoomID, sig.TargetUserID, sig.Raw) {
			h.metrics.Inc(metrics.SignalsDropped)
			c.logger.Debug("signal target not reachable", "type", sig.Type, "room_id", c.RoomID, "target_user_id", sig.TargetUserID)
			return
		}
		h.metrics.Inc(metrics.SignalsRelayed)
		return
	}

	n := h.broadcast(c.RoomID, c, sig.Raw)
	h.metrics.Add(metrics.SignalsRelayed, uint64(n))
	c.logger.Debug("signal broadcast", "type", sig.Type, "room_id", c.RoomID, "recipients", n)
}

func remoteAddr(c *Client) string {
	if c.conn == nil {
		return ""
	}
	return c.conn.RemoteAddr().String()
}
