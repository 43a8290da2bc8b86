package client

import (
	"context"
	"sync"

	"github.com/BioHazard786/callrelay/internal/signaling"
)

// RoomJoined is the relay's confirmation of a join.
type RoomJoined struct {
	RoomID  string
	Members []signaling.Member
}

// Handler routes incoming relay messages to typed channels. Every channel
// is closed once the client's connection ends or Close is called.
type Handler struct {
	client *Client

	Connected  chan string
	Joined     chan *RoomJoined
	PeerJoined chan signaling.Member
	PeerLeft   chan string
	Signal     chan *Message
	Error      chan string

	tap       func(*Message)
	done      chan struct{}
	closeOnce sync.Once
}

// NewHandler creates a handler reading from client.
func NewHandler(client *Client) *Handler {
	return &Handler{
		client:     client,
		Connected:  make(chan string, 1),
		Joined:     make(chan *RoomJoined, 4),
		PeerJoined: make(chan signaling.Member, 16),
		PeerLeft:   make(chan string, 16),
		Signal:     make(chan *Message, 32),
		Error:      make(chan string, 4),
		done:       make(chan struct{}),
	}
}

// Tap registers fn to observe every message before it is routed. It must be
// called before Start.
func (h *Handler) Tap(fn func(*Message)) {
	h.tap = fn
}

// Start routes messages until the client's incoming channel closes or the
// handler is closed.
func (h *Handler) Start() {
	defer h.closeChannels()

	for {
		select {
		case msg, ok := <-h.client.Incoming():
			if !ok {
				return
			}
			if h.tap != nil {
				h.tap(msg)
			}
			if !h.route(msg) {
				return
			}
		case <-h.done:
			return
		}
	}
}

// route delivers msg to its channel. It returns false if the handler was
// closed while waiting.
func (h *Handler) route(msg *Message) bool {
	switch msg.Type {
	case signaling.TypeConnectionSuccess:
		return send(h.done, h.Connected, msg.Message)

	case signaling.TypeRoomJoined:
		return send(h.done, h.Joined, &RoomJoined{RoomID: msg.RoomID, Members: msg.UsersInRoom})

	case signaling.TypeUserJoined:
		return send(h.done, h.PeerJoined, signaling.Member{UserID: msg.UserID, UserRole: msg.UserRole})

	case signaling.TypeUserLeft:
		return send(h.done, h.PeerLeft, msg.UserID)

	case signaling.TypeOffer, signaling.TypeAnswer, signaling.TypeCandidate:
		return send(h.done, h.Signal, msg)

	case signaling.TypeError:
		if msg.Error == "" {
			msg.Error = "unknown error from server"
		}
		return send(h.done, h.Error, msg.Error)

	default:
		return true
	}
}

func send[T any](done <-chan struct{}, ch chan T, v T) bool {
	select {
	case ch <- v:
		return true
	case <-done:
		return false
	}
}

// WaitConnected waits for the relay's greeting.
func (h *Handler) WaitConnected(ctx context.Context) (string, error) {
	select {
	case text, ok := <-h.Connected:
		if !ok {
			return "", NewError("wait for greeting", ErrClosed)
		}
		return text, nil
	case <-ctx.Done():
		return "", WrapError("wait for greeting", ErrTimeout, ctx.Err().Error())
	}
}

// WaitJoined waits for the room-joined confirmation. An error frame from the
// relay ends the wait.
func (h *Handler) WaitJoined(ctx context.Context) (*RoomJoined, error) {
	select {
	case joined, ok := <-h.Joined:
		if !ok {
			return nil, NewError("join room", ErrClosed)
		}
		return joined, nil
	case text, ok := <-h.Error:
		if !ok {
			return nil, NewError("join room", ErrClosed)
		}
		return nil, WrapError("join room", ErrSignalingError, text)
	case <-ctx.Done():
		return nil, WrapError("join room", ErrTimeout, ctx.Err().Error())
	}
}

// Close stops routing. Channels are closed by Start on its way out.
func (h *Handler) Close() {
	h.closeOnce.Do(func() {
		close(h.done)
	})
}

func (h *Handler) closeChannels() {
	close(h.Connected)
	close(h.Joined)
	close(h.PeerJoined)
	close(h.PeerLeft)
	close(h.Signal)
	close(h.Error)
}
