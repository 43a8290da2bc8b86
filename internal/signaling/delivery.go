package signaling

import (
	"encoding/json"

	"github.com/BioHazard786/callrelay/internal/metrics"
)

// broadcast sends frame to every member of the room except exclude and
// returns how many members it was queued for. A failure for one recipient
// never stops delivery to the rest.
func (h *Hub) broadcast(roomID string, exclude *Client, frame []byte) int {
	room := h.registry.Room(roomID)
	if room == nil {
		return 0
	}

	sent := 0
	for _, c := range room.Clients() {
		if c == exclude {
			continue
		}
		if h.enqueue(c, frame) {
			sent++
		}
	}
	return sent
}

// sendToUser delivers frame to the first member of the room whose userId
// matches. It reports false when there is no such member or the send failed.
func (h *Hub) sendToUser(roomID, userID string, frame []byte) bool {
	room := h.registry.Room(roomID)
	if room == nil {
		return false
	}

	target := room.FindUser(userID)
	if target == nil {
		return false
	}
	return h.enqueue(target, frame)
}

// deliver encodes msg and queues it for a single client.
func (h *Hub) deliver(c *Client, msg any) bool {
	frame, err := encode(msg)
	if err != nil {
		h.logger.Error("failed to encode message", "error", err)
		return false
	}
	return h.enqueue(c, frame)
}

// enqueue hands a frame to the client's write pump without blocking the hub.
// A closed client or a full send buffer counts as a failed delivery.
func (h *Hub) enqueue(c *Client, frame []byte) bool {
	if c.closed {
		return false
	}

	select {
	case c.send <- frame:
		return true
	default:
		h.metrics.Inc(metrics.DeliveriesFailed)
		c.logger.Warn("send buffer full, dropping frame", "user_id", c.UserID, "room_id", c.RoomID)
		return false
	}
}

func encode(msg any) ([]byte, error) {
	return json.Marshal(msg)
}
