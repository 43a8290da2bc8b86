package signaling

import "sort"

// RoomInfo is a read-only view of one room.
type RoomInfo struct {
	RoomID  string   `json:"roomId"`
	Members []Member `json:"members"`
}

// Registry maps room IDs to rooms. A room is present if and only if it has
// at least one member.
//
// Registry is not safe for concurrent use; inside the relay it is owned by
// the hub goroutine.
type Registry struct {
	rooms map[string]*Room
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{rooms: make(map[string]*Room)}
}

// Join adds c to the room, creating the room if it does not exist yet, and
// records the room on the client. created reports whether a new room was made.
func (r *Registry) Join(roomID string, c *Client) (room *Room, created bool) {
	room, ok := r.rooms[roomID]
	if !ok {
		room = newRoom(roomID)
		r.rooms[roomID] = room
		created = true
	}

	room.add(c)
	c.RoomID = roomID
	return room, created
}

// Leave removes c from its current room and clears c.RoomID. The room is
// deleted once its last member leaves. Leave is a no-op, returning ok=false,
// when c is not in a room, so it may safely run twice for one disconnect.
func (r *Registry) Leave(c *Client) (room *Room, deleted, ok bool) {
	if c.RoomID == "" {
		return nil, false, false
	}

	room, exists := r.rooms[c.RoomID]
	c.RoomID = ""
	if !exists || !room.remove(c) {
		return nil, false, false
	}

	if room.Len() == 0 {
		delete(r.rooms, room.ID)
		deleted = true
	}
	return room, deleted, true
}

// Room returns the room with the given ID, or nil.
func (r *Registry) Room(roomID string) *Room {
	return r.rooms[roomID]
}

// Len returns the number of rooms.
func (r *Registry) Len() int {
	return len(r.rooms)
}

// Snapshot lists every room, sorted by ID.
func (r *Registry) Snapshot() []RoomInfo {
	out := make([]RoomInfo, 0, len(r.rooms))
	for id, room := range r.rooms {
		out = append(out, RoomInfo{RoomID: id, Members: room.Members()})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].RoomID < out[j].RoomID })
	return out
}
