package signaling

// Room is a named group of connections that exchange signaling messages.
// Membership is keyed by connection identity and kept in join order.
type Room struct {
	// ID is the client-chosen room identifier.
	ID string

	members []*Client
}

func newRoom(id string) *Room {
	return &Room{ID: id}
}

// Len returns the number of members.
func (r *Room) Len() int {
	return len(r.members)
}

// Clients returns a copy of the member list, safe to iterate while the room changes.
func (r *Room) Clients() []*Client {
	out := make([]*Client, len(r.members))
	copy(out, r.members)
	return out
}

// Members returns the identity of every member in join order.
func (r *Room) Members() []Member {
	out := make([]Member, 0, len(r.members))
	for _, c := range r.members {
		out = append(out, Member{UserID: c.UserID, UserRole: c.UserRole})
	}
	return out
}

// FindUser returns the first member announcing userID, or nil.
func (r *Room) FindUser(userID string) *Client {
	for _, c := range r.members {
		if c.UserID == userID {
			return c
		}
	}
	return nil
}

func (r *Room) contains(c *Client) bool {
	for _, m := range r.members {
		if m == c {
			return true
		}
	}
	return false
}

func (r *Room) add(c *Client) {
	if r.contains(c) {
		return
	}
	r.members = append(r.members, c)
}

func (r *Room) remove(c *Client) bool {
	for i, m := range r.members {
		if m == c {
			r.members = append(r.members[:i], r.members[i+1:]...)
			return true
		}
	}
	return false
}
