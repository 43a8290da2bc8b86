package client

import (
	"encoding/json"

	"github.com/BioHazard786/callrelay/internal/signaling"
)

// Message is any frame received from the relay. Only the fields relevant to
// Type are populated.
type Message struct {
	Type string `json:"type"`

	// connection-success
	Message string `json:"message,omitempty"`

	// room-joined
	RoomID      string             `json:"roomId,omitempty"`
	UsersInRoom []signaling.Member `json:"usersInRoom,omitempty"`

	// user-joined, user-left
	UserID   string `json:"userId,omitempty"`
	UserRole string `json:"userRole,omitempty"`

	// error
	Error string `json:"error,omitempty"`

	// offer, answer, candidate
	Offer        json.RawMessage `json:"offer,omitempty"`
	Answer       json.RawMessage `json:"answer,omitempty"`
	Candidate    json.RawMessage `json:"candidate,omitempty"`
	TargetUserID string          `json:"targetUserId,omitempty"`
	SenderID     string          `json:"senderId,omitempty"`
	SenderRole   string          `json:"senderRole,omitempty"`

	// Raw is the frame as it arrived.
	Raw []byte `json:"-"`
}

// IsSignal reports whether m is an offer, answer or candidate.
func (m *Message) IsSignal() bool {
	switch m.Type {
	case signaling.TypeOffer, signaling.TypeAnswer, signaling.TypeCandidate:
		return true
	}
	return false
}

// Signal is an outgoing offer, answer or candidate. Exactly one payload
// field should be set, matching Type.
type Signal struct {
	Type         string `json:"type"`
	Offer        any    `json:"offer,omitempty"`
	Answer       any    `json:"answer,omitempty"`
	Candidate    any    `json:"candidate,omitempty"`
	TargetUserID string `json:"targetUserId,omitempty"`
	SenderID     string `json:"senderId,omitempty"`
	SenderRole   string `json:"senderRole,omitempty"`
}

type joinRoom struct {
	Type     string `json:"type"`
	RoomID   string `json:"roomId"`
	UserID   string `json:"userId"`
	UserRole string `json:"userRole"`
}

type leaveRoom struct {
	Type string `json:"type"`
}
