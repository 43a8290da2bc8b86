package signaling

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
)

// Message type constants.
const (
	TypeJoinRoom  = "join-room"
	TypeLeaveRoom = "leave-room"
	TypeOffer     = "offer"
	TypeAnswer    = "answer"
	TypeCandidate = "candidate"

	TypeConnectionSuccess = "connection-success"
	TypeRoomJoined        = "room-joined"
	TypeUserJoined        = "user-joined"
	TypeUserLeft          = "user-left"
	TypeError             = "error"
)

var (
	// ErrMalformedFrame is returned for frames that are not a JSON object.
	ErrMalformedFrame = errors.New("malformed frame")

	// ErrUnknownType is returned for frames whose type is not part of the protocol.
	ErrUnknownType = errors.New("unknown message type")

	// ErrMissingField is returned when a required field is absent or has the wrong shape.
	ErrMissingField = errors.New("missing or invalid field")
)

// Command is an inbound client message that passed validation.
// The set of implementations is closed: JoinRoom, LeaveRoom and Signal.
type Command interface {
	command()
}

// JoinRoom asks the relay to place the connection in a room.
type JoinRoom struct {
	RoomID   string
	UserID   string
	UserRole string
}

// LeaveRoom asks the relay to remove the connection from its current room.
type LeaveRoom struct{}

// Signal is an offer, answer or ICE candidate. Raw holds the frame exactly as
// the client sent it; the relay forwards those bytes without re-encoding.
type Signal struct {
	Type         string
	TargetUserID string
	Raw          []byte
}

func (JoinRoom) command()  {}
func (LeaveRoom) command() {}
func (Signal) command()    {}

// Decode parses one inbound frame and validates the fields its type requires.
func Decode(data []byte) (Command, error) {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(data, &fields); err != nil || fields == nil {
		return nil, ErrMalformedFrame
	}

	msgType, err := stringField(fields, "type", true)
	if err != nil {
		return nil, err
	}

	switch msgType {
	case TypeJoinRoom:
		return decodeJoinRoom(fields)

	case TypeLeaveRoom:
		return LeaveRoom{}, nil

	case TypeOffer, TypeAnswer, TypeCandidate:
		if _, ok := fields[msgType]; !ok {
			return nil, fmt.Errorf("%w: %s", ErrMissingField, msgType)
		}
		target, err := stringField(fields, "targetUserId", false)
		if err != nil {
			return nil, err
		}
		raw := make([]byte, len(data))
		copy(raw, data)
		return Signal{Type: msgType, TargetUserID: target, Raw: raw}, nil

	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownType, msgType)
	}
}

func decodeJoinRoom(fields map[string]json.RawMessage) (Command, error) {
	roomID, err := stringField(fields, "roomId", true)
	if err != nil {
		return nil, err
	}
	userID, err := stringField(fields, "userId", true)
	if err != nil {
		return nil, err
	}
	if _, ok := fields["userRole"]; !ok {
		return nil, fmt.Errorf("%w: userRole", ErrMissingField)
	}
	userRole, err := stringField(fields, "userRole", false)
	if err != nil {
		return nil, err
	}
	return JoinRoom{RoomID: roomID, UserID: userID, UserRole: userRole}, nil
}

// stringField reads fields[name] as a JSON string. An absent or null field is
// an error only when required; a required string must also be non-empty.
func stringField(fields map[string]json.RawMessage, name string, required bool) (string, error) {
	raw, ok := fields[name]
	if !ok || bytes.Equal(bytes.TrimSpace(raw), []byte("null")) {
		if required {
			return "", fmt.Errorf("%w: %s", ErrMissingField, name)
		}
		return "", nil
	}

	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return "", fmt.Errorf("%w: %s", ErrMissingField, name)
	}
	if required && s == "" {
		return "", fmt.Errorf("%w: %s", ErrMissingField, name)
	}
	return s, nil
}

// Member describes one room participant in room-joined replies.
type Member struct {
	UserID   string `json:"userId"`
	UserRole string `json:"userRole"`
}

// ConnectionSuccess is sent once, right after the upgrade completes.
type ConnectionSuccess struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

// RoomJoined acknowledges a join-room to the joining client only.
type RoomJoined struct {
	Type        string   `json:"type"`
	RoomID      string   `json:"roomId"`
	UsersInRoom []Member `json:"usersInRoom"`
}

// UserJoined is broadcast to the members that were already in the room.
type UserJoined struct {
	Type     string `json:"type"`
	UserID   string `json:"userId"`
	UserRole string `json:"userRole"`
}

// UserLeft is broadcast to the members remaining after a departure.
type UserLeft struct {
	Type   string `json:"type"`
	UserID string `json:"userId"`
}

// ErrorMessage is only sent to a connection evicted by a newer one with the same userId.
type ErrorMessage struct {
	Type  string `json:"type"`
	Error string `json:"error"`
}
