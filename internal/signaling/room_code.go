package signaling

import gonanoid "github.com/matoous/go-nanoid/v2"

// roomCodeAlphabet leaves out characters that are easy to misread (0/O, 1/I/L).
const roomCodeAlphabet = "ABCDEFGHJKMNPQRSTUVWXYZ23456789"

// RoomCodeLength is the length of codes produced by NewRoomCode.
const RoomCodeLength = 6

// NewRoomCode returns a random, human-friendly room code such as "K7QM2X".
// The relay itself accepts any room ID; this only mirrors what the web UI generates.
func NewRoomCode() (string, error) {
	return gonanoid.Generate(roomCodeAlphabet, RoomCodeLength)
}
