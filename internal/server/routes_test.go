package server_test

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/BioHazard786/callrelay/internal/metrics"
	"github.com/BioHazard786/callrelay/internal/server"
	"github.com/BioHazard786/callrelay/internal/signaling"
)

type testRelay struct {
	srv     *httptest.Server
	hub     *signaling.Hub
	metrics *metrics.Metrics
}

func newTestRelay(t *testing.T, origins ...string) *testRelay {
	t.Helper()

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	m := metrics.New()
	hub := signaling.NewHub(signaling.DefaultOptions(), logger, m)

	ctx, cancel := context.WithCancel(context.Background())
	go hub.Run(ctx)

	srv := httptest.NewServer(server.NewMux(hub, m, server.Routes{WSPath: "/ws", AllowedOrigins: origins}, logger))
	t.Cleanup(func() {
		srv.Close()
		cancel()
	})

	return &testRelay{srv: srv, hub: hub, metrics: m}
}

func (r *testRelay) wsURL() string {
	return "ws" + strings.TrimPrefix(r.srv.URL, "http") + "/ws"
}

// dial connects and consumes the connection-success greeting.
func (r *testRelay) dial(t *testing.T) *websocket.Conn {
	t.Helper()

	c, _, err := websocket.DefaultDialer.Dial(r.wsURL(), nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })

	msg := readJSON(t, c)
	require.Equal(t, signaling.TypeConnectionSuccess, msg["type"])
	require.NotEmpty(t, msg["message"])
	return c
}

func readJSON(t *testing.T, c *websocket.Conn) map[string]any {
	t.Helper()

	require.NoError(t, c.SetReadDeadline(time.Now().Add(5*time.Second)))
	var msg map[string]any
	require.NoError(t, c.ReadJSON(&msg))
	return msg
}

// expectSilence asserts that nothing arrives on c for a short while. A read
// timeout leaves the connection unusable, so call it last.
func expectSilence(t *testing.T, c *websocket.Conn) {
	t.Helper()

	require.NoError(t, c.SetReadDeadline(time.Now().Add(150*time.Millisecond)))
	_, data, err := c.ReadMessage()
	require.Error(t, err, "unexpected frame: %s", data)
}

func joinRoom(t *testing.T, c *websocket.Conn, roomID, userID, role string) map[string]any {
	t.Helper()

	require.NoError(t, c.WriteJSON(map[string]string{
		"type": "join-room", "roomId": roomID, "userId": userID, "userRole": role,
	}))
	msg := readJSON(t, c)
	require.Equal(t, signaling.TypeRoomJoined, msg["type"])
	return msg
}

func waitForRooms(t *testing.T, hub *signaling.Hub, want int) []signaling.RoomInfo {
	t.Helper()

	var rooms []signaling.RoomInfo
	require.Eventually(t, func() bool {
		var err error
		rooms, err = hub.Snapshot(context.Background())
		return err == nil && len(rooms) == want
	}, 2*time.Second, 10*time.Millisecond)
	return rooms
}

func TestRelay_Scenario(t *testing.T) {
	relay := newTestRelay(t)
	a, b := relay.dial(t), relay.dial(t)

	joined := joinRoom(t, a, "r1", "a", "doctor")
	assert.Equal(t, []any{map[string]any{"userId": "a", "userRole": "doctor"}}, joined["usersInRoom"])

	joined = joinRoom(t, b, "r1", "b", "patient")
	assert.Equal(t, "r1", joined["roomId"])
	assert.Len(t, joined["usersInRoom"], 2)

	assert.Equal(t, map[string]any{"type": "user-joined", "userId": "b", "userRole": "patient"}, readJSON(t, a))

	offer := `{"type":"offer","offer":{"type":"offer","sdp":"v=0\r\n"},"targetUserId":"b"}`
	require.NoError(t, a.WriteMessage(websocket.TextMessage, []byte(offer)))

	require.NoError(t, b.SetReadDeadline(time.Now().Add(5*time.Second)))
	_, data, err := b.ReadMessage()
	require.NoError(t, err)
	assert.Equal(t, offer, string(data))

	// The next frame a sees is b's departure, so the offer was not echoed back.
	require.NoError(t, b.Close())
	assert.Equal(t, map[string]any{"type": "user-left", "userId": "b"}, readJSON(t, a))

	rooms := waitForRooms(t, relay.hub, 1)
	assert.Equal(t, []signaling.Member{{UserID: "a", UserRole: "doctor"}}, rooms[0].Members)

	require.NoError(t, a.Close())
	waitForRooms(t, relay.hub, 0)
}

func TestRelay_MalformedInputKeepsConnectionOpen(t *testing.T) {
	relay := newTestRelay(t)
	a, b := relay.dial(t), relay.dial(t)
	joinRoom(t, a, "r1", "a", "doctor")
	joinRoom(t, b, "r1", "b", "patient")
	readJSON(t, a) // user-joined

	require.NoError(t, a.WriteMessage(websocket.TextMessage, []byte("not json at all")))
	require.NoError(t, a.WriteMessage(websocket.TextMessage, []byte(`{"type":"dance"}`)))
	require.NoError(t, a.WriteMessage(websocket.TextMessage, []byte(`{"type":"join-room"}`)))

	// Both connections still relay.
	candidate := `{"type":"candidate","candidate":{"candidate":"candidate:1 1 udp 1 10.0.0.1 5000 typ host"}}`
	require.NoError(t, a.WriteMessage(websocket.TextMessage, []byte(candidate)))
	require.NoError(t, b.SetReadDeadline(time.Now().Add(5*time.Second)))
	_, data, err := b.ReadMessage()
	require.NoError(t, err)
	assert.Equal(t, candidate, string(data))

	answer := `{"type":"answer","answer":{"type":"answer","sdp":"v=0"},"targetUserId":"a"}`
	require.NoError(t, b.WriteMessage(websocket.TextMessage, []byte(answer)))
	// No error replies were queued for the bad frames: the answer is the next frame.
	require.NoError(t, a.SetReadDeadline(time.Now().Add(5*time.Second)))
	_, data, err = a.ReadMessage()
	require.NoError(t, err)
	assert.Equal(t, answer, string(data))

	assert.Equal(t, uint64(2), relay.metrics.Get(metrics.FramesMalformed))
	assert.Equal(t, uint64(1), relay.metrics.Get(metrics.FramesUnknown))
}

func TestRelay_LeaveRoomThenClose(t *testing.T) {
	relay := newTestRelay(t)
	a, b := relay.dial(t), relay.dial(t)
	joinRoom(t, a, "r1", "a", "doctor")
	joinRoom(t, b, "r1", "b", "patient")
	readJSON(t, a)

	require.NoError(t, b.WriteJSON(map[string]string{"type": "leave-room"}))
	assert.Equal(t, map[string]any{"type": "user-left", "userId": "b"}, readJSON(t, a))

	// The close that follows must not produce a second user-left.
	require.NoError(t, b.Close())
	expectSilence(t, a)
	assert.Eventually(t, func() bool {
		return relay.metrics.Get(metrics.ConnectionsClosed) == 1
	}, 2*time.Second, 10*time.Millisecond)
}

func TestRelay_OversizedFrameEndsConnection(t *testing.T) {
	relay := newTestRelay(t)
	a, b := relay.dial(t), relay.dial(t)
	joinRoom(t, a, "r1", "a", "doctor")
	joinRoom(t, b, "r1", "b", "patient")
	readJSON(t, a)

	sdp := strings.Repeat("x", int(signaling.DefaultOptions().MaxMessageBytes)+6*1024)
	require.NoError(t, a.WriteJSON(map[string]any{
		"type": "offer", "offer": map[string]string{"type": "offer", "sdp": sdp},
	}))

	require.NoError(t, a.SetReadDeadline(time.Now().Add(5*time.Second)))
	_, _, err := a.ReadMessage()
	assert.True(t, websocket.IsCloseError(err, websocket.CloseMessageTooBig), "got %v", err)

	// The sender is gone, so the room sees it leave and nothing is relayed.
	assert.Equal(t, map[string]any{"type": "user-left", "userId": "a"}, readJSON(t, b))
	assert.Equal(t, uint64(0), relay.metrics.Get(metrics.SignalsRelayed))
}

func TestRelay_HTTPEndpoints(t *testing.T) {
	relay := newTestRelay(t)
	a := relay.dial(t)
	joinRoom(t, a, "room-42", "a", "doctor")

	t.Run("health", func(t *testing.T) {
		res, err := http.Get(relay.srv.URL + "/health")
		require.NoError(t, err)
		defer res.Body.Close()
		assert.Equal(t, http.StatusOK, res.StatusCode)
	})

	t.Run("rooms", func(t *testing.T) {
		res, err := http.Get(relay.srv.URL + "/rooms")
		require.NoError(t, err)
		defer res.Body.Close()
		require.Equal(t, http.StatusOK, res.StatusCode)

		var body server.RoomsResponse
		require.NoError(t, json.NewDecoder(res.Body).Decode(&body))
		assert.Equal(t, []signaling.RoomInfo{{
			RoomID:  "room-42",
			Members: []signaling.Member{{UserID: "a", UserRole: "doctor"}},
		}}, body.Rooms)
	})

	t.Run("metrics", func(t *testing.T) {
		res, err := http.Get(relay.srv.URL + "/metrics")
		require.NoError(t, err)
		defer res.Body.Close()

		body, err := io.ReadAll(res.Body)
		require.NoError(t, err)
		assert.Contains(t, string(body), `callrelay_events_total{event="joins"} 1`)
	})
}

func TestRelay_OriginCheck(t *testing.T) {
	relay := newTestRelay(t, "https://clinic.example")

	header := http.Header{}
	header.Set("Origin", "https://evil.example")
	_, res, err := websocket.DefaultDialer.Dial(relay.wsURL(), header)
	require.Error(t, err)
	require.NotNil(t, res)
	assert.Equal(t, http.StatusForbidden, res.StatusCode)

	header.Set("Origin", "https://clinic.example")
	c, _, err := websocket.DefaultDialer.Dial(relay.wsURL(), header)
	require.NoError(t, err)
	defer c.Close()
	assert.Equal(t, signaling.TypeConnectionSuccess, readJSON(t, c)["type"])
}
