package cmd

import (
	"bytes"
	"context"
	"io"
	"log/slog"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/BioHazard786/callrelay/internal/client"
	"github.com/BioHazard786/callrelay/internal/config"
	"github.com/BioHazard786/callrelay/internal/metrics"
	"github.com/BioHazard786/callrelay/internal/server"
	"github.com/BioHazard786/callrelay/internal/signaling"
)

func startRelay(t *testing.T) *httptest.Server {
	t.Helper()

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	m := metrics.New()
	hub := signaling.NewHub(signaling.DefaultOptions(), logger, m)
	ctx, cancel := context.WithCancel(context.Background())
	go hub.Run(ctx)

	srv := httptest.NewServer(server.NewMux(hub, m, server.Routes{WSPath: "/ws"}, logger))
	t.Cleanup(func() {
		srv.Close()
		cancel()
	})
	return srv
}

func TestFetchRooms(t *testing.T) {
	srv := startRelay(t)
	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws"

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	c := client.New(wsURL, nil)
	require.NoError(t, c.Connect(ctx))
	defer c.Close()
	h := client.NewHandler(c)
	go h.Start()
	defer h.Close()

	require.NoError(t, c.JoinRoom("ward-3", "a", "doctor"))
	_, err := h.WaitJoined(ctx)
	require.NoError(t, err)

	rooms, err := fetchRooms(ctx, &config.ClientConfig{ServerURL: wsURL})
	require.NoError(t, err)
	assert.Equal(t, []signaling.RoomInfo{{
		RoomID:  "ward-3",
		Members: []signaling.Member{{UserID: "a", UserRole: "doctor"}},
	}}, rooms.Rooms)
}

func TestFetchRooms_UsesServerOrigin(t *testing.T) {
	srv := startRelay(t)

	_, err := fetchRooms(context.Background(), &config.ClientConfig{ServerURL: "ws" + strings.TrimPrefix(srv.URL, "http") + "/nope/ws"})
	require.NoError(t, err, "the path is stripped, /rooms is always at the root")

	_, err = fetchRooms(context.Background(), &config.ClientConfig{ServerURL: "ftp://example"})
	assert.Error(t, err)
}

func TestServe_StopsOnCancel(t *testing.T) {
	cfg := config.Defaults()
	cfg.Server.Listen = "127.0.0.1:0"
	cfg.Log.Level = "error"

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- serve(ctx, cfg) }()

	time.Sleep(100 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("serve did not return after cancel")
	}
}

func TestVersionCommand(t *testing.T) {
	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetArgs([]string{"version"})
	defer rootCmd.SetArgs(nil)

	require.NoError(t, rootCmd.Execute())
	assert.True(t, strings.HasPrefix(out.String(), "callrelay dev"))
}
