package server

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"net/url"
	"strings"

	"github.com/gorilla/websocket"

	"github.com/BioHazard786/callrelay/internal/metrics"
	"github.com/BioHazard786/callrelay/internal/signaling"
)

// Routes describes what NewMux mounts.
type Routes struct {
	// WSPath is the path that accepts websocket upgrades.
	WSPath string

	// AllowedOrigins restricts the Origin header. Empty allows all.
	AllowedOrigins []string
}

// NewMux registers the relay's HTTP surface: the websocket endpoint plus
// health, room listing and metrics.
func NewMux(hub *signaling.Hub, m *metrics.Metrics, routes Routes, logger *slog.Logger) *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", healthCheckHandler)
	mux.HandleFunc("GET /rooms", roomsHandler(hub, logger))
	mux.Handle("GET /metrics", metrics.Handler(m))
	mux.HandleFunc(routes.WSPath, ServeWs(hub, NewUpgrader(routes.AllowedOrigins), logger))
	return mux
}

// NewUpgrader configures the websocket upgrader.
func NewUpgrader(allowedOrigins []string) *websocket.Upgrader {
	return &websocket.Upgrader{
		ReadBufferSize:  64 * 1024, // 64 KB
		WriteBufferSize: 64 * 1024, // 64 KB
		CheckOrigin:     originChecker(allowedOrigins),
	}
}

func originChecker(allowed []string) func(r *http.Request) bool {
	if len(allowed) == 0 {
		return func(r *http.Request) bool { return true }
	}

	set := make(map[string]struct{}, len(allowed))
	for _, o := range allowed {
		set[strings.ToLower(strings.TrimRight(o, "/"))] = struct{}{}
	}

	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" {
			// Non-browser clients do not send Origin.
			return true
		}
		u, err := url.Parse(origin)
		if err != nil || u.Host == "" {
			return false
		}
		_, ok := set[strings.ToLower(u.Scheme+"://"+u.Host)]
		return ok
	}
}

// ServeWs returns an http.HandlerFunc that handles websocket requests.
func ServeWs(hub *signaling.Hub, upgrader *websocket.Upgrader, logger *slog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			logger.Warn("failed to upgrade connection", "remote_addr", r.RemoteAddr, "error", err)
			return
		}

		client := signaling.NewClient(hub, conn)
		if err := hub.Register(client); err != nil {
			logger.Warn("rejecting connection", "remote_addr", r.RemoteAddr, "error", err)
			conn.Close()
			return
		}

		// The pumps own the connection from here on.
		go client.WritePump()
		go client.ReadPump()
	}
}

func healthCheckHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("Signaling relay is healthy."))
}

// RoomsResponse is the body of GET /rooms.
type RoomsResponse struct {
	Rooms []signaling.RoomInfo `json:"rooms"`
}

func roomsHandler(hub *signaling.Hub, logger *slog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		rooms, err := hub.Snapshot(r.Context())
		if err != nil {
			logger.Warn("room snapshot failed", "error", err)
			http.Error(w, "relay unavailable", http.StatusServiceUnavailable)
			return
		}

		w.Header().Set("Content-Type", "application/json")
		if err := json.NewEncoder(w).Encode(RoomsResponse{Rooms: rooms}); err != nil {
			logger.Debug("failed to write rooms response", "error", err)
		}
	}
}
